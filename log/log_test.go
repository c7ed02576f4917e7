//
// Tencent is pleased to support the open source community by making trpc-forge-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-forge-go is licensed under the Apache License Version 2.0.
//
//

package log

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestSetLevel(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  zapcore.Level
	}{
		{"debug", LevelDebug, zapcore.DebugLevel},
		{"info", LevelInfo, zapcore.InfoLevel},
		{"warn", LevelWarn, zapcore.WarnLevel},
		{"error", LevelError, zapcore.ErrorLevel},
		{"fatal", LevelFatal, zapcore.FatalLevel},
		{"unknown falls back to info", "verbose", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetLevel(tt.level)
			if got := zapLevel.Level(); got != tt.want {
				t.Errorf("SetLevel(%q) = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
	SetLevel(LevelInfo)
}

func TestPackageLevelFuncsDoNotPanic(t *testing.T) {
	Debug("debug message")
	Debugf("debug %s", "message")
	Info("info message")
	Infof("info %s", "message")
	Warn("warn message")
	Warnf("warn %s", "message")
	Error("error message")
	Errorf("error %s", "message")
}
