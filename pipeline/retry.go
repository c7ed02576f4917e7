//
// Tencent is pleased to support the open source community by making trpc-forge-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-forge-go is licensed under the Apache License Version 2.0.
//
//

package pipeline

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// RetryPolicy bounds the executor's re-invocation of a node after a
// retryable provider failure. Attempts are counted inclusive of the first
// try: MaxAttempts=3 means 1 initial try + up to 2 retries.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	BackoffFactor   float64
	MaxInterval     time.Duration
	Jitter          bool
}

// NextDelay returns the backoff delay before the given attempt number.
// attempt starts at 1 for the first try; the delay applies before the next
// retry, so callers typically pass the current attempt count.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialInterval)
	factor := p.BackoffFactor
	if factor <= 0 {
		factor = 1.0
	}
	if attempt > 1 {
		delay *= math.Pow(factor, float64(attempt-1))
	}
	maxInt := p.MaxInterval
	if maxInt <= 0 {
		maxInt = p.InitialInterval
	}
	if maxInt > 0 {
		delay = math.Min(delay, float64(maxInt))
	}
	d := time.Duration(delay)
	if p.Jitter && d > 0 {
		// Additive jitter in [0, d). Use crypto/rand to avoid gosec G404.
		if n, err := rand.Int(rand.Reader, big.NewInt(int64(d))); err == nil {
			d += time.Duration(n.Int64())
		}
	}
	if d < 0 {
		d = 0
	}
	return d
}

// DefaultRetryPolicy is the provider-timeout retry budget applied when the
// caller does not configure one.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		BackoffFactor:   2.0,
		MaxInterval:     8 * time.Second,
		Jitter:          true,
	}
}
