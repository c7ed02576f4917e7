//
// Tencent is pleased to support the open source community by making trpc-forge-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-forge-go is licensed under the Apache License Version 2.0.
//
//

package pipeline

import "errors"

// Errors.
var (
	// ErrAlreadyTerminal signals a command against a finished execution.
	// It is an expected precondition signal, not a failure.
	ErrAlreadyTerminal = errors.New("execution already terminal")
	// ErrAwaitingApproval signals step() on a suspended execution.
	// It is an expected precondition signal, not a failure.
	ErrAwaitingApproval = errors.New("execution awaiting approval")
	// ErrNotSuspended signals approve/feedback outside the checkpoint.
	ErrNotSuspended = errors.New("execution is not suspended for approval")
	// ErrUnknownStage signals a current stage absent from the routing table.
	ErrUnknownStage = errors.New("unknown stage")
	// ErrNoRoute signals a (stage, signal) pair absent from the routing table.
	ErrNoRoute = errors.New("no route for stage and signal")
	// ErrSnapshotVersion signals a snapshot with an unsupported version.
	ErrSnapshotVersion = errors.New("unsupported snapshot version")
	// ErrLineageRequired signals a saver call without a lineage ID.
	ErrLineageRequired = errors.New("lineage id is required")
)

// ErrorKind tags the condition behind a terminal outcome so callers can
// render an explanation.
type ErrorKind string

// Error kinds.
const (
	ErrorKindLowConfidence        ErrorKind = "low_confidence_classification"
	ErrorKindPlanRejectedByReview ErrorKind = "plan_rejected_by_review"
	ErrorKindPlanRejectedByUser   ErrorKind = "plan_rejected_by_user"
	ErrorKindBuildSyntax          ErrorKind = "build_syntax_error"
	ErrorKindFinalValidation      ErrorKind = "final_validation_failed"
	ErrorKindProviderTimeout      ErrorKind = "provider_timeout"
	ErrorKindProviderError        ErrorKind = "provider_error"
	ErrorKindMalformedResult      ErrorKind = "malformed_result"
	ErrorKindBudgetExceeded       ErrorKind = "budget_exceeded"
	ErrorKindAborted              ErrorKind = "aborted"
)
