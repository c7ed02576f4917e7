//
// Tencent is pleased to support the open source community by making trpc-forge-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-forge-go is licensed under the Apache License Version 2.0.
//
//

package agent

import "errors"

// Typed invocation errors. Implementations wrap these so callers can decide
// between retrying and failing with errors.Is.
var (
	// ErrProviderTimeout indicates the provider did not answer in time.
	// It is the only retryable invocation error.
	ErrProviderTimeout = errors.New("provider timeout")
	// ErrProviderError indicates the provider answered with a failure.
	ErrProviderError = errors.New("provider error")
	// ErrMalformedResult indicates the provider answered but the payload
	// could not be decoded into the expected structure.
	ErrMalformedResult = errors.New("malformed result")
)

// IsRetryable reports whether an invocation error may be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderTimeout)
}
