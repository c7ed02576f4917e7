//
// Tencent is pleased to support the open source community by making trpc-forge-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-forge-go is licensed under the Apache License Version 2.0.
//
//

package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-forge-go/agent"
)

func TestInstructionsCoverEveryStage(t *testing.T) {
	kinds := []agent.StageKind{
		agent.StageClassify,
		agent.StageExtractRequirements,
		agent.StageCreatePlan,
		agent.StageReviewPlan,
		agent.StageProcessFeedback,
		agent.StageBuild,
		agent.StageReviewSolution,
		agent.StageValidateFinal,
	}
	for _, kind := range kinds {
		assert.NotEmpty(t, instructions[kind], "no instruction for %s", kind)
	}
}

func TestCheckShape(t *testing.T) {
	tests := []struct {
		kind    agent.StageKind
		result  *agent.Result
		wantErr bool
	}{
		{agent.StageClassify, &agent.Result{Classification: &agent.Classification{}}, false},
		{agent.StageClassify, &agent.Result{}, true},
		{agent.StageExtractRequirements, &agent.Result{Requirements: []agent.Requirement{{ID: "R1"}}}, false},
		{agent.StageExtractRequirements, &agent.Result{}, true},
		{agent.StageCreatePlan, &agent.Result{Plan: &agent.PlanDraft{}}, false},
		{agent.StageProcessFeedback, &agent.Result{}, true},
		{agent.StageReviewPlan, &agent.Result{Review: &agent.ReviewVerdict{}}, false},
		{agent.StageReviewSolution, &agent.Result{}, true},
		{agent.StageBuild, &agent.Result{Artifacts: map[string]string{"a": "b"}}, false},
		{agent.StageBuild, &agent.Result{}, true},
		{agent.StageValidateFinal, &agent.Result{Validation: &agent.ValidationReport{}}, false},
		{agent.StageValidateFinal, &agent.Result{}, true},
	}
	for _, tt := range tests {
		err := checkShape(tt.kind, tt.result)
		if tt.wantErr {
			assert.ErrorIs(t, err, agent.ErrMalformedResult, "%s", tt.kind)
		} else {
			assert.NoError(t, err, "%s", tt.kind)
		}
	}
}

func TestClassifyError(t *testing.T) {
	err := classifyError(agent.StageClassify, context.DeadlineExceeded)
	assert.ErrorIs(t, err, agent.ErrProviderTimeout)

	err = classifyError(agent.StageClassify, &timeoutError{})
	assert.ErrorIs(t, err, agent.ErrProviderTimeout)

	err = classifyError(agent.StageClassify, fmt.Errorf("connection refused"))
	assert.ErrorIs(t, err, agent.ErrProviderError)
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "timed out" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// completionStub serves a canned chat completion response.
func completionStub(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
			"usage": map[string]any{
				"prompt_tokens":     12,
				"completion_tokens": 7,
				"total_tokens":      19,
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestInvokeDecodesResult(t *testing.T) {
	ts := completionStub(t, `{"classification":{"category":"software","confidence":0.93}}`)
	defer ts.Close()

	invoker := New(WithAPIKey("test-key"), WithBaseURL(ts.URL))
	result, err := invoker.Invoke(context.Background(), agent.StageClassify,
		&agent.Payload{Demand: "build a todo app"}, agent.Profile{Model: "gpt-4o-mini"})
	require.NoError(t, err)
	require.NotNil(t, result.Classification)
	assert.Equal(t, agent.CategorySoftware, result.Classification.Category)
	assert.InDelta(t, 0.93, result.Classification.Confidence, 1e-9)
	assert.Equal(t, 12, result.Usage.PromptTokens)
	assert.Equal(t, 7, result.Usage.CompletionTokens)
}

func TestInvokeRejectsMissingStageField(t *testing.T) {
	ts := completionStub(t, `{"plan":{"title":"unexpected"}}`)
	defer ts.Close()

	invoker := New(WithAPIKey("test-key"), WithBaseURL(ts.URL))
	_, err := invoker.Invoke(context.Background(), agent.StageClassify,
		&agent.Payload{Demand: "demand"}, agent.Profile{Model: "gpt-4o-mini"})
	assert.ErrorIs(t, err, agent.ErrMalformedResult)
}

func TestInvokeRejectsUndecodableContent(t *testing.T) {
	ts := completionStub(t, "not json at all")
	defer ts.Close()

	invoker := New(WithAPIKey("test-key"), WithBaseURL(ts.URL))
	_, err := invoker.Invoke(context.Background(), agent.StageClassify,
		&agent.Payload{Demand: "demand"}, agent.Profile{Model: "gpt-4o-mini"})
	assert.ErrorIs(t, err, agent.ErrMalformedResult)
}

func TestInvokeTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server's background read can observe the
		// client disconnect and cancel the request context.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer ts.Close()

	invoker := New(WithAPIKey("test-key"), WithBaseURL(ts.URL),
		WithRequestTimeout(50*time.Millisecond))
	_, err := invoker.Invoke(context.Background(), agent.StageClassify,
		&agent.Payload{Demand: "demand"}, agent.Profile{Model: "gpt-4o-mini"})
	assert.ErrorIs(t, err, agent.ErrProviderTimeout)
}

func TestInvokeUnsupportedStage(t *testing.T) {
	invoker := New(WithAPIKey("test-key"))
	_, err := invoker.Invoke(context.Background(), agent.StageKind("bogus"), nil, agent.Profile{})
	assert.ErrorIs(t, err, agent.ErrProviderError)
}
