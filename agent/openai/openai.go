//
// Tencent is pleased to support the open source community by making trpc-forge-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-forge-go is licensed under the Apache License Version 2.0.
//
//

// Package openai implements the agent.Invoker port on top of OpenAI-like
// chat completion APIs.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"trpc.group/trpc-go/trpc-forge-go/agent"
	"trpc.group/trpc-go/trpc-forge-go/log"
)

const defaultRequestTimeout = 120 * time.Second

// Option configures the Invoker.
type Option func(*options)

type options struct {
	apiKey         string
	baseURL        string
	requestTimeout time.Duration
	openaiOptions  []openaiopt.RequestOption
}

// WithAPIKey sets the API key used for authentication.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithBaseURL sets a base URL override for OpenAI-compatible endpoints.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithRequestTimeout bounds each invocation. Exceeding it surfaces as
// agent.ErrProviderTimeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithOpenAIOptions appends extra request options passed to the client.
func WithOpenAIOptions(opts ...openaiopt.RequestOption) Option {
	return func(o *options) { o.openaiOptions = append(o.openaiOptions, opts...) }
}

// Invoker produces stage content through an OpenAI-like chat completion API.
type Invoker struct {
	client         openai.Client
	requestTimeout time.Duration
}

// New creates a new OpenAI-backed Invoker.
func New(opts ...Option) *Invoker {
	o := &options{requestTimeout: defaultRequestTimeout}
	for _, opt := range opts {
		opt(o)
	}
	var clientOpts []openaiopt.RequestOption
	if o.apiKey != "" {
		clientOpts = append(clientOpts, openaiopt.WithAPIKey(o.apiKey))
	}
	if o.baseURL != "" {
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(o.baseURL))
	}
	clientOpts = append(clientOpts, o.openaiOptions...)
	return &Invoker{
		client:         openai.NewClient(clientOpts...),
		requestTimeout: o.requestTimeout,
	}
}

// instructions maps each stage kind to the system instruction describing the
// JSON object the model must answer with. The shapes mirror agent.Result.
var instructions = map[agent.StageKind]string{
	agent.StageClassify: `Classify the demand into one of "analysis", "software" or "data_pipeline".
Answer with JSON: {"classification":{"category":"...","confidence":0.0}}.`,
	agent.StageExtractRequirements: `Extract the concrete requirements from the demand.
Answer with JSON: {"requirements":[{"id":"R1","text":"..."}]}.`,
	agent.StageCreatePlan: `Create an execution plan for the demand and its requirements.
Answer with JSON: {"plan":{"title":"...","summary":"...","steps":["..."],"risks":["..."],"complexity":"low|medium|high"}}.`,
	agent.StageReviewPlan: `Review the plan against the requirements.
Answer with JSON: {"review":{"approved":true,"confidence":0.0,"issues":["..."],"suggestions":["..."],"strengths":["..."]}}.`,
	agent.StageBuild: `Build the solution described by the approved plan. Fix any listed build errors.
Answer with JSON: {"artifacts":{"<file name>":"<file content>"}}.`,
	agent.StageReviewSolution: `Review the built artifacts against the plan.
Answer with JSON: {"review":{"approved":true,"confidence":0.0,"issues":["..."]}}.`,
	agent.StageValidateFinal: `Check each requirement against the artifacts.
Answer with JSON: {"validation":{"satisfied":["R1"],"unmet":["R2"],"warnings":["..."]}}.`,
	agent.StageProcessFeedback: `Revise the plan to address the feedback and issues.
Answer with JSON: {"plan":{"title":"...","summary":"...","steps":["..."]}}.`,
}

// Invoke implements agent.Invoker.
func (i *Invoker) Invoke(
	ctx context.Context,
	kind agent.StageKind,
	payload *agent.Payload,
	profile agent.Profile,
) (*agent.Result, error) {
	instruction, ok := instructions[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported stage kind %q", agent.ErrProviderError, kind)
	}
	if payload == nil {
		payload = &agent.Payload{}
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode payload: %v", agent.ErrProviderError, err)
	}

	chatRequest := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(profile.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(instruction),
			openai.UserMessage(string(input)),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	if profile.Temperature != nil {
		chatRequest.Temperature = openai.Float(*profile.Temperature)
	}
	if profile.MaxTokens != nil {
		chatRequest.MaxCompletionTokens = openai.Int(int64(*profile.MaxTokens))
	}

	ctx, cancel := context.WithTimeout(ctx, i.requestTimeout)
	defer cancel()

	completion, err := i.client.Chat.Completions.New(ctx, chatRequest)
	if err != nil {
		return nil, classifyError(kind, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: %s returned no choices", agent.ErrMalformedResult, kind)
	}

	var result agent.Result
	content := completion.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		log.Debugf("undecodable %s payload: %s", kind, content)
		return nil, fmt.Errorf("%w: decode %s result: %v", agent.ErrMalformedResult, kind, err)
	}
	if err := checkShape(kind, &result); err != nil {
		return nil, err
	}
	result.Usage = agent.Usage{
		PromptTokens:     int(completion.Usage.PromptTokens),
		CompletionTokens: int(completion.Usage.CompletionTokens),
	}
	return &result, nil
}

// checkShape verifies the stage-specific field is present so downstream
// nodes never observe a half-decoded result.
func checkShape(kind agent.StageKind, result *agent.Result) error {
	missing := false
	switch kind {
	case agent.StageClassify:
		missing = result.Classification == nil
	case agent.StageExtractRequirements:
		missing = len(result.Requirements) == 0
	case agent.StageCreatePlan, agent.StageProcessFeedback:
		missing = result.Plan == nil
	case agent.StageReviewPlan, agent.StageReviewSolution:
		missing = result.Review == nil
	case agent.StageBuild:
		missing = len(result.Artifacts) == 0
	case agent.StageValidateFinal:
		missing = result.Validation == nil
	}
	if missing {
		return fmt.Errorf("%w: %s result lacks its stage field", agent.ErrMalformedResult, kind)
	}
	return nil
}

// classifyError maps transport and API failures onto the port's typed errors.
func classifyError(kind agent.StageKind, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", agent.ErrProviderTimeout, kind, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s: %v", agent.ErrProviderTimeout, kind, err)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s: status %d: %v", agent.ErrProviderError, kind, apiErr.StatusCode, err)
	}
	return fmt.Errorf("%w: %s: %v", agent.ErrProviderError, kind, err)
}
