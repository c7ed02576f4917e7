//
// Tencent is pleased to support the open source community by making trpc-forge-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-forge-go is licensed under the Apache License Version 2.0.
//
//

// Package agent defines the port through which pipeline nodes obtain stage
// content. Implementations wrap a concrete model provider; the pipeline only
// sees structured results and typed errors.
package agent

import "context"

// StageKind identifies which kind of content an invocation must produce.
type StageKind string

// Stage kinds understood by an Invoker.
const (
	StageClassify            StageKind = "classify"
	StageExtractRequirements StageKind = "extract_requirements"
	StageCreatePlan          StageKind = "create_plan"
	StageReviewPlan          StageKind = "review_plan"
	StageBuild               StageKind = "build"
	StageReviewSolution      StageKind = "review_solution"
	StageValidateFinal       StageKind = "validate_final"
	StageProcessFeedback     StageKind = "process_feedback"
)

// DemandCategory is the coarse classification of a demand.
type DemandCategory string

// Demand categories.
const (
	CategoryAnalysis     DemandCategory = "analysis"
	CategorySoftware     DemandCategory = "software"
	CategoryDataPipeline DemandCategory = "data_pipeline"
	CategoryUnknown      DemandCategory = "unknown"
)

// Classification is the result of classifying a demand.
type Classification struct {
	Category   DemandCategory `json:"category"`
	Confidence float64        `json:"confidence"`
}

// Requirement is a single structured requirement extracted from a demand.
type Requirement struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Satisfied bool   `json:"satisfied"`
}

// PlanDraft is the content of one proposed plan.
type PlanDraft struct {
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	Steps      []string `json:"steps"`
	Risks      []string `json:"risks,omitempty"`
	Complexity string   `json:"complexity,omitempty"`
}

// ReviewVerdict is the result of a reviewing invocation.
type ReviewVerdict struct {
	Approved    bool     `json:"approved"`
	Confidence  float64  `json:"confidence"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Strengths   []string `json:"strengths,omitempty"`
}

// ValidationReport maps requirement IDs to whether the built artifacts
// satisfy them.
type ValidationReport struct {
	Satisfied []string `json:"satisfied"`
	Unmet     []string `json:"unmet,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Usage records token and cost accounting for one invocation.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	Cost             float64 `json:"cost"`
}

// Payload carries the state slice an invocation needs. Only the fields
// relevant to the stage kind are populated by the caller.
type Payload struct {
	Demand       string            `json:"demand,omitempty"`
	Category     DemandCategory    `json:"category,omitempty"`
	Requirements []Requirement     `json:"requirements,omitempty"`
	Plan         *PlanDraft        `json:"plan,omitempty"`
	Feedback     string            `json:"feedback,omitempty"`
	Issues       []string          `json:"issues,omitempty"`
	Artifacts    map[string]string `json:"artifacts,omitempty"`
	BuildErrors  []string          `json:"build_errors,omitempty"`
}

// Result is the structured outcome of one invocation. Exactly the fields
// matching the requested stage kind are set.
type Result struct {
	Classification *Classification   `json:"classification,omitempty"`
	Requirements   []Requirement     `json:"requirements,omitempty"`
	Plan           *PlanDraft        `json:"plan,omitempty"`
	Review         *ReviewVerdict    `json:"review,omitempty"`
	Artifacts      map[string]string `json:"artifacts,omitempty"`
	Validation     *ValidationReport `json:"validation,omitempty"`
	Usage          Usage             `json:"usage"`
}

// Profile selects the model configuration for an invocation. It is opaque to
// the pipeline; implementations interpret it.
type Profile struct {
	Model       string
	Temperature *float64
	MaxTokens   *int
}

// Invoker produces stage content. Implementations must return one of the
// typed errors from errors.go on failure rather than provider-specific ones.
type Invoker interface {
	Invoke(ctx context.Context, kind StageKind, payload *Payload, profile Profile) (*Result, error)
}
