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
	"bytes"
	"encoding/json"
	"fmt"
	"go/parser"
	"go/token"
	"path"
	"strings"

	"github.com/yuin/goldmark"
)

// Verdict is the outcome of a guardrail gate.
type Verdict string

// Guardrail verdicts.
const (
	VerdictPass   Verdict = "pass"
	VerdictRetry  Verdict = "retry"
	VerdictReject Verdict = "reject"
)

// GateResult is a verdict plus the reason behind it.
type GateResult struct {
	Verdict Verdict
	Reason  string
	// Kind is set on reject so the executor can tag the terminal outcome.
	Kind ErrorKind
}

// Evaluator holds the configured thresholds and budgets for every gate.
// Gates are deterministic functions of state: they never call the agent
// port, so they stay testable without live invocations.
type Evaluator struct {
	ConfidenceThreshold float64
	MaxClassifyRetries  int
	MaxPlanFeedback     int
	MaxBuildRetries     int
}

// Evaluate runs the gate for the given stage over the state a node just
// produced. It returns nil for stages that carry no gate.
func (e *Evaluator) Evaluate(stage Stage, s *ExecutionState) *GateResult {
	switch stage {
	case StageClassify:
		return e.classificationGate(s)
	case StageReviewPlan:
		return e.planGate(s)
	case StageBuild:
		return e.buildGate(s)
	case StageReviewSolution:
		return e.solutionGate(s)
	case StageValidateFinal:
		return e.finalGate(s)
	default:
		return nil
	}
}

// classificationGate passes when the classifier is confident enough,
// retries up to the classify budget, then rejects fatally.
func (e *Evaluator) classificationGate(s *ExecutionState) *GateResult {
	if s.Classification == nil {
		return &GateResult{Verdict: VerdictReject, Kind: ErrorKindLowConfidence,
			Reason: "no classification produced"}
	}
	if s.Classification.Confidence >= e.ConfidenceThreshold {
		return &GateResult{Verdict: VerdictPass}
	}
	reason := fmt.Sprintf("classification confidence %.2f below threshold %.2f",
		s.Classification.Confidence, e.ConfidenceThreshold)
	if s.Counters.ClassifyRetries < e.MaxClassifyRetries {
		return &GateResult{Verdict: VerdictRetry, Reason: reason}
	}
	return &GateResult{Verdict: VerdictReject, Kind: ErrorKindLowConfidence,
		Reason: reason + fmt.Sprintf(" after %d retries", s.Counters.ClassifyRetries)}
}

// planGate passes when the reviewing node approved the plan, otherwise
// routes to feedback processing while the feedback budget lasts.
func (e *Evaluator) planGate(s *ExecutionState) *GateResult {
	review, ok := s.Reviews[StageReviewPlan]
	if ok && review.Pass {
		return &GateResult{Verdict: VerdictPass}
	}
	reason := "plan rejected by review"
	if review.Reason != "" {
		reason = "plan rejected by review: " + review.Reason
	}
	if s.Counters.PlanFeedback < e.MaxPlanFeedback {
		return &GateResult{Verdict: VerdictRetry, Reason: reason}
	}
	return &GateResult{Verdict: VerdictReject, Kind: ErrorKindPlanRejectedByReview,
		Reason: reason + fmt.Sprintf(" after %d feedback rounds", s.Counters.PlanFeedback)}
}

// buildGate passes when every artifact is syntactically valid, otherwise
// routes back to the builder with the errors while the build budget lasts.
func (e *Evaluator) buildGate(s *ExecutionState) *GateResult {
	if len(s.Artifacts) == 0 {
		return &GateResult{Verdict: VerdictReject, Kind: ErrorKindBuildSyntax,
			Reason: "build produced no artifacts"}
	}
	problems := ValidateArtifacts(s.Artifacts)
	if len(problems) == 0 {
		return &GateResult{Verdict: VerdictPass}
	}
	reason := "artifact validation failed: " + strings.Join(problems, "; ")
	if s.Counters.BuildRetries < e.MaxBuildRetries {
		return &GateResult{Verdict: VerdictRetry, Reason: reason}
	}
	return &GateResult{Verdict: VerdictReject, Kind: ErrorKindBuildSyntax,
		Reason: reason + fmt.Sprintf(" after %d rebuilds", s.Counters.BuildRetries)}
}

// solutionGate mirrors the plan gate for the code review of built
// artifacts; a rejection re-enters the builder, bounded by the same budget
// as syntax failures.
func (e *Evaluator) solutionGate(s *ExecutionState) *GateResult {
	review, ok := s.Reviews[StageReviewSolution]
	if ok && review.Pass {
		return &GateResult{Verdict: VerdictPass}
	}
	reason := "solution rejected by review"
	if review.Reason != "" {
		reason = "solution rejected by review: " + review.Reason
	}
	if s.Counters.BuildRetries < e.MaxBuildRetries {
		return &GateResult{Verdict: VerdictRetry, Reason: reason}
	}
	return &GateResult{Verdict: VerdictReject, Kind: ErrorKindBuildSyntax,
		Reason: reason + fmt.Sprintf(" after %d rebuilds", s.Counters.BuildRetries)}
}

// finalGate passes only when every extracted requirement is satisfied.
// It never retries: looping here risks endless oscillation between build
// and review, so an unmet requirement fails the request.
func (e *Evaluator) finalGate(s *ExecutionState) *GateResult {
	var unmet []string
	for _, req := range s.Requirements {
		if !req.Satisfied {
			unmet = append(unmet, req.ID)
		}
	}
	if len(unmet) == 0 {
		return &GateResult{Verdict: VerdictPass}
	}
	return &GateResult{Verdict: VerdictReject, Kind: ErrorKindFinalValidation,
		Reason: "unmet requirements: " + strings.Join(unmet, ", ")}
}

// ValidateArtifacts runs the machine-checkable syntax checks over an
// artifact set and returns one problem string per failing artifact.
// JSON must decode, Go sources must parse, Markdown must render.
func ValidateArtifacts(artifacts map[string]string) []string {
	var problems []string
	for name, content := range artifacts {
		if err := validateArtifact(name, content); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", name, err))
		}
	}
	return problems
}

var markdown = goldmark.New()

func validateArtifact(name, content string) error {
	switch path.Ext(name) {
	case ".json":
		if !json.Valid([]byte(content)) {
			return fmt.Errorf("invalid JSON")
		}
	case ".go":
		fset := token.NewFileSet()
		if _, err := parser.ParseFile(fset, name, content, parser.AllErrors); err != nil {
			return err
		}
	case ".md":
		var buf bytes.Buffer
		if err := markdown.Convert([]byte(content), &buf); err != nil {
			return err
		}
	default:
		// Unknown artifact types only need to be non-empty.
		if strings.TrimSpace(content) == "" {
			return fmt.Errorf("empty artifact")
		}
	}
	return nil
}
