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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-forge-go/agent"
)

func newTestEvaluator() *Evaluator {
	return &Evaluator{
		ConfidenceThreshold: 0.7,
		MaxClassifyRetries:  2,
		MaxPlanFeedback:     3,
		MaxBuildRetries:     3,
	}
}

func TestClassificationGate(t *testing.T) {
	e := newTestEvaluator()
	s := NewExecutionState("demand")

	s.Classification = &agent.Classification{Confidence: 0.7}
	assert.Equal(t, VerdictPass, e.Evaluate(StageClassify, s).Verdict, "threshold is inclusive")

	s.Classification.Confidence = 0.69
	gate := e.Evaluate(StageClassify, s)
	assert.Equal(t, VerdictRetry, gate.Verdict)
	assert.NotEmpty(t, gate.Reason)

	s.Counters.ClassifyRetries = 2
	gate = e.Evaluate(StageClassify, s)
	assert.Equal(t, VerdictReject, gate.Verdict)
	assert.Equal(t, ErrorKindLowConfidence, gate.Kind)

	s.Classification = nil
	assert.Equal(t, VerdictReject, e.Evaluate(StageClassify, s).Verdict)
}

func TestPlanGate(t *testing.T) {
	e := newTestEvaluator()
	s := NewExecutionState("demand")
	s.Reviews = map[Stage]Review{StageReviewPlan: {Pass: true}}
	assert.Equal(t, VerdictPass, e.Evaluate(StageReviewPlan, s).Verdict)

	s.Reviews[StageReviewPlan] = Review{Pass: false, Reason: "too vague"}
	gate := e.Evaluate(StageReviewPlan, s)
	assert.Equal(t, VerdictRetry, gate.Verdict)
	assert.Contains(t, gate.Reason, "too vague")

	s.Counters.PlanFeedback = 3
	gate = e.Evaluate(StageReviewPlan, s)
	assert.Equal(t, VerdictReject, gate.Verdict)
	assert.Equal(t, ErrorKindPlanRejectedByReview, gate.Kind)
}

func TestBuildGate(t *testing.T) {
	e := newTestEvaluator()
	s := NewExecutionState("demand")

	gate := e.Evaluate(StageBuild, s)
	assert.Equal(t, VerdictReject, gate.Verdict, "no artifacts is fatal")

	s.Artifacts = map[string]string{"main.go": "package main\n\nfunc main() {}\n"}
	assert.Equal(t, VerdictPass, e.Evaluate(StageBuild, s).Verdict)

	s.Artifacts["broken.json"] = "{nope"
	gate = e.Evaluate(StageBuild, s)
	assert.Equal(t, VerdictRetry, gate.Verdict)
	assert.Contains(t, gate.Reason, "broken.json")

	s.Counters.BuildRetries = 3
	gate = e.Evaluate(StageBuild, s)
	assert.Equal(t, VerdictReject, gate.Verdict)
	assert.Equal(t, ErrorKindBuildSyntax, gate.Kind)
}

func TestSolutionGate(t *testing.T) {
	e := newTestEvaluator()
	s := NewExecutionState("demand")
	s.Reviews = map[Stage]Review{StageReviewSolution: {Pass: false, Reason: "missing tests"}}

	gate := e.Evaluate(StageReviewSolution, s)
	assert.Equal(t, VerdictRetry, gate.Verdict)

	s.Counters.BuildRetries = 3
	assert.Equal(t, VerdictReject, e.Evaluate(StageReviewSolution, s).Verdict)

	s.Reviews[StageReviewSolution] = Review{Pass: true}
	assert.Equal(t, VerdictPass, e.Evaluate(StageReviewSolution, s).Verdict)
}

func TestFinalGateNeverRetries(t *testing.T) {
	e := newTestEvaluator()
	s := NewExecutionState("demand")
	s.Requirements = []agent.Requirement{
		{ID: "R1", Satisfied: true},
		{ID: "R2", Satisfied: false},
	}

	gate := e.Evaluate(StageValidateFinal, s)
	require.Equal(t, VerdictReject, gate.Verdict)
	assert.Equal(t, ErrorKindFinalValidation, gate.Kind)
	assert.Contains(t, gate.Reason, "R2")
	assert.NotContains(t, gate.Reason, "R1")

	s.Requirements[1].Satisfied = true
	assert.Equal(t, VerdictPass, e.Evaluate(StageValidateFinal, s).Verdict)
}

func TestUngatedStages(t *testing.T) {
	e := newTestEvaluator()
	s := NewExecutionState("demand")
	assert.Nil(t, e.Evaluate(StageExtractRequirements, s))
	assert.Nil(t, e.Evaluate(StageCreatePlan, s))
	assert.Nil(t, e.Evaluate(StageProcessFeedback, s))
}

func TestValidateArtifacts(t *testing.T) {
	tests := []struct {
		name      string
		artifacts map[string]string
		problems  int
	}{
		{"valid set", map[string]string{
			"main.go":   "package main\n\nfunc main() {}\n",
			"plan.json": `{"steps": 2}`,
			"README.md": "# hello\n\nsome *markdown*\n",
			"notes.txt": "free text",
		}, 0},
		{"invalid go", map[string]string{"main.go": "func main( {"}, 1},
		{"invalid json", map[string]string{"data.json": "{broken"}, 1},
		{"empty unknown type", map[string]string{"empty.txt": "   "}, 1},
		{"multiple failures", map[string]string{
			"a.json": "{",
			"b.go":   "not go at all",
		}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, ValidateArtifacts(tt.artifacts), tt.problems)
		})
	}
}
