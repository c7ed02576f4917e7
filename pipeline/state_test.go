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

func TestNewExecutionState(t *testing.T) {
	s := NewExecutionState("build something")
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, StateVersion, s.Version)
	assert.Equal(t, StageClassify, s.CurrentStage)
	assert.Equal(t, StatusRunning, s.Status)
	assert.Empty(t, s.Terminal)
	assert.Zero(t, s.Counters)
}

func TestCloneIsDeep(t *testing.T) {
	s := NewExecutionState("demand")
	s.Classification = &agent.Classification{Category: agent.CategorySoftware, Confidence: 0.9}
	s.Requirements = []agent.Requirement{{ID: "R1", Text: "one"}}
	s.Plan = []PlanRevision{{
		Revision: 1,
		Content:  &agent.PlanDraft{Title: "plan", Steps: []string{"a"}},
		Status:   ApprovalPending,
	}}
	s.Artifacts = map[string]string{"main.go": "package main"}
	s.Reviews = map[Stage]Review{StageReviewPlan: {Pass: true}}
	s.Reasons = []string{"reason"}

	clone := s.Clone()
	clone.Classification.Confidence = 0.1
	clone.Requirements[0].Satisfied = true
	clone.Plan[0].Status = ApprovalApproved
	clone.Plan[0].Content.Steps[0] = "b"
	clone.Artifacts["main.go"] = "changed"
	clone.Reviews[StageReviewPlan] = Review{Pass: false}
	clone.Reasons[0] = "changed"

	assert.Equal(t, 0.9, s.Classification.Confidence)
	assert.False(t, s.Requirements[0].Satisfied)
	assert.Equal(t, ApprovalPending, s.Plan[0].Status)
	assert.Equal(t, "a", s.Plan[0].Content.Steps[0])
	assert.Equal(t, "package main", s.Artifacts["main.go"])
	assert.True(t, s.Reviews[StageReviewPlan].Pass)
	assert.Equal(t, "reason", s.Reasons[0])
}

func TestSetTerminalFirstWriteWins(t *testing.T) {
	s := NewExecutionState("demand")
	s.setTerminal(TerminalFailed, ErrorKindLowConfidence, "first")
	s.setTerminal(TerminalDelivered, "", "second")

	assert.Equal(t, TerminalFailed, s.Terminal)
	assert.Equal(t, StatusTerminal, s.Status)
	assert.Equal(t, ErrorKindLowConfidence, s.LastError)
	assert.Equal(t, []string{"first"}, s.Reasons)
}

func TestApplyPlanRevisionGuardsDoubleAppend(t *testing.T) {
	s := NewExecutionState("demand")
	d := &Delta{
		PlanDraft:    &agent.PlanDraft{Title: "v1"},
		PlanRevision: 1,
	}
	s.apply(d)
	s.apply(d)

	require.Len(t, s.Plan, 1)
	assert.Equal(t, 1, s.Plan[0].Revision)
	assert.Equal(t, ApprovalPending, s.Plan[0].Status)
}

func TestApplyRejectPrior(t *testing.T) {
	s := NewExecutionState("demand")
	s.apply(&Delta{PlanDraft: &agent.PlanDraft{Title: "v1"}, PlanRevision: 1})
	s.apply(&Delta{
		PlanDraft:    &agent.PlanDraft{Title: "v2"},
		PlanRevision: 2,
		RejectPrior:  1,
		PlanFeedback: "tighten scope",
	})

	require.Len(t, s.Plan, 2)
	assert.Equal(t, ApprovalRejected, s.Plan[0].Status)
	assert.Equal(t, ApprovalPending, s.Plan[1].Status)
	assert.Equal(t, "tighten scope", s.Plan[1].Feedback)
}

func TestApplyMarkSatisfied(t *testing.T) {
	s := NewExecutionState("demand")
	s.Requirements = []agent.Requirement{{ID: "R1"}, {ID: "R2"}}
	s.apply(&Delta{MarkSatisfied: []string{"R2", "R9"}})

	assert.False(t, s.Requirements[0].Satisfied)
	assert.True(t, s.Requirements[1].Satisfied)
}

func TestApplyAccumulatesUsage(t *testing.T) {
	s := NewExecutionState("demand")
	s.apply(&Delta{Usage: agent.Usage{PromptTokens: 10, CompletionTokens: 5, Cost: 0.01}})
	s.apply(&Delta{Usage: agent.Usage{PromptTokens: 3, CompletionTokens: 2, Cost: 0.02}})

	assert.Equal(t, 13, s.Usage.PromptTokens)
	assert.Equal(t, 7, s.Usage.CompletionTokens)
	assert.InDelta(t, 0.03, s.Usage.Cost, 1e-9)
}

func TestApprovedRevision(t *testing.T) {
	s := NewExecutionState("demand")
	assert.Nil(t, s.ApprovedRevision())
	assert.Nil(t, s.LatestRevision())

	s.Plan = []PlanRevision{
		{Revision: 1, Status: ApprovalRejected},
		{Revision: 2, Status: ApprovalApproved},
		{Revision: 3, Status: ApprovalPending},
	}
	require.NotNil(t, s.ApprovedRevision())
	assert.Equal(t, 2, s.ApprovedRevision().Revision)
	assert.Equal(t, 3, s.LatestRevision().Revision)
}
