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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-forge-go/agent"
)

func TestSnapshotRoundTrip(t *testing.T) {
	state := NewExecutionState("demand")
	state.Classification = &agent.Classification{Category: agent.CategorySoftware, Confidence: 0.9}
	state.Plan = []PlanRevision{{Revision: 1, Content: &agent.PlanDraft{Title: "plan"}, Status: ApprovalPending}}
	state.Counters.PlanFeedback = 2
	state.Reviews = map[Stage]Review{StageReviewPlan: {Pass: true}}
	state.CurrentStage = StageAwaitApproval
	state.Status = StatusSuspended

	snap := NewSnapshot(state)
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, state.ID, snap.LineageID)
	assert.Equal(t, StateVersion, snap.Version)

	data, err := snap.Encode()
	require.NoError(t, err)
	decoded, err := DecodeSnapshot(data)
	require.NoError(t, err)

	wantState, err := json.Marshal(state)
	require.NoError(t, err)
	gotState, err := json.Marshal(decoded.State)
	require.NoError(t, err)
	assert.JSONEq(t, string(wantState), string(gotState))
	assert.Equal(t, snap.ID, decoded.ID)
}

func TestNewSnapshotIsDetached(t *testing.T) {
	state := NewExecutionState("demand")
	snap := NewSnapshot(state)

	state.CurrentStage = StageBuild
	state.Counters.BuildRetries = 5
	assert.Equal(t, StageClassify, snap.State.CurrentStage)
	assert.Zero(t, snap.State.Counters.BuildRetries)
}

func TestDecodeSnapshotVersionMismatch(t *testing.T) {
	snap := NewSnapshot(NewExecutionState("demand"))
	snap.Version = StateVersion + 1
	data, err := snap.Encode()
	require.NoError(t, err)

	_, err = DecodeSnapshot(data)
	assert.ErrorIs(t, err, ErrSnapshotVersion)
}

func TestDecodeSnapshotRejectsGarbage(t *testing.T) {
	_, err := DecodeSnapshot([]byte("not json"))
	assert.Error(t, err)

	_, err = DecodeSnapshot([]byte(`{"v": 1}`))
	assert.Error(t, err, "missing state")
}
