//
// Tencent is pleased to support the open source community by making trpc-forge-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-forge-go is licensed under the Apache License Version 2.0.
//
//

package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-forge-go/agent"
	"trpc.group/trpc-go/trpc-forge-go/pipeline"
	"trpc.group/trpc-go/trpc-forge-go/pipeline/checkpoint/inmemory"
)

// happyInvoker answers every stage successfully and deterministically.
type happyInvoker struct{}

func (happyInvoker) Invoke(ctx context.Context, kind agent.StageKind,
	payload *agent.Payload, profile agent.Profile) (*agent.Result, error) {
	switch kind {
	case agent.StageClassify:
		return &agent.Result{Classification: &agent.Classification{
			Category: agent.CategorySoftware, Confidence: 0.95,
		}}, nil
	case agent.StageExtractRequirements:
		return &agent.Result{Requirements: []agent.Requirement{{ID: "R1", Text: "do it"}}}, nil
	case agent.StageCreatePlan, agent.StageProcessFeedback:
		return &agent.Result{Plan: &agent.PlanDraft{Title: "plan", Steps: []string{"one"}}}, nil
	case agent.StageReviewPlan, agent.StageReviewSolution:
		return &agent.Result{Review: &agent.ReviewVerdict{Approved: true, Confidence: 0.9}}, nil
	case agent.StageBuild:
		return &agent.Result{Artifacts: map[string]string{"README.md": "# done\n"}}, nil
	case agent.StageValidateFinal:
		return &agent.Result{Validation: &agent.ValidationReport{Satisfied: []string{"R1"}}}, nil
	}
	return nil, fmt.Errorf("unexpected stage %s", kind)
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	exec, err := pipeline.NewExecutor(happyInvoker{})
	require.NoError(t, err)
	svc, err := New(exec, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestStartAndState(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	state, err := svc.Start(ctx, "build a todo app")
	require.NoError(t, err)
	assert.NotEmpty(t, state.ID)
	assert.Equal(t, pipeline.StageClassify, state.CurrentStage)

	got, err := svc.State(ctx, state.ID)
	require.NoError(t, err)
	assert.Equal(t, state.ID, got.ID)

	_, err = svc.Start(ctx, "")
	assert.Error(t, err)
	_, err = svc.State(ctx, "unknown")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestFullLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	state, err := svc.Start(ctx, "build a todo app")
	require.NoError(t, err)

	var result *pipeline.StepResult
	for i := 0; i < 10; i++ {
		result, err = svc.Step(ctx, state.ID)
		require.NoError(t, err)
		if result.Suspended {
			break
		}
	}
	require.True(t, result.Suspended)

	_, err = svc.Step(ctx, state.ID)
	assert.ErrorIs(t, err, pipeline.ErrAwaitingApproval)

	result, err = svc.Approve(ctx, state.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageBuild, result.NextStage)

	for i := 0; i < 10 && result.Terminal == ""; i++ {
		result, err = svc.Step(ctx, state.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, pipeline.TerminalDelivered, result.Terminal)
}

func TestFeedbackAndAbort(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	state, err := svc.Start(ctx, "build a todo app")
	require.NoError(t, err)
	runToSuspend(t, svc, state.ID)

	result, err := svc.Feedback(ctx, state.ID, "change the plan")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageProcessFeedback, result.NextStage)

	result, err = svc.Abort(ctx, state.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.TerminalRejectedByUser, result.Terminal)

	_, err = svc.Step(ctx, state.ID)
	assert.ErrorIs(t, err, pipeline.ErrAlreadyTerminal)
}

func TestRunUntilPause(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	state, err := svc.Start(ctx, "build a todo app")
	require.NoError(t, err)

	done := make(chan *pipeline.ExecutionState, 1)
	err = svc.RunUntilPause(ctx, state.ID, func(final *pipeline.ExecutionState, runErr error) {
		require.NoError(t, runErr)
		done <- final
	})
	require.NoError(t, err)

	select {
	case final := <-done:
		assert.Equal(t, pipeline.StatusSuspended, final.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("background run did not pause in time")
	}

	assert.ErrorIs(t, svc.RunUntilPause(ctx, "unknown", nil), ErrSessionNotFound)
}

func TestSnapshotAndRestore(t *testing.T) {
	saver := inmemory.NewSaver()
	svc := newTestService(t, WithSaver(saver))
	ctx := context.Background()

	state, err := svc.Start(ctx, "build a todo app")
	require.NoError(t, err)
	runToSuspend(t, svc, state.ID)

	snap, err := svc.Snapshot(ctx, state.ID)
	require.NoError(t, err)
	assert.Equal(t, state.ID, snap.LineageID)

	// A second service restores the lineage from persistence alone.
	other := newTestService(t, WithSaver(saver))
	restored, err := other.RestoreLatest(ctx, state.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusSuspended, restored.Status)

	result, err := other.Approve(ctx, state.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageBuild, result.NextStage)
}

func TestRestoreRejectsEmpty(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Restore(context.Background(), nil)
	assert.Error(t, err)

	noSaver := newTestService(t)
	_, err = noSaver.RestoreLatest(context.Background(), "lineage")
	assert.Error(t, err)
}

func TestAutosavePersistsEveryTransition(t *testing.T) {
	saver := inmemory.NewSaver()
	svc := newTestService(t, WithSaver(saver))
	ctx := context.Background()

	state, err := svc.Start(ctx, "build a todo app")
	require.NoError(t, err)
	_, err = svc.Step(ctx, state.ID)
	require.NoError(t, err)
	_, err = svc.Step(ctx, state.ID)
	require.NoError(t, err)

	snaps, err := saver.List(ctx, state.ID)
	require.NoError(t, err)
	// One snapshot at start plus one per step.
	assert.Len(t, snaps, 3)
}

func TestCloseRejectsFurtherCommands(t *testing.T) {
	exec, err := pipeline.NewExecutor(happyInvoker{})
	require.NoError(t, err)
	svc, err := New(exec)
	require.NoError(t, err)

	state, err := svc.Start(context.Background(), "demand")
	require.NoError(t, err)
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close(), "close is idempotent")

	_, err = svc.Step(context.Background(), state.ID)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = svc.Start(context.Background(), "another")
	assert.ErrorIs(t, err, ErrClosed)
}

func runToSuspend(t *testing.T, svc *Service, id string) {
	t.Helper()
	for i := 0; i < 10; i++ {
		result, err := svc.Step(context.Background(), id)
		require.NoError(t, err)
		if result.Suspended {
			return
		}
	}
	t.Fatal("execution did not suspend")
}
