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
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"trpc.group/trpc-go/trpc-forge-go/log"
	"trpc.group/trpc-go/trpc-forge-go/telemetry/trace"
)

// CommandKind identifies a resume command.
type CommandKind string

const (
	// CommandApprove accepts the plan awaiting approval and releases the
	// execution into the build phase.
	CommandApprove CommandKind = "approve"
	// CommandFeedback rejects the pending plan with reviewer feedback and
	// sends the execution through another planning round.
	CommandFeedback CommandKind = "feedback"
	// CommandAbort forces any non-terminal execution to a terminal state.
	CommandAbort CommandKind = "abort"
)

// Command resumes a suspended execution or aborts a running one.
type Command struct {
	Kind CommandKind
	// Feedback carries the reviewer's text for CommandFeedback.
	Feedback string
}

// Approve builds an approval command.
func Approve() Command { return Command{Kind: CommandApprove} }

// Feedback builds a feedback command carrying the reviewer's text.
func Feedback(text string) Command { return Command{Kind: CommandFeedback, Feedback: text} }

// Abort builds an abort command.
func Abort() Command { return Command{Kind: CommandAbort} }

// Resume applies a human command to the state machine. Unlike Step it runs
// no node: it only settles the pending plan revision and repositions the
// execution, so the next Step continues from the chosen branch.
func (e *Executor) Resume(ctx context.Context, s *ExecutionState, cmd Command) (*StepResult, error) {
	_, span := trace.Tracer.Start(ctx, fmt.Sprintf("resume %s", cmd.Kind))
	defer span.End()
	span.SetAttributes(
		attribute.String("trpc.go.forge.execution_id", s.ID),
		attribute.String("trpc.go.forge.command", string(cmd.Kind)),
	)

	if s.Terminal != "" {
		return nil, ErrAlreadyTerminal
	}
	work := s.Clone()
	switch cmd.Kind {
	case CommandAbort:
		work.setTerminal(TerminalRejectedByUser, ErrorKindAborted, "aborted by user")
	case CommandApprove:
		if s.Status != StatusSuspended {
			return nil, ErrNotSuspended
		}
		rev := work.LatestRevision()
		if rev == nil || rev.Status != ApprovalPending {
			return nil, fmt.Errorf("no plan revision awaiting approval")
		}
		rev.Status = ApprovalApproved
		work.Approved = true
		work.Feedback = ""
		work.Status = StatusRunning
		work.CurrentStage = StageBuild
	case CommandFeedback:
		if s.Status != StatusSuspended {
			return nil, ErrNotSuspended
		}
		rev := work.LatestRevision()
		if rev == nil || rev.Status != ApprovalPending {
			return nil, fmt.Errorf("no plan revision awaiting approval")
		}
		rev.Status = ApprovalRejected
		rev.Feedback = cmd.Feedback
		work.Counters.PlanFeedback++
		if work.Counters.PlanFeedback > e.gates.MaxPlanFeedback {
			work.setTerminal(TerminalRejectedByUser, ErrorKindPlanRejectedByUser,
				fmt.Sprintf("plan feedback budget exceeded (%d rounds)", e.gates.MaxPlanFeedback))
			break
		}
		work.Feedback = cmd.Feedback
		work.Status = StatusRunning
		work.CurrentStage = StageProcessFeedback
	default:
		return nil, fmt.Errorf("unknown command %q", cmd.Kind)
	}

	if err := validateCommit(s, work, e.table); err != nil {
		return nil, err
	}
	log.Debugf("execution %s: command %s -> stage=%s status=%s terminal=%s",
		s.ID, cmd.Kind, work.CurrentStage, work.Status, work.Terminal)
	return &StepResult{
		State:     work,
		NextStage: work.CurrentStage,
		Suspended: work.Status == StatusSuspended,
		Terminal:  work.Terminal,
		Summary:   Describe(work.CurrentStage, work.Status, work.Terminal),
	}, nil
}
