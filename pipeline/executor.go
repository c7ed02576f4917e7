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
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"trpc.group/trpc-go/trpc-forge-go/agent"
	"trpc.group/trpc-go/trpc-forge-go/log"
	"trpc.group/trpc-go/trpc-forge-go/telemetry/trace"
)

// Defaults mirror the original pipeline configuration.
const (
	defaultConfidenceThreshold = 0.7
	defaultMaxClassifyRetries  = 2
	defaultMaxPlanFeedback     = 3
	defaultMaxBuildRetries     = 3
	defaultNodeTimeout         = 5 * time.Minute
)

// ExecutorOption is a function that configures an Executor.
type ExecutorOption func(*ExecutorOptions)

// ExecutorOptions contains configuration options for creating an Executor.
type ExecutorOptions struct {
	// ConfidenceThreshold gates the classification stage.
	ConfidenceThreshold float64
	// MaxClassifyRetries bounds the classification retry loop.
	MaxClassifyRetries int
	// MaxPlanFeedback bounds the planning feedback loop.
	MaxPlanFeedback int
	// MaxBuildRetries bounds the build retry loop.
	MaxBuildRetries int
	// RetryPolicy bounds node re-invocation on provider timeouts.
	RetryPolicy RetryPolicy
	// NodeTimeout bounds a single node attempt.
	NodeTimeout time.Duration
	// Profiles selects the model profile per stage kind.
	Profiles map[agent.StageKind]agent.Profile
	// Table overrides the default routing table.
	Table *RoutingTable
}

// WithConfidenceThreshold sets the classification confidence threshold.
func WithConfidenceThreshold(threshold float64) ExecutorOption {
	return func(opts *ExecutorOptions) { opts.ConfidenceThreshold = threshold }
}

// WithMaxClassifyRetries sets the classification retry budget.
func WithMaxClassifyRetries(max int) ExecutorOption {
	return func(opts *ExecutorOptions) { opts.MaxClassifyRetries = max }
}

// WithMaxPlanFeedback sets the planning feedback budget.
func WithMaxPlanFeedback(max int) ExecutorOption {
	return func(opts *ExecutorOptions) { opts.MaxPlanFeedback = max }
}

// WithMaxBuildRetries sets the build retry budget.
func WithMaxBuildRetries(max int) ExecutorOption {
	return func(opts *ExecutorOptions) { opts.MaxBuildRetries = max }
}

// WithRetryPolicy sets the provider-timeout retry policy.
func WithRetryPolicy(policy RetryPolicy) ExecutorOption {
	return func(opts *ExecutorOptions) { opts.RetryPolicy = policy }
}

// WithNodeTimeout bounds each node attempt.
func WithNodeTimeout(timeout time.Duration) ExecutorOption {
	return func(opts *ExecutorOptions) { opts.NodeTimeout = timeout }
}

// WithProfiles sets the per-stage model profiles.
func WithProfiles(profiles map[agent.StageKind]agent.Profile) ExecutorOption {
	return func(opts *ExecutorOptions) { opts.Profiles = profiles }
}

// WithRoutingTable overrides the default routing table.
func WithRoutingTable(table *RoutingTable) ExecutorOption {
	return func(opts *ExecutorOptions) { opts.Table = table }
}

// Executor advances an ExecutionState one node at a time. It owns no state
// of its own beyond configuration, so a single Executor can serve many
// independent executions concurrently.
type Executor struct {
	table       *RoutingTable
	nodes       *NodeSet
	gates       *Evaluator
	retryPolicy RetryPolicy
	nodeTimeout time.Duration
}

// NewExecutor creates an executor over the given agent port.
func NewExecutor(invoker agent.Invoker, opts ...ExecutorOption) (*Executor, error) {
	options := ExecutorOptions{
		ConfidenceThreshold: defaultConfidenceThreshold,
		MaxClassifyRetries:  defaultMaxClassifyRetries,
		MaxPlanFeedback:     defaultMaxPlanFeedback,
		MaxBuildRetries:     defaultMaxBuildRetries,
		RetryPolicy:         DefaultRetryPolicy(),
		NodeTimeout:         defaultNodeTimeout,
	}
	for _, opt := range opts {
		opt(&options)
	}
	table := options.Table
	if table == nil {
		table = DefaultRoutingTable()
	}
	if err := table.validate(); err != nil {
		return nil, fmt.Errorf("invalid routing table: %w", err)
	}
	nodes := NewNodeSet(invoker, nodeConfig{
		profiles:            options.Profiles,
		confidenceThreshold: options.ConfidenceThreshold,
	})
	for _, stage := range table.Stages() {
		if _, ok := nodes.Node(stage); !ok {
			return nil, fmt.Errorf("%w: %s has routes but no node", ErrUnknownStage, stage)
		}
	}
	return &Executor{
		table: table,
		nodes: nodes,
		gates: &Evaluator{
			ConfidenceThreshold: options.ConfidenceThreshold,
			MaxClassifyRetries:  options.MaxClassifyRetries,
			MaxPlanFeedback:     options.MaxPlanFeedback,
			MaxBuildRetries:     options.MaxBuildRetries,
		},
		retryPolicy: options.RetryPolicy,
		nodeTimeout: options.NodeTimeout,
	}, nil
}

// Table returns the routing table for inspection.
func (e *Executor) Table() *RoutingTable { return e.table }

// StepResult summarizes one advance of the state machine. State is a new
// record; the input state is never mutated, so a failed or cancelled step
// leaves nothing partially committed.
type StepResult struct {
	State     *ExecutionState
	Stage     Stage
	Outcome   Outcome
	Verdict   Verdict
	NextStage Stage
	Suspended bool
	Terminal  Terminal
	Summary   string
}

// Step executes exactly one node: the one bound to the state's current
// stage. It applies the guardrail, consults the routing table, and returns
// the advanced state.
func (e *Executor) Step(ctx context.Context, s *ExecutionState) (*StepResult, error) {
	if s.Terminal != "" {
		return nil, ErrAlreadyTerminal
	}
	if s.Status == StatusSuspended {
		return nil, ErrAwaitingApproval
	}
	node, ok := e.nodes.Node(s.CurrentStage)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStage, s.CurrentStage)
	}

	ctx, span := trace.Tracer.Start(ctx, fmt.Sprintf("execute_stage %s", node.ID))
	defer span.End()
	span.SetAttributes(
		attribute.String("trpc.go.forge.execution_id", s.ID),
		attribute.String("trpc.go.forge.stage", string(node.ID)),
	)

	result, timeouts, err := e.runNode(ctx, node, s)
	if err != nil {
		span.SetAttributes(attribute.String("trpc.go.forge.error", err.Error()))
		return e.commitNodeFailure(s, node, timeouts, err)
	}

	work := s.Clone()
	work.Counters.ProviderTimeouts += timeouts
	work.apply(result.Delta)

	signal := Signal(result.Outcome)
	var verdict Verdict
	if gate := e.gates.Evaluate(node.ID, work); gate != nil {
		verdict = gate.Verdict
		signal = Signal(gate.Verdict)
		recordGate(work, node.ID, gate)
	}

	dest, ok := e.table.Lookup(node.ID, signal)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoRoute, node.ID, signal)
	}
	e.traverse(work, dest)

	if err := validateCommit(s, work, e.table); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("trpc.go.forge.next_stage", string(work.CurrentStage)))
	log.Debugf("execution %s: %s -> %s (outcome=%s verdict=%s)",
		s.ID, node.ID, work.CurrentStage, result.Outcome, verdict)

	return &StepResult{
		State:     work,
		Stage:     node.ID,
		Outcome:   result.Outcome,
		Verdict:   verdict,
		NextStage: work.CurrentStage,
		Suspended: work.Status == StatusSuspended,
		Terminal:  work.Terminal,
		Summary:   Describe(work.CurrentStage, work.Status, work.Terminal),
	}, nil
}

// runNode invokes a node, absorbing retryable provider failures up to the
// retry budget. It reports how many timeouts were absorbed.
func (e *Executor) runNode(ctx context.Context, node *Node, s *ExecutionState) (*NodeResult, int, error) {
	var lastErr error
	timeouts := 0
	maxAttempts := e.retryPolicy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, e.nodeTimeout)
		result, err := node.Run(attemptCtx, s)
		cancel()
		if err == nil {
			return result, timeouts, nil
		}
		lastErr = err
		if !agent.IsRetryable(err) {
			break
		}
		timeouts++
		if attempt == maxAttempts {
			break
		}
		log.Warnf("execution %s: %s attempt %d timed out, retrying: %v", s.ID, node.ID, attempt, err)
		select {
		case <-time.After(e.retryPolicy.NextDelay(attempt)):
		case <-ctx.Done():
			return nil, timeouts, ctx.Err()
		}
	}
	return nil, timeouts, lastErr
}

// commitNodeFailure turns an unabsorbed node error into a terminal FAILED
// state. Provider failures never consume quality-gate budgets.
func (e *Executor) commitNodeFailure(s *ExecutionState, node *Node, timeouts int, err error) (*StepResult, error) {
	if errors.Is(err, context.Canceled) {
		// Cancellation between steps is an abort concern, not a failure:
		// leave the record untouched so the step can be replayed.
		return nil, err
	}
	work := s.Clone()
	work.Counters.ProviderTimeouts += timeouts
	kind := ErrorKindProviderError
	reason := fmt.Sprintf("%s failed: %v", node.ID, err)
	switch {
	case errors.Is(err, agent.ErrProviderTimeout):
		kind = ErrorKindBudgetExceeded
		reason = fmt.Sprintf("%s exhausted %d attempts: %v", node.ID, e.retryPolicy.MaxAttempts, err)
	case errors.Is(err, agent.ErrMalformedResult):
		kind = ErrorKindMalformedResult
	}
	work.setTerminal(TerminalFailed, kind, reason)
	log.Errorf("execution %s: %s", s.ID, reason)
	return &StepResult{
		State:    work,
		Stage:    node.ID,
		Terminal: work.Terminal,
		Summary:  Describe(work.CurrentStage, work.Status, work.Terminal),
	}, nil
}

// traverse applies a routing destination to the working state, bumping and
// bounding loop counters on the way.
func (e *Executor) traverse(work *ExecutionState, dest Destination) {
	if dest.Counter != CounterNone {
		count, max := e.bumpCounter(work, dest.Counter)
		if count > max {
			work.setTerminal(TerminalFailed, ErrorKindBudgetExceeded,
				fmt.Sprintf("%s budget exceeded (%d > %d)", dest.Counter, count, max))
			return
		}
	}
	if dest.Terminal != "" {
		reason := ""
		if dest.Terminal == TerminalFailed && len(work.Reasons) == 0 {
			reason = fmt.Sprintf("terminal route from %s", work.CurrentStage)
		}
		work.setTerminal(dest.Terminal, dest.Kind, reason)
		return
	}
	work.CurrentStage = dest.Next
	if dest.Suspend {
		work.Status = StatusSuspended
	}
}

func (e *Executor) bumpCounter(work *ExecutionState, kind CounterKind) (count, max int) {
	switch kind {
	case CounterClassify:
		work.Counters.ClassifyRetries++
		return work.Counters.ClassifyRetries, e.gates.MaxClassifyRetries
	case CounterFeedback:
		work.Counters.PlanFeedback++
		return work.Counters.PlanFeedback, e.gates.MaxPlanFeedback
	case CounterBuild:
		work.Counters.BuildRetries++
		return work.Counters.BuildRetries, e.gates.MaxBuildRetries
	}
	return 0, 0
}

// recordGate stores the gate verdict as the stage's review record and keeps
// the reason chain. Reviewing stages already wrote their own richer record.
func recordGate(work *ExecutionState, stage Stage, gate *GateResult) {
	if stage != StageReviewPlan && stage != StageReviewSolution {
		if work.Reviews == nil {
			work.Reviews = make(map[Stage]Review)
		}
		work.Reviews[stage] = Review{Pass: gate.Verdict == VerdictPass, Reason: gate.Reason}
	}
	if gate.Verdict != VerdictPass && gate.Reason != "" {
		work.Reasons = append(work.Reasons, gate.Reason)
	}
	if gate.Verdict == VerdictReject && gate.Kind != "" {
		work.LastError = gate.Kind
	}
}

// validateCommit enforces the state invariants between the input state and
// the state about to be returned.
func validateCommit(old, work *ExecutionState, table *RoutingTable) error {
	if work.Demand != old.Demand {
		return fmt.Errorf("invalid commit: demand mutated")
	}
	if old.Terminal != "" && work.Terminal != old.Terminal {
		return fmt.Errorf("invalid commit: terminal outcome mutated")
	}
	if work.Terminal == "" && !table.HasStage(work.CurrentStage) {
		return fmt.Errorf("%w: %s", ErrUnknownStage, work.CurrentStage)
	}
	for i := range old.Plan {
		if old.Plan[i].Status == ApprovalPending {
			continue
		}
		if i >= len(work.Plan) || work.Plan[i].Status != old.Plan[i].Status {
			return fmt.Errorf("invalid commit: settled plan revision %d mutated", old.Plan[i].Revision)
		}
	}
	oldCounts := [...]int{old.Counters.ClassifyRetries, old.Counters.PlanFeedback, old.Counters.BuildRetries}
	newCounts := [...]int{work.Counters.ClassifyRetries, work.Counters.PlanFeedback, work.Counters.BuildRetries}
	for i := range oldCounts {
		if newCounts[i] < oldCounts[i] || newCounts[i] > oldCounts[i]+1 {
			return fmt.Errorf("invalid commit: loop counter moved from %d to %d", oldCounts[i], newCounts[i])
		}
	}
	return nil
}
