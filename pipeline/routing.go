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
	"fmt"
	"sort"
)

// Signal is the token the executor looks up after a node ran: the guardrail
// verdict for gated stages, the node outcome for the rest.
type Signal string

// Signals derived from guardrail verdicts.
const (
	SignalPass   Signal = Signal(VerdictPass)
	SignalRetry  Signal = Signal(VerdictRetry)
	SignalReject Signal = Signal(VerdictReject)
)

// Signals derived from node outcomes of ungated stages.
const (
	SignalExtracted Signal = "extracted"
	SignalDrafted   Signal = "drafted"
	SignalRevised   Signal = "revised"
)

// CounterKind names the loop counter a route traversal must increment.
type CounterKind string

// Loop counters.
const (
	CounterNone     CounterKind = ""
	CounterClassify CounterKind = "classify_retries"
	CounterFeedback CounterKind = "plan_feedback"
	CounterBuild    CounterKind = "build_retries"
)

// Destination is where a route leads: the next stage, or a suspension, or a
// terminal outcome. Counter names the loop counter bumped on traversal.
type Destination struct {
	Next     Stage
	Suspend  bool
	Terminal Terminal
	Kind     ErrorKind
	Counter  CounterKind
}

type routeKey struct {
	stage  Stage
	signal Signal
}

// RoutingTable maps (stage, signal) to a destination. It is the single
// encoding of the pipeline's control flow, inspectable and testable
// independent of node logic.
type RoutingTable struct {
	routes map[routeKey]Destination
}

// NewRoutingTable creates an empty routing table.
func NewRoutingTable() *RoutingTable {
	return &RoutingTable{routes: make(map[routeKey]Destination)}
}

// AddRoute registers a destination for a (stage, signal) pair.
func (t *RoutingTable) AddRoute(stage Stage, signal Signal, dest Destination) *RoutingTable {
	t.routes[routeKey{stage: stage, signal: signal}] = dest
	return t
}

// Lookup resolves the destination for a (stage, signal) pair.
func (t *RoutingTable) Lookup(stage Stage, signal Signal) (Destination, bool) {
	dest, ok := t.routes[routeKey{stage: stage, signal: signal}]
	return dest, ok
}

// HasStage reports whether any route departs from the given stage.
func (t *RoutingTable) HasStage(stage Stage) bool {
	for key := range t.routes {
		if key.stage == stage {
			return true
		}
	}
	// The checkpoint stage has no outgoing node route; it is left through
	// resume commands.
	return stage == StageAwaitApproval
}

// Stages returns every stage with outgoing routes, sorted for stable
// inspection output.
func (t *RoutingTable) Stages() []Stage {
	seen := make(map[Stage]bool)
	for key := range t.routes {
		seen[key.stage] = true
	}
	stages := make([]Stage, 0, len(seen))
	for stage := range seen {
		stages = append(stages, stage)
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i] < stages[j] })
	return stages
}

// validate checks that every destination names a stage the table knows.
func (t *RoutingTable) validate() error {
	for key, dest := range t.routes {
		if dest.Terminal != "" {
			continue
		}
		if dest.Next == "" {
			return fmt.Errorf("route %s/%s has neither next stage nor terminal", key.stage, key.signal)
		}
		if dest.Next != StageAwaitApproval && !t.HasStage(dest.Next) {
			return fmt.Errorf("route %s/%s leads to unknown stage %s", key.stage, key.signal, dest.Next)
		}
	}
	return nil
}

// DefaultRoutingTable encodes the demand-to-artifact pipeline graph,
// including the classify retry loop, the plan feedback loop, the build
// retry loop and the approval checkpoint.
func DefaultRoutingTable() *RoutingTable {
	return NewRoutingTable().
		AddRoute(StageClassify, SignalPass, Destination{Next: StageExtractRequirements}).
		AddRoute(StageClassify, SignalRetry, Destination{Next: StageClassify, Counter: CounterClassify}).
		AddRoute(StageClassify, SignalReject, Destination{Terminal: TerminalFailed, Kind: ErrorKindLowConfidence}).
		AddRoute(StageExtractRequirements, SignalExtracted, Destination{Next: StageCreatePlan}).
		AddRoute(StageCreatePlan, SignalDrafted, Destination{Next: StageReviewPlan}).
		AddRoute(StageReviewPlan, SignalPass, Destination{Next: StageAwaitApproval, Suspend: true}).
		AddRoute(StageReviewPlan, SignalRetry, Destination{Next: StageProcessFeedback, Counter: CounterFeedback}).
		AddRoute(StageReviewPlan, SignalReject, Destination{Terminal: TerminalFailed, Kind: ErrorKindPlanRejectedByReview}).
		AddRoute(StageProcessFeedback, SignalRevised, Destination{Next: StageReviewPlan}).
		AddRoute(StageBuild, SignalPass, Destination{Next: StageReviewSolution}).
		AddRoute(StageBuild, SignalRetry, Destination{Next: StageBuild, Counter: CounterBuild}).
		AddRoute(StageBuild, SignalReject, Destination{Terminal: TerminalFailed, Kind: ErrorKindBuildSyntax}).
		AddRoute(StageReviewSolution, SignalPass, Destination{Next: StageValidateFinal}).
		AddRoute(StageReviewSolution, SignalRetry, Destination{Next: StageBuild, Counter: CounterBuild}).
		AddRoute(StageReviewSolution, SignalReject, Destination{Terminal: TerminalFailed, Kind: ErrorKindBuildSyntax}).
		AddRoute(StageValidateFinal, SignalPass, Destination{Terminal: TerminalDelivered}).
		AddRoute(StageValidateFinal, SignalReject, Destination{Terminal: TerminalFailed, Kind: ErrorKindFinalValidation})
}
