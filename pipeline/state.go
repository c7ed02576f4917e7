//
// Tencent is pleased to support the open source community by making trpc-forge-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-forge-go is licensed under the Apache License Version 2.0.
//
//

// Package pipeline provides the resumable state machine that drives a demand
// through classification, planning, human approval, construction and review.
package pipeline

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-forge-go/agent"
)

// Stage identifies one unit of work in the pipeline.
type Stage string

// Pipeline stages. StageAwaitApproval is the checkpoint: execution suspends
// there until an external approve or feedback command arrives.
const (
	StageClassify            Stage = "classify"
	StageExtractRequirements Stage = "extract_requirements"
	StageCreatePlan          Stage = "create_plan"
	StageReviewPlan          Stage = "review_plan"
	StageAwaitApproval       Stage = "await_approval"
	StageProcessFeedback     Stage = "process_feedback"
	StageBuild               Stage = "build"
	StageReviewSolution      Stage = "review_solution"
	StageValidateFinal       Stage = "validate_final"

	// End represents the virtual end stage for routing.
	End Stage = "__end__"
)

// Status is the checkpoint-controller state of an execution.
type Status string

// Execution statuses.
const (
	StatusRunning   Status = "RUNNING"
	StatusSuspended Status = "SUSPENDED_FOR_APPROVAL"
	StatusTerminal  Status = "TERMINAL"
)

// Terminal is the final outcome of an execution. It is set exactly once;
// after that no node executes for the record.
type Terminal string

// Terminal outcomes.
const (
	TerminalDelivered      Terminal = "DELIVERED"
	TerminalRejectedByUser Terminal = "REJECTED_BY_USER"
	TerminalFailed         Terminal = "FAILED"
)

// ApprovalStatus is the lifecycle of one plan revision.
type ApprovalStatus string

// Plan revision approval statuses. The only legal transitions are
// PENDING -> APPROVED and PENDING -> REJECTED.
const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// PlanRevision is one entry in the ordered plan history. Superseded
// revisions are retained for audit and never re-activated.
type PlanRevision struct {
	Revision int              `json:"revision"`
	Content  *agent.PlanDraft `json:"content"`
	Status   ApprovalStatus   `json:"status"`
	Feedback string           `json:"feedback,omitempty"`
}

// Review is the latest guardrail or reviewer verdict recorded for a stage.
type Review struct {
	Pass   bool   `json:"pass"`
	Reason string `json:"reason,omitempty"`
}

// Counters bounds every loop in the pipeline. Counters live in the state
// record itself so budgets survive persistence and resumption.
type Counters struct {
	ClassifyRetries  int `json:"classify_retries"`
	PlanFeedback     int `json:"plan_feedback"`
	BuildRetries     int `json:"build_retries"`
	ProviderTimeouts int `json:"provider_timeouts"`
}

// ExecutionState is the single record threaded through every stage. It is
// the unit of persistence: a snapshot of it is sufficient to resume.
type ExecutionState struct {
	ID      string `json:"id"`
	Version int    `json:"version"`

	// Demand is the raw request text. Immutable once set.
	Demand string `json:"demand"`

	Classification *agent.Classification `json:"classification,omitempty"`
	Requirements   []agent.Requirement   `json:"requirements,omitempty"`

	// Plan is the ordered revision history, newest last.
	Plan []PlanRevision `json:"plan,omitempty"`
	// Approved is set only by an external approve command, never by a node.
	Approved bool `json:"approved"`
	// Feedback holds the latest external feedback text.
	Feedback string `json:"feedback,omitempty"`

	// Artifacts is populated by the construction stage and replaced
	// wholesale on rebuild.
	Artifacts map[string]string `json:"artifacts,omitempty"`

	Reviews  map[Stage]Review `json:"reviews,omitempty"`
	Counters Counters         `json:"counters"`

	CurrentStage Stage    `json:"current_stage"`
	Status       Status   `json:"status"`
	Terminal     Terminal `json:"terminal,omitempty"`

	// Reasons is the chain of guardrail reasons, oldest first. On a
	// FAILED or REJECTED_BY_USER outcome it explains the whole path.
	Reasons []string `json:"reasons,omitempty"`
	// LastError is the error kind behind the terminal outcome, if any.
	LastError ErrorKind `json:"last_error,omitempty"`

	Usage agent.Usage `json:"usage"`

	CreatedAt time.Time `json:"created_at"`
}

// NewExecutionState creates the state for a fresh demand, positioned at the
// classification stage with all counters zero.
func NewExecutionState(demand string) *ExecutionState {
	return &ExecutionState{
		ID:           uuid.New().String(),
		Version:      StateVersion,
		Demand:       demand,
		CurrentStage: StageClassify,
		Status:       StatusRunning,
		CreatedAt:    time.Now().UTC(),
	}
}

// Clone creates a deep copy of the state.
func (s *ExecutionState) Clone() *ExecutionState {
	clone := *s
	if s.Classification != nil {
		c := *s.Classification
		clone.Classification = &c
	}
	clone.Requirements = slices.Clone(s.Requirements)
	clone.Plan = make([]PlanRevision, len(s.Plan))
	for i, rev := range s.Plan {
		clone.Plan[i] = rev
		if rev.Content != nil {
			content := *rev.Content
			content.Steps = slices.Clone(rev.Content.Steps)
			content.Risks = slices.Clone(rev.Content.Risks)
			clone.Plan[i].Content = &content
		}
	}
	clone.Artifacts = maps.Clone(s.Artifacts)
	clone.Reviews = maps.Clone(s.Reviews)
	clone.Reasons = slices.Clone(s.Reasons)
	return &clone
}

// LatestRevision returns the newest plan revision, or nil if no plan exists.
func (s *ExecutionState) LatestRevision() *PlanRevision {
	if len(s.Plan) == 0 {
		return nil
	}
	return &s.Plan[len(s.Plan)-1]
}

// ApprovedRevision returns the approved plan revision, or nil.
func (s *ExecutionState) ApprovedRevision() *PlanRevision {
	for i := len(s.Plan) - 1; i >= 0; i-- {
		if s.Plan[i].Status == ApprovalApproved {
			return &s.Plan[i]
		}
	}
	return nil
}

// setTerminal records the final outcome. The first write wins; the executor
// additionally rejects any step once Terminal is non-empty.
func (s *ExecutionState) setTerminal(t Terminal, kind ErrorKind, reason string) {
	if s.Terminal != "" {
		return
	}
	s.Terminal = t
	s.Status = StatusTerminal
	if kind != "" {
		s.LastError = kind
	}
	if reason != "" {
		s.Reasons = append(s.Reasons, reason)
	}
}

// Delta is the set of fields a node wants applied to the state. Applying the
// same delta to the same input state twice yields the same result, which is
// what makes node re-invocation safe.
type Delta struct {
	Classification *agent.Classification
	Requirements   []agent.Requirement
	// PlanDraft appends a new PENDING revision with the given number.
	// A non-zero RejectPrior first marks that pending revision REJECTED.
	PlanDraft    *agent.PlanDraft
	PlanRevision int
	RejectPrior  int
	PlanFeedback string
	// Artifacts replaces the artifact set wholesale.
	Artifacts map[string]string
	// ReviewStage/Review record a reviewer verdict for a stage.
	ReviewStage Stage
	Review      *Review
	// MarkSatisfied flips the named requirements to satisfied.
	MarkSatisfied []string
	Usage         agent.Usage
}

// apply merges a node delta into the state.
func (s *ExecutionState) apply(d *Delta) {
	if d == nil {
		return
	}
	if d.Classification != nil {
		c := *d.Classification
		s.Classification = &c
	}
	if d.Requirements != nil {
		s.Requirements = slices.Clone(d.Requirements)
	}
	if d.PlanDraft != nil {
		if d.RejectPrior > 0 {
			for i := range s.Plan {
				if s.Plan[i].Revision == d.RejectPrior && s.Plan[i].Status == ApprovalPending {
					s.Plan[i].Status = ApprovalRejected
				}
			}
		}
		// Guard against double-append when a node is re-invoked with
		// the same input state.
		if latest := s.LatestRevision(); latest == nil || latest.Revision < d.PlanRevision {
			draft := *d.PlanDraft
			s.Plan = append(s.Plan, PlanRevision{
				Revision: d.PlanRevision,
				Content:  &draft,
				Status:   ApprovalPending,
				Feedback: d.PlanFeedback,
			})
		}
	}
	if d.Artifacts != nil {
		s.Artifacts = maps.Clone(d.Artifacts)
	}
	if d.Review != nil && d.ReviewStage != "" {
		if s.Reviews == nil {
			s.Reviews = make(map[Stage]Review)
		}
		s.Reviews[d.ReviewStage] = *d.Review
	}
	if len(d.MarkSatisfied) > 0 {
		satisfied := make(map[string]bool, len(d.MarkSatisfied))
		for _, id := range d.MarkSatisfied {
			satisfied[id] = true
		}
		for i := range s.Requirements {
			if satisfied[s.Requirements[i].ID] {
				s.Requirements[i].Satisfied = true
			}
		}
	}
	s.Usage.PromptTokens += d.Usage.PromptTokens
	s.Usage.CompletionTokens += d.Usage.CompletionTokens
	s.Usage.Cost += d.Usage.Cost
}
