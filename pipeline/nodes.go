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
	"strings"

	"trpc.group/trpc-go/trpc-forge-go/agent"
)

const defaultModel = "gpt-4o-mini"

// newClassifyNode classifies the demand into a category with a confidence
// score. On a gate-driven re-run the sampling temperature is raised so the
// classifier does not just repeat itself.
func newClassifyNode(invoker agent.Invoker, cfg nodeConfig) *Node {
	return &Node{
		ID:          StageClassify,
		Name:        "classify",
		Description: "Classify the demand and score the confidence",
		Kind:        agent.StageClassify,
		Run: func(ctx context.Context, s *ExecutionState) (*NodeResult, error) {
			profile := cfg.profile(agent.StageClassify)
			if s.Counters.ClassifyRetries > 0 {
				bumped := 0.2 * float64(s.Counters.ClassifyRetries)
				if profile.Temperature != nil {
					bumped += *profile.Temperature
				}
				profile.Temperature = &bumped
			}
			result, err := invoker.Invoke(ctx, agent.StageClassify,
				&agent.Payload{Demand: s.Demand}, profile)
			if err != nil {
				return nil, err
			}
			outcome := OutcomeConfident
			if result.Classification.Confidence < cfg.confidenceThreshold {
				outcome = OutcomeLowConfidence
			}
			return &NodeResult{
				Delta:   &Delta{Classification: result.Classification, Usage: result.Usage},
				Outcome: outcome,
			}, nil
		},
	}
}

// newExtractRequirementsNode turns the classified demand into structured
// requirements.
func newExtractRequirementsNode(invoker agent.Invoker, cfg nodeConfig) *Node {
	return &Node{
		ID:          StageExtractRequirements,
		Name:        "extract_requirements",
		Description: "Extract structured requirements from the demand",
		Kind:        agent.StageExtractRequirements,
		Run: func(ctx context.Context, s *ExecutionState) (*NodeResult, error) {
			payload := &agent.Payload{Demand: s.Demand}
			if s.Classification != nil {
				payload.Category = s.Classification.Category
			}
			result, err := invoker.Invoke(ctx, agent.StageExtractRequirements,
				payload, cfg.profile(agent.StageExtractRequirements))
			if err != nil {
				return nil, err
			}
			return &NodeResult{
				Delta:   &Delta{Requirements: result.Requirements, Usage: result.Usage},
				Outcome: OutcomeExtracted,
			}, nil
		},
	}
}

// newCreatePlanNode drafts the first plan revision for the demand.
func newCreatePlanNode(invoker agent.Invoker, cfg nodeConfig) *Node {
	return &Node{
		ID:          StageCreatePlan,
		Name:        "create_plan",
		Description: "Draft an execution plan",
		Kind:        agent.StageCreatePlan,
		Run: func(ctx context.Context, s *ExecutionState) (*NodeResult, error) {
			payload := &agent.Payload{
				Demand:       s.Demand,
				Requirements: s.Requirements,
			}
			if s.Classification != nil {
				payload.Category = s.Classification.Category
			}
			result, err := invoker.Invoke(ctx, agent.StageCreatePlan,
				payload, cfg.profile(agent.StageCreatePlan))
			if err != nil {
				return nil, err
			}
			revision := 1
			if latest := s.LatestRevision(); latest != nil {
				revision = latest.Revision + 1
			}
			return &NodeResult{
				Delta: &Delta{
					PlanDraft:    result.Plan,
					PlanRevision: revision,
					Usage:        result.Usage,
				},
				Outcome: OutcomeDrafted,
			}, nil
		},
	}
}

// newReviewPlanNode has the agent review the latest plan revision against
// the requirements. The verdict feeds the plan gate; the gate itself stays a
// pure predicate over the recorded review.
func newReviewPlanNode(invoker agent.Invoker, cfg nodeConfig) *Node {
	return &Node{
		ID:          StageReviewPlan,
		Name:        "review_plan",
		Description: "Review the drafted plan",
		Kind:        agent.StageReviewPlan,
		Run: func(ctx context.Context, s *ExecutionState) (*NodeResult, error) {
			latest := s.LatestRevision()
			if latest == nil {
				return nil, fmt.Errorf("%w: review_plan without a plan", agent.ErrMalformedResult)
			}
			result, err := invoker.Invoke(ctx, agent.StageReviewPlan,
				&agent.Payload{Requirements: s.Requirements, Plan: latest.Content},
				cfg.profile(agent.StageReviewPlan))
			if err != nil {
				return nil, err
			}
			outcome := OutcomeRejected
			if result.Review.Approved {
				outcome = OutcomeApproved
			}
			return &NodeResult{
				Delta: &Delta{
					ReviewStage: StageReviewPlan,
					Review:      reviewFromVerdict(result.Review),
					Usage:       result.Usage,
				},
				Outcome: outcome,
			}, nil
		},
	}
}

// newProcessFeedbackNode revises the plan. It prefers the user's feedback
// text; when the loop was entered by a review rejection instead, the
// reviewer's issues stand in for it.
func newProcessFeedbackNode(invoker agent.Invoker, cfg nodeConfig) *Node {
	return &Node{
		ID:          StageProcessFeedback,
		Name:        "process_feedback",
		Description: "Revise the plan from feedback",
		Kind:        agent.StageProcessFeedback,
		Run: func(ctx context.Context, s *ExecutionState) (*NodeResult, error) {
			latest := s.LatestRevision()
			if latest == nil {
				return nil, fmt.Errorf("%w: process_feedback without a plan", agent.ErrMalformedResult)
			}
			feedback := s.Feedback
			var issues []string
			if review, ok := s.Reviews[StageReviewPlan]; ok && !review.Pass {
				issues = append(issues, review.Reason)
			}
			if feedback == "" && len(issues) > 0 {
				feedback = strings.Join(issues, "; ")
			}
			result, err := invoker.Invoke(ctx, agent.StageProcessFeedback,
				&agent.Payload{Plan: latest.Content, Feedback: feedback, Issues: issues},
				cfg.profile(agent.StageProcessFeedback))
			if err != nil {
				return nil, err
			}
			delta := &Delta{
				PlanDraft:    result.Plan,
				PlanRevision: latest.Revision + 1,
				PlanFeedback: feedback,
				Usage:        result.Usage,
			}
			if latest.Status == ApprovalPending {
				delta.RejectPrior = latest.Revision
			}
			return &NodeResult{Delta: delta, Outcome: OutcomeRevised}, nil
		},
	}
}

// newBuildNode constructs the artifact set from the approved plan. The
// returned artifacts replace any previous set wholesale, which keeps a
// re-invocation from double-appending.
func newBuildNode(invoker agent.Invoker, cfg nodeConfig) *Node {
	return &Node{
		ID:          StageBuild,
		Name:        "build",
		Description: "Build the solution artifacts",
		Kind:        agent.StageBuild,
		Run: func(ctx context.Context, s *ExecutionState) (*NodeResult, error) {
			revision := s.ApprovedRevision()
			if revision == nil {
				revision = s.LatestRevision()
			}
			if revision == nil {
				return nil, fmt.Errorf("%w: build without a plan", agent.ErrMalformedResult)
			}
			payload := &agent.Payload{
				Requirements: s.Requirements,
				Plan:         revision.Content,
			}
			// A prior gate failure re-enters here with its errors.
			if review, ok := s.Reviews[StageBuild]; ok && !review.Pass {
				payload.BuildErrors = append(payload.BuildErrors, review.Reason)
			}
			if review, ok := s.Reviews[StageReviewSolution]; ok && !review.Pass {
				payload.BuildErrors = append(payload.BuildErrors, review.Reason)
			}
			result, err := invoker.Invoke(ctx, agent.StageBuild,
				payload, cfg.profile(agent.StageBuild))
			if err != nil {
				return nil, err
			}
			outcome := OutcomeSyntaxOK
			if len(ValidateArtifacts(result.Artifacts)) > 0 {
				outcome = OutcomeSyntaxError
			}
			return &NodeResult{
				Delta:   &Delta{Artifacts: result.Artifacts, Usage: result.Usage},
				Outcome: outcome,
			}, nil
		},
	}
}

// newReviewSolutionNode has the agent review the built artifacts.
func newReviewSolutionNode(invoker agent.Invoker, cfg nodeConfig) *Node {
	return &Node{
		ID:          StageReviewSolution,
		Name:        "review_solution",
		Description: "Review the built artifacts",
		Kind:        agent.StageReviewSolution,
		Run: func(ctx context.Context, s *ExecutionState) (*NodeResult, error) {
			revision := s.ApprovedRevision()
			if revision == nil {
				revision = s.LatestRevision()
			}
			payload := &agent.Payload{Artifacts: s.Artifacts}
			if revision != nil {
				payload.Plan = revision.Content
			}
			result, err := invoker.Invoke(ctx, agent.StageReviewSolution,
				payload, cfg.profile(agent.StageReviewSolution))
			if err != nil {
				return nil, err
			}
			outcome := OutcomeRejected
			if result.Review.Approved {
				outcome = OutcomeApproved
			}
			return &NodeResult{
				Delta: &Delta{
					ReviewStage: StageReviewSolution,
					Review:      reviewFromVerdict(result.Review),
					Usage:       result.Usage,
				},
				Outcome: outcome,
			}, nil
		},
	}
}

// newValidateFinalNode checks every requirement against the artifacts and
// marks the satisfied ones.
func newValidateFinalNode(invoker agent.Invoker, cfg nodeConfig) *Node {
	return &Node{
		ID:          StageValidateFinal,
		Name:        "validate_final",
		Description: "Validate artifacts against the requirements",
		Kind:        agent.StageValidateFinal,
		Run: func(ctx context.Context, s *ExecutionState) (*NodeResult, error) {
			result, err := invoker.Invoke(ctx, agent.StageValidateFinal,
				&agent.Payload{Requirements: s.Requirements, Artifacts: s.Artifacts},
				cfg.profile(agent.StageValidateFinal))
			if err != nil {
				return nil, err
			}
			outcome := OutcomeSatisfied
			if len(result.Validation.Satisfied) < len(s.Requirements) {
				outcome = OutcomeUnsatisfied
			}
			return &NodeResult{
				Delta: &Delta{
					MarkSatisfied: result.Validation.Satisfied,
					Usage:         result.Usage,
				},
				Outcome: outcome,
			}, nil
		},
	}
}

func reviewFromVerdict(verdict *agent.ReviewVerdict) *Review {
	review := &Review{Pass: verdict.Approved}
	if len(verdict.Issues) > 0 {
		review.Reason = strings.Join(verdict.Issues, "; ")
	}
	return review
}
