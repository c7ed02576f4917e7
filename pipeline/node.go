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

	"trpc.group/trpc-go/trpc-forge-go/agent"
)

// Outcome is the stage-specific token a node reports alongside its delta.
type Outcome string

// Node outcomes.
const (
	OutcomeConfident     Outcome = "confident"
	OutcomeLowConfidence Outcome = "low_confidence"
	OutcomeExtracted     Outcome = "extracted"
	OutcomeDrafted       Outcome = "drafted"
	OutcomeRevised       Outcome = "revised"
	OutcomeApproved      Outcome = "approved"
	OutcomeRejected      Outcome = "rejected"
	OutcomeSyntaxOK      Outcome = "syntax_ok"
	OutcomeSyntaxError   Outcome = "syntax_error"
	OutcomeSatisfied     Outcome = "satisfied"
	OutcomeUnsatisfied   Outcome = "unsatisfied"
)

// NodeResult is what a node hands back to the executor: the fields to merge
// into the state and the outcome token for routing.
type NodeResult struct {
	Delta   *Delta
	Outcome Outcome
}

// NodeFunc executes one stage against a read-only view of the state. It must
// not mutate the state it receives; all changes go through the delta.
type NodeFunc func(ctx context.Context, s *ExecutionState) (*NodeResult, error)

// Node is a named unit of work bound to one stage.
type Node struct {
	ID          Stage
	Name        string
	Description string
	Kind        agent.StageKind
	Run         NodeFunc
}

// NodeSet resolves the node for each stage. All agent-backed nodes share one
// Invoker and the per-stage model profiles.
type NodeSet struct {
	nodes map[Stage]*Node
}

// Node returns the node bound to a stage.
func (ns *NodeSet) Node(stage Stage) (*Node, bool) {
	node, ok := ns.nodes[stage]
	return node, ok
}

// nodeConfig carries what node constructors need beyond the invoker.
type nodeConfig struct {
	profiles            map[agent.StageKind]agent.Profile
	confidenceThreshold float64
}

func (c nodeConfig) profile(kind agent.StageKind) agent.Profile {
	if p, ok := c.profiles[kind]; ok {
		return p
	}
	return agent.Profile{Model: defaultModel}
}

// NewNodeSet builds the full node set for the pipeline.
func NewNodeSet(invoker agent.Invoker, cfg nodeConfig) *NodeSet {
	nodes := []*Node{
		newClassifyNode(invoker, cfg),
		newExtractRequirementsNode(invoker, cfg),
		newCreatePlanNode(invoker, cfg),
		newReviewPlanNode(invoker, cfg),
		newProcessFeedbackNode(invoker, cfg),
		newBuildNode(invoker, cfg),
		newReviewSolutionNode(invoker, cfg),
		newValidateFinalNode(invoker, cfg),
	}
	set := &NodeSet{nodes: make(map[Stage]*Node, len(nodes))}
	for _, node := range nodes {
		set.nodes[node.ID] = node
	}
	return set
}
