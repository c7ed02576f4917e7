//
// Tencent is pleased to support the open source community by making trpc-forge-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-forge-go is licensed under the Apache License Version 2.0.
//
//

package pipeline

var stageDescriptions = map[Stage]string{
	StageClassify:            "classifying the demand",
	StageExtractRequirements: "extracting requirements",
	StageCreatePlan:          "drafting the delivery plan",
	StageReviewPlan:          "reviewing the plan",
	StageAwaitApproval:       "waiting for plan approval",
	StageProcessFeedback:     "revising the plan from feedback",
	StageBuild:               "building the solution",
	StageReviewSolution:      "reviewing the solution",
	StageValidateFinal:       "validating the final solution",
}

var terminalDescriptions = map[Terminal]string{
	TerminalDelivered:      "delivered",
	TerminalRejectedByUser: "rejected by user",
	TerminalFailed:         "failed",
}

// Describe renders a short human-readable summary of where an execution
// stands, suitable for status endpoints and logs.
func Describe(stage Stage, status Status, terminal Terminal) string {
	if terminal != "" {
		if d, ok := terminalDescriptions[terminal]; ok {
			return d
		}
		return string(terminal)
	}
	if status == StatusSuspended {
		return stageDescriptions[StageAwaitApproval]
	}
	if d, ok := stageDescriptions[stage]; ok {
		return d
	}
	return string(stage)
}
