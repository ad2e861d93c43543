// Package diagram renders a run's position in the response step graph as a
// Mermaid flowchart, for review surfaces that want more than a status string.
package diagram

import (
	"github.com/chainsight/responder/internal/state"
	"github.com/chainsight/responder/pkg/schema"
)

// nodeStatus is the visual class a step node carries in the rendered graph.
type nodeStatus string

const (
	statusCompleted nodeStatus = "completed"
	statusCurrent   nodeStatus = "current"
	statusSuspended nodeStatus = "suspended"
	statusSkipped   nodeStatus = "skipped"
	statusFailed    nodeStatus = "failed"
	statusPending   nodeStatus = "pending"
)

type node struct {
	step   schema.StepName
	label  string
	status nodeStatus
}

type edge struct {
	from  schema.StepName
	to    schema.StepName
	label string
}

// mainPath is the ordering used to decide which steps a run has passed.
var mainPath = []schema.StepName{
	schema.StepClassify,
	schema.StepAssessImpact,
	schema.StepFindAlternatives,
	schema.StepCalculateExposure,
	schema.StepGeneratePlan,
	schema.StepReview,
	schema.StepExecuteActions,
}

var stepLabels = map[schema.StepName]string{
	schema.StepClassify:          "Classify",
	schema.StepAssessImpact:      "Assess impact",
	schema.StepFindAlternatives:  "Find alternatives",
	schema.StepCalculateExposure: "Calculate exposure",
	schema.StepGeneratePlan:      "Generate plan",
	schema.StepReview:            "Human review",
	schema.StepExecuteActions:    "Execute actions",
	schema.TerminalDone:          "Done",
	schema.TerminalRejected:      "Rejected",
	schema.TerminalEscalated:     "Escalated",
	schema.TerminalFailed:        "Failed",
}

var graphEdges = []edge{
	{from: schema.StepClassify, to: schema.StepAssessImpact},
	{from: schema.StepAssessImpact, to: schema.StepFindAlternatives},
	{from: schema.StepFindAlternatives, to: schema.StepCalculateExposure, label: "candidates"},
	{from: schema.StepFindAlternatives, to: schema.StepGeneratePlan, label: "none"},
	{from: schema.StepCalculateExposure, to: schema.StepGeneratePlan},
	{from: schema.StepGeneratePlan, to: schema.StepReview},
	{from: schema.StepReview, to: schema.StepExecuteActions, label: "approve"},
	{from: schema.StepReview, to: schema.StepGeneratePlan, label: "modify"},
	{from: schema.StepReview, to: schema.TerminalRejected, label: "reject"},
	{from: schema.StepReview, to: schema.TerminalEscalated, label: "limit"},
	{from: schema.StepExecuteActions, to: schema.TerminalDone},
}

// buildNodes derives one annotated node per step from the run snapshot.
func buildNodes(s *state.WorkflowState) []node {
	passed := make(map[schema.StepName]bool)
	for _, step := range mainPath {
		if step == s.CurrentStep {
			break
		}
		passed[step] = true
	}

	failedSteps := make(map[schema.StepName]bool)
	for _, entry := range s.ErrorLog {
		failedSteps[entry.Step] = true
	}

	nodes := make([]node, 0, len(mainPath)+4)
	for _, step := range mainPath {
		n := node{step: step, label: stepLabels[step], status: statusPending}
		switch {
		case step == s.CurrentStep && s.Suspended:
			n.status = statusSuspended
		case step == s.CurrentStep:
			n.status = statusCurrent
		case failedSteps[step]:
			n.status = statusFailed
		case step == schema.StepCalculateExposure && s.NoAlternatives:
			n.status = statusSkipped
		case passed[step] || s.Terminal():
			if passed[step] || stepRan(s, step) {
				n.status = statusCompleted
			}
		}
		nodes = append(nodes, n)
	}

	for _, terminal := range []schema.StepName{
		schema.TerminalDone, schema.TerminalRejected, schema.TerminalEscalated, schema.TerminalFailed,
	} {
		n := node{step: terminal, label: stepLabels[terminal], status: statusPending}
		if s.CurrentStep == terminal {
			n.status = statusCurrent
			if terminal == schema.TerminalFailed {
				n.status = statusFailed
			}
		}
		nodes = append(nodes, n)
	}
	return nodes
}

// stepRan reports whether a terminal run went through the step. The findings
// and receipts a step leaves behind are the evidence.
func stepRan(s *state.WorkflowState, step schema.StepName) bool {
	switch step {
	case schema.StepClassify:
		return s.Severity != ""
	case schema.StepGeneratePlan:
		return s.Plan != nil
	case schema.StepCalculateExposure:
		return s.Impact != nil
	case schema.StepExecuteActions:
		return len(s.Receipts) > 0
	case schema.StepReview:
		return s.Plan != nil
	default:
		for _, f := range s.Findings {
			if f.Step == step {
				return true
			}
		}
		return false
	}
}
