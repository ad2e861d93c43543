package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/chainsight/responder/internal/diagram"
	"github.com/chainsight/responder/internal/state"
	"github.com/chainsight/responder/pkg/schema"
)

// handleStart intakes a disruption event and drives a fresh run.
func (s *ResponderServer) handleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	category, err := req.RequireString("category")
	if err != nil {
		return mcp.NewToolResultError("category is required"), nil
	}
	payload := mcp.ParseStringMap(req, "payload", map[string]any{})

	event := state.DisruptionEvent{
		Category:   schema.Category(category),
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}

	runID, outcome, runErr := s.engine.Start(ctx, event)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("start failed: %v", runErr)), nil
	}

	return marshalResult(map[string]any{
		"run_id":  runID,
		"outcome": string(outcome),
	})
}

// handleResume delivers a review decision to a suspended run.
func (s *ResponderServer) handleResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	kind, err := req.RequireString("decision")
	if err != nil {
		return mcp.NewToolResultError("decision is required"), nil
	}

	decision := schema.Decision{
		Kind:      schema.DecisionKind(kind),
		Feedback:  req.GetString("feedback", ""),
		DecidedBy: req.GetString("decided_by", ""),
		DecidedAt: time.Now().UTC(),
	}

	outcome, resumeErr := s.engine.Resume(ctx, runID, decision)
	if resumeErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resume failed: %v", resumeErr)), nil
	}

	return marshalResult(map[string]any{
		"run_id":   runID,
		"decision": kind,
		"outcome":  string(outcome),
	})
}

// handleStatus returns the run's state snapshot.
func (s *ResponderServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	snapshot, stateErr := s.engine.GetState(ctx, runID)
	if stateErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", stateErr)), nil
	}

	return marshalResult(snapshot)
}

// handleInspect evaluates a jq query against a run snapshot.
func (s *ResponderServer) handleInspect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query is required"), nil
	}

	out, evalErr := s.engine.Inspect(ctx, runID, query)
	if evalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("inspect failed: %v", evalErr)), nil
	}

	return marshalResult(map[string]any{
		"run_id": runID,
		"query":  query,
		"result": out,
	})
}

// handlePending lists runs awaiting a review decision.
func (s *ResponderServer) handlePending(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runs, listErr := s.engine.ListPending(ctx)
	if listErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("pending query failed: %v", listErr)), nil
	}

	type pendingRun struct {
		RunID     string `json:"run_id"`
		Category  string `json:"category"`
		Severity  string `json:"severity"`
		PlanID    string `json:"plan_id,omitempty"`
		Iteration int    `json:"iteration"`
		Since     string `json:"suspended_since"`
	}

	out := make([]pendingRun, 0, len(runs))
	for _, run := range runs {
		p := pendingRun{
			RunID:     run.ID,
			Category:  string(run.State.Event.Category),
			Severity:  string(run.State.Severity),
			Iteration: run.State.IterationCount,
			Since:     run.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if run.State.Plan != nil {
			p.PlanID = run.State.Plan.ID
		}
		out = append(out, p)
	}

	return marshalResult(map[string]any{
		"count": len(out),
		"runs":  out,
	})
}

// handleGraph renders a run's progress through the step graph as Mermaid.
func (s *ResponderServer) handleGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	snapshot, stateErr := s.engine.GetState(ctx, runID)
	if stateErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("graph query failed: %v", stateErr)), nil
	}

	return mcp.NewToolResultText(diagram.RenderRun(snapshot)), nil
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
