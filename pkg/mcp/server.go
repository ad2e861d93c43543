package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/chainsight/responder/internal/engine"
)

// ResponderServerDeps holds the dependencies for creating a ResponderServer.
type ResponderServerDeps struct {
	Engine *engine.Engine
	Logger *slog.Logger
}

// ResponderServer wraps an MCP server with disruption-response tool handlers.
type ResponderServer struct {
	engine    *engine.Engine
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewResponderServer creates a ResponderServer with all six tools registered.
func NewResponderServer(deps ResponderServerDeps) *ResponderServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &ResponderServer{
		engine: deps.Engine,
		logger: logger,
	}

	mcpSrv := server.NewMCPServer(
		"responder",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Responder orchestrates supply-chain disruption response runs. Use respond.start to intake a disruption event, respond.pending to list runs awaiting review, respond.resume to deliver an approve/reject/modify decision, respond.status for a run snapshot, respond.inspect to query a run's state with jq, and respond.graph to render a run's progress as a Mermaid flowchart."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *ResponderServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *ResponderServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *ResponderServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: startTool(), Handler: s.handleStart},
		{Tool: resumeTool(), Handler: s.handleResume},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: inspectTool(), Handler: s.handleInspect},
		{Tool: pendingTool(), Handler: s.handlePending},
		{Tool: graphTool(), Handler: s.handleGraph},
	}
}

// --- Tool definitions ---

func startTool() mcp.Tool {
	return mcp.NewTool("respond.start",
		mcp.WithDescription("Start a disruption-response run for an incoming event"),
		mcp.WithString("category", mcp.Required(),
			mcp.Enum("supplier_failure", "logistics_delay", "quality_recall", "price_spike", "geopolitical"),
			mcp.Description("Disruption category"),
		),
		mcp.WithObject("payload", mcp.Description("Event payload (supplier_id, region, description, duration_days)")),
	)
}

func resumeTool() mcp.Tool {
	return mcp.NewTool("respond.resume",
		mcp.WithDescription("Deliver a human review decision to a suspended run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the suspended run")),
		mcp.WithString("decision", mcp.Required(),
			mcp.Enum("approve", "reject", "modify"),
			mcp.Description("Review verdict"),
		),
		mcp.WithString("feedback", mcp.Description("Revision feedback (required for modify, forbidden otherwise)")),
		mcp.WithString("decided_by", mcp.Description("Reviewer identity")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("respond.status",
		mcp.WithDescription("Get a read-only snapshot of a run's state"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to query")),
	)
}

func inspectTool() mcp.Tool {
	return mcp.NewTool("respond.inspect",
		mcp.WithDescription("Evaluate a jq expression against a run's state snapshot"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to query")),
		mcp.WithString("query", mcp.Required(), mcp.Description("jq expression, e.g. '.findings[] | select(.kind == \"candidate_supplier\")'")),
	)
}

func pendingTool() mcp.Tool {
	return mcp.NewTool("respond.pending",
		mcp.WithDescription("List runs suspended at the review checkpoint"),
	)
}

func graphTool() mcp.Tool {
	return mcp.NewTool("respond.graph",
		mcp.WithDescription("Render a run's position in the step graph as a Mermaid flowchart"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to render")),
	)
}
