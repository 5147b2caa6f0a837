package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/dialogo/internal/catalog"
	"github.com/kalambet/dialogo/internal/conversation"
	"github.com/kalambet/dialogo/internal/intent"
	"github.com/kalambet/dialogo/internal/session"
	"github.com/kalambet/dialogo/internal/workflow"
)

// MCPClassifier classifies a message without running a turn.
type MCPClassifier interface {
	ClassifyStage(ctx context.Context, message string, hints intent.Hints) (intent.Result, intent.Stage)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Turns      TurnRunner
	Classifier MCPClassifier
	Sessions   *session.Store
	Catalog    *catalog.Catalog
	Version    string
}

// NewMCPServer creates an MCP server with the dialogue tools and the catalog resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"dialogo",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("dialogo: intent routing and guided dialogue over a fixed intent catalog."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("run_turn",
			mcp.WithDescription("Send one user message through the dialogue engine and return the turn result as JSON."),
			mcp.WithString("sender_id", mcp.Description("Stable conversation identifier"), mcp.Required()),
			mcp.WithString("message", mcp.Description("The user's message"), mcp.Required()),
			mcp.WithString("workflow_context", mcp.Description("Optional workflow context JSON overriding the stored one")),
		),
		mcpRunTurn(deps),
	)

	s.AddTool(
		mcp.NewTool("classify",
			mcp.WithDescription("Classify a message into a catalog intent without running a turn."),
			mcp.WithString("message", mcp.Description("Text to classify"), mcp.Required()),
			mcp.WithBoolean("has_detail_context", mcp.Description("Whether a previous answer left details to show")),
		),
		mcpClassify(deps),
	)

	s.AddTool(
		mcp.NewTool("reset_workflow",
			mcp.WithDescription("End the active workflow of a conversation."),
			mcp.WithString("sender_id", mcp.Description("Conversation identifier"), mcp.Required()),
		),
		mcpResetWorkflow(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"dialogo://catalog",
			"Intent Catalog",
			mcp.WithResourceDescription("Categories and intents the engine can resolve"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCatalog(deps),
	)

	return s
}

func mcpRunTurn(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sender, err := req.RequireString("sender_id")
		if err != nil {
			return mcpError("sender_id is required"), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}
		wc, err := workflow.DecodeContext([]byte(req.GetString("workflow_context", "")))
		if err != nil {
			return mcpError(fmt.Sprintf("invalid workflow_context: %v", err)), nil
		}

		res := deps.Turns.RunTurn(ctx, conversation.TurnRequest{
			SenderID:        sender,
			Message:         message,
			Metadata:        map[string]string{"channel": "mcp"},
			WorkflowContext: wc,
		})
		return mcpJSON(res)
	}
}

func mcpClassify(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}
		hints := intent.Hints{HasDetailContext: req.GetBool("has_detail_context", false)}

		res, stage := deps.Classifier.ClassifyStage(ctx, message, hints)
		return mcpJSON(struct {
			intent.Result
			Stage intent.Stage `json:"stage"`
		}{res, stage})
	}
}

func mcpResetWorkflow(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sender, err := req.RequireString("sender_id")
		if err != nil {
			return mcpError("sender_id is required"), nil
		}
		deps.Sessions.InvalidateWorkflow(sender)
		return mcpText(fmt.Sprintf("Workflow reset for %s", sender)), nil
	}
}

func mcpResourceCatalog(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(catalogView(deps.Catalog))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal catalog: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
