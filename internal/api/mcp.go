package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/ocky/internal/catalog"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Bot     Bot
	Version string
}

// NewMCPServer creates an MCP server exposing catalog maintenance and
// training as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"ocky",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("ocky: a chat bot that picks canned responses and learns from emoji reactions."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("add_response",
			mcp.WithDescription("Add a canned response to an existing category."),
			mcp.WithString("category", mcp.Description("Category name"), mcp.Required()),
			mcp.WithString("text", mcp.Description("Response text"), mcp.Required()),
			mcp.WithString("example_input", mcp.Description("Example message this response fits; defaults to the response text")),
		),
		mcpAddResponse(deps),
	)

	s.AddTool(
		mcp.NewTool("list_categories",
			mcp.WithDescription("List response categories with their response counts and example inputs."),
		),
		mcpListCategories(deps),
	)

	s.AddTool(
		mcp.NewTool("train",
			mcp.WithDescription("Run a training pass now and return its report."),
		),
		mcpTrain(deps),
	)

	s.AddTool(
		mcp.NewTool("stats",
			mcp.WithDescription("Show example counts and model state."),
		),
		mcpStats(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"ocky://categories",
			"Response Categories",
			mcp.WithResourceDescription("Response categories as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCategories(deps),
	)

	return s
}

func mcpAddResponse(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		category, err := req.RequireString("category")
		if err != nil {
			return mcpError("category is required"), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		example := req.GetString("example_input", "")

		entry, err := deps.Bot.AddResponse(ctx, category, text, example)
		switch {
		case errors.Is(err, catalog.ErrUnknownCategory):
			return mcpError(fmt.Sprintf("category %q does not exist", category)), nil
		case errors.Is(err, catalog.ErrDuplicateResponse):
			return mcpError(fmt.Sprintf("response already exists in %s", category)), nil
		case err != nil:
			return mcpError(fmt.Sprintf("failed to add response: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Added %s", entry.ID)), nil
	}
}

func mcpListCategories(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		cats := deps.Bot.Categories()
		if len(cats) == 0 {
			return mcpText("No categories."), nil
		}

		var b strings.Builder
		for _, c := range cats {
			fmt.Fprintf(&b, "%s: %d responses (example: %s)\n", c.Name, c.Count, c.ExamplePreview())
		}
		return mcpText(strings.TrimRight(b.String(), "\n")), nil
	}
}

func mcpTrain(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		report, err := deps.Bot.Train(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("training failed: %v", err)), nil
		}
		return mcpJSON(report)
	}
}

func mcpStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s, err := deps.Bot.Stats(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read stats: %v", err)), nil
		}
		return mcpJSON(s)
	}
}

func mcpResourceCategories(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		cats := deps.Bot.Categories()
		if cats == nil {
			cats = []catalog.CategoryInfo{}
		}
		b, err := json.Marshal(cats)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal categories: %w", err)
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
