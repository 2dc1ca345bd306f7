package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/ocky/internal/catalog"
	"github.com/kalambet/ocky/internal/training"
)

// --- helpers ---

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestNewMCPServer(t *testing.T) {
	if s := NewMCPServer(MCPDeps{Bot: &fakeBot{}}); s == nil {
		t.Fatal("expected server")
	}
}

func TestMCPTool_AddResponse(t *testing.T) {
	bot := &fakeBot{}
	handler := mcpAddResponse(MCPDeps{Bot: bot})

	req := makeCallToolRequest("add_response", map[string]interface{}{
		"category":      "greet",
		"text":          "howdy",
		"example_input": "hello",
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	want := "Added " + catalog.NewResponseID("greet", "howdy").String()
	if got := toolText(t, result); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if len(bot.added) != 1 || bot.added[0].ExampleInput != "hello" {
		t.Fatalf("unexpected adds: %+v", bot.added)
	}
}

func TestMCPTool_AddResponse_Errors(t *testing.T) {
	tests := []struct {
		name string
		args map[string]interface{}
		err  error
		want string
	}{
		{"missing category", map[string]interface{}{"text": "x"}, nil, "category is required"},
		{"missing text", map[string]interface{}{"category": "greet"}, nil, "text is required"},
		{"unknown", map[string]interface{}{"category": "nope", "text": "x"}, catalog.ErrUnknownCategory, "does not exist"},
		{"duplicate", map[string]interface{}{"category": "greet", "text": "x"}, catalog.ErrDuplicateResponse, "already exists"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := mcpAddResponse(MCPDeps{Bot: &fakeBot{addErr: tt.err}})
			result, err := handler(context.Background(), makeCallToolRequest("add_response", tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsError {
				t.Fatal("expected tool error")
			}
			if !strings.Contains(toolText(t, result), tt.want) {
				t.Fatalf("expected %q in %q", tt.want, toolText(t, result))
			}
		})
	}
}

func TestMCPTool_ListCategories(t *testing.T) {
	bot := &fakeBot{categories: []catalog.CategoryInfo{
		{Name: "bye", Count: 1},
		{Name: "greet", Count: 2, ExampleInput: "hello"},
	}}
	result, err := mcpListCategories(MCPDeps{Bot: bot})(context.Background(), makeCallToolRequest("list_categories", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "bye: 1 responses (example: No example)\ngreet: 2 responses (example: hello)"
	if got := toolText(t, result); got != want {
		t.Fatalf("expected:\n%s\ngot:\n%s", want, got)
	}

	result, _ = mcpListCategories(MCPDeps{Bot: &fakeBot{}})(context.Background(), makeCallToolRequest("list_categories", nil))
	if toolText(t, result) != "No categories." {
		t.Fatalf("unexpected empty listing: %q", toolText(t, result))
	}
}

func TestMCPTool_Train(t *testing.T) {
	bot := &fakeBot{report: training.Report{Nudged: 4, GateRefit: true}}
	result, err := mcpTrain(MCPDeps{Bot: bot})(context.Background(), makeCallToolRequest("train", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var r training.Report
	if err := json.Unmarshal([]byte(toolText(t, result)), &r); err != nil {
		t.Fatalf("parsing report: %v", err)
	}
	if r.Nudged != 4 || !r.GateRefit {
		t.Fatalf("unexpected report: %+v", r)
	}

	bot.trainErr = errors.New("boom")
	result, _ = mcpTrain(MCPDeps{Bot: bot})(context.Background(), makeCallToolRequest("train", nil))
	if !result.IsError {
		t.Fatal("expected tool error")
	}
}

func TestMCPTool_Stats(t *testing.T) {
	result, err := mcpStats(MCPDeps{Bot: &fakeBot{}})(context.Background(), makeCallToolRequest("stats", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(toolText(t, result), `"responses":3`) {
		t.Fatalf("unexpected stats: %s", toolText(t, result))
	}
}

func TestMCPResource_Categories(t *testing.T) {
	bot := &fakeBot{categories: []catalog.CategoryInfo{{Name: "greet", Count: 2}}}
	contents, err := mcpResourceCategories(MCPDeps{Bot: bot})(context.Background(), makeReadResourceRequest("ocky://categories"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.URI != "ocky://categories" || tc.MIMEType != "application/json" {
		t.Fatalf("unexpected resource: %+v", tc)
	}
	var cats []catalog.CategoryInfo
	if err := json.Unmarshal([]byte(tc.Text), &cats); err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if len(cats) != 1 || cats[0].Name != "greet" {
		t.Fatalf("unexpected categories: %+v", cats)
	}
}
