package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"specforge/internal/api"
	"specforge/internal/gate"
	"specforge/internal/store"
	"specforge/internal/testsupport"
)

func newTools(t *testing.T) (*api.Service, map[string]server.ServerTool) {
	t.Helper()
	svc, err := api.New(api.Options{Config: testsupport.NewConfig(t), Backend: testsupport.NewFakeBackend()})
	if err != nil {
		t.Fatalf("api.New: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	tools := make(map[string]server.ServerTool)
	for _, tool := range Tools(svc) {
		if _, dup := tools[tool.Tool.Name]; dup {
			t.Fatalf("duplicate tool %q", tool.Tool.Name)
		}
		tools[tool.Tool.Name] = tool
	}
	return svc, tools
}

func makeReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(r *mcp.CallToolResult) string {
	if r == nil {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func call(t *testing.T, tools map[string]server.ServerTool, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	tool, ok := tools[name]
	if !ok {
		t.Fatalf("tool %q not registered", name)
	}
	result, err := tool.Handler(context.Background(), makeReq(args))
	if err != nil {
		t.Fatalf("%s returned Go error: %v", name, err)
	}
	return result
}

func TestToolDefinitions(t *testing.T) {
	_, tools := newTools(t)
	for name, tool := range tools {
		if tool.Tool.Description == "" {
			t.Errorf("tool %s has no description", name)
		}
	}
	add := tools["candidate_add"].Tool
	for _, field := range []string{"title", "summary"} {
		found := false
		for _, r := range add.InputSchema.Required {
			found = found || r == field
		}
		if !found {
			t.Errorf("candidate_add should require %s", field)
		}
	}
}

func TestCandidateAddAuditsAsMCP(t *testing.T) {
	svc, tools := newTools(t)
	result := call(t, tools, "candidate_add", map[string]any{
		"title":   "Spinning square",
		"summary": "A blue square rotates once per second",
	})
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(result))
	}
	var c store.Candidate
	if err := json.Unmarshal([]byte(resultText(result)), &c); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	events, err := svc.Audit(context.Background(), store.AuditFilter{EntityType: store.EntityCandidate, EntityID: c.ID})
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if len(events) != 1 || events[0].Actor != Actor {
		t.Fatalf("unexpected audit %+v", events)
	}

	shown := call(t, tools, "candidate_show", map[string]any{"id": float64(c.ID)})
	if shown.IsError || !strings.Contains(resultText(shown), "Spinning square") {
		t.Fatalf("unexpected show result: %s", resultText(shown))
	}
}

func TestToolErrorsAreResults(t *testing.T) {
	_, tools := newTools(t)

	missing := call(t, tools, "candidate_add", map[string]any{"summary": "no title"})
	if !missing.IsError || !strings.HasPrefix(resultText(missing), "validation") {
		t.Fatalf("expected validation tool error, got %q", resultText(missing))
	}

	notFound := call(t, tools, "candidate_show", map[string]any{"id": float64(404)})
	if !notFound.IsError || !strings.Contains(resultText(notFound), "not_found") {
		t.Fatalf("expected not found tool error, got %q", resultText(notFound))
	}

	noID := call(t, tools, "run_cancel", map[string]any{})
	if !noID.IsError || !strings.Contains(resultText(noID), "run_id") {
		t.Fatalf("expected missing id error, got %q", resultText(noID))
	}

	badDecision := call(t, tools, "round_decide", map[string]any{"round_id": float64(1), "decisions": "seven"})
	if !badDecision.IsError {
		t.Fatal("expected malformed decision error")
	}
}

func TestParseDecisions(t *testing.T) {
	got, err := ParseDecisions([]string{"3=picked", " 4 = later "})
	if err != nil {
		t.Fatalf("ParseDecisions: %v", err)
	}
	want := []gate.Decision{{CandidateID: 3, Choice: gate.ChoicePicked}, {CandidateID: 4, Choice: gate.ChoiceLater}}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	for _, bad := range [][]string{nil, {"picked"}, {"x=picked"}, {"-1=later"}} {
		if _, err := ParseDecisions(bad); err == nil {
			t.Errorf("expected error for %v", bad)
		}
	}
}

func TestSpecToolsSwitchVersion(t *testing.T) {
	svc, tools := newTools(t)
	result := call(t, tools, "spec_activate", map[string]any{"version": "1.0"})
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(result))
	}
	if got := svc.Specs().ActiveVersion(); got != "1.0" {
		t.Fatalf("active version = %s, want 1.0", got)
	}
	unknown := call(t, tools, "spec_activate", map[string]any{"version": "7.3"})
	if !unknown.IsError || !strings.Contains(resultText(unknown), "unknown_spec_version") {
		t.Fatalf("expected unknown version error, got %q", resultText(unknown))
	}
}
