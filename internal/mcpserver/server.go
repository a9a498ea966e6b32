// Package mcpserver exposes the operator service as MCP tools over stdio so
// assistants can drive intake, verification, selection, and compilation.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"specforge/internal/api"
	"specforge/internal/services"
)

// Actor is recorded on audit events written through MCP tools.
const Actor = "mcp"

// New builds an MCP server with every operator tool registered.
func New(svc *api.Service, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"specforge",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	s.AddTools(Tools(svc)...)
	return s
}

// Serve runs s over the given streams until ctx ends or in closes.
func Serve(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s).Listen(ctx, in, out)
}

const instructions = `specforge turns free-text animation ideas into validated DSL documents.
Typical flow: candidate_add, candidate_verify, round_sample, round_decide,
idea_compile, idea_handoff. Gaps record features the active DSL cannot express.`

// Tools returns the tool set bound to svc.
func Tools(svc *api.Service) []server.ServerTool {
	t := &toolset{svc: svc}
	return []server.ServerTool{
		{Tool: statusTool(), Handler: t.status},
		{Tool: candidateAddTool(), Handler: t.candidateAdd},
		{Tool: candidateListTool(), Handler: t.candidateList},
		{Tool: candidateShowTool(), Handler: t.candidateShow},
		{Tool: candidateVerifyTool(), Handler: t.candidateVerify},
		{Tool: verifyBatchTool(), Handler: t.verifyBatch},
		{Tool: gapListTool(), Handler: t.gapList},
		{Tool: gapStatsTool(), Handler: t.gapStats},
		{Tool: roundSampleTool(), Handler: t.roundSample},
		{Tool: roundDecideTool(), Handler: t.roundDecide},
		{Tool: ideaCompileTool(), Handler: t.ideaCompile},
		{Tool: ideaHandoffTool(), Handler: t.ideaHandoff},
		{Tool: runEnqueueTool(), Handler: t.runEnqueue},
		{Tool: runStageTool(), Handler: t.runStage},
		{Tool: runCancelTool(), Handler: t.runCancel},
		{Tool: runShowTool(), Handler: t.runShow},
		{Tool: specListTool(), Handler: t.specList},
		{Tool: specActivateTool(), Handler: t.specActivate},
		{Tool: auditTool(), Handler: t.audit},
	}
}

type toolset struct {
	svc *api.Service
}

func withActor(ctx context.Context) context.Context {
	return services.WithActor(ctx, Actor)
}

// jsonResult renders payload as indented JSON text.
func jsonResult(payload any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// errorResult reports a service failure as a tool error rather than a
// protocol error so the caller sees the code and hint.
func errorResult(err error) *mcp.CallToolResult {
	d := services.ErrorDetails(err)
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s): %s", d.Kind, d.Code, d.Message)
	if d.Hint != "" {
		fmt.Fprintf(&b, "\nhint: %s", d.Hint)
	}
	return mcp.NewToolResultError(b.String())
}

func respond(payload any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(payload)
}

// intArg extracts an integer argument. JSON numbers arrive as float64.
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	switch v := req.GetArguments()[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return defaultVal
}

func int64Arg(req mcp.CallToolRequest, key string) int64 {
	return int64(intArg(req, key, 0))
}

func optionalInt(req mcp.CallToolRequest, key string) *int {
	if _, ok := req.GetArguments()[key]; !ok {
		return nil
	}
	v := intArg(req, key, 0)
	return &v
}

func optionalBool(req mcp.CallToolRequest, key string) *bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return nil
	}
	return &v
}

func stringList(req mcp.CallToolRequest, key string) []string {
	switch v := req.GetArguments()[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return nil
}

func requireID(req mcp.CallToolRequest, key string) (int64, *mcp.CallToolResult) {
	id := int64Arg(req, key)
	if id <= 0 {
		return 0, mcp.NewToolResultError(fmt.Sprintf("'%s' is required and must be positive", key))
	}
	return id, nil
}
