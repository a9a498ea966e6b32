package mcpserver

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"specforge/internal/api"
	"specforge/internal/gate"
	"specforge/internal/store"
	"specforge/internal/workflow"
)

func statusTool() mcp.Tool {
	return mcp.NewTool("status",
		mcp.WithDescription("Report store health, the active DSL version, candidate and gap counts, and workflow state."),
	)
}

func (t *toolset) status(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return respond(t.svc.Status(ctx))
}

func candidateAddTool() mcp.Tool {
	return mcp.NewTool("candidate_add",
		mcp.WithDescription("Add an idea candidate. Near-duplicates of existing candidates are flagged, not rejected."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Short title")),
		mcp.WithString("summary", mcp.Required(), mcp.Description("What the animation shows")),
		mcp.WithString("expected_outcome", mcp.Description("What a finished render should look like")),
		mcp.WithString("source", mcp.Description("Where the idea came from")),
	)
}

func (t *toolset) candidateAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	in := api.CandidateInput{
		Title:           req.GetString("title", ""),
		Summary:         req.GetString("summary", ""),
		ExpectedOutcome: req.GetString("expected_outcome", ""),
		Source:          req.GetString("source", Actor),
	}
	return respond(t.svc.AddCandidate(withActor(ctx), in))
}

func candidateListTool() mcp.Tool {
	return mcp.NewTool("candidate_list",
		mcp.WithDescription("List candidates, optionally filtered by capability or decision status."),
		mcp.WithString("capability", mcp.Description("Comma-separated: unverified, feasible, blocked_by_gaps")),
		mcp.WithString("decision", mcp.Description("Comma-separated: new, picked, later, rejected")),
		mcp.WithNumber("limit", mcp.Description("Maximum rows (default 50)")),
	)
}

func (t *toolset) candidateList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.CandidateFilter{Limit: intArg(req, "limit", 50)}
	for _, v := range stringList(req, "capability") {
		filter.Capability = append(filter.Capability, store.CapabilityStatus(v))
	}
	for _, v := range stringList(req, "decision") {
		filter.Decision = append(filter.Decision, store.DecisionStatus(v))
	}
	return respond(t.svc.ListCandidates(ctx, filter))
}

func candidateShowTool() mcp.Tool {
	return mcp.NewTool("candidate_show",
		mcp.WithDescription("Show a candidate with its linked gaps and idea."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Candidate id")),
	)
}

func (t *toolset) candidateShow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, bad := requireID(req, "id")
	if bad != nil {
		return bad, nil
	}
	return respond(t.svc.GetCandidate(ctx, id))
}

func candidateVerifyTool() mcp.Tool {
	return mcp.NewTool("candidate_verify",
		mcp.WithDescription("Check one candidate against the active DSL and record gaps for unsupported features."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Candidate id")),
	)
}

func (t *toolset) candidateVerify(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, bad := requireID(req, "id")
	if bad != nil {
		return bad, nil
	}
	return respond(t.svc.Verify(withActor(ctx), id))
}

func verifyBatchTool() mcp.Tool {
	return mcp.NewTool("verify_batch",
		mcp.WithDescription("Verify up to limit unverified candidates."),
		mcp.WithNumber("limit", mcp.Description("Batch size (default from configuration)")),
	)
}

func (t *toolset) verifyBatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return respond(t.svc.VerifyBatch(withActor(ctx), intArg(req, "limit", 0)))
}

func gapListTool() mcp.Tool {
	return mcp.NewTool("gap_list",
		mcp.WithDescription("List capability gaps ordered by how many candidates they block."),
		mcp.WithString("status", mcp.Description("Comma-separated: new, accepted, in_progress, implemented, rejected")),
		mcp.WithString("impact", mcp.Description("low, medium, or high")),
		mcp.WithNumber("limit", mcp.Description("Maximum rows")),
	)
}

func (t *toolset) gapList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.GapFilter{Impact: req.GetString("impact", ""), Limit: intArg(req, "limit", 0)}
	for _, v := range stringList(req, "status") {
		filter.Status = append(filter.Status, store.GapStatus(v))
	}
	return respond(t.svc.ListGaps(ctx, filter))
}

func gapStatsTool() mcp.Tool {
	return mcp.NewTool("gap_stats",
		mcp.WithDescription("Summarize gaps by status and impact."),
	)
}

func (t *toolset) gapStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return respond(t.svc.GapStats(ctx))
}

func roundSampleTool() mcp.Tool {
	return mcp.NewTool("round_sample",
		mcp.WithDescription("Open a selection round with up to n feasible, undecided candidates."),
		mcp.WithNumber("n", mcp.Description("Round size (default from configuration)")),
	)
}

func (t *toolset) roundSample(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return respond(t.svc.SampleCandidates(withActor(ctx), intArg(req, "n", 0)))
}

func roundDecideTool() mcp.Tool {
	return mcp.NewTool("round_decide",
		mcp.WithDescription("Record choices for a round. Exactly one candidate must be picked."),
		mcp.WithNumber("round_id", mcp.Required(), mcp.Description("Round id")),
		mcp.WithString("decisions",
			mcp.Required(),
			mcp.Description("Comma-separated <candidate_id>=<picked|later|rejected> entries"),
		),
	)
}

func (t *toolset) roundDecide(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	roundID, bad := requireID(req, "round_id")
	if bad != nil {
		return bad, nil
	}
	batch, err := ParseDecisions(stringList(req, "decisions"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return respond(t.svc.Decide(withActor(ctx), roundID, batch))
}

// ParseDecisions reads "<candidate_id>=<choice>" entries.
func ParseDecisions(entries []string) ([]gate.Decision, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("at least one decision is required")
	}
	out := make([]gate.Decision, 0, len(entries))
	for _, entry := range entries {
		idText, choice, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("decision %q must look like <candidate_id>=<choice>", entry)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(idText), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("decision %q has an invalid candidate id", entry)
		}
		out = append(out, gate.Decision{CandidateID: id, Choice: gate.Choice(strings.TrimSpace(choice))})
	}
	return out, nil
}

func ideaCompileTool() mcp.Tool {
	return mcp.NewTool("idea_compile",
		mcp.WithDescription("Generate, validate, and repair a DSL document for an idea."),
		mcp.WithNumber("idea_id", mcp.Required(), mcp.Description("Idea id")),
		mcp.WithNumber("seed", mcp.Description("Replay seed recorded with the compilation")),
		mcp.WithNumber("max_attempts", mcp.Description("Generation attempts")),
		mcp.WithNumber("max_repairs", mcp.Description("Repair rounds per attempt")),
		mcp.WithBoolean("allow_fallback", mcp.Description("Emit a degraded document when every attempt fails")),
	)
}

func (t *toolset) ideaCompile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ideaID, bad := requireID(req, "idea_id")
	if bad != nil {
		return bad, nil
	}
	res, err := t.svc.Compile(withActor(ctx), ideaID, api.CompileRequest{
		MaxAttempts:   intArg(req, "max_attempts", 0),
		MaxRepairs:    optionalInt(req, "max_repairs"),
		AllowFallback: optionalBool(req, "allow_fallback"),
		Seed:          int64Arg(req, "seed"),
	})
	return respond(res, err)
}

func ideaHandoffTool() mcp.Tool {
	return mcp.NewTool("idea_handoff",
		mcp.WithDescription("Write the latest valid compilation to the artifact directory and optionally render it."),
		mcp.WithNumber("idea_id", mcp.Required(), mcp.Description("Idea id")),
		mcp.WithBoolean("render", mcp.Description("Invoke the renderer (default true)")),
	)
}

func (t *toolset) ideaHandoff(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ideaID, bad := requireID(req, "idea_id")
	if bad != nil {
		return bad, nil
	}
	renderEnabled := true
	if v := optionalBool(req, "render"); v != nil {
		renderEnabled = *v
	}
	return respond(t.svc.Handoff(withActor(ctx), ideaID, renderEnabled))
}

func runEnqueueTool() mcp.Tool {
	return mcp.NewTool("run_enqueue",
		mcp.WithDescription("Enqueue a pipeline run. Repeating a window key returns the existing run."),
		mcp.WithString("window_key", mcp.Description("Idempotency key (default: current hour)")),
	)
}

func (t *toolset) runEnqueue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	run, created, err := t.svc.Enqueue(withActor(ctx), workflow.EnqueueRequest{WindowKey: req.GetString("window_key", "")})
	return respond(map[string]any{"run": run, "created": created}, err)
}

func runStageTool() mcp.Tool {
	return mcp.NewTool("run_stage",
		mcp.WithDescription("Execute one stage of a run now. Earlier stages must have succeeded."),
		mcp.WithNumber("run_id", mcp.Required(), mcp.Description("Run id")),
		mcp.WithString("stage", mcp.Required(), mcp.Description("verify, select, compile, or handoff")),
	)
}

func (t *toolset) runStage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, bad := requireID(req, "run_id")
	if bad != nil {
		return bad, nil
	}
	return respond(t.svc.RunStage(withActor(ctx), runID, store.StageName(req.GetString("stage", ""))))
}

func runCancelTool() mcp.Tool {
	return mcp.NewTool("run_cancel",
		mcp.WithDescription("Cancel a run and interrupt its in-flight stage."),
		mcp.WithNumber("run_id", mcp.Required(), mcp.Description("Run id")),
	)
}

func (t *toolset) runCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, bad := requireID(req, "run_id")
	if bad != nil {
		return bad, nil
	}
	return respond(t.svc.CancelRun(withActor(ctx), runID))
}

func runShowTool() mcp.Tool {
	return mcp.NewTool("run_show",
		mcp.WithDescription("Show a run with its stages, round, idea, and compilation."),
		mcp.WithNumber("run_id", mcp.Required(), mcp.Description("Run id")),
	)
}

func (t *toolset) runShow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, bad := requireID(req, "run_id")
	if bad != nil {
		return bad, nil
	}
	return respond(t.svc.ShowRun(ctx, runID))
}

func specListTool() mcp.Tool {
	return mcp.NewTool("spec_list",
		mcp.WithDescription("List loaded DSL grammar versions."),
	)
}

func (t *toolset) specList(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(t.svc.ListSpecs())
}

func specActivateTool() mcp.Tool {
	return mcp.NewTool("spec_activate",
		mcp.WithDescription("Switch the active DSL grammar version."),
		mcp.WithString("version", mcp.Required(), mcp.Description("Grammar version, e.g. 1.1")),
	)
}

func (t *toolset) specActivate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	version := strings.TrimSpace(req.GetString("version", ""))
	if version == "" {
		return mcp.NewToolResultError("'version' is required"), nil
	}
	return respond(t.svc.ActivateSpec(withActor(ctx), version))
}

func auditTool() mcp.Tool {
	return mcp.NewTool("audit",
		mcp.WithDescription("Read audit events in insertion order."),
		mcp.WithString("entity_type", mcp.Description("candidate, gap, idea, decision_round, pipeline_run, stage_run, or spec")),
		mcp.WithNumber("entity_id", mcp.Description("Entity id")),
		mcp.WithString("action", mcp.Description("Action name")),
		mcp.WithNumber("after_id", mcp.Description("Only events after this id")),
		mcp.WithNumber("limit", mcp.Description("Maximum rows (default 100)")),
	)
}

func (t *toolset) audit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return respond(t.svc.Audit(ctx, store.AuditFilter{
		EntityType: req.GetString("entity_type", ""),
		EntityID:   int64Arg(req, "entity_id"),
		Action:     req.GetString("action", ""),
		AfterID:    int64Arg(req, "after_id"),
		Limit:      intArg(req, "limit", 100),
	}))
}
