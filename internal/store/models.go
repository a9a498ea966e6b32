package store

import "encoding/json"

// CapabilityStatus records whether a candidate is expressible by the DSL.
type CapabilityStatus string

const (
	CapabilityUnverified CapabilityStatus = "unverified"
	CapabilityFeasible   CapabilityStatus = "feasible"
	CapabilityBlocked    CapabilityStatus = "blocked_by_gaps"
)

// DecisionStatus records the selection gate outcome for a candidate.
type DecisionStatus string

const (
	DecisionNew      DecisionStatus = "new"
	DecisionLater    DecisionStatus = "later"
	DecisionPicked   DecisionStatus = "picked"
	DecisionRejected DecisionStatus = "rejected"
)

// SimilarityStatus records duplicate detection against earlier candidates.
type SimilarityStatus string

const (
	SimilarityUnknown    SimilarityStatus = "unknown"
	SimilarityOK         SimilarityStatus = "ok"
	SimilarityTooSimilar SimilarityStatus = "too_similar"
)

// GapStatus is the lifecycle of a capability gap.
type GapStatus string

const (
	GapNew         GapStatus = "new"
	GapAccepted    GapStatus = "accepted"
	GapInProgress  GapStatus = "in_progress"
	GapImplemented GapStatus = "implemented"
	GapRejected    GapStatus = "rejected"
)

// ActiveGapStatuses block a linked candidate from being feasible.
var ActiveGapStatuses = []GapStatus{GapNew, GapAccepted, GapInProgress, GapRejected}

// CompileStatus tracks an idea's compilation outcome.
type CompileStatus string

const (
	CompileNotStarted CompileStatus = "not_started"
	CompileCompiled   CompileStatus = "compiled"
	CompileFailed     CompileStatus = "failed"
)

// RenderStatus tracks the render handoff for an idea.
type RenderStatus string

const (
	RenderNone     RenderStatus = "none"
	RenderSkipped  RenderStatus = "skipped"
	RenderRendered RenderStatus = "rendered"
	RenderFailed   RenderStatus = "failed"
)

// RoundStatus tracks whether a decision round has been decided.
type RoundStatus string

const (
	RoundOpen    RoundStatus = "open"
	RoundDecided RoundStatus = "decided"
)

// RunStatus is the lifecycle of a pipeline run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether no further stages will run.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// StageStatus is the lifecycle of one stage execution.
type StageStatus string

const (
	StageQueued    StageStatus = "queued"
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
)

// StageName identifies a pipeline stage.
type StageName string

const (
	StageVerify  StageName = "verify"
	StageSelect  StageName = "select"
	StageCompile StageName = "compile"
	StageHandoff StageName = "handoff"
)

// StageOrder lists stages in execution order.
var StageOrder = []StageName{StageVerify, StageSelect, StageCompile, StageHandoff}

// Next returns the stage after s, or ok=false for the last stage.
func (s StageName) Next() (StageName, bool) {
	for i, name := range StageOrder {
		if name == s && i+1 < len(StageOrder) {
			return StageOrder[i+1], true
		}
	}
	return "", false
}

// Index returns the stage position, or -1 for unknown names.
func (s StageName) Index() int {
	for i, name := range StageOrder {
		if name == s {
			return i
		}
	}
	return -1
}

// CompilationStatus is the terminal state of a compilation attempt.
type CompilationStatus string

const (
	CompilationSucceeded CompilationStatus = "succeeded"
	CompilationDegraded  CompilationStatus = "degraded"
	CompilationFailed    CompilationStatus = "failed"
)

// Candidate is a proposed piece of content that may or may not be expressible.
type Candidate struct {
	ID               int64            `db:"id" json:"id"`
	Title            string           `db:"title" json:"title"`
	Summary          string           `db:"summary" json:"summary"`
	ExpectedOutcome  string           `db:"expected_outcome" json:"expected_outcome"`
	Source           string           `db:"source" json:"source,omitempty"`
	SimilarityStatus SimilarityStatus `db:"similarity_status" json:"similarity_status"`
	SimilarityScore  float64          `db:"similarity_score" json:"similarity_score"`
	SimilarToID      int64            `db:"similar_to_id" json:"similar_to_id,omitempty"`
	CapabilityStatus CapabilityStatus `db:"capability_status" json:"capability_status"`
	DecisionStatus   DecisionStatus   `db:"decision_status" json:"decision_status"`
	SpecVersion      string           `db:"spec_version" json:"spec_version,omitempty"`
	VerifyClaim      string           `db:"verify_claim" json:"-"`
	ClaimedAt        Timestamp        `db:"claimed_at" json:"-"`
	VerifiedAt       Timestamp        `db:"verified_at" json:"verified_at"`
	VerifyConfidence float64          `db:"verify_confidence" json:"verify_confidence"`
	VerifyReport     string           `db:"verify_report" json:"-"`
	CreatedAt        Timestamp        `db:"created_at" json:"created_at"`
	UpdatedAt        Timestamp        `db:"updated_at" json:"updated_at"`
}

// Eligible reports whether the selection gate may sample the candidate.
func (c *Candidate) Eligible() bool {
	return c.CapabilityStatus == CapabilityFeasible &&
		(c.DecisionStatus == DecisionNew || c.DecisionStatus == DecisionLater)
}

// Gap is a missing DSL capability that blocks one or more candidates.
type Gap struct {
	ID                   int64     `db:"id" json:"id"`
	GapKey               string    `db:"gap_key" json:"gap_key"`
	Feature              string    `db:"feature" json:"feature"`
	Reason               string    `db:"reason" json:"reason"`
	Impact               string    `db:"impact" json:"impact"`
	SpecVersion          string    `db:"spec_version" json:"spec_version"`
	Status               GapStatus `db:"status" json:"status"`
	ImplementedInVersion string    `db:"implemented_in_version" json:"implemented_in_version,omitempty"`
	LinkedCandidates     int       `db:"linked_candidates" json:"linked_candidates"`
	CreatedAt            Timestamp `db:"created_at" json:"created_at"`
	UpdatedAt            Timestamp `db:"updated_at" json:"updated_at"`
}

// GapLink connects a candidate to a gap that blocks it.
type GapLink struct {
	CandidateID int64     `db:"candidate_id" json:"candidate_id"`
	GapID       int64     `db:"gap_id" json:"gap_id"`
	DetectedAt  Timestamp `db:"detected_at" json:"detected_at"`
}

// ReverifyEntry is a pending re-verification triggered by a gap change.
type ReverifyEntry struct {
	ID          int64     `db:"id"`
	CandidateID int64     `db:"candidate_id"`
	GapID       int64     `db:"gap_id"`
	EnqueuedAt  Timestamp `db:"enqueued_at"`
	ProcessedAt Timestamp `db:"processed_at"`
}

// Idea is a picked candidate promoted for compilation.
type Idea struct {
	ID            int64         `db:"id" json:"id"`
	CandidateID   int64         `db:"candidate_id" json:"candidate_id"`
	RoundID       int64         `db:"round_id" json:"round_id,omitempty"`
	RunID         int64         `db:"run_id" json:"run_id,omitempty"`
	SpecVersion   string        `db:"spec_version" json:"spec_version"`
	CompileStatus CompileStatus `db:"compile_status" json:"compile_status"`
	CompilationID int64         `db:"compilation_id" json:"compilation_id,omitempty"`
	RenderStatus  RenderStatus  `db:"render_status" json:"render_status"`
	CreatedAt     Timestamp     `db:"created_at" json:"created_at"`
	UpdatedAt     Timestamp     `db:"updated_at" json:"updated_at"`
}

// DecisionRound is one sampling of eligible candidates awaiting a decision.
type DecisionRound struct {
	ID                int64       `db:"id" json:"id"`
	RunID             int64       `db:"run_id" json:"run_id,omitempty"`
	SampledRaw        string      `db:"sampled_ids" json:"-"`
	Status            RoundStatus `db:"status" json:"status"`
	PickedCandidateID int64       `db:"picked_candidate_id" json:"picked_candidate_id,omitempty"`
	CreatedAt         Timestamp   `db:"created_at" json:"created_at"`
	DecidedAt         Timestamp   `db:"decided_at" json:"decided_at"`
}

// SampledIDs decodes the candidate identifiers captured when the round opened.
func (r *DecisionRound) SampledIDs() []int64 {
	var ids []int64
	if r.SampledRaw == "" {
		return ids
	}
	_ = json.Unmarshal([]byte(r.SampledRaw), &ids)
	return ids
}

// RunParams are the per-run knobs captured at enqueue time.
type RunParams struct {
	VerifyLimit   int   `json:"verify_limit"`
	PoolSize      int   `json:"pool_size"`
	MaxAttempts   int   `json:"max_attempts"`
	MaxRepairs    int   `json:"max_repairs"`
	AllowFallback bool  `json:"allow_fallback"`
	AutoPick      bool  `json:"auto_pick"`
	Render        bool  `json:"render"`
	Seed          int64 `json:"seed,omitempty"`
}

// PipelineRun is one pass of verify, select, compile, and handoff.
type PipelineRun struct {
	ID           int64     `db:"id" json:"id"`
	WindowKey    string    `db:"window_key" json:"window_key"`
	Status       RunStatus `db:"status" json:"status"`
	ParamsRaw    string    `db:"params" json:"-"`
	SpecVersion  string    `db:"spec_version" json:"spec_version"`
	ErrorCode    string    `db:"error_code" json:"error_code,omitempty"`
	ErrorMessage string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    Timestamp `db:"created_at" json:"created_at"`
	UpdatedAt    Timestamp `db:"updated_at" json:"updated_at"`
	FinishedAt   Timestamp `db:"finished_at" json:"finished_at"`
}

// Params decodes the run parameters.
func (r *PipelineRun) Params() RunParams {
	var p RunParams
	if r.ParamsRaw != "" {
		_ = json.Unmarshal([]byte(r.ParamsRaw), &p)
	}
	return p
}

// StageRun is the record of one stage execution within a run.
type StageRun struct {
	ID           int64       `db:"id" json:"id"`
	RunID        int64       `db:"run_id" json:"run_id"`
	Stage        StageName   `db:"stage" json:"stage"`
	Status       StageStatus `db:"status" json:"status"`
	Attempts     int         `db:"attempts" json:"attempts"`
	WorkRef      string      `db:"work_ref" json:"work_ref,omitempty"`
	Result       string      `db:"result" json:"result,omitempty"`
	ErrorCode    string      `db:"error_code" json:"error_code,omitempty"`
	ErrorMessage string      `db:"error_message" json:"error_message,omitempty"`
	WorkerID     string      `db:"worker_id" json:"worker_id,omitempty"`
	SpecVersion  string      `db:"spec_version" json:"spec_version,omitempty"`
	HeartbeatAt  Timestamp   `db:"heartbeat_at" json:"heartbeat_at"`
	AvailableAt  Timestamp   `db:"available_at" json:"available_at"`
	StartedAt    Timestamp   `db:"started_at" json:"started_at"`
	FinishedAt   Timestamp   `db:"finished_at" json:"finished_at"`
	CreatedAt    Timestamp   `db:"created_at" json:"created_at"`
	UpdatedAt    Timestamp   `db:"updated_at" json:"updated_at"`
}

// Compilation is the persisted outcome of compiling an idea.
type Compilation struct {
	ID           int64             `db:"id" json:"id"`
	IdeaID       int64             `db:"idea_id" json:"idea_id"`
	Status       CompilationStatus `db:"status" json:"status"`
	SpecVersion  string            `db:"spec_version" json:"spec_version"`
	Seed         int64             `db:"seed" json:"seed"`
	ContentHash  string            `db:"content_hash" json:"content_hash,omitempty"`
	Document     string            `db:"document" json:"document,omitempty"`
	ArtifactPath string            `db:"artifact_path" json:"artifact_path,omitempty"`
	Reports      string            `db:"reports" json:"reports,omitempty"`
	BackendCalls int               `db:"backend_calls" json:"backend_calls"`
	Degraded     bool              `db:"degraded" json:"degraded"`
	ErrorCode    string            `db:"error_code" json:"error_code,omitempty"`
	ErrorMessage string            `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    Timestamp         `db:"created_at" json:"created_at"`
}

// AuditEvent is one append-only record of a state transition.
type AuditEvent struct {
	ID         int64     `db:"id" json:"id"`
	EntityType string    `db:"entity_type" json:"entity_type"`
	EntityID   int64     `db:"entity_id" json:"entity_id"`
	Action     string    `db:"action" json:"action"`
	Actor      string    `db:"actor" json:"actor"`
	Payload    string    `db:"payload" json:"payload,omitempty"`
	CreatedAt  Timestamp `db:"created_at" json:"created_at"`
}

// Audit entity types.
const (
	EntityCandidate = "candidate"
	EntityGap       = "gap"
	EntityIdea      = "idea"
	EntityRound     = "decision_round"
	EntityRun       = "pipeline_run"
	EntityStage     = "stage_run"
	EntitySpec      = "spec"
)
