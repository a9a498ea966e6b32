// Package workflow runs pipeline runs through their ordered stages: verify,
// select, compile, and handoff.
//
// The Manager owns the StageRun lifecycle. Workers claim queued stages with a
// conditional update, heartbeat while a handler executes, and record the
// terminal outcome together with the run transition and an audit event in a
// single transaction. Handlers never write StageRun rows; data moves between
// stages only through the persisted candidate, gap, round, and idea records.
//
// The same execution path serves the daemon's worker pool and the operator's
// synchronous RunStage call, so a stage behaves identically whichever way it
// is driven.
package workflow
