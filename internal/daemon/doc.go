// Package daemon coordinates the long-running specforge process.
//
// It wires the operator service, the workflow worker pool, the re-verify and
// stale-stage loops, grammar hot reload, and the HTTP operator API into a
// single lifecycle with flock-based locking to prevent multiple instances.
//
// Keep orchestration logic here: pipeline steps live in their own packages
// while the daemon focuses on startup, shutdown, and high level coordination.
package daemon
