// Package store persists candidates, gaps, ideas, decision rounds, pipeline
// runs, stage runs, compilations, and the audit stream.
//
// SQLite (modernc.org/sqlite) is the default backend and Postgres (lib/pq) is
// supported for shared deployments; queries are written once with '?'
// placeholders and rebound per driver through sqlx. Every conditional state
// change is a single UPDATE guarded by the expected prior state so concurrent
// workers observe at most one winner, and multi-step transitions run inside
// WithTx so their audit event commits atomically with them.
package store
