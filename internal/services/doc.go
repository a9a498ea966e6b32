// Package services defines shared utilities consumed by the pipeline stages,
// the operator surface, and the text-generation integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, candidate IDs, acting
//     principals, and correlation identifiers for logging and auditing.
//   - The error taxonomy (precondition, backend, validation, conflict,
//     infrastructure) plus machine-readable cause codes so every terminal
//     failure can be persisted with a code and a human message.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// classification, observability, retries) stays uniform across the pipeline.
package services
