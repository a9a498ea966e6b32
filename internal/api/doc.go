// Package api is the operator surface shared by the CLI, the daemon's HTTP
// API, and the MCP server. Service wires the registry, verifier, gate,
// compiler, render handoff, and workflow manager over one store and exposes
// the operations an operator performs.
//
// # Actors
//
// Mutating calls read the acting principal from the context
// (services.WithActor). Transports set it from the authenticated request or
// the local user; unattended work defaults to "system".
//
// # Errors
//
// Errors are services.Error values. Transports map them with
// services.ErrorDetails and HTTPStatus.
package api
