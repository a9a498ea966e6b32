// Package llm provides an OpenRouter-compatible chat completion client.
//
// It is the HTTP transport behind the "openrouter" text-generation provider:
// capability verification asks for JSON judgements and compilation asks for
// DSL documents.
//
// Transient failures (HTTP 408, 429, 5xx, network timeouts, empty content)
// are retried on an exponential schedule from cenkalti/backoff, honouring
// Retry-After when the server sends one. Refusals and other 4xx responses
// fail on the first attempt, as does context cancellation.
package llm
