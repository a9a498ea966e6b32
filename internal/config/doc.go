// Package config loads, normalizes, and validates specforge configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads an optional .env file, and honours
// environment fallbacks such as ANTHROPIC_API_KEY and OPENROUTER_API_KEY. The
// Config type centralizes every knob the daemon and CLI need: storage,
// text-generation backends, the grammar registry, compiler limits, and worker
// timing.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
