// Package preflight provides readiness checks for the filesystem, the text
// generation backend, and the render engine.
//
// The daemon runs RunAll at startup and logs failures without refusing to
// start; the CLI "specforge doctor" command prints the same results. Checks
// for disabled features are skipped.
package preflight
