// Package logs reads the daemon log file for the CLI.
//
// Last returns the final lines of the file with bounded memory; Follow polls
// for appended lines until its context is cancelled.
package logs
