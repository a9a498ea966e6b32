// Package dsl models scene specification documents: the structured output the
// compiler produces and the render engine consumes.
//
// Documents are YAML (JSON is accepted as a subset). Canonical encodes a
// document with stable key order so ContentHash identifies it for replay.
package dsl
