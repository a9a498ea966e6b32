// Package textutil provides text normalization and lexical similarity helpers.
//
// The primary use cases are:
//   - Canonicalizing free text (Unicode compatibility folding, case folding,
//     punctuation and whitespace collapsing) so that equivalent gap
//     descriptions hash to the same key
//   - Creating token-based fingerprints of candidate ideas and scoring their
//     cosine similarity against earlier candidates
package textutil
