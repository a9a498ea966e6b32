// Package specreg holds the versioned grammars of the scene DSL, tracks the
// active version, and validates documents against a grammar.
//
// Built-in grammars are embedded; additional versions are loaded from the
// configured grammar directory and may be hot-reloaded with Watch. A version,
// once registered, is immutable.
package specreg
