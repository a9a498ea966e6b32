package testsupport

import (
	"testing"

	"specforge/internal/specreg"
)

// MustSpecRegistry returns a registry with the built-in grammars and
// activates version when non-empty.
func MustSpecRegistry(t testing.TB, version string) *specreg.Registry {
	t.Helper()

	reg, err := specreg.New(nil)
	if err != nil {
		t.Fatalf("specreg.New: %v", err)
	}
	if version != "" {
		if err := reg.Activate(version); err != nil {
			t.Fatalf("activate %s: %v", version, err)
		}
	}
	return reg
}
