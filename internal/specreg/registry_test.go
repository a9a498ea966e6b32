package specreg_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"specforge/internal/services"
	"specforge/internal/specreg"
)

func newRegistry(t *testing.T) *specreg.Registry {
	t.Helper()
	reg, err := specreg.New(nil)
	if err != nil {
		t.Fatalf("specreg.New: %v", err)
	}
	return reg
}

const extraGrammar = `version: "2.0"
description: test grammar
sections: [meta, canvas, assets, entities, timeline]
primitives: [rect]
actions: [move]
asset_kinds: [image]
limits: {min_size: 16, max_width: 100, max_height: 100, max_fps: 30, max_duration: 10, max_entities: 5, max_events: 5}
`

func TestBuiltinsRegisteredAndNewestActive(t *testing.T) {
	reg := newRegistry(t)
	versions := reg.Versions()
	if len(versions) < 2 || versions[0] != "1.0" || versions[1] != "1.1" {
		t.Fatalf("unexpected versions: %v", versions)
	}
	if got := reg.ActiveVersion(); got != versions[len(versions)-1] {
		t.Fatalf("active = %s, want newest %s", got, versions[len(versions)-1])
	}
	base, err := reg.Get("1.0")
	if err != nil {
		t.Fatalf("Get(1.0): %v", err)
	}
	if base.HasAction("motion_blur") {
		t.Fatal("1.0 must not allow motion_blur")
	}
	next, _ := reg.Get("1.1")
	if !next.HasAction("motion_blur") {
		t.Fatal("1.1 should allow motion_blur")
	}
}

func TestActivateUnknownVersion(t *testing.T) {
	reg := newRegistry(t)
	err := reg.Activate("9.9")
	if !errors.Is(err, services.ErrPrecondition) || services.CodeOf(err) != services.CodeUnknownSpecVersion {
		t.Fatalf("expected unknown_spec_version precondition, got %v", err)
	}
	if err := reg.Activate("1.0"); err != nil {
		t.Fatalf("Activate(1.0): %v", err)
	}
	if reg.Active().Version != "1.0" {
		t.Fatalf("active = %s", reg.Active().Version)
	}
}

func TestLoadDirRegistersAndRejectsChangedVersion(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "two.yaml"), []byte(extraGrammar), 0o644); err != nil {
		t.Fatalf("write grammar: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("version: [\n"), 0o644); err != nil {
		t.Fatalf("write grammar: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write notes: %v", err)
	}
	reg := newRegistry(t)
	n, err := reg.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if n != 1 || !reg.Has("2.0") {
		t.Fatalf("expected 2.0 registered, n=%d versions=%v", n, reg.Versions())
	}

	changed := filepath.Join(t.TempDir(), "two.yaml")
	if err := os.WriteFile(changed, []byte(extraGrammar+"# edited\n"), 0o644); err != nil {
		t.Fatalf("write grammar: %v", err)
	}
	if err := reg.LoadFile(changed); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected immutable version rejection, got %v", err)
	}
}

func TestLoadDirMissingIsEmpty(t *testing.T) {
	reg := newRegistry(t)
	n, err := reg.LoadDir(filepath.Join(t.TempDir(), "absent"))
	if err != nil || n != 0 {
		t.Fatalf("LoadDir(absent) = %d, %v", n, err)
	}
}

func TestWatchRegistersNewFiles(t *testing.T) {
	dir := t.TempDir()
	reg := newRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := reg.Watch(ctx, dir); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "two.yaml"), []byte(extraGrammar), 0o644); err != nil {
		t.Fatalf("write grammar: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for !reg.Has("2.0") {
		if time.Now().After(deadline) {
			t.Fatal("watched grammar was not registered")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if reg.ActiveVersion() == "2.0" {
		t.Fatal("watch must not change the active version")
	}
}

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.1", -1},
		{"1.10", "1.9", 1},
		{"2", "2.0", 0},
	}
	for _, tc := range cases {
		if got := specreg.CompareVersions(tc.a, tc.b); got != tc.want {
			t.Fatalf("CompareVersions(%s, %s) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestParseGrammarRejectsMissingFields(t *testing.T) {
	if _, err := specreg.ParseGrammar([]byte("version: \"3\"\n"), "inline"); err == nil {
		t.Fatal("expected error for grammar without sections")
	}
	if _, err := specreg.ParseGrammar([]byte("version: abc\nsections: [meta]\n"), "inline"); err == nil {
		t.Fatal("expected error for non-numeric version")
	}
}
