package main

import (
	"context"
	"strings"
	"testing"

	"github.com/gofrs/flock"

	"specforge/internal/logging"
	"specforge/internal/testsupport"
)

func TestRunStopsWhenContextEnds(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := run(ctx, cfg, logging.NewNop()); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunRefusesSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	lock := flock.New(cfg.DaemonLockPath())
	ok, err := lock.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock: ok=%v err=%v", ok, err)
	}
	defer lock.Unlock()

	err = run(context.Background(), cfg, logging.NewNop())
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock conflict, got %v", err)
	}
}
