package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"specforge/internal/logs"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), logs.FileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestLastReturnsFinalLines(t *testing.T) {
	path := writeLog(t, "a\nb\nc\n")

	chunk, err := logs.Last(path, 2, logs.Filter{})
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(chunk.Lines) != 2 || chunk.Lines[0] != "b" || chunk.Lines[1] != "c" {
		t.Fatalf("unexpected lines: %#v", chunk.Lines)
	}
	if chunk.Offset != 6 {
		t.Fatalf("expected offset at end of file, got %d", chunk.Offset)
	}
}

func TestLastAppliesFilter(t *testing.T) {
	path := writeLog(t, "INFO stage started\nWARN backend slow\nINFO stage completed\nERROR stage failed\n")

	chunk, err := logs.Last(path, 10, logs.Filter{Contains: "stage", Level: "info"})
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(chunk.Lines) != 2 || chunk.Lines[1] != "INFO stage completed" {
		t.Fatalf("unexpected filtered lines: %#v", chunk.Lines)
	}
}

func TestMissingFileIsEmpty(t *testing.T) {
	chunk, err := logs.Last(filepath.Join(t.TempDir(), "absent.log"), 5, logs.Filter{})
	if err != nil || len(chunk.Lines) != 0 || chunk.Offset != 0 {
		t.Fatalf("expected empty chunk, got %+v err=%v", chunk, err)
	}
}

func TestReadFromSkipsPartialLines(t *testing.T) {
	path := writeLog(t, "one\ntwo")

	chunk, err := logs.ReadFrom(path, 0, logs.Filter{})
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(chunk.Lines) != 1 || chunk.Lines[0] != "one" || chunk.Offset != 4 {
		t.Fatalf("unexpected chunk %+v", chunk)
	}

	// Truncation restarts from the beginning.
	if err := os.WriteFile(path, []byte("x\n"), 0o644); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	chunk, err = logs.ReadFrom(path, 100, logs.Filter{})
	if err != nil || len(chunk.Lines) != 1 || chunk.Lines[0] != "x" {
		t.Fatalf("expected restart after truncation, got %+v err=%v", chunk, err)
	}
}

func TestFollowEmitsAppendedLines(t *testing.T) {
	path := writeLog(t, "start\n")
	chunk, err := logs.Last(path, 1, logs.Filter{})
	if err != nil {
		t.Fatalf("Last: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []string
	done := make(chan error, 1)
	go func() {
		done <- logs.Follow(ctx, path, chunk.Offset, 20*time.Millisecond, logs.Filter{}, func(line string) {
			mu.Lock()
			got = append(got, line)
			mu.Unlock()
		})
	}()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	if _, err := f.WriteString("later\n"); err != nil {
		t.Fatalf("append log: %v", err)
	}
	_ = f.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Follow: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "later" {
		t.Fatalf("unexpected followed lines %#v", got)
	}
}
