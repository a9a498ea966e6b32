package logging_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"specforge/internal/config"
	"specforge/internal/logging"
	"specforge/internal/services"
)

func newFileLogger(t *testing.T, format, level string) (func() string, *logging.Options) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "test.log")
	noColor := false
	opts := &logging.Options{Format: format, Level: level, OutputPaths: []string{logPath}, Color: &noColor}
	read := func() string {
		content, err := os.ReadFile(logPath)
		if err != nil {
			t.Fatalf("read log file: %v", err)
		}
		return string(content)
	}
	return read, opts
}

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg, true)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello from test")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "specforge.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "hello from test") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	read, opts := newFileLogger(t, "console", "info")
	logger, err := logging.New(*opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("message without caller")
	if strings.Contains(read(), ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", read())
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	read, opts := newFileLogger(t, "console", "debug")
	logger, err := logging.New(*opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("message with caller")
	if !strings.Contains(read(), ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", read())
	}
}

func TestConsoleSubjectFromContext(t *testing.T) {
	read, opts := newFileLogger(t, "console", "info")
	logger, err := logging.New(*opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx := services.WithStage(services.WithRunID(context.Background(), 12), "compile")
	logger = logging.NewComponentLogger(logging.WithContext(ctx, logger), "workflow")
	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))

	out := read()
	for _, fragment := range []string{"[workflow]", "Run #12 (compile)", "stage started", "Event: stage_start"} {
		if !strings.Contains(out, fragment) {
			t.Fatalf("expected %q in output %q", fragment, out)
		}
	}
}

func TestJSONLoggerIncludesContextFields(t *testing.T) {
	read, opts := newFileLogger(t, "json", "info")
	logger, err := logging.New(*opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx := services.WithRequestID(services.WithCandidateID(context.Background(), 7), "req-1")
	logging.WithContext(ctx, logger).Info("verified")

	out := read()
	for _, fragment := range []string{`"candidate_id":7`, `"correlation_id":"req-1"`, `"msg":"verified"`} {
		if !strings.Contains(out, fragment) {
			t.Fatalf("expected %s in %s", fragment, out)
		}
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	read, opts := newFileLogger(t, "json", "info")
	logger, err := logging.New(*opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "retrying", "backend_retry")
	out := read()
	for _, fragment := range []string{`"event_type":"backend_retry"`, `"error_hint"`, `"impact"`} {
		if !strings.Contains(out, fragment) {
			t.Fatalf("expected %s in %s", fragment, out)
		}
	}
}

func TestErrorDetailsAttrs(t *testing.T) {
	err := services.Fail(services.ErrBackend, services.CodeBackendTimeout, "verify", "deadline exceeded", nil)
	attrs := logging.ErrorDetails(err)
	if !logging.HasAttrKey(attrs, logging.FieldErrorCode) || !logging.HasAttrKey(attrs, logging.FieldErrorHint) {
		t.Fatalf("expected code and hint attributes, got %v", attrs)
	}
	if logging.ErrorDetails(nil) != nil {
		t.Fatal("expected nil attrs for nil error")
	}
}

func TestUnsupportedFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
