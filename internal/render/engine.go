// Package render hands compiled specifications to the external render engine
// and records the outcome on the idea.
package render

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"specforge/internal/logging"
)

// Limits bounds one render.
type Limits struct {
	Timeout time.Duration
}

// Job is the input contract of the render engine.
type Job struct {
	SpecPath  string
	Seed      int64
	OutputDir string
	Limits    Limits
}

// Result is the output contract of the render engine.
type Result struct {
	Artifacts []string `json:"artifacts"`
	ExitCode  int      `json:"exit_code"`
	Log       string   `json:"log,omitempty"`
}

// Engine renders a specification.
type Engine interface {
	Render(ctx context.Context, job Job) (Result, error)
}

const maxLogBytes = 64 << 10

// ErrTimeout is returned when the engine exceeds its time limit.
var ErrTimeout = errors.New("render timed out")

// DefaultArgs are passed when no arguments are configured.
var DefaultArgs = []string{"--spec", "{spec}", "--seed", "{seed}", "--out", "{out}"}

// Command runs an external executable per job. Arguments may reference
// {spec}, {seed}, and {out}.
type Command struct {
	Path   string
	Args   []string
	logger *slog.Logger
}

// NewCommand constructs a command engine.
func NewCommand(path string, args []string, logger *slog.Logger) *Command {
	if logger == nil {
		logger = logging.NewNop()
	}
	if len(args) == 0 {
		args = DefaultArgs
	}
	return &Command{Path: path, Args: slices.Clone(args), logger: logging.NewComponentLogger(logger, "render")}
}

func (c *Command) expand(job Job) []string {
	r := strings.NewReplacer(
		"{spec}", job.SpecPath,
		"{seed}", strconv.FormatInt(job.Seed, 10),
		"{out}", job.OutputDir,
	)
	out := make([]string, len(c.Args))
	for i, a := range c.Args {
		out[i] = r.Replace(a)
	}
	return out
}

// Render runs the command. A non-zero exit is returned in Result.ExitCode
// together with an *ExitError.
func (c *Command) Render(ctx context.Context, job Job) (Result, error) {
	if strings.TrimSpace(c.Path) == "" {
		return Result{}, errors.New("render command not configured")
	}
	if job.OutputDir != "" {
		if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
			return Result{}, fmt.Errorf("create output dir: %w", err)
		}
	}
	runCtx := ctx
	if job.Limits.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, job.Limits.Timeout)
		defer cancel()
	}

	args := c.expand(job)
	cmd := exec.CommandContext(runCtx, c.Path, args...)
	cmd.Env = append(os.Environ(),
		"SPECFORGE_SPEC="+job.SpecPath,
		"SPECFORGE_SEED="+strconv.FormatInt(job.Seed, 10),
		"SPECFORGE_OUTPUT_DIR="+job.OutputDir,
	)
	cmd.WaitDelay = 5 * time.Second
	var output tailBuffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	c.logger.Debug("executing render command",
		logging.String("command", c.Path),
		logging.String("spec_path", job.SpecPath),
		logging.Int64("seed", job.Seed),
	)
	err := cmd.Run()
	res := Result{Log: output.String()}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return res, ErrTimeout
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	res.Artifacts = collectArtifacts(job.OutputDir, res.Log)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return res, &ExitError{Code: res.ExitCode, Log: lastLine(res.Log)}
		}
		return res, fmt.Errorf("run render command: %w", err)
	}
	return res, nil
}

// ExitError reports a non-zero engine exit.
type ExitError struct {
	Code int
	Log  string
}

func (e *ExitError) Error() string {
	if e.Log == "" {
		return fmt.Sprintf("render engine exited with status %d", e.Code)
	}
	return fmt.Sprintf("render engine exited with status %d: %s", e.Code, e.Log)
}

// collectArtifacts lists files in dir plus "artifact: <path>" lines from
// the engine log. Relative paths resolve against dir.
func collectArtifacts(dir, log string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		out = append(out, p)
	}
	if dir != "" {
		if entries, err := os.ReadDir(dir); err == nil {
			for _, e := range entries {
				if e.Type().IsRegular() {
					add(filepath.Join(dir, e.Name()))
				}
			}
		}
	}
	scanner := bufio.NewScanner(strings.NewReader(log))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		rest, ok := strings.CutPrefix(line, "artifact:")
		if !ok {
			continue
		}
		p := strings.TrimSpace(rest)
		if p != "" && !filepath.IsAbs(p) && dir != "" {
			p = filepath.Join(dir, p)
		}
		add(p)
	}
	slices.Sort(out)
	return out
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[idx+1:])
	}
	return s
}

// tailBuffer keeps the last maxLogBytes written.
type tailBuffer struct {
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	t.buf.Write(p)
	if over := t.buf.Len() - maxLogBytes; over > 0 {
		t.buf.Next(over)
	}
	return n, nil
}

func (t *tailBuffer) String() string { return t.buf.String() }

func checkExecutable(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("render command not configured")
	}
	if _, err := exec.LookPath(path); err != nil {
		return fmt.Errorf("render command %q: %w", path, err)
	}
	return nil
}
