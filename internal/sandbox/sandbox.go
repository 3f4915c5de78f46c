package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"localmind/config"
)

// ErrInterpreterNotAllowed is returned when a run requests an interpreter
// missing from the allowlist.
var ErrInterpreterNotAllowed = errors.New("interpreter not allowed")

// Result captures the outcome of one sandboxed execution.
type Result struct {
	ExitCode  int           `json:"exit_code"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	Duration  time.Duration `json:"duration"`
	TimedOut  bool          `json:"timed_out"`
	Truncated bool          `json:"truncated"`
}

// Runner executes interpreter scripts inside a confined workspace
// directory with capped output and wall time.
type Runner struct {
	workDir string
	allowed map[string]bool
	timeout time.Duration
	maxOut  int
	env     []string
}

// NewRunner builds a runner rooted at workDir. The directory is created if
// missing.
func NewRunner(workDir string, cfg config.SandboxConfig) (*Runner, error) {
	cfg = cfg.Normalize()
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	allowed := make(map[string]bool, len(cfg.AllowedInterpreters))
	for _, in := range cfg.AllowedInterpreters {
		allowed[in] = true
	}
	env := []string{"PATH=" + os.Getenv("PATH"), "HOME=" + abs}
	for _, k := range cfg.EnvAllowlist {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}
	return &Runner{
		workDir: abs,
		allowed: allowed,
		timeout: cfg.Timeout,
		maxOut:  cfg.MaxOutputBytes,
		env:     env,
	}, nil
}

// WorkDir returns the absolute workspace root.
func (r *Runner) WorkDir() string { return r.workDir }

// Run writes code to a scratch file in the workspace and executes it with
// interpreter. A non-zero exit is reported in the Result, not as an error.
func (r *Runner) Run(ctx context.Context, interpreter, code string) (Result, error) {
	if !r.allowed[interpreter] {
		return Result{}, fmt.Errorf("%w: %s", ErrInterpreterNotAllowed, interpreter)
	}
	if strings.TrimSpace(code) == "" {
		return Result{}, fmt.Errorf("empty program")
	}

	name := "run_" + uuid.NewString()[:8] + extensionFor(interpreter)
	script, err := r.ResolvePath(name)
	if err != nil {
		return Result{}, err
	}
	if err := os.WriteFile(script, []byte(code), 0o644); err != nil {
		return Result{}, fmt.Errorf("writing script: %w", err)
	}
	defer os.Remove(script)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, interpreter, script)
	cmd.Dir = r.workDir
	cmd.Env = r.env
	var stdout, stderr bytes.Buffer
	outCap := &capWriter{w: &stdout, max: r.maxOut}
	errCap := &capWriter{w: &stderr, max: r.maxOut}
	cmd.Stdout = outCap
	cmd.Stderr = errCap

	t0 := time.Now()
	err = cmd.Run()
	res := Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Duration:  time.Since(t0),
		TimedOut:  ctx.Err() == context.DeadlineExceeded,
		Truncated: outCap.capped() || errCap.capped(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		if res.TimedOut {
			res.ExitCode = -1
			return res, nil
		}
		return res, fmt.Errorf("running %s: %w", interpreter, err)
	}
	return res, nil
}

// ResolvePath joins rel onto the workspace root and rejects any path that
// escapes it.
func (r *Runner) ResolvePath(rel string) (string, error) {
	p := filepath.Join(r.workDir, rel)
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if abs != r.workDir && !strings.HasPrefix(abs, r.workDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes workspace", rel)
	}
	return abs, nil
}

func extensionFor(interpreter string) string {
	base := filepath.Base(interpreter)
	switch {
	case strings.HasPrefix(base, "python"):
		return ".py"
	case base == "node":
		return ".js"
	case base == "bash" || base == "sh":
		return ".sh"
	case base == "ruby":
		return ".rb"
	default:
		return ".txt"
	}
}

// capWriter discards bytes past max so runaway programs cannot exhaust
// memory through stdout.
type capWriter struct {
	w     *bytes.Buffer
	max   int
	n     int
	trunc bool
}

func (c *capWriter) Write(p []byte) (int, error) {
	if c.n >= c.max {
		if len(p) > 0 {
			c.trunc = true
		}
		return len(p), nil
	}
	room := c.max - c.n
	if len(p) > room {
		c.w.Write(p[:room])
		c.n = c.max
		c.trunc = true
		return len(p), nil
	}
	c.w.Write(p)
	c.n += len(p)
	return len(p), nil
}

func (c *capWriter) capped() bool { return c.trunc }
