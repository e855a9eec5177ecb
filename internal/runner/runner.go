// Package runner starts the external engine with bounded time and output,
// feeding it a payload on stdin and streaming its stdout as it arrives.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// waitDelay bounds how long Run waits for output pipes after the process
// is killed, in case a grandchild still holds them open.
const waitDelay = 2 * time.Second

// Runner executes commands within a workspace boundary.
type Runner struct {
	Workspace string
	Timeout   time.Duration // hard cap, applied on top of the caller's context
	MaxOutput int           // bytes retained per stream
	Env       []string      // extra KEY=VALUE pairs
}

// Invocation describes one command execution.
type Invocation struct {
	Argv   []string
	Dir    string    // relative to the workspace; must stay within it
	Stdin  []byte    // written to the process's stdin, then closed
	Stdout io.Writer // receives stdout as it is produced instead of Result.Stdout; may be nil
}

// Run executes inv. The first element of Argv is the binary name (resolved
// via PATH), and the rest are arguments. A non-zero exit is reported in
// the Result, not as an error; failing to start the process is an error.
func (r *Runner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	if len(inv.Argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}

	dir, err := r.resolveDir(inv.Dir)
	if err != nil {
		return nil, err
	}

	limit := r.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); limit <= 0 || d < limit {
			limit = d
		}
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	runID := uuid.New().String()

	cmd := exec.CommandContext(ctx, inv.Argv[0], inv.Argv[1:]...)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay
	// Unbuffered Python output keeps the transcript live.
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1", "PYTHONIOENCODING=utf-8")
	cmd.Env = append(cmd.Env, r.Env...)
	if inv.Stdin != nil {
		cmd.Stdin = bytes.NewReader(inv.Stdin)
	}

	var stdout, stderr bytes.Buffer
	stdoutLimit := &limitWriter{buf: &stdout, limit: r.MaxOutput}
	stderrLimit := &limitWriter{buf: &stderr, limit: r.MaxOutput}
	cmd.Stdout = stdoutLimit
	if inv.Stdout != nil {
		// A streaming consumer bounds what it keeps.
		cmd.Stdout = inv.Stdout
	}
	cmd.Stderr = stderrLimit

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	res := &Result{
		RunID:     runID,
		Stdout:    stdout.Bytes(),
		Stderr:    stderr.Bytes(),
		Truncated: stdoutLimit.dropped || stderrLimit.dropped,
		Duration:  elapsed,
		TimedOut:  errors.Is(ctx.Err(), context.DeadlineExceeded),
	}
	if limit > 0 {
		res.Timeout = limit
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(runErr, &exitErr):
			res.ExitCode = exitErr.ExitCode()
		case res.TimedOut || ctx.Err() != nil:
			// Killed by the context; the pipes were closed by WaitDelay.
			res.ExitCode = -1
		default:
			// Binary not found or other exec error.
			return nil, fmt.Errorf("executing %s: %w", inv.Argv[0], runErr)
		}
	}

	return res, nil
}

// resolveDir resolves cwd relative to the workspace and validates it
// is within the workspace boundary.
func (r *Runner) resolveDir(cwd string) (string, error) {
	if cwd == "" {
		return r.Workspace, nil
	}

	var dir string
	if filepath.IsAbs(cwd) {
		dir = filepath.Clean(cwd)
	} else {
		dir = filepath.Clean(filepath.Join(r.Workspace, cwd))
	}

	// Ensure dir is within workspace.
	rel, err := filepath.Rel(r.Workspace, dir)
	if err != nil {
		return "", fmt.Errorf("resolving cwd: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("cwd %q is outside workspace %q", cwd, r.Workspace)
	}
	return dir, nil
}

// limitWriter writes up to limit bytes to buf, then silently discards the
// rest. A limit of zero or less keeps everything.
type limitWriter struct {
	buf     *bytes.Buffer
	limit   int
	dropped bool
}

func (w *limitWriter) Write(p []byte) (int, error) {
	if w.limit <= 0 {
		return w.buf.Write(p)
	}
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		w.dropped = len(p) > 0 || w.dropped
		return len(p), nil // discard
	}
	if len(p) > remaining {
		// Write only what fits, but report all bytes as consumed
		// to avoid short write errors from io.Copy.
		w.buf.Write(p[:remaining])
		w.dropped = true
		return len(p), nil
	}
	return w.buf.Write(p)
}
