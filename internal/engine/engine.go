// Package engine runs one Typhon bypass search end to end: it turns a run
// request into the engine payload, starts the external engine, streams its
// output through the Output Normalizer and interprets the result record.
// It is consumed by the HTTP API, the MCP server and the CLI.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/deixis/typhonweb/internal/i18n"
	"github.com/deixis/typhonweb/internal/metrics"
	"github.com/deixis/typhonweb/internal/report"
	"github.com/deixis/typhonweb/internal/request"
	"github.com/deixis/typhonweb/internal/runner"
	"github.com/deixis/typhonweb/internal/scope"
	"github.com/deixis/typhonweb/internal/transcript"
)

// ErrBusy is returned by Run when every run slot is taken.
var ErrBusy = errors.New("another run is in progress")

// noticePrefix marks lines the console adds to a transcript.
const noticePrefix = "[!] "

// DefaultMaxOutput is the transcript byte cap used by New.
const DefaultMaxOutput = 1 << 20

// CommandRunner executes commands within a workspace.
// Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, inv runner.Invocation) (*runner.Result, error)
}

// Engine holds shared dependencies for all runs.
type Engine struct {
	Command []string // engine argv
	Dir     string   // engine working directory, relative to the runner workspace
	Runner  CommandRunner
	Scope   *scope.Registry
	Rules   *transcript.Rules
	Store   report.Store // optional; finished runs are saved here
	Logger  *zap.Logger
	Metrics *metrics.Metrics // optional

	// MaxOutput caps the engine output kept in a transcript, in bytes. It
	// also bounds a single line. Zero means no cap.
	MaxOutput int

	slots *semaphore.Weighted
}

// New returns an Engine running command through r, allowing at most
// maxConcurrent runs at once. Scope, Rules and Logger get defaults and may
// be replaced before the first Run.
func New(r CommandRunner, command []string, maxConcurrent int) *Engine {
	return &Engine{
		Command: command,
		Runner:  r,
		Scope:   scope.Default(),
		Rules:   transcript.DefaultRules(),
		Logger:  zap.NewNop(),

		MaxOutput: DefaultMaxOutput,

		slots:   semaphore.NewWeighted(int64(max(maxConcurrent, 1))),
	}
}

// Run executes req and returns the finished result. Normalized transcript
// lines are passed to sink (which may be nil) as soon as they are final.
//
// Requests that cannot start return an error: a *request.ValidationError
// for unresolvable scope tokens, ErrBusy when no slot is free. Once the
// engine is started, every failure (start error, timeout, non-zero exit,
// unusable output) is reported through the result's Status and appended
// to the transcript, and the error is nil.
func (e *Engine) Run(ctx context.Context, req *request.RunRequest, sink func(string)) (*report.RunResult, error) {
	payload, err := req.Payload(e.Scope)
	if err != nil {
		e.Metrics.RunRejected("invalid")
		return nil, err
	}
	stdin, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding engine payload: %w", err)
	}

	if !e.slots.TryAcquire(1) {
		e.Metrics.RunRejected("busy")
		return nil, ErrBusy
	}
	defer e.slots.Release(1)

	e.Metrics.RunStarted()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, req.Settings.Timeout())
	defer cancel()

	c := newCollector(e.Rules, sink)
	c.w.Limit = e.MaxOutput
	c.w.MaxLine = e.MaxOutput
	out, runErr := e.Runner.Run(ctx, runner.Invocation{
		Argv:   e.Command,
		Dir:    e.Dir,
		Stdin:  stdin,
		Stdout: c.w,
	})
	c.w.Drain()

	res := &report.RunResult{
		Kind:      report.Kind(req.Mode),
		Target:    req.Target(),
		StartedAt: start,
	}
	switch {
	case runErr != nil:
		res.ID = uuid.New().String()
		res.ExitCode = -1
		e.fail(c, res, report.StatusError, i18n.T(i18n.EN, "error.engine_start", runErr))
	default:
		res.ID = out.RunID
		res.ExitCode = out.ExitCode
		res.Stderr = strings.TrimSpace(string(out.Stderr))
		res.Truncated = out.Truncated
		e.interpret(ctx, c, res, out, req)
		if c.w.Truncated() {
			res.Truncated = true
			c.w.Notice(noticePrefix + i18n.T(i18n.EN, "error.truncated", e.MaxOutput))
		}
	}

	_ = c.w.Close()
	res.Transcript = c.lines
	res.Stats = c.w.Stats()
	elapsed := time.Since(start)
	res.DurationMS = elapsed.Milliseconds()

	e.Metrics.RunFinished(string(res.Kind), string(res.Status), elapsed)
	e.Metrics.Lines(res.Stats.Input, res.Stats.Output, res.Stats.Folded, res.Stats.Collapsed)
	e.Logger.Info("run finished",
		zap.String("run_id", res.ID),
		zap.String("mode", string(res.Kind)),
		zap.String("status", string(res.Status)),
		zap.Int("exit_code", res.ExitCode),
		zap.Int64("duration_ms", res.DurationMS),
		zap.Int("lines_in", res.Stats.Input),
		zap.Int("lines_out", res.Stats.Output),
	)

	if e.Store != nil {
		if err := e.Store.Save(res); err != nil {
			e.Logger.Warn("saving run result", zap.String("run_id", res.ID), zap.Error(err))
		}
	}
	return res, nil
}

// interpret sets the status of a run whose process was started.
func (e *Engine) interpret(ctx context.Context, c *collector, res *report.RunResult, out *runner.Result, req *request.RunRequest) {
	if out.TimedOut {
		secs := req.Settings.TimeoutSec
		if out.Timeout > 0 {
			secs = max(int(out.Timeout.Round(time.Second)/time.Second), 1)
		}
		e.fail(c, res, report.StatusTimeout, i18n.T(i18n.EN, "error.timeout", secs))
		return
	}
	if ctx.Err() != nil {
		e.fail(c, res, report.StatusError, i18n.T(i18n.EN, "error.cancelled"))
		return
	}

	record := c.record()
	if record == "" {
		key := "error.bad_output"
		if c.raw == 0 {
			key = "error.empty_output"
		}
		e.fail(c, res, report.StatusError, i18n.T(i18n.EN, key))
		if out.ExitCode != 0 {
			c.w.Notice(noticePrefix + i18n.T(i18n.EN, "error.engine_exit", out.ExitCode))
		}
		return
	}

	rec := parseRecord(record)
	res.Payloads = rec.Payloads
	if c.raw == 0 && rec.Output != "" {
		// The engine buffered everything into the record.
		for _, l := range splitOutput(rec.Output) {
			c.w.Push(l)
		}
	}

	if rec.OK {
		res.Status = report.StatusOK
		res.OK = true
		return
	}
	msg := rec.Error
	if msg == "" && out.ExitCode != 0 {
		msg = i18n.T(i18n.EN, "error.engine_exit", out.ExitCode)
	}
	res.Status = report.StatusFailed
	res.Error = msg
	if msg != "" {
		c.w.Notice(noticePrefix + msg)
	}
}

func (e *Engine) fail(c *collector, res *report.RunResult, status report.Status, msg string) {
	res.Status = status
	res.Error = msg
	c.w.Notice(noticePrefix + msg)
	e.Logger.Debug("run failed", zap.String("status", string(status)), zap.String("error", msg))
}

// collector gathers the normalized transcript of one run and picks the
// result record out of the raw stream.
type collector struct {
	w     *transcript.Writer
	lines []string
	sink  func(string)

	last string // last result record seen
	raw  int    // non-record lines seen
}

func newCollector(rules *transcript.Rules, sink func(string)) *collector {
	c := &collector{lines: []string{}, sink: sink}
	c.w = transcript.NewWriter(rules.New(), c.emit)
	c.w.Intercept = c.intercept
	return c
}

func (c *collector) emit(line string) {
	c.lines = append(c.lines, line)
	if c.sink != nil {
		c.sink(line)
	}
}

func (c *collector) intercept(line string) bool {
	if isRecord(line) {
		c.last = strings.TrimSpace(line)
		return true
	}
	c.raw++
	return false
}

// record returns the last result record, or "" if none was seen.
func (c *collector) record() string {
	return c.last
}

// isRecord reports whether line is the engine's JSON result record: a
// JSON object carrying an "ok" key.
func isRecord(line string) bool {
	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, "{") || !gjson.Valid(s) {
		return false
	}
	return gjson.Get(s, "ok").Exists()
}

// resultRecord is the engine's final report.
type resultRecord struct {
	OK       bool
	Payloads []string
	Error    string
	Output   string
}

// parseRecord reads a result record. Payloads come from "payloads" (array)
// or "payload" (string); the error text from "error".
func parseRecord(s string) resultRecord {
	r := resultRecord{
		OK:     gjson.Get(s, "ok").Bool(),
		Error:  gjson.Get(s, "error").String(),
		Output: gjson.Get(s, "output").String(),
	}
	if p := gjson.Get(s, "payloads"); p.IsArray() {
		for _, v := range p.Array() {
			if v.String() != "" {
				r.Payloads = append(r.Payloads, v.String())
			}
		}
	}
	if p := gjson.Get(s, "payload"); p.Type == gjson.String && p.String() != "" {
		r.Payloads = append(r.Payloads, p.String())
	}
	return r
}

func splitOutput(s string) []string {
	s = strings.TrimSuffix(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
