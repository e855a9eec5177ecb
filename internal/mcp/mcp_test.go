package mcp

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/typhonweb/internal/engine"
	"github.com/deixis/typhonweb/internal/report"
	"github.com/deixis/typhonweb/internal/runner"
)

// scriptRunner replays canned engine output.
type scriptRunner struct {
	stdout string
	result runner.Result
	calls  int
}

func (s *scriptRunner) Run(ctx context.Context, inv runner.Invocation) (*runner.Result, error) {
	s.calls++
	if inv.Stdout != nil {
		_, _ = io.WriteString(inv.Stdout, s.stdout)
	}
	res := s.result
	res.RunID = uuid.New().String()
	return &res, nil
}

// setup creates a full console MCP server + client over in-memory transports.
func setup(t *testing.T, r engine.CommandRunner) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	store := report.NewLRUStore(5, report.NewDiskStore(t.TempDir()))
	e := engine.New(r, []string{"engine"}, 1)
	e.Store = store

	server := NewServer(e, store)

	ct, st := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, st, nil)
	if err != nil {
		t.Fatalf("server.Connect: %v", err)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}

	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Wait()
	})

	return cs
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return res
}

func resultText(r *mcp.CallToolResult) string {
	var parts []string
	for _, c := range r.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// runID extracts the run ID from "Run: <id>".
func runID(t *testing.T, text string) string {
	t.Helper()
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "Run: ") {
			return strings.TrimPrefix(line, "Run: ")
		}
	}
	t.Fatalf("no Run ID found in output:\n%s", text)
	return ""
}

const bypassOutput = `[*] Typhon start
Bypassing (1)
Bypassing (2)
Bypassing (3)
Bypassing (4)
[+] Success: __import__('os').system('id')
Traceback (most recent call last): ignored
{"ok": true, "payloads": ["__import__('os').system('id')"]}
`

// --- typhon_run ---

func TestTyphonRun_Success(t *testing.T) {
	cs := setup(t, &scriptRunner{stdout: bypassOutput})
	res := callTool(t, cs, "typhon_run", map[string]any{"mode": "rce", "cmd": "id"})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	for _, want := range []string{
		"Status: ok",
		"Run: ",
		"Payloads:\n  __import__('os').system('id')",
		"Bypassing (4) [x4]",
		"typhon_inspect",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got:\n%s", want, text)
		}
	}
	if strings.Contains(text, "Bypassing (1)") {
		t.Errorf("expected progress lines to be folded, got:\n%s", text)
	}
}

func TestTyphonRun_MissingMode(t *testing.T) {
	cs := setup(t, &scriptRunner{})
	_, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "typhon_run",
		Arguments: map[string]any{"cmd": "id"},
	})
	if err == nil {
		t.Error("expected error for missing mode")
	}
}

func TestTyphonRun_ValidationError(t *testing.T) {
	r := &scriptRunner{}
	cs := setup(t, r)
	res := callTool(t, cs, "typhon_run", map[string]any{"mode": "read"})
	if !res.IsError {
		t.Fatal("expected IsError for read mode without filepath")
	}
	if text := resultText(res); !strings.Contains(text, "filepath is required") {
		t.Errorf("unexpected message: %s", text)
	}
	if r.calls != 0 {
		t.Errorf("engine started %d times, want 0", r.calls)
	}
}

func TestTyphonRun_UnknownToken(t *testing.T) {
	r := &scriptRunner{}
	cs := setup(t, r)
	res := callTool(t, cs, "typhon_run", map[string]any{
		"mode":        "rce",
		"cmd":         "id",
		"local_scope": map[string]any{"m": "@module:nonexistent"},
	})
	if !res.IsError {
		t.Fatal("expected IsError for unknown token")
	}
	if text := resultText(res); !strings.Contains(text, "@module:nonexistent") {
		t.Errorf("expected the token in the message, got: %s", text)
	}
	if r.calls != 0 {
		t.Errorf("engine started %d times, want 0", r.calls)
	}
}

func TestTyphonRun_Timeout(t *testing.T) {
	cs := setup(t, &scriptRunner{
		stdout: "Bypassing (1)\n",
		result: runner.Result{ExitCode: -1, TimedOut: true},
	})
	res := callTool(t, cs, "typhon_run", map[string]any{"mode": "rce", "cmd": "id", "timeout_sec": 5})
	text := resultText(res)
	if !strings.Contains(text, "Status: timeout") {
		t.Errorf("expected Status: timeout, got:\n%s", text)
	}
	if !strings.Contains(text, "[!] Execution timed out after 5 seconds.") {
		t.Errorf("expected timeout notice in transcript, got:\n%s", text)
	}
}

// --- typhon_inspect ---

func TestTyphonInspect_MissingRunID(t *testing.T) {
	cs := setup(t, &scriptRunner{})
	_, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "typhon_inspect",
		Arguments: map[string]any{"query": "Success"},
	})
	if err == nil {
		t.Error("expected error for missing run_id")
	}
}

func TestTyphonInspect_InvalidRunID(t *testing.T) {
	cs := setup(t, &scriptRunner{})
	res := callTool(t, cs, "typhon_inspect", map[string]any{"run_id": "nonexistent-id"})
	if !res.IsError {
		t.Error("expected IsError for invalid run_id")
	}
}

func TestTyphonInspect_AfterRun(t *testing.T) {
	cs := setup(t, &scriptRunner{stdout: bypassOutput})
	id := runID(t, resultText(callTool(t, cs, "typhon_run", map[string]any{"mode": "rce", "cmd": "id"})))

	res := callTool(t, cs, "typhon_inspect", map[string]any{"run_id": id, "query": "traceback"})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error from typhon_inspect: %s", text)
	}
	if !strings.Contains(text, "1 lines matching") || !strings.Contains(text, "4: Traceback") {
		t.Errorf("expected the Traceback line, got:\n%s", text)
	}

	res = callTool(t, cs, "typhon_inspect", map[string]any{"run_id": id, "tail": 1})
	if text := resultText(res); !strings.Contains(text, "Last 1 of 4 lines") {
		t.Errorf("expected tail output, got:\n%s", text)
	}

	res = callTool(t, cs, "typhon_inspect", map[string]any{"run_id": id, "query": "absent"})
	if text := resultText(res); !strings.Contains(text, "No lines matching") {
		t.Errorf("expected no matches, got:\n%s", text)
	}
}

// --- typhon_tokens ---

func TestTyphonTokens(t *testing.T) {
	cs := setup(t, &scriptRunner{})
	text := resultText(callTool(t, cs, "typhon_tokens", map[string]any{}))
	for _, want := range []string{"builtin:", "module:", "exception:", "@module:os", "@exception:ValueError"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got:\n%s", want, text)
		}
	}
}

// --- typhon_normalize ---

func TestTyphonNormalize(t *testing.T) {
	cs := setup(t, &scriptRunner{})
	res := callTool(t, cs, "typhon_normalize", map[string]any{
		"text": "\x1b[31mBypassing (1)\x1b[0m\nBypassing (2)\n\n\n\ndone\n",
	})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "Bypassing (2) [x2]\n\ndone\n") {
		t.Errorf("unexpected normalization:\n%q", text)
	}
	if !strings.Contains(text, "6 lines in, 3 out") {
		t.Errorf("unexpected stats line:\n%s", text)
	}
}

func TestTyphonNormalize_Drop(t *testing.T) {
	cs := setup(t, &scriptRunner{})
	res := callTool(t, cs, "typhon_normalize", map[string]any{
		"text":  "a\n\n\nb\n",
		"blank": "drop",
	})
	if text := resultText(res); !strings.Contains(text, "\na\nb\n") {
		t.Errorf("expected blanks dropped, got:\n%q", text)
	}

	res = callTool(t, cs, "typhon_normalize", map[string]any{"text": "a", "blank": "squash"})
	if !res.IsError {
		t.Error("expected IsError for unknown blank policy")
	}
}
