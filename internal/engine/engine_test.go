package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deixis/typhonweb/internal/report"
	"github.com/deixis/typhonweb/internal/request"
	"github.com/deixis/typhonweb/internal/runner"
	"github.com/deixis/typhonweb/internal/scope"
)

// fakeRunner replays canned engine output.
type fakeRunner struct {
	stdout  string
	result  runner.Result
	err     error
	calls   int
	stdin   []byte
	started chan struct{}
	release chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, inv runner.Invocation) (*runner.Result, error) {
	f.calls++
	f.stdin = inv.Stdin
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	if inv.Stdout != nil {
		_, _ = io.WriteString(inv.Stdout, f.stdout)
	}
	res := f.result
	if res.RunID == "" {
		res.RunID = uuid.New().String()
	}
	return &res, nil
}

func rceRequest(t *testing.T, extra map[string]any) *request.RunRequest {
	t.Helper()
	form := map[string]any{"mode": "rce", "cmd": "id"}
	for k, v := range extra {
		form[k] = v
	}
	req, err := request.Decode(form)
	require.NoError(t, err)
	return req
}

func shellEngine(t *testing.T, script string) *Engine {
	t.Helper()
	r := &runner.Runner{Workspace: t.TempDir(), Timeout: 10 * time.Second, MaxOutput: 1 << 20}
	return New(r, []string{"sh", "-c", script}, 1)
}

func TestRun_StreamsNormalizedTranscript(t *testing.T) {
	e := shellEngine(t, `
for i in 1 2 3 4 5; do echo "Bypassing ($i)"; done
printf '\033[32m[+] Success: payload found\033[0m\n'
printf '%s\n' '{"ok": true, "payloads": ["__import__(\"os\").system(\"id\")"]}'
`)
	var streamed []string
	res, err := e.Run(context.Background(), rceRequest(t, nil), func(l string) { streamed = append(streamed, l) })
	require.NoError(t, err)

	want := []string{"Bypassing (5) [x5]", "[+] Success: payload found"}
	assert.Equal(t, want, res.Transcript)
	assert.Equal(t, want, streamed)
	assert.Equal(t, report.StatusOK, res.Status)
	assert.True(t, res.OK)
	assert.Equal(t, []string{`__import__("os").system("id")`}, res.Payloads)
	assert.Equal(t, report.RCE, res.Kind)
	assert.Equal(t, "id", res.Target)
	assert.Equal(t, 6, res.Stats.Input) // the record is not part of the stream
	assert.NotEmpty(t, res.ID)
}

func TestRun_WritesPayloadToStdin(t *testing.T) {
	e := shellEngine(t, `cat; echo; echo '{"ok":true}'`)
	req := rceRequest(t, map[string]any{"local_scope": `{"m": "@module:os"}`})

	res, err := e.Run(context.Background(), req, nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.Transcript)
	assert.Contains(t, res.Transcript[0], `"cmd":"id"`)
	assert.Contains(t, res.Transcript[0], `{"$typhon_ref":"module","name":"os"}`)
}

func TestRun_UnknownTokenDoesNotStartEngine(t *testing.T) {
	f := &fakeRunner{}
	e := New(f, []string{"engine"}, 1)
	req := rceRequest(t, map[string]any{"local_scope": map[string]any{"m": "@module:nonexistent"}})

	_, err := e.Run(context.Background(), req, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, scope.ErrUnknownToken)
	var ve *request.ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Equal(t, 0, f.calls)
}

func TestRun_Busy(t *testing.T) {
	f := &fakeRunner{
		stdout:  "{\"ok\":true}\n",
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	e := New(f, []string{"engine"}, 1)
	first := rceRequest(t, nil)

	done := make(chan error, 1)
	go func() {
		_, err := e.Run(context.Background(), first, nil)
		done <- err
	}()
	<-f.started

	_, err := e.Run(context.Background(), rceRequest(t, nil), nil)
	assert.ErrorIs(t, err, ErrBusy)

	close(f.release)
	require.NoError(t, <-done)

	// The slot is free again.
	f.started, f.release = nil, nil
	_, err = e.Run(context.Background(), rceRequest(t, nil), nil)
	assert.NoError(t, err)
}

func TestRun_Timeout(t *testing.T) {
	f := &fakeRunner{
		stdout: "Bypassing (1)\nBypassing (2)\n",
		result: runner.Result{ExitCode: -1, TimedOut: true},
	}
	e := New(f, []string{"engine"}, 1)

	res, err := e.Run(context.Background(), rceRequest(t, map[string]any{"timeout_sec": 30}), nil)
	require.NoError(t, err)
	assert.Equal(t, report.StatusTimeout, res.Status)
	assert.False(t, res.OK)
	assert.Equal(t, "Execution timed out after 30 seconds.", res.Error)
	assert.Equal(t, []string{
		"Bypassing (2) [x2]",
		"[!] Execution timed out after 30 seconds.",
	}, res.Transcript)
}

func TestRun_RealTimeout(t *testing.T) {
	e := shellEngine(t, `echo "Bypassing (1)"; sleep 10`)
	e.Runner.(*runner.Runner).Timeout = 200 * time.Millisecond

	res, err := e.Run(context.Background(), rceRequest(t, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, report.StatusTimeout, res.Status)
	assert.Equal(t, "Bypassing (1)", res.Transcript[0])
}

func TestRun_TimeoutReportsExpiredLimit(t *testing.T) {
	f := &fakeRunner{result: runner.Result{ExitCode: -1, TimedOut: true, Timeout: 2 * time.Second}}
	e := New(f, []string{"engine"}, 1)

	// The runner's own cap fired long before the requested 90 seconds.
	res, err := e.Run(context.Background(), rceRequest(t, map[string]any{"timeout_sec": 90}), nil)
	require.NoError(t, err)
	assert.Equal(t, report.StatusTimeout, res.Status)
	assert.Equal(t, "Execution timed out after 2 seconds.", res.Error)
}

func TestRun_OutputCapBoundsTranscript(t *testing.T) {
	f := &fakeRunner{stdout: strings.Repeat("x", 3_000_000)}
	e := New(f, []string{"engine"}, 1)
	e.MaxOutput = 1024

	res, err := e.Run(context.Background(), rceRequest(t, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, report.StatusError, res.Status)
	assert.True(t, res.Truncated)
	require.Len(t, res.Transcript, 3)
	assert.Len(t, res.Transcript[0], 1023)
	assert.Equal(t, "[!] Failed to parse runner output as JSON.", res.Transcript[1])
	assert.Equal(t, "[!] Output truncated after 1024 bytes.", res.Transcript[2])
}

func TestRun_OutputCapStillReadsRecord(t *testing.T) {
	var sb strings.Builder
	for i := range 500 {
		fmt.Fprintf(&sb, "row %d\n", i)
	}
	sb.WriteString(`{"ok": true, "payloads": ["p"]}` + "\n")
	e := New(&fakeRunner{stdout: sb.String()}, []string{"engine"}, 1)
	e.MaxOutput = 256

	res, err := e.Run(context.Background(), rceRequest(t, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, report.StatusOK, res.Status)
	assert.Equal(t, []string{"p"}, res.Payloads)
	assert.True(t, res.Truncated)

	size := 0
	for _, l := range res.Transcript[:len(res.Transcript)-1] {
		size += len(l) + 1
	}
	assert.LessOrEqual(t, size, 256)
	assert.Equal(t, "[!] Output truncated after 256 bytes.", res.Transcript[len(res.Transcript)-1])
}

func TestRun_OutputUnderCapNotTruncated(t *testing.T) {
	f := &fakeRunner{stdout: "row\n{\"ok\": true}\n"}
	e := New(f, []string{"engine"}, 1)

	res, err := e.Run(context.Background(), rceRequest(t, nil), nil)
	require.NoError(t, err)
	assert.False(t, res.Truncated)
	assert.Equal(t, []string{"row"}, res.Transcript)
}

func TestRun_EmptyOutput(t *testing.T) {
	e := New(&fakeRunner{}, []string{"engine"}, 1)
	res, err := e.Run(context.Background(), rceRequest(t, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, report.StatusError, res.Status)
	assert.Equal(t, "Runner returned empty output.", res.Error)
}

func TestRun_NoRecord(t *testing.T) {
	f := &fakeRunner{stdout: "Traceback (most recent call last):\n", result: runner.Result{ExitCode: 1}}
	e := New(f, []string{"engine"}, 1)

	res, err := e.Run(context.Background(), rceRequest(t, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, report.StatusError, res.Status)
	assert.Equal(t, "Failed to parse runner output as JSON.", res.Error)
	assert.Equal(t, []string{
		"Traceback (most recent call last):",
		"[!] Failed to parse runner output as JSON.",
		"[!] Engine exited with code 1.",
	}, res.Transcript)
}

func TestRun_FailedRecord(t *testing.T) {
	f := &fakeRunner{
		stdout: "Bypassing (1)\n{\"ok\": false, \"error\": \"no bypass found\"}",
		result: runner.Result{ExitCode: 1, Stderr: []byte("  warning\n")},
	}
	e := New(f, []string{"engine"}, 1)

	res, err := e.Run(context.Background(), rceRequest(t, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, report.StatusFailed, res.Status)
	assert.Equal(t, "no bypass found", res.Error)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "warning", res.Stderr)
	assert.Equal(t, []string{"Bypassing (1)", "[!] no bypass found"}, res.Transcript)
}

func TestRun_BufferedOutputInRecord(t *testing.T) {
	f := &fakeRunner{
		stdout: `{"ok": true, "payload": "p", "output": "Bypassing (1)\nBypassing (2)\nBypassing (3)\n\n\n\n[+] Success"}` + "\n",
	}
	e := New(f, []string{"engine"}, 1)

	res, err := e.Run(context.Background(), rceRequest(t, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, report.StatusOK, res.Status)
	assert.Equal(t, []string{"p"}, res.Payloads)
	assert.Equal(t, []string{"Bypassing (3) [x3]", "", "[+] Success"}, res.Transcript)
}

func TestRun_StartError(t *testing.T) {
	f := &fakeRunner{err: errors.New("executing engine: not found")}
	e := New(f, []string{"engine"}, 1)

	res, err := e.Run(context.Background(), rceRequest(t, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, report.StatusError, res.Status)
	assert.Equal(t, -1, res.ExitCode)
	require.Len(t, res.Transcript, 1)
	assert.True(t, strings.HasPrefix(res.Transcript[0], "[!] Failed to start the engine"))
}

func TestRun_Cancelled(t *testing.T) {
	f := &fakeRunner{result: runner.Result{ExitCode: -1}}
	e := New(f, []string{"engine"}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := e.Run(ctx, rceRequest(t, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, report.StatusError, res.Status)
	assert.Equal(t, "Run cancelled.", res.Error)
}

func TestRun_SavesToStore(t *testing.T) {
	store := report.NewDiskStore(t.TempDir())
	e := New(&fakeRunner{stdout: "{\"ok\":true}\n"}, []string{"engine"}, 1)
	e.Store = store

	res, err := e.Run(context.Background(), rceRequest(t, nil), nil)
	require.NoError(t, err)

	got, err := store.Load(res.ID)
	require.NoError(t, err)
	assert.Equal(t, report.StatusOK, got.Status)
}

func TestIsRecord(t *testing.T) {
	assert.True(t, isRecord(`{"ok":true}`))
	assert.True(t, isRecord(`  {"ok": false, "error": "x"}  `))
	assert.False(t, isRecord(`{"mode":"rce"}`))
	assert.False(t, isRecord(`{"ok":`))
	assert.False(t, isRecord(`[+] ok`))
}

func TestResolveCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "runner.py"), []byte("print('hi')\n"), 0o644))

	argv, err := ResolveCommand([]string{"sh", "runner.py", "--json"}, dir)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(argv[0]))
	assert.Equal(t, []string{"runner.py", "--json"}, argv[1:])

	_, err = ResolveCommand([]string{"sh", "missing.py"}, dir)
	var unavailable ErrEngineUnavailable
	require.ErrorAs(t, err, &unavailable)
	assert.True(t, unavailable.Script)

	_, err = ResolveCommand([]string{"nonexistent-python-xyz"}, dir)
	require.ErrorAs(t, err, &unavailable)
	assert.Contains(t, err.Error(), "is required but not installed")

	_, err = ResolveCommand(nil, dir)
	assert.Error(t, err)
}

func TestErrEngineUnavailable_InstallHint(t *testing.T) {
	err := NewErrEngineUnavailable("python3")
	assert.Contains(t, err.Error(), "python3 -m pip install TyphonBreaker")
}
