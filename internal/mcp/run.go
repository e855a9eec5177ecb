package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/typhonweb/internal/engine"
	"github.com/deixis/typhonweb/internal/report"
	"github.com/deixis/typhonweb/internal/request"
)

// runParams mirror the console form. Omitted fields take the console
// defaults.
type runParams struct {
	Mode                 string         `json:"mode" jsonschema:"rce to execute cmd, read to read filepath"`
	Cmd                  string         `json:"cmd,omitempty" jsonschema:"command to execute (rce mode)"`
	FilePath             string         `json:"filepath,omitempty" jsonschema:"file to read (read mode)"`
	RCEMethod            string         `json:"rce_method,omitempty" jsonschema:"exec or eval (read mode). Default: exec"`
	LocalScope           map[string]any `json:"local_scope,omitempty" jsonschema:"names available to payloads; string values may be tokens such as @module:os"`
	BannedChr            []string       `json:"banned_chr,omitempty" jsonschema:"characters payloads must not contain"`
	AllowedChr           []string       `json:"allowed_chr,omitempty" jsonschema:"the only characters payloads may contain"`
	BannedRe             []string       `json:"banned_re,omitempty" jsonschema:"Python regular expressions payloads must not match"`
	BannedAST            []string       `json:"banned_ast,omitempty" jsonschema:"Python AST node names payloads must not contain (e.g. ast.Attribute)"`
	MaxLength            *int           `json:"max_length,omitempty" jsonschema:"maximum payload length"`
	Depth                int            `json:"depth,omitempty" jsonschema:"search depth. Default: 5"`
	RecursionLimit       int            `json:"recursion_limit,omitempty" jsonschema:"recursion limit. Default: 200"`
	TimeoutSec           int            `json:"timeout_sec,omitempty" jsonschema:"run timeout in seconds, 5 to 600. Default: 90"`
	LogLevel             string         `json:"log_level,omitempty" jsonschema:"DEBUG, INFO or QUIET. Default: INFO"`
	Interactive          *bool          `json:"interactive,omitempty" jsonschema:"whether the jail is interactive. Default: true"`
	PrintAllPayload      bool           `json:"print_all_payload,omitempty" jsonschema:"report every payload found, not just the first"`
	AllowUnicodeBypass   bool           `json:"allow_unicode_bypass,omitempty" jsonschema:"allow unicode normalization tricks"`
	IsAllowExceptionLeak *bool          `json:"is_allow_exception_leak,omitempty" jsonschema:"read mode: allow leaking file content through exceptions. Default: true"`
}

func (h *handler) runHandler(ctx context.Context, req *mcp.CallToolRequest, params runParams) (*mcp.CallToolResult, any, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return errorResult(fmt.Sprintf("encoding request: %v", err))
	}
	rr, err := request.DecodeJSON(body)
	if err != nil {
		return errorResult(err.Error())
	}

	result, err := h.engine.Run(ctx, rr, nil)
	switch {
	case errors.Is(err, engine.ErrBusy):
		return errorResult("Another run is in progress. Wait for it to finish and call typhon_run again.")
	case err != nil:
		return errorResult(err.Error())
	}

	// The engine saves when it has a store of its own.
	if h.engine.Store == nil {
		_ = h.store.Save(result)
	}

	return textResult(formatRun(result))
}

func formatRun(r *report.RunResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Status: %s\n", r.Status)
	fmt.Fprintf(&b, "Run: %s\n", r.ID)
	fmt.Fprintf(&b, "Mode: %s %q\n", r.Kind, r.Target)
	fmt.Fprintf(&b, "Duration: %dms, exit code %d\n", r.DurationMS, r.ExitCode)
	if r.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", r.Error)
	}
	fmt.Fprintln(&b)

	if len(r.Payloads) > 0 {
		fmt.Fprintln(&b, "Payloads:")
		for _, p := range r.Payloads {
			fmt.Fprintf(&b, "  %s\n", p)
		}
		fmt.Fprintln(&b)
	}

	lines := r.Transcript
	if len(lines) > transcriptLimit {
		fmt.Fprintf(&b, "Transcript (last %d of %d lines):\n", transcriptLimit, len(lines))
		lines = lines[len(lines)-transcriptLimit:]
	} else {
		fmt.Fprintf(&b, "Transcript (%d lines, %d raw):\n", len(lines), r.Stats.Input)
	}
	for _, l := range lines {
		fmt.Fprintln(&b, l)
	}
	if r.Stderr != "" {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Stderr:")
		for _, l := range strings.Split(r.Stderr, "\n") {
			fmt.Fprintf(&b, "    %s\n", l)
		}
	}

	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "Search the transcript with typhon_inspect(run_id=%q, query=\"...\").\n", r.ID)
	return b.String()
}
