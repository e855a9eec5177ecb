package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/typhonweb/internal/report"
)

type inspectParams struct {
	RunID string `json:"run_id" jsonschema:"the run ID from a typhon_run result"`
	Query string `json:"query,omitempty" jsonschema:"case-insensitive text to search for, e.g. Success or Traceback"`
	Tail  int    `json:"tail,omitempty" jsonschema:"without query: number of trailing lines to return. Default: 50"`
}

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}

	result, err := h.store.Load(params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}

	var matches []report.Match
	if params.Query != "" {
		matches = report.Search(result, params.Query)
		if len(matches) == 0 {
			return textResult(fmt.Sprintf("No lines matching %q in run %s (%s).", params.Query, params.RunID, result.Status))
		}
	} else {
		tail := params.Tail
		if tail <= 0 {
			tail = 50
		}
		matches = report.Tail(result, tail)
	}

	return textResult(formatInspectOutput(result, params.Query, matches))
}

func formatInspectOutput(r *report.RunResult, query string, matches []report.Match) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run: %s (%s, %s)\n", r.ID, r.Kind, r.Status)
	if query != "" {
		fmt.Fprintf(&b, "%d lines matching %q:\n", len(matches), query)
	} else {
		fmt.Fprintf(&b, "Last %d of %d lines:\n", len(matches), len(r.Transcript))
	}
	fmt.Fprintln(&b)

	width := len(fmt.Sprint(len(r.Transcript)))
	for _, m := range matches {
		fmt.Fprintf(&b, "%*d: %s\n", width, m.Line, m.Text)
	}
	return b.String()
}
