package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/typhonweb/internal/scope"
	"github.com/deixis/typhonweb/internal/transcript"
)

type tokensParams struct{}

func (h *handler) tokensHandler(ctx context.Context, req *mcp.CallToolRequest, _ tokensParams) (*mcp.CallToolResult, any, error) {
	groups := map[scope.Kind][]string{}
	for _, tok := range h.engine.Scope.Tokens() {
		ref, _ := h.engine.Scope.Lookup(tok)
		groups[ref.Kind] = append(groups[ref.Kind], tok)
	}

	var b strings.Builder
	for _, kind := range []scope.Kind{scope.Builtin, scope.Module, scope.Exception} {
		if len(groups[kind]) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s:\n", kind)
		for _, tok := range groups[kind] {
			fmt.Fprintf(&b, "  %s\n", tok)
		}
	}
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, `Any other string starting with "@builtin:", "@module:" or "@exception:" is rejected.`)
	return textResult(b.String())
}

type normalizeParams struct {
	Text  string `json:"text" jsonschema:"raw engine output"`
	Blank string `json:"blank,omitempty" jsonschema:"blank line policy: collapse (default) or drop"`
}

func (h *handler) normalizeHandler(ctx context.Context, req *mcp.CallToolRequest, params normalizeParams) (*mcp.CallToolResult, any, error) {
	rules := h.engine.Rules
	if params.Blank != "" && transcript.BlankPolicy(params.Blank) != rules.Blank() {
		opts := rules.Options()
		opts.Blank = transcript.BlankPolicy(params.Blank)
		r, err := transcript.NewRules(opts)
		if err != nil {
			return errorResult(err.Error())
		}
		rules = r
	}

	var lines []string
	st, err := transcript.NormalizeReader(strings.NewReader(params.Text), rules, func(l string) {
		lines = append(lines, l)
	})
	if err != nil {
		return errorResult(err.Error())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d lines in, %d out (%d folded groups, %d lines collapsed, %d preserved)\n\n",
		st.Input, st.Output, st.Folded, st.Collapsed, st.Preserved)
	for _, l := range lines {
		fmt.Fprintln(&b, l)
	}
	return textResult(b.String())
}
