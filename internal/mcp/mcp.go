// Package mcp provides the Typhon console MCP server, registering the run,
// inspect, token and normalize tools and publishing model instructions.
package mcp

import (
	_ "embed"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/typhonweb"
	"github.com/deixis/typhonweb/internal/engine"
	"github.com/deixis/typhonweb/internal/report"
)

//go:embed instructions.md
var Instructions string

// transcriptLimit is how many transcript lines typhon_run returns inline.
const transcriptLimit = 200

// handler holds shared dependencies for all tool handlers.
type handler struct {
	engine *engine.Engine
	store  report.Store
}

// NewServer creates an MCP server with all console tools registered.
func NewServer(e *engine.Engine, store report.Store) *mcp.Server {
	h := &handler{engine: e, store: store}

	opts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "typhonweb", Version: typhonweb.Version}, opts)

	mcp.AddTool(s, &mcp.Tool{
		Name: "typhon_run",
		Description: `Run a Typhon pyjail bypass search and return its status, payloads and normalized transcript.

mode "rce" searches for a payload executing cmd; mode "read" searches for one reading filepath.
local_scope values may use tokens such as "@module:os" or "@builtin:Exception" (see typhon_tokens).
Only one run executes at a time. Results are stored for drill-down via typhon_inspect.`,
	}, h.runHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "typhon_inspect",
		Description: `Search the transcript of a stored run.

Use the run_id from typhon_run. With query, returns matching lines (case-insensitive);
without it, returns the last tail lines.`,
	}, h.inspectHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "typhon_tokens",
		Description: "List the symbolic tokens accepted in local_scope values.",
	}, h.tokensHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "typhon_normalize",
		Description: `Normalize raw engine output into a compact transcript.

Strips terminal escapes, folds repeated progress lines into one line with an [xN] count,
compresses blank lines and repeated separators, and keeps success and summary lines verbatim.`,
	}, h.normalizeHandler)

	return s
}

// NewHTTPHandler serves server over the streamable HTTP transport.
func NewHTTPHandler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
