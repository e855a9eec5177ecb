// Package report provides persistence and retrieval of engine run results.
// Results are stored as typed structs and their transcripts can be
// searched after the fact.
package report

import (
	"strings"
	"time"

	"github.com/deixis/typhonweb/internal/transcript"
)

// Kind identifies the type of a run.
type Kind string

const (
	// RCE is a command execution bypass search.
	RCE Kind = "rce"
	// Read is a file read bypass search.
	Read Kind = "read"
)

// Status is the outcome of a run.
type Status string

const (
	StatusOK      Status = "ok"      // the engine reported success
	StatusFailed  Status = "failed"  // the engine ran but found no bypass, or reported an error
	StatusTimeout Status = "timeout" // the run exceeded its timeout and was killed
	StatusError   Status = "error"   // the engine could not be started or its output was unusable
)

// Store persists and retrieves run results.
type Store interface {
	Save(result *RunResult) error
	Load(runID string) (*RunResult, error)
}

// RunResult holds everything the console shows about one finished run.
type RunResult struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"mode"`
	Target string `json:"target"` // command or file path
	Status Status `json:"status"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`

	Transcript []string         `json:"transcript"`
	Payloads   []string         `json:"payloads,omitempty"`
	Stats      transcript.Stats `json:"stats"`

	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	ExitCode   int       `json:"runner_exit_code"`
	Stderr     string    `json:"runner_stderr,omitempty"`
	Truncated  bool      `json:"truncated,omitempty"`
}

// Text returns the transcript joined into one block.
func (r *RunResult) Text() string {
	return strings.Join(r.Transcript, "\n")
}

// Match is one transcript line found by Search.
type Match struct {
	Line int    `json:"line"` // 1-based
	Text string `json:"text"`
}

// Search returns the transcript lines containing query, ignoring case.
// An empty query matches nothing.
func Search(result *RunResult, query string) []Match {
	if query == "" {
		return nil
	}
	q := strings.ToLower(query)
	var out []Match
	for i, l := range result.Transcript {
		if strings.Contains(strings.ToLower(l), q) {
			out = append(out, Match{Line: i + 1, Text: l})
		}
	}
	return out
}

// Tail returns the last n transcript lines, or all of them when n <= 0.
func Tail(result *RunResult, n int) []Match {
	start := 0
	if n > 0 && n < len(result.Transcript) {
		start = len(result.Transcript) - n
	}
	out := make([]Match, 0, len(result.Transcript)-start)
	for i := start; i < len(result.Transcript); i++ {
		out = append(out, Match{Line: i + 1, Text: result.Transcript[i]})
	}
	return out
}
