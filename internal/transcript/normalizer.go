package transcript

import (
	"io"
	"strings"
)

type groupKind int

const (
	groupNone groupKind = iota
	groupBlank
	groupSeparator
	groupProgress
)

// group is the run of similar lines currently being accumulated. It is the
// only history a Normalizer keeps.
type group struct {
	kind  groupKind
	key   string // progress template or separator text
	text  string // line emitted when the group closes
	count int
}

// Stats counts what a Normalizer did.
type Stats struct {
	Input     int `json:"input"`     // lines pushed, after carriage-return splitting
	Output    int `json:"output"`    // lines emitted
	Folded    int `json:"folded"`    // folded summary lines emitted
	Collapsed int `json:"collapsed"` // source lines absorbed by folding or compression
	Preserved int `json:"preserved"` // success and summary lines passed through
}

// Normalizer applies Rules to one output stream, line by line. It is not
// safe for concurrent use; give each run its own Normalizer.
type Normalizer struct {
	rules     *Rules
	pending   group
	inSummary bool
	stats     Stats
}

// Push consumes one raw line and returns the lines that became final.
// A line holding carriage returns is treated as the sequence of segments
// a terminal would have drawn over each other.
func (n *Normalizer) Push(line string) []string {
	line = strings.TrimSuffix(line, "\r")
	if !strings.Contains(line, "\r") {
		return n.push(nil, line)
	}
	var out []string
	for _, seg := range strings.Split(line, "\r") {
		if seg != "" {
			out = n.push(out, seg)
		}
	}
	return out
}

// Flush closes the pending group and returns its line, if any. Pushing
// more lines after Flush is allowed.
func (n *Normalizer) Flush() []string {
	return n.flush(nil)
}

// Stats returns the counters accumulated so far.
func (n *Normalizer) Stats() Stats {
	return n.stats
}

func (n *Normalizer) push(out []string, raw string) []string {
	n.stats.Input++
	line := StripEscapes(raw)

	if n.inSummary || n.rules.isSummaryStart(line) {
		n.inSummary = true
		n.stats.Preserved++
		return n.emit(n.flush(out), line)
	}
	if n.rules.isSuccess(line) {
		n.stats.Preserved++
		return n.emit(n.flush(out), line)
	}

	if isBlank(line) {
		if n.rules.blank == BlankDrop {
			n.stats.Collapsed++
			return out
		}
		if n.pending.kind == groupBlank {
			n.pending.count++
			n.stats.Collapsed++
			return out
		}
		out = n.flush(out)
		n.pending = group{kind: groupBlank, text: line, count: 1}
		return out
	}

	if isSeparator(line) {
		if n.pending.kind == groupSeparator && n.pending.key == line {
			n.pending.count++
			n.stats.Collapsed++
			return out
		}
		out = n.flush(out)
		n.pending = group{kind: groupSeparator, key: line, text: line, count: 1}
		return out
	}

	if key, ok := n.rules.progressKey(line); ok {
		if n.pending.kind == groupProgress && n.pending.key == key {
			n.pending.count++
			n.pending.text = line
			return out
		}
		out = n.flush(out)
		n.pending = group{kind: groupProgress, key: key, text: line, count: 1}
		return out
	}

	return n.emit(n.flush(out), line)
}

func (n *Normalizer) flush(out []string) []string {
	g := n.pending
	n.pending = group{}
	switch g.kind {
	case groupBlank, groupSeparator:
		return n.emit(out, g.text)
	case groupProgress:
		if g.count == 1 {
			return n.emit(out, g.text)
		}
		n.stats.Folded++
		n.stats.Collapsed += g.count - 1
		return n.emit(out, foldLine(g.text, g.count))
	}
	return out
}

func (n *Normalizer) emit(out []string, line string) []string {
	n.stats.Output++
	return append(out, line)
}

// Normalize applies rules to a complete buffered output. A trailing newline
// does not produce a final empty line.
func Normalize(text string, rules *Rules) []string {
	if text == "" {
		return nil
	}
	text = strings.TrimSuffix(text, "\n")
	return NormalizeLines(strings.Split(text, "\n"), rules)
}

// NormalizeLines applies rules to an already split stream.
func NormalizeLines(lines []string, rules *Rules) []string {
	n := rules.New()
	var out []string
	for _, l := range lines {
		out = append(out, n.Push(l)...)
	}
	return append(out, n.Flush()...)
}

// NormalizeReader streams r through a fresh Normalizer, calling emit for
// each final line as soon as it is known.
func NormalizeReader(r io.Reader, rules *Rules, emit func(string)) (Stats, error) {
	w := NewWriter(rules.New(), emit)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return w.Stats(), err
	}
	err := w.Close()
	return w.Stats(), err
}
