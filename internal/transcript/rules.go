// Package transcript turns the raw output of a Typhon run into a compact
// transcript: terminal escapes are stripped, repeated progress messages are
// folded into a single counted line, and runs of blank lines and decorative
// separators are compressed. Lines that report a successful payload, and the
// closing summary block, always pass through untouched.
package transcript

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// BlankPolicy selects how runs of blank lines are compressed.
type BlankPolicy string

const (
	// BlankCollapse keeps the first line of each run of blank lines.
	BlankCollapse BlankPolicy = "collapse"
	// BlankDrop removes blank lines before any other rule sees them.
	BlankDrop BlankPolicy = "drop"
)

// minSeparatorWidth is the minimum number of runes a separator line needs.
const minSeparatorWidth = 3

// Default marker and pattern sets used when Options leaves them empty.
var (
	DefaultProgressPatterns = []string{
		`Bypassing \(\d+\)`,
		`^\s*\[\d+/\d+\]`,
		`(?i)^\s*trying\b.*\d`,
	}
	DefaultSuccessMarkers = []string{"[+]", "Success", "success!"}
	DefaultSummaryMarkers = []string{"Summary", "==== RESULT"}
)

var (
	digitsRE     = regexp.MustCompile(`\d+`)
	foldMarkerRE = regexp.MustCompile(`\s\[x\d+\]$`)
)

// Options configures a Rules set. Zero values select the defaults.
type Options struct {
	Blank            BlankPolicy
	ProgressPatterns []string
	SuccessMarkers   []string
	SummaryMarkers   []string
}

// Rules is a compiled, immutable Options set. A single Rules value may be
// shared by any number of Normalizers.
type Rules struct {
	blank    BlankPolicy
	progress []*regexp.Regexp
	success  []string
	summary  []string
}

// NewRules compiles opts.
func NewRules(opts Options) (*Rules, error) {
	r := &Rules{
		blank:   opts.Blank,
		success: opts.SuccessMarkers,
		summary: opts.SummaryMarkers,
	}
	switch r.blank {
	case "":
		r.blank = BlankCollapse
	case BlankCollapse, BlankDrop:
	default:
		return nil, fmt.Errorf("unknown blank policy %q (want %q or %q)", opts.Blank, BlankCollapse, BlankDrop)
	}
	if len(r.success) == 0 {
		r.success = DefaultSuccessMarkers
	}
	if len(r.summary) == 0 {
		r.summary = DefaultSummaryMarkers
	}

	patterns := opts.ProgressPatterns
	if len(patterns) == 0 {
		patterns = DefaultProgressPatterns
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling progress pattern %q: %w", p, err)
		}
		r.progress = append(r.progress, re)
	}
	return r, nil
}

// DefaultRules returns the Rules for the zero Options.
func DefaultRules() *Rules {
	r, err := NewRules(Options{})
	if err != nil {
		panic(err)
	}
	return r
}

// New returns a Normalizer for one run.
func (r *Rules) New() *Normalizer {
	return &Normalizer{rules: r}
}

// Blank reports the blank-line policy.
func (r *Rules) Blank() BlankPolicy { return r.blank }

// Options returns the effective options r was compiled from, defaults
// filled in.
func (r *Rules) Options() Options {
	patterns := make([]string, len(r.progress))
	for i, re := range r.progress {
		patterns[i] = re.String()
	}
	return Options{
		Blank:            r.blank,
		ProgressPatterns: patterns,
		SuccessMarkers:   append([]string(nil), r.success...),
		SummaryMarkers:   append([]string(nil), r.summary...),
	}
}

func (r *Rules) isSuccess(line string) bool {
	return containsAny(line, r.success)
}

func (r *Rules) isSummaryStart(line string) bool {
	return containsAny(line, r.summary)
}

// progressKey returns the template of a progress line: the line with every
// digit run replaced by '#'. Lines carrying a fold marker are not progress
// lines, so folded output is never folded again.
func (r *Rules) progressKey(line string) (string, bool) {
	if foldMarkerRE.MatchString(line) {
		return "", false
	}
	for _, re := range r.progress {
		if re.MatchString(line) {
			return digitsRE.ReplaceAllString(line, "#"), true
		}
	}
	return "", false
}

func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}

// isSeparator reports whether line is purely decorative: at least
// minSeparatorWidth runes, all punctuation or symbols.
func isSeparator(line string) bool {
	s := strings.TrimSpace(line)
	if utf8.RuneCountInString(s) < minSeparatorWidth {
		return false
	}
	for _, c := range s {
		if !unicode.IsPunct(c) && !unicode.IsSymbol(c) {
			return false
		}
	}
	return true
}

// foldLine renders a folded progress run.
func foldLine(last string, count int) string {
	return fmt.Sprintf("%s [x%d]", last, count)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
