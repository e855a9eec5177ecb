package transcript

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// StripEscapes removes ANSI/VT escape sequences (CSI, OSC, DCS, charset
// designations) from s, leaving printable text and whitespace as they were.
func StripEscapes(s string) string {
	if !strings.Contains(s, "\x1b") {
		return s
	}
	return ansi.Strip(s)
}
