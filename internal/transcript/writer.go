package transcript

import (
	"bytes"
	"errors"
	"unicode/utf8"
)

// ErrWriterClosed is returned by Write after Close.
var ErrWriterClosed = errors.New("transcript writer closed")

// Writer is an io.Writer that splits arbitrary chunks of output into lines
// and feeds them to a Normalizer, calling Emit for every final line. It is
// meant to sit on a process's stdout so the transcript can be shown while
// the process is still running.
type Writer struct {
	// Intercept, when set, sees every raw line before the Normalizer does.
	// Returning true consumes the line.
	Intercept func(line string) bool

	// Limit caps the bytes (newlines included) of lines passed to the
	// Normalizer by Write and Push. Later lines are dropped. Zero means no cap.
	Limit int

	// MaxLine caps the length of a pending line. The rest of a longer line is
	// dropped up to its newline. Zero means no cap.
	MaxLine int

	n         *Normalizer
	emit      func(string)
	buf       []byte
	skipping  bool // dropping the tail of an over-long line
	fed       int
	truncated bool
	closed    bool
}

// NewWriter returns a Writer feeding n. emit may be nil.
func NewWriter(n *Normalizer, emit func(string)) *Writer {
	if emit == nil {
		emit = func(string) {}
	}
	return &Writer{n: n, emit: emit}
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrWriterClosed
	}
	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		chunk := p
		if i >= 0 {
			chunk = p[:i]
		}
		if !w.skipping {
			if w.MaxLine > 0 && len(w.buf)+len(chunk) > w.MaxLine {
				w.buf = trimPartialRune(append(w.buf, chunk[:w.MaxLine-len(w.buf)]...))
				w.skipping = true
				w.truncated = true
			} else {
				w.buf = append(w.buf, chunk...)
			}
		}
		if i < 0 {
			break
		}
		w.line(string(w.buf))
		w.buf = w.buf[:0]
		w.skipping = false
		p = p[i+1:]
	}
	return n, nil
}

// Push feeds a single complete line, bypassing the byte splitter and
// Intercept. It counts against Limit.
func (w *Writer) Push(line string) {
	w.feed(line)
}

// Notice feeds a line the caller adds to the transcript. It is never
// intercepted or dropped by Limit.
func (w *Writer) Notice(line string) {
	w.push(line)
}

// Truncated reports whether Limit or MaxLine dropped any output.
func (w *Writer) Truncated() bool {
	return w.truncated
}

// Drain feeds a pending unterminated line as if its newline had arrived.
// Pending progress groups stay open.
func (w *Writer) Drain() {
	if len(w.buf) > 0 {
		w.line(string(w.buf))
		w.buf = w.buf[:0]
	}
	w.skipping = false
}

// Close feeds any unterminated final line and flushes the Normalizer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.Drain()
	for _, l := range w.n.Flush() {
		w.emit(l)
	}
	return nil
}

// Stats returns the underlying Normalizer counters.
func (w *Writer) Stats() Stats {
	return w.n.Stats()
}

func (w *Writer) line(raw string) {
	if w.Intercept != nil && w.Intercept(raw) {
		return
	}
	w.feed(raw)
}

func (w *Writer) feed(raw string) {
	if w.Limit > 0 {
		rest := w.Limit - w.fed
		if rest <= 0 {
			w.truncated = true
			return
		}
		if len(raw) >= rest {
			raw = string(trimPartialRune([]byte(raw[:rest-1])))
			w.truncated = true
		}
		w.fed += len(raw) + 1
	}
	w.push(raw)
}

func (w *Writer) push(raw string) {
	for _, l := range w.n.Push(raw) {
		w.emit(l)
	}
}

// trimPartialRune drops an incomplete UTF-8 sequence left at the end of b
// by a byte cut.
func trimPartialRune(b []byte) []byte {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return b[:i]
			}
			break
		}
	}
	return b
}
