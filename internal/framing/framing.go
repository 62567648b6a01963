// Package framing reassembles a raw sensor byte stream into
// newline-delimited text records.
package framing

import (
	"bytes"
	"strings"
)

// Framer accumulates bytes fed from a serial port and emits complete lines.
// A line ends with '\n'; a preceding '\r' is tolerated. Partial trailing
// lines are retained across Feed calls, so results are identical for any
// fragmentation of the same byte stream.
type Framer struct {
	buf bytes.Buffer
}

// NewFramer returns an empty Framer.
func NewFramer() *Framer {
	return &Framer{}
}

// Feed appends p to the internal buffer and returns all complete lines found,
// trimmed of surrounding whitespace. Empty and whitespace-only lines are
// dropped. The slice is nil when no complete line is available yet.
func (f *Framer) Feed(p []byte) []string {
	f.buf.Write(p)

	var lines []string
	for {
		data := f.buf.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			return lines
		}
		line := strings.TrimSpace(string(data[:i]))
		f.buf.Next(i + 1)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
}

// Pending returns the number of buffered bytes awaiting a line terminator.
func (f *Framer) Pending() int {
	return f.buf.Len()
}

// Reset discards any buffered partial line.
func (f *Framer) Reset() {
	f.buf.Reset()
}
