// Package framing reassembles line-delimited and server-sent-event units
// from byte fragments of any size. A partial unit at the end of a fragment
// is held until the next fragment completes it.
package framing

import "bytes"

// LineBuffer splits a byte stream into lines.
type LineBuffer struct {
	buf []byte
}

// Push appends p and returns every line it completes, without the trailing
// "\n" or "\r\n". Returned slices are owned by the caller.
func (b *LineBuffer) Push(p []byte) [][]byte {
	b.buf = append(b.buf, p...)
	var lines [][]byte
	for {
		i := bytes.IndexByte(b.buf, '\n')
		if i < 0 {
			break
		}
		line := make([]byte, i)
		copy(line, b.buf[:i])
		lines = append(lines, bytes.TrimSuffix(line, []byte("\r")))
		b.buf = b.buf[i+1:]
	}
	if len(b.buf) == 0 {
		b.buf = nil
	}
	return lines
}

// Flush returns the unterminated remainder, if any, and resets the buffer.
func (b *LineBuffer) Flush() []byte {
	if len(b.buf) == 0 {
		return nil
	}
	rest := bytes.TrimSuffix(b.buf, []byte("\r"))
	b.buf = nil
	return rest
}

// Buffered reports how many bytes are waiting for a newline.
func (b *LineBuffer) Buffered() int { return len(b.buf) }
