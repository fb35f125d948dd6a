package local

import (
	"bytes"
	"sync"
)

// maxCaptureBytes bounds how much of each stream is kept for the result.
// Lines past the limit are still delivered to the log writer.
const maxCaptureBytes = 4 << 20

// maxLineBytes bounds a single emitted line. Longer runs without a newline
// are emitted in pieces of this size.
const maxLineBytes = 1 << 20

const truncatedMarker = "\n[output truncated]\n"

// lineCapture is an io.Writer that keeps a bounded copy of everything written
// and hands each complete line to emit as soon as it is seen.
type lineCapture struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	partial   []byte
	truncated bool
	emit      func(line string)
}

func newLineCapture(emit func(line string)) *lineCapture {
	return &lineCapture{emit: emit}
}

func (c *lineCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if room := maxCaptureBytes - c.buf.Len(); room > 0 {
		if len(p) <= room {
			c.buf.Write(p)
		} else {
			c.buf.Write(p[:room])
			c.truncated = true
		}
	} else if len(p) > 0 {
		c.truncated = true
	}

	if c.emit == nil {
		return len(p), nil
	}

	data := append(c.partial, p...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		c.emit(string(data[:i]))
		data = data[i+1:]
	}
	for len(data) >= maxLineBytes {
		c.emit(string(data[:maxLineBytes]))
		data = data[maxLineBytes:]
	}
	c.partial = append(c.partial[:0], data...)
	return len(p), nil
}

// Flush emits a trailing line that had no newline.
func (c *lineCapture) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.emit != nil && len(c.partial) > 0 {
		c.emit(string(c.partial))
	}
	c.partial = nil
}

// Bytes returns the captured output.
func (c *lineCapture) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := bytes.Clone(c.buf.Bytes())
	if c.truncated {
		out = append(out, truncatedMarker...)
	}
	return out
}
