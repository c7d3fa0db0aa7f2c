// Package sink implements the capturing output sink the evaluator writes
// to in place of real stdout/stderr (spec §4.3): writes accumulate into a
// buffer, and Flush atomically swaps it out and emits it as a single
// framed response chunk.
package sink

import (
	"bytes"
	"sync"
)

// Emit is called with the accumulated text on a non-empty Flush. It is the
// caller's responsibility to wrap text into a {id, <stream-key>: text}
// response message (spec §4.3); the sink itself is stream-key-agnostic.
type Emit func(text string)

// Capturing is an io.Writer that buffers writes and flushes them as whole
// chunks. The swap-then-emit sequence in Flush holds the lock for its
// entire duration so writes from other goroutines never interleave with,
// or are lost across, a flush.
type Capturing struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	emit Emit
}

// New returns a Capturing sink that calls emit on each non-empty Flush.
func New(emit Emit) *Capturing {
	return &Capturing{emit: emit}
}

// Write implements io.Writer.
func (c *Capturing) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

// Flush swaps out the current buffer for a fresh one and, if the swapped
// buffer was non-empty, calls emit with its contents.
func (c *Capturing) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buf.Len() == 0 {
		return
	}
	text := c.buf.String()
	c.buf.Reset()
	c.emit(text)
}

// Close flushes any remaining buffered output.
func (c *Capturing) Close() error {
	c.Flush()
	return nil
}
