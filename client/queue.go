package client

import (
	"time"

	"github.com/juergenhoetzel/tools.nrepl/message"
)

// respQueue is the per-request response queue an outstanding-request
// record holds (spec §3). It is backed by a generously buffered channel
// rather than an unbounded structure; once queueCapacity responses are
// waiting undrained, further responses for that request are dropped so the
// reader goroutine never blocks.
const queueCapacity = 1024

type respQueue struct {
	ch chan message.Message
}

func newRespQueue() *respQueue {
	return &respQueue{ch: make(chan message.Message, queueCapacity)}
}

func (q *respQueue) push(m message.Message) {
	select {
	case q.ch <- m:
	default:
		// Queue full and caller not draining: drop rather than block the
		// single reader goroutine for every other outstanding request.
	}
}

// pop blocks up to timeout for the next response. timeout <= 0 blocks
// indefinitely, matching "called with no args" in spec §4.7.
func (q *respQueue) pop(timeout time.Duration) (message.Message, bool) {
	if timeout <= 0 {
		m, ok := <-q.ch
		return m, ok
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case m, ok := <-q.ch:
		return m, ok
	case <-t.C:
		return nil, false
	}
}
