// Package worker implements the request worker pool (spec §4.5): each
// dispatched request gets a cancellable goroutine pair — one running the
// evaluation, one enforcing the deadline and emitting the terminal status —
// tracked in a pending-requests registry keyed by request id.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juergenhoetzel/tools.nrepl/message"
)

// Run is the unit of work a Pool dispatches: it must evaluate the request,
// calling emit for every non-terminal response, and return once finished.
// It must poll interrupted and stop promptly once it reports true.
type Run func(ctx context.Context, interrupted func() bool, emit func(message.Message))

// Pool tracks in-flight requests by id so that a separate caller (an
// incoming :interrupt request on the client's behalf) can cancel them.
// The zero value is not usable; use NewPool.
type Pool struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
}

type pendingRequest struct {
	interruptOnce sync.Once
	interruptCh   chan struct{}
}

func newPendingRequest() *pendingRequest {
	return &pendingRequest{interruptCh: make(chan struct{})}
}

func (p *pendingRequest) interrupt() {
	p.interruptOnce.Do(func() { close(p.interruptCh) })
}

// NewPool returns an empty Pool.
func NewPool() *Pool {
	return &Pool{pending: make(map[string]*pendingRequest)}
}

// Dispatch submits run for evaluation under a deadline of timeout, relative
// to parent. It returns immediately; run executes asynchronously. emit is
// called with the request's terminal status response — "done", "timeout",
// "interrupted", or "server-failure" — exactly once, after which the
// pending entry for id is gone and any of run's own emissions are dropped
// (spec §4.5's "outer filter").
//
// The run callback receives its own emit function, guarded so that once the
// request is interrupted or past its deadline, or the terminal status has
// been decided, further calls are silently dropped —
// this is what prevents a "done" from escaping a request that has already
// been reported "timeout" or "interrupted".
func (p *Pool) Dispatch(parent context.Context, id string, timeout time.Duration, run Run, emit func(message.Message)) {
	ctx, cancelTimeout := context.WithTimeout(parent, timeout)
	pr := newPendingRequest()
	p.register(id, pr)

	interrupted := func() bool {
		select {
		case <-pr.interruptCh:
			return true
		case <-ctx.Done():
			return true
		default:
			return false
		}
	}

	var suppressed atomic.Bool
	guardedEmit := func(m message.Message) {
		if suppressed.Load() || interrupted() {
			return
		}
		emit(m)
	}

	var failure atomic.Pointer[string]

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				msg := fmt.Sprintf("%v", r)
				failure.Store(&msg)
			}
		}()
		run(ctx, interrupted, guardedEmit)
	}()

	go func() {
		var status string
		select {
		case <-done:
			switch {
			case failure.Load() != nil:
				status = message.StatusServerFailure
			case wasClosed(pr.interruptCh):
				status = message.StatusInterrupted
			case ctx.Err() == context.DeadlineExceeded:
				status = message.StatusTimeout
			default:
				status = message.StatusDone
			}
		case <-pr.interruptCh:
			suppressed.Store(true)
			status = message.StatusInterrupted
		case <-ctx.Done():
			suppressed.Store(true)
			status = message.StatusTimeout
			pr.interrupt()
		}
		cancelTimeout()
		p.unregister(id)
		resp := message.New(message.KeyStatus, status)
		if status == message.StatusServerFailure {
			if msg := failure.Load(); msg != nil {
				resp[message.KeyError] = *msg
			}
		}
		emit(resp)
	}()
}

// Interrupt requests cancellation of the pending request identified by id.
// It is best-effort: the flag is set and the worker's blocking points are
// signalled, but a tight CPU loop with no interrupt check is not forcibly
// stopped (spec §4.5). It reports whether id was a known pending request.
func (p *Pool) Interrupt(id string) bool {
	p.mu.Lock()
	pr, ok := p.pending[id]
	p.mu.Unlock()
	if !ok {
		return false
	}
	pr.interrupt()
	return true
}

func (p *Pool) register(id string, pr *pendingRequest) {
	p.mu.Lock()
	p.pending[id] = pr
	p.mu.Unlock()
}

func (p *Pool) unregister(id string) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

func wasClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
