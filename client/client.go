// Package client implements the nREPL-style client (spec §4.7): it sends
// evaluation requests over a TCP connection and demultiplexes the server's
// responses back to per-request handles by request id. Handles are tracked
// with weak references so a caller that drops its response function without
// reading every response does not leak the outstanding-request record
// forever (spec §8 invariant 6); the library, not the caller, is
// responsible for eventually discarding it.
package client

import (
	"net"
	"runtime"
	"sync"
	"time"
	"weak"

	uuid "github.com/hashicorp/go-uuid"
	"golang.org/x/xerrors"

	"github.com/juergenhoetzel/tools.nrepl/message"
)

// Client is a connection to a server, demultiplexing responses to
// outstanding requests by id. The zero value is not usable; use Connect.
type Client struct {
	conn net.Conn
	enc  *message.Encoder
	dec  *message.Decoder

	mu          sync.Mutex
	outstanding map[string]weak.Pointer[Response]

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// Connect dials addr and starts the background reader that demultiplexes
// responses. The returned Client must eventually be closed.
func Connect(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, xerrors.Errorf("client: dial: %w", err)
	}
	c := &Client{
		conn:        conn,
		enc:         message.NewEncoder(conn),
		dec:         message.NewDecoder(conn),
		outstanding: make(map[string]weak.Pointer[Response]),
		closed:      make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close shuts down the underlying connection and stops the reader.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
		close(c.closed)
	})
	return c.closeErr
}

// SendOption customizes a request built by Send.
type SendOption func(message.Message)

// WithNS overrides the namespace a request evaluates in.
func WithNS(ns string) SendOption {
	return func(m message.Message) { m[message.KeyNS] = ns }
}

// WithSession pins a request to a previously retained session id.
func WithSession(id string) SendOption {
	return func(m message.Message) { m[message.KeySession] = id }
}

// WithTimeout sets the request's server-side evaluation deadline.
func WithTimeout(d time.Duration) SendOption {
	return func(m message.Message) { m[message.KeyTimeout] = int64(d / time.Millisecond) }
}

// WithStdin attaches data the driver reads via its Stdin when the
// evaluated code calls a read operation.
func WithStdin(in string) SendOption {
	return func(m message.Message) { m[message.KeyIn] = in }
}

// Send submits code for evaluation and returns a Response for reading back
// the server's stream of replies (spec §4.7).
func (c *Client) Send(code string, opts ...SendOption) (*Response, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, xerrors.Errorf("client: generate request id: %w", err)
	}
	req := message.New(message.KeyID, id, message.KeyCode, code)
	for _, opt := range opts {
		opt(req)
	}
	return c.sendRaw(id, req)
}

// sendRaw registers id's outstanding record before writing req, so that a
// response racing ahead of the caller's return from Send is never missed.
func (c *Client) sendRaw(id string, req message.Message) (*Response, error) {
	r := &Response{id: id, client: c, queue: newRespQueue()}

	c.mu.Lock()
	c.outstanding[id] = weak.Make(r)
	c.mu.Unlock()

	runtime.AddCleanup(r, func(id string) {
		c.mu.Lock()
		delete(c.outstanding, id)
		c.mu.Unlock()
	}, id)

	if err := c.enc.Encode(req); err != nil {
		c.mu.Lock()
		delete(c.outstanding, id)
		c.mu.Unlock()
		return nil, xerrors.Errorf("client: write request: %w", err)
	}
	return r, nil
}

// readLoop is the sole reader of the connection, dispatching each decoded
// message to the outstanding Response named by its id. A response whose
// Response has already been reclaimed is dropped: nothing is waiting for
// it (spec §8 invariant 6). When the connection fails or is closed, every
// live Response's queue is closed so that waiting callers see ok=false.
func (c *Client) readLoop() {
	for {
		m, err := c.dec.Decode()
		if err != nil {
			c.mu.Lock()
			for _, wp := range c.outstanding {
				if r := wp.Value(); r != nil {
					close(r.queue.ch)
				}
			}
			c.mu.Unlock()
			return
		}
		id := m.String(message.KeyID)
		if id == "" {
			continue
		}
		c.mu.Lock()
		wp, ok := c.outstanding[id]
		c.mu.Unlock()
		if !ok {
			continue
		}
		if r := wp.Value(); r != nil {
			r.queue.push(m)
		}
	}
}
