package client

import (
	"time"

	uuid "github.com/hashicorp/go-uuid"
	"golang.org/x/xerrors"

	"github.com/juergenhoetzel/tools.nrepl/message"
)

// Response is the handle Client.Send returns: a demultiplexed stream of
// the messages the server emits for one request id (spec §4.7).
type Response struct {
	id     string
	client *Client
	queue  *respQueue
}

// ID returns the request id this Response was issued for.
func (r *Response) ID() string { return r.id }

// Next blocks for the request's next response. A timeout <= 0 blocks
// indefinitely; this is "called with no args" in spec §4.7. ok is false
// if timeout elapsed before a response arrived or the connection closed.
func (r *Response) Next(timeout time.Duration) (message.Message, bool) {
	return r.queue.pop(timeout)
}

// Interrupt asks the server to cancel the request this Response was
// issued for, and blocks until the interrupt request's own "done" comes
// back or timeout elapses (spec §4.7.3). It is a distinct wire round trip:
// the base protocol has no dedicated interrupt operation, so it is sent
// as a request carrying interrupt-id instead of code (see DESIGN.md).
func (r *Response) Interrupt(timeout time.Duration) error {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return xerrors.Errorf("client: generate interrupt id: %w", err)
	}
	ir, err := r.client.sendRaw(id, message.New(
		message.KeyID, id,
		message.KeyInterruptID, r.id,
	))
	if err != nil {
		return err
	}
	if _, ok := ir.Next(timeout); !ok {
		return xerrors.Errorf("client: interrupt of %s timed out", r.id)
	}
	return nil
}
