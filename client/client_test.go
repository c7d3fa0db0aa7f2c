package client_test

import (
	"net"
	"runtime"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/juergenhoetzel/tools.nrepl/client"
	"github.com/juergenhoetzel/tools.nrepl/message"
)

// serverSide accepts one connection off ln and returns its decoder/encoder.
func serverSide(t *testing.T, ln net.Listener) (*message.Decoder, *message.Encoder, net.Conn) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	return message.NewDecoder(conn), message.NewEncoder(conn), conn
}

func TestSendAndNextRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	srvReady := make(chan struct{})
	go func() {
		dec, enc, conn := serverSide(t, ln)
		defer conn.Close()
		close(srvReady)
		req, err := dec.Decode()
		if err != nil {
			return
		}
		id := req.String(message.KeyID)
		enc.Encode(message.New(message.KeyID, id, message.KeyValue, "42"))
		enc.Encode(message.New(message.KeyID, id, message.KeyStatus, message.StatusDone))
	}()

	c, err := client.Connect(ln.Addr().String())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	resp, err := c.Send("(+ 1 2)")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	m1, ok := resp.Next(2 * time.Second)
	if !ok || m1.String(message.KeyValue) != "42" {
		t.Fatalf("got %#v ok=%v", m1, ok)
	}
	m2, ok := resp.Next(2 * time.Second)
	if !ok || m2.String(message.KeyStatus) != message.StatusDone {
		t.Fatalf("got %#v ok=%v", m2, ok)
	}
}

func TestResponseSeqCollectsUntilTerminal(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		dec, enc, conn := serverSide(t, ln)
		defer conn.Close()
		req, err := dec.Decode()
		if err != nil {
			return
		}
		id := req.String(message.KeyID)
		enc.Encode(message.New(message.KeyID, id, message.KeyOut, "hi"))
		enc.Encode(message.New(message.KeyID, id, message.KeyValue, "1"))
		enc.Encode(message.New(message.KeyID, id, message.KeyStatus, message.StatusDone))
	}()

	c, err := client.Connect(ln.Addr().String())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	resp, err := c.Send("1")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	seq := client.ResponseSeq(resp, 2*time.Second)
	if len(seq) != 3 {
		t.Fatalf("got %#v", seq)
	}
	combined := client.CombineResponses(seq)
	if combined.String(message.KeyOut) != "hi" {
		t.Fatalf("got %#v", combined)
	}
	if diff := cmp.Diff([]any{"1"}, combined[message.KeyValue]); diff != "" {
		t.Fatalf("value (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]any{message.StatusDone}, combined[message.KeyStatus]); diff != "" {
		t.Fatalf("status (-want +got):\n%s", diff)
	}

	// Combining an already-combined result is idempotent modulo the
	// value-wrapping rule: the already-combined "value" (a list) becomes
	// the sole element of a new list, rather than being flattened.
	again := client.CombineResponses([]message.Message{combined})
	if again.String(message.KeyOut) != combined.String(message.KeyOut) {
		t.Fatalf("out changed across re-combine: %#v vs %#v", again, combined)
	}
	if diff := cmp.Diff([]any{combined[message.KeyValue]}, again[message.KeyValue]); diff != "" {
		t.Fatalf("re-combined value (-want +got):\n%s", diff)
	}
}

func TestCombineResponsesCollectsMultipleValuesIntoOrderedList(t *testing.T) {
	seq := []message.Message{
		message.New(message.KeyValue, "1"),
		message.New(message.KeyValue, "2"),
		message.New(message.KeyValue, "3"),
		message.New(message.KeyStatus, message.StatusDone),
	}
	combined := client.CombineResponses(seq)
	if diff := cmp.Diff([]any{"1", "2", "3"}, combined[message.KeyValue]); diff != "" {
		t.Fatalf("value (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]any{message.StatusDone}, combined[message.KeyStatus]); diff != "" {
		t.Fatalf("status (-want +got):\n%s", diff)
	}
}

func TestInterruptSendsInterruptIDAndWaitsForDone(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		dec, enc, conn := serverSide(t, ln)
		defer conn.Close()
		// First request: the long-running eval. Never respond to it.
		_, err := dec.Decode()
		if err != nil {
			return
		}
		// Second request: the interrupt. Assert it carries interrupt-id and
		// reply done for it specifically.
		ireq, err := dec.Decode()
		if err != nil {
			return
		}
		if ireq.String(message.KeyInterruptID) == "" {
			t.Errorf("expected interrupt-id on second request, got %#v", ireq)
		}
		enc.Encode(message.New(message.KeyID, ireq.String(message.KeyID), message.KeyStatus, message.StatusDone))
	}()

	c, err := client.Connect(ln.Addr().String())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	resp, err := c.Send("(loop-forever)")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := resp.Interrupt(2 * time.Second); err != nil {
		t.Fatalf("interrupt: %v", err)
	}
}

func TestReadResponseValue(t *testing.T) {
	parse := func(s string) (any, error) { return s + "!", nil }
	m := message.New(message.KeyValue, "3")
	v, err := client.ReadResponseValue(m, parse)
	if err != nil || v != "3!" {
		t.Fatalf("got %v, %v", v, err)
	}

	empty := message.New(message.KeyStatus, message.StatusDone)
	v, err = client.ReadResponseValue(empty, parse)
	if err != nil || v != nil {
		t.Fatalf("expected nil, nil for a valueless message, got %v, %v", v, err)
	}
}

func TestReclaimedResponseIsDroppedNotLeaked(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	idCh := make(chan string, 1)
	go func() {
		dec, _, conn := serverSide(t, ln)
		defer conn.Close()
		req, err := dec.Decode()
		if err != nil {
			return
		}
		idCh <- req.String(message.KeyID)
	}()

	c, err := client.Connect(ln.Addr().String())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	func() {
		resp, err := c.Send("1")
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		_ = resp.ID()
		// Deliberately let resp go out of scope unread.
	}()

	<-idCh

	for i := 0; i < 10; i++ {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
	// No assertion beyond "this does not deadlock or panic": the cleanup
	// runs on its own schedule. A leak here would only show up as
	// unbounded growth of c's outstanding map under sustained load, which
	// is exactly what the weak-reference design avoids.
}
