package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/juergenhoetzel/tools.nrepl/message"
)

// terminalStatuses names the statuses that end a ResponseSeq. It matches
// the source behavior rather than every status worker.Pool can emit:
// "server-failure" is deliberately excluded (see DESIGN.md), so a caller
// evaluating untrusted code that crashes the driver must fall back to
// Response.Next with its own timeout rather than relying on ResponseSeq
// to terminate.
var terminalStatuses = map[string]bool{
	message.StatusDone:        true,
	message.StatusTimeout:     true,
	message.StatusInterrupted: true,
}

// ResponseSeq drains r until a terminal status is observed or timeout
// elapses between responses, returning everything collected (spec §4.7.1).
func ResponseSeq(r *Response, timeout time.Duration) []message.Message {
	var seq []message.Message
	for {
		m, ok := r.Next(timeout)
		if !ok {
			return seq
		}
		seq = append(seq, m)
		if terminalStatuses[m.String(message.KeyStatus)] {
			return seq
		}
	}
}

// CombineResponses folds a sequence of responses into one message per spec
// §4.7.2's per-key rules: "ns" and "id" take the last value seen; "value"
// is collected into an ordered list (wrapped as a length-one list even for
// a single response, so callers never have to special-case the count);
// "status" is collected into a set of the distinct statuses seen, in
// first-seen order; string-valued keys such as "out"/"err" are
// concatenated in arrival order; every other key is last-wins. Per
// invariant §8.3, combining an already-combined result is idempotent
// modulo the value-wrapping rule: a "value" that is already a list gets
// appended as one element of the new list, not flattened into it.
func CombineResponses(seq []message.Message) message.Message {
	out := message.Message{}
	var outText, errText strings.Builder
	var values []any
	var statuses []any
	seenStatus := map[string]bool{}

	for _, m := range seq {
		for k, v := range m {
			switch k {
			case message.KeyValue:
				values = append(values, v)
			case message.KeyStatus:
				ss, ok := v.([]any)
				if !ok {
					ss = []any{v}
				}
				for _, e := range ss {
					if s, ok := e.(string); ok && !seenStatus[s] {
						seenStatus[s] = true
						statuses = append(statuses, s)
					}
				}
			case message.KeyOut:
				if s, ok := v.(string); ok {
					outText.WriteString(s)
				}
			case message.KeyErr:
				if s, ok := v.(string); ok {
					errText.WriteString(s)
				}
			default:
				out[k] = v
			}
		}
	}

	if len(values) > 0 {
		out[message.KeyValue] = values
	}
	if len(statuses) > 0 {
		out[message.KeyStatus] = statuses
	}
	if outText.Len() > 0 {
		out[message.KeyOut] = outText.String()
	}
	if errText.Len() > 0 {
		out[message.KeyErr] = errText.String()
	}
	return out
}

// ValueParseError wraps a failure to parse a response's "value" field
// back into a runtime value.
type ValueParseError struct {
	Text string
	Err  error
}

func (e *ValueParseError) Error() string {
	return fmt.Sprintf("client: parsing response value %q: %v", e.Text, e.Err)
}

func (e *ValueParseError) Unwrap() error { return e.Err }

// ReadResponseValue parses m's "value" field, if present, using parse —
// ordinarily the runtime's own reader, the same one eval.Reader wraps
// server-side. It returns (nil, nil) if m carries no value (spec §4.7.4).
func ReadResponseValue(m message.Message, parse func(string) (any, error)) (any, error) {
	text := m.String(message.KeyValue)
	if text == "" {
		return nil, nil
	}
	v, err := parse(text)
	if err != nil {
		return nil, &ValueParseError{Text: text, Err: err}
	}
	return v, nil
}
