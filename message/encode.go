package message

import (
	"io"
	"strconv"
	"strings"
	"sync"
)

// Encoder writes framed messages to an underlying stream. A single Encoder
// serializes concurrent writers with an internal mutex so that one message
// is never interleaved with another on the wire (spec §4.1).
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one framed message: a pair count followed by that many
// alternating key/value tokens, one pair per line.
func (e *Encoder) Encode(m Message) error {
	var sb strings.Builder
	keys := sortedKeys(m)
	sb.WriteString(strconv.Itoa(len(keys)))
	sb.WriteByte('\n')
	for _, k := range keys {
		writeSymbol(&sb, k)
		sb.WriteByte(' ')
		writeToken(&sb, m[k])
		sb.WriteByte('\n')
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := io.WriteString(e.w, sb.String())
	return err
}

// writeSymbol appends k as an unquoted bareword token when it is safe to do
// so (the common case for message keys, which are short ASCII identifiers
// like "id" or "session-id"), falling back to a quoted string otherwise so
// that decoding — which coerces any key token to a string regardless of
// quoting — still round-trips it.
func writeSymbol(sb *strings.Builder, s string) {
	if s == "" || !isBareword(s) {
		sb.WriteString(strconv.Quote(s))
		return
	}
	sb.WriteString(s)
}

func isBareword(s string) bool {
	for _, r := range s {
		if isTokenBoundary(r) {
			return false
		}
	}
	switch s {
	case "nil", "true", "false":
		return false
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return false
	}
	return true
}
