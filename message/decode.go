package message

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"sync"

	"golang.org/x/xerrors"
)

// FramingError indicates a malformed count, EOF mid-message, or an
// unreadable token: per spec §4.1 the connection handler must close the
// socket on this error.
type FramingError struct {
	Err error
}

func (e *FramingError) Error() string { return fmt.Sprintf("framing error: %v", e.Err) }
func (e *FramingError) Unwrap() error { return e.Err }

func framingErrorf(format string, args ...any) error {
	return &FramingError{Err: xerrors.Errorf(format, args...)}
}

// Decoder reads framed messages from an underlying stream. Decode holds an
// internal mutex for the whole message, so concurrent callers each receive
// complete messages, the same guarantee Encoder gives writers.
type Decoder struct {
	mu sync.Mutex
	r  *bufio.Reader
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode reads one framed message: a pair count token followed by that
// many alternating key/value tokens, zipped into a Message. Every key
// token is coerced to a string regardless of whether it arrived quoted or
// as a bareword symbol.
func (d *Decoder) Decode() (Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	countTok, err := d.readToken()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, framingErrorf("reading count: %w", err)
	}
	count, err := tokenAsCount(countTok)
	if err != nil {
		return nil, framingErrorf("invalid count %v: %w", countTok, err)
	}

	m := make(Message, count)
	for i := 0; i < count; i++ {
		keyTok, err := d.readToken()
		if err != nil {
			return nil, framingErrorf("reading key %d: %w", i, err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, framingErrorf("key %d is not a string-like token: %#v", i, keyTok)
		}
		val, err := d.readToken()
		if err != nil {
			return nil, framingErrorf("reading value for key %q: %w", key, err)
		}
		m[key] = val
	}
	return m, nil
}

func tokenAsCount(tok any) (int, error) {
	switch v := tok.(type) {
	case int64:
		if v < 0 {
			return 0, xerrors.New("negative count")
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, err
		}
		return n, nil
	default:
		return 0, xerrors.Errorf("count token has unexpected type %T", tok)
	}
}

// readToken reads and decodes the next value-level token from the stream,
// skipping leading whitespace.
func (d *Decoder) readToken() (any, error) {
	r, err := d.skipSpace()
	if err != nil {
		return nil, err
	}
	switch r {
	case '"':
		return d.readQuotedString()
	case '(':
		return d.readList()
	case '{':
		return d.readMap()
	case ')', '}':
		return nil, xerrors.Errorf("unexpected delimiter %q", r)
	default:
		d.r.UnreadRune()
		return d.readBareword()
	}
}

func (d *Decoder) skipSpace() (rune, error) {
	for {
		r, _, err := d.r.ReadRune()
		if err != nil {
			return 0, err
		}
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		return r, nil
	}
}

func (d *Decoder) readQuotedString() (string, error) {
	var sb []rune
	for {
		r, _, err := d.r.ReadRune()
		if err != nil {
			return "", fmt.Errorf("unterminated string: %w", err)
		}
		if r == '"' {
			return string(sb), nil
		}
		if r == '\\' {
			esc, _, err := d.r.ReadRune()
			if err != nil {
				return "", fmt.Errorf("unterminated escape: %w", err)
			}
			switch esc {
			case 'n':
				sb = append(sb, '\n')
			case 't':
				sb = append(sb, '\t')
			case 'r':
				sb = append(sb, '\r')
			case '"', '\\':
				sb = append(sb, esc)
			default:
				sb = append(sb, esc)
			}
			continue
		}
		sb = append(sb, r)
	}
}

func (d *Decoder) readList() ([]any, error) {
	var out []any
	for {
		r, err := d.skipSpace()
		if err != nil {
			return nil, fmt.Errorf("unterminated list: %w", err)
		}
		if r == ')' {
			return out, nil
		}
		d.r.UnreadRune()
		v, err := d.readToken()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
}

func (d *Decoder) readMap() (map[string]any, error) {
	out := make(map[string]any)
	for {
		r, err := d.skipSpace()
		if err != nil {
			return nil, fmt.Errorf("unterminated map: %w", err)
		}
		if r == '}' {
			return out, nil
		}
		d.r.UnreadRune()
		kTok, err := d.readToken()
		if err != nil {
			return nil, err
		}
		key, ok := kTok.(string)
		if !ok {
			return nil, xerrors.Errorf("map key is not a string-like token: %#v", kTok)
		}
		val, err := d.readToken()
		if err != nil {
			return nil, err
		}
		out[key] = val
	}
}

// readBareword reads an unquoted token up to the next whitespace or
// delimiter and classifies it as nil, a bool, an integer, or a bare
// string (used verbatim as a symbol-kind key or value).
func (d *Decoder) readBareword() (any, error) {
	var sb []rune
	for {
		r, _, err := d.r.ReadRune()
		if err != nil {
			if err == io.EOF && len(sb) > 0 {
				break
			}
			return nil, err
		}
		if isTokenBoundary(r) {
			d.r.UnreadRune()
			break
		}
		sb = append(sb, r)
	}
	if len(sb) == 0 {
		return nil, xerrors.New("empty token")
	}
	s := string(sb)
	switch s {
	case "nil":
		return nil, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	return s, nil
}
