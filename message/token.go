package message

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// A value-level token read from the wire (Decoder.readToken) decodes to a
// Go value of one of string, int64, bool, nil, []any, map[string]any.

func isTokenBoundary(r rune) bool {
	return unicode.IsSpace(r) || r == '(' || r == ')' || r == '{' || r == '}' || r == '"'
}

// writeToken appends the wire encoding of v to sb.
func writeToken(sb *strings.Builder, v any) {
	switch x := v.(type) {
	case nil:
		sb.WriteString("nil")
	case bool:
		if x {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case int:
		sb.WriteString(strconv.Itoa(x))
	case int64:
		sb.WriteString(strconv.FormatInt(x, 10))
	case string:
		sb.WriteString(strconv.Quote(x))
	case []any:
		sb.WriteByte('(')
		for i, e := range x {
			if i > 0 {
				sb.WriteByte(' ')
			}
			writeToken(sb, e)
		}
		sb.WriteByte(')')
	case map[string]any:
		sb.WriteByte('{')
		first := true
		for _, k := range sortedKeys(x) {
			if !first {
				sb.WriteByte(' ')
			}
			first = false
			sb.WriteString(strconv.Quote(k))
			sb.WriteByte(' ')
			writeToken(sb, x[k])
		}
		sb.WriteByte('}')
	default:
		// Unknown host-specific readable token: fall back to its string form
		// rather than failing the whole message.
		sb.WriteString(strconv.Quote(fmt.Sprintf("%v", x)))
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
