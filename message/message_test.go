package message

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	var buf bytes.Buffer
	if err := NewEncoder(&buf).Encode(m); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := NewDecoder(&buf).Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return got
}

func TestRoundTripScalarValues(t *testing.T) {
	m := New(
		KeyID, "e1b2",
		KeyCode, "(+ 1 2)",
		KeyTimeout, int64(60000),
	)
	got := roundTrip(t, m)
	if diff := cmp.Diff(map[string]any(m), map[string]any(got)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTripNestedCollections(t *testing.T) {
	m := New(
		"list", []any{int64(1), int64(2), "three"},
		"nested", map[string]any{"a": int64(1), "b": []any{true, false, nil}},
		"ok", true,
		"missing", nil,
	)
	got := roundTrip(t, m)
	if diff := cmp.Diff(map[string]any(m), map[string]any(got)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTripEscapedString(t *testing.T) {
	m := New(KeyValue, "line one\nline \"two\"\ttabbed")
	got := roundTrip(t, m)
	if diff := cmp.Diff(map[string]any(m), map[string]any(got)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeCoercesKeyTokenKind(t *testing.T) {
	// A key emitted as a quoted string must still decode to the same
	// string key as a bareword symbol would.
	const wire = "1\n\"id\" \"abc\"\n"
	got, err := NewDecoder(strings.NewReader(wire)).Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.String(KeyID) != "abc" {
		t.Fatalf("got %#v", got)
	}
}

func TestEncodeEmitsBarewordKeys(t *testing.T) {
	m := New(KeyID, "abc")
	var buf bytes.Buffer
	if err := NewEncoder(&buf).Encode(m); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(buf.String(), "id \"abc\"") {
		t.Fatalf("expected bareword key in wire form, got %q", buf.String())
	}
}

func TestDecodeMalformedCount(t *testing.T) {
	_, err := NewDecoder(strings.NewReader("not-a-count\nid \"x\"\n")).Decode()
	if err == nil {
		t.Fatal("expected a framing error")
	}
	var fe *FramingError
	if !asFramingError(err, &fe) {
		t.Fatalf("expected *FramingError, got %T: %v", err, err)
	}
}

func TestDecodeEOFMidMessage(t *testing.T) {
	_, err := NewDecoder(strings.NewReader("2\nid \"x\"\n")).Decode()
	if err == nil {
		t.Fatal("expected a framing error")
	}
	var fe *FramingError
	if !asFramingError(err, &fe) {
		t.Fatalf("expected *FramingError, got %T: %v", err, err)
	}
}

func asFramingError(err error, target **FramingError) bool {
	fe, ok := err.(*FramingError)
	if ok {
		*target = fe
	}
	return ok
}

func TestEncodeDecodeConcurrentStreamsDoNotInterleave(t *testing.T) {
	// Each call to Encode writes a complete message atomically, so
	// concurrent callers produce readable, individually-decodable frames.
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		go func(i int) {
			enc.Encode(New(KeyID, "x", "i", int64(i)))
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 20; i++ {
		<-done
	}
	dec := NewDecoder(&buf)
	for i := 0; i < 20; i++ {
		if _, err := dec.Decode(); err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
	}
}
