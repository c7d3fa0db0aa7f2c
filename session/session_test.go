package session

import "testing"

func TestRetainIsIdempotent(t *testing.T) {
	st := NewStore()
	s := New()
	id1, err := st.Retain(s)
	if err != nil {
		t.Fatalf("Retain: %v", err)
	}
	id2, err := st.Retain(s)
	if err != nil {
		t.Fatalf("second Retain: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("retain not idempotent: %q != %q", id1, id2)
	}
	if got := st.Lookup(id1); got != s {
		t.Fatalf("Lookup did not return the retained state")
	}
}

func TestReleaseRemovesAndReportsPresence(t *testing.T) {
	st := NewStore()
	s := New()
	id, _ := st.Retain(s)

	if !st.Release(s) {
		t.Fatal("Release on a retained session should report true")
	}
	if st.Lookup(id) != nil {
		t.Fatal("session should no longer be retained after Release")
	}
	if st.Release(s) {
		t.Fatal("second Release should report false")
	}
}

func TestLookupMissing(t *testing.T) {
	st := NewStore()
	if st.Lookup("nonexistent") != nil {
		t.Fatal("expected nil for missing session")
	}
}

func TestRotateValues(t *testing.T) {
	s := New()
	s.Lock()
	s.RotateValues(1)
	s.RotateValues(2)
	s.RotateValues(3)
	s.Unlock()

	if s.V1 != 3 || s.V2 != 2 || s.V3 != 1 {
		t.Fatalf("got v1=%v v2=%v v3=%v", s.V1, s.V2, s.V3)
	}
}
