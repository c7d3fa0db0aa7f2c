// Package session implements the retained evaluation session model:
// mutable evaluator bindings (current namespace, last values, last
// exception, printer toggles) that may be pinned across connections by an
// opaque id (spec §4.2).
package session

import (
	"sync"

	uuid "github.com/hashicorp/go-uuid"
)

// Printer holds the evaluator's printer/runtime toggles, all independently
// settable per spec §3.
type Printer struct {
	PrettyPrint      bool
	PrintLength      int
	PrintLevel       int
	PrintMeta        bool
	WarnOnReflection bool
	MathContext      string
	CompilePath      string
	CommandLineArgs  []string
	DetailOnError    bool
}

// DefaultPrinter returns the printer toggle defaults a freshly created
// session starts with.
func DefaultPrinter() Printer {
	return Printer{
		PrintLength: -1,
		PrintLevel:  -1,
	}
}

// State is the mutable record of one evaluation session (spec §3). A State
// is owned exclusively by the connection that created it until Retained
// becomes true, at which point the Store may hand it to any connection
// that binds to its ID.
type State struct {
	mu sync.Mutex

	NS            string
	V1, V2, V3    any
	LastException error
	Printer       Printer

	id       string
	retained bool
}

// New returns a freshly initialized session state, unretained, in the "user"
// namespace.
func New() *State {
	return &State{
		NS:      "user",
		Printer: DefaultPrinter(),
	}
}

// ID returns the session's opaque id once retained, or "" if it has never
// been retained.
func (s *State) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Lock and Unlock serialize mutation of V1/V2/V3/NS/LastException by the
// single worker currently evaluating a request against this session (spec
// §3's ownership note; §5 permits last-writer-wins across connections).
func (s *State) Lock()   { s.mu.Lock() }
func (s *State) Unlock() { s.mu.Unlock() }

// RotateValues implements the v3←v2, v2←v1, v1←result rotation performed
// after each printed value (spec §4.4 step 2). Caller must hold the lock.
func (s *State) RotateValues(result any) {
	s.V3, s.V2, s.V1 = s.V2, s.V1, result
}

// Store is a concurrent mapping from session id to session state handle
// (spec §4.2). The zero value is not usable; use NewStore.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*State
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*State)}
}

// Retain installs state under a fresh id if it has none, or returns the id
// it was already retained under (idempotent retain, spec §4.2).
func (st *Store) Retain(state *State) (string, error) {
	state.mu.Lock()
	if state.retained {
		id := state.id
		state.mu.Unlock()
		return id, nil
	}
	id, err := uuid.GenerateUUID()
	if err != nil {
		state.mu.Unlock()
		return "", err
	}
	state.id = id
	state.retained = true
	state.mu.Unlock()

	st.mu.Lock()
	st.sessions[id] = state
	st.mu.Unlock()
	return id, nil
}

// Release removes the session previously retained under state's id,
// reporting whether it was present. It is a no-op returning false for a
// state that was never retained.
func (st *Store) Release(state *State) bool {
	state.mu.Lock()
	id := state.id
	wasRetained := state.retained
	state.retained = false
	state.mu.Unlock()
	if !wasRetained {
		return false
	}

	st.mu.Lock()
	_, found := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()
	return found
}

// Lookup returns the session state retained under id, or nil if absent.
func (st *Store) Lookup(id string) *State {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sessions[id]
}
