package engine

import "github.com/nmeshed/nmeshed-go/internal/store"

// MergeCore is the narrow interface a collaborative (CRDT) merge
// implementation must satisfy, whether backed by an embedded native
// library or a WebAssembly module. The engine hands it every local
// op and every remote delta and accepts its reported resolution as
// authoritative; it adds no ordering or arbitration of its own.
type MergeCore interface {
	// ApplyLocal records a local write and returns the resolved value.
	ApplyLocal(key string, value []byte, timestamp int64) (resolved []byte, err error)
	// MergeRemote applies a remote delta and returns the resolved value.
	MergeRemote(key string, value []byte, timestamp int64) (resolved []byte, err error)
	// MergeStateVector merges an opaque state vector received from a
	// wire-compatible peer. The engine never parses vector itself; it
	// passes the bytes through verbatim.
	MergeStateVector(vector []byte) error
	// Snapshot serializes the merge core's full state.
	Snapshot() ([]byte, error)
}

// Resolver is the interface behind the two resolution policies
// described in spec §4.2. Both ApplyLocal and MergeRemote report
// whether the store was actually mutated. The engine uses
// MergeRemote's report to decide whether to emit a remote change
// event; a local write always emits one.
type Resolver interface {
	ApplyLocal(s *store.Store, key string, value []byte, timestamp int64) (mutated bool)
	MergeRemote(s *store.Store, key string, value []byte, timestamp int64) (mutated bool)
}

// LWWResolver implements last-writer-wins: an incoming op with
// timestamp T overwrites the stored value iff T >= stored timestamp.
// Ties prefer the incoming op, which makes idempotent replay stable.
type LWWResolver struct{}

func (LWWResolver) ApplyLocal(s *store.Store, key string, value []byte, timestamp int64) bool {
	return applyLWW(s, key, value, timestamp)
}

func (LWWResolver) MergeRemote(s *store.Store, key string, value []byte, timestamp int64) bool {
	return applyLWW(s, key, value, timestamp)
}

func applyLWW(s *store.Store, key string, value []byte, timestamp int64) bool {
	if existing, ok := s.Get(key); ok && timestamp < existing.Timestamp {
		// A remote op that predates the stored value's timestamp is
		// dropped silently.
		return false
	}

	if len(value) == 0 {
		return s.Delete(key)
	}

	s.Set(key, store.Entry{Value: value, Timestamp: timestamp})
	return true
}

// CollaborativeResolver delegates all ordering decisions to an
// injected MergeCore; see spec §4.2 and §9 ("From an injected opaque
// merge core to a trait").
type CollaborativeResolver struct {
	Core MergeCore
}

func (r CollaborativeResolver) ApplyLocal(s *store.Store, key string, value []byte, timestamp int64) bool {
	resolved, err := r.Core.ApplyLocal(key, value, timestamp)
	if err != nil {
		return false
	}
	return installResolved(s, key, resolved, timestamp)
}

func (r CollaborativeResolver) MergeRemote(s *store.Store, key string, value []byte, timestamp int64) bool {
	resolved, err := r.Core.MergeRemote(key, value, timestamp)
	if err != nil {
		return false
	}
	return installResolved(s, key, resolved, timestamp)
}

func installResolved(s *store.Store, key string, resolved []byte, timestamp int64) bool {
	if len(resolved) == 0 {
		return s.Delete(key)
	}
	s.Set(key, store.Entry{Value: resolved, Timestamp: timestamp})
	return true
}

// NoopMergeCore is a reference MergeCore used in tests and as a
// placeholder until a real native/WASM merge library is wired in; it
// behaves like LWW so collaborative-mode tests have deterministic
// behavior without depending on an external library.
type NoopMergeCore struct {
	s *store.Store
}

func NewNoopMergeCore() *NoopMergeCore {
	return &NoopMergeCore{s: store.New()}
}

func (m *NoopMergeCore) ApplyLocal(key string, value []byte, timestamp int64) ([]byte, error) {
	m.s.Set(key, store.Entry{Value: value, Timestamp: timestamp})
	return value, nil
}

func (m *NoopMergeCore) MergeRemote(key string, value []byte, timestamp int64) ([]byte, error) {
	if existing, ok := m.s.Get(key); ok && timestamp < existing.Timestamp {
		return existing.Value, nil
	}
	m.s.Set(key, store.Entry{Value: value, Timestamp: timestamp})
	return value, nil
}

// MergeStateVector is a no-op: without a real wire-compatible peer on
// the other end, there is nothing for the reference core to do with
// an incoming state vector.
func (m *NoopMergeCore) MergeStateVector(vector []byte) error {
	return nil
}

func (m *NoopMergeCore) Snapshot() ([]byte, error) {
	return nil, nil
}
