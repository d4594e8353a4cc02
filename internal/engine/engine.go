// Package engine implements the Sync Engine: the sole owner and
// mutator of the Store, applying local writes, merging remote
// packets, and fanning out typed events to subscribers.
package engine

import (
	"fmt"

	"github.com/nmeshed/nmeshed-go/internal/codec"
	"github.com/nmeshed/nmeshed-go/internal/store"
	"github.com/nmeshed/nmeshed-go/internal/wire"
	"github.com/nmeshed/nmeshed-go/pkg/log"
)

// SyncMode selects a resolution policy at construction time.
type SyncMode string

const (
	SyncModeCRDT SyncMode = "crdt"
	SyncModeLWW  SyncMode = "lww"
)

// EngineError is returned by ApplyLocal for an invalid request.
type EngineError struct {
	Reason string
}

func (e *EngineError) Error() string { return "engine: " + e.Reason }

// ApplyResult reports what merging a remote packet did.
type ApplyResult int

const (
	ResultIgnored ApplyResult = iota
	ResultOp
	ResultInit
	ResultSignal
	ResultSync
)

type (
	OpListener        func(key string, value []byte, isLocal bool)
	InitListener      func(state map[string][]byte)
	ReadyListener     func()
	EphemeralListener func(payload []byte, from string, hasFrom bool)
	AckListener       func(ackSeq uint64)
)

// Engine owns the Store exclusively; it is the only component that
// mutates it.
type Engine struct {
	workspaceID string
	store       *store.Store
	resolver    Resolver
	router      *wire.Router

	mu       chan struct{} // binary semaphore guarding the subscriber slices below
	opSubs   []OpListener
	initSubs []InitListener
	rdySubs  []ReadyListener
	ephSubs  []EphemeralListener
	ackSubs  []AckListener
}

// New constructs an Engine bound to one workspace for one resolution
// policy. An unrecognized mode is rejected by the caller (see
// internal/config) before this constructor is reached.
func New(workspaceID string, mode SyncMode, core MergeCore) *Engine {
	var resolver Resolver
	switch mode {
	case SyncModeLWW:
		resolver = LWWResolver{}
	default:
		if core == nil {
			core = NewNoopMergeCore()
		}
		resolver = CollaborativeResolver{Core: core}
	}

	e := &Engine{
		workspaceID: workspaceID,
		store:       store.New(),
		resolver:    resolver,
		router:      &wire.Router{},
		mu:          make(chan struct{}, 1),
	}
	e.mu <- struct{}{}
	return e
}

func (e *Engine) lock()   { <-e.mu }
func (e *Engine) unlock() { e.mu <- struct{}{} }

// ApplyLocal writes a local change and returns the binary Op packet
// suitable for transport.
func (e *Engine) ApplyLocal(key string, value []byte, timestamp int64) ([]byte, error) {
	if key == "" {
		return nil, &EngineError{Reason: "key must not be empty"}
	}

	e.resolver.ApplyLocal(e.store, key, value, timestamp)
	e.emitOp(key, value, true)

	return wire.EncodeOp(e.workspaceID, key, value, timestamp), nil
}

// MergeRemote parses packetBytes through the Router and applies it.
// Unknown or malformed frames produce ResultIgnored without mutating
// the Store.
func (e *Engine) MergeRemote(packetBytes []byte) ApplyResult {
	msg := e.router.Parse(packetBytes)
	if msg == nil {
		return ResultIgnored
	}

	switch {
	case msg.Op != nil:
		mutated := e.resolver.MergeRemote(e.store, msg.Op.Key, msg.Op.Value, msg.Op.Timestamp)
		if mutated {
			e.emitOp(msg.Op.Key, msg.Op.Value, false)
			return ResultOp
		}
		return ResultIgnored
	case msg.Init != nil:
		e.loadEntries(msg.Init.State)
		e.emitInit(msg.Init.State)
		e.emitReady()
		return ResultInit
	case msg.Sync != nil:
		e.mergeSync(msg.Sync)
		return ResultSync
	case msg.Signal != nil:
		e.emitEphemeral(msg.Signal.Payload, msg.Signal.From, msg.Signal.HasFrom)
		return ResultSignal
	default:
		return ResultIgnored
	}
}

// mergeSync applies an inbound Sync packet per SPEC_FULL.md §4.2: a
// present snapshot decodes as the bulk Value-Codec mapping encoding of
// the Store and replaces its contents via loadEntries/LoadSnapshot; a
// present state vector is opaque and passed through verbatim to a
// collaborative MergeCore, which the engine never inspects; a present
// ack sequence is advisory only and surfaced to subscribers as a
// drain checkpoint hint, never required for correctness.
func (e *Engine) mergeSync(sync *wire.SyncMessage) {
	if len(sync.Snapshot) > 0 {
		v, err := codec.Decode(sync.Snapshot)
		if err != nil || v.Kind != codec.KindMap {
			log.Warnf("engine: malformed Sync snapshot: %v", err)
		} else {
			state := make(map[string][]byte, len(v.Map))
			for k, entry := range v.Map {
				encoded, err := codec.Encode(entry)
				if err != nil {
					log.Warnf("engine: re-encoding Sync snapshot entry %q failed: %s", k, err)
					continue
				}
				state[k] = encoded
			}
			e.LoadSnapshot(state)
		}
	}

	if len(sync.StateVector) > 0 {
		if cr, ok := e.resolver.(CollaborativeResolver); ok {
			if err := cr.Core.MergeStateVector(sync.StateVector); err != nil {
				log.Warnf("engine: state vector merge failed: %s", err)
			}
		}
	}

	if sync.HasAckSeq {
		e.emitAck(sync.AckSeq)
	}
}

// LoadSnapshot replaces the Store's contents with state, a map from key
// to encoded value bytes. Decoding a Sync snapshot's Value-Codec
// mapping encoding into this form happens in mergeSync.
func (e *Engine) LoadSnapshot(state map[string][]byte) {
	e.loadEntries(state)
}

func (e *Engine) loadEntries(state map[string][]byte) {
	entries := make(map[string]store.Entry, len(state))
	for k, v := range state {
		entries[k] = store.Entry{Value: v}
	}
	e.store.Replace(entries)
}

// GetSnapshot returns a copy of the entire Store as a key->value-bytes
// map. It does not produce a byte encoding of the Store, and the
// facade exposes no snapshot call.
func (e *Engine) GetSnapshot() map[string][]byte {
	all := e.store.All()
	out := make(map[string][]byte, len(all))
	for k, v := range all {
		out[k] = v.Value
	}
	return out
}

// Get returns the current value for key, if any.
func (e *Engine) Get(key string) ([]byte, bool) {
	entry, ok := e.store.Get(key)
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// AllValues returns every key/value currently in the Store.
func (e *Engine) AllValues() map[string][]byte {
	return e.GetSnapshot()
}

// --- subscriptions ---

func (e *Engine) OnOp(l OpListener) func() {
	e.lock()
	e.opSubs = append(e.opSubs, l)
	idx := len(e.opSubs) - 1
	e.unlock()
	return func() { e.removeOpSub(idx) }
}

func (e *Engine) OnInit(l InitListener) func() {
	e.lock()
	e.initSubs = append(e.initSubs, l)
	idx := len(e.initSubs) - 1
	e.unlock()
	return func() { e.removeInitSub(idx) }
}

func (e *Engine) OnReady(l ReadyListener) func() {
	e.lock()
	e.rdySubs = append(e.rdySubs, l)
	idx := len(e.rdySubs) - 1
	e.unlock()
	return func() { e.removeReadySub(idx) }
}

func (e *Engine) OnEphemeral(l EphemeralListener) func() {
	e.lock()
	e.ephSubs = append(e.ephSubs, l)
	idx := len(e.ephSubs) - 1
	e.unlock()
	return func() { e.removeEphemeralSub(idx) }
}

func (e *Engine) OnAck(l AckListener) func() {
	e.lock()
	e.ackSubs = append(e.ackSubs, l)
	idx := len(e.ackSubs) - 1
	e.unlock()
	return func() { e.removeAckSub(idx) }
}

func (e *Engine) removeOpSub(idx int) {
	e.lock()
	defer e.unlock()
	if idx >= 0 && idx < len(e.opSubs) {
		e.opSubs[idx] = nil
	}
}

func (e *Engine) removeInitSub(idx int) {
	e.lock()
	defer e.unlock()
	if idx >= 0 && idx < len(e.initSubs) {
		e.initSubs[idx] = nil
	}
}

func (e *Engine) removeReadySub(idx int) {
	e.lock()
	defer e.unlock()
	if idx >= 0 && idx < len(e.rdySubs) {
		e.rdySubs[idx] = nil
	}
}

func (e *Engine) removeEphemeralSub(idx int) {
	e.lock()
	defer e.unlock()
	if idx >= 0 && idx < len(e.ephSubs) {
		e.ephSubs[idx] = nil
	}
}

func (e *Engine) removeAckSub(idx int) {
	e.lock()
	defer e.unlock()
	if idx >= 0 && idx < len(e.ackSubs) {
		e.ackSubs[idx] = nil
	}
}

func (e *Engine) emitOp(key string, value []byte, isLocal bool) {
	e.lock()
	snapshot := append([]OpListener(nil), e.opSubs...)
	e.unlock()

	for _, l := range snapshot {
		if l == nil {
			continue
		}
		dispatchOp(l, key, value, isLocal)
	}
}

func (e *Engine) emitInit(state map[string][]byte) {
	e.lock()
	snapshot := append([]InitListener(nil), e.initSubs...)
	e.unlock()

	for _, l := range snapshot {
		if l == nil {
			continue
		}
		dispatchInit(l, state)
	}
}

func (e *Engine) emitReady() {
	e.lock()
	snapshot := append([]ReadyListener(nil), e.rdySubs...)
	e.unlock()

	for _, l := range snapshot {
		if l == nil {
			continue
		}
		dispatchReady(l)
	}
}

func (e *Engine) emitEphemeral(payload []byte, from string, hasFrom bool) {
	e.lock()
	snapshot := append([]EphemeralListener(nil), e.ephSubs...)
	e.unlock()

	for _, l := range snapshot {
		if l == nil {
			continue
		}
		dispatchEphemeral(l, payload, from, hasFrom)
	}
}

func (e *Engine) emitAck(ackSeq uint64) {
	e.lock()
	snapshot := append([]AckListener(nil), e.ackSubs...)
	e.unlock()

	for _, l := range snapshot {
		if l == nil {
			continue
		}
		dispatchAck(l, ackSeq)
	}
}

// dispatch* catch a panicking subscriber so it cannot silence
// delivery to later subscribers, per spec §4.2 emission ordering.

func dispatchOp(l OpListener, key string, value []byte, isLocal bool) {
	defer recoverSubscriber("op")
	l(key, value, isLocal)
}

func dispatchInit(l InitListener, state map[string][]byte) {
	defer recoverSubscriber("init")
	l(state)
}

func dispatchReady(l ReadyListener) {
	defer recoverSubscriber("ready")
	l()
}

func dispatchEphemeral(l EphemeralListener, payload []byte, from string, hasFrom bool) {
	defer recoverSubscriber("ephemeral")
	l(payload, from, hasFrom)
}

func dispatchAck(l AckListener, ackSeq uint64) {
	defer recoverSubscriber("ack")
	l(ackSeq)
}

func recoverSubscriber(event string) {
	if r := recover(); r != nil {
		log.Errorf("engine: %s subscriber panicked: %s", event, fmt.Sprint(r))
	}
}
