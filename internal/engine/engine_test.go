package engine

import (
	"testing"

	"github.com/nmeshed/nmeshed-go/internal/codec"
	"github.com/nmeshed/nmeshed-go/internal/wire"
)

func encodeNumber(t *testing.T, n float64) []byte {
	t.Helper()
	b, err := codec.Encode(codec.Number(n))
	if err != nil {
		t.Fatalf("codec.Encode() error = %v", err)
	}
	return b
}

func decodeNumber(t *testing.T, b []byte) float64 {
	t.Helper()
	v, err := codec.Decode(b)
	if err != nil {
		t.Fatalf("codec.Decode() error = %v", err)
	}
	return v.Num
}

// TestScenario4LWWHighestTimestampWins is spec.md §8 scenario 4.
func TestScenario4LWWHighestTimestampWins(t *testing.T) {
	e := New("ws-1", SyncModeLWW, nil)

	first := wire.EncodeOp("", "k", encodeNumber(t, 42), 100)
	second := wire.EncodeOp("", "k", encodeNumber(t, 7), 50)

	e.MergeRemote(first)
	e.MergeRemote(second)

	got, ok := e.Get("k")
	if !ok {
		t.Fatal("expected key k to be set")
	}
	if decodeNumber(t, got) != 42 {
		t.Errorf("Get(k) = %v, want 42", decodeNumber(t, got))
	}
}

func TestLWWIndependentOfArrivalOrder(t *testing.T) {
	for _, order := range [][2]int64{{50, 100}, {100, 50}} {
		e := New("ws-1", SyncModeLWW, nil)
		t1, t2 := order[0], order[1]

		frame1 := wire.EncodeOp("", "k", encodeNumber(t, 1), t1)
		frame2 := wire.EncodeOp("", "k", encodeNumber(t, 2), t2)
		e.MergeRemote(frame1)
		e.MergeRemote(frame2)

		got, _ := e.Get("k")
		want := 1.0
		if t2 > t1 {
			want = 2.0
		}
		if decodeNumber(t, got) != want {
			t.Errorf("order %v: Get(k) = %v, want %v", order, decodeNumber(t, got), want)
		}
	}
}

func TestLWWTieBreaksTowardIncoming(t *testing.T) {
	e := New("ws-1", SyncModeLWW, nil)
	e.MergeRemote(wire.EncodeOp("", "k", encodeNumber(t, 1), 100))
	e.MergeRemote(wire.EncodeOp("", "k", encodeNumber(t, 2), 100))

	got, _ := e.Get("k")
	if decodeNumber(t, got) != 2 {
		t.Errorf("tie: Get(k) = %v, want 2 (incoming wins)", decodeNumber(t, got))
	}
}

func TestApplyLocalEmptyKeyFails(t *testing.T) {
	e := New("ws-1", SyncModeLWW, nil)
	_, err := e.ApplyLocal("", []byte("x"), 1)
	if err == nil {
		t.Fatal("expected error for empty key")
	}
	if _, ok := err.(*EngineError); !ok {
		t.Errorf("expected *EngineError, got %T", err)
	}
}

func TestApplyLocalReadYourWrites(t *testing.T) {
	e := New("ws-1", SyncModeLWW, nil)
	val := encodeNumber(t, 9)
	if _, err := e.ApplyLocal("k", val, 1); err != nil {
		t.Fatalf("ApplyLocal() error = %v", err)
	}
	got, ok := e.Get("k")
	if !ok {
		t.Fatal("expected key to be readable immediately after ApplyLocal")
	}
	if decodeNumber(t, got) != 9 {
		t.Errorf("Get(k) = %v, want 9", decodeNumber(t, got))
	}
}

func TestMergeRemoteDeletion(t *testing.T) {
	e := New("ws-1", SyncModeLWW, nil)
	e.MergeRemote(wire.EncodeOp("", "k", encodeNumber(t, 1), 1))
	e.MergeRemote(wire.EncodeOp("", "k", nil, 2))

	if _, ok := e.Get("k"); ok {
		t.Error("expected key to be deleted")
	}
}

func TestMergeRemoteUnknownFrameIgnored(t *testing.T) {
	e := New("ws-1", SyncModeLWW, nil)
	result := e.MergeRemote([]byte{0xFF})
	if result != ResultIgnored {
		t.Errorf("result = %v, want ResultIgnored", result)
	}
}

func TestMergeRemoteInitEmitsInitThenReady(t *testing.T) {
	e := New("ws-1", SyncModeLWW, nil)

	var events []string
	e.OnInit(func(state map[string][]byte) { events = append(events, "init") })
	e.OnReady(func() { events = append(events, "ready") })

	frame := wire.EncodeInit(map[string][]byte{"a": {1}})
	result := e.MergeRemote(frame)
	if result != ResultInit {
		t.Errorf("result = %v, want ResultInit", result)
	}
	if len(events) != 2 || events[0] != "init" || events[1] != "ready" {
		t.Errorf("events = %v, want [init ready]", events)
	}

	got, ok := e.Get("a")
	if !ok || got[0] != 1 {
		t.Errorf("Get(a) after Init = %v, %v", got, ok)
	}
}

func TestMergeRemoteSignalEmitsEphemeral(t *testing.T) {
	e := New("ws-1", SyncModeLWW, nil)

	var got []byte
	var from string
	e.OnEphemeral(func(payload []byte, senderID string, hasFrom bool) {
		got = payload
		from = senderID
	})

	e.MergeRemote(wire.EncodeSignal("peer", []byte("hi")))

	if string(got) != "hi" || from != "peer" {
		t.Errorf("got payload=%q from=%q, want %q %q", got, from, "hi", "peer")
	}
}

func TestSubscriberPanicDoesNotStopDelivery(t *testing.T) {
	e := New("ws-1", SyncModeLWW, nil)

	var secondCalled bool
	e.OnOp(func(key string, value []byte, isLocal bool) { panic("boom") })
	e.OnOp(func(key string, value []byte, isLocal bool) { secondCalled = true })

	e.ApplyLocal("k", []byte("v"), 1)

	if !secondCalled {
		t.Error("second subscriber was not called after first panicked")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	e := New("ws-1", SyncModeLWW, nil)

	calls := 0
	unsub := e.OnOp(func(key string, value []byte, isLocal bool) { calls++ })
	e.ApplyLocal("k", []byte("v"), 1)
	unsub()
	e.ApplyLocal("k", []byte("v2"), 2)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestLoadSnapshotAndGetSnapshot(t *testing.T) {
	e := New("ws-1", SyncModeLWW, nil)
	e.LoadSnapshot(map[string][]byte{"a": {1}, "b": {2}})

	snap := e.GetSnapshot()
	if len(snap) != 2 {
		t.Fatalf("GetSnapshot() has %d entries, want 2", len(snap))
	}
	if snap["a"][0] != 1 || snap["b"][0] != 2 {
		t.Errorf("GetSnapshot() = %v", snap)
	}
}

func TestCollaborativeModeUsesMergeCore(t *testing.T) {
	e := New("ws-1", SyncModeCRDT, nil)
	if _, err := e.ApplyLocal("k", []byte("v"), 1); err != nil {
		t.Fatalf("ApplyLocal() error = %v", err)
	}
	got, ok := e.Get("k")
	if !ok || string(got) != "v" {
		t.Errorf("Get(k) = %q, %v", got, ok)
	}
}

// recordingMergeCore wraps the reference NoopMergeCore to capture the
// state vector it was handed, since NoopMergeCore itself discards it.
type recordingMergeCore struct {
	*NoopMergeCore
	gotVector []byte
}

func (m *recordingMergeCore) MergeStateVector(vector []byte) error {
	m.gotVector = vector
	return nil
}

func TestMergeRemoteSyncLoadsSnapshotAndForwardsStateVector(t *testing.T) {
	core := &recordingMergeCore{NoopMergeCore: NewNoopMergeCore()}
	e := New("ws-1", SyncModeCRDT, core)

	snapshotBytes, err := codec.Encode(codec.Map(map[string]codec.Value{
		"a": codec.Number(1),
	}))
	if err != nil {
		t.Fatalf("codec.Encode() error = %v", err)
	}
	stateVector := []byte{0x01, 0x02, 0x03}

	result := e.MergeRemote(wire.EncodeSync(snapshotBytes, stateVector, 0))
	if result != ResultSync {
		t.Fatalf("MergeRemote() = %v, want ResultSync", result)
	}

	got, ok := e.Get("a")
	if !ok {
		t.Fatal("expected key a to be loaded from the Sync snapshot")
	}
	if decodeNumber(t, got) != 1 {
		t.Errorf("Get(a) = %v, want 1", decodeNumber(t, got))
	}
	if string(core.gotVector) != string(stateVector) {
		t.Errorf("MergeCore.MergeStateVector() received %v, want %v", core.gotVector, stateVector)
	}
}

func TestMergeRemoteSyncSurfacesAckSeq(t *testing.T) {
	e := New("ws-1", SyncModeLWW, nil)

	var gotAck uint64
	called := false
	e.OnAck(func(ackSeq uint64) {
		gotAck = ackSeq
		called = true
	})

	e.MergeRemote(wire.EncodeSync(nil, nil, 42))

	if !called {
		t.Fatal("expected the ack listener to be invoked")
	}
	if gotAck != 42 {
		t.Errorf("ack seq = %d, want 42", gotAck)
	}
}
