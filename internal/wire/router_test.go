package wire

import (
	"bytes"
	"testing"
)

func TestParseOpFrame(t *testing.T) {
	frame := EncodeOp("ws-1", "k", []byte{0x2a}, 100)

	r := &Router{}
	msg := r.Parse(frame)
	if msg == nil || msg.Op == nil {
		t.Fatalf("expected Op message, got %+v", msg)
	}
	if msg.Op.Key != "k" {
		t.Errorf("Key = %q, want %q", msg.Op.Key, "k")
	}
	if !bytes.Equal(msg.Op.Value, []byte{0x2a}) {
		t.Errorf("Value = %v, want %v", msg.Op.Value, []byte{0x2a})
	}
	if msg.Op.Timestamp != 100 {
		t.Errorf("Timestamp = %d, want 100", msg.Op.Timestamp)
	}
	if msg.Op.WorkspaceID != "ws-1" {
		t.Errorf("WorkspaceID = %q, want %q", msg.Op.WorkspaceID, "ws-1")
	}
}

// TestScenario5RouterTolerance is spec.md §8 scenario 5.
func TestScenario5RouterTolerance(t *testing.T) {
	r := &Router{}

	if msg := r.Parse(nil); msg != nil {
		t.Errorf("empty input: got %+v, want nil", msg)
	}

	if msg := r.Parse([]byte{0xAA, 0xBB, 0xCC}); msg != nil {
		t.Errorf("junk input: got %+v, want nil", msg)
	}

	frame := EncodeOp("", "k", []byte{42}, 7)
	msg := r.Parse(frame)
	if msg == nil || msg.Op == nil {
		t.Fatalf("well-formed frame: got %+v, want an Op message", msg)
	}
	if msg.Op.Key != "k" || !bytes.Equal(msg.Op.Value, []byte{42}) {
		t.Errorf("got key=%q value=%v, want key=%q value=%v", msg.Op.Key, msg.Op.Value, "k", []byte{42})
	}
}

func TestParseOpRejectsEmptyKey(t *testing.T) {
	frame := EncodeOp("ws-1", "", nil, 1)
	r := &Router{}
	if msg := r.Parse(frame); msg != nil {
		t.Errorf("Op with empty key: got %+v, want nil", msg)
	}
}

func TestParseUnknownMsgType(t *testing.T) {
	r := &Router{}
	if msg := r.Parse([]byte{0xFF, 0, 0}); msg != nil {
		t.Errorf("unknown MsgType: got %+v, want nil", msg)
	}
}

func TestParseSignal(t *testing.T) {
	frame := EncodeSignal("peer-1", []byte("hi"))
	r := &Router{}
	msg := r.Parse(frame)
	if msg == nil || msg.Signal == nil {
		t.Fatalf("expected Signal message, got %+v", msg)
	}
	if msg.Signal.From != "peer-1" || !msg.Signal.HasFrom {
		t.Errorf("From = %q (has=%v), want %q", msg.Signal.From, msg.Signal.HasFrom, "peer-1")
	}
	if !bytes.Equal(msg.Signal.Payload, []byte("hi")) {
		t.Errorf("Payload = %q, want %q", msg.Signal.Payload, "hi")
	}
}

func TestParseInit(t *testing.T) {
	state := map[string][]byte{"a": {1}, "b": {2, 3}}
	frame := EncodeInit(state)
	r := &Router{}
	msg := r.Parse(frame)
	if msg == nil || msg.Init == nil {
		t.Fatalf("expected Init message, got %+v", msg)
	}
	if len(msg.Init.State) != 2 {
		t.Errorf("State has %d entries, want 2", len(msg.Init.State))
	}
	if !bytes.Equal(msg.Init.State["a"], []byte{1}) {
		t.Errorf("State[a] = %v, want [1]", msg.Init.State["a"])
	}
}

func TestParseSyncTruncated(t *testing.T) {
	frame := EncodeSync([]byte("snap"), nil, 5)
	truncated := frame[:len(frame)-3]
	r := &Router{}
	if msg := r.Parse(truncated); msg != nil {
		t.Errorf("truncated Sync frame: got %+v, want nil", msg)
	}
}

func TestParseSync(t *testing.T) {
	frame := EncodeSync([]byte("snap"), []byte("sv"), 42)
	r := &Router{}
	msg := r.Parse(frame)
	if msg == nil || msg.Sync == nil {
		t.Fatalf("expected Sync message, got %+v", msg)
	}
	if !bytes.Equal(msg.Sync.Snapshot, []byte("snap")) {
		t.Errorf("Snapshot = %q, want %q", msg.Sync.Snapshot, "snap")
	}
	if !msg.Sync.HasAckSeq || msg.Sync.AckSeq != 42 {
		t.Errorf("AckSeq = %d (has=%v), want 42", msg.Sync.AckSeq, msg.Sync.HasAckSeq)
	}
}
