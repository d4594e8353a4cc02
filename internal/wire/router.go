package wire

import (
	"encoding/binary"

	"github.com/nmeshed/nmeshed-go/pkg/log"
)

// Message is the typed result of parsing an envelope. Exactly one of
// Op, Sync, Init, Signal is non-nil.
type Message struct {
	Op     *OpMessage
	Sync   *SyncMessage
	Init   *InitMessage
	Signal *SignalMessage
}

type OpMessage struct {
	WorkspaceID string
	Key         string
	Value       []byte
	Timestamp   int64
}

type SyncMessage struct {
	Snapshot    []byte
	StateVector []byte
	AckSeq      uint64
	HasAckSeq   bool
}

type InitMessage struct {
	State map[string][]byte
}

type SignalMessage struct {
	Payload []byte
	From    string
	HasFrom bool
}

// Router is the single parsing gate from raw transport bytes to a
// typed Message. It is pure: no state, no I/O. Debug enables warning
// logs for malformed input.
type Router struct {
	Debug bool
}

// Parse returns nil for empty input, an unknown MsgType, or a
// structurally invalid frame. It never panics on truncated input.
func (r *Router) Parse(b []byte) *Message {
	if len(b) == 0 {
		return nil
	}

	msgType := MsgType(b[0])
	body := b[1:]

	switch msgType {
	case MsgOp:
		op, ok := parseOp(body)
		if !ok {
			r.warn("malformed Op frame")
			return nil
		}
		if op.Key == "" {
			r.warn("Op frame with empty key")
			return nil
		}
		return &Message{Op: op}
	case MsgSync:
		sync, ok := parseSync(body)
		if !ok {
			r.warn("malformed Sync frame")
			return nil
		}
		return &Message{Sync: sync}
	case MsgInit:
		init, ok := parseInit(body)
		if !ok {
			r.warn("malformed Init frame")
			return nil
		}
		return &Message{Init: init}
	case MsgSignal:
		sig, ok := parseSignal(body)
		if !ok {
			r.warn("malformed Signal frame")
			return nil
		}
		return &Message{Signal: sig}
	default:
		r.warn("unknown MsgType")
		return nil
	}
}

func (r *Router) warn(msg string) {
	if r.Debug {
		log.Warnf("wire: %s", msg)
	}
}

func parseOp(b []byte) (*OpMessage, bool) {
	workspaceID, b, ok := readU16Prefixed(b)
	if !ok {
		return nil, false
	}
	key, b, ok := readU32Prefixed(b)
	if !ok {
		return nil, false
	}
	if len(b) < 8 {
		return nil, false
	}
	ts := int64(binary.LittleEndian.Uint64(b[:8]))
	b = b[8:]
	value, _, ok := readU32Prefixed(b)
	if !ok {
		return nil, false
	}
	return &OpMessage{
		WorkspaceID: string(workspaceID),
		Key:         string(key),
		Value:       value,
		Timestamp:   ts,
	}, true
}

func parseSync(b []byte) (*SyncMessage, bool) {
	snapshot, b, ok := readU32Prefixed(b)
	if !ok {
		return nil, false
	}
	stateVector, b, ok := readU32Prefixed(b)
	if !ok {
		return nil, false
	}
	if len(b) < 8 {
		return nil, false
	}
	ack := binary.LittleEndian.Uint64(b[:8])
	return &SyncMessage{
		Snapshot:    nilIfEmpty(snapshot),
		StateVector: nilIfEmpty(stateVector),
		AckSeq:      ack,
		HasAckSeq:   ack != 0,
	}, true
}

func parseInit(b []byte) (*InitMessage, bool) {
	if len(b) < 4 {
		return nil, false
	}
	count := binary.LittleEndian.Uint32(b[:4])
	b = b[4:]
	state := make(map[string][]byte, count)
	for i := uint32(0); i < count; i++ {
		var key, value []byte
		var ok bool
		key, b, ok = readU32Prefixed(b)
		if !ok {
			return nil, false
		}
		value, b, ok = readU32Prefixed(b)
		if !ok {
			return nil, false
		}
		state[string(key)] = value
	}
	return &InitMessage{State: state}, true
}

func parseSignal(b []byte) (*SignalMessage, bool) {
	from, b, ok := readU16Prefixed(b)
	if !ok {
		return nil, false
	}
	payload, _, ok := readU32Prefixed(b)
	if !ok {
		return nil, false
	}
	return &SignalMessage{
		Payload: payload,
		From:    string(from),
		HasFrom: len(from) > 0,
	}, true
}

func readU16Prefixed(b []byte) (data []byte, rest []byte, ok bool) {
	if len(b) < 2 {
		return nil, nil, false
	}
	n := int(binary.LittleEndian.Uint16(b[:2]))
	b = b[2:]
	if len(b) < n {
		return nil, nil, false
	}
	return b[:n], b[n:], true
}

func readU32Prefixed(b []byte) (data []byte, rest []byte, ok bool) {
	if len(b) < 4 {
		return nil, nil, false
	}
	n := int(binary.LittleEndian.Uint32(b[:4]))
	b = b[4:]
	if len(b) < n {
		return nil, nil, false
	}
	return b[:n], b[n:], true
}

func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
