// Package wire implements the Packet Codec and Message Router: the
// single gate through which raw transport bytes become a typed
// Message, and the only place in the module allowed to walk those
// bytes directly.
package wire

import "encoding/binary"

// MsgType tags the envelope's interior body.
type MsgType uint8

const (
	MsgOp MsgType = iota
	MsgSync
	MsgInit
	MsgSignal
)

// EncodeOp frames an Op packet: u16-prefixed workspace id, u32-prefixed
// key, 8-byte little-endian timestamp, u32-prefixed value bytes.
func EncodeOp(workspaceID, key string, value []byte, timestamp int64) []byte {
	buf := make([]byte, 0, 1+2+len(workspaceID)+4+len(key)+8+4+len(value))
	buf = append(buf, byte(MsgOp))
	buf = appendU16Prefixed(buf, []byte(workspaceID))
	buf = appendU32Prefixed(buf, []byte(key))
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(timestamp))
	buf = append(buf, ts[:]...)
	buf = appendU32Prefixed(buf, value)
	return buf
}

// EncodeSignal frames an ephemeral broadcast: u16-prefixed sender id
// (may be empty), u32-prefixed payload.
func EncodeSignal(senderID string, payload []byte) []byte {
	buf := make([]byte, 0, 1+2+len(senderID)+4+len(payload))
	buf = append(buf, byte(MsgSignal))
	buf = appendU16Prefixed(buf, []byte(senderID))
	buf = appendU32Prefixed(buf, payload)
	return buf
}

// EncodeInit frames a bulk-state packet: u32 key count, then
// u32-prefixed-key/u32-prefixed-value pairs.
func EncodeInit(state map[string][]byte) []byte {
	buf := make([]byte, 0, 5)
	buf = append(buf, byte(MsgInit))
	buf = appendU32(buf, uint32(len(state)))
	for k, v := range state {
		buf = appendU32Prefixed(buf, []byte(k))
		buf = appendU32Prefixed(buf, v)
	}
	return buf
}

// EncodeSync frames a Sync packet. Any of snapshot/stateVector may be
// nil; ackSeq of 0 means absent (a real ack sequence of 0 is not
// distinguishable from absent, which matches the "optional" wording
// in spec §3 — callers that need to ack sequence 0 should offset by
// one in their own protocol).
func EncodeSync(snapshot, stateVector []byte, ackSeq uint64) []byte {
	buf := make([]byte, 0, 1+4+len(snapshot)+4+len(stateVector)+8)
	buf = append(buf, byte(MsgSync))
	buf = appendU32Prefixed(buf, snapshot)
	buf = appendU32Prefixed(buf, stateVector)
	var ack [8]byte
	binary.LittleEndian.PutUint64(ack[:], ackSeq)
	buf = append(buf, ack[:]...)
	return buf
}

func appendU16(buf []byte, n uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], n)
	return append(buf, b[:]...)
}

func appendU32(buf []byte, n uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], n)
	return append(buf, b[:]...)
}

func appendU16Prefixed(buf []byte, data []byte) []byte {
	buf = appendU16(buf, uint16(len(data)))
	return append(buf, data...)
}

func appendU32Prefixed(buf []byte, data []byte) []byte {
	buf = appendU32(buf, uint32(len(data)))
	return append(buf, data...)
}
