// Package codec implements the self-describing binary value encoding
// used on the wire: a closed set of tagged variants (null, bool,
// number, string, bytes, list, mapping), little-endian throughout.
//
// The codec dispatches on a closed Value sum type instead of probing
// runtime types, so every value that can be encoded has exactly one
// wire shape.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindBytes
	KindList
	KindMap
)

// Wire tags, per the envelope format.
const (
	tagNull   = 0
	tagFalse  = 1
	tagTrue   = 2
	tagNumber = 3
	tagString = 4
	tagList   = 5
	tagMap    = 6
	tagBytes  = 7
)

// maxDepth bounds recursion on both encode and decode; it also makes
// cyclic structures fail safely instead of looping forever.
const maxDepth = 32

// Value is the closed sum type every encodable/decodable value
// belongs to. Exactly one of the fields is meaningful, selected by
// Kind.
type Value struct {
	Kind Kind
	Bool bool
	Num  float64
	Str  string
	Bin  []byte
	List []Value
	Map  map[string]Value
}

func Null() Value                { return Value{Kind: KindNull} }
func Bool(b bool) Value          { return Value{Kind: KindBool, Bool: b} }
func Number(n float64) Value     { return Value{Kind: KindNumber, Num: n} }
func String(s string) Value      { return Value{Kind: KindString, Str: s} }
func Bytes(b []byte) Value       { return Value{Kind: KindBytes, Bin: b} }
func List(v []Value) Value       { return Value{Kind: KindList, List: v} }
func Map(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }

// EncodingError is returned by Encode when a value cannot be put on
// the wire.
type EncodingError struct {
	Reason string
}

func (e *EncodingError) Error() string { return "codec: encoding error: " + e.Reason }

// DecodeErrorKind classifies why Decode failed.
type DecodeErrorKind int

const (
	UnknownTag DecodeErrorKind = iota
	UnexpectedEOF
	DepthExceeded
)

func (k DecodeErrorKind) String() string {
	switch k {
	case UnknownTag:
		return "unknown tag"
	case UnexpectedEOF:
		return "unexpected eof"
	case DepthExceeded:
		return "depth exceeded"
	default:
		return "unknown"
	}
}

// DecodingError is returned by Decode. Offset is the byte offset at
// which the failure was detected.
type DecodingError struct {
	Kind   DecodeErrorKind
	Offset int
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("codec: decoding error: %s at offset %d", e.Kind, e.Offset)
}

// Encode serializes v into the tagged binary format described in
// spec §4.1. The output buffer grows by doubling, same as
// bytes.Buffer's internal strategy.
func Encode(v Value) ([]byte, error) {
	buf := make([]byte, 0, 64)
	out, err := appendValue(buf, v, 0)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func appendValue(buf []byte, v Value, depth int) ([]byte, error) {
	if depth > maxDepth {
		return nil, &EncodingError{Reason: "recursion depth exceeded"}
	}

	switch v.Kind {
	case KindNull:
		return append(buf, tagNull), nil
	case KindBool:
		if v.Bool {
			return append(buf, tagTrue), nil
		}
		return append(buf, tagFalse), nil
	case KindNumber:
		buf = append(buf, tagNumber)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.Num))
		return append(buf, b[:]...), nil
	case KindString:
		buf = append(buf, tagString)
		return appendLenPrefixed(buf, []byte(v.Str)), nil
	case KindBytes:
		buf = append(buf, tagBytes)
		return appendLenPrefixed(buf, v.Bin), nil
	case KindList:
		buf = append(buf, tagList)
		buf = appendU32(buf, uint32(len(v.List)))
		var err error
		for _, elem := range v.List {
			buf, err = appendValue(buf, elem, depth+1)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	case KindMap:
		buf = append(buf, tagMap)
		buf = appendU32(buf, uint32(len(v.Map)))
		var err error
		for k, val := range v.Map {
			kb := []byte(k)
			if len(kb) > math.MaxUint16 {
				return nil, &EncodingError{Reason: "map key too long"}
			}
			var lb [2]byte
			binary.LittleEndian.PutUint16(lb[:], uint16(len(kb)))
			buf = append(buf, lb[:]...)
			buf = append(buf, kb...)
			buf, err = appendValue(buf, val, depth+1)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	default:
		return nil, &EncodingError{Reason: "unsupported value kind"}
	}
}

func appendU32(buf []byte, n uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], n)
	return append(buf, b[:]...)
}

func appendLenPrefixed(buf []byte, data []byte) []byte {
	buf = appendU32(buf, uint32(len(data)))
	return append(buf, data...)
}

// Decode parses the tagged binary format. An empty input decodes to
// Null. Any other malformed input fails with a DecodingError
// identifying the offset of the problem.
func Decode(b []byte) (Value, error) {
	if len(b) == 0 {
		return Null(), nil
	}
	v, _, err := decodeValue(b, 0, 0)
	if err != nil {
		return Value{}, err
	}
	return v, nil
}

func decodeValue(b []byte, off int, depth int) (Value, int, error) {
	if depth > maxDepth {
		return Value{}, off, &DecodingError{Kind: DepthExceeded, Offset: off}
	}
	if off >= len(b) {
		return Value{}, off, &DecodingError{Kind: UnexpectedEOF, Offset: off}
	}

	tag := b[off]
	off++

	switch tag {
	case tagNull:
		return Null(), off, nil
	case tagFalse:
		return Bool(false), off, nil
	case tagTrue:
		return Bool(true), off, nil
	case tagNumber:
		if off+8 > len(b) {
			return Value{}, off, &DecodingError{Kind: UnexpectedEOF, Offset: off}
		}
		bits := binary.LittleEndian.Uint64(b[off : off+8])
		return Number(math.Float64frombits(bits)), off + 8, nil
	case tagString:
		data, next, err := decodeLenPrefixed(b, off, 4)
		if err != nil {
			return Value{}, off, err
		}
		return String(string(data)), next, nil
	case tagBytes:
		data, next, err := decodeLenPrefixed(b, off, 4)
		if err != nil {
			return Value{}, off, err
		}
		dup := make([]byte, len(data))
		copy(dup, data)
		return Bytes(dup), next, nil
	case tagList:
		count, next, err := decodeU32(b, off)
		if err != nil {
			return Value{}, off, err
		}
		off = next
		items := make([]Value, 0, count)
		for i := uint32(0); i < count; i++ {
			var v Value
			v, off, err = decodeValue(b, off, depth+1)
			if err != nil {
				return Value{}, off, err
			}
			items = append(items, v)
		}
		return List(items), off, nil
	case tagMap:
		count, next, err := decodeU32(b, off)
		if err != nil {
			return Value{}, off, err
		}
		off = next
		m := make(map[string]Value, count)
		for i := uint32(0); i < count; i++ {
			if off+2 > len(b) {
				return Value{}, off, &DecodingError{Kind: UnexpectedEOF, Offset: off}
			}
			klen := int(binary.LittleEndian.Uint16(b[off : off+2]))
			off += 2
			if off+klen > len(b) {
				return Value{}, off, &DecodingError{Kind: UnexpectedEOF, Offset: off}
			}
			key := string(b[off : off+klen])
			off += klen
			var v Value
			v, off, err = decodeValue(b, off, depth+1)
			if err != nil {
				return Value{}, off, err
			}
			m[key] = v
		}
		return Map(m), off, nil
	default:
		return Value{}, off - 1, &DecodingError{Kind: UnknownTag, Offset: off - 1}
	}
}

func decodeU32(b []byte, off int) (uint32, int, error) {
	if off+4 > len(b) {
		return 0, off, &DecodingError{Kind: UnexpectedEOF, Offset: off}
	}
	return binary.LittleEndian.Uint32(b[off : off+4]), off + 4, nil
}

func decodeLenPrefixed(b []byte, off int, lenBytes int) ([]byte, int, error) {
	n, next, err := decodeU32(b, off)
	if err != nil {
		return nil, off, err
	}
	off = next
	if off+int(n) > len(b) {
		return nil, off, &DecodingError{Kind: UnexpectedEOF, Offset: off}
	}
	return b[off : off+int(n)], off + int(n), nil
}
