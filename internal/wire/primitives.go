// Package wire implements the Protobuf binary wire codec described in
// SPEC_FULL.md §4.1, driven entirely by a runtime *desc.MessageDescriptor
// rather than generated code. The low-level tag/varint/zig-zag/fixed-width
// primitives in this file are thin wrappers around
// google.golang.org/protobuf/encoding/protowire, which already ships the
// same malformed-input and overflow handling this codec needs; only the
// descriptor-driven tree walk in codec.go/encode.go is this package's own.
package wire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Type is the wire type carried in the low three bits of every tag. Its
// values are numerically identical to protowire.Type's constants, so
// conversion between the two is a plain cast.
type Type int

const (
	TypeVarint     Type = 0
	TypeFixed64    Type = 1
	TypeBytes      Type = 2 // length-delimited
	TypeStartGroup Type = 3
	TypeEndGroup   Type = 4
	TypeFixed32    Type = 5
)

func (t Type) String() string {
	switch t {
	case TypeVarint:
		return "varint"
	case TypeFixed64:
		return "fixed64"
	case TypeBytes:
		return "bytes"
	case TypeStartGroup:
		return "start_group"
	case TypeEndGroup:
		return "end_group"
	case TypeFixed32:
		return "fixed32"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// DecodeError is returned for any truncation or malformed-input condition
// encountered while parsing wire bytes. It is always fatal for the whole
// message being decoded (SPEC_FULL.md §4.1).
type DecodeError struct {
	Kind   string // "truncated_varint", "truncated_length_delimited", "bad_packed_payload", "invalid_utf8", "group_unsupported"
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("wire decode error: %s", e.Kind)
	}
	return fmt.Sprintf("wire decode error: %s: %s", e.Kind, e.Detail)
}

func truncated(kind string) error {
	return &DecodeError{Kind: kind}
}

// ConsumeVarint parses a base-128 varint from the front of b, returning
// the decoded value and the number of bytes consumed, or (0, -1) if b does
// not contain a complete varint.
func ConsumeVarint(b []byte) (v uint64, n int) {
	v, n = protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, -1
	}
	return v, n
}

// AppendVarint appends v to b in base-128 varint form.
func AppendVarint(b []byte, v uint64) []byte {
	return protowire.AppendVarint(b, v)
}

// ConsumeTag parses a field tag (number<<3 | wire type) from the front of
// b, returning the field number, wire type, and bytes consumed.
func ConsumeTag(b []byte) (num int32, typ Type, n int) {
	number, wtyp, n := protowire.ConsumeTag(b)
	if n < 0 {
		return 0, 0, -1
	}
	return int32(number), Type(wtyp), n
}

// AppendTag appends the tag for (num, typ) to b.
func AppendTag(b []byte, num int32, typ Type) []byte {
	return protowire.AppendTag(b, protowire.Number(num), protowire.Type(typ))
}

// ConsumeFixed32 parses 4 little-endian bytes from the front of b.
func ConsumeFixed32(b []byte) (v uint32, n int) {
	v, n = protowire.ConsumeFixed32(b)
	if n < 0 {
		return 0, -1
	}
	return v, n
}

// ConsumeFixed64 parses 8 little-endian bytes from the front of b.
func ConsumeFixed64(b []byte) (v uint64, n int) {
	v, n = protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, -1
	}
	return v, n
}

func AppendFixed32(b []byte, v uint32) []byte {
	return protowire.AppendFixed32(b, v)
}

func AppendFixed64(b []byte, v uint64) []byte {
	return protowire.AppendFixed64(b, v)
}

// ZigZagEncode32/64 and ZigZagDecode32/64 implement the sint32/sint64
// encoding named in SPEC_FULL.md §4.1.
func ZigZagEncode32(v int32) uint32 { return uint32(protowire.EncodeZigZag(int64(v))) }
func ZigZagDecode32(v uint32) int32 { return int32(protowire.DecodeZigZag(uint64(v))) }
func ZigZagEncode64(v int64) uint64 { return protowire.EncodeZigZag(v) }
func ZigZagDecode64(v uint64) int64 { return protowire.DecodeZigZag(v) }

// ConsumeFieldValue skips over one field's value (of the given wire type)
// starting at the front of b, returning the number of bytes consumed, or
// -1 if b is truncated. Used to preserve unknown fields verbatim and to
// skip over a field demoted for a wire-kind mismatch. Group wire types are
// not passed through here: Decode rejects them before any field value is
// consumed (SPEC_FULL.md §4.1 treats groups as unsupported), so this stays
// a plain varint/fixed/bytes dispatcher rather than protowire's
// group-aware ConsumeFieldValue.
func ConsumeFieldValue(typ Type, b []byte) int {
	switch typ {
	case TypeVarint:
		_, n := protowire.ConsumeVarint(b)
		return n
	case TypeFixed32:
		_, n := protowire.ConsumeFixed32(b)
		return n
	case TypeFixed64:
		_, n := protowire.ConsumeFixed64(b)
		return n
	case TypeBytes:
		_, n := protowire.ConsumeBytes(b)
		return n
	default:
		return -1
	}
}

// Float32FromBits / Float64FromBits reinterpret fixed-width integer bits
// as IEEE-754 floats, as used for the float/double scalar kinds. protowire
// itself stops at the fixed32/fixed64 integer level and leaves this
// reinterpretation to callers, so it is done directly against math here.
func Float32FromBits(v uint32) float32 { return math.Float32frombits(v) }
func Float64FromBits(v uint64) float64 { return math.Float64frombits(v) }
func Float32Bits(f float32) uint32     { return math.Float32bits(f) }
func Float64Bits(f float64) uint64     { return math.Float64bits(f) }
