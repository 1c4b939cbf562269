package wire

import (
	"fmt"
	"unicode/utf8"

	"github.com/jhump/protoreflect/desc"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/valuetree"
)

// Warning is a non-fatal note produced while decoding: a field whose wire
// type disagreed with its descriptor was demoted to an unknown field
// rather than aborting the whole message (SPEC_FULL.md §4.1).
type Warning struct {
	FieldNumber int32
	Message     string
}

// Decode parses wire bytes into a ValueTree against the given message
// descriptor. A structural problem (truncated varint, truncated
// length-delimited payload, a packed payload that does not cleanly tile
// its element width, invalid UTF-8 in a string field) fails the whole
// message; a map entry missing its key or value takes that slot's
// default value instead. A field whose wire type
// disagrees with the descriptor's expectation is demoted to an unknown
// field instead, and reported as a Warning.
func Decode(data []byte, md *desc.MessageDescriptor) (*valuetree.Node, []Warning, error) {
	node := valuetree.NewNode(md)
	var warnings []Warning

	b := data
	for len(b) > 0 {
		num, typ, n := ConsumeTag(b)
		if n < 0 {
			return nil, warnings, truncated("truncated_varint")
		}
		b = b[n:]

		if typ == TypeStartGroup || typ == TypeEndGroup {
			return nil, warnings, &DecodeError{Kind: "group_unsupported", Detail: fmt.Sprintf("field %d", num)}
		}

		fd := md.FindFieldByNumber(num)
		if fd == nil {
			raw, consumed, err := captureRaw(typ, b)
			if err != nil {
				return nil, warnings, err
			}
			node.Unknown = append(node.Unknown, valuetree.UnknownField{Number: num, WireType: int(typ), Raw: raw})
			b = b[consumed:]
			continue
		}

		if !wireTypeMatches(fd, typ) {
			raw, consumed, err := captureRaw(typ, b)
			if err != nil {
				return nil, warnings, err
			}
			node.Unknown = append(node.Unknown, valuetree.UnknownField{
				Number: num, WireType: int(typ), Raw: raw,
				Reason: fmt.Sprintf("wire type %s does not match descriptor expectation for field %s", typ, fd.GetName()),
			})
			warnings = append(warnings, Warning{FieldNumber: num, Message: "wire-kind mismatch, demoted to unknown field"})
			b = b[consumed:]
			continue
		}

		consumed, err := decodeFieldInto(node, fd, typ, b)
		if err != nil {
			return nil, warnings, err
		}
		b = b[consumed:]
	}

	return node, warnings, nil
}

// decodeFieldInto consumes one field occurrence (which may itself be a
// packed run of several elements) and merges it into node.
func decodeFieldInto(node *valuetree.Node, fd *desc.FieldDescriptor, typ Type, b []byte) (int, error) {
	if fd.IsMap() {
		return decodeMapEntry(node, fd, b)
	}

	if fd.IsRepeated() && typ == TypeBytes && isPackableScalar(fd) {
		return decodePacked(node, fd, b)
	}

	val, consumed, err := decodeScalarOrMessage(fd, typ, b)
	if err != nil {
		return 0, err
	}

	f := node.Get(fd.GetNumber())
	if f == nil {
		f = &valuetree.Field{Descriptor: fd, Primary: val, ExplicitlySet: true}
		node.Set(f)
	} else if fd.IsRepeated() {
		f.Additional = append(f.Additional, val)
	} else {
		// Last-write-wins for a repeated singular occurrence of a
		// non-repeated field (malformed but tolerated), or overwrite of
		// a previously decoded scalar field occurring twice on the wire.
		f.Primary = val
	}
	return consumed, nil
}

func isPackableScalar(fd *desc.FieldDescriptor) bool {
	switch fd.GetType() {
	case descriptorpb.FieldDescriptorProto_TYPE_STRING,
		descriptorpb.FieldDescriptorProto_TYPE_BYTES,
		descriptorpb.FieldDescriptorProto_TYPE_MESSAGE,
		descriptorpb.FieldDescriptorProto_TYPE_GROUP:
		return false
	default:
		return true
	}
}

// decodePacked unpacks a single length-delimited payload containing a run
// of scalar/enum elements for a repeated field.
func decodePacked(node *valuetree.Node, fd *desc.FieldDescriptor, b []byte) (int, error) {
	l, n := ConsumeVarint(b)
	if n < 0 {
		return 0, truncated("truncated_length_delimited")
	}
	if uint64(len(b)-n) < l {
		return 0, truncated("truncated_length_delimited")
	}
	payload := b[n : n+int(l)]
	total := n + int(l)

	elemType := elementWireType(fd)
	width := fixedWidth(elemType)

	var values []valuetree.Value
	if width > 0 {
		if len(payload)%width != 0 {
			return 0, &DecodeError{Kind: "bad_packed_payload", Detail: fmt.Sprintf("field %s: payload length %d not a multiple of element width %d", fd.GetName(), len(payload), width)}
		}
		for off := 0; off < len(payload); off += width {
			val, _, err := decodeScalarOrMessage(fd, elemType, payload[off:])
			if err != nil {
				return 0, err
			}
			values = append(values, val)
		}
	} else {
		// Packed varint-encoded elements (ints, bools, enums): each
		// element is itself a varint, back to back.
		rest := payload
		for len(rest) > 0 {
			val, consumed, err := decodeScalarOrMessage(fd, TypeVarint, rest)
			if err != nil {
				return 0, err
			}
			values = append(values, val)
			rest = rest[consumed:]
		}
	}

	f := node.Get(fd.GetNumber())
	if f == nil {
		if len(values) == 0 {
			f = &valuetree.Field{Descriptor: fd, ExplicitlySet: true}
		} else {
			f = &valuetree.Field{Descriptor: fd, Primary: values[0], Additional: values[1:], ExplicitlySet: true}
		}
		node.Set(f)
	} else {
		f.Additional = append(f.Additional, values...)
	}
	return total, nil
}

// elementWireType returns the wire type a single packed element is
// encoded with, independent of the outer TypeBytes wrapper.
func elementWireType(fd *desc.FieldDescriptor) Type {
	switch fd.GetType() {
	case descriptorpb.FieldDescriptorProto_TYPE_FIXED32,
		descriptorpb.FieldDescriptorProto_TYPE_SFIXED32,
		descriptorpb.FieldDescriptorProto_TYPE_FLOAT:
		return TypeFixed32
	case descriptorpb.FieldDescriptorProto_TYPE_FIXED64,
		descriptorpb.FieldDescriptorProto_TYPE_SFIXED64,
		descriptorpb.FieldDescriptorProto_TYPE_DOUBLE:
		return TypeFixed64
	default:
		return TypeVarint
	}
}

func fixedWidth(t Type) int {
	switch t {
	case TypeFixed32:
		return 4
	case TypeFixed64:
		return 8
	default:
		return 0
	}
}

func decodeMapEntry(node *valuetree.Node, fd *desc.FieldDescriptor, b []byte) (int, error) {
	l, n := ConsumeVarint(b)
	if n < 0 {
		return 0, truncated("truncated_length_delimited")
	}
	if uint64(len(b)-n) < l {
		return 0, truncated("truncated_length_delimited")
	}
	entry := b[n : n+int(l)]
	total := n + int(l)

	keyFd := fd.GetMapKeyType()
	valFd := fd.GetMapValueType()

	var key, value *valuetree.Value
	rest := entry
	for len(rest) > 0 {
		num, typ, tn := ConsumeTag(rest)
		if tn < 0 {
			return 0, truncated("truncated_varint")
		}
		rest = rest[tn:]
		switch num {
		case 1:
			v, c, err := decodeScalarOrMessage(keyFd, typ, rest)
			if err != nil {
				return 0, err
			}
			key = &v
			rest = rest[c:]
		case 2:
			v, c, err := decodeScalarOrMessage(valFd, typ, rest)
			if err != nil {
				return 0, err
			}
			value = &v
			rest = rest[c:]
		default:
			raw, c, err := captureRaw(typ, rest)
			if err != nil {
				return 0, err
			}
			_ = raw
			rest = rest[c:]
		}
	}

	if key == nil {
		z := zeroValue(keyFd)
		key = &z
	}
	if value == nil {
		z := zeroValue(valFd)
		value = &z
	}

	f := node.Get(fd.GetNumber())
	if f == nil {
		f = &valuetree.Field{Descriptor: fd, ExplicitlySet: true}
		node.Set(f)
	}
	f.Pairs = append(f.Pairs, valuetree.MapPair{Key: *key, Value: *value})
	return total, nil
}

// decodeScalarOrMessage decodes exactly one occurrence of fd's element
// type starting at the front of b (which has already had its tag
// stripped), returning the number of bytes it consumed.
func decodeScalarOrMessage(fd *desc.FieldDescriptor, typ Type, b []byte) (valuetree.Value, int, error) {
	switch fd.GetType() {
	case descriptorpb.FieldDescriptorProto_TYPE_MESSAGE:
		l, n := ConsumeVarint(b)
		if n < 0 {
			return valuetree.Value{}, 0, truncated("truncated_length_delimited")
		}
		if uint64(len(b)-n) < l {
			return valuetree.Value{}, 0, truncated("truncated_length_delimited")
		}
		nested, _, err := Decode(b[n:n+int(l)], fd.GetMessageType())
		if err != nil {
			return valuetree.Value{}, 0, err
		}
		return valuetree.Value{Kind: valuetree.KindMessage, Message: nested}, n + int(l), nil

	case descriptorpb.FieldDescriptorProto_TYPE_ENUM:
		v, n := ConsumeVarint(b)
		if n < 0 {
			return valuetree.Value{}, 0, truncated("truncated_varint")
		}
		num := int32(int64(v))
		name := ""
		if ev := fd.GetEnumType().FindValueByNumber(num); ev != nil {
			name = ev.GetName()
		}
		return valuetree.Value{Kind: valuetree.KindEnum, Enum: &valuetree.Enum{Number: num, Name: name}}, n, nil

	case descriptorpb.FieldDescriptorProto_TYPE_STRING:
		l, n := ConsumeVarint(b)
		if n < 0 {
			return valuetree.Value{}, 0, truncated("truncated_length_delimited")
		}
		if uint64(len(b)-n) < l {
			return valuetree.Value{}, 0, truncated("truncated_length_delimited")
		}
		s := b[n : n+int(l)]
		if !utf8.Valid(s) {
			return valuetree.Value{}, 0, &DecodeError{Kind: "invalid_utf8", Detail: fmt.Sprintf("field %s", fd.GetName())}
		}
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.String, Str: string(s)}}, n + int(l), nil

	case descriptorpb.FieldDescriptorProto_TYPE_BYTES:
		l, n := ConsumeVarint(b)
		if n < 0 {
			return valuetree.Value{}, 0, truncated("truncated_length_delimited")
		}
		if uint64(len(b)-n) < l {
			return valuetree.Value{}, 0, truncated("truncated_length_delimited")
		}
		raw := append([]byte(nil), b[n:n+int(l)]...)
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Bytes, Raw: raw}}, n + int(l), nil

	case descriptorpb.FieldDescriptorProto_TYPE_BOOL:
		v, n := ConsumeVarint(b)
		if n < 0 {
			return valuetree.Value{}, 0, truncated("truncated_varint")
		}
		i := int64(0)
		if v != 0 {
			i = 1
		}
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Bool, Int: i}}, n, nil

	case descriptorpb.FieldDescriptorProto_TYPE_INT32:
		v, n := ConsumeVarint(b)
		if n < 0 {
			return valuetree.Value{}, 0, truncated("truncated_varint")
		}
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Int32, Int: int64(int32(v))}}, n, nil

	case descriptorpb.FieldDescriptorProto_TYPE_INT64:
		v, n := ConsumeVarint(b)
		if n < 0 {
			return valuetree.Value{}, 0, truncated("truncated_varint")
		}
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Int64, Int: int64(v)}}, n, nil

	case descriptorpb.FieldDescriptorProto_TYPE_UINT32:
		v, n := ConsumeVarint(b)
		if n < 0 {
			return valuetree.Value{}, 0, truncated("truncated_varint")
		}
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Uint32, Uint: v & 0xffffffff}}, n, nil

	case descriptorpb.FieldDescriptorProto_TYPE_UINT64:
		v, n := ConsumeVarint(b)
		if n < 0 {
			return valuetree.Value{}, 0, truncated("truncated_varint")
		}
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Uint64, Uint: v}}, n, nil

	case descriptorpb.FieldDescriptorProto_TYPE_SINT32:
		v, n := ConsumeVarint(b)
		if n < 0 {
			return valuetree.Value{}, 0, truncated("truncated_varint")
		}
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Sint32, Int: int64(ZigZagDecode32(uint32(v)))}}, n, nil

	case descriptorpb.FieldDescriptorProto_TYPE_SINT64:
		v, n := ConsumeVarint(b)
		if n < 0 {
			return valuetree.Value{}, 0, truncated("truncated_varint")
		}
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Sint64, Int: ZigZagDecode64(v)}}, n, nil

	case descriptorpb.FieldDescriptorProto_TYPE_FIXED32:
		v, n := ConsumeFixed32(b)
		if n < 0 {
			return valuetree.Value{}, 0, truncated("truncated_length_delimited")
		}
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Fixed32, Uint: uint64(v)}}, n, nil

	case descriptorpb.FieldDescriptorProto_TYPE_SFIXED32:
		v, n := ConsumeFixed32(b)
		if n < 0 {
			return valuetree.Value{}, 0, truncated("truncated_length_delimited")
		}
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Sfixed32, Int: int64(int32(v))}}, n, nil

	case descriptorpb.FieldDescriptorProto_TYPE_FLOAT:
		v, n := ConsumeFixed32(b)
		if n < 0 {
			return valuetree.Value{}, 0, truncated("truncated_length_delimited")
		}
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Float, Float64: float64(Float32FromBits(v))}}, n, nil

	case descriptorpb.FieldDescriptorProto_TYPE_FIXED64:
		v, n := ConsumeFixed64(b)
		if n < 0 {
			return valuetree.Value{}, 0, truncated("truncated_length_delimited")
		}
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Fixed64, Uint: v}}, n, nil

	case descriptorpb.FieldDescriptorProto_TYPE_SFIXED64:
		v, n := ConsumeFixed64(b)
		if n < 0 {
			return valuetree.Value{}, 0, truncated("truncated_length_delimited")
		}
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Sfixed64, Int: int64(v)}}, n, nil

	case descriptorpb.FieldDescriptorProto_TYPE_DOUBLE:
		v, n := ConsumeFixed64(b)
		if n < 0 {
			return valuetree.Value{}, 0, truncated("truncated_length_delimited")
		}
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Double, Float64: Float64FromBits(v)}}, n, nil

	default:
		return valuetree.Value{}, 0, &DecodeError{Kind: "unsupported_type", Detail: fd.GetType().String()}
	}
}

// captureRaw returns the raw wire bytes of one field occurrence (tag
// already stripped) without interpreting them, for unknown-field storage.
func captureRaw(typ Type, b []byte) ([]byte, int, error) {
	n := ConsumeFieldValue(typ, b)
	if n < 0 {
		if typ == TypeVarint {
			return nil, 0, truncated("truncated_varint")
		}
		return nil, 0, truncated("truncated_length_delimited")
	}
	return append([]byte(nil), b[:n]...), n, nil
}

// wireTypeMatches reports whether the wire type observed on the wire is
// the one this field's descriptor says it should be.
func wireTypeMatches(fd *desc.FieldDescriptor, typ Type) bool {
	if fd.IsMap() {
		return typ == TypeBytes
	}
	if fd.IsRepeated() && typ == TypeBytes && isPackableScalar(fd) {
		return true // packed encoding always arrives as TypeBytes
	}
	switch fd.GetType() {
	case descriptorpb.FieldDescriptorProto_TYPE_MESSAGE,
		descriptorpb.FieldDescriptorProto_TYPE_STRING,
		descriptorpb.FieldDescriptorProto_TYPE_BYTES:
		return typ == TypeBytes
	case descriptorpb.FieldDescriptorProto_TYPE_FIXED32,
		descriptorpb.FieldDescriptorProto_TYPE_SFIXED32,
		descriptorpb.FieldDescriptorProto_TYPE_FLOAT:
		return typ == TypeFixed32
	case descriptorpb.FieldDescriptorProto_TYPE_FIXED64,
		descriptorpb.FieldDescriptorProto_TYPE_SFIXED64,
		descriptorpb.FieldDescriptorProto_TYPE_DOUBLE:
		return typ == TypeFixed64
	default:
		return typ == TypeVarint
	}
}

// zeroValue returns the Protobuf zero/default value for a scalar or enum
// field descriptor (message fields have no scalar zero value and are
// simply absent).
func zeroValue(fd *desc.FieldDescriptor) valuetree.Value {
	if fd.GetType() == descriptorpb.FieldDescriptorProto_TYPE_ENUM {
		values := fd.GetEnumType().GetValues()
		if len(values) > 0 {
			return valuetree.Value{Kind: valuetree.KindEnum, Enum: &valuetree.Enum{Number: values[0].GetNumber(), Name: values[0].GetName()}}
		}
		return valuetree.Value{Kind: valuetree.KindEnum, Enum: &valuetree.Enum{}}
	}
	st := scalarTypeOf(fd)
	return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: st}}
}

func scalarTypeOf(fd *desc.FieldDescriptor) valuetree.ScalarType {
	switch fd.GetType() {
	case descriptorpb.FieldDescriptorProto_TYPE_INT32:
		return valuetree.Int32
	case descriptorpb.FieldDescriptorProto_TYPE_INT64:
		return valuetree.Int64
	case descriptorpb.FieldDescriptorProto_TYPE_UINT32:
		return valuetree.Uint32
	case descriptorpb.FieldDescriptorProto_TYPE_UINT64:
		return valuetree.Uint64
	case descriptorpb.FieldDescriptorProto_TYPE_SINT32:
		return valuetree.Sint32
	case descriptorpb.FieldDescriptorProto_TYPE_SINT64:
		return valuetree.Sint64
	case descriptorpb.FieldDescriptorProto_TYPE_FIXED32:
		return valuetree.Fixed32
	case descriptorpb.FieldDescriptorProto_TYPE_FIXED64:
		return valuetree.Fixed64
	case descriptorpb.FieldDescriptorProto_TYPE_SFIXED32:
		return valuetree.Sfixed32
	case descriptorpb.FieldDescriptorProto_TYPE_SFIXED64:
		return valuetree.Sfixed64
	case descriptorpb.FieldDescriptorProto_TYPE_FLOAT:
		return valuetree.Float
	case descriptorpb.FieldDescriptorProto_TYPE_DOUBLE:
		return valuetree.Double
	case descriptorpb.FieldDescriptorProto_TYPE_BOOL:
		return valuetree.Bool
	case descriptorpb.FieldDescriptorProto_TYPE_BYTES:
		return valuetree.Bytes
	default:
		return valuetree.String
	}
}

// IsDefaultScalar reports whether v equals the Protobuf zero value for its
// type (used by both the encode contract and the comparator's
// default-value tolerance rule).
func IsDefaultScalar(v valuetree.Value) bool {
	switch v.Kind {
	case valuetree.KindScalar:
		s := v.Scalar
		switch s.Type {
		case valuetree.Float, valuetree.Double:
			return s.Float64 == 0
		case valuetree.String:
			return s.Str == ""
		case valuetree.Bytes:
			return len(s.Raw) == 0
		case valuetree.Uint32, valuetree.Uint64, valuetree.Fixed32, valuetree.Fixed64:
			return s.Uint == 0
		default:
			return s.Int == 0
		}
	case valuetree.KindEnum:
		return v.Enum.Number == 0
	default:
		return false
	}
}
