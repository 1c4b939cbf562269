package wire

import (
	"github.com/jhump/protoreflect/desc"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/valuetree"
)

// Encode serialises a ValueTree to wire bytes. Fields are emitted in the
// order they were first set on the node, repeated scalar fields are
// packed whenever the descriptor allows it, map fields are emitted as a
// sequence of two-field submessages, and unknown fields captured during
// decode (including those demoted for a wire-kind mismatch) are never
// emitted (SPEC_FULL.md §4.1).
func Encode(node *valuetree.Node) ([]byte, error) {
	var out []byte
	for _, num := range node.Numbers() {
		f := node.Get(num)
		enc, err := encodeField(f)
		if err != nil {
			return nil, err
		}
		out = append(out, enc...)
	}
	return out, nil
}

func encodeField(f *valuetree.Field) ([]byte, error) {
	fd := f.Descriptor
	num := fd.GetNumber()

	if f.IsMap() {
		var out []byte
		for _, pair := range f.Pairs {
			entry, err := encodeMapEntry(fd, pair)
			if err != nil {
				return nil, err
			}
			out = AppendTag(out, num, TypeBytes)
			out = AppendVarint(out, uint64(len(entry)))
			out = append(out, entry...)
		}
		return out, nil
	}

	values := f.Values()
	if len(values) == 0 {
		return nil, nil
	}

	if fd.IsRepeated() && isPackableScalar(fd) {
		if !f.ExplicitlySet && allDefault(values) {
			return nil, nil
		}
		var payload []byte
		for _, v := range values {
			var err error
			payload, err = appendScalarBytes(payload, fd, v)
			if err != nil {
				return nil, err
			}
		}
		out := AppendTag(nil, num, TypeBytes)
		out = AppendVarint(out, uint64(len(payload)))
		return append(out, payload...), nil
	}

	var out []byte
	for _, v := range values {
		if !fd.IsRepeated() && !f.ExplicitlySet && IsDefaultScalar(v) && v.Kind != valuetree.KindMessage {
			continue
		}
		enc, err := encodeValue(fd, v)
		if err != nil {
			return nil, err
		}
		out = append(out, enc...)
	}
	return out, nil
}

func allDefault(values []valuetree.Value) bool {
	for _, v := range values {
		if !IsDefaultScalar(v) {
			return false
		}
	}
	return true
}

func encodeMapEntry(fd *desc.FieldDescriptor, pair valuetree.MapPair) ([]byte, error) {
	var out []byte
	keyFd := fd.GetMapKeyType()
	valFd := fd.GetMapValueType()

	keyEnc, err := encodeValue(keyFd, pair.Key)
	if err != nil {
		return nil, err
	}
	out = append(out, keyEnc...)

	valEnc, err := encodeValue(valFd, pair.Value)
	if err != nil {
		return nil, err
	}
	out = append(out, valEnc...)
	return out, nil
}

// encodeValue emits one complete field occurrence (tag + payload) for a
// non-repeated, non-packed value.
func encodeValue(fd *desc.FieldDescriptor, v valuetree.Value) ([]byte, error) {
	num := fd.GetNumber()
	switch v.Kind {
	case valuetree.KindMessage:
		nested, err := Encode(v.Message)
		if err != nil {
			return nil, err
		}
		out := AppendTag(nil, num, TypeBytes)
		out = AppendVarint(out, uint64(len(nested)))
		return append(out, nested...), nil

	case valuetree.KindEnum:
		out := AppendTag(nil, num, TypeVarint)
		return AppendVarint(out, uint64(uint32(v.Enum.Number))), nil

	default:
		typ := wireTypeForScalar(v.Scalar.Type)
		out := AppendTag(nil, num, typ)
		return appendScalarBytes(out, fd, v)
	}
}

func wireTypeForScalar(t valuetree.ScalarType) Type {
	switch t {
	case valuetree.Fixed32, valuetree.Sfixed32, valuetree.Float:
		return TypeFixed32
	case valuetree.Fixed64, valuetree.Sfixed64, valuetree.Double:
		return TypeFixed64
	case valuetree.String, valuetree.Bytes:
		return TypeBytes
	default:
		return TypeVarint
	}
}

// appendScalarBytes appends the raw payload for one scalar/enum value (no
// tag, since packed callers need the bare bytes and singular callers have
// already written their own tag).
func appendScalarBytes(out []byte, fd *desc.FieldDescriptor, v valuetree.Value) ([]byte, error) {
	if fd.GetType() == descriptorpb.FieldDescriptorProto_TYPE_ENUM {
		return AppendVarint(out, uint64(uint32(v.Enum.Number))), nil
	}
	s := v.Scalar
	switch s.Type {
	case valuetree.Int32, valuetree.Int64:
		return AppendVarint(out, uint64(s.Int)), nil
	case valuetree.Uint32, valuetree.Uint64:
		return AppendVarint(out, s.Uint), nil
	case valuetree.Sint32:
		return AppendVarint(out, uint64(ZigZagEncode32(int32(s.Int)))), nil
	case valuetree.Sint64:
		return AppendVarint(out, ZigZagEncode64(s.Int)), nil
	case valuetree.Bool:
		return AppendVarint(out, uint64(s.Int)), nil
	case valuetree.Fixed32:
		return AppendFixed32(out, uint32(s.Uint)), nil
	case valuetree.Sfixed32:
		return AppendFixed32(out, uint32(s.Int)), nil
	case valuetree.Float:
		return AppendFixed32(out, Float32Bits(float32(s.Float64))), nil
	case valuetree.Fixed64:
		return AppendFixed64(out, s.Uint), nil
	case valuetree.Sfixed64:
		return AppendFixed64(out, uint64(s.Int)), nil
	case valuetree.Double:
		return AppendFixed64(out, Float64Bits(s.Float64)), nil
	case valuetree.String:
		out = AppendVarint(out, uint64(len(s.Str)))
		return append(out, s.Str...), nil
	case valuetree.Bytes:
		out = AppendVarint(out, uint64(len(s.Raw)))
		return append(out, s.Raw...), nil
	default:
		return out, &DecodeError{Kind: "unsupported_type", Detail: s.Type.String()}
	}
}
