package wire

import (
	"testing"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"

	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/valuetree"
)

const testProtoSource = `
syntax = "proto3";
package testpb;

message Address {
  string street = 1;
  string city = 2;
}

message Person {
  string name = 1;
  int32 age = 2;
  repeated int32 scores = 3;
  repeated string tags = 4;
  map<string, string> attrs = 5;
  Address address = 6;
  bytes data = 7;
}
`

func parseTestDescriptor(t *testing.T, name string) *desc.MessageDescriptor {
	t.Helper()
	parser := protoparse.Parser{
		Accessor: protoparse.FileContentsFromMap(map[string]string{"test.proto": testProtoSource}),
	}
	fds, err := parser.ParseFiles("test.proto")
	if err != nil {
		t.Fatalf("parse test proto: %v", err)
	}
	md := fds[0].FindMessage("testpb." + name)
	if md == nil {
		t.Fatalf("message %s not found", name)
	}
	return md
}

func TestVarintRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 300, 16384, 1<<63 - 1}
	for _, v := range cases {
		b := AppendVarint(nil, v)
		got, n := ConsumeVarint(b)
		if n != len(b) {
			t.Fatalf("ConsumeVarint(%d): consumed %d, want %d", v, n, len(b))
		}
		if got != v {
			t.Errorf("ConsumeVarint(%d) = %d", v, got)
		}
	}
}

func TestConsumeVarintTruncated(t *testing.T) {
	_, n := ConsumeVarint([]byte{0x80, 0x80})
	if n != -1 {
		t.Errorf("expected truncated varint to report -1, got %d", n)
	}
}

func TestZigZagRoundTrip(t *testing.T) {
	for _, v := range []int32{0, -1, 1, -2, 2147483647, -2147483648} {
		if got := ZigZagDecode32(ZigZagEncode32(v)); got != v {
			t.Errorf("zigzag32 round trip for %d got %d", v, got)
		}
	}
	for _, v := range []int64{0, -1, 1, 9223372036854775807, -9223372036854775808} {
		if got := ZigZagDecode64(ZigZagEncode64(v)); got != v {
			t.Errorf("zigzag64 round trip for %d got %d", v, got)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	md := parseTestDescriptor(t, "Person")
	addrMd := parseTestDescriptor(t, "Address")

	node := valuetree.NewNode(md)
	node.Set(&valuetree.Field{
		Descriptor: md.FindFieldByName("name"),
		Primary:    valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.String, Str: "Alice"}},
	})
	node.Set(&valuetree.Field{
		Descriptor: md.FindFieldByName("age"),
		Primary:    valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Int32, Int: 30}},
	})
	node.Set(&valuetree.Field{
		Descriptor: md.FindFieldByName("scores"),
		Primary:    valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Int32, Int: 1}},
		Additional: []valuetree.Value{
			{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Int32, Int: 2}},
			{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Int32, Int: 3}},
		},
		ExplicitlySet: true,
	})

	addr := valuetree.NewNode(addrMd)
	addr.Set(&valuetree.Field{
		Descriptor: addrMd.FindFieldByName("city"),
		Primary:    valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.String, Str: "Springfield"}},
	})
	node.Set(&valuetree.Field{
		Descriptor: md.FindFieldByName("address"),
		Primary:    valuetree.Value{Kind: valuetree.KindMessage, Message: addr},
	})

	attrsFd := md.FindFieldByName("attrs")
	node.Set(&valuetree.Field{
		Descriptor: attrsFd,
		Pairs: []valuetree.MapPair{
			{
				Key:   valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.String, Str: "env"}},
				Value: valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.String, Str: "prod"}},
			},
		},
	})

	encoded, err := Encode(node)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, warnings, err := Decode(encoded, md)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}

	nameField := decoded.GetByName("name")
	if nameField == nil || nameField.Primary.Scalar.Str != "Alice" {
		t.Errorf("name field mismatch: %+v", nameField)
	}
	scoresField := decoded.GetByName("scores")
	if scoresField == nil || len(scoresField.Values()) != 3 {
		t.Fatalf("expected 3 packed scores, got %+v", scoresField)
	}
	if scoresField.Values()[2].Scalar.Int != 3 {
		t.Errorf("expected third score 3, got %d", scoresField.Values()[2].Scalar.Int)
	}
	addrField := decoded.GetByName("address")
	if addrField == nil || addrField.Primary.Message.GetByName("city").Primary.Scalar.Str != "Springfield" {
		t.Errorf("address field mismatch: %+v", addrField)
	}
	attrsField := decoded.GetByName("attrs")
	if attrsField == nil || len(attrsField.Pairs) != 1 || attrsField.Pairs[0].Value.Scalar.Str != "prod" {
		t.Errorf("attrs field mismatch: %+v", attrsField)
	}
}

func TestDecodeUnknownField(t *testing.T) {
	md := parseTestDescriptor(t, "Address")
	var raw []byte
	raw = AppendTag(raw, 99, TypeVarint)
	raw = AppendVarint(raw, 42)

	node, _, err := Decode(raw, md)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(node.Unknown) != 1 {
		t.Fatalf("expected 1 unknown field, got %d", len(node.Unknown))
	}
	if node.Unknown[0].Number != 99 || node.Unknown[0].Reason != "" {
		t.Errorf("unexpected unknown field: %+v", node.Unknown[0])
	}

	reencoded, err := Encode(node)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(reencoded) != 0 {
		t.Errorf("unknown field should not be re-emitted, got %x", reencoded)
	}
}

func TestDecodeWireKindMismatchDemoted(t *testing.T) {
	md := parseTestDescriptor(t, "Address")
	fd := md.FindFieldByName("street")

	var raw []byte
	raw = AppendTag(raw, fd.GetNumber(), TypeFixed64) // street is string, expects TypeBytes
	raw = AppendFixed64(raw, 123)

	node, warnings, err := Decode(raw, md)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(warnings))
	}
	if node.Has(fd.GetNumber()) {
		t.Error("mismatched field should not be set as a known field")
	}
	if len(node.Unknown) != 1 || node.Unknown[0].Reason == "" {
		t.Fatalf("expected demoted unknown field with a reason, got %+v", node.Unknown)
	}

	reencoded, err := Encode(node)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(reencoded) != 0 {
		t.Errorf("demoted field should not be re-emitted, got %x", reencoded)
	}
}

func TestDecodeTruncatedVarintFails(t *testing.T) {
	_, _, err := Decode([]byte{0x08, 0x80}, parseTestDescriptor(t, "Person"))
	if err == nil {
		t.Fatal("expected decode error for truncated varint")
	}
	de, ok := err.(*DecodeError)
	if !ok || de.Kind != "truncated_varint" {
		t.Errorf("expected truncated_varint error, got %v", err)
	}
}

func TestDecodeInvalidUTF8Fails(t *testing.T) {
	md := parseTestDescriptor(t, "Address")
	fd := md.FindFieldByName("street")

	var raw []byte
	raw = AppendTag(raw, fd.GetNumber(), TypeBytes)
	bad := []byte{0xff, 0xfe}
	raw = AppendVarint(raw, uint64(len(bad)))
	raw = append(raw, bad...)

	_, _, err := Decode(raw, md)
	if err == nil {
		t.Fatal("expected decode error for invalid UTF-8 string")
	}
}

func TestDecodeGroupUnsupported(t *testing.T) {
	md := parseTestDescriptor(t, "Address")
	raw := AppendTag(nil, 5, TypeStartGroup)
	_, _, err := Decode(raw, md)
	if err == nil {
		t.Fatal("expected decode error for group wire type")
	}
	de, ok := err.(*DecodeError)
	if !ok || de.Kind != "group_unsupported" {
		t.Errorf("expected group_unsupported error, got %v", err)
	}
}

func TestIsDefaultScalar(t *testing.T) {
	cases := []struct {
		name string
		v    valuetree.Value
		want bool
	}{
		{"zero int", valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Int32, Int: 0}}, true},
		{"nonzero int", valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Int32, Int: 1}}, false},
		{"empty string", valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.String, Str: ""}}, true},
		{"nonempty string", valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.String, Str: "x"}}, false},
		{"message always non-default", valuetree.Value{Kind: valuetree.KindMessage, Message: valuetree.NewNode(nil)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsDefaultScalar(tc.v); got != tc.want {
				t.Errorf("IsDefaultScalar(%s) = %v, want %v", tc.name, got, tc.want)
			}
		})
	}
}

func TestEncodeOmitsDefaultScalarsUnlessExplicitlySet(t *testing.T) {
	md := parseTestDescriptor(t, "Person")
	node := valuetree.NewNode(md)
	node.Set(&valuetree.Field{
		Descriptor: md.FindFieldByName("age"),
		Primary:    valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Int32, Int: 0}},
	})
	enc, err := Encode(node)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(enc) != 0 {
		t.Errorf("expected default scalar to be omitted, got %x", enc)
	}

	node2 := valuetree.NewNode(md)
	node2.Set(&valuetree.Field{
		Descriptor:    md.FindFieldByName("age"),
		Primary:       valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Int32, Int: 0}},
		ExplicitlySet: true,
	})
	enc2, err := Encode(node2)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(enc2) == 0 {
		t.Error("expected explicitly-set default scalar to be emitted")
	}
}
