package valuetree

import (
	"testing"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
)

const testProtoSource = `
syntax = "proto3";
package testpb;

message Sample {
  string a = 1;
  string b = 2;
  string name = 3;
}
`

func parseTestDescriptor(t *testing.T) *desc.MessageDescriptor {
	t.Helper()
	parser := protoparse.Parser{
		Accessor: protoparse.FileContentsFromMap(map[string]string{"test.proto": testProtoSource}),
	}
	fds, err := parser.ParseFiles("test.proto")
	if err != nil {
		t.Fatalf("parse test proto: %v", err)
	}
	md := fds[0].FindMessage("testpb.Sample")
	if md == nil {
		t.Fatal("message Sample not found")
	}
	return md
}

func TestPathBuilding(t *testing.T) {
	p := Root.Field("items").Index(2).Field("name")
	if got, want := p.String(), "$.items[2].name"; got != want {
		t.Errorf("path = %q, want %q", got, want)
	}

	p2 := Root.Field("attrs").Key("env")
	if got, want := p2.String(), "$.attrs['env']"; got != want {
		t.Errorf("path = %q, want %q", got, want)
	}

	p3 := Root.Field("scores").Wildcard()
	if got, want := p3.String(), "$.scores[*]"; got != want {
		t.Errorf("path = %q, want %q", got, want)
	}
}

func TestScalarTypeString(t *testing.T) {
	cases := map[ScalarType]string{
		Int32: "int32", Int64: "int64", Uint32: "uint32", Uint64: "uint64",
		Sint32: "sint32", Sint64: "sint64", Fixed32: "fixed32", Fixed64: "fixed64",
		Sfixed32: "sfixed32", Sfixed64: "sfixed64", Float: "float", Double: "double",
		Bool: "bool", String: "string", Bytes: "bytes",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Errorf("ScalarType(%d).String() = %q, want %q", typ, got, want)
		}
	}
}

func TestScalarTypeIsLengthDelimited(t *testing.T) {
	if !String.IsLengthDelimited() {
		t.Error("String should be length-delimited")
	}
	if !Bytes.IsLengthDelimited() {
		t.Error("Bytes should be length-delimited")
	}
	if Int32.IsLengthDelimited() {
		t.Error("Int32 should not be length-delimited")
	}
}

func TestNodeSetGetOrdering(t *testing.T) {
	md := parseTestDescriptor(t)
	n := NewNode(md)
	f1 := &Field{Descriptor: md.FindFieldByName("a")}
	f2 := &Field{Descriptor: md.FindFieldByName("b")}
	n.Set(f2)
	n.Set(f1)

	if got := n.Numbers(); len(got) != 2 || got[0] != 2 || got[1] != 1 {
		t.Errorf("insertion order not preserved: %v", got)
	}
	if !n.Has(1) || !n.Has(2) {
		t.Error("expected both fields present")
	}
	if n.Has(3) {
		t.Error("field 3 should not be present")
	}
	if got := n.Get(1); got != f1 {
		t.Errorf("Get(1) = %v, want %v", got, f1)
	}

	// Re-setting an existing number must not duplicate the order slice.
	n.Set(&Field{Descriptor: md.FindFieldByName("a")})
	if len(n.Numbers()) != 2 {
		t.Errorf("re-set duplicated order entry: %v", n.Numbers())
	}
}

func TestFieldValues(t *testing.T) {
	f := &Field{
		Primary:    Value{Kind: KindScalar, Scalar: &Scalar{Type: Int32, Int: 1}},
		Additional: []Value{{Kind: KindScalar, Scalar: &Scalar{Type: Int32, Int: 2}}},
	}
	vals := f.Values()
	if len(vals) != 2 {
		t.Fatalf("expected 2 values, got %d", len(vals))
	}
	if vals[0].Scalar.Int != 1 || vals[1].Scalar.Int != 2 {
		t.Errorf("unexpected values: %+v", vals)
	}
}

func TestNodeClone(t *testing.T) {
	md := parseTestDescriptor(t)
	n := NewNode(md)
	n.Set(&Field{
		Descriptor: md.FindFieldByName("a"),
		Primary:    Value{Kind: KindScalar, Scalar: &Scalar{Type: String, Str: "original"}},
	})
	n.Unknown = append(n.Unknown, UnknownField{Number: 9, Raw: []byte{1, 2, 3}})

	clone := n.Clone()
	clone.Get(1).Primary.Scalar.Str = "mutated"

	if n.Get(1).Primary.Scalar.Str != "original" {
		t.Error("clone mutation leaked back into original node")
	}
	if len(clone.Unknown) != 1 || clone.Unknown[0].Number != 9 {
		t.Errorf("unknown fields not cloned: %+v", clone.Unknown)
	}
}

func TestGetByName(t *testing.T) {
	md := parseTestDescriptor(t)
	n := NewNode(md)
	n.Set(&Field{Descriptor: md.FindFieldByName("name")})
	if n.GetByName("name") == nil {
		t.Error("expected to find field by name")
	}
	if n.GetByName("missing") != nil {
		t.Error("expected nil for missing field name")
	}
}
