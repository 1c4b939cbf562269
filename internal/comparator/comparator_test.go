package comparator

import (
	"testing"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"

	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/compiler"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/matching"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/valuetree"
)

const testProtoSource = `
syntax = "proto3";
package testpb;

enum Status {
  STATUS_UNKNOWN = 0;
  STATUS_ACTIVE = 1;
}

message Sample {
  string name = 1;
  int32 age = 2;
  repeated string tags = 3;
  map<string, string> attrs = 4;
  Status status = 5;
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

func strValue(s string) valuetree.Value {
	return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.String, Str: s}}
}

func intValue(i int64) valuetree.Value {
	return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Int32, Int: i}}
}

func newNodeWithField(md *desc.MessageDescriptor, name string, v valuetree.Value) *valuetree.Node {
	n := valuetree.NewNode(md)
	n.Set(&valuetree.Field{Descriptor: md.FindFieldByName(name), Primary: v, ExplicitlySet: true})
	return n
}

func TestCompareExactMatchNoMismatches(t *testing.T) {
	md := parseTestDescriptor(t)
	e := newNodeWithField(md, "name", strValue("Alice"))
	a := newNodeWithField(md, "name", strValue("Alice"))

	c := New(matching.NewCatalogue(), compiler.NewExpectations())
	mismatches := c.Compare(e, a, valuetree.Root)
	if len(mismatches) != 0 {
		t.Errorf("expected no mismatches, got %+v", mismatches)
	}
}

func TestCompareValueMismatch(t *testing.T) {
	md := parseTestDescriptor(t)
	e := newNodeWithField(md, "name", strValue("Alice"))
	a := newNodeWithField(md, "name", strValue("Bob"))

	c := New(matching.NewCatalogue(), compiler.NewExpectations())
	mismatches := c.Compare(e, a, valuetree.Root)
	if len(mismatches) != 1 || mismatches[0].Kind != KindValueMismatch {
		t.Fatalf("expected 1 ValueMismatch, got %+v", mismatches)
	}
}

func TestCompareMissingFieldNonDefault(t *testing.T) {
	md := parseTestDescriptor(t)
	e := newNodeWithField(md, "name", strValue("Alice"))
	a := valuetree.NewNode(md)

	exp := compiler.NewExpectations()
	exp.Mark(valuetree.Root.Field("name"))
	c := New(matching.NewCatalogue(), exp)
	mismatches := c.Compare(e, a, valuetree.Root)
	if len(mismatches) != 1 || mismatches[0].Kind != KindMissingField {
		t.Fatalf("expected MissingField, got %+v", mismatches)
	}
}

func TestCompareMissingFieldDefaultTolerated(t *testing.T) {
	md := parseTestDescriptor(t)
	e := newNodeWithField(md, "age", intValue(0))
	a := valuetree.NewNode(md)

	c := New(matching.NewCatalogue(), compiler.NewExpectations())
	mismatches := c.Compare(e, a, valuetree.Root)
	if len(mismatches) != 0 {
		t.Errorf("expected default-valued absent field to be tolerated, got %+v", mismatches)
	}
}

func TestCompareUnexpectedField(t *testing.T) {
	md := parseTestDescriptor(t)
	e := valuetree.NewNode(md)
	a := newNodeWithField(md, "name", strValue("Bob"))

	exp := compiler.NewExpectations()
	c := New(matching.NewCatalogue(), exp)
	mismatches := c.Compare(e, a, valuetree.Root)
	if len(mismatches) != 0 {
		t.Fatalf("field not marked in expectations should be silently ignored, got %+v", mismatches)
	}

	exp.Mark(valuetree.Root.Field("name"))
	mismatches = c.Compare(e, a, valuetree.Root)
	if len(mismatches) != 1 || mismatches[0].Kind != KindUnexpectedField {
		t.Fatalf("expected UnexpectedField once marked, got %+v", mismatches)
	}
}

func TestCompareRegexRulePassAndFail(t *testing.T) {
	md := parseTestDescriptor(t)
	rules := matching.NewCatalogue()
	rules.Add(valuetree.Root.Field("name"), matching.LogicAnd, matching.Rule{Kind: matching.KindRegex, Pattern: "^[A-Z][a-z]+$"})
	exp := compiler.NewExpectations()
	exp.Mark(valuetree.Root.Field("name"))
	c := New(rules, exp)

	e := newNodeWithField(md, "name", strValue("Alice"))
	aGood := newNodeWithField(md, "name", strValue("Bob"))
	if m := c.Compare(e, aGood, valuetree.Root); len(m) != 0 {
		t.Errorf("expected regex match to pass, got %+v", m)
	}

	aBad := newNodeWithField(md, "name", strValue("bob"))
	m := c.Compare(e, aBad, valuetree.Root)
	if len(m) != 1 || m[0].Kind != KindRegexMismatch {
		t.Fatalf("expected RegexMismatch, got %+v", m)
	}
}

func TestCompareRepeatedLengthMismatch(t *testing.T) {
	md := parseTestDescriptor(t)
	tagsFd := md.FindFieldByName("tags")

	e := valuetree.NewNode(md)
	e.Set(&valuetree.Field{
		Descriptor: tagsFd,
		Primary:    strValue("a"),
		Additional: []valuetree.Value{strValue("b")},
	})
	a := valuetree.NewNode(md)
	a.Set(&valuetree.Field{Descriptor: tagsFd, Primary: strValue("a")})

	c := New(matching.NewCatalogue(), compiler.NewExpectations())
	mismatches := c.Compare(e, a, valuetree.Root)

	found := false
	for _, m := range mismatches {
		if m.Kind == KindLengthMismatch {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a LengthMismatch, got %+v", mismatches)
	}
}

func TestCompareRepeatedEachValueRule(t *testing.T) {
	md := parseTestDescriptor(t)
	tagsFd := md.FindFieldByName("tags")
	rules := matching.NewCatalogue()
	rules.Add(valuetree.Root.Field("tags").Wildcard(), matching.LogicAnd, matching.Rule{Kind: matching.KindType})

	e := valuetree.NewNode(md)
	e.Set(&valuetree.Field{Descriptor: tagsFd, Primary: strValue("a")})
	a := valuetree.NewNode(md)
	a.Set(&valuetree.Field{
		Descriptor: tagsFd,
		Primary:    strValue("x"),
		Additional: []valuetree.Value{strValue("y"), strValue("z")},
	})

	c := New(rules, compiler.NewExpectations())
	mismatches := c.Compare(e, a, valuetree.Root)
	if len(mismatches) != 0 {
		t.Errorf("expected eachValue(type) rule to tolerate extra elements of matching type, got %+v", mismatches)
	}
}

func TestCompareMapMissingKey(t *testing.T) {
	md := parseTestDescriptor(t)
	attrsFd := md.FindFieldByName("attrs")

	e := valuetree.NewNode(md)
	e.Set(&valuetree.Field{Descriptor: attrsFd, Pairs: []valuetree.MapPair{{Key: strValue("env"), Value: strValue("prod")}}})
	a := valuetree.NewNode(md)
	a.Set(&valuetree.Field{Descriptor: attrsFd})

	c := New(matching.NewCatalogue(), compiler.NewExpectations())
	mismatches := c.Compare(e, a, valuetree.Root)
	if len(mismatches) != 1 || mismatches[0].Kind != KindMissingField {
		t.Fatalf("expected MissingField for absent map key, got %+v", mismatches)
	}
}

func TestCompareMapUnexpectedKey(t *testing.T) {
	md := parseTestDescriptor(t)
	attrsFd := md.FindFieldByName("attrs")

	e := valuetree.NewNode(md)
	e.Set(&valuetree.Field{Descriptor: attrsFd})
	a := valuetree.NewNode(md)
	a.Set(&valuetree.Field{Descriptor: attrsFd, Pairs: []valuetree.MapPair{{Key: strValue("env"), Value: strValue("prod")}}})

	exp := compiler.NewExpectations()
	exp.Mark(valuetree.Root.Field("attrs").Key("env"))
	c := New(matching.NewCatalogue(), exp)
	mismatches := c.Compare(e, a, valuetree.Root)
	if len(mismatches) != 1 || mismatches[0].Kind != KindUnexpectedField {
		t.Fatalf("expected UnexpectedField for map key absent from the expected pairs, got %+v", mismatches)
	}
}

func TestCompareEnumMismatch(t *testing.T) {
	md := parseTestDescriptor(t)
	statusFd := md.FindFieldByName("status")

	e := valuetree.NewNode(md)
	e.Set(&valuetree.Field{Descriptor: statusFd, Primary: valuetree.Value{Kind: valuetree.KindEnum, Enum: &valuetree.Enum{Number: 1, Name: "STATUS_ACTIVE"}}, ExplicitlySet: true})
	a := valuetree.NewNode(md)
	a.Set(&valuetree.Field{Descriptor: statusFd, Primary: valuetree.Value{Kind: valuetree.KindEnum, Enum: &valuetree.Enum{Number: 0, Name: "STATUS_UNKNOWN"}}, ExplicitlySet: true})

	c := New(matching.NewCatalogue(), compiler.NewExpectations())
	mismatches := c.Compare(e, a, valuetree.Root)
	if len(mismatches) != 1 || mismatches[0].Kind != KindEnumMismatch {
		t.Fatalf("expected EnumMismatch, got %+v", mismatches)
	}
}
