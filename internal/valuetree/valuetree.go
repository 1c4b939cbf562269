// Package valuetree implements the language-neutral, dynamically-typed
// representation of a decoded or compiled Protobuf message described in
// SPEC_FULL.md §3 ("ValueTree node"). A Node is an ordered map from field
// number to one or more typed Values, each carrying a reference to the
// owning field descriptor so downstream comparator logic never has to
// re-walk the descriptor set.
package valuetree

import (
	"fmt"

	"github.com/jhump/protoreflect/desc"
)

// Kind identifies which variant of Value is populated.
type Kind int

const (
	KindScalar Kind = iota
	KindEnum
	KindMessage
)

// ScalarType enumerates the fourteen scalar wire-level kinds named in
// SPEC_FULL.md §3, plus Bytes, which together cover every non-message,
// non-enum field type.
type ScalarType int

const (
	Int32 ScalarType = iota
	Int64
	Uint32
	Uint64
	Sint32
	Sint64
	Fixed32
	Fixed64
	Sfixed32
	Sfixed64
	Float
	Double
	Bool
	String
	Bytes
)

func (t ScalarType) String() string {
	switch t {
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case Sint32:
		return "sint32"
	case Sint64:
		return "sint64"
	case Fixed32:
		return "fixed32"
	case Fixed64:
		return "fixed64"
	case Sfixed32:
		return "sfixed32"
	case Sfixed64:
		return "sfixed64"
	case Float:
		return "float"
	case Double:
		return "double"
	case Bool:
		return "bool"
	case String:
		return "string"
	case Bytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// IsLengthDelimited reports whether the wire encoding of this scalar type
// uses the length-delimited wire format (string, bytes) rather than a
// varint or fixed-width encoding. Length-delimited scalar elements cannot
// be packed when repeated (SPEC_FULL.md §4.1).
func (t ScalarType) IsLengthDelimited() bool {
	return t == String || t == Bytes
}

// Scalar holds a decoded scalar value. Only the field matching Type is
// meaningful; the others are zero.
type Scalar struct {
	Type    ScalarType
	Int     int64   // Int32, Int64, Sint32, Sint64, Sfixed32, Sfixed64, Bool (0/1)
	Uint    uint64  // Uint32, Uint64, Fixed32, Fixed64
	Float64 float64 // Float, Double
	Str     string  // String
	Raw     []byte  // Bytes
}

// Enum holds a decoded enum value: the raw wire integer plus, when it
// resolves against the enum descriptor, the symbolic name.
type Enum struct {
	Number int32
	Name   string // empty when the value does not match a declared enumerator
}

// MapPair is one key/value observation in a map field, in wire order. The
// full ordered history is preserved (not just the last write per key) so
// eachKey/eachValue comparator semantics can see every observation.
type MapPair struct {
	Key   Value
	Value Value
}

// Value is the tagged-variant payload carried by a Field. Exactly one of
// Scalar, Enum, or Message is populated, per Kind; Map is populated only
// when the owning Field's descriptor is a map field, orthogonally to Kind
// (a map's "value" slot in MapPair reuses Value itself).
type Value struct {
	Kind    Kind
	Scalar  *Scalar
	Enum    *Enum
	Message *Node
}

// Field is one entry in a Node: a field number present in the payload, its
// descriptor, a primary value, and — for repeated or packed-repeated
// fields — the remaining values in wire order. For map fields Pairs holds
// the ordered key/value history instead of Primary/Additional.
type Field struct {
	Descriptor *desc.FieldDescriptor
	Primary    Value
	Additional []Value
	Pairs      []MapPair

	// ExplicitlySet records whether the consumer (via ConfigCompiler) or
	// the wire decoder actually wrote this field, as opposed to it being
	// synthesised to carry a default value. The WireCodec's encode
	// contract (SPEC_FULL.md §4.1) omits a field equal to its Protobuf
	// default unless ExplicitlySet is true.
	ExplicitlySet bool
}

// IsMap reports whether this field is a map entry field.
func (f *Field) IsMap() bool {
	return f.Descriptor != nil && f.Descriptor.IsMap()
}

// Values returns every value held by this field in wire order: Primary
// followed by Additional. For singular fields this is a one-element slice.
func (f *Field) Values() []Value {
	if f.IsMap() {
		return nil
	}
	out := make([]Value, 0, 1+len(f.Additional))
	out = append(out, f.Primary)
	out = append(out, f.Additional...)
	return out
}

// Node is a decoded or compiled message: an ordered map from field number
// to Field, plus any bytes that could not be attributed to a known field
// (unknown fields, always preserved on decode, never re-emitted on
// encode per SPEC_FULL.md §4.1).
type Node struct {
	Descriptor *desc.MessageDescriptor
	fields     map[int32]*Field
	order      []int32
	Unknown    []UnknownField
}

// UnknownField is a field present on the wire that did not resolve against
// the message descriptor (unrecognised field number) or that failed a
// wire-kind check against its descriptor (demoted per SPEC_FULL.md §4.1).
type UnknownField struct {
	Number   int32
	WireType int
	Raw      []byte
	Reason   string // "" for a genuinely unknown number, else the demotion reason
}

// NewNode creates an empty Node for the given message descriptor.
func NewNode(md *desc.MessageDescriptor) *Node {
	return &Node{
		Descriptor: md,
		fields:     make(map[int32]*Field),
	}
}

// Set inserts or replaces the field at its descriptor's field number,
// recording insertion order on first insert.
func (n *Node) Set(f *Field) {
	num := f.Descriptor.GetNumber()
	if _, exists := n.fields[num]; !exists {
		n.order = append(n.order, num)
	}
	n.fields[num] = f
}

// Get returns the field at the given number, or nil if absent.
func (n *Node) Get(number int32) *Field {
	return n.fields[number]
}

// GetByName returns the field with the given name, or nil if absent.
func (n *Node) GetByName(name string) *Field {
	for _, num := range n.order {
		f := n.fields[num]
		if f.Descriptor.GetName() == name {
			return f
		}
	}
	return nil
}

// Fields returns every present field in the order it was first set.
func (n *Node) Fields() []*Field {
	out := make([]*Field, 0, len(n.order))
	for _, num := range n.order {
		out = append(out, n.fields[num])
	}
	return out
}

// Numbers returns the field numbers present, in insertion order.
func (n *Node) Numbers() []int32 {
	out := make([]int32, len(n.order))
	copy(out, n.order)
	return out
}

// Has reports whether a field number is present.
func (n *Node) Has(number int32) bool {
	_, ok := n.fields[number]
	return ok
}

// Clone produces a deep-enough copy for generator application: field
// slices are copied so a generator can replace Primary/Additional/Pairs
// without mutating the original example tree (SPEC_FULL.md §4.4 notes
// generators are "applied ... against a clone").
func (n *Node) Clone() *Node {
	clone := NewNode(n.Descriptor)
	clone.order = append([]int32(nil), n.order...)
	clone.Unknown = append([]UnknownField(nil), n.Unknown...)
	for num, f := range n.fields {
		nf := &Field{
			Descriptor:    f.Descriptor,
			Primary:       cloneValue(f.Primary),
			ExplicitlySet: f.ExplicitlySet,
		}
		for _, v := range f.Additional {
			nf.Additional = append(nf.Additional, cloneValue(v))
		}
		for _, p := range f.Pairs {
			nf.Pairs = append(nf.Pairs, MapPair{Key: cloneValue(p.Key), Value: cloneValue(p.Value)})
		}
		clone.fields[num] = nf
	}
	return clone
}

func cloneValue(v Value) Value {
	out := Value{Kind: v.Kind}
	if v.Scalar != nil {
		s := *v.Scalar
		out.Scalar = &s
	}
	if v.Enum != nil {
		e := *v.Enum
		out.Enum = &e
	}
	if v.Message != nil {
		out.Message = v.Message.Clone()
	}
	return out
}

// Path renders a dotted/bracketed field path the way mismatch reports and
// matching-rule catalogues address it: "$.a.b[2]" or "$.a.b['key']".
type Path string

// Root is the empty path, denoting the message itself.
const Root Path = "$"

// Field appends a named field segment.
func (p Path) Field(name string) Path {
	if p == Root {
		return Path(fmt.Sprintf("$.%s", name))
	}
	return Path(fmt.Sprintf("%s.%s", p, name))
}

// Index appends a repeated-element index segment.
func (p Path) Index(i int) Path {
	return Path(fmt.Sprintf("%s[%d]", p, i))
}

// Wildcard appends a "every element" index segment.
func (p Path) Wildcard() Path {
	return Path(fmt.Sprintf("%s[*]", p))
}

// Key appends a map-key segment.
func (p Path) Key(k string) Path {
	return Path(fmt.Sprintf("%s['%s']", p, k))
}

func (p Path) String() string { return string(p) }

// JSONValue is the JSON wire shape for a scalar or enum Value, used by
// the matching and generator catalogues to persist an example/default
// value alongside a compiled rule (SPEC_FULL.md §6's catalogues travel
// the same base64/JSON way the rest of a persisted contract extension
// does). Only scalar and enum values ever need this: a rule or generator
// expression never carries a message-typed example.
type JSONValue struct {
	Kind       Kind       `json:"kind"`
	ScalarType ScalarType `json:"scalarType,omitempty"`
	Int        int64      `json:"int,omitempty"`
	Uint       uint64     `json:"uint,omitempty"`
	Float64    float64    `json:"float64,omitempty"`
	Str        string     `json:"str,omitempty"`
	Raw        []byte     `json:"raw,omitempty"`
	EnumNumber int32      `json:"enumNumber,omitempty"`
	EnumName   string     `json:"enumName,omitempty"`
}

// ToJSONValue converts a scalar or enum Value to its persisted shape.
func ToJSONValue(v Value) JSONValue {
	j := JSONValue{Kind: v.Kind}
	switch v.Kind {
	case KindScalar:
		if v.Scalar != nil {
			j.ScalarType = v.Scalar.Type
			j.Int = v.Scalar.Int
			j.Uint = v.Scalar.Uint
			j.Float64 = v.Scalar.Float64
			j.Str = v.Scalar.Str
			j.Raw = v.Scalar.Raw
		}
	case KindEnum:
		if v.Enum != nil {
			j.EnumNumber = v.Enum.Number
			j.EnumName = v.Enum.Name
		}
	}
	return j
}

// Value reconstructs the scalar or enum Value carried by j.
func (j JSONValue) Value() Value {
	switch j.Kind {
	case KindEnum:
		return Value{Kind: KindEnum, Enum: &Enum{Number: j.EnumNumber, Name: j.EnumName}}
	default:
		return Value{Kind: KindScalar, Scalar: &Scalar{
			Type:    j.ScalarType,
			Int:     j.Int,
			Uint:    j.Uint,
			Float64: j.Float64,
			Str:     j.Str,
			Raw:     j.Raw,
		}}
	}
}
