// Package compiler implements the ConfigCompiler described in
// SPEC_FULL.md §4.3: it consumes a symbolic configuration tree (modelled
// here as a google.golang.org/protobuf/types/known/structpb.Struct, the
// same well-known JSON-shaped value the host's control protocol would
// carry it as over the wire) and a selected message descriptor, and
// emits a ValueTree, a MatchingCatalogue, a GeneratorCatalogue, and an
// Expectations blob.
package compiler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jhump/protoreflect/desc"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/generator"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/matching"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/valuetree"
)

// ConfigError reports a malformed configuration tree: an unknown field
// name, a rule-expression syntax error, or a value whose shape disagrees
// with its field descriptor (spec.md §7).
type ConfigError struct {
	Path   string
	Detail string
	Cause  error
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("config error at %s: %s: %v", e.Path, e.Detail, e.Cause)
	}
	return fmt.Sprintf("config error at %s: %s", e.Path, e.Detail)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// wellKnownWrappers names the google.protobuf.*Value wrapper messages
// whose sole field is always named "value", so a consumer can supply the
// inner scalar directly instead of a one-key nested map.
var wellKnownWrappers = map[string]bool{
	"google.protobuf.StringValue": true,
	"google.protobuf.BoolValue":   true,
	"google.protobuf.Int32Value":  true,
	"google.protobuf.Int64Value":  true,
	"google.protobuf.UInt32Value": true,
	"google.protobuf.UInt64Value": true,
	"google.protobuf.FloatValue":  true,
	"google.protobuf.DoubleValue": true,
	"google.protobuf.BytesValue":  true,
}

// Result is everything one ConfigCompiler invocation produces.
type Result struct {
	Example      *valuetree.Node
	Rules        *matching.Catalogue
	Generators   *generator.Catalogue
	Expectations *Expectations
}

// Compile compiles a configuration tree against a top-level message
// descriptor.
func Compile(md *desc.MessageDescriptor, cfg *structpb.Struct) (*Result, error) {
	res := &Result{
		Rules:        matching.NewCatalogue(),
		Generators:   generator.NewCatalogue(),
		Expectations: NewExpectations(),
	}
	node, err := compileMessage(md, expandDottedKeys(cfg.GetFields()), valuetree.Root, res)
	if err != nil {
		return nil, err
	}
	res.Example = node
	return res, nil
}

// expandDottedKeys turns a flat map possibly containing dotted keys
// ("a.b.c") into a nested map of maps, so the rest of the compiler only
// ever has to deal with one segment at a time, per spec.md §4.3 ("a
// mapping from field name (possibly dotted into submessage fields)").
func expandDottedKeys(flat map[string]*structpb.Value) map[string]*structpb.Value {
	out := make(map[string]*structpb.Value, len(flat))
	for k, v := range flat {
		segs := strings.SplitN(k, ".", 2)
		if len(segs) == 1 {
			out[k] = v
			continue
		}
		head, rest := segs[0], segs[1]
		child, ok := out[head]
		var childMap map[string]*structpb.Value
		if ok && child.GetStructValue() != nil {
			childMap = child.GetStructValue().GetFields()
		} else {
			childMap = make(map[string]*structpb.Value)
		}
		childMap[rest] = v
		out[head] = structpb.NewStructValue(&structpb.Struct{Fields: expandDottedKeys(childMap)})
	}
	return out
}

func compileMessage(md *desc.MessageDescriptor, cfg map[string]*structpb.Value, path valuetree.Path, res *Result) (*valuetree.Node, error) {
	node := valuetree.NewNode(md)

	names := make([]string, 0, len(cfg))
	for name := range cfg {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if md.FindFieldByName(name) == nil {
			return nil, &ConfigError{Path: string(path.Field(name)), Detail: fmt.Sprintf("unknown field %q on message %s", name, md.GetFullyQualifiedName())}
		}
	}
	for _, fd := range md.GetFields() {
		val, ok := cfg[fd.GetName()]
		if !ok {
			continue
		}
		fieldPath := path.Field(fd.GetName())
		if err := compileField(fd, val, fieldPath, node, res); err != nil {
			return nil, err
		}
	}
	return node, nil
}

func compileField(fd *desc.FieldDescriptor, val *structpb.Value, path valuetree.Path, node *valuetree.Node, res *Result) error {
	if fd.IsMap() {
		return compileMapField(fd, val, path, node, res)
	}
	if fd.IsRepeated() {
		return compileRepeatedField(fd, val, path, node, res)
	}

	f := &valuetree.Field{Descriptor: fd, ExplicitlySet: true}
	v, err := compileScalarOrMessage(fd, val, path, res)
	if err != nil {
		return err
	}
	f.Primary = v
	node.Set(f)
	res.Expectations.Mark(path)
	return nil
}

func compileMapField(fd *desc.FieldDescriptor, val *structpb.Value, path valuetree.Path, node *valuetree.Node, res *Result) error {
	s := val.GetStructValue()
	if s == nil {
		return &ConfigError{Path: string(path), Detail: "map field requires an object configuration"}
	}
	f := &valuetree.Field{Descriptor: fd, ExplicitlySet: true}
	keyFd := fd.GetMapKeyType()
	valFd := fd.GetMapValueType()

	keys := make([]string, 0, len(s.GetFields()))
	for k := range s.GetFields() {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		entryPath := path.Key(k)
		keyVal, err := scalarFromString(keyFd, k)
		if err != nil {
			return &ConfigError{Path: string(entryPath), Detail: "invalid map key", Cause: err}
		}
		valueVal, err := compileScalarOrMessage(valFd, s.GetFields()[k], entryPath, res)
		if err != nil {
			return err
		}
		f.Pairs = append(f.Pairs, valuetree.MapPair{Key: keyVal, Value: valueVal})
		res.Expectations.Mark(entryPath)
	}
	node.Set(f)
	res.Expectations.Mark(path)
	return nil
}

func compileRepeatedField(fd *desc.FieldDescriptor, val *structpb.Value, path valuetree.Path, node *valuetree.Node, res *Result) error {
	f := &valuetree.Field{Descriptor: fd, ExplicitlySet: true}

	switch {
	case val.GetListValue() != nil:
		for i, item := range val.GetListValue().GetValues() {
			idxPath := path.Index(i)
			v, err := compileScalarOrMessage(fd, item, idxPath, res)
			if err != nil {
				return err
			}
			if i == 0 {
				f.Primary = v
			} else {
				f.Additional = append(f.Additional, v)
			}
			res.Expectations.Mark(idxPath)
		}

	case val.GetStringValue() != "" && looksLikeExpression(val.GetStringValue()):
		rule, err := matching.Parse(val.GetStringValue())
		if err != nil {
			return &ConfigError{Path: string(path), Detail: "malformed repeated-field rule expression", Cause: err}
		}
		// eachValue(sub) and a bare rule both compile to the same wildcard
		// catalogue entry, per spec.md §4.3's "all three forms compile to
		// equivalent MatchingCatalogue entries".
		effective := rule
		if rule.Kind == matching.KindEachValue && rule.Sub != nil {
			effective = *rule.Sub
		}
		res.Rules.Add(path.Wildcard(), matching.LogicAnd, effective)
		if effective.HasExample {
			f.Primary = effective.Example
		} else {
			f.Primary = zeroValueFor(fd)
		}
		res.Expectations.Mark(path.Wildcard())

	case val.GetStructValue() != nil && fd.GetMessageType() != nil:
		// eachValue(...) wrapping a submessage configuration: the nested
		// tree's own field rules are compiled once, rooted at the
		// wildcard path, and the resulting Node becomes the sole
		// representative array element.
		elem, err := compileMessage(fd.GetMessageType(), val.GetStructValue().GetFields(), path.Wildcard(), res)
		if err != nil {
			return err
		}
		f.Primary = valuetree.Value{Kind: valuetree.KindMessage, Message: elem}
		res.Expectations.Mark(path.Wildcard())

	default:
		v, err := compileScalarOrMessage(fd, val, path.Index(0), res)
		if err != nil {
			return err
		}
		f.Primary = v
		res.Expectations.Mark(path.Index(0))
	}

	node.Set(f)
	return nil
}

// compileScalarOrMessage compiles one element value: a literal, a
// matching-rule or generator expression string, or a nested message
// configuration.
func compileScalarOrMessage(fd *desc.FieldDescriptor, val *structpb.Value, path valuetree.Path, res *Result) (valuetree.Value, error) {
	if fd.GetMessageType() != nil {
		if wellKnownWrappers[fd.GetMessageType().GetFullyQualifiedName()] && val.GetStructValue() == nil {
			return compileWrapper(fd.GetMessageType(), val, path, res)
		}
		if s := val.GetStructValue(); s != nil {
			nested, err := compileMessage(fd.GetMessageType(), s.GetFields(), path, res)
			if err != nil {
				return valuetree.Value{}, err
			}
			return valuetree.Value{Kind: valuetree.KindMessage, Message: nested}, nil
		}
	}

	if fd.GetType() == descriptorpb.FieldDescriptorProto_TYPE_ENUM {
		return compileEnum(fd, val, path)
	}

	switch val.GetKind().(type) {
	case *structpb.Value_StringValue:
		s := val.GetStringValue()
		if looksLikeExpression(s) {
			return compileExpression(fd, s, path, res)
		}
		return scalarFromString(fd, s)
	case *structpb.Value_NumberValue:
		return scalarFromNumber(fd, val.GetNumberValue())
	case *structpb.Value_BoolValue:
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Bool, Int: boolToInt(val.GetBoolValue())}}, nil
	case *structpb.Value_NullValue:
		return zeroValueFor(fd), nil
	default:
		return valuetree.Value{}, &ConfigError{Path: string(path), Detail: "unsupported configuration value shape"}
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// looksLikeExpression distinguishes a call-expression string
// ("matching(...)", "notEmpty(...)", "fromProviderState(...)") from a
// plain literal string value, per spec.md §4.3's requirement that
// primitive fields accept native string forms alongside expressions:
// only strings shaped like a call (identifier immediately followed by
// '(' ... ')') are treated as expressions.
func looksLikeExpression(s string) bool {
	i := 0
	for i < len(s) && (isIdentRune(s[i])) {
		i++
	}
	if i == 0 || i >= len(s) {
		return false
	}
	return s[i] == '(' && strings.HasSuffix(s, ")")
}

func isIdentRune(b byte) bool {
	return b == '$' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '_'
}

func compileExpression(fd *desc.FieldDescriptor, expr string, path valuetree.Path, res *Result) (valuetree.Value, error) {
	if strings.HasPrefix(expr, "fromProviderState(") || expr == "mock-server-URL" {
		gen, err := generator.ParseExpression(expr)
		if err != nil {
			return valuetree.Value{}, &ConfigError{Path: string(path), Detail: "malformed generator expression", Cause: err}
		}
		res.Generators.Add(path, gen)
		if gen.Default.Kind == valuetree.KindScalar || gen.Default.Kind == valuetree.KindEnum {
			return gen.Default, nil
		}
		return zeroValueFor(fd), nil
	}

	rule, err := matching.Parse(expr)
	if err != nil {
		return valuetree.Value{}, &ConfigError{Path: string(path), Detail: "malformed matching expression", Cause: err}
	}
	res.Rules.Add(path, matching.LogicAnd, rule)

	if gen := impliedGenerator(rule); gen != nil {
		res.Generators.Add(path, *gen)
	}

	if rule.HasExample {
		return coerceExample(fd, rule.Example), nil
	}
	return zeroValueFor(fd), nil
}

// impliedGenerator derives a default GeneratorCatalogue entry for a
// matching-rule kind that implies one, mirroring Pact's behaviour of
// treating certain matchers (regex, decimal/number/integer with no fixed
// example expectation) as also describing how to produce a delivered
// value, so the mock server's responses aren't always byte-identical to
// the stored example.
func impliedGenerator(rule matching.Rule) *generator.Generator {
	switch rule.Kind {
	case matching.KindRegex:
		return &generator.Generator{Kind: generator.KindRandomString, Regex: rule.Pattern}
	case matching.KindDecimal:
		return &generator.Generator{Kind: generator.KindRandomDecimal, Length: 4}
	case matching.KindInteger, matching.KindNumber:
		return &generator.Generator{Kind: generator.KindRandomInt, Length: 8}
	default:
		return nil
	}
}

func coerceExample(fd *desc.FieldDescriptor, v valuetree.Value) valuetree.Value {
	if v.Kind != valuetree.KindScalar {
		return v
	}
	coerced, err := scalarFromString(fd, scalarToString(v))
	if err != nil {
		return v
	}
	return coerced
}

func scalarToString(v valuetree.Value) string {
	if v.Kind != valuetree.KindScalar {
		return ""
	}
	s := v.Scalar
	switch s.Type {
	case valuetree.String:
		return s.Str
	case valuetree.Float, valuetree.Double:
		return strconv.FormatFloat(s.Float64, 'f', -1, 64)
	case valuetree.Bool:
		if s.Int != 0 {
			return "true"
		}
		return "false"
	case valuetree.Uint32, valuetree.Uint64, valuetree.Fixed32, valuetree.Fixed64:
		return strconv.FormatUint(s.Uint, 10)
	default:
		return strconv.FormatInt(s.Int, 10)
	}
}

func compileEnum(fd *desc.FieldDescriptor, val *structpb.Value, path valuetree.Path) (valuetree.Value, error) {
	enumType := fd.GetEnumType()
	switch v := val.GetKind().(type) {
	case *structpb.Value_StringValue:
		ev := enumType.FindValueByName(v.StringValue)
		if ev == nil {
			return valuetree.Value{}, &ConfigError{Path: string(path), Detail: fmt.Sprintf("unknown enum value %q for %s", v.StringValue, enumType.GetFullyQualifiedName())}
		}
		return valuetree.Value{Kind: valuetree.KindEnum, Enum: &valuetree.Enum{Number: ev.GetNumber(), Name: ev.GetName()}}, nil
	case *structpb.Value_NumberValue:
		n := int32(v.NumberValue)
		ev := enumType.FindValueByNumber(n)
		name := ""
		if ev != nil {
			name = ev.GetName()
		}
		return valuetree.Value{Kind: valuetree.KindEnum, Enum: &valuetree.Enum{Number: n, Name: name}}, nil
	default:
		return valuetree.Value{}, &ConfigError{Path: string(path), Detail: "enum field requires a string or numeric configuration value"}
	}
}

// compileWrapper unwraps a direct scalar value configured against a
// google.protobuf.*Value wrapper field into that wrapper's synthetic
// "value" field (SPEC_FULL.md §4.3, spec.md §4.3).
func compileWrapper(wrapperMd *desc.MessageDescriptor, val *structpb.Value, path valuetree.Path, res *Result) (valuetree.Value, error) {
	innerFd := wrapperMd.FindFieldByName("value")
	if innerFd == nil {
		return valuetree.Value{}, &ConfigError{Path: string(path), Detail: "well-known wrapper message missing value field"}
	}
	inner, err := compileScalarOrMessage(innerFd, val, path, res)
	if err != nil {
		return valuetree.Value{}, err
	}
	node := valuetree.NewNode(wrapperMd)
	node.Set(&valuetree.Field{Descriptor: innerFd, Primary: inner, ExplicitlySet: true})
	return valuetree.Value{Kind: valuetree.KindMessage, Message: node}, nil
}

// scalarFromString parses a plain literal string into the scalar type
// named by fd, used both for ordinary field literals and for map keys.
func scalarFromString(fd *desc.FieldDescriptor, s string) (valuetree.Value, error) {
	st := scalarTypeOf(fd)
	switch st {
	case valuetree.String:
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.String, Str: s}}, nil
	case valuetree.Bytes:
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Bytes, Raw: []byte(s)}}, nil
	case valuetree.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return valuetree.Value{}, err
		}
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Bool, Int: boolToInt(b)}}, nil
	case valuetree.Float, valuetree.Double:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return valuetree.Value{}, err
		}
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: st, Float64: f}}, nil
	case valuetree.Uint32, valuetree.Uint64, valuetree.Fixed32, valuetree.Fixed64:
		u, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return valuetree.Value{}, err
		}
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: st, Uint: u}}, nil
	default:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return valuetree.Value{}, err
		}
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: st, Int: i}}, nil
	}
}

func scalarFromNumber(fd *desc.FieldDescriptor, n float64) (valuetree.Value, error) {
	st := scalarTypeOf(fd)
	switch st {
	case valuetree.Float, valuetree.Double:
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: st, Float64: n}}, nil
	case valuetree.Uint32, valuetree.Uint64, valuetree.Fixed32, valuetree.Fixed64:
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: st, Uint: uint64(n)}}, nil
	case valuetree.String:
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.String, Str: strconv.FormatFloat(n, 'f', -1, 64)}}, nil
	default:
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: st, Int: int64(n)}}, nil
	}
}

func zeroValueFor(fd *desc.FieldDescriptor) valuetree.Value {
	if fd.GetType() == descriptorpb.FieldDescriptorProto_TYPE_ENUM {
		values := fd.GetEnumType().GetValues()
		if len(values) > 0 {
			return valuetree.Value{Kind: valuetree.KindEnum, Enum: &valuetree.Enum{Number: values[0].GetNumber(), Name: values[0].GetName()}}
		}
		return valuetree.Value{Kind: valuetree.KindEnum, Enum: &valuetree.Enum{}}
	}
	return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: scalarTypeOf(fd)}}
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
