// Package comparator implements the structural comparison described in
// SPEC_FULL.md §4.5: given an expected and an actual ValueTree plus a
// MatchingCatalogue and an Expectations blob, it produces a list of
// path-addressed Mismatches.
package comparator

import (
	"fmt"
	"regexp"

	"github.com/jhump/protoreflect/desc"

	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/compiler"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/matching"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/valuetree"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/wire"
)

// Kind enumerates the mismatch kinds named in spec.md §4.5.
type Kind int

const (
	KindTypeMismatch Kind = iota
	KindValueMismatch
	KindLengthMismatch
	KindMissingField
	KindUnexpectedField
	KindRegexMismatch
	KindEnumMismatch
	KindWireKindMismatch
)

func (k Kind) String() string {
	switch k {
	case KindTypeMismatch:
		return "TypeMismatch"
	case KindValueMismatch:
		return "ValueMismatch"
	case KindLengthMismatch:
		return "LengthMismatch"
	case KindMissingField:
		return "MissingField"
	case KindUnexpectedField:
		return "UnexpectedField"
	case KindRegexMismatch:
		return "RegexMismatch"
	case KindEnumMismatch:
		return "EnumMismatch"
	case KindWireKindMismatch:
		return "WireKindMismatch"
	default:
		return "UnknownMismatch"
	}
}

// Mismatch is one path-addressed comparison failure.
type Mismatch struct {
	Path     valuetree.Path
	Kind     Kind
	Expected string
	Actual   string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s at %s: expected=%s actual=%s", m.Kind, m.Path, m.Expected, m.Actual)
}

// Comparator holds the inputs shared across one CompareContents call.
type Comparator struct {
	rules        *matching.Catalogue
	expectations *compiler.Expectations
}

// New creates a Comparator for one comparison pass.
func New(rules *matching.Catalogue, expectations *compiler.Expectations) *Comparator {
	return &Comparator{rules: rules, expectations: expectations}
}

// Compare walks expected (E) and actual (A) under their common
// descriptor and returns every mismatch found.
func (c *Comparator) Compare(expected, actual *valuetree.Node, path valuetree.Path) []Mismatch {
	var out []Mismatch

	md := expected.Descriptor
	if md == nil {
		md = actual.Descriptor
	}

	numbers := unionFieldNumbers(expected, actual)
	for _, num := range numbers {
		fd := md.FindFieldByNumber(num)
		if fd == nil {
			continue
		}
		fieldPath := path.Field(fd.GetName())
		eField := expected.Get(num)
		aField := actual.Get(num)
		out = append(out, c.compareField(fd, fieldPath, eField, aField)...)
	}
	return out
}

func unionFieldNumbers(a, b *valuetree.Node) []int32 {
	seen := make(map[int32]bool)
	var out []int32
	for _, n := range a.Numbers() {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	for _, n := range b.Numbers() {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func (c *Comparator) compareField(fd *desc.FieldDescriptor, path valuetree.Path, e, a *valuetree.Field) []Mismatch {
	switch {
	case fd.IsMap():
		return c.compareMap(fd, path, e, a)
	case fd.IsRepeated():
		return c.compareRepeated(fd, path, e, a)
	default:
		return c.compareSingular(fd, path, e, a)
	}
}

func (c *Comparator) compareSingular(fd *desc.FieldDescriptor, path valuetree.Path, e, a *valuetree.Field) []Mismatch {
	if entry, ok := c.rules.Get(path); ok {
		return c.applyRules(entry, path, fieldValue(e), fieldValue(a), e != nil, a != nil)
	}

	switch {
	case e != nil && a != nil:
		return c.compareValues(path, e.Primary, a.Primary)
	case a != nil && e == nil:
		if c.expectations.IsPresent(path) {
			return []Mismatch{{Path: path, Kind: KindUnexpectedField, Expected: "<absent>", Actual: describe(a.Primary)}}
		}
		return nil
	case e != nil && a == nil:
		if wire.IsDefaultScalar(e.Primary) && !c.expectations.IsPresent(path) {
			return nil
		}
		return []Mismatch{{Path: path, Kind: KindMissingField, Expected: describe(e.Primary), Actual: "<absent>"}}
	default:
		return nil
	}
}

func fieldValue(f *valuetree.Field) valuetree.Value {
	if f == nil {
		return valuetree.Value{}
	}
	return f.Primary
}

// compareValues applies structural equality with cross-descriptor
// numeric-type tolerance (spec.md §4.5: comparing int32 to int64 of equal
// value passes only when both descriptors agree on type — since both
// sides here always share one descriptor, any scalar-type match is
// sufficient and a type difference is impossible except Kind mismatch).
func (c *Comparator) compareValues(path valuetree.Path, e, a valuetree.Value) []Mismatch {
	if e.Kind != a.Kind {
		return []Mismatch{{Path: path, Kind: KindTypeMismatch, Expected: describe(e), Actual: describe(a)}}
	}
	switch e.Kind {
	case valuetree.KindMessage:
		sub := c.Compare(e.Message, a.Message, path)
		return sub
	case valuetree.KindEnum:
		if e.Enum.Number != a.Enum.Number {
			return []Mismatch{{Path: path, Kind: KindEnumMismatch, Expected: describe(e), Actual: describe(a)}}
		}
		return nil
	default:
		if scalarsEqual(e.Scalar, a.Scalar) {
			return nil
		}
		return []Mismatch{{Path: path, Kind: KindValueMismatch, Expected: describe(e), Actual: describe(a)}}
	}
}

func scalarsEqual(e, a *valuetree.Scalar) bool {
	if e == nil || a == nil {
		return e == a
	}
	if e.Type != a.Type {
		return false
	}
	switch e.Type {
	case valuetree.Float, valuetree.Double:
		return e.Float64 == a.Float64
	case valuetree.String:
		return e.Str == a.Str
	case valuetree.Bytes:
		return string(e.Raw) == string(a.Raw)
	case valuetree.Uint32, valuetree.Uint64, valuetree.Fixed32, valuetree.Fixed64:
		return e.Uint == a.Uint
	default:
		return e.Int == a.Int
	}
}

func (c *Comparator) compareRepeated(fd *desc.FieldDescriptor, basePath valuetree.Path, e, a *valuetree.Field) []Mismatch {
	var expected, actual []valuetree.Value
	if e != nil {
		expected = e.Values()
	}
	if a != nil {
		actual = a.Values()
	}

	if wildcard, ok := c.rules.Get(basePath.Wildcard()); ok {
		return c.applyEachValue(wildcard, basePath, expected, actual)
	}

	if entry, ok := c.rules.Get(basePath); ok {
		for _, r := range entry.Rules {
			switch r.Kind {
			case matching.KindAtLeast:
				if len(actual) < r.Bound {
					return []Mismatch{{Path: basePath, Kind: KindLengthMismatch, Expected: fmt.Sprintf(">= %d elements", r.Bound), Actual: fmt.Sprintf("%d elements", len(actual))}}
				}
			case matching.KindAtMost:
				if len(actual) > r.Bound {
					return []Mismatch{{Path: basePath, Kind: KindLengthMismatch, Expected: fmt.Sprintf("<= %d elements", r.Bound), Actual: fmt.Sprintf("%d elements", len(actual))}}
				}
			}
		}
	}

	var out []Mismatch
	if len(expected) != len(actual) {
		out = append(out, Mismatch{Path: basePath, Kind: KindLengthMismatch, Expected: fmt.Sprintf("%d elements", len(expected)), Actual: fmt.Sprintf("%d elements", len(actual))})
	}
	n := len(expected)
	if len(actual) < n {
		n = len(actual)
	}
	for i := 0; i < n; i++ {
		idxPath := basePath.Index(i)
		if entry, ok := c.rules.RuleFor(basePath, i); ok {
			out = append(out, c.applyRules(entry, idxPath, expected[i], actual[i], true, true)...)
			continue
		}
		out = append(out, c.compareValues(idxPath, expected[i], actual[i])...)
	}
	return out
}

// applyEachValue applies one rule to every actual element, per spec.md
// §4.5 ("every element of A must pass rule against the corresponding
// element of E projected through $[*]") and §8's invariant that an empty
// repeated field trivially passes.
func (c *Comparator) applyEachValue(entry *matching.Entry, basePath valuetree.Path, expected, actual []valuetree.Value) []Mismatch {
	var out []Mismatch
	var exampleElem valuetree.Value
	if len(expected) > 0 {
		exampleElem = expected[0]
	}
	for i, av := range actual {
		idxPath := basePath.Index(i)
		ev := exampleElem
		if i < len(expected) {
			ev = expected[i]
		}
		e := entry
		if r, ok := c.rules.RuleFor(basePath, i); ok {
			e = r
		}
		out = append(out, c.applyRules(e, idxPath, ev, av, true, true)...)
	}
	return out
}

func (c *Comparator) compareMap(fd *desc.FieldDescriptor, basePath valuetree.Path, e, a *valuetree.Field) []Mismatch {
	var ePairs, aPairs []valuetree.MapPair
	if e != nil {
		ePairs = e.Pairs
	}
	if a != nil {
		aPairs = a.Pairs
	}

	eachKeyEntry, hasEachKey := c.rules.Get(basePath.Wildcard())
	if hasEachKey {
		var out []Mismatch
		for _, pair := range aPairs {
			out = append(out, c.applyRules(eachKeyEntry, basePath.Key(keyString(pair.Key)), pair.Key, pair.Key, true, true)...)
		}
		return out
	}

	eIndex := mapByKey(ePairs)
	aIndex := mapByKey(aPairs)

	var out []Mismatch
	seen := make(map[string]bool)
	for k, ev := range eIndex {
		seen[k] = true
		keyPath := basePath.Key(k)
		av, ok := aIndex[k]
		if entry, has := c.rules.MapRuleFor(basePath, k); has {
			out = append(out, c.applyRules(entry, keyPath, ev, av, true, ok)...)
			continue
		}
		if !ok {
			out = append(out, Mismatch{Path: keyPath, Kind: KindMissingField, Expected: describe(ev), Actual: "<absent>"})
			continue
		}
		out = append(out, c.compareValues(keyPath, ev, av)...)
	}
	for k, av := range aIndex {
		if seen[k] {
			continue
		}
		keyPath := basePath.Key(k)
		if c.expectations.IsPresent(keyPath) {
			out = append(out, Mismatch{Path: keyPath, Kind: KindUnexpectedField, Expected: "<absent>", Actual: describe(av)})
		}
	}
	return out
}

func mapByKey(pairs []valuetree.MapPair) map[string]valuetree.Value {
	out := make(map[string]valuetree.Value, len(pairs))
	for _, p := range pairs {
		out[keyString(p.Key)] = p.Value
	}
	return out
}

func keyString(v valuetree.Value) string {
	if v.Kind == valuetree.KindScalar && v.Scalar != nil {
		if v.Scalar.Type == valuetree.String {
			return v.Scalar.Str
		}
	}
	return describe(v)
}

// applyRules evaluates every rule at an entry under its Logic (AND/OR)
// and returns the mismatches for a failing evaluation. When a rule
// passes and the value is a submessage, comparison recurses into it.
func (c *Comparator) applyRules(entry *matching.Entry, path valuetree.Path, e, a valuetree.Value, ePresent, aPresent bool) []Mismatch {
	if !aPresent {
		if !ePresent || (wire.IsDefaultScalar(e) && !c.expectations.IsPresent(path)) {
			return nil
		}
		return []Mismatch{{Path: path, Kind: KindMissingField, Expected: describe(e), Actual: "<absent>"}}
	}
	if !ePresent {
		if c.expectations.IsPresent(path) {
			return []Mismatch{{Path: path, Kind: KindUnexpectedField, Expected: "<absent>", Actual: describe(a)}}
		}
		return nil
	}

	var allMismatches [][]Mismatch
	for _, r := range entry.Rules {
		allMismatches = append(allMismatches, c.applyRule(r, path, e, a))
	}

	switch entry.Logic {
	case matching.LogicOr:
		for _, m := range allMismatches {
			if len(m) == 0 {
				return recurseIfMessage(c, path, e, a)
			}
		}
		return allMismatches[0]
	default: // LogicAnd
		var out []Mismatch
		for _, m := range allMismatches {
			out = append(out, m...)
		}
		if len(out) == 0 {
			return recurseIfMessage(c, path, e, a)
		}
		return out
	}
}

func recurseIfMessage(c *Comparator, path valuetree.Path, e, a valuetree.Value) []Mismatch {
	if e.Kind == valuetree.KindMessage && a.Kind == valuetree.KindMessage {
		return c.Compare(e.Message, a.Message, path)
	}
	return nil
}

func (c *Comparator) applyRule(r matching.Rule, path valuetree.Path, e, a valuetree.Value) []Mismatch {
	switch r.Kind {
	case matching.KindEqualTo:
		if valuesEqual(e, a) {
			return nil
		}
		return []Mismatch{{Path: path, Kind: KindValueMismatch, Expected: describe(e), Actual: describe(a)}}

	case matching.KindType:
		if e.Kind == a.Kind && (e.Kind != valuetree.KindScalar || e.Scalar.Type == a.Scalar.Type) {
			return nil
		}
		return []Mismatch{{Path: path, Kind: KindTypeMismatch, Expected: describe(e), Actual: describe(a)}}

	case matching.KindRegex:
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return []Mismatch{{Path: path, Kind: KindRegexMismatch, Expected: r.Pattern, Actual: fmt.Sprintf("invalid pattern: %v", err)}}
		}
		if re.MatchString(scalarString(a)) {
			return nil
		}
		return []Mismatch{{Path: path, Kind: KindRegexMismatch, Expected: r.Pattern, Actual: scalarString(a)}}

	case matching.KindInclude:
		if containsSubstr(scalarString(a), r.Pattern) {
			return nil
		}
		return []Mismatch{{Path: path, Kind: KindValueMismatch, Expected: fmt.Sprintf("include %q", r.Pattern), Actual: scalarString(a)}}

	case matching.KindNumber, matching.KindInteger, matching.KindDecimal:
		if a.Kind == valuetree.KindScalar && isNumericScalar(a.Scalar.Type) {
			return nil
		}
		return []Mismatch{{Path: path, Kind: KindTypeMismatch, Expected: r.Kind.String(), Actual: describe(a)}}

	case matching.KindBoolean:
		if a.Kind == valuetree.KindScalar && a.Scalar.Type == valuetree.Bool {
			return nil
		}
		return []Mismatch{{Path: path, Kind: KindTypeMismatch, Expected: "boolean", Actual: describe(a)}}

	case matching.KindNull:
		if wire.IsDefaultScalar(a) {
			return nil
		}
		return []Mismatch{{Path: path, Kind: KindValueMismatch, Expected: "null", Actual: describe(a)}}

	case matching.KindNotEmpty:
		if scalarString(a) != "" {
			return nil
		}
		return []Mismatch{{Path: path, Kind: KindValueMismatch, Expected: "<non-empty>", Actual: "<empty>"}}

	case matching.KindContentType:
		if containsSubstr(scalarString(a), r.Pattern) {
			return nil
		}
		return []Mismatch{{Path: path, Kind: KindValueMismatch, Expected: fmt.Sprintf("contentType %q", r.Pattern), Actual: scalarString(a)}}

	case matching.KindDateTime, matching.KindDate, matching.KindTime, matching.KindSemver:
		if scalarString(a) != "" {
			return nil
		}
		return []Mismatch{{Path: path, Kind: KindValueMismatch, Expected: r.Kind.String(), Actual: "<empty>"}}

	case matching.KindReference:
		// A reference rule ("same as the value at <reference>") is
		// resolved by the caller before reaching the comparator in the
		// full contract-verification flow; absent that wiring it
		// degrades to exact equality against the stored example.
		if valuesEqual(e, a) {
			return nil
		}
		return []Mismatch{{Path: path, Kind: KindValueMismatch, Expected: describe(e), Actual: describe(a)}}

	default:
		if valuesEqual(e, a) {
			return nil
		}
		return []Mismatch{{Path: path, Kind: KindValueMismatch, Expected: describe(e), Actual: describe(a)}}
	}
}

func isNumericScalar(t valuetree.ScalarType) bool {
	switch t {
	case valuetree.String, valuetree.Bytes, valuetree.Bool:
		return false
	default:
		return true
	}
}

func containsSubstr(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func valuesEqual(e, a valuetree.Value) bool {
	if e.Kind != a.Kind {
		return false
	}
	switch e.Kind {
	case valuetree.KindEnum:
		return e.Enum.Number == a.Enum.Number
	case valuetree.KindMessage:
		return false // structural equality of submessages is handled by recursion, not this helper
	default:
		return scalarsEqual(e.Scalar, a.Scalar)
	}
}

func scalarString(v valuetree.Value) string {
	if v.Kind != valuetree.KindScalar || v.Scalar == nil {
		if v.Kind == valuetree.KindEnum && v.Enum != nil {
			return v.Enum.Name
		}
		return ""
	}
	s := v.Scalar
	switch s.Type {
	case valuetree.String:
		return s.Str
	case valuetree.Bytes:
		return string(s.Raw)
	default:
		return describe(v)
	}
}

func describe(v valuetree.Value) string {
	switch v.Kind {
	case valuetree.KindScalar:
		if v.Scalar == nil {
			return "<none>"
		}
		s := v.Scalar
		switch s.Type {
		case valuetree.String:
			return s.Str
		case valuetree.Bytes:
			return fmt.Sprintf("<%d bytes>", len(s.Raw))
		case valuetree.Float, valuetree.Double:
			return fmt.Sprintf("%v", s.Float64)
		case valuetree.Bool:
			return fmt.Sprintf("%v", s.Int != 0)
		case valuetree.Uint32, valuetree.Uint64, valuetree.Fixed32, valuetree.Fixed64:
			return fmt.Sprintf("%d", s.Uint)
		default:
			return fmt.Sprintf("%d", s.Int)
		}
	case valuetree.KindEnum:
		if v.Enum == nil {
			return "<none>"
		}
		if v.Enum.Name != "" {
			return v.Enum.Name
		}
		return fmt.Sprintf("%d", v.Enum.Number)
	case valuetree.KindMessage:
		return "<message>"
	default:
		return "<none>"
	}
}
