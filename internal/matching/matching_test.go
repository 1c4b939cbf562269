package matching

import (
	"encoding/json"
	"testing"

	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/valuetree"
)

func TestParseMatchingRegex(t *testing.T) {
	r, err := Parse(`matching(regex, '^[0-9]+$', '123')`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if r.Kind != KindRegex {
		t.Errorf("Kind = %v, want KindRegex", r.Kind)
	}
	if r.Pattern != "^[0-9]+$" {
		t.Errorf("Pattern = %q", r.Pattern)
	}
	if !r.HasExample || r.Example.Scalar.Str != "123" {
		t.Errorf("Example = %+v", r.Example)
	}
}

func TestParseMatchingType(t *testing.T) {
	r, err := Parse(`matching(type, 'hello')`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if r.Kind != KindType {
		t.Errorf("Kind = %v, want KindType", r.Kind)
	}
}

func TestParseNotEmpty(t *testing.T) {
	r, err := Parse(`notEmpty('default')`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if r.Kind != KindNotEmpty {
		t.Errorf("Kind = %v, want KindNotEmpty", r.Kind)
	}
	if r.Example.Scalar.Str != "default" {
		t.Errorf("Example = %+v", r.Example)
	}
}

func TestParseEachValueWithNestedMatching(t *testing.T) {
	r, err := Parse(`eachValue(matching(regex, '[a-z]+', 'abc'))`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if r.Kind != KindEachValue {
		t.Fatalf("Kind = %v, want KindEachValue", r.Kind)
	}
	if r.Sub == nil || r.Sub.Kind != KindRegex || r.Sub.Pattern != "[a-z]+" {
		t.Errorf("Sub = %+v", r.Sub)
	}
}

func TestParseAtLeast(t *testing.T) {
	r, err := Parse(`atLeast(2)`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if r.Kind != KindAtLeast || r.Bound != 2 {
		t.Errorf("rule = %+v", r)
	}
}

func TestParseReference(t *testing.T) {
	r, err := Parse(`matching($'$.body.id')`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if r.Kind != KindReference || r.Reference != "$.body.id" {
		t.Errorf("rule = %+v", r)
	}
}

func TestParseFromProviderStateRejected(t *testing.T) {
	_, err := Parse(`fromProviderState('${id}', '1')`)
	if err == nil {
		t.Fatal("expected error: fromProviderState is not a matching rule")
	}
}

func TestParseUnrecognisedFunction(t *testing.T) {
	_, err := Parse(`bogus('x')`)
	if err == nil {
		t.Fatal("expected error for unrecognised rule function")
	}
}

func TestParseTrailingInput(t *testing.T) {
	_, err := Parse(`notEmpty('x') garbage`)
	if err == nil {
		t.Fatal("expected error for trailing input")
	}
}

func TestParseUnterminatedString(t *testing.T) {
	_, err := Parse(`matching(regex, 'abc)`)
	if err == nil {
		t.Fatal("expected error for unterminated string literal")
	}
}

func TestLiteralValueCoercion(t *testing.T) {
	cases := []struct {
		tok  string
		want valuetree.ScalarType
	}{
		{"true", valuetree.Bool},
		{"false", valuetree.Bool},
		{"42", valuetree.Int64},
		{"3.14", valuetree.Double},
		{"hello", valuetree.String},
	}
	for _, tc := range cases {
		v := literalValue(tc.tok)
		if v.Scalar.Type != tc.want {
			t.Errorf("literalValue(%q).Scalar.Type = %v, want %v", tc.tok, v.Scalar.Type, tc.want)
		}
	}
}

func TestCatalogueAddAndGet(t *testing.T) {
	c := NewCatalogue()
	path := valuetree.Root.Field("name")
	c.Add(path, LogicAnd, Rule{Kind: KindNotEmpty})

	e, ok := c.Get(path)
	if !ok {
		t.Fatal("expected entry to be present")
	}
	if len(e.Rules) != 1 || e.Rules[0].Kind != KindNotEmpty {
		t.Errorf("entry rules = %+v", e.Rules)
	}

	c.Add(path, LogicAnd, Rule{Kind: KindType})
	e, _ = c.Get(path)
	if len(e.Rules) != 2 {
		t.Errorf("expected merged rules, got %d", len(e.Rules))
	}
}

func TestCatalogueEntriesOrder(t *testing.T) {
	c := NewCatalogue()
	pFirst := valuetree.Root.Field("a")
	pSecond := valuetree.Root.Field("b")
	c.Add(pFirst, LogicAnd, Rule{Kind: KindNotEmpty})
	c.Add(pSecond, LogicAnd, Rule{Kind: KindType})

	entries := c.Entries()
	if len(entries) != 2 || entries[0].Path != pFirst || entries[1].Path != pSecond {
		t.Errorf("entries out of order: %+v", entries)
	}
}

func TestCatalogueRuleForIndexOverridesWildcard(t *testing.T) {
	c := NewCatalogue()
	base := valuetree.Root.Field("items")
	c.Add(base.Wildcard(), LogicAnd, Rule{Kind: KindType})
	c.Add(base.Index(2), LogicAnd, Rule{Kind: KindEqualTo})

	e, ok := c.RuleFor(base, 2)
	if !ok || e.Rules[0].Kind != KindEqualTo {
		t.Errorf("expected per-index override at index 2, got %+v", e)
	}

	e, ok = c.RuleFor(base, 0)
	if !ok || e.Rules[0].Kind != KindType {
		t.Errorf("expected wildcard fallback at index 0, got %+v", e)
	}
}

func TestCatalogueMapRuleForKeyOverridesWildcard(t *testing.T) {
	c := NewCatalogue()
	base := valuetree.Root.Field("attrs")
	c.Add(base.Wildcard(), LogicAnd, Rule{Kind: KindType})
	c.Add(base.Key("env"), LogicAnd, Rule{Kind: KindEqualTo})

	e, ok := c.MapRuleFor(base, "env")
	if !ok || e.Rules[0].Kind != KindEqualTo {
		t.Errorf("expected per-key override, got %+v", e)
	}

	e, ok = c.MapRuleFor(base, "other")
	if !ok || e.Rules[0].Kind != KindType {
		t.Errorf("expected wildcard fallback for unlisted key, got %+v", e)
	}
}

func TestCatalogueRuleForNoMatch(t *testing.T) {
	c := NewCatalogue()
	if _, ok := c.RuleFor(valuetree.Root.Field("missing"), 0); ok {
		t.Error("expected no rule for unconfigured path")
	}
}

func TestCatalogueJSONRoundTrips(t *testing.T) {
	c := NewCatalogue()
	c.Add(valuetree.Root.Field("name"), LogicAnd,
		Rule{Kind: KindRegex, Pattern: "^[0-9]+$", Example: valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.String, Str: "123"}}, HasExample: true})
	sub := Rule{Kind: KindType}
	c.Add(valuetree.Root.Field("items").Wildcard(), LogicOr, Rule{Kind: KindEachValue, Sub: &sub})

	raw, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var roundTripped Catalogue
	if err := json.Unmarshal(raw, &roundTripped); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	entry, ok := roundTripped.Get(valuetree.Root.Field("name"))
	if !ok {
		t.Fatal("expected $.name entry to round-trip")
	}
	if entry.Rules[0].Kind != KindRegex || entry.Rules[0].Pattern != "^[0-9]+$" {
		t.Errorf("unexpected rule: %+v", entry.Rules[0])
	}
	if !entry.Rules[0].HasExample || entry.Rules[0].Example.Scalar.Str != "123" {
		t.Errorf("unexpected example: %+v", entry.Rules[0].Example)
	}

	wildEntry, ok := roundTripped.Get(valuetree.Root.Field("items").Wildcard())
	if !ok || wildEntry.Logic != LogicOr {
		t.Fatalf("expected $.items[*] entry with LogicOr, got %+v", wildEntry)
	}
	if wildEntry.Rules[0].Kind != KindEachValue || wildEntry.Rules[0].Sub == nil || wildEntry.Rules[0].Sub.Kind != KindType {
		t.Errorf("unexpected eachValue rule: %+v", wildEntry.Rules[0])
	}
}
