// Package matching implements the MatchingCatalogue described in
// SPEC_FULL.md §3/§4.4: a path-keyed collection of matching rules
// (generators live in package generator), parsed once from the
// configuration tree's
// rule-expression strings (SPEC_FULL.md §9 — "parse it into a closed set
// of rule variants once, at ConfigCompile time").
package matching

import (
	"encoding/json"
	"fmt"

	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/valuetree"
)

// Kind enumerates the matching-rule variants named in spec.md §3.
type Kind int

const (
	KindEqualTo Kind = iota
	KindType
	KindRegex
	KindNumber
	KindInteger
	KindDecimal
	KindBoolean
	KindNull
	KindInclude
	KindDateTime
	KindDate
	KindTime
	KindContentType
	KindSemver
	KindReference // matching($'<reference>')
	KindNotEmpty
	KindEachKey
	KindEachValue
	KindAtLeast
	KindAtMost
	KindArrayContains
)

func (k Kind) String() string {
	switch k {
	case KindEqualTo:
		return "equalTo"
	case KindType:
		return "type"
	case KindRegex:
		return "regex"
	case KindNumber:
		return "number"
	case KindInteger:
		return "integer"
	case KindDecimal:
		return "decimal"
	case KindBoolean:
		return "boolean"
	case KindNull:
		return "null"
	case KindInclude:
		return "include"
	case KindDateTime:
		return "datetime"
	case KindDate:
		return "date"
	case KindTime:
		return "time"
	case KindContentType:
		return "contentType"
	case KindSemver:
		return "semver"
	case KindReference:
		return "reference"
	case KindNotEmpty:
		return "notEmpty"
	case KindEachKey:
		return "eachKey"
	case KindEachValue:
		return "eachValue"
	case KindAtLeast:
		return "atLeast"
	case KindAtMost:
		return "atMost"
	case KindArrayContains:
		return "arrayContains"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Logic combines multiple rules stored at the same path.
type Logic int

const (
	LogicAnd Logic = iota
	LogicOr
)

// Rule is one compiled matching-rule variant. Only the fields relevant to
// Kind are populated.
type Rule struct {
	Kind Kind

	Pattern string // KindRegex, KindContentType (mime), KindInclude (substring)
	Format  string // KindDateTime, KindDate, KindTime

	Example valuetree.Value // the canonical example carried by most variants
	HasExample bool

	Reference string // KindReference: "$'<reference>'" path expression
	Bound     int     // KindAtLeast, KindAtMost

	Sub *Rule // KindEachKey, KindEachValue: the rule applied to each key/value
}

// Entry is one (path, rules, logic) row in a MatchingCatalogue.
type Entry struct {
	Path  valuetree.Path
	Rules []Rule
	Logic Logic
}

// Catalogue is the path-keyed collection of matching rules compiled for
// one interaction. Paths may be exact ("$.a.b"), wildcard-indexed
// ("$.a.b[*]") for a rule applying to every repeated element, or
// literally indexed ("$.a.b[2]") for a per-element override.
type Catalogue struct {
	entries map[valuetree.Path]*Entry
	order   []valuetree.Path
}

// NewCatalogue creates an empty catalogue.
func NewCatalogue() *Catalogue {
	return &Catalogue{entries: make(map[valuetree.Path]*Entry)}
}

// Add inserts (or merges into, under AND logic) the rules for a path.
func (c *Catalogue) Add(path valuetree.Path, logic Logic, rules ...Rule) {
	if e, ok := c.entries[path]; ok {
		e.Rules = append(e.Rules, rules...)
		return
	}
	e := &Entry{Path: path, Rules: rules, Logic: logic}
	c.entries[path] = e
	c.order = append(c.order, path)
}

// Get returns the entry stored at an exact path, if any.
func (c *Catalogue) Get(path valuetree.Path) (*Entry, bool) {
	e, ok := c.entries[path]
	return e, ok
}

// Entries returns every entry in insertion order.
func (c *Catalogue) Entries() []*Entry {
	out := make([]*Entry, 0, len(c.order))
	for _, p := range c.order {
		out = append(out, c.entries[p])
	}
	return out
}

// RuleFor resolves the effective rules for a repeated-field element at a
// concrete index, implementing the Open Question decision recorded in
// SPEC_FULL.md §E.1: a per-index entry ("$.f[2]") overrides the
// wildcard entry ("$.f[*]") only for that index; every other index falls
// back to the wildcard entry. basePath is the repeated field's path
// without an index segment (e.g. "$.f").
func (c *Catalogue) RuleFor(basePath valuetree.Path, index int) (*Entry, bool) {
	if e, ok := c.entries[basePath.Index(index)]; ok {
		return e, true
	}
	if e, ok := c.entries[basePath.Wildcard()]; ok {
		return e, true
	}
	return nil, false
}

// MapRuleFor resolves the effective rule for a map-entry key, analogous
// to RuleFor but keyed by the literal map key rather than an index.
func (c *Catalogue) MapRuleFor(basePath valuetree.Path, key string) (*Entry, bool) {
	if e, ok := c.entries[basePath.Key(key)]; ok {
		return e, true
	}
	if e, ok := c.entries[basePath.Wildcard()]; ok {
		return e, true
	}
	return nil, false
}

// jsonRule is Rule's JSON wire shape, persisted as part of a catalogue
// (see Catalogue.MarshalJSON).
type jsonRule struct {
	Kind      Kind              `json:"kind"`
	Pattern   string            `json:"pattern,omitempty"`
	Format    string            `json:"format,omitempty"`
	Example   *valuetree.JSONValue `json:"example,omitempty"`
	Reference string            `json:"reference,omitempty"`
	Bound     int               `json:"bound,omitempty"`
	Sub       *jsonRule         `json:"sub,omitempty"`
}

func toJSONRule(r Rule) jsonRule {
	j := jsonRule{Kind: r.Kind, Pattern: r.Pattern, Format: r.Format, Reference: r.Reference, Bound: r.Bound}
	if r.HasExample {
		ex := valuetree.ToJSONValue(r.Example)
		j.Example = &ex
	}
	if r.Sub != nil {
		sub := toJSONRule(*r.Sub)
		j.Sub = &sub
	}
	return j
}

func (j jsonRule) toRule() Rule {
	r := Rule{Kind: j.Kind, Pattern: j.Pattern, Format: j.Format, Reference: j.Reference, Bound: j.Bound}
	if j.Example != nil {
		r.Example = j.Example.Value()
		r.HasExample = true
	}
	if j.Sub != nil {
		sub := j.Sub.toRule()
		r.Sub = &sub
	}
	return r
}

// jsonEntry is Entry's JSON wire shape.
type jsonEntry struct {
	Path  valuetree.Path `json:"path"`
	Logic Logic          `json:"logic"`
	Rules []jsonRule     `json:"rules"`
}

// MarshalJSON persists the catalogue's entries in insertion order, so a
// compiled interaction's matching rules travel alongside the descriptor
// blob and expectations in a plugincontract.Extension rather than being
// discarded after ConfigureInteraction returns.
func (c *Catalogue) MarshalJSON() ([]byte, error) {
	entries := make([]jsonEntry, 0, len(c.order))
	for _, p := range c.order {
		e := c.entries[p]
		rules := make([]jsonRule, 0, len(e.Rules))
		for _, r := range e.Rules {
			rules = append(rules, toJSONRule(r))
		}
		entries = append(entries, jsonEntry{Path: e.Path, Logic: e.Logic, Rules: rules})
	}
	return json.Marshal(entries)
}

// UnmarshalJSON rebuilds a catalogue from its persisted entries.
func (c *Catalogue) UnmarshalJSON(data []byte) error {
	var entries []jsonEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("matching: unmarshal catalogue: %w", err)
	}
	c.entries = make(map[valuetree.Path]*Entry, len(entries))
	c.order = nil
	for _, e := range entries {
		rules := make([]Rule, 0, len(e.Rules))
		for _, jr := range e.Rules {
			rules = append(rules, jr.toRule())
		}
		c.Add(e.Path, e.Logic, rules...)
	}
	return nil
}
