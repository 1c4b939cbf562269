// Package generator implements the GeneratorCatalogue application
// described in SPEC_FULL.md §4.4: evaluating a generator expression at
// delivery time to inject a value at a path into a cloned ValueTree.
package generator

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	mathrand "math/rand"
	"regexp/syntax"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/valuetree"
)

// Kind enumerates the generator variants named in spec.md §3.
type Kind int

const (
	KindRandomInt Kind = iota
	KindRandomDecimal
	KindRandomHex
	KindRandomString
	KindUUID
	KindDateTime
	KindDate
	KindTime
	KindMockServerURL
	KindProviderState
	KindRandomBoolean
)

func (k Kind) String() string {
	switch k {
	case KindRandomInt:
		return "randomInt"
	case KindRandomDecimal:
		return "randomDecimal"
	case KindRandomHex:
		return "randomHex"
	case KindRandomString:
		return "randomString"
	case KindUUID:
		return "uuid"
	case KindDateTime:
		return "dateTime"
	case KindDate:
		return "date"
	case KindTime:
		return "time"
	case KindMockServerURL:
		return "mockServerURL"
	case KindProviderState:
		return "providerState"
	case KindRandomBoolean:
		return "randomBoolean"
	default:
		return "unknown"
	}
}

// Generator is one compiled generator-catalogue entry.
type Generator struct {
	Kind Kind

	// KindRandomInt / KindRandomDecimal / KindRandomString (length form)
	Length int
	// KindRandomString (regex form)
	Regex string
	// KindDateTime / KindDate / KindTime
	Format string
	// KindProviderState
	Expression string
	Default    valuetree.Value
}

// Context supplies delivery-time inputs a generator may need: the
// provider-state lookup map and the live mock server's bound URL.
type Context struct {
	ProviderState map[string]string
	MockServerURL string
}

// Entry is one (path, generator) row in a GeneratorCatalogue.
type Entry struct {
	Path      valuetree.Path
	Generator Generator
}

// Catalogue is the path-keyed collection of generators compiled for one
// interaction.
type Catalogue struct {
	entries map[valuetree.Path]Generator
	order   []valuetree.Path
}

// NewCatalogue creates an empty catalogue.
func NewCatalogue() *Catalogue {
	return &Catalogue{entries: make(map[valuetree.Path]Generator)}
}

// Add inserts the generator for a path.
func (c *Catalogue) Add(path valuetree.Path, gen Generator) {
	if _, exists := c.entries[path]; !exists {
		c.order = append(c.order, path)
	}
	c.entries[path] = gen
}

// Get returns the generator stored at a path, if any.
func (c *Catalogue) Get(path valuetree.Path) (Generator, bool) {
	g, ok := c.entries[path]
	return g, ok
}

// Entries returns every entry in insertion (descriptor) order, per
// spec.md §4.4's "evaluated in descriptor order".
func (c *Catalogue) Entries() []Entry {
	out := make([]Entry, 0, len(c.order))
	for _, p := range c.order {
		out = append(out, Entry{Path: p, Generator: c.entries[p]})
	}
	return out
}

// jsonGenerator is Generator's JSON wire shape, persisted as part of a
// catalogue (see Catalogue.MarshalJSON).
type jsonGenerator struct {
	Kind       Kind                 `json:"kind"`
	Length     int                  `json:"length,omitempty"`
	Regex      string               `json:"regex,omitempty"`
	Format     string               `json:"format,omitempty"`
	Expression string               `json:"expression,omitempty"`
	Default    *valuetree.JSONValue `json:"default,omitempty"`
}

func toJSONGenerator(g Generator) jsonGenerator {
	j := jsonGenerator{Kind: g.Kind, Length: g.Length, Regex: g.Regex, Format: g.Format, Expression: g.Expression}
	if g.Default.Kind == valuetree.KindScalar || g.Default.Kind == valuetree.KindEnum {
		if g.Default.Scalar != nil || g.Default.Enum != nil {
			d := valuetree.ToJSONValue(g.Default)
			j.Default = &d
		}
	}
	return j
}

func (j jsonGenerator) toGenerator() Generator {
	g := Generator{Kind: j.Kind, Length: j.Length, Regex: j.Regex, Format: j.Format, Expression: j.Expression}
	if j.Default != nil {
		g.Default = j.Default.Value()
	}
	return g
}

// jsonGenEntry is Entry's JSON wire shape.
type jsonGenEntry struct {
	Path      valuetree.Path `json:"path"`
	Generator jsonGenerator  `json:"generator"`
}

// MarshalJSON persists the catalogue's entries in insertion order, so a
// compiled interaction's generators travel alongside the descriptor blob
// and expectations in a plugincontract.Extension rather than being
// discarded after ConfigureInteraction returns.
func (c *Catalogue) MarshalJSON() ([]byte, error) {
	entries := make([]jsonGenEntry, 0, len(c.order))
	for _, p := range c.order {
		entries = append(entries, jsonGenEntry{Path: p, Generator: toJSONGenerator(c.entries[p])})
	}
	return json.Marshal(entries)
}

// UnmarshalJSON rebuilds a catalogue from its persisted entries.
func (c *Catalogue) UnmarshalJSON(data []byte) error {
	var entries []jsonGenEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("generator: unmarshal catalogue: %w", err)
	}
	c.entries = make(map[valuetree.Path]Generator, len(entries))
	c.order = nil
	for _, e := range entries {
		c.Add(e.Path, e.Generator.toGenerator())
	}
	return nil
}

// Evaluate runs one generator and returns the typed value that replaces
// the example at its path. Evaluation is single-threaded per interaction
// (spec.md §4.4), so Evaluate takes no lock of its own.
func Evaluate(g Generator, ctx Context) (valuetree.Value, error) {
	switch g.Kind {
	case KindRandomInt:
		return randomInt(g.Length), nil
	case KindRandomDecimal:
		return randomDecimal(g.Length), nil
	case KindRandomHex:
		return randomHex(g.Length), nil
	case KindRandomString:
		if g.Regex != "" {
			s, err := randomFromRegex(g.Regex)
			if err != nil {
				return valuetree.Value{}, fmt.Errorf("generator random-string regex %q: %w", g.Regex, err)
			}
			return stringValue(s), nil
		}
		return stringValue(randomString(g.Length)), nil
	case KindUUID:
		return stringValue(uuid.NewString()), nil
	case KindDateTime:
		return stringValue(formatNow(g.Format, true, true)), nil
	case KindDate:
		return stringValue(formatNow(g.Format, true, false)), nil
	case KindTime:
		return stringValue(formatNow(g.Format, false, true)), nil
	case KindMockServerURL:
		return stringValue(ctx.MockServerURL), nil
	case KindProviderState:
		if v, ok := ctx.ProviderState[g.Expression]; ok {
			return stringValue(v), nil
		}
		return g.Default, nil
	case KindRandomBoolean:
		return boolValue(mathrand.Intn(2) == 1), nil
	default:
		return valuetree.Value{}, fmt.Errorf("unsupported generator kind %d", int(g.Kind))
	}
}

func stringValue(s string) valuetree.Value {
	return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.String, Str: s}}
}

func boolValue(b bool) valuetree.Value {
	i := int64(0)
	if b {
		i = 1
	}
	return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Bool, Int: i}}
}

func randomInt(digits int) valuetree.Value {
	if digits <= 0 {
		digits = 8
	}
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		n = big.NewInt(0)
	}
	return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Int64, Int: n.Int64()}}
}

func randomDecimal(digits int) valuetree.Value {
	if digits <= 0 {
		digits = 4
	}
	whole := mathrand.Intn(1000)
	frac := mathrand.Intn(intPow(10, digits))
	f, _ := strconv.ParseFloat(fmt.Sprintf("%d.%0*d", whole, digits, frac), 64)
	return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Double, Float64: f}}
}

func intPow(base, exp int) int {
	r := 1
	for i := 0; i < exp; i++ {
		r *= base
	}
	return r
}

func randomHex(length int) valuetree.Value {
	if length <= 0 {
		length = 8
	}
	const hexDigits = "0123456789abcdef"
	var sb strings.Builder
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(hexDigits))))
		if err != nil {
			sb.WriteByte('0')
			continue
		}
		sb.WriteByte(hexDigits[n.Int64()])
	}
	return stringValue(sb.String())
}

func randomString(length int) string {
	if length <= 0 {
		length = 20
	}
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	var sb strings.Builder
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			sb.WriteByte('a')
			continue
		}
		sb.WriteByte(alphabet[n.Int64()])
	}
	return sb.String()
}

// randomFromRegex produces a string accepted by pattern using the
// standard library's own regex syntax tree (regexp/syntax), walking
// simple literal/char-class/repeat nodes. Non-trivial constructs
// (backreferences, lookaround) are not part of RE2 syntax and so cannot
// appear in pattern in the first place.
func randomFromRegex(pattern string) (string, error) {
	re, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := genFromRegexpNode(re, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func genFromRegexpNode(re *syntax.Regexp, sb *strings.Builder) error {
	switch re.Op {
	case syntax.OpLiteral:
		for _, r := range re.Rune {
			sb.WriteRune(r)
		}
	case syntax.OpConcat, syntax.OpCapture:
		for _, sub := range re.Sub {
			if err := genFromRegexpNode(sub, sb); err != nil {
				return err
			}
		}
	case syntax.OpAlternate:
		if len(re.Sub) == 0 {
			return nil
		}
		choice := re.Sub[mathrand.Intn(len(re.Sub))]
		return genFromRegexpNode(choice, sb)
	case syntax.OpStar:
		n := mathrand.Intn(3)
		for i := 0; i < n; i++ {
			if err := genFromRegexpNode(re.Sub[0], sb); err != nil {
				return err
			}
		}
	case syntax.OpPlus:
		n := mathrand.Intn(3) + 1
		for i := 0; i < n; i++ {
			if err := genFromRegexpNode(re.Sub[0], sb); err != nil {
				return err
			}
		}
	case syntax.OpQuest:
		if mathrand.Intn(2) == 1 {
			return genFromRegexpNode(re.Sub[0], sb)
		}
	case syntax.OpRepeat:
		min := re.Min
		max := re.Max
		if max < 0 || max > min+3 {
			max = min + 3
		}
		n := min
		if max > min {
			n = min + mathrand.Intn(max-min+1)
		}
		for i := 0; i < n; i++ {
			if err := genFromRegexpNode(re.Sub[0], sb); err != nil {
				return err
			}
		}
	case syntax.OpCharClass:
		if len(re.Rune) < 2 {
			return nil
		}
		pairIdx := mathrand.Intn(len(re.Rune) / 2)
		lo, hi := re.Rune[pairIdx*2], re.Rune[pairIdx*2+1]
		span := int(hi-lo) + 1
		r := lo + rune(mathrand.Intn(span))
		sb.WriteRune(r)
	case syntax.OpAnyChar, syntax.OpAnyCharNotNL:
		sb.WriteRune('x')
	case syntax.OpBeginLine, syntax.OpEndLine, syntax.OpBeginText, syntax.OpEndText,
		syntax.OpWordBoundary, syntax.OpNoWordBoundary, syntax.OpEmptyMatch:
		// zero-width, nothing to emit
	default:
		return fmt.Errorf("unsupported regex construct in generator: %v", re.Op)
	}
	return nil
}

func formatNow(format string, date, clock bool) string {
	now := time.Now().UTC()
	if format != "" {
		return now.Format(convertJavaLikeFormat(format))
	}
	switch {
	case date && clock:
		return now.Format(time.RFC3339)
	case date:
		return now.Format("2006-01-02")
	default:
		return now.Format("15:04:05")
	}
}

// convertJavaLikeFormat translates the subset of Java/ISO date-format
// tokens consumer tests commonly pass (yyyy, MM, dd, HH, mm, ss) into Go's
// reference-time layout, since the configuration tree's format strings
// originate from the host framework's cross-language format syntax, not
// Go's.
func convertJavaLikeFormat(format string) string {
	replacer := strings.NewReplacer(
		"yyyy", "2006",
		"MM", "01",
		"dd", "02",
		"HH", "15",
		"mm", "04",
		"ss", "05",
	)
	return replacer.Replace(format)
}
