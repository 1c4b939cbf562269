package matching

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/valuetree"
)

// ParseError reports a malformed rule-expression string, surfaced to the
// host as a ConfigError per SPEC_FULL.md §A.2.
type ParseError struct {
	Expr   string
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed matching expression %q: %s", e.Expr, e.Detail)
}

// Parse compiles one rule-expression string (spec.md §4.3's grammar) into
// a Rule. The grammar is small and hand-rolled by design (SPEC_FULL.md §9
// calls for parsing it "once, at ConfigCompile time" into a closed set of
// variants) — a recursive-descent scan over the call-expression syntax
// `name(arg, arg, ...)`, where each arg is either a quoted string literal
// or a nested call expression.
func Parse(expr string) (Rule, error) {
	p := &parser{src: expr}
	p.skipSpace()
	call, err := p.parseCall()
	if err != nil {
		return Rule{}, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return Rule{}, &ParseError{Expr: expr, Detail: "trailing input after expression"}
	}
	return toRule(expr, call)
}

// call is the raw parsed shape before being interpreted into a Rule:
// a function name plus its ordered arguments, each either a string
// literal or a nested call.
type call struct {
	name string
	args []arg
}

type arg struct {
	isCall  bool
	call    call
	literal string
	isRef   bool // a $'<reference>' literal, distinguished from a plain string
}

type parser struct {
	src string
	pos int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) parseCall() (call, error) {
	start := p.pos
	for p.pos < len(p.src) && isIdentByte(p.src[p.pos]) {
		p.pos++
	}
	name := p.src[start:p.pos]
	if name == "" {
		return call{}, &ParseError{Expr: p.src, Detail: "expected identifier"}
	}
	p.skipSpace()

	c := call{name: name}

	if p.pos >= len(p.src) || p.src[p.pos] != '(' {
		return call{}, &ParseError{Expr: p.src, Detail: fmt.Sprintf("expected '(' after %q", name)}
	}
	p.pos++ // consume '('
	p.skipSpace()

	if p.pos < len(p.src) && p.src[p.pos] == ')' {
		p.pos++
		return c, nil
	}

	for {
		p.skipSpace()
		a, err := p.parseArg()
		if err != nil {
			return call{}, err
		}
		c.args = append(c.args, a)
		p.skipSpace()
		if p.pos >= len(p.src) {
			return call{}, &ParseError{Expr: p.src, Detail: "unterminated argument list"}
		}
		if p.src[p.pos] == ',' {
			p.pos++
			continue
		}
		if p.src[p.pos] == ')' {
			p.pos++
			break
		}
		return call{}, &ParseError{Expr: p.src, Detail: fmt.Sprintf("expected ',' or ')' at position %d", p.pos)}
	}
	return c, nil
}

func (p *parser) parseArg() (arg, error) {
	if p.pos >= len(p.src) {
		return arg{}, &ParseError{Expr: p.src, Detail: "unexpected end of expression"}
	}
	switch {
	case p.src[p.pos] == '\'':
		lit, isRef, err := p.parseStringLiteral()
		if err != nil {
			return arg{}, err
		}
		return arg{literal: lit, isRef: isRef}, nil
	case p.src[p.pos] == '$' && p.pos+1 < len(p.src) && p.src[p.pos+1] == '\'':
		p.pos++ // consume '$', leaving parseStringLiteral to see p.src[pos-1]=='$'
		lit, isRef, err := p.parseStringLiteral()
		if err != nil {
			return arg{}, err
		}
		return arg{literal: lit, isRef: isRef}, nil
	case p.src[p.pos] == '-' || isDigit(p.src[p.pos]):
		start := p.pos
		p.pos++
		for p.pos < len(p.src) && (isDigit(p.src[p.pos]) || p.src[p.pos] == '.') {
			p.pos++
		}
		return arg{literal: p.src[start:p.pos]}, nil
	case isIdentStart(p.src[p.pos]):
		start := p.pos
		for p.pos < len(p.src) && isIdentByte(p.src[p.pos]) {
			p.pos++
		}
		word := p.src[start:p.pos]
		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == '(' {
			p.pos = start
			nested, err := p.parseCall()
			if err != nil {
				return arg{}, err
			}
			return arg{isCall: true, call: nested}, nil
		}
		return arg{literal: word}, nil
	default:
		return arg{}, &ParseError{Expr: p.src, Detail: fmt.Sprintf("unexpected character %q at position %d", p.src[p.pos], p.pos)}
	}
}

// parseStringLiteral consumes a '...'-delimited literal, allowing \' and
// \\ escapes, and recognises the $'...' reference shorthand used by
// matching($'<reference>').
func (p *parser) parseStringLiteral() (string, bool, error) {
	isRef := false
	if p.pos > 0 && p.src[p.pos-1] == '$' {
		isRef = true
	}
	p.pos++ // consume opening quote
	var sb strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '\\' && p.pos+1 < len(p.src) {
			sb.WriteByte(p.src[p.pos+1])
			p.pos += 2
			continue
		}
		if c == '\'' {
			p.pos++
			return sb.String(), isRef, nil
		}
		sb.WriteByte(c)
		p.pos++
	}
	return "", false, &ParseError{Expr: p.src, Detail: "unterminated string literal"}
}

func isIdentStart(b byte) bool {
	return b == '$' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b == '_'
}

func isIdentByte(b byte) bool {
	return isIdentStart(b) || isDigit(b)
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// toRule interprets a parsed call expression into a Rule.
func toRule(expr string, c call) (Rule, error) {
	switch c.name {
	case "matching":
		return toMatchingRule(expr, c)
	case "notEmpty":
		return ruleWithExample(c, KindNotEmpty, 0)
	case "eachKey":
		return ruleWithSub(expr, c, KindEachKey)
	case "eachValue":
		return ruleWithSub(expr, c, KindEachValue)
	case "atLeast":
		return ruleWithBound(expr, c, KindAtLeast)
	case "atMost":
		return ruleWithBound(expr, c, KindAtMost)
	case "fromProviderState":
		// fromProviderState is a generator, not a matching rule; callers
		// route it through generator.ParseExpression instead. Treated here as an
		// error so a misplaced expression is caught early.
		return Rule{}, &ParseError{Expr: expr, Detail: "fromProviderState is a generator expression, not a matching rule"}
	default:
		return Rule{}, &ParseError{Expr: expr, Detail: fmt.Sprintf("unrecognised rule function %q", c.name)}
	}
}

func toMatchingRule(expr string, c call) (Rule, error) {
	if len(c.args) == 0 {
		return Rule{}, &ParseError{Expr: expr, Detail: "matching() requires at least one argument"}
	}
	typeArg := c.args[0]

	if typeArg.isRef {
		return Rule{Kind: KindReference, Reference: typeArg.literal}, nil
	}
	if typeArg.isCall {
		return Rule{}, &ParseError{Expr: expr, Detail: "matching() first argument must be a type name or reference"}
	}

	switch typeArg.literal {
	case "type":
		return ruleFromArgs(expr, c.args[1:], KindType, false)
	case "equalTo":
		return ruleFromArgs(expr, c.args[1:], KindEqualTo, false)
	case "regex":
		return ruleFromArgs(expr, c.args[1:], KindRegex, true)
	case "include":
		return ruleFromArgs(expr, c.args[1:], KindInclude, true)
	case "number":
		return ruleFromArgs(expr, c.args[1:], KindNumber, false)
	case "integer":
		return ruleFromArgs(expr, c.args[1:], KindInteger, false)
	case "decimal":
		return ruleFromArgs(expr, c.args[1:], KindDecimal, false)
	case "boolean":
		return ruleFromArgs(expr, c.args[1:], KindBoolean, false)
	case "null":
		return Rule{Kind: KindNull}, nil
	case "datetime":
		return ruleWithFormat(expr, c.args[1:], KindDateTime)
	case "date":
		return ruleWithFormat(expr, c.args[1:], KindDate)
	case "time":
		return ruleWithFormat(expr, c.args[1:], KindTime)
	case "contentType":
		return ruleFromArgs(expr, c.args[1:], KindContentType, true)
	case "semver":
		return ruleFromArgs(expr, c.args[1:], KindSemver, false)
	default:
		return Rule{}, &ParseError{Expr: expr, Detail: fmt.Sprintf("unrecognised matching() type %q", typeArg.literal)}
	}
}

// ruleFromArgs builds a rule whose remaining args are either
// (pattern, example) when withPattern, or just (example).
func ruleFromArgs(expr string, args []arg, kind Kind, withPattern bool) (Rule, error) {
	r := Rule{Kind: kind}
	if withPattern {
		if len(args) < 1 {
			return Rule{}, &ParseError{Expr: expr, Detail: fmt.Sprintf("matching(%s, ...) requires a pattern argument", kind)}
		}
		r.Pattern = args[0].literal
		args = args[1:]
	}
	if len(args) > 0 {
		r.Example = literalValue(args[0].literal)
		r.HasExample = true
	}
	return r, nil
}

func ruleWithFormat(expr string, args []arg, kind Kind) (Rule, error) {
	if len(args) < 1 {
		return Rule{}, &ParseError{Expr: expr, Detail: fmt.Sprintf("matching(%s, ...) requires a format argument", kind)}
	}
	r := Rule{Kind: kind, Format: args[0].literal}
	if len(args) > 1 {
		r.Example = literalValue(args[1].literal)
		r.HasExample = true
	}
	return r, nil
}

func ruleWithExample(c call, kind Kind, argIdx int) (Rule, error) {
	r := Rule{Kind: kind}
	if len(c.args) > argIdx {
		r.Example = literalValue(c.args[argIdx].literal)
		r.HasExample = true
	}
	return r, nil
}

func ruleWithSub(expr string, c call, kind Kind) (Rule, error) {
	if len(c.args) != 1 {
		return Rule{}, &ParseError{Expr: expr, Detail: fmt.Sprintf("%s requires exactly one sub-expression argument", kind)}
	}
	a := c.args[0]
	var sub Rule
	var err error
	if a.isCall {
		sub, err = toRule(expr, a.call)
	} else {
		sub = Rule{Kind: KindEqualTo, Example: literalValue(a.literal), HasExample: true}
	}
	if err != nil {
		return Rule{}, err
	}
	return Rule{Kind: kind, Sub: &sub}, nil
}

func ruleWithBound(expr string, c call, kind Kind) (Rule, error) {
	if len(c.args) != 1 {
		return Rule{}, &ParseError{Expr: expr, Detail: fmt.Sprintf("%s requires exactly one numeric argument", kind)}
	}
	n, err := strconv.Atoi(c.args[0].literal)
	if err != nil {
		return Rule{}, &ParseError{Expr: expr, Detail: fmt.Sprintf("%s argument must be an integer: %v", kind, err)}
	}
	return Rule{Kind: kind, Bound: n}, nil
}

// literalValue turns a raw string-or-bareword literal token into a
// ValueTree scalar Value, accepting native-looking numbers/booleans as
// well as plain strings, per spec.md §4.3 ("primitive fields may be
// supplied as native values").
func literalValue(tok string) valuetree.Value {
	switch tok {
	case "true":
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Bool, Int: 1}}
	case "false":
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Bool, Int: 0}}
	}
	if i, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Int64, Int: i}}
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.Double, Float64: f}}
	}
	return valuetree.Value{Kind: valuetree.KindScalar, Scalar: &valuetree.Scalar{Type: valuetree.String, Str: tok}}
}
