package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/riskguard/decisionengine/internal/value"
)

var namespacesWithCallID = map[string]bool{
	"api": true, "service": true, "llm": true, "list": true,
}

var keywords = map[string]bool{
	"and": true, "or": true, "not": true, "in": true,
	"regex": true, "exists": true, "missing": true,
	"true": true, "false": true, "null": true,
}

// Parse compiles a string expression (spec.md §4.2, grammar essentials) into an
// ExprTree.
func Parse(src string) (*Node, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur().kind != tokEOF {
		return nil, fmt.Errorf("expr: unexpected trailing token %q", p.cur().text)
	}
	return n, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) advance()    { p.pos++ }
func (p *parser) isKeyword(s string) bool {
	t := p.cur()
	return t.kind == tokIdent && t.text == s
}

func (p *parser) parseOr() (*Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	operands := []*Node{left}
	for p.isKeyword("or") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		operands = append(operands, right)
	}
	if len(operands) == 1 {
		return left, nil
	}
	return &Node{Kind: KindOr, Operands: operands}, nil
}

func (p *parser) parseAnd() (*Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	operands := []*Node{left}
	for p.isKeyword("and") {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		operands = append(operands, right)
	}
	if len(operands) == 1 {
		return left, nil
	}
	return &Node{Kind: KindAnd, Operands: operands}, nil
}

func (p *parser) parseNot() (*Node, error) {
	if p.isKeyword("not") {
		p.advance()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Node{Kind: KindNot, Left: inner}, nil
	}
	return p.parseComparison()
}

var compareOps = map[string]bool{"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true}

func (p *parser) parseComparison() (*Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	switch {
	case p.cur().kind == tokOp && compareOps[p.cur().text]:
		op := p.cur().text
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &Node{Kind: KindBinary, Op: op, Left: left, Right: right}, nil
	case p.isKeyword("in"):
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &Node{Kind: KindIn, Left: left, Right: right}, nil
	case p.isKeyword("regex"):
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if right.Kind != KindLiteral {
			return nil, fmt.Errorf("expr: regex pattern must be a string literal")
		}
		pattern, _ := right.Value.AsString()
		return &Node{Kind: KindRegex, Left: left, Pattern: pattern}, nil
	case p.isKeyword("exists"):
		p.advance()
		if left.Kind != KindField {
			return nil, fmt.Errorf("expr: exists requires a field path operand")
		}
		return &Node{Kind: KindExists, Field: left.Field}, nil
	case p.isKeyword("missing"):
		p.advance()
		if left.Kind != KindField {
			return nil, fmt.Errorf("expr: missing requires a field path operand")
		}
		return &Node{Kind: KindMissing, Field: left.Field}, nil
	default:
		return left, nil
	}
}

func (p *parser) parseAdditive() (*Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokOp && (p.cur().text == "+" || p.cur().text == "-") {
		op := p.cur().text
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &Node{Kind: KindBinary, Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (*Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokOp && (p.cur().text == "*" || p.cur().text == "/" || p.cur().text == "%") {
		op := p.cur().text
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Node{Kind: KindBinary, Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (*Node, error) {
	if p.cur().kind == tokOp && p.cur().text == "-" {
		p.advance()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Node{Kind: KindBinary, Op: "neg", Left: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (*Node, error) {
	t := p.cur()
	switch {
	case t.kind == tokNumber:
		p.advance()
		return &Node{Kind: KindLiteral, Value: numberValue(t.text)}, nil
	case t.kind == tokString:
		p.advance()
		return &Node{Kind: KindLiteral, Value: value.String(t.text)}, nil
	case t.kind == tokLParen:
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.cur().kind != tokRParen {
			return nil, fmt.Errorf("expr: expected ')'")
		}
		p.advance()
		return inner, nil
	case t.kind == tokLBracket:
		return p.parseList()
	case t.kind == tokIdent:
		switch t.text {
		case "true":
			p.advance()
			return &Node{Kind: KindLiteral, Value: value.Bool(true)}, nil
		case "false":
			p.advance()
			return &Node{Kind: KindLiteral, Value: value.Bool(false)}, nil
		case "null":
			p.advance()
			return &Node{Kind: KindLiteral, Value: value.Null()}, nil
		}
		if keywords[t.text] {
			return nil, fmt.Errorf("expr: unexpected keyword %q", t.text)
		}
		p.advance()
		return &Node{Kind: KindField, Field: parseFieldPath(t.text)}, nil
	default:
		return nil, fmt.Errorf("expr: unexpected token %q", t.text)
	}
}

func (p *parser) parseList() (*Node, error) {
	p.advance() // [
	var elems []value.Value
	for p.cur().kind != tokRBracket {
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if n.Kind != KindLiteral {
			return nil, fmt.Errorf("expr: list literal elements must be literals")
		}
		elems = append(elems, n.Value)
		if p.cur().kind == tokComma {
			p.advance()
			continue
		}
		break
	}
	if p.cur().kind != tokRBracket {
		return nil, fmt.Errorf("expr: expected ']'")
	}
	p.advance()
	return &Node{Kind: KindLiteral, Value: value.Sequence(elems...)}, nil
}

func numberValue(text string) value.Value {
	if strings.Contains(text, ".") {
		f, _ := strconv.ParseFloat(text, 64)
		return value.Float(f)
	}
	i, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		f, _ := strconv.ParseFloat(text, 64)
		return value.Float(f)
	}
	return value.Int(i)
}

func parseFieldPath(ident string) *FieldPath {
	parts := strings.Split(ident, ".")
	ns := parts[0]
	rest := parts[1:]
	if namespacesWithCallID[ns] && len(rest) > 0 {
		return &FieldPath{Namespace: ns, CallID: rest[0], Path: rest[1:]}
	}
	return &FieldPath{Namespace: ns, Path: rest}
}
