package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var keywords = map[string]bool{
	"and": true, "or": true, "not": true, "true": true, "false": true,
	"contains": true, "startswith": true, "endswith": true,
	"in": true, "matches": true, "similar": true,
}

func isKeyword(s string) bool {
	return keywords[strings.ToLower(s)]
}

var symbolOps = map[string]opKind{
	"==": opEq, "=": opEq,
	"!=": opNe, "<>": opNe,
	">": opGt, ">=": opGe,
	"<": opLt, "<=": opLe,
}

var wordOps = map[string]opKind{
	"contains":   opContains,
	"startswith": opStartsWith,
	"endswith":   opEndsWith,
	"in":         opIn,
	"matches":    opMatches,
	"similar":    opSimilar,
}

type parser struct {
	toks []token
	pos  int
}

func parse(src string) (node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	if p.peek().kind == tokEOF {
		return nil, &SyntaxError{Pos: 0, Msg: "empty rule"}
	}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %s", t)}
	}
	return n, nil
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) acceptWord(words ...string) bool {
	t := p.peek()
	for _, w := range words {
		if (t.kind == tokIdent || t.kind == tokOp) && strings.EqualFold(t.text, w) {
			p.pos++
			return true
		}
	}
	return false
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	operands := []node{left}
	for p.acceptWord("or", "||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		operands = append(operands, right)
	}
	if len(operands) == 1 {
		return left, nil
	}
	return &logical{and: false, operands: operands}, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	operands := []node{left}
	for p.acceptWord("and", "&&") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		operands = append(operands, right)
	}
	if len(operands) == 1 {
		return left, nil
	}
	return &logical{and: true, operands: operands}, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.acceptWord("not", "!") {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &not{operand: operand}, nil
	}
	return p.parseCompare()
}

func (p *parser) parseCompare() (node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	var op opKind
	switch {
	case t.kind == tokOp:
		k, ok := symbolOps[t.text]
		if !ok {
			return left, nil
		}
		op = k
	case t.kind == tokIdent:
		k, ok := wordOps[strings.ToLower(t.text)]
		if !ok {
			return left, nil
		}
		op = k
	default:
		return left, nil
	}
	p.next()

	right, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	c := &compare{op: op, left: left, right: right, pos: t.pos}
	switch op {
	case opMatches:
		lit, ok := right.(*literal)
		if !ok || lit.val.Kind != KindString {
			return nil, &SyntaxError{Pos: t.pos, Msg: "matches needs a string pattern"}
		}
		re, err := regexp.Compile("(?i)" + lit.val.Str)
		if err != nil {
			return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("bad pattern: %v", err)}
		}
		c.re = re
	case opIn:
		if _, ok := right.(*listLit); !ok {
			if _, isField := right.(*fieldRef); !isField {
				return nil, &SyntaxError{Pos: t.pos, Msg: "in needs a list"}
			}
		}
	}
	return c, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return &literal{val: stringValue(t.text)}, nil
	case tokNumber:
		n, err := decimal.NewFromString(t.text)
		if err != nil {
			return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("bad number %q", t.text)}
		}
		return &literal{val: numberValue(n)}, nil
	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true":
			return &literal{val: boolValue(true)}, nil
		case "false":
			return &literal{val: boolValue(false)}, nil
		}
		if isKeyword(t.text) {
			return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected keyword %s", t)}
		}
		return &fieldRef{name: t.text, pos: t.pos}, nil
	case tokLParen:
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, &SyntaxError{Pos: closing.pos, Msg: fmt.Sprintf("expected ) but got %s", closing)}
		}
		return n, nil
	case tokLBracket:
		return p.parseList(t)
	}
	return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %s", t)}
}

func (p *parser) parseList(open token) (node, error) {
	list := &listLit{}
	if p.peek().kind == tokRBracket {
		p.next()
		return list, nil
	}
	for {
		item, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		list.items = append(list.items, item)
		t := p.next()
		switch t.kind {
		case tokComma:
			continue
		case tokRBracket:
			return list, nil
		default:
			return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("expected , or ] in list opened at %d but got %s", open.pos, t)}
		}
	}
}
