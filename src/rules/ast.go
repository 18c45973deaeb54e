package rules

import (
	"regexp"
)

type opKind int

const (
	opEq opKind = iota
	opNe
	opGt
	opGe
	opLt
	opLe
	opContains
	opStartsWith
	opEndsWith
	opIn
	opMatches
	opSimilar
)

var opNames = map[opKind]string{
	opEq:         "==",
	opNe:         "!=",
	opGt:         ">",
	opGe:         ">=",
	opLt:         "<",
	opLe:         "<=",
	opContains:   "contains",
	opStartsWith: "startswith",
	opEndsWith:   "endswith",
	opIn:         "in",
	opMatches:    "matches",
	opSimilar:    "similar",
}

// node is one element of a compiled rule.
type node interface {
	eval(rec Record) (Value, error)
}

type fieldRef struct {
	name string
	pos  int
}

type literal struct {
	val Value
}

type listLit struct {
	items []node
}

type compare struct {
	op    opKind
	left  node
	right node
	re    *regexp.Regexp // opMatches only
	pos   int
}

type logical struct {
	and      bool
	operands []node
}

type not struct {
	operand node
}
