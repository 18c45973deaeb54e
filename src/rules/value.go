package rules

import (
	"strings"

	"github.com/shopspring/decimal"
)

type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "list"
	}
}

// Value is a typed operand produced while evaluating a rule.
type Value struct {
	Kind Kind
	Str  string
	Num  decimal.Decimal
	Bool bool
	List []Value
}

func stringValue(s string) Value { return Value{Kind: KindString, Str: s} }
func numberValue(n decimal.Decimal) Value { return Value{Kind: KindNumber, Num: n} }
func boolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// asNumber returns the value as a number, parsing strings when possible.
func (v Value) asNumber() (decimal.Decimal, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindString:
		n, err := decimal.NewFromString(strings.TrimSpace(v.Str))
		if err != nil {
			return decimal.Zero, false
		}
		return n, true
	}
	return decimal.Zero, false
}

func (v Value) asString() (string, bool) {
	switch v.Kind {
	case KindString:
		return v.Str, true
	case KindNumber:
		return v.Num.String(), true
	}
	return "", false
}
