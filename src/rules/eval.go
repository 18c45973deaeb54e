package rules

import (
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"
)

// SimilarityThreshold is the minimum normalized Levenshtein similarity for
// the similar operator.
const SimilarityThreshold = 0.8

// Record is a normalized field map. Every field is reachable under its
// original key and its lower-cased key.
type Record map[string]any

// Normalize builds a Record from raw fields.
func Normalize(fields map[string]any) Record {
	rec := make(Record, len(fields)*2)
	for k, v := range fields {
		rec[k] = v
	}
	for k, v := range fields {
		lower := strings.ToLower(k)
		if _, taken := rec[lower]; !taken {
			rec[lower] = v
		}
	}
	return rec
}

func (r Record) lookup(name string) (any, bool) {
	if v, ok := r[name]; ok {
		return v, true
	}
	v, ok := r[strings.ToLower(name)]
	return v, ok
}

// EvalError is returned when a rule cannot be evaluated against a record.
type EvalError struct {
	Pos int
	Msg string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("rule evaluation error at %d: %s", e.Pos, e.Msg)
}

func (f *fieldRef) eval(rec Record) (Value, error) {
	raw, ok := rec.lookup(f.name)
	if !ok {
		return Value{}, &EvalError{Pos: f.pos, Msg: fmt.Sprintf("unknown field %q", f.name)}
	}
	switch v := raw.(type) {
	case nil:
		return stringValue(""), nil
	case string:
		return stringValue(v), nil
	case *string:
		if v == nil {
			return stringValue(""), nil
		}
		return stringValue(*v), nil
	case bool:
		return boolValue(v), nil
	case decimal.Decimal:
		return numberValue(v), nil
	case int:
		return numberValue(decimal.NewFromInt(int64(v))), nil
	case int64:
		return numberValue(decimal.NewFromInt(v)), nil
	case float64:
		return numberValue(decimal.NewFromFloat(v)), nil
	case fmt.Stringer:
		return stringValue(v.String()), nil
	}
	return Value{}, &EvalError{Pos: f.pos, Msg: fmt.Sprintf("field %q has unsupported type %T", f.name, raw)}
}

func (l *literal) eval(Record) (Value, error) {
	return l.val, nil
}

func (l *listLit) eval(rec Record) (Value, error) {
	items := make([]Value, 0, len(l.items))
	for _, n := range l.items {
		v, err := n.eval(rec)
		if err != nil {
			return Value{}, err
		}
		items = append(items, v)
	}
	return Value{Kind: KindList, List: items}, nil
}

func (n *not) eval(rec Record) (Value, error) {
	v, err := evalBool(n.operand, rec)
	if err != nil {
		return Value{}, err
	}
	return boolValue(!v), nil
}

func (l *logical) eval(rec Record) (Value, error) {
	for _, operand := range l.operands {
		v, err := evalBool(operand, rec)
		if err != nil {
			return Value{}, err
		}
		if l.and && !v {
			return boolValue(false), nil
		}
		if !l.and && v {
			return boolValue(true), nil
		}
	}
	return boolValue(l.and), nil
}

func evalBool(n node, rec Record) (bool, error) {
	v, err := n.eval(rec)
	if err != nil {
		return false, err
	}
	if v.Kind != KindBool {
		return false, &EvalError{Msg: fmt.Sprintf("expected a condition, got %s", v.Kind)}
	}
	return v.Bool, nil
}

func (c *compare) eval(rec Record) (Value, error) {
	left, err := c.left.eval(rec)
	if err != nil {
		return Value{}, err
	}
	right, err := c.right.eval(rec)
	if err != nil {
		return Value{}, err
	}

	var ok bool
	switch c.op {
	case opEq:
		ok, err = c.equal(left, right)
	case opNe:
		ok, err = c.equal(left, right)
		ok = !ok
	case opGt, opGe, opLt, opLe:
		ok, err = c.order(left, right)
	case opContains, opStartsWith, opEndsWith, opSimilar:
		ok, err = c.text(left, right)
	case opIn:
		ok, err = c.in(left, right)
	case opMatches:
		s, isStr := left.asString()
		if !isStr {
			return Value{}, c.mismatch(left, right)
		}
		ok = c.re.MatchString(s)
	}
	if err != nil {
		return Value{}, err
	}
	return boolValue(ok), nil
}

func (c *compare) mismatch(left, right Value) error {
	return &EvalError{Pos: c.pos, Msg: fmt.Sprintf("cannot apply %s to %s and %s", opNames[c.op], left.Kind, right.Kind)}
}

func (c *compare) equal(left, right Value) (bool, error) {
	switch {
	case left.Kind == KindBool && right.Kind == KindBool:
		return left.Bool == right.Bool, nil
	case left.Kind == KindString && right.Kind == KindString:
		return strings.EqualFold(strings.TrimSpace(left.Str), strings.TrimSpace(right.Str)), nil
	case left.Kind == KindNumber || right.Kind == KindNumber:
		l, lok := left.asNumber()
		r, rok := right.asNumber()
		if !lok || !rok {
			// A non-numeric string is never equal to a number.
			if left.Kind == KindString || right.Kind == KindString {
				return false, nil
			}
			return false, c.mismatch(left, right)
		}
		return l.Equal(r), nil
	}
	return false, c.mismatch(left, right)
}

func (c *compare) order(left, right Value) (bool, error) {
	var cmp int
	if left.Kind == KindString && right.Kind == KindString {
		cmp = strings.Compare(left.Str, right.Str)
	} else {
		l, lok := left.asNumber()
		r, rok := right.asNumber()
		if !lok || !rok {
			return false, c.mismatch(left, right)
		}
		cmp = l.Cmp(r)
	}
	switch c.op {
	case opGt:
		return cmp > 0, nil
	case opGe:
		return cmp >= 0, nil
	case opLt:
		return cmp < 0, nil
	default:
		return cmp <= 0, nil
	}
}

func (c *compare) text(left, right Value) (bool, error) {
	l, lok := left.asString()
	r, rok := right.asString()
	if !lok || !rok {
		return false, c.mismatch(left, right)
	}
	l, r = strings.ToLower(l), strings.ToLower(r)
	switch c.op {
	case opContains:
		return strings.Contains(l, r), nil
	case opStartsWith:
		return strings.HasPrefix(l, r), nil
	case opEndsWith:
		return strings.HasSuffix(l, r), nil
	default:
		return Similarity(l, r) >= SimilarityThreshold, nil
	}
}

func (c *compare) in(left, right Value) (bool, error) {
	if right.Kind != KindList {
		return false, c.mismatch(left, right)
	}
	for _, item := range right.List {
		eq, err := c.equal(left, item)
		if err != nil {
			return false, err
		}
		if eq {
			return true, nil
		}
	}
	return false, nil
}

// Similarity is 1 minus the Levenshtein distance over the longer length.
func Similarity(a, b string) float64 {
	longest := len([]rune(a))
	if n := len([]rune(b)); n > longest {
		longest = n
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
