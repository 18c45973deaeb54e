package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"recon-server/src/models"
)

var conditionOps = map[string]string{
	"equals":      "==",
	"not_equals":  "!=",
	"contains":    "contains",
	"starts_with": "startswith",
	"ends_with":   "endswith",
	"gt":          ">",
	"gte":         ">=",
	"lt":          "<",
	"lte":         "<=",
	"in":          "in",
	"matches":     "matches",
	"similar":     "similar",
}

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// FromCondition compiles a JSON condition tree into a Program by rendering it
// as rule text.
func FromCondition(cond models.Condition) (*Program, error) {
	src, err := renderCondition(cond)
	if err != nil {
		return nil, err
	}
	return Compile(src)
}

func renderCondition(cond models.Condition) (string, error) {
	if len(cond.And) > 0 {
		return renderGroup(cond.And, " and ")
	}
	if len(cond.Or) > 0 {
		return renderGroup(cond.Or, " or ")
	}

	if !fieldName.MatchString(cond.Field) || isKeyword(cond.Field) {
		return "", fmt.Errorf("invalid condition field %q", cond.Field)
	}
	op, ok := conditionOps[cond.Op]
	if !ok {
		return "", fmt.Errorf("unsupported condition op %q", cond.Op)
	}
	value, err := renderValue(cond.Value)
	if err != nil {
		return "", fmt.Errorf("condition on %s: %w", cond.Field, err)
	}
	return fmt.Sprintf("%s %s %s", cond.Field, op, value), nil
}

func renderGroup(conds []models.Condition, sep string) (string, error) {
	parts := make([]string, 0, len(conds))
	for _, c := range conds {
		s, err := renderCondition(c)
		if err != nil {
			return "", err
		}
		parts = append(parts, "("+s+")")
	}
	return strings.Join(parts, sep), nil
}

func renderValue(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return quote(val), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(val), nil
	case []any:
		items := make([]string, 0, len(val))
		for _, item := range val {
			s, err := renderValue(item)
			if err != nil {
				return "", err
			}
			items = append(items, s)
		}
		return "[" + strings.Join(items, ", ") + "]", nil
	}
	return "", fmt.Errorf("unsupported value type %T", v)
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
