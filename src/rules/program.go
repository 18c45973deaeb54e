// Package rules compiles parsing rules into a small typed AST and evaluates
// them against normalized bank records. Rules never execute arbitrary code.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"

	"recon-server/src/models"
)

// ErrEmptyRule is returned for a rule with neither text nor conditions.
var ErrEmptyRule = errors.New("rule has no expression or conditions")

// Program is a compiled rule predicate. It is immutable and safe for
// concurrent use.
type Program struct {
	source string
	root   node
}

// Compile parses rule text.
func Compile(src string) (*Program, error) {
	root, err := parse(src)
	if err != nil {
		return nil, err
	}
	return &Program{source: src, root: root}, nil
}

// CompileRule compiles a stored rule from its expression, or from its JSON
// condition tree when no expression is set.
func CompileRule(rule models.ParsingRule) (*Program, error) {
	if rule.Expression != "" {
		return Compile(rule.Expression)
	}
	if len(rule.Conditions) == 0 || string(rule.Conditions) == "null" {
		return nil, ErrEmptyRule
	}
	var cond models.Condition
	if err := json.Unmarshal(rule.Conditions, &cond); err != nil {
		return nil, fmt.Errorf("decode conditions: %w", err)
	}
	return FromCondition(cond)
}

func (p *Program) String() string {
	return p.source
}

// Eval reports whether rec satisfies the rule.
func (p *Program) Eval(rec Record) (bool, error) {
	return evalBool(p.root, rec)
}
