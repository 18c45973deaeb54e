package rules

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokOp
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of rule"
	}
	return fmt.Sprintf("%q", t.text)
}

// SyntaxError reports a rule that could not be compiled.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("rule syntax error at %d: %s", e.Pos, e.Msg)
}

func lex(src string) ([]token, error) {
	var toks []token
	runes := []rune(src)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case r == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case r == '[':
			toks = append(toks, token{tokLBracket, "[", i})
			i++
		case r == ']':
			toks = append(toks, token{tokRBracket, "]", i})
			i++
		case r == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++
		case r == '"' || r == '\'':
			s, next, err := lexString(runes, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{tokString, s, i})
			i = next
		case unicode.IsDigit(r) || (r == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1]) && !afterOperand(toks)):
			start := i
			i++
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			toks = append(toks, token{tokNumber, string(runes[start:i]), start})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_' || runes[i] == '.') {
				i++
			}
			toks = append(toks, token{tokIdent, string(runes[start:i]), start})
		default:
			op, ok := lexOperator(runes, i)
			if !ok {
				return nil, &SyntaxError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", r)}
			}
			toks = append(toks, token{tokOp, op, i})
			i += len([]rune(op))
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(runes)}), nil
}

func lexString(runes []rune, start int) (string, int, error) {
	quote := runes[start]
	var b strings.Builder
	for i := start + 1; i < len(runes); i++ {
		switch runes[i] {
		case '\\':
			if i+1 >= len(runes) {
				return "", 0, &SyntaxError{Pos: i, Msg: "dangling escape"}
			}
			i++
			b.WriteRune(runes[i])
		case quote:
			return b.String(), i + 1, nil
		default:
			b.WriteRune(runes[i])
		}
	}
	return "", 0, &SyntaxError{Pos: start, Msg: "unterminated string"}
}

var operators = []string{"==", "!=", "<>", ">=", "<=", "&&", "||", "=", ">", "<", "!"}

func lexOperator(runes []rune, i int) (string, bool) {
	rest := string(runes[i:])
	for _, op := range operators {
		if strings.HasPrefix(rest, op) {
			return op, true
		}
	}
	return "", false
}

// afterOperand reports whether a '-' at this point is binary context; the
// language has no arithmetic, so it only matters for error positions.
func afterOperand(toks []token) bool {
	if len(toks) == 0 {
		return false
	}
	switch toks[len(toks)-1].kind {
	case tokNumber, tokString, tokRParen, tokRBracket:
		return true
	case tokIdent:
		return !isKeyword(toks[len(toks)-1].text)
	}
	return false
}
