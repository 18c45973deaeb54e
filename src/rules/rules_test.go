package rules

import (
	"encoding/json"
	"errors"
	"testing"

	"recon-server/src/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord() Record {
	return Normalize(map[string]any{
		"Description":      "SALARY MARCH 2024 NP_a1b2c3_NJ_d4e5f6_PRL032024",
		"Sender":           "Tbilisi Holdings LLC",
		"SenderTaxID":      "404123456",
		"BeneficiaryTaxID": "",
		"Debit":            decimal.RequireFromString("1500.00"),
		"Credit":           decimal.Zero,
		"Amount":           decimal.RequireFromString("-1500.00"),
		"TransactionDate":  "2024-03-29",
		"Locked":           false,
	})
}

func mustCompile(t *testing.T, src string) *Program {
	t.Helper()
	p, err := Compile(src)
	require.NoError(t, err, "Compile(%q)", src)
	return p
}

func TestEval_Matches(t *testing.T) {
	rec := testRecord()
	cases := []string{
		`description contains "sal"`,
		`Description contains 'SAL'`,
		`DESCRIPTION startswith "salary"`,
		`description endswith "prl032024"`,
		`sendertaxid == "404123456"`,
		`sendertaxid == 404123456`,
		`debit > 1000 and debit <= 1500`,
		`amount < -1000`,
		`amount >= -1500.00`,
		`transactiondate >= "2024-03-01" && transactiondate < "2024-04-01"`,
		`sender in ["acme", "TBILISI HOLDINGS LLC"]`,
		`sender similar "Tbilisi Holding LLC"`,
		`description matches "PRL[0-9]{6}"`,
		`not (credit > 0)`,
		`!locked`,
		`beneficiarytaxid == "" or debit == 0`,
		`(sender contains "acme" or sender contains "tbilisi") and debit != 0`,
		`debit <> 1`,
	}
	for _, src := range cases {
		t.Run(src, func(t *testing.T) {
			ok, err := mustCompile(t, src).Eval(rec)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestEval_NonMatches(t *testing.T) {
	rec := testRecord()
	cases := []string{
		`description contains "rent"`,
		`credit > 0`,
		`sender in []`,
		`sender similar "Kutaisi Trading"`,
		`sendertaxid == "abc"`,
		`debit > 1000 and locked`,
	}
	for _, src := range cases {
		t.Run(src, func(t *testing.T) {
			ok, err := mustCompile(t, src).Eval(rec)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestEval_Errors(t *testing.T) {
	rec := testRecord()
	cases := []string{
		`nosuchfield == "x"`,
		`description`,
		`description > 5`,
		`locked contains "x"`,
	}
	for _, src := range cases {
		t.Run(src, func(t *testing.T) {
			_, err := mustCompile(t, src).Eval(rec)
			var evalErr *EvalError
			assert.True(t, errors.As(err, &evalErr), "got %v", err)
		})
	}
}

func TestEval_ShortCircuit(t *testing.T) {
	rec := testRecord()
	ok, err := mustCompile(t, `credit > 0 and nosuchfield == 1`).Eval(rec)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = mustCompile(t, `debit > 0 or nosuchfield == 1`).Eval(rec)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCompile_SyntaxErrors(t *testing.T) {
	cases := []string{
		``,
		`description contains`,
		`(debit > 1`,
		`description contains "open`,
		`debit > 1 debit`,
		`sender in "x"`,
		`description matches sender`,
		`description matches "([a-z"`,
		`debit # 3`,
		`and == 1`,
		`sender in ["a" "b"]`,
	}
	for _, src := range cases {
		t.Run(src, func(t *testing.T) {
			_, err := Compile(src)
			var syntaxErr *SyntaxError
			assert.True(t, errors.As(err, &syntaxErr), "got %v", err)
		})
	}
}

func TestNormalize_KeepsOriginalKeys(t *testing.T) {
	rec := Normalize(map[string]any{"SenderTaxID": "1"})
	assert.Contains(t, rec, "SenderTaxID")
	assert.Contains(t, rec, "sendertaxid")
}

func TestFromCondition(t *testing.T) {
	raw := `{"and":[{"field":"description","op":"contains","value":"salary"},
		{"or":[{"field":"debit","op":"gte","value":1000},{"field":"sender","op":"in","value":["x","y"]}]}]}`
	var cond models.Condition
	require.NoError(t, json.Unmarshal([]byte(raw), &cond))

	p, err := FromCondition(cond)
	require.NoError(t, err)
	assert.Equal(t, `(description contains "salary") and ((debit >= 1000) or (sender in ["x", "y"]))`, p.String())

	ok, err := p.Eval(testRecord())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFromCondition_Invalid(t *testing.T) {
	_, err := FromCondition(models.Condition{Field: "description", Op: "bogus", Value: "x"})
	assert.Error(t, err)

	_, err = FromCondition(models.Condition{Field: "drop table", Op: "equals", Value: "x"})
	assert.Error(t, err)

	_, err = FromCondition(models.Condition{Field: "debit", Op: "equals", Value: map[string]any{}})
	assert.Error(t, err)
}

func TestCompileRule(t *testing.T) {
	p, err := CompileRule(models.ParsingRule{Expression: `debit > 0`, Conditions: json.RawMessage(`{"field":"credit","op":"gt","value":0}`)})
	require.NoError(t, err)
	assert.Equal(t, `debit > 0`, p.String())

	p, err = CompileRule(models.ParsingRule{Conditions: json.RawMessage(`{"field":"credit","op":"gt","value":0}`)})
	require.NoError(t, err)
	assert.Equal(t, `credit > 0`, p.String())

	_, err = CompileRule(models.ParsingRule{})
	assert.ErrorIs(t, err, ErrEmptyRule)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 1.0, Similarity("abc", "abc"))
	assert.InDelta(t, 0.75, Similarity("abcd", "abcx"), 1e-9)
}
