package classifier

import (
	"testing"
	"time"

	"recon-server/src/currency"
	"recon-server/src/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	march15 = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	march16 = time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testSnapshot(t *testing.T, rs ...models.ParsingRule) *Snapshot {
	t.Helper()
	compiled, errs := CompileRules(rs)
	require.Empty(t, errs)

	payments := []models.Payment{
		{ID: "a1b2c3_4d_e5f6a7", CounteragentID: "ca-1", FinancialCodeID: "fc-rent", CurrencyCode: "USD",
			Ledger: []models.LedgerEntry{{PaymentID: "a1b2c3_4d_e5f6a7", EffectiveDate: march15, Accrual: d("500")}}},
		{ID: "0000aa_01_bbbb00", CounteragentID: "ca-2", FinancialCodeID: "fc-utilities", CurrencyCode: "GEL"},
		{ID: "dddddd_02_eeeeee", CounteragentID: "ca-3", CurrencyCode: "GEL"},
		{ID: "dddddd_02_eeeeee", CounteragentID: "ca-4", CurrencyCode: "GEL"},
	}
	salaries := []models.SalaryAccrual{
		{PaymentID: "NP_a1a1a1_NJ_b2b2b2_PRL022024", CounteragentID: "ca-emp", FinancialCodeID: "fc-salary",
			CurrencyCode: "GEL", SalaryMonth: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), NetSum: d("2000")},
	}
	counteragents := []models.Counteragent{
		{ID: "ca-1", TaxID: "111111111"},
		{ID: "ca-2", TaxID: "222222222"},
		{ID: "ca-emp", TaxID: "01001010101"},
	}
	rates := currency.NewTable([]models.ExchangeRateRow{
		{Date: march15, Rates: map[string]decimal.Decimal{"USD": d("2.5")}},
	})
	return NewSnapshot(counteragents, compiled, NewObligations(payments, salaries), currency.NewConverter("GEL", rates))
}

func outflow(taxID, description string) models.RawRecord {
	return models.RawRecord{
		ID:               42,
		SourceID:         3,
		AccountCurrency:  "GEL",
		TransactionDate:  march15,
		Debit:            d("250.00"),
		Credit:           decimal.Zero,
		Description:      description,
		BeneficiaryTaxID: taxID,
		SenderTaxID:      "999999999",
	}
}

func TestClassify_CounteragentByTaxID(t *testing.T) {
	c := New(testSnapshot(t), zerolog.Nop())

	res := c.Classify(outflow("222222222", "utilities"))
	assert.Equal(t, "ca-2", res.CounteragentID)
	assert.Equal(t, []Case{CaseCounteragentProcessed}, res.Cases)
	assert.Equal(t, "GEL", res.CurrencyCode)
	assert.Equal(t, "-250", res.NominalAmount.String())
	assert.True(t, res.Matched())
}

func TestClassify_InflowUsesSenderTaxID(t *testing.T) {
	c := New(testSnapshot(t), zerolog.Nop())

	rec := outflow("222222222", "refund")
	rec.Debit, rec.Credit = decimal.Zero, d("10")
	rec.SenderTaxID = "111111111"

	res := c.Classify(rec)
	assert.Equal(t, "ca-1", res.CounteragentID)
}

func TestClassify_BlankAndUnknownTaxID(t *testing.T) {
	c := New(testSnapshot(t), zerolog.Nop())

	res := c.Classify(outflow("  ", "nothing here"))
	assert.Equal(t, []Case{CaseCounteragentINNBlank}, res.Cases)
	assert.False(t, res.Matched())

	res = c.Classify(outflow("123", "nothing here"))
	assert.Equal(t, []Case{CaseNoMatch}, res.Cases)
	assert.Equal(t, "no match", res.Case)
}

func TestClassify_ObligationFromDescription(t *testing.T) {
	c := New(testSnapshot(t), zerolog.Nop())

	res := c.Classify(outflow("", "rent march A1B2C3_4D_E5F6A7"))
	assert.Equal(t, "a1b2c3_4d_e5f6a7", res.ObligationID)
	assert.Equal(t, "ca-1", res.CounteragentID)
	assert.Equal(t, "fc-rent", res.FinancialCodeID)
	assert.Equal(t, "USD", res.CurrencyCode)
	assert.Equal(t, "-100", res.NominalAmount.String())
	assert.Equal(t, "counteragent INN blank; obligation matched", res.Case)
}

func TestClassify_SalaryKey(t *testing.T) {
	c := New(testSnapshot(t), zerolog.Nop())

	res := c.Classify(outflow("01001010101", "salary np_A1A1A1_nj_B2B2B2_PRL022024"))
	assert.Equal(t, "NP_a1a1a1_NJ_b2b2b2_PRL022024", res.ObligationID)
	assert.Equal(t, "ca-emp", res.CounteragentID)
	assert.Equal(t, []Case{CaseCounteragentProcessed, CaseObligationMatched}, res.Cases)
}

func TestClassify_ObligationCounterpartyMismatch(t *testing.T) {
	c := New(testSnapshot(t), zerolog.Nop())

	res := c.Classify(outflow("222222222", "pay a1b2c3_4d_e5f6a7"))
	assert.Equal(t, "ca-2", res.CounteragentID, "phase 1 value kept")
	assert.Empty(t, res.ObligationID)
	assert.Contains(t, res.Cases, CaseObligationMismatch)
	assert.NotEmpty(t, res.Warnings)
}

func TestClassify_DuplicateAndUnknownObligation(t *testing.T) {
	c := New(testSnapshot(t), zerolog.Nop())

	res := c.Classify(outflow("", "pay dddddd_02_eeeeee"))
	assert.Empty(t, res.ObligationID)
	assert.Contains(t, res.Cases, CaseDuplicateObligation)

	res = c.Classify(outflow("", "pay 123456_78_9abcde"))
	assert.Empty(t, res.ObligationID)
	assert.Contains(t, res.Cases, CaseUnknownObligation)
}

func TestClassify_RuleDominance(t *testing.T) {
	snap := testSnapshot(t,
		models.ParsingRule{ID: 2, Priority: 20, Expression: `description contains "fee"`, FinancialCodeID: "fc-late"},
		models.ParsingRule{ID: 1, Priority: 10, Expression: `description contains "bank fee"`, CounteragentID: "ca-bank", FinancialCodeID: "fc-fees"},
	)
	c := New(snap, zerolog.Nop())

	res := c.Classify(outflow("", "monthly bank fee"))
	assert.Equal(t, int64(1), res.RuleID, "lower priority value wins")
	assert.Equal(t, "ca-bank", res.CounteragentID)
	assert.Equal(t, "fc-fees", res.FinancialCodeID)
	assert.Equal(t, "counteragent INN blank; rule dominance", res.Case)
}

func TestClassify_RuleFillsOnlyUnsetFields(t *testing.T) {
	snap := testSnapshot(t,
		models.ParsingRule{ID: 1, Priority: 1, Expression: `debit > 0`, CounteragentID: "ca-2", FinancialCodeID: "fc-other"},
	)
	c := New(snap, zerolog.Nop())

	res := c.Classify(outflow("222222222", "utilities"))
	assert.Equal(t, "ca-2", res.CounteragentID)
	assert.Equal(t, "fc-other", res.FinancialCodeID)
	assert.Equal(t, []Case{CaseCounteragentProcessed, CaseRuleDominance}, res.Cases)
}

func TestClassify_RuleCounterpartyMismatch(t *testing.T) {
	// Obligation X belongs to C1 (ca-1); phase 1 matched C2 (ca-2).
	snap := testSnapshot(t,
		models.ParsingRule{ID: 7, Priority: 1, Expression: `description contains 'SAL'`, ObligationID: "a1b2c3_4d_e5f6a7"},
	)
	c := New(snap, zerolog.Nop())

	res := c.Classify(outflow("222222222", "SALARY TRANSFER"))
	assert.Equal(t, "ca-2", res.CounteragentID)
	assert.Equal(t, int64(7), res.RuleID)
	assert.Empty(t, res.ObligationID)
	assert.Contains(t, res.Cases, CaseRuleCounteragentMismatch)
	assert.Contains(t, res.Case, "rule/counterparty mismatch")
}

func TestClassify_RuleEvaluationErrorIsNonMatching(t *testing.T) {
	snap := testSnapshot(t,
		models.ParsingRule{ID: 1, Priority: 1, Expression: `nosuchfield == 1`, CounteragentID: "ca-x"},
		models.ParsingRule{ID: 2, Priority: 2, Expression: `debit > 0`, CounteragentID: "ca-y"},
	)
	c := New(snap, zerolog.Nop())

	res := c.Classify(outflow("", "x"))
	assert.Equal(t, int64(2), res.RuleID)
	assert.Equal(t, "ca-y", res.CounteragentID)
	require.Len(t, res.Warnings, 1)
}

func TestClassify_RateUnavailableKeepsAmount(t *testing.T) {
	c := New(testSnapshot(t), zerolog.Nop())

	rec := outflow("", "rent a1b2c3_4d_e5f6a7")
	rec.TransactionDate = march16

	res := c.Classify(rec)
	assert.Equal(t, "USD", res.CurrencyCode)
	assert.True(t, res.NominalAmount.Equal(d("-250")))
	assert.Contains(t, res.Cases, CaseRateUnavailable)
	assert.NotEmpty(t, res.Warnings)
}

func TestClassify_CorrectionDateDrivesConversion(t *testing.T) {
	c := New(testSnapshot(t), zerolog.Nop())

	rec := outflow("", "rent a1b2c3_4d_e5f6a7")
	rec.TransactionDate = march16
	rec.CorrectionDate = &march15

	res := c.Classify(rec)
	assert.Equal(t, "-100", res.NominalAmount.String())
	assert.NotContains(t, res.Cases, CaseRateUnavailable)
}

func TestClassify_LockedRecordSkipped(t *testing.T) {
	c := New(testSnapshot(t), zerolog.Nop())

	rec := outflow("222222222", "utilities")
	rec.Locked = true

	res := c.Classify(rec)
	assert.True(t, res.Skipped)
	assert.False(t, res.Matched())
}

func TestClassify_Idempotent(t *testing.T) {
	snap := testSnapshot(t,
		models.ParsingRule{ID: 1, Priority: 1, Expression: `description contains "rent"`, FinancialCodeID: "fc-rent"},
	)
	c := New(snap, zerolog.Nop())
	rec := outflow("", "rent a1b2c3_4d_e5f6a7")

	first := c.Classify(rec)
	second := c.Classify(rec)
	assert.Equal(t, first, second)
}

func TestApplyRule(t *testing.T) {
	snap := testSnapshot(t)
	c := New(snap, zerolog.Nop())
	compiled, errs := CompileRules([]models.ParsingRule{{ID: 9, Expression: `debit > 0`, ObligationID: "0000aa_01_bbbb00"}})
	require.Empty(t, errs)

	res := c.ApplyRule(outflow("111111111", "x"), compiled[0])
	assert.Equal(t, "ca-2", res.CounteragentID)
	assert.Equal(t, "0000aa_01_bbbb00", res.ObligationID)
	assert.Equal(t, "fc-utilities", res.FinancialCodeID)
	assert.Equal(t, int64(9), res.RuleID)
}

func TestCompileRules_ReportsBrokenRules(t *testing.T) {
	compiled, errs := CompileRules([]models.ParsingRule{
		{ID: 1, Priority: 5, Expression: `debit >`},
		{ID: 2, Priority: 1, Expression: `debit > 0`},
	})
	require.Len(t, compiled, 1)
	assert.Equal(t, int64(2), compiled[0].ID)
	require.Len(t, errs, 1)
}

func TestExtractObligationIDs(t *testing.T) {
	ids := ExtractObligationIDs("pay ABCDEF_12_345678 and NP_abcdef_NJ_123456_PRL012024, not abc_12_345")
	assert.Equal(t, []string{"NP_abcdef_NJ_123456_PRL012024", "abcdef_12_345678"}, ids)
}
