package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RecordKey identifies a raw record across all source tables.
type RecordKey struct {
	SourceID int   `json:"source_id"`
	RecordID int64 `json:"record_id"`
}

func (k RecordKey) String() string {
	return fmt.Sprintf("%d/%d", k.SourceID, k.RecordID)
}

// Classification holds the mutable fields written by the classifier.
type Classification struct {
	CounteragentID  string          `json:"counteragent_id,omitempty"`
	FinancialCodeID string          `json:"financial_code_id,omitempty"`
	CurrencyCode    string          `json:"nominal_currency,omitempty"`
	NominalAmount   decimal.Decimal `json:"nominal_amount"`
	ObligationID    string          `json:"obligation_id,omitempty"`
	RuleID          int64           `json:"rule_id,omitempty"`
	Case            string          `json:"case,omitempty"`
}

type RawRecord struct {
	ID                 int64           `json:"id"`
	SourceID           int             `json:"source_id"`
	AccountCurrency    string          `json:"account_currency"`
	TransactionDate    time.Time       `json:"transaction_date"`
	CorrectionDate     *time.Time      `json:"correction_date,omitempty"`
	Debit              decimal.Decimal `json:"debit"`
	Credit             decimal.Decimal `json:"credit"`
	Description        string          `json:"description"`
	Sender             string          `json:"sender"`
	Beneficiary        string          `json:"beneficiary"`
	SenderTaxID        string          `json:"sender_tax_id"`
	BeneficiaryTaxID   string          `json:"beneficiary_tax_id"`
	SenderAccount      string          `json:"sender_account"`
	BeneficiaryAccount string          `json:"beneficiary_account"`
	Locked             bool            `json:"locked"`
	Classification
}

func (r RawRecord) Key() RecordKey {
	return RecordKey{SourceID: r.SourceID, RecordID: r.ID}
}

// SignedAmount is credit minus debit in the account currency.
func (r RawRecord) SignedAmount() decimal.Decimal {
	return r.Credit.Sub(r.Debit)
}

// IsOutflow reports whether money left the account.
func (r RawRecord) IsOutflow() bool {
	return r.Debit.IsPositive()
}

// CounterpartyTaxID returns the tax ID of the other side of the payment:
// the beneficiary for outflows and the sender for inflows.
func (r RawRecord) CounterpartyTaxID() string {
	if r.IsOutflow() {
		return r.BeneficiaryTaxID
	}
	return r.SenderTaxID
}

// EffectiveDate is the correction date when present, else the transaction date.
func (r RawRecord) EffectiveDate() time.Time {
	if r.CorrectionDate != nil {
		return *r.CorrectionDate
	}
	return r.TransactionDate
}

// Fields exposes the record's raw fields to rule evaluation.
func (r RawRecord) Fields() map[string]any {
	correction := ""
	if r.CorrectionDate != nil {
		correction = r.CorrectionDate.Format(DateLayout)
	}
	return map[string]any{
		"ID":                 decimal.NewFromInt(r.ID),
		"SourceID":           decimal.NewFromInt(int64(r.SourceID)),
		"AccountCurrency":    r.AccountCurrency,
		"TransactionDate":    r.TransactionDate.Format(DateLayout),
		"CorrectionDate":     correction,
		"Debit":              r.Debit,
		"Credit":             r.Credit,
		"Amount":             r.SignedAmount(),
		"Description":        r.Description,
		"Sender":             r.Sender,
		"Beneficiary":        r.Beneficiary,
		"SenderTaxID":        r.SenderTaxID,
		"BeneficiaryTaxID":   r.BeneficiaryTaxID,
		"SenderAccount":      r.SenderAccount,
		"BeneficiaryAccount": r.BeneficiaryAccount,
	}
}

const DateLayout = "2006-01-02"
