package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ObligationKind string

const (
	ObligationPayment ObligationKind = "payment"
	ObligationSalary  ObligationKind = "salary"
)

// Obligation is the engine's view of a payment or salary accrual: an
// expected amount to be settled in one currency.
type Obligation struct {
	ID              string          `json:"id"`
	Kind            ObligationKind  `json:"kind"`
	CounteragentID  string          `json:"counteragent_id"`
	FinancialCodeID string          `json:"financial_code_id"`
	CurrencyCode    string          `json:"currency_code"`
	Target          decimal.Decimal `json:"target"`
	AccrualDate     *time.Time      `json:"accrual_date,omitempty"`
}

type Payment struct {
	ID              string        `json:"id"`
	CounteragentID  string        `json:"counteragent_id"`
	FinancialCodeID string        `json:"financial_code_id"`
	CurrencyCode    string        `json:"currency_code"`
	Ledger          []LedgerEntry `json:"ledger"`
}

// LedgerEntry adds an accrual to a payment or subtracts an order from it.
type LedgerEntry struct {
	ID            int64           `json:"id"`
	PaymentID     string          `json:"payment_id"`
	EffectiveDate time.Time       `json:"effective_date"`
	Accrual       decimal.Decimal `json:"accrual"`
	Order         decimal.Decimal `json:"order"`
}

func (p Payment) Obligation() Obligation {
	o := Obligation{
		ID:              p.ID,
		Kind:            ObligationPayment,
		CounteragentID:  p.CounteragentID,
		FinancialCodeID: p.FinancialCodeID,
		CurrencyCode:    p.CurrencyCode,
		Target:          decimal.Zero,
	}
	for _, e := range p.Ledger {
		o.Target = o.Target.Add(e.Accrual).Sub(e.Order)
		if o.AccrualDate == nil || e.EffectiveDate.Before(*o.AccrualDate) {
			d := e.EffectiveDate
			o.AccrualDate = &d
		}
	}
	return o
}

type SalaryAccrual struct {
	ID               int64           `json:"id"`
	PaymentID        string          `json:"payment_id"`
	CounteragentID   string          `json:"counteragent_id"`
	FinancialCodeID  string          `json:"financial_code_id"`
	CurrencyCode     string          `json:"currency_code"`
	SalaryMonth      time.Time       `json:"salary_month"`
	NetSum           decimal.Decimal `json:"net_sum"`
	PensionDeduction decimal.Decimal `json:"pension_deduction"`
	OtherDeductions  decimal.Decimal `json:"other_deductions"`
}

// Obligation computes the payable amount (net minus deductions). The accrual
// falls on the first day of the month after the salary period.
func (s SalaryAccrual) Obligation() Obligation {
	first := time.Date(s.SalaryMonth.Year(), s.SalaryMonth.Month(), 1, 0, 0, 0, 0, time.UTC)
	accrual := first.AddDate(0, 1, 0)
	return Obligation{
		ID:              s.PaymentID,
		Kind:            ObligationSalary,
		CounteragentID:  s.CounteragentID,
		FinancialCodeID: s.FinancialCodeID,
		CurrencyCode:    s.CurrencyCode,
		Target:          s.NetSum.Sub(s.PensionDeduction).Sub(s.OtherDeductions),
		AccrualDate:     &accrual,
	}
}
