package db

import (
	"context"
	"strings"
	"time"

	"recon-server/src/models"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

func ListCounteragents(ctx context.Context, pool *pgxpool.Pool) ([]models.Counteragent, error) {
	query := `SELECT id, name, tax_id FROM counteragents ORDER BY id`
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cas []models.Counteragent
	for rows.Next() {
		var c models.Counteragent
		if err := rows.Scan(&c.ID, &c.Name, &c.TaxID); err != nil {
			return nil, err
		}
		cas = append(cas, c)
	}
	return cas, rows.Err()
}

// ListPayments returns every payment row with its ledger. Rows sharing a
// payment id are returned separately.
func ListPayments(ctx context.Context, pool *pgxpool.Pool) ([]models.Payment, error) {
	query := `
		SELECT row_id, payment_id, counteragent_id, financial_code_id, currency_code
		FROM payments
		ORDER BY row_id
	`
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		var rowID int64
		var p models.Payment
		if err := rows.Scan(&rowID, &p.ID, &p.CounteragentID, &p.FinancialCodeID, &p.CurrencyCode); err != nil {
			return nil, err
		}
		p.CurrencyCode = strings.TrimSpace(p.CurrencyCode)
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ledger, err := listLedger(ctx, pool)
	if err != nil {
		return nil, err
	}
	for i := range payments {
		payments[i].Ledger = ledger[payments[i].ID]
	}
	return payments, nil
}

func listLedger(ctx context.Context, pool *pgxpool.Pool) (map[string][]models.LedgerEntry, error) {
	query := `
		SELECT id, payment_id, effective_date, accrual::text, order_amount::text
		FROM payment_ledger
		ORDER BY effective_date, id
	`
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ledger := make(map[string][]models.LedgerEntry)
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.PaymentID, &e.EffectiveDate, &e.Accrual, &e.Order); err != nil {
			return nil, err
		}
		ledger[e.PaymentID] = append(ledger[e.PaymentID], e)
	}
	return ledger, rows.Err()
}

func ListSalaryAccruals(ctx context.Context, pool *pgxpool.Pool) ([]models.SalaryAccrual, error) {
	query := `
		SELECT id, payment_id, counteragent_id, financial_code_id, currency_code, salary_month,
			net_sum::text, pension_deduction::text, other_deductions::text
		FROM salary_accruals
		ORDER BY salary_month, id
	`
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SalaryAccrual
	for rows.Next() {
		var s models.SalaryAccrual
		err := rows.Scan(&s.ID, &s.PaymentID, &s.CounteragentID, &s.FinancialCodeID, &s.CurrencyCode, &s.SalaryMonth,
			&s.NetSum, &s.PensionDeduction, &s.OtherDeductions)
		if err != nil {
			return nil, err
		}
		s.CurrencyCode = strings.TrimSpace(s.CurrencyCode)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListExchangeRates groups the stored rates into one row per date in
// [from, to].
func ListExchangeRates(ctx context.Context, pool *pgxpool.Pool, from, to time.Time) ([]models.ExchangeRateRow, error) {
	query := `
		SELECT rate_date, currency, rate::text
		FROM exchange_rates
		WHERE rate_date BETWEEN $1 AND $2
		ORDER BY rate_date, currency
	`
	rows, err := pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ExchangeRateRow
	for rows.Next() {
		var date time.Time
		var code string
		var rate decimal.Decimal
		if err := rows.Scan(&date, &code, &rate); err != nil {
			return nil, err
		}
		if n := len(out); n == 0 || !out[n-1].Date.Equal(date) {
			out = append(out, models.ExchangeRateRow{Date: date, Rates: make(map[string]decimal.Decimal)})
		}
		out[len(out)-1].Rates[strings.TrimSpace(code)] = rate
	}
	return out, rows.Err()
}
