package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"recon-server/src/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const rawRecordColumns = `
	source_id, id, account_currency, transaction_date, correction_date,
	debit::text, credit::text, description, sender, beneficiary,
	sender_tax_id, beneficiary_tax_id, sender_account, beneficiary_account, locked,
	COALESCE(counteragent_id, ''), COALESCE(financial_code_id, ''), COALESCE(nominal_currency, ''),
	nominal_amount::text, COALESCE(obligation_id, ''), COALESCE(rule_id, 0), COALESCE(classification_case, '')
`

func scanRawRecord(row pgx.Row) (models.RawRecord, error) {
	var r models.RawRecord
	var nominal decimal.NullDecimal
	err := row.Scan(
		&r.SourceID, &r.ID, &r.AccountCurrency, &r.TransactionDate, &r.CorrectionDate,
		&r.Debit, &r.Credit, &r.Description, &r.Sender, &r.Beneficiary,
		&r.SenderTaxID, &r.BeneficiaryTaxID, &r.SenderAccount, &r.BeneficiaryAccount, &r.Locked,
		&r.CounteragentID, &r.FinancialCodeID, &r.CurrencyCode,
		&nominal, &r.ObligationID, &r.RuleID, &r.Case,
	)
	if err != nil {
		return models.RawRecord{}, err
	}
	r.AccountCurrency = strings.TrimSpace(r.AccountCurrency)
	r.CurrencyCode = strings.TrimSpace(r.CurrencyCode)
	if nominal.Valid {
		r.NominalAmount = nominal.Decimal
	}
	return r, nil
}

func ListSourceTables(ctx context.Context, pool *pgxpool.Pool) ([]models.SourceTable, error) {
	query := `
		SELECT id, scheme_id, bank_name, account_number, currency
		FROM source_tables
		ORDER BY id
	`
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []models.SourceTable
	for rows.Next() {
		var t models.SourceTable
		if err := rows.Scan(&t.ID, &t.SchemeID, &t.BankName, &t.AccountNumber, &t.Currency); err != nil {
			return nil, err
		}
		t.Currency = strings.TrimSpace(t.Currency)
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// ListRawRecords reads records ordered by source and id. AfterID and Limit
// page through a single source.
func ListRawRecords(ctx context.Context, pool *pgxpool.Pool, f models.RecordFilter) ([]models.RawRecord, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(f.SourceIDs) > 0 {
		where = append(where, "source_id = ANY("+arg(f.SourceIDs)+")")
	}
	if f.UnlockedOnly {
		where = append(where, "NOT locked")
	}
	if f.From != nil {
		where = append(where, "transaction_date >= "+arg(*f.From))
	}
	if f.To != nil {
		where = append(where, "transaction_date <= "+arg(*f.To))
	}
	if f.AfterID > 0 {
		where = append(where, "id > "+arg(f.AfterID))
	}

	query := "SELECT " + rawRecordColumns + " FROM raw_records"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY source_id, id"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []models.RawRecord
	for rows.Next() {
		r, err := scanRawRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func GetRawRecord(ctx context.Context, pool *pgxpool.Pool, key models.RecordKey) (models.RawRecord, error) {
	query := "SELECT " + rawRecordColumns + " FROM raw_records WHERE source_id = $1 AND id = $2"
	r, err := scanRawRecord(pool.QueryRow(ctx, query, key.SourceID, key.RecordID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.RawRecord{}, models.ErrNotFound
	}
	return r, err
}

const classifyRecord = `
	UPDATE raw_records
	SET counteragent_id = NULLIF($1, ''), financial_code_id = NULLIF($2, ''), nominal_currency = NULLIF($3, ''),
		nominal_amount = $4, obligation_id = NULLIF($5, ''), rule_id = NULLIF($6, 0), classification_case = $7,
		updated_at = NOW()
	WHERE source_id = $8 AND id = $9 AND NOT locked
`

func classifyArgs(u models.ClassificationUpdate) []any {
	c := u.Classification
	return []any{c.CounteragentID, c.FinancialCodeID, c.CurrencyCode,
		c.NominalAmount, c.ObligationID, c.RuleID, c.Case, u.Key.SourceID, u.Key.RecordID}
}

// ApplyClassifications writes the classification of every record that is
// still unlocked and returns how many rows changed.
func ApplyClassifications(ctx context.Context, pool *pgxpool.Pool, updates []models.ClassificationUpdate) (int, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(classifyRecord, classifyArgs(u)...)
	}
	results := tx.SendBatch(ctx, batch)
	n := 0
	for range updates {
		cmd, err := results.Exec()
		if err != nil {
			results.Close()
			return 0, err
		}
		n += int(cmd.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return n, nil
}
