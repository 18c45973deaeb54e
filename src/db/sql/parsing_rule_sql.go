package db

import (
	"context"
	"errors"

	"recon-server/src/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const parsingRuleColumns = `id, scheme_id, priority, name, expression, conditions, counteragent_id,
	financial_code_id, currency_code, obligation_id, created_at, updated_at`

func scanParsingRule(row pgx.Row) (models.ParsingRule, error) {
	var r models.ParsingRule
	var conditions []byte
	err := row.Scan(&r.ID, &r.SchemeID, &r.Priority, &r.Name, &r.Expression, &conditions, &r.CounteragentID,
		&r.FinancialCodeID, &r.CurrencyCode, &r.ObligationID, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ParsingRule{}, models.ErrNotFound
	}
	if err != nil {
		return models.ParsingRule{}, err
	}
	r.Conditions = conditions
	return r, nil
}

// conditionsArg maps an empty condition tree to SQL NULL.
func conditionsArg(r models.ParsingRule) any {
	if len(r.Conditions) == 0 || string(r.Conditions) == "null" {
		return nil
	}
	return string(r.Conditions)
}

func CreateParsingRule(ctx context.Context, pool *pgxpool.Pool, rule models.ParsingRule) (models.ParsingRule, error) {
	query := `
		INSERT INTO parsing_rules (scheme_id, priority, name, expression, conditions, counteragent_id,
			financial_code_id, currency_code, obligation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + parsingRuleColumns
	return scanParsingRule(pool.QueryRow(ctx, query, rule.SchemeID, rule.Priority, rule.Name, rule.Expression,
		conditionsArg(rule), rule.CounteragentID, rule.FinancialCodeID, rule.CurrencyCode, rule.ObligationID))
}

func GetParsingRuleByID(ctx context.Context, pool *pgxpool.Pool, ruleID int64) (models.ParsingRule, error) {
	query := `SELECT ` + parsingRuleColumns + ` FROM parsing_rules WHERE id = $1`
	return scanParsingRule(pool.QueryRow(ctx, query, ruleID))
}

// GetParsingRules lists the rules of one scheme in evaluation order, or of
// every scheme when schemeID is 0.
func GetParsingRules(ctx context.Context, pool *pgxpool.Pool, schemeID int64) ([]models.ParsingRule, error) {
	query := `
		SELECT ` + parsingRuleColumns + `
		FROM parsing_rules
		WHERE $1::bigint = 0 OR scheme_id = $1
		ORDER BY scheme_id, priority, id
	`
	rows, err := pool.Query(ctx, query, schemeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []models.ParsingRule
	for rows.Next() {
		r, err := scanParsingRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func UpdateParsingRule(ctx context.Context, pool *pgxpool.Pool, rule models.ParsingRule) (models.ParsingRule, error) {
	query := `
		UPDATE parsing_rules
		SET scheme_id = $1, priority = $2, name = $3, expression = $4, conditions = $5, counteragent_id = $6,
			financial_code_id = $7, currency_code = $8, obligation_id = $9, updated_at = NOW()
		WHERE id = $10
		RETURNING ` + parsingRuleColumns
	return scanParsingRule(pool.QueryRow(ctx, query, rule.SchemeID, rule.Priority, rule.Name, rule.Expression,
		conditionsArg(rule), rule.CounteragentID, rule.FinancialCodeID, rule.CurrencyCode, rule.ObligationID, rule.ID))
}

func DeleteParsingRule(ctx context.Context, pool *pgxpool.Pool, ruleID int64) error {
	query := `DELETE FROM parsing_rules WHERE id = $1`
	cmd, err := pool.Exec(ctx, query, ruleID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
