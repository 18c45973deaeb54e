package models

import (
	"encoding/json"
	"time"
)

// ParsingRule is stored either as rule text (Expression) or as a JSON
// Condition tree. Expression wins when both are set.
type ParsingRule struct {
	ID              int64           `json:"id"`
	SchemeID        int64           `json:"scheme_id"`
	Priority        int             `json:"priority"`
	Name            string          `json:"name"`
	Expression      string          `json:"expression,omitempty"`
	Conditions      json.RawMessage `json:"conditions,omitempty"` // JSONB
	CounteragentID  string          `json:"counteragent_id,omitempty"`
	FinancialCodeID string          `json:"financial_code_id,omitempty"`
	CurrencyCode    string          `json:"currency_code,omitempty"`
	ObligationID    string          `json:"obligation_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
