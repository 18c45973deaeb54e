package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BatchPartition is one slice of a raw record. AccountAmount is the signed
// share of the record's account-currency amount.
type BatchPartition struct {
	ID              int64           `json:"id"`
	SourceID        int             `json:"source_id"`
	RawRecordID     int64           `json:"raw_record_id"`
	ObligationID    string          `json:"obligation_id,omitempty"`
	Unassigned      bool            `json:"unassigned"`
	CounteragentID  string          `json:"counteragent_id,omitempty"`
	FinancialCodeID string          `json:"financial_code_id,omitempty"`
	CurrencyCode    string          `json:"currency_code,omitempty"`
	NominalAmount   decimal.Decimal `json:"nominal_amount"`
	AccountAmount   decimal.Decimal `json:"account_amount"`
	CreatedAt       time.Time       `json:"created_at"`
}

func (p BatchPartition) RecordKey() RecordKey {
	return RecordKey{SourceID: p.SourceID, RecordID: p.RawRecordID}
}

// ExchangeRateRow holds each currency's rate against the base currency for
// one date: 1 unit of currency = rate units of base.
type ExchangeRateRow struct {
	Date  time.Time                  `json:"date"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// PartitionSet is the full partition list for one raw record.
type PartitionSet struct {
	Key        RecordKey
	Partitions []BatchPartition
}
