// Package consolidated projects raw records and their batch partitions into
// one stream of logical transactions.
package consolidated

import (
	"fmt"
	"sort"
	"time"

	"recon-server/src/models"

	"github.com/shopspring/decimal"
)

// Transaction is one element of the consolidated view. Partition-derived
// elements keep the raw record's descriptive fields and carry the
// partition's classification and amounts.
type Transaction struct {
	Key             LogicalKey       `json:"key"`
	ID              int64            `json:"id"`
	Record          models.RecordKey `json:"record"`
	PartitionID     int64            `json:"partition_id,omitempty"`
	Date            time.Time        `json:"date"`
	Description     string           `json:"description"`
	AccountNumber   string           `json:"account_number,omitempty"`
	AccountCurrency string           `json:"account_currency"`
	AccountAmount   decimal.Decimal  `json:"account_amount"`
	CounteragentID  string           `json:"counteragent_id,omitempty"`
	FinancialCodeID string           `json:"financial_code_id,omitempty"`
	ObligationID    string           `json:"obligation_id,omitempty"`
	CurrencyCode    string           `json:"nominal_currency,omitempty"`
	NominalAmount   decimal.Decimal  `json:"nominal_amount"`
	Unassigned      bool             `json:"unassigned,omitempty"`
	Case            string           `json:"case,omitempty"`
}

func (t Transaction) before(o Transaction) bool {
	if !t.Date.Equal(o.Date) {
		return t.Date.Before(o.Date)
	}
	if t.Record.SourceID != o.Record.SourceID {
		return t.Record.SourceID < o.Record.SourceID
	}
	if t.Record.RecordID != o.Record.RecordID {
		return t.Record.RecordID < o.Record.RecordID
	}
	return t.PartitionID < o.PartitionID
}

// stream is an ordered cursor over transactions.
type stream struct {
	items []Transaction
	pos   int
}

func newStream(items []Transaction) *stream {
	sort.SliceStable(items, func(i, j int) bool { return items[i].before(items[j]) })
	return &stream{items: items}
}

func (s *stream) peek() (Transaction, bool) {
	if s.pos >= len(s.items) {
		return Transaction{}, false
	}
	return s.items[s.pos], true
}

func (s *stream) next() Transaction {
	t := s.items[s.pos]
	s.pos++
	return t
}

// Build returns the consolidated view of records. parts may hold partitions
// of any record; those whose record is absent are ignored. accounts maps
// source id to its table and may be nil.
func Build(records []models.RawRecord, parts []models.BatchPartition, accounts map[int]models.SourceTable) ([]Transaction, error) {
	byRecord := make(map[models.RecordKey][]models.BatchPartition)
	for _, p := range parts {
		byRecord[p.RecordKey()] = append(byRecord[p.RecordKey()], p)
	}

	var plain, expanded []Transaction
	for _, rec := range records {
		account := accounts[rec.SourceID].AccountNumber
		ps, split := byRecord[rec.Key()]
		if !split {
			t, err := fromRecord(rec, account)
			if err != nil {
				return nil, err
			}
			plain = append(plain, t)
			continue
		}
		for _, p := range ps {
			t, err := fromPartition(rec, p, account)
			if err != nil {
				return nil, err
			}
			expanded = append(expanded, t)
		}
	}

	return merge(newStream(plain), newStream(expanded)), nil
}

func merge(a, b *stream) []Transaction {
	out := make([]Transaction, 0, len(a.items)+len(b.items))
	for {
		x, okA := a.peek()
		y, okB := b.peek()
		switch {
		case !okA && !okB:
			return out
		case !okB || (okA && !y.before(x)):
			out = append(out, a.next())
		default:
			out = append(out, b.next())
		}
	}
}

func fromRecord(rec models.RawRecord, account string) (Transaction, error) {
	key := RecordKeyOf(rec.SourceID, rec.ID)
	id, err := key.Encode()
	if err != nil {
		return Transaction{}, fmt.Errorf("record %s: %w", rec.Key(), err)
	}
	return Transaction{
		Key:             key,
		ID:              id,
		Record:          rec.Key(),
		Date:            rec.TransactionDate,
		Description:     rec.Description,
		AccountNumber:   account,
		AccountCurrency: rec.AccountCurrency,
		AccountAmount:   rec.SignedAmount(),
		CounteragentID:  rec.CounteragentID,
		FinancialCodeID: rec.FinancialCodeID,
		ObligationID:    rec.ObligationID,
		CurrencyCode:    rec.CurrencyCode,
		NominalAmount:   rec.NominalAmount,
		Case:            rec.Case,
	}, nil
}

func fromPartition(rec models.RawRecord, p models.BatchPartition, account string) (Transaction, error) {
	key := PartitionKeyOf(rec.SourceID, p.ID)
	id, err := key.Encode()
	if err != nil {
		return Transaction{}, fmt.Errorf("partition %d of %s: %w", p.ID, rec.Key(), err)
	}
	sign := rec.SignedAmount().Sign()
	return Transaction{
		Key:             key,
		ID:              id,
		Record:          rec.Key(),
		PartitionID:     p.ID,
		Date:            rec.TransactionDate,
		Description:     rec.Description,
		AccountNumber:   account,
		AccountCurrency: rec.AccountCurrency,
		AccountAmount:   withSign(p.AccountAmount, sign),
		CounteragentID:  p.CounteragentID,
		FinancialCodeID: p.FinancialCodeID,
		ObligationID:    p.ObligationID,
		CurrencyCode:    p.CurrencyCode,
		NominalAmount:   withSign(p.NominalAmount, sign),
		Unassigned:      p.Unassigned,
	}, nil
}

func withSign(amount decimal.Decimal, sign int) decimal.Decimal {
	if sign < 0 {
		return amount.Abs().Neg()
	}
	return amount.Abs()
}
