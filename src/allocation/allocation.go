// Package allocation distributes bank transactions over obligations, either
// greedily in accrual order (FIFO) or by minimizing total deviation from the
// obligation targets.
package allocation

import (
	"errors"
	"fmt"
	"time"

	"recon-server/src/currency"
	"recon-server/src/models"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptySelection    = errors.New("at least one obligation and one transaction are required")
	ErrNonPositiveTarget = errors.New("obligation target must be positive")
	ErrMissingID         = errors.New("obligation id is required")
	ErrDuplicate         = errors.New("selection contains duplicates")
	ErrMultiCurrency     = errors.New("obligations and transactions must share one currency")
	ErrInfeasible        = errors.New("no feasible assignment exists")
)

// Transaction is a candidate bank transaction. Amount is signed and
// expressed in Currency, the currency the obligations are tracked in;
// AccountAmount is the raw record's signed amount in AccountCurrency and
// defaults to Amount when zero.
type Transaction struct {
	Key                models.RecordKey `json:"key"`
	Date               time.Time        `json:"date"`
	Currency           string           `json:"currency"`
	Amount             decimal.Decimal  `json:"amount"`
	AccountCurrency    string           `json:"account_currency,omitempty"`
	AccountAmount      decimal.Decimal  `json:"account_amount"`
	AllowedObligations []string         `json:"allowed_obligations,omitempty"`
}

func (t Transaction) account() (decimal.Decimal, string) {
	if t.AccountAmount.IsZero() {
		return t.Amount, t.Currency
	}
	cur := t.AccountCurrency
	if cur == "" {
		cur = t.Currency
	}
	return t.AccountAmount, cur
}

// Share is one obligation's slice of a transaction. An empty ObligationID
// marks the free-agent remainder.
type Share struct {
	ObligationID  string          `json:"obligation_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	AccountAmount decimal.Decimal `json:"account_amount"`
}

// Unassigned reports whether s is the free-agent remainder.
func (s Share) Unassigned() bool {
	return s.ObligationID == ""
}

type DirectAssignment struct {
	Transaction models.RecordKey `json:"transaction"`
	Share
}

type Batch struct {
	Transaction models.RecordKey `json:"transaction"`
	Shares      []Share          `json:"shares"`
}

type Unallocated struct {
	ObligationID string          `json:"obligation_id"`
	Target       decimal.Decimal `json:"target"`
	Remaining    decimal.Decimal `json:"remaining"`
}

// validate checks the preconditions shared by both allocators and returns
// the common currency.
func validate(obligations []models.Obligation, txs []Transaction) (string, error) {
	if len(obligations) == 0 || len(txs) == 0 {
		return "", ErrEmptySelection
	}
	cur := ""
	seen := make(map[string]struct{}, len(obligations))
	for _, ob := range obligations {
		if ob.ID == "" {
			return "", ErrMissingID
		}
		if _, dup := seen[ob.ID]; dup {
			return "", fmt.Errorf("%w: obligation %s", ErrDuplicate, ob.ID)
		}
		seen[ob.ID] = struct{}{}
		if !ob.Target.IsPositive() {
			return "", fmt.Errorf("%w: %s has %s", ErrNonPositiveTarget, ob.ID, ob.Target.String())
		}
		c := currency.Normalize(ob.CurrencyCode)
		if cur == "" {
			cur = c
		} else if c != cur {
			return "", fmt.Errorf("%w: %s and %s", ErrMultiCurrency, cur, c)
		}
	}
	keys := make(map[models.RecordKey]struct{}, len(txs))
	for _, tx := range txs {
		if _, dup := keys[tx.Key]; dup {
			return "", fmt.Errorf("%w: transaction %s", ErrDuplicate, tx.Key)
		}
		keys[tx.Key] = struct{}{}
		if c := currency.Normalize(tx.Currency); c != cur {
			return "", fmt.Errorf("%w: transaction %s is %s, obligations are %s", ErrMultiCurrency, tx.Key, c, cur)
		}
	}
	return cur, nil
}
