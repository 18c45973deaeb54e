// Package currency converts amounts between currencies using daily rates
// quoted against a single base currency.
package currency

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"recon-server/src/models"

	"github.com/shopspring/decimal"
)

// ErrRateUnavailable is returned when a required rate is missing or zero for
// the requested date. Callers keep the original amount and report a warning.
var ErrRateUnavailable = errors.New("exchange rate unavailable")

// RateSource returns the rate of code against the base currency on date.
type RateSource interface {
	Rate(date time.Time, code string) (decimal.Decimal, bool)
}

// Table is an in-memory RateSource keyed by calendar day.
type Table struct {
	rows map[string]map[string]decimal.Decimal
}

func NewTable(rows []models.ExchangeRateRow) *Table {
	t := &Table{rows: make(map[string]map[string]decimal.Decimal, len(rows))}
	for _, row := range rows {
		day := row.Date.Format(models.DateLayout)
		rates, ok := t.rows[day]
		if !ok {
			rates = make(map[string]decimal.Decimal, len(row.Rates))
			t.rows[day] = rates
		}
		for code, rate := range row.Rates {
			rates[Normalize(code)] = rate
		}
	}
	return t
}

// Rate looks up the exact day only; there is no nearest-date fallback.
func (t *Table) Rate(date time.Time, code string) (decimal.Decimal, bool) {
	rates, ok := t.rows[date.Format(models.DateLayout)]
	if !ok {
		return decimal.Zero, false
	}
	rate, ok := rates[Normalize(code)]
	return rate, ok
}

func (t *Table) Len() int {
	return len(t.rows)
}

type Converter struct {
	base  string
	rates RateSource
}

func NewConverter(base string, rates RateSource) *Converter {
	return &Converter{base: Normalize(base), rates: rates}
}

func (c *Converter) Base() string {
	return c.base
}

// Convert expresses amount (in from) in to, using rates for date. The result
// is not rounded.
func (c *Converter) Convert(amount decimal.Decimal, from, to string, date time.Time) (decimal.Decimal, error) {
	from, to = Normalize(from), Normalize(to)
	if from == to {
		return amount, nil
	}

	switch {
	case to == c.base:
		rate, err := c.rate(date, from)
		if err != nil {
			return amount, err
		}
		return amount.Mul(rate), nil
	case from == c.base:
		rate, err := c.rate(date, to)
		if err != nil {
			return amount, err
		}
		return amount.Div(rate), nil
	default:
		fromRate, err := c.rate(date, from)
		if err != nil {
			return amount, err
		}
		toRate, err := c.rate(date, to)
		if err != nil {
			return amount, err
		}
		return amount.Mul(fromRate).Div(toRate), nil
	}
}

func (c *Converter) rate(date time.Time, code string) (decimal.Decimal, error) {
	rate, ok := c.rates.Rate(date, code)
	if !ok || rate.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: %s on %s", ErrRateUnavailable, code, date.Format(models.DateLayout))
	}
	return rate, nil
}

// Normalize upper-cases and trims an ISO currency code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// MinorUnits returns the number of decimal places used by a currency.
func MinorUnits(code string) int32 {
	switch Normalize(code) {
	case "JPY", "KRW", "VND", "CLP", "ISK":
		return 0
	case "BHD", "KWD", "OMR", "JOD", "TND":
		return 3
	default:
		return 2
	}
}
