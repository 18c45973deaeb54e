package service

import (
	"context"
	"fmt"
	"time"

	"recon-server/src/classifier"
	"recon-server/src/currency"
	"recon-server/src/db"
	"recon-server/src/models"
)

// dictionary is the rate-independent part of a classification snapshot.
type dictionary struct {
	counteragents []models.Counteragent
	rules         []classifier.Rule
	ruleErrors    []error
	obligations   *classifier.Obligations
}

func (s *Service) dictionary(ctx context.Context, schemeID int64) (*dictionary, error) {
	cacheKey := fmt.Sprintf("scheme:%d", schemeID)
	if cached, ok := db.GetSnapshotCache(cacheKey); ok {
		if d, ok := cached.(*dictionary); ok {
			return d, nil
		}
	}

	cas, err := s.store.ListCounteragents(ctx)
	if err != nil {
		return nil, fmt.Errorf("load counteragents: %w", err)
	}
	obligations, err := s.obligations(ctx)
	if err != nil {
		return nil, err
	}
	var rules []models.ParsingRule
	if schemeID != 0 {
		rules, err = s.store.ListParsingRules(ctx, schemeID)
		if err != nil {
			return nil, fmt.Errorf("load parsing rules: %w", err)
		}
	}
	compiled, errs := classifier.CompileRules(rules)
	for _, e := range errs {
		s.log.Warn().Err(e).Int64("scheme_id", schemeID).Msg("parsing rule skipped")
	}

	d := &dictionary{counteragents: cas, rules: compiled, ruleErrors: errs, obligations: obligations}
	db.SetSnapshotCache(cacheKey, d)
	return d, nil
}

func (s *Service) obligations(ctx context.Context) (*classifier.Obligations, error) {
	payments, err := s.store.ListPayments(ctx)
	if err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}
	salaries, err := s.store.ListSalaryAccruals(ctx)
	if err != nil {
		return nil, fmt.Errorf("load salary accruals: %w", err)
	}
	return classifier.NewObligations(payments, salaries), nil
}

// converter returns a converter holding the rates for every day in
// [from, to].
func (s *Service) converter(ctx context.Context, from, to time.Time) (*currency.Converter, error) {
	from, to = truncateDay(from), truncateDay(to)
	cacheKey := fmt.Sprintf("rates:%s:%s", from.Format(models.DateLayout), to.Format(models.DateLayout))
	if cached, ok := db.GetRateCache(cacheKey); ok {
		if t, ok := cached.(*currency.Table); ok {
			return currency.NewConverter(s.opts.BaseCurrency, t), nil
		}
	}

	rows, err := s.store.ListExchangeRates(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load exchange rates: %w", err)
	}
	table := currency.NewTable(rows)
	db.SetRateCache(cacheKey, table)
	return currency.NewConverter(s.opts.BaseCurrency, table), nil
}

// snapshot pairs dict with the rates covering recs.
func (s *Service) snapshot(ctx context.Context, dict *dictionary, recs []models.RawRecord) (*classifier.Snapshot, error) {
	from, to := dateSpan(recs)
	conv, err := s.converter(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return classifier.NewSnapshot(dict.counteragents, dict.rules, dict.obligations, conv), nil
}

func dateSpan(recs []models.RawRecord) (time.Time, time.Time) {
	var from, to time.Time
	for i, r := range recs {
		d := r.EffectiveDate()
		if i == 0 || d.Before(from) {
			from = d
		}
		if i == 0 || d.After(to) {
			to = d
		}
	}
	return from, to
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// InvalidateDictionaries drops cached snapshots after dictionary writes.
func (s *Service) InvalidateDictionaries() {
	db.ClearAllSnapshotCaches()
}
