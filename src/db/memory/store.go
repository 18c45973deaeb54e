// Package memory is an in-process Store used by tests and local runs
// without Postgres.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"recon-server/src/models"
)

type Store struct {
	mu            sync.RWMutex
	tables        map[int]models.SourceTable
	records       map[models.RecordKey]models.RawRecord
	partitions    map[models.RecordKey][]models.BatchPartition
	counteragents []models.Counteragent
	payments      []models.Payment
	salaries      []models.SalaryAccrual
	rates         map[string]models.ExchangeRateRow
	rules         map[int64]models.ParsingRule
	nextRuleID    int64
	nextPartID    int64
	now           func() time.Time
}

func New() *Store {
	return &Store{
		tables:     make(map[int]models.SourceTable),
		records:    make(map[models.RecordKey]models.RawRecord),
		partitions: make(map[models.RecordKey][]models.BatchPartition),
		rates:      make(map[string]models.ExchangeRateRow),
		rules:      make(map[int64]models.ParsingRule),
		now:        time.Now,
	}
}

func (s *Store) AddSourceTables(tables ...models.SourceTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tables {
		s.tables[t.ID] = t
	}
}

func (s *Store) AddRawRecords(recs ...models.RawRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		s.records[r.Key()] = r
	}
}

func (s *Store) AddCounteragents(cas ...models.Counteragent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counteragents = append(s.counteragents, cas...)
}

func (s *Store) AddPayments(ps ...models.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments = append(s.payments, ps...)
}

func (s *Store) AddSalaryAccruals(sa ...models.SalaryAccrual) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.salaries = append(s.salaries, sa...)
}

func (s *Store) AddExchangeRates(rows ...models.ExchangeRateRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.rates[r.Date.Format(models.DateLayout)] = r
	}
}

func (s *Store) ListSourceTables(_ context.Context) ([]models.SourceTable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SourceTable, 0, len(s.tables))
	for _, t := range s.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListRawRecords(_ context.Context, f models.RecordFilter) ([]models.RawRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.RawRecord
	for _, r := range s.records {
		if f.Includes(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) GetRawRecord(_ context.Context, key models.RecordKey) (models.RawRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[key]
	if !ok {
		return models.RawRecord{}, models.ErrNotFound
	}
	return r, nil
}

// ApplyClassifications writes the updates whose records are still unlocked.
func (s *Store) ApplyClassifications(_ context.Context, updates []models.ClassificationUpdate) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range updates {
		r, ok := s.records[u.Key]
		if !ok || r.Locked {
			continue
		}
		r.Classification = u.Classification
		s.records[u.Key] = r
		n++
	}
	return n, nil
}

func (s *Store) ListCounteragents(_ context.Context) ([]models.Counteragent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Counteragent(nil), s.counteragents...), nil
}

func (s *Store) ListPayments(_ context.Context) ([]models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Payment(nil), s.payments...), nil
}

func (s *Store) ListSalaryAccruals(_ context.Context) ([]models.SalaryAccrual, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.SalaryAccrual(nil), s.salaries...), nil
}

func (s *Store) ListExchangeRates(_ context.Context, from, to time.Time) ([]models.ExchangeRateRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ExchangeRateRow
	for _, r := range s.rates {
		if r.Date.Before(from) || r.Date.After(to) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *Store) ListParsingRules(_ context.Context, schemeID int64) ([]models.ParsingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ParsingRule
	for _, r := range s.rules {
		if schemeID == 0 || r.SchemeID == schemeID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetParsingRule(_ context.Context, id int64) (models.ParsingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return models.ParsingRule{}, models.ErrNotFound
	}
	return r, nil
}

func (s *Store) CreateParsingRule(_ context.Context, rule models.ParsingRule) (models.ParsingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRuleID++
	rule.ID = s.nextRuleID
	rule.CreatedAt = s.now()
	rule.UpdatedAt = rule.CreatedAt
	s.rules[rule.ID] = rule
	return rule, nil
}

func (s *Store) UpdateParsingRule(_ context.Context, rule models.ParsingRule) (models.ParsingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.rules[rule.ID]
	if !ok {
		return models.ParsingRule{}, models.ErrNotFound
	}
	rule.CreatedAt = old.CreatedAt
	rule.UpdatedAt = s.now()
	s.rules[rule.ID] = rule
	return rule, nil
}

func (s *Store) DeleteParsingRule(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return models.ErrNotFound
	}
	delete(s.rules, id)
	return nil
}

func (s *Store) ListPartitions(_ context.Context, key models.RecordKey) ([]models.BatchPartition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.BatchPartition{}, s.partitions[key]...), nil
}

func (s *Store) ListPartitionsByRecords(_ context.Context, keys []models.RecordKey) ([]models.BatchPartition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.BatchPartition
	for _, k := range keys {
		out = append(out, s.partitions[k]...)
	}
	return out, nil
}

func (s *Store) ReplacePartitions(_ context.Context, key models.RecordKey, parts []models.BatchPartition) ([]models.BatchPartition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	saved := make([]models.BatchPartition, len(parts))
	for i, p := range parts {
		s.nextPartID++
		p.ID = s.nextPartID
		p.CreatedAt = s.now()
		saved[i] = p
	}
	s.partitions[key] = saved
	rec.Locked = true
	s.records[key] = rec
	return append([]models.BatchPartition(nil), saved...), nil
}

func (s *Store) ClearPartitions(_ context.Context, key models.RecordKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return models.ErrNotFound
	}
	delete(s.partitions, key)
	rec.Locked = false
	s.records[key] = rec
	return nil
}

// CommitAllocation checks every touched record before writing any of them.
func (s *Store) CommitAllocation(_ context.Context, sets []models.PartitionSet, updates []models.ClassificationUpdate) ([]models.PartitionSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	check := func(key models.RecordKey) error {
		rec, ok := s.records[key]
		if !ok {
			return fmt.Errorf("record %s: %w", key, models.ErrNotFound)
		}
		if rec.Locked {
			return fmt.Errorf("record %s: %w", key, models.ErrRecordLocked)
		}
		return nil
	}
	for _, set := range sets {
		if err := check(set.Key); err != nil {
			return nil, err
		}
	}
	for _, u := range updates {
		if err := check(u.Key); err != nil {
			return nil, err
		}
	}

	for _, u := range updates {
		r := s.records[u.Key]
		r.Classification = u.Classification
		s.records[u.Key] = r
	}
	out := make([]models.PartitionSet, len(sets))
	for i, set := range sets {
		saved := make([]models.BatchPartition, len(set.Partitions))
		for j, p := range set.Partitions {
			s.nextPartID++
			p.ID = s.nextPartID
			p.CreatedAt = s.now()
			saved[j] = p
		}
		s.partitions[set.Key] = saved
		rec := s.records[set.Key]
		rec.Locked = true
		s.records[set.Key] = rec
		out[i] = models.PartitionSet{Key: set.Key, Partitions: append([]models.BatchPartition(nil), saved...)}
	}
	return out, nil
}
