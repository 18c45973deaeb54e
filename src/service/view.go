package service

import (
	"context"
	"fmt"
	"time"

	"recon-server/src/consolidated"
	"recon-server/src/models"

	"github.com/shopspring/decimal"
)

type Window struct {
	From      *time.Time
	To        *time.Time
	SourceIDs []int
}

// ConsolidatedView lists the logical transactions in the window. It only
// reads.
func (s *Service) ConsolidatedView(ctx context.Context, w Window) ([]consolidated.Transaction, error) {
	if w.From != nil && w.To != nil && w.To.Before(*w.From) {
		return nil, fmt.Errorf("%w: window ends before it starts", ErrInvalidInput)
	}
	recs, err := s.store.ListRawRecords(ctx, models.RecordFilter{SourceIDs: w.SourceIDs, From: w.From, To: w.To})
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}

	var locked []models.RecordKey
	for _, r := range recs {
		if r.Locked {
			locked = append(locked, r.Key())
		}
	}
	var parts []models.BatchPartition
	if len(locked) > 0 {
		parts, err = s.store.ListPartitionsByRecords(ctx, locked)
		if err != nil {
			return nil, fmt.Errorf("read partitions: %w", err)
		}
	}

	tables, err := s.store.ListSourceTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list source tables: %w", err)
	}
	accounts := make(map[int]models.SourceTable, len(tables))
	for _, t := range tables {
		accounts[t.ID] = t
	}
	return consolidated.Build(recs, parts, accounts)
}

func (s *Service) ReplacePartitions(ctx context.Context, key models.RecordKey, parts []models.BatchPartition) ([]models.BatchPartition, error) {
	return s.partitions.Replace(ctx, key, parts)
}

func (s *Service) ClearPartitions(ctx context.Context, key models.RecordKey) error {
	return s.partitions.Clear(ctx, key)
}

func (s *Service) ListPartitions(ctx context.Context, key models.RecordKey) ([]models.BatchPartition, error) {
	if _, err := s.store.GetRawRecord(ctx, key); err != nil {
		return nil, err
	}
	return s.partitions.List(ctx, key)
}

// Convert converts amount with the rates stored for date.
func (s *Service) Convert(ctx context.Context, amount decimal.Decimal, from, to string, date time.Time) (decimal.Decimal, error) {
	conv, err := s.converter(ctx, date, date)
	if err != nil {
		return decimal.Zero, err
	}
	return conv.Convert(amount, from, to, date)
}
