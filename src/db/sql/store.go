package db

import (
	"context"
	"time"

	"recon-server/src/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store binds the query functions of this package to a pool.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) ListSourceTables(ctx context.Context) ([]models.SourceTable, error) {
	return ListSourceTables(ctx, s.pool)
}

func (s *Store) ListRawRecords(ctx context.Context, f models.RecordFilter) ([]models.RawRecord, error) {
	return ListRawRecords(ctx, s.pool, f)
}

func (s *Store) GetRawRecord(ctx context.Context, key models.RecordKey) (models.RawRecord, error) {
	return GetRawRecord(ctx, s.pool, key)
}

func (s *Store) ApplyClassifications(ctx context.Context, updates []models.ClassificationUpdate) (int, error) {
	return ApplyClassifications(ctx, s.pool, updates)
}

func (s *Store) ListCounteragents(ctx context.Context) ([]models.Counteragent, error) {
	return ListCounteragents(ctx, s.pool)
}

func (s *Store) ListPayments(ctx context.Context) ([]models.Payment, error) {
	return ListPayments(ctx, s.pool)
}

func (s *Store) ListSalaryAccruals(ctx context.Context) ([]models.SalaryAccrual, error) {
	return ListSalaryAccruals(ctx, s.pool)
}

func (s *Store) ListExchangeRates(ctx context.Context, from, to time.Time) ([]models.ExchangeRateRow, error) {
	return ListExchangeRates(ctx, s.pool, from, to)
}

func (s *Store) ListParsingRules(ctx context.Context, schemeID int64) ([]models.ParsingRule, error) {
	return GetParsingRules(ctx, s.pool, schemeID)
}

func (s *Store) GetParsingRule(ctx context.Context, id int64) (models.ParsingRule, error) {
	return GetParsingRuleByID(ctx, s.pool, id)
}

func (s *Store) CreateParsingRule(ctx context.Context, rule models.ParsingRule) (models.ParsingRule, error) {
	return CreateParsingRule(ctx, s.pool, rule)
}

func (s *Store) UpdateParsingRule(ctx context.Context, rule models.ParsingRule) (models.ParsingRule, error) {
	return UpdateParsingRule(ctx, s.pool, rule)
}

func (s *Store) DeleteParsingRule(ctx context.Context, id int64) error {
	return DeleteParsingRule(ctx, s.pool, id)
}

func (s *Store) ListPartitions(ctx context.Context, key models.RecordKey) ([]models.BatchPartition, error) {
	return ListPartitions(ctx, s.pool, key)
}

func (s *Store) ListPartitionsByRecords(ctx context.Context, keys []models.RecordKey) ([]models.BatchPartition, error) {
	return ListPartitionsByRecords(ctx, s.pool, keys)
}

func (s *Store) ReplacePartitions(ctx context.Context, key models.RecordKey, parts []models.BatchPartition) ([]models.BatchPartition, error) {
	return ReplacePartitions(ctx, s.pool, key, parts)
}

func (s *Store) ClearPartitions(ctx context.Context, key models.RecordKey) error {
	return ClearPartitions(ctx, s.pool, key)
}

func (s *Store) CommitAllocation(ctx context.Context, sets []models.PartitionSet, updates []models.ClassificationUpdate) ([]models.PartitionSet, error) {
	return CommitAllocation(ctx, s.pool, sets, updates)
}
