// Package partition manages the batch partitions that split one raw bank
// record across several obligations.
package partition

import (
	"context"
	"errors"
	"fmt"

	"recon-server/src/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	ErrNoPartitions      = errors.New("at least one partition is required")
	ErrPartitionSum      = errors.New("partition amounts do not add up to the record amount")
	ErrPartitionUntagged = errors.New("partition needs an obligation id or the unassigned tag")
	ErrPartitionSign     = errors.New("partition amount has the wrong sign")
)

// Tolerance is the largest allowed gap between the partition sum and the
// record amount.
var Tolerance = decimal.New(1, -2)

// Store persists partitions. ReplacePartitions must delete, insert and lock
// atomically; ClearPartitions must delete and unlock atomically.
//
// CommitAllocation writes every partition set (locking its record) and
// every classification update in one transaction. When any record it
// touches is already locked it must write nothing and return
// models.ErrRecordLocked.
type Store interface {
	GetRawRecord(ctx context.Context, key models.RecordKey) (models.RawRecord, error)
	ListPartitions(ctx context.Context, key models.RecordKey) ([]models.BatchPartition, error)
	ReplacePartitions(ctx context.Context, key models.RecordKey, parts []models.BatchPartition) ([]models.BatchPartition, error)
	ClearPartitions(ctx context.Context, key models.RecordKey) error
	CommitAllocation(ctx context.Context, sets []models.PartitionSet, updates []models.ClassificationUpdate) ([]models.PartitionSet, error)
}

type Manager struct {
	store Store
	locks *keyLocks
	log   zerolog.Logger
}

func NewManager(store Store, log zerolog.Logger) *Manager {
	return &Manager{store: store, locks: newKeyLocks(), log: log}
}

// Replace swaps the record's partitions for parts and locks the record.
// Existing partitions are replaced whether or not the record was locked.
func (m *Manager) Replace(ctx context.Context, key models.RecordKey, parts []models.BatchPartition) ([]models.BatchPartition, error) {
	if !m.locks.tryLock(key) {
		return nil, fmt.Errorf("record %s: %w", key, models.ErrRecordBusy)
	}
	defer m.locks.unlock(key)

	rec, err := m.store.GetRawRecord(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load record %s: %w", key, err)
	}
	normalized, err := normalize(rec, parts)
	if err != nil {
		return nil, err
	}

	saved, err := m.store.ReplacePartitions(ctx, key, normalized)
	if err != nil {
		return nil, fmt.Errorf("replace partitions for %s: %w", key, err)
	}
	m.log.Info().Int("source_id", key.SourceID).Int64("record_id", key.RecordID).Int("partitions", len(saved)).Msg("partitions replaced")
	return saved, nil
}

// Commit writes allocator output all or nothing: each set becomes its
// record's partitions and locks it, and each update is written onto its
// record. Unlike Replace, every record must exist and be unlocked. All record locks are
// taken before anything is read.
func (m *Manager) Commit(ctx context.Context, sets []models.PartitionSet, updates []models.ClassificationUpdate) ([]models.PartitionSet, error) {
	keys := make([]models.RecordKey, 0, len(sets)+len(updates))
	seen := make(map[models.RecordKey]bool, cap(keys))
	for _, k := range setKeys(sets, updates) {
		if seen[k] {
			return nil, fmt.Errorf("record %s appears twice in one commit", k)
		}
		seen[k] = true
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return []models.PartitionSet{}, nil
	}
	if !m.locks.tryLockAll(keys) {
		return nil, fmt.Errorf("commit allocation: %w", models.ErrRecordBusy)
	}
	defer m.locks.unlockAll(keys)

	records := make(map[models.RecordKey]models.RawRecord, len(keys))
	for _, k := range keys {
		rec, err := m.store.GetRawRecord(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("load record %s: %w", k, err)
		}
		if rec.Locked {
			return nil, fmt.Errorf("record %s: %w", k, models.ErrRecordLocked)
		}
		records[k] = rec
	}

	normalized := make([]models.PartitionSet, len(sets))
	for i, set := range sets {
		parts, err := normalize(records[set.Key], set.Partitions)
		if err != nil {
			return nil, err
		}
		normalized[i] = models.PartitionSet{Key: set.Key, Partitions: parts}
	}

	saved, err := m.store.CommitAllocation(ctx, normalized, updates)
	if err != nil {
		return nil, fmt.Errorf("commit allocation: %w", err)
	}
	m.log.Info().Int("batches", len(saved)).Int("updates", len(updates)).Msg("allocation committed")
	return saved, nil
}

func setKeys(sets []models.PartitionSet, updates []models.ClassificationUpdate) []models.RecordKey {
	keys := make([]models.RecordKey, 0, len(sets)+len(updates))
	for _, s := range sets {
		keys = append(keys, s.Key)
	}
	for _, u := range updates {
		keys = append(keys, u.Key)
	}
	return keys
}

// normalize validates parts against rec and stamps them with its key.
func normalize(rec models.RawRecord, parts []models.BatchPartition) ([]models.BatchPartition, error) {
	if err := Validate(rec, parts); err != nil {
		return nil, fmt.Errorf("record %s: %w", rec.Key(), err)
	}
	normalized := make([]models.BatchPartition, len(parts))
	for i, p := range parts {
		p.SourceID = rec.SourceID
		p.RawRecordID = rec.ID
		p.ID = 0
		if p.Unassigned {
			p.ObligationID = ""
		}
		normalized[i] = p
	}
	return normalized, nil
}

// Clear removes all partitions and makes the record eligible for
// independent classification again.
func (m *Manager) Clear(ctx context.Context, key models.RecordKey) error {
	if !m.locks.tryLock(key) {
		return fmt.Errorf("record %s: %w", key, models.ErrRecordBusy)
	}
	defer m.locks.unlock(key)

	if _, err := m.store.GetRawRecord(ctx, key); err != nil {
		return fmt.Errorf("load record %s: %w", key, err)
	}
	if err := m.store.ClearPartitions(ctx, key); err != nil {
		return fmt.Errorf("clear partitions for %s: %w", key, err)
	}
	m.log.Info().Int("source_id", key.SourceID).Int64("record_id", key.RecordID).Msg("partitions cleared")
	return nil
}

func (m *Manager) List(ctx context.Context, key models.RecordKey) ([]models.BatchPartition, error) {
	return m.store.ListPartitions(ctx, key)
}

// Validate checks parts against the record they split.
func Validate(rec models.RawRecord, parts []models.BatchPartition) error {
	if len(parts) == 0 {
		return ErrNoPartitions
	}
	total := rec.SignedAmount()
	sum := decimal.Zero
	for i, p := range parts {
		if p.ObligationID == "" && !p.Unassigned {
			return fmt.Errorf("partition %d: %w", i, ErrPartitionUntagged)
		}
		if p.ObligationID != "" && p.Unassigned {
			return fmt.Errorf("partition %d: %w", i, ErrPartitionUntagged)
		}
		if !p.AccountAmount.IsZero() && p.AccountAmount.Sign() != total.Sign() {
			return fmt.Errorf("partition %d: %w", i, ErrPartitionSign)
		}
		sum = sum.Add(p.AccountAmount)
	}
	if sum.Sub(total).Abs().GreaterThan(Tolerance) {
		return fmt.Errorf("%w: partitions sum to %s, record is %s", ErrPartitionSum, sum.StringFixed(2), total.StringFixed(2))
	}
	return nil
}
