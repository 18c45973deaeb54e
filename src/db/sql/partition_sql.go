package db

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"recon-server/src/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// lockNotAvailable is the Postgres error raised by NOWAIT row locks.
const lockNotAvailable = "55P03"

const partitionColumns = `id, source_id, raw_record_id, COALESCE(obligation_id, ''), unassigned, counteragent_id,
	financial_code_id, currency_code, nominal_amount::text, account_amount::text, created_at`

func scanPartitions(rows pgx.Rows) ([]models.BatchPartition, error) {
	defer rows.Close()
	parts := []models.BatchPartition{}
	for rows.Next() {
		var p models.BatchPartition
		err := rows.Scan(&p.ID, &p.SourceID, &p.RawRecordID, &p.ObligationID, &p.Unassigned, &p.CounteragentID,
			&p.FinancialCodeID, &p.CurrencyCode, &p.NominalAmount, &p.AccountAmount, &p.CreatedAt)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

func ListPartitions(ctx context.Context, pool *pgxpool.Pool, key models.RecordKey) ([]models.BatchPartition, error) {
	query := `SELECT ` + partitionColumns + ` FROM batch_partitions WHERE source_id = $1 AND raw_record_id = $2 ORDER BY id`
	rows, err := pool.Query(ctx, query, key.SourceID, key.RecordID)
	if err != nil {
		return nil, err
	}
	return scanPartitions(rows)
}

func ListPartitionsByRecords(ctx context.Context, pool *pgxpool.Pool, keys []models.RecordKey) ([]models.BatchPartition, error) {
	sources := make([]int, len(keys))
	ids := make([]int64, len(keys))
	for i, k := range keys {
		sources[i], ids[i] = k.SourceID, k.RecordID
	}
	query := `
		SELECT ` + partitionColumns + `
		FROM batch_partitions
		WHERE (source_id, raw_record_id) IN (SELECT * FROM unnest($1::int[], $2::bigint[]))
		ORDER BY source_id, raw_record_id, id
	`
	rows, err := pool.Query(ctx, query, sources, ids)
	if err != nil {
		return nil, err
	}
	return scanPartitions(rows)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// lockRecord takes the raw record's row lock without waiting. With
// requireUnlocked set, a record already carrying batches is refused.
func lockRecord(ctx context.Context, tx rowQuerier, key models.RecordKey, requireUnlocked bool) error {
	var locked bool
	err := tx.QueryRow(ctx, `SELECT locked FROM raw_records WHERE source_id = $1 AND id = $2 FOR UPDATE NOWAIT`,
		key.SourceID, key.RecordID).Scan(&locked)
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return models.ErrNotFound
	case errors.As(err, &pgErr) && pgErr.Code == lockNotAvailable:
		return fmt.Errorf("record %s: %w", key, models.ErrRecordBusy)
	case err != nil:
		return err
	case requireUnlocked && locked:
		return fmt.Errorf("record %s: %w", key, models.ErrRecordLocked)
	}
	return nil
}

// writePartitions swaps the record's partitions for parts and locks it.
// The caller holds the row lock.
func writePartitions(ctx context.Context, tx pgx.Tx, key models.RecordKey, parts []models.BatchPartition) ([]models.BatchPartition, error) {
	if _, err := tx.Exec(ctx, `DELETE FROM batch_partitions WHERE source_id = $1 AND raw_record_id = $2`, key.SourceID, key.RecordID); err != nil {
		return nil, err
	}

	insert := `
		INSERT INTO batch_partitions (source_id, raw_record_id, obligation_id, unassigned, counteragent_id,
			financial_code_id, currency_code, nominal_amount, account_amount)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)
		RETURNING ` + partitionColumns
	saved := make([]models.BatchPartition, 0, len(parts))
	for _, p := range parts {
		rows, err := tx.Query(ctx, insert, key.SourceID, key.RecordID, p.ObligationID, p.Unassigned, p.CounteragentID,
			p.FinancialCodeID, p.CurrencyCode, p.NominalAmount, p.AccountAmount)
		if err != nil {
			return nil, err
		}
		row, err := scanPartitions(rows)
		if err != nil {
			return nil, err
		}
		saved = append(saved, row...)
	}

	if _, err := tx.Exec(ctx, `UPDATE raw_records SET locked = TRUE, updated_at = NOW() WHERE source_id = $1 AND id = $2`, key.SourceID, key.RecordID); err != nil {
		return nil, err
	}
	return saved, nil
}

// ReplacePartitions deletes the record's partitions, inserts parts and
// locks the record in one transaction.
func ReplacePartitions(ctx context.Context, pool *pgxpool.Pool, key models.RecordKey, parts []models.BatchPartition) ([]models.BatchPartition, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := lockRecord(ctx, tx, key, false); err != nil {
		return nil, err
	}
	saved, err := writePartitions(ctx, tx, key, parts)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return saved, nil
}

// CommitAllocation writes an allocator run in one transaction. Every
// touched row is locked up front in key order, and a record that is
// already locked aborts the run before anything is written.
func CommitAllocation(ctx context.Context, pool *pgxpool.Pool, sets []models.PartitionSet, updates []models.ClassificationUpdate) ([]models.PartitionSet, error) {
	keys := make([]models.RecordKey, 0, len(sets)+len(updates))
	for _, set := range sets {
		keys = append(keys, set.Key)
	}
	for _, u := range updates {
		keys = append(keys, u.Key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].SourceID != keys[j].SourceID {
			return keys[i].SourceID < keys[j].SourceID
		}
		return keys[i].RecordID < keys[j].RecordID
	})

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	for _, key := range keys {
		if err := lockRecord(ctx, tx, key, true); err != nil {
			return nil, err
		}
	}
	for _, u := range updates {
		if _, err := tx.Exec(ctx, classifyRecord, classifyArgs(u)...); err != nil {
			return nil, err
		}
	}
	out := make([]models.PartitionSet, len(sets))
	for i, set := range sets {
		saved, err := writePartitions(ctx, tx, set.Key, set.Partitions)
		if err != nil {
			return nil, err
		}
		out[i] = models.PartitionSet{Key: set.Key, Partitions: saved}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// ClearPartitions deletes every partition of the record and unlocks it.
func ClearPartitions(ctx context.Context, pool *pgxpool.Pool, key models.RecordKey) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := lockRecord(ctx, tx, key, false); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM batch_partitions WHERE source_id = $1 AND raw_record_id = $2`, key.SourceID, key.RecordID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE raw_records SET locked = FALSE, updated_at = NOW() WHERE source_id = $1 AND id = $2`, key.SourceID, key.RecordID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
