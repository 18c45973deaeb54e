package db

import (
	"context"
	"errors"
	"testing"

	"recon-server/src/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

type lockRow struct {
	locked bool
	err    error
}

func (r lockRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*bool) = r.locked
	return nil
}

type lockQuerier struct{ row lockRow }

func (q lockQuerier) QueryRow(context.Context, string, ...any) pgx.Row { return q.row }

func TestLockRecord(t *testing.T) {
	ctx := context.Background()
	key := models.RecordKey{SourceID: 1, RecordID: 10}

	assert.NoError(t, lockRecord(ctx, lockQuerier{lockRow{}}, key, true))
	assert.NoError(t, lockRecord(ctx, lockQuerier{lockRow{locked: true}}, key, false))
	assert.ErrorIs(t, lockRecord(ctx, lockQuerier{lockRow{locked: true}}, key, true), models.ErrRecordLocked)
	assert.ErrorIs(t, lockRecord(ctx, lockQuerier{lockRow{err: pgx.ErrNoRows}}, key, true), models.ErrNotFound)
	assert.ErrorIs(t, lockRecord(ctx, lockQuerier{lockRow{err: &pgconn.PgError{Code: lockNotAvailable}}}, key, true), models.ErrRecordBusy)

	boom := errors.New("boom")
	assert.ErrorIs(t, lockRecord(ctx, lockQuerier{lockRow{err: boom}}, key, true), boom)
}
