// Package service runs the reconciliation operations against a Store: it
// loads dictionary snapshots, classifies raw records, allocates
// transactions to obligations and builds the consolidated view.
package service

import (
	"context"
	"errors"
	"time"

	"recon-server/src/models"
	"recon-server/src/partition"

	"github.com/rs/zerolog"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrMissingObligation = errors.New("obligation not found")
	ErrUnknownRecord     = errors.New("transaction not found")
)

// Store is the record source, dictionary source and persistence sink the
// service runs against.
type Store interface {
	partition.Store

	ListSourceTables(ctx context.Context) ([]models.SourceTable, error)
	ListRawRecords(ctx context.Context, f models.RecordFilter) ([]models.RawRecord, error)
	ApplyClassifications(ctx context.Context, updates []models.ClassificationUpdate) (int, error)

	ListCounteragents(ctx context.Context) ([]models.Counteragent, error)
	ListPayments(ctx context.Context) ([]models.Payment, error)
	ListSalaryAccruals(ctx context.Context) ([]models.SalaryAccrual, error)
	ListExchangeRates(ctx context.Context, from, to time.Time) ([]models.ExchangeRateRow, error)

	ListParsingRules(ctx context.Context, schemeID int64) ([]models.ParsingRule, error)
	GetParsingRule(ctx context.Context, id int64) (models.ParsingRule, error)
	CreateParsingRule(ctx context.Context, rule models.ParsingRule) (models.ParsingRule, error)
	UpdateParsingRule(ctx context.Context, rule models.ParsingRule) (models.ParsingRule, error)
	DeleteParsingRule(ctx context.Context, id int64) error

	ListPartitionsByRecords(ctx context.Context, keys []models.RecordKey) ([]models.BatchPartition, error)
}

type Options struct {
	BaseCurrency string
	ChunkSize    int
	Workers      int
	SampleSize   int
	MaxNodes     int
}

func (o Options) withDefaults() Options {
	if o.BaseCurrency == "" {
		o.BaseCurrency = "GEL"
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 500
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.SampleSize <= 0 {
		o.SampleSize = 20
	}
	return o
}

type Service struct {
	store      Store
	partitions *partition.Manager
	opts       Options
	log        zerolog.Logger
}

func New(store Store, opts Options, log zerolog.Logger) *Service {
	return &Service{
		store:      store,
		partitions: partition.NewManager(store, log),
		opts:       opts.withDefaults(),
		log:        log,
	}
}

func (s *Service) Options() Options {
	return s.opts
}
