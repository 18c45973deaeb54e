package service

import (
	"context"
	"errors"
	"fmt"

	"recon-server/src/allocation"
	"recon-server/src/consolidated"
	"recon-server/src/currency"
	"recon-server/src/logger"
	"recon-server/src/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	caseFIFO     = "fifo allocation"
	caseOptimize = "optimized allocation"
)

type AllocationRequest struct {
	ObligationIDs   []string `json:"obligation_ids"`
	TransactionKeys []string `json:"transaction_keys"`
	Apply           bool     `json:"apply"`
	MaxNodes        int      `json:"max_nodes,omitempty"`
}

type FIFOOutcome struct {
	RunID string `json:"run_id"`
	allocation.FIFOResult
	Applied bool `json:"applied"`
}

type OptimizeOutcome struct {
	RunID string `json:"run_id"`
	allocation.OptimizeResult
	Applied bool `json:"applied"`
}

// selection is the validated input of an allocation run.
type selection struct {
	obligations []models.Obligation
	byID        map[string]models.Obligation
	records     map[models.RecordKey]models.RawRecord
	txs         []allocation.Transaction
}

func (s *Service) AllocateFIFO(ctx context.Context, req AllocationRequest) (FIFOOutcome, error) {
	out := FIFOOutcome{RunID: uuid.NewString()}
	log := logger.FromContext(ctx).With().Str("run_id", out.RunID).Logger()

	sel, err := s.selection(ctx, req)
	if err != nil {
		return out, err
	}
	res, err := allocation.FIFO(sel.obligations, sel.txs)
	if err != nil {
		return out, err
	}
	out.FIFOResult = res

	if req.Apply {
		if err := s.applyFIFO(ctx, sel, res); err != nil {
			return out, err
		}
		out.Applied = true
	}
	log.Info().
		Int("direct", len(res.DirectAssignments)).
		Int("batches", len(res.Batches)).
		Int("unallocated", len(res.UnallocatedObligations)).
		Bool("applied", out.Applied).
		Msg("fifo allocation finished")
	return out, nil
}

func (s *Service) OptimizeAllocation(ctx context.Context, req AllocationRequest) (OptimizeOutcome, error) {
	out := OptimizeOutcome{RunID: uuid.NewString()}
	log := logger.FromContext(ctx).With().Str("run_id", out.RunID).Logger()

	sel, err := s.selection(ctx, req)
	if err != nil {
		return out, err
	}
	maxNodes := req.MaxNodes
	if maxNodes <= 0 {
		maxNodes = s.opts.MaxNodes
	}
	res, err := allocation.Optimize(sel.obligations, sel.txs, allocation.OptimizeOptions{MaxNodes: maxNodes})
	if err != nil {
		return out, err
	}
	out.OptimizeResult = res

	if req.Apply {
		updates := make([]models.ClassificationUpdate, 0, len(res.Assignments))
		for _, a := range res.Assignments {
			updates = append(updates, assignUpdate(sel.records[a.Transaction], sel.byID[a.ObligationID], a.Amount, caseOptimize))
		}
		if _, err := s.partitions.Commit(ctx, nil, updates); err != nil {
			return out, err
		}
		out.Applied = true
	}
	log.Info().
		Str("deviation", res.TotalAbsoluteDeviation.String()).
		Bool("proven", res.Proven).
		Int("nodes", res.Nodes).
		Bool("applied", out.Applied).
		Msg("optimized allocation finished")
	return out, nil
}

func (s *Service) selection(ctx context.Context, req AllocationRequest) (*selection, error) {
	if len(req.ObligationIDs) == 0 || len(req.TransactionKeys) == 0 {
		return nil, allocation.ErrEmptySelection
	}
	obligations, err := s.obligations(ctx)
	if err != nil {
		return nil, err
	}

	sel := &selection{
		byID:    make(map[string]models.Obligation, len(req.ObligationIDs)),
		records: make(map[models.RecordKey]models.RawRecord, len(req.TransactionKeys)),
	}
	for _, id := range req.ObligationIDs {
		ob, found, duplicate := obligations.Lookup(id)
		if duplicate {
			return nil, fmt.Errorf("%w: obligation id %s is ambiguous", ErrInvalidInput, id)
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrMissingObligation, id)
		}
		sel.obligations = append(sel.obligations, ob)
		sel.byID[ob.ID] = ob
	}
	cur := currency.Normalize(sel.obligations[0].CurrencyCode)

	for _, raw := range req.TransactionKeys {
		key, err := consolidated.ParseKey(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		if key.Origin != consolidated.OriginRecord {
			return nil, fmt.Errorf("%w: %s is a partition, allocate its raw record instead", ErrInvalidInput, key)
		}
		rk := models.RecordKey{SourceID: key.SourceID, RecordID: key.LocalID}
		rec, err := s.store.GetRawRecord(ctx, rk)
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRecord, key)
		}
		if err != nil {
			return nil, fmt.Errorf("load record %s: %w", rk, err)
		}
		if rec.Locked {
			return nil, fmt.Errorf("record %s: %w", rk, models.ErrRecordLocked)
		}

		if c := currency.Normalize(rec.AccountCurrency); c != cur {
			return nil, fmt.Errorf("record %s is %s, obligations are %s: %w", rk, c, cur, allocation.ErrMultiCurrency)
		}

		sel.records[rk] = rec
		sel.txs = append(sel.txs, allocation.Transaction{
			Key:             rk,
			Date:            rec.EffectiveDate(),
			Currency:        cur,
			Amount:          rec.SignedAmount(),
			AccountCurrency: rec.AccountCurrency,
			AccountAmount:   rec.SignedAmount(),
		})
	}
	return sel, nil
}

// applyFIFO writes the direct assignments and every batch in one commit.
func (s *Service) applyFIFO(ctx context.Context, sel *selection, res allocation.FIFOResult) error {
	updates := make([]models.ClassificationUpdate, 0, len(res.DirectAssignments))
	for _, a := range res.DirectAssignments {
		updates = append(updates, assignUpdate(sel.records[a.Transaction], sel.byID[a.ObligationID], a.Amount, caseFIFO))
	}

	sets := make([]models.PartitionSet, 0, len(res.Batches))
	for _, b := range res.Batches {
		parts := make([]models.BatchPartition, 0, len(b.Shares))
		for _, sh := range b.Shares {
			p := models.BatchPartition{
				ObligationID:  sh.ObligationID,
				Unassigned:    sh.Unassigned(),
				NominalAmount: sh.Amount,
				AccountAmount: sh.AccountAmount,
			}
			if ob, ok := sel.byID[sh.ObligationID]; ok {
				p.CounteragentID = ob.CounteragentID
				p.FinancialCodeID = ob.FinancialCodeID
				p.CurrencyCode = ob.CurrencyCode
			} else {
				p.CurrencyCode = sel.obligations[0].CurrencyCode
			}
			parts = append(parts, p)
		}
		sets = append(sets, models.PartitionSet{Key: b.Transaction, Partitions: parts})
	}
	_, err := s.partitions.Commit(ctx, sets, updates)
	return err
}

// assignUpdate classifies a whole record as paying ob.
func assignUpdate(rec models.RawRecord, ob models.Obligation, amount decimal.Decimal, c string) models.ClassificationUpdate {
	return models.ClassificationUpdate{
		Key: rec.Key(),
		Classification: models.Classification{
			CounteragentID:  ob.CounteragentID,
			FinancialCodeID: ob.FinancialCodeID,
			CurrencyCode:    ob.CurrencyCode,
			NominalAmount:   amount,
			ObligationID:    ob.ID,
			Case:            c,
		},
	}
}
