package service

import (
	"context"
	"fmt"

	"recon-server/src/classifier"
	"recon-server/src/logger"
	"recon-server/src/models"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ClassifyRequest scopes a run to a scheme, to explicit source tables, or
// to both. An empty scope covers every source table.
type ClassifyRequest struct {
	SchemeID  int64 `json:"scheme_id,omitempty"`
	SourceIDs []int `json:"source_ids,omitempty"`
	DryRun    bool  `json:"dry_run"`
}

type RecordWarning struct {
	Record  models.RecordKey `json:"record"`
	Message string           `json:"message"`
}

type ClassifyResult struct {
	RunID     string          `json:"run_id"`
	Scanned   int             `json:"scanned"`
	Matched   int             `json:"matched"`
	Conflicts int             `json:"conflicts"`
	Updated   int             `json:"updated"`
	DryRun    bool            `json:"dry_run"`
	Cases     map[string]int  `json:"cases"`
	Warnings  []RecordWarning `json:"warnings"`
}

// Classify runs the cascade over every unlocked raw record in scope. Records
// are read in chunks; each chunk is classified in parallel and written
// before the next one is read. Dictionaries are loaded once per scheme,
// rates once per chunk.
func (s *Service) Classify(ctx context.Context, req ClassifyRequest) (ClassifyResult, error) {
	res := ClassifyResult{
		RunID:    uuid.NewString(),
		DryRun:   req.DryRun,
		Cases:    make(map[string]int),
		Warnings: []RecordWarning{},
	}
	log := logger.FromContext(ctx).With().Str("run_id", res.RunID).Logger()

	tables, err := s.scope(ctx, req.SchemeID, req.SourceIDs)
	if err != nil {
		return res, err
	}

	dicts := make(map[int64]*dictionary)
	for _, table := range tables {
		dict, ok := dicts[table.SchemeID]
		if !ok {
			if dict, err = s.dictionary(ctx, table.SchemeID); err != nil {
				return res, err
			}
			dicts[table.SchemeID] = dict
		}

		var after int64
		for {
			recs, err := s.store.ListRawRecords(ctx, models.RecordFilter{
				SourceIDs:    []int{table.ID},
				UnlockedOnly: true,
				AfterID:      after,
				Limit:        s.opts.ChunkSize,
			})
			if err != nil {
				return res, fmt.Errorf("read source %d: %w", table.ID, err)
			}
			if len(recs) == 0 {
				break
			}
			after = recs[len(recs)-1].ID

			if err := s.classifyChunk(ctx, dict, recs, &res); err != nil {
				return res, err
			}
			if len(recs) < s.opts.ChunkSize {
				break
			}
		}
	}

	log.Info().
		Int("scanned", res.Scanned).
		Int("matched", res.Matched).
		Int("updated", res.Updated).
		Int("warnings", len(res.Warnings)).
		Bool("dry_run", req.DryRun).
		Msg("classification finished")
	return res, nil
}

func (s *Service) classifyChunk(ctx context.Context, dict *dictionary, recs []models.RawRecord, res *ClassifyResult) error {
	snap, err := s.snapshot(ctx, dict, recs)
	if err != nil {
		return err
	}
	cl := classifier.New(snap, logger.FromContext(ctx))

	results := make([]classifier.Result, len(recs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i := range recs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = cl.Classify(recs[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var updates []models.ClassificationUpdate
	for i, r := range results {
		if r.Skipped {
			continue
		}
		res.Scanned++
		for _, w := range r.Warnings {
			res.Warnings = append(res.Warnings, RecordWarning{Record: recs[i].Key(), Message: w})
		}
		for _, c := range r.Cases {
			res.Cases[string(c)]++
			if classifier.IsConflict(c) {
				res.Conflicts++
			}
		}
		if r.Matched() {
			res.Matched++
		}
		// unmatched records are written too so a stale classification
		// never outlives a rerun
		updates = append(updates, models.ClassificationUpdate{Key: recs[i].Key(), Classification: r.Classification})
	}

	if res.DryRun || len(updates) == 0 {
		return nil
	}
	n, err := s.store.ApplyClassifications(ctx, updates)
	if err != nil {
		return fmt.Errorf("write classifications: %w", err)
	}
	res.Updated += n
	return nil
}

// scope resolves the source tables a request covers.
func (s *Service) scope(ctx context.Context, schemeID int64, sourceIDs []int) ([]models.SourceTable, error) {
	tables, err := s.store.ListSourceTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list source tables: %w", err)
	}
	wanted := make(map[int]bool, len(sourceIDs))
	for _, id := range sourceIDs {
		wanted[id] = true
	}
	var out []models.SourceTable
	for _, t := range tables {
		if schemeID != 0 && t.SchemeID != schemeID {
			continue
		}
		if len(wanted) > 0 && !wanted[t.ID] {
			continue
		}
		out = append(out, t)
	}
	if len(out) == 0 && (schemeID != 0 || len(sourceIDs) > 0) {
		return nil, fmt.Errorf("no source tables in scope: %w", models.ErrNotFound)
	}
	return out, nil
}
