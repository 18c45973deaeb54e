package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"recon-server/src/classifier"
	"recon-server/src/logger"
	"recon-server/src/models"
	"recon-server/src/rules"
)

type TestRuleResult struct {
	RuleID        int64              `json:"rule_id"`
	MatchCount    int                `json:"match_count"`
	SampleRecords []models.RawRecord `json:"sample_records"`
	AppliedCount  int                `json:"applied_count"`
	Errors        int                `json:"evaluation_errors"`
}

// TestRule evaluates one rule against the unlocked records of its scheme.
// With apply set, every match is classified from the rule alone and written.
func (s *Service) TestRule(ctx context.Context, ruleID int64, apply bool) (TestRuleResult, error) {
	res := TestRuleResult{RuleID: ruleID, SampleRecords: []models.RawRecord{}}
	log := logger.FromContext(ctx).With().Int64("rule_id", ruleID).Logger()

	rule, err := s.store.GetParsingRule(ctx, ruleID)
	if err != nil {
		return res, fmt.Errorf("load rule %d: %w", ruleID, err)
	}
	prog, err := rules.CompileRule(rule)
	if err != nil {
		return res, fmt.Errorf("%w: rule %d: %w", ErrInvalidInput, ruleID, err)
	}
	compiled := classifier.Rule{ParsingRule: rule, Program: prog}

	tables, err := s.scope(ctx, rule.SchemeID, nil)
	if err != nil {
		return res, err
	}
	var dict *dictionary
	if apply {
		if dict, err = s.dictionary(ctx, rule.SchemeID); err != nil {
			return res, err
		}
	}
	for _, table := range tables {
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

			var matched []models.RawRecord
			for _, rec := range recs {
				ok, err := prog.Eval(rules.Normalize(rec.Fields()))
				if err != nil {
					res.Errors++
					log.Warn().Err(err).Int("source_id", rec.SourceID).Int64("record_id", rec.ID).Msg("rule evaluation failed")
					continue
				}
				if !ok {
					continue
				}
				res.MatchCount++
				if len(res.SampleRecords) < s.opts.SampleSize {
					res.SampleRecords = append(res.SampleRecords, rec)
				}
				matched = append(matched, rec)
			}

			if apply && len(matched) > 0 {
				n, err := s.applyRule(ctx, dict, compiled, matched)
				if err != nil {
					return res, err
				}
				res.AppliedCount += n
			}
			if len(recs) < s.opts.ChunkSize {
				break
			}
		}
	}

	log.Info().Int("matches", res.MatchCount).Int("applied", res.AppliedCount).Bool("apply", apply).Msg("rule tested")
	return res, nil
}

func (s *Service) applyRule(ctx context.Context, dict *dictionary, rule classifier.Rule, recs []models.RawRecord) (int, error) {
	snap, err := s.snapshot(ctx, dict, recs)
	if err != nil {
		return 0, err
	}
	cl := classifier.New(snap, logger.FromContext(ctx))
	updates := make([]models.ClassificationUpdate, 0, len(recs))
	for _, rec := range recs {
		r := cl.ApplyRule(rec, rule)
		updates = append(updates, models.ClassificationUpdate{Key: rec.Key(), Classification: r.Classification})
	}
	n, err := s.store.ApplyClassifications(ctx, updates)
	if err != nil {
		return 0, fmt.Errorf("write classifications: %w", err)
	}
	return n, nil
}

// ValidateRule compiles rule text or a JSON condition tree.
func ValidateRule(expression string, conditions json.RawMessage) (string, error) {
	prog, err := rules.CompileRule(models.ParsingRule{Expression: expression, Conditions: conditions})
	if err != nil {
		return "", err
	}
	return prog.String(), nil
}

func (s *Service) ListRules(ctx context.Context, schemeID int64) ([]models.ParsingRule, error) {
	return s.store.ListParsingRules(ctx, schemeID)
}

func (s *Service) GetRule(ctx context.Context, id int64) (models.ParsingRule, error) {
	return s.store.GetParsingRule(ctx, id)
}

func (s *Service) CreateRule(ctx context.Context, rule models.ParsingRule) (models.ParsingRule, error) {
	if err := checkRule(rule); err != nil {
		return models.ParsingRule{}, err
	}
	created, err := s.store.CreateParsingRule(ctx, rule)
	if err != nil {
		return models.ParsingRule{}, err
	}
	s.InvalidateDictionaries()
	return created, nil
}

func (s *Service) UpdateRule(ctx context.Context, rule models.ParsingRule) (models.ParsingRule, error) {
	if err := checkRule(rule); err != nil {
		return models.ParsingRule{}, err
	}
	updated, err := s.store.UpdateParsingRule(ctx, rule)
	if err != nil {
		return models.ParsingRule{}, err
	}
	s.InvalidateDictionaries()
	return updated, nil
}

func (s *Service) DeleteRule(ctx context.Context, id int64) error {
	if err := s.store.DeleteParsingRule(ctx, id); err != nil {
		return err
	}
	s.InvalidateDictionaries()
	return nil
}

func checkRule(rule models.ParsingRule) error {
	if strings.TrimSpace(rule.Name) == "" {
		return fmt.Errorf("%w: rule name is required", ErrInvalidInput)
	}
	if rule.SchemeID == 0 {
		return fmt.Errorf("%w: scheme_id is required", ErrInvalidInput)
	}
	if _, err := rules.CompileRule(rule); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}
