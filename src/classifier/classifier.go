// Package classifier runs the decision cascade that assigns a counterparty,
// financial code and obligation to a raw bank record.
package classifier

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"recon-server/src/currency"
	"recon-server/src/models"
	"recon-server/src/rules"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type Converter interface {
	Convert(amount decimal.Decimal, from, to string, date time.Time) (decimal.Decimal, error)
}

// Rule is a parsing rule with its compiled predicate.
type Rule struct {
	models.ParsingRule
	Program *rules.Program
}

// CompileRules compiles rules and orders them by priority, then id. Rules
// that fail to compile are left out and reported.
func CompileRules(rs []models.ParsingRule) ([]Rule, []error) {
	compiled := make([]Rule, 0, len(rs))
	var errs []error
	for _, r := range rs {
		p, err := rules.CompileRule(r)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %d: %w", r.ID, err))
			continue
		}
		compiled = append(compiled, Rule{ParsingRule: r, Program: p})
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		if compiled[i].Priority != compiled[j].Priority {
			return compiled[i].Priority < compiled[j].Priority
		}
		return compiled[i].ID < compiled[j].ID
	})
	return compiled, errs
}

// Snapshot is the immutable dictionary state one request classifies against.
type Snapshot struct {
	Counteragents map[string]models.Counteragent
	Rules         []Rule
	Obligations   *Obligations
	Converter     Converter
}

// NewSnapshot indexes counteragents by tax ID.
func NewSnapshot(counteragents []models.Counteragent, compiled []Rule, obligations *Obligations, conv Converter) *Snapshot {
	byTaxID := make(map[string]models.Counteragent, len(counteragents))
	for _, ca := range counteragents {
		taxID := strings.TrimSpace(ca.TaxID)
		if taxID == "" {
			continue
		}
		byTaxID[taxID] = ca
	}
	if obligations == nil {
		obligations = NewObligations(nil, nil)
	}
	return &Snapshot{Counteragents: byTaxID, Rules: compiled, Obligations: obligations, Converter: conv}
}

type Result struct {
	models.Classification
	Cases    []Case
	Warnings []string
	Skipped  bool
}

// Matched reports whether any phase produced a classification.
func (r Result) Matched() bool {
	return r.CounteragentID != "" || r.ObligationID != "" || r.RuleID != 0
}

func (r *Result) add(c Case) {
	r.Cases = append(r.Cases, c)
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

type Classifier struct {
	snap *Snapshot
	log  zerolog.Logger
}

func New(snap *Snapshot, log zerolog.Logger) *Classifier {
	return &Classifier{snap: snap, log: log}
}

// Classify runs the cascade over one record. The result depends only on the
// record and the snapshot.
func (c *Classifier) Classify(rec models.RawRecord) Result {
	var res Result
	if rec.Locked {
		res.Skipped = true
		res.add(CaseLocked)
		res.Case = JoinCases(res.Cases)
		return res
	}

	c.matchCounteragent(rec, &res)
	c.matchObligation(rec, &res)
	c.matchRules(rec, &res)
	c.resolveAmount(rec, &res)

	res.Case = JoinCases(res.Cases)
	return res
}

// ApplyRule classifies rec from a single rule, skipping the other phases.
func (c *Classifier) ApplyRule(rec models.RawRecord, rule Rule) Result {
	var res Result
	c.applyRule(&res, rule)
	c.resolveAmount(rec, &res)
	res.Case = JoinCases(res.Cases)
	return res
}

func (c *Classifier) recordLog(rec models.RawRecord) zerolog.Logger {
	return c.log.With().Int("source_id", rec.SourceID).Int64("record_id", rec.ID).Logger()
}

func (c *Classifier) matchCounteragent(rec models.RawRecord, res *Result) {
	taxID := strings.TrimSpace(rec.CounterpartyTaxID())
	if taxID == "" {
		res.add(CaseCounteragentINNBlank)
		return
	}
	ca, ok := c.snap.Counteragents[taxID]
	if !ok {
		res.add(CaseNoMatch)
		return
	}
	res.CounteragentID = ca.ID
	res.add(CaseCounteragentProcessed)
}

func (c *Classifier) matchObligation(rec models.RawRecord, res *Result) {
	candidates := ExtractObligationIDs(rec.Description)
	if len(candidates) == 0 {
		return
	}
	for _, id := range candidates {
		ob, found, duplicate := c.snap.Obligations.Lookup(id)
		if duplicate {
			res.add(CaseDuplicateObligation)
			res.warn("obligation id %s is not unique", id)
			continue
		}
		if !found {
			continue
		}
		if res.CounteragentID != "" && ob.CounteragentID != "" && ob.CounteragentID != res.CounteragentID {
			res.add(CaseObligationMismatch)
			res.warn("obligation %s belongs to counteragent %s, record matched %s", ob.ID, ob.CounteragentID, res.CounteragentID)
			return
		}
		res.ObligationID = ob.ID
		if res.CounteragentID == "" {
			res.CounteragentID = ob.CounteragentID
		}
		res.FinancialCodeID = ob.FinancialCodeID
		res.CurrencyCode = ob.CurrencyCode
		res.add(CaseObligationMatched)
		return
	}
	if res.ObligationID == "" && !hasCase(res.Cases, CaseDuplicateObligation) {
		res.add(CaseUnknownObligation)
		res.warn("obligation id %s does not resolve", candidates[0])
	}
}

func (c *Classifier) matchRules(rec models.RawRecord, res *Result) {
	if len(c.snap.Rules) == 0 {
		return
	}
	fields := rules.Normalize(rec.Fields())
	for _, rule := range c.snap.Rules {
		ok, err := rule.Program.Eval(fields)
		if err != nil {
			log := c.recordLog(rec)
			log.Warn().Err(err).Int64("rule_id", rule.ID).Msg("rule evaluation failed")
			res.warn("rule %d: %v", rule.ID, err)
			continue
		}
		if ok {
			c.applyRule(res, rule)
			return
		}
	}
}

func (c *Classifier) applyRule(res *Result, rule Rule) {
	res.RuleID = rule.ID

	ruleCounteragent := rule.CounteragentID
	var ob models.Obligation
	var haveObligation bool
	if rule.ObligationID != "" {
		var duplicate bool
		ob, haveObligation, duplicate = c.snap.Obligations.Lookup(rule.ObligationID)
		switch {
		case duplicate:
			res.add(CaseDuplicateObligation)
			res.warn("rule %d: obligation id %s is not unique", rule.ID, rule.ObligationID)
		case !haveObligation:
			res.add(CaseUnknownObligation)
			res.warn("rule %d: obligation id %s does not resolve", rule.ID, rule.ObligationID)
		case ruleCounteragent == "":
			ruleCounteragent = ob.CounteragentID
		}
	}

	if res.CounteragentID != "" && ruleCounteragent != "" && ruleCounteragent != res.CounteragentID {
		res.add(CaseRuleCounteragentMismatch)
		res.warn("rule %d assigns counteragent %s, record matched %s", rule.ID, ruleCounteragent, res.CounteragentID)
		return
	}

	if res.CounteragentID == "" {
		res.CounteragentID = ruleCounteragent
	}
	if res.ObligationID == "" && haveObligation {
		res.ObligationID = ob.ID
	}
	if res.FinancialCodeID == "" {
		res.FinancialCodeID = firstNonEmpty(rule.FinancialCodeID, ob.FinancialCodeID)
	}
	if res.CurrencyCode == "" {
		res.CurrencyCode = firstNonEmpty(rule.CurrencyCode, ob.CurrencyCode)
	}
	res.add(CaseRuleDominance)
}

// resolveAmount expresses the record amount in the nominal currency: the
// obligation's currency when one is known.
func (c *Classifier) resolveAmount(rec models.RawRecord, res *Result) {
	if res.ObligationID != "" {
		if ob, found, _ := c.snap.Obligations.Lookup(res.ObligationID); found && ob.CurrencyCode != "" {
			res.CurrencyCode = ob.CurrencyCode
		}
	}
	if res.CurrencyCode == "" {
		res.CurrencyCode = rec.AccountCurrency
	}
	res.CurrencyCode = currency.Normalize(res.CurrencyCode)

	amount := rec.SignedAmount()
	if c.snap.Converter == nil {
		res.NominalAmount = amount
		return
	}
	converted, err := c.snap.Converter.Convert(amount, rec.AccountCurrency, res.CurrencyCode, rec.EffectiveDate())
	if err != nil {
		if errors.Is(err, currency.ErrRateUnavailable) {
			res.add(CaseRateUnavailable)
		}
		log := c.recordLog(rec)
		log.Warn().Err(err).Msg("keeping account amount")
		res.warn("%v", err)
		res.NominalAmount = amount
		return
	}
	res.NominalAmount = converted.Round(currency.MinorUnits(res.CurrencyCode))
}

func hasCase(cases []Case, c Case) bool {
	for _, x := range cases {
		if x == c {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
