package allocation

import (
	"fmt"
	"sort"

	"recon-server/src/currency"
	"recon-server/src/models"

	"github.com/shopspring/decimal"
)

type FIFOResult struct {
	DirectAssignments      []DirectAssignment `json:"direct_assignments"`
	Batches                []Batch            `json:"batches"`
	UnallocatedObligations []Unallocated      `json:"unallocated_obligations"`
	Warnings               []string           `json:"warnings"`
}

// FIFO walks transactions in date order and draws each one down against the
// oldest obligation with a remaining balance. A transaction that lands on a
// single obligation becomes a direct assignment; one that spans several
// obligations, or outlives them, becomes a batch.
func FIFO(obligations []models.Obligation, txs []Transaction) (FIFOResult, error) {
	cur, err := validate(obligations, txs)
	if err != nil {
		return FIFOResult{}, err
	}
	minor := currency.MinorUnits(cur)

	obs := append([]models.Obligation(nil), obligations...)
	sort.SliceStable(obs, func(i, j int) bool {
		a, b := obs[i].AccrualDate, obs[j].AccrualDate
		switch {
		case a == nil && b == nil:
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return obs[i].ID < obs[j].ID
	})

	ordered := append([]Transaction(nil), txs...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Date.Equal(ordered[j].Date) {
			return ordered[i].Date.Before(ordered[j].Date)
		}
		a, b := ordered[i].Key, ordered[j].Key
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		return a.RecordID < b.RecordID
	})

	remaining := make([]decimal.Decimal, len(obs))
	for i, ob := range obs {
		remaining[i] = ob.Target.Round(minor)
	}

	res := FIFOResult{
		DirectAssignments:      []DirectAssignment{},
		Batches:                []Batch{},
		UnallocatedObligations: []Unallocated{},
		Warnings:               []string{},
	}
	head := 0
	for _, tx := range ordered {
		total := tx.Amount.Abs().Round(minor)
		if total.IsZero() {
			res.Warnings = append(res.Warnings, fmt.Sprintf("transaction %s has a zero amount and was skipped", tx.Key))
			continue
		}

		var shares []Share
		left := total
		for left.IsPositive() && head < len(obs) {
			if !remaining[head].IsPositive() {
				head++
				continue
			}
			take := decimal.Min(left, remaining[head])
			shares = append(shares, Share{ObligationID: obs[head].ID, Amount: take})
			left = left.Sub(take)
			remaining[head] = remaining[head].Sub(take)
		}
		if left.IsPositive() {
			shares = append(shares, Share{Amount: left})
		}
		splitAccount(shares, tx, total)

		if len(shares) == 1 && !shares[0].Unassigned() {
			res.DirectAssignments = append(res.DirectAssignments, DirectAssignment{Transaction: tx.Key, Share: shares[0]})
			continue
		}
		res.Batches = append(res.Batches, Batch{Transaction: tx.Key, Shares: shares})
	}

	for i, ob := range obs {
		if remaining[i].IsPositive() {
			res.UnallocatedObligations = append(res.UnallocatedObligations, Unallocated{
				ObligationID: ob.ID,
				Target:       ob.Target,
				Remaining:    remaining[i],
			})
		}
	}
	return res, nil
}

// splitAccount signs the shares like the transaction and spreads its
// account-currency amount over them in proportion. The rounding residual
// lands on the last share so the shares add up to the record amount.
func splitAccount(shares []Share, tx Transaction, nominalTotal decimal.Decimal) {
	acct, acctCur := tx.account()
	acctTotal := acct.Abs()
	minor := currency.MinorUnits(acctCur)
	negative := tx.Amount.IsNegative()

	assigned := decimal.Zero
	for i := range shares {
		var part decimal.Decimal
		if i == len(shares)-1 {
			part = acctTotal.Sub(assigned)
		} else {
			part = acctTotal.Mul(shares[i].Amount).Div(nominalTotal).Round(minor)
			assigned = assigned.Add(part)
		}
		shares[i].AccountAmount = part
		if negative {
			shares[i].Amount = shares[i].Amount.Neg()
			shares[i].AccountAmount = part.Neg()
		}
	}
}
