package allocation

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"recon-server/src/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(day int) *time.Time {
	t := time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC)
	return &t
}

func ob(id, target string, accrual *time.Time) models.Obligation {
	return models.Obligation{ID: id, CurrencyCode: "GEL", Target: d(target), AccrualDate: accrual}
}

func tx(id int64, amount string, day int) Transaction {
	return Transaction{
		Key:      models.RecordKey{SourceID: 1, RecordID: id},
		Date:     *date(day),
		Currency: "GEL",
		Amount:   d(amount),
	}
}

func TestFIFO_SplitsAcrossObligations(t *testing.T) {
	res, err := FIFO(
		[]models.Obligation{ob("P2", "250", date(20)), ob("P1", "120", date(10))},
		[]Transaction{tx(1, "-300", 25)},
	)
	require.NoError(t, err)

	assert.Empty(t, res.DirectAssignments)
	require.Len(t, res.Batches, 1)
	shares := res.Batches[0].Shares
	require.Len(t, shares, 2)
	assert.Equal(t, "P1", shares[0].ObligationID)
	assert.Equal(t, "-120", shares[0].Amount.String())
	assert.Equal(t, "P2", shares[1].ObligationID)
	assert.Equal(t, "-180", shares[1].Amount.String())
	assert.Equal(t, "-180", shares[1].AccountAmount.String())

	require.Len(t, res.UnallocatedObligations, 1)
	assert.Equal(t, "P2", res.UnallocatedObligations[0].ObligationID)
	assert.Equal(t, "70", res.UnallocatedObligations[0].Remaining.String())
}

func TestFIFO_DirectAssignment(t *testing.T) {
	res, err := FIFO(
		[]models.Obligation{ob("P1", "100", date(1))},
		[]Transaction{tx(1, "-60", 2), tx(2, "-40", 3)},
	)
	require.NoError(t, err)

	require.Len(t, res.DirectAssignments, 2)
	assert.Empty(t, res.Batches)
	assert.Empty(t, res.UnallocatedObligations)
	assert.Equal(t, "P1", res.DirectAssignments[0].ObligationID)
	assert.Equal(t, int64(1), res.DirectAssignments[0].Transaction.RecordID)
}

func TestFIFO_FreeAgentRemainder(t *testing.T) {
	res, err := FIFO(
		[]models.Obligation{ob("P1", "100", date(1))},
		[]Transaction{tx(1, "150", 2)},
	)
	require.NoError(t, err)

	require.Len(t, res.Batches, 1)
	shares := res.Batches[0].Shares
	require.Len(t, shares, 2)
	assert.Equal(t, "100", shares[0].Amount.String())
	assert.True(t, shares[1].Unassigned())
	assert.Equal(t, "50", shares[1].Amount.String())
}

func TestFIFO_OrderingRules(t *testing.T) {
	// undated obligations go last, ties break on id; transactions tie on key
	res, err := FIFO(
		[]models.Obligation{ob("Z", "10", nil), ob("B", "10", date(5)), ob("A", "10", date(5))},
		[]Transaction{tx(2, "-10", 1), tx(1, "-10", 1), tx(3, "-10", 1)},
	)
	require.NoError(t, err)

	require.Len(t, res.DirectAssignments, 3)
	got := map[int64]string{}
	for _, a := range res.DirectAssignments {
		got[a.Transaction.RecordID] = a.ObligationID
	}
	assert.Equal(t, map[int64]string{1: "A", 2: "B", 3: "Z"}, got)
}

func TestFIFO_ExhaustionConservesTargets(t *testing.T) {
	obs := []models.Obligation{ob("P1", "33.33", date(1)), ob("P2", "66.67", date(2)), ob("P3", "500", date(3))}
	txs := []Transaction{tx(1, "-10.01", 1), tx(2, "-45.56", 2), tx(3, "-70", 3)}
	res, err := FIFO(obs, txs)
	require.NoError(t, err)

	perObligation := map[string]decimal.Decimal{}
	perTx := map[int64]decimal.Decimal{}
	for _, a := range res.DirectAssignments {
		perObligation[a.ObligationID] = perObligation[a.ObligationID].Add(a.Amount.Abs())
		perTx[a.Transaction.RecordID] = perTx[a.Transaction.RecordID].Add(a.Amount)
	}
	for _, b := range res.Batches {
		for _, s := range b.Shares {
			perObligation[s.ObligationID] = perObligation[s.ObligationID].Add(s.Amount.Abs())
			perTx[b.Transaction.RecordID] = perTx[b.Transaction.RecordID].Add(s.Amount)
		}
	}
	for _, o := range obs {
		unallocated := false
		for _, u := range res.UnallocatedObligations {
			if u.ObligationID == o.ID {
				unallocated = true
				assert.True(t, u.Remaining.IsPositive())
			}
		}
		if !unallocated {
			assert.True(t, perObligation[o.ID].Equal(o.Target), "%s got %s", o.ID, perObligation[o.ID])
		}
	}
	for _, x := range txs {
		assert.True(t, perTx[x.Key.RecordID].Equal(x.Amount), "transaction %d", x.Key.RecordID)
	}
}

func TestFIFO_AccountAmountResidual(t *testing.T) {
	x := tx(1, "-100", 1)
	x.Currency = "USD"
	x.AccountCurrency = "GEL"
	x.AccountAmount = d("-270.01")
	obs := []models.Obligation{
		{ID: "A", CurrencyCode: "USD", Target: d("33.33"), AccrualDate: date(1)},
		{ID: "B", CurrencyCode: "USD", Target: d("66.67"), AccrualDate: date(2)},
	}
	res, err := FIFO(obs, []Transaction{x})
	require.NoError(t, err)

	require.Len(t, res.Batches, 1)
	sum := decimal.Zero
	for _, s := range res.Batches[0].Shares {
		sum = sum.Add(s.AccountAmount)
		assert.True(t, s.AccountAmount.IsNegative())
	}
	assert.True(t, sum.Equal(d("-270.01")))
}

func TestFIFO_Validation(t *testing.T) {
	_, err := FIFO(nil, []Transaction{tx(1, "1", 1)})
	assert.ErrorIs(t, err, ErrEmptySelection)

	_, err = FIFO([]models.Obligation{ob("P", "0", nil)}, []Transaction{tx(1, "1", 1)})
	assert.ErrorIs(t, err, ErrNonPositiveTarget)

	_, err = FIFO([]models.Obligation{ob("", "5", nil)}, []Transaction{tx(1, "1", 1)})
	assert.ErrorIs(t, err, ErrMissingID)

	_, err = FIFO([]models.Obligation{ob("P", "5", nil)}, []Transaction{tx(1, "1", 1), tx(1, "2", 1)})
	assert.ErrorIs(t, err, ErrDuplicate)

	usd := tx(2, "1", 1)
	usd.Currency = "USD"
	_, err = FIFO([]models.Obligation{ob("P", "5", nil)}, []Transaction{usd})
	assert.ErrorIs(t, err, ErrMultiCurrency)
}

func TestFIFO_ZeroTransactionWarns(t *testing.T) {
	res, err := FIFO([]models.Obligation{ob("P", "5", nil)}, []Transaction{tx(1, "0", 1)})
	require.NoError(t, err)
	assert.Len(t, res.Warnings, 1)
	assert.Len(t, res.UnallocatedObligations, 1)
}

func TestOptimize_Trivial(t *testing.T) {
	res, err := Optimize([]models.Obligation{ob("P", "100", nil)}, []Transaction{tx(1, "100", 1)}, OptimizeOptions{})
	require.NoError(t, err)

	assert.True(t, res.TotalAbsoluteDeviation.IsZero())
	assert.True(t, res.Proven)
	require.Len(t, res.Assignments, 1)
	assert.Equal(t, "P", res.Assignments[0].ObligationID)
}

func TestOptimize_FindsExactCover(t *testing.T) {
	obs := []models.Obligation{ob("A", "60", nil), ob("B", "50", nil)}
	txs := []Transaction{tx(1, "-40", 1), tx(2, "-30", 1), tx(3, "-20", 1), tx(4, "-20", 1)}
	res, err := Optimize(obs, txs, OptimizeOptions{})
	require.NoError(t, err)

	assert.True(t, res.TotalAbsoluteDeviation.IsZero(), res.TotalAbsoluteDeviation.String())
	for _, o := range res.Obligations {
		assert.True(t, o.Deviation.IsZero())
	}
}

func TestOptimize_RespectsAllowedObligations(t *testing.T) {
	obs := []models.Obligation{ob("A", "100", nil), ob("B", "100", nil)}
	first := tx(1, "100", 1)
	first.AllowedObligations = []string{"B"}
	res, err := Optimize(obs, []Transaction{first, tx(2, "100", 1)}, OptimizeOptions{})
	require.NoError(t, err)

	assert.Equal(t, "B", res.Assignments[0].ObligationID)
	assert.Equal(t, "A", res.Assignments[1].ObligationID)
	assert.True(t, res.TotalAbsoluteDeviation.IsZero())
}

func TestOptimize_Infeasible(t *testing.T) {
	x := tx(1, "100", 1)
	x.AllowedObligations = []string{"missing"}
	_, err := Optimize([]models.Obligation{ob("A", "100", nil)}, []Transaction{x}, OptimizeOptions{})
	assert.ErrorIs(t, err, ErrInfeasible)
}

func TestOptimize_RejectsMultiCurrency(t *testing.T) {
	obs := []models.Obligation{ob("A", "100", nil), {ID: "B", CurrencyCode: "USD", Target: d("5")}}
	_, err := Optimize(obs, []Transaction{tx(1, "1", 1)}, OptimizeOptions{})
	assert.ErrorIs(t, err, ErrMultiCurrency)
}

func TestOptimize_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 10; round++ {
		obs := []models.Obligation{
			ob("A", decimal.NewFromInt(int64(50+rng.Intn(200))).String(), nil),
			ob("B", decimal.NewFromInt(int64(50+rng.Intn(200))).String(), nil),
			ob("C", decimal.NewFromInt(int64(50+rng.Intn(200))).String(), nil),
		}
		var txs []Transaction
		for i := 0; i < 5; i++ {
			txs = append(txs, tx(int64(i+1), decimal.NewFromInt(int64(10+rng.Intn(150))).String(), 1))
		}

		res, err := Optimize(obs, txs, OptimizeOptions{})
		require.NoError(t, err)

		want := bruteForce(obs, txs)
		got := res.TotalAbsoluteDeviation.InexactFloat64()
		if res.Proven {
			assert.InDelta(t, want, got, 0.01, "round %d", round)
		} else {
			assert.GreaterOrEqual(t, got, want-0.01, "round %d", round)
		}
	}
}

func bruteForce(obs []models.Obligation, txs []Transaction) float64 {
	best := math.Inf(1)
	assign := make([]int, len(txs))
	var walk func(i int)
	walk = func(i int) {
		if i == len(txs) {
			sums := make([]float64, len(obs))
			for k, j := range assign {
				sums[j] += txs[k].Amount.Abs().InexactFloat64()
			}
			total := 0.0
			for j, o := range obs {
				total += math.Abs(sums[j] - o.Target.InexactFloat64())
			}
			best = math.Min(best, total)
			return
		}
		for j := range obs {
			assign[i] = j
			walk(i + 1)
		}
	}
	walk(0)
	return best
}
