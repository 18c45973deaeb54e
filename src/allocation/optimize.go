package allocation

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"recon-server/src/currency"
	"recon-server/src/models"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

const (
	DefaultMaxNodes = 20000
	integralTol     = 1e-6
	simplexTol      = 1e-10
)

type OptimizeOptions struct {
	// MaxNodes caps the branch-and-bound search. When the cap is hit the
	// best assignment found so far is returned with Proven unset.
	MaxNodes int
}

type Assignment struct {
	Transaction  models.RecordKey `json:"transaction"`
	ObligationID string           `json:"obligation_id"`
	Amount       decimal.Decimal  `json:"amount"`
}

type ObligationOutcome struct {
	ObligationID string          `json:"obligation_id"`
	Target       decimal.Decimal `json:"target"`
	Assigned     decimal.Decimal `json:"assigned"`
	Deviation    decimal.Decimal `json:"deviation"`
}

type OptimizeResult struct {
	Assignments            []Assignment        `json:"assignments"`
	Obligations            []ObligationOutcome `json:"obligations"`
	TotalAbsoluteDeviation decimal.Decimal     `json:"total_absolute_deviation"`
	Proven                 bool                `json:"proven"`
	Nodes                  int                 `json:"nodes"`
}

// problem is the integer program: assign each transaction to exactly one
// allowed obligation, minimizing the sum over obligations of
// |assigned - target|.
type problem struct {
	amounts []float64
	targets []float64
	allowed [][]int
}

type node struct {
	fixed []int // obligation index per transaction, -1 when free
}

type search struct {
	p        problem
	maxNodes int
	nodes    int
	best     []int
	bestObj  float64
	capped   bool
	unsolved int
}

// Optimize assigns every transaction, whole, to one obligation so that the
// total absolute deviation from the targets is minimal. It solves the LP
// relaxation with the simplex method and branches on fractional
// transactions.
func Optimize(obligations []models.Obligation, txs []Transaction, opts OptimizeOptions) (OptimizeResult, error) {
	cur, err := validate(obligations, txs)
	if err != nil {
		return OptimizeResult{}, err
	}
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = DefaultMaxNodes
	}

	index := make(map[string]int, len(obligations))
	p := problem{
		amounts: make([]float64, len(txs)),
		targets: make([]float64, len(obligations)),
		allowed: make([][]int, len(txs)),
	}
	for j, ob := range obligations {
		index[ob.ID] = j
		p.targets[j] = ob.Target.InexactFloat64()
	}
	for i, tx := range txs {
		p.amounts[i] = tx.Amount.Abs().InexactFloat64()
		if len(tx.AllowedObligations) == 0 {
			for j := range obligations {
				p.allowed[i] = append(p.allowed[i], j)
			}
			continue
		}
		for _, id := range tx.AllowedObligations {
			if j, ok := index[id]; ok {
				p.allowed[i] = append(p.allowed[i], j)
			}
		}
		if len(p.allowed[i]) == 0 {
			return OptimizeResult{}, fmt.Errorf("%w: transaction %s has no selected obligation it may pay", ErrInfeasible, tx.Key)
		}
	}

	s := &search{p: p, maxNodes: opts.MaxNodes, bestObj: math.Inf(1)}
	s.seed()

	root := node{fixed: make([]int, len(txs))}
	for i := range root.fixed {
		root.fixed[i] = -1
	}
	s.branch(root)
	if s.best == nil {
		return OptimizeResult{}, ErrInfeasible
	}

	return buildResult(obligations, txs, s.best, currency.MinorUnits(cur), !s.capped && s.unsolved == 0, s.nodes), nil
}

// seed starts the search from a greedy assignment: largest transactions
// first, each to the allowed obligation with the most target left.
func (s *search) seed() {
	order := make([]int, len(s.p.amounts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return s.p.amounts[order[a]] > s.p.amounts[order[b]] })

	left := append([]float64(nil), s.p.targets...)
	assign := make([]int, len(order))
	for _, i := range order {
		bestJ := s.p.allowed[i][0]
		for _, j := range s.p.allowed[i][1:] {
			if left[j] > left[bestJ] {
				bestJ = j
			}
		}
		assign[i] = bestJ
		left[bestJ] -= s.p.amounts[i]
	}
	s.offer(assign)
}

func (s *search) offer(assign []int) {
	obj := s.p.deviation(assign)
	if obj < s.bestObj-integralTol {
		s.best = append([]int(nil), assign...)
		s.bestObj = obj
	}
}

func (p problem) deviation(assign []int) float64 {
	sums := make([]float64, len(p.targets))
	for i, j := range assign {
		sums[j] += p.amounts[i]
	}
	total := 0.0
	for j, t := range p.targets {
		total += math.Abs(sums[j] - t)
	}
	return total
}

func (s *search) branch(n node) {
	if s.nodes >= s.maxNodes {
		s.capped = true
		return
	}
	s.nodes++

	obj, x, vars, err := s.p.relax(n.fixed)
	if err != nil {
		if !errors.Is(err, lp.ErrInfeasible) {
			// numerically troubled node; the incumbent stands but is unproven
			s.unsolved++
		}
		return
	}
	if obj >= s.bestObj-integralTol {
		return
	}

	// pick the most fractional free transaction
	pick, pickScore := -1, 0.0
	assign := append([]int(nil), n.fixed...)
	for i, cols := range vars {
		if cols == nil {
			continue
		}
		top, topJ := -1.0, -1
		for _, c := range cols {
			if x[c.col] > top {
				top, topJ = x[c.col], c.obligation
			}
		}
		assign[i] = topJ
		if score := 1 - top; score > integralTol && score > pickScore {
			pick, pickScore = i, score
		}
	}
	if pick < 0 {
		s.offer(assign)
		return
	}

	children := append([]column(nil), vars[pick]...)
	sort.SliceStable(children, func(a, b int) bool { return x[children[a].col] > x[children[b].col] })
	for _, c := range children {
		child := node{fixed: append([]int(nil), n.fixed...)}
		child.fixed[pick] = c.obligation
		s.branch(child)
		if s.capped {
			return
		}
	}
}

type column struct {
	obligation int
	col        int
}

// relax solves the LP relaxation with the fixed transactions folded into
// the targets. vars[i] lists the columns of free transaction i and is nil
// for fixed ones.
func (p problem) relax(fixed []int) (float64, []float64, [][]column, error) {
	targets := append([]float64(nil), p.targets...)
	var free []int
	for i, j := range fixed {
		if j >= 0 {
			targets[j] -= p.amounts[i]
			continue
		}
		free = append(free, i)
	}

	if len(free) == 0 {
		total := 0.0
		for _, t := range targets {
			total += math.Abs(t)
		}
		return total, nil, make([][]column, len(fixed)), nil
	}

	vars := make([][]column, len(fixed))
	ncols := 0
	for _, i := range free {
		for _, j := range p.allowed[i] {
			vars[i] = append(vars[i], column{obligation: j, col: ncols})
			ncols++
		}
	}
	slack := ncols
	ncols += 2 * len(targets)
	nrows := len(free) + len(targets)

	a := mat.NewDense(nrows, ncols, nil)
	b := make([]float64, nrows)
	c := make([]float64, ncols)
	for r, i := range free {
		for _, v := range vars[i] {
			a.Set(r, v.col, 1)
			a.Set(len(free)+v.obligation, v.col, p.amounts[i])
		}
		b[r] = 1
	}
	for j, t := range targets {
		row := len(free) + j
		a.Set(row, slack+2*j, -1)
		a.Set(row, slack+2*j+1, 1)
		c[slack+2*j] = 1
		c[slack+2*j+1] = 1
		b[row] = t
		if t < 0 {
			for col := 0; col < ncols; col++ {
				a.Set(row, col, -a.At(row, col))
			}
			b[row] = -t
		}
	}

	obj, x, err := lp.Simplex(c, a, b, simplexTol, nil)
	if err != nil {
		return 0, nil, nil, err
	}
	return obj, x, vars, nil
}

func buildResult(obligations []models.Obligation, txs []Transaction, assign []int, minor int32, proven bool, nodes int) OptimizeResult {
	assigned := make([]decimal.Decimal, len(obligations))
	res := OptimizeResult{
		Assignments: make([]Assignment, len(txs)),
		Obligations: make([]ObligationOutcome, len(obligations)),
		Proven:      proven,
		Nodes:       nodes,
	}
	for i, tx := range txs {
		j := assign[i]
		res.Assignments[i] = Assignment{Transaction: tx.Key, ObligationID: obligations[j].ID, Amount: tx.Amount}
		assigned[j] = assigned[j].Add(tx.Amount.Abs())
	}
	total := decimal.Zero
	for j, ob := range obligations {
		dev := assigned[j].Sub(ob.Target).Abs().Round(minor)
		res.Obligations[j] = ObligationOutcome{
			ObligationID: ob.ID,
			Target:       ob.Target,
			Assigned:     assigned[j],
			Deviation:    dev,
		}
		total = total.Add(dev)
	}
	res.TotalAbsoluteDeviation = total
	return res
}
