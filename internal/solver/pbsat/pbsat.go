// Package pbsat solves models with the gophersat pseudo-Boolean engine.
//
// Rows are normalized into at-least constraints with positive weights,
// negating literals where a coefficient is negative. The objective becomes
// the solver's cost function the same way: a negative coefficient turns
// into a positive weight on the negated literal plus a constant offset, so
// the reported weight plus the accumulated offsets is the model objective.
package pbsat

import (
	"context"
	"fmt"
	"math"
	"time"

	sat "github.com/crillab/gophersat/solver"

	"github.com/prepa-tools/colloscope-api/internal/ilp"
	"github.com/prepa-tools/colloscope-api/internal/solver"
)

// Name is the registry key of this backend.
const Name = "pbsat"

func init() {
	solver.Register(Name, func() solver.Backend { return New() })
}

// Solver adapts gophersat's Optimal loop to the Backend contract.
type Solver struct{}

func New() *Solver { return &Solver{} }

func (s *Solver) Name() string { return Name }

func (s *Solver) Solve(ctx context.Context, m *ilp.Model, opts solver.Options) (*solver.Outcome, error) {
	x := m.Compress()
	enc, infeasibleTag := encode(x)
	if infeasibleTag != "" {
		return &solver.Outcome{Status: solver.StatusInfeasible}, nil
	}
	if len(enc.constrs) == 0 {
		// Nothing is constrained, the presolved values are the optimum.
		out := enc.outcome(x, nil, 0)
		out.Status = solver.StatusOptimal
		return out, nil
	}

	pb := sat.ParsePBConstrs(enc.constrs)
	if len(enc.costLits) > 0 {
		pb.SetCostFunc(enc.costLits, enc.costWeights)
	}
	engine := sat.New(pb)

	results := make(chan sat.Result, 16)
	stop := make(chan struct{})
	done := make(chan sat.Result, 1)
	go func() {
		done <- engine.Optimal(results, stop)
	}()

	var (
		start     = time.Now()
		ctxDone   = ctx.Done()
		deadline  <-chan time.Time
		stopped   bool
		incumbent *sat.Result
	)
	if opts.TimeLimit > 0 {
		timer := time.NewTimer(opts.TimeLimit)
		defer timer.Stop()
		deadline = timer.C
	}
	halt := func() {
		if !stopped {
			stopped = true
			close(stop)
		}
	}

	for running := true; running; {
		select {
		case res, ok := <-results:
			if !ok {
				running = false
				break
			}
			if res.Status != sat.Sat {
				break
			}
			incumbent = &res
			if opts.OnProgress != nil {
				opts.OnProgress(solver.Progress{
					Incumbent: float64(enc.objective(x, res.Weight)),
					Elapsed:   time.Since(start),
				})
			}
		case <-ctxDone:
			halt()
			ctxDone = nil
		case <-deadline:
			halt()
			deadline = nil
		}
	}
	final := <-done

	switch final.Status {
	case sat.Sat:
		return enc.outcome(x, final.Model, final.Weight), nil
	case sat.Unsat:
		return &solver.Outcome{Status: solver.StatusInfeasible}, nil
	}
	// Indet: the stop channel interrupted the search.
	if incumbent != nil {
		out := enc.outcome(x, incumbent.Model, incumbent.Weight)
		out.Status = solver.StatusFeasible
		out.Gap = relativeGap(out.Objective, float64(trivialBound(x)))
		return out, nil
	}
	if ctx.Err() != nil {
		return &solver.Outcome{Status: solver.StatusCancelled}, nil
	}
	return nil, fmt.Errorf("%s: %w", Name, solver.ErrNoIncumbent)
}

// encoding carries the marshaled problem plus everything needed to map a
// gophersat model back onto the variable space.
type encoding struct {
	constrs     []sat.PBConstr
	costLits    []sat.Lit
	costWeights []int
	// costOffset restores the fold of negative objective coefficients.
	costOffset int
	// presolved holds values of variables no constraint references; they
	// take their objective-optimal value directly. FreeValue elsewhere.
	presolved []int8
	preObj    int
}

// encode normalizes the matrix into at-least constraints. A non-empty tag
// names a row that can never hold, making the whole model infeasible.
func encode(x *ilp.Matrix) (*encoding, string) {
	enc := &encoding{presolved: make([]int8, x.NumVars)}

	referenced := make([]bool, x.NumVars)
	for i := 0; i < x.NumRows(); i++ {
		cols, _ := x.Row(i)
		for _, v := range cols {
			referenced[v] = true
		}
	}
	for v, f := range x.Fixed {
		if f != ilp.FreeValue {
			referenced[v] = true
		}
	}

	for i := 0; i < x.NumRows(); i++ {
		cols, coefs := x.Row(i)
		switch x.Senses[i] {
		case ilp.GE:
			if tag := enc.atLeast(cols, coefs, x.RHS[i], x.Tags[i]); tag != "" {
				return nil, tag
			}
		case ilp.LE:
			if tag := enc.atMost(cols, coefs, x.RHS[i], x.Tags[i]); tag != "" {
				return nil, tag
			}
		default:
			if tag := enc.atLeast(cols, coefs, x.RHS[i], x.Tags[i]); tag != "" {
				return nil, tag
			}
			if tag := enc.atMost(cols, coefs, x.RHS[i], x.Tags[i]); tag != "" {
				return nil, tag
			}
		}
	}

	for v, f := range x.Fixed {
		switch f {
		case 1:
			enc.constrs = append(enc.constrs, sat.PropClause(v+1))
		case 0:
			enc.constrs = append(enc.constrs, sat.PropClause(-(v + 1)))
		}
	}

	for v := 0; v < x.NumVars; v++ {
		if referenced[v] {
			enc.presolved[v] = ilp.FreeValue
			continue
		}
		if x.Obj[v] < 0 {
			enc.presolved[v] = 1
			enc.preObj += x.Obj[v]
		}
	}

	for v, c := range x.Obj {
		if c == 0 || enc.presolved[v] != ilp.FreeValue {
			continue
		}
		if c > 0 {
			enc.costLits = append(enc.costLits, sat.IntToLit(int32(v+1)))
			enc.costWeights = append(enc.costWeights, c)
		} else {
			enc.costLits = append(enc.costLits, sat.IntToLit(int32(-(v + 1))))
			enc.costWeights = append(enc.costWeights, -c)
			enc.costOffset += c
		}
	}
	return enc, ""
}

// atLeast appends sum(coefs·vars) >= rhs, rewritten so every weight is
// positive. Trivially true rows are dropped; a trivially false row is
// reported through the returned tag.
func (enc *encoding) atLeast(cols []int32, coefs []int, rhs int, tag string) string {
	lits := make([]int, 0, len(cols))
	weights := make([]int, 0, len(cols))
	total := 0
	for k, v := range cols {
		c := coefs[k]
		switch {
		case c > 0:
			lits = append(lits, int(v)+1)
			weights = append(weights, c)
			total += c
		case c < 0:
			lits = append(lits, -(int(v) + 1))
			weights = append(weights, -c)
			rhs += -c
			total += -c
		}
	}
	if rhs <= 0 {
		return ""
	}
	if rhs > total {
		return tag
	}
	enc.constrs = append(enc.constrs, sat.GtEq(lits, weights, rhs))
	return ""
}

func (enc *encoding) atMost(cols []int32, coefs []int, rhs int, tag string) string {
	flipped := make([]int, len(coefs))
	for k, c := range coefs {
		flipped[k] = -c
	}
	return enc.atLeast(cols, flipped, -rhs, tag)
}

// objective translates a gophersat model weight into the model objective.
func (enc *encoding) objective(x *ilp.Matrix, weight int) int {
	return weight + enc.costOffset + enc.preObj + x.Offset
}

// outcome assembles an optimal outcome from a model map keyed by 1-based
// variable indices.
func (enc *encoding) outcome(x *ilp.Matrix, model sat.ModelMap, weight int) *solver.Outcome {
	values := make([]float64, x.NumVars)
	for v := 0; v < x.NumVars; v++ {
		if enc.presolved[v] != ilp.FreeValue {
			values[v] = float64(enc.presolved[v])
			continue
		}
		if b, ok := model[v+1]; ok && b {
			values[v] = 1
		}
	}
	return &solver.Outcome{
		Status:    solver.StatusOptimal,
		Values:    values,
		Objective: float64(enc.objective(x, weight)),
	}
}

func trivialBound(x *ilp.Matrix) int {
	lb := x.Offset
	for _, c := range x.Obj {
		if c < 0 {
			lb += c
		}
	}
	return lb
}

func relativeGap(incumbent, bound float64) float64 {
	if incumbent <= bound {
		return 0
	}
	return (incumbent - bound) / math.Max(1, math.Abs(incumbent))
}
