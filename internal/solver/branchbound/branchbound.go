// Package branchbound is a self-contained depth-first branch and bound
// solver for binary integer models. It exists so the pipeline keeps working
// without an external optimizer; on large instances the pbsat backend is
// the better pick.
package branchbound

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/prepa-tools/colloscope-api/internal/ilp"
	"github.com/prepa-tools/colloscope-api/internal/solver"
)

// Name is the registry key of this backend.
const Name = "branchbound"

func init() {
	solver.Register(Name, func() solver.Backend { return New() })
}

// Solver implements solver.Backend with an iterative depth-first search.
// Branching is deterministic: lowest free variable first, value 1 before 0.
type Solver struct {
	// CheckInterval is the number of search steps between cancellation and
	// deadline checks.
	CheckInterval int
}

func New() *Solver {
	return &Solver{CheckInterval: 256}
}

func (s *Solver) Name() string { return Name }

func (s *Solver) Solve(ctx context.Context, m *ilp.Model, opts solver.Options) (*solver.Outcome, error) {
	x := m.Compress()
	st := newState(x)

	for v, f := range x.Fixed {
		if f == ilp.FreeValue {
			continue
		}
		if !st.assign(int32(v), f) || !st.propagate() {
			return &solver.Outcome{Status: solver.StatusInfeasible}, nil
		}
	}

	var (
		start     = time.Now()
		deadline  time.Time
		interval  = s.CheckInterval
		stack     []frame
		best      []int8
		bestObj   int
		hasInc    bool
		exhausted bool
		stopped   bool
		steps     int64
	)
	if opts.TimeLimit > 0 {
		deadline = start.Add(opts.TimeLimit)
	}
	if interval <= 0 {
		interval = 256
	}

	// resolve unwinds the stack after a conflict or a bound cut until some
	// decision still has its 0-branch open. False means the tree is done.
	resolve := func() bool {
		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			st.undoTo(f.mark)
			if f.second {
				stack = stack[:len(stack)-1]
				continue
			}
			f.second = true
			st.assign(f.v, 0)
			if st.propagate() && !st.boundCut(hasInc, bestObj) {
				return true
			}
		}
		return false
	}

	for {
		steps++
		if steps%int64(interval) == 0 {
			select {
			case <-ctx.Done():
				stopped = true
			default:
				if !deadline.IsZero() && time.Now().After(deadline) {
					stopped = true
				}
			}
			if stopped {
				break
			}
		}

		v := st.nextFree()
		if v < 0 {
			obj := st.partialObj + x.Offset
			if !hasInc || obj < bestObj {
				hasInc = true
				bestObj = obj
				best = append(best[:0], st.values...)
				if opts.OnProgress != nil {
					opts.OnProgress(solver.Progress{
						Incumbent: float64(bestObj),
						Nodes:     steps,
						Elapsed:   time.Since(start),
					})
				}
				if st.noObjective {
					// Any feasible point is optimal, stop at the first.
					exhausted = true
					break
				}
			}
			if !resolve() {
				exhausted = true
				break
			}
			continue
		}

		stack = append(stack, frame{v: v, mark: len(st.trail)})
		st.assign(v, 1)
		if !st.propagate() || st.boundCut(hasInc, bestObj) {
			if !resolve() {
				exhausted = true
				break
			}
		}
	}

	switch {
	case exhausted && hasInc:
		return outcome(solver.StatusOptimal, best, bestObj, 0), nil
	case exhausted:
		return &solver.Outcome{Status: solver.StatusInfeasible}, nil
	case hasInc:
		return outcome(solver.StatusFeasible, best, bestObj, relativeGap(bestObj, trivialBound(x))), nil
	case ctx.Err() != nil:
		return &solver.Outcome{Status: solver.StatusCancelled}, nil
	default:
		return nil, fmt.Errorf("%s: %w", Name, solver.ErrNoIncumbent)
	}
}

func outcome(status solver.Status, values []int8, obj int, gap float64) *solver.Outcome {
	out := &solver.Outcome{
		Status:    status,
		Values:    make([]float64, len(values)),
		Objective: float64(obj),
		Gap:       gap,
	}
	for i, v := range values {
		if v == 1 {
			out.Values[i] = 1
		}
	}
	return out
}

// trivialBound is the smallest value the objective could ever take, with
// every negative coefficient active and nothing else.
func trivialBound(x *ilp.Matrix) int {
	lb := x.Offset
	for _, c := range x.Obj {
		if c < 0 {
			lb += c
		}
	}
	return lb
}

func relativeGap(incumbent, bound int) float64 {
	if incumbent <= bound {
		return 0
	}
	return float64(incumbent-bound) / math.Max(1, math.Abs(float64(incumbent)))
}

type frame struct {
	v      int32
	mark   int
	second bool
}

type colRef struct {
	row  int32
	coef int
}

// state is the mutable search state over a compressed matrix. minAct and
// maxAct bound each row's achievable activity given the current partial
// assignment and are maintained incrementally on assign and undo.
type state struct {
	x           *ilp.Matrix
	cols        [][]colRef
	values      []int8
	minAct      []int
	maxAct      []int
	trail       []int32
	queue       []int32
	inQueue     []bool
	partialObj  int
	sumNegFree  int
	firstFree   int
	noObjective bool
}

func newState(x *ilp.Matrix) *state {
	st := &state{
		x:           x,
		cols:        make([][]colRef, x.NumVars),
		values:      make([]int8, x.NumVars),
		minAct:      make([]int, x.NumRows()),
		maxAct:      make([]int, x.NumRows()),
		inQueue:     make([]bool, x.NumRows()),
		noObjective: true,
	}
	for i := range st.values {
		st.values[i] = ilp.FreeValue
	}
	for i := 0; i < x.NumRows(); i++ {
		cols, coefs := x.Row(i)
		for k, v := range cols {
			c := coefs[k]
			st.cols[v] = append(st.cols[v], colRef{row: int32(i), coef: c})
			if c < 0 {
				st.minAct[i] += c
			} else {
				st.maxAct[i] += c
			}
		}
	}
	for _, c := range x.Obj {
		if c != 0 {
			st.noObjective = false
		}
		if c < 0 {
			st.sumNegFree += c
		}
	}
	return st
}

// assign sets a free variable and schedules its rows for examination.
// It reports false when v already holds the opposite value.
func (st *state) assign(v int32, val int8) bool {
	switch st.values[v] {
	case val:
		return true
	case ilp.FreeValue:
	default:
		return false
	}
	st.values[v] = val
	st.trail = append(st.trail, v)
	if c := st.x.Obj[v]; c != 0 {
		if val == 1 {
			st.partialObj += c
		}
		if c < 0 {
			st.sumNegFree -= c
		}
	}
	for _, ref := range st.cols[v] {
		if ref.coef > 0 {
			if val == 1 {
				st.minAct[ref.row] += ref.coef
			} else {
				st.maxAct[ref.row] -= ref.coef
			}
		} else {
			if val == 1 {
				st.maxAct[ref.row] += ref.coef
			} else {
				st.minAct[ref.row] -= ref.coef
			}
		}
		if !st.inQueue[ref.row] {
			st.inQueue[ref.row] = true
			st.queue = append(st.queue, ref.row)
		}
	}
	return true
}

// propagate drains the row queue, failing rows whose activity window moved
// off the right-hand side and forcing variables that have a single viable
// value left. False means conflict.
func (st *state) propagate() bool {
	for len(st.queue) > 0 {
		r := st.queue[0]
		st.queue = st.queue[1:]
		st.inQueue[r] = false

		sense, rhs := st.x.Senses[r], st.x.RHS[r]
		switch sense {
		case ilp.LE:
			if st.minAct[r] > rhs {
				return false
			}
		case ilp.GE:
			if st.maxAct[r] < rhs {
				return false
			}
		default:
			if st.minAct[r] > rhs || st.maxAct[r] < rhs {
				return false
			}
		}

		cols, coefs := st.x.Row(int(r))
		for k, v := range cols {
			if st.values[v] != ilp.FreeValue {
				continue
			}
			c := coefs[k]
			if sense == ilp.LE || sense == ilp.EQ {
				if c > 0 && st.minAct[r]+c > rhs {
					st.assign(v, 0)
					continue
				}
				if c < 0 && st.minAct[r]-c > rhs {
					st.assign(v, 1)
					continue
				}
			}
			if sense == ilp.GE || sense == ilp.EQ {
				if c > 0 && st.maxAct[r]-c < rhs {
					st.assign(v, 1)
					continue
				}
				if c < 0 && st.maxAct[r]+c < rhs {
					st.assign(v, 0)
				}
			}
		}
	}
	return true
}

// boundCut reports whether no completion of the current partial assignment
// can beat the incumbent. sumNegFree is exactly the best the free
// variables could still contribute.
func (st *state) boundCut(hasInc bool, bestObj int) bool {
	if !hasInc {
		return false
	}
	return st.partialObj+st.sumNegFree+st.x.Offset >= bestObj
}

func (st *state) nextFree() int32 {
	for i := st.firstFree; i < len(st.values); i++ {
		if st.values[i] == ilp.FreeValue {
			st.firstFree = i
			return int32(i)
		}
	}
	return -1
}

// undoTo pops the trail back to mark, reversing activity and objective
// bookkeeping, and drops the now stale examination queue.
func (st *state) undoTo(mark int) {
	for len(st.trail) > mark {
		v := st.trail[len(st.trail)-1]
		st.trail = st.trail[:len(st.trail)-1]
		val := st.values[v]
		st.values[v] = ilp.FreeValue
		if c := st.x.Obj[v]; c != 0 {
			if val == 1 {
				st.partialObj -= c
			}
			if c < 0 {
				st.sumNegFree += c
			}
		}
		for _, ref := range st.cols[v] {
			if ref.coef > 0 {
				if val == 1 {
					st.minAct[ref.row] -= ref.coef
				} else {
					st.maxAct[ref.row] += ref.coef
				}
			} else {
				if val == 1 {
					st.maxAct[ref.row] -= ref.coef
				} else {
					st.minAct[ref.row] += ref.coef
				}
			}
		}
		if int(v) < st.firstFree {
			st.firstFree = int(v)
		}
	}
	for _, r := range st.queue {
		st.inQueue[r] = false
	}
	st.queue = st.queue[:0]
}
