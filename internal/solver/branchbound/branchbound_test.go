package branchbound

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepa-tools/colloscope-api/internal/ilp"
	"github.com/prepa-tools/colloscope-api/internal/solver"
)

func exactlyOne(t *testing.T, m *ilp.Model, tag string, vars ...ilp.Var) {
	t.Helper()
	terms := make([]ilp.Term, len(vars))
	for i, v := range vars {
		terms[i] = ilp.Term{Var: v, Coef: 1}
	}
	require.NoError(t, m.AddRow(ilp.Row{Terms: terms, Sense: ilp.EQ, RHS: 1, Tag: tag}))
}

func TestSolvePicksCheapestAlternative(t *testing.T) {
	m := ilp.NewModel()
	a, b := m.AddVar(), m.AddVar()
	exactlyOne(t, m, "pick one", a, b)
	m.AddObjectiveTerm(a, 2)
	m.AddObjectiveTerm(b, 1)

	out, err := New().Solve(context.Background(), m, solver.Options{})
	require.NoError(t, err)

	assert.Equal(t, solver.StatusOptimal, out.Status)
	assert.Equal(t, []float64{0, 1}, out.Values)
	assert.Equal(t, 1.0, out.Objective)
	assert.Zero(t, out.Gap)
}

func TestSolveStopsAtFirstSolutionWithoutObjective(t *testing.T) {
	m := ilp.NewModel()
	a, b := m.AddVar(), m.AddVar()
	exactlyOne(t, m, "pick one", a, b)

	out, err := New().Solve(context.Background(), m, solver.Options{})
	require.NoError(t, err)

	assert.Equal(t, solver.StatusOptimal, out.Status)
	assert.Equal(t, []float64{1, 0}, out.Values, "value 1 is branched before 0")
	assert.Zero(t, out.Objective)
}

func TestSolveProvesInfeasibility(t *testing.T) {
	m := ilp.NewModel()
	a, b := m.AddVar(), m.AddVar()
	require.NoError(t, m.AddRow(ilp.Row{
		Terms: []ilp.Term{{Var: a, Coef: 1}, {Var: b, Coef: 1}},
		Sense: ilp.GE, RHS: 3, Tag: "unreachable",
	}))

	out, err := New().Solve(context.Background(), m, solver.Options{})
	require.NoError(t, err)
	assert.Equal(t, solver.StatusInfeasible, out.Status)
}

func TestSolveHonorsFixings(t *testing.T) {
	m := ilp.NewModel()
	a, b := m.AddVar(), m.AddVar()
	exactlyOne(t, m, "pick one", a, b)
	m.AddObjectiveTerm(a, 5)
	m.AddObjectiveTerm(b, 1)
	require.NoError(t, m.Fix(a, 1))

	out, err := New().Solve(context.Background(), m, solver.Options{})
	require.NoError(t, err)

	assert.Equal(t, solver.StatusOptimal, out.Status)
	assert.Equal(t, []float64{1, 0}, out.Values, "the fixing overrides the cheaper alternative")
	assert.Equal(t, 5.0, out.Objective)
}

func TestSolveDetectsConflictingFixings(t *testing.T) {
	m := ilp.NewModel()
	a := m.AddVar()
	require.NoError(t, m.AddRow(ilp.Row{
		Terms: []ilp.Term{{Var: a, Coef: 1}},
		Sense: ilp.LE, RHS: 0, Tag: "forbidden",
	}))
	require.NoError(t, m.Fix(a, 1))

	out, err := New().Solve(context.Background(), m, solver.Options{})
	require.NoError(t, err)
	assert.Equal(t, solver.StatusInfeasible, out.Status)
}

func TestSolveWithOffsetAndNegativeCoefficients(t *testing.T) {
	m := ilp.NewModel()
	first := m.AddVars(4)
	v0, v1, v2, v3 := first, first+1, first+2, first+3
	exactlyOne(t, m, "first pair", v0, v1)
	exactlyOne(t, m, "second pair", v2, v3)
	require.NoError(t, m.AddRow(ilp.Row{
		Terms: []ilp.Term{{Var: v0, Coef: 1}, {Var: v2, Coef: 1}},
		Sense: ilp.LE, RHS: 1, Tag: "v0 excludes v2",
	}))
	m.AddObjectiveTerm(v0, -3)
	m.AddObjectiveTerm(v2, -2)
	m.AddOffset(10)

	out, err := New().Solve(context.Background(), m, solver.Options{})
	require.NoError(t, err)

	assert.Equal(t, solver.StatusOptimal, out.Status)
	assert.Equal(t, []float64{1, 0, 0, 1}, out.Values)
	assert.Equal(t, 7.0, out.Objective)
}

func TestSolveReportsImprovingIncumbents(t *testing.T) {
	m := ilp.NewModel()
	a, b := m.AddVar(), m.AddVar()
	exactlyOne(t, m, "pick one", a, b)
	m.AddObjectiveTerm(a, 5)
	m.AddObjectiveTerm(b, 2)

	var seen []float64
	out, err := New().Solve(context.Background(), m, solver.Options{
		OnProgress: func(p solver.Progress) { seen = append(seen, p.Incumbent) },
	})
	require.NoError(t, err)

	assert.Equal(t, solver.StatusOptimal, out.Status)
	assert.Equal(t, 2.0, out.Objective)
	assert.Equal(t, []float64{5, 2}, seen, "the 1-branch of var 0 is explored first")
}

func TestSolveCancellation(t *testing.T) {
	m := ilp.NewModel()
	a, b := m.AddVar(), m.AddVar()
	exactlyOne(t, m, "pick one", a, b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New()
	s.CheckInterval = 1
	out, err := s.Solve(ctx, m, solver.Options{})
	require.NoError(t, err)
	assert.Equal(t, solver.StatusCancelled, out.Status)
}

func TestSolveTimeLimitWithoutIncumbent(t *testing.T) {
	m := ilp.NewModel()
	a, b := m.AddVar(), m.AddVar()
	exactlyOne(t, m, "pick one", a, b)

	s := New()
	s.CheckInterval = 1
	_, err := s.Solve(context.Background(), m, solver.Options{TimeLimit: time.Nanosecond})
	require.ErrorIs(t, err, solver.ErrNoIncumbent)
}

func TestSolveLeavesModelUntouched(t *testing.T) {
	m := ilp.NewModel()
	a, b := m.AddVar(), m.AddVar()
	exactlyOne(t, m, "pick one", a, b)
	m.AddObjectiveTerm(b, 1)
	rowsBefore := len(m.Rows())

	_, err := New().Solve(context.Background(), m, solver.Options{})
	require.NoError(t, err)

	assert.Equal(t, rowsBefore, len(m.Rows()))
	assert.Equal(t, 2, m.NumVars())
	_, fixed := m.Fixed(a)
	assert.False(t, fixed)
}
