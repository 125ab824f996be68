// Package ilp holds a sparse integer linear model over binary variables.
//
// A Model is append-only while a problem is being assembled. Compress turns
// it into the immutable row-major Matrix form the solver backends consume.
package ilp

import (
	"fmt"
	"sort"
)

// Var indexes a binary decision variable, starting at 0.
type Var int32

// Sense is the comparison direction of a row.
type Sense int8

const (
	LE Sense = iota // sum <= rhs
	GE              // sum >= rhs
	EQ              // sum == rhs
)

func (s Sense) String() string {
	switch s {
	case LE:
		return "<="
	case GE:
		return ">="
	case EQ:
		return "=="
	}
	return fmt.Sprintf("sense(%d)", int8(s))
}

// Term is one coefficient of a row or of the objective.
type Term struct {
	Var  Var
	Coef int
}

// Row is a single linear constraint. Tag carries a short human-readable
// label used in diagnostics when the row is violated or proven conflicting.
type Row struct {
	Terms []Term
	Sense Sense
	RHS   int
	Tag   string
}

// Model accumulates variables, rows, fixings and the objective.
type Model struct {
	numVars int
	rows    []Row
	fixed   map[Var]int8
	obj     map[Var]int
	offset  int
}

func NewModel() *Model {
	return &Model{
		fixed: make(map[Var]int8),
		obj:   make(map[Var]int),
	}
}

// AddVar declares one fresh binary variable.
func (m *Model) AddVar() Var {
	v := Var(m.numVars)
	m.numVars++
	return v
}

// AddVars declares n consecutive variables and returns the first one.
func (m *Model) AddVars(n int) Var {
	first := Var(m.numVars)
	m.numVars += n
	return first
}

func (m *Model) NumVars() int { return m.numVars }

func (m *Model) NumRows() int { return len(m.rows) }

// AddRow appends a constraint. Every term must reference a declared
// variable and the row must not be empty.
func (m *Model) AddRow(r Row) error {
	if len(r.Terms) == 0 {
		return fmt.Errorf("ilp: empty row %q", r.Tag)
	}
	for _, t := range r.Terms {
		if t.Var < 0 || int(t.Var) >= m.numVars {
			return fmt.Errorf("ilp: row %q references undeclared variable %d", r.Tag, t.Var)
		}
	}
	m.rows = append(m.rows, r)
	return nil
}

func (m *Model) Rows() []Row { return m.rows }

// Fix pins a variable to 0 or 1. Fixing the same variable twice is fine
// as long as both calls agree.
func (m *Model) Fix(v Var, value int) error {
	if v < 0 || int(v) >= m.numVars {
		return fmt.Errorf("ilp: fix of undeclared variable %d", v)
	}
	if value != 0 && value != 1 {
		return fmt.Errorf("ilp: variable %d fixed to %d, want 0 or 1", v, value)
	}
	if prev, ok := m.fixed[v]; ok && prev != int8(value) {
		return fmt.Errorf("ilp: variable %d fixed to both %d and %d", v, prev, value)
	}
	m.fixed[v] = int8(value)
	return nil
}

// Fixed reports the pinned value of v, if any.
func (m *Model) Fixed(v Var) (int, bool) {
	val, ok := m.fixed[v]
	return int(val), ok
}

// AddObjectiveTerm accumulates coef onto the objective coefficient of v.
// The solve direction is always minimization.
func (m *Model) AddObjectiveTerm(v Var, coef int) {
	if coef == 0 {
		return
	}
	m.obj[v] += coef
	if m.obj[v] == 0 {
		delete(m.obj, v)
	}
}

// AddOffset shifts the objective by a constant. Offsets keep reported
// objective values comparable when terms are folded during construction.
func (m *Model) AddOffset(c int) { m.offset += c }

// Objective returns the objective terms sorted by variable, plus the
// constant offset.
func (m *Model) Objective() ([]Term, int) {
	terms := make([]Term, 0, len(m.obj))
	for v, c := range m.obj {
		terms = append(terms, Term{Var: v, Coef: c})
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i].Var < terms[j].Var })
	return terms, m.offset
}
