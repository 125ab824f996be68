package ilp

import "sort"

// FreeValue marks an unfixed variable in Matrix.Fixed.
const FreeValue = int8(-1)

// Matrix is the compressed row-major form of a Model. Rows live in three
// parallel slices indexed through RowPtr, the usual CSR layout. All data is
// integer so evaluation never rounds.
type Matrix struct {
	NumVars int

	RowPtr []int
	Cols   []int32
	Coefs  []int
	Senses []Sense
	RHS    []int
	Tags   []string

	// Fixed has one entry per variable: 0, 1 or FreeValue.
	Fixed []int8

	// Obj is the dense objective vector; Offset its constant part.
	Obj    []int
	Offset int
}

// Compress freezes the model. Terms within a row are merged per variable
// and ordered by variable index so two equal models compress identically.
func (m *Model) Compress() *Matrix {
	x := &Matrix{
		NumVars: m.numVars,
		RowPtr:  make([]int, 1, len(m.rows)+1),
		Senses:  make([]Sense, 0, len(m.rows)),
		RHS:     make([]int, 0, len(m.rows)),
		Tags:    make([]string, 0, len(m.rows)),
		Fixed:   make([]int8, m.numVars),
		Obj:     make([]int, m.numVars),
		Offset:  m.offset,
	}
	for i := range x.Fixed {
		x.Fixed[i] = FreeValue
	}
	for v, val := range m.fixed {
		x.Fixed[v] = val
	}
	for v, c := range m.obj {
		x.Obj[v] = c
	}

	scratch := make(map[Var]int)
	for _, r := range m.rows {
		for k := range scratch {
			delete(scratch, k)
		}
		for _, t := range r.Terms {
			scratch[t.Var] += t.Coef
		}
		vars := make([]Var, 0, len(scratch))
		for v, c := range scratch {
			if c != 0 {
				vars = append(vars, v)
			}
		}
		sort.Slice(vars, func(i, j int) bool { return vars[i] < vars[j] })
		for _, v := range vars {
			x.Cols = append(x.Cols, int32(v))
			x.Coefs = append(x.Coefs, scratch[v])
		}
		x.RowPtr = append(x.RowPtr, len(x.Cols))
		x.Senses = append(x.Senses, r.Sense)
		x.RHS = append(x.RHS, r.RHS)
		x.Tags = append(x.Tags, r.Tag)
	}
	return x
}

func (x *Matrix) NumRows() int { return len(x.Senses) }

// Row returns the column indices and coefficients of row i.
func (x *Matrix) Row(i int) ([]int32, []int) {
	lo, hi := x.RowPtr[i], x.RowPtr[i+1]
	return x.Cols[lo:hi], x.Coefs[lo:hi]
}

// Activity computes the left-hand side of row i under a full assignment.
func (x *Matrix) Activity(i int, values []int8) int {
	cols, coefs := x.Row(i)
	sum := 0
	for k, c := range cols {
		if values[c] == 1 {
			sum += coefs[k]
		}
	}
	return sum
}

// RowSatisfied reports whether row i holds under a full assignment.
func (x *Matrix) RowSatisfied(i int, values []int8) bool {
	act := x.Activity(i, values)
	switch x.Senses[i] {
	case LE:
		return act <= x.RHS[i]
	case GE:
		return act >= x.RHS[i]
	default:
		return act == x.RHS[i]
	}
}

// Violations returns the indices of all rows violated by values, plus any
// variable whose fixing is not respected, encoded as -(var+1).
func (x *Matrix) Violations(values []int8) []int {
	var out []int
	for v, f := range x.Fixed {
		if f != FreeValue && values[v] != f {
			out = append(out, -(v + 1))
		}
	}
	for i := 0; i < x.NumRows(); i++ {
		if !x.RowSatisfied(i, values) {
			out = append(out, i)
		}
	}
	return out
}

// ObjectiveValue evaluates the objective, offset included.
func (x *Matrix) ObjectiveValue(values []int8) int {
	sum := x.Offset
	for v, c := range x.Obj {
		if c != 0 && values[v] == 1 {
			sum += c
		}
	}
	return sum
}

// ObjectiveLowerBound sums the negative objective coefficients of all
// variables still free under values. Added to a partial objective it gives
// an admissible bound for pruning.
func (x *Matrix) ObjectiveLowerBound(values []int8) int {
	bound := 0
	for v, c := range x.Obj {
		if c < 0 && values[v] == FreeValue {
			bound += c
		}
	}
	return bound
}
