package colloscope

import (
	"github.com/prepa-tools/colloscope-api/internal/ilp"
	"github.com/prepa-tools/colloscope-api/internal/timetable"
)

// VarKey is the semantic meaning of one decision variable: the group sits
// the subject with this teacher, in this slot, on this week.
type VarKey struct {
	Week    int
	Subject timetable.SubjectID
	Group   timetable.GroupID
	Teacher timetable.TeacherID
	Slot    timetable.SlotID
}

// AssignmentKey strips the resource half of the key.
func (k VarKey) AssignmentKey() AssignmentKey {
	return AssignmentKey{Week: k.Week, Subject: k.Subject, Group: k.Group}
}

// Resource strips the requirement half of the key.
func (k VarKey) Resource() Resource {
	return Resource{Teacher: k.Teacher, Slot: k.Slot}
}

// VarTable maps decision variables to their keys. Decision variables are
// the model's leading indices; auxiliary variables (slack bits, penalty
// indicators) live above NumDecisions and have no key.
type VarTable struct {
	keys  []VarKey
	index map[VarKey]ilp.Var
}

func newVarTable(capacity int) *VarTable {
	return &VarTable{
		keys:  make([]VarKey, 0, capacity),
		index: make(map[VarKey]ilp.Var, capacity),
	}
}

func (t *VarTable) add(key VarKey) ilp.Var {
	v := ilp.Var(len(t.keys))
	t.keys = append(t.keys, key)
	t.index[key] = v
	return v
}

// NumDecisions is the count of semantic decision variables.
func (t *VarTable) NumDecisions() int { return len(t.keys) }

// Key returns the meaning of decision variable v.
func (t *VarTable) Key(v ilp.Var) (VarKey, bool) {
	if v < 0 || int(v) >= len(t.keys) {
		return VarKey{}, false
	}
	return t.keys[v], true
}

// Lookup finds the variable carrying key, if it was materialized.
func (t *VarTable) Lookup(key VarKey) (ilp.Var, bool) {
	v, ok := t.index[key]
	return v, ok
}

// ModelView is the read-only window a Contributor sees: variable lookup
// and iteration over the decision space, nothing mutable.
type ModelView struct {
	table *VarTable
	snap  *timetable.Snapshot
}

// Snapshot exposes the domain model the variables were enumerated from.
func (v *ModelView) Snapshot() *timetable.Snapshot { return v.snap }

// Lookup finds the decision variable carrying key.
func (v *ModelView) Lookup(key VarKey) (ilp.Var, bool) { return v.table.Lookup(key) }

// NumDecisions is the count of decision variables.
func (v *ModelView) NumDecisions() int { return v.table.NumDecisions() }

// Each calls fn for every decision variable in ascending variable order.
func (v *ModelView) Each(fn func(VarKey, ilp.Var)) {
	for i, key := range v.table.keys {
		fn(key, ilp.Var(i))
	}
}

// Contribution is the opaque extension a scripting hook feeds the builder:
// extra hard rows and extra objective terms over decision variables.
type Contribution struct {
	Rows  []ilp.Row
	Terms []ilp.Term
}

// Contributor is the scripting hook seam. Implementations read the view
// and return pure data; they never mutate builder state. Rows and terms
// may only reference decision variables the builder materialized.
type Contributor interface {
	Contribute(view *ModelView) (Contribution, error)
}
