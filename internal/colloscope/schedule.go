// Package colloscope turns a timetable snapshot into an integer model and
// turns solver outcomes back into validated schedules.
//
// The three stages are independent: Builder emits an ilp.Model plus the
// VarTable giving each variable its meaning, any solver.Backend consumes
// the model, and Extract reconstructs and re-checks the schedule. Nothing
// here is goroutine-aware; the engine package owns orchestration.
package colloscope

import (
	"sort"

	"github.com/prepa-tools/colloscope-api/internal/timetable"
)

// AssignmentKey identifies one required interrogation: a group sitting a
// subject on a given week.
type AssignmentKey struct {
	Week    int                 `json:"week"`
	Subject timetable.SubjectID `json:"subject"`
	Group   timetable.GroupID   `json:"group"`
}

// Resource is the (teacher, slot) pair serving an assignment.
type Resource struct {
	Teacher timetable.TeacherID `json:"teacher"`
	Slot    timetable.SlotID    `json:"slot"`
}

// Pin is a user-fixed assignment that must survive re-solving untouched.
type Pin struct {
	Key      AssignmentKey `json:"key"`
	Resource Resource      `json:"resource"`
}

// Row is one flat schedule line, the exchange format for export
// collaborators.
type Row struct {
	Week    int                 `json:"week"`
	Subject timetable.SubjectID `json:"subject"`
	Group   timetable.GroupID   `json:"group"`
	Teacher timetable.TeacherID `json:"teacher"`
	Slot    timetable.SlotID    `json:"slot"`
}

// ObjectiveBreakdown splits the achieved objective by source. Total is the
// rounded solver objective and equals the sum of the parts plus any
// constant offset carried by the model.
type ObjectiveBreakdown struct {
	Balance    int `json:"balance"`
	Repeat     int `json:"repeat"`
	Disruption int `json:"disruption"`
	Custom     int `json:"custom"`
	Total      int `json:"total"`
}

// Schedule is the accepted output of one solve attempt. It is immutable
// once produced; re-solving yields a replacement.
type Schedule struct {
	Assignments map[AssignmentKey]Resource
	Pins        []Pin
	Objective   float64
	Gap         float64

	breakdown ObjectiveBreakdown
}

// ResourceFor looks up the resource serving key.
func (s *Schedule) ResourceFor(key AssignmentKey) (Resource, bool) {
	r, ok := s.Assignments[key]
	return r, ok
}

// Rows flattens the schedule into lines sorted by (week, subject, group).
// The order is stable across calls and across identical re-solves.
func (s *Schedule) Rows() []Row {
	rows := make([]Row, 0, len(s.Assignments))
	for key, res := range s.Assignments {
		rows = append(rows, Row{
			Week:    key.Week,
			Subject: key.Subject,
			Group:   key.Group,
			Teacher: res.Teacher,
			Slot:    res.Slot,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Week != b.Week {
			return a.Week < b.Week
		}
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		return a.Group < b.Group
	})
	return rows
}

// Breakdown reports the per-source objective split.
func (s *Schedule) Breakdown() ObjectiveBreakdown { return s.breakdown }

// PinnedKeys returns the keys of all pins, sorted like Rows.
func (s *Schedule) PinnedKeys() []AssignmentKey {
	keys := make([]AssignmentKey, len(s.Pins))
	for i, p := range s.Pins {
		keys[i] = p.Key
	}
	sortKeys(keys)
	return keys
}

func sortKeys(keys []AssignmentKey) {
	sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })
}

func lessKey(a, b AssignmentKey) bool {
	if a.Week != b.Week {
		return a.Week < b.Week
	}
	if a.Subject != b.Subject {
		return a.Subject < b.Subject
	}
	return a.Group < b.Group
}

func sortPins(pins []Pin) {
	sort.Slice(pins, func(i, j int) bool { return lessKey(pins[i].Key, pins[j].Key) })
}
