package colloscope

import (
	"fmt"
	"math"
	"sort"

	"github.com/prepa-tools/colloscope-api/internal/ilp"
	"github.com/prepa-tools/colloscope-api/internal/solver"
	"github.com/prepa-tools/colloscope-api/internal/timetable"
	appErrors "github.com/prepa-tools/colloscope-api/pkg/errors"
)

// DefaultRoundingThreshold decides when a relaxed variable value counts as
// an assignment. Backends return exact binaries, the threshold only
// matters for future fractional ones.
const DefaultRoundingThreshold = 0.5

// Extract turns a feasible outcome back into a schedule. Every invariant
// is rechecked against the snapshot itself, so a miscompiled model or a
// lying backend surfaces as INTERNAL_CONSISTENCY instead of a silently
// broken schedule.
func (p *Problem) Extract(outcome *solver.Outcome, threshold float64) (*Schedule, error) {
	if threshold <= 0 || threshold >= 1 {
		threshold = DefaultRoundingThreshold
	}
	if outcome == nil || (outcome.Status != solver.StatusOptimal && outcome.Status != solver.StatusFeasible) {
		return nil, consistencyError("extraction requires a feasible outcome")
	}
	if len(outcome.Values) != p.ILP.NumVars() {
		return nil, consistencyError(fmt.Sprintf(
			"backend returned %d values for %d variables", len(outcome.Values), p.ILP.NumVars()))
	}

	rounded := make([]int8, len(outcome.Values))
	for i, val := range outcome.Values {
		if val >= threshold {
			rounded[i] = 1
		}
	}

	matrix := p.ILP.Compress()
	if broken := matrix.Violations(rounded); len(broken) > 0 {
		return nil, consistencyError(describeViolation(matrix, broken[0]))
	}

	assignments := make(map[AssignmentKey]Resource)
	for i := 0; i < p.Table.NumDecisions(); i++ {
		if rounded[i] != 1 {
			continue
		}
		key, _ := p.Table.Key(ilp.Var(i))
		ak := key.AssignmentKey()
		if prev, dup := assignments[ak]; dup {
			return nil, consistencyError(fmt.Sprintf(
				"week %d %s/%s resolved to two resources (teacher %d and %d)",
				ak.Week, subjectName(p.Snapshot, ak.Subject), groupName(p.Snapshot, ak.Group),
				prev.Teacher, key.Teacher))
		}
		assignments[ak] = key.Resource()
	}

	if err := p.recheck(assignments); err != nil {
		return nil, err
	}

	breakdown := ObjectiveBreakdown{
		Balance:    evalTerms(p.sources.balance, rounded),
		Repeat:     evalTerms(p.sources.repeat, rounded),
		Disruption: evalTerms(p.sources.disruption, rounded),
		Custom:     evalTerms(p.sources.custom, rounded),
	}
	breakdown.Total = breakdown.Balance + breakdown.Repeat + breakdown.Disruption + breakdown.Custom
	if got := matrix.ObjectiveValue(rounded); math.Abs(outcome.Objective-float64(got)) > 1e-6 {
		return nil, consistencyError(fmt.Sprintf(
			"backend objective %.6f does not match recomputed value %d", outcome.Objective, got))
	}

	pins := make([]Pin, len(p.Pins))
	copy(pins, p.Pins)
	return &Schedule{
		Assignments: assignments,
		Pins:        pins,
		Objective:   outcome.Objective,
		Gap:         outcome.Gap,
		breakdown:   breakdown,
	}, nil
}

// recheck proves the extracted assignments sound directly on the snapshot,
// independent of the rows the model happened to contain.
func (p *Problem) recheck(assignments map[AssignmentKey]Resource) error {
	s := p.Snapshot
	keys := make([]AssignmentKey, 0, len(assignments))
	for k := range assignments {
		keys = append(keys, k)
	}
	sortKeys(keys)

	for _, k := range keys {
		res := assignments[k]
		if s.Groups[k.Group].Subject != k.Subject {
			return consistencyError(fmt.Sprintf("group %q assigned outside its subject", groupName(s, k.Group)))
		}
		if !teacherEligible(s.Subjects[k.Subject].Teachers, res.Teacher) {
			return consistencyError(fmt.Sprintf("teacher %q not eligible for %s",
				s.Teachers[res.Teacher].Name, subjectName(s, k.Subject)))
		}
		if s.Slots[res.Slot].Teacher != res.Teacher {
			return consistencyError(fmt.Sprintf("slot %d does not belong to teacher %q",
				res.Slot, s.Teachers[res.Teacher].Name))
		}
		if !weekActive(s.SubjectActiveWeeks(k.Subject), k.Week) {
			return consistencyError(fmt.Sprintf("%s scheduled on inactive week %d", subjectName(s, k.Subject), k.Week))
		}
		if !s.SlotActive(res.Slot, k.Week) {
			return consistencyError(fmt.Sprintf("slot %d used on week %d where it does not exist", res.Slot, k.Week))
		}
	}

	for _, req := range p.Requirements {
		count := 0
		for _, w := range req.Weeks {
			if _, ok := assignments[AssignmentKey{Week: w, Subject: req.Subject, Group: req.Group}]; ok {
				count++
			}
		}
		if req.Exact && count != req.Count {
			return consistencyError(fmt.Sprintf("%s/%s weeks %s: %d interrogations, expected exactly %d",
				subjectName(s, req.Subject), groupName(s, req.Group), weekSpan(req.Weeks), count, req.Count))
		}
		if !req.Exact && count > req.Count {
			return consistencyError(fmt.Sprintf("%s/%s weeks %s: %d interrogations, expected at most %d",
				subjectName(s, req.Subject), groupName(s, req.Group), weekSpan(req.Weeks), count, req.Count))
		}
	}

	type slotLoad struct {
		count  int
		minCap int
	}
	bySlot := make(map[slotWeek]*slotLoad)
	byStudent := make(map[studentWeek][]timetable.SlotID)
	for _, k := range keys {
		res := assignments[k]
		sw := slotWeek{Slot: res.Slot, Week: k.Week}
		load := bySlot[sw]
		if load == nil {
			load = &slotLoad{minCap: s.Subjects[k.Subject].SlotCapacity()}
			bySlot[sw] = load
		}
		load.count++
		if c := s.Subjects[k.Subject].SlotCapacity(); c < load.minCap {
			load.minCap = c
		}
		for _, stu := range s.Groups[k.Group].Students {
			skey := studentWeek{Student: stu, Week: k.Week}
			byStudent[skey] = append(byStudent[skey], res.Slot)
		}
	}
	for sw, load := range bySlot {
		if load.count > load.minCap {
			return consistencyError(fmt.Sprintf("slot %d week %d hosts %d groups, capacity %d",
				sw.Slot, sw.Week, load.count, load.minCap))
		}
	}

	students := make([]studentWeek, 0, len(byStudent))
	for k := range byStudent {
		students = append(students, k)
	}
	sort.Slice(students, func(i, j int) bool {
		if students[i].Student != students[j].Student {
			return students[i].Student < students[j].Student
		}
		return students[i].Week < students[j].Week
	})
	for _, skey := range students {
		slots := byStudent[skey]
		for i := 0; i < len(slots); i++ {
			for j := i + 1; j < len(slots); j++ {
				if timetable.OverlapsInTime(s.Slots[slots[i]], s.Slots[slots[j]]) {
					return consistencyError(fmt.Sprintf("student %q attends overlapping slots %d and %d on week %d",
						s.Students[skey.Student].Name, slots[i], slots[j], skey.Week))
				}
			}
		}
		for _, set := range s.Incompatibilities {
			if !set.AppliesTo(skey.Student) {
				continue
			}
			count := 0
			for _, sl := range slots {
				if slotInSet(sl, set.Slots) {
					count++
				}
			}
			if count > set.MaxCount {
				return consistencyError(fmt.Sprintf("student %q breaks incompatibility %q on week %d (%d > %d)",
					s.Students[skey.Student].Name, set.Name, skey.Week, count, set.MaxCount))
			}
		}
		if limit := s.General.MaxCollesPerWeek; limit > 0 && len(slots) > limit {
			return consistencyError(fmt.Sprintf("student %q has %d interrogations on week %d, cap %d",
				s.Students[skey.Student].Name, len(slots), skey.Week, limit))
		}
	}

	for _, pin := range p.Pins {
		res, ok := assignments[pin.Key]
		if !ok {
			return consistencyError(fmt.Sprintf("pinned assignment week %d %s/%s missing from the solution",
				pin.Key.Week, subjectName(s, pin.Key.Subject), groupName(s, pin.Key.Group)))
		}
		if res != pin.Resource {
			return consistencyError(fmt.Sprintf("pinned assignment week %d %s/%s moved to another resource",
				pin.Key.Week, subjectName(s, pin.Key.Subject), groupName(s, pin.Key.Group)))
		}
	}
	return nil
}

func evalTerms(terms []ilp.Term, values []int8) int {
	total := 0
	for _, t := range terms {
		if values[t.Var] == 1 {
			total += t.Coef
		}
	}
	return total
}

func describeViolation(m *ilp.Matrix, code int) string {
	if code < 0 {
		return fmt.Sprintf("backend flipped fixed variable %d", -code-1)
	}
	return fmt.Sprintf("solution violates constraint %q", m.Tags[code])
}

func consistencyError(msg string) *appErrors.Error {
	return appErrors.Clone(appErrors.ErrInconsistentModel, msg)
}
