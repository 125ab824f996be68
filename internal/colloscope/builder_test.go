package colloscope

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepa-tools/colloscope-api/internal/ilp"
	"github.com/prepa-tools/colloscope-api/internal/solver"
	"github.com/prepa-tools/colloscope-api/internal/solver/branchbound"
	"github.com/prepa-tools/colloscope-api/internal/timetable"
	appErrors "github.com/prepa-tools/colloscope-api/pkg/errors"
)

// rotationSnapshot is the canonical two-group rotation: four weeks, one
// subject examined weekly, two teachers with simultaneous Monday slots.
// Every week each group must see one of the two teachers, and the slots
// collide in time for any shared student.
func rotationSnapshot() *timetable.Snapshot {
	return &timetable.Snapshot{
		General:  timetable.GeneralData{WeekCount: 4},
		Periods:  []timetable.Period{{Name: "trimestre 1", FirstWeek: 0, WeekCount: 4}},
		Patterns: []timetable.WeekPattern{{Name: "toutes", Weeks: []int{0, 1, 2, 3}}},
		Subjects: []timetable.Subject{{
			Name:              "maths",
			Duration:          60,
			Pattern:           0,
			GroupSizeMin:      1,
			GroupSizeMax:      3,
			Periodicity:       1,
			StrictPeriodicity: true,
			Teachers:          []timetable.TeacherID{0, 1},
		}},
		Teachers: []timetable.Teacher{
			{Name: "Durand", Subjects: []timetable.SubjectID{0}, Slots: []timetable.SlotID{0}},
			{Name: "Martin", Subjects: []timetable.SubjectID{0}, Slots: []timetable.SlotID{1}},
		},
		Slots: []timetable.Slot{
			{Teacher: 0, Day: timetable.Monday, Start: 17 * 60, Duration: 60, Pattern: 0},
			{Teacher: 1, Day: timetable.Monday, Start: 17 * 60, Duration: 60, Pattern: 0},
		},
		Students: []timetable.Student{
			{Name: "Alice", Subjects: []timetable.SubjectID{0}},
			{Name: "Bob", Subjects: []timetable.SubjectID{0}},
		},
		Groups: []timetable.Group{
			{Name: "G1", Subject: 0, Students: []timetable.StudentID{0}},
			{Name: "G2", Subject: 0, Students: []timetable.StudentID{1}},
		},
		Associations: []timetable.Association{{Subject: 0, Groups: []timetable.GroupID{0, 1}}},
	}
}

// contendedSnapshot puts two one-student groups behind a single teacher
// with a single slot.
func contendedSnapshot(weekCount, periodicity int) *timetable.Snapshot {
	weeks := make([]int, weekCount)
	for i := range weeks {
		weeks[i] = i
	}
	return &timetable.Snapshot{
		General:  timetable.GeneralData{WeekCount: weekCount},
		Periods:  []timetable.Period{{Name: "P1", FirstWeek: 0, WeekCount: weekCount}},
		Patterns: []timetable.WeekPattern{{Name: "toutes", Weeks: weeks}},
		Subjects: []timetable.Subject{{
			Name:              "physique",
			Duration:          60,
			Pattern:           0,
			GroupSizeMin:      1,
			GroupSizeMax:      2,
			Periodicity:       periodicity,
			StrictPeriodicity: true,
			Teachers:          []timetable.TeacherID{0},
		}},
		Teachers: []timetable.Teacher{
			{Name: "Curie", Subjects: []timetable.SubjectID{0}, Slots: []timetable.SlotID{0}},
		},
		Slots: []timetable.Slot{
			{Teacher: 0, Day: timetable.Tuesday, Start: 8 * 60, Duration: 60, Pattern: 0},
		},
		Students: []timetable.Student{
			{Name: "Alice", Subjects: []timetable.SubjectID{0}},
			{Name: "Bob", Subjects: []timetable.SubjectID{0}},
		},
		Groups: []timetable.Group{
			{Name: "G1", Subject: 0, Students: []timetable.StudentID{0}},
			{Name: "G2", Subject: 0, Students: []timetable.StudentID{1}},
		},
		Associations: []timetable.Association{{Subject: 0, Groups: []timetable.GroupID{0, 1}}},
	}
}

// crossSubjectSnapshot enrolls one student in two subjects held by
// different teachers, one week, so the student-level rows are what decide
// feasibility.
func crossSubjectSnapshot(secondStart int) *timetable.Snapshot {
	return &timetable.Snapshot{
		General:  timetable.GeneralData{WeekCount: 1},
		Periods:  []timetable.Period{{Name: "P1", FirstWeek: 0, WeekCount: 1}},
		Patterns: []timetable.WeekPattern{{Name: "toutes", Weeks: []int{0}}},
		Subjects: []timetable.Subject{
			{Name: "maths", Duration: 60, Pattern: 0, GroupSizeMin: 1, GroupSizeMax: 2,
				Periodicity: 1, StrictPeriodicity: true, Teachers: []timetable.TeacherID{0}},
			{Name: "physique", Duration: 60, Pattern: 0, GroupSizeMin: 1, GroupSizeMax: 2,
				Periodicity: 1, StrictPeriodicity: true, Teachers: []timetable.TeacherID{1}},
		},
		Teachers: []timetable.Teacher{
			{Name: "Durand", Subjects: []timetable.SubjectID{0}, Slots: []timetable.SlotID{0}},
			{Name: "Curie", Subjects: []timetable.SubjectID{1}, Slots: []timetable.SlotID{1}},
		},
		Slots: []timetable.Slot{
			{Teacher: 0, Day: timetable.Monday, Start: 17 * 60, Duration: 60, Pattern: 0},
			{Teacher: 1, Day: timetable.Monday, Start: secondStart, Duration: 60, Pattern: 0},
		},
		Students: []timetable.Student{{Name: "Alice", Subjects: []timetable.SubjectID{0, 1}}},
		Groups: []timetable.Group{
			{Name: "G1", Subject: 0, Students: []timetable.StudentID{0}},
			{Name: "G2", Subject: 1, Students: []timetable.StudentID{0}},
		},
		Associations: []timetable.Association{
			{Subject: 0, Groups: []timetable.GroupID{0}},
			{Subject: 1, Groups: []timetable.GroupID{1}},
		},
	}
}

func mustBuild(t *testing.T, cfg Config, snap *timetable.Snapshot, pins []Pin, prev *Schedule, contributors ...Contributor) *Problem {
	t.Helper()
	prob, err := NewBuilder(cfg, contributors...).Build(context.Background(), snap, pins, prev)
	require.NoError(t, err)
	return prob
}

func mustSolve(t *testing.T, prob *Problem) (*solver.Outcome, *Schedule) {
	t.Helper()
	out, err := (&branchbound.Solver{}).Solve(context.Background(), prob.ILP, solver.Options{})
	require.NoError(t, err)
	require.Equal(t, solver.StatusOptimal, out.Status)
	sched, err := prob.Extract(out, 0)
	require.NoError(t, err)
	return out, sched
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	return appErrors.FromError(err).Code
}

// --- Model shape ---

func TestBuildRotationModelShape(t *testing.T) {
	prob := mustBuild(t, Config{}, rotationSnapshot(), nil, nil)

	assert.Equal(t, BuildStats{
		DecisionVars: 16,
		AuxVars:      0,
		Rows:         24,
		Requirements: 8,
		Pinned:       0,
	}, prob.Stats)

	v, ok := prob.Table.Lookup(VarKey{Week: 0, Subject: 0, Group: 0, Teacher: 0, Slot: 0})
	require.True(t, ok)
	assert.Equal(t, ilp.Var(0), v)
	_, ok = prob.Table.Lookup(VarKey{Week: 0, Subject: 0, Group: 0, Teacher: 1, Slot: 0})
	assert.False(t, ok, "teacher 1 does not own slot 0")
}

func TestBuildIsDeterministic(t *testing.T) {
	snap := rotationSnapshot()
	first := mustBuild(t, Config{BalanceWeight: 2, RepeatWindow: 2, RepeatPenaltyWeight: 1}, snap, nil, nil)
	second := mustBuild(t, Config{BalanceWeight: 2, RepeatWindow: 2, RepeatPenaltyWeight: 1}, snap, nil, nil)

	require.Equal(t, first.ILP.Compress(), second.ILP.Compress())
}

func TestBuildRejectsInvalidSnapshot(t *testing.T) {
	snap := rotationSnapshot()
	snap.Subjects[0].Duration = 0

	_, err := NewBuilder(Config{}).Build(context.Background(), snap, nil, nil)
	assert.Equal(t, appErrors.ErrSnapshotInvalid.Code, errCode(t, err))
}

func TestBuildStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBuilder(Config{}).Build(ctx, rotationSnapshot(), nil, nil)
	require.ErrorIs(t, err, context.Canceled)
}

// --- Solve round trips ---

func TestBuildSolveExtractRotation(t *testing.T) {
	prob := mustBuild(t, Config{}, rotationSnapshot(), nil, nil)
	out, sched := mustSolve(t, prob)

	assert.Zero(t, out.Objective)
	require.Len(t, sched.Assignments, 8)
	for w := 0; w < 4; w++ {
		res1, ok := sched.ResourceFor(AssignmentKey{Week: w, Subject: 0, Group: 0})
		require.True(t, ok)
		res2, ok := sched.ResourceFor(AssignmentKey{Week: w, Subject: 0, Group: 1})
		require.True(t, ok)
		assert.NotEqual(t, res1.Teacher, res2.Teacher, "week %d: both groups on one teacher", w)
	}

	rows := sched.Rows()
	require.Len(t, rows, 8)
	assert.Equal(t, 0, rows[0].Week)
	assert.Equal(t, timetable.GroupID(0), rows[0].Group)
	assert.Equal(t, ObjectiveBreakdown{}, sched.Breakdown())
}

func TestBuildInfeasibleWhenSlotContended(t *testing.T) {
	prob := mustBuild(t, Config{}, contendedSnapshot(1, 1), nil, nil)

	out, err := (&branchbound.Solver{}).Solve(context.Background(), prob.ILP, solver.Options{})
	require.NoError(t, err)
	assert.Equal(t, solver.StatusInfeasible, out.Status)
}

func TestBuildAlternatesUnderPeriodicityTwo(t *testing.T) {
	prob := mustBuild(t, Config{}, contendedSnapshot(2, 2), nil, nil)
	require.Equal(t, 2, prob.Stats.Requirements)

	_, sched := mustSolve(t, prob)
	require.Len(t, sched.Assignments, 2)
	rows := sched.Rows()
	assert.NotEqual(t, rows[0].Week, rows[1].Week, "groups must take turns on the only slot")
}

func TestBuildBalancedRotationCostsNothing(t *testing.T) {
	prob := mustBuild(t, Config{BalanceWeight: 1}, rotationSnapshot(), nil, nil)
	assert.Equal(t, 12, prob.Stats.AuxVars)

	out, sched := mustSolve(t, prob)
	assert.Zero(t, out.Objective)
	assert.Zero(t, sched.Breakdown().Balance)
}

func TestBuildRepeatFreeRotationCostsNothing(t *testing.T) {
	prob := mustBuild(t, Config{RepeatWindow: 2, RepeatPenaltyWeight: 1}, rotationSnapshot(), nil, nil)
	assert.Equal(t, 12, prob.Stats.AuxVars)

	out, sched := mustSolve(t, prob)
	assert.Zero(t, out.Objective)
	assert.Zero(t, sched.Breakdown().Repeat)
}

// --- Student-level rows ---

func TestBuildWeeklyCapDecidesFeasibility(t *testing.T) {
	snap := crossSubjectSnapshot(18 * 60)
	snap.General.MaxCollesPerWeek = 1
	prob := mustBuild(t, Config{}, snap, nil, nil)
	out, err := (&branchbound.Solver{}).Solve(context.Background(), prob.ILP, solver.Options{})
	require.NoError(t, err)
	assert.Equal(t, solver.StatusInfeasible, out.Status)

	snap = crossSubjectSnapshot(18 * 60)
	snap.General.MaxCollesPerWeek = 2
	prob = mustBuild(t, Config{}, snap, nil, nil)
	_, sched := mustSolve(t, prob)
	assert.Len(t, sched.Assignments, 2)
}

func TestBuildRejectsOverlappingStudentSlots(t *testing.T) {
	prob := mustBuild(t, Config{}, crossSubjectSnapshot(17*60+30), nil, nil)

	out, err := (&branchbound.Solver{}).Solve(context.Background(), prob.ILP, solver.Options{})
	require.NoError(t, err)
	assert.Equal(t, solver.StatusInfeasible, out.Status)
}

func TestBuildHonorsIncompatibilityBudget(t *testing.T) {
	snap := crossSubjectSnapshot(18 * 60)
	snap.Incompatibilities = []timetable.Incompatibility{
		{Name: "internat", Slots: []timetable.SlotID{0, 1}, MaxCount: 1},
	}
	prob := mustBuild(t, Config{}, snap, nil, nil)
	out, err := (&branchbound.Solver{}).Solve(context.Background(), prob.ILP, solver.Options{})
	require.NoError(t, err)
	assert.Equal(t, solver.StatusInfeasible, out.Status)

	snap.Incompatibilities[0].MaxCount = 2
	prob = mustBuild(t, Config{}, snap, nil, nil)
	_, sched := mustSolve(t, prob)
	assert.Len(t, sched.Assignments, 2)
}

// --- Pins ---

func TestBuildHonorsPins(t *testing.T) {
	pins := []Pin{{
		Key:      AssignmentKey{Week: 0, Subject: 0, Group: 0},
		Resource: Resource{Teacher: 1, Slot: 1},
	}}
	prob := mustBuild(t, Config{}, rotationSnapshot(), pins, nil)

	assert.Equal(t, 1, prob.Stats.Pinned)
	assert.Equal(t, 14, prob.Stats.DecisionVars, "pinned key keeps only its own candidate, full slots prune the rest")

	v, ok := prob.Table.Lookup(VarKey{Week: 0, Subject: 0, Group: 0, Teacher: 1, Slot: 1})
	require.True(t, ok)
	val, fixed := prob.ILP.Fixed(v)
	require.True(t, fixed)
	assert.Equal(t, 1, val)

	_, sched := mustSolve(t, prob)
	res, ok := sched.ResourceFor(AssignmentKey{Week: 0, Subject: 0, Group: 0})
	require.True(t, ok)
	assert.Equal(t, Resource{Teacher: 1, Slot: 1}, res)
	assert.Equal(t, []AssignmentKey{{Week: 0, Subject: 0, Group: 0}}, sched.PinnedKeys())
}

func TestBuildDeduplicatesIdenticalPins(t *testing.T) {
	pin := Pin{Key: AssignmentKey{Week: 0, Subject: 0, Group: 0}, Resource: Resource{Teacher: 1, Slot: 1}}
	prob := mustBuild(t, Config{}, rotationSnapshot(), []Pin{pin, pin}, nil)
	assert.Equal(t, 1, prob.Stats.Pinned)
}

func TestBuildRejectsContradictoryPins(t *testing.T) {
	pins := []Pin{
		{Key: AssignmentKey{Week: 0, Subject: 0, Group: 0}, Resource: Resource{Teacher: 0, Slot: 0}},
		{Key: AssignmentKey{Week: 0, Subject: 0, Group: 0}, Resource: Resource{Teacher: 1, Slot: 1}},
	}
	_, err := NewBuilder(Config{}).Build(context.Background(), rotationSnapshot(), pins, nil)
	assert.Equal(t, appErrors.ErrPinNotFeasible.Code, errCode(t, err))
	assert.Contains(t, err.Error(), "different resource")
}

func TestBuildRejectsMisshapenPins(t *testing.T) {
	cases := []struct {
		name   string
		pin    Pin
		reason string
	}{
		{
			name:   "week out of range",
			pin:    Pin{Key: AssignmentKey{Week: 9, Subject: 0, Group: 0}, Resource: Resource{Teacher: 0, Slot: 0}},
			reason: "week out of range",
		},
		{
			name:   "unknown subject",
			pin:    Pin{Key: AssignmentKey{Week: 0, Subject: 4, Group: 0}, Resource: Resource{Teacher: 0, Slot: 0}},
			reason: "unknown subject",
		},
		{
			name:   "slot of another teacher",
			pin:    Pin{Key: AssignmentKey{Week: 0, Subject: 0, Group: 0}, Resource: Resource{Teacher: 0, Slot: 1}},
			reason: "slot belongs to another teacher",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewBuilder(Config{}).Build(context.Background(), rotationSnapshot(), []Pin{tc.pin}, nil)
			assert.Equal(t, appErrors.ErrPinNotFeasible.Code, errCode(t, err))
			assert.Contains(t, err.Error(), tc.reason)
		})
	}
}

func TestBuildRejectsPinsOverSlotCapacity(t *testing.T) {
	pins := []Pin{
		{Key: AssignmentKey{Week: 0, Subject: 0, Group: 0}, Resource: Resource{Teacher: 0, Slot: 0}},
		{Key: AssignmentKey{Week: 0, Subject: 0, Group: 1}, Resource: Resource{Teacher: 0, Slot: 0}},
	}
	_, err := NewBuilder(Config{}).Build(context.Background(), rotationSnapshot(), pins, nil)
	assert.Equal(t, appErrors.ErrPinNotFeasible.Code, errCode(t, err))
	assert.Contains(t, err.Error(), "slot hosts 2 pinned groups")
}

func TestBuildRejectsOverlappingPinsForSharedStudent(t *testing.T) {
	pins := []Pin{
		{Key: AssignmentKey{Week: 0, Subject: 0, Group: 0}, Resource: Resource{Teacher: 0, Slot: 0}},
		{Key: AssignmentKey{Week: 0, Subject: 1, Group: 1}, Resource: Resource{Teacher: 1, Slot: 1}},
	}
	_, err := NewBuilder(Config{}).Build(context.Background(), crossSubjectSnapshot(17*60+30), pins, nil)
	assert.Equal(t, appErrors.ErrPinNotFeasible.Code, errCode(t, err))
	assert.Contains(t, err.Error(), "overlaps the pin")
}

// --- Zero-candidate detection ---

func TestBuildReportsMissingCandidates(t *testing.T) {
	snap := rotationSnapshot()
	snap.Patterns = append(snap.Patterns, timetable.WeekPattern{Name: "impaires", Weeks: []int{1, 3}})
	for i := range snap.Slots {
		snap.Slots[i].Pattern = 1
	}

	_, err := NewBuilder(Config{}).Build(context.Background(), snap, nil, nil)
	assert.Equal(t, appErrors.ErrNoCandidate.Code, errCode(t, err))
	assert.Contains(t, err.Error(), `"maths"`)
	assert.Contains(t, err.Error(), `"G1"`)
	assert.Contains(t, err.Error(), "weeks 0")
}

// --- Custom contributions ---

type contributorFunc func(*ModelView) (Contribution, error)

func (f contributorFunc) Contribute(view *ModelView) (Contribution, error) { return f(view) }

func TestBuildAppliesCustomRows(t *testing.T) {
	banDurandForG1 := contributorFunc(func(view *ModelView) (Contribution, error) {
		var terms []ilp.Term
		view.Each(func(key VarKey, v ilp.Var) {
			if key.Group == 0 && key.Teacher == 0 {
				terms = append(terms, ilp.Term{Var: v, Coef: 1})
			}
		})
		return Contribution{Rows: []ilp.Row{{Terms: terms, Sense: ilp.LE, RHS: 0, Tag: "G1 avoids Durand"}}}, nil
	})

	prob := mustBuild(t, Config{}, rotationSnapshot(), nil, nil, banDurandForG1)
	_, sched := mustSolve(t, prob)
	for w := 0; w < 4; w++ {
		res, ok := sched.ResourceFor(AssignmentKey{Week: w, Subject: 0, Group: 0})
		require.True(t, ok)
		assert.Equal(t, timetable.TeacherID(1), res.Teacher)
	}
}

func TestBuildAppliesCustomObjective(t *testing.T) {
	preferMartinForG1 := contributorFunc(func(view *ModelView) (Contribution, error) {
		var terms []ilp.Term
		view.Each(func(key VarKey, v ilp.Var) {
			if key.Group == 0 && key.Teacher == 0 {
				terms = append(terms, ilp.Term{Var: v, Coef: 2})
			}
		})
		return Contribution{Terms: terms}, nil
	})

	prob := mustBuild(t, Config{}, rotationSnapshot(), nil, nil, preferMartinForG1)
	out, sched := mustSolve(t, prob)
	assert.Zero(t, out.Objective)
	assert.Zero(t, sched.Breakdown().Custom)
	for w := 0; w < 4; w++ {
		res, ok := sched.ResourceFor(AssignmentKey{Week: w, Subject: 0, Group: 0})
		require.True(t, ok)
		assert.Equal(t, timetable.TeacherID(1), res.Teacher)
	}
}

func TestBuildRejectsBrokenContributors(t *testing.T) {
	cases := []struct {
		name string
		c    Contributor
	}{
		{
			name: "returns error",
			c: contributorFunc(func(*ModelView) (Contribution, error) {
				return Contribution{}, errors.New("script blew up")
			}),
		},
		{
			name: "row references unknown variable",
			c: contributorFunc(func(*ModelView) (Contribution, error) {
				return Contribution{Rows: []ilp.Row{{
					Terms: []ilp.Term{{Var: 999, Coef: 1}},
					Sense: ilp.LE,
					RHS:   1,
				}}}, nil
			}),
		},
		{
			name: "term references auxiliary variable",
			c: contributorFunc(func(view *ModelView) (Contribution, error) {
				return Contribution{Terms: []ilp.Term{{Var: ilp.Var(view.NumDecisions()), Coef: 1}}}, nil
			}),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewBuilder(Config{}, tc.c).Build(context.Background(), rotationSnapshot(), nil, nil)
			assert.Equal(t, appErrors.ErrInvalidCustomRow.Code, errCode(t, err))
		})
	}
}
