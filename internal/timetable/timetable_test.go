package timetable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weekRange(n int) []int {
	weeks := make([]int, n)
	for i := range weeks {
		weeks[i] = i
	}
	return weeks
}

func validSnapshot() *Snapshot {
	return &Snapshot{
		General: GeneralData{WeekCount: 10},
		Periods: []Period{{Name: "P1", FirstWeek: 0, WeekCount: 10}},
		Patterns: []WeekPattern{
			{Name: "every week", Weeks: weekRange(10)},
			{Name: "odd weeks", Weeks: []int{1, 3, 5, 7, 9}},
		},
		Subjects: []Subject{{
			Name:         "maths",
			Duration:     60,
			Pattern:      0,
			GroupSizeMin: 1,
			GroupSizeMax: 3,
			Periodicity:  1,
			Teachers:     []TeacherID{0},
		}},
		Teachers: []Teacher{{Name: "Durand", Subjects: []SubjectID{0}, Slots: []SlotID{0, 1}}},
		Slots: []Slot{
			{Teacher: 0, Day: Monday, Start: 17 * 60, Duration: 60, Pattern: 0},
			{Teacher: 0, Day: Monday, Start: 18 * 60, Duration: 60, Pattern: 1},
		},
		Students: []Student{
			{Name: "Alice", Subjects: []SubjectID{0}},
			{Name: "Bob", Subjects: []SubjectID{0}},
		},
		Groups: []Group{
			{Name: "G1", Subject: 0, Students: []StudentID{0}},
			{Name: "G2", Subject: 0, Students: []StudentID{1}},
		},
		Associations: []Association{{Subject: 0, Groups: []GroupID{0, 1}}},
	}
}

func TestPeriodOf(t *testing.T) {
	s := validSnapshot()
	s.Periods = []Period{
		{Name: "P1", FirstWeek: 0, WeekCount: 6},
		{Name: "P2", FirstWeek: 6, WeekCount: 4},
	}

	p, ok := s.PeriodOf(5)
	require.True(t, ok)
	assert.Equal(t, PeriodID(0), p)

	p, ok = s.PeriodOf(6)
	require.True(t, ok)
	assert.Equal(t, PeriodID(1), p)

	_, ok = s.PeriodOf(10)
	assert.False(t, ok)
}

func TestPatternWeeksClipsToRange(t *testing.T) {
	s := validSnapshot()
	s.Patterns = append(s.Patterns, WeekPattern{Name: "overflow", Weeks: []int{8, 9, 10, 11}})

	assert.Equal(t, []int{8, 9}, s.PatternWeeks(PatternID(2)))
	assert.Nil(t, s.PatternWeeks(PatternID(99)))
}

func TestSlotActive(t *testing.T) {
	s := validSnapshot()

	assert.True(t, s.SlotActive(0, 4))
	assert.True(t, s.SlotActive(1, 3))
	assert.False(t, s.SlotActive(1, 4), "slot 1 exists on odd weeks only")
	assert.False(t, s.SlotActive(0, 42))
}

func TestOverlapsInTime(t *testing.T) {
	base := Slot{Day: Monday, Start: 17 * 60, Duration: 60}

	assert.True(t, OverlapsInTime(base, Slot{Day: Monday, Start: 17*60 + 30, Duration: 60}))
	assert.True(t, OverlapsInTime(base, base))
	assert.False(t, OverlapsInTime(base, Slot{Day: Monday, Start: 18 * 60, Duration: 60}), "back to back slots do not overlap")
	assert.False(t, OverlapsInTime(base, Slot{Day: Tuesday, Start: 17 * 60, Duration: 60}), "different days never overlap")
}

func TestGroupsOf(t *testing.T) {
	s := validSnapshot()

	assert.Equal(t, []GroupID{0}, s.GroupsOf(0))
	assert.Equal(t, []GroupID{1}, s.GroupsOf(1))
	assert.Empty(t, s.GroupsOf(99))
}

func TestValidateAcceptsWellFormedSnapshot(t *testing.T) {
	require.NoError(t, Validate(validSnapshot()))
}

func TestValidateRejectsBrokenPeriodPartition(t *testing.T) {
	s := validSnapshot()
	s.Periods = []Period{
		{Name: "P1", FirstWeek: 0, WeekCount: 4},
		{Name: "P2", FirstWeek: 5, WeekCount: 5},
	}

	err := Validate(s)
	require.Error(t, err)
	var errs ValidationErrors
	require.ErrorAs(t, err, &errs)
	assert.Equal(t, "period", errs[0].Entity)
}

func TestValidateRejectsForeignSlotOnTeacher(t *testing.T) {
	s := validSnapshot()
	s.Teachers = append(s.Teachers, Teacher{Name: "Martin", Slots: []SlotID{0}})

	err := Validate(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "belongs to teacher")
}

func TestValidateRejectsStudentInTwoGroupsOfOneSubject(t *testing.T) {
	s := validSnapshot()
	s.Groups[1].Students = []StudentID{0, 1}

	err := Validate(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in group")
}

func TestValidateRejectsGroupOutsideSizeBounds(t *testing.T) {
	s := validSnapshot()
	s.Subjects[0].GroupSizeMin = 2
	s.Subjects[0].GroupSizeMax = 3

	err := Validate(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside subject bounds")
}

func TestValidateRejectsUnsortedPattern(t *testing.T) {
	s := validSnapshot()
	s.Patterns[1].Weeks = []int{3, 1}

	err := Validate(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strictly increasing")
}

func TestValidateRejectsAssociationSubjectMismatch(t *testing.T) {
	s := validSnapshot()
	s.Subjects = append(s.Subjects, Subject{
		Name: "physics", Duration: 60, Pattern: 0,
		GroupSizeMin: 1, GroupSizeMax: 3, Periodicity: 1,
	})
	s.Associations = append(s.Associations, Association{Subject: 1, Groups: []GroupID{0}})

	err := Validate(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "belongs to subject")
}

func TestValidateRejectsSlotSpillingPastMidnight(t *testing.T) {
	s := validSnapshot()
	s.Slots[0].Start = 23 * 60
	s.Slots[0].Duration = 120

	err := Validate(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside a single day")
}
