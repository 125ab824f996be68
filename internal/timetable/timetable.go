// Package timetable holds the domain model the solver pipeline consumes: an
// arena of periods, week patterns, subjects, teachers, slots, students,
// groups and their relations, all referenced by dense integer ids. A
// Snapshot is immutable by convention; the pipeline never mutates one.
package timetable

// Entity ids index into the owning Snapshot slices.
type (
	PeriodID  int
	PatternID int
	SubjectID int
	TeacherID int
	SlotID    int
	StudentID int
	GroupID   int
	IncompatID int
)

// Weekday follows the French school convention of weeks starting on Monday.
type Weekday int8

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [...]string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

func (d Weekday) String() string {
	if d < Monday || d > Sunday {
		return "invalid"
	}
	return weekdayNames[d]
}

// Period is a named contiguous range of week indices. Periods partition the
// whole week range of the snapshot in order.
type Period struct {
	Name      string
	FirstWeek int
	WeekCount int
}

// Contains reports whether the week index falls inside the period.
func (p Period) Contains(week int) bool {
	return week >= p.FirstWeek && week < p.FirstWeek+p.WeekCount
}

// WeekPattern is a reusable set of week indices on which something recurs.
type WeekPattern struct {
	Name  string
	Weeks []int
}

// Subject describes one examined discipline.
type Subject struct {
	Name     string
	Duration int // colle length in minutes
	Pattern  PatternID

	GroupSizeMin int
	GroupSizeMax int

	// Periodicity is expressed in active weeks of the pattern: 1 means one
	// colle per active week, 2 one colle per two active weeks, and so on.
	// When StrictPeriodicity is false only the total count per period is
	// enforced and colles may drift across window boundaries.
	Periodicity       int
	StrictPeriodicity bool

	// MaxGroupsPerSlot lifts the one-group-per-slot rule for subjects where
	// the teacher examines several groups at once. Zero means 1.
	MaxGroupsPerSlot int

	Teachers []TeacherID
}

// SlotCapacity returns the effective group capacity of this subject's slots.
func (s Subject) SlotCapacity() int {
	if s.MaxGroupsPerSlot <= 0 {
		return 1
	}
	return s.MaxGroupsPerSlot
}

// Teacher offers examination slots for the subjects it holds.
type Teacher struct {
	Name     string
	Subjects []SubjectID
	Slots    []SlotID
}

// Holds reports whether the teacher examines the given subject.
func (t Teacher) Holds(subject SubjectID) bool {
	for _, s := range t.Subjects {
		if s == subject {
			return true
		}
	}
	return false
}

// Slot is a weekly (day, start, duration) resource owned by one teacher,
// existing only on the weeks of its pattern.
type Slot struct {
	Teacher  TeacherID
	Day      Weekday
	Start    int // minutes from midnight
	Duration int // minutes
	Pattern  PatternID
}

// Incompatibility declares a set of slots of which the bound students may
// occupy at most MaxCount in any single week. MaxCount zero forbids the
// slots entirely (fixed external commitments). An empty Students list binds
// every student.
type Incompatibility struct {
	Name     string
	Slots    []SlotID
	MaxCount int
	Students []StudentID
}

// AppliesTo reports whether the set constrains the given student.
func (i Incompatibility) AppliesTo(student StudentID) bool {
	if len(i.Students) == 0 {
		return true
	}
	for _, s := range i.Students {
		if s == student {
			return true
		}
	}
	return false
}

// Student carries identity and subject enrolments. Group membership is held
// on the groups themselves.
type Student struct {
	Name     string
	Subjects []SubjectID
}

// Group is an ordered fixed partition of students that rotates as a unit
// through the teachers of one subject.
type Group struct {
	Name     string
	Subject  SubjectID
	Students []StudentID
}

// Association binds a subject to the groups enrolled in it. The rotation
// periodicity lives on the subject.
type Association struct {
	Subject SubjectID
	Groups  []GroupID
}

// GeneralData is cohort-wide tuning shared by every subject.
type GeneralData struct {
	WeekCount int
	// MaxCollesPerWeek caps the number of colles any student sits in one
	// week across all subjects. Zero means unlimited.
	MaxCollesPerWeek int
}

// Snapshot is the immutable domain model handed to the pipeline per solve
// attempt.
type Snapshot struct {
	General           GeneralData
	Periods           []Period
	Patterns          []WeekPattern
	Subjects          []Subject
	Teachers          []Teacher
	Slots             []Slot
	Students          []Student
	Groups            []Group
	Associations      []Association
	Incompatibilities []Incompatibility
}

// PeriodOf returns the period containing the week index.
func (s *Snapshot) PeriodOf(week int) (PeriodID, bool) {
	for i, p := range s.Periods {
		if p.Contains(week) {
			return PeriodID(i), true
		}
	}
	return 0, false
}

// PatternWeeks returns the sorted weeks of a pattern clipped to the
// snapshot's week range. Unknown patterns yield nil.
func (s *Snapshot) PatternWeeks(id PatternID) []int {
	if int(id) < 0 || int(id) >= len(s.Patterns) {
		return nil
	}
	weeks := make([]int, 0, len(s.Patterns[id].Weeks))
	for _, w := range s.Patterns[id].Weeks {
		if w >= 0 && w < s.General.WeekCount {
			weeks = append(weeks, w)
		}
	}
	return weeks
}

// SubjectActiveWeeks returns the weeks on which the subject's pattern is
// active.
func (s *Snapshot) SubjectActiveWeeks(id SubjectID) []int {
	if int(id) < 0 || int(id) >= len(s.Subjects) {
		return nil
	}
	return s.PatternWeeks(s.Subjects[id].Pattern)
}

// SlotActive reports whether the slot exists on the given week.
func (s *Snapshot) SlotActive(id SlotID, week int) bool {
	if int(id) < 0 || int(id) >= len(s.Slots) {
		return false
	}
	for _, w := range s.PatternWeeks(s.Slots[id].Pattern) {
		if w == week {
			return true
		}
	}
	return false
}

// AssociationFor returns the association of a subject, if declared.
func (s *Snapshot) AssociationFor(subject SubjectID) (Association, bool) {
	for _, a := range s.Associations {
		if a.Subject == subject {
			return a, true
		}
	}
	return Association{}, false
}

// GroupsOf lists the student's groups, one per enrolled subject at most.
func (s *Snapshot) GroupsOf(student StudentID) []GroupID {
	var out []GroupID
	for i, g := range s.Groups {
		for _, member := range g.Students {
			if member == student {
				out = append(out, GroupID(i))
				break
			}
		}
	}
	return out
}
