package timetable

import (
	"fmt"
	"strings"
)

// ValidationError localizes one snapshot defect so the editing surface can
// point at the offending entity.
type ValidationError struct {
	Entity string
	Index  int
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s %d: %s", e.Entity, e.Index, e.Reason)
}

// ValidationErrors aggregates every defect found in a snapshot.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "snapshot invalid"
	}
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the structural integrity of a snapshot: periods partition
// the week range, references resolve, groups partition their students, and
// every numeric field is in range. Schedulability is not checked here; the
// model builder reports zero-candidate causes separately.
func Validate(s *Snapshot) error {
	var errs ValidationErrors
	add := func(entity string, index int, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Entity: entity, Index: index, Reason: fmt.Sprintf(format, args...)})
	}

	if s.General.WeekCount <= 0 {
		add("general", 0, "week count must be positive, got %d", s.General.WeekCount)
	}
	if s.General.MaxCollesPerWeek < 0 {
		add("general", 0, "max colles per week must not be negative")
	}

	next := 0
	for i, p := range s.Periods {
		if p.WeekCount <= 0 {
			add("period", i, "week count must be positive, got %d", p.WeekCount)
			continue
		}
		if p.FirstWeek != next {
			add("period", i, "starts at week %d, expected %d (periods must partition the year)", p.FirstWeek, next)
		}
		next = p.FirstWeek + p.WeekCount
	}
	if len(s.Periods) > 0 && s.General.WeekCount > 0 && next != s.General.WeekCount {
		add("period", len(s.Periods)-1, "periods cover %d weeks, snapshot has %d", next, s.General.WeekCount)
	}
	if len(s.Periods) == 0 && s.General.WeekCount > 0 {
		add("period", 0, "at least one period is required")
	}

	for i, p := range s.Patterns {
		prev := -1
		for _, w := range p.Weeks {
			if w < 0 || w >= s.General.WeekCount {
				add("pattern", i, "week %d outside range [0, %d)", w, s.General.WeekCount)
			}
			if w <= prev {
				add("pattern", i, "weeks must be strictly increasing")
				break
			}
			prev = w
		}
	}

	for i, sub := range s.Subjects {
		if sub.Duration <= 0 {
			add("subject", i, "duration must be positive")
		}
		if !s.patternValid(sub.Pattern) {
			add("subject", i, "unknown week pattern %d", sub.Pattern)
		}
		if sub.GroupSizeMin < 1 {
			add("subject", i, "group size minimum must be at least 1")
		}
		if sub.GroupSizeMax < sub.GroupSizeMin {
			add("subject", i, "group size maximum %d below minimum %d", sub.GroupSizeMax, sub.GroupSizeMin)
		}
		if sub.Periodicity < 1 {
			add("subject", i, "periodicity must be at least 1")
		}
		if sub.MaxGroupsPerSlot < 0 {
			add("subject", i, "max groups per slot must not be negative")
		}
		for _, t := range sub.Teachers {
			if int(t) < 0 || int(t) >= len(s.Teachers) {
				add("subject", i, "unknown teacher %d", t)
				continue
			}
			if !s.Teachers[t].Holds(SubjectID(i)) {
				add("subject", i, "teacher %q does not hold this subject", s.Teachers[t].Name)
			}
		}
	}

	for i, t := range s.Teachers {
		for _, sub := range t.Subjects {
			if int(sub) < 0 || int(sub) >= len(s.Subjects) {
				add("teacher", i, "unknown subject %d", sub)
			}
		}
		for _, sl := range t.Slots {
			if int(sl) < 0 || int(sl) >= len(s.Slots) {
				add("teacher", i, "unknown slot %d", sl)
				continue
			}
			if s.Slots[sl].Teacher != TeacherID(i) {
				add("teacher", i, "slot %d belongs to teacher %d", sl, s.Slots[sl].Teacher)
			}
		}
	}

	for i, sl := range s.Slots {
		if int(sl.Teacher) < 0 || int(sl.Teacher) >= len(s.Teachers) {
			add("slot", i, "unknown teacher %d", sl.Teacher)
		}
		if sl.Day < Monday || sl.Day > Sunday {
			add("slot", i, "invalid weekday %d", sl.Day)
		}
		if sl.Start < 0 || sl.Duration <= 0 || sl.Start+sl.Duration > minutesPerDay {
			add("slot", i, "time range [%d, %d) outside a single day", sl.Start, sl.Start+sl.Duration)
		}
		if !s.patternValid(sl.Pattern) {
			add("slot", i, "unknown week pattern %d", sl.Pattern)
		}
	}

	for i, st := range s.Students {
		seen := map[SubjectID]bool{}
		for _, sub := range st.Subjects {
			if int(sub) < 0 || int(sub) >= len(s.Subjects) {
				add("student", i, "unknown subject %d", sub)
				continue
			}
			if seen[sub] {
				add("student", i, "duplicate enrolment in subject %q", s.Subjects[sub].Name)
			}
			seen[sub] = true
		}
	}

	// A student sits in at most one group per subject.
	membership := map[SubjectID]map[StudentID]int{}
	for i, g := range s.Groups {
		if int(g.Subject) < 0 || int(g.Subject) >= len(s.Subjects) {
			add("group", i, "unknown subject %d", g.Subject)
			continue
		}
		sub := s.Subjects[g.Subject]
		if len(g.Students) < sub.GroupSizeMin || len(g.Students) > sub.GroupSizeMax {
			add("group", i, "size %d outside subject bounds [%d, %d]", len(g.Students), sub.GroupSizeMin, sub.GroupSizeMax)
		}
		for _, st := range g.Students {
			if int(st) < 0 || int(st) >= len(s.Students) {
				add("group", i, "unknown student %d", st)
				continue
			}
			if !studentEnrolled(s.Students[st], g.Subject) {
				add("group", i, "student %q not enrolled in subject %q", s.Students[st].Name, sub.Name)
			}
			if membership[g.Subject] == nil {
				membership[g.Subject] = map[StudentID]int{}
			}
			if other, ok := membership[g.Subject][st]; ok {
				add("group", i, "student %q already in group %d for the same subject", s.Students[st].Name, other)
			} else {
				membership[g.Subject][st] = i
			}
		}
	}

	seenSubject := map[SubjectID]int{}
	for i, a := range s.Associations {
		if int(a.Subject) < 0 || int(a.Subject) >= len(s.Subjects) {
			add("association", i, "unknown subject %d", a.Subject)
			continue
		}
		if other, ok := seenSubject[a.Subject]; ok {
			add("association", i, "subject already bound by association %d", other)
		} else {
			seenSubject[a.Subject] = i
		}
		if len(a.Groups) == 0 {
			add("association", i, "at least one group is required")
		}
		seenGroup := map[GroupID]bool{}
		for _, g := range a.Groups {
			if int(g) < 0 || int(g) >= len(s.Groups) {
				add("association", i, "unknown group %d", g)
				continue
			}
			if s.Groups[g].Subject != a.Subject {
				add("association", i, "group %q belongs to subject %d", s.Groups[g].Name, s.Groups[g].Subject)
			}
			if seenGroup[g] {
				add("association", i, "duplicate group %q", s.Groups[g].Name)
			}
			seenGroup[g] = true
		}
	}

	for i, inc := range s.Incompatibilities {
		if len(inc.Slots) == 0 {
			add("incompatibility", i, "at least one slot is required")
		}
		if inc.MaxCount < 0 {
			add("incompatibility", i, "max count must not be negative")
		}
		for _, sl := range inc.Slots {
			if int(sl) < 0 || int(sl) >= len(s.Slots) {
				add("incompatibility", i, "unknown slot %d", sl)
			}
		}
		for _, st := range inc.Students {
			if int(st) < 0 || int(st) >= len(s.Students) {
				add("incompatibility", i, "unknown student %d", st)
			}
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (s *Snapshot) patternValid(id PatternID) bool {
	return int(id) >= 0 && int(id) < len(s.Patterns)
}

func studentEnrolled(st Student, subject SubjectID) bool {
	for _, sub := range st.Subjects {
		if sub == subject {
			return true
		}
	}
	return false
}
