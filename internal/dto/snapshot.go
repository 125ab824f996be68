package dto

import "github.com/prepa-tools/colloscope-api/internal/timetable"

// SnapshotDTO is the wire form of the domain model. Entities reference each
// other by their position in these lists, mirroring the arena layout.
type SnapshotDTO struct {
	WeekCount         int                  `json:"weekCount" validate:"required,min=1"`
	MaxCollesPerWeek  int                  `json:"maxCollesPerWeek" validate:"min=0"`
	Periods           []PeriodDTO          `json:"periods" validate:"required,min=1,dive"`
	Patterns          []WeekPatternDTO     `json:"patterns" validate:"required,min=1,dive"`
	Subjects          []SubjectDTO         `json:"subjects" validate:"required,min=1,dive"`
	Teachers          []TeacherDTO         `json:"teachers" validate:"required,min=1,dive"`
	Slots             []SlotDTO            `json:"slots" validate:"required,min=1,dive"`
	Students          []StudentDTO         `json:"students" validate:"omitempty,dive"`
	Groups            []GroupDTO           `json:"groups" validate:"required,min=1,dive"`
	Associations      []AssociationDTO     `json:"associations" validate:"required,min=1,dive"`
	Incompatibilities []IncompatibilityDTO `json:"incompatibilities" validate:"omitempty,dive"`
}

// PeriodDTO is a contiguous run of week indices.
type PeriodDTO struct {
	Name      string `json:"name" validate:"required"`
	FirstWeek int    `json:"firstWeek" validate:"min=0"`
	WeekCount int    `json:"weekCount" validate:"required,min=1"`
}

// WeekPatternDTO names a reusable set of week indices.
type WeekPatternDTO struct {
	Name  string `json:"name" validate:"required"`
	Weeks []int  `json:"weeks" validate:"omitempty,dive,min=0"`
}

// SubjectDTO describes one examined discipline and its rotation tuning.
type SubjectDTO struct {
	Name              string `json:"name" validate:"required"`
	Duration          int    `json:"duration" validate:"required,min=1"`
	Pattern           int    `json:"pattern" validate:"min=0"`
	GroupSizeMin      int    `json:"groupSizeMin" validate:"min=0"`
	GroupSizeMax      int    `json:"groupSizeMax" validate:"min=0"`
	Periodicity       int    `json:"periodicity" validate:"required,min=1"`
	StrictPeriodicity bool   `json:"strictPeriodicity"`
	MaxGroupsPerSlot  int    `json:"maxGroupsPerSlot" validate:"min=0"`
	Teachers          []int  `json:"teachers" validate:"omitempty,dive,min=0"`
}

// TeacherDTO lists the subjects a teacher holds and the slots it owns.
type TeacherDTO struct {
	Name     string `json:"name" validate:"required"`
	Subjects []int  `json:"subjects" validate:"omitempty,dive,min=0"`
	Slots    []int  `json:"slots" validate:"omitempty,dive,min=0"`
}

// SlotDTO is a weekly resource owned by one teacher. Day 0 is Monday and
// start is minutes from midnight.
type SlotDTO struct {
	Teacher  int `json:"teacher" validate:"min=0"`
	Day      int `json:"day" validate:"min=0,max=6"`
	Start    int `json:"start" validate:"min=0,max=1439"`
	Duration int `json:"duration" validate:"required,min=1"`
	Pattern  int `json:"pattern" validate:"min=0"`
}

// StudentDTO carries identity and subject enrolments.
type StudentDTO struct {
	Name     string `json:"name" validate:"required"`
	Subjects []int  `json:"subjects" validate:"omitempty,dive,min=0"`
}

// GroupDTO is a fixed partition of students for one subject.
type GroupDTO struct {
	Name     string `json:"name" validate:"required"`
	Subject  int    `json:"subject" validate:"min=0"`
	Students []int  `json:"students" validate:"omitempty,dive,min=0"`
}

// AssociationDTO binds a subject to the groups rotating through it.
type AssociationDTO struct {
	Subject int   `json:"subject" validate:"min=0"`
	Groups  []int `json:"groups" validate:"required,min=1,dive,min=0"`
}

// IncompatibilityDTO caps how many of the listed slots the bound students
// may occupy in one week. An empty student list binds every student.
type IncompatibilityDTO struct {
	Name     string `json:"name" validate:"required"`
	Slots    []int  `json:"slots" validate:"required,min=1,dive,min=0"`
	MaxCount int    `json:"maxCount" validate:"min=0"`
	Students []int  `json:"students" validate:"omitempty,dive,min=0"`
}

// ToSnapshot converts the wire form into the arena the pipeline consumes.
// Structural validation stays with timetable.Validate.
func (d *SnapshotDTO) ToSnapshot() *timetable.Snapshot {
	snap := &timetable.Snapshot{
		General: timetable.GeneralData{
			WeekCount:        d.WeekCount,
			MaxCollesPerWeek: d.MaxCollesPerWeek,
		},
		Periods:           make([]timetable.Period, len(d.Periods)),
		Patterns:          make([]timetable.WeekPattern, len(d.Patterns)),
		Subjects:          make([]timetable.Subject, len(d.Subjects)),
		Teachers:          make([]timetable.Teacher, len(d.Teachers)),
		Slots:             make([]timetable.Slot, len(d.Slots)),
		Students:          make([]timetable.Student, len(d.Students)),
		Groups:            make([]timetable.Group, len(d.Groups)),
		Associations:      make([]timetable.Association, len(d.Associations)),
		Incompatibilities: make([]timetable.Incompatibility, len(d.Incompatibilities)),
	}

	for i, p := range d.Periods {
		snap.Periods[i] = timetable.Period{Name: p.Name, FirstWeek: p.FirstWeek, WeekCount: p.WeekCount}
	}
	for i, p := range d.Patterns {
		snap.Patterns[i] = timetable.WeekPattern{Name: p.Name, Weeks: append([]int(nil), p.Weeks...)}
	}
	for i, s := range d.Subjects {
		snap.Subjects[i] = timetable.Subject{
			Name:              s.Name,
			Duration:          s.Duration,
			Pattern:           timetable.PatternID(s.Pattern),
			GroupSizeMin:      s.GroupSizeMin,
			GroupSizeMax:      s.GroupSizeMax,
			Periodicity:       s.Periodicity,
			StrictPeriodicity: s.StrictPeriodicity,
			MaxGroupsPerSlot:  s.MaxGroupsPerSlot,
			Teachers:          toTeacherIDs(s.Teachers),
		}
	}
	for i, t := range d.Teachers {
		snap.Teachers[i] = timetable.Teacher{
			Name:     t.Name,
			Subjects: toSubjectIDs(t.Subjects),
			Slots:    toSlotIDs(t.Slots),
		}
	}
	for i, s := range d.Slots {
		snap.Slots[i] = timetable.Slot{
			Teacher:  timetable.TeacherID(s.Teacher),
			Day:      timetable.Weekday(s.Day),
			Start:    s.Start,
			Duration: s.Duration,
			Pattern:  timetable.PatternID(s.Pattern),
		}
	}
	for i, s := range d.Students {
		snap.Students[i] = timetable.Student{Name: s.Name, Subjects: toSubjectIDs(s.Subjects)}
	}
	for i, g := range d.Groups {
		snap.Groups[i] = timetable.Group{
			Name:     g.Name,
			Subject:  timetable.SubjectID(g.Subject),
			Students: toStudentIDs(g.Students),
		}
	}
	for i, a := range d.Associations {
		snap.Associations[i] = timetable.Association{
			Subject: timetable.SubjectID(a.Subject),
			Groups:  toGroupIDs(a.Groups),
		}
	}
	for i, inc := range d.Incompatibilities {
		snap.Incompatibilities[i] = timetable.Incompatibility{
			Name:     inc.Name,
			Slots:    toSlotIDs(inc.Slots),
			MaxCount: inc.MaxCount,
			Students: toStudentIDs(inc.Students),
		}
	}

	return snap
}

func toSubjectIDs(in []int) []timetable.SubjectID {
	out := make([]timetable.SubjectID, len(in))
	for i, v := range in {
		out[i] = timetable.SubjectID(v)
	}
	return out
}

func toTeacherIDs(in []int) []timetable.TeacherID {
	out := make([]timetable.TeacherID, len(in))
	for i, v := range in {
		out[i] = timetable.TeacherID(v)
	}
	return out
}

func toSlotIDs(in []int) []timetable.SlotID {
	out := make([]timetable.SlotID, len(in))
	for i, v := range in {
		out[i] = timetable.SlotID(v)
	}
	return out
}

func toStudentIDs(in []int) []timetable.StudentID {
	out := make([]timetable.StudentID, len(in))
	for i, v := range in {
		out[i] = timetable.StudentID(v)
	}
	return out
}

func toGroupIDs(in []int) []timetable.GroupID {
	out := make([]timetable.GroupID, len(in))
	for i, v := range in {
		out[i] = timetable.GroupID(v)
	}
	return out
}
