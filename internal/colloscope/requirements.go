package colloscope

import (
	"sort"

	"github.com/prepa-tools/colloscope-api/internal/timetable"
)

// Requirement is one coverage demand: within Weeks, the group must sit its
// subject exactly Count times (Exact) or at most Count times. Weeks never
// span a period boundary.
type Requirement struct {
	Subject timetable.SubjectID
	Group   timetable.GroupID
	Weeks   []int
	Count   int
	Exact   bool
}

// computeRequirements derives the coverage demands from the associations,
// one set of rotation windows per (group, period).
//
// A window is a run of `Periodicity` consecutive active weeks. Strict
// periodicity demands exactly one interrogation per full window; a
// trailing partial window may host one. Loose periodicity caps every
// window at one and demands exactly floor(active/Periodicity)
// interrogations over the period, letting the rotation drift across window
// boundaries.
func computeRequirements(s *timetable.Snapshot) []Requirement {
	var reqs []Requirement
	for sid := range s.Subjects {
		subject := timetable.SubjectID(sid)
		assoc, ok := s.AssociationFor(subject)
		if !ok {
			continue
		}
		sub := s.Subjects[sid]
		period := sub.Periodicity
		if period < 1 {
			period = 1
		}
		active := s.SubjectActiveWeeks(subject)

		for pid := range s.Periods {
			weeks := weeksInPeriod(active, s.Periods[pid])
			if len(weeks) == 0 {
				continue
			}
			windows := chunkWeeks(weeks, period)
			for _, g := range sortedGroups(assoc.Groups) {
				for _, win := range windows {
					exact := sub.StrictPeriodicity && len(win) == period
					reqs = append(reqs, Requirement{
						Subject: subject,
						Group:   g,
						Weeks:   win,
						Count:   1,
						Exact:   exact,
					})
				}
				if !sub.StrictPeriodicity {
					if q := len(weeks) / period; q >= 1 {
						reqs = append(reqs, Requirement{
							Subject: subject,
							Group:   g,
							Weeks:   weeks,
							Count:   q,
							Exact:   true,
						})
					}
				}
			}
		}
	}
	return reqs
}

func weeksInPeriod(active []int, p timetable.Period) []int {
	var out []int
	for _, w := range active {
		if p.Contains(w) {
			out = append(out, w)
		}
	}
	return out
}

func chunkWeeks(weeks []int, size int) [][]int {
	var out [][]int
	for len(weeks) > size {
		out = append(out, weeks[:size])
		weeks = weeks[size:]
	}
	if len(weeks) > 0 {
		out = append(out, weeks)
	}
	return out
}

func sortedGroups(groups []timetable.GroupID) []timetable.GroupID {
	out := make([]timetable.GroupID, len(groups))
	copy(out, groups)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
