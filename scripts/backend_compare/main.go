package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/prepa-tools/colloscope-api/internal/colloscope"
	"github.com/prepa-tools/colloscope-api/internal/solver"
	_ "github.com/prepa-tools/colloscope-api/internal/solver/branchbound"
	_ "github.com/prepa-tools/colloscope-api/internal/solver/pbsat"
	"github.com/prepa-tools/colloscope-api/internal/timetable"
)

type backendRun struct {
	name      string
	status    solver.Status
	objective float64
	rows      int
	duration  time.Duration
	err       error
}

type caseResult struct {
	label    string
	runs     []backendRun
	breaking bool
	notes    []string
}

func main() {
	var (
		backendsFlag string
		cases        int
		seed         int64
		timeLimit    time.Duration
	)

	flag.StringVar(&backendsFlag, "backends", "branchbound,pbsat", "Comma separated backend names")
	flag.IntVar(&cases, "cases", 25, "Number of generated cases")
	flag.Int64Var(&seed, "seed", 1, "Generator seed")
	flag.DurationVar(&timeLimit, "time-limit", 30*time.Second, "Per solve time limit")
	flag.Parse()

	names := splitBackends(backendsFlag)
	if len(names) < 2 {
		log.Fatalf("need at least two backends to compare, got %v", names)
	}
	backends := make([]solver.Backend, len(names))
	for i, name := range names {
		b, err := solver.New(name)
		if err != nil {
			log.Fatalf("failed to select backend: %v", err)
		}
		backends[i] = b
	}

	r := rand.New(rand.NewSource(seed))
	builder := colloscope.NewBuilder(colloscope.Config{
		BalanceWeight:       1,
		RepeatWindow:        2,
		RepeatPenaltyWeight: 2,
	})

	var results []caseResult
	breaking := 0

	for i := 0; i < cases; i++ {
		snap := randomSnapshot(r)
		label := fmt.Sprintf("case #%d (weeks=%d subjects=%d groups=%d slots=%d)",
			i+1, snap.General.WeekCount, len(snap.Subjects), len(snap.Groups), len(snap.Slots))

		res := compareCase(builder, backends, snap, timeLimit, label)
		if res.breaking {
			breaking++
		}
		results = append(results, res)
	}

	printReport(results)

	fmt.Printf("Breaking diffs: %d in %d cases\n", breaking, cases)
	if breaking > 0 {
		os.Exit(1)
	}
}

func compareCase(builder *colloscope.Builder, backends []solver.Backend, snap *timetable.Snapshot, timeLimit time.Duration, label string) caseResult {
	res := caseResult{label: label}

	prob, err := builder.Build(context.Background(), snap, nil, nil)
	if err != nil {
		// Generated cases can be infeasible at build time; every backend
		// would see the same rejection, so nothing is left to compare.
		res.notes = append(res.notes, fmt.Sprintf("build rejected: %v", err))
		return res
	}

	for _, b := range backends {
		run := backendRun{name: b.Name()}
		start := time.Now()
		outcome, err := b.Solve(context.Background(), prob.ILP, solver.Options{TimeLimit: timeLimit})
		run.duration = time.Since(start)
		if err != nil {
			run.err = err
			res.runs = append(res.runs, run)
			res.breaking = true
			continue
		}
		run.status = outcome.Status
		run.objective = outcome.Objective
		if outcome.Status == solver.StatusOptimal || outcome.Status == solver.StatusFeasible {
			sched, err := prob.Extract(outcome, 0.5)
			if err != nil {
				run.err = fmt.Errorf("extract failed: %w", err)
				res.breaking = true
			} else {
				run.rows = len(sched.Assignments)
			}
		}
		res.runs = append(res.runs, run)
	}

	flagDiffs(&res)
	return res
}

// flagDiffs compares every run against the first one. Status disagreement
// is always breaking. Objectives and row counts must agree when both sides
// proved optimality; a feasible-only outcome just means a time limit fired.
func flagDiffs(res *caseResult) {
	if len(res.runs) < 2 {
		return
	}
	ref := res.runs[0]
	for _, run := range res.runs[1:] {
		if run.err != nil || ref.err != nil {
			continue
		}
		if run.status != ref.status {
			if run.status == solver.StatusFeasible || ref.status == solver.StatusFeasible {
				res.notes = append(res.notes, fmt.Sprintf("%s and %s disagree on proof (%s vs %s)", ref.name, run.name, ref.status, run.status))
				continue
			}
			res.breaking = true
			res.notes = append(res.notes, fmt.Sprintf("%s and %s disagree on status (%s vs %s)", ref.name, run.name, ref.status, run.status))
			continue
		}
		if ref.status != solver.StatusOptimal {
			continue
		}
		if run.objective != ref.objective {
			res.breaking = true
			res.notes = append(res.notes, fmt.Sprintf("%s and %s disagree on optimum (%g vs %g)", ref.name, run.name, ref.objective, run.objective))
		}
		if run.rows != ref.rows {
			res.breaking = true
			res.notes = append(res.notes, fmt.Sprintf("%s and %s disagree on assignment count (%d vs %d)", ref.name, run.name, ref.rows, run.rows))
		}
	}
}

// randomSnapshot draws a small rotation: per subject two teachers holding
// one weekly slot each, four students split into two groups. Slots land on
// distinct days so cross subject overlaps never make a case unsolvable by
// construction.
func randomSnapshot(r *rand.Rand) *timetable.Snapshot {
	weekCount := 4 + 2*r.Intn(4)
	subjectCount := 1 + r.Intn(2)

	allWeeks := make([]int, weekCount)
	for i := range allWeeks {
		allWeeks[i] = i
	}

	snap := &timetable.Snapshot{
		General:  timetable.GeneralData{WeekCount: weekCount},
		Periods:  []timetable.Period{{Name: "periode", FirstWeek: 0, WeekCount: weekCount}},
		Patterns: []timetable.WeekPattern{{Name: "toutes", Weeks: allWeeks}},
		Students: []timetable.Student{
			{Name: "s1"}, {Name: "s2"}, {Name: "s3"}, {Name: "s4"},
		},
	}

	for s := 0; s < subjectCount; s++ {
		periodicity := 1 + r.Intn(2)
		t0 := timetable.TeacherID(2 * s)
		t1 := timetable.TeacherID(2*s + 1)

		snap.Subjects = append(snap.Subjects, timetable.Subject{
			Name:              fmt.Sprintf("subject-%d", s),
			Duration:          60,
			GroupSizeMin:      1,
			GroupSizeMax:      3,
			Periodicity:       periodicity,
			StrictPeriodicity: r.Intn(2) == 0,
			Teachers:          []timetable.TeacherID{t0, t1},
		})

		sl0 := timetable.SlotID(len(snap.Slots))
		sl1 := sl0 + 1
		snap.Slots = append(snap.Slots,
			timetable.Slot{Teacher: t0, Day: timetable.Weekday(2 * s), Start: 17 * 60, Duration: 60},
			timetable.Slot{Teacher: t1, Day: timetable.Weekday(2*s + 1), Start: 17 * 60, Duration: 60},
		)
		snap.Teachers = append(snap.Teachers,
			timetable.Teacher{Name: fmt.Sprintf("teacher-%d", t0), Subjects: []timetable.SubjectID{timetable.SubjectID(s)}, Slots: []timetable.SlotID{sl0}},
			timetable.Teacher{Name: fmt.Sprintf("teacher-%d", t1), Subjects: []timetable.SubjectID{timetable.SubjectID(s)}, Slots: []timetable.SlotID{sl1}},
		)

		g0 := timetable.GroupID(len(snap.Groups))
		g1 := g0 + 1
		snap.Groups = append(snap.Groups,
			timetable.Group{Name: fmt.Sprintf("g%d", g0), Subject: timetable.SubjectID(s), Students: []timetable.StudentID{0, 1}},
			timetable.Group{Name: fmt.Sprintf("g%d", g1), Subject: timetable.SubjectID(s), Students: []timetable.StudentID{2, 3}},
		)
		snap.Associations = append(snap.Associations, timetable.Association{
			Subject: timetable.SubjectID(s),
			Groups:  []timetable.GroupID{g0, g1},
		})

		for st := range snap.Students {
			snap.Students[st].Subjects = append(snap.Students[st].Subjects, timetable.SubjectID(s))
		}
	}

	return snap
}

func splitBackends(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func printReport(results []caseResult) {
	fmt.Println("Backend Compare Report")
	fmt.Println("======================")
	for _, res := range results {
		status := "OK"
		if res.breaking {
			status = "DIFF"
		}
		fmt.Printf("[%s] %s\n", status, res.label)
		for _, run := range res.runs {
			if run.err != nil {
				fmt.Printf("  %s: error: %v (%s)\n", run.name, run.err, run.duration)
				continue
			}
			fmt.Printf("  %s: %s objective=%g rows=%d (%s)\n", run.name, run.status, run.objective, run.rows, run.duration)
		}
		for _, note := range res.notes {
			fmt.Printf("  note: %s\n", note)
		}
	}
}
