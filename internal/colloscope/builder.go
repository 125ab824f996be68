package colloscope

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/prepa-tools/colloscope-api/internal/ilp"
	"github.com/prepa-tools/colloscope-api/internal/timetable"
	appErrors "github.com/prepa-tools/colloscope-api/pkg/errors"
)

// Config carries the soft-objective weights. A zero weight disables the
// corresponding objective family.
type Config struct {
	BalanceWeight       int
	RepeatWindow        int
	RepeatPenaltyWeight int
	DisruptionWeight    int
	BuildWorkers        int
}

// BuildStats summarizes a built model for logging and metrics.
type BuildStats struct {
	DecisionVars int
	AuxVars      int
	Rows         int
	Requirements int
	Pinned       int
}

// Problem bundles everything one solve attempt needs: the model for the
// backend, the table for the extractor, and the inputs it was built from.
type Problem struct {
	ILP          *ilp.Model
	Table        *VarTable
	Requirements []Requirement
	Pins         []Pin
	Snapshot     *timetable.Snapshot
	Stats        BuildStats

	sources objectiveSources
}

// View exposes the problem's decision space the way contributors see it.
func (p *Problem) View() *ModelView {
	return &ModelView{table: p.Table, snap: p.Snapshot}
}

// objectiveSources keeps per-family objective terms so the extractor can
// report a breakdown after the solve.
type objectiveSources struct {
	balance    []ilp.Term
	repeat     []ilp.Term
	disruption []ilp.Term
	custom     []ilp.Term
}

// Builder turns snapshots into problems. It is stateless across builds and
// safe to reuse; per-build state lives in buildState.
type Builder struct {
	cfg          Config
	contributors []Contributor
}

func NewBuilder(cfg Config, contributors ...Contributor) *Builder {
	return &Builder{cfg: cfg, contributors: contributors}
}

// Build assembles the integer model for one attempt. Pins are fixed to 1
// through variable bounds, never rows. Enumeration is deterministic in
// ascending (week, subject, group, teacher, slot) order so equal inputs
// produce byte-identical models.
func (b *Builder) Build(ctx context.Context, snap *timetable.Snapshot, pins []Pin, prev *Schedule) (*Problem, error) {
	if err := timetable.Validate(snap); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrSnapshotInvalid.Code, appErrors.ErrSnapshotInvalid.Status, appErrors.ErrSnapshotInvalid.Message)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st := newBuildState(snap, b.cfg)
	if err := st.normalizePins(pins); err != nil {
		return nil, err
	}
	st.reqs = computeRequirements(snap)
	if err := st.checkPinConflicts(); err != nil {
		return nil, err
	}
	if err := st.enumerate(ctx); err != nil {
		return nil, err
	}
	if err := st.checkCoverage(); err != nil {
		return nil, err
	}
	if err := st.emitHardRows(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := st.emitSoftObjective(prev); err != nil {
		return nil, err
	}
	if err := st.applyContributions(b.contributors); err != nil {
		return nil, err
	}

	return &Problem{
		ILP:          st.model,
		Table:        st.table,
		Requirements: st.reqs,
		Pins:         st.pins,
		Snapshot:     snap,
		Stats: BuildStats{
			DecisionVars: st.table.NumDecisions(),
			AuxVars:      st.model.NumVars() - st.table.NumDecisions(),
			Rows:         st.model.NumRows(),
			Requirements: len(st.reqs),
			Pinned:       len(st.pins),
		},
		sources: st.sources,
	}, nil
}

// --- Per-build state ---

type slotWeek struct {
	Slot timetable.SlotID
	Week int
}

type groupWeek struct {
	Group timetable.GroupID
	Week  int
}

type studentWeek struct {
	Student timetable.StudentID
	Week    int
}

type subjectTeacher struct {
	Subject timetable.SubjectID
	Teacher timetable.TeacherID
}

type groupTeacher struct {
	Group   timetable.GroupID
	Teacher timetable.TeacherID
}

type slotUsers struct {
	vars   []ilp.Var
	minCap int
}

type slotPinInfo struct {
	count  int
	minCap int
}

type buildState struct {
	snap  *timetable.Snapshot
	cfg   Config
	model *ilp.Model
	table *VarTable
	reqs  []Requirement
	pins  []Pin

	pinByKey    map[AssignmentKey]Resource
	pinsAtSlot  map[slotWeek]*slotPinInfo
	pinnedSlots map[studentWeek][]timetable.SlotID

	subjTeachers [][]timetable.TeacherID
	teachSlots   [][]timetable.SlotID
	assocGroups  [][]timetable.GroupID
	subjActive   [][]bool
	slotActive   [][]bool
	setsBySlot   map[timetable.SlotID][]timetable.IncompatID

	byGroupWeek  map[groupWeek][]ilp.Var
	bySlotWeek   map[slotWeek]*slotUsers
	byStudent    map[studentWeek]map[timetable.SlotID][]ilp.Var
	bySubjTeach  map[subjectTeacher][]ilp.Var
	byGroupTeach map[groupTeacher]map[int][]ilp.Var

	sources  objectiveSources
	rowDedup map[string]struct{}
}

func newBuildState(snap *timetable.Snapshot, cfg Config) *buildState {
	weeks := snap.General.WeekCount
	st := &buildState{
		snap:         snap,
		cfg:          cfg,
		model:        ilp.NewModel(),
		pinByKey:     make(map[AssignmentKey]Resource),
		pinsAtSlot:   make(map[slotWeek]*slotPinInfo),
		pinnedSlots:  make(map[studentWeek][]timetable.SlotID),
		subjTeachers: make([][]timetable.TeacherID, len(snap.Subjects)),
		teachSlots:   make([][]timetable.SlotID, len(snap.Teachers)),
		assocGroups:  make([][]timetable.GroupID, len(snap.Subjects)),
		subjActive:   make([][]bool, len(snap.Subjects)),
		slotActive:   make([][]bool, len(snap.Slots)),
		setsBySlot:   make(map[timetable.SlotID][]timetable.IncompatID),
		byGroupWeek:  make(map[groupWeek][]ilp.Var),
		bySlotWeek:   make(map[slotWeek]*slotUsers),
		byStudent:    make(map[studentWeek]map[timetable.SlotID][]ilp.Var),
		bySubjTeach:  make(map[subjectTeacher][]ilp.Var),
		byGroupTeach: make(map[groupTeacher]map[int][]ilp.Var),
		rowDedup:     make(map[string]struct{}),
	}
	for i, sub := range snap.Subjects {
		ts := make([]timetable.TeacherID, len(sub.Teachers))
		copy(ts, sub.Teachers)
		sort.Slice(ts, func(a, b int) bool { return ts[a] < ts[b] })
		st.subjTeachers[i] = ts

		st.subjActive[i] = make([]bool, weeks)
		for _, w := range snap.SubjectActiveWeeks(timetable.SubjectID(i)) {
			st.subjActive[i][w] = true
		}
		if assoc, ok := snap.AssociationFor(timetable.SubjectID(i)); ok {
			st.assocGroups[i] = sortedGroups(assoc.Groups)
		}
	}
	for i, t := range snap.Teachers {
		sl := make([]timetable.SlotID, len(t.Slots))
		copy(sl, t.Slots)
		sort.Slice(sl, func(a, b int) bool { return sl[a] < sl[b] })
		st.teachSlots[i] = sl
	}
	for i := range snap.Slots {
		st.slotActive[i] = make([]bool, weeks)
		for w := 0; w < weeks; w++ {
			st.slotActive[i][w] = snap.SlotActive(timetable.SlotID(i), w)
		}
	}
	for i, set := range snap.Incompatibilities {
		for _, sl := range set.Slots {
			st.setsBySlot[sl] = append(st.setsBySlot[sl], timetable.IncompatID(i))
		}
	}
	return st
}

// --- Pin normalization and static conflict checks ---

func (st *buildState) normalizePins(pins []Pin) error {
	seen := make(map[AssignmentKey]Resource, len(pins))
	out := make([]Pin, 0, len(pins))
	for _, p := range pins {
		if err := st.checkPinShape(p); err != nil {
			return err
		}
		if prev, dup := seen[p.Key]; dup {
			if prev == p.Resource {
				continue
			}
			return pinError(st.snap, p, "another pin holds the same key with a different resource")
		}
		seen[p.Key] = p.Resource
		out = append(out, p)
	}
	sortPins(out)
	st.pins = out
	st.pinByKey = seen

	for _, p := range out {
		sw := slotWeek{Slot: p.Resource.Slot, Week: p.Key.Week}
		info := st.pinsAtSlot[sw]
		if info == nil {
			info = &slotPinInfo{minCap: st.snap.Subjects[p.Key.Subject].SlotCapacity()}
			st.pinsAtSlot[sw] = info
		}
		info.count++
		if c := st.snap.Subjects[p.Key.Subject].SlotCapacity(); c < info.minCap {
			info.minCap = c
		}
		for _, stu := range st.snap.Groups[p.Key.Group].Students {
			k := studentWeek{Student: stu, Week: p.Key.Week}
			st.pinnedSlots[k] = append(st.pinnedSlots[k], p.Resource.Slot)
		}
	}
	return nil
}

// checkPinShape verifies references and activity before any index is used.
func (st *buildState) checkPinShape(p Pin) error {
	s := st.snap
	if p.Key.Week < 0 || p.Key.Week >= s.General.WeekCount {
		return pinShapeError(p, "week out of range")
	}
	if p.Key.Subject < 0 || int(p.Key.Subject) >= len(s.Subjects) {
		return pinShapeError(p, "unknown subject")
	}
	if p.Key.Group < 0 || int(p.Key.Group) >= len(s.Groups) {
		return pinShapeError(p, "unknown group")
	}
	if p.Resource.Teacher < 0 || int(p.Resource.Teacher) >= len(s.Teachers) {
		return pinShapeError(p, "unknown teacher")
	}
	if p.Resource.Slot < 0 || int(p.Resource.Slot) >= len(s.Slots) {
		return pinShapeError(p, "unknown slot")
	}
	if s.Groups[p.Key.Group].Subject != p.Key.Subject {
		return pinError(s, p, "group does not belong to the subject")
	}
	if !teacherEligible(s.Subjects[p.Key.Subject].Teachers, p.Resource.Teacher) {
		return pinError(s, p, "teacher not eligible for the subject")
	}
	if s.Slots[p.Resource.Slot].Teacher != p.Resource.Teacher {
		return pinError(s, p, "slot belongs to another teacher")
	}
	if !weekActive(s.SubjectActiveWeeks(p.Key.Subject), p.Key.Week) {
		return pinError(s, p, "subject is not active on this week")
	}
	if !s.SlotActive(p.Resource.Slot, p.Key.Week) {
		return pinError(s, p, "slot does not exist on this week")
	}
	return nil
}

// checkPinConflicts rejects pin sets that already violate an invariant
// before any model is built: capacity overruns, student overlaps,
// incompatibility budgets, weekly load and rotation-window doubling.
func (st *buildState) checkPinConflicts() error {
	s := st.snap
	for i, p := range st.pins {
		sw := slotWeek{Slot: p.Resource.Slot, Week: p.Key.Week}
		if info := st.pinsAtSlot[sw]; info.count > info.minCap {
			return pinError(s, p, fmt.Sprintf("slot hosts %d pinned groups, capacity %d", info.count, info.minCap))
		}
		for _, q := range st.pins[:i] {
			if q.Key.Week != p.Key.Week {
				continue
			}
			if !groupsShareStudent(s, p.Key.Group, q.Key.Group) {
				continue
			}
			if timetable.OverlapsInTime(s.Slots[p.Resource.Slot], s.Slots[q.Resource.Slot]) {
				return pinError(s, p, fmt.Sprintf("overlaps the pin on %s/%s for a shared student",
					subjectName(s, q.Key.Subject), groupName(s, q.Key.Group)))
			}
		}
		for _, stu := range s.Groups[p.Key.Group].Students {
			pinned := st.pinnedSlots[studentWeek{Student: stu, Week: p.Key.Week}]
			if limit := s.General.MaxCollesPerWeek; limit > 0 && len(pinned) > limit {
				return pinError(s, p, fmt.Sprintf("student %q exceeds the weekly cap of %d", s.Students[stu].Name, limit))
			}
			for _, inc := range st.setsBySlot[p.Resource.Slot] {
				set := s.Incompatibilities[inc]
				if !set.AppliesTo(stu) {
					continue
				}
				count := 0
				for _, ps := range pinned {
					if slotInSet(ps, set.Slots) {
						count++
					}
				}
				if count > set.MaxCount {
					return pinError(s, p, fmt.Sprintf("student %q exceeds incompatibility %q (max %d)",
						s.Students[stu].Name, set.Name, set.MaxCount))
				}
			}
		}
	}
	for _, req := range st.reqs {
		count := 0
		var last Pin
		for _, p := range st.pins {
			if p.Key.Group == req.Group && weekActive(req.Weeks, p.Key.Week) {
				count++
				last = p
			}
		}
		if count > req.Count {
			return pinError(s, last, fmt.Sprintf("group already pinned %d times in weeks %s (allowed %d)",
				count, weekSpan(req.Weeks), req.Count))
		}
	}
	return nil
}

// --- Candidate enumeration ---

// enumerate materializes one binary variable per feasible combination,
// fanning the per-week scans out over a bounded worker pool and merging in
// week order so variable indices are reproducible.
func (st *buildState) enumerate(ctx context.Context) error {
	weeks := st.snap.General.WeekCount
	workers := st.cfg.BuildWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > weeks {
		workers = weeks
	}

	perWeek := make([][]VarKey, weeks)
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for w := 0; w < weeks; w++ {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(w int) {
			defer wg.Done()
			defer func() { <-sem }()
			perWeek[w] = st.enumerateWeek(w)
		}(w)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	total := 0
	for _, keys := range perWeek {
		total += len(keys)
	}
	st.table = newVarTable(total)
	st.model.AddVars(total)

	for w := 0; w < weeks; w++ {
		for _, key := range perWeek[w] {
			v := st.table.add(key)
			if _, ok := st.pinByKey[key.AssignmentKey()]; ok {
				if err := st.model.Fix(v, 1); err != nil {
					return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "pin fixation failed")
				}
			}
			st.indexVar(v, key)
		}
	}
	return nil
}

func (st *buildState) enumerateWeek(w int) []VarKey {
	var out []VarKey
	for sid := range st.snap.Subjects {
		if !st.subjActive[sid][w] {
			continue
		}
		subject := timetable.SubjectID(sid)
		for _, g := range st.assocGroups[sid] {
			if res, ok := st.pinByKey[AssignmentKey{Week: w, Subject: subject, Group: g}]; ok {
				out = append(out, VarKey{Week: w, Subject: subject, Group: g, Teacher: res.Teacher, Slot: res.Slot})
				continue
			}
			for _, t := range st.subjTeachers[sid] {
				for _, sl := range st.teachSlots[t] {
					if !st.slotActive[sl][w] {
						continue
					}
					if st.prunedByPins(w, subject, g, sl) {
						continue
					}
					out = append(out, VarKey{Week: w, Subject: subject, Group: g, Teacher: t, Slot: sl})
				}
			}
		}
	}
	return out
}

// prunedByPins rejects a candidate that could never coexist with the pin
// set: a full pinned slot, an overlapping pinned slot for a shared
// student, an exhausted incompatibility budget or weekly cap.
func (st *buildState) prunedByPins(w int, subject timetable.SubjectID, g timetable.GroupID, sl timetable.SlotID) bool {
	s := st.snap
	if info, ok := st.pinsAtSlot[slotWeek{Slot: sl, Week: w}]; ok {
		limit := s.Subjects[subject].SlotCapacity()
		if info.minCap < limit {
			limit = info.minCap
		}
		if info.count >= limit {
			return true
		}
	}
	slot := s.Slots[sl]
	for _, stu := range s.Groups[g].Students {
		pinned := st.pinnedSlots[studentWeek{Student: stu, Week: w}]
		if limit := s.General.MaxCollesPerWeek; limit > 0 && len(pinned) >= limit {
			return true
		}
		for _, ps := range pinned {
			if timetable.OverlapsInTime(slot, s.Slots[ps]) {
				return true
			}
		}
		for _, inc := range st.setsBySlot[sl] {
			set := s.Incompatibilities[inc]
			if !set.AppliesTo(stu) {
				continue
			}
			count := 0
			for _, ps := range pinned {
				if slotInSet(ps, set.Slots) {
					count++
				}
			}
			if count >= set.MaxCount {
				return true
			}
		}
	}
	return false
}

func (st *buildState) indexVar(v ilp.Var, key VarKey) {
	gw := groupWeek{Group: key.Group, Week: key.Week}
	st.byGroupWeek[gw] = append(st.byGroupWeek[gw], v)

	sw := slotWeek{Slot: key.Slot, Week: key.Week}
	users := st.bySlotWeek[sw]
	if users == nil {
		users = &slotUsers{minCap: st.snap.Subjects[key.Subject].SlotCapacity()}
		st.bySlotWeek[sw] = users
	}
	users.vars = append(users.vars, v)
	if c := st.snap.Subjects[key.Subject].SlotCapacity(); c < users.minCap {
		users.minCap = c
	}

	for _, stu := range st.snap.Groups[key.Group].Students {
		k := studentWeek{Student: stu, Week: key.Week}
		perSlot := st.byStudent[k]
		if perSlot == nil {
			perSlot = make(map[timetable.SlotID][]ilp.Var)
			st.byStudent[k] = perSlot
		}
		perSlot[key.Slot] = append(perSlot[key.Slot], v)
	}

	stKey := subjectTeacher{Subject: key.Subject, Teacher: key.Teacher}
	st.bySubjTeach[stKey] = append(st.bySubjTeach[stKey], v)

	gt := groupTeacher{Group: key.Group, Teacher: key.Teacher}
	byWeek := st.byGroupTeach[gt]
	if byWeek == nil {
		byWeek = make(map[int][]ilp.Var)
		st.byGroupTeach[gt] = byWeek
	}
	byWeek[key.Week] = append(byWeek[key.Week], v)
}

// --- Zero-candidate detection ---

// checkCoverage proves every exact requirement reachable by direct count:
// a requirement demanding n interrogations needs n windows holding at
// least one candidate each. Localized failure, reported before solving.
func (st *buildState) checkCoverage() error {
	for _, req := range st.reqs {
		if !req.Exact {
			continue
		}
		period := st.snap.Subjects[req.Subject].Periodicity
		if period < 1 {
			period = 1
		}
		achievable := 0
		for _, win := range chunkWeeks(req.Weeks, period) {
			for _, w := range win {
				if len(st.byGroupWeek[groupWeek{Group: req.Group, Week: w}]) > 0 {
					achievable++
					break
				}
			}
		}
		if achievable < req.Count {
			return noCandidateError(st.snap, req, achievable)
		}
	}
	return nil
}

// --- Hard rows ---

func (st *buildState) emitHardRows() error {
	if err := st.coverageRows(); err != nil {
		return err
	}
	if err := st.exclusivityRows(); err != nil {
		return err
	}
	return st.studentRows()
}

func (st *buildState) coverageRows() error {
	for _, req := range st.reqs {
		var terms []ilp.Term
		for _, w := range req.Weeks {
			for _, v := range st.byGroupWeek[groupWeek{Group: req.Group, Week: w}] {
				terms = append(terms, ilp.Term{Var: v, Coef: 1})
			}
		}
		if len(terms) == 0 {
			continue
		}
		sense := ilp.LE
		if req.Exact {
			sense = ilp.EQ
		}
		tag := fmt.Sprintf("cover %s/%s w%s", subjectName(st.snap, req.Subject), groupName(st.snap, req.Group), weekSpan(req.Weeks))
		if err := st.model.AddRow(ilp.Row{Terms: terms, Sense: sense, RHS: req.Count, Tag: tag}); err != nil {
			return wrapInternal(err)
		}
	}
	return nil
}

func (st *buildState) exclusivityRows() error {
	for sl := range st.snap.Slots {
		for w := 0; w < st.snap.General.WeekCount; w++ {
			users, ok := st.bySlotWeek[slotWeek{Slot: timetable.SlotID(sl), Week: w}]
			if !ok || len(users.vars) < 2 {
				continue
			}
			terms := make([]ilp.Term, len(users.vars))
			for i, v := range users.vars {
				terms[i] = ilp.Term{Var: v, Coef: 1}
			}
			tag := fmt.Sprintf("slot %d w%d", sl, w)
			if err := st.model.AddRow(ilp.Row{Terms: terms, Sense: ilp.LE, RHS: users.minCap, Tag: tag}); err != nil {
				return wrapInternal(err)
			}
		}
	}
	return nil
}

// studentRows guards each student's week: one use per slot, no
// overlapping pair, incompatibility budgets, weekly load cap. Students
// sharing the exact same group memberships would produce duplicate rows,
// so rows are deduplicated on their variable sets.
func (st *buildState) studentRows() error {
	for stu := range st.snap.Students {
		student := timetable.StudentID(stu)
		for w := 0; w < st.snap.General.WeekCount; w++ {
			perSlot, ok := st.byStudent[studentWeek{Student: student, Week: w}]
			if !ok {
				continue
			}
			slots := make([]timetable.SlotID, 0, len(perSlot))
			for sl := range perSlot {
				slots = append(slots, sl)
			}
			sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })

			for _, sl := range slots {
				if vars := perSlot[sl]; len(vars) >= 2 {
					tag := fmt.Sprintf("student %s w%d slot %d", st.snap.Students[stu].Name, w, sl)
					if err := st.addOnce(vars, ilp.LE, 1, tag); err != nil {
						return err
					}
				}
			}
			for i := 0; i < len(slots); i++ {
				for j := i + 1; j < len(slots); j++ {
					if !st.snap.SlotsOverlap(slots[i], slots[j]) {
						continue
					}
					vars := append(append([]ilp.Var{}, perSlot[slots[i]]...), perSlot[slots[j]]...)
					tag := fmt.Sprintf("overlap student %s w%d slots %d,%d", st.snap.Students[stu].Name, w, slots[i], slots[j])
					if err := st.addOnce(vars, ilp.LE, 1, tag); err != nil {
						return err
					}
				}
			}
			for _, set := range st.snap.Incompatibilities {
				if !set.AppliesTo(student) {
					continue
				}
				var vars []ilp.Var
				for _, sl := range slots {
					if slotInSet(sl, set.Slots) {
						vars = append(vars, perSlot[sl]...)
					}
				}
				if len(vars) <= set.MaxCount {
					continue
				}
				tag := fmt.Sprintf("incompat %s student %s w%d", set.Name, st.snap.Students[stu].Name, w)
				if err := st.addOnce(vars, ilp.LE, set.MaxCount, tag); err != nil {
					return err
				}
			}
			if limit := st.snap.General.MaxCollesPerWeek; limit > 0 {
				var vars []ilp.Var
				for _, sl := range slots {
					vars = append(vars, perSlot[sl]...)
				}
				if len(vars) > limit {
					tag := fmt.Sprintf("load student %s w%d", st.snap.Students[stu].Name, w)
					if err := st.addOnce(vars, ilp.LE, limit, tag); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// addOnce emits a unit-coefficient row unless an identical variable set
// with the same sense and bound was already emitted.
func (st *buildState) addOnce(vars []ilp.Var, sense ilp.Sense, rhs int, tag string) error {
	sorted := make([]ilp.Var, len(vars))
	copy(sorted, vars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d|%d|", sense, rhs)
	for _, v := range sorted {
		fmt.Fprintf(&sb, "%d,", v)
	}
	sig := sb.String()
	if _, dup := st.rowDedup[sig]; dup {
		return nil
	}
	st.rowDedup[sig] = struct{}{}

	terms := make([]ilp.Term, len(sorted))
	for i, v := range sorted {
		terms[i] = ilp.Term{Var: v, Coef: 1}
	}
	if err := st.model.AddRow(ilp.Row{Terms: terms, Sense: sense, RHS: rhs, Tag: tag}); err != nil {
		return wrapInternal(err)
	}
	return nil
}

// --- Soft objective ---

func (st *buildState) emitSoftObjective(prev *Schedule) error {
	if err := st.balanceTerms(); err != nil {
		return err
	}
	if err := st.repeatTerms(); err != nil {
		return err
	}
	st.disruptionTerms(prev)
	return nil
}

// balanceTerms penalizes per-teacher workloads outside the fair band
// [floor(R/T), ceil(R/T)] for each subject, with the deviation carried by
// bit-decomposed slack variables so the objective stays pseudo-Boolean.
func (st *buildState) balanceTerms() error {
	if st.cfg.BalanceWeight <= 0 {
		return nil
	}
	for sid := range st.snap.Subjects {
		subject := timetable.SubjectID(sid)
		teachers := st.subjTeachers[sid]
		if len(teachers) < 2 {
			continue
		}
		required := 0
		for _, req := range st.reqs {
			if req.Subject == subject && req.Exact {
				required += req.Count
			}
		}
		if required == 0 {
			continue
		}
		lo := required / len(teachers)
		hi := (required + len(teachers) - 1) / len(teachers)

		for _, t := range teachers {
			vars := st.bySubjTeach[subjectTeacher{Subject: subject, Teacher: t}]
			if len(vars) == 0 {
				continue
			}
			name := fmt.Sprintf("%s/%s", subjectName(st.snap, subject), st.snap.Teachers[t].Name)

			if maxOver := len(vars) - hi; maxOver > 0 {
				terms := unitTerms(vars)
				for _, bit := range bitWeights(maxOver) {
					v := st.model.AddVar()
					terms = append(terms, ilp.Term{Var: v, Coef: -bit})
					st.addObjective(&st.sources.balance, v, st.cfg.BalanceWeight*bit)
				}
				if err := st.model.AddRow(ilp.Row{Terms: terms, Sense: ilp.LE, RHS: hi, Tag: "balance over " + name}); err != nil {
					return wrapInternal(err)
				}
			}
			if lo > 0 {
				terms := unitTerms(vars)
				for _, bit := range bitWeights(lo) {
					v := st.model.AddVar()
					terms = append(terms, ilp.Term{Var: v, Coef: bit})
					st.addObjective(&st.sources.balance, v, st.cfg.BalanceWeight*bit)
				}
				if err := st.model.AddRow(ilp.Row{Terms: terms, Sense: ilp.GE, RHS: lo, Tag: "balance under " + name}); err != nil {
					return wrapInternal(err)
				}
			}
		}
	}
	return nil
}

// repeatTerms charges a penalty whenever a group meets the same teacher
// twice within RepeatWindow calendar weeks.
func (st *buildState) repeatTerms() error {
	if st.cfg.RepeatPenaltyWeight <= 0 || st.cfg.RepeatWindow < 2 {
		return nil
	}
	for gid := range st.snap.Groups {
		group := timetable.GroupID(gid)
		subject := st.snap.Groups[gid].Subject
		for _, t := range st.subjTeachers[subject] {
			byWeek := st.byGroupTeach[groupTeacher{Group: group, Teacher: t}]
			if len(byWeek) < 2 {
				continue
			}
			weeks := make([]int, 0, len(byWeek))
			for w := range byWeek {
				weeks = append(weeks, w)
			}
			sort.Ints(weeks)
			for i := 0; i < len(weeks); i++ {
				for j := i + 1; j < len(weeks) && weeks[j]-weeks[i] < st.cfg.RepeatWindow; j++ {
					p := st.model.AddVar()
					terms := unitTerms(byWeek[weeks[i]])
					terms = append(terms, unitTerms(byWeek[weeks[j]])...)
					terms = append(terms, ilp.Term{Var: p, Coef: -1})
					tag := fmt.Sprintf("repeat %s/%s w%d,w%d", groupName(st.snap, group), st.snap.Teachers[t].Name, weeks[i], weeks[j])
					if err := st.model.AddRow(ilp.Row{Terms: terms, Sense: ilp.LE, RHS: 1, Tag: tag}); err != nil {
						return wrapInternal(err)
					}
					st.addObjective(&st.sources.repeat, p, st.cfg.RepeatPenaltyWeight)
				}
			}
		}
	}
	return nil
}

// disruptionTerms makes changed assignments cost and kept assignments save
// relative to the previous schedule: coefficient W·(1-2·prev).
func (st *buildState) disruptionTerms(prev *Schedule) {
	if st.cfg.DisruptionWeight <= 0 || prev == nil {
		return
	}
	for i, key := range st.table.keys {
		coef := st.cfg.DisruptionWeight
		if res, ok := prev.Assignments[key.AssignmentKey()]; ok && res == key.Resource() {
			coef = -coef
		}
		st.addObjective(&st.sources.disruption, ilp.Var(i), coef)
	}
}

func (st *buildState) addObjective(family *[]ilp.Term, v ilp.Var, coef int) {
	st.model.AddObjectiveTerm(v, coef)
	*family = append(*family, ilp.Term{Var: v, Coef: coef})
}

// --- Custom contributions ---

// applyContributions runs the scripting hooks against a read-only view and
// merges their rows and terms after validating every variable reference.
func (st *buildState) applyContributions(contributors []Contributor) error {
	if len(contributors) == 0 {
		return nil
	}
	view := &ModelView{table: st.table, snap: st.snap}
	limit := ilp.Var(st.table.NumDecisions())
	for i, c := range contributors {
		contrib, err := c.Contribute(view)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInvalidCustomRow.Code, appErrors.ErrInvalidCustomRow.Status,
				fmt.Sprintf("contributor %d failed", i))
		}
		for _, row := range contrib.Rows {
			for _, term := range row.Terms {
				if term.Var < 0 || term.Var >= limit {
					return customVarError(i, term.Var)
				}
			}
			if row.Tag == "" {
				row.Tag = fmt.Sprintf("custom %d", i)
			}
			if err := st.model.AddRow(row); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInvalidCustomRow.Code, appErrors.ErrInvalidCustomRow.Status,
					fmt.Sprintf("contributor %d emitted an invalid row", i))
			}
		}
		for _, term := range contrib.Terms {
			if term.Var < 0 || term.Var >= limit {
				return customVarError(i, term.Var)
			}
			st.addObjective(&st.sources.custom, term.Var, term.Coef)
		}
	}
	return nil
}

// --- Helpers ---

// StructurallyValid reports whether every entity the pin references exists
// in the snapshot and agrees with it. Activity on the pinned week is the
// builder's to judge, so a pin passing this check may still fail a build.
func StructurallyValid(s *timetable.Snapshot, p Pin) bool {
	if p.Key.Week < 0 || p.Key.Week >= s.General.WeekCount {
		return false
	}
	if p.Key.Subject < 0 || int(p.Key.Subject) >= len(s.Subjects) {
		return false
	}
	if p.Key.Group < 0 || int(p.Key.Group) >= len(s.Groups) {
		return false
	}
	if p.Resource.Teacher < 0 || int(p.Resource.Teacher) >= len(s.Teachers) {
		return false
	}
	if p.Resource.Slot < 0 || int(p.Resource.Slot) >= len(s.Slots) {
		return false
	}
	return s.Groups[p.Key.Group].Subject == p.Key.Subject &&
		teacherEligible(s.Subjects[p.Key.Subject].Teachers, p.Resource.Teacher) &&
		s.Slots[p.Resource.Slot].Teacher == p.Resource.Teacher
}

func unitTerms(vars []ilp.Var) []ilp.Term {
	terms := make([]ilp.Term, 0, len(vars)+2)
	for _, v := range vars {
		terms = append(terms, ilp.Term{Var: v, Coef: 1})
	}
	return terms
}

// bitWeights covers the integer range [0, max] with a minimal set of
// binary digit weights: powers of two plus a final remainder.
func bitWeights(max int) []int {
	var out []int
	sum, bit := 0, 1
	for sum+bit <= max {
		out = append(out, bit)
		sum += bit
		bit *= 2
	}
	if sum < max {
		out = append(out, max-sum)
	}
	return out
}

func teacherEligible(teachers []timetable.TeacherID, t timetable.TeacherID) bool {
	for _, cand := range teachers {
		if cand == t {
			return true
		}
	}
	return false
}

func weekActive(weeks []int, w int) bool {
	for _, cand := range weeks {
		if cand == w {
			return true
		}
	}
	return false
}

func slotInSet(sl timetable.SlotID, set []timetable.SlotID) bool {
	for _, cand := range set {
		if cand == sl {
			return true
		}
	}
	return false
}

func groupsShareStudent(s *timetable.Snapshot, a, b timetable.GroupID) bool {
	for _, x := range s.Groups[a].Students {
		for _, y := range s.Groups[b].Students {
			if x == y {
				return true
			}
		}
	}
	return false
}

func subjectName(s *timetable.Snapshot, id timetable.SubjectID) string {
	return s.Subjects[id].Name
}

func groupName(s *timetable.Snapshot, id timetable.GroupID) string {
	return s.Groups[id].Name
}

func weekSpan(weeks []int) string {
	if len(weeks) == 0 {
		return "-"
	}
	if len(weeks) == 1 {
		return fmt.Sprintf("%d", weeks[0])
	}
	return fmt.Sprintf("%d-%d", weeks[0], weeks[len(weeks)-1])
}

func wrapInternal(err error) error {
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "model assembly failed")
}

func pinShapeError(p Pin, reason string) *appErrors.Error {
	return appErrors.Clone(appErrors.ErrPinNotFeasible, fmt.Sprintf(
		"pin week %d subject %d group %d teacher %d slot %d: %s",
		p.Key.Week, p.Key.Subject, p.Key.Group, p.Resource.Teacher, p.Resource.Slot, reason))
}

func pinError(s *timetable.Snapshot, p Pin, reason string) *appErrors.Error {
	return appErrors.Clone(appErrors.ErrPinNotFeasible, fmt.Sprintf(
		"pin week %d %s/%s -> %s slot %d: %s",
		p.Key.Week, subjectName(s, p.Key.Subject), groupName(s, p.Key.Group),
		s.Teachers[p.Resource.Teacher].Name, p.Resource.Slot, reason))
}

func noCandidateError(s *timetable.Snapshot, req Requirement, achievable int) *appErrors.Error {
	periodName := "?"
	if pid, ok := s.PeriodOf(req.Weeks[0]); ok {
		periodName = s.Periods[pid].Name
	}
	return appErrors.Clone(appErrors.ErrNoCandidate, fmt.Sprintf(
		"period %q subject %q group %q: %d of %d required interrogations have no feasible candidate (weeks %s)",
		periodName, subjectName(s, req.Subject), groupName(s, req.Group),
		req.Count-achievable, req.Count, weekSpan(req.Weeks)))
}

func customVarError(contributor int, v ilp.Var) *appErrors.Error {
	return appErrors.Clone(appErrors.ErrInvalidCustomRow, fmt.Sprintf(
		"contributor %d references unknown variable %d", contributor, v))
}
