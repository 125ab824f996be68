package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prepa-tools/colloscope-api/internal/colloscope"
	"github.com/prepa-tools/colloscope-api/internal/ilp"
	"github.com/prepa-tools/colloscope-api/internal/solver"
	"github.com/prepa-tools/colloscope-api/internal/solver/branchbound"
	"github.com/prepa-tools/colloscope-api/internal/timetable"
	appErrors "github.com/prepa-tools/colloscope-api/pkg/errors"
)

// rotationSnapshot: four weeks, two groups, two teachers, each teacher one
// weekly slot at the same time. Weekly strict rotation.
func rotationSnapshot() *timetable.Snapshot {
	return &timetable.Snapshot{
		General:  timetable.GeneralData{WeekCount: 4},
		Periods:  []timetable.Period{{Name: "trimestre 1", FirstWeek: 0, WeekCount: 4}},
		Patterns: []timetable.WeekPattern{{Name: "toutes", Weeks: []int{0, 1, 2, 3}}},
		Subjects: []timetable.Subject{{
			Name: "maths", Duration: 60, Pattern: 0,
			GroupSizeMin: 1, GroupSizeMax: 3,
			Periodicity: 1, StrictPeriodicity: true,
			Teachers: []timetable.TeacherID{0, 1},
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

// soloSnapshot keeps only the first group of the rotation, so group index 1
// no longer exists.
func soloSnapshot() *timetable.Snapshot {
	s := rotationSnapshot()
	s.Students = s.Students[:1]
	s.Groups = s.Groups[:1]
	s.Associations = []timetable.Association{{Subject: 0, Groups: []timetable.GroupID{0}}}
	return s
}

// contendedSnapshot forces two groups through one weekly slot, with weekly
// strict periodicity. Provably infeasible.
func contendedSnapshot() *timetable.Snapshot {
	s := rotationSnapshot()
	s.General.WeekCount = 1
	s.Periods = []timetable.Period{{Name: "P1", FirstWeek: 0, WeekCount: 1}}
	s.Patterns = []timetable.WeekPattern{{Name: "toutes", Weeks: []int{0}}}
	s.Subjects[0].Teachers = []timetable.TeacherID{0}
	s.Teachers = s.Teachers[:1]
	s.Slots = s.Slots[:1]
	return s
}

// barrenSnapshot removes every slot from the first week, so the weekly
// requirement there has no candidate.
func barrenSnapshot() *timetable.Snapshot {
	s := rotationSnapshot()
	s.Patterns = append(s.Patterns, timetable.WeekPattern{Name: "impaires", Weeks: []int{1, 3}})
	for i := range s.Slots {
		s.Slots[i].Pattern = 1
	}
	return s
}

type fakeBackend struct {
	name  string
	solve func(ctx context.Context, m *ilp.Model, opts solver.Options) (*solver.Outcome, error)
}

func (f *fakeBackend) Name() string {
	if f.name == "" {
		return "fake"
	}
	return f.name
}

func (f *fakeBackend) Solve(ctx context.Context, m *ilp.Model, opts solver.Options) (*solver.Outcome, error) {
	return f.solve(ctx, m, opts)
}

func hasFixedVar(m *ilp.Model) bool {
	for v := ilp.Var(0); int(v) < m.NumVars(); v++ {
		if _, ok := m.Fixed(v); ok {
			return true
		}
	}
	return false
}

func newTestEngine(cfg Config, backend solver.Backend, hooks ...Hook) *Engine {
	return New(cfg, backend, zap.NewNop(), hooks...)
}

func drain(t *testing.T, sub *Subscription) []Event {
	t.Helper()
	timeout := time.After(10 * time.Second)
	var events []Event
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("subscription never closed, got %d events", len(events))
		}
	}
}

func next(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed early")
		return ev
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for an event")
		return Event{}
	}
}

func transitions(events []Event) []State {
	var states []State
	for _, ev := range events {
		if ev.Kind == EventTransition {
			states = append(states, ev.State)
		}
	}
	return states
}

// --- Happy path ---

func TestEngineSolvesRotation(t *testing.T) {
	eng := newTestEngine(Config{}, &branchbound.Solver{})

	sub, err := eng.RequestSolve(context.Background(), Request{Snapshot: rotationSnapshot()})
	require.NoError(t, err)

	events := drain(t, sub)
	assert.Equal(t, []State{StateBuilding, StateSolving, StateValidating, StateSolved}, transitions(events))

	last := events[len(events)-1]
	require.NotNil(t, last.Schedule)
	assert.Len(t, last.Schedule.Assignments, 8)

	for _, ev := range events {
		if ev.State == StateSolving {
			require.NotNil(t, ev.Stats)
			assert.Equal(t, 16, ev.Stats.DecisionVars)
		}
	}

	snap := eng.State()
	assert.Equal(t, StateSolved, snap.State)
	assert.Equal(t, sub.AttemptID(), snap.Attempt)
	assert.NoError(t, snap.Failure)
	require.NotNil(t, eng.Schedule())
	assert.Len(t, eng.Schedule().Assignments, 8)
}

func TestEngineRequiresInitialSnapshot(t *testing.T) {
	eng := newTestEngine(Config{}, &branchbound.Solver{})

	_, err := eng.RequestSolve(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestEngineAppliesRequestConfig(t *testing.T) {
	eng := newTestEngine(Config{}, &branchbound.Solver{})

	sub, err := eng.RequestSolve(context.Background(), Request{
		Snapshot: rotationSnapshot(),
		Config:   &colloscope.Config{BalanceWeight: 1},
	})
	require.NoError(t, err)

	for _, ev := range drain(t, sub) {
		if ev.State == StateSolving {
			require.NotNil(t, ev.Stats)
			assert.Equal(t, 12, ev.Stats.AuxVars, "balance slack variables expected")
		}
	}
	assert.Equal(t, StateSolved, eng.State().State)
}

// --- Pin continuity ---

func TestEnginePinLifecycle(t *testing.T) {
	eng := newTestEngine(Config{}, &branchbound.Solver{})
	ctx := context.Background()

	sub, err := eng.RequestSolve(ctx, Request{Snapshot: rotationSnapshot()})
	require.NoError(t, err)
	drain(t, sub)

	pinA := colloscope.Pin{
		Key:      colloscope.AssignmentKey{Week: 0, Subject: 0, Group: 0},
		Resource: colloscope.Resource{Teacher: 1, Slot: 1},
	}
	sub, err = eng.RequestSolve(ctx, Request{Pins: []colloscope.Pin{pinA}})
	require.NoError(t, err)
	drain(t, sub)
	require.Equal(t, StateSolved, eng.State().State)
	res, ok := eng.Schedule().ResourceFor(pinA.Key)
	require.True(t, ok)
	assert.Equal(t, pinA.Resource, res)

	pinB := colloscope.Pin{
		Key:      colloscope.AssignmentKey{Week: 1, Subject: 0, Group: 0},
		Resource: colloscope.Resource{Teacher: 0, Slot: 0},
	}
	sub, err = eng.RequestSolve(ctx, Request{Pins: []colloscope.Pin{pinB}})
	require.NoError(t, err)
	drain(t, sub)
	assert.Len(t, eng.Pins(), 2, "pinA carried forward alongside pinB")
	assert.Len(t, eng.Schedule().PinnedKeys(), 2)

	sub, err = eng.RequestSolve(ctx, Request{Unpins: []colloscope.AssignmentKey{pinA.Key}})
	require.NoError(t, err)
	drain(t, sub)
	require.Len(t, eng.Pins(), 1)
	assert.Equal(t, pinB.Key, eng.Pins()[0].Key)

	sub, err = eng.RequestSolve(ctx, Request{ResetPins: true})
	require.NoError(t, err)
	drain(t, sub)
	assert.Empty(t, eng.Pins())
	assert.Empty(t, eng.Schedule().PinnedKeys())
}

func TestEngineDropsUnresolvablePinsOnSnapshotSwap(t *testing.T) {
	eng := newTestEngine(Config{}, &branchbound.Solver{})
	ctx := context.Background()

	pinG2 := colloscope.Pin{
		Key:      colloscope.AssignmentKey{Week: 0, Subject: 0, Group: 1},
		Resource: colloscope.Resource{Teacher: 0, Slot: 0},
	}
	sub, err := eng.RequestSolve(ctx, Request{Snapshot: rotationSnapshot(), Pins: []colloscope.Pin{pinG2}})
	require.NoError(t, err)
	drain(t, sub)
	require.Equal(t, StateSolved, eng.State().State)

	// The new snapshot has no group index 1, the carried pin cannot resolve.
	sub, err = eng.RequestSolve(ctx, Request{Snapshot: soloSnapshot()})
	require.NoError(t, err)
	events := drain(t, sub)

	assert.Equal(t, StateSolved, transitions(events)[len(transitions(events))-1])
	assert.Empty(t, eng.Pins())
	assert.Len(t, eng.Schedule().Assignments, 4)
}

// --- Failures ---

func TestEngineFailureKeepsPreviousSchedule(t *testing.T) {
	eng := newTestEngine(Config{}, &branchbound.Solver{})
	ctx := context.Background()

	sub, err := eng.RequestSolve(ctx, Request{Snapshot: rotationSnapshot()})
	require.NoError(t, err)
	drain(t, sub)
	previous := eng.Schedule()
	require.NotNil(t, previous)

	sub, err = eng.RequestSolve(ctx, Request{Snapshot: barrenSnapshot()})
	require.NoError(t, err)
	events := drain(t, sub)

	assert.Equal(t, []State{StateBuilding, StateFailed}, transitions(events))
	snap := eng.State()
	assert.Equal(t, StateFailed, snap.State)
	require.Error(t, snap.Failure)
	assert.Equal(t, appErrors.ErrNoCandidate.Code, appErrors.FromError(snap.Failure).Code)
	assert.Same(t, previous, eng.Schedule(), "failed attempt must not tear down the accepted schedule")
}

func TestEngineReportsInfeasibility(t *testing.T) {
	eng := newTestEngine(Config{}, &branchbound.Solver{})

	sub, err := eng.RequestSolve(context.Background(), Request{Snapshot: contendedSnapshot()})
	require.NoError(t, err)
	events := drain(t, sub)

	assert.Equal(t, []State{StateBuilding, StateSolving, StateFailed}, transitions(events))
	assert.Equal(t, appErrors.ErrInfeasible.Code, appErrors.FromError(eng.State().Failure).Code)
	assert.Nil(t, eng.Schedule())
}

func TestEngineWrapsBackendErrors(t *testing.T) {
	backend := &fakeBackend{solve: func(context.Context, *ilp.Model, solver.Options) (*solver.Outcome, error) {
		return nil, solver.ErrNoIncumbent
	}}
	eng := newTestEngine(Config{}, backend)

	sub, err := eng.RequestSolve(context.Background(), Request{Snapshot: rotationSnapshot()})
	require.NoError(t, err)
	drain(t, sub)

	failure := eng.State().Failure
	require.Error(t, failure)
	assert.Equal(t, appErrors.ErrBackend.Code, appErrors.FromError(failure).Code)
	assert.ErrorIs(t, failure, solver.ErrNoIncumbent)
}

func TestEngineRejectsLyingBackend(t *testing.T) {
	backend := &fakeBackend{solve: func(_ context.Context, m *ilp.Model, _ solver.Options) (*solver.Outcome, error) {
		// Feasible claim with an all-zero assignment: coverage rows broken.
		return &solver.Outcome{Status: solver.StatusOptimal, Values: make([]float64, m.NumVars())}, nil
	}}
	eng := newTestEngine(Config{}, backend)

	sub, err := eng.RequestSolve(context.Background(), Request{Snapshot: rotationSnapshot()})
	require.NoError(t, err)
	events := drain(t, sub)

	assert.Equal(t, []State{StateBuilding, StateSolving, StateValidating, StateFailed}, transitions(events))
	assert.Equal(t, appErrors.ErrInconsistentModel.Code, appErrors.FromError(eng.State().Failure).Code)
	assert.Nil(t, eng.Schedule())
}

// --- Cancellation and supersession ---

func TestEngineCancelActive(t *testing.T) {
	backend := &fakeBackend{solve: func(ctx context.Context, _ *ilp.Model, _ solver.Options) (*solver.Outcome, error) {
		<-ctx.Done()
		return &solver.Outcome{Status: solver.StatusCancelled}, nil
	}}
	eng := newTestEngine(Config{}, backend)

	sub, err := eng.RequestSolve(context.Background(), Request{Snapshot: rotationSnapshot()})
	require.NoError(t, err)

	assert.Equal(t, StateBuilding, next(t, sub).State)
	assert.Equal(t, StateSolving, next(t, sub).State)

	require.True(t, eng.CancelActive(context.Background()))

	events := drain(t, sub)
	require.NotEmpty(t, events)
	assert.Equal(t, StateIdle, events[len(events)-1].State)
	assert.Equal(t, StateIdle, eng.State().State)
	assert.Nil(t, eng.Schedule())

	assert.False(t, eng.CancelActive(context.Background()), "nothing left to cancel")
}

func TestEngineSupersedesInFlightAttempt(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeBackend{solve: func(ctx context.Context, m *ilp.Model, opts solver.Options) (*solver.Outcome, error) {
		if hasFixedVar(m) {
			// Second attempt carries the pin.
			return (&branchbound.Solver{}).Solve(ctx, m, opts)
		}
		// First attempt ignores cancellation and reports late.
		<-release
		return (&branchbound.Solver{}).Solve(context.Background(), m, opts)
	}}
	eng := newTestEngine(Config{}, backend)
	ctx := context.Background()

	first, err := eng.RequestSolve(ctx, Request{Snapshot: rotationSnapshot()})
	require.NoError(t, err)

	pin := colloscope.Pin{
		Key:      colloscope.AssignmentKey{Week: 0, Subject: 0, Group: 0},
		Resource: colloscope.Resource{Teacher: 1, Slot: 1},
	}
	second, err := eng.RequestSolve(ctx, Request{Pins: []colloscope.Pin{pin}})
	require.NoError(t, err)

	events := drain(t, second)
	assert.Equal(t, StateSolved, transitions(events)[len(transitions(events))-1])
	res, ok := eng.Schedule().ResourceFor(pin.Key)
	require.True(t, ok)
	assert.Equal(t, pin.Resource, res)

	close(release)
	lateEvents := drain(t, first)
	require.NotEmpty(t, lateEvents)
	assert.Equal(t, StateIdle, lateEvents[len(lateEvents)-1].State, "late result is discarded, not delivered")
	for _, ev := range lateEvents {
		assert.NotEqual(t, StateSolved, ev.State)
	}

	snap := eng.State()
	assert.Equal(t, StateSolved, snap.State)
	assert.Equal(t, second.AttemptID(), snap.Attempt)
	res, ok = eng.Schedule().ResourceFor(pin.Key)
	require.True(t, ok)
	assert.Equal(t, pin.Resource, res, "late first attempt must not replace the accepted schedule")
}

// --- Progress ---

func TestEngineEmitsProgress(t *testing.T) {
	backend := &fakeBackend{solve: func(ctx context.Context, m *ilp.Model, opts solver.Options) (*solver.Outcome, error) {
		for i := 1; i <= 3; i++ {
			if opts.OnProgress != nil {
				opts.OnProgress(solver.Progress{Incumbent: float64(10 - i), Nodes: int64(i)})
			}
		}
		return (&branchbound.Solver{}).Solve(ctx, m, opts)
	}}

	eng := newTestEngine(Config{}, backend)
	sub, err := eng.RequestSolve(context.Background(), Request{Snapshot: rotationSnapshot()})
	require.NoError(t, err)

	var progress []solver.Progress
	for _, ev := range drain(t, sub) {
		if ev.Kind == EventProgress {
			require.NotNil(t, ev.Progress)
			progress = append(progress, *ev.Progress)
		}
	}
	require.Len(t, progress, 3, "no throttling configured")
	assert.Equal(t, float64(9), progress[0].Incumbent)
	assert.Equal(t, int64(3), progress[2].Nodes)
}

func TestEngineThrottlesProgress(t *testing.T) {
	backend := &fakeBackend{solve: func(ctx context.Context, m *ilp.Model, opts solver.Options) (*solver.Outcome, error) {
		for i := 1; i <= 5; i++ {
			if opts.OnProgress != nil {
				opts.OnProgress(solver.Progress{Incumbent: float64(i)})
			}
		}
		return (&branchbound.Solver{}).Solve(ctx, m, opts)
	}}

	eng := newTestEngine(Config{ProgressInterval: time.Hour}, backend)
	sub, err := eng.RequestSolve(context.Background(), Request{Snapshot: rotationSnapshot()})
	require.NoError(t, err)

	count := 0
	for _, ev := range drain(t, sub) {
		if ev.Kind == EventProgress {
			count++
		}
	}
	assert.Equal(t, 1, count, "only the first tick fits in the interval")
}

// --- Event delivery policy ---

func TestSubscriptionDeliveryPolicy(t *testing.T) {
	sub := newSubscription("a", 2)

	sub.push(Event{Kind: EventProgress, Progress: &solver.Progress{Nodes: 1}})
	sub.push(Event{Kind: EventProgress, Progress: &solver.Progress{Nodes: 2}})
	sub.push(Event{Kind: EventProgress, Progress: &solver.Progress{Nodes: 3}}) // dropped, buffer full
	sub.push(Event{Kind: EventTransition, State: StateSolving})                // evicts nodes=1
	sub.push(Event{Kind: EventTransition, State: StateSolved})                 // evicts nodes=2
	sub.close()

	var got []Event
	for ev := range sub.Events() {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, StateSolving, got[0].State)
	assert.Equal(t, StateSolved, got[1].State)
}

// --- Hooks ---

func TestEngineNotifiesHooks(t *testing.T) {
	var seen []State
	hook := func(ev Event) {
		if ev.Kind == EventTransition {
			seen = append(seen, ev.State)
		}
	}
	eng := newTestEngine(Config{}, &branchbound.Solver{}, hook)

	sub, err := eng.RequestSolve(context.Background(), Request{Snapshot: rotationSnapshot()})
	require.NoError(t, err)
	drain(t, sub)

	assert.Equal(t, []State{StateBuilding, StateSolving, StateValidating, StateSolved}, seen)
}
