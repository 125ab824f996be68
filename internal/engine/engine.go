// Package engine drives repeated build, solve and extract passes over a
// retained snapshot as pins and configuration change. At most one attempt
// is in flight; a new request supersedes the running one. Callers observe
// attempts through per-request subscriptions and never block the pipeline.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prepa-tools/colloscope-api/internal/colloscope"
	"github.com/prepa-tools/colloscope-api/internal/solver"
	"github.com/prepa-tools/colloscope-api/internal/timetable"
	appErrors "github.com/prepa-tools/colloscope-api/pkg/errors"
)

// State is the engine's lifecycle position.
type State int8

const (
	StateIdle State = iota
	StateBuilding
	StateSolving
	StateValidating
	StateSolved
	StateFailed
)

var stateNames = [...]string{"idle", "building", "solving", "validating", "solved", "failed"}

func (s State) String() string {
	if s < StateIdle || s > StateFailed {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether an attempt ends on this state.
func (s State) Terminal() bool {
	return s == StateIdle || s == StateSolved || s == StateFailed
}

// EventKind separates state transitions from progress ticks.
type EventKind int8

const (
	EventTransition EventKind = iota
	EventProgress
)

// Event is one observation of an attempt. Transitions carry the new state
// and, depending on it, the failure, the model stats or the accepted
// schedule. Progress events carry solver progress only.
type Event struct {
	Kind     EventKind
	Attempt  string
	State    State
	Err      error
	Progress *solver.Progress
	Stats    *colloscope.BuildStats
	Schedule *colloscope.Schedule

	// PhaseDuration is how long the phase that just ended ran.
	PhaseDuration time.Duration
	At            time.Time
}

// Hook observes every event of every attempt, called on the attempt
// goroutine. Hooks must return quickly.
type Hook func(Event)

// Request describes one solve attempt. A nil Snapshot reuses the retained
// one. Pins and Unpins are deltas against the engine's canonical pin set,
// applied after ResetPins. A pin on an already pinned key replaces the
// resource. A nil Config keeps the engine defaults.
type Request struct {
	Snapshot  *timetable.Snapshot
	Pins      []colloscope.Pin
	Unpins    []colloscope.AssignmentKey
	ResetPins bool
	Config    *colloscope.Config
}

// StateSnapshot is a point-in-time view of the engine.
type StateSnapshot struct {
	State   State
	Attempt string
	Failure error
	Since   time.Time
}

// Config tunes the pipeline. Zero values fall back to safe defaults.
type Config struct {
	Build             colloscope.Config
	TimeLimit         time.Duration
	ProgressInterval  time.Duration
	RoundingThreshold float64
	EventBuffer       int
	Contributors      []colloscope.Contributor
}

const defaultEventBuffer = 64

// Engine owns the canonical snapshot, pin set and latest accepted
// schedule. All fields behind mu; accessors return copies or immutable
// values.
type Engine struct {
	cfg     Config
	backend solver.Backend
	log     *zap.Logger
	hooks   []Hook

	mu       sync.Mutex
	state    State
	since    time.Time
	failure  error
	epoch    uint64
	attempt  string
	cancel   context.CancelFunc
	snapshot *timetable.Snapshot
	pins     map[colloscope.AssignmentKey]colloscope.Resource
	schedule *colloscope.Schedule
}

func New(cfg Config, backend solver.Backend, log *zap.Logger, hooks ...Hook) *Engine {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	return &Engine{
		cfg:     cfg,
		backend: backend,
		log:     log,
		hooks:   hooks,
		state:   StateIdle,
		since:   time.Now(),
		pins:    make(map[colloscope.AssignmentKey]colloscope.Resource),
	}
}

// State returns the current lifecycle view.
func (e *Engine) State() StateSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return StateSnapshot{State: e.state, Attempt: e.attempt, Failure: e.failure, Since: e.since}
}

// Schedule returns the latest accepted schedule, nil when none was ever
// accepted. The returned value is never mutated by the engine.
func (e *Engine) Schedule() *colloscope.Schedule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.schedule
}

// Pins returns the canonical pin set, sorted.
func (e *Engine) Pins() []colloscope.Pin {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedPins(e.pins)
}

// CancelActive cancels the in-flight attempt, reporting whether one was
// running. The attempt winds down asynchronously and its subscription
// receives a terminal idle transition.
func (e *Engine) CancelActive(ctx context.Context) bool {
	_ = ctx
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel == nil {
		return false
	}
	e.cancel()
	e.cancel = nil
	return true
}

// RequestSolve starts a new attempt, superseding any in-flight one. The
// request context only guards request admission; the attempt runs on its
// own background context until done or superseded.
func (e *Engine) RequestSolve(ctx context.Context, req Request) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if req.Snapshot == nil && e.snapshot == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no snapshot retained, the first request must carry one")
	}

	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}

	if req.Snapshot != nil {
		e.snapshot = req.Snapshot
		e.dropUnresolvablePinsLocked()
	}
	if req.ResetPins {
		e.pins = make(map[colloscope.AssignmentKey]colloscope.Resource)
	}
	for _, key := range req.Unpins {
		delete(e.pins, key)
	}
	for _, pin := range req.Pins {
		e.pins[pin.Key] = pin.Resource
	}

	build := e.cfg.Build
	if req.Config != nil {
		build = *req.Config
	}

	attemptCtx, cancel := context.WithCancel(context.Background())
	e.epoch++
	e.attempt = uuid.NewString()
	e.state = StateBuilding
	e.since = time.Now()
	e.failure = nil
	e.cancel = cancel

	a := &attempt{
		epoch:    e.epoch,
		id:       e.attempt,
		sub:      newSubscription(e.attempt, e.cfg.EventBuffer),
		snapshot: e.snapshot,
		pins:     sortedPins(e.pins),
		prev:     e.schedule,
		build:    build,
		started:  e.since,
	}

	go e.run(attemptCtx, a)
	return a.sub, nil
}

// dropUnresolvablePinsLocked removes carried pins whose references no
// longer exist in the freshly retained snapshot. Pins that survive are
// re-checked in full by the builder.
func (e *Engine) dropUnresolvablePinsLocked() {
	for key, res := range e.pins {
		if colloscope.StructurallyValid(e.snapshot, colloscope.Pin{Key: key, Resource: res}) {
			continue
		}
		delete(e.pins, key)
		e.log.Warn("dropping pin unresolvable in new snapshot",
			zap.Int("week", key.Week),
			zap.Int("subject", int(key.Subject)),
			zap.Int("group", int(key.Group)),
			zap.Int("teacher", int(res.Teacher)),
			zap.Int("slot", int(res.Slot)))
	}
}

// --- Attempt execution ---

type attempt struct {
	epoch    uint64
	id       string
	sub      *Subscription
	snapshot *timetable.Snapshot
	pins     []colloscope.Pin
	prev     *colloscope.Schedule
	build    colloscope.Config
	started  time.Time
}

func (e *Engine) run(ctx context.Context, a *attempt) {
	defer a.sub.close()

	e.emit(a, Event{Kind: EventTransition, State: StateBuilding})

	phase := time.Now()
	builder := colloscope.NewBuilder(a.build, e.cfg.Contributors...)
	prob, err := builder.Build(ctx, a.snapshot, a.pins, a.prev)
	if err != nil {
		if ctx.Err() != nil {
			e.finish(a, StateIdle, nil, nil)
			return
		}
		e.log.Info("build failed",
			zap.String("attempt", a.id), zap.Error(err))
		e.finish(a, StateFailed, err, nil)
		return
	}
	buildTime := time.Since(phase)
	e.log.Debug("model built",
		zap.String("attempt", a.id),
		zap.Int("variables", prob.Stats.DecisionVars+prob.Stats.AuxVars),
		zap.Int("rows", prob.Stats.Rows),
		zap.Int("requirements", prob.Stats.Requirements),
		zap.Int("pinned", prob.Stats.Pinned),
		zap.Duration("duration", buildTime))

	stats := prob.Stats
	if !e.transition(a, StateSolving) {
		e.finish(a, StateIdle, nil, nil)
		return
	}
	e.emit(a, Event{Kind: EventTransition, State: StateSolving, Stats: &stats, PhaseDuration: buildTime})

	phase = time.Now()
	out, err := e.backend.Solve(ctx, prob.ILP, solver.Options{
		TimeLimit:  e.cfg.TimeLimit,
		OnProgress: e.progressFunc(a),
	})
	solveTime := time.Since(phase)
	if err != nil {
		if ctx.Err() != nil {
			e.finish(a, StateIdle, nil, nil)
			return
		}
		wrapped := appErrors.Wrap(err, appErrors.ErrBackend.Code, appErrors.ErrBackend.Status, appErrors.ErrBackend.Message)
		e.log.Error("backend failed",
			zap.String("attempt", a.id), zap.String("backend", e.backend.Name()), zap.Error(err))
		e.finish(a, StateFailed, wrapped, nil)
		return
	}

	switch out.Status {
	case solver.StatusCancelled:
		e.finish(a, StateIdle, nil, nil)
		return
	case solver.StatusInfeasible:
		e.log.Info("model proven infeasible",
			zap.String("attempt", a.id), zap.Duration("duration", solveTime))
		e.finish(a, StateFailed, appErrors.ErrInfeasible, nil)
		return
	}

	if !e.transition(a, StateValidating) {
		e.finish(a, StateIdle, nil, nil)
		return
	}
	e.emit(a, Event{Kind: EventTransition, State: StateValidating, PhaseDuration: solveTime})

	phase = time.Now()
	sched, err := prob.Extract(out, e.cfg.RoundingThreshold)
	if err != nil {
		e.log.Error("extraction rejected the backend solution",
			zap.String("attempt", a.id), zap.String("backend", e.backend.Name()), zap.Error(err))
		e.finish(a, StateFailed, err, nil)
		return
	}

	e.log.Info("attempt solved",
		zap.String("attempt", a.id),
		zap.Int("assignments", len(sched.Assignments)),
		zap.Float64("objective", sched.Objective),
		zap.Float64("gap", sched.Gap),
		zap.Duration("build", buildTime),
		zap.Duration("solve", solveTime),
		zap.Duration("validate", time.Since(phase)))
	e.finish(a, StateSolved, nil, sched)
}

// transition moves the engine to st if the attempt still owns the epoch.
func (e *Engine) transition(a *attempt, st State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch != a.epoch {
		return false
	}
	e.state = st
	e.since = time.Now()
	return true
}

// finish applies the terminal state under the epoch guard and delivers the
// terminal event. A superseded attempt leaves engine state alone and tells
// its own subscribers it ended idle.
func (e *Engine) finish(a *attempt, st State, failure error, sched *colloscope.Schedule) {
	e.mu.Lock()
	applied := e.epoch == a.epoch
	if applied {
		e.state = st
		e.since = time.Now()
		e.failure = failure
		if sched != nil {
			e.schedule = sched
		}
		e.cancel = nil
	}
	e.mu.Unlock()

	ev := Event{Kind: EventTransition, State: st, Err: failure, Schedule: sched, PhaseDuration: time.Since(a.started)}
	if !applied {
		ev = Event{Kind: EventTransition, State: StateIdle, PhaseDuration: time.Since(a.started)}
	}
	e.emit(a, ev)
}

func (e *Engine) emit(a *attempt, ev Event) {
	ev.Attempt = a.id
	ev.At = time.Now()
	a.sub.push(ev)
	for _, h := range e.hooks {
		h(ev)
	}
}

// progressFunc throttles backend progress callbacks to the configured
// interval before fanning them out. Called on the backend's goroutine,
// which is also the attempt goroutine for the in-tree backends.
func (e *Engine) progressFunc(a *attempt) func(solver.Progress) {
	var last time.Time
	return func(p solver.Progress) {
		now := time.Now()
		if e.cfg.ProgressInterval > 0 && !last.IsZero() && now.Sub(last) < e.cfg.ProgressInterval {
			return
		}
		last = now
		prog := p
		e.emit(a, Event{Kind: EventProgress, Progress: &prog})
	}
}

func sortedPins(set map[colloscope.AssignmentKey]colloscope.Resource) []colloscope.Pin {
	pins := make([]colloscope.Pin, 0, len(set))
	for key, res := range set {
		pins = append(pins, colloscope.Pin{Key: key, Resource: res})
	}
	sort.Slice(pins, func(i, j int) bool {
		a, b := pins[i].Key, pins[j].Key
		if a.Week != b.Week {
			return a.Week < b.Week
		}
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		return a.Group < b.Group
	})
	return pins
}
