// Package solver defines the contract between the constraint builder and
// the interchangeable optimization backends.
//
// Backends register themselves by name, like database/sql drivers, and are
// selected through configuration. They receive a frozen ilp.Model, marshal
// it into whatever layout they need, and report one Outcome.
package solver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prepa-tools/colloscope-api/internal/ilp"
)

// Status classifies how a solve terminated.
type Status int8

const (
	// StatusOptimal means the incumbent is proven optimal.
	StatusOptimal Status = iota
	// StatusFeasible means an incumbent exists but optimality is unproven,
	// typically after a time limit or cancellation.
	StatusFeasible
	// StatusInfeasible means the backend proved no assignment satisfies
	// all rows and fixings.
	StatusInfeasible
	// StatusCancelled means the solve stopped before finding any incumbent
	// and before proving anything.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusFeasible:
		return "feasible"
	case StatusInfeasible:
		return "infeasible"
	case StatusCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("status(%d)", int8(s))
}

// Outcome is the result of one backend run. Values and Objective are only
// meaningful for StatusOptimal and StatusFeasible. Gap is the relative
// optimality gap, zero when proven optimal.
type Outcome struct {
	Status    Status
	Values    []float64
	Objective float64
	Gap       float64
}

// Progress describes an improved incumbent. Delivery is best effort and
// callbacks run on the backend's goroutine, so handlers must be quick.
type Progress struct {
	Incumbent float64
	Nodes     int64
	Elapsed   time.Duration
}

// Options tunes a single Solve call.
type Options struct {
	// TimeLimit bounds the solve wall time. Zero means no limit.
	TimeLimit time.Duration
	// OnProgress, when non-nil, is invoked for each improved incumbent.
	OnProgress func(Progress)
}

// ErrNoIncumbent is wrapped by backends when a time limit expires before
// any feasible assignment was found.
var ErrNoIncumbent = errors.New("time limit reached before any incumbent")

// Backend solves one model. Implementations must honor ctx at internal
// decision points, must not mutate the model, and must be callable from a
// goroutine other than the caller's.
type Backend interface {
	Name() string
	Solve(ctx context.Context, m *ilp.Model, opts Options) (*Outcome, error)
}

// Factory builds a fresh backend instance.
type Factory func() Backend

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a backend constructor available under name. It is meant
// to be called from package init functions and panics on duplicates.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if f == nil {
		panic("solver: Register with nil factory")
	}
	if _, dup := registry[name]; dup {
		panic("solver: Register called twice for backend " + name)
	}
	registry[name] = f
}

// New instantiates the backend registered under name.
func New(name string) (Backend, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("solver: unknown backend %q (registered: %v)", name, Names())
	}
	return f(), nil
}

// Names lists the registered backends in lexical order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
