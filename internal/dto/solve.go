package dto

import (
	"time"

	"github.com/prepa-tools/colloscope-api/internal/colloscope"
	"github.com/prepa-tools/colloscope-api/internal/engine"
	"github.com/prepa-tools/colloscope-api/internal/timetable"
	appErrors "github.com/prepa-tools/colloscope-api/pkg/errors"
)

// PinDTO fixes one assignment to a (teacher, slot) resource.
type PinDTO struct {
	Week    int `json:"week" validate:"min=0"`
	Subject int `json:"subject" validate:"min=0"`
	Group   int `json:"group" validate:"min=0"`
	Teacher int `json:"teacher" validate:"min=0"`
	Slot    int `json:"slot" validate:"min=0"`
}

// AssignmentKeyDTO addresses one assignment without naming a resource.
type AssignmentKeyDTO struct {
	Week    int `json:"week" validate:"min=0"`
	Subject int `json:"subject" validate:"min=0"`
	Group   int `json:"group" validate:"min=0"`
}

// SolverOptionsDTO overrides objective weights for one request. Absent
// fields keep the server defaults.
type SolverOptionsDTO struct {
	BalanceWeight       *int `json:"balanceWeight" validate:"omitempty,min=0"`
	RepeatWindow        *int `json:"repeatWindow" validate:"omitempty,min=0"`
	RepeatPenaltyWeight *int `json:"repeatPenaltyWeight" validate:"omitempty,min=0"`
	DisruptionWeight    *int `json:"disruptionWeight" validate:"omitempty,min=0"`
}

// SolveRequest launches one attempt. A nil model reuses the retained
// snapshot; pins and unpins are deltas applied after resetPins.
type SolveRequest struct {
	Model     *SnapshotDTO       `json:"model" validate:"omitempty"`
	Pins      []PinDTO           `json:"pins" validate:"omitempty,dive"`
	Unpins    []AssignmentKeyDTO `json:"unpins" validate:"omitempty,dive"`
	ResetPins bool               `json:"resetPins"`
	Config    *SolverOptionsDTO  `json:"config" validate:"omitempty"`
}

// SolveAccepted acknowledges an admitted attempt.
type SolveAccepted struct {
	AttemptID string `json:"attemptId"`
	State     string `json:"state"`
}

// EngineStateDTO is the live view of the pipeline.
type EngineStateDTO struct {
	State     string           `json:"state"`
	AttemptID string           `json:"attemptId,omitempty"`
	Error     *appErrors.Error `json:"error,omitempty"`
	Since     time.Time        `json:"since"`
}

// ScheduleRowDTO is one flat schedule line.
type ScheduleRowDTO struct {
	Week    int `json:"week"`
	Subject int `json:"subject"`
	Group   int `json:"group"`
	Teacher int `json:"teacher"`
	Slot    int `json:"slot"`
}

// BreakdownDTO splits the achieved objective by source.
type BreakdownDTO struct {
	Balance    int `json:"balance"`
	Repeat     int `json:"repeat"`
	Disruption int `json:"disruption"`
	Custom     int `json:"custom"`
	Total      int `json:"total"`
}

// ScheduleDTO is the latest accepted schedule.
type ScheduleDTO struct {
	Rows      []ScheduleRowDTO `json:"rows"`
	Pins      []PinDTO         `json:"pins"`
	Objective float64          `json:"objective"`
	Gap       float64          `json:"gap"`
	Breakdown BreakdownDTO     `json:"breakdown"`
}

// ProgressDTO mirrors a solver progress tick.
type ProgressDTO struct {
	Incumbent float64 `json:"incumbent"`
	Nodes     int64   `json:"nodes"`
	ElapsedMs int64   `json:"elapsedMs"`
}

// StatsDTO mirrors model build statistics.
type StatsDTO struct {
	DecisionVars int `json:"decisionVars"`
	AuxVars      int `json:"auxVars"`
	Rows         int `json:"rows"`
	Requirements int `json:"requirements"`
	Pinned       int `json:"pinned"`
}

// EventDTO is the server-sent-events payload for one engine event.
type EventDTO struct {
	Kind      string           `json:"kind"`
	AttemptID string           `json:"attemptId"`
	State     string           `json:"state,omitempty"`
	Error     *appErrors.Error `json:"error,omitempty"`
	Progress  *ProgressDTO     `json:"progress,omitempty"`
	Stats     *StatsDTO        `json:"stats,omitempty"`
	Schedule  *ScheduleDTO     `json:"schedule,omitempty"`
	PhaseMs   int64            `json:"phaseMs,omitempty"`
	At        time.Time        `json:"at"`
}

// AttemptQuery filters the attempt archive listing.
type AttemptQuery struct {
	Outcome  string `form:"outcome"`
	Backend  string `form:"backend"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}

// --- Conversions ---

// ToPin converts the wire pin to the core type.
func (p PinDTO) ToPin() colloscope.Pin {
	return colloscope.Pin{
		Key: colloscope.AssignmentKey{
			Week:    p.Week,
			Subject: timetable.SubjectID(p.Subject),
			Group:   timetable.GroupID(p.Group),
		},
		Resource: colloscope.Resource{
			Teacher: timetable.TeacherID(p.Teacher),
			Slot:    timetable.SlotID(p.Slot),
		},
	}
}

// ToKey converts the wire key to the core type.
func (k AssignmentKeyDTO) ToKey() colloscope.AssignmentKey {
	return colloscope.AssignmentKey{
		Week:    k.Week,
		Subject: timetable.SubjectID(k.Subject),
		Group:   timetable.GroupID(k.Group),
	}
}

// FromPin converts a core pin to the wire form.
func FromPin(p colloscope.Pin) PinDTO {
	return PinDTO{
		Week:    p.Key.Week,
		Subject: int(p.Key.Subject),
		Group:   int(p.Key.Group),
		Teacher: int(p.Resource.Teacher),
		Slot:    int(p.Resource.Slot),
	}
}

// FromSchedule flattens an accepted schedule for the wire.
func FromSchedule(s *colloscope.Schedule) *ScheduleDTO {
	if s == nil {
		return nil
	}
	rows := s.Rows()
	out := &ScheduleDTO{
		Rows:      make([]ScheduleRowDTO, len(rows)),
		Pins:      make([]PinDTO, len(s.Pins)),
		Objective: s.Objective,
		Gap:       s.Gap,
		Breakdown: BreakdownDTO(s.Breakdown()),
	}
	for i, r := range rows {
		out.Rows[i] = ScheduleRowDTO{
			Week:    r.Week,
			Subject: int(r.Subject),
			Group:   int(r.Group),
			Teacher: int(r.Teacher),
			Slot:    int(r.Slot),
		}
	}
	for i, p := range s.Pins {
		out.Pins[i] = FromPin(p)
	}
	return out
}

// FromEvent converts an engine event for the SSE stream.
func FromEvent(ev engine.Event) EventDTO {
	out := EventDTO{
		AttemptID: ev.Attempt,
		PhaseMs:   ev.PhaseDuration.Milliseconds(),
		At:        ev.At,
	}
	switch ev.Kind {
	case engine.EventProgress:
		out.Kind = "progress"
		if ev.Progress != nil {
			out.Progress = &ProgressDTO{
				Incumbent: ev.Progress.Incumbent,
				Nodes:     ev.Progress.Nodes,
				ElapsedMs: ev.Progress.Elapsed.Milliseconds(),
			}
		}
	default:
		out.Kind = "transition"
		out.State = ev.State.String()
		if ev.Err != nil {
			out.Error = appErrors.FromError(ev.Err)
		}
		if ev.Stats != nil {
			out.Stats = &StatsDTO{
				DecisionVars: ev.Stats.DecisionVars,
				AuxVars:      ev.Stats.AuxVars,
				Rows:         ev.Stats.Rows,
				Requirements: ev.Stats.Requirements,
				Pinned:       ev.Stats.Pinned,
			}
		}
		if ev.Schedule != nil {
			out.Schedule = FromSchedule(ev.Schedule)
		}
	}
	return out
}
