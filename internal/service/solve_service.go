package service

import (
	"context"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/prepa-tools/colloscope-api/internal/colloscope"
	"github.com/prepa-tools/colloscope-api/internal/dto"
	"github.com/prepa-tools/colloscope-api/internal/engine"
	"github.com/prepa-tools/colloscope-api/internal/timetable"
	appErrors "github.com/prepa-tools/colloscope-api/pkg/errors"
)

// SolveService fronts the engine for the HTTP layer. It validates wire
// payloads, merges per-request solver options over the server defaults and
// hands each admitted attempt's event stream to exactly one consumer.
type SolveService struct {
	engine    *engine.Engine
	validator *validator.Validate
	logger    *zap.Logger
	defaults  colloscope.Config

	mu      sync.Mutex
	sub     *engine.Subscription
	claimed string
}

func NewSolveService(eng *engine.Engine, validate *validator.Validate, logger *zap.Logger, defaults colloscope.Config) *SolveService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SolveService{
		engine:    eng,
		validator: validate,
		logger:    logger,
		defaults:  defaults,
	}
}

// RequestSolve admits one attempt. Snapshot payloads are validated here,
// before the engine retains anything, so a rejected model never poisons the
// canonical snapshot. Build and solve failures arrive on the event stream.
func (s *SolveService) RequestSolve(ctx context.Context, req dto.SolveRequest) (*dto.SolveAccepted, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid solve request")
	}

	engReq := engine.Request{ResetPins: req.ResetPins}

	if req.Model != nil {
		snap := req.Model.ToSnapshot()
		if err := timetable.Validate(snap); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrSnapshotInvalid.Code, appErrors.ErrSnapshotInvalid.Status, "snapshot failed validation")
		}
		engReq.Snapshot = snap
	}

	if len(req.Pins) > 0 {
		engReq.Pins = make([]colloscope.Pin, len(req.Pins))
		for i, p := range req.Pins {
			engReq.Pins[i] = p.ToPin()
		}
	}
	if len(req.Unpins) > 0 {
		engReq.Unpins = make([]colloscope.AssignmentKey, len(req.Unpins))
		for i, k := range req.Unpins {
			engReq.Unpins[i] = k.ToKey()
		}
	}

	if req.Config != nil {
		build := s.defaults
		if req.Config.BalanceWeight != nil {
			build.BalanceWeight = *req.Config.BalanceWeight
		}
		if req.Config.RepeatWindow != nil {
			build.RepeatWindow = *req.Config.RepeatWindow
		}
		if req.Config.RepeatPenaltyWeight != nil {
			build.RepeatPenaltyWeight = *req.Config.RepeatPenaltyWeight
		}
		if req.Config.DisruptionWeight != nil {
			build.DisruptionWeight = *req.Config.DisruptionWeight
		}
		engReq.Config = &build
	}

	sub, err := s.engine.RequestSolve(ctx, engReq)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sub = sub
	s.claimed = ""
	s.mu.Unlock()

	s.logger.Info("solve attempt admitted",
		zap.String("attempt", sub.AttemptID()),
		zap.Bool("new_snapshot", req.Model != nil),
		zap.Int("pins", len(req.Pins)),
		zap.Int("unpins", len(req.Unpins)),
		zap.Bool("reset_pins", req.ResetPins))

	return &dto.SolveAccepted{AttemptID: sub.AttemptID(), State: engine.StateBuilding.String()}, nil
}

// ClaimEvents hands out the attempt's event stream. Each stream has exactly
// one consumer: a second claim for the same attempt conflicts, and attempts
// other than the most recently admitted one have no stream left to claim.
func (s *SolveService) ClaimEvents(attemptID string) (*engine.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != nil && s.sub.AttemptID() == attemptID {
		sub := s.sub
		s.sub = nil
		s.claimed = attemptID
		return sub, nil
	}
	if s.claimed == attemptID {
		return nil, appErrors.Clone(appErrors.ErrConflict, "events for this attempt are already being streamed")
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "no event stream available for this attempt")
}

// State reports the live pipeline view.
func (s *SolveService) State() dto.EngineStateDTO {
	snap := s.engine.State()
	out := dto.EngineStateDTO{
		State:     snap.State.String(),
		AttemptID: snap.Attempt,
		Since:     snap.Since,
	}
	if snap.Failure != nil {
		out.Error = appErrors.FromError(snap.Failure)
	}
	return out
}

// Cancel cancels the in-flight attempt, reporting whether one was running.
func (s *SolveService) Cancel(ctx context.Context) bool {
	cancelled := s.engine.CancelActive(ctx)
	if cancelled {
		s.logger.Info("active solve attempt cancelled")
	}
	return cancelled
}

// Schedule returns the latest accepted schedule.
func (s *SolveService) Schedule() (*dto.ScheduleDTO, error) {
	sched := s.engine.Schedule()
	if sched == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no schedule accepted yet")
	}
	return dto.FromSchedule(sched), nil
}

// ScheduleRows returns the latest accepted schedule as flat rows.
func (s *SolveService) ScheduleRows() ([]dto.ScheduleRowDTO, error) {
	sched, err := s.Schedule()
	if err != nil {
		return nil, err
	}
	return sched.Rows, nil
}

// Pins returns the engine's canonical pin set.
func (s *SolveService) Pins() []dto.PinDTO {
	pins := s.engine.Pins()
	out := make([]dto.PinDTO, len(pins))
	for i, p := range pins {
		out[i] = dto.FromPin(p)
	}
	return out
}
