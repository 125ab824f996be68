package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prepa-tools/colloscope-api/internal/dto"
	"github.com/prepa-tools/colloscope-api/internal/engine"
	"github.com/prepa-tools/colloscope-api/internal/models"
	appErrors "github.com/prepa-tools/colloscope-api/pkg/errors"
	"github.com/prepa-tools/colloscope-api/pkg/jobs"
)

type attemptStore interface {
	Create(ctx context.Context, attempt *models.SolveAttempt) error
	GetByID(ctx context.Context, id string) (*models.SolveAttempt, error)
	List(ctx context.Context, filter models.AttemptFilter) ([]models.SolveAttempt, error)
	Count(ctx context.Context, filter models.AttemptFilter) (int, error)
}

const archiveJobType = "attempt.archive"

// ArchiveService records finished solve attempts through the background job
// queue. It observes the engine via a hook, accumulates per-attempt metadata
// across transitions, and persists one row per terminal event. Archival is
// strictly best effort: failures are logged and never reach the pipeline.
type ArchiveService struct {
	store   attemptStore
	queue   *jobs.Queue
	logger  *zap.Logger
	metrics *MetricsService
	backend string

	mu      sync.Mutex
	pending map[string]*models.SolveAttempt
}

// NewArchiveService constructs the service and its queue. The queue starts
// on Start and drains on Stop.
func NewArchiveService(store attemptStore, backend string, queueCfg jobs.QueueConfig, logger *zap.Logger, metrics *MetricsService) *ArchiveService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ArchiveService{
		store:   store,
		logger:  logger,
		metrics: metrics,
		backend: backend,
		pending: make(map[string]*models.SolveAttempt),
	}
	queueCfg.Logger = logger
	s.queue = jobs.NewQueue("attempt_archive", s.handleJob, queueCfg)
	return s
}

// Start begins queue consumption.
func (s *ArchiveService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the queue workers.
func (s *ArchiveService) Stop() {
	s.queue.Stop()
}

// QueueDepth reports how many archive jobs wait in the buffer.
func (s *ArchiveService) QueueDepth() int {
	return s.queue.Depth()
}

// EngineHook returns the engine observer that accumulates attempt metadata
// and enqueues the archive row on terminal transitions.
func (s *ArchiveService) EngineHook() engine.Hook {
	return func(ev engine.Event) {
		if ev.Kind != engine.EventTransition {
			return
		}

		s.mu.Lock()
		record, ok := s.pending[ev.Attempt]
		if !ok {
			record = &models.SolveAttempt{
				ID:        ev.Attempt,
				Backend:   s.backend,
				StartedAt: ev.At,
			}
			s.pending[ev.Attempt] = record
		}

		switch ev.State {
		case engine.StateSolving:
			record.BuildMs = ev.PhaseDuration.Milliseconds()
			if ev.Stats != nil {
				record.DecisionVars = ev.Stats.DecisionVars
				record.AuxVars = ev.Stats.AuxVars
				record.Rows = ev.Stats.Rows
				record.Pinned = ev.Stats.Pinned
			}
		case engine.StateValidating:
			record.SolveMs = ev.PhaseDuration.Milliseconds()
		case engine.StateSolved:
			record.Outcome = models.AttemptOutcomeSolved
			if ev.Schedule != nil {
				objective := ev.Schedule.Objective
				gap := ev.Schedule.Gap
				record.Objective = &objective
				record.Gap = &gap
				record.Assignments = len(ev.Schedule.Assignments)
			}
		case engine.StateFailed:
			record.Outcome = models.AttemptOutcomeFailed
			if ev.Err != nil {
				code := appErrors.FromError(ev.Err).Code
				record.ErrorCode = &code
			}
		case engine.StateIdle:
			record.Outcome = models.AttemptOutcomeCancelled
		}

		if !ev.State.Terminal() {
			s.mu.Unlock()
			return
		}
		delete(s.pending, ev.Attempt)
		s.mu.Unlock()

		record.TotalMs = ev.PhaseDuration.Milliseconds()
		record.FinishedAt = ev.At

		// Hooks run on the attempt goroutine; a full queue must not stall
		// the engine, so the enqueue is detached.
		go func(attempt *models.SolveAttempt) {
			job := jobs.Job{ID: attempt.ID, Type: archiveJobType, Payload: attempt}
			if err := s.queue.Enqueue(job); err != nil {
				s.logger.Warn("failed to enqueue attempt archive",
					zap.String("attempt", attempt.ID), zap.Error(err))
				return
			}
			s.metrics.SetQueueDepth(s.queue.Depth())
		}(record)
	}
}

func (s *ArchiveService) handleJob(ctx context.Context, job jobs.Job) error {
	attempt, ok := job.Payload.(*models.SolveAttempt)
	if !ok {
		s.logger.Error("archive job carries unexpected payload", zap.String("job_id", job.ID))
		return nil
	}
	defer s.metrics.SetQueueDepth(s.queue.Depth())
	if err := s.store.Create(ctx, attempt); err != nil {
		return err
	}
	s.logger.Debug("attempt archived",
		zap.String("attempt", attempt.ID),
		zap.String("outcome", attempt.Outcome),
		zap.Int64("total_ms", attempt.TotalMs))
	return nil
}

// List returns archived attempts with pagination metadata.
func (s *ArchiveService) List(ctx context.Context, query dto.AttemptQuery) ([]models.SolveAttempt, *models.Pagination, error) {
	page := query.Page
	if page <= 0 {
		page = 1
	}
	pageSize := query.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}

	filter := models.AttemptFilter{
		Outcome: query.Outcome,
		Backend: query.Backend,
		Limit:   pageSize,
		Offset:  (page - 1) * pageSize,
	}

	items, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attempts")
	}
	total, err := s.store.Count(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count attempts")
	}

	return items, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns one archived attempt.
func (s *ArchiveService) Get(ctx context.Context, id string) (*models.SolveAttempt, error) {
	attempt, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attempt not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attempt")
	}
	return attempt, nil
}

// WaitSettled blocks until finished attempts have been handed to the queue
// and the buffer has drained, or the timeout passes. Intended for shutdown.
func (s *ArchiveService) WaitSettled(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		n := len(s.pending)
		s.mu.Unlock()
		if n == 0 && s.queue.Depth() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}
