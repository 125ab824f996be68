package service

import (
	"fmt"
	"math"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prepa-tools/colloscope-api/internal/engine"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP
// surface and the solve pipeline.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	attemptTotal    *prometheus.CounterVec
	phaseDuration   *prometheus.HistogramVec
	modelVars       prometheus.Gauge
	modelRows       prometheus.Gauge
	pinned          prometheus.Gauge
	assignments     prometheus.Gauge
	incumbent       prometheus.Gauge
	queueDepth      prometheus.Gauge

	requestCount   uint64
	solvedCount    uint64
	failedCount    uint64
	cancelledCount uint64
	lastObjective  uint64 // float64 bits
}

// NewMetricsService registers the pipeline collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	attemptTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "colloscope_solve_attempts_total",
		Help: "Finished solve attempts by outcome",
	}, []string{"outcome"})

	phaseDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "colloscope_phase_duration_seconds",
		Help:    "Duration of build, solve and validate phases",
		Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60, 120, 300},
	}, []string{"phase"})

	modelVars := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "colloscope_model_variables",
		Help: "Variables in the most recently built model",
	})

	modelRows := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "colloscope_model_rows",
		Help: "Constraint rows in the most recently built model",
	})

	pinned := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "colloscope_pinned_assignments",
		Help: "Pins applied to the most recently built model",
	})

	assignments := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "colloscope_schedule_assignments",
		Help: "Assignments in the latest accepted schedule",
	})

	incumbent := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "colloscope_incumbent_objective",
		Help: "Objective of the best incumbent seen during the active solve",
	})

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "colloscope_archive_queue_depth",
		Help: "Jobs waiting in the attempt archive queue",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, attemptTotal, phaseDuration,
		modelVars, modelRows, pinned, assignments, incumbent, queueDepth, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		attemptTotal:    attemptTotal,
		phaseDuration:   phaseDuration,
		modelVars:       modelVars,
		modelRows:       modelRows,
		pinned:          pinned,
		assignments:     assignments,
		incumbent:       incumbent,
		queueDepth:      queueDepth,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
}

// SetQueueDepth updates the archive queue gauge.
func (m *MetricsService) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// EngineHook returns the engine observer feeding the pipeline collectors.
// It runs on the attempt goroutine and must stay cheap.
func (m *MetricsService) EngineHook() engine.Hook {
	if m == nil {
		return func(engine.Event) {}
	}
	return func(ev engine.Event) {
		if ev.Kind == engine.EventProgress {
			if ev.Progress != nil {
				m.incumbent.Set(ev.Progress.Incumbent)
				atomic.StoreUint64(&m.lastObjective, math.Float64bits(ev.Progress.Incumbent))
			}
			return
		}

		switch ev.State {
		case engine.StateSolving:
			m.phaseDuration.WithLabelValues("build").Observe(ev.PhaseDuration.Seconds())
			if ev.Stats != nil {
				m.modelVars.Set(float64(ev.Stats.DecisionVars + ev.Stats.AuxVars))
				m.modelRows.Set(float64(ev.Stats.Rows))
				m.pinned.Set(float64(ev.Stats.Pinned))
			}
		case engine.StateValidating:
			m.phaseDuration.WithLabelValues("solve").Observe(ev.PhaseDuration.Seconds())
		case engine.StateSolved:
			m.attemptTotal.WithLabelValues("solved").Inc()
			atomic.AddUint64(&m.solvedCount, 1)
			if ev.Schedule != nil {
				m.assignments.Set(float64(len(ev.Schedule.Assignments)))
				m.incumbent.Set(ev.Schedule.Objective)
				atomic.StoreUint64(&m.lastObjective, math.Float64bits(ev.Schedule.Objective))
			}
		case engine.StateFailed:
			m.attemptTotal.WithLabelValues("failed").Inc()
			atomic.AddUint64(&m.failedCount, 1)
		case engine.StateIdle:
			m.attemptTotal.WithLabelValues("cancelled").Inc()
			atomic.AddUint64(&m.cancelledCount, 1)
		}
	}
}

// SystemMetrics is a lightweight snapshot for the health endpoint.
type SystemMetrics struct {
	RequestsTotal     uint64    `json:"requests_total"`
	AttemptsSolved    uint64    `json:"attempts_solved"`
	AttemptsFailed    uint64    `json:"attempts_failed"`
	AttemptsCancelled uint64    `json:"attempts_cancelled"`
	LastObjective     float64   `json:"last_objective"`
	Goroutines        int       `json:"goroutines"`
	GeneratedAt       time.Time `json:"generated_at"`
}

// Snapshot returns aggregated counters.
func (m *MetricsService) Snapshot() SystemMetrics {
	if m == nil {
		return SystemMetrics{}
	}
	return SystemMetrics{
		RequestsTotal:     atomic.LoadUint64(&m.requestCount),
		AttemptsSolved:    atomic.LoadUint64(&m.solvedCount),
		AttemptsFailed:    atomic.LoadUint64(&m.failedCount),
		AttemptsCancelled: atomic.LoadUint64(&m.cancelledCount),
		LastObjective:     math.Float64frombits(atomic.LoadUint64(&m.lastObjective)),
		Goroutines:        runtime.NumGoroutine(),
		GeneratedAt:       time.Now().UTC(),
	}
}
