package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/prepa-tools/colloscope-api/api/swagger"
	"github.com/prepa-tools/colloscope-api/internal/colloscope"
	"github.com/prepa-tools/colloscope-api/internal/engine"
	"github.com/prepa-tools/colloscope-api/internal/handler"
	"github.com/prepa-tools/colloscope-api/internal/middleware"
	"github.com/prepa-tools/colloscope-api/internal/models"
	"github.com/prepa-tools/colloscope-api/internal/repository"
	"github.com/prepa-tools/colloscope-api/internal/service"
	"github.com/prepa-tools/colloscope-api/internal/solver"
	_ "github.com/prepa-tools/colloscope-api/internal/solver/branchbound"
	_ "github.com/prepa-tools/colloscope-api/internal/solver/pbsat"
	"github.com/prepa-tools/colloscope-api/pkg/config"
	"github.com/prepa-tools/colloscope-api/pkg/database"
	"github.com/prepa-tools/colloscope-api/pkg/jobs"
	"github.com/prepa-tools/colloscope-api/pkg/logger"
	corsmiddleware "github.com/prepa-tools/colloscope-api/pkg/middleware/cors"
	reqidmiddleware "github.com/prepa-tools/colloscope-api/pkg/middleware/requestid"
)

// @title Colloscope API
// @version 1.0.0
// @description Constraint model and solver pipeline for colloscopes, the rotating oral-exam schedules of French preparatory classes
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	backend, err := solver.New(cfg.Solver.Backend)
	if err != nil {
		logr.Sugar().Fatalw("failed to select solver backend", "error", err)
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	authSvc, err := service.NewAuthService(validate, logr, service.AuthConfig{
		Clients:            cfg.Auth.Clients,
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "colloscope-api",
	})
	if err != nil {
		logr.Sugar().Fatalw("failed to init auth service", "error", err)
	}

	var (
		db         *sqlx.DB
		archiveSvc *service.ArchiveService
	)
	if cfg.Archive.Enabled {
		db, err = database.NewPostgres(cfg.Database)
		if err != nil {
			logr.Sugar().Fatalw("failed to connect to database", "error", err)
		}
		repo := repository.NewAttemptRepository(db)
		archiveSvc = service.NewArchiveService(repo, cfg.Solver.Backend, jobs.QueueConfig{
			Workers:    cfg.Queue.Workers,
			BufferSize: cfg.Queue.BufferSize,
			MaxRetries: cfg.Queue.MaxRetries,
			RetryDelay: cfg.Queue.RetryDelay,
		}, logr, metricsSvc)
		archiveSvc.Start(context.Background())
	}

	hooks := []engine.Hook{metricsSvc.EngineHook()}
	if archiveSvc != nil {
		hooks = append(hooks, archiveSvc.EngineHook())
	}

	buildDefaults := colloscope.Config{
		BalanceWeight:       cfg.Solver.BalanceWeight,
		RepeatWindow:        cfg.Solver.RepeatWindow,
		RepeatPenaltyWeight: cfg.Solver.RepeatPenaltyWeight,
		DisruptionWeight:    cfg.Solver.DisruptionWeight,
		BuildWorkers:        cfg.Solver.BuildWorkers,
	}

	eng := engine.New(engine.Config{
		Build:             buildDefaults,
		TimeLimit:         cfg.Solver.TimeLimit,
		ProgressInterval:  cfg.Solver.ProgressInterval,
		RoundingThreshold: cfg.Solver.RoundingThreshold,
		EventBuffer:       cfg.Solver.EventBuffer,
	}, backend, logr, hooks...)

	solveSvc := service.NewSolveService(eng, validate, logr, buildDefaults)

	authHandler := handler.NewAuthHandler(authSvc)
	solveHandler := handler.NewSolveHandler(solveSvc)
	scheduleHandler := handler.NewScheduleHandler(solveSvc)
	attemptHandler := handler.NewAttemptHandler(archiveSvc)
	healthHandler := handler.NewHealthHandler(solveSvc, archiveSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	planner := middleware.RBAC(models.RolePlanner)
	anyRole := middleware.RBAC(models.RolePlanner, models.RoleViewer)

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/token", authHandler.Token)
	api.POST("/auth/refresh", authHandler.Refresh)

	secured := api.Group("", middleware.JWT(authSvc))
	secured.GET("/auth/me", authHandler.Me)
	secured.POST("/solves", planner, solveHandler.Solve)
	secured.GET("/solves/active", anyRole, solveHandler.Active)
	secured.DELETE("/solves/active", planner, solveHandler.Cancel)
	secured.GET("/solves/:id/events", anyRole, solveHandler.Events)
	secured.GET("/schedule", anyRole, scheduleHandler.Get)
	secured.GET("/schedule/rows", anyRole, scheduleHandler.Rows)
	secured.GET("/schedule/pins", anyRole, scheduleHandler.Pins)
	secured.GET("/attempts", anyRole, attemptHandler.List)
	secured.GET("/attempts/:id", anyRole, attemptHandler.Get)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting",
			"addr", addr,
			"env", cfg.Env,
			"backend", backend.Name(),
			"archive", cfg.Archive.Enabled,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}

	if eng.CancelActive(shutdownCtx) {
		logr.Sugar().Infow("active solve attempt cancelled for shutdown")
	}

	if archiveSvc != nil {
		// Give the cancelled attempt's terminal hook time to enqueue its
		// record before the workers stop.
		archiveSvc.WaitSettled(5 * time.Second)
		archiveSvc.Stop()
	}
	if db != nil {
		_ = db.Close()
	}

	logr.Sugar().Infow("server stopped")
}
