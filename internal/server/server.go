package server

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/itsmeharsh/sandboxd/internal/api"
	"github.com/itsmeharsh/sandboxd/internal/config"
	"github.com/itsmeharsh/sandboxd/internal/database"
	"github.com/itsmeharsh/sandboxd/internal/executor"
	"github.com/itsmeharsh/sandboxd/internal/jupyter"
	"github.com/itsmeharsh/sandboxd/internal/languages"
	"github.com/itsmeharsh/sandboxd/internal/limiter"
	"github.com/itsmeharsh/sandboxd/internal/queue"
	"github.com/itsmeharsh/sandboxd/internal/sandbox"
	"github.com/itsmeharsh/sandboxd/internal/stats"
	"github.com/itsmeharsh/sandboxd/internal/worker"
)

type Server struct {
	conf        *config.Config
	logger      *zerolog.Logger
	httpServer  *http.Server
	db          *database.Database
	registry    *languages.Registry
	executor    *executor.Executor
	queue       *queue.Manager
	workers     []*worker.Worker
	rateLimiter *limiter.RateLimiter
	stats       *stats.Aggregator
	stop        chan struct{}
	cancelFunc  context.CancelFunc
}

func New(conf *config.Config, logger *zerolog.Logger) (*Server, error) {
	var db *database.Database
	if conf.Db.Enabled {
		var err error
		db, err = database.New(conf, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		if err := db.EnsureSchema(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to ensure database schema: %w", err)
		}
	}

	importPattern, err := regexp.Compile(conf.Classify.ImportErrorPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid import error pattern: %w", err)
	}

	registry := languages.NewRegistry()
	reaper := sandbox.NewReaper(sandbox.SystemTable{}, logger)
	runner := sandbox.NewRunner(reaper, conf.Sandbox.MaxOutputBytes, logger)
	exec := executor.NewExecutor(registry, runner, conf.Sandbox.WorkspaceRoot, logger)
	driver := jupyter.NewDriver(runner, conf.Jupyter.KernelCommand, conf.Sandbox.WorkspaceRoot, logger)

	q := queue.NewManager(conf.Server.QueueCapacity)

	agg := stats.New(
		conf.Stats.LogEveryRequests,
		time.Duration(conf.Stats.LogEverySeconds)*time.Second,
		logger,
	)

	rl := limiter.NewRateLimiter(
		conf.Limiter.GlobalRPS,
		conf.Limiter.PerIPRPS,
		conf.Limiter.PerIPBurst,
		conf.Limiter.MaxConcurrent,
	)

	handler := api.NewHandler(
		q, driver, registry, agg, db,
		importPattern,
		time.Duration(conf.Sandbox.DefaultTimeout)*time.Second,
		logger,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handler.Health)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/run_code", rl.Middleware(handler.RunCode))
	mux.HandleFunc("/run_jupyter", rl.Middleware(handler.RunJupyter))

	httpServer := &http.Server{
		Addr:         ":" + conf.Server.Port,
		Handler:      mux,
		ReadTimeout:  time.Duration(conf.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(conf.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(conf.Server.IdleTimeout) * time.Second,
	}

	workers := make([]*worker.Worker, conf.Server.Workers)
	for i := range workers {
		workers[i] = worker.NewWorker(i, exec, q, logger)
	}

	return &Server{
		conf:        conf,
		logger:      logger,
		httpServer:  httpServer,
		db:          db,
		registry:    registry,
		executor:    exec,
		queue:       q,
		workers:     workers,
		rateLimiter: rl,
		stats:       agg,
		stop:        make(chan struct{}),
	}, nil
}

func (s *Server) Start() error {
	s.logger.Info().
		Str("port", s.conf.Server.Port).
		Int("workers", len(s.workers)).
		Msg("starting HTTP server")

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel

	for _, w := range s.workers {
		go w.Start(ctx)
	}

	s.stats.Start()
	s.rateLimiter.StartCleanup(5*time.Minute, 15*time.Minute, s.stop)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	close(s.stop)

	// Emit a final summary so the last window of counters is not lost.
	s.stats.Stop()
	s.stats.Flush()

	if s.db != nil {
		s.db.Close() //nolint:errcheck
	}

	return nil
}
