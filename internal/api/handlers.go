package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/itsmeharsh/sandboxd/internal/classify"
	"github.com/itsmeharsh/sandboxd/internal/database"
	"github.com/itsmeharsh/sandboxd/internal/executor"
	"github.com/itsmeharsh/sandboxd/internal/jupyter"
	"github.com/itsmeharsh/sandboxd/internal/languages"
	"github.com/itsmeharsh/sandboxd/internal/metrics"
	"github.com/itsmeharsh/sandboxd/internal/queue"
	"github.com/itsmeharsh/sandboxd/internal/sandbox"
	"github.com/itsmeharsh/sandboxd/internal/stats"
)

// RunCodeRequest is the wire form of one code execution request. Timeouts
// are seconds; MemoryLimitMB <= 0 means unbounded.
type RunCodeRequest struct {
	Code           string             `json:"code"`
	Language       string             `json:"language"`
	CompileTimeout float64            `json:"compile_timeout,omitempty"`
	RunTimeout     float64            `json:"run_timeout,omitempty"`
	MemoryLimitMB  int64              `json:"memory_limit_MB,omitempty"`
	Stdin          *string            `json:"stdin,omitempty"`
	Files          map[string]*string `json:"files,omitempty"`
	FetchFiles     []string           `json:"fetch_files,omitempty"`
}

type RunCodeResponse struct {
	Status        classify.RunStatus        `json:"status"`
	Message       string                    `json:"message"`
	CompileResult *sandbox.CommandRunResult `json:"compile_result,omitempty"`
	RunResult     *sandbox.CommandRunResult `json:"run_result,omitempty"`
	ExecutorHost  string                    `json:"executor_host,omitempty"`
	Files         map[string]string         `json:"files"`
}

// RunJupyterRequest is the wire form of one notebook session request.
type RunJupyterRequest struct {
	Cells         []string           `json:"cells"`
	CellTimeout   float64            `json:"cell_timeout,omitempty"`
	TotalTimeout  float64            `json:"total_timeout,omitempty"`
	MemoryLimitMB int64              `json:"memory_limit_MB,omitempty"`
	Files         map[string]*string `json:"files,omitempty"`
	FetchFiles    []string           `json:"fetch_files,omitempty"`
}

type RunJupyterResponse struct {
	Status       classify.RunStatus       `json:"status"`
	Message      string                   `json:"message"`
	Driver       sandbox.CommandRunResult `json:"driver"`
	Cells        []jupyter.CellRunResult  `json:"cells"`
	ExecutorHost string                   `json:"executor_host,omitempty"`
	Files        map[string]string        `json:"files"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Handler struct {
	queueManager   *queue.Manager
	driver         *jupyter.Driver
	registry       *languages.Registry
	stats          *stats.Aggregator
	db             *database.Database
	importPattern  *regexp.Regexp
	defaultTimeout time.Duration
	host           string
	logger         *zerolog.Logger
}

func NewHandler(
	manager *queue.Manager,
	driver *jupyter.Driver,
	registry *languages.Registry,
	agg *stats.Aggregator,
	db *database.Database,
	importPattern *regexp.Regexp,
	defaultTimeout time.Duration,
	logger *zerolog.Logger,
) *Handler {
	host, _ := os.Hostname()
	return &Handler{
		queueManager:   manager,
		driver:         driver,
		registry:       registry,
		stats:          agg,
		db:             db,
		importPattern:  importPattern,
		defaultTimeout: defaultTimeout,
		host:           host,
		logger:         logger,
	}
}

func (h *Handler) requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}

func (h *Handler) secondsOrDefault(seconds float64) time.Duration {
	if seconds <= 0 {
		return h.defaultTimeout
	}
	return time.Duration(seconds * float64(time.Second))
}

func memoryLimitBytes(mb int64) int64 {
	if mb <= 0 {
		return 0
	}
	return mb << 20
}

// RunCode validates, queues, and classifies one code execution. Internal
// faults surface as a SandboxError response body, not a transport error;
// the HTTP status stays 200 for every outcome that produced a result.
func (h *Handler) RunCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req RunCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	lang := languages.Language(req.Language)
	if !h.registry.Supported(lang) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unsupported language: " + req.Language})
		return
	}

	requestID := h.requestID(r)
	logger := h.logger.With().Str("request_id", requestID).Str("language", req.Language).Logger()

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Interface("panic", rec).Msg("run_code handler panicked")
			h.stats.Record(classify.SandboxError, classify.ReasonSandboxError)
			writeJSON(w, http.StatusOK, RunCodeResponse{
				Status:       classify.SandboxError,
				Message:      "internal sandbox fault",
				ExecutorHost: h.host,
				Files:        map[string]string{},
			})
		}
	}()

	compileTimeout := h.secondsOrDefault(req.CompileTimeout)
	runTimeout := h.secondsOrDefault(req.RunTimeout)

	// The job deadline covers both stages plus reaping headroom.
	ctx, cancel := context.WithTimeout(r.Context(), compileTimeout+runTimeout+15*time.Second)
	defer cancel()

	job := &queue.Job{
		ID: requestID,
		Args: executor.CodeRunArgs{
			Code:             req.Code,
			Language:         lang,
			CompileTimeout:   compileTimeout,
			RunTimeout:       runTimeout,
			MemoryLimitBytes: memoryLimitBytes(req.MemoryLimitMB),
			Stdin:            req.Stdin,
			Files:            req.Files,
			FetchFiles:       req.FetchFiles,
		},
		Result: make(chan *executor.CodeRunResult, 1),
		Err:    make(chan error, 1),
		Ctx:    ctx,
	}

	start := time.Now()
	if err := h.queueManager.Submit(job); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	select {
	case result := <-job.Result:
		h.finishRunCode(w, logger, requestID, req, result, time.Since(start))
	case err := <-job.Err:
		logger.Error().Err(err).Msg("execution failed inside the sandbox layer")
		h.record(requestID, req.Language, classify.SandboxError, classify.ReasonSandboxError, time.Since(start))
		writeJSON(w, http.StatusOK, RunCodeResponse{
			Status:       classify.SandboxError,
			Message:      err.Error(),
			ExecutorHost: h.host,
			Files:        map[string]string{},
		})
	case <-ctx.Done():
		logger.Error().Msg("job deadline elapsed before a worker finished it")
		h.record(requestID, req.Language, classify.SandboxError, classify.ReasonSandboxError, time.Since(start))
		writeJSON(w, http.StatusOK, RunCodeResponse{
			Status:       classify.SandboxError,
			Message:      "execution did not finish before the job deadline",
			ExecutorHost: h.host,
			Files:        map[string]string{},
		})
	}
}

func (h *Handler) finishRunCode(
	w http.ResponseWriter,
	logger zerolog.Logger,
	requestID string,
	req RunCodeRequest,
	result *executor.CodeRunResult,
	elapsed time.Duration,
) {
	status, message := classify.ParseRunStatus(result.CompileResult, result.RunResult)
	reason := classify.Reason(status, result.CompileResult, result.RunResult, h.importPattern)
	h.record(requestID, req.Language, status, reason, elapsed)

	if reason == classify.ReasonImportError {
		if sample := classify.ExtractImportFailure(req.Code, req.Language, result.CompileResult, result.RunResult, h.importPattern); sample != nil {
			h.stats.RecordImportFailure(sample)
		}
	}

	logger.Info().
		Str("status", string(status)).
		Str("reason", reason).
		Dur("elapsed", elapsed).
		Msg("run_code finished")

	files := result.Files
	if files == nil {
		files = map[string]string{}
	}
	writeJSON(w, http.StatusOK, RunCodeResponse{
		Status:        status,
		Message:       message,
		CompileResult: result.CompileResult,
		RunResult:     result.RunResult,
		ExecutorHost:  h.host,
		Files:         files,
	})
}

// record updates telemetry and, when history is enabled, persists the
// outcome. History failures never affect the response.
func (h *Handler) record(requestID, language string, status classify.RunStatus, reason string, elapsed time.Duration) {
	h.stats.Record(status, reason)
	metrics.FailureReasons.WithLabelValues(language, reason).Inc()
	if h.db != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			h.db.InsertExecution(ctx, database.ExecutionRecord{ //nolint:errcheck
				ID:       requestID,
				Language: language,
				Status:   string(status),
				Reason:   reason,
				Duration: elapsed,
			})
		}()
	}
}

// RunJupyter executes a notebook session. Sessions bypass the job queue:
// they hold a worker-sized resource for their whole lifetime, so they are
// bounded by the limiter's concurrency cap instead.
func (h *Handler) RunJupyter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req RunJupyterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if len(req.Cells) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "cells must not be empty"})
		return
	}

	requestID := h.requestID(r)
	logger := h.logger.With().Str("request_id", requestID).Logger()

	var cellTimeout, totalTimeout time.Duration
	if req.CellTimeout > 0 {
		cellTimeout = time.Duration(req.CellTimeout * float64(time.Second))
	}
	if req.TotalTimeout > 0 {
		totalTimeout = time.Duration(req.TotalTimeout * float64(time.Second))
	}

	start := time.Now()
	result, err := h.driver.Run(r.Context(), jupyter.RunJupyterArgs{
		Cells:            req.Cells,
		Files:            req.Files,
		FetchFiles:       req.FetchFiles,
		CellTimeout:      cellTimeout,
		TotalTimeout:     totalTimeout,
		MemoryLimitBytes: memoryLimitBytes(req.MemoryLimitMB),
	})
	if err != nil {
		logger.Error().Err(err).Msg("notebook session failed inside the sandbox layer")
		h.stats.Record(classify.SandboxError, classify.ReasonSandboxError)
		writeJSON(w, http.StatusOK, RunJupyterResponse{
			Status:       classify.SandboxError,
			Message:      err.Error(),
			ExecutorHost: h.host,
			Cells:        []jupyter.CellRunResult{},
			Files:        map[string]string{},
		})
		return
	}

	metrics.NotebookCells.Add(float64(len(result.Cells)))

	status, message := classify.ParseRunStatus(nil, &result.Driver)
	h.stats.Record(status, classify.Reason(status, nil, &result.Driver, h.importPattern))

	logger.Info().
		Str("status", string(status)).
		Int("cells_requested", len(req.Cells)).
		Int("cells_executed", len(result.Cells)).
		Dur("elapsed", time.Since(start)).
		Msg("run_jupyter finished")

	writeJSON(w, http.StatusOK, RunJupyterResponse{
		Status:       status,
		Message:      message,
		Driver:       result.Driver,
		Cells:        result.Cells,
		ExecutorHost: h.host,
		Files:        result.Files,
	})
}

// Health reports liveness plus the supported language list.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	langs := h.registry.List()
	names := make([]string, 0, len(langs))
	for _, l := range langs {
		names = append(names, string(l))
	}
	total, _, _ := h.stats.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"languages":      names,
		"total_requests": total,
	})
}
