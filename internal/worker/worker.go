package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/itsmeharsh/sandboxd/internal/classify"
	"github.com/itsmeharsh/sandboxd/internal/executor"
	"github.com/itsmeharsh/sandboxd/internal/metrics"
	"github.com/itsmeharsh/sandboxd/internal/queue"
)

type Worker struct {
	id       int
	executor *executor.Executor
	manager  *queue.Manager
	logger   *zerolog.Logger
}

func NewWorker(id int, exec *executor.Executor, manager *queue.Manager, logger *zerolog.Logger) *Worker {
	return &Worker{
		id:       id,
		executor: exec,
		manager:  manager,
		logger:   logger,
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.logger.Info().Int("worker_id", w.id).Msg("worker started")
	for {
		select {
		case job := <-w.manager.NextJob():
			metrics.ActiveWorkers.Inc()
			w.processJob(job)
			metrics.ActiveWorkers.Dec()
			w.manager.UpdateQueueMetric()
		case <-ctx.Done():
			w.logger.Info().Int("worker_id", w.id).Msg("worker stopping")
			return
		}
	}
}

func (w *Worker) processJob(job *queue.Job) {
	w.logger.Debug().Int("worker_id", w.id).Str("job_id", job.ID).
		Str("language", string(job.Args.Language)).Msg("processing job")

	start := time.Now()
	result, err := w.executor.Execute(job.Ctx, job.Args)
	total := time.Since(start)

	lang := string(job.Args.Language)
	if err != nil {
		metrics.RunsTotal.WithLabelValues(lang, string(classify.SandboxError)).Inc()
		job.Err <- err
		return
	}

	status, _ := classify.ParseRunStatus(result.CompileResult, result.RunResult)
	metrics.RunsTotal.WithLabelValues(lang, string(status)).Inc()
	metrics.StageDuration.WithLabelValues(lang, "total").Observe(total.Seconds())
	if result.CompileResult != nil {
		metrics.StageDuration.WithLabelValues(lang, "compile").Observe(result.CompileResult.ExecutionTime)
	}
	if result.RunResult != nil {
		metrics.StageDuration.WithLabelValues(lang, "run").Observe(result.RunResult.ExecutionTime)
	}

	job.Result <- &result
}
