package queue

import (
	"context"
	"errors"

	"github.com/itsmeharsh/sandboxd/internal/executor"
	"github.com/itsmeharsh/sandboxd/internal/metrics"
)

// ErrQueueFull is returned when the queue is at capacity; callers map it
// to a retryable client error.
var ErrQueueFull = errors.New("job queue is full")

type Job struct {
	ID     string
	Args   executor.CodeRunArgs
	Result chan *executor.CodeRunResult
	Err    chan error
	Ctx    context.Context
}

type Manager struct {
	jobQueue chan *Job
}

func NewManager(capacity int) *Manager {
	return &Manager{
		jobQueue: make(chan *Job, capacity),
	}
}

// Submit enqueues without blocking; a full queue is reported to the
// caller rather than stalling the request goroutine.
func (m *Manager) Submit(job *Job) error {
	select {
	case m.jobQueue <- job:
		metrics.QueueDepth.Set(float64(len(m.jobQueue)))
		return nil
	default:
		return ErrQueueFull
	}
}

func (m *Manager) NextJob() <-chan *Job {
	return m.jobQueue
}

func (m *Manager) UpdateQueueMetric() {
	metrics.QueueDepth.Set(float64(len(m.jobQueue)))
}
