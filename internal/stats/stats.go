// Package stats keeps process-wide execution counters and periodically
// emits a structured summary. All cross-request mutable state lives behind
// this package's single mutex.
package stats

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/itsmeharsh/sandboxd/internal/classify"
)

// Aggregator counts request outcomes and retains the most recent
// import-failure diagnostic sample. A summary is emitted every
// logEveryRequests requests and/or every logEveryInterval, whichever
// triggers first; a zero value disables that trigger.
type Aggregator struct {
	mu          sync.Mutex
	total       int64
	byStatus    map[classify.RunStatus]int64
	byReason    map[string]int64
	lastImport  *classify.ImportFailure
	lastFlushAt time.Time

	logEveryRequests int
	logEveryInterval time.Duration
	logger           *zerolog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	loopDone chan struct{}
	started  bool
}

func New(logEveryRequests int, logEveryInterval time.Duration, logger *zerolog.Logger) *Aggregator {
	return &Aggregator{
		byStatus:         make(map[classify.RunStatus]int64),
		byReason:         make(map[string]int64),
		logEveryRequests: logEveryRequests,
		logEveryInterval: logEveryInterval,
		logger:           logger,
		stop:             make(chan struct{}),
		loopDone:         make(chan struct{}),
	}
}

// Record counts one finished request and emits the summary when a trigger
// condition is met.
func (a *Aggregator) Record(status classify.RunStatus, reason string) {
	a.mu.Lock()
	a.total++
	a.byStatus[status]++
	a.byReason[reason]++

	byCount := a.logEveryRequests > 0 && a.total%int64(a.logEveryRequests) == 0
	byTime := a.logEveryInterval > 0 && time.Since(a.lastFlushAt) >= a.logEveryInterval
	if !byCount && !byTime {
		a.mu.Unlock()
		return
	}
	event := a.summaryLocked()
	a.lastFlushAt = time.Now()
	a.mu.Unlock()

	a.emit(event)
}

// RecordImportFailure replaces the retained diagnostic sample.
func (a *Aggregator) RecordImportFailure(sample *classify.ImportFailure) {
	if sample == nil {
		return
	}
	a.mu.Lock()
	a.lastImport = sample
	a.mu.Unlock()
}

// Flush emits the summary unconditionally (a no-op before any request).
func (a *Aggregator) Flush() {
	a.mu.Lock()
	if a.total == 0 {
		a.mu.Unlock()
		return
	}
	event := a.summaryLocked()
	a.lastFlushAt = time.Now()
	a.mu.Unlock()

	a.emit(event)
}

// Snapshot returns current totals; used by tests and the health surface.
func (a *Aggregator) Snapshot() (total int64, byStatus map[classify.RunStatus]int64, byReason map[string]int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	byStatus = make(map[classify.RunStatus]int64, len(a.byStatus))
	for k, v := range a.byStatus {
		byStatus[k] = v
	}
	byReason = make(map[string]int64, len(a.byReason))
	for k, v := range a.byReason {
		byReason[k] = v
	}
	return a.total, byStatus, byReason
}

// LastImportFailure returns the retained sample, or nil.
func (a *Aggregator) LastImportFailure() *classify.ImportFailure {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastImport
}

type summary struct {
	total        int64
	success      int64
	failed       int64
	sandboxError int64
	reasons      map[string]int64
	lastImport   *classify.ImportFailure
}

// summaryLocked snapshots the counters; the caller holds the mutex. The
// lock is never held across the log write.
func (a *Aggregator) summaryLocked() summary {
	reasons := make(map[string]int64, len(a.byReason))
	for reason, count := range a.byReason {
		if reason == classify.ReasonSuccess {
			continue
		}
		reasons[reason] = count
	}
	return summary{
		total:        a.total,
		success:      a.byStatus[classify.Success],
		failed:       a.byStatus[classify.Failed],
		sandboxError: a.byStatus[classify.SandboxError],
		reasons:      reasons,
		lastImport:   a.lastImport,
	}
}

func (a *Aggregator) emit(s summary) {
	breakdown := zerolog.Dict()
	for reason, count := range s.reasons {
		breakdown.Dict(reason, zerolog.Dict().
			Int64("count", count).
			Float64("ratio", ratio(count, s.total)))
	}

	event := a.logger.Warn().
		Int64("total_requests", s.total).
		Int64("success_count", s.success).
		Int64("failed_count", s.failed).
		Int64("sandbox_error_count", s.sandboxError).
		Float64("success_rate", ratio(s.success, s.total)).
		Dict("failure_breakdown", breakdown)
	if s.lastImport != nil {
		event = event.
			Str("import_error_language", s.lastImport.Language).
			Str("import_error_module", s.lastImport.Module).
			Str("import_error_line", s.lastImport.Error).
			Str("import_error_code_preview", s.lastImport.CodePreview)
	}
	event.Msg("sandbox.run_code.stats")
}

func ratio(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}

// Start launches the time-based flush loop. It is a no-op when the time
// trigger is disabled.
func (a *Aggregator) Start() {
	if a.logEveryInterval <= 0 {
		return
	}
	a.started = true
	go a.loop()
}

func (a *Aggregator) loop() {
	defer close(a.loopDone)
	// The loop must never take the host process down with it.
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().Interface("panic", r).Msg("stats flush loop panicked")
		}
	}()

	interval := a.logEveryInterval
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.Flush()
		}
	}
}

// Stop signals the flush loop and waits (bounded) for it to exit. Nothing
// is emitted after Stop returns.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
	if !a.started {
		return
	}
	select {
	case <-a.loopDone:
	case <-time.After(2 * time.Second):
	}
}
