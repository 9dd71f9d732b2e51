package stats

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/itsmeharsh/sandboxd/internal/classify"
)

func newTestAggregator(everyRequests int, everyInterval time.Duration) (*Aggregator, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	return New(everyRequests, everyInterval, &logger), &buf
}

func TestRecord_Counts(t *testing.T) {
	a, _ := newTestAggregator(0, 0)
	a.Record(classify.Success, classify.ReasonSuccess)
	a.Record(classify.Failed, classify.ReasonRunNonZero)
	a.Record(classify.Failed, classify.ReasonRunTimeout)
	a.Record(classify.SandboxError, classify.ReasonSandboxError)

	total, byStatus, byReason := a.Snapshot()
	if total != 4 {
		t.Errorf("total = %d, want 4", total)
	}
	if byStatus[classify.Failed] != 2 {
		t.Errorf("failed = %d, want 2", byStatus[classify.Failed])
	}
	if byReason[classify.ReasonRunTimeout] != 1 {
		t.Errorf("run_timeout = %d, want 1", byReason[classify.ReasonRunTimeout])
	}
}

func TestRecord_CountTrigger(t *testing.T) {
	a, buf := newTestAggregator(2, 0)
	a.Record(classify.Success, classify.ReasonSuccess)
	if buf.Len() != 0 {
		t.Fatalf("summary emitted before the count trigger: %s", buf.String())
	}
	a.Record(classify.Failed, classify.ReasonRunNonZero)
	out := buf.String()
	if !strings.Contains(out, "sandbox.run_code.stats") {
		t.Fatalf("no summary after 2 requests: %q", out)
	}
	if !strings.Contains(out, `"total_requests":2`) {
		t.Errorf("summary = %q, want total_requests 2", out)
	}
	if !strings.Contains(out, "run_non_zero_exit") {
		t.Errorf("summary = %q, want failure breakdown", out)
	}
}

func TestRecord_DisabledTriggersNeverEmit(t *testing.T) {
	a, buf := newTestAggregator(0, 0)
	for i := 0; i < 100; i++ {
		a.Record(classify.Success, classify.ReasonSuccess)
	}
	if buf.Len() != 0 {
		t.Errorf("summary emitted with both triggers disabled: %s", buf.String())
	}
}

func TestFlush_IncludesImportFailureSample(t *testing.T) {
	a, buf := newTestAggregator(0, 0)
	a.Record(classify.Failed, classify.ReasonImportError)
	a.RecordImportFailure(&classify.ImportFailure{
		Language: "python",
		Module:   "nonexistent_module",
		Error:    "ModuleNotFoundError: No module named 'nonexistent_module'",
	})
	a.Flush()
	out := buf.String()
	if !strings.Contains(out, "nonexistent_module") {
		t.Errorf("summary = %q, want import failure sample", out)
	}
}

func TestFlush_NoopWhenEmpty(t *testing.T) {
	a, buf := newTestAggregator(0, 0)
	a.Flush()
	if buf.Len() != 0 {
		t.Errorf("empty aggregator emitted: %s", buf.String())
	}
}

func TestStop_ReturnsPromptly(t *testing.T) {
	a, _ := newTestAggregator(0, time.Hour)
	a.Start()
	done := make(chan struct{})
	go func() {
		a.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return promptly")
	}
}

func TestRecord_Concurrent(t *testing.T) {
	a, _ := newTestAggregator(0, 0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				a.Record(classify.Success, classify.ReasonSuccess)
			}
		}()
	}
	wg.Wait()
	total, _, _ := a.Snapshot()
	if total != 800 {
		t.Errorf("total = %d, want 800", total)
	}
}
