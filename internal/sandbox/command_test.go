package sandbox

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	logger := zerolog.Nop()
	return NewRunner(NewReaper(SystemTable{}, &logger), 1<<20, &logger)
}

func strPtr(s string) *string { return &s }

func TestRun_Success(t *testing.T) {
	r := newTestRunner(t)
	res := r.Run(context.Background(), "echo hello", RunOptions{Timeout: 10 * time.Second})
	if res.Status != StatusFinished {
		t.Fatalf("Status = %s, want Finished (stderr: %s)", res.Status, res.Stderr)
	}
	if res.ReturnCode == nil || *res.ReturnCode != 0 {
		t.Errorf("ReturnCode = %v, want 0", res.ReturnCode)
	}
	if !strings.Contains(res.Stdout, "hello") {
		t.Errorf("Stdout = %q, want to contain 'hello'", res.Stdout)
	}
	if res.ExecutionTime <= 0 {
		t.Errorf("ExecutionTime = %f, want > 0", res.ExecutionTime)
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	r := newTestRunner(t)
	res := r.Run(context.Background(), "echo oops >&2; exit 3", RunOptions{Timeout: 10 * time.Second})
	if res.Status != StatusFinished {
		t.Fatalf("Status = %s, want Finished", res.Status)
	}
	if res.ReturnCode == nil || *res.ReturnCode != 3 {
		t.Errorf("ReturnCode = %v, want 3", res.ReturnCode)
	}
	if !strings.Contains(res.Stderr, "oops") {
		t.Errorf("Stderr = %q, want to contain 'oops'", res.Stderr)
	}
}

func TestRun_StdinRoundTrip(t *testing.T) {
	r := newTestRunner(t)
	res := r.Run(context.Background(), "cat", RunOptions{Stdin: strPtr("ping\n"), Timeout: 10 * time.Second})
	if res.Status != StatusFinished {
		t.Fatalf("Status = %s, want Finished", res.Status)
	}
	if !strings.Contains(res.Stdout, "ping") {
		t.Errorf("Stdout = %q, want to contain 'ping'", res.Stdout)
	}
}

func TestRun_StdinWhenChildExitsImmediately(t *testing.T) {
	r := newTestRunner(t)
	// The child exits without reading input; the write must be skipped,
	// not turned into a failure.
	payload := strings.Repeat("x", 1<<20)
	res := r.Run(context.Background(), "true", RunOptions{Stdin: &payload, Timeout: 10 * time.Second})
	if res.Status != StatusFinished {
		t.Fatalf("Status = %s, want Finished (stderr: %s)", res.Status, res.Stderr)
	}
	if res.ReturnCode == nil || *res.ReturnCode != 0 {
		t.Errorf("ReturnCode = %v, want 0", res.ReturnCode)
	}
}

func TestRun_Timeout(t *testing.T) {
	r := newTestRunner(t)
	start := time.Now()
	res := r.Run(context.Background(), "echo partial; sleep 30", RunOptions{Timeout: 300 * time.Millisecond})
	if res.Status != StatusTimeLimitExceeded {
		t.Fatalf("Status = %s, want TimeLimitExceeded", res.Status)
	}
	if res.ReturnCode != nil {
		t.Errorf("ReturnCode = %v, want nil", *res.ReturnCode)
	}
	if !strings.Contains(res.Stdout, "partial") {
		t.Errorf("Stdout = %q, want partial output captured", res.Stdout)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run took %s, should return promptly after the deadline", elapsed)
	}
}

func TestRun_TimeoutReapsDescendants(t *testing.T) {
	r := newTestRunner(t)
	res := r.Run(context.Background(), "sleep 30 & echo $!; wait", RunOptions{Timeout: 300 * time.Millisecond})
	if res.Status != StatusTimeLimitExceeded {
		t.Fatalf("Status = %s, want TimeLimitExceeded", res.Status)
	}
	childPid, err := strconv.Atoi(strings.TrimSpace(res.Stdout))
	if err != nil {
		t.Fatalf("could not parse child pid from stdout %q: %v", res.Stdout, err)
	}
	// Signal 0 probes existence; ESRCH means the child is gone. Allow a
	// moment for the OS to collect it.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if err := syscall.Kill(childPid, 0); errors.Is(err, syscall.ESRCH) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Errorf("descendant pid %d still alive after timeout", childPid)
}

func TestRun_ContextCancellation(t *testing.T) {
	r := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()
	res := r.Run(ctx, "sleep 30", RunOptions{Timeout: time.Minute})
	if res.Status != StatusTimeLimitExceeded {
		t.Fatalf("Status = %s, want TimeLimitExceeded on cancellation", res.Status)
	}
}

func TestRun_SpawnFailure(t *testing.T) {
	r := newTestRunner(t)
	res := r.Run(context.Background(), "echo hi", RunOptions{Dir: "/definitely/not/a/dir", Timeout: 10 * time.Second})
	if res.Status != StatusError {
		t.Fatalf("Status = %s, want Error", res.Status)
	}
	if res.ReturnCode != nil {
		t.Errorf("ReturnCode = %v, want nil", *res.ReturnCode)
	}
	if res.Stderr == "" {
		t.Error("Stderr is empty, want failure description")
	}
}

func TestRun_OutputCap(t *testing.T) {
	logger := zerolog.Nop()
	r := NewRunner(NewReaper(SystemTable{}, &logger), 128, &logger)
	res := r.Run(context.Background(), "head -c 4096 /dev/zero | tr '\\0' 'a'", RunOptions{Timeout: 10 * time.Second})
	if res.Status != StatusFinished {
		t.Fatalf("Status = %s, want Finished", res.Status)
	}
	if len(res.Stdout) > 128 {
		t.Errorf("len(Stdout) = %d, want <= 128", len(res.Stdout))
	}
}

func TestWrapMemoryLimit(t *testing.T) {
	if got := wrapMemoryLimit("echo hi", 0); got != "echo hi" {
		t.Errorf("unbounded command rewritten: %q", got)
	}
	got := wrapMemoryLimit("echo hi", 64*1024*1024)
	if !strings.HasPrefix(got, "ulimit -v 65536;") {
		t.Errorf("wrapMemoryLimit = %q, want ulimit -v 65536 prefix", got)
	}
}

type closedPipe struct {
	writes int
	closed int
}

func (c *closedPipe) Write(p []byte) (int, error) {
	c.writes++
	return 0, syscall.EPIPE
}

func (c *closedPipe) Close() error {
	c.closed++
	return nil
}

func TestWriteStdin_SkipsClosedStream(t *testing.T) {
	pipe := &closedPipe{}
	writeStdin(pipe, "payload")
	if pipe.closed != 1 {
		t.Errorf("Close called %d times, want 1", pipe.closed)
	}
}
