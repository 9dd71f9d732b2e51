package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultTimeout applies when RunOptions.Timeout is unset.
	DefaultTimeout = 10 * time.Second

	// reapGrace bounds how long we wait for a killed process tree to be
	// collected before giving up and returning partial output.
	reapGrace = 5 * time.Second
)

// Runner executes one shell command to completion or timeout, drains its
// standard streams without deadlocking, and guarantees no descendant of the
// launched process survives.
type Runner struct {
	reaper    *Reaper
	maxOutput int
	logger    *zerolog.Logger
}

// NewRunner builds a Runner. maxOutput caps the bytes captured from each of
// stdout and stderr; excess is discarded, not buffered.
func NewRunner(reaper *Reaper, maxOutput int, logger *zerolog.Logger) *Runner {
	return &Runner{reaper: reaper, maxOutput: maxOutput, logger: logger}
}

// Run executes command through "bash -c" and returns its result. It never
// returns an error: spawn and management failures are reported as
// StatusError with the description in Stderr. Cancelling ctx is treated
// like the deadline firing: the process tree is reaped and the result is
// TimeLimitExceeded with whatever output was captured.
func (r *Runner) Run(ctx context.Context, command string, opts RunOptions) CommandRunResult {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	cmd := exec.Command("bash", "-c", wrapMemoryLimit(command, opts.MemoryLimitBytes))
	cmd.Dir = opts.Dir

	var stdinPipe io.WriteCloser
	if opts.Stdin != nil {
		p, err := cmd.StdinPipe()
		if err != nil {
			return errorResult(fmt.Errorf("stdin pipe: %w", err))
		}
		stdinPipe = p
	}

	stdout := &boundedBuffer{limit: r.maxOutput}
	stderr := &boundedBuffer{limit: r.maxOutput}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return errorResult(fmt.Errorf("stdout pipe: %w", err))
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return errorResult(fmt.Errorf("stderr pipe: %w", err))
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return errorResult(fmt.Errorf("spawn failed: %w", err))
	}
	pid := int32(cmd.Process.Pid)

	if stdinPipe != nil {
		go writeStdin(stdinPipe, *opts.Stdin)
	}

	// Both streams are drained concurrently with the process and with each
	// other; reading them in sequence can deadlock once the child fills one
	// pipe's kernel buffer while blocked writing the other.
	var drained sync.WaitGroup
	drained.Add(2)
	go func() {
		defer drained.Done()
		io.Copy(stdout, stdoutPipe) //nolint:errcheck
	}()
	go func() {
		defer drained.Done()
		io.Copy(stderr, stderrPipe) //nolint:errcheck
	}()

	done := make(chan error, 1)
	go func() {
		drained.Wait()
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case waitErr := <-done:
		elapsed := time.Since(start)
		// A dead parent does not imply dead children; reap whatever the
		// process left behind before reporting.
		r.reaper.KillTree(pid)
		return r.finishResult(waitErr, cmd, stdout, stderr, elapsed)

	case <-timer.C:
	case <-ctx.Done():
	}

	// Deadline or cancellation: reap the tree, then wait a bounded grace
	// period for the drain goroutines and Wait to come back.
	r.reaper.KillTree(pid)
	select {
	case <-done:
	case <-time.After(reapGrace):
		r.logger.Warn().Int32("pid", pid).Msg("process did not exit within reap grace period")
	}
	return CommandRunResult{
		Status:        StatusTimeLimitExceeded,
		Stdout:        stdout.String(),
		Stderr:        stderr.String(),
		ExecutionTime: time.Since(start).Seconds(),
	}
}

func (r *Runner) finishResult(waitErr error, cmd *exec.Cmd, stdout, stderr *boundedBuffer, elapsed time.Duration) CommandRunResult {
	res := CommandRunResult{
		Status:        StatusFinished,
		Stdout:        stdout.String(),
		Stderr:        stderr.String(),
		ExecutionTime: elapsed.Seconds(),
	}
	if waitErr == nil {
		res.ReturnCode = intPtr(0)
		return res
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		// Includes memory-ceiling kills: they surface as an abnormal exit,
		// indistinguishable from any other kill.
		res.ReturnCode = intPtr(exitErr.ExitCode())
		return res
	}
	res.Status = StatusError
	res.ReturnCode = nil
	res.Stderr = stderr.String() + "\n" + waitErr.Error()
	return res
}

// writeStdin feeds the payload to the child and signals EOF. The child may
// already have exited before consuming input (a syntax error exits
// immediately); a write against a closed stream is skipped rather than
// surfaced, and the pipe is closed in every case so interactive readers see
// end-of-input.
func writeStdin(w io.WriteCloser, payload string) {
	defer w.Close()
	if _, err := w.Write([]byte(payload)); err != nil {
		if errors.Is(err, os.ErrClosed) || isBrokenPipe(err) {
			return
		}
	}
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe)
}

// wrapMemoryLimit applies an address-space rlimit inside the spawning shell
// before the program image runs. Linux offers no portable resident-set
// ceiling for an already-forked child, so the virtual limit is the bound we
// can enforce; exceeding it shows up as an abnormal exit.
func wrapMemoryLimit(command string, limitBytes int64) string {
	if limitBytes <= 0 {
		return command
	}
	kb := limitBytes / 1024
	if kb < 1 {
		kb = 1
	}
	return fmt.Sprintf("ulimit -v %d; %s", kb, command)
}

func errorResult(err error) CommandRunResult {
	return CommandRunResult{Status: StatusError, Stderr: err.Error()}
}

// boundedBuffer accumulates up to limit bytes and silently discards the
// rest, reporting full writes so io.Copy never sees a short write.
type boundedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit > 0 {
		remaining := b.limit - b.buf.Len()
		if remaining <= 0 {
			return len(p), nil
		}
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
			return len(p), nil
		}
	}
	return b.buf.Write(p)
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
