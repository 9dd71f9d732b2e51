package sandbox

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// Process is a long-lived child spawned outside Run's single-shot timeout
// model. The caller owns its deadlines and sequences I/O through line
// channels; pipe draining and exit collection happen internally so the
// caller can never deadlock against a full kernel buffer.
type Process struct {
	cmd     *exec.Cmd
	reaper  *Reaper
	stdin   io.WriteCloser
	stderr  *boundedBuffer
	lines   chan string
	quit    chan struct{}
	done    chan struct{}
	waitErr error

	closeOnce sync.Once
	killOnce  sync.Once
}

// Spawn starts a persistent process through the same shell and memory-limit
// mechanics as Run. Stdout is exposed line by line; stderr is captured.
func (r *Runner) Spawn(command string, opts RunOptions) (*Process, error) {
	cmd := exec.Command("bash", "-c", wrapMemoryLimit(command, opts.MemoryLimitBytes))
	cmd.Dir = opts.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn failed: %w", err)
	}

	p := &Process{
		cmd:    cmd,
		reaper: r.reaper,
		stdin:  stdin,
		stderr: &boundedBuffer{limit: r.maxOutput},
		lines:  make(chan string, 64),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	var drained sync.WaitGroup
	drained.Add(2)
	go func() {
		defer drained.Done()
		defer close(p.lines)
		scanner := bufio.NewScanner(stdoutPipe)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			// The consumer may have abandoned the channel after a timeout;
			// quit unblocks this sender so exit collection can proceed.
			select {
			case p.lines <- scanner.Text():
			case <-p.quit:
				return
			}
		}
	}()
	go func() {
		defer drained.Done()
		io.Copy(p.stderr, stderrPipe) //nolint:errcheck
	}()
	go func() {
		drained.Wait()
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

// Pid returns the root process id.
func (p *Process) Pid() int32 { return int32(p.cmd.Process.Pid) }

// Lines streams stdout line by line; the channel is closed at EOF.
func (p *Process) Lines() <-chan string { return p.lines }

// Done is closed once the process has exited and its streams are drained.
func (p *Process) Done() <-chan struct{} { return p.done }

// WaitErr reports the process's wait result; only valid after Done is
// closed.
func (p *Process) WaitErr() error { return p.waitErr }

// WriteLine sends one newline-terminated line to the process's stdin.
// A write against an already-exited process reports io closed rather than
// panicking; callers treat it as the process having died.
func (p *Process) WriteLine(line string) error {
	_, err := io.WriteString(p.stdin, line+"\n")
	return err
}

// CloseStdin signals end-of-input.
func (p *Process) CloseStdin() {
	p.closeOnce.Do(func() { p.stdin.Close() })
}

// Stderr returns what the process has written to stderr so far.
func (p *Process) Stderr() string { return p.stderr.String() }

// Kill terminates the process and every descendant. Idempotent.
func (p *Process) Kill() {
	p.killOnce.Do(func() { close(p.quit) })
	p.CloseStdin()
	p.reaper.KillTree(p.Pid())
}
