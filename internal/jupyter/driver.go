// Package jupyter runs a sequence of code cells against one long-lived
// interpreter process. The driver owns cell sequencing and deadlines; the
// kernel-side program and its wire format are supplied as configuration (a
// command template exchanging one JSON object per line on stdin/stdout).
package jupyter

import (
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/itsmeharsh/sandboxd/internal/executor"
	"github.com/itsmeharsh/sandboxd/internal/sandbox"
)

const (
	// DefaultCellTimeout bounds a single cell when the request does not.
	DefaultCellTimeout = 10 * time.Second
	// DefaultTotalTimeout bounds the whole session when the request does not.
	DefaultTotalTimeout = 60 * time.Second

	shutdownGrace = 5 * time.Second
)

// CellRunResult holds one executed cell's outputs.
type CellRunResult struct {
	// Ordinal is the cell's execution position, starting at 1.
	Ordinal int    `json:"execution_count"`
	Status  string `json:"status"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
	// Display carries rich output (an image, a rendered table) the kernel
	// chose to emit besides the plain streams.
	Display string `json:"display,omitempty"`
}

// RunJupyterArgs is one notebook session request.
type RunJupyterArgs struct {
	Cells            []string
	Files            map[string]*string
	FetchFiles       []string
	CellTimeout      time.Duration
	TotalTimeout     time.Duration
	MemoryLimitBytes int64
}

// RunJupyterResult is the session outcome. Cells may be shorter than the
// requested cell count when the driver process died mid-sequence.
type RunJupyterResult struct {
	Driver sandbox.CommandRunResult `json:"driver"`
	Cells  []CellRunResult          `json:"cells"`
	Files  map[string]string        `json:"files"`
}

// cellRequest is one line sent to the kernel process.
type cellRequest struct {
	Ordinal  int    `json:"ordinal"`
	Code     string `json:"code,omitempty"`
	Shutdown bool   `json:"shutdown,omitempty"`
}

// Driver supervises one persistent kernel process per session.
type Driver struct {
	runner        *sandbox.Runner
	command       string
	workspaceRoot string
	logger        *zerolog.Logger
}

func NewDriver(runner *sandbox.Runner, command, workspaceRoot string, logger *zerolog.Logger) *Driver {
	return &Driver{
		runner:        runner,
		command:       command,
		workspaceRoot: workspaceRoot,
		logger:        logger,
	}
}

// Run executes the cells strictly in order against one kernel process. A
// cell is submitted only after the previous cell's completion line was
// observed. On any exit path the kernel's process tree is reaped and the
// workspace removed.
func (d *Driver) Run(ctx context.Context, args RunJupyterArgs) (RunJupyterResult, error) {
	result := RunJupyterResult{Cells: []CellRunResult{}, Files: map[string]string{}}

	ws, err := executor.NewWorkspace(d.workspaceRoot)
	if err != nil {
		return result, err
	}
	defer ws.Remove()

	if err := ws.Materialize(args.Files); err != nil {
		return result, err
	}

	cellTimeout := args.CellTimeout
	if cellTimeout <= 0 {
		cellTimeout = DefaultCellTimeout
	}
	totalTimeout := args.TotalTimeout
	if totalTimeout <= 0 {
		totalTimeout = DefaultTotalTimeout
	}

	start := time.Now()
	proc, err := d.runner.Spawn(d.command, sandbox.RunOptions{
		Dir:              ws.Root(),
		MemoryLimitBytes: args.MemoryLimitBytes,
	})
	if err != nil {
		result.Driver = sandbox.CommandRunResult{
			Status: sandbox.StatusError,
			Stderr: err.Error(),
		}
		return result, nil
	}
	defer proc.Kill()

	overall := time.NewTimer(totalTimeout)
	defer overall.Stop()

	status := sandbox.StatusFinished
	for i, code := range args.Cells {
		ordinal := i + 1
		line, err := json.Marshal(cellRequest{Ordinal: ordinal, Code: code})
		if err != nil {
			status = sandbox.StatusError
			break
		}
		if err := proc.WriteLine(string(line)); err != nil {
			// Kernel died between cells; the sequence truncates here.
			status = sandbox.StatusError
			break
		}

		cell, cellStatus := d.awaitCell(ctx, proc, ordinal, cellTimeout, overall)
		if cell != nil {
			result.Cells = append(result.Cells, *cell)
		}
		if cellStatus != sandbox.StatusFinished {
			status = cellStatus
			break
		}
	}

	driver := d.shutdown(proc, status)
	driver.ExecutionTime = time.Since(start).Seconds()
	result.Driver = driver
	result.Files = ws.Collect(args.FetchFiles)
	return result, nil
}

// awaitCell blocks until the kernel reports the cell done, the kernel dies,
// or a deadline fires. Non-result lines from the kernel are ignored.
func (d *Driver) awaitCell(ctx context.Context, proc *sandbox.Process, ordinal int, cellTimeout time.Duration, overall *time.Timer) (*CellRunResult, sandbox.CommandRunStatus) {
	cellTimer := time.NewTimer(cellTimeout)
	defer cellTimer.Stop()

	for {
		select {
		case line, ok := <-proc.Lines():
			if !ok {
				// Stdout closed under us: the kernel crashed mid-cell.
				return nil, sandbox.StatusError
			}
			var cell CellRunResult
			if err := json.Unmarshal([]byte(line), &cell); err != nil {
				d.logger.Debug().Str("line", line).Msg("ignoring non-result kernel output")
				continue
			}
			if cell.Ordinal != ordinal {
				continue
			}
			return &cell, sandbox.StatusFinished

		case <-proc.Done():
			return nil, sandbox.StatusError

		case <-cellTimer.C:
			return nil, sandbox.StatusTimeLimitExceeded
		case <-overall.C:
			return nil, sandbox.StatusTimeLimitExceeded
		case <-ctx.Done():
			return nil, sandbox.StatusTimeLimitExceeded
		}
	}
}

// shutdown asks the kernel to exit and builds the driver-level result. When
// the session already failed the tree is killed instead of asked.
func (d *Driver) shutdown(proc *sandbox.Process, status sandbox.CommandRunStatus) sandbox.CommandRunResult {
	res := sandbox.CommandRunResult{Status: status, Stderr: proc.Stderr()}

	if status != sandbox.StatusFinished {
		proc.Kill()
		select {
		case <-proc.Done():
		case <-time.After(shutdownGrace):
		}
		res.Stderr = proc.Stderr()
		return res
	}

	if line, err := json.Marshal(cellRequest{Shutdown: true}); err == nil {
		proc.WriteLine(string(line)) //nolint:errcheck
	}
	proc.CloseStdin()

	select {
	case <-proc.Done():
		code := 0
		if waitErr := proc.WaitErr(); waitErr != nil {
			code = exitCodeOf(waitErr)
		}
		res.ReturnCode = &code
	case <-time.After(shutdownGrace):
		proc.Kill()
		res.Status = sandbox.StatusError
	}
	res.Stderr = proc.Stderr()
	return res
}

func exitCodeOf(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
