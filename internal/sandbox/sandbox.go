package sandbox

import (
	"time"
)

// CommandRunStatus describes how a single command ended.
type CommandRunStatus string

const (
	// StatusFinished means the process exited on its own before the deadline.
	// The exit code may still be non-zero.
	StatusFinished CommandRunStatus = "Finished"
	// StatusTimeLimitExceeded means the deadline fired and the process tree
	// was reaped.
	StatusTimeLimitExceeded CommandRunStatus = "TimeLimitExceeded"
	// StatusError means the process could not be spawned or the sandbox
	// failed while managing it.
	StatusError CommandRunStatus = "Error"
)

// CommandRunResult is the immutable outcome of one command execution.
// ReturnCode is nil when the process never produced one (spawn failure,
// kill on timeout).
type CommandRunResult struct {
	Status        CommandRunStatus `json:"status"`
	ReturnCode    *int             `json:"return_code,omitempty"`
	Stdout        string           `json:"stdout"`
	Stderr        string           `json:"stderr"`
	ExecutionTime float64          `json:"execution_time"`
}

// RunOptions controls a single command execution.
type RunOptions struct {
	// Dir is the working directory for the command.
	Dir string
	// Stdin, when non-nil, is written to the process and then EOF is
	// signaled. A nil Stdin closes the input stream right away.
	Stdin *string
	// Timeout is the wall-clock deadline. Zero or negative falls back to
	// the runner's default.
	Timeout time.Duration
	// MemoryLimitBytes bounds the process's memory. Zero or negative means
	// unbounded.
	MemoryLimitBytes int64
}

func intPtr(v int) *int { return &v }
