package executor

import (
	"time"

	"github.com/itsmeharsh/sandboxd/internal/languages"
	"github.com/itsmeharsh/sandboxd/internal/sandbox"
)

// CodeRunArgs is one code execution request as seen by the dispatcher.
// Paths in Files and FetchFiles are relative to the request workspace and
// must resolve inside it.
type CodeRunArgs struct {
	Code           string
	Language       languages.Language
	CompileTimeout time.Duration
	RunTimeout     time.Duration
	// MemoryLimitBytes <= 0 means unbounded.
	MemoryLimitBytes int64
	// Stdin is fed to the run step only; nil means no input.
	Stdin *string
	// Files maps workspace-relative paths to base64 payloads; a nil payload
	// creates an empty placeholder file.
	Files map[string]*string
	// FetchFiles lists workspace-relative paths read back after execution.
	FetchFiles []string
}

// CodeRunResult is the immutable outcome of one pipeline execution.
// RunResult is absent when a required compile step did not finish with a
// zero exit code.
type CodeRunResult struct {
	CompileResult *sandbox.CommandRunResult `json:"compile_result,omitempty"`
	RunResult     *sandbox.CommandRunResult `json:"run_result,omitempty"`
	Files         map[string]string         `json:"files"`
}
