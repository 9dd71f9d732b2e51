// Package classify maps raw stage results to the coarse run status exposed
// to callers and the fine-grained failure reasons used by telemetry. All
// functions are pure.
package classify

import (
	"regexp"

	"github.com/itsmeharsh/sandboxd/internal/sandbox"
)

// RunStatus is the aggregate outcome surfaced to callers.
type RunStatus string

const (
	// Success: every stage finished with a zero exit code.
	Success RunStatus = "Success"
	// Failed: the sandboxed code failed (non-zero exit or timeout).
	Failed RunStatus = "Failed"
	// SandboxError: the sandbox itself failed.
	SandboxError RunStatus = "SandboxError"
)

// Failure reasons, telemetry-only. Not part of the correctness contract.
const (
	ReasonSuccess           = "success"
	ReasonSandboxError      = "sandbox_error"
	ReasonCompileTimeout    = "compile_timeout"
	ReasonImportError       = "import_error"
	ReasonCompileError      = "compile_error"
	ReasonCompileNonZero    = "compile_non_zero_exit"
	ReasonRunTimeout        = "run_timeout"
	ReasonRunRuntimeError   = "run_runtime_error"
	ReasonRunNonZero        = "run_non_zero_exit"
	// ReasonUnknown flags a failure the taxonomy does not cover; a spike in
	// it means the taxonomy needs review.
	ReasonUnknown = "failed_unknown"
)

// DefaultImportErrorPattern matches interpreter-style module resolution
// failures. The second capture group is the missing module name.
const DefaultImportErrorPattern = `(ModuleNotFoundError: No module named '([^']+)')|(ImportError: .+)`

// ParseRunStatus derives the aggregate status and message from the stage
// results. Priority is strict: Error outranks TimeLimitExceeded outranks a
// non-zero exit code. The message is only populated for SandboxError, where
// it carries the failing stage's stderr.
func ParseRunStatus(compile, run *sandbox.CommandRunResult) (RunStatus, string) {
	for _, stage := range []*sandbox.CommandRunResult{compile, run} {
		if stage != nil && stage.Status == sandbox.StatusError {
			return SandboxError, stage.Stderr
		}
	}
	for _, stage := range []*sandbox.CommandRunResult{compile, run} {
		if stage != nil && stage.Status == sandbox.StatusTimeLimitExceeded {
			return Failed, ""
		}
	}
	for _, stage := range []*sandbox.CommandRunResult{compile, run} {
		if stage != nil && stage.ReturnCode != nil && *stage.ReturnCode != 0 {
			return Failed, ""
		}
	}
	return Success, ""
}

// Reason refines a classified outcome into one failure tag. The import
// pattern is checked against compile stderr first, then run stderr.
func Reason(status RunStatus, compile, run *sandbox.CommandRunResult, pattern *regexp.Regexp) string {
	if status == Success {
		return ReasonSuccess
	}
	if status == SandboxError {
		return ReasonSandboxError
	}

	if compile != nil {
		if compile.Status == sandbox.StatusTimeLimitExceeded {
			return ReasonCompileTimeout
		}
		if pattern.MatchString(compile.Stderr) {
			return ReasonImportError
		}
		if compile.Status == sandbox.StatusError {
			return ReasonCompileError
		}
		if compile.ReturnCode != nil && *compile.ReturnCode != 0 {
			return ReasonCompileNonZero
		}
	}

	if run != nil {
		if run.Status == sandbox.StatusTimeLimitExceeded {
			return ReasonRunTimeout
		}
		if run.Status == sandbox.StatusError {
			if pattern.MatchString(run.Stderr) {
				return ReasonImportError
			}
			return ReasonRunRuntimeError
		}
		if pattern.MatchString(run.Stderr) {
			return ReasonImportError
		}
		if run.ReturnCode != nil && *run.ReturnCode != 0 {
			return ReasonRunNonZero
		}
	}

	return ReasonUnknown
}

// ImportFailure is the diagnostic sample retained when submitted code failed
// on a missing module.
type ImportFailure struct {
	Language    string `json:"language"`
	Module      string `json:"module"`
	Error       string `json:"error"`
	CodePreview string `json:"code_preview"`
}

const codePreviewLimit = 200

// ExtractImportFailure scans compile stderr then run stderr for the import
// pattern and, on a match, builds the diagnostic sample. Returns nil when
// nothing matched.
func ExtractImportFailure(code, language string, compile, run *sandbox.CommandRunResult, pattern *regexp.Regexp) *ImportFailure {
	for _, stage := range []*sandbox.CommandRunResult{compile, run} {
		if stage == nil {
			continue
		}
		match := pattern.FindStringSubmatch(stage.Stderr)
		if match == nil {
			continue
		}
		module := ""
		if len(match) > 2 {
			module = match[2]
		}
		preview := code
		if len(preview) > codePreviewLimit {
			preview = preview[:codePreviewLimit]
		}
		return &ImportFailure{
			Language:    language,
			Module:      module,
			Error:       match[0],
			CodePreview: preview,
		}
	}
	return nil
}
