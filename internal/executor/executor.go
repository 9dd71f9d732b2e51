// Package executor dispatches a code run to its language recipe: it
// materializes the request workspace, drives the compile and run steps
// through the sandbox runner and collects requested output files.
package executor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/itsmeharsh/sandboxd/internal/languages"
	"github.com/itsmeharsh/sandboxd/internal/sandbox"
)

type Executor struct {
	registry      *languages.Registry
	runner        *sandbox.Runner
	workspaceRoot string
	logger        *zerolog.Logger
}

func NewExecutor(registry *languages.Registry, runner *sandbox.Runner, workspaceRoot string, logger *zerolog.Logger) *Executor {
	return &Executor{
		registry:      registry,
		runner:        runner,
		workspaceRoot: workspaceRoot,
		logger:        logger,
	}
}

// Execute runs one request through its language recipe. Stage failures
// travel inside the result; the returned error covers only orchestration
// faults (workspace setup, invalid input files), which the caller maps to a
// sandbox error. The workspace never outlives the call.
func (e *Executor) Execute(ctx context.Context, args CodeRunArgs) (CodeRunResult, error) {
	recipe, err := e.registry.Get(args.Language)
	if err != nil {
		return CodeRunResult{}, fmt.Errorf("language %q: %w", args.Language, err)
	}

	ws, err := NewWorkspace(e.workspaceRoot)
	if err != nil {
		return CodeRunResult{}, err
	}
	defer ws.Remove()

	if err := ws.Materialize(args.Files); err != nil {
		return CodeRunResult{}, err
	}
	if err := ws.WriteSource(recipe.SourceFile, args.Code); err != nil {
		return CodeRunResult{}, err
	}

	result := CodeRunResult{Files: map[string]string{}}

	if recipe.Compiled() {
		compile := e.runner.Run(ctx, recipe.CompileCommand, sandbox.RunOptions{
			Dir:              ws.root,
			Timeout:          args.CompileTimeout,
			MemoryLimitBytes: args.MemoryLimitBytes,
		})
		result.CompileResult = &compile
		if compile.Status != sandbox.StatusFinished || compile.ReturnCode == nil || *compile.ReturnCode != 0 {
			result.Files = ws.Collect(args.FetchFiles)
			return result, nil
		}
	}

	run := e.runner.Run(ctx, recipe.RunCommand, sandbox.RunOptions{
		Dir:              ws.root,
		Stdin:            args.Stdin,
		Timeout:          args.RunTimeout,
		MemoryLimitBytes: args.MemoryLimitBytes,
	})
	result.RunResult = &run
	result.Files = ws.Collect(args.FetchFiles)
	return result, nil
}
