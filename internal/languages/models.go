package languages

// Language is the closed set of execution modes the service accepts. The
// tag is validated at the API edge; the dispatcher never sees an unknown
// value.
type Language string

const (
	Python     Language = "python"
	CPP        Language = "cpp"
	NodeJS     Language = "nodejs"
	TypeScript Language = "typescript"
	Go         Language = "go"
	Bash       Language = "bash"
)

// Recipe is the per-language command data: the canonical source filename,
// an optional compile template and the run template. Templates are shell
// commands executed in the request workspace; they are configuration, not
// logic.
type Recipe struct {
	// SourceFile is where the submitted code is written inside the
	// workspace.
	SourceFile string
	// CompileCommand, when non-empty, runs before the run step. A failing
	// compile skips the run step entirely.
	CompileCommand string
	// RunCommand executes the program. The caller's stdin is attached to
	// this step only.
	RunCommand string
}

// Compiled reports whether the recipe has a compilation step.
func (r Recipe) Compiled() bool { return r.CompileCommand != "" }
