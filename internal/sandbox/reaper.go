package sandbox

import (
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessTable abstracts process enumeration and termination so the walk can
// be exercised against a fake table in tests.
type ProcessTable interface {
	// Snapshot returns the live pid -> parent pid relation.
	Snapshot() (map[int32]int32, error)
	// Terminate requests termination of one process. A pid that no longer
	// exists is not an error.
	Terminate(pid int32) error
}

// Reaper terminates a process and every process transitively spawned by it,
// deepest descendants first. It returns after signaling the discovered tree;
// it does not block until the OS has collected every process.
type Reaper struct {
	table  ProcessTable
	logger *zerolog.Logger
}

func NewReaper(table ProcessTable, logger *zerolog.Logger) *Reaper {
	return &Reaper{table: table, logger: logger}
}

// KillTree discovers all descendants of root (including deeply nested ones)
// and signals each before signaling root itself. Invoking it on an
// already-dead root is a no-op.
func (r *Reaper) KillTree(root int32) {
	snapshot, err := r.table.Snapshot()
	if err != nil {
		r.logger.Warn().Err(err).Int32("pid", root).Msg("process enumeration failed, killing root only")
		r.terminate(root)
		return
	}

	children := make(map[int32][]int32, len(snapshot))
	for pid, ppid := range snapshot {
		children[ppid] = append(children[ppid], pid)
	}

	var descendants []int32
	stack := append([]int32(nil), children[root]...)
	for len(stack) > 0 {
		pid := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		descendants = append(descendants, pid)
		stack = append(stack, children[pid]...)
	}

	for _, pid := range descendants {
		r.terminate(pid)
	}
	r.terminate(root)
}

func (r *Reaper) terminate(pid int32) {
	if err := r.table.Terminate(pid); err != nil {
		// Already-gone processes are expected here; anything else is only
		// worth a debug line since the caller cannot act on it.
		r.logger.Debug().Err(err).Int32("pid", pid).Msg("terminate")
	}
}

// SystemTable is the production ProcessTable backed by gopsutil.
type SystemTable struct{}

func (SystemTable) Snapshot() (map[int32]int32, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	table := make(map[int32]int32, len(procs))
	for _, p := range procs {
		ppid, err := p.Ppid()
		if err != nil {
			continue
		}
		table[p.Pid] = ppid
	}
	return table, nil
}

func (SystemTable) Terminate(pid int32) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil // already gone
	}
	return p.Kill()
}
