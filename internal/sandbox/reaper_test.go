package sandbox

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type fakeTable struct {
	procs    map[int32]int32 // pid -> ppid
	killed   []int32
	snapErr  error
	termErrs map[int32]error
}

func (f *fakeTable) Snapshot() (map[int32]int32, error) {
	if f.snapErr != nil {
		return nil, f.snapErr
	}
	return f.procs, nil
}

func (f *fakeTable) Terminate(pid int32) error {
	f.killed = append(f.killed, pid)
	return f.termErrs[pid]
}

func newTestReaper(table ProcessTable) *Reaper {
	logger := zerolog.Nop()
	return NewReaper(table, &logger)
}

func TestKillTree_DeepDescendants(t *testing.T) {
	table := &fakeTable{procs: map[int32]int32{
		100: 1,
		101: 100,
		102: 100,
		103: 101,
		104: 103,
		500: 1, // unrelated
	}}
	newTestReaper(table).KillTree(100)

	if len(table.killed) != 5 {
		t.Fatalf("killed %v, want 5 processes", table.killed)
	}
	seen := make(map[int32]bool)
	for _, pid := range table.killed {
		seen[pid] = true
	}
	for _, pid := range []int32{100, 101, 102, 103, 104} {
		if !seen[pid] {
			t.Errorf("pid %d not terminated", pid)
		}
	}
	if seen[500] {
		t.Error("unrelated pid 500 was terminated")
	}
	if table.killed[len(table.killed)-1] != 100 {
		t.Errorf("root terminated before descendants: order %v", table.killed)
	}
}

func TestKillTree_DeadRootIsNoop(t *testing.T) {
	table := &fakeTable{procs: map[int32]int32{}}
	newTestReaper(table).KillTree(999)
	// Only the root signal is issued; a missing process is not an error.
	if len(table.killed) != 1 || table.killed[0] != 999 {
		t.Errorf("killed = %v, want just the root", table.killed)
	}
}

func TestKillTree_AlreadyGoneProcessIgnored(t *testing.T) {
	table := &fakeTable{
		procs:    map[int32]int32{100: 1, 101: 100},
		termErrs: map[int32]error{101: errors.New("no such process")},
	}
	// Must not panic and must still reach the root.
	newTestReaper(table).KillTree(100)
	if table.killed[len(table.killed)-1] != 100 {
		t.Errorf("root not reached: %v", table.killed)
	}
}

func TestKillTree_SnapshotFailureKillsRoot(t *testing.T) {
	table := &fakeTable{snapErr: errors.New("procfs unavailable")}
	newTestReaper(table).KillTree(42)
	if len(table.killed) != 1 || table.killed[0] != 42 {
		t.Errorf("killed = %v, want just the root", table.killed)
	}
}
