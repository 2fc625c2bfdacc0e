package reaper

import (
	"github.com/p-arndt/chainsandbox/internal/store"
)

// ReaperStore abstracts ledger operations needed by the reaper.
type ReaperStore interface {
	ListOpenSandboxes() ([]*store.Sandbox, error)
	ListRunningProcesses(sandboxID string) ([]*store.Process, error)
	FinishProcess(id string, status string, exitCode int) error
	UpdateSandboxStatus(id string, status string) error
}

// ProcessTable abstracts the host process table.
type ProcessTable interface {
	Exists(pid int) (bool, error)
	// Runs reports whether pid is alive and was started from executable.
	Runs(pid int, executable string) (bool, error)
	Kill(pid int) error
}
