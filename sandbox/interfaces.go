package sandbox

import (
	"github.com/p-arndt/chainsandbox/internal/store"
)

// Ledger records sandboxes and the processes they spawn so that a later
// run can reap what a crashed driver left behind.
type Ledger interface {
	CreateSandbox(sb *store.Sandbox) error
	UpdateSandboxStatus(id string, status string) error
	RecordProcess(p *store.Process) error
	FinishProcess(id string, status string, exitCode int) error
}
