package sandbox

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/p-arndt/chainsandbox/internal/store"
	"github.com/p-arndt/chainsandbox/process"
)

// recorder mirrors process starts and exits into the ledger.
type recorder struct {
	ledger    Ledger
	sandboxID string
	logger    *slog.Logger

	// pending counts started runs whose exit is not recorded yet.
	pending sync.WaitGroup
}

// watch registers h so that each of its runs becomes a ledger row.
func (r *recorder) watch(h *process.Handle, role string, nodeID int, proto string) {
	if r == nil {
		return
	}
	var (
		mu      sync.Mutex
		current string
	)
	h.Watch(func(h *process.Handle, st process.Status) {
		if st.State == process.Running {
			id := uuid.NewString()
			r.pending.Add(1)
			mu.Lock()
			current = id
			mu.Unlock()
			err := r.ledger.RecordProcess(&store.Process{
				ID:         id,
				SandboxID:  r.sandboxID,
				Role:       role,
				NodeID:     nodeID,
				Proto:      proto,
				PID:        st.PID,
				Executable: h.Path(),
				LogFile:    h.LogFile(),
				Status:     store.ProcessRunning,
				StartedAt:  time.Now(),
			})
			if err != nil {
				r.logger.Warn("ledger: record process", "role", role, "node_id", nodeID, "pid", st.PID, "error", err)
			}
			return
		}

		mu.Lock()
		id := current
		current = ""
		mu.Unlock()
		if id == "" {
			return
		}
		defer r.pending.Done()
		if err := r.ledger.FinishProcess(id, store.ProcessExited, st.ExitCode); err != nil {
			r.logger.Warn("ledger: finish process", "role", role, "node_id", nodeID, "pid", st.PID, "error", err)
		}
	})
}

// drain waits until every started run has its exit recorded, or timeout.
func (r *recorder) drain(timeout time.Duration) {
	if r == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		r.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		r.logger.Warn("ledger: exits still unrecorded at close")
	}
}
