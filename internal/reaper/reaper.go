package reaper

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/p-arndt/chainsandbox/internal/store"
)

// DefaultInterval is used by Run when New is given a non-positive interval.
const DefaultInterval = 30 * time.Second

// Reaper kills processes left behind by sandboxes whose driver died
// without tearing them down.
type Reaper struct {
	store    ReaperStore
	procs    ProcessTable
	interval time.Duration
	logger   *slog.Logger
}

func New(st ReaperStore, procs ProcessTable, interval time.Duration, logger *slog.Logger) *Reaper {
	if procs == nil {
		procs = HostProcesses{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reaper{
		store:    st,
		procs:    procs,
		interval: interval,
		logger:   logger.With("component", "reaper"),
	}
}

func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("reaper started", "interval", r.interval)

	r.ReapOrphans(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			r.ReapOrphans(ctx)
		}
	}
}

// ReapOrphans reaps every open sandbox whose owner is gone and returns
// how many were reaped.
func (r *Reaper) ReapOrphans(ctx context.Context) int {
	open, err := r.store.ListOpenSandboxes()
	if err != nil {
		r.logger.Error("reaper: list open sandboxes", "error", err)
		return 0
	}

	self := os.Getpid()
	reaped := 0
	for _, sb := range open {
		if ctx.Err() != nil {
			break
		}
		if sb.OwnerPID == self {
			continue
		}
		alive, err := r.procs.Exists(sb.OwnerPID)
		if err != nil {
			r.logger.Warn("reaper: error checking owner", "sandbox_id", sb.ID, "owner_pid", sb.OwnerPID, "error", err)
			continue
		}
		if alive {
			continue
		}
		r.reapSandbox(sb)
		reaped++
	}

	if reaped > 0 {
		r.logger.Info("reaper: reaped sandboxes", "count", reaped)
	}
	return reaped
}

func (r *Reaper) reapSandbox(sb *store.Sandbox) {
	r.logger.Info("reaping orphaned sandbox", "sandbox_id", sb.ID, "owner_pid", sb.OwnerPID, "root_dir", sb.RootDir)

	running, err := r.store.ListRunningProcesses(sb.ID)
	if err != nil {
		r.logger.Error("reaper: list processes", "sandbox_id", sb.ID, "error", err)
		return
	}

	for _, p := range running {
		// A recycled pid running something else is left alone.
		ours, err := r.procs.Runs(p.PID, p.Executable)
		if err != nil {
			r.logger.Warn("reaper: error inspecting process", "pid", p.PID, "error", err)
		}
		if ours {
			r.logger.Info("killing orphaned process", "sandbox_id", sb.ID, "role", p.Role, "node_id", p.NodeID, "pid", p.PID)
			if err := r.procs.Kill(p.PID); err != nil {
				r.logger.Error("reaper: kill", "pid", p.PID, "error", err)
			}
		}
		if err := r.store.FinishProcess(p.ID, store.ProcessReaped, -9); err != nil {
			r.logger.Error("reaper: update process", "process_id", p.ID, "error", err)
		}
	}

	if sb.RootDir != "" {
		if err := os.RemoveAll(sb.RootDir); err != nil {
			r.logger.Error("reaper: remove root dir", "sandbox_id", sb.ID, "root_dir", sb.RootDir, "error", err)
		}
	}

	if err := r.store.UpdateSandboxStatus(sb.ID, store.SandboxReaped); err != nil {
		r.logger.Error("reaper: update status", "sandbox_id", sb.ID, "error", err)
	}
}
