package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/p-arndt/chainsandbox/config"
	"github.com/p-arndt/chainsandbox/internal/reaper"
	"github.com/p-arndt/chainsandbox/internal/store"
	"github.com/spf13/cobra"
)

var flagWatch time.Duration

var errNoLedger = errors.New("no ledger configured: set db_path or CHAINSANDBOX_DB_PATH")

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Kill processes left behind by sandboxes whose driver died",
	RunE:  reap,
}

func init() {
	reapCmd.Flags().DurationVar(&flagWatch, "watch", 0, "keep reaping at this interval until interrupted")
}

func openLedger() (*store.Store, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.DBPath == "" {
		return nil, errNoLedger
	}
	return store.New(cfg.DBPath, 0)
}

func reap(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	st, err := openLedger()
	if err != nil {
		return err
	}
	defer st.Close()

	r := reaper.New(st, nil, flagWatch, logger)
	if flagWatch <= 0 {
		n := r.ReapOrphans(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "reaped %d sandbox(es)\n", n)
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	r.Run(ctx)
	return nil
}
