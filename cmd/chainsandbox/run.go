package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/p-arndt/chainsandbox/config"
	"github.com/p-arndt/chainsandbox/process"
	"github.com/p-arndt/chainsandbox/sandbox"
	"github.com/spf13/cobra"
)

var (
	flagTopology      string
	flagCheckInterval time.Duration
)

var errDaemonDied = errors.New("a sandbox process died")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a topology and keep it running until interrupted",
	RunE:  runSandbox,
}

func init() {
	runCmd.Flags().StringVar(&flagTopology, "topology", "", "path to the topology YAML file")
	runCmd.Flags().DurationVar(&flagCheckInterval, "check-interval", 5*time.Second, "liveness check interval")
	runCmd.MarkFlagRequired("topology")
}

func runSandbox(cmd *cobra.Command, args []string) error {
	if err := checkInterval(flagCheckInterval); err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	topo, err := sandbox.LoadTopology(flagTopology)
	if err != nil {
		return fmt.Errorf("loading topology: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	s, err := sandbox.New(ctx, cfg, sandbox.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := topo.Apply(ctx, s); err != nil {
		s.Close()
		return fmt.Errorf("applying topology: %w", err)
	}
	printNodes(cmd.OutOrStdout(), s)

	runErr := supervise(ctx, s, flagCheckInterval)
	logger.Info("shutting down...", "uptime", units.HumanDuration(time.Since(started)), "logs", units.HumanSize(float64(logSize(s.Logs()))))
	if err := s.Close(); err != nil {
		logger.Error("teardown", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

func checkInterval(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: check interval must be positive, got %s", process.ErrInvalidArgument, interval)
	}
	return nil
}

// supervise blocks until ctx is done or a node or daemon exits.
func supervise(ctx context.Context, s *sandbox.Sandbox, interval time.Duration) error {
	if err := checkInterval(interval); err != nil {
		return err
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !s.AreDaemonsAlive() {
				return fmt.Errorf("%w: %v", errDaemonDied, s.Failures())
			}
		}
	}
}

func printNodes(w io.Writer, s *sandbox.Sandbox) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tROLE\tRPC\tP2P\tDETAIL")
	for _, id := range s.NodeIDs() {
		n, err := s.Node(id)
		if err != nil {
			continue
		}
		fmt.Fprintf(tw, "%d\tnode\t%d\t%d\t%s\n", id, n.RPCPort(), n.P2PPort(), n.DataDir())
	}
	for _, d := range s.Daemons() {
		fmt.Fprintf(tw, "%d\t%s\t%d\t-\t%s\n", d.RPCPort()-s.RPCPort(0), d.Role(), d.RPCPort(), d.Proto())
	}
	tw.Flush()
}

func logSize(files []string) int64 {
	var total int64
	for _, f := range files {
		if fi, err := os.Stat(f); err == nil {
			total += fi.Size()
		}
	}
	return total
}
