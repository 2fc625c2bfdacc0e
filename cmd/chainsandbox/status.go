package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/p-arndt/chainsandbox/internal/store"
	"github.com/spf13/cobra"
)

var (
	flagAll       bool
	flagProcesses bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List sandboxes recorded in the ledger",
	RunE:  status,
}

func init() {
	statusCmd.Flags().BoolVar(&flagAll, "all", false, "include closed and reaped sandboxes")
	statusCmd.Flags().BoolVar(&flagProcesses, "processes", false, "list the processes of each sandbox")
}

func status(cmd *cobra.Command, args []string) error {
	st, err := openLedger()
	if err != nil {
		return err
	}
	defer st.Close()

	var sandboxes []*store.Sandbox
	if flagAll {
		sandboxes, err = st.ListSandboxes()
	} else {
		sandboxes, err = st.ListOpenSandboxes()
	}
	if err != nil {
		return err
	}
	return printStatus(cmd.OutOrStdout(), st, sandboxes, flagProcesses, time.Now())
}

func printStatus(w io.Writer, st *store.Store, sandboxes []*store.Sandbox, withProcs bool, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SANDBOX\tSTATUS\tOWNER\tAGE\tROOT")
	for _, sb := range sandboxes {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", sb.ID, sb.Status, sb.OwnerPID, units.HumanDuration(now.Sub(sb.CreatedAt)), sb.RootDir)
		if !withProcs {
			continue
		}
		procs, err := st.ListProcesses(sb.ID)
		if err != nil {
			return err
		}
		for _, p := range procs {
			fmt.Fprintf(tw, "  %s\t%s\t%d\t%s\t%s\n", processLabel(p), p.Status, p.PID, processAge(p, now), p.LogFile)
		}
	}
	return tw.Flush()
}

func processLabel(p *store.Process) string {
	if p.Proto == "" {
		return fmt.Sprintf("%s %d", p.Role, p.NodeID)
	}
	return fmt.Sprintf("%s-%s %d", p.Role, p.Proto, p.NodeID)
}

func processAge(p *store.Process, now time.Time) string {
	if p.Status == store.ProcessRunning {
		return "up " + units.HumanDuration(now.Sub(p.StartedAt))
	}
	return fmt.Sprintf("exit %d", p.ExitCode)
}
