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

	"github.com/spf13/cobra"

	"github.com/njoerd114/medsync/internal/model"
	syncp "github.com/njoerd114/medsync/internal/sync"
)

// errSyncFailed makes the process exit non-zero after the outcome table has
// been printed.
var errSyncFailed = errors.New("sync finished with failures")

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "daemon",
		GroupID: "sync",
		Short:   "Run a full sync every poll_interval until stopped",
		Long: `Run continuously, performing a full sync immediately and then every
poll_interval. Send SIGUSR1 to request an immediate sync.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			trigger := make(chan os.Signal, 1)
			signal.Notify(trigger, syscall.SIGUSR1)
			defer signal.Stop(trigger)
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-trigger:
						a.engine.Trigger()
					}
				}
			}()

			a.log.Info("daemon starting", "poll_interval", a.cfg.PollInterval)
			if err := a.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("sync engine: %w", err)
			}
			a.log.Info("daemon stopped")
			return nil
		},
	}
}

func newSyncOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "sync-once",
		GroupID: "sync",
		Short:   "Run a single full sync and print per-collection outcomes",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.engine.RunOnce(ctx)
			printResult(cmd.OutOrStdout(), res)
			if !res.Success {
				return errSyncFailed
			}
			return nil
		},
	}
}

func newSyncCollectionCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "sync-collection <name>",
		GroupID:   "sync",
		Short:     "Sync a single collection",
		Args:      cobra.ExactArgs(1),
		ValidArgs: collectionNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := model.ParseCollection(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			out := a.orch.SyncCollection(ctx, c)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			printOutcome(w, out)
			_ = w.Flush()
			if !out.Success {
				return errSyncFailed
			}
			return nil
		},
	}
}

func collectionNames() []string {
	names := make([]string, len(model.AllCollections))
	for i, c := range model.AllCollections {
		names[i] = string(c)
	}
	return names
}

// printResult writes one line per collection followed by a summary.
func printResult(out io.Writer, res syncp.Result) {
	if len(res.Outcomes) == 0 {
		fmt.Fprintf(out, "sync skipped: %s\n", res.Message)
		return
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, o := range res.Outcomes {
		printOutcome(w, o)
	}
	_ = w.Flush()

	status := "ok"
	if !res.Success {
		status = "FAILED"
	}
	fmt.Fprintf(out, "\n%s: %d record(s) merged\n", status, res.TotalMergedCount)
}

func printOutcome(w io.Writer, o syncp.Outcome) {
	switch {
	case !o.Success:
		fmt.Fprintf(w, "  %s\tFAILED\t%s\t%s\n", o.Collection, o.Stage, o.Message)
	case o.PartialPush():
		fmt.Fprintf(w, "  %s\tpartial\tmerged=%d pushed=%d\t%d not pushed\n", o.Collection, o.MergedCount, o.Pushed, len(o.FailedPushIDs))
	default:
		fmt.Fprintf(w, "  %s\tok\tmerged=%d pushed=%d\t\n", o.Collection, o.MergedCount, o.Pushed)
	}
}
