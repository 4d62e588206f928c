package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/lineage/internal/engine"
	"github.com/roach88/lineage/internal/workflows"
)

// DaemonOptions holds flags for the daemon command.
type DaemonOptions struct {
	*RootOptions
	Computer string
	Poll     time.Duration
	Once     bool
}

// NewDaemonCommand creates the daemon command.
func NewDaemonCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DaemonOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run submitted and interrupted processes",
		Long: `Pick up every process that has not terminated and drive it to completion.

On each poll the daemon reloads created, running and waiting processes from
the database, so processes submitted with run --detach and processes left
behind by an interrupted runner are resumed. Workchains continue from their
last checkpoint; calculations restart.

With --once the daemon exits as soon as nothing is left to do.

Examples:
  lineage daemon
  lineage daemon --computer localhost --poll 5s
  lineage daemon --once`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Computer, "computer", "", "computer that runs calcjobs")
	cmd.Flags().DurationVar(&opts.Poll, "poll", 2*time.Second, "interval between database polls")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "exit when no process is left to run")

	return cmd
}

func runDaemon(opts *DaemonOptions, cmd *cobra.Command) error {
	if opts.Poll <= 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --poll %s: must be positive", opts.Poll))
	}
	return withProfile(cmd, opts.RootOptions, func(parent context.Context, p *profile, f *OutputFormatter) error {
		reg, err := workflows.Registry(opts.Computer)
		if err != nil {
			return f.Fail(ExitCommandError, "failed to build process registry", err)
		}
		runner := p.runner(reg)

		if parent == nil {
			parent = context.Background()
		}
		ctx, cancel := context.WithCancel(parent)
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		if !opts.Once {
			fmt.Fprintln(f.GetErrWriter(), "Daemon started. Press Ctrl-C to stop.")
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			select {
			case sig := <-sigChan:
				slog.Info("received signal, shutting down", "signal", sig)
				cancel()
			case <-gctx.Done():
			}
			return nil
		})

		var recovered int
		g.Go(func() error {
			defer cancel()
			n, err := pollLoop(gctx, runner, opts.Poll, opts.Once)
			recovered = n
			return err
		})

		if err := g.Wait(); err != nil {
			return f.Fail(ExitFailure, "daemon error", err)
		}
		slog.Info("daemon stopped", "recovered", recovered)
		return f.Success(fmt.Sprintf("✓ Daemon stopped after resuming %d process(es)", recovered))
	})
}

// pollLoop resumes active processes and drains the runner until ctx is
// done, or once when once is set. It owns the runner's loop goroutine and
// returns the total number of processes resumed.
func pollLoop(ctx context.Context, runner *engine.Runner, poll time.Duration, once bool) (int, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	total := 0
	for {
		n, err := runner.Recover(ctx)
		total += n
		if err != nil {
			if ctx.Err() != nil {
				return total, nil
			}
			return total, err
		}
		if n > 0 {
			slog.Info("resumed processes", "count", n)
		}

		if err := runner.Drain(ctx); err != nil {
			if ctx.Err() != nil {
				return total, nil
			}
			return total, err
		}
		if once {
			return total, nil
		}

		select {
		case <-ctx.Done():
			return total, nil
		case <-ticker.C:
		}
	}
}
