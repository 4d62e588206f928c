package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lineage/internal/store"
)

// ComputerView is the output of computer setup and computer show.
type ComputerView store.Computer

// Text renders the computer for text output.
func (c ComputerView) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (pk %d)\n", c.Label, c.PK)
	fmt.Fprintf(&b, "  transport: %s\n", c.TransportType)
	if c.Hostname != "" {
		fmt.Fprintf(&b, "  hostname:  %s\n", c.Hostname)
	}
	if c.Username != "" {
		fmt.Fprintf(&b, "  username:  %s\n", c.Username)
	}
	if c.Port != 0 {
		fmt.Fprintf(&b, "  port:      %d\n", c.Port)
	}
	fmt.Fprintf(&b, "  work dir:  %s\n", c.WorkDir)
	fmt.Fprintf(&b, "  interval:  %s\n", c.SafeOpenInterval)
	if c.Description != "" {
		fmt.Fprintf(&b, "  %s\n", c.Description)
	}
	return b.String()
}

// NewComputerCommand creates the computer command group.
func NewComputerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "computer",
		Short: "Configure computers that run calculation jobs",
	}
	cmd.AddCommand(newComputerSetupCommand(rootOpts))
	cmd.AddCommand(newComputerShowCommand(rootOpts))
	return cmd
}

func newComputerSetupCommand(rootOpts *RootOptions) *cobra.Command {
	c := &store.Computer{}
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "setup <label>",
		Short: "Create a computer",
		Long: `Create a computer that calcjobs can run on.

Local computers run jobs in a work directory on this machine. SSH computers
need a hostname; the host key must already be in ~/.ssh/known_hosts.
Connections to the same computer are opened at most once per safe interval.`,
		Example: `  lineage computer setup localhost --workdir /tmp/lineage
  lineage computer setup cluster --transport ssh --hostname login.example.org \
      --username alice --key-file ~/.ssh/id_ed25519 --workdir /scratch/alice`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProfile(cmd, rootOpts, func(ctx context.Context, p *profile, f *OutputFormatter) error {
				c.Label = args[0]
				c.SafeOpenInterval = interval
				if !cmd.Flags().Changed("safe-interval") {
					c.SafeOpenInterval = p.cfg.Transport.SafeOpenInterval
				}
				if err := p.store.CreateComputer(ctx, c); err != nil {
					return f.Fail(ExitCommandError, "failed to create computer", err)
				}
				return f.Success(ComputerView(*c))
			})
		},
	}

	cmd.Flags().StringVar(&c.TransportType, "transport", store.TransportLocal, "transport type (local|ssh)")
	cmd.Flags().StringVar(&c.Hostname, "hostname", "", "remote host name")
	cmd.Flags().StringVar(&c.WorkDir, "workdir", "", "directory jobs run in")
	cmd.Flags().StringVar(&c.Username, "username", "", "ssh user")
	cmd.Flags().StringVar(&c.KeyFile, "key-file", "", "ssh private key")
	cmd.Flags().IntVar(&c.Port, "port", 0, "ssh port (default 22)")
	cmd.Flags().StringVar(&c.Description, "description", "", "computer description")
	cmd.Flags().DurationVar(&interval, "safe-interval", 0, "minimum time between connections (default from config)")
	return cmd
}

func newComputerShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <label>",
		Short:         "Show a computer",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProfile(cmd, rootOpts, func(ctx context.Context, p *profile, f *OutputFormatter) error {
				c, err := p.store.LoadComputer(ctx, args[0])
				if err != nil {
					return f.Fail(ExitCommandError, fmt.Sprintf("computer %s", args[0]), err)
				}
				return f.Success(ComputerView(*c))
			})
		},
	}
}
