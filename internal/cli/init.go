package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
)

// DefaultConfigFile is written by init when --config is not given.
const DefaultConfigFile = "lineage.yaml"

// InitResult is the output of the init command.
type InitResult struct {
	Config   string `json:"config"`
	Database string `json:"database"`
	User     string `json:"user"`
}

// Text renders the result for text output.
func (r InitResult) Text() string {
	return fmt.Sprintf("✓ Profile ready\n  config:   %s\n  database: %s\n  user:     %s\n", r.Config, r.Database, r.User)
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a profile configuration and database",
		Long: `Write a configuration file with the default settings (plus any --db
override and LINEAGE_* environment) and create the database it names.

An existing configuration file is kept unless --force is given.

Example:
  lineage init
  lineage init --config ./profiles/dev.yaml --db ./dev.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(rootOpts, force, cmd)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration file")
	return cmd
}

func runInit(opts *RootOptions, force bool, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	path := opts.ConfigPath
	if path == "" {
		path = DefaultConfigFile
	}

	_, statErr := os.Stat(path)
	exists := statErr == nil
	if statErr != nil && !errors.Is(statErr, fs.ErrNotExist) {
		return f.Fail(ExitCommandError, "failed to inspect config", statErr)
	}

	if !exists || force {
		// Defaults plus --db and the environment.
		cfg, err := loadConfig(&RootOptions{Database: opts.Database})
		if err != nil {
			return f.Fail(ExitCommandError, "failed to build config", err)
		}
		data, err := cfg.Encode()
		if err != nil {
			return f.Fail(ExitCommandError, "failed to encode config", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return f.Fail(ExitCommandError, "failed to write config", err)
		}
		f.VerboseLog("wrote %s", path)
	} else {
		f.VerboseLog("keeping existing %s", path)
	}

	p, err := openProfile(cmd.Context(), &RootOptions{
		Verbose:    opts.Verbose,
		Format:     opts.Format,
		ConfigPath: path,
		Database:   opts.Database,
	}, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer p.close()

	return f.Success(InitResult{Config: path, Database: p.cfg.Database.Path, User: p.user.Email})
}
