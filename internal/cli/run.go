package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/lineage/internal/engine"
	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/process"
	"github.com/roach88/lineage/internal/store"
	"github.com/roach88/lineage/internal/workflows"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Inputs   []string // label=value pairs
	Computer string   // computer label for calcjobs
	Detach   bool     // submit only; a daemon runs the process
}

// RunResult is the output of the run command.
type RunResult struct {
	PK          int64            `json:"pk"`
	UUID        string           `json:"uuid"`
	Process     string           `json:"process"`
	State       string           `json:"state"`
	ExitStatus  int              `json:"exit_status"`
	ExitMessage string           `json:"exit_message,omitempty"`
	Outputs     map[string]int64 `json:"outputs"`
	Submitted   bool             `json:"submitted,omitempty"`
}

// Text renders the result for text output.
func (r RunResult) Text() string {
	if r.Submitted {
		return fmt.Sprintf("✓ Submitted %s (pk %d, uuid %s)\n", r.Process, r.PK, r.UUID)
	}
	var b strings.Builder
	mark := "✓"
	if r.State != string(ir.StateFinished) || r.ExitStatus != 0 {
		mark = "✗"
	}
	fmt.Fprintf(&b, "%s %s (pk %d) %s [%d]", mark, r.Process, r.PK, r.State, r.ExitStatus)
	if r.ExitMessage != "" {
		fmt.Fprintf(&b, " %s", r.ExitMessage)
	}
	b.WriteString("\n")
	for _, label := range sortedKeys(r.Outputs) {
		fmt.Fprintf(&b, "  -> %s: %d\n", label, r.Outputs[label])
	}
	return b.String()
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <process>",
		Short: "Run a process from the library",
		Long: `Run a calcfunction, calcjob or workchain and wait for it to terminate.

Inputs are given as label=value. Values are YAML scalars, lists or maps and
become new data nodes; @<node> reuses a stored node (pk, uuid or prefix).
Calcjobs need --computer naming a computer created with computer setup.

With --detach the process is only submitted; a running daemon picks it up.

Exit codes:
  0 - Process finished with exit status 0
  1 - Process failed, excepted or was killed
  2 - Command error (unknown process, bad input, unknown node)

Examples:
  lineage run add --input x=1 --input y=2
  lineage run SumWorkChain --input n=4 --input step=2
  lineage run arithmetic.add --computer localhost --input x=@42 --input y=3
  lineage run AddMultiplyWorkChain --input x=1 --input y=2 --input z=3 --detach`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Inputs, "input", "i", nil, "process input as label=value (repeatable)")
	cmd.Flags().StringVar(&opts.Computer, "computer", "", "computer that runs calcjobs")
	cmd.Flags().BoolVar(&opts.Detach, "detach", false, "submit without waiting")

	return cmd
}

func runProcess(opts *RunOptions, name string, cmd *cobra.Command) error {
	return withProfile(cmd, opts.RootOptions, func(ctx context.Context, p *profile, f *OutputFormatter) error {
		if opts.Computer != "" {
			if _, err := p.store.LoadComputer(ctx, opts.Computer); err != nil {
				return f.Fail(ExitCommandError, fmt.Sprintf("computer %s", opts.Computer), err)
			}
		}
		reg, err := workflows.Registry(opts.Computer)
		if err != nil {
			return f.Fail(ExitCommandError, "failed to build process registry", err)
		}
		if _, err := reg.Get(name); err != nil {
			return f.Fail(ExitCommandError, "unknown process", err)
		}

		inputs, err := parseInputs(ctx, p.store, opts.Inputs)
		if err != nil {
			return f.Fail(ExitCommandError, "invalid input", err)
		}

		runner := p.runner(reg)
		if opts.Detach {
			h, err := runner.Submit(ctx, name, inputs)
			if err != nil {
				return f.Fail(ExitCommandError, "submit failed", err)
			}
			f.VerboseLog("submitted %s as %s", name, h.UUID)
			return f.Success(RunResult{PK: h.PK, UUID: h.UUID, Process: name, State: string(ir.StateCreated), Submitted: true})
		}

		f.VerboseLog("running %s with %d input(s)", name, len(inputs))
		res, err := runner.RunSync(ctx, name, inputs)
		if err != nil {
			return f.Fail(ExitCommandError, "run failed", err)
		}
		out := runResult(name, res)
		if err := f.Success(out); err != nil {
			return err
		}
		if !res.Succeeded() {
			return NewExitError(ExitFailure, fmt.Sprintf("%s %s with exit status %d", name, res.State, res.ExitStatus))
		}
		return nil
	})
}

func runResult(name string, res *engine.Result) RunResult {
	out := RunResult{
		PK:          res.Node.PK(),
		UUID:        res.Node.UUID(),
		Process:     name,
		State:       string(res.State),
		ExitStatus:  res.ExitStatus,
		ExitMessage: res.ExitMessage,
		Outputs:     make(map[string]int64, len(res.Outputs)),
	}
	for label, n := range res.Outputs {
		out.Outputs[label] = n.PK()
	}
	return out
}

// parseInputs turns label=value pairs into input nodes. Literal values are
// decoded as YAML and stored as new data nodes by the runner.
func parseInputs(ctx context.Context, s *store.Store, pairs []string) (process.Inputs, error) {
	inputs := make(process.Inputs, len(pairs))
	for _, pair := range pairs {
		label, raw, ok := strings.Cut(pair, "=")
		if !ok || label == "" {
			return nil, fmt.Errorf("%q: expected label=value", pair)
		}
		if _, dup := inputs[label]; dup {
			return nil, fmt.Errorf("input %s given twice", label)
		}

		if ident, ok := strings.CutPrefix(raw, "@"); ok {
			n, err := s.LoadNodeByIdentifier(ctx, ident)
			if err != nil {
				return nil, fmt.Errorf("input %s: %w", label, err)
			}
			inputs[label] = n
			continue
		}

		var decoded any
		if err := yaml.Unmarshal([]byte(raw), &decoded); err != nil {
			return nil, fmt.Errorf("input %s: %w", label, err)
		}
		v, err := ir.FromAny(decoded)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", label, err)
		}
		n, err := process.NewData(s, v)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", label, err)
		}
		inputs[label] = n
	}
	return inputs, nil
}
