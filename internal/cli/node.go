package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/store"
)

// LinkView is one link of a shown node, seen from that node.
type LinkView struct {
	Type    ir.LinkType `json:"type"`
	Label   string      `json:"label"`
	PK      int64       `json:"pk"`
	UUID    string      `json:"uuid"`
	Subtype string      `json:"subtype"`
}

// NodeView is the output of node show.
type NodeView struct {
	PK         int64             `json:"pk"`
	UUID       string            `json:"uuid"`
	Subtype    string            `json:"subtype"`
	Label      string            `json:"label,omitempty"`
	Ctime      time.Time         `json:"ctime"`
	Hash       string            `json:"hash,omitempty"`
	UserPK     int64             `json:"user_pk,omitempty"`
	Attributes ir.IRObject       `json:"attributes"`
	Extras     ir.IRObject       `json:"extras,omitempty"`
	Incoming   []LinkView        `json:"incoming"`
	Outgoing   []LinkView        `json:"outgoing"`
	Files      []store.FileEntry `json:"files,omitempty"`
	Comments   []string          `json:"comments,omitempty"`
}

// Text renders the node for text output.
func (v NodeView) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (pk %d)\n", v.Subtype, v.UUID, v.PK)
	if v.Label != "" {
		fmt.Fprintf(&b, "  label: %s\n", v.Label)
	}
	fmt.Fprintf(&b, "  ctime: %s\n", v.Ctime.Format(time.RFC3339))
	for _, k := range v.Attributes.SortedKeys() {
		fmt.Fprintf(&b, "  %s = %s\n", k, ir.MustMarshalCanonical(v.Attributes[k]))
	}
	for _, k := range v.Extras.SortedKeys() {
		fmt.Fprintf(&b, "  extra %s = %s\n", k, ir.MustMarshalCanonical(v.Extras[k]))
	}
	for _, l := range v.Incoming {
		fmt.Fprintf(&b, "  <- %-11s %-12s %s (pk %d)\n", l.Type, l.Label, l.Subtype, l.PK)
	}
	for _, l := range v.Outgoing {
		fmt.Fprintf(&b, "  -> %-11s %-12s %s (pk %d)\n", l.Type, l.Label, l.Subtype, l.PK)
	}
	for _, f := range v.Files {
		fmt.Fprintf(&b, "  file %s (%d bytes)\n", f.Path, f.Size)
	}
	for _, c := range v.Comments {
		fmt.Fprintf(&b, "  # %s\n", c)
	}
	return b.String()
}

// DeleteResult is the output of node delete.
type DeleteResult struct {
	DryRun  bool    `json:"dry_run"`
	Deleted []int64 `json:"deleted"`
}

// Text renders the result for text output.
func (r DeleteResult) Text() string {
	verb := "Deleted"
	if r.DryRun {
		verb = "Would delete"
	}
	pks := make([]string, len(r.Deleted))
	for i, pk := range r.Deleted {
		pks[i] = fmt.Sprint(pk)
	}
	return fmt.Sprintf("%s %d node(s): %s\n", verb, len(r.Deleted), strings.Join(pks, " "))
}

// NewNodeCommand creates the node command group.
func NewNodeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Inspect, annotate and delete nodes",
		Long: `Inspect, annotate and delete provenance nodes.

Nodes are identified by pk, full uuid or a unique uuid prefix.`,
	}
	cmd.AddCommand(newNodeShowCommand(rootOpts))
	cmd.AddCommand(newNodeDeleteCommand(rootOpts))
	cmd.AddCommand(newNodeCommentCommand(rootOpts))
	cmd.AddCommand(newNodeCatCommand(rootOpts))
	return cmd
}

func newNodeShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <node>",
		Short: "Show a node with its links, files and comments",
		Example: `  lineage node show 42
  lineage node show 0190a1b2 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProfile(cmd, rootOpts, func(ctx context.Context, p *profile, f *OutputFormatter) error {
				n, err := p.store.LoadNodeByIdentifier(ctx, args[0])
				if err != nil {
					return nodeError(f, args[0], err)
				}
				view, err := showNode(ctx, p.store, n)
				if err != nil {
					return f.Fail(ExitFailure, "failed to read node", err)
				}
				return f.Success(view)
			})
		},
	}
}

// showNode collects a node's view.
func showNode(ctx context.Context, s *store.Store, n *graph.Node) (NodeView, error) {
	view := NodeView{
		PK:         n.PK(),
		UUID:       n.UUID(),
		Subtype:    n.Subtype(),
		Label:      n.Label(),
		Ctime:      n.Ctime(),
		Hash:       n.Hash(),
		UserPK:     n.UserPK(),
		Attributes: n.Attributes(),
		Extras:     n.Extras(),
		Incoming:   []LinkView{},
		Outgoing:   []LinkView{},
	}

	in, err := s.IncomingLinks(ctx, n)
	if err != nil {
		return view, err
	}
	for _, t := range in {
		view.Incoming = append(view.Incoming, linkView(t))
	}
	out, err := s.OutgoingLinks(ctx, n)
	if err != nil {
		return view, err
	}
	for _, t := range out {
		view.Outgoing = append(view.Outgoing, linkView(t))
	}

	if view.Files, err = s.ListFiles(ctx, n, ""); err != nil {
		return view, err
	}
	comments, err := s.Comments(ctx, n)
	if err != nil {
		return view, err
	}
	for _, c := range comments {
		view.Comments = append(view.Comments, c.Content)
	}
	return view, nil
}

func linkView(t store.LinkTriple) LinkView {
	return LinkView{Type: t.Link.Type, Label: t.Link.Label, PK: t.Node.PK(), UUID: t.Node.UUID(), Subtype: t.Node.Subtype()}
}

func newNodeDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		dryRun     bool
		noCreate   bool
		noCallCalc bool
		noCallWork bool
	)

	cmd := &cobra.Command{
		Use:   "delete <node>...",
		Short: "Delete nodes and everything that depends on them",
		Long: `Delete the given nodes together with every node reachable by following
INPUT links forward and, unless disabled, CREATE and CALL links forward.
RETURN links are never followed and nothing is ever deleted backward.`,
		Example: `  lineage node delete 12 --dry-run
  lineage node delete 12 --no-create`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProfile(cmd, rootOpts, func(ctx context.Context, p *profile, f *OutputFormatter) error {
				roots := make([]int64, 0, len(args))
				for _, ident := range args {
					n, err := p.store.LoadNodeByIdentifier(ctx, ident)
					if err != nil {
						return nodeError(f, ident, err)
					}
					roots = append(roots, n.PK())
				}

				opts := store.DefaultDeleteOptions()
				opts.DryRun = dryRun
				opts.Rules.CreateForward = !noCreate
				opts.Rules.CallCalcForward = !noCallCalc
				opts.Rules.CallWorkForward = !noCallWork

				deleted, err := p.store.DeleteNodes(ctx, roots, opts)
				if err != nil {
					return f.Fail(ExitFailure, "delete failed", err)
				}
				return f.Success(DeleteResult{DryRun: dryRun, Deleted: deleted})
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only report what would be deleted")
	cmd.Flags().BoolVar(&noCreate, "no-create", false, "do not follow CREATE links to outputs")
	cmd.Flags().BoolVar(&noCallCalc, "no-call-calc", false, "do not follow CALL links to calculations")
	cmd.Flags().BoolVar(&noCallWork, "no-call-work", false, "do not follow CALL links to workflows")
	return cmd
}

func newNodeCommentCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "comment <node> <text>",
		Short:         "Attach a comment to a node",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProfile(cmd, rootOpts, func(ctx context.Context, p *profile, f *OutputFormatter) error {
				n, err := p.store.LoadNodeByIdentifier(ctx, args[0])
				if err != nil {
					return nodeError(f, args[0], err)
				}
				c, err := p.store.AddComment(ctx, n, p.user.PK, args[1])
				if err != nil {
					return f.Fail(ExitFailure, "failed to add comment", err)
				}
				if f.Format == "json" {
					return f.Success(c)
				}
				return f.Success(fmt.Sprintf("✓ Comment %d added to node %d", c.PK, n.PK()))
			})
		},
	}
}

func newNodeCatCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "cat <node> <path>",
		Short:         "Print a file from a node's repository folder",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProfile(cmd, rootOpts, func(ctx context.Context, p *profile, f *OutputFormatter) error {
				n, err := p.store.LoadNodeByIdentifier(ctx, args[0])
				if err != nil {
					return nodeError(f, args[0], err)
				}
				data, err := p.store.ReadFile(ctx, n, args[1])
				if err != nil {
					return f.Fail(ExitCommandError, "failed to read file", err)
				}
				if f.Format == "json" {
					return f.Success(map[string]string{"path": args[1], "content": string(data)})
				}
				_, err = f.Writer.Write(data)
				return err
			})
		},
	}
}

// withProfile opens the profile for the duration of fn.
func withProfile(cmd *cobra.Command, opts *RootOptions, fn func(context.Context, *profile, *OutputFormatter) error) error {
	ctx := cmd.Context()
	p, err := openProfile(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer p.close()
	return fn(ctx, p, opts.formatter(cmd))
}
