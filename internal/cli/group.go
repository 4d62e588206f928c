package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/store"
)

// GroupView is the output of group show and one entry of group list.
type GroupView struct {
	PK          int64         `json:"pk"`
	Label       string        `json:"label"`
	Type        string        `json:"type"`
	Description string        `json:"description,omitempty"`
	Members     []NodeSummary `json:"members,omitempty"`
	Size        int           `json:"size"`
}

// GroupList is the output of group list.
type GroupList []GroupView

// Text renders one line per group.
func (l GroupList) Text() string {
	if len(l) == 0 {
		return "No groups.\n"
	}
	var b strings.Builder
	for _, g := range l {
		fmt.Fprintf(&b, "%-20s %-8s %d node(s)\n", g.Label, g.Type, g.Size)
	}
	return b.String()
}

// Text renders the group and its members.
func (g GroupView) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (pk %d, type %s) %d node(s)\n", g.Label, g.PK, g.Type, g.Size)
	if g.Description != "" {
		fmt.Fprintf(&b, "  %s\n", g.Description)
	}
	for _, m := range g.Members {
		fmt.Fprintf(&b, "  %s\n", cellText(m))
	}
	return b.String()
}

// NewGroupCommand creates the group command group.
func NewGroupCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Organise nodes into labelled groups",
	}
	cmd.AddCommand(newGroupCreateCommand(rootOpts))
	cmd.AddCommand(newGroupMembersCommand(rootOpts, "add"))
	cmd.AddCommand(newGroupMembersCommand(rootOpts, "remove"))
	cmd.AddCommand(newGroupListCommand(rootOpts))
	cmd.AddCommand(newGroupShowCommand(rootOpts))
	cmd.AddCommand(newGroupDeleteCommand(rootOpts))
	return cmd
}

func newGroupCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:           "create <label>",
		Short:         "Create an empty group",
		Example:       `  lineage group create relaxations --description "converged runs"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProfile(cmd, rootOpts, func(ctx context.Context, p *profile, f *OutputFormatter) error {
				g := &store.Group{Label: args[0], Description: description, UserPK: p.user.PK}
				if err := p.store.CreateGroup(ctx, g); err != nil {
					return f.Fail(ExitCommandError, "failed to create group", err)
				}
				return f.Success(groupView(g, nil))
			})
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "group description")
	return cmd
}

// newGroupMembersCommand builds group add and group remove.
func newGroupMembersCommand(rootOpts *RootOptions, verb string) *cobra.Command {
	short := "Add nodes to a group"
	if verb == "remove" {
		short = "Remove nodes from a group"
	}
	return &cobra.Command{
		Use:           verb + " <label> <node>...",
		Short:         short,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProfile(cmd, rootOpts, func(ctx context.Context, p *profile, f *OutputFormatter) error {
				g, err := p.store.LoadGroup(ctx, args[0], "")
				if err != nil {
					return f.Fail(ExitCommandError, fmt.Sprintf("group %s", args[0]), err)
				}
				nodes := make([]*graph.Node, 0, len(args)-1)
				for _, ident := range args[1:] {
					n, err := p.store.LoadNodeByIdentifier(ctx, ident)
					if err != nil {
						return nodeError(f, ident, err)
					}
					nodes = append(nodes, n)
				}

				if verb == "remove" {
					err = p.store.RemoveNodes(ctx, g, nodes...)
				} else {
					err = p.store.AddNodes(ctx, g, nodes...)
				}
				if err != nil {
					return f.Fail(ExitFailure, fmt.Sprintf("failed to %s nodes", verb), err)
				}
				return showGroup(ctx, p.store, f, g)
			})
		},
	}
}

func newGroupListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List groups by label",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProfile(cmd, rootOpts, func(ctx context.Context, p *profile, f *OutputFormatter) error {
				groups, err := p.store.ListGroups(ctx)
				if err != nil {
					return f.Fail(ExitFailure, "failed to list groups", err)
				}
				list := GroupList{}
				for _, g := range groups {
					members, err := p.store.GroupNodes(ctx, g)
					if err != nil {
						return f.Fail(ExitFailure, "failed to list groups", err)
					}
					view := groupView(g, members)
					view.Members = nil
					list = append(list, view)
				}
				return f.Success(list)
			})
		},
	}
}

func newGroupShowCommand(rootOpts *RootOptions) *cobra.Command {
	var typeString string

	cmd := &cobra.Command{
		Use:           "show <label>",
		Short:         "Show a group and its members",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProfile(cmd, rootOpts, func(ctx context.Context, p *profile, f *OutputFormatter) error {
				g, err := p.store.LoadGroup(ctx, args[0], typeString)
				if err != nil {
					return f.Fail(ExitCommandError, fmt.Sprintf("group %s", args[0]), err)
				}
				return showGroup(ctx, p.store, f, g)
			})
		},
	}

	cmd.Flags().StringVar(&typeString, "type", store.DefaultGroupType, "group type string")
	return cmd
}

func newGroupDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <label>",
		Short:         "Delete a group; its member nodes are kept",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProfile(cmd, rootOpts, func(ctx context.Context, p *profile, f *OutputFormatter) error {
				g, err := p.store.LoadGroup(ctx, args[0], "")
				if err != nil {
					return f.Fail(ExitCommandError, fmt.Sprintf("group %s", args[0]), err)
				}
				if err := p.store.DeleteGroup(ctx, g); err != nil {
					return f.Fail(ExitFailure, "failed to delete group", err)
				}
				return f.Success(fmt.Sprintf("✓ Group %s deleted", g.Label))
			})
		},
	}
}

func showGroup(ctx context.Context, s *store.Store, f *OutputFormatter, g *store.Group) error {
	members, err := s.GroupNodes(ctx, g)
	if err != nil {
		return f.Fail(ExitFailure, "failed to read group", err)
	}
	return f.Success(groupView(g, members))
}

func groupView(g *store.Group, members []*graph.Node) GroupView {
	view := GroupView{
		PK:          g.PK,
		Label:       g.Label,
		Type:        g.TypeString,
		Description: g.Description,
		Members:     []NodeSummary{},
		Size:        len(members),
	}
	for _, n := range members {
		view.Members = append(view.Members, NodeSummary{PK: n.PK(), UUID: n.UUID(), Subtype: n.Subtype(), Label: n.Label()})
	}
	return view
}
