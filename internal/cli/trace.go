package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/store"
)

// TraceNode is one process in a call tree with its inputs and outputs.
type TraceNode struct {
	PK         int64            `json:"pk"`
	UUID       string           `json:"uuid"`
	Process    string           `json:"process"`
	Subtype    string           `json:"subtype"`
	State      string           `json:"state"`
	ExitStatus *int64           `json:"exit_status,omitempty"`
	Inputs     map[string]int64 `json:"inputs"`
	Outputs    map[string]int64 `json:"outputs"`
	Cached     string           `json:"cached_from,omitempty"`
	Children   []TraceNode      `json:"children"`
}

// TraceStats summarises a call tree.
type TraceStats struct {
	Processes int            `json:"processes"`
	States    map[string]int `json:"states"`
}

// TraceResult is the output of the trace command.
type TraceResult struct {
	Root  TraceNode  `json:"root"`
	Stats TraceStats `json:"stats"`
}

// Text renders the tree for text output.
func (r TraceResult) Text() string {
	var b strings.Builder
	writeTraceNode(&b, r.Root, "")
	fmt.Fprintf(&b, "\n%d process(es):", r.Stats.Processes)
	for _, state := range sortedKeys(r.Stats.States) {
		fmt.Fprintf(&b, " %s=%d", state, r.Stats.States[state])
	}
	b.WriteString("\n")
	return b.String()
}

func writeTraceNode(b *strings.Builder, n TraceNode, indent string) {
	status := n.State
	if n.ExitStatus != nil {
		status = fmt.Sprintf("%s [%d]", n.State, *n.ExitStatus)
	}
	fmt.Fprintf(b, "%s%s (pk %d) %s", indent, n.Process, n.PK, status)
	if n.Cached != "" {
		fmt.Fprintf(b, " cached from %s", n.Cached)
	}
	b.WriteString("\n")
	for _, label := range sortedKeys(n.Inputs) {
		fmt.Fprintf(b, "%s  <- %s: %d\n", indent, label, n.Inputs[label])
	}
	for _, label := range sortedKeys(n.Outputs) {
		fmt.Fprintf(b, "%s  -> %s: %d\n", indent, label, n.Outputs[label])
	}
	for _, child := range n.Children {
		writeTraceNode(b, child, indent+"    ")
	}
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace <process>",
		Short: "Show the call tree of a process",
		Long: `Show a process together with every process it called, recursively.

Each entry lists the process state and exit status, the nodes it took as
inputs and the nodes it created or returned.

Examples:
  lineage trace 42
  lineage trace 0190a1b2 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProfile(cmd, rootOpts, func(ctx context.Context, p *profile, f *OutputFormatter) error {
				n, err := p.store.LoadNodeByIdentifier(ctx, args[0])
				if err != nil {
					return nodeError(f, args[0], err)
				}
				if n.Type() == ir.NodeData {
					return f.Fail(ExitCommandError, "cannot trace", fmt.Errorf("node %d is a data node", n.PK()))
				}
				result := TraceResult{Stats: TraceStats{States: map[string]int{}}}
				root, err := traceProcess(ctx, p.store, n, &result.Stats)
				if err != nil {
					return f.Fail(ExitFailure, "failed to build trace", err)
				}
				result.Root = root
				return f.Success(result)
			})
		},
	}
	return cmd
}

// traceProcess builds the call tree rooted at n. Children come in the
// order the store returns CALL links, which is link creation order.
func traceProcess(ctx context.Context, s *store.Store, n *graph.Node, stats *TraceStats) (TraceNode, error) {
	tn := TraceNode{
		PK:       n.PK(),
		UUID:     n.UUID(),
		Process:  attrText(n, ir.AttrProcessLabel),
		Subtype:  n.Subtype(),
		State:    attrText(n, ir.AttrProcessState),
		Inputs:   map[string]int64{},
		Outputs:  map[string]int64{},
		Children: []TraceNode{},
	}
	if tn.Process == "" {
		tn.Process = n.Subtype()
	}
	if v, ok := n.Attribute(ir.AttrExitStatus); ok {
		if i, ok := v.(ir.IRInt); ok {
			status := int64(i)
			tn.ExitStatus = &status
		}
	}
	if v, ok := n.Extra(ir.ExtraCachedFrom); ok {
		if src, ok := v.(ir.IRString); ok {
			tn.Cached = string(src)
		}
	}
	stats.Processes++
	stats.States[tn.State]++

	in, err := s.IncomingLinks(ctx, n, ir.LinkInputCalc, ir.LinkInputWork)
	if err != nil {
		return tn, err
	}
	for _, t := range in {
		tn.Inputs[t.Link.Label] = t.Node.PK()
	}
	out, err := s.OutgoingLinks(ctx, n, ir.LinkCreate, ir.LinkReturn)
	if err != nil {
		return tn, err
	}
	for _, t := range out {
		tn.Outputs[t.Link.Label] = t.Node.PK()
	}

	calls, err := s.OutgoingLinks(ctx, n, ir.LinkCallCalc, ir.LinkCallWork)
	if err != nil {
		return tn, err
	}
	for _, t := range calls {
		child, err := traceProcess(ctx, s, t.Node, stats)
		if err != nil {
			return tn, err
		}
		tn.Children = append(tn.Children, child)
	}
	return tn, nil
}

// attrText returns a string attribute or "".
func attrText(n *graph.Node, key string) string {
	if v, ok := n.Attribute(key); ok {
		if s, ok := v.(ir.IRString); ok {
			return string(s)
		}
	}
	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
