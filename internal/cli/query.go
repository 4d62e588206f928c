package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/queryir"
	"github.com/roach88/lineage/internal/store"
)

// NodeSummary is a node cell of a query result.
type NodeSummary struct {
	PK      int64  `json:"pk"`
	UUID    string `json:"uuid"`
	Subtype string `json:"subtype"`
	Label   string `json:"label,omitempty"`
}

// QueryResult is the output of the query command.
type QueryResult struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
	Count   int      `json:"count"`
}

// Text renders the rows as an aligned table.
func (r QueryResult) Text() string {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(r.Columns, "\t"))
	for _, row := range r.Rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = cellText(c)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()
	fmt.Fprintf(&b, "(%d row(s))\n", r.Count)
	return b.String()
}

func cellText(c any) string {
	switch v := c.(type) {
	case NodeSummary:
		if v.Label != "" {
			return fmt.Sprintf("%d %s %q", v.PK, v.Subtype, v.Label)
		}
		return fmt.Sprintf("%d %s", v.PK, v.Subtype)
	case *store.Group:
		return fmt.Sprintf("%d %s", v.PK, v.Label)
	case *store.Computer:
		return fmt.Sprintf("%d %s", v.PK, v.Label)
	case *store.User:
		return fmt.Sprintf("%d %s", v.PK, v.Email)
	case *store.Comment:
		return fmt.Sprintf("%d %q", v.PK, v.Content)
	case ir.IRString:
		return string(v)
	case ir.IRValue:
		return string(ir.MustMarshalCanonical(v))
	}
	return fmt.Sprint(c)
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	var countOnly bool

	cmd := &cobra.Command{
		Use:   "query <path.yaml>",
		Short: "Run a graph query",
		Long: `Run a path query written in YAML against the provenance graph.

A query is a list of vertices. Each vertex after the first names a relation
to an earlier vertex (input_of, output_of, ancestor_of, descendant_of,
member_of, with_computer and so on) and may carry filters and a projection. Use "-" to read the query from standard input.

Example query:
  path:
    - {kind: node, subtypes: [process.calculation.calcfunction], tag: calc}
    - {kind: node, node_type: data, tag: result, relation: output_of, with: calc,
       edge_filters: {label: sum}, project: [pk, "attributes.value"]}

Examples:
  lineage query ./results.yaml
  lineage query ./results.yaml --count
  cat q.yaml | lineage query - --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(rootOpts, args[0], countOnly, cmd)
		},
	}

	cmd.Flags().BoolVar(&countOnly, "count", false, "print only the number of rows")
	return cmd
}

func runQuery(opts *RootOptions, file string, countOnly bool, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	var data []byte
	var err error
	if file == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return f.Fail(ExitCommandError, "failed to read query", err)
	}
	path, err := queryir.DecodeYAML(data)
	if err != nil {
		return f.Fail(ExitCommandError, "invalid query", err)
	}

	return withProfile(cmd, opts, func(ctx context.Context, p *profile, f *OutputFormatter) error {
		res, err := p.store.Query(ctx, path)
		if err != nil {
			return f.Fail(ExitCommandError, "invalid query", err)
		}

		if countOnly {
			n, err := res.Count()
			if err != nil {
				return f.Fail(ExitFailure, "query failed", err)
			}
			if f.Format == "json" {
				return f.Success(map[string]int{"count": n})
			}
			return f.Success(n)
		}

		out := QueryResult{Rows: [][]any{}}
		for _, c := range res.Columns() {
			out.Columns = append(out.Columns, c.Key())
		}
		for res.Next() {
			out.Rows = append(out.Rows, rowCells(res.Row()))
		}
		if err := res.Err(); err != nil {
			return f.Fail(ExitFailure, "query failed", err)
		}
		out.Count = len(out.Rows)
		return f.Success(out)
	})
}

// rowCells replaces node cells with their summary.
func rowCells(row store.Row) []any {
	cells := make([]any, len(row))
	for i, c := range row {
		if n, ok := c.(*graph.Node); ok {
			cells[i] = NodeSummary{PK: n.PK(), UUID: n.UUID(), Subtype: n.Subtype(), Label: n.Label()}
			continue
		}
		cells[i] = c
	}
	return cells
}
