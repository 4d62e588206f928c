package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/ir"
)

// LinkTriple is a stored link together with the node at its other end.
type LinkTriple struct {
	Node *graph.Node
	Link graph.Link
}

func insertLink(ctx context.Context, q querier, from, to int64, lt ir.LinkType, label string) error {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO links (input_id, output_id, type, label) VALUES (?, ?, ?, ?)
	`, from, to, string(lt), label); err != nil {
		return fmt.Errorf("insert link: %w", integrityError(err, fmt.Sprintf("%d -[%s:%s]-> %d", from, lt, label, to)))
	}
	return nil
}

// edgesFrom returns the stored outgoing links of pk as UUID edges.
func edgesFrom(ctx context.Context, q querier, pk int64) ([]graph.Edge, error) {
	return queryEdges(ctx, q, `l.input_id = ?`, pk)
}

// edgesInto returns the stored incoming links of pk as UUID edges.
func edgesInto(ctx context.Context, q querier, pk int64) ([]graph.Edge, error) {
	return queryEdges(ctx, q, `l.output_id = ?`, pk)
}

func queryEdges(ctx context.Context, q querier, where string, pk int64) ([]graph.Edge, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT src.uuid, dst.uuid, l.type, l.label
		FROM links l
		JOIN nodes src ON src.id = l.input_id
		JOIN nodes dst ON dst.id = l.output_id
		WHERE `+where+`
		ORDER BY l.id ASC
	`, pk)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer rows.Close()

	var out []graph.Edge
	for rows.Next() {
		var e graph.Edge
		if err := rows.Scan(&e.Source, &e.Target, &e.Type, &e.Label); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return out, nil
}

// AddLink links two stored nodes, for links that are only known after
// both ends exist (RETURN links, calls, late CREATE links). Inputs of a
// stored process are part of its hash and cannot be added here.
func (s *Store) AddLink(ctx context.Context, source, target *graph.Node, lt ir.LinkType, label string) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		return tx.AddLink(ctx, source, target, lt, label)
	})
}

// AddLink is the transactional form of Store.AddLink. Either end may be a
// node staged earlier in this transaction.
func (tx *Tx) AddLink(ctx context.Context, source, target *graph.Node, lt ir.LinkType, label string) error {
	srcPK, _, ok := tx.stagedPK(source)
	if !ok {
		return &ir.Error{Code: ir.CodeModificationNotAllowed, Message: "link source is not stored", Entity: source.UUID()}
	}
	dstPK, _, ok := tx.stagedPK(target)
	if !ok {
		return &ir.Error{Code: ir.CodeModificationNotAllowed, Message: "link target is not stored", Entity: target.UUID()}
	}
	if err := graph.ValidateLink(source.Type(), target.Type(), source.UUID(), target.UUID(), lt, label); err != nil {
		return err
	}
	if lt.IsInput() {
		return &ir.Error{Code: ir.CodeModificationNotAllowed, Message: "inputs of a stored process are fixed", Entity: target.UUID()}
	}

	q := tx.q()
	incoming, err := edgesInto(ctx, q, dstPK)
	if err != nil {
		return err
	}
	outgoing, err := edgesFrom(ctx, q, srcPK)
	if err != nil {
		return err
	}
	e := graph.Edge{Source: source.UUID(), Target: target.UUID(), Type: lt, Label: label}
	if err := graph.CheckConflicts(e, incoming, outgoing); err != nil {
		return err
	}

	if err := checkNotSealed(ctx, q, srcPK, source.UUID()); err != nil {
		return err
	}
	if err := checkNotSealed(ctx, q, dstPK, target.UUID()); err != nil {
		return err
	}

	if err := tx.indexEdge(srcPK, dstPK, lt); err != nil {
		return err
	}
	return insertLink(ctx, q, srcPK, dstPK, lt, label)
}

// IncomingLinks lists links into the node, optionally restricted to types.
func (s *Store) IncomingLinks(ctx context.Context, n *graph.Node, types ...ir.LinkType) ([]LinkTriple, error) {
	return s.linkTriples(ctx, n, "l.output_id", "l.input_id", types)
}

// OutgoingLinks lists links out of the node, optionally restricted to types.
func (s *Store) OutgoingLinks(ctx context.Context, n *graph.Node, types ...ir.LinkType) ([]LinkTriple, error) {
	return s.linkTriples(ctx, n, "l.input_id", "l.output_id", types)
}

func (s *Store) linkTriples(ctx context.Context, n *graph.Node, self, other string, types []ir.LinkType) ([]LinkTriple, error) {
	if !n.IsStored() {
		return nil, &ir.Error{Code: ir.CodeModificationNotAllowed, Message: "node is not stored", Entity: n.UUID()}
	}
	query := `SELECT l.id, l.input_id, l.output_id, l.type, l.label, ` + nodeColumns("n") + `
		FROM links l JOIN nodes n ON n.id = ` + other + `
		WHERE ` + self + ` = ?`
	args := []any{n.PK()}
	if len(types) > 0 {
		query += ` AND l.type IN (` + placeholders(len(types)) + `)`
		for _, t := range types {
			args = append(args, string(t))
		}
	}
	query += ` ORDER BY l.id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer rows.Close()

	var out []LinkTriple
	for rows.Next() {
		var l graph.Link
		dest := []any{&l.PK, &l.InputPK, &l.OutputPK, &l.Type, &l.Label}
		node, err := s.scanNode(scanFunc(func(nodeDest ...any) error {
			return rows.Scan(append(dest, nodeDest...)...)
		}))
		if err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		out = append(out, LinkTriple{Node: node, Link: l})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return out, nil
}

// scanFunc adapts a function to rowScanner so a joined row can be split
// between a link and a node.
type scanFunc func(dest ...any) error

func (f scanFunc) Scan(dest ...any) error { return f(dest...) }

// OutgoingEdges implements graph.EdgeSource over committed data.
func (s *Store) OutgoingEdges(ctx context.Context, pks []int64, types []ir.LinkType) ([]graph.PKEdge, error) {
	return edgeSource{q: s.db}.OutgoingEdges(ctx, pks, types)
}

// edgeSource implements graph.EdgeSource inside or outside a transaction.
type edgeSource struct {
	q querier
}

func (e edgeSource) OutgoingEdges(ctx context.Context, pks []int64, types []ir.LinkType) ([]graph.PKEdge, error) {
	if len(pks) == 0 || len(types) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(pks)+len(types))
	for _, pk := range pks {
		args = append(args, pk)
	}
	for _, t := range types {
		args = append(args, string(t))
	}
	rows, err := e.q.QueryContext(ctx, `
		SELECT input_id, output_id, type FROM links
		WHERE input_id IN (`+placeholders(len(pks))+`)
		  AND type IN (`+placeholders(len(types))+`)
		ORDER BY id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query outgoing edges: %w", err)
	}
	defer rows.Close()

	var out []graph.PKEdge
	for rows.Next() {
		var pe graph.PKEdge
		if err := rows.Scan(&pe.From, &pe.To, &pe.Type); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		out = append(out, pe)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges: %w", err)
	}
	return out, nil
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
