package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/ir"
)

// DeleteOptions controls DeleteNodes.
type DeleteOptions struct {
	Rules graph.DeleteRules
	// DryRun computes the closure without deleting anything.
	DryRun bool
}

// DefaultDeleteOptions follows every toggleable link and deletes for real.
func DefaultDeleteOptions() DeleteOptions {
	return DeleteOptions{Rules: graph.DefaultDeleteRules()}
}

// DeleteNodes deletes roots and every node reachable from them by forward
// traversal of the followed link types. Nodes are deleted in reverse
// topological order in one transaction, together with their links, group
// memberships, comments and repository manifests. Returns the deleted pks
// in deletion order.
func (s *Store) DeleteNodes(ctx context.Context, roots []int64, opts DeleteOptions) ([]int64, error) {
	var order []int64
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		order, err = tx.DeleteNodes(ctx, roots, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// DeleteNodes is the transactional form of Store.DeleteNodes.
func (tx *Tx) DeleteNodes(ctx context.Context, roots []int64, opts DeleteOptions) ([]int64, error) {
	q := tx.q()
	for _, pk := range roots {
		var exists int
		if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes WHERE id = ?`, pk).Scan(&exists); err != nil {
			return nil, fmt.Errorf("delete nodes: %w", err)
		}
		if exists == 0 {
			return nil, ir.NotExistent("node", fmt.Sprint(pk))
		}
	}

	closure, edges, err := graph.DeletionClosure(ctx, edgeSource{q: q}, roots, opts.Rules)
	if err != nil {
		return nil, fmt.Errorf("deletion closure: %w", err)
	}
	order := graph.DeletionOrder(closure, edges)
	if opts.DryRun {
		return order, nil
	}

	var objectKeys []string
	for _, pk := range order {
		keys, err := deleteNodeRows(ctx, q, pk)
		if err != nil {
			return nil, err
		}
		objectKeys = append(objectKeys, keys...)
	}
	orphans, err := unreferencedObjects(ctx, q, objectKeys)
	if err != nil {
		return nil, err
	}

	s := tx.s
	tx.OnCommit(func() {
		for _, pk := range order {
			s.provIdx.RemoveNode(pk)
			s.callIdx.RemoveNode(pk)
		}
		if len(orphans) == 0 {
			return
		}
		if err := s.objects.Delete(context.Background(), orphans...); err != nil {
			slog.Warn("failed to delete repository objects", "count", len(orphans), "error", err)
		}
	})
	slog.Debug("nodes deleted", "roots", roots, "count", len(order))
	return order, nil
}

// deleteNodeRows removes a node and everything referencing it, returning
// the object keys its manifest pointed to.
func deleteNodeRows(ctx context.Context, q querier, pk int64) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT DISTINCT object_key FROM node_files WHERE node_id = ?`, pk)
	if err != nil {
		return nil, fmt.Errorf("query node files: %w", err)
	}
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan node file: %w", err)
		}
		keys = append(keys, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate node files: %w", err)
	}

	stmts := []string{
		`DELETE FROM links WHERE input_id = ? OR output_id = ?`,
		`DELETE FROM group_nodes WHERE node_id = ?`,
		`DELETE FROM comments WHERE node_id = ?`,
		`DELETE FROM node_files WHERE node_id = ?`,
		`DELETE FROM nodes WHERE id = ?`,
	}
	for _, stmt := range stmts {
		args := []any{pk}
		if stmt == stmts[0] {
			args = append(args, pk)
		}
		if _, err := q.ExecContext(ctx, stmt, args...); err != nil {
			return nil, fmt.Errorf("delete node %d: %w", pk, err)
		}
	}
	return keys, nil
}
