package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/ir"
)

// FileEntry is one entry of a node's repository manifest.
type FileEntry struct {
	Path      string `json:"path"`
	ObjectKey string `json:"object_key"`
	Size      int64  `json:"size"`
}

// ListFiles returns the repository manifest of a stored node, sorted by path.
// A non-empty dir limits the listing to paths below that folder.
func (s *Store) ListFiles(ctx context.Context, n *graph.Node, dir string) ([]FileEntry, error) {
	if !n.IsStored() {
		return nil, &ir.Error{Code: ir.CodeModificationNotAllowed, Message: "node is not stored", Entity: n.UUID()}
	}
	query := `SELECT path, object_key, size FROM node_files WHERE node_id = ?`
	args := []any{n.PK()}
	if dir = strings.Trim(dir, "/"); dir != "" {
		query += ` AND substr(path, 1, ?) = ?`
		args = append(args, len(dir)+1, dir+"/")
	}
	query += ` ORDER BY path ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []FileEntry
	for rows.Next() {
		var f FileEntry
		if err := rows.Scan(&f.Path, &f.ObjectKey, &f.Size); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return out, nil
}

// ReadFile returns the content of a repository file of a stored node.
func (s *Store) ReadFile(ctx context.Context, n *graph.Node, path string) ([]byte, error) {
	if !n.IsStored() {
		if content, ok := n.Files()[path]; ok {
			return content, nil
		}
		return nil, ir.NotExistent("file", path)
	}
	var key string
	err := s.db.QueryRowContext(ctx,
		`SELECT object_key FROM node_files WHERE node_id = ? AND path = ?`, n.PK(), path).Scan(&key)
	if err == sql.ErrNoRows {
		return nil, ir.NotExistent("file", path)
	}
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}
	return s.objects.Get(ctx, key)
}

// unreferencedObjects returns which of keys no manifest row points to anymore.
func unreferencedObjects(ctx context.Context, q querier, keys []string) ([]string, error) {
	var out []string
	for _, k := range keys {
		var n int
		if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM node_files WHERE object_key = ?`, k).Scan(&n); err != nil {
			return nil, fmt.Errorf("count object references: %w", err)
		}
		if n == 0 {
			out = append(out, k)
		}
	}
	return out, nil
}
