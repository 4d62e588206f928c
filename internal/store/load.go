package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/queryir"
)

// columnList returns the stored columns of an entity kind qualified by
// alias. Scanners read them in this order.
func columnList(kind ir.EntityKind, alias string) string {
	cols := queryir.EntityColumns(kind)
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// nodeColumns is the column list scanned by scanNode.
func nodeColumns(alias string) string {
	return columnList(ir.EntityNode, alias)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanNode reads a row selected with nodeColumns into a stored node.
func (s *Store) scanNode(row rowScanner) (*graph.Node, error) {
	var (
		rec                graph.Record
		ctime, mtime       string
		attrs, extras      string
		userPK, computerPK sql.NullInt64
	)
	if err := row.Scan(&rec.PK, &rec.UUID, &rec.Subtype, &rec.Label, &rec.Description,
		&ctime, &mtime, &rec.Version, &attrs, &extras, &rec.Hash, &userPK, &computerPK); err != nil {
		return nil, err
	}
	var err error
	if rec.Ctime, err = parseTime(ctime); err != nil {
		return nil, err
	}
	if rec.Mtime, err = parseTime(mtime); err != nil {
		return nil, err
	}
	if rec.Attributes, err = unmarshalObject(attrs); err != nil {
		return nil, fmt.Errorf("node %s attributes: %w", rec.UUID, err)
	}
	if rec.Extras, err = unmarshalObject(extras); err != nil {
		return nil, fmt.Errorf("node %s extras: %w", rec.UUID, err)
	}
	rec.UserPK = userPK.Int64
	rec.ComputerPK = computerPK.Int64
	return graph.Restore(s.reg, rec, s.clock)
}

func (s *Store) loadNodeWhere(ctx context.Context, q querier, where string, arg any, entity string) (*graph.Node, error) {
	row := q.QueryRowContext(ctx, `SELECT `+nodeColumns("n")+` FROM nodes n WHERE `+where, arg)
	n, err := s.scanNode(row)
	if err == sql.ErrNoRows {
		return nil, ir.NotExistent("node", entity)
	}
	if err != nil {
		return nil, fmt.Errorf("load node %s: %w", entity, err)
	}
	return n, nil
}

// LoadNode loads a stored node by primary key.
func (s *Store) LoadNode(ctx context.Context, pk int64) (*graph.Node, error) {
	return s.loadNodeWhere(ctx, s.db, "n.id = ?", pk, strconv.FormatInt(pk, 10))
}

// LoadNodeByUUID loads a stored node by its full UUID.
func (s *Store) LoadNodeByUUID(ctx context.Context, id string) (*graph.Node, error) {
	return s.loadNodeWhere(ctx, s.db, "n.uuid = ?", id, id)
}

// LoadNodeByIdentifier resolves a pk, a full UUID or a UUID prefix.
// An ambiguous prefix returns MultipleObjects.
func (s *Store) LoadNodeByIdentifier(ctx context.Context, ident string) (*graph.Node, error) {
	if ident == "" {
		return nil, ir.Errorf(ir.CodeValidation, "empty node identifier")
	}
	if pk, err := strconv.ParseInt(ident, 10, 64); err == nil {
		n, err := s.LoadNode(ctx, pk)
		if err == nil || !ir.IsNotExistent(err) {
			return n, err
		}
		// Fall through: an all-digit string can also be a UUID prefix.
	}
	if len(ident) == 36 {
		return s.LoadNodeByUUID(ctx, ident)
	}
	return s.loadNodeByPrefix(ctx, ident)
}

func (s *Store) loadNodeByPrefix(ctx context.Context, prefix string) (*graph.Node, error) {
	if strings.ContainsAny(prefix, `%_\`) {
		return nil, ir.Errorf(ir.CodeValidation, "invalid uuid prefix %q", prefix)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+nodeColumns("n")+` FROM nodes n WHERE n.uuid LIKE ? ORDER BY n.id LIMIT 2`,
		strings.ToLower(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("load node by prefix: %w", err)
	}
	defer rows.Close()

	var found []*graph.Node
	for rows.Next() {
		n, err := s.scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		found = append(found, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	switch len(found) {
	case 0:
		return nil, ir.NotExistent("node", prefix)
	case 1:
		return found[0], nil
	default:
		return nil, &ir.Error{Code: ir.CodeMultipleObjects, Message: "uuid prefix is ambiguous", Entity: prefix}
	}
}

// Reload refreshes a stored node from the database, discarding unflushed changes.
func (s *Store) Reload(ctx context.Context, n *graph.Node) (*graph.Node, error) {
	if !n.IsStored() {
		return nil, &ir.Error{Code: ir.CodeModificationNotAllowed, Message: "cannot reload an unstored node", Entity: n.UUID()}
	}
	return s.LoadNode(ctx, n.PK())
}
