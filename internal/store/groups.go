package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/ir"
)

// DefaultGroupType is the type string of user-created groups.
const DefaultGroupType = "core"

// Group is a named collection of stored nodes.
type Group struct {
	PK          int64       `json:"pk"`
	UUID        string      `json:"uuid"`
	Label       string      `json:"label"`
	TypeString  string      `json:"type_string"`
	Description string      `json:"description"`
	UserPK      int64       `json:"user_pk,omitempty"`
	Time        time.Time   `json:"time"`
	Extras      ir.IRObject `json:"extras"`
}

var groupColumns = columnList(ir.EntityGroup, "g")

func scanGroup(row rowScanner) (*Group, error) {
	var g Group
	var userPK sql.NullInt64
	var ts, extras string
	if err := row.Scan(&g.PK, &g.UUID, &g.Label, &g.TypeString, &g.Description, &userPK, &ts, &extras); err != nil {
		return nil, err
	}
	var err error
	if g.Time, err = parseTime(ts); err != nil {
		return nil, err
	}
	if g.Extras, err = unmarshalObject(extras); err != nil {
		return nil, err
	}
	g.UserPK = userPK.Int64
	return &g, nil
}

// CreateGroup stores a new group. The pair (label, type string) must be
// unique; a duplicate returns an integrity error.
func (s *Store) CreateGroup(ctx context.Context, g *Group) error {
	if g.Label == "" {
		return ir.Errorf(ir.CodeValidation, "group label is required")
	}
	if g.TypeString == "" {
		g.TypeString = DefaultGroupType
	}
	if g.UUID == "" {
		g.UUID = uuid.NewString()
	}
	if g.Time.IsZero() {
		g.Time = s.clock()
	}
	extras, err := marshalObject(g.Extras)
	if err != nil {
		return err
	}

	return s.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.q().ExecContext(ctx, `
			INSERT INTO groups (uuid, label, type_string, description, time, extras, user_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, g.UUID, g.Label, g.TypeString, g.Description, formatTime(g.Time), extras, nullInt64(g.UserPK))
		if err != nil {
			return fmt.Errorf("create group: %w", integrityError(err, g.Label))
		}
		pk, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("create group: %w", err)
		}
		tx.OnCommit(func() { g.PK = pk })
		return nil
	})
}

// LoadGroup loads a group by label and type string (DefaultGroupType when empty).
func (s *Store) LoadGroup(ctx context.Context, label, typeString string) (*Group, error) {
	if typeString == "" {
		typeString = DefaultGroupType
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM groups g WHERE g.label = ? AND g.type_string = ?`, label, typeString)
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, ir.NotExistent("group", label)
	}
	if err != nil {
		return nil, fmt.Errorf("load group %s: %w", label, err)
	}
	return g, nil
}

// ListGroups returns every group ordered by label.
func (s *Store) ListGroups(ctx context.Context) ([]*Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+groupColumns+` FROM groups g ORDER BY g.label, g.type_string`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var out []*Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return out, nil
}

// AddNodes adds stored nodes to the group. Nodes already in the group are skipped.
func (s *Store) AddNodes(ctx context.Context, g *Group, nodes ...*graph.Node) error {
	if g.PK == 0 {
		return &ir.Error{Code: ir.CodeModificationNotAllowed, Message: "group is not stored", Entity: g.Label}
	}
	for _, n := range nodes {
		if !n.IsStored() {
			return &ir.Error{Code: ir.CodeModificationNotAllowed, Message: "only stored nodes can join a group", Entity: n.UUID()}
		}
	}
	return s.WithTx(ctx, func(tx *Tx) error {
		for _, n := range nodes {
			if _, err := tx.q().ExecContext(ctx,
				`INSERT OR IGNORE INTO group_nodes (group_id, node_id) VALUES (?, ?)`, g.PK, n.PK()); err != nil {
				return fmt.Errorf("add node %s to group %s: %w", n.UUID(), g.Label, err)
			}
		}
		return nil
	})
}

// RemoveNodes removes nodes from the group. Non-members are ignored.
func (s *Store) RemoveNodes(ctx context.Context, g *Group, nodes ...*graph.Node) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		for _, n := range nodes {
			if _, err := tx.q().ExecContext(ctx,
				`DELETE FROM group_nodes WHERE group_id = ? AND node_id = ?`, g.PK, n.PK()); err != nil {
				return fmt.Errorf("remove node %s from group %s: %w", n.UUID(), g.Label, err)
			}
		}
		return nil
	})
}

// GroupNodes lists the members of a group ordered by pk.
func (s *Store) GroupNodes(ctx context.Context, g *Group) ([]*graph.Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+nodeColumns("n")+`
		FROM group_nodes gn JOIN nodes n ON n.id = gn.node_id
		WHERE gn.group_id = ?
		ORDER BY n.id ASC
	`, g.PK)
	if err != nil {
		return nil, fmt.Errorf("list group nodes: %w", err)
	}
	defer rows.Close()

	var out []*graph.Node
	for rows.Next() {
		n, err := s.scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group nodes: %w", err)
	}
	return out, nil
}

// DeleteGroup deletes a group. Member nodes are kept.
func (s *Store) DeleteGroup(ctx context.Context, g *Group) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.q().ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, g.PK)
		if err != nil {
			return fmt.Errorf("delete group %s: %w", g.Label, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ir.NotExistent("group", g.Label)
		}
		return nil
	})
}
