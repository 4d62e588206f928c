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

// Comment is a free-text note attached to a stored node.
type Comment struct {
	PK      int64     `json:"pk"`
	UUID    string    `json:"uuid"`
	NodePK  int64     `json:"node_pk"`
	UserPK  int64     `json:"user_pk,omitempty"`
	Content string    `json:"content"`
	Ctime   time.Time `json:"ctime"`
	Mtime   time.Time `json:"mtime"`
}

var commentColumns = columnList(ir.EntityComment, "c")

func scanComment(row rowScanner) (*Comment, error) {
	var c Comment
	var userPK sql.NullInt64
	var ctime, mtime string
	if err := row.Scan(&c.PK, &c.UUID, &c.NodePK, &userPK, &c.Content, &ctime, &mtime); err != nil {
		return nil, err
	}
	var err error
	if c.Ctime, err = parseTime(ctime); err != nil {
		return nil, err
	}
	if c.Mtime, err = parseTime(mtime); err != nil {
		return nil, err
	}
	c.UserPK = userPK.Int64
	return &c, nil
}

// AddComment attaches a comment to a stored node.
func (s *Store) AddComment(ctx context.Context, n *graph.Node, userPK int64, content string) (*Comment, error) {
	if !n.IsStored() {
		return nil, &ir.Error{Code: ir.CodeModificationNotAllowed, Message: "cannot comment on an unstored node", Entity: n.UUID()}
	}
	now := s.clock()
	c := &Comment{UUID: uuid.NewString(), NodePK: n.PK(), UserPK: userPK, Content: content, Ctime: now, Mtime: now}
	err := s.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.q().ExecContext(ctx, `
			INSERT INTO comments (uuid, node_id, user_id, content, ctime, mtime) VALUES (?, ?, ?, ?, ?, ?)
		`, c.UUID, c.NodePK, nullInt64(userPK), content, formatTime(now), formatTime(now))
		if err != nil {
			return fmt.Errorf("add comment: %w", err)
		}
		c.PK, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Comments lists the comments of a node, oldest first.
func (s *Store) Comments(ctx context.Context, n *graph.Node) ([]*Comment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+commentColumns+` FROM comments c WHERE c.node_id = ? ORDER BY c.ctime, c.id`, n.PK())
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var out []*Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return out, nil
}

// UpdateComment replaces the content of a comment.
func (s *Store) UpdateComment(ctx context.Context, c *Comment, content string) error {
	now := s.clock()
	if !now.After(c.Mtime) {
		now = c.Mtime.Add(time.Microsecond)
	}
	err := s.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.q().ExecContext(ctx,
			`UPDATE comments SET content = ?, mtime = ? WHERE id = ?`, content, formatTime(now), c.PK)
		if err != nil {
			return fmt.Errorf("update comment: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ir.NotExistent("comment", c.UUID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.Content = content
	c.Mtime = now
	return nil
}

// DeleteComment removes a comment.
func (s *Store) DeleteComment(ctx context.Context, c *Comment) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.q().ExecContext(ctx, `DELETE FROM comments WHERE id = ?`, c.PK)
		if err != nil {
			return fmt.Errorf("delete comment: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ir.NotExistent("comment", c.UUID)
		}
		return nil
	})
}
