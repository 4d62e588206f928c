package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/lineage/internal/ir"
)

// User identifies who created nodes, groups and comments.
type User struct {
	PK          int64  `json:"pk"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Institution string `json:"institution"`
}

var userColumns = columnList(ir.EntityUser, "u")

func scanUser(row rowScanner) (*User, error) {
	var u User
	if err := row.Scan(&u.PK, &u.Email, &u.FirstName, &u.LastName, &u.Institution); err != nil {
		return nil, err
	}
	return &u, nil
}

// EnsureUser returns the user with the given email, creating it if needed.
func (s *Store) EnsureUser(ctx context.Context, email string) (*User, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, ir.Errorf(ir.CodeValidation, "invalid user email %q", email)
	}
	if err := s.WithTx(ctx, func(tx *Tx) error {
		_, err := tx.q().ExecContext(ctx, `INSERT OR IGNORE INTO users (email) VALUES (?)`, email)
		return err
	}); err != nil {
		return nil, fmt.Errorf("ensure user %s: %w", email, err)
	}
	return s.LoadUser(ctx, email)
}

// LoadUser loads a user by email.
func (s *Store) LoadUser(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users u WHERE u.email = ?`, email))
	if err == sql.ErrNoRows {
		return nil, ir.NotExistent("user", email)
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", email, err)
	}
	return u, nil
}

// UpdateUser persists the name and institution of a user.
func (s *Store) UpdateUser(ctx context.Context, u *User) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.q().ExecContext(ctx,
			`UPDATE users SET first_name = ?, last_name = ?, institution = ? WHERE id = ?`,
			u.FirstName, u.LastName, u.Institution, u.PK)
		if err != nil {
			return fmt.Errorf("update user %s: %w", u.Email, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ir.NotExistent("user", u.Email)
		}
		return nil
	})
}
