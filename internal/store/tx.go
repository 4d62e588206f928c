package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/roach88/lineage/internal/graph"
)

// querier is satisfied by *sql.DB and *sql.Tx.
// Internal helpers take a querier so they run inside or outside a transaction.
// With a single pooled connection, code running inside a Tx must never
// touch s.db directly or it will block on its own transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is a write transaction. Nested units of work use Savepoint; a failed
// savepoint rolls back alone and the enclosing transaction continues.
//
// Hooks let in-memory state follow the database: rollback hooks undo index
// changes made eagerly inside the transaction, commit hooks publish state
// (node pks, dirty flags) only once the data is durable.
type Tx struct {
	s          *Store
	tx         *sql.Tx
	depth      int
	onCommit   []func()
	onRollback []func()

	// staged holds nodes stored in this transaction but not yet committed.
	staged map[*graph.Node]graph.StoredState
}

// WithTx runs fn in a write transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	tx := &Tx{s: s, tx: sqlTx}

	if err := runGuarded(func() error { return fn(tx) }); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", "error", rbErr)
		}
		tx.runRollbackHooks(0)
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		tx.runRollbackHooks(0)
		return fmt.Errorf("commit tx: %w", err)
	}
	for _, hook := range tx.onCommit {
		hook()
	}
	return nil
}

// runGuarded converts a panic in fn into an error so the transaction is
// always rolled back.
func runGuarded(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in transaction: %v", r)
		}
	}()
	return fn()
}

// Savepoint runs fn inside a nested SAVEPOINT.
// On error the work done by fn (and its hooks) is discarded and the error
// is returned; the outer transaction is still usable.
func (tx *Tx) Savepoint(ctx context.Context, fn func(tx *Tx) error) error {
	tx.depth++
	name := fmt.Sprintf("sp_%d", tx.depth)
	defer func() { tx.depth-- }()

	if _, err := tx.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}

	commitMark := len(tx.onCommit)
	rollbackMark := len(tx.onRollback)

	if err := runGuarded(func() error { return fn(tx) }); err != nil {
		if _, rbErr := tx.tx.ExecContext(ctx, "ROLLBACK TO "+name); rbErr != nil {
			return fmt.Errorf("rollback to %s: %w (after %v)", name, rbErr, err)
		}
		if _, relErr := tx.tx.ExecContext(ctx, "RELEASE "+name); relErr != nil {
			return fmt.Errorf("release %s: %w (after %v)", name, relErr, err)
		}
		tx.runRollbackHooks(rollbackMark)
		tx.onCommit = tx.onCommit[:commitMark]
		return err
	}

	if _, err := tx.tx.ExecContext(ctx, "RELEASE "+name); err != nil {
		return fmt.Errorf("release %s: %w", name, err)
	}
	return nil
}

// OnCommit registers a hook that runs after the outermost commit.
func (tx *Tx) OnCommit(fn func()) {
	tx.onCommit = append(tx.onCommit, fn)
}

// OnRollback registers a hook that runs if the enclosing unit rolls back.
func (tx *Tx) OnRollback(fn func()) {
	tx.onRollback = append(tx.onRollback, fn)
}

// runRollbackHooks runs rollback hooks registered at or after mark, newest first.
func (tx *Tx) runRollbackHooks(mark int) {
	for i := len(tx.onRollback) - 1; i >= mark; i-- {
		tx.onRollback[i]()
	}
	tx.onRollback = tx.onRollback[:mark]
}

// q returns the querier for this transaction.
func (tx *Tx) q() querier {
	return tx.tx
}

// Store returns the owning store.
func (tx *Tx) Store() *Store {
	return tx.s
}
