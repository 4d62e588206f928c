package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/repository"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Empty database
// 1 - Initial provenance schema
const currentSchemaVersion = ir.SchemaVersion

// DefaultBatchSize is the number of rows fetched per query page.
const DefaultBatchSize = 100

// Store provides durable storage for the provenance graph.
// Uses SQLite with WAL mode; writes are serialized through one writer.
type Store struct {
	db        *sql.DB
	objects   repository.ObjectStore
	ownsObjs  bool
	reg       *ir.Registry
	clock     graph.Clock
	caching   CachingPolicy
	batchSize int

	// writeMu serializes write transactions.
	writeMu sync.Mutex

	// provIdx orders the INPUT_CALC/CREATE subgraph; callIdx the CALL_* subgraph.
	provIdx *graph.TopoIndex
	callIdx *graph.TopoIndex
}

// CachingPolicy controls hash-based reuse of finished calculations.
type CachingPolicy struct {
	Enabled bool
	// Subtypes restricts caching to these subtypes (prefix match). Empty means all cacheable subtypes.
	Subtypes []string
}

// Applies reports whether caching is active for the subtype.
func (p CachingPolicy) Applies(info ir.SubtypeInfo) bool {
	if !p.Enabled || !info.Cacheable {
		return false
	}
	if len(p.Subtypes) == 0 {
		return true
	}
	for _, s := range p.Subtypes {
		if ir.MatchesSubtype(info.Name, s) {
			return true
		}
	}
	return false
}

// Option configures a Store.
type Option func(*Store)

// WithObjectStore sets the repository object store. The caller keeps ownership.
// Defaults to an in-memory store owned by the Store.
func WithObjectStore(objs repository.ObjectStore) Option {
	return func(s *Store) { s.objects = objs }
}

// WithClock sets the wall clock for ctime/mtime of loaded nodes and store records.
func WithClock(c graph.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithCaching sets the caching policy.
func WithCaching(p CachingPolicy) Option {
	return func(s *Store) { s.caching = p }
}

// WithBatchSize sets the query page size.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically, then rebuilds the
// topological indices from the stored links.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//   - Case-sensitive LIKE (ILIKE is compiled separately)
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		reg:       ir.NewRegistry(),
		clock:     graph.DefaultClock,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// Pragmas below are per connection, so the connection must also persist.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	s.db = db

	if s.objects == nil {
		objs, err := repository.OpenInMemory()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to open object store: %w", err)
		}
		s.objects = objs
		s.ownsObjs = true
	}

	if err := s.rebuildIndices(context.Background()); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to build link indices: %w", err)
	}

	slog.Debug("store opened", "path", path, "nodes", s.provIdx.Len())
	return s, nil
}

// Close closes the database connection and any object store the Store owns.
func (s *Store) Close() error {
	var firstErr error
	if s.ownsObjs && s.objects != nil {
		firstErr = s.objects.Close()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Registry returns the subtype registry.
func (s *Store) Registry() *ir.Registry {
	return s.reg
}

// Objects returns the repository object store.
func (s *Store) Objects() repository.ObjectStore {
	return s.objects
}

// Clock returns the store's wall clock.
func (s *Store) Clock() graph.Clock {
	return s.clock
}

// NewNode creates an unstored node using the store's registry and clock.
func (s *Store) NewNode(subtype string, opts ...graph.NodeOption) (*graph.Node, error) {
	return graph.NewNode(s.reg, subtype, append([]graph.NodeOption{graph.WithClock(s.clock)}, opts...)...)
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA case_sensitive_like = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	// Version 1 is the initial schema created by schema.sql; later versions
	// add their migrateToVN steps here.

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// rebuildIndices loads every node and link and rebuilds both topological indices.
func (s *Store) rebuildIndices(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM nodes ORDER BY id`)
	if err != nil {
		return fmt.Errorf("query node ids: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan node id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate node ids: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT input_id, output_id, type FROM links ORDER BY id`)
	if err != nil {
		return fmt.Errorf("query links: %w", err)
	}
	var prov, call [][2]int64
	for rows.Next() {
		var from, to int64
		var lt ir.LinkType
		if err := rows.Scan(&from, &to, &lt); err != nil {
			rows.Close()
			return fmt.Errorf("scan link: %w", err)
		}
		switch {
		case lt.IsProvenance():
			prov = append(prov, [2]int64{from, to})
		case lt.IsCall():
			call = append(call, [2]int64{from, to})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate links: %w", err)
	}

	if s.provIdx, err = graph.BuildTopoIndex(ids, prov); err != nil {
		return fmt.Errorf("provenance subgraph: %w", err)
	}
	if s.callIdx, err = graph.BuildTopoIndex(ids, call); err != nil {
		return fmt.Errorf("call subgraph: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
