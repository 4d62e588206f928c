package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{"users", "computers", "nodes", "links", "groups", "group_nodes", "comments", "node_files"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestDB_ReturnsUnderlyingConnection(t *testing.T) {
	s := createTestStore(t)

	db := s.DB()
	if db == nil {
		t.Fatal("DB() returned nil")
	}
	if err := db.Ping(); err != nil {
		t.Errorf("DB() connection not usable: %v", err)
	}
}

// Pragma tests

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name string
		want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.verifyPragma(tt.name, tt.want); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestPragma_CaseSensitiveLike(t *testing.T) {
	s := createTestStore(t)

	var match int
	if err := s.db.QueryRow("SELECT 'ABC' LIKE 'abc'").Scan(&match); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if match != 0 {
		t.Error("LIKE must be case sensitive")
	}
}

// Constraint tests

func TestConstraint_LinkSelfLoopRejected(t *testing.T) {
	s := createTestStore(t)
	_, err := s.db.Exec(`INSERT INTO nodes (uuid, node_type, subtype, ctime, mtime) VALUES ('u1', 'data', 'data.core.int', 't', 't')`)
	if err != nil {
		t.Fatalf("insert node: %v", err)
	}
	_, err = s.db.Exec(`INSERT INTO links (input_id, output_id, type, label) VALUES (1, 1, 'create', 'x')`)
	if err == nil {
		t.Error("expected CHECK failure for a self loop")
	}
}

func TestConstraint_NodeTypeChecked(t *testing.T) {
	s := createTestStore(t)
	_, err := s.db.Exec(`INSERT INTO nodes (uuid, node_type, subtype, ctime, mtime) VALUES ('u1', 'blob', 'x', 't', 't')`)
	if err == nil {
		t.Error("expected CHECK failure for unknown node_type")
	}
}

func TestConstraint_ForeignKeyLinkToNode(t *testing.T) {
	s := createTestStore(t)
	_, err := s.db.Exec(`INSERT INTO links (input_id, output_id, type, label) VALUES (100, 200, 'create', 'x')`)
	if err == nil {
		t.Error("expected foreign key failure for dangling link")
	}
}

// Migration tests

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("failed to set user_version: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d after migration", version, currentSchemaVersion)
	}
}

func TestMigration_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("failed to set user_version: %v", err)
	}
	db.Close()

	if _, err := Open(path); err == nil {
		t.Error("expected error opening a database from a newer version")
	}
}
