package engine

import "github.com/google/uuid"

// IDGenerator generates process node uuids.
// Implemented by UUIDv7Generator and, in tests, testutil.SequenceUUIDGenerator.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 process ids, so process
// uuids sort by submission time.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 in hyphenated form.
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
