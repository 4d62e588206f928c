package ir

// SchemaVersion is the SQLite schema version stored in PRAGMA user_version.
const SchemaVersion = 1
