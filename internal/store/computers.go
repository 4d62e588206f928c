package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/lineage/internal/ir"
)

// Transport types a computer can be reached with.
const (
	TransportLocal = "local"
	TransportSSH   = "ssh"
)

// Computer describes where calculation jobs run and how to reach it.
type Computer struct {
	PK               int64         `json:"pk"`
	UUID             string        `json:"uuid"`
	Label            string        `json:"label"`
	Hostname         string        `json:"hostname"`
	Description      string        `json:"description"`
	TransportType    string        `json:"transport_type"`
	WorkDir          string        `json:"work_dir"`
	SafeOpenInterval time.Duration `json:"safe_open_interval"`
	Username         string        `json:"username,omitempty"`
	KeyFile          string        `json:"key_file,omitempty"`
	Port             int           `json:"port,omitempty"`
}

// Validate checks the descriptor before it is stored.
func (c *Computer) Validate() error {
	if c.Label == "" {
		return ir.Errorf(ir.CodeValidation, "computer label is required")
	}
	switch c.TransportType {
	case TransportLocal:
	case TransportSSH:
		if c.Hostname == "" {
			return ir.Errorf(ir.CodeValidation, "ssh computer %q needs a hostname", c.Label)
		}
	default:
		return ir.Errorf(ir.CodeValidation, "unknown transport type %q", c.TransportType)
	}
	if c.SafeOpenInterval < 0 {
		return ir.Errorf(ir.CodeValidation, "negative safe open interval for %q", c.Label)
	}
	return nil
}

var computerColumns = columnList(ir.EntityComputer, "c")

func scanComputer(row rowScanner) (*Computer, error) {
	var c Computer
	var intervalMS int64
	if err := row.Scan(&c.PK, &c.UUID, &c.Label, &c.Hostname, &c.Description, &c.TransportType,
		&c.WorkDir, &intervalMS, &c.Username, &c.KeyFile, &c.Port); err != nil {
		return nil, err
	}
	c.SafeOpenInterval = time.Duration(intervalMS) * time.Millisecond
	return &c, nil
}

// CreateComputer stores a computer. Labels are unique.
func (s *Store) CreateComputer(ctx context.Context, c *Computer) error {
	if c.TransportType == "" {
		c.TransportType = TransportLocal
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if c.UUID == "" {
		c.UUID = uuid.NewString()
	}
	return s.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.q().ExecContext(ctx, `
			INSERT INTO computers
			(uuid, label, hostname, description, transport_type, work_dir, safe_open_interval_ms, username, key_file, port)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, c.UUID, c.Label, c.Hostname, c.Description, c.TransportType, c.WorkDir,
			c.SafeOpenInterval.Milliseconds(), c.Username, c.KeyFile, c.Port)
		if err != nil {
			return fmt.Errorf("create computer: %w", integrityError(err, c.Label))
		}
		pk, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("create computer: %w", err)
		}
		tx.OnCommit(func() { c.PK = pk })
		return nil
	})
}

// LoadComputer loads a computer by label.
func (s *Store) LoadComputer(ctx context.Context, label string) (*Computer, error) {
	return s.loadComputerWhere(ctx, "c.label = ?", label, label)
}

// LoadComputerByPK loads a computer by primary key.
func (s *Store) LoadComputerByPK(ctx context.Context, pk int64) (*Computer, error) {
	return s.loadComputerWhere(ctx, "c.id = ?", pk, fmt.Sprint(pk))
}

func (s *Store) loadComputerWhere(ctx context.Context, where string, arg any, entity string) (*Computer, error) {
	c, err := scanComputer(s.db.QueryRowContext(ctx, `SELECT `+computerColumns+` FROM computers c WHERE `+where, arg))
	if err == sql.ErrNoRows {
		return nil, ir.NotExistent("computer", entity)
	}
	if err != nil {
		return nil, fmt.Errorf("load computer %s: %w", entity, err)
	}
	return c, nil
}
