// Package transport moves files to and runs commands on the computers
// calculation jobs execute on.
//
// A Transport is one connection to a computer. The Pool shares a single
// open transport per computer between all concurrent users and spaces
// consecutive opens by the computer's safe open interval.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/process"
	"github.com/roach88/lineage/internal/store"
)

// Transport is a connection to a computer. Paths are slash separated and
// relative to the computer's work directory unless absolute.
type Transport interface {
	Open(ctx context.Context) error
	Close() error
	Put(ctx context.Context, path string, content []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	// Exec runs command through the shell in dir, creating dir first.
	Exec(ctx context.Context, dir, command string) (*ExecResult, error)
}

// ExecResult is the outcome of a finished command. A non-zero exit code is
// not an error.
type ExecResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// New creates an unopened transport for the computer.
func New(c *store.Computer) (Transport, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch c.TransportType {
	case store.TransportLocal:
		return NewLocal(c.WorkDir), nil
	case store.TransportSSH:
		return NewSSH(SSHConfig{
			Host:    c.Hostname,
			Port:    c.Port,
			User:    c.Username,
			KeyFile: c.KeyFile,
			WorkDir: c.WorkDir,
		}), nil
	}
	return nil, ir.Errorf(ir.CodeValidation, "unknown transport type %q", c.TransportType)
}

// RunJob uploads the job files into dir, runs the command and retrieves
// the requested files. Missing retrieve files are skipped.
func RunJob(ctx context.Context, t Transport, dir string, job *process.JobSpec) (*process.JobResult, error) {
	for _, name := range sortedKeys(job.Files) {
		if err := t.Put(ctx, path.Join(dir, name), job.Files[name]); err != nil {
			return nil, fmt.Errorf("upload %s: %w", name, err)
		}
	}
	res, err := t.Exec(ctx, dir, job.Command)
	if err != nil {
		return nil, fmt.Errorf("exec job: %w", err)
	}
	out := &process.JobResult{
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Files:    make(map[string][]byte, len(job.Retrieve)),
	}
	for _, name := range job.Retrieve {
		data, err := t.Get(ctx, path.Join(dir, name))
		if ir.IsNotExistent(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("retrieve %s: %w", name, err)
		}
		out.Files[name] = bytes.Clone(data)
	}
	return out, nil
}
