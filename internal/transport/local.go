package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/roach88/lineage/internal/ir"
)

// Local runs jobs on this machine below a root directory.
type Local struct {
	root   string
	opened bool
}

// NewLocal creates a local transport rooted at root. An empty root uses
// the system temp directory.
func NewLocal(root string) *Local {
	if root == "" {
		root = os.TempDir()
	}
	return &Local{root: root}
}

func (l *Local) Open(context.Context) error {
	if err := os.MkdirAll(l.root, 0o755); err != nil {
		return fmt.Errorf("open local transport: %w", err)
	}
	l.opened = true
	return nil
}

func (l *Local) Close() error {
	l.opened = false
	return nil
}

func (l *Local) abs(p string) (string, error) {
	if !l.opened {
		return "", errors.New("local transport is not open")
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p), nil
	}
	return filepath.Join(l.root, filepath.FromSlash(p)), nil
}

func (l *Local) Put(_ context.Context, p string, content []byte) error {
	full, err := l.abs(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("put %s: %w", p, err)
	}
	if err := os.WriteFile(full, content, 0o644); err != nil {
		return fmt.Errorf("put %s: %w", p, err)
	}
	return nil
}

func (l *Local) Get(_ context.Context, p string) ([]byte, error) {
	full, err := l.abs(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ir.NotExistent("file", p)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", p, err)
	}
	return data, nil
}

func (l *Local) Exec(ctx context.Context, dir, command string) (*ExecResult, error) {
	full, err := l.abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return nil, fmt.Errorf("exec: %w", err)
	}
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = full
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	res := &ExecResult{}
	err = cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr) && ctx.Err() == nil:
		res.ExitCode = exitErr.ExitCode()
	case err != nil:
		return nil, fmt.Errorf("exec %q: %w", command, err)
	}
	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()
	return res, nil
}
