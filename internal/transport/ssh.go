package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/roach88/lineage/internal/ir"
)

// SSHConfig describes how to reach a remote computer.
type SSHConfig struct {
	Host    string
	Port    int
	User    string
	KeyFile string
	// KnownHosts defaults to ~/.ssh/known_hosts.
	KnownHosts string
	WorkDir    string
	Timeout    time.Duration
}

// SSH runs jobs on a remote computer over one SSH connection.
type SSH struct {
	cfg    SSHConfig
	client *ssh.Client
}

// NewSSH creates an unopened SSH transport.
func NewSSH(cfg SSHConfig) *SSH {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "."
	}
	return &SSH{cfg: cfg}
}

func (s *SSH) clientConfig() (*ssh.ClientConfig, error) {
	if s.cfg.KeyFile == "" {
		return nil, ir.Errorf(ir.CodeValidation, "ssh transport to %s needs a key file", s.cfg.Host)
	}
	key, err := os.ReadFile(s.cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	known := s.cfg.KnownHosts
	if known == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate known_hosts: %w", err)
		}
		known = filepath.Join(home, ".ssh", "known_hosts")
	}
	hostKeys, err := knownhosts.New(known)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}
	user := s.cfg.User
	if user == "" {
		user = os.Getenv("USER")
	}
	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         s.cfg.Timeout,
	}, nil
}

func (s *SSH) Open(ctx context.Context) error {
	cfg, err := s.clientConfig()
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	s.client = ssh.NewClient(c, chans, reqs)
	return nil
}

func (s *SSH) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func (s *SSH) abs(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(s.cfg.WorkDir, p)
}

// run executes a remote shell command, honoring ctx by closing the session.
func (s *SSH) run(ctx context.Context, command string, stdin []byte) (*ExecResult, error) {
	if s.client == nil {
		return nil, errors.New("ssh transport is not open")
	}
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new ssh session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	if stdin != nil {
		sess.Stdin = bytes.NewReader(stdin)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()
	select {
	case <-ctx.Done():
		sess.Signal(ssh.SIGKILL)
		sess.Close()
		return nil, ctx.Err()
	case err = <-done:
	}

	res := &ExecResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitStatus()
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", command, err)
	}
	return res, nil
}

func (s *SSH) Put(ctx context.Context, p string, content []byte) error {
	full := s.abs(p)
	cmd := fmt.Sprintf("mkdir -p %s && cat > %s", shellQuote(path.Dir(full)), shellQuote(full))
	res, err := s.run(ctx, cmd, content)
	if err != nil {
		return fmt.Errorf("put %s: %w", p, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("put %s: %s", p, strings.TrimSpace(string(res.Stderr)))
	}
	return nil
}

func (s *SSH) Get(ctx context.Context, p string) ([]byte, error) {
	full := s.abs(p)
	res, err := s.run(ctx, fmt.Sprintf("test -f %[1]s || exit 44; cat %[1]s", shellQuote(full)), nil)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", p, err)
	}
	switch res.ExitCode {
	case 0:
		return res.Stdout, nil
	case 44:
		return nil, ir.NotExistent("file", p)
	}
	return nil, fmt.Errorf("get %s: %s", p, strings.TrimSpace(string(res.Stderr)))
}

func (s *SSH) Exec(ctx context.Context, dir, command string) (*ExecResult, error) {
	full := s.abs(dir)
	return s.run(ctx, fmt.Sprintf("mkdir -p %[1]s && cd %[1]s && %s", shellQuote(full), command), nil)
}

// shellQuote quotes s for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
