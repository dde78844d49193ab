// Package sshconn implements a fetchz.Connection over SSH.
//
// Files are read by running cat on the remote host and directories are listed
// with ls, so any account with a shell works, with no SFTP subsystem needed.
// The session is opened lazily on first use and reused afterwards.
package sshconn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/zoobzio/fetchz"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

const (
	defaultPort    = "22"
	defaultTimeout = 30 * time.Second
)

var (
	// ErrNoAuth is returned by New when neither a password nor a key file is configured.
	ErrNoAuth = errors.New("sshconn: password or key file required")
	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = errors.New("sshconn: connection closed")
)

// Config describes how to reach and authenticate against an SSH host.
type Config struct {
	// Host is host or host:port. The port defaults to 22.
	Host string `mapstructure:"host"`
	User string `mapstructure:"user"`
	// Password enables password authentication.
	Password string `mapstructure:"password"`
	// KeyFile is the path to a PEM private key.
	KeyFile string `mapstructure:"key_file"`
	// Passphrase decrypts KeyFile when it is encrypted.
	Passphrase string `mapstructure:"passphrase"`
	// Timeout bounds the TCP dial and handshake. Zero means 30s.
	Timeout time.Duration `mapstructure:"timeout"`
}

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets the logger used for connection events.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Connection) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHostKeyCallback sets the host key policy. By default every host key
// is accepted.
func WithHostKeyCallback(cb ssh.HostKeyCallback) Option {
	return func(c *Connection) {
		c.hostKey = cb
	}
}

// Connection is a lazily dialled SSH session.
type Connection struct {
	cfg     Config
	logger  *zap.Logger
	hostKey ssh.HostKeyCallback
	mu      sync.Mutex
	client  *ssh.Client
	closed  bool
}

// New validates cfg and returns an unconnected Connection.
func New(cfg Config, opts ...Option) (*Connection, error) {
	if cfg.Host == "" {
		return nil, errors.New("sshconn: host required")
	}
	if cfg.User == "" {
		return nil, errors.New("sshconn: user required")
	}
	if cfg.Password == "" && cfg.KeyFile == "" {
		return nil, ErrNoAuth
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	c := &Connection{
		cfg:     cfg,
		logger:  zap.NewNop(),
		hostKey: ssh.InsecureIgnoreHostKey(), //nolint:gosec // remote export hosts are addressed by configuration, not discovered
	}
	for _, opt := range opts {
		opt(c)
	}

	c.logger.Info("ssh connection configured, will connect when needed",
		zap.String("host", cfg.Host),
		zap.String("user", cfg.User))
	return c, nil
}

// Fetch implements fetchz.Fetcher by running cat on the remote host.
func (c *Connection) Fetch(ctx context.Context, path string) ([]byte, error) {
	out, err := c.run(ctx, "cat "+quote(path))
	if err != nil {
		return nil, &fetchz.TransferError{Op: "cat", Path: path, Err: err}
	}
	c.logger.Debug("downloaded file", zap.String("path", path), zap.Int("bytes", len(out)))
	return out, nil
}

// List implements fetchz.Lister by running ls on the remote host.
// Empty lines are dropped.
func (c *Connection) List(ctx context.Context, dir string) ([]string, error) {
	out, err := c.run(ctx, "ls "+quote(dir))
	if err != nil {
		return nil, &fetchz.TransferError{Op: "ls", Path: dir, Err: err}
	}
	var names []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimRight(line, "\r"); line != "" {
			names = append(names, line)
		}
	}
	if names == nil {
		names = []string{}
	}
	c.logger.Info("listed directory", zap.String("path", dir), zap.Strings("contents", names))
	return names, nil
}

// Close closes the session if one was opened.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

func (c *Connection) connect(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.client != nil {
		return c.client, nil
	}

	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}
	addr := c.cfg.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, defaultPort)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s with SSH: %w", c.cfg.Host, err)
	}
	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline) //nolint:errcheck
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            c.cfg.User,
		Auth:            auth,
		HostKeyCallback: c.hostKey,
		Timeout:         c.cfg.Timeout,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not connect to %s with SSH: %w", c.cfg.Host, err)
	}
	_ = conn.SetDeadline(time.Time{}) //nolint:errcheck

	c.client = ssh.NewClient(sshConn, chans, reqs)
	c.logger.Info("ssh connection established", zap.String("host", c.cfg.Host))
	return c.client, nil
}

func (c *Connection) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if c.cfg.KeyFile != "" {
		pem, err := os.ReadFile(c.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		var signer ssh.Signer
		if c.cfg.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(c.cfg.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(pem)
		}
		if err != nil {
			return nil, fmt.Errorf("parse key file: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if c.cfg.Password != "" {
		methods = append(methods, ssh.Password(c.cfg.Password))
	}
	return methods, nil
}

// run executes cmd in a new session and returns its standard output.
// A failure to open a session drops the client so the next call redials.
func (c *Connection) run(ctx context.Context, cmd string) ([]byte, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		c.drop(client)
		return nil, err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL) //nolint:errcheck
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return nil, fmt.Errorf("%w: %s", err, msg)
			}
			return nil, err
		}
	}
	return stdout.Bytes(), nil
}

func (c *Connection) drop(client *ssh.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == client {
		_ = c.client.Close() //nolint:errcheck
		c.client = nil
	}
}

// quote wraps s in single quotes for a POSIX shell.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
