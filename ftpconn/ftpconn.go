// Package ftpconn implements a fetchz.Connection over FTP.
package ftpconn

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/zoobzio/fetchz"
	"go.uber.org/zap"
)

const (
	defaultPort    = "21"
	defaultTimeout = 30 * time.Second
)

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("ftpconn: connection closed")

// Config describes how to reach and log in to an FTP server.
type Config struct {
	// Host is host or host:port. The port defaults to 21.
	Host     string        `mapstructure:"host"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// ExplicitTLS upgrades the control connection with AUTH TLS.
	ExplicitTLS bool `mapstructure:"explicit_tls"`
}

// client is the subset of *ftp.ServerConn used here.
type client interface {
	Retr(path string) (io.ReadCloser, error)
	NameList(path string) ([]string, error)
	Quit() error
}

type dialFunc func(ctx context.Context, cfg Config) (client, error)

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

// Connection is a lazily dialled FTP session. A transfer that fails
// because the server dropped the session is retried once on a fresh login.
type Connection struct {
	cfg    Config
	logger *zap.Logger
	dial   dialFunc
	mu     sync.Mutex
	conn   client
	closed bool
}

// New validates cfg and returns an unconnected Connection.
func New(cfg Config, opts ...Option) (*Connection, error) {
	if cfg.Host == "" {
		return nil, errors.New("ftpconn: host required")
	}
	if cfg.User == "" {
		cfg.User = "anonymous"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	c := &Connection{cfg: cfg, logger: zap.NewNop(), dial: dialServer}
	for _, opt := range opts {
		opt(c)
	}
	c.logger.Info("ftp connection configured, will connect when needed",
		zap.String("host", cfg.Host),
		zap.String("user", cfg.User))
	return c, nil
}

// Fetch implements fetchz.Fetcher with RETR.
func (c *Connection) Fetch(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := c.do(ctx, func(conn client) error {
		r, err := conn.Retr(path)
		if err != nil {
			return err
		}
		defer r.Close()
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, r); err != nil {
			return err
		}
		data = buf.Bytes()
		return nil
	})
	if err != nil {
		return nil, &fetchz.TransferError{Op: "retr", Path: path, Err: err}
	}
	c.logger.Debug("downloaded file", zap.String("path", path), zap.Int("bytes", len(data)))
	return data, nil
}

// List implements fetchz.Lister with NLST.
func (c *Connection) List(ctx context.Context, dir string) ([]string, error) {
	var names []string
	err := c.do(ctx, func(conn client) error {
		var err error
		names, err = conn.NameList(dir)
		return err
	})
	if err != nil {
		return nil, &fetchz.TransferError{Op: "nlst", Path: dir, Err: err}
	}
	if names == nil {
		names = []string{}
	}
	c.logger.Info("listed directory", zap.String("path", dir), zap.Strings("contents", names))
	return names, nil
}

// Close logs out if a session was opened.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Quit()
	c.conn = nil
	return err
}

func (c *Connection) do(ctx context.Context, op func(client) error) error {
	conn, err := c.connect(ctx, false)
	if err != nil {
		return err
	}
	err = op(conn)
	if err == nil || !dropped(err) {
		return err
	}

	c.logger.Warn("ftp session dropped, reconnecting", zap.String("host", c.cfg.Host), zap.Error(err))
	if conn, err = c.connect(ctx, true); err != nil {
		return err
	}
	return op(conn)
}

func (c *Connection) connect(ctx context.Context, fresh bool) (client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.conn != nil && !fresh {
		return c.conn, nil
	}
	if c.conn != nil {
		_ = c.conn.Quit() //nolint:errcheck
		c.conn = nil
	}

	conn, err := c.dial(ctx, c.cfg)
	if err != nil {
		return nil, fmt.Errorf("could not connect to FTP server %s: %w", c.cfg.Host, err)
	}
	c.conn = conn
	c.logger.Info("ftp connection established", zap.String("host", c.cfg.Host))
	return conn, nil
}

// dropped reports whether err means the session is gone: a 4xx transient
// reply, an unexpected EOF, or a network error.
func dropped(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code >= 400 && protoErr.Code < 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

type serverConn struct {
	*ftp.ServerConn
}

func (s serverConn) Retr(path string) (io.ReadCloser, error) {
	resp, err := s.ServerConn.Retr(path)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func dialServer(ctx context.Context, cfg Config) (client, error) {
	addr := cfg.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, defaultPort)
	}

	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(cfg.Timeout),
	}
	if cfg.ExplicitTLS {
		host, _, _ := net.SplitHostPort(addr) //nolint:errcheck
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}))
	}

	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, err
	}
	if err := conn.Login(cfg.User, cfg.Password); err != nil {
		_ = conn.Quit() //nolint:errcheck
		return nil, err
	}
	return serverConn{conn}, nil
}
