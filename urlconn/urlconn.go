// Package urlconn fetches files over HTTP(S). It is the connection used
// when a pipeline downloads straight from URLs.
package urlconn

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zoobzio/fetchz"
	"go.uber.org/zap"
)

const defaultTimeout = 60 * time.Second

// DefaultUserAgent is sent with every request unless overridden.
const DefaultUserAgent = "fetchz"

// Config controls the HTTP client.
type Config struct {
	Timeout   time.Duration     `mapstructure:"timeout"`
	UserAgent string            `mapstructure:"user_agent"`
	Headers   map[string]string `mapstructure:"headers"`
}

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets the logger used for transfer events.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Connection) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Connection) {
		if client != nil {
			c.client = client
		}
	}
}

// Connection fetches absolute URLs with GET. Directory listing has no HTTP
// equivalent, so List always fails with fetchz.ErrUnsupported.
type Connection struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New returns a Connection.
func New(cfg Config, opts ...Option) *Connection {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	c := &Connection{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch implements fetchz.Fetcher. Any status outside 2xx is an error.
func (c *Connection) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, &fetchz.TransferError{Op: "get", Path: url, Err: err}
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &fetchz.TransferError{Op: "get", Path: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return nil, &fetchz.TransferError{Op: "get", Path: url, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &fetchz.TransferError{Op: "get", Path: url, Err: err}
	}
	c.logger.Debug("downloaded url", zap.String("url", url), zap.Int("bytes", len(data)))
	return data, nil
}

// List implements fetchz.Lister and always fails.
func (*Connection) List(_ context.Context, path string) ([]string, error) {
	return nil, &fetchz.TransferError{Op: "list", Path: path, Err: fetchz.ErrUnsupported}
}

// Close releases idle keep-alive connections.
func (c *Connection) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
