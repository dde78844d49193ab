// Package config loads fetchz pipeline definitions from files.
//
// A file declares named connections and databases and one pipeline:
//
//	connections:
//	  exports:
//	    type: ssh
//	    host: exports.example.com
//	    user: fetch
//	    key_file: ${HOME}/.ssh/id_ed25519
//	pipeline:
//	  name: listings
//	  stages:
//	    - type: contents
//	      config: {connection: exports}
//	    - type: warn_if_not_found
//
// Any format viper reads (YAML, JSON, TOML) is accepted. ${VAR} references in
// connection and database settings are expanded from the environment, and a
// FETCHZ_ variable overrides the key of the same path, with dots written as
// underscores: FETCHZ_PIPELINE_NAME replaces pipeline.name.
package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/zoobzio/fetchz"
	"github.com/zoobzio/fetchz/ftpconn"
	"github.com/zoobzio/fetchz/registry"
	"github.com/zoobzio/fetchz/sqlconn"
	"github.com/zoobzio/fetchz/sshconn"
	"github.com/zoobzio/fetchz/urlconn"
	"go.uber.org/zap"
)

// Connection types.
const (
	TypeSSH = "ssh"
	TypeFTP = "ftp"
	TypeURL = "url"
)

// ErrUnknownType is returned for a connection with an unrecognized type.
var ErrUnknownType = errors.New("unknown connection type")

// Config is the root of a pipeline file.
type Config struct {
	Connections map[string]ConnectionConfig `mapstructure:"connections"`
	Databases   map[string]sqlconn.Config   `mapstructure:"databases"`
	Pipeline    PipelineConfig              `mapstructure:"pipeline"`
}

// ConnectionConfig holds a connection type and the settings for it.
type ConnectionConfig struct {
	Type     string         `mapstructure:"type"`
	Settings map[string]any `mapstructure:",remain"`
}

// PipelineConfig names a pipeline and lists its stages. Input is the value
// fed to the first stage when the caller gives none.
type PipelineConfig struct {
	Name   string                 `mapstructure:"name"`
	Input  any                    `mapstructure:"input"`
	Stages []registry.StageConfig `mapstructure:"stages"`
}

// Load reads the file at path. Unknown top-level or pipeline keys are an
// error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("FETCHZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) { dc.ErrorUnused = true }); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.expand()
	return &cfg, nil
}

// Validate checks the pipeline has a name and stages and every connection
// has a known type.
func (c *Config) Validate() error {
	if c.Pipeline.Name == "" {
		return errors.New("pipeline name required")
	}
	if len(c.Pipeline.Stages) == 0 {
		return errors.New("pipeline has no stages")
	}
	for name, conn := range c.Connections {
		switch conn.Type {
		case TypeSSH, TypeFTP, TypeURL:
		default:
			return fmt.Errorf("connection %q: %w: %q", name, ErrUnknownType, conn.Type)
		}
	}
	return nil
}

func (c *Config) expand() {
	for _, conn := range c.Connections {
		for k, v := range conn.Settings {
			conn.Settings[k] = expandValue(v)
		}
	}
	for name, db := range c.Databases {
		db.DSN = os.ExpandEnv(db.DSN)
		c.Databases[name] = db
	}
}

func expandValue(v any) any {
	switch t := v.(type) {
	case string:
		return os.ExpandEnv(t)
	case map[string]any:
		for k, e := range t {
			t[k] = expandValue(e)
		}
	case []any:
		for i, e := range t {
			t[i] = expandValue(e)
		}
	}
	return v
}

// Resources holds the opened connections and databases of a Config.
// The caller owns them and must Close them.
type Resources struct {
	Connections map[string]fetchz.Connection
	Databases   map[string]*sql.DB
}

// Open creates every connection and opens every database. Remote connections
// are lazy, so only databases are contacted here.
func (c *Config) Open(ctx context.Context, logger *zap.Logger) (*Resources, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	res := &Resources{
		Connections: make(map[string]fetchz.Connection, len(c.Connections)),
		Databases:   make(map[string]*sql.DB, len(c.Databases)),
	}

	for _, name := range sortedKeys(c.Connections) {
		conn, err := connect(c.Connections[name], logger.With(zap.String("connection", name)))
		if err != nil {
			_ = res.Close() //nolint:errcheck
			return nil, fmt.Errorf("connection %q: %w", name, err)
		}
		res.Connections[name] = conn
	}
	for _, name := range sortedKeys(c.Databases) {
		db, err := sqlconn.Open(ctx, c.Databases[name])
		if err != nil {
			_ = res.Close() //nolint:errcheck
			return nil, fmt.Errorf("database %q: %w", name, err)
		}
		res.Databases[name] = db
	}
	return res, nil
}

// Build builds the configured pipeline over res.
func (c *Config) Build(res *Resources, logger *zap.Logger) (*fetchz.Sequence[any], error) {
	opts := []registry.Option{registry.WithLogger(logger)}
	for name, conn := range res.Connections {
		opts = append(opts, registry.WithConnection(name, conn))
	}
	for name, db := range res.Databases {
		opts = append(opts, registry.WithDatabase(name, db))
	}
	return registry.New(opts...).Build(c.Pipeline.Name, c.Pipeline.Stages)
}

// Close closes every resource and joins the errors.
func (r *Resources) Close() error {
	var errs []error
	for name, conn := range r.Connections {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("connection %q: %w", name, err))
		}
	}
	for name, db := range r.Databases {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func connect(cfg ConnectionConfig, logger *zap.Logger) (fetchz.Connection, error) {
	switch cfg.Type {
	case TypeSSH:
		var c sshconn.Config
		if err := registry.Decode(cfg.Settings, &c); err != nil {
			return nil, err
		}
		conn, err := sshconn.New(c, sshconn.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return conn, nil
	case TypeFTP:
		var c ftpconn.Config
		if err := registry.Decode(cfg.Settings, &c); err != nil {
			return nil, err
		}
		conn, err := ftpconn.New(c, ftpconn.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return conn, nil
	case TypeURL:
		var c urlconn.Config
		if err := registry.Decode(cfg.Settings, &c); err != nil {
			return nil, err
		}
		return urlconn.New(c, urlconn.WithLogger(logger)), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
