// Package registry builds fetchz pipelines from configuration.
//
// Each stage is described by a StageConfig naming a registered factory and
// holding its settings. Settings are decoded with mapstructure and unknown
// keys are rejected, so a typo fails when the pipeline is built rather than
// when it runs:
//
//	reg := registry.New(registry.WithConnection("exports", conn))
//	seq, err := reg.Build("listings", []registry.StageConfig{
//		{Type: "contents", Config: map[string]any{"connection": "exports"}},
//		{Type: "warn_if_not_found"},
//		{Type: "map", Config: map[string]any{"stages": []any{
//			map[string]any{"type": "download", "config": map[string]any{"connection": "exports"}},
//			map[string]any{"type": "parse_json", "config": map[string]any{"records": true}},
//		}}},
//		{Type: "join_if_different_ids", Config: map[string]any{"id_column": "id"}},
//	})
package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"
	"github.com/zoobzio/fetchz"
	"github.com/zoobzio/fetchz/urlconn"
	"go.uber.org/zap"
)

var (
	// ErrUnknownStage is returned for a StageConfig whose Type is not registered.
	ErrUnknownStage = errors.New("unknown stage type")
	// ErrUnknownConnection is returned when a stage names a connection or
	// database the registry does not hold.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrDuplicate is returned when a stage type is registered twice.
	ErrDuplicate = errors.New("already registered")
)

// StageConfig describes one configured stage.
type StageConfig struct {
	Type   string         `mapstructure:"type"`
	Name   string         `mapstructure:"name"`
	Config map[string]any `mapstructure:"config"`
}

// Factory builds a stage from its decoded settings. Factories call Decode to
// fill their own settings struct.
type Factory func(r *Registry, settings map[string]any) (fetchz.Chainable[any, any], error)

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger handed to logging stages.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithConnection makes conn available to download and contents stages.
func WithConnection(name string, conn fetchz.Connection) Option {
	return func(r *Registry) {
		r.connections[name] = conn
	}
}

// WithDatabase makes db available to sql_query stages.
func WithDatabase(name string, db *sql.DB) Option {
	return func(r *Registry) {
		r.databases[name] = db
	}
}

// WithDefaultConnection sets the connection used by download stages that
// name none. By default such stages fetch URLs over HTTP.
func WithDefaultConnection(conn fetchz.Connection) Option {
	return func(r *Registry) {
		r.fallback = conn
	}
}

// Registry maps stage types to factories and holds the named resources
// stages may refer to. It never closes those resources.
type Registry struct {
	mu          sync.RWMutex
	factories   map[string]Factory
	connections map[string]fetchz.Connection
	databases   map[string]*sql.DB
	fallback    fetchz.Connection
	logger      *zap.Logger
}

// New returns a Registry with the builtin stages registered.
func New(opts ...Option) *Registry {
	r := &Registry{
		factories:   make(map[string]Factory),
		connections: make(map[string]fetchz.Connection),
		databases:   make(map[string]*sql.DB),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.fallback == nil {
		r.fallback = urlconn.New(urlconn.Config{}, urlconn.WithLogger(r.logger))
	}
	registerBuiltins(r)
	return r
}

// Register adds a stage type.
func (r *Registry) Register(typ string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[typ]; exists {
		return fmt.Errorf("stage %q: %w", typ, ErrDuplicate)
	}
	r.factories[typ] = factory
	return nil
}

// Types lists the registered stage types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Stage builds a single stage.
func (r *Registry) Stage(cfg StageConfig) (fetchz.Chainable[any, any], error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, cfg.Type)
	}

	stage, err := factory(r, cfg.Config)
	if err != nil {
		return nil, fmt.Errorf("stage %q: %w", label(cfg), err)
	}
	if cfg.Name != "" {
		stage = renamed{Chainable: stage, name: cfg.Name}
	}
	return stage, nil
}

// Chain builds stages and composes them left to right with fetchz.Then.
// An empty list yields the identity stage.
func (r *Registry) Chain(configs []StageConfig) (fetchz.Chainable[any, any], error) {
	if len(configs) == 0 {
		return fetchz.Lift(func(v any) any { return v }), nil
	}
	var chain fetchz.Chainable[any, any]
	for i, cfg := range configs {
		stage, err := r.Stage(cfg)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		if chain == nil {
			chain = stage
			continue
		}
		chain = fetchz.Then(chain, stage)
	}
	return chain, nil
}

// Build builds a named Sequence from configs.
func (r *Registry) Build(name fetchz.Name, configs []StageConfig) (*fetchz.Sequence[any], error) {
	stages := make([]fetchz.Chainable[any, any], 0, len(configs))
	for i, cfg := range configs {
		stage, err := r.Stage(cfg)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: stage %d: %w", name, i, err)
		}
		stages = append(stages, stage)
	}
	return fetchz.NewSequence(name, stages...), nil
}

// connection resolves a named connection. An empty name selects the
// fallback connection, which downloads URLs directly.
func (r *Registry) connection(name string) (fetchz.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		return r.fallback, nil
	}
	conn, ok := r.connections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConnection, name)
	}
	return conn, nil
}

func (r *Registry) database(name string) (*sql.DB, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	db, ok := r.databases[name]
	if !ok {
		return nil, fmt.Errorf("%w: database %q", ErrUnknownConnection, name)
	}
	return db, nil
}

// Decode fills out from settings. Unknown keys are an error, strings are
// accepted for numbers and booleans, and durations may be written as "5s".
func Decode(settings map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(settings)
}

func label(cfg StageConfig) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return cfg.Type
}

type renamed struct {
	fetchz.Chainable[any, any]
	name fetchz.Name
}

func (r renamed) Name() fetchz.Name { return r.name }
