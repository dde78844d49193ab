package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/zoobzio/fetchz"
	"github.com/zoobzio/fetchz/archive"
	"github.com/zoobzio/fetchz/parse"
	"github.com/zoobzio/fetchz/sqlconn"
)

type patternSettings struct {
	Pattern string `mapstructure:"pattern"`
}

type formatSettings struct {
	Format string `mapstructure:"format"`
}

type getSettings struct {
	Key     string `mapstructure:"key"`
	Default any    `mapstructure:"default"`
}

type nestedSettings struct {
	Stages []StageConfig `mapstructure:"stages"`
}

type filterSettings struct {
	Key     string `mapstructure:"key"`
	Equals  any    `mapstructure:"equals"`
	Pattern string `mapstructure:"pattern"`
}

type joinSettings struct {
	IDColumn string `mapstructure:"id_column"`
}

type connectionSettings struct {
	Connection string `mapstructure:"connection"`
}

type prefixSettings struct {
	Prefix string `mapstructure:"prefix"`
}

type unzipSettings struct {
	Password string `mapstructure:"password"`
}

type csvSettings struct {
	Delimiter string `mapstructure:"delimiter"`
}

type xmlSettings struct {
	Tag string `mapstructure:"tag"`
}

type jsonSettings struct {
	Records bool `mapstructure:"records"`
}

type sqlSettings struct {
	Database string `mapstructure:"database"`
	Args     []any  `mapstructure:"args"`
}

type logSettings struct {
	Message string `mapstructure:"message"`
}

type retrySettings struct {
	Stages          []StageConfig `mapstructure:"stages"`
	MaxRetries      *uint64       `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// simple registers a stage type whose factory takes no settings.
func simple(r *Registry, typ string, build func() fetchz.Chainable[any, any]) {
	_ = r.Register(typ, func(_ *Registry, settings map[string]any) (fetchz.Chainable[any, any], error) { //nolint:errcheck
		if err := Decode(settings, &struct{}{}); err != nil {
			return nil, err
		}
		return build(), nil
	})
}

// typed registers a stage type whose settings decode into S.
func typed[S any](r *Registry, typ string, build func(*Registry, S) (fetchz.Chainable[any, any], error)) {
	_ = r.Register(typ, func(reg *Registry, settings map[string]any) (fetchz.Chainable[any, any], error) { //nolint:errcheck
		var s S
		if err := Decode(settings, &s); err != nil {
			return nil, err
		}
		return build(reg, s)
	})
}

func registerBuiltins(r *Registry) {
	// strings and dates
	typed(r, "split", func(_ *Registry, s patternSettings) (fetchz.Chainable[any, any], error) {
		pattern, err := compile(s.Pattern)
		if err != nil {
			return nil, err
		}
		return Erase(fetchz.Split(pattern)), nil
	})
	typed(r, "strip", func(_ *Registry, s patternSettings) (fetchz.Chainable[any, any], error) {
		pattern, err := compile(s.Pattern)
		if err != nil {
			return nil, err
		}
		return Erase(fetchz.Strip(pattern)), nil
	})
	simple(r, "capitalize", func() fetchz.Chainable[any, any] {
		return Erase(fetchz.Capitalize())
	})
	typed(r, "date_from_str", func(_ *Registry, s formatSettings) (fetchz.Chainable[any, any], error) {
		return Erase(fetchz.DateFromString(s.Format)), nil
	})
	typed(r, "str_from_date", func(_ *Registry, s formatSettings) (fetchz.Chainable[any, any], error) {
		return Erase(fetchz.StringFromDate(s.Format)), nil
	})
	typed(r, "prefix", func(_ *Registry, s prefixSettings) (fetchz.Chainable[any, any], error) {
		return Erase(fetchz.Transform("prefix", func(_ context.Context, in string) string {
			return s.Prefix + in
		})), nil
	})

	// records and collections
	_ = r.Register("get", func(_ *Registry, settings map[string]any) (fetchz.Chainable[any, any], error) { //nolint:errcheck
		var s getSettings
		if err := Decode(settings, &s); err != nil {
			return nil, err
		}
		if s.Key == "" {
			return nil, errors.New("key required")
		}
		if _, ok := settings["default"]; ok {
			return fetchz.GetOr[any](s.Key, s.Default), nil
		}
		return fetchz.Get[any](s.Key), nil
	})
	typed(r, "map", func(reg *Registry, s nestedSettings) (fetchz.Chainable[any, any], error) {
		inner, err := reg.Chain(s.Stages)
		if err != nil {
			return nil, err
		}
		return Erase(fetchz.Map(inner)), nil
	})
	typed(r, "filter", func(_ *Registry, s filterSettings) (fetchz.Chainable[any, any], error) {
		keep, err := predicate(s)
		if err != nil {
			return nil, err
		}
		return Erase(fetchz.Filter(keep)), nil
	})
	simple(r, "concat", func() fetchz.Chainable[any, any] {
		return Erase(fetchz.Concat[any]())
	})
	typed(r, "join_if_different_ids", func(_ *Registry, s joinSettings) (fetchz.Chainable[any, any], error) {
		if s.IDColumn == "" {
			return nil, errors.New("id_column required")
		}
		return Erase(fetchz.JoinIfDifferentIDs[any](s.IDColumn)), nil
	})
	simple(r, "warn_if_not_found", func() fetchz.Chainable[any, any] {
		return Erase(fetchz.WarnIfNotFound[any]())
	})
	typed(r, "log", func(reg *Registry, s logSettings) (fetchz.Chainable[any, any], error) {
		msg := s.Message
		if msg == "" {
			msg = "pipeline value"
		}
		return fetchz.Log[any](reg.logger, msg), nil
	})
	typed(r, "maybe", func(reg *Registry, s nestedSettings) (fetchz.Chainable[any, any], error) {
		inner, err := reg.Chain(s.Stages)
		if err != nil {
			return nil, err
		}
		return fetchz.Maybe(inner), nil
	})
	typed(r, "retry", func(reg *Registry, s retrySettings) (fetchz.Chainable[any, any], error) {
		inner, err := reg.Chain(s.Stages)
		if err != nil {
			return nil, err
		}
		return fetchz.NewRetry(inner, retryPolicy(s)).WithLogger(reg.logger), nil
	})
	typed(r, "fallback", func(reg *Registry, s nestedSettings) (fetchz.Chainable[any, any], error) {
		if len(s.Stages) == 0 {
			return nil, errors.New("at least one stage required")
		}
		alternatives := make([]fetchz.Chainable[any, any], len(s.Stages))
		for i, cfg := range s.Stages {
			stage, err := reg.Stage(cfg)
			if err != nil {
				return nil, fmt.Errorf("alternative %d: %w", i, err)
			}
			alternatives[i] = stage
		}
		return fetchz.NewFallback(alternatives...), nil
	})

	// transfer
	typed(r, "download", func(reg *Registry, s connectionSettings) (fetchz.Chainable[any, any], error) {
		conn, err := reg.connection(s.Connection)
		if err != nil {
			return nil, err
		}
		return Erase(fetchz.Download(conn)), nil
	})
	typed(r, "contents", func(reg *Registry, s connectionSettings) (fetchz.Chainable[any, any], error) {
		if s.Connection == "" {
			return nil, errors.New("connection required")
		}
		conn, err := reg.connection(s.Connection)
		if err != nil {
			return nil, err
		}
		return Erase(fetchz.Contents(conn)), nil
	})
	typed(r, "sql_query", func(reg *Registry, s sqlSettings) (fetchz.Chainable[any, any], error) {
		db, err := reg.database(s.Database)
		if err != nil {
			return nil, err
		}
		return Erase(sqlconn.Query(db, s.Args...)), nil
	})

	// archives
	simple(r, "ungzip", func() fetchz.Chainable[any, any] {
		return Erase(archive.Ungzip())
	})
	typed(r, "unzip", func(_ *Registry, s unzipSettings) (fetchz.Chainable[any, any], error) {
		return Erase(archive.Unzip(archive.Options{Password: s.Password})), nil
	})
	simple(r, "untar", func() fetchz.Chainable[any, any] {
		return Erase(archive.Untar())
	})
	simple(r, "member_data", func() fetchz.Chainable[any, any] {
		return Erase(archive.Data())
	})
	simple(r, "member_names", func() fetchz.Chainable[any, any] {
		return Erase(archive.Names())
	})

	// parsers
	typed(r, "parse_csv", func(_ *Registry, s csvSettings) (fetchz.Chainable[any, any], error) {
		delim, err := parse.DelimiterFromString(s.Delimiter)
		if err != nil {
			return nil, err
		}
		return Erase(parse.CSV(parse.Options{Delimiter: delim})), nil
	})
	typed(r, "parse_xml", func(_ *Registry, s xmlSettings) (fetchz.Chainable[any, any], error) {
		return Erase(parse.XML(parse.Options{Tag: s.Tag})), nil
	})
	typed(r, "parse_json", func(_ *Registry, s jsonSettings) (fetchz.Chainable[any, any], error) {
		if s.Records {
			return Erase(parse.JSONRecords()), nil
		}
		return Erase(parse.JSON()), nil
	})
}

// compile validates a pattern up front; the string stages panic on a bad
// pattern and configuration must fail with an error instead.
func compile(pattern string) (string, error) {
	if pattern == "" {
		return fetchz.DefaultSeparator, nil
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return "", fmt.Errorf("invalid pattern: %w", err)
	}
	return pattern, nil
}

// predicate builds the element test for a filter stage. With a key, the test
// looks at that path of each element and drops elements lacking it. Pattern
// matches the value's text form, Equals compares text forms, and with
// neither the value must be non-empty.
func predicate(s filterSettings) (fetchz.Predicate[any], error) {
	var re *regexp.Regexp
	if s.Pattern != "" {
		var err error
		if re, err = regexp.Compile(s.Pattern); err != nil {
			return nil, fmt.Errorf("invalid pattern: %w", err)
		}
	}
	var lookup fetchz.Processor[any, any]
	if s.Key != "" {
		lookup = fetchz.Get[any](s.Key)
	}

	return func(item any) bool {
		value := item
		if s.Key != "" {
			v, err := lookup.Process(context.Background(), item)
			if err != nil {
				return false
			}
			value = v
		}
		switch {
		case re != nil:
			return re.MatchString(fmt.Sprint(value))
		case s.Equals != nil:
			return fmt.Sprint(value) == fmt.Sprint(s.Equals)
		default:
			return !empty(value)
		}
	}, nil
}

func empty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case bool:
		return !t
	case []any:
		return len(t) == 0
	case fetchz.Record:
		return len(t) == 0
	}
	return false
}

// retryPolicy builds the backoff for a retry stage. An absent max_retries
// means three retries; zero disables retrying.
func retryPolicy(s retrySettings) func() backoff.BackOff {
	retries := uint64(3)
	if s.MaxRetries != nil {
		retries = *s.MaxRetries
	}
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		if s.InitialInterval > 0 {
			b.InitialInterval = s.InitialInterval
		}
		if s.MaxInterval > 0 {
			b.MaxInterval = s.MaxInterval
		}
		return backoff.WithMaxRetries(b, retries)
	}
}
