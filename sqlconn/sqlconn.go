// Package sqlconn reads records from SQL databases.
//
// The sqlite3 (github.com/mattn/go-sqlite3) and pgx
// (github.com/jackc/pgx/v5/stdlib) drivers are registered on import.
package sqlconn

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	"github.com/mattn/go-sqlite3"      // registers "sqlite3"
	"github.com/zoobzio/fetchz"
)

// Config selects a driver and data source.
type Config struct {
	// Driver is "sqlite3" or "pgx".
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Open opens and pings the database described by cfg.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sqlconn: driver and dsn required")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, &fetchz.TransferError{Op: "open", Path: cfg.Driver, Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &fetchz.TransferError{Op: "open", Path: cfg.Driver, Err: err}
	}
	return db, nil
}

// Query returns a stage that runs the query it receives and yields one
// Record per row, keyed by column name. Byte slices become strings.
//
// Connection and I/O failures are a *fetchz.TransferError, so Retry repeats
// them. A query the database rejects, or a row that cannot be scanned, is a
// *fetchz.ParseError with Format "sql".
func Query(db *sql.DB, args ...any) fetchz.Processor[string, []fetchz.Record] {
	return fetchz.Apply("sql_query", func(ctx context.Context, query string) ([]fetchz.Record, error) {
		records, err := queryRecords(ctx, db, query, args...)
		if err != nil {
			return nil, classify(query, err)
		}
		return records, nil
	})
}

func classify(query string, err error) error {
	if transient(err) {
		return &fetchz.TransferError{Op: "query", Path: query, Err: err}
	}
	parseErr := &fetchz.ParseError{Format: "sql", Line: -1, Offset: -1, Err: err}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Position > 0 {
		// Position counts characters from one.
		runes := []rune(query)
		if pos := int(pgErr.Position) - 1; pos <= len(runes) {
			parseErr.Offset = int64(len(string(runes[:pos])))
		}
	}
	return parseErr
}

// transient reports whether err comes from the connection rather than the
// query.
func transient(err error) bool {
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		pgconn.SafeToRetry(err),
		pgconn.Timeout(err):
		return true
	}

	var netErr net.Error
	var connectErr *pgconn.ConnectError
	if errors.As(err, &netErr) || errors.As(err, &connectErr) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// connection exception, insufficient resources, operator intervention
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "53") || strings.HasPrefix(pgErr.Code, "57")
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr, sqlite3.ErrCantOpen:
			return true
		}
	}
	return false
}

func queryRecords(ctx context.Context, db *sql.DB, query string, args ...any) ([]fetchz.Record, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	records := []fetchz.Record{}
	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row %d: %w", len(records), err)
		}
		record := make(fetchz.Record, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				record[col] = string(b)
				continue
			}
			record[col] = values[i]
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
