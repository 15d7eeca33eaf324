// Package postgres adapts a PostgreSQL connection pool to the
// optimizer's ExecutionContext.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cachefront/pkg/optimizer"

	_ "github.com/lib/pq"
)

// Config holds PostgreSQL connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// MaxOpenConns caps the pool size
	MaxOpenConns int

	// MaxIdleConns bounds connections kept warm between bursts
	MaxIdleConns int

	// ConnMaxLifetime recycles connections older than this
	ConnMaxLifetime time.Duration

	// PingTimeout bounds the connectivity check at construction
	PingTimeout time.Duration
}

// DefaultConfig returns settings for a local development database.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        "postgres",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		PingTimeout:     5 * time.Second,
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("postgres: host is required")
	}
	if c.Port <= 0 {
		return errors.New("postgres: port must be positive")
	}
	if c.Database == "" {
		return errors.New("postgres: database is required")
	}
	if c.MaxOpenConns <= 0 {
		return errors.New("postgres: MaxOpenConns must be positive")
	}
	return nil
}

func (c *Config) connString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Adapter implements optimizer.ExecutionContext on a PostgreSQL
// connection pool.
type Adapter struct {
	db *sql.DB
}

var _ optimizer.ExecutionContext = (*Adapter)(nil)

// New opens a pooled connection and verifies connectivity before
// returning. The pool is closed again when the ping fails.
func New(cfg Config) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.connString())
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &Adapter{db: db}, nil
}

func (a *Adapter) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	return queryMaps(ctx, a.db, query, args...)
}

func (a *Adapter) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execCount(ctx, a.db, query, args...)
}

func (a *Adapter) ExplainAnalyze(ctx context.Context, query string, args ...any) ([]string, error) {
	return explainLines(ctx, a.db, query, args...)
}

// Transaction runs fn inside one database transaction. A rollback
// failure joins the original error rather than masking it.
func (a *Adapter) Transaction(ctx context.Context, fn func(tx optimizer.ExecutionContext) error) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}

	if err := fn(&txContext{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("postgres: rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (a *Adapter) Close() error {
	return a.db.Close()
}

// txContext scopes the execution surface to one open transaction.
type txContext struct {
	tx *sql.Tx
}

var _ optimizer.ExecutionContext = (*txContext)(nil)

func (t *txContext) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	return queryMaps(ctx, t.tx, query, args...)
}

func (t *txContext) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execCount(ctx, t.tx, query, args...)
}

func (t *txContext) ExplainAnalyze(ctx context.Context, query string, args ...any) ([]string, error) {
	return explainLines(ctx, t.tx, query, args...)
}

// Transaction flattens: database/sql has no nested transactions, so fn
// joins the one already open.
func (t *txContext) Transaction(ctx context.Context, fn func(tx optimizer.ExecutionContext) error) error {
	return fn(t)
}

// querier is the query surface shared by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func queryMaps(ctx context.Context, q querier, query string, args ...any) ([]map[string]any, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	defer rows.Close()

	return scanMaps(rows)
}

// scanMaps reads every row into a column-keyed map. Byte slices become
// strings so the maps survive JSON encoding.
func scanMaps(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("postgres: columns: %w", err)
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func execCount(ctx context.Context, q querier, query string, args ...any) (int64, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: rows affected: %w", err)
	}
	return n, nil
}

// explainPrefix asks for the full analyzed plan in plain text; parsing
// happens upstream in the optimizer.
const explainPrefix = "EXPLAIN (ANALYZE, COSTS, VERBOSE, BUFFERS, FORMAT TEXT) "

func explainLines(ctx context.Context, q querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, explainPrefix+query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: explain: %w", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("postgres: scan plan: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}
