package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	"github.com/lib/pq" // Postgres driver
	"github.com/mattn/go-sqlite3"

	"topicflow/internal/core"
)

// Dialect identifies the SQL flavour of a connection
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// DB implements the Database interface for PostgreSQL and SQLite
type DB struct {
	db      *sql.DB
	dialect Dialect
	repos
}

// Open connects to the store. driver is "postgres" or "sqlite3".
func Open(ctx context.Context, driver, url string) (*DB, error) {
	dialect := Dialect(driver)
	dsn := url

	switch dialect {
	case DialectPostgres:
	case DialectSQLite:
		dsn = sqliteDSN(url)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	if dialect == DialectPostgres {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db: db, dialect: dialect, repos: newRepos(conn{db: db, dialect: dialect, sb: builder(dialect)})}, nil
}

// sqliteDSN adds the pragmas the pipeline relies on: WAL, foreign keys,
// a busy timeout and write transactions that take the lock up front.
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	return path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate"
}

func builder(d Dialect) sq.StatementBuilderType {
	if d == DialectPostgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

// Dialect returns the SQL flavour of the connection
func (d *DB) Dialect() Dialect { return d.dialect }

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) BeginTx(ctx context.Context) (Transaction, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	return &dbTx{tx: tx, repos: newRepos(conn{db: d.db, tx: tx, dialect: d.dialect, sb: builder(d.dialect)})}, nil
}

// dbTx implements Transaction interface
type dbTx struct {
	tx *sql.Tx
	repos
}

func (t *dbTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", classify(err))
	}
	return nil
}

func (t *dbTx) Rollback() error { return t.tx.Rollback() }

// repos holds one instance of every repository bound to a connection
type repos struct {
	documents   DocumentRepository
	topics      TopicRepository
	assignments AssignmentRepository
	trends      TrendRepository
	runs        RunRepository
	states      StateRepository
}

func newRepos(c conn) repos {
	return repos{
		documents:   &documentRepo{c},
		topics:      &topicRepo{c},
		assignments: &assignmentRepo{c},
		trends:      &trendRepo{c},
		runs:        &runRepo{c},
		states:      &stateRepo{c},
	}
}

func (r repos) Documents() DocumentRepository     { return r.documents }
func (r repos) Topics() TopicRepository           { return r.topics }
func (r repos) Assignments() AssignmentRepository { return r.assignments }
func (r repos) Trends() TrendRepository           { return r.trends }
func (r repos) Runs() RunRepository               { return r.runs }
func (r repos) States() StateRepository           { return r.states }

// conn is the connection a repository runs its statements on
type conn struct {
	db      *sql.DB
	tx      *sql.Tx
	dialect Dialect
	sb      sq.StatementBuilderType
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (c conn) query() querier {
	if c.tx != nil {
		return c.tx
	}
	return c.db
}

// exec builds and runs a statement
func (c conn) exec(ctx context.Context, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	res, err := c.query().ExecContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	return res, nil
}

// rows builds and runs a query
func (c conn) rows(ctx context.Context, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	rows, err := c.query().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

// row builds a single row query. Scan errors must go through classify.
func (c conn) row(ctx context.Context, b sq.Sqlizer) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return c.query().QueryRowContext(ctx, query, args...), nil
}

// classify wraps a driver error with core.ErrPersistence, adding
// core.ErrStateConflict for errors caused by a concurrent writer.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, core.ErrPersistence) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", core.ErrPersistence, err)
	}
	if isConflict(err) {
		return fmt.Errorf("%w: %w: %w", core.ErrPersistence, core.ErrStateConflict, err)
	}
	return fmt.Errorf("%w: %w", core.ErrPersistence, err)
}

func isConflict(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.UniqueViolation:
			return true
		}
		return false
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy ||
			liteErr.Code == sqlite3.ErrLocked ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// chunk splits values into slices of at most size elements
func chunk[T any](values []T, size int) [][]T {
	var out [][]T
	for size < len(values) {
		values, out = values[size:], append(out, values[:size:size])
	}
	if len(values) > 0 {
		out = append(out, values)
	}
	return out
}
