// Package store is the durable cache of filing metadata and normalized
// statement line items.
//
// The default backend is SQLite in WAL mode so readers are not blocked by the
// writer. The same schema also runs on Postgres through the pgx stdlib driver;
// the two differ only in DDL types and placeholder syntax.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"fincache/pkg/models"
)

//go:embed schema.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// Schema version tracking (SQLite user_version):
// 1 - filings plus one table per statement kind
const currentSchemaVersion = 1

// Drivers accepted in Options.Driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// timeLayout is fixed width so MAX() over the text column is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrInvalidStatement is returned when a statement kind outside the three
// known ones is passed to the store.
var ErrInvalidStatement = eris.New("invalid statement kind")

// Options configures Open.
type Options struct {
	// Driver is DriverSQLite (default) or DriverPostgres.
	Driver string
	// DSN is a file path for SQLite or a connection URL for Postgres.
	DSN string
	// Now overrides the clock used for cache timestamps.
	Now    func() time.Time
	Logger *zap.Logger
}

// Store provides durable storage for the filing cache.
type Store struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
	logger  *zap.Logger
}

// Open creates or opens the cache database and applies schema migrations.
//
// SQLite databases are configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// Opening an existing database is safe.
func Open(ctx context.Context, opts Options) (*Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	if opts.DSN == "" {
		return nil, eris.New("store: empty DSN")
	}

	var sqlDriver string
	switch driver {
	case DriverSQLite:
		sqlDriver = "sqlite3"
	case DriverPostgres:
		sqlDriver = "pgx"
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}

	db, err := sql.Open(sqlDriver, opts.DSN)
	if err != nil {
		return nil, eris.Wrap(err, "open database")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "connect to database")
	}

	s := &Store{db: db, dialect: driver, now: opts.Now, logger: opts.Logger}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	if driver == DriverSQLite {
		// SQLite only supports one writer at a time.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, eris.Wrap(err, "apply pragmas")
		}
	}
	if err := s.applySchema(ctx); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "apply schema")
	}

	s.logger.Debug("cache store opened", zap.String("driver", driver))
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Dialect returns DriverSQLite or DriverPostgres.
func (s *Store) Dialect() string { return s.dialect }

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return eris.Wrapf(err, "execute %q", pragma)
		}
	}
	return nil
}

func (s *Store) applySchema(ctx context.Context) error {
	schema := sqliteSchema
	if s.dialect == DriverPostgres {
		schema = postgresSchema
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return eris.Wrap(err, "execute schema")
		}
	}
	if s.dialect == DriverSQLite {
		return s.runMigrations(ctx)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func (s *Store) runMigrations(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return eris.Wrap(err, "get user_version")
	}
	if version >= currentSchemaVersion {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return eris.Wrap(err, "set user_version")
	}
	return nil
}

// rebind rewrites ? placeholders to $1..$n for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != DriverPostgres {
		return query
	}
	return rebindDollar(query)
}

func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// tableFor maps a statement kind to its table. Unknown kinds are misuse.
func tableFor(kind models.StatementKind) (string, error) {
	switch kind {
	case models.BalanceSheet:
		return "balance_sheet_items", nil
	case models.IncomeStatement:
		return "income_statement_items", nil
	case models.CashFlow:
		return "cash_flow_items", nil
	}
	return "", eris.Wrapf(ErrInvalidStatement, "%q", kind)
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

func parseTimestamp(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, v)
	}
	return t
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return eris.Wrapf(err, "query %s", name)
	}
	if value != expected {
		return eris.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
