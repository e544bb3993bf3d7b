package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	// PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	// SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/fr0stylo/docmirror/internal/db/queries"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

const migrateTimeout = 2 * time.Minute

// Options selects the backing database and the metadata table names.
type Options struct {
	// Path is the SQLite file path without extension; used when PostgresDSN is empty.
	Path        string
	PostgresDSN string
	Tables      queries.Tables
	OpenParams  []string
}

// Database wraps the metadata, queue and lease queries with the shared connection.
type Database struct {
	*queries.Queries
	db      *sql.DB
	dialect queries.Dialect
	tracker *queryLatencyTracker
}

// New opens the SQLite database at the provided path with the default table names.
func New(path string, openParams ...string) (*Database, error) {
	return Open(Options{Path: path, OpenParams: openParams})
}

// Open connects to SQLite or PostgreSQL and applies pending migrations.
func Open(opts Options) (*Database, error) {
	if opts.Tables.Items == "" || opts.Tables.Collaborations == "" {
		defaults := queries.DefaultTables()
		if opts.Tables.Items == "" {
			opts.Tables.Items = defaults.Items
		}
		if opts.Tables.Collaborations == "" {
			opts.Tables.Collaborations = defaults.Collaborations
		}
	}

	dialect := queries.DialectSQLite
	driver := "sqlite"
	gooseDialect := goose.DialectSQLite3
	dsn := ""
	if strings.TrimSpace(opts.PostgresDSN) != "" {
		dialect = queries.DialectPostgres
		driver = "postgres"
		gooseDialect = goose.DialectPostgres
		dsn = opts.PostgresDSN
	} else {
		path := opts.Path
		if path == "" {
			path = "data/docmirror"
		}
		dsn = sqliteDSN(path, opts.OpenParams...)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == queries.DialectSQLite {
		// One writer keeps queue claims serialized without SQLITE_BUSY churn.
		conn.SetMaxOpenConns(1)
	}

	if err := migrate(conn, dialect, gooseDialect, opts.Tables); err != nil {
		_ = conn.Close()
		return nil, err
	}

	tracker := newQueryLatencyTracker()
	wrapped := newInstrumentedDBTX(conn, string(dialect), tracker)

	return &Database{
		Queries: queries.New(wrapped, dialect, opts.Tables),
		db:      conn,
		dialect: dialect,
		tracker: tracker,
	}, nil
}

func migrate(conn *sql.DB, dialect queries.Dialect, gooseDialect goose.Dialect, tables queries.Tables) error {
	sub, err := fs.Sub(migrationsFS, "migrations/"+string(dialect))
	if err != nil {
		return fmt.Errorf("failed to locate migrations: %w", err)
	}
	provider, err := goose.NewProvider(gooseDialect, conn, newTableNameFS(sub, tables))
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func sqliteDSN(path string, openParams ...string) string {
	values := url.Values{}
	values.Set("_fk", "1")

	values.Add("_pragma", "foreign_keys(ON)")
	values.Add("_pragma", "journal_mode(WAL)")
	values.Add("_pragma", "synchronous(NORMAL)")
	values.Add("_pragma", "busy_timeout(5000)")
	values.Add("_pragma", "temp_store(MEMORY)")

	for _, param := range openParams {
		part := strings.TrimSpace(strings.TrimPrefix(param, "&"))
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		values.Add(strings.TrimSpace(key), strings.TrimSpace(value))
	}

	return fmt.Sprintf("file:%s.sqlite?%s", path, values.Encode())
}

// Dialect reports which SQL backend is in use.
func (c *Database) Dialect() queries.Dialect {
	return c.dialect
}

// Ping verifies the connection is alive.
func (c *Database) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (c *Database) Close() error {
	return c.db.Close()
}
