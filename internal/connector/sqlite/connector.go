package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/kitbay/kitbay/internal/connector"
)

// SQLiteConnector implements connector.Connector for SQLite databases. It is
// the default catalog backend.
type SQLiteConnector struct {
	db *sqlx.DB
}

// New creates a new SQLiteConnector.
func New() connector.Connector {
	return &SQLiteConnector{}
}

// Connect opens the SQLite database file named by the DSN (or ":memory:").
// SQLite serializes writers, so the pool is pinned to one connection unless
// the caller overrides it, and foreign keys are switched on.
func (c *SQLiteConnector) Connect(cfg connector.ConnectionConfig) error {
	db, err := sqlx.Connect("sqlite", cfg.DSN)
	if err != nil {
		return fmt.Errorf("sqlite connect: %w", err)
	}

	db.SetMaxOpenConns(1)
	connector.ApplyPool(db, cfg)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	c.db = db
	return nil
}

// Disconnect closes the database connection.
func (c *SQLiteConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *SQLiteConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *SQLiteConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for SQLite.
func (c *SQLiteConnector) DriverName() string { return "sqlite" }

// QuoteIdentifier wraps a SQL identifier in double quotes.
func (c *SQLiteConnector) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ColumnType maps portable kinds onto SQLite storage classes. DATETIME is
// kept as the declared type so the driver round-trips time.Time values.
func (c *SQLiteConnector) ColumnType(kind connector.ColumnKind) string {
	switch kind {
	case connector.KindInt, connector.KindBool:
		return "INTEGER"
	case connector.KindFloat:
		return "REAL"
	case connector.KindTime:
		return "DATETIME"
	default:
		return "TEXT"
	}
}

// CreateTableSQL returns an idempotent CREATE TABLE statement.
func (c *SQLiteConnector) CreateTableSQL(table string, columns []connector.ColumnDef) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)",
		c.QuoteIdentifier(table), connector.ColumnList(c, columns))
}

// CreateIndexSQL returns an idempotent CREATE INDEX statement.
func (c *SQLiteConnector) CreateIndexSQL(name, table string, columns []string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		c.QuoteIdentifier(name), c.QuoteIdentifier(table), connector.QuoteColumns(c, columns))
}

// IsAlreadyExists reports whether err is a re-run of an applied migration.
func (c *SQLiteConnector) IsAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}

// LimitOffset returns a LIMIT/OFFSET clause. Returns empty string if limit is 0.
func (c *SQLiteConnector) LimitOffset(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	if offset > 0 {
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	}
	return fmt.Sprintf("LIMIT %d", limit)
}

// ILike returns a case-insensitive pattern match on expr. SQLite's LIKE is
// already case-insensitive for ASCII.
func (c *SQLiteConnector) ILike(expr string) string {
	return expr + ` LIKE ? ESCAPE '!'`
}
