package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/kitbay/kitbay/internal/connector"
)

// PostgresConnector implements connector.Connector for PostgreSQL databases.
type PostgresConnector struct {
	db *sqlx.DB
}

// New creates a new PostgresConnector.
func New() connector.Connector {
	return &PostgresConnector{}
}

// Connect establishes a connection through the pgx stdlib driver and applies
// the pool settings.
func (c *PostgresConnector) Connect(cfg connector.ConnectionConfig) error {
	db, err := sqlx.Connect("pgx", cfg.DSN)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	connector.ApplyPool(db, cfg)
	c.db = db
	return nil
}

// Disconnect closes the database connection pool.
func (c *PostgresConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *PostgresConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *PostgresConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for PostgreSQL.
func (c *PostgresConnector) DriverName() string { return "postgres" }

// QuoteIdentifier wraps a SQL identifier in double quotes.
func (c *PostgresConnector) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (c *PostgresConnector) ColumnType(kind connector.ColumnKind) string {
	switch kind {
	case connector.KindID:
		return "VARCHAR(64)"
	case connector.KindShortText:
		return "VARCHAR(255)"
	case connector.KindInt:
		return "BIGINT"
	case connector.KindFloat:
		return "DOUBLE PRECISION"
	case connector.KindBool:
		return "BOOLEAN"
	case connector.KindTime:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func (c *PostgresConnector) CreateTableSQL(table string, columns []connector.ColumnDef) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)",
		c.QuoteIdentifier(table), connector.ColumnList(c, columns))
}

func (c *PostgresConnector) CreateIndexSQL(name, table string, columns []string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		c.QuoteIdentifier(name), c.QuoteIdentifier(table), connector.QuoteColumns(c, columns))
}

// IsAlreadyExists matches duplicate_table (42P07) and duplicate_column (42701).
func (c *PostgresConnector) IsAlreadyExists(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42P07" || pgErr.Code == "42701"
	}
	return false
}

func (c *PostgresConnector) LimitOffset(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	if offset > 0 {
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	}
	return fmt.Sprintf("LIMIT %d", limit)
}

// ILike uses PostgreSQL's native case-insensitive operator.
func (c *PostgresConnector) ILike(expr string) string {
	return expr + ` ILIKE ? ESCAPE '!'`
}
