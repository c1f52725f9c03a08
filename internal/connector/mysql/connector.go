package mysql

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/kitbay/kitbay/internal/connector"
)

// MySQL server error numbers for objects that already exist.
const (
	errTableExists  = 1050
	errDupFieldName = 1060
	errDupKeyName   = 1061
)

// MySQLConnector implements connector.Connector for MySQL databases.
type MySQLConnector struct {
	db *sqlx.DB
}

// New creates a new MySQLConnector.
func New() connector.Connector {
	return &MySQLConnector{}
}

// Connect establishes a connection to the MySQL database. The DSN is
// expected to have been normalized by connector.SanitizeDSN (parseTime on).
func (c *MySQLConnector) Connect(cfg connector.ConnectionConfig) error {
	db, err := sqlx.Connect("mysql", cfg.DSN)
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	connector.ApplyPool(db, cfg)
	c.db = db
	return nil
}

// Disconnect closes the database connection pool.
func (c *MySQLConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *MySQLConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *MySQLConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for MySQL.
func (c *MySQLConnector) DriverName() string { return "mysql" }

// QuoteIdentifier wraps a SQL identifier in backticks, escaping any
// embedded backticks.
func (c *MySQLConnector) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (c *MySQLConnector) ColumnType(kind connector.ColumnKind) string {
	switch kind {
	case connector.KindID:
		return "VARCHAR(64)"
	case connector.KindShortText:
		return "VARCHAR(255)"
	case connector.KindInt:
		return "BIGINT"
	case connector.KindFloat:
		return "DOUBLE"
	case connector.KindBool:
		return "TINYINT(1)"
	case connector.KindTime:
		return "DATETIME(6)"
	default:
		return "LONGTEXT"
	}
}

func (c *MySQLConnector) CreateTableSQL(table string, columns []connector.ColumnDef) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
		c.QuoteIdentifier(table), connector.ColumnList(c, columns))
}

// CreateIndexSQL returns a plain CREATE INDEX; MySQL has no IF NOT EXISTS
// for indexes, so re-runs surface as errDupKeyName and are ignored.
func (c *MySQLConnector) CreateIndexSQL(name, table string, columns []string) string {
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
		c.QuoteIdentifier(name), c.QuoteIdentifier(table), connector.QuoteColumns(c, columns))
}

func (c *MySQLConnector) IsAlreadyExists(err error) bool {
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case errTableExists, errDupFieldName, errDupKeyName:
			return true
		}
	}
	return false
}

func (c *MySQLConnector) LimitOffset(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	if offset > 0 {
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	}
	return fmt.Sprintf("LIMIT %d", limit)
}

// ILike lowercases both sides; utf8mb4 collations are usually already
// case-insensitive but binary collations are not.
func (c *MySQLConnector) ILike(expr string) string {
	return "LOWER(" + expr + ") LIKE LOWER(?) ESCAPE '!'"
}
