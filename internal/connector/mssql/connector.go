package mssql

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/kitbay/kitbay/internal/connector"
)

// SQL Server error numbers for objects that already exist.
const (
	errObjectExists = 2714
	errIndexExists  = 1913
)

// MSSQLConnector implements connector.Connector for SQL Server databases.
type MSSQLConnector struct {
	db *sqlx.DB
}

// New creates a new MSSQLConnector.
func New() connector.Connector {
	return &MSSQLConnector{}
}

// Connect establishes a connection through the "sqlserver" driver, which
// sqlx rebinds to @pN placeholders.
func (c *MSSQLConnector) Connect(cfg connector.ConnectionConfig) error {
	db, err := sqlx.Connect("sqlserver", cfg.DSN)
	if err != nil {
		return fmt.Errorf("mssql connect: %w", err)
	}
	connector.ApplyPool(db, cfg)
	c.db = db
	return nil
}

// Disconnect closes the database connection pool.
func (c *MSSQLConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *MSSQLConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *MSSQLConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for SQL Server.
func (c *MSSQLConnector) DriverName() string { return "mssql" }

// QuoteIdentifier wraps a SQL identifier in brackets.
func (c *MSSQLConnector) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (c *MSSQLConnector) ColumnType(kind connector.ColumnKind) string {
	switch kind {
	case connector.KindID:
		return "NVARCHAR(64)"
	case connector.KindShortText:
		return "NVARCHAR(255)"
	case connector.KindInt:
		return "BIGINT"
	case connector.KindFloat:
		return "FLOAT"
	case connector.KindBool:
		return "BIT"
	case connector.KindTime:
		return "DATETIME2"
	default:
		return "NVARCHAR(MAX)"
	}
}

// CreateTableSQL guards the CREATE with OBJECT_ID since SQL Server has no
// CREATE TABLE IF NOT EXISTS.
func (c *MSSQLConnector) CreateTableSQL(table string, columns []connector.ColumnDef) string {
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (\n\t%s\n)",
		strings.ReplaceAll(table, "'", "''"), c.QuoteIdentifier(table), connector.ColumnList(c, columns))
}

func (c *MSSQLConnector) CreateIndexSQL(name, table string, columns []string) string {
	return fmt.Sprintf("IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'%s') CREATE INDEX %s ON %s (%s)",
		strings.ReplaceAll(name, "'", "''"), c.QuoteIdentifier(name), c.QuoteIdentifier(table),
		connector.QuoteColumns(c, columns))
}

// IsAlreadyExists matches the driver's numbered server errors.
func (c *MSSQLConnector) IsAlreadyExists(err error) bool {
	var numbered interface{ SQLErrorNumber() int32 }
	if errors.As(err, &numbered) {
		n := numbered.SQLErrorNumber()
		return n == errObjectExists || n == errIndexExists
	}
	return false
}

// LimitOffset uses OFFSET/FETCH NEXT, which SQL Server only accepts after an
// ORDER BY; every catalog list query orders its results.
func (c *MSSQLConnector) LimitOffset(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf("OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", offset, limit)
}

func (c *MSSQLConnector) ILike(expr string) string {
	return "LOWER(" + expr + ") LIKE LOWER(?) ESCAPE '!'"
}
