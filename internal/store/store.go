// Package store persists the marketplace catalog: components with their
// variants and dependencies, users and API keys, analytics events, export
// jobs, backups and key/value settings. Queries are written once with ?
// placeholders and rebound for whichever connector dialect backs the store.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kitbay/kitbay/internal/connector"
	"github.com/kitbay/kitbay/internal/connector/sqlite"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write would violate a uniqueness rule.
	ErrConflict = errors.New("conflict")
)

// Store is the catalog database.
type Store struct {
	conn connector.Connector
	db   *sqlx.DB
}

// New wraps a connected connector and applies the catalog migrations.
func New(ctx context.Context, conn connector.Connector) (*Store, error) {
	s := &Store{conn: conn, db: conn.DB()}
	if err := s.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate catalog database: %w", err)
	}
	return s, nil
}

// OpenSQLite opens (creating if needed) the default SQLite catalog under
// dataDir. Pass an empty dataDir for an in-memory catalog.
func OpenSQLite(ctx context.Context, dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "kitbay.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	conn := sqlite.New()
	if err := conn.Connect(connector.ConnectionConfig{Driver: "sqlite", DSN: dsn}); err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}
	s, err := New(ctx, conn)
	if err != nil {
		conn.Disconnect()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.conn.Disconnect()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Driver returns the dialect name backing the store.
func (s *Store) Driver() string {
	return s.conn.DriverName()
}

// namedExecer is satisfied by both *sqlx.DB and *sqlx.Tx.
type namedExecer interface {
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

// q rebinds a ?-placeholder query for the active driver.
func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

// page appends the dialect's pagination clause to an ordered query.
func (s *Store) page(query string, limit, offset int) string {
	if lo := s.conn.LimitOffset(limit, offset); lo != "" {
		return query + " " + lo
	}
	return query
}

// affected converts a zero-row update or delete into ErrNotFound.
func affected(result sql.Result, op string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// NewID returns a time-ordered UUID string for a new record.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// HashAPIKey returns the hex-encoded SHA-256 hash of a raw API key string.
func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

func now() time.Time {
	return time.Now().UTC()
}

func encodeJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

func decodeStrings(s string) []string {
	out := []string{}
	if s == "" || s == "null" {
		return out
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil || out == nil {
		return []string{}
	}
	return out
}

func decodeMap(s string) map[string]interface{} {
	out := map[string]interface{}{}
	if s == "" || s == "null" {
		return out
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil || out == nil {
		return map[string]interface{}{}
	}
	return out
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
