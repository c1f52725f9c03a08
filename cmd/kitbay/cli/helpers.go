package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/kitbay/kitbay/internal/config"
	"github.com/kitbay/kitbay/internal/connector"
	"github.com/kitbay/kitbay/internal/connector/mssql"
	"github.com/kitbay/kitbay/internal/connector/mysql"
	"github.com/kitbay/kitbay/internal/connector/postgres"
	"github.com/kitbay/kitbay/internal/connector/sqlite"
	"github.com/kitbay/kitbay/internal/service"
	"github.com/kitbay/kitbay/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// loadConfig decodes the effective configuration (defaults, config file,
// KITBAY_* environment) and validates it.
func loadConfig() (*config.File, error) {
	cfg := config.Default()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = config.DefaultDataDir()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newRegistry creates a connector registry with all supported database drivers registered.
func newRegistry() *connector.Registry {
	registry := connector.NewRegistry()
	registry.RegisterDriver("postgres", func() connector.Connector { return postgres.New() })
	registry.RegisterDriver("mysql", func() connector.Connector { return mysql.New() })
	registry.RegisterDriver("mssql", func() connector.Connector { return mssql.New() })
	registry.RegisterDriver("sqlite", func() connector.Connector { return sqlite.New() })
	return registry
}

// openStore opens the catalog database and applies migrations. SQLite
// without a DSN lives under the data directory.
func openStore(ctx context.Context, cfg *config.File) (*store.Store, error) {
	db := cfg.Database
	if strings.EqualFold(db.Driver, "sqlite") && db.DSN == "" {
		return store.OpenSQLite(ctx, cfg.DataDir)
	}

	conn, err := newRegistry().Connect("catalog", connector.ConnectionConfig{
		Driver:          strings.ToLower(db.Driver),
		DSN:             db.DSN,
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	st, err := store.New(ctx, conn)
	if err != nil {
		conn.Disconnect()
		return nil, err
	}
	return st, nil
}

// newLogger builds the process logger. The returned LevelVar can be
// changed at runtime when the config file is reloaded.
func newLogger(cfg config.LogConfig, dev bool) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	lvl, _ := config.ParseLevel(cfg.Level)
	if dev {
		lvl = slog.LevelDebug
	}
	level.Set(lvl)

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h), level
}

// principalFor resolves the account CLI operations act as.
func principalFor(ctx context.Context, st *store.Store, email string) (*service.Principal, error) {
	u, err := st.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("user %q: %w", email, err)
	}
	return &service.Principal{UserID: u.ID, Email: u.Email, Role: u.Role}, nil
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// wantJSON picks JSON output when requested or when stdout is not a
// terminal.
func wantJSON(w io.Writer, flag bool) bool {
	return flag || !isTerminal(w)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable writes a header and rows aligned in columns.
func printTable(w io.Writer, header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
