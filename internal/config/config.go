// Package config defines the kitbay configuration file and its defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kitbay/kitbay/internal/jobs"
	"github.com/kitbay/kitbay/internal/server"
	"github.com/kitbay/kitbay/internal/storage"
)

// DevJWTSecret is used when no secret is configured. serve warns about it.
const DevJWTSecret = "kitbay-dev-secret-change-me"

// File represents the top-level kitbay configuration file.
type File struct {
	DataDir   string          `yaml:"data_dir" mapstructure:"data_dir"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Database  DatabaseConfig  `yaml:"database" mapstructure:"database"`
	Auth      AuthConfig      `yaml:"auth" mapstructure:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	Storage   storage.Config  `yaml:"storage" mapstructure:"storage"`
	Jobs      jobs.Config     `yaml:"jobs" mapstructure:"jobs"`
	Analytics AnalyticsConfig `yaml:"analytics" mapstructure:"analytics"`
	MCP       MCPConfig       `yaml:"mcp" mapstructure:"mcp"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	BaseURL         string        `yaml:"base_url" mapstructure:"base_url"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins" mapstructure:"cors_origins"`
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Only enable it behind a proxy that overwrites those headers.
	TrustProxy bool `yaml:"trust_proxy" mapstructure:"trust_proxy"`
}

// DatabaseConfig selects the catalog database. An empty DSN with the sqlite
// driver means kitbay.db under the data directory.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" mapstructure:"driver"`
	DSN             string        `yaml:"dsn" mapstructure:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// AuthConfig controls authentication settings.
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	SessionTTL time.Duration `yaml:"session_ttl" mapstructure:"session_ttl"`
}

// RateLimitConfig holds per-route request budgets for one window.
type RateLimitConfig struct {
	Export      int           `yaml:"export" mapstructure:"export"`
	Search      int           `yaml:"search" mapstructure:"search"`
	Suggestions int           `yaml:"suggestions" mapstructure:"suggestions"`
	Jobs        int           `yaml:"jobs" mapstructure:"jobs"`
	Window      time.Duration `yaml:"window" mapstructure:"window"`
}

// AnalyticsConfig sizes the event writer and configures optional
// forwarding of aggregate counts.
type AnalyticsConfig struct {
	Workers         int           `yaml:"workers" mapstructure:"workers"`
	QueueSize       int           `yaml:"queue_size" mapstructure:"queue_size"`
	ForwardEndpoint string        `yaml:"forward_endpoint" mapstructure:"forward_endpoint"`
	ForwardInterval time.Duration `yaml:"forward_interval" mapstructure:"forward_interval"`
}

// MCPConfig controls the MCP server. Principal is the email of the account
// MCP calls act as; empty means anonymous.
type MCPConfig struct {
	Transport string `yaml:"transport" mapstructure:"transport"`
	Addr      string `yaml:"addr" mapstructure:"addr"`
	Principal string `yaml:"principal" mapstructure:"principal"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultDataDir returns ~/.kitbay, or .kitbay when the home directory is
// unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kitbay"
	}
	return filepath.Join(home, ".kitbay")
}

// Default returns a File pre-filled with sensible defaults.
func Default() *File {
	limits := server.DefaultLimits()
	srv := server.DefaultConfig()
	dataDir := DefaultDataDir()
	return &File{
		DataDir: dataDir,
		Server: ServerConfig{
			Host:            srv.Host,
			Port:            srv.Port,
			ShutdownTimeout: srv.ShutdownTimeout,
			CORSOrigins:     srv.CORSOrigins,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Auth: AuthConfig{
			SessionTTL: srv.SessionTTL,
		},
		RateLimit: RateLimitConfig{
			Export:      limits.Export,
			Search:      limits.Search,
			Suggestions: limits.Suggestions,
			Jobs:        limits.Jobs,
			Window:      limits.Window,
		},
		Storage: storage.Config{
			Driver: "local",
		},
		Jobs: jobs.Config{
			Workers:   jobs.DefaultWorkers,
			Retention: jobs.DefaultRetention,
		},
		Analytics: AnalyticsConfig{
			Workers:         2,
			QueueSize:       1024,
			ForwardInterval: time.Hour,
		},
		MCP: MCPConfig{
			Transport: "stdio",
			Addr:      ":3001",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and parses a YAML configuration file over the defaults.
// Environment variables referenced as ${VAR_NAME} in the file are expanded
// before parsing.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration over the defaults.
func Parse(data []byte) (*File, error) {
	content := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func (f *File) Marshal() ([]byte, error) {
	return yaml.Marshal(f)
}

// WriteDefault writes the default configuration to path. An existing file
// is only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	data, err := Default().Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, append([]byte(header), data...), 0644)
}

const header = `# Kitbay configuration
# Every key can be overridden by KITBAY_<SECTION>_<KEY>, e.g.
# KITBAY_AUTH_JWT_SECRET or KITBAY_RATE_LIMIT_SEARCH.
`

// Validate reports every invalid setting at once.
func (f *File) Validate() error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalid}, args...)...))
	}

	if f.Server.Port < 0 || f.Server.Port > 65535 {
		add("server.port %d out of range", f.Server.Port)
	}
	if !slices.Contains(Drivers, strings.ToLower(f.Database.Driver)) {
		add("database.driver %q (supported: %s)", f.Database.Driver, strings.Join(Drivers, ", "))
	}
	if f.Database.Driver != "" && f.Database.Driver != "sqlite" && f.Database.DSN == "" {
		add("database.dsn is required for driver %q", f.Database.Driver)
	}
	switch strings.ToLower(f.Storage.Driver) {
	case "", "local", "file":
	case "s3":
		if f.Storage.Bucket == "" {
			add("storage.bucket is required for the s3 driver")
		}
	default:
		add("storage.driver %q (supported: local, s3)", f.Storage.Driver)
	}
	for name, n := range map[string]int{
		"export":      f.RateLimit.Export,
		"search":      f.RateLimit.Search,
		"suggestions": f.RateLimit.Suggestions,
		"jobs":        f.RateLimit.Jobs,
	} {
		if n <= 0 {
			add("rate_limit.%s must be positive, got %d", name, n)
		}
	}
	if f.RateLimit.Window <= 0 {
		add("rate_limit.window must be positive")
	}
	if _, err := ParseLevel(f.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	if f.Log.Format != "" && f.Log.Format != "text" && f.Log.Format != "json" {
		add("log.format %q (supported: text, json)", f.Log.Format)
	}
	if f.MCP.Transport != "" && f.MCP.Transport != "stdio" && f.MCP.Transport != "http" {
		add("mcp.transport %q (supported: stdio, http)", f.MCP.Transport)
	}
	return errors.Join(errs...)
}

// Drivers lists the catalog database drivers.
var Drivers = []string{"sqlite", "postgres", "mysql", "mssql"}

// ServerConfig converts the file into the HTTP server configuration.
func (f *File) ServerConfig(version string) server.Config {
	return server.Config{
		Host:            f.Server.Host,
		Port:            f.Server.Port,
		ShutdownTimeout: f.Server.ShutdownTimeout,
		CORSOrigins:     f.Server.CORSOrigins,
		TrustProxy:      f.Server.TrustProxy,
		BaseURL:         f.Server.BaseURL,
		Version:         version,
		SessionTTL:      f.Auth.SessionTTL,
		Limits:          f.Limits(),
	}
}

// Limits converts the rate limit section.
func (f *File) Limits() server.Limits {
	return server.Limits{
		Export:      f.RateLimit.Export,
		Search:      f.RateLimit.Search,
		Suggestions: f.RateLimit.Suggestions,
		Jobs:        f.RateLimit.Jobs,
		Window:      f.RateLimit.Window,
	}
}

// JWTSecret returns the configured secret, or DevJWTSecret.
func (f *File) JWTSecret() string {
	if f.Auth.JWTSecret == "" {
		return DevJWTSecret
	}
	return f.Auth.JWTSecret
}

// StorageConfig returns the storage section with the local directory
// defaulted to artifacts/ under the data directory.
func (f *File) StorageConfig() storage.Config {
	sc := f.Storage
	if sc.Dir == "" {
		sc.Dir = filepath.Join(f.DataDir, "artifacts")
	}
	return sc
}

// ParseLevel maps a level name to a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown level %q", s)
	}
	return l, nil
}
