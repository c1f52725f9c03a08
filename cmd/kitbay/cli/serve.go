package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kitbay/kitbay/internal/analytics"
	"github.com/kitbay/kitbay/internal/config"
	"github.com/kitbay/kitbay/internal/export"
	"github.com/kitbay/kitbay/internal/jobs"
	"github.com/kitbay/kitbay/internal/server"
	"github.com/kitbay/kitbay/internal/service"
	"github.com/kitbay/kitbay/internal/storage"
)

const banner = `
 _  _____ _____ ____    _ __   __
| |/ /_ _|_   _| __ )  / \\ \ / /
| ' / | |  | | |  _ \ / _ \\ V /
| . \ | |  | | | |_) / ___ \| |
|_|\_\___| |_| |____/_/   \_\_|
`

// jobSweepInterval is how often expired artifacts are removed.
const jobSweepInterval = 15 * time.Minute

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Kitbay API server",
		Long: `Start the HTTP server that exposes the component catalog, search, exports
and background jobs. Rate limits and the log level are reloaded when the
config file changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if dev {
				cfg.Server.CORSOrigins = []string{"*"}
			}
			return runServe(cmd, cfg, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging, CORS *)")

	return cmd
}

func runServe(cmd *cobra.Command, cfg *config.File, dev bool) error {
	out := cmd.OutOrStdout()
	fmt.Fprint(out, banner)
	fmt.Fprintln(out)

	logger, level := newLogger(cfg.Log, dev)
	ctx := cmd.Context()

	// 1. Catalog database
	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer st.Close()
	logger.Info("catalog ready", "driver", st.Driver(), "data_dir", cfg.DataDir)

	// 2. Artifact storage
	stg, err := storage.Open(ctx, cfg.StorageConfig())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	// 3. Services
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth.jwt_secret is not set; using the development secret")
	}
	events := analytics.New(st, cfg.Analytics.Workers, cfg.Analytics.QueueSize, logger)
	authSvc := service.NewAuthService(st, cfg.JWTSecret(), logger)
	exportSvc := service.NewExportService(st, export.NewDispatcher(), events, logger)
	searchSvc := service.NewSearchService(st, nil, events, logger)
	runner := jobs.New(st, exportSvc, stg, events, cfg.Jobs, logger)
	if _, err := runner.RecoverInterrupted(ctx); err != nil {
		return fmt.Errorf("recover interrupted jobs: %w", err)
	}
	runner.StartSweeper(jobSweepInterval)
	forwarder := analytics.NewForwarder(ctx, st, cfg.Analytics.ForwardEndpoint, versionString(), cfg.Analytics.ForwardInterval, logger)

	// 4. First-run check
	hasAdmin, err := st.HasAnyAdmin(ctx)
	if err != nil {
		logger.Warn("failed to check for admin", "error", err)
	}
	if !hasAdmin {
		logger.Warn("no admin account found - run: kitbay user create --admin")
	}

	// 5. HTTP server
	srv, err := server.New(cfg.ServerConfig(versionString()), server.Deps{
		Store:     st,
		Auth:      authSvc,
		Exports:   exportSvc,
		Search:    searchSvc,
		Jobs:      runner,
		Events:    events,
		Forwarder: forwarder,
	}, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	watchConfig(srv, level, dev, logger)

	fmt.Fprintf(out, "→ Kitbay %s\n", versionString())
	fmt.Fprintf(out, "→ Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintf(out, "→ OpenAPI:    http://%s:%d/openapi.json\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintf(out, "→ Health:     http://%s:%d/healthz\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintf(out, "→ Storage:    %s\n", cfg.Storage.Driver)
	fmt.Fprintln(out)

	return srv.ListenAndServe()
}

// watchConfig reapplies rate limits and the log level whenever the config
// file changes. Other settings need a restart.
func watchConfig(srv *server.Server, level *slog.LevelVar, dev bool, logger *slog.Logger) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := loadConfig()
		if err != nil {
			logger.Error("config reload rejected", "file", e.Name, "error", err)
			return
		}
		if err := srv.SetLimits(cfg.Limits()); err != nil {
			logger.Error("config reload rejected", "file", e.Name, "error", err)
			return
		}
		if !dev {
			lvl, _ := config.ParseLevel(cfg.Log.Level)
			level.Set(lvl)
		}
		logger.Info("config reloaded", "file", e.Name, "op", e.Op.String())
	})
	viper.WatchConfig()
}
