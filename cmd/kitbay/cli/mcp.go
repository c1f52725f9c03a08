package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kitbay/kitbay/internal/export"
	kmcp "github.com/kitbay/kitbay/internal/mcp"
	"github.com/kitbay/kitbay/internal/service"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		addr      string
		principal string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes catalog search,
component lookup and export as tools for AI agents. Supports stdio (default)
and Streamable HTTP transports.

The session acts as the account named by mcp.principal (or --as); without
one it sees only public, published components.`,
		Example: `  kitbay mcp                                  # stdio mode
  kitbay mcp --transport http --addr :3001
  kitbay mcp --as dev@example.com             # include that account's private components`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("transport") {
				transport = cfg.MCP.Transport
			}
			if !cmd.Flags().Changed("addr") {
				addr = cfg.MCP.Addr
			}
			if !cmd.Flags().Changed("as") {
				principal = cfg.MCP.Principal
			}
			// stdout carries the protocol in stdio mode; logs go to stderr.
			logger, _ := newLogger(cfg.Log, false)

			ctx := cmd.Context()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open catalog: %w", err)
			}
			defer st.Close()

			var caller *service.Principal
			if principal != "" {
				if caller, err = principalFor(ctx, st, principal); err != nil {
					return err
				}
			}

			dispatcher := export.NewDispatcher()
			exports := service.NewExportService(st, dispatcher, nil, logger)
			search := service.NewSearchService(st, nil, nil, logger)
			srv := kmcp.NewMCPServer(st, search, exports, dispatcher, caller, versionString(), logger)

			switch transport {
			case "stdio":
				return srv.ServeStdio()
			case "http":
				return serveMCPHTTP(ctx, srv, addr, cfg.Server.ShutdownTimeout)
			default:
				return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
			}
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().StringVar(&addr, "addr", ":3001", "Listen address (only used with --transport http)")
	cmd.Flags().StringVar(&principal, "as", "", "Email of the account the session acts as")

	return cmd
}

// serveMCPHTTP runs the HTTP transport until SIGINT or SIGTERM.
func serveMCPHTTP(ctx context.Context, srv *kmcp.MCPServer, addr string, timeout time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ServeHTTP(addr) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
