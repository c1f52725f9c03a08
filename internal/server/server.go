package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kitbay/kitbay/internal/analytics"
	"github.com/kitbay/kitbay/internal/handler"
	"github.com/kitbay/kitbay/internal/jobs"
	"github.com/kitbay/kitbay/internal/openapi"
	"github.com/kitbay/kitbay/internal/ratelimit"
	"github.com/kitbay/kitbay/internal/server/middleware"
	"github.com/kitbay/kitbay/internal/service"
	"github.com/kitbay/kitbay/internal/store"
)

// Limits are the per-minute request budgets of the rate-limited routes.
type Limits struct {
	Export      int
	Search      int
	Suggestions int
	Jobs        int // shared by export job and backup creation
	Window      time.Duration
}

// DefaultLimits returns the stock per-route budgets.
func DefaultLimits() Limits {
	return Limits{
		Export:      30,
		Search:      60,
		Suggestions: 120,
		Jobs:        10,
		Window:      time.Minute,
	}
}

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	BaseURL         string // advertised in the OpenAPI document
	Version         string
	SessionTTL      time.Duration
	Limits          Limits
	// TrustProxy honors X-Forwarded-For and X-Real-IP. Off by default, since
	// anonymous rate limit keys include the client address.
	TrustProxy bool
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		Version:         "dev",
		SessionTTL:      handler.DefaultSessionTTL,
		Limits:          DefaultLimits(),
	}
}

// Deps are the services the server routes to. Events and Forwarder may be
// nil.
type Deps struct {
	Store     *store.Store
	Auth      *service.AuthService
	Exports   *service.ExportService
	Search    *service.SearchService
	Jobs      *jobs.Runner
	Events    *analytics.Logger
	Forwarder *analytics.Forwarder
}

// Server is the top-level HTTP server for Kitbay. It owns the Chi router,
// the per-route rate limiters and the shutdown sequence of the background
// workers.
type Server struct {
	cfg    Config
	deps   Deps
	router chi.Router
	logger *slog.Logger

	limiters map[string]*ratelimit.FixedWindow // by operation id

	mu         sync.Mutex
	httpServer *http.Server
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Every route in openapi.Routes must have a handler.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Limits.Window <= 0 {
		cfg.Limits.Window = time.Minute
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.limiters = s.newLimiters()
	if err := s.setupRouter(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) newLimiters() map[string]*ratelimit.FixedWindow {
	l := s.cfg.Limits
	jobLimit := ratelimit.NewFixedWindow(l.Jobs, l.Window)
	return map[string]*ratelimit.FixedWindow{
		"exportComponent":  ratelimit.NewFixedWindow(l.Export, l.Window),
		"searchComponents": ratelimit.NewFixedWindow(l.Search, l.Window),
		"suggest":          ratelimit.NewFixedWindow(l.Suggestions, l.Window),
		"createExportJob":  jobLimit,
		"createBackup":     jobLimit,
	}
}

// SetLimits applies new per-route budgets without a restart. The window
// length is fixed at construction. Nothing changes unless every budget is
// positive.
func (s *Server) SetLimits(l Limits) error {
	budgets := []struct {
		op    string
		limit int
	}{
		{"exportComponent", l.Export},
		{"searchComponents", l.Search},
		{"suggest", l.Suggestions},
		{"createExportJob", l.Jobs},
	}
	for _, b := range budgets {
		if b.limit <= 0 {
			return fmt.Errorf("%s: %w, got %d", b.op, ratelimit.ErrInvalidLimit, b.limit)
		}
	}
	for _, b := range budgets {
		if err := s.limiters[b.op].SetLimit(b.limit); err != nil {
			return err
		}
	}
	s.logger.Info("rate limits updated",
		"export", l.Export, "search", l.Search, "suggestions", l.Suggestions, "jobs", l.Jobs)
	return nil
}

// handlers maps every operation id in openapi.Routes to its handler.
func (s *Server) handlers() map[string]http.HandlerFunc {
	d := s.deps
	var stats handler.EventStats
	if d.Events != nil {
		stats = d.Events
	}
	var events service.EventLogger
	if d.Events != nil {
		events = d.Events
	}

	components := handler.NewComponentHandler(d.Store, d.Exports, events)
	search := handler.NewSearchHandler(d.Search)
	jobH := handler.NewJobHandler(d.Jobs)
	system := handler.NewSystemHandler(d.Store, d.Auth, stats, s.cfg.SessionTTL)
	spec := handler.NewOpenAPIHandler(s.cfg.Version, s.cfg.BaseURL)

	return map[string]http.HandlerFunc{
		"healthz": system.Healthz,
		"readyz":  system.Readyz,
		"openapi": spec.ServeSpec,

		"login":  system.Login,
		"logout": system.Logout,

		"listComponents":   components.List,
		"createComponent":  components.Create,
		"getComponent":     components.Get,
		"updateComponent":  components.Update,
		"archiveComponent": components.Delete,
		"listVariants":     components.ListVariants,
		"createVariant":    components.CreateVariant,
		"listDependencies": components.ListDependencies,
		"createDependency": components.CreateDependency,

		"exportComponent":  components.ExportSingle,
		"searchComponents": search.Search,
		"suggest":          search.Suggestions,

		"listExportJobs":    jobH.ListExports,
		"createExportJob":   jobH.CreateExport,
		"getExportJob":      jobH.GetExport,
		"downloadExportJob": jobH.DownloadExport,
		"cancelExportJob":   jobH.CancelExport,

		"listBackups":    jobH.ListBackups,
		"createBackup":   jobH.CreateBackup,
		"getBackup":      jobH.GetBackup,
		"downloadBackup": jobH.DownloadBackup,
		"restoreBackup":  jobH.RestoreBackup,

		"listUsers":    system.ListUsers,
		"createUser":   system.CreateUser,
		"listAPIKeys":  system.ListAPIKeys,
		"createAPIKey": system.CreateAPIKey,
		"revokeAPIKey": system.RevokeAPIKey,
		"analytics":    system.Analytics,
	}
}

func (s *Server) setupRouter() error {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(s.logger))
	r.Use(chimw.Recoverer)
	if s.cfg.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Requested-With", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Location", "Retry-After", "Content-Disposition", "X-Export-Format", "X-Export-Size", "X-Component-Id", "X-Checksum-Blake3"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Routes, one per documented operation ---
	handlers := s.handlers()
	for _, rt := range openapi.Routes {
		h, ok := handlers[rt.OperationID]
		if !ok {
			return fmt.Errorf("no handler for %s %s (%s)", rt.Method, rt.Path, rt.OperationID)
		}
		r.With(s.chain(rt)...).Method(rt.Method, rt.Path, h)
	}

	s.router = r
	return nil
}

// chain returns the per-route middleware: credentials first so the rate
// limiter can key on the principal.
func (s *Server) chain(rt openapi.Route) []func(http.Handler) http.Handler {
	var mws []func(http.Handler) http.Handler
	switch rt.Auth {
	case openapi.AuthOptional:
		mws = append(mws, middleware.OptionalAuth(s.deps.Auth))
	case openapi.AuthRequired:
		mws = append(mws, middleware.Authenticate(s.deps.Auth))
	case openapi.AuthAdmin:
		mws = append(mws, middleware.Authenticate(s.deps.Auth), middleware.RequireAdmin())
	}
	if rt.Limited {
		if fw, ok := s.limiters[rt.OperationID]; ok {
			mws = append(mws, middleware.RateLimit(fw))
		}
	}
	return mws
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received, then shuts down gracefully.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. Shutdown drains
// in-flight requests, then the job runner, then the analytics writers.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go ratelimit.RunSweeper(sweepCtx, s.cfg.Limits.Window, s.uniqueLimiters()...)
	if s.deps.Forwarder != nil {
		s.deps.Forwarder.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case err := <-errCh:
		serveErr = fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()
	if err := s.shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	s.logger.Info("server stopped")
	return serveErr
}

// shutdown stops components in dependency order. Every step runs even when
// an earlier one fails.
func (s *Server) shutdown(ctx context.Context) error {
	var errs []error
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}
	if s.deps.Jobs != nil {
		if err := s.deps.Jobs.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("job runner: %w", err))
		}
	}
	if s.deps.Events != nil {
		s.deps.Events.Close()
	}
	if s.deps.Forwarder != nil {
		s.deps.Forwarder.Shutdown()
	}
	return errors.Join(errs...)
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.cfg.ShutdownTimeout <= 0 {
		return 30 * time.Second
	}
	return s.cfg.ShutdownTimeout
}

func (s *Server) uniqueLimiters() []*ratelimit.FixedWindow {
	seen := map[*ratelimit.FixedWindow]bool{}
	var out []*ratelimit.FixedWindow
	for _, fw := range s.limiters {
		if !seen[fw] {
			seen[fw] = true
			out = append(out, fw)
		}
	}
	return out
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
