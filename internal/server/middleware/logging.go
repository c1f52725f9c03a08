package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// accessEntry is filled in by inner middleware (authentication, rate
// limiting) and read back once the handler returns.
type accessEntry struct {
	caller  string
	limited bool
}

func entryFrom(ctx context.Context) *accessEntry {
	e, _ := ctx.Value(accessKey).(*accessEntry)
	return e
}

func noteCaller(ctx context.Context, p *Principal) {
	if e := entryFrom(ctx); e != nil && p != nil {
		e.caller = p.ID()
	}
}

func noteLimited(ctx context.Context) {
	if e := entryFrom(ctx); e != nil {
		e.limited = true
	}
}

// AccessLog logs one line per request: the matched route pattern, status,
// size, latency, request id, caller and whether the rate limiter
// rejected it. 5xx responses log at error level, 4xx at warn.
func AccessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			entry := &accessEntry{}
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), accessKey, entry)))

			status := rec.statusCode()
			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int64("bytes", rec.bytes),
				slog.Duration("elapsed", time.Since(start)),
				slog.String("request_id", RequestIDFrom(r.Context())),
				slog.String("remote_addr", r.RemoteAddr),
			}
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				attrs = append(attrs, slog.String("route", rctx.RoutePattern()))
			}
			if entry.caller != "" {
				attrs = append(attrs, slog.String("user_id", entry.caller))
			}
			if entry.limited {
				attrs = append(attrs, slog.Bool("rate_limited", true))
			}
			logger.LogAttrs(r.Context(), levelFor(status), "request", attrs...)
		})
	}
}

func levelFor(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// statusRecorder captures the status code and body size.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusRecorder) WriteHeader(code int) {
	if w.status != 0 {
		return
	}
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *statusRecorder) statusCode() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// Unwrap lets http.ResponseController reach Flush and friends.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
