package middleware

import (
	"net/http"
	"strconv"

	"github.com/go-chi/httprate"

	"github.com/kitbay/kitbay/internal/ratelimit"
)

// RateLimit returns an HTTP middleware that enforces the fixed-window
// counter fw, keyed by the authenticated user or by IP and user agent.
// The limit is read from fw on every request so it can be changed at
// runtime.
func RateLimit(fw *ratelimit.FixedWindow) func(http.Handler) http.Handler {
	window := fw.Window()
	retryAfter := strconv.Itoa(int(window.Seconds()))

	rl := httprate.NewRateLimiter(fw.Limit(), window,
		httprate.WithLimitCounter(fw),
		httprate.WithKeyFuncs(ratelimit.KeyFunc(func(r *http.Request) string {
			return GetPrincipal(r.Context()).ID()
		})),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			noteLimited(r.Context())
			w.Header().Set("Retry-After", retryAfter)
			writeError(w, http.StatusTooManyRequests,
				"Too many requests. Retry after "+retryAfter+" seconds.")
		}),
		httprate.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			writeError(w, http.StatusInternalServerError, err.Error())
		}),
	)

	return func(next http.Handler) http.Handler {
		limited := rl.Handler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := httprate.WithRequestLimit(r.Context(), fw.Limit())
			limited.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
