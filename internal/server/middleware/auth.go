package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kitbay/kitbay/internal/model"
	"github.com/kitbay/kitbay/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// Principal is the authenticated identity making the request.
type Principal = service.Principal

// resolve reads the request's credentials. It supports two methods:
//
//  1. API key via the X-API-Key header
//  2. JWT Bearer token via the Authorization header
//
// A nil principal with an empty message means no credentials were presented;
// a non-empty message explains why the presented credentials were rejected.
func resolve(authSvc *service.AuthService, r *http.Request) (*Principal, string) {
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		p, err := authSvc.ValidateAPIKey(r.Context(), apiKey)
		if err != nil {
			return nil, "Invalid API key"
		}
		return p, ""
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		p, err := authSvc.ValidateJWT(r.Context(), strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			if errors.Is(err, service.ErrTokenExpired) {
				return nil, "Token expired"
			}
			return nil, "Invalid token"
		}
		return p, ""
	}
	return nil, ""
}

// Authenticate returns an HTTP middleware that requires valid credentials.
// On success, a Principal is attached to the request context. On failure,
// a 401 JSON error response is returned.
func Authenticate(authSvc *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, reason := resolve(authSvc, r)
			if reason != "" {
				writeError(w, http.StatusUnauthorized, reason)
				return
			}
			if principal == nil {
				writeError(w, http.StatusUnauthorized,
					"Authentication required. Provide X-API-Key header or Bearer token.")
				return
			}

			noteCaller(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// OptionalAuth attaches a Principal when credentials are presented and
// lets anonymous requests through. Invalid credentials are still rejected.
func OptionalAuth(authSvc *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, reason := resolve(authSvc, r)
			if reason != "" {
				writeError(w, http.StatusUnauthorized, reason)
				return
			}
			if principal != nil {
				noteCaller(r.Context(), principal)
				r = r.WithContext(WithPrincipal(r.Context(), principal))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin returns an HTTP middleware that enforces admin-level access.
// It must be used after Authenticate in the middleware chain.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !GetPrincipal(r.Context()).IsAdmin() {
				writeError(w, http.StatusForbidden, "Admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, AuthPrincipalKey, p)
}

// writeError writes the standard error envelope. The handler package has
// its own helpers; this one exists to avoid an import cycle.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.Response{
		Error: &model.ErrorDetail{Code: status, Message: message},
	})
}
