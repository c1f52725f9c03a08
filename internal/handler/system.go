package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kitbay/kitbay/internal/model"
	"github.com/kitbay/kitbay/internal/server/middleware"
	"github.com/kitbay/kitbay/internal/service"
	"github.com/kitbay/kitbay/internal/store"
	"github.com/kitbay/kitbay/internal/validate"
)

// DefaultSessionTTL is the lifetime of tokens issued by Login.
const DefaultSessionTTL = 24 * time.Hour

// EventStats reports the analytics writer's counters.
type EventStats interface {
	Stats() (written, dropped int64)
}

// SystemHandler manages accounts, sessions, API keys and the analytics
// summary, and answers the health probes.
type SystemHandler struct {
	store      *store.Store
	authSvc    *service.AuthService
	stats      EventStats
	sessionTTL time.Duration
}

// NewSystemHandler creates a new SystemHandler. stats may be nil; a
// non-positive sessionTTL takes DefaultSessionTTL.
func NewSystemHandler(st *store.Store, authSvc *service.AuthService, stats EventStats, sessionTTL time.Duration) *SystemHandler {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &SystemHandler{
		store:      st,
		authSvc:    authSvc,
		stats:      stats,
		sessionTTL: sessionTTL,
	}
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the response payload for a successful login.
type loginResponse struct {
	Token     string      `json:"session_token"`
	TokenType string      `json:"token_type"`
	ExpiresIn int         `json:"expires_in"`
	User      *model.User `json:"user"`
}

// Login exchanges an email and password for a JWT session token.
// POST /api/auth/session
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, validate.Login, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}

	u, err := h.authSvc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	token, err := h.authSvc.IssueJWT(r.Context(), u, h.sessionTTL)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	respond(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(h.sessionTTL.Seconds()),
		User:      u,
	}, nil)
}

// Logout is a no-op on the server side since JWTs are stateless. Clients
// should discard their token.
// DELETE /api/auth/session
func (h *SystemHandler) Logout(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]interface{}{"message": "Session invalidated"}, nil)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// ListUsers returns every account.
// GET /api/system/users
func (h *SystemHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, users, &model.ResponseMeta{Count: len(users)})
}

type userRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// CreateUser registers an account. A duplicate email is a conflict.
// POST /api/system/users
func (h *SystemHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeBody(r, validate.UserCreate, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if req.Role == "" {
		req.Role = model.RoleUser
	}

	u, err := h.authSvc.CreateUser(r.Context(), req.Email, req.Name, req.Password, req.Role)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, u, nil)
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// keyOwner resolves whose keys the request acts on: the caller's own, or
// any user's when an admin names one.
func keyOwner(caller *service.Principal, requested string) (string, error) {
	if caller == nil {
		return "", service.ErrForbidden
	}
	if requested == "" || requested == caller.UserID {
		return caller.UserID, nil
	}
	if !caller.IsAdmin() {
		return "", service.ErrForbidden
	}
	return requested, nil
}

// ListAPIKeys returns the caller's keys. Admins may pass ?user_id= or
// ?all=true.
// GET /api/system/api-keys
func (h *SystemHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetPrincipal(r.Context())
	owner, err := keyOwner(caller, queryString(r, "user_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if queryBool(r, "all") {
		if !caller.IsAdmin() {
			writeServiceError(w, r, service.ErrForbidden)
			return
		}
		owner = ""
	}

	keys, err := h.store.ListAPIKeys(r.Context(), owner)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, keys, &model.ResponseMeta{Count: len(keys)})
}

type apiKeyRequest struct {
	Label         string `json:"label"`
	UserID        string `json:"user_id"`
	ExpiresInDays int    `json:"expires_in_days"`
}

type apiKeyResponse struct {
	Key    string        `json:"key"`
	APIKey *model.APIKey `json:"api_key"`
}

// CreateAPIKey issues a new key. The raw key is only returned here.
// POST /api/system/api-keys
func (h *SystemHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req apiKeyRequest
	if err := decodeBody(r, validate.APIKeyCreate, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	owner, err := keyOwner(middleware.GetPrincipal(r.Context()), req.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if _, err := h.store.GetUser(r.Context(), owner); err != nil {
		writeServiceError(w, r, err)
		return
	}

	ttl := time.Duration(req.ExpiresInDays) * 24 * time.Hour
	raw, key, err := h.authSvc.CreateAPIKey(r.Context(), owner, req.Label, ttl)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, apiKeyResponse{Key: raw, APIKey: key}, nil)
}

// RevokeAPIKey deactivates a key. Users may only revoke their own keys.
// DELETE /api/system/api-keys/{id}
func (h *SystemHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetPrincipal(r.Context())
	if caller == nil {
		writeServiceError(w, r, service.ErrForbidden)
		return
	}
	owner := caller.UserID
	if caller.IsAdmin() {
		owner = ""
	}

	id := chi.URLParam(r, "id")
	if err := h.store.RevokeAPIKey(r.Context(), id, owner); err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"id": id, "revoked": true}, nil)
}

// ---------------------------------------------------------------------------
// Analytics
// ---------------------------------------------------------------------------

type analyticsSummary struct {
	Since   time.Time              `json:"since"`
	Counts  []model.EventCount     `json:"counts"`
	Recent  []model.AnalyticsEvent `json:"recent"`
	Written int64                  `json:"written"`
	Dropped int64                  `json:"dropped"`
}

// Analytics summarizes recorded events. ?hours= sets the counting window
// (default 24) and ?type= filters the recent list.
// GET /api/system/analytics
func (h *SystemHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	hours := clampInt(queryInt(r, "hours", 24), 1, 24*365)
	limit := clampInt(queryInt(r, "limit", 50), 1, 500)
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	counts, err := h.store.CountEvents(r.Context(), since)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	recent, err := h.store.ListEvents(r.Context(), queryString(r, "type"), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	summary := analyticsSummary{Since: since, Counts: counts, Recent: recent}
	if h.stats != nil {
		summary.Written, summary.Dropped = h.stats.Stats()
	}
	respond(w, http.StatusOK, summary, nil)
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

// Healthz reports that the process is up.
// GET /healthz
func (h *SystemHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports whether the catalog database is reachable.
// GET /readyz
func (h *SystemHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "driver": h.store.Driver()})
}
