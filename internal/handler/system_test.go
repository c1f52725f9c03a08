package handler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kitbay/kitbay/internal/model"
	"github.com/kitbay/kitbay/internal/store"
)

// ---------------------------------------------------------------------------
// Login / Logout
// ---------------------------------------------------------------------------

func TestLogin_ValidCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "admin@example.com", model.RoleAdmin)

	body := toJSON(t, map[string]string{
		"email":    "admin@example.com",
		"password": testPassword,
	})
	rr := env.do(t, "POST", "/api/auth/session", body, "")
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Token     string     `json:"session_token"`
		TokenType string     `json:"token_type"`
		ExpiresIn int        `json:"expires_in"`
		User      model.User `json:"user"`
	}
	decodeData(t, rr, &resp)

	if resp.Token == "" {
		t.Error("expected non-empty session_token")
	}
	if resp.TokenType != "bearer" {
		t.Errorf("token_type = %q, want %q", resp.TokenType, "bearer")
	}
	if resp.ExpiresIn != 3600 {
		t.Errorf("expires_in = %d, want 3600", resp.ExpiresIn)
	}
	if resp.User.Email != "admin@example.com" || resp.User.Role != model.RoleAdmin {
		t.Errorf("user = %+v", resp.User)
	}
	if strings.Contains(rr.Body.String(), "password") {
		t.Error("response leaks the password hash")
	}

	// The issued token authenticates.
	assertStatus(t, env.do(t, "GET", "/api/system/users", nil, resp.Token), http.StatusOK)
}

func TestLogin_InvalidPassword(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "admin@example.com", model.RoleAdmin)

	body := toJSON(t, map[string]string{
		"email":    "admin@example.com",
		"password": "wrongpassword",
	})
	rr := env.do(t, "POST", "/api/auth/session", body, "")
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestLogin_UnknownEmail(t *testing.T) {
	env := newTestEnv(t)

	body := toJSON(t, map[string]string{
		"email":    "nobody@example.com",
		"password": testPassword,
	})
	rr := env.do(t, "POST", "/api/auth/session", body, "")
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestLogin_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ``},
		{"malformed json", `{"email":`},
		{"missing password", `{"email":"a@example.com"}`},
		{"bad email", `{"email":"not-an-email","password":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "POST", "/api/auth/session", strings.NewReader(tt.body), "")
			assertStatus(t, rr, http.StatusBadRequest)
		})
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seedUser(t, "dev@example.com", model.RoleUser)

	assertStatus(t, env.do(t, "DELETE", "/api/auth/session", nil, ""), http.StatusUnauthorized)
	assertStatus(t, env.do(t, "DELETE", "/api/auth/session", nil, token), http.StatusOK)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func TestUsers_AdminOnly(t *testing.T) {
	env := newTestEnv(t)
	_, userToken := env.seedUser(t, "dev@example.com", model.RoleUser)

	assertStatus(t, env.do(t, "GET", "/api/system/users", nil, ""), http.StatusUnauthorized)
	assertStatus(t, env.do(t, "GET", "/api/system/users", nil, userToken), http.StatusForbidden)
	assertStatus(t, env.do(t, "GET", "/api/system/analytics", nil, userToken), http.StatusForbidden)
}

func TestCreateUser(t *testing.T) {
	env := newTestEnv(t)
	_, adminToken := env.seedUser(t, "admin@example.com", model.RoleAdmin)

	rr := env.do(t, "POST", "/api/system/users", toJSON(t, map[string]string{
		"email":    "new@example.com",
		"name":     "New User",
		"password": "longenough",
	}), adminToken)
	assertStatus(t, rr, http.StatusCreated)
	var u model.User
	decodeData(t, rr, &u)
	if u.Role != model.RoleUser || !u.IsActive {
		t.Errorf("user = %+v", u)
	}

	// Duplicate email.
	rr = env.do(t, "POST", "/api/system/users", toJSON(t, map[string]string{
		"email":    "new@example.com",
		"password": "longenough",
	}), adminToken)
	assertStatus(t, rr, http.StatusConflict)

	// Short password.
	rr = env.do(t, "POST", "/api/system/users", toJSON(t, map[string]string{
		"email":    "short@example.com",
		"password": "short",
	}), adminToken)
	assertStatus(t, rr, http.StatusBadRequest)

	rr = env.do(t, "GET", "/api/system/users", nil, adminToken)
	var users []model.User
	res := decodeData(t, rr, &users)
	if len(users) != 2 || res.Meta.Count != 2 {
		t.Errorf("users = %d", len(users))
	}
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

func TestAPIKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seedUser(t, "dev@example.com", model.RoleUser)

	rr := env.do(t, "POST", "/api/system/api-keys", toJSON(t, map[string]interface{}{
		"label":           "ci",
		"expires_in_days": 30,
	}), token)
	assertStatus(t, rr, http.StatusCreated)
	var created struct {
		Key    string       `json:"key"`
		APIKey model.APIKey `json:"api_key"`
	}
	decodeData(t, rr, &created)
	if !strings.HasPrefix(created.Key, "kb_") {
		t.Errorf("key = %q", created.Key)
	}
	if created.APIKey.ExpiresAt == nil {
		t.Error("expected an expiry")
	}

	// The raw key authenticates through X-API-Key.
	req := httptest.NewRequest("GET", "/api/system/api-keys", nil)
	req.Header.Set("X-API-Key", created.Key)
	keyRR := httptest.NewRecorder()
	env.router.ServeHTTP(keyRR, req)
	assertStatus(t, keyRR, http.StatusOK)
	var keys []model.APIKey
	decodeData(t, keyRR, &keys)
	if len(keys) != 1 || keys[0].Label != "ci" {
		t.Fatalf("keys = %+v", keys)
	}

	assertStatus(t, env.do(t, "DELETE", "/api/system/api-keys/"+created.APIKey.ID, nil, token), http.StatusOK)

	req = httptest.NewRequest("GET", "/api/system/api-keys", nil)
	req.Header.Set("X-API-Key", created.Key)
	keyRR = httptest.NewRecorder()
	env.router.ServeHTTP(keyRR, req)
	assertStatus(t, keyRR, http.StatusUnauthorized)
}

func TestAPIKeys_Ownership(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceToken := env.seedUser(t, "alice@example.com", model.RoleUser)
	bob, bobToken := env.seedUser(t, "bob@example.com", model.RoleUser)
	_, adminToken := env.seedUser(t, "admin@example.com", model.RoleAdmin)

	_, aliceKey, err := env.authSvc.CreateAPIKey(t.Context(), alice.ID, "alice", 0)
	if err != nil {
		t.Fatal(err)
	}

	// Bob cannot act on Alice's keys.
	assertStatus(t, env.do(t, "GET", "/api/system/api-keys?user_id="+alice.ID, nil, bobToken), http.StatusForbidden)
	assertStatus(t, env.do(t, "GET", "/api/system/api-keys?all=true", nil, bobToken), http.StatusForbidden)
	assertStatus(t, env.do(t, "POST", "/api/system/api-keys", toJSON(t, map[string]string{"user_id": alice.ID}), bobToken), http.StatusForbidden)
	assertStatus(t, env.do(t, "DELETE", "/api/system/api-keys/"+aliceKey.ID, nil, bobToken), http.StatusNotFound)

	// Admins may issue for and list any user.
	rr := env.do(t, "POST", "/api/system/api-keys", toJSON(t, map[string]string{"user_id": bob.ID}), adminToken)
	assertStatus(t, rr, http.StatusCreated)
	assertStatus(t, env.do(t, "POST", "/api/system/api-keys", toJSON(t, map[string]string{"user_id": store.NewID()}), adminToken), http.StatusNotFound)

	rr = env.do(t, "GET", "/api/system/api-keys?all=true", nil, adminToken)
	var keys []model.APIKey
	decodeData(t, rr, &keys)
	if len(keys) != 2 {
		t.Errorf("all keys = %d, want 2", len(keys))
	}

	rr = env.do(t, "GET", "/api/system/api-keys", nil, aliceToken)
	decodeData(t, rr, &keys)
	if len(keys) != 1 || keys[0].UserID != alice.ID {
		t.Errorf("alice keys = %+v", keys)
	}

	assertStatus(t, env.do(t, "DELETE", "/api/system/api-keys/"+aliceKey.ID, nil, adminToken), http.StatusOK)
}

// ---------------------------------------------------------------------------
// Analytics
// ---------------------------------------------------------------------------

func TestAnalytics(t *testing.T) {
	env := newTestEnv(t)
	_, adminToken := env.seedUser(t, "admin@example.com", model.RoleAdmin)

	for i := 0; i < 3; i++ {
		if err := env.store.InsertEvent(t.Context(), &model.AnalyticsEvent{
			EventType:  model.EventSearch,
			Properties: map[string]interface{}{"q": fmt.Sprintf("button %d", i)},
		}); err != nil {
			t.Fatal(err)
		}
	}
	if err := env.store.InsertEvent(t.Context(), &model.AnalyticsEvent{EventType: model.EventComponentView}); err != nil {
		t.Fatal(err)
	}

	rr := env.do(t, "GET", "/api/system/analytics?type=search&limit=2", nil, adminToken)
	assertStatus(t, rr, http.StatusOK)
	var summary struct {
		Counts []model.EventCount     `json:"counts"`
		Recent []model.AnalyticsEvent `json:"recent"`
	}
	decodeData(t, rr, &summary)

	counts := map[string]int64{}
	for _, c := range summary.Counts {
		counts[c.EventType] = c.Count
	}
	if counts[model.EventSearch] != 3 || counts[model.EventComponentView] != 1 {
		t.Errorf("counts = %v", counts)
	}
	if len(summary.Recent) != 2 {
		t.Fatalf("recent = %d, want 2", len(summary.Recent))
	}
	for _, e := range summary.Recent {
		if e.EventType != model.EventSearch {
			t.Errorf("recent event type = %s", e.EventType)
		}
	}
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "GET", "/healthz", nil, "")
	assertStatus(t, rr, http.StatusOK)
	if got := strings.TrimSpace(rr.Body.String()); got != `{"status":"ok"}` {
		t.Errorf("body = %s", got)
	}
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "GET", "/readyz", nil, "")
	assertStatus(t, rr, http.StatusOK)

	var resp map[string]string
	decodeJSON(t, rr, &resp)
	if resp["status"] != "ready" || resp["driver"] != "sqlite" {
		t.Errorf("readyz = %v", resp)
	}

	env.store.Close()
	assertStatus(t, env.do(t, "GET", "/readyz", nil, ""), http.StatusServiceUnavailable)
}

func TestServeSpec(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "GET", "/openapi.json", nil, "")
	assertStatus(t, rr, http.StatusOK)

	var doc struct {
		OpenAPI string                 `json:"openapi"`
		Paths   map[string]interface{} `json:"paths"`
	}
	decodeJSON(t, rr, &doc)
	if doc.OpenAPI != "3.1.0" {
		t.Errorf("openapi = %q", doc.OpenAPI)
	}
	if _, ok := doc.Paths["/api/components/export/single"]; !ok {
		t.Error("export path missing from document")
	}
}
