package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// MockTwitchServer mocks the Twitch identity endpoints.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
	calls    map[string]*atomic.Int32
}

func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
		calls: map[string]*atomic.Int32{
			"/oauth2/token":    {},
			"/oauth2/validate": {},
		},
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if c, ok := m.calls[key]; ok {
			c.Add(1)
		}
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Calls reports how often path was hit.
func (m *MockTwitchServer) Calls(path string) int {
	if c, ok := m.calls[path]; ok {
		return int(c.Load())
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockOAuthTokenResponse answers refresh grants with the given tokens.
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken, refreshToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"expires_in":    expiresIn,
			"scope":         []string{"chat:read", "chat:edit"},
			"token_type":    "bearer",
		})
	}
}

// MockOAuthTokenError makes the token endpoint fail with status.
func (m *MockTwitchServer) MockOAuthTokenError(status int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, status, map[string]any{"status": status, "message": "Invalid refresh token"})
	}
}

// MockValidateResponse answers /oauth2/validate with the given identity.
func (m *MockTwitchServer) MockValidateResponse(login, userID string) {
	m.Handlers["/oauth2/validate"] = func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"status": 401, "message": "missing authorization token"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"client_id":  "client",
			"login":      login,
			"user_id":    userID,
			"scopes":     []string{"chat:read", "chat:edit"},
			"expires_in": 3600,
		})
	}
}
