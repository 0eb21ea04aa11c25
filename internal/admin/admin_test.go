package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"screenrelay/internal/relay"
	"screenrelay/internal/storage"
)

func newTestAPI(t *testing.T) (*API, *relay.Registry) {
	t.Helper()

	f, err := os.CreateTemp("", "screenrelay-admin-test-*.db")
	if err != nil {
		t.Fatalf("temp db: %v", err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	store, err := storage.NewSQLiteStore(f.Name())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	registry := relay.NewRegistry()
	return New(registry, store, "test-token"), registry
}

func doRequest(api *API, method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	api.Handler().ServeHTTP(w, req)
	return w
}

func TestAPI_RequiresToken(t *testing.T) {
	api, _ := newTestAPI(t)

	if w := doRequest(api, "GET", "/api/sessions", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", w.Code)
	}
	if w := doRequest(api, "GET", "/api/sessions", "wrong-token", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", w.Code)
	}
	if w := doRequest(api, "GET", "/api/sessions", "test-token", ""); w.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", w.Code)
	}
}

func TestAPI_ListSessions(t *testing.T) {
	api, registry := newTestAPI(t)

	sess := registry.CreateSession("alice", "Session by alice")

	w := doRequest(api, "GET", "/api/sessions", "test-token", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Count    int                    `json:"count"`
		Sessions []relay.SessionSummary `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 1 || len(resp.Sessions) != 1 {
		t.Fatalf("expected 1 session, got count=%d len=%d", resp.Count, len(resp.Sessions))
	}
	if resp.Sessions[0].ID != sess.ID || resp.Sessions[0].Host != "alice" {
		t.Errorf("unexpected session summary: %+v", resp.Sessions[0])
	}
}

func TestAPI_CreateUser(t *testing.T) {
	api, _ := newTestAPI(t)

	w := doRequest(api, "POST", "/api/users", "test-token", `{"username":"carol","password":"pw123"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["username"] != "carol" || resp["api_key"] == "" {
		t.Errorf("unexpected create response: %v", resp)
	}

	// Same username again conflicts.
	w = doRequest(api, "POST", "/api/users", "test-token", `{"username":"carol","password":"other"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate: status = %d, want 409", w.Code)
	}

	// Missing fields are a bad request.
	w = doRequest(api, "POST", "/api/users", "test-token", `{"username":"dave"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing password: status = %d, want 400", w.Code)
	}
}
