package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	return NewHTTPServer(newTestService(t), "*", nil).Handler()
}

func doRequest(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	rec := doRequest(t, newTestHandler(t), http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["ok"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestReadyEndpointChecksKV(t *testing.T) {
	rec := doRequest(t, newTestHandler(t), http.MethodGet, "/api/ready", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		OK     bool           `json:"ok"`
		Checks map[string]any `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.OK {
		t.Errorf("not ready: %s", rec.Body.String())
	}
	if _, ok := body.Checks["kv"]; !ok {
		t.Error("kv check missing")
	}
}

func TestOrgStateMethodNotAllowed(t *testing.T) {
	rec := doRequest(t, newTestHandler(t), http.MethodPut, "/api/org-state?account=acme&type=sizes", "{}")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestOrgStateRequiresAccount(t *testing.T) {
	rec := doRequest(t, newTestHandler(t), http.MethodGet, "/api/org-state?type=sizes", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["code"] != "VALIDATION" {
		t.Errorf("body = %v", body)
	}
}

func TestOrgStatePostAndGet(t *testing.T) {
	handler := newTestHandler(t)

	rec := doRequest(t, handler, http.MethodPost, "/api/org-state?account=acme&type=field-edits",
		`{"entityId":"a1","edit":{"name":{"original":"Alpha Screening","edited":"Alpha Discovery"}},"user":"rivera"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("post status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var post struct {
		OK      bool   `json:"ok"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &post); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !post.OK || post.Version == "" {
		t.Errorf("post = %+v", post)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/org-state?account=acme&type=field-edits", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var entries map[string]struct {
		User    string `json:"user"`
		SavedAt string `json:"savedAt"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	entry, ok := entries["a1"]
	if !ok {
		t.Fatalf("entry missing: %s", rec.Body.String())
	}
	if entry.User != "rivera" || entry.SavedAt == "" {
		t.Errorf("entry = %+v", entry)
	}
}

func TestAutosavePostAndGet(t *testing.T) {
	handler := newTestHandler(t)

	rec := doRequest(t, handler, http.MethodGet, "/api/autosave?account=acme", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("empty autosave status = %d, want 404", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/autosave?account=acme",
		`{"state":{"mode":"edit","overrides":{}},"user":"rivera"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("post status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var post struct {
		OK      bool   `json:"ok"`
		SavedAt string `json:"savedAt"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &post); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !post.OK || post.SavedAt == "" {
		t.Errorf("post = %+v", post)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/autosave?account=acme", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var snapshot map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snapshot["mode"] != "edit" || snapshot["user"] != "rivera" {
		t.Errorf("snapshot = %v", snapshot)
	}

	rec = doRequest(t, handler, http.MethodDelete, "/api/autosave?account=acme", "{}")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("delete status = %d, want 405", rec.Code)
	}
}

func TestMatchReviewPostNestedDecisionBody(t *testing.T) {
	handler := newTestHandler(t)

	rec := doRequest(t, handler, http.MethodPost, "/api/match-review?account=acme",
		`{"itemId":"item-1","category":"manual","decision":{"manualNode":"Alpha Screening","manualNodeId":"a1","manualPath":"Acme / Alpha Screening","user":"kim"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("post status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var post struct {
		OK        bool `json:"ok"`
		Decisions struct {
			Manual map[string]struct {
				ManualNodeID string `json:"manualNodeId"`
				User         string `json:"user"`
			} `json:"manual"`
		} `json:"decisions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &post); err != nil {
		t.Fatalf("decode: %v", err)
	}
	decision, ok := post.Decisions.Manual["item-1"]
	if !ok {
		t.Fatalf("decision missing: %s", rec.Body.String())
	}
	if decision.ManualNodeID != "a1" || decision.User != "kim" {
		t.Errorf("decision = %+v", decision)
	}

	// Manual matches must carry the node id inside the decision object.
	rec = doRequest(t, handler, http.MethodPost, "/api/match-review?account=acme",
		`{"itemId":"item-2","category":"manual","decision":{"manualNode":"Beta Ops"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("manual without node id: status = %d", rec.Code)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	rec := doRequest(t, newTestHandler(t), http.MethodGet, "/api/unknown", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestOptionsPreflights(t *testing.T) {
	rec := doRequest(t, newTestHandler(t), http.MethodOptions, "/api/org-state", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS header missing")
	}
}

func TestRequestIDPropagated(t *testing.T) {
	handler := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("X-Request-ID = %q", got)
	}
}

func TestAccountsEndpoint(t *testing.T) {
	rec := doRequest(t, newTestHandler(t), http.MethodGet, "/api/accounts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Accounts []string `json:"accounts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Accounts) != 1 || body.Accounts[0] != "acme" {
		t.Errorf("accounts = %v", body.Accounts)
	}
}
