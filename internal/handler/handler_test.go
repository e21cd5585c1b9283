package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/keymint/keymint/internal/issuance"
	"github.com/keymint/keymint/internal/model"
	"github.com/keymint/keymint/internal/openapi"
	"github.com/keymint/keymint/internal/owner"
	"github.com/keymint/keymint/internal/server/middleware"
	"github.com/keymint/keymint/internal/store"
)

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store  *store.Store
	keys   *issuance.Service
	router chi.Router
}

// newTestEnv creates a fresh test environment with an in-memory store, an
// owner directory containing owner "42", and a Chi router with routes
// mounted (no auth middleware).
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	s, err := store.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("store.NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.CreateOwner(context.Background(), &model.Owner{ID: "42", Name: "Ada"}); err != nil {
		t.Fatalf("CreateOwner: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	keys := issuance.New(s, owner.NewStoreResolver(s), logger)
	keyHandler := NewKeyHandler(keys, "")
	ownerHandler := NewOwnerHandler(s)

	r := chi.NewRouter()
	r.Get("/openapi.json", NewOpenAPIHandler(openapi.Options{}).ServeSpec)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/verify", keyHandler.Verify)
		r.Get("/keys", keyHandler.ListKeys)
		r.Post("/keys", keyHandler.IssueKey)
		r.Get("/keys/{name}", keyHandler.GetKey)
		r.Post("/keys/{name}/deactivate", keyHandler.DeactivateKey)
		r.Get("/owners", ownerHandler.ListOwners)
		r.Post("/owners", ownerHandler.CreateOwner)
	})

	return &testEnv{store: s, keys: keys, router: r}
}

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// issue creates a key through the API and returns the decoded response.
func (e *testEnv) issue(t *testing.T, name string, ownerID *string) map[string]interface{} {
	t.Helper()
	body := map[string]interface{}{"name": name}
	if ownerID != nil {
		body["owner_id"] = *ownerID
	}
	rr := e.do(t, "POST", "/api/v1/keys", toJSON(t, body))
	assertStatus(t, rr, http.StatusCreated)
	return decodeJSON(t, rr)
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
	return m
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

// assertErrorKind checks the status and the error envelope's kind.
func assertErrorKind(t *testing.T, rr *httptest.ResponseRecorder, status int, kind string) map[string]interface{} {
	t.Helper()
	assertStatus(t, rr, status)
	body := decodeJSON(t, rr)
	e, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error envelope, got %v", body)
	}
	if e["kind"] != kind {
		t.Errorf("kind = %v, want %s", e["kind"], kind)
	}
	if int(e["code"].(float64)) != status {
		t.Errorf("code = %v, want %d", e["code"], status)
	}
	return e
}

func strPtr(s string) *string { return &s }

// ---------------------------------------------------------------------------
// Issue
// ---------------------------------------------------------------------------

func TestIssueKey(t *testing.T) {
	env := newTestEnv(t)

	body := env.issue(t, "billing-prod", nil)
	if body["name"] != "billing-prod" {
		t.Errorf("name = %v", body["name"])
	}
	if body["active"] != true {
		t.Errorf("active = %v", body["active"])
	}
	secret, _ := body["secret"].(string)
	if !strings.HasPrefix(secret, "km_") {
		t.Errorf("secret = %q, want km_ prefix", secret)
	}
	if _, ok := body["owner_id"]; ok {
		t.Error("owner_id should be omitted for unowned keys")
	}
	if _, ok := body["secret_hash"]; ok {
		t.Error("secret_hash must never be exposed")
	}
}

func TestIssueKeyWithOwner(t *testing.T) {
	env := newTestEnv(t)

	body := env.issue(t, "ada-primary", strPtr("42"))
	if body["owner_id"] != "42" {
		t.Errorf("owner_id = %v, want 42", body["owner_id"])
	}

	rr := env.do(t, "POST", "/api/v1/keys", toJSON(t, map[string]string{"name": "ada-secondary", "owner_id": "42"}))
	e := assertErrorKind(t, rr, http.StatusConflict, "OwnerAlreadyHasActiveKey")
	if e["message"] != "User with id 42 yet has an active key" {
		t.Errorf("message = %v", e["message"])
	}
}

func TestIssueKeyErrors(t *testing.T) {
	env := newTestEnv(t)
	env.issue(t, "billing-prod", nil)

	tests := []struct {
		name   string
		body   map[string]string
		status int
		kind   string
	}{
		{"uppercase name", map[string]string{"name": "Billing"}, http.StatusBadRequest, "InvalidNameFormat"},
		{"empty name", map[string]string{"name": ""}, http.StatusBadRequest, "InvalidNameFormat"},
		{"name taken", map[string]string{"name": "billing-prod"}, http.StatusConflict, "NameTaken"},
		{"unknown owner", map[string]string{"name": "orphan", "owner_id": "7"}, http.StatusNotFound, "OwnerNotFound"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "POST", "/api/v1/keys", toJSON(t, tt.body))
			assertErrorKind(t, rr, tt.status, tt.kind)
			if strings.Contains(rr.Body.String(), "km_") {
				t.Error("error responses must not carry secrets")
			}
		})
	}
}

func TestIssueKeyBadBody(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/api/v1/keys", strings.NewReader("{not json"))
	assertStatus(t, rr, http.StatusBadRequest)

	rr = env.do(t, "POST", "/api/v1/keys", strings.NewReader(`{"name":"x","role":"admin"}`))
	assertStatus(t, rr, http.StatusBadRequest)
}

// ---------------------------------------------------------------------------
// List / Get / Deactivate
// ---------------------------------------------------------------------------

func TestListKeys(t *testing.T) {
	env := newTestEnv(t)
	env.issue(t, "alpha", nil)
	env.issue(t, "beta", strPtr("42"))

	rr := env.do(t, "GET", "/api/v1/keys", nil)
	assertStatus(t, rr, http.StatusOK)
	if strings.Contains(rr.Body.String(), `"secret"`) {
		t.Error("list must not include secrets")
	}
	body := decodeJSON(t, rr)
	if n := len(body["resource"].([]interface{})); n != 2 {
		t.Errorf("resource count = %d, want 2", n)
	}
	if meta := body["meta"].(map[string]interface{}); meta["count"].(float64) != 2 {
		t.Errorf("meta.count = %v", meta["count"])
	}

	rr = env.do(t, "GET", "/api/v1/keys?owner_id=42", nil)
	assertStatus(t, rr, http.StatusOK)
	resources := decodeJSON(t, rr)["resource"].([]interface{})
	if len(resources) != 1 || resources[0].(map[string]interface{})["name"] != "beta" {
		t.Errorf("owner 42 keys = %v", resources)
	}
}

func TestGetKey(t *testing.T) {
	env := newTestEnv(t)
	env.issue(t, "alpha", nil)

	rr := env.do(t, "GET", "/api/v1/keys/alpha", nil)
	assertStatus(t, rr, http.StatusOK)
	if decodeJSON(t, rr)["name"] != "alpha" {
		t.Errorf("unexpected body %s", rr.Body.String())
	}

	rr = env.do(t, "GET", "/api/v1/keys/missing", nil)
	assertErrorKind(t, rr, http.StatusNotFound, "KeyNotFound")
}

func TestDeactivateKey(t *testing.T) {
	env := newTestEnv(t)
	env.issue(t, "ada-primary", strPtr("42"))

	rr := env.do(t, "POST", "/api/v1/keys/ada-primary/deactivate", nil)
	assertStatus(t, rr, http.StatusOK)
	body := decodeJSON(t, rr)
	if body["active"] != false || body["deactivated_at"] == nil {
		t.Errorf("unexpected body %v", body)
	}

	rr = env.do(t, "POST", "/api/v1/keys/ada-primary/deactivate", nil)
	assertErrorKind(t, rr, http.StatusNotFound, "KeyNotFound")

	// The owner can be issued a new key now.
	env.issue(t, "ada-secondary", strPtr("42"))
}

// ---------------------------------------------------------------------------
// Verify
// ---------------------------------------------------------------------------

func TestVerifyAccessLogAttrs(t *testing.T) {
	env := newTestEnv(t)
	secret := env.issue(t, "ci-pipeline", nil)["secret"].(string)

	var buf bytes.Buffer
	keyHandler := NewKeyHandler(env.keys, "")
	r := chi.NewRouter()
	r.Use(middleware.Logger(slog.New(slog.NewTextHandler(&buf, nil))))
	r.Post("/api/v1/verify", keyHandler.Verify)

	send := func(secret string) string {
		buf.Reset()
		req := httptest.NewRequest("POST", "/api/v1/verify", nil)
		req.Header.Set("X-API-Key", secret)
		r.ServeHTTP(httptest.NewRecorder(), req)
		return buf.String()
	}

	if out := send(secret); !strings.Contains(out, "key=ci-pipeline") {
		t.Errorf("valid verify log missing key: %s", out)
	}
	out := send("km_nope")
	if !strings.Contains(out, "kind=InvalidSecret") || strings.Contains(out, "km_nope") {
		t.Errorf("failed verify log = %s", out)
	}
}

func TestVerify(t *testing.T) {
	env := newTestEnv(t)
	secret := env.issue(t, "ci-pipeline", nil)["secret"].(string)

	rr := env.do(t, "POST", "/api/v1/verify", nil, "X-API-Key", secret)
	assertStatus(t, rr, http.StatusOK)
	if decodeJSON(t, rr)["name"] != "ci-pipeline" {
		t.Errorf("unexpected body %s", rr.Body.String())
	}

	rr = env.do(t, "POST", "/api/v1/verify", nil)
	assertStatus(t, rr, http.StatusUnauthorized)

	rr = env.do(t, "POST", "/api/v1/verify", nil, "X-API-Key", "km_nope")
	assertErrorKind(t, rr, http.StatusUnauthorized, "InvalidSecret")

	env.do(t, "POST", "/api/v1/keys/ci-pipeline/deactivate", nil)
	rr = env.do(t, "POST", "/api/v1/verify", nil, "X-API-Key", secret)
	assertErrorKind(t, rr, http.StatusUnauthorized, "KeyInactive")
}

// ---------------------------------------------------------------------------
// Owners
// ---------------------------------------------------------------------------

func TestOwners(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/api/v1/owners", toJSON(t, map[string]string{"id": "43", "name": "Grace", "email": "grace@example.com"}))
	assertStatus(t, rr, http.StatusCreated)

	rr = env.do(t, "POST", "/api/v1/owners", toJSON(t, map[string]string{"id": "43"}))
	assertStatus(t, rr, http.StatusConflict)

	rr = env.do(t, "POST", "/api/v1/owners", toJSON(t, map[string]string{"name": "nobody"}))
	assertStatus(t, rr, http.StatusBadRequest)

	rr = env.do(t, "GET", "/api/v1/owners", nil)
	assertStatus(t, rr, http.StatusOK)
	if n := len(decodeJSON(t, rr)["resource"].([]interface{})); n != 2 {
		t.Errorf("owner count = %d, want 2", n)
	}

	// New owner can be issued a key.
	env.issue(t, "grace-primary", strPtr("43"))
}

func TestOpenAPISpec(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/openapi.json", nil)
	assertStatus(t, rr, http.StatusOK)
	body := decodeJSON(t, rr)
	if body["openapi"] != "3.1.0" {
		t.Errorf("openapi = %v", body["openapi"])
	}
	paths := body["paths"].(map[string]interface{})
	if _, ok := paths["/api/v1/keys"]; !ok {
		t.Error("document missing /api/v1/keys")
	}
}
