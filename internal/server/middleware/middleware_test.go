package middleware

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
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keymint/keymint/internal/issuance"
	"github.com/keymint/keymint/internal/owner"
	"github.com/keymint/keymint/internal/service"
	"github.com/keymint/keymint/internal/store"
)

// ---------------------------------------------------------------------------
// RequestID middleware tests
// ---------------------------------------------------------------------------

func TestRequestIDGeneratesUUID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r.Context()) == "" {
			t.Error("expected non-empty request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	respID := rr.Header().Get("X-Request-ID")
	// UUID v7 format check: 36 chars with dashes
	if len(respID) != 36 {
		t.Errorf("expected UUID-length request ID, got %q (len=%d)", respID, len(respID))
	}
}

func TestRequestIDPreservesClientID(t *testing.T) {
	clientID := "my-custom-trace-id-123"

	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := GetRequestID(r.Context()); id != clientID {
			t.Errorf("expected context ID %q, got %q", clientID, id)
		}
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", clientID)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if respID := rr.Header().Get("X-Request-ID"); respID != clientID {
		t.Errorf("expected response X-Request-ID %q, got %q", clientID, respID)
	}
}

func TestRequestIDReplacesUnsafeClientID(t *testing.T) {
	for _, bad := range []string{"id with space", "line\nbreak", strings.Repeat("a", 129)} {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("X-Request-ID", bad)
		rr := httptest.NewRecorder()
		RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rr, req)

		got := rr.Header().Get("X-Request-ID")
		if got == bad || len(got) != 36 {
			t.Errorf("client ID %q: got %q, want a generated UUID", bad, got)
		}
	}
}

func TestGetRequestIDEmptyContext(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("expected empty string from bare context, got %q", id)
	}
}

// ---------------------------------------------------------------------------
// Authenticate / RequireOperator tests
// ---------------------------------------------------------------------------

const testSecret = "middleware-test-secret"

func newTestAuth(t *testing.T) (*service.AuthService, *issuance.Service) {
	t.Helper()
	s, err := store.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	keys := issuance.New(s, owner.NewStoreResolver(s), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return service.NewAuthService(keys, testSecret), keys
}

func captureHandler(got **Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = GetPrincipal(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticateBearer(t *testing.T) {
	auth, _ := newTestAuth(t)
	token, err := auth.IssueJWT(context.Background(), "ops", time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}

	var got *Principal
	h := Authenticate(auth, "")(captureHandler(&got))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !got.IsOperator() || got.Subject != "ops" {
		t.Errorf("principal = %+v", got)
	}
}

func TestAuthenticateAPIKey(t *testing.T) {
	auth, keys := newTestAuth(t)
	issued, err := keys.Issue(context.Background(), "ci-pipeline", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	var got *Principal
	h := Authenticate(auth, "X-Keymint-Key")(captureHandler(&got))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Keymint-Key", issued.Secret)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.Type != PrincipalAPIKey || got.Subject != "ci-pipeline" || got.KeyID != issued.ID {
		t.Errorf("principal = %+v", got)
	}
	if got.IsOperator() {
		t.Error("api key principal must not be an operator")
	}
}

func TestAuthenticateRejects(t *testing.T) {
	auth, _ := newTestAuth(t)
	h := Authenticate(auth, "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("inner handler should not be called")
	}))

	tests := []struct {
		name   string
		header string
		value  string
		want   string
	}{
		{"no credentials", "", "", "Authentication required"},
		{"bad token", "Authorization", "Bearer nope", "Invalid token"},
		{"bad key", "X-API-Key", "km_unknown", "Invalid API key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rr.Code)
			}
			var body struct {
				Error struct {
					Code    int    `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error.Code != 401 || !strings.Contains(body.Error.Message, tt.want) {
				t.Errorf("error = %+v, want message containing %q", body.Error, tt.want)
			}
		})
	}
}

func TestRequireOperatorAllowsOperators(t *testing.T) {
	handler := RequireOperator()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/keys", nil)
	ctx := context.WithValue(req.Context(), AuthPrincipalKey, &Principal{Type: PrincipalOperator, Subject: "ops"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req.WithContext(ctx))

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestRequireOperatorBlocksAPIKeys(t *testing.T) {
	handler := RequireOperator()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("inner handler should not be called for api key principals")
	}))

	req := httptest.NewRequest("GET", "/api/v1/keys", nil)
	ctx := context.WithValue(req.Context(), AuthPrincipalKey, &Principal{Type: PrincipalAPIKey, KeyID: 1})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req.WithContext(ctx))

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
}

func TestRequireOperatorBlocksUnauthenticated(t *testing.T) {
	handler := RequireOperator()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("inner handler should not be called for unauthenticated")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/keys", nil))

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
}

func TestGetPrincipalWithoutValue(t *testing.T) {
	if GetPrincipal(context.Background()) != nil {
		t.Error("expected nil principal from bare context")
	}
}

// ---------------------------------------------------------------------------
// Logger / Metrics tests
// ---------------------------------------------------------------------------

func TestLoggerRecordsRoute(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Get("/api/v1/keys/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/keys/billing", nil))

	out := buf.String()
	for _, want := range []string{"level=WARN", "status=404", "route=/api/v1/keys/{name}", "request_id="} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestMetricsPassesThrough(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))
	if rr.Code != http.StatusTeapot {
		t.Errorf("expected status to pass through, got %d", rr.Code)
	}
}

func TestLoggerIncludesHandlerAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddLogAttrs(r.Context(), slog.String("kind", "NameTaken"))
		w.WriteHeader(http.StatusConflict)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/api/v1/keys", nil))

	out := buf.String()
	for _, want := range []string{"level=WARN", "status=409", "kind=NameTaken"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestAddLogAttrsWithoutLogger(t *testing.T) {
	// Must not panic when no Logger is in the chain.
	AddLogAttrs(context.Background(), slog.String("kind", "NameTaken"))
}

func TestRateLimitByHeader(t *testing.T) {
	h := RateLimitByHeader("X-API-Key", 1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() int {
		req := httptest.NewRequest("POST", "/api/v1/verify", nil)
		req.Header.Set("X-API-Key", "km_same")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}
	if code := send(); code != http.StatusOK {
		t.Fatalf("first request = %d, want 200", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Errorf("second request = %d, want 429", code)
	}
}

func TestRateLimitByHeaderJSONRejection(t *testing.T) {
	h := RateLimitByHeader("X-API-Key", 1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var last *httptest.ResponseRecorder
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/api/v1/verify", nil)
		req.Header.Set("X-API-Key", "km_other")
		last = httptest.NewRecorder()
		h.ServeHTTP(last, req)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", last.Code)
	}
	var body struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(last.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != http.StatusTooManyRequests || body.Error.Message != rateLimitMessage {
		t.Errorf("body = %+v", body.Error)
	}
}
