package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/keymint/keymint/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// Principal types.
const (
	PrincipalOperator = "operator"
	PrincipalAPIKey   = "api_key"
)

// Principal represents the authenticated identity making the request.
type Principal struct {
	Type    string
	Subject string // operator subject, or key name for api keys
	KeyID   int64
	OwnerID *string
}

// IsOperator reports whether the principal may manage keys.
func (p *Principal) IsOperator() bool {
	return p != nil && p.Type == PrincipalOperator
}

// Authenticate returns an HTTP middleware that validates the request's
// credentials. It supports two methods:
//
//  1. API key via the configured header (for clients holding an issued key)
//  2. JWT Bearer token via the Authorization header (for operators)
//
// On success, a Principal is attached to the request context. On failure,
// a 401 JSON error response is returned.
func Authenticate(authSvc *service.AuthService, apiKeyHeader string) func(http.Handler) http.Handler {
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var principal *Principal

			if apiKey := r.Header.Get(apiKeyHeader); apiKey != "" {
				p, err := authSvc.ValidateAPIKey(r.Context(), apiKey)
				if err != nil {
					writeAuthError(w, http.StatusUnauthorized, "Invalid API key")
					return
				}
				principal = &Principal{
					Type:    PrincipalAPIKey,
					Subject: p.Name,
					KeyID:   p.KeyID,
					OwnerID: p.OwnerID,
				}
			}

			if principal == nil {
				authHeader := r.Header.Get("Authorization")
				if strings.HasPrefix(authHeader, "Bearer ") {
					token := strings.TrimPrefix(authHeader, "Bearer ")
					p, err := authSvc.ValidateJWT(r.Context(), token)
					if err != nil {
						writeAuthError(w, http.StatusUnauthorized, "Invalid token")
						return
					}
					principal = &Principal{
						Type:    PrincipalOperator,
						Subject: p.Subject,
					}
				}
			}

			if principal == nil {
				writeAuthError(w, http.StatusUnauthorized,
					"Authentication required. Provide "+apiKeyHeader+" header or Bearer token.")
				return
			}

			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireOperator returns an HTTP middleware that restricts a route to
// operators. It must be used after Authenticate in the middleware chain.
func RequireOperator() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !GetPrincipal(r.Context()).IsOperator() {
				writeAuthError(w, http.StatusForbidden, "Operator access required")
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

// writeAuthError mirrors the handler package's error envelope; importing it
// here would create a cycle.
func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": message,
		},
	})
}
