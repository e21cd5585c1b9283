package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/keymint/keymint/internal/issuance"
	"github.com/keymint/keymint/internal/model"
	"github.com/keymint/keymint/internal/server/middleware"
)

// maxBodySize caps request bodies. Issue and owner payloads are tiny.
const maxBodySize = 64 << 10

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response using the standard error
// envelope. The optional ctx map provides additional context fields.
func writeError(w http.ResponseWriter, code int, message string, ctx ...map[string]interface{}) {
	var ctxMap map[string]interface{}
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: message,
			Context: ctxMap,
		},
	})
}

// writeIssuanceError maps an issuance failure to its HTTP status and writes
// the operator message with the failure kind. Storage causes are not echoed
// to the client.
func writeIssuanceError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	detail := model.ErrorDetail{
		Code:    status,
		Message: issuance.Message(err),
	}
	if kind := issuance.Kind(err); kind != nil {
		detail.Kind = kind.Error()
	} else {
		detail.Message = "Internal error"
	}
	middleware.AddLogAttrs(r.Context(), slog.String("kind", detail.Kind), slog.Any("error", err))

	var ie *issuance.Error
	if errors.As(err, &ie) {
		ctx := map[string]interface{}{}
		if ie.Name != "" {
			ctx["name"] = ie.Name
		}
		if ie.OwnerID != "" {
			ctx["owner_id"] = ie.OwnerID
		}
		if len(ctx) > 0 {
			detail.Context = ctx
		}
	}
	writeJSON(w, status, model.ErrorResponse{Error: detail})
}

// errorStatus maps issuance failure kinds to HTTP status codes.
func errorStatus(err error) int {
	switch issuance.Kind(err) {
	case issuance.ErrInvalidNameFormat:
		return http.StatusBadRequest
	case issuance.ErrNameTaken, issuance.ErrOwnerHasActiveKey, issuance.ErrDuplicateKey:
		return http.StatusConflict
	case issuance.ErrOwnerNotFound, issuance.ErrKeyNotFound:
		return http.StatusNotFound
	case issuance.ErrInvalidSecret, issuance.ErrKeyInactive:
		return http.StatusUnauthorized
	case issuance.ErrStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// readJSON decodes the request body as JSON into v, rejecting unknown fields
// and bodies over maxBodySize.
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// queryOptional returns a pointer to the query parameter's value, or nil if
// the parameter is absent.
func queryOptional(r *http.Request, key string) *string {
	q := r.URL.Query()
	if !q.Has(key) {
		return nil
	}
	v := q.Get(key)
	return &v
}

func apiKeyToMap(key *model.APIKey) map[string]interface{} {
	m := map[string]interface{}{
		"id":            key.ID,
		"name":          key.Name,
		"secret_prefix": key.SecretPrefix,
		"active":        key.Active,
		"created_at":    key.CreatedAt,
	}
	if key.Owned() {
		m["owner_id"] = *key.OwnerID
	}
	if key.DeactivatedAt != nil {
		m["deactivated_at"] = key.DeactivatedAt
	}
	if key.LastUsedAt != nil {
		m["last_used_at"] = key.LastUsedAt
	}
	return m
}

func ownerToMap(o *model.Owner) map[string]interface{} {
	return map[string]interface{}{
		"id":         o.ID,
		"name":       o.Name,
		"email":      o.Email,
		"created_at": o.CreatedAt,
	}
}
