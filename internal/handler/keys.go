package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keymint/keymint/internal/issuance"
	"github.com/keymint/keymint/internal/model"
	"github.com/keymint/keymint/internal/server/middleware"
)

// KeyHandler serves the API key endpoints.
type KeyHandler struct {
	keys         *issuance.Service
	apiKeyHeader string
}

// NewKeyHandler creates a KeyHandler. apiKeyHeader names the header Verify
// reads the presented secret from.
func NewKeyHandler(keys *issuance.Service, apiKeyHeader string) *KeyHandler {
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	return &KeyHandler{keys: keys, apiKeyHeader: apiKeyHeader}
}

// issueKeyRequest is the expected payload for IssueKey.
type issueKeyRequest struct {
	Name    string  `json:"name"`
	OwnerID *string `json:"owner_id,omitempty"`
}

// IssueKey creates a key and returns the plaintext secret exactly once.
// POST /api/v1/keys
func (h *KeyHandler) IssueKey(w http.ResponseWriter, r *http.Request) {
	var req issueKeyRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	issued, err := h.keys.Issue(r.Context(), req.Name, req.OwnerID)
	if err != nil {
		writeIssuanceError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/keys/"+issued.Name)
	writeJSON(w, http.StatusCreated, issued)
}

// ListKeys returns keys, optionally filtered by owner, without secrets.
// GET /api/v1/keys?owner_id=
func (h *KeyHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.List(r.Context(), queryOptional(r, "owner_id"))
	if err != nil {
		writeIssuanceError(w, r, err)
		return
	}

	resources := make([]map[string]interface{}, 0, len(keys))
	for i := range keys {
		resources = append(resources, apiKeyToMap(&keys[i]))
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta:     &model.ResponseMeta{Count: len(resources)},
	})
}

// GetKey returns a single key.
// GET /api/v1/keys/{name}
func (h *KeyHandler) GetKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeIssuanceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiKeyToMap(key))
}

// DeactivateKey marks a key inactive and returns its new state.
// POST /api/v1/keys/{name}/deactivate
func (h *KeyHandler) DeactivateKey(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.keys.Deactivate(r.Context(), name); err != nil {
		writeIssuanceError(w, r, err)
		return
	}

	key, err := h.keys.Get(r.Context(), name)
	if err != nil {
		writeIssuanceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiKeyToMap(key))
}

// Verify checks the secret in the API key header.
// POST /api/v1/verify
func (h *KeyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	secret := strings.TrimSpace(r.Header.Get(h.apiKeyHeader))
	if secret == "" {
		writeError(w, http.StatusUnauthorized, "Missing "+h.apiKeyHeader+" header")
		return
	}

	key, err := h.keys.Verify(r.Context(), secret)
	if err != nil {
		writeIssuanceError(w, r, err)
		return
	}
	middleware.AddLogAttrs(r.Context(), slog.String("key", key.Name))
	writeJSON(w, http.StatusOK, apiKeyToMap(key))
}
