package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/keymint/keymint/internal/model"
	"github.com/keymint/keymint/internal/store"
)

// OwnerHandler manages the bundled owner directory. It is only mounted when
// owners.source is "store".
type OwnerHandler struct {
	store *store.Store
}

// NewOwnerHandler creates an OwnerHandler.
func NewOwnerHandler(s *store.Store) *OwnerHandler {
	return &OwnerHandler{store: s}
}

// ListOwners returns every owner in the directory.
// GET /api/v1/owners
func (h *OwnerHandler) ListOwners(w http.ResponseWriter, r *http.Request) {
	owners, err := h.store.ListOwners(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to list owners")
		return
	}

	resources := make([]map[string]interface{}, 0, len(owners))
	for i := range owners {
		resources = append(resources, ownerToMap(&owners[i]))
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta:     &model.ResponseMeta{Count: len(resources)},
	})
}

type createOwnerRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CreateOwner adds an owner.
// POST /api/v1/owners
func (h *OwnerHandler) CreateOwner(w http.ResponseWriter, r *http.Request) {
	var req createOwnerRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	o := &model.Owner{ID: req.ID, Name: req.Name, Email: req.Email}
	if err := h.store.CreateOwner(r.Context(), o); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "Owner already exists", map[string]interface{}{"id": req.ID})
			return
		}
		writeError(w, http.StatusServiceUnavailable, "Failed to create owner")
		return
	}
	writeJSON(w, http.StatusCreated, ownerToMap(o))
}
