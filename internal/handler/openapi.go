package handler

import (
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/keymint/keymint/internal/openapi"
)

// OpenAPIHandler serves the admin API document. The document is static, so
// it is generated once.
type OpenAPIHandler struct {
	doc *openapi3.T
}

// NewOpenAPIHandler creates an OpenAPIHandler.
func NewOpenAPIHandler(opts openapi.Options) *OpenAPIHandler {
	return &OpenAPIHandler{doc: openapi.Generate(opts)}
}

// ServeSpec returns the OpenAPI document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.doc)
}
