// Package openapi builds the OpenAPI document for keymint's admin API.
package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"
)

const namePattern = "^[a-z-]{1,254}$"

// Options controls document generation.
type Options struct {
	BaseURL      string
	Version      string
	APIKeyHeader string
}

// errResponse pairs a status code with its description.
type errResponse struct {
	code        string
	description string
}

var (
	errBadRequest   = errResponse{"400", "Invalid name format or request body"}
	errUnauthorized = errResponse{"401", "Missing or invalid credentials"}
	errForbidden    = errResponse{"403", "Operator access required"}
	errNotFound     = errResponse{"404", "Key or owner not found"}
	errConflict     = errResponse{"409", "Name taken, owner already has an active key, or concurrent conflict"}
	errUnavailable  = errResponse{"503", "Key storage is unavailable"}
)

// Generate returns the admin API document.
func Generate(opts Options) *openapi3.T {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.APIKeyHeader == "" {
		opts.APIKeyHeader = "X-API-Key"
	}

	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "keymint admin API",
			Description: "Issue, list, deactivate and verify API keys.",
			Version:     opts.Version,
		},
	}
	if opts.BaseURL != "" {
		doc.Servers = openapi3.Servers{{URL: opts.BaseURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{
		"APIKey":        apiKeySchema(),
		"IssuedKey":     issuedKeySchema(),
		"IssueRequest":  issueRequestSchema(),
		"Owner":         ownerSchema(),
		"ErrorResponse": errorResponseSchema(),
		"APIKeyList":    listSchema("#/components/schemas/APIKey"),
		"OwnerList":     listSchema("#/components/schemas/Owner"),
	}
	components.SecuritySchemes = openapi3.SecuritySchemes{
		"bearerAuth": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:         "http",
				Scheme:       "bearer",
				BearerFormat: "JWT",
				Description:  "Operator token minted with `keymint token`.",
			},
		},
		"apiKey": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type: "apiKey",
				In:   "header",
				Name: opts.APIKeyHeader,
			},
		},
	}
	doc.Components = &components
	doc.Security = openapi3.SecurityRequirements{{"bearerAuth": {}}}

	doc.Paths = openapi3.NewPaths()
	addKeyPaths(doc)
	addOwnerPaths(doc)
	addVerifyPath(doc)
	addProbePaths(doc)
	return doc
}

func addKeyPaths(doc *openapi3.T) {
	keyRef := "#/components/schemas/APIKey"

	doc.Paths.Set("/api/v1/keys", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "List API keys",
			OperationID: "listKeys",
			Parameters: openapi3.Parameters{
				{Value: openapi3.NewQueryParameter("owner_id").
					WithDescription("Only keys bound to this owner.").
					WithSchema(openapi3.NewStringSchema())},
			},
			Responses: newResponses("200", "Keys, newest first", openapi3.NewSchemaRef("#/components/schemas/APIKeyList", nil),
				errUnauthorized, errForbidden, errUnavailable),
		},
		Post: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Issue an API key",
			Description: "Creates an active key. The plaintext secret is returned once and cannot be retrieved again.",
			OperationID: "issueKey",
			RequestBody: &openapi3.RequestBodyRef{
				Value: &openapi3.RequestBody{
					Required: true,
					Content:  openapi3.NewContentWithJSONSchemaRef(openapi3.NewSchemaRef("#/components/schemas/IssueRequest", nil)),
				},
			},
			Responses: newResponses("201", "Key issued", openapi3.NewSchemaRef("#/components/schemas/IssuedKey", nil),
				errBadRequest, errUnauthorized, errForbidden, errNotFound, errConflict, errUnavailable),
		},
	})

	nameParam := &openapi3.ParameterRef{Value: openapi3.NewPathParameter("name").
		WithSchema(&openapi3.Schema{Type: &openapi3.Types{"string"}, Pattern: namePattern})}

	doc.Paths.Set("/api/v1/keys/{name}", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Get an API key",
			OperationID: "getKey",
			Parameters:  openapi3.Parameters{nameParam},
			Responses: newResponses("200", "The key", openapi3.NewSchemaRef(keyRef, nil),
				errUnauthorized, errForbidden, errNotFound, errUnavailable),
		},
	})

	doc.Paths.Set("/api/v1/keys/{name}/deactivate", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Deactivate an API key",
			Description: "Marks the key inactive. Its owner may then be issued a new key.",
			OperationID: "deactivateKey",
			Parameters:  openapi3.Parameters{nameParam},
			Responses: newResponses("200", "Key deactivated", openapi3.NewSchemaRef(keyRef, nil),
				errUnauthorized, errForbidden, errNotFound, errUnavailable),
		},
	})
}

func addOwnerPaths(doc *openapi3.T) {
	doc.Paths.Set("/api/v1/owners", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"owners"},
			Summary:     "List owners in the bundled directory",
			OperationID: "listOwners",
			Responses: newResponses("200", "Owners", openapi3.NewSchemaRef("#/components/schemas/OwnerList", nil),
				errUnauthorized, errForbidden, errUnavailable),
		},
		Post: &openapi3.Operation{
			Tags:        []string{"owners"},
			Summary:     "Add an owner to the bundled directory",
			OperationID: "createOwner",
			RequestBody: &openapi3.RequestBodyRef{
				Value: &openapi3.RequestBody{
					Required: true,
					Content:  openapi3.NewContentWithJSONSchemaRef(openapi3.NewSchemaRef("#/components/schemas/Owner", nil)),
				},
			},
			Responses: newResponses("201", "Owner created", openapi3.NewSchemaRef("#/components/schemas/Owner", nil),
				errBadRequest, errUnauthorized, errForbidden, errConflict, errUnavailable),
		},
	})
}

func addVerifyPath(doc *openapi3.T) {
	doc.Paths.Set("/api/v1/verify", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"verify"},
			Summary:     "Verify an API key",
			Description: "Checks the secret presented in the API key header.",
			OperationID: "verifyKey",
			Security:    &openapi3.SecurityRequirements{{"apiKey": {}}},
			Responses: newResponses("200", "The key the secret belongs to", openapi3.NewSchemaRef("#/components/schemas/APIKey", nil),
				errUnauthorized, errUnavailable),
		},
	})
}

func addProbePaths(doc *openapi3.T) {
	noAuth := &openapi3.SecurityRequirements{}
	status := &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: openapi3.Schemas{"status": stringSchema("")},
	}}

	doc.Paths.Set("/healthz", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"probes"},
			Summary:     "Liveness probe",
			OperationID: "healthz",
			Security:    noAuth,
			Responses:   newResponses("200", "Process is running", status),
		},
	})
	doc.Paths.Set("/readyz", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"probes"},
			Summary:     "Readiness probe",
			OperationID: "readyz",
			Security:    noAuth,
			Responses:   newResponses("200", "Key store is reachable", status, errUnavailable),
		},
	})
}

// newResponses builds a Responses map with a success response and the given
// error responses, all sharing the ErrorResponse envelope.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef, errs ...errResponse) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	errorRef := openapi3.NewSchemaRef("#/components/schemas/ErrorResponse", nil)
	for _, e := range errs {
		desc := e.description
		responses.Set(e.code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	return responses
}
