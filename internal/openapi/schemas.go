package openapi

import "github.com/getkin/kin-openapi/openapi3"

func stringSchema(description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Description: description}}
}

func nullableStringSchema(description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string", "null"}, Description: description}}
}

func timeSchema(description string, nullable bool) *openapi3.SchemaRef {
	types := openapi3.Types{"string"}
	if nullable {
		types = append(types, "null")
	}
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &types, Format: "date-time", Description: description}}
}

// apiKeySchema describes model.APIKey as served by the admin API. The secret
// hash is never exposed.
func apiKeySchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:     &openapi3.Types{"object"},
			Required: []string{"id", "name", "secret_prefix", "active", "created_at"},
			Properties: openapi3.Schemas{
				"id": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}},
				"name": &openapi3.SchemaRef{Value: &openapi3.Schema{
					Type:        &openapi3.Types{"string"},
					Pattern:     namePattern,
					MaxLength:   openapi3.Uint64Ptr(254),
					Description: "Unique key name. Lowercase letters and hyphens only.",
				}},
				"secret_prefix":  stringSchema("Leading characters of the secret, for identification."),
				"owner_id":       nullableStringSchema("Owner the key is bound to. Absent for unowned keys."),
				"active":         &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}},
				"created_at":     timeSchema("", false),
				"deactivated_at": timeSchema("", true),
				"last_used_at":   timeSchema("Last successful verification.", true),
			},
		},
	}
}

// issuedKeySchema is APIKey plus the plaintext secret, returned once.
func issuedKeySchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			AllOf: openapi3.SchemaRefs{
				openapi3.NewSchemaRef("#/components/schemas/APIKey", nil),
				{Value: &openapi3.Schema{
					Type:     &openapi3.Types{"object"},
					Required: []string{"secret"},
					Properties: openapi3.Schemas{
						"secret": stringSchema("Plaintext secret. Shown only in this response."),
					},
				}},
			},
		},
	}
}

func issueRequestSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:     &openapi3.Types{"object"},
			Required: []string{"name"},
			Properties: openapi3.Schemas{
				"name":     stringSchema("Key name."),
				"owner_id": stringSchema("Optional owner to bind the key to."),
			},
		},
	}
}

func ownerSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:     &openapi3.Types{"object"},
			Required: []string{"id"},
			Properties: openapi3.Schemas{
				"id":         stringSchema(""),
				"name":       stringSchema(""),
				"email":      stringSchema(""),
				"created_at": timeSchema("", false),
			},
		},
	}
}

func errorResponseSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"code":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
							"kind":    stringSchema("Failure kind, e.g. NameTaken or OwnerAlreadyHasActiveKey."),
							"message": stringSchema(""),
							"context": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
						},
					},
				},
			},
		},
	}
}

// listSchema wraps items in the {"resource": [...], "meta": {...}} envelope.
func listSchema(itemRef string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"resource": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:  &openapi3.Types{"array"},
						Items: openapi3.NewSchemaRef(itemRef, nil),
					},
				},
				"meta": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"count": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}},
						},
					},
				},
			},
		},
	}
}
