package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	keysURI        = "keymint://keys"
	keyURIPrefix   = "keymint://keys/"
	ownersURI      = "keymint://owners"
	jsonMIMEType   = "application/json"
	keyURITemplate = "keymint://keys/{name}"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {
	srv.AddResource(
		mcp.NewResource(
			keysURI,
			"Issued API Keys",
			mcp.WithResourceDescription("All issued API keys with prefix, owner and active state."),
			mcp.WithMIMEType(jsonMIMEType),
		),
		s.handleKeysResource,
	)

	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			keyURITemplate,
			"API Key",
			mcp.WithTemplateDescription("A single API key by name."),
			mcp.WithTemplateMIMEType(jsonMIMEType),
		),
		s.handleKeyResource,
	)

	if s.owners != nil {
		srv.AddResource(
			mcp.NewResource(
				ownersURI,
				"Key Owners",
				mcp.WithResourceDescription("Owners in the bundled directory that keys may be bound to."),
				mcp.WithMIMEType(jsonMIMEType),
			),
			s.handleOwnersResource,
		)
	}
}

// handleKeysResource returns a JSON list of all keys.
func (s *MCPServer) handleKeysResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	keys, err := s.keys.List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	items := make([]keyInfo, len(keys))
	for i := range keys {
		items[i] = toKeyInfo(&keys[i])
	}
	return jsonContents(keysURI, items)
}

// handleKeyResource returns one key, named by the URI.
func (s *MCPServer) handleKeyResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	uri := request.Params.URI
	name := strings.TrimPrefix(uri, keyURIPrefix)
	if name == "" || name == uri {
		return nil, fmt.Errorf("invalid key URI %q: expected %s", uri, keyURITemplate)
	}

	key, err := s.keys.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get key %q: %w", name, err)
	}
	return jsonContents(uri, toKeyInfo(key))
}

// handleOwnersResource returns the bundled owner directory.
func (s *MCPServer) handleOwnersResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	owners, err := s.owners.ListOwners(ctx)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	return jsonContents(ownersURI, owners)
}

func jsonContents(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: jsonMIMEType,
			Text:     string(b),
		},
	}, nil
}
