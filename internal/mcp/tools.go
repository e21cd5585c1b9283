package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/keymint/keymint/internal/issuance"
	"github.com/keymint/keymint/internal/model"
)

// registerTools registers all keymint MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {
	srv.AddTool(
		mcp.NewTool("keymint_issue_key",
			mcp.WithDescription(
				"Issue a new API key. The name must be lowercase letters and hyphens, "+
					"fewer than 255 characters, and unused by any existing key. When "+
					"owner_id is given the owner must exist and must not already hold an "+
					"active key. The plaintext secret is returned once and cannot be "+
					"recovered later.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Unique key name, e.g. billing-prod"),
			),
			mcp.WithString("owner_id",
				mcp.Description("Optional owner to bind the key to"),
			),
		),
		s.handleIssueKey,
	)

	srv.AddTool(
		mcp.NewTool("keymint_list_keys",
			mcp.WithDescription(
				"List issued API keys with their prefix, owner and active state. "+
					"Secrets are never returned.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("owner_id",
				mcp.Description("Only list keys bound to this owner"),
			),
		),
		s.handleListKeys,
	)

	srv.AddTool(
		mcp.NewTool("keymint_get_key",
			mcp.WithDescription("Get a single API key by name. The secret is never returned."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Key name"),
			),
		),
		s.handleGetKey,
	)

	srv.AddTool(
		mcp.NewTool("keymint_deactivate_key",
			mcp.WithDescription(
				"Deactivate an active API key. Clients presenting its secret are "+
					"rejected afterwards, and its owner may be issued a new key. The "+
					"name stays reserved.",
			),
			mcp.WithToolAnnotation(destructiveAnnotation()),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Key name"),
			),
		),
		s.handleDeactivateKey,
	)
}

// =========================================================================
// Tool handlers
// =========================================================================

// keyInfo is the agent-facing view of a key.
type keyInfo struct {
	Name          string  `json:"name"`
	SecretPrefix  string  `json:"secret_prefix"`
	OwnerID       *string `json:"owner_id,omitempty"`
	Active        bool    `json:"active"`
	CreatedAt     string  `json:"created_at"`
	DeactivatedAt string  `json:"deactivated_at,omitempty"`
	LastUsedAt    string  `json:"last_used_at,omitempty"`
}

func toKeyInfo(k *model.APIKey) keyInfo {
	info := keyInfo{
		Name:         k.Name,
		SecretPrefix: k.SecretPrefix,
		OwnerID:      k.OwnerID,
		Active:       k.Active,
		CreatedAt:    formatTime(k.CreatedAt),
	}
	if k.DeactivatedAt != nil {
		info.DeactivatedAt = formatTime(*k.DeactivatedAt)
	}
	if k.LastUsedAt != nil {
		info.LastUsedAt = formatTime(*k.LastUsedAt)
	}
	return info
}

// handleIssueKey issues a key and returns its one-time secret.
func (s *MCPServer) handleIssueKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	name, err := requireString(request, "name")
	if err != nil {
		return toolError("%v", err)
	}
	ownerID := optionalStringPtr(request, "owner_id")

	issued, err := s.keys.Issue(ctx, name, ownerID)
	if err != nil {
		return issuanceError(err)
	}

	return successJSON(struct {
		keyInfo
		Secret string `json:"secret"`
		Notice string `json:"notice"`
	}{
		keyInfo: toKeyInfo(&issued.APIKey),
		Secret:  issued.Secret,
		Notice:  "Store this secret now. It will not be shown again.",
	})
}

// handleListKeys lists keys, optionally for a single owner.
func (s *MCPServer) handleListKeys(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	keys, err := s.keys.List(ctx, optionalStringPtr(request, "owner_id"))
	if err != nil {
		return issuanceError(err)
	}

	items := make([]keyInfo, len(keys))
	for i := range keys {
		items[i] = toKeyInfo(&keys[i])
	}
	return successJSON(map[string]interface{}{
		"keys":  items,
		"count": len(items),
	})
}

// handleGetKey returns a single key.
func (s *MCPServer) handleGetKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	name, err := requireString(request, "name")
	if err != nil {
		return toolError("%v", err)
	}

	key, err := s.keys.Get(ctx, name)
	if err != nil {
		return issuanceError(err)
	}
	return successJSON(toKeyInfo(key))
}

// handleDeactivateKey deactivates a key by name.
func (s *MCPServer) handleDeactivateKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	name, err := requireString(request, "name")
	if err != nil {
		return toolError("%v", err)
	}

	if err := s.keys.Deactivate(ctx, name); err != nil {
		return issuanceError(err)
	}
	s.logger.Info("api key deactivated via mcp", "name", name)

	return successJSON(map[string]interface{}{
		"name":        name,
		"deactivated": true,
	})
}

// issuanceError reports an issuance failure to the agent with its kind, so it
// can tell a taken name from a missing owner.
func issuanceError(err error) (*mcp.CallToolResult, error) {
	kind := "Internal"
	if k := issuance.Kind(err); k != nil {
		kind = k.Error()
	}
	if issuance.Kind(err) == issuance.ErrStorage {
		return toolError("%s: key storage is unavailable", kind)
	}
	return toolError("%s: %s", kind, issuance.Message(err))
}
