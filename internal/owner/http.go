package owner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/keymint/keymint/internal/model"
)

// HTTPResolver queries a remote user directory at GET {baseURL}/{id}.
// 200 carries the owner as JSON, 404 means no such owner, and any other
// status is an error.
type HTTPResolver struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPResolver creates an HTTPResolver. token, when set, is sent as a
// bearer credential.
func NewHTTPResolver(baseURL, token string, timeout time.Duration) *HTTPResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *HTTPResolver) ResolveOwner(ctx context.Context, id string) (*model.Owner, bool, error) {
	// PathEscape keeps dot segments, which a server would resolve against
	// the parent path. No owner can be addressed by them.
	if id == "" || id == "." || id == ".." {
		return nil, false, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, false, fmt.Errorf("build owner request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("query owner directory: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, false, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, fmt.Errorf("owner directory returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var o model.Owner
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&o); err != nil {
		return nil, false, fmt.Errorf("decode owner: %w", err)
	}
	switch o.ID {
	case "":
		o.ID = id
	case id:
	default:
		return nil, false, fmt.Errorf("owner directory answered %q for owner %q", o.ID, id)
	}
	return &o, true, nil
}
