package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/keymint/keymint/internal/model"
	"github.com/keymint/keymint/internal/service"
)

// testCLI runs commands against a private data directory and HOME so no
// user configuration leaks in.
type testCLI struct {
	dataDir string
}

func newTestCLI(t *testing.T) *testCLI {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	return &testCLI{dataDir: t.TempDir()}
}

// run executes the root command with args and returns stdout and stderr.
func (c *testCLI) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd("test", "abc123", "2026-01-01")
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--data-dir", c.dataDir}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// mustRun fails the test when the command errors.
func (c *testCLI) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, errOut, err := c.run(t, args...)
	if err != nil {
		t.Fatalf("keymint %s: %v\nstderr: %s", strings.Join(args, " "), err, errOut)
	}
	return out
}

// secretFrom extracts the key printed by key generate.
func secretFrom(t *testing.T, out string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "Key: ") {
			return strings.TrimPrefix(line, "Key: ")
		}
	}
	t.Fatalf("no key in output %q", out)
	return ""
}

func TestKeyGenerate(t *testing.T) {
	c := newTestCLI(t)

	out := c.mustRun(t, "key", "generate", "ci-pipeline")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("output = %q, want 3 lines", out)
	}
	if lines[0] != "API key created" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != "Name: ci-pipeline" {
		t.Errorf("line 1 = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "Key: km_") {
		t.Errorf("line 2 = %q", lines[2])
	}
}

func TestKeyGenerateErrors(t *testing.T) {
	c := newTestCLI(t)
	c.mustRun(t, "owner", "add", "--id", "42", "--name", "Ada")
	c.mustRun(t, "key", "generate", "taken")
	c.mustRun(t, "key", "generate", "ada-primary", "42")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			"invalid name",
			[]string{"key", "generate", "Bad_Name"},
			"Invalid name.  Must be a lowercase alphabetic characters and hyphens less than 255 characters long.",
		},
		{"name taken", []string{"key", "generate", "taken"}, "Name is unavailable."},
		{"owner missing", []string{"key", "generate", "orphan", "7"}, "User with id 7 does not exist"},
		{"owner has key", []string{"key", "generate", "ada-secondary", "42"}, "User with id 42 yet has an active key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := c.run(t, tt.args...)
			if err == nil {
				t.Fatalf("expected error, got output %q", out)
			}
			if err.Error() != tt.want {
				t.Errorf("error = %q, want %q", err.Error(), tt.want)
			}
			if strings.Contains(out, "API key created") {
				t.Error("failure must not report success")
			}
		})
	}
}

func TestKeyGenerateArgs(t *testing.T) {
	c := newTestCLI(t)
	if _, _, err := c.run(t, "key", "generate"); err == nil {
		t.Error("expected error without a name")
	}
	if _, _, err := c.run(t, "key", "generate", "a", "1", "extra"); err == nil {
		t.Error("expected error with too many args")
	}
}

func TestKeyList(t *testing.T) {
	c := newTestCLI(t)

	out := c.mustRun(t, "key", "list")
	if !strings.Contains(out, "No API keys issued") {
		t.Errorf("empty list output = %q", out)
	}

	c.mustRun(t, "owner", "add", "--id", "42")
	secret := secretFrom(t, c.mustRun(t, "key", "generate", "alpha"))
	c.mustRun(t, "key", "generate", "beta", "42")

	out = c.mustRun(t, "key", "list", "--json")
	if strings.Contains(out, secret) {
		t.Error("list must not print secrets")
	}
	var keys []model.APIKey
	if err := json.Unmarshal([]byte(out), &keys); err != nil {
		t.Fatalf("decode: %v; output = %s", err, out)
	}
	if len(keys) != 2 {
		t.Fatalf("len = %d, want 2", len(keys))
	}

	out = c.mustRun(t, "key", "list", "--owner", "42", "--json")
	keys = nil
	if err := json.Unmarshal([]byte(out), &keys); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(keys) != 1 || keys[0].Name != "beta" {
		t.Errorf("owner 42 keys = %+v", keys)
	}

	out = c.mustRun(t, "key", "list")
	if !strings.Contains(out, "NAME") || !strings.Contains(out, "alpha") || !strings.Contains(out, "beta") {
		t.Errorf("table output = %q", out)
	}
}

func TestKeyDeactivateAndVerify(t *testing.T) {
	c := newTestCLI(t)
	c.mustRun(t, "owner", "add", "--id", "42")
	secret := secretFrom(t, c.mustRun(t, "key", "generate", "ada-primary", "42"))

	out := c.mustRun(t, "key", "verify", secret)
	if !strings.Contains(out, "API key is valid") || !strings.Contains(out, "Owner: 42") {
		t.Errorf("verify output = %q", out)
	}

	out = c.mustRun(t, "key", "deactivate", "ada-primary")
	if !strings.Contains(out, `Deactivated API key "ada-primary"`) {
		t.Errorf("deactivate output = %q", out)
	}

	if _, _, err := c.run(t, "key", "verify", secret); err == nil || err.Error() != "API key has been deactivated." {
		t.Errorf("verify deactivated: err = %v", err)
	}
	if _, _, err := c.run(t, "key", "verify", "km_unknown"); err == nil || err.Error() != "Invalid API key." {
		t.Errorf("verify unknown: err = %v", err)
	}
	if _, _, err := c.run(t, "key", "deactivate", "ada-primary"); err == nil {
		t.Error("expected error deactivating twice")
	}

	// The owner may hold a new key once the old one is inactive.
	c.mustRun(t, "key", "generate", "ada-secondary", "42")
}

func TestKeyVerifyRecordsLastUsed(t *testing.T) {
	c := newTestCLI(t)
	secret := secretFrom(t, c.mustRun(t, "key", "generate", "billing-prod"))

	lastUsed := func() *model.APIKey {
		t.Helper()
		var keys []model.APIKey
		if err := json.Unmarshal([]byte(c.mustRun(t, "key", "list", "--json")), &keys); err != nil {
			t.Fatalf("decode key list: %v", err)
		}
		if len(keys) != 1 {
			t.Fatalf("got %d keys, want 1", len(keys))
		}
		return &keys[0]
	}

	if k := lastUsed(); k.LastUsedAt != nil {
		t.Fatalf("last_used_at before verify = %v, want nil", k.LastUsedAt)
	}
	c.mustRun(t, "key", "verify", secret)
	if k := lastUsed(); k.LastUsedAt == nil {
		t.Error("last_used_at not recorded by key verify")
	}
}

func TestOwnerCommands(t *testing.T) {
	c := newTestCLI(t)

	out := c.mustRun(t, "owner", "list")
	if !strings.Contains(out, "No owners") {
		t.Errorf("empty owner list = %q", out)
	}

	c.mustRun(t, "owner", "add", "--id", "42", "--name", "Ada", "--email", "ada@example.com")
	if _, _, err := c.run(t, "owner", "add", "--id", "42"); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("duplicate owner: err = %v", err)
	}
	if _, _, err := c.run(t, "owner", "add", "--id", "  "); err == nil {
		t.Error("expected error for blank id")
	}

	out = c.mustRun(t, "owner", "list", "--json")
	var owners []model.Owner
	if err := json.Unmarshal([]byte(out), &owners); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(owners) != 1 || owners[0].Email != "ada@example.com" {
		t.Errorf("owners = %+v", owners)
	}
}

func TestOwnersSourceNone(t *testing.T) {
	c := newTestCLI(t)
	t.Setenv("KEYMINT_OWNERS_SOURCE", "none")

	c.mustRun(t, "owner", "add", "--id", "42")
	_, _, err := c.run(t, "key", "generate", "ada-primary", "42")
	if err == nil || err.Error() != "User with id 42 does not exist" {
		t.Errorf("err = %v", err)
	}
	c.mustRun(t, "key", "generate", "unowned")
}

func TestOpenAPICommand(t *testing.T) {
	c := newTestCLI(t)

	out := c.mustRun(t, "openapi", "--base-url", "https://keys.example.com")
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc["openapi"] != "3.1.0" {
		t.Errorf("openapi = %v", doc["openapi"])
	}
	if !strings.Contains(out, "https://keys.example.com") {
		t.Error("base url not advertised")
	}

	path := filepath.Join(t.TempDir(), "openapi.json")
	c.mustRun(t, "openapi", "-o", path)
	if _, err := os.Stat(path); err != nil {
		t.Errorf("output file: %v", err)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	c := newTestCLI(t)
	path := filepath.Join(t.TempDir(), "keymint.yaml")

	c.mustRun(t, "config", "init", "--path", path)
	if _, _, err := c.run(t, "config", "init", "--path", path); err == nil {
		t.Error("expected error when file exists")
	}
	c.mustRun(t, "config", "init", "--path", path, "--force")

	t.Setenv("KEYMINT_AUTH_JWT_SECRET", "super-secret-value")
	out := c.mustRun(t, "--config", path, "config", "show")
	if !strings.Contains(out, "# Config file: "+path) {
		t.Errorf("show output missing config file: %q", out)
	}
	if strings.Contains(out, "super-secret-value") {
		t.Error("config show must redact the jwt secret")
	}
	if !strings.Contains(out, "<redacted>") {
		t.Error("expected redaction marker")
	}
	if !strings.Contains(out, "api_key_header: X-API-Key") {
		t.Errorf("show output = %q", out)
	}
}

func TestConfigShowRejectsInvalid(t *testing.T) {
	c := newTestCLI(t)
	t.Setenv("KEYMINT_STORE_DRIVER", "oracle")
	if _, _, err := c.run(t, "config", "show"); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestToken(t *testing.T) {
	c := newTestCLI(t)
	t.Setenv("KEYMINT_AUTH_JWT_SECRET", "token-test-secret")

	out := c.mustRun(t, "token", "--subject", "ops@example.com", "--ttl", "5m")
	token := strings.TrimSpace(out)

	authSvc := service.NewAuthService(nil, "token-test-secret")
	p, err := authSvc.ValidateJWT(context.Background(), token)
	if err != nil {
		t.Fatalf("ValidateJWT: %v", err)
	}
	if p.Subject != "ops@example.com" {
		t.Errorf("subject = %q", p.Subject)
	}
}

func TestTokenWithoutSecret(t *testing.T) {
	c := newTestCLI(t)
	defer func(f func() bool) { stdinIsTerminal = f }(stdinIsTerminal)
	stdinIsTerminal = func() bool { return false }

	_, _, err := c.run(t, "token")
	if !errors.Is(err, service.ErrNoSigningSecret) {
		t.Errorf("err = %v, want ErrNoSigningSecret", err)
	}
}

func TestVersionJSON(t *testing.T) {
	c := newTestCLI(t)
	out := c.mustRun(t, "version", "--json")
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info["version"] != "test" || info["commit"] != "abc123" {
		t.Errorf("info = %v", info)
	}
}

func TestVersionString(t *testing.T) {
	defer func(v string) { appVersion = v }(appVersion)

	tests := map[string]string{
		"":       "dev",
		"dev":    "dev",
		"1.2.0":  "v1.2.0",
		"v1.2.0": "v1.2.0",
	}
	for in, want := range tests {
		appVersion = in
		if got := versionString(); got != want {
			t.Errorf("versionString(%q) = %q, want %q", in, got, want)
		}
	}
}
