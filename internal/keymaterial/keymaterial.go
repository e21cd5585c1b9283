// Package keymaterial generates API key secrets and derives their storable
// representation. Secrets are 256 bits from crypto/rand, encoded with
// unpadded URL-safe base64 and prefixed so they are recognizable in configs.
package keymaterial

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
)

const (
	// SecretPrefix marks every secret issued by keymint.
	SecretPrefix = "km_"

	// EntropyBytes is the number of random bytes in a secret.
	EntropyBytes = 32

	// DisplayPrefixLength is the number of leading characters kept for
	// identifying a key in listings.
	DisplayPrefixLength = 12
)

// Secret is a plaintext API key secret. Its String and LogValue methods
// redact the value so it cannot leak through fmt or slog by accident; call
// Reveal to get the raw string.
type Secret struct {
	raw string
}

// Generate returns a new random secret.
func Generate() (Secret, error) {
	b := make([]byte, EntropyBytes)
	if _, err := rand.Read(b); err != nil {
		return Secret{}, fmt.Errorf("generate random key: %w", err)
	}
	return Secret{raw: SecretPrefix + base64.RawURLEncoding.EncodeToString(b)}, nil
}

// Reveal returns the plaintext secret.
func (s Secret) Reveal() string {
	return s.raw
}

// Hash returns the storable representation of the secret.
func (s Secret) Hash() string {
	return Hash(s.raw)
}

// Prefix returns the display prefix of the secret.
func (s Secret) Prefix() string {
	return Prefix(s.raw)
}

// String implements fmt.Stringer with a redacted form.
func (s Secret) String() string {
	if s.raw == "" {
		return ""
	}
	return s.Prefix() + "…"
}

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// Hash returns the hex-encoded SHA-256 hash of a raw secret string.
func Hash(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}

// Prefix returns the first DisplayPrefixLength characters of a secret.
func Prefix(secret string) string {
	if len(secret) <= DisplayPrefixLength {
		return secret
	}
	return secret[:DisplayPrefixLength]
}
