package model

import "time"

// APIKey is a persisted API key record. The plaintext secret is never stored;
// only its SHA-256 hash and a short prefix for identification are persisted.
type APIKey struct {
	ID            int64      `json:"id" db:"id"`
	Name          string     `json:"name" db:"name"`
	SecretHash    string     `json:"-" db:"secret_hash"`                 // SHA-256 hash, never expose
	SecretPrefix  string     `json:"secret_prefix" db:"secret_prefix"` // First 12 chars for identification
	OwnerID       *string    `json:"owner_id,omitempty" db:"owner_id"` // nil for unowned/system keys
	Active        bool       `json:"active" db:"active"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty" db:"deactivated_at"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}

// IssuedKey is the result of a successful issuance. It is the only place the
// plaintext secret ever appears, and it is handed back to the caller once.
type IssuedKey struct {
	APIKey
	Secret string `json:"secret"`
}

// Owned reports whether the key is bound to an owner.
func (k *APIKey) Owned() bool {
	return k.OwnerID != nil
}
