package model

import "time"

// Owner is an entity from the user directory that an API key may be bound to.
// keymint never owns these records; the bundled store-backed directory only
// exists for deployments without an external one.
type Owner struct {
	ID        string    `json:"id" db:"id" yaml:"id"`
	Name      string    `json:"name" db:"name" yaml:"name"`
	Email     string    `json:"email" db:"email" yaml:"email"`
	CreatedAt time.Time `json:"created_at" db:"created_at" yaml:"-"`
}
