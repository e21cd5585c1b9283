package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/keymint/keymint/internal/model"
)

// CreateOwner adds an owner to the bundled directory. CreatedAt is populated
// after a successful insert.
func (s *Store) CreateOwner(ctx context.Context, owner *model.Owner) error {
	owner.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		s.q("INSERT INTO owners (id, name, email, created_at) VALUES (?, ?, ?, ?)"),
		owner.ID, owner.Name, owner.Email, owner.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert owner: %w", s.dialect.classify(err))
	}
	return nil
}

// GetOwner returns the owner with the given id.
func (s *Store) GetOwner(ctx context.Context, id string) (*model.Owner, error) {
	var owner model.Owner
	err := s.db.GetContext(ctx, &owner, s.q("SELECT id, name, email, created_at FROM owners WHERE id = ?"), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get owner: %w", err)
	}
	return &owner, nil
}

// ListOwners returns every owner in the bundled directory.
func (s *Store) ListOwners(ctx context.Context) ([]model.Owner, error) {
	owners := []model.Owner{}
	if err := s.db.SelectContext(ctx, &owners, "SELECT id, name, email, created_at FROM owners ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	return owners, nil
}
