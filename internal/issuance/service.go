// Package issuance is the API key issuance and validation core. Service
// validates names, runs the advisory uniqueness and active-key pre-checks,
// generates the secret and persists the record. The store's constraints are
// the final authority; races that slip past the pre-checks come back as
// typed conflicts rather than a second active key.
package issuance

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/keymint/keymint/internal/keymaterial"
	"github.com/keymint/keymint/internal/model"
	"github.com/keymint/keymint/internal/store"
	"github.com/keymint/keymint/internal/telemetry"
)

// KeyStore is the persistence the service needs. *store.Store satisfies it.
type KeyStore interface {
	NameExists(ctx context.Context, name string) (bool, error)
	HasActiveKey(ctx context.Context, ownerID string) (bool, error)
	Insert(ctx context.Context, key *model.APIKey) error
	GetByName(ctx context.Context, name string) (*model.APIKey, error)
	GetBySecretHash(ctx context.Context, hash string) (*model.APIKey, error)
	List(ctx context.Context) ([]model.APIKey, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.APIKey, error)
	Deactivate(ctx context.Context, name string) error
	TouchLastUsed(ctx context.Context, id int64) error
}

// OwnerResolver looks owners up in the external user directory.
type OwnerResolver interface {
	ResolveOwner(ctx context.Context, id string) (*model.Owner, bool, error)
}

// Service issues and validates API keys. It holds no per-call state and is
// safe for concurrent use.
type Service struct {
	store    KeyStore
	owners   OwnerResolver
	logger   *slog.Logger
	generate func() (keymaterial.Secret, error)

	// touches tracks in-flight last-used updates started by Verify.
	touches sync.WaitGroup
}

// New creates a Service. A nil logger falls back to slog.Default().
func New(keys KeyStore, owners OwnerResolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    keys,
		owners:   owners,
		logger:   logger,
		generate: keymaterial.Generate,
	}
}

// Issue creates a new active key called name, bound to ownerID when it is
// non-nil. The returned IssuedKey carries the plaintext secret; it is not
// recoverable afterwards.
func (s *Service) Issue(ctx context.Context, name string, ownerID *string) (*model.IssuedKey, error) {
	start := time.Now()
	issued, err := s.issue(ctx, name, ownerID)
	telemetry.IssuanceDuration.Observe(time.Since(start).Seconds())
	telemetry.IssuanceTotal.WithLabelValues(outcome(err)).Inc()

	owner := ""
	if ownerID != nil {
		owner = *ownerID
	}
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, ErrStorage) {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "api key issuance failed",
			"name", name, "owner_id", owner, "kind", outcome(err), "error", err)
		return nil, err
	}
	s.logger.Info("api key issued",
		"id", issued.ID, "name", issued.Name, "owner_id", owner, "prefix", issued.SecretPrefix)
	return issued, nil
}

func (s *Service) issue(ctx context.Context, name string, ownerID *string) (*model.IssuedKey, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	taken, err := s.store.NameExists(ctx, name)
	if err != nil {
		return nil, &Error{Kind: ErrStorage, Name: name, Err: err}
	}
	if taken {
		return nil, &Error{Kind: ErrNameTaken, Name: name}
	}

	if ownerID != nil {
		id := *ownerID
		if id == "" {
			return nil, &Error{Kind: ErrOwnerNotFound, Name: name}
		}
		_, found, err := s.owners.ResolveOwner(ctx, id)
		if err != nil {
			return nil, &Error{Kind: ErrStorage, Name: name, OwnerID: id, Err: err}
		}
		if !found {
			return nil, &Error{Kind: ErrOwnerNotFound, Name: name, OwnerID: id}
		}

		active, err := s.store.HasActiveKey(ctx, id)
		if err != nil {
			return nil, &Error{Kind: ErrStorage, Name: name, OwnerID: id, Err: err}
		}
		if active {
			return nil, &Error{Kind: ErrOwnerHasActiveKey, Name: name, OwnerID: id}
		}
	}

	secret, err := s.generate()
	if err != nil {
		return nil, &Error{Kind: ErrStorage, Name: name, Err: err}
	}

	key := &model.APIKey{
		Name:         name,
		SecretHash:   secret.Hash(),
		SecretPrefix: secret.Prefix(),
		OwnerID:      ownerID,
		Active:       true,
	}
	if err := s.store.Insert(ctx, key); err != nil {
		return nil, insertError(key, err)
	}

	return &model.IssuedKey{APIKey: *key, Secret: secret.Reveal()}, nil
}

func insertError(key *model.APIKey, err error) error {
	e := &Error{Name: key.Name, Err: err}
	if key.OwnerID != nil {
		e.OwnerID = *key.OwnerID
	}
	switch {
	case errors.Is(err, store.ErrActiveOwnerConflict):
		e.Kind = ErrOwnerHasActiveKey
	case errors.Is(err, store.ErrDuplicate):
		e.Kind = ErrDuplicateKey
	default:
		e.Kind = ErrStorage
	}
	return e
}

// Deactivate marks the active key called name as inactive, freeing its
// owner to be issued a new key.
func (s *Service) Deactivate(ctx context.Context, name string) error {
	if err := s.store.Deactivate(ctx, name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Error{Kind: ErrKeyNotFound, Name: name}
		}
		return &Error{Kind: ErrStorage, Name: name, Err: err}
	}
	s.logger.Info("api key deactivated", "name", name)
	return nil
}

// Get returns the key called name.
func (s *Service) Get(ctx context.Context, name string) (*model.APIKey, error) {
	key, err := s.store.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &Error{Kind: ErrKeyNotFound, Name: name}
		}
		return nil, &Error{Kind: ErrStorage, Name: name, Err: err}
	}
	return key, nil
}

// List returns all keys, or only those bound to ownerID when it is non-nil.
func (s *Service) List(ctx context.Context, ownerID *string) ([]model.APIKey, error) {
	var (
		keys []model.APIKey
		err  error
	)
	if ownerID != nil {
		keys, err = s.store.ListByOwner(ctx, *ownerID)
	} else {
		keys, err = s.store.List(ctx)
	}
	if err != nil {
		return nil, &Error{Kind: ErrStorage, Err: err}
	}
	return keys, nil
}

// Verify checks a presented secret and returns the key it belongs to.
func (s *Service) Verify(ctx context.Context, secret string) (*model.APIKey, error) {
	if secret == "" {
		return nil, &Error{Kind: ErrInvalidSecret}
	}

	key, err := s.store.GetBySecretHash(ctx, keymaterial.Hash(secret))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			telemetry.VerificationTotal.WithLabelValues("invalid").Inc()
			return nil, &Error{Kind: ErrInvalidSecret}
		}
		return nil, &Error{Kind: ErrStorage, Err: err}
	}
	if !key.Active {
		telemetry.VerificationTotal.WithLabelValues("inactive").Inc()
		return nil, &Error{Kind: ErrKeyInactive, Name: key.Name}
	}
	telemetry.VerificationTotal.WithLabelValues("valid").Inc()

	id := key.ID
	s.touches.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := s.store.TouchLastUsed(ctx, id); err != nil {
			s.logger.Debug("failed to record key use", "id", id, "error", err)
		}
	})

	return key, nil
}

// touchTimeout bounds a single last-used update, and so also bounds Wait.
const touchTimeout = 5 * time.Second

// Wait blocks until every last-used update started by Verify has finished.
// Call it before closing the store.
func (s *Service) Wait() {
	s.touches.Wait()
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if k := Kind(err); k != nil {
		return k.Error()
	}
	return "unknown"
}
