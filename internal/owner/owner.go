// Package owner resolves key owners against the external user directory.
package owner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keymint/keymint/internal/model"
	"github.com/keymint/keymint/internal/store"
)

// Resolver looks up an owner by id. found is false, with a nil error, when
// the directory has no such owner.
type Resolver interface {
	ResolveOwner(ctx context.Context, id string) (owner *model.Owner, found bool, err error)
}

// Sources accepted by the owners.source setting.
const (
	SourceStore = "store"
	SourceFile  = "file"
	SourceHTTP  = "http"
	SourceNone  = "none"
)

// StoreResolver reads owners from the key store's owners table.
type StoreResolver struct {
	store *store.Store
}

// NewStoreResolver creates a StoreResolver over s.
func NewStoreResolver(s *store.Store) *StoreResolver {
	return &StoreResolver{store: s}
}

func (r *StoreResolver) ResolveOwner(ctx context.Context, id string) (*model.Owner, bool, error) {
	o, err := r.store.GetOwner(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("resolve owner %s: %w", id, err)
	}
	return o, true, nil
}

// NoneResolver is used when no owner directory is configured. Every lookup
// reports the owner as missing, so only unowned keys can be issued.
type NoneResolver struct{}

func (NoneResolver) ResolveOwner(context.Context, string) (*model.Owner, bool, error) {
	return nil, false, nil
}

// Options selects and configures a Resolver.
type Options struct {
	Source  string
	File    string
	BaseURL string
	Token   string
	Timeout time.Duration
}

// New builds the Resolver named by opts.Source. s backs the store source.
func New(opts Options, s *store.Store) (Resolver, error) {
	switch opts.Source {
	case SourceStore, "":
		if s == nil {
			return nil, fmt.Errorf("owner source %q requires a store", SourceStore)
		}
		return NewStoreResolver(s), nil
	case SourceFile:
		return LoadFile(opts.File)
	case SourceHTTP:
		if opts.BaseURL == "" {
			return nil, fmt.Errorf("owner source %q requires a base url", SourceHTTP)
		}
		return NewHTTPResolver(opts.BaseURL, opts.Token, opts.Timeout), nil
	case SourceNone:
		return NoneResolver{}, nil
	default:
		return nil, fmt.Errorf("unknown owner source %q", opts.Source)
	}
}
