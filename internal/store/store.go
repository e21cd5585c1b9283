// Package store persists API keys and the bundled owner directory. It is the
// final authority on key uniqueness: names and secret hashes are UNIQUE, and
// an index restricted to active rows allows at most one active key per owner.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/keymint/keymint/internal/model"
)

// Options selects and tunes the backing database.
type Options struct {
	Driver          string // sqlite, postgres, mysql, sqlserver
	DSN             string
	DataDir         string // sqlite only; empty means in-memory
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store manages API key records backed by one of the supported SQL engines.
type Store struct {
	db      *sqlx.DB
	dialect dialect
}

// NewStore opens a SQLite store under dataDir. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	return Open(context.Background(), Options{Driver: "sqlite", DataDir: dataDir})
}

// Open connects to the configured database and applies migrations.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Driver == "" {
		opts.Driver = "sqlite"
	}
	d, err := lookupDialect(opts.Driver)
	if err != nil {
		return nil, err
	}

	dsn, err := dataSourceName(d, opts)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.ConnectContext(ctx, d.sqlxDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", d.name, err)
	}

	if d.name == "sqlite" {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
	} else {
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
	}

	s := &Store{db: db, dialect: d}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s store: %w", d.name, err)
	}
	return s, nil
}

func dataSourceName(d dialect, opts Options) (string, error) {
	switch d.name {
	case "sqlite":
		if opts.DSN != "" {
			return opts.DSN, nil
		}
		if opts.DataDir == "" {
			return ":memory:?_journal_mode=WAL", nil
		}
		if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
			return "", fmt.Errorf("create data dir: %w", err)
		}
		return filepath.Join(opts.DataDir, "keymint.db") + "?_journal_mode=WAL&_busy_timeout=5000", nil
	case "mysql":
		// Timestamps must scan into time.Time.
		cfg, err := mysql.ParseDSN(opts.DSN)
		if err != nil {
			return "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		return cfg.FormatDSN(), nil
	default:
		if opts.DSN == "" {
			return "", fmt.Errorf("%s store requires a dsn", d.name)
		}
		return opts.DSN, nil
	}
}

// newWithDB wraps an existing connection without migrating it.
func newWithDB(db *sqlx.DB, driver string) (*Store, error) {
	d, err := lookupDialect(driver)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, dialect: d}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the configured driver name.
func (s *Store) Driver() string {
	return s.dialect.name
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// keyColumns is spelled out because the MySQL schema carries a generated
// column that model.APIKey does not map.
const keyColumns = "id, name, secret_hash, secret_prefix, owner_id, active, created_at, deactivated_at, last_used_at"

// NameExists reports whether any key, active or not, has the given name.
func (s *Store) NameExists(ctx context.Context, name string) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, s.q("SELECT COUNT(*) FROM api_keys WHERE name = ?"), name); err != nil {
		return false, fmt.Errorf("check key name: %w", err)
	}
	return count > 0, nil
}

// HasActiveKey reports whether ownerID already holds an active key.
func (s *Store) HasActiveKey(ctx context.Context, ownerID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		s.q("SELECT COUNT(*) FROM api_keys WHERE owner_id = ? AND active = ?"), ownerID, true)
	if err != nil {
		return false, fmt.Errorf("check active key: %w", err)
	}
	return count > 0, nil
}

// Insert persists a new key. The ID and CreatedAt fields are populated after
// a successful insert. Uniqueness violations are reported as ErrDuplicate or
// ErrActiveOwnerConflict.
func (s *Store) Insert(ctx context.Context, key *model.APIKey) error {
	key.CreatedAt = time.Now().UTC()
	args := []interface{}{key.Name, key.SecretHash, key.SecretPrefix, key.OwnerID, key.Active, key.CreatedAt}
	query := s.q(s.dialect.insertKey)

	if s.dialect.returnsID {
		var id int64
		if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
			return fmt.Errorf("insert api key: %w", s.dialect.classify(err))
		}
		key.ID = id
		return nil
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert api key: %w", s.dialect.classify(err))
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get api key id: %w", err)
	}
	key.ID = id
	return nil
}

// GetByName returns the key with the given name.
func (s *Store) GetByName(ctx context.Context, name string) (*model.APIKey, error) {
	var key model.APIKey
	err := s.db.GetContext(ctx, &key, s.q("SELECT "+keyColumns+" FROM api_keys WHERE name = ?"), name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by name: %w", err)
	}
	return &key, nil
}

// GetBySecretHash looks up a key by the SHA-256 hash of its secret.
func (s *Store) GetBySecretHash(ctx context.Context, hash string) (*model.APIKey, error) {
	var key model.APIKey
	err := s.db.GetContext(ctx, &key, s.q("SELECT "+keyColumns+" FROM api_keys WHERE secret_hash = ?"), hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return &key, nil
}

// List returns all keys, newest first.
func (s *Store) List(ctx context.Context) ([]model.APIKey, error) {
	keys := []model.APIKey{}
	err := s.db.SelectContext(ctx, &keys,
		"SELECT "+keyColumns+" FROM api_keys ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// ListByOwner returns every key bound to ownerID, newest first.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]model.APIKey, error) {
	keys := []model.APIKey{}
	err := s.db.SelectContext(ctx, &keys,
		s.q("SELECT "+keyColumns+" FROM api_keys WHERE owner_id = ? ORDER BY created_at DESC, id DESC"), ownerID)
	if err != nil {
		return nil, fmt.Errorf("list api keys by owner: %w", err)
	}
	return keys, nil
}

// Deactivate marks the active key with the given name as inactive.
func (s *Store) Deactivate(ctx context.Context, name string) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE api_keys SET active = ?, deactivated_at = ? WHERE name = ? AND active = ?"),
		false, now, name, true)
	if err != nil {
		return fmt.Errorf("deactivate api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastUsed sets the last_used_at timestamp for a key.
func (s *Store) TouchLastUsed(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, s.q("UPDATE api_keys SET last_used_at = ? WHERE id = ?"), now, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update api key last used rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
