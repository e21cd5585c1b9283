package store

import (
	"context"
	"fmt"
	"strings"
)

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT UNIQUE NOT NULL,
		secret_hash TEXT UNIQUE NOT NULL,
		secret_prefix TEXT NOT NULL,
		owner_id TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		deactivated_at DATETIME,
		last_used_at DATETIME
	)`,

	`CREATE INDEX IF NOT EXISTS idx_api_keys_owner ON api_keys(owner_id)`,

	// At most one active key per owner. Unowned keys are exempt.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_api_keys_active_owner
		ON api_keys(owner_id) WHERE active = 1 AND owner_id IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS owners (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(254) UNIQUE NOT NULL,
		secret_hash CHAR(64) UNIQUE NOT NULL,
		secret_prefix VARCHAR(32) NOT NULL,
		owner_id VARCHAR(255),
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		deactivated_at TIMESTAMPTZ,
		last_used_at TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS idx_api_keys_owner ON api_keys(owner_id)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS idx_api_keys_active_owner
		ON api_keys(owner_id) WHERE active`,

	`CREATE TABLE IF NOT EXISTS owners (
		id VARCHAR(255) PRIMARY KEY,
		name VARCHAR(255) NOT NULL DEFAULT '',
		email VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// MySQL has no partial indexes. The generated column is NULL for inactive
// keys, and NULLs never collide in a UNIQUE index.
var mysqlMigrations = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(254) NOT NULL,
		secret_hash CHAR(64) NOT NULL,
		secret_prefix VARCHAR(32) NOT NULL,
		owner_id VARCHAR(255) NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		active_owner_id VARCHAR(255) AS (IF(active, owner_id, NULL)) STORED,
		created_at DATETIME(6) NOT NULL,
		deactivated_at DATETIME(6) NULL,
		last_used_at DATETIME(6) NULL,
		UNIQUE KEY idx_api_keys_name (name),
		UNIQUE KEY idx_api_keys_secret_hash (secret_hash),
		KEY idx_api_keys_owner (owner_id),
		UNIQUE KEY idx_api_keys_active_owner (active_owner_id)
	)`,

	`CREATE TABLE IF NOT EXISTS owners (
		id VARCHAR(255) PRIMARY KEY,
		name VARCHAR(255) NOT NULL DEFAULT '',
		email VARCHAR(255) NOT NULL DEFAULT '',
		created_at DATETIME(6) NOT NULL
	)`,
}

var sqlserverMigrations = []string{
	`IF OBJECT_ID(N'api_keys', N'U') IS NULL
	CREATE TABLE api_keys (
		id BIGINT IDENTITY(1,1) PRIMARY KEY,
		name NVARCHAR(254) NOT NULL CONSTRAINT uq_api_keys_name UNIQUE,
		secret_hash CHAR(64) NOT NULL CONSTRAINT uq_api_keys_secret_hash UNIQUE,
		secret_prefix NVARCHAR(32) NOT NULL,
		owner_id NVARCHAR(255) NULL,
		active BIT NOT NULL DEFAULT 1,
		created_at DATETIME2 NOT NULL,
		deactivated_at DATETIME2 NULL,
		last_used_at DATETIME2 NULL
	)`,

	`IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = 'idx_api_keys_owner')
	CREATE INDEX idx_api_keys_owner ON api_keys(owner_id)`,

	`IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = 'idx_api_keys_active_owner')
	CREATE UNIQUE INDEX idx_api_keys_active_owner ON api_keys(owner_id)
		WHERE active = 1 AND owner_id IS NOT NULL`,

	`IF OBJECT_ID(N'owners', N'U') IS NULL
	CREATE TABLE owners (
		id NVARCHAR(255) PRIMARY KEY,
		name NVARCHAR(255) NOT NULL DEFAULT '',
		email NVARCHAR(255) NOT NULL DEFAULT '',
		created_at DATETIME2 NOT NULL
	)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, m := range s.dialect.migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			// Re-running against an already migrated database may report
			// existing objects on engines without IF NOT EXISTS forms.
			if isAlreadyExists(err) {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

func isAlreadyExists(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}
