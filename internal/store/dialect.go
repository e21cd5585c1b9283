package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	mssql "github.com/microsoft/go-mssqldb"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// activeOwnerIndex is the unique index that allows at most one active key per
// owner. Every dialect creates it under this name so violations can be told
// apart from name/secret collisions.
const activeOwnerIndex = "idx_api_keys_active_owner"

// dialect captures everything that differs between the supported databases:
// the sqlx driver name, the schema, how an insert reports its generated id,
// and how a unique violation is recognized.
type dialect struct {
	name       string // config-facing driver name
	sqlxDriver string // database/sql driver name
	migrations []string
	// insertKey is the api_keys insert in "?" bindvars. When returnsID is
	// set it yields the new id as a single-row result; otherwise the id is
	// read from LastInsertId.
	insertKey string
	returnsID bool
	// uniqueViolation reports whether err is a unique constraint violation
	// and, if so, whether it hit the active-owner index.
	uniqueViolation func(err error) (unique bool, activeOwner bool)
}

const insertColumns = "name, secret_hash, secret_prefix, owner_id, active, created_at"

var dialects = map[string]dialect{
	"sqlite": {
		name:       "sqlite",
		sqlxDriver: "sqlite",
		migrations: sqliteMigrations,
		insertKey:  "INSERT INTO api_keys (" + insertColumns + ") VALUES (?, ?, ?, ?, ?, ?)",
		uniqueViolation: func(err error) (bool, bool) {
			var se *sqlite.Error
			unique := false
			if errors.As(err, &se) {
				unique = se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
			}
			if !unique && !strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return false, false
			}
			// SQLite names the indexed columns rather than the index.
			return true, strings.Contains(err.Error(), "api_keys.owner_id")
		},
	},
	"postgres": {
		name:       "postgres",
		sqlxDriver: "pgx",
		migrations: postgresMigrations,
		insertKey:  "INSERT INTO api_keys (" + insertColumns + ") VALUES (?, ?, ?, ?, ?, ?) RETURNING id",
		returnsID:  true,
		uniqueViolation: func(err error) (bool, bool) {
			var pgErr *pgconn.PgError
			if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
				return false, false
			}
			return true, pgErr.ConstraintName == activeOwnerIndex
		},
	},
	"mysql": {
		name:       "mysql",
		sqlxDriver: "mysql",
		migrations: mysqlMigrations,
		insertKey:  "INSERT INTO api_keys (" + insertColumns + ") VALUES (?, ?, ?, ?, ?, ?)",
		uniqueViolation: func(err error) (bool, bool) {
			var myErr *mysql.MySQLError
			if !errors.As(err, &myErr) || myErr.Number != 1062 {
				return false, false
			}
			return true, strings.Contains(myErr.Message, activeOwnerIndex)
		},
	},
	"sqlserver": {
		name:       "sqlserver",
		sqlxDriver: "sqlserver",
		migrations: sqlserverMigrations,
		insertKey:  "INSERT INTO api_keys (" + insertColumns + ") OUTPUT INSERTED.id VALUES (?, ?, ?, ?, ?, ?)",
		returnsID:  true,
		uniqueViolation: func(err error) (bool, bool) {
			var msErr mssql.Error
			if !errors.As(err, &msErr) {
				return false, false
			}
			// 2601: duplicate row in unique index, 2627: unique constraint.
			if msErr.Number != 2601 && msErr.Number != 2627 {
				return false, false
			}
			return true, strings.Contains(msErr.Message, activeOwnerIndex)
		},
	},
}

// lookupDialect returns the dialect registered for driver.
func lookupDialect(driver string) (dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported driver: %s (available: %v)", driver, Drivers())
	}
	return d, nil
}

// Drivers returns the names of all supported store drivers, sorted.
func Drivers() []string {
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// classify maps a driver error onto the store sentinels, keeping the cause
// in the chain.
func (d dialect) classify(err error) error {
	if err == nil {
		return nil
	}
	unique, activeOwner := d.uniqueViolation(err)
	switch {
	case unique && activeOwner:
		return fmt.Errorf("%w: %w", ErrActiveOwnerConflict, err)
	case unique:
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	default:
		return err
	}
}
