package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/guildsage/guildsage/internal/profile"
	"github.com/guildsage/guildsage/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database at the profile's DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	// Ensure a DSN is set before attempting to open the database.
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// Connect to the database with some sane settings:
	// - No shared-cache: it's obsolete; WAL journal mode is a better solution.
	// - No foreign key constraints: it's currently disabled by default, but it's a
	// good practice to be explicit and prevent future surprises on SQLite upgrades.
	// - Journal mode set to WAL: it's the recommended journal mode for most applications
	// as it prevents locking issues.
	//
	// Notes:
	// - When using the `modernc.org/sqlite` driver, each pragma must be prefixed with `_pragma=`.
	//
	// References:
	// - https://pkg.go.dev/modernc.org/sqlite#Driver.Open
	// - https://www.sqlite.org/sharedcache.html
	// - https://www.sqlite.org/pragma.html
	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// SQLite handles concurrency differently; a single connection is optimal
	// with WAL and sidesteps SQLITE_BUSY under concurrent channel ingestion.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	driver := DB{db: sqliteDB, profile: profile}

	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate creates the schema when it does not exist yet. The embedding table
// is derived data: dropping it only forces re-embedding on the next sync.
func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS message (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			author TEXT NOT NULL DEFAULT '',
			author_id TEXT NOT NULL DEFAULT '',
			posted_ts INTEGER NOT NULL DEFAULT 0,
			text TEXT NOT NULL DEFAULT '',
			text_hash TEXT NOT NULL DEFAULT '',
			reactions TEXT NOT NULL DEFAULT '{}',
			parent_id TEXT NOT NULL DEFAULT '',
			thread_id TEXT NOT NULL DEFAULT '',
			stale INTEGER NOT NULL DEFAULT 0,
			updated_ts INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_message_channel_posted ON message (channel_id, posted_ts)`,
		`CREATE TABLE IF NOT EXISTS message_embedding (
			message_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			model TEXT NOT NULL,
			text_hash TEXT NOT NULL DEFAULT '',
			embedding BLOB NOT NULL,
			created_ts INTEGER NOT NULL DEFAULT 0,
			updated_ts INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (message_id, model)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_message_embedding_channel ON message_embedding (channel_id)`,
		`CREATE TABLE IF NOT EXISTS channel_state (
			channel_id TEXT PRIMARY KEY,
			guild_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			last_message_id TEXT NOT NULL DEFAULT '',
			last_sync_ts INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to migrate schema")
		}
	}
	return nil
}
