package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/guildsage/guildsage/internal/profile"
	"github.com/guildsage/guildsage/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a PostgreSQL connection with the profile's DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	pgDB, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	pgDB.SetMaxOpenConns(10)
	pgDB.SetMaxIdleConns(5)
	pgDB.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pgDB.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to ping database")
	}

	driver := DB{db: pgDB, profile: profile}

	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate creates the schema when it does not exist yet. The embedding
// column dimension follows the configured embedding model; changing models
// means dropping message_embedding and re-indexing.
func (d *DB) Migrate(ctx context.Context) error {
	dim := d.profile.EmbeddingDimensions
	if dim <= 0 {
		dim = 1536
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS message (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			author TEXT NOT NULL DEFAULT '',
			author_id TEXT NOT NULL DEFAULT '',
			posted_ts BIGINT NOT NULL DEFAULT 0,
			text TEXT NOT NULL DEFAULT '',
			text_hash TEXT NOT NULL DEFAULT '',
			reactions JSONB NOT NULL DEFAULT '{}'::jsonb,
			parent_id TEXT NOT NULL DEFAULT '',
			thread_id TEXT NOT NULL DEFAULT '',
			stale BOOLEAN NOT NULL DEFAULT FALSE,
			updated_ts BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_message_channel_posted ON message (channel_id, posted_ts)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS message_embedding (
			message_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			model TEXT NOT NULL,
			text_hash TEXT NOT NULL DEFAULT '',
			embedding vector(%d) NOT NULL,
			created_ts BIGINT NOT NULL DEFAULT 0,
			updated_ts BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (message_id, model)
		)`, dim),
		`CREATE INDEX IF NOT EXISTS idx_message_embedding_channel ON message_embedding (channel_id)`,
		`CREATE TABLE IF NOT EXISTS channel_state (
			channel_id TEXT PRIMARY KEY,
			guild_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			last_message_id TEXT NOT NULL DEFAULT '',
			last_sync_ts BIGINT NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to migrate schema")
		}
	}
	return nil
}

// placeholder returns the PostgreSQL positional placeholder for index n.
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns "$1, $2, ..., $n".
func placeholders(n int) string {
	list := make([]string, n)
	for i := range list {
		list[i] = placeholder(i + 1)
	}
	return strings.Join(list, ", ")
}
