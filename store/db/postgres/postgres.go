package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"

	"github.com/hrygo/loom/internal/profile"
	"github.com/hrygo/loom/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the PostgreSQL database named by the profile DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	postgresDB, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	driver := DB{db: postgresDB, profile: profile}

	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate creates the schema when it does not exist yet.
//
// Primary keys are BIGSERIAL/SERIAL so row ids are monotonic with creation
// time; branch/duplicate cutoffs depend on that invariant.
var migrationStmts = []string{
	`CREATE TABLE IF NOT EXISTS conversation (
		id SERIAL PRIMARY KEY,
		uid TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL DEFAULT '',
		title_source TEXT NOT NULL DEFAULT 'default',
		model TEXT NOT NULL DEFAULT '',
		project_id INTEGER,
		settings TEXT NOT NULL DEFAULT '{}',
		message_count INTEGER NOT NULL DEFAULT 0,
		token_count INTEGER NOT NULL DEFAULT 0,
		pinned BOOLEAN NOT NULL DEFAULT FALSE,
		archived BOOLEAN NOT NULL DEFAULT FALSE,
		row_status TEXT NOT NULL DEFAULT 'NORMAL',
		created_ts BIGINT NOT NULL,
		updated_ts BIGINT NOT NULL,
		last_message_ts BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS message (
		id BIGSERIAL PRIMARY KEY,
		uid TEXT NOT NULL UNIQUE,
		conversation_id INTEGER NOT NULL REFERENCES conversation(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		attachments TEXT NOT NULL DEFAULT '[]',
		token_count INTEGER NOT NULL DEFAULT 0,
		finish_reason TEXT NOT NULL DEFAULT '',
		parent_message_id BIGINT,
		variation_group_id BIGINT,
		variation_index INTEGER NOT NULL DEFAULT 0,
		edited_ts BIGINT,
		created_ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_message_conversation_id ON message (conversation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_message_variation_group_id ON message (variation_group_id)`,
	`CREATE TABLE IF NOT EXISTS artifact (
		id BIGSERIAL PRIMARY KEY,
		uid TEXT NOT NULL UNIQUE,
		conversation_id INTEGER NOT NULL REFERENCES conversation(id) ON DELETE CASCADE,
		message_id BIGINT NOT NULL REFERENCES message(id) ON DELETE CASCADE,
		identifier TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT 'code',
		language TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		created_ts BIGINT NOT NULL,
		updated_ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_artifact_conversation_id ON artifact (conversation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_artifact_message_id ON artifact (message_id)`,
	`CREATE TABLE IF NOT EXISTS artifact_version (
		id BIGSERIAL PRIMARY KEY,
		artifact_id BIGINT NOT NULL REFERENCES artifact(id) ON DELETE CASCADE,
		version INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		created_ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_artifact_version_artifact_id ON artifact_version (artifact_id)`,
	`CREATE TABLE IF NOT EXISTS usage_record (
		id BIGSERIAL PRIMARY KEY,
		conversation_id INTEGER NOT NULL REFERENCES conversation(id) ON DELETE CASCADE,
		message_id BIGINT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cost DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_record_conversation_id ON usage_record (conversation_id)`,
}

func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range migrationStmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to run migration statement")
		}
	}
	return nil
}

// inTx runs fn inside a transaction, rolling back on error.
func (d *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func placeholders(n int) string {
	list := []string{}
	for i := 1; i <= n; i++ {
		list = append(list, placeholder(i))
	}
	return strings.Join(list, ", ")
}
