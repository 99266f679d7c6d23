package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/hrygo/loom/internal/profile"
	"github.com/hrygo/loom/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database named by the profile DSN.
//
// Connection settings:
//   - Foreign keys ON: the schema relies on cascade deletes for
//     conversation -> message -> artifact -> artifact_version.
//   - Journal mode WAL: prevents locking issues for concurrent readers.
//   - busy_timeout: tolerate short write contention instead of failing.
//
// Note: with the `modernc.org/sqlite` driver, each pragma must be prefixed
// with `_pragma=`.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// A single connection is optimal for SQLite with WAL; it also keeps the
	// in-memory DSN usable in tests (every connection would otherwise get its
	// own empty database).
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

// Migrate creates the schema when it does not exist yet.
//
// Primary keys are AUTOINCREMENT so row ids are strictly monotonic with
// creation time; branch/duplicate cutoffs depend on that invariant.
var migrationStmts = []string{
	`CREATE TABLE IF NOT EXISTS conversation (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uid TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL DEFAULT '',
		title_source TEXT NOT NULL DEFAULT 'default',
		model TEXT NOT NULL DEFAULT '',
		project_id INTEGER,
		settings TEXT NOT NULL DEFAULT '{}',
		message_count INTEGER NOT NULL DEFAULT 0,
		token_count INTEGER NOT NULL DEFAULT 0,
		pinned INTEGER NOT NULL DEFAULT 0,
		archived INTEGER NOT NULL DEFAULT 0,
		row_status TEXT NOT NULL DEFAULT 'NORMAL',
		created_ts BIGINT NOT NULL,
		updated_ts BIGINT NOT NULL,
		last_message_ts BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS message (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
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
		id INTEGER PRIMARY KEY AUTOINCREMENT,
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
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		artifact_id BIGINT NOT NULL REFERENCES artifact(id) ON DELETE CASCADE,
		version INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		created_ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_artifact_version_artifact_id ON artifact_version (artifact_id)`,
	`CREATE TABLE IF NOT EXISTS usage_record (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id INTEGER NOT NULL REFERENCES conversation(id) ON DELETE CASCADE,
		message_id BIGINT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cost REAL NOT NULL DEFAULT 0,
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
