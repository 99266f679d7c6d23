package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hrygo/loom/store"
)

func (d *DB) CreateArtifact(ctx context.Context, create *store.Artifact) (*store.Artifact, error) {
	if create.Version == 0 {
		create.Version = 1
	}
	if err := d.db.QueryRowContext(ctx, `
		INSERT INTO artifact (uid, conversation_id, message_id, identifier, type, language, title, content, version, created_ts, updated_ts)
		VALUES (`+placeholders(11)+`) RETURNING id`,
		create.UID, create.ConversationID, create.MessageID, create.Identifier, create.Type,
		create.Language, create.Title, create.Content, create.Version, create.CreatedTs, create.UpdatedTs,
	).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create artifact: %w", err)
	}
	return create, nil
}

func (d *DB) GetArtifact(ctx context.Context, id int64) (*store.Artifact, error) {
	return scanArtifact(d.db.QueryRowContext(ctx, `
		SELECT id, uid, conversation_id, message_id, identifier, type, language, title, content, version, created_ts, updated_ts
		FROM artifact WHERE id = ?`, id))
}

func (d *DB) ListArtifacts(ctx context.Context, find *store.FindArtifact) ([]*store.Artifact, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = ?"), append(args, *find.UID)
	}
	if find.ConversationID != nil {
		where, args = append(where, "conversation_id = ?"), append(args, *find.ConversationID)
	}
	if find.MessageID != nil {
		where, args = append(where, "message_id = ?"), append(args, *find.MessageID)
	}
	if find.Identifier != nil {
		where, args = append(where, "identifier = ?"), append(args, *find.Identifier)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, uid, conversation_id, message_id, identifier, type, language, title, content, version, created_ts, updated_ts
		FROM artifact WHERE `+strings.Join(where, " AND ")+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Artifact, 0)
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate artifacts: %w", err)
	}

	return list, nil
}

// UpdateArtifactContent snapshots the live row into artifact_version, then
// overwrites content/title and increments version, all in one transaction.
// The live row always holds the newest content; history holds all strictly
// older ones.
func (d *DB) UpdateArtifactContent(ctx context.Context, update *store.UpdateArtifact) (*store.Artifact, error) {
	var result *store.Artifact
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		current, err := scanArtifact(tx.QueryRowContext(ctx, `
			SELECT id, uid, conversation_id, message_id, identifier, type, language, title, content, version, created_ts, updated_ts
			FROM artifact WHERE id = ?`, update.ID))
		if err != nil {
			return err
		}

		if err := snapshotArtifact(ctx, tx, current); err != nil {
			return err
		}

		result, err = scanArtifact(tx.QueryRowContext(ctx, `
			UPDATE artifact SET content = ?, title = ?, version = version + 1, updated_ts = ?
			WHERE id = ?
			RETURNING id, uid, conversation_id, message_id, identifier, type, language, title, content, version, created_ts, updated_ts`,
			update.Content, update.Title, update.UpdatedTs, update.ID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RevertArtifact is a forward-moving edit: it snapshots the live state, then
// writes the target version's content/title onto the live row and increments
// version. The version number never rewinds.
func (d *DB) RevertArtifact(ctx context.Context, id int64, targetVersion int32, nowTs int64) (*store.Artifact, error) {
	var result *store.Artifact
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		current, err := scanArtifact(tx.QueryRowContext(ctx, `
			SELECT id, uid, conversation_id, message_id, identifier, type, language, title, content, version, created_ts, updated_ts
			FROM artifact WHERE id = ?`, id))
		if err != nil {
			return err
		}

		var targetTitle, targetContent string
		if err := tx.QueryRowContext(ctx, `
			SELECT title, content FROM artifact_version
			WHERE artifact_id = ? AND version = ?`, id, targetVersion,
		).Scan(&targetTitle, &targetContent); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("artifact version %d: %w", targetVersion, store.ErrNotFound)
			}
			return fmt.Errorf("failed to load artifact version: %w", err)
		}

		if err := snapshotArtifact(ctx, tx, current); err != nil {
			return err
		}

		result, err = scanArtifact(tx.QueryRowContext(ctx, `
			UPDATE artifact SET content = ?, title = ?, version = version + 1, updated_ts = ?
			WHERE id = ?
			RETURNING id, uid, conversation_id, message_id, identifier, type, language, title, content, version, created_ts, updated_ts`,
			targetContent, targetTitle, nowTs, id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListArtifactVersions returns history entries newest first. The live row is
// not included; the service layer synthesizes its pseudo-entry.
func (d *DB) ListArtifactVersions(ctx context.Context, artifactID int64) ([]*store.ArtifactVersion, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, artifact_id, version, title, content, created_ts
		FROM artifact_version WHERE artifact_id = ? ORDER BY version DESC`, artifactID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifact versions: %w", err)
	}
	defer rows.Close()

	list := make([]*store.ArtifactVersion, 0)
	for rows.Next() {
		v := &store.ArtifactVersion{}
		if err := rows.Scan(&v.ID, &v.ArtifactID, &v.Version, &v.Title, &v.Content, &v.CreatedTs); err != nil {
			return nil, fmt.Errorf("failed to scan artifact version: %w", err)
		}
		list = append(list, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate artifact versions: %w", err)
	}

	return list, nil
}

// snapshotArtifact appends the artifact's current state to history. The
// snapshot carries the artifact's prior updated_ts as its creation time.
func snapshotArtifact(ctx context.Context, tx *sql.Tx, current *store.Artifact) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO artifact_version (artifact_id, version, title, content, created_ts)
		VALUES (?, ?, ?, ?, ?)`,
		current.ID, current.Version, current.Title, current.Content, current.UpdatedTs); err != nil {
		return fmt.Errorf("failed to snapshot artifact: %w", err)
	}
	return nil
}

func scanArtifact(row rowScanner) (*store.Artifact, error) {
	a := &store.Artifact{}
	if err := row.Scan(&a.ID, &a.UID, &a.ConversationID, &a.MessageID, &a.Identifier, &a.Type,
		&a.Language, &a.Title, &a.Content, &a.Version, &a.CreatedTs, &a.UpdatedTs); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("artifact: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan artifact: %w", err)
	}
	return a, nil
}
