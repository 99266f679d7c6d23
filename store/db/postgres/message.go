package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hrygo/loom/store"
)

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

// CreateMessage inserts a message and bumps the owning conversation's
// counters in the same transaction.
func (d *DB) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	attachments, err := marshalAttachments(create.Attachments)
	if err != nil {
		return nil, err
	}

	err = d.inTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO message (uid, conversation_id, role, content, attachments, token_count, finish_reason, parent_message_id, variation_group_id, variation_index, edited_ts, created_ts)
			VALUES (`+placeholders(12)+`) RETURNING id`,
			create.UID, create.ConversationID, create.Role, create.Content, attachments,
			create.TokenCount, create.FinishReason, create.ParentMessageID,
			create.VariationGroupID, create.VariationIndex, create.EditedTs, create.CreatedTs,
		).Scan(&create.ID); err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE conversation
			SET message_count = message_count + 1,
				token_count = token_count + $1,
				updated_ts = $2,
				last_message_ts = $3
			WHERE id = $4`,
			create.TokenCount, create.CreatedTs, create.CreatedTs, create.ConversationID)
		if err != nil {
			return fmt.Errorf("failed to bump conversation counters: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return fmt.Errorf("conversation %d: %w", create.ConversationID, store.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return create, nil
}

func (d *DB) GetMessage(ctx context.Context, id int64) (*store.Message, error) {
	m, err := scanMessage(d.db.QueryRowContext(ctx, `
		SELECT id, uid, conversation_id, role, content, attachments, token_count, finish_reason,
			parent_message_id, variation_group_id, variation_index, edited_ts, created_ts
		FROM message WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *find.UID)
	}
	if find.ConversationID != nil {
		where, args = append(where, "conversation_id = "+placeholder(len(args)+1)), append(args, *find.ConversationID)
	}
	if find.Role != nil {
		where, args = append(where, "role = "+placeholder(len(args)+1)), append(args, *find.Role)
	}
	if find.VariationGroupID != nil {
		where, args = append(where, "variation_group_id = "+placeholder(len(args)+1)), append(args, *find.VariationGroupID)
	}

	order := "ASC"
	if find.Direction == store.Descending {
		order = "DESC"
	}
	query := `
		SELECT id, uid, conversation_id, role, content, attachments, token_count, finish_reason,
			parent_message_id, variation_group_id, variation_index, edited_ts, created_ts
		FROM message
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id ` + order
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
		if find.Offset != nil {
			query += fmt.Sprintf(" OFFSET %d", *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return list, nil
}

func (d *DB) CountMessages(ctx context.Context, conversationID int32) (int64, error) {
	var count int64
	if err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM message WHERE conversation_id = $1`, conversationID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// dbtx is the query surface shared by *sql.DB and *sql.Tx, so single-row
// statements can run standalone or inside a larger transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (d *DB) UpdateMessage(ctx context.Context, update *store.UpdateMessage) (*store.Message, error) {
	return updateMessage(ctx, d.db, update)
}

func updateMessage(ctx context.Context, q dbtx, update *store.UpdateMessage) (*store.Message, error) {
	set, args := []string{}, []any{}

	if update.Content != nil {
		set, args = append(set, "content = "+placeholder(len(args)+1)), append(args, *update.Content)
	}
	if update.FinishReason != nil {
		set, args = append(set, "finish_reason = "+placeholder(len(args)+1)), append(args, *update.FinishReason)
	}
	if update.TokenCount != nil {
		set, args = append(set, "token_count = "+placeholder(len(args)+1)), append(args, *update.TokenCount)
	}
	if update.VariationGroupID != nil {
		set, args = append(set, "variation_group_id = "+placeholder(len(args)+1)), append(args, *update.VariationGroupID)
	}
	if update.VariationIndex != nil {
		set, args = append(set, "variation_index = "+placeholder(len(args)+1)), append(args, *update.VariationIndex)
	}
	if update.EditedTs != nil {
		set, args = append(set, "edited_ts = "+placeholder(len(args)+1)), append(args, *update.EditedTs)
	}

	if len(set) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `UPDATE message SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)) + `
		RETURNING id, uid, conversation_id, role, content, attachments, token_count, finish_reason,
			parent_message_id, variation_group_id, variation_index, edited_ts, created_ts`
	m, err := scanMessage(q.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// UpdateMessageAndTruncate rewrites a message and deletes everything after
// it in one transaction, so a failed truncation never leaves the rewritten
// content with its stale tail attached.
func (d *DB) UpdateMessageAndTruncate(ctx context.Context, update *store.UpdateMessage, conversationID int32) (*store.Message, int64, error) {
	var updated *store.Message
	var deleted int64
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		m, err := updateMessage(ctx, tx, update)
		if err != nil {
			return err
		}
		updated = m
		deleted, err = truncateMessagesAfter(ctx, tx, conversationID, update.ID)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return updated, deleted, nil
}

// TruncateMessagesAfter deletes every message of the conversation with id
// strictly greater than messageID and fixes the conversation counters.
// Artifacts (and their history) go with their messages via cascade.
func (d *DB) TruncateMessagesAfter(ctx context.Context, conversationID int32, messageID int64) (int64, error) {
	var deleted int64
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		n, err := truncateMessagesAfter(ctx, tx, conversationID, messageID)
		deleted = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func truncateMessagesAfter(ctx context.Context, tx *sql.Tx, conversationID int32, messageID int64) (int64, error) {
	var count int64
	var tokens sql.NullInt64
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(token_count), 0) FROM message
		WHERE conversation_id = $1 AND id > $2`, conversationID, messageID,
	).Scan(&count, &tokens); err != nil {
		return 0, fmt.Errorf("failed to count truncated messages: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM message WHERE conversation_id = $1 AND id > $2`,
		conversationID, messageID); err != nil {
		return 0, fmt.Errorf("failed to truncate messages: %w", err)
	}

	now := nowUnixMilli()
	if _, err := tx.ExecContext(ctx, `
		UPDATE conversation
		SET message_count = message_count - $1,
			token_count = GREATEST(token_count - $2, 0),
			updated_ts = $3
		WHERE id = $4`,
		count, tokens.Int64, now, conversationID); err != nil {
		return 0, fmt.Errorf("failed to fix conversation counters: %w", err)
	}
	return count, nil
}

func (d *DB) MaxVariationIndex(ctx context.Context, groupID int64) (int32, error) {
	var index sql.NullInt64
	if err := d.db.QueryRowContext(ctx,
		`SELECT MAX(variation_index) FROM message WHERE variation_group_id = $1`, groupID,
	).Scan(&index); err != nil {
		return 0, fmt.Errorf("failed to query max variation index: %w", err)
	}
	if !index.Valid {
		return -1, nil
	}
	return int32(index.Int64), nil
}

func scanMessage(row rowScanner) (*store.Message, error) {
	m := &store.Message{}
	var attachments string
	if err := row.Scan(&m.ID, &m.UID, &m.ConversationID, &m.Role, &m.Content, &attachments,
		&m.TokenCount, &m.FinishReason, &m.ParentMessageID, &m.VariationGroupID,
		&m.VariationIndex, &m.EditedTs, &m.CreatedTs); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("message: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	m.Attachments = unmarshalAttachments(attachments)
	return m, nil
}

func marshalAttachments(attachments []store.Attachment) (string, error) {
	if len(attachments) == 0 {
		return "[]", nil
	}
	buf, err := json.Marshal(attachments)
	if err != nil {
		return "", fmt.Errorf("failed to marshal attachments: %w", err)
	}
	return string(buf), nil
}

func unmarshalAttachments(raw string) []store.Attachment {
	if raw == "" || raw == "[]" {
		return nil
	}
	var attachments []store.Attachment
	if err := json.Unmarshal([]byte(raw), &attachments); err != nil {
		return nil
	}
	return attachments
}
