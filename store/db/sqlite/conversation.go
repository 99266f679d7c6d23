package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/loom/store"
)

func (d *DB) CreateConversation(ctx context.Context, create *store.Conversation) (*store.Conversation, error) {
	settings, err := marshalSettings(create.Settings)
	if err != nil {
		return nil, err
	}

	fields := []string{"uid", "title", "title_source", "model", "project_id", "settings", "pinned", "archived", "row_status", "created_ts", "updated_ts", "last_message_ts"}
	args := []any{create.UID, create.Title, create.TitleSource, create.Model, create.ProjectID, settings, create.Pinned, create.Archived, create.RowStatus, create.CreatedTs, create.UpdatedTs, create.LastMessageTs}

	stmt := `INSERT INTO conversation (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	return create, nil
}

func (d *DB) ListConversations(ctx context.Context, find *store.FindConversation) ([]*store.Conversation, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = ?"), append(args, *find.UID)
	}
	if find.ProjectID != nil {
		where, args = append(where, "project_id = ?"), append(args, *find.ProjectID)
	}
	if find.Pinned != nil {
		where, args = append(where, "pinned = ?"), append(args, *find.Pinned)
	}
	if find.RowStatus != nil {
		where, args = append(where, "row_status = ?"), append(args, *find.RowStatus)
	}

	query := `
		SELECT id, uid, title, title_source, model, project_id, settings,
			message_count, token_count, pinned, archived, row_status,
			created_ts, updated_ts, last_message_ts
		FROM conversation
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY pinned DESC, last_message_ts DESC, updated_ts DESC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}

	return list, nil
}

func (d *DB) UpdateConversation(ctx context.Context, update *store.UpdateConversation) (*store.Conversation, error) {
	set, args := []string{}, []any{}

	if update.Title != nil {
		set, args = append(set, "title = ?"), append(args, *update.Title)
	}
	if update.TitleSource != nil {
		set, args = append(set, "title_source = ?"), append(args, *update.TitleSource)
	}
	if update.Model != nil {
		set, args = append(set, "model = ?"), append(args, *update.Model)
	}
	if update.Settings != nil {
		settings, err := marshalSettings(update.Settings)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "settings = ?"), append(args, settings)
	}
	if update.Pinned != nil {
		set, args = append(set, "pinned = ?"), append(args, *update.Pinned)
	}
	if update.Archived != nil {
		set, args = append(set, "archived = ?"), append(args, *update.Archived)
	}
	if update.RowStatus != nil {
		set, args = append(set, "row_status = ?"), append(args, *update.RowStatus)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = ?"), append(args, *update.UpdatedTs)
	}
	if update.LastMessageTs != nil {
		set, args = append(set, "last_message_ts = ?"), append(args, *update.LastMessageTs)
	}

	if len(set) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `UPDATE conversation SET ` + strings.Join(set, ", ") + ` WHERE id = ?
		RETURNING id, uid, title, title_source, model, project_id, settings,
			message_count, token_count, pinned, archived, row_status,
			created_ts, updated_ts, last_message_ts`
	c, err := scanConversation(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		return nil, err
	}

	return c, nil
}

func (d *DB) DeleteConversation(ctx context.Context, delete *store.DeleteConversation) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM conversation WHERE id = ?`, delete.ID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("conversation %d: %w", delete.ID, store.ErrNotFound)
	}

	return nil
}

// CopyConversation implements branch and duplicate as one transaction.
//
// Messages are copied in id order so the old-id to new-id map is complete
// before any parent link that may reference it; new parent ids therefore
// never point outside the copy. Artifacts restart at version 1: history is
// not carried over, a copy has no past.
func (d *DB) CopyConversation(ctx context.Context, copy *store.CopyConversation) (*store.Conversation, error) {
	var result *store.Conversation
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		source, err := scanConversation(tx.QueryRowContext(ctx, `
			SELECT id, uid, title, title_source, model, project_id, settings,
				message_count, token_count, pinned, archived, row_status,
				created_ts, updated_ts, last_message_ts
			FROM conversation WHERE id = ?`, copy.SourceID))
		if err != nil {
			return err
		}

		now := nowUnixMilli()
		title := copy.Title
		if title == "" {
			title = source.Title
		}
		settings, err := marshalSettings(source.Settings)
		if err != nil {
			return err
		}

		target := &store.Conversation{
			UID:         shortuuid.New(),
			Title:       title,
			TitleSource: source.TitleSource,
			Model:       source.Model,
			ProjectID:   source.ProjectID,
			Settings:    source.Settings,
			RowStatus:   store.Normal,
			CreatedTs:   now,
			UpdatedTs:   now,
		}
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO conversation (uid, title, title_source, model, project_id, settings, pinned, archived, row_status, created_ts, updated_ts, last_message_ts)
			VALUES (`+placeholders(12)+`) RETURNING id`,
			target.UID, target.Title, target.TitleSource, target.Model, target.ProjectID, settings,
			false, false, target.RowStatus, now, now, source.LastMessageTs,
		).Scan(&target.ID); err != nil {
			return fmt.Errorf("failed to create conversation copy: %w", err)
		}

		msgWhere, msgArgs := "conversation_id = ?", []any{copy.SourceID}
		if copy.CutoffMessageID != nil {
			msgWhere += " AND id <= ?"
			msgArgs = append(msgArgs, *copy.CutoffMessageID)
		}
		rows, err := tx.QueryContext(ctx, `
			SELECT id, uid, role, content, attachments, token_count, finish_reason,
				parent_message_id, variation_group_id, variation_index, edited_ts, created_ts
			FROM message WHERE `+msgWhere+` ORDER BY id ASC`, msgArgs...)
		if err != nil {
			return fmt.Errorf("failed to list source messages: %w", err)
		}
		defer rows.Close()

		type sourceMessage struct {
			msg   store.Message
			oldID int64
		}
		sources := []sourceMessage{}
		for rows.Next() {
			var sm sourceMessage
			var attachments string
			if err := rows.Scan(&sm.oldID, &sm.msg.UID, &sm.msg.Role, &sm.msg.Content, &attachments,
				&sm.msg.TokenCount, &sm.msg.FinishReason, &sm.msg.ParentMessageID,
				&sm.msg.VariationGroupID, &sm.msg.VariationIndex, &sm.msg.EditedTs, &sm.msg.CreatedTs); err != nil {
				return fmt.Errorf("failed to scan source message: %w", err)
			}
			sm.msg.Attachments = unmarshalAttachments(attachments)
			sources = append(sources, sm)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to iterate source messages: %w", err)
		}

		idMap := make(map[int64]int64, len(sources))
		var messageCount, tokenCount int32
		for _, sm := range sources {
			var parentID, groupID *int64
			if copy.PreserveLineage {
				if sm.msg.ParentMessageID != nil {
					if mapped, ok := idMap[*sm.msg.ParentMessageID]; ok {
						parentID = &mapped
					}
				}
				if sm.msg.VariationGroupID != nil {
					if mapped, ok := idMap[*sm.msg.VariationGroupID]; ok {
						groupID = &mapped
					}
				}
			}
			attachments, err := marshalAttachments(sm.msg.Attachments)
			if err != nil {
				return err
			}
			var newID int64
			if err := tx.QueryRowContext(ctx, `
				INSERT INTO message (uid, conversation_id, role, content, attachments, token_count, finish_reason, parent_message_id, variation_group_id, variation_index, edited_ts, created_ts)
				VALUES (`+placeholders(12)+`) RETURNING id`,
				shortuuid.New(), target.ID, sm.msg.Role, sm.msg.Content, attachments, sm.msg.TokenCount,
				sm.msg.FinishReason, parentID, groupID, sm.msg.VariationIndex, sm.msg.EditedTs, sm.msg.CreatedTs,
			).Scan(&newID); err != nil {
				return fmt.Errorf("failed to copy message: %w", err)
			}
			idMap[sm.oldID] = newID
			messageCount++
			tokenCount += sm.msg.TokenCount
		}

		artWhere, artArgs := "conversation_id = ?", []any{copy.SourceID}
		if copy.CutoffMessageID != nil {
			artWhere += " AND message_id <= ?"
			artArgs = append(artArgs, *copy.CutoffMessageID)
		}
		artRows, err := tx.QueryContext(ctx, `
			SELECT message_id, identifier, type, language, title, content, created_ts
			FROM artifact WHERE `+artWhere+` ORDER BY id ASC`, artArgs...)
		if err != nil {
			return fmt.Errorf("failed to list source artifacts: %w", err)
		}
		defer artRows.Close()

		type sourceArtifact struct {
			artifact     store.Artifact
			oldMessageID int64
		}
		artifacts := []sourceArtifact{}
		for artRows.Next() {
			var sa sourceArtifact
			if err := artRows.Scan(&sa.oldMessageID, &sa.artifact.Identifier, &sa.artifact.Type,
				&sa.artifact.Language, &sa.artifact.Title, &sa.artifact.Content, &sa.artifact.CreatedTs); err != nil {
				return fmt.Errorf("failed to scan source artifact: %w", err)
			}
			artifacts = append(artifacts, sa)
		}
		if err := artRows.Err(); err != nil {
			return fmt.Errorf("failed to iterate source artifacts: %w", err)
		}

		for _, sa := range artifacts {
			newMessageID, ok := idMap[sa.oldMessageID]
			if !ok {
				// Artifact's message fell after the cutoff.
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO artifact (uid, conversation_id, message_id, identifier, type, language, title, content, version, created_ts, updated_ts)
				VALUES (`+placeholders(11)+`)`,
				shortuuid.New(), target.ID, newMessageID, sa.artifact.Identifier, sa.artifact.Type,
				sa.artifact.Language, sa.artifact.Title, sa.artifact.Content, 1, sa.artifact.CreatedTs, now,
			); err != nil {
				return fmt.Errorf("failed to copy artifact: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE conversation SET message_count = ?, token_count = ? WHERE id = ?`,
			messageCount, tokenCount, target.ID); err != nil {
			return fmt.Errorf("failed to update copy counters: %w", err)
		}
		target.MessageCount = messageCount
		target.TokenCount = tokenCount
		target.LastMessageTs = source.LastMessageTs
		result = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*store.Conversation, error) {
	c := &store.Conversation{}
	var settings string
	if err := row.Scan(&c.ID, &c.UID, &c.Title, &c.TitleSource, &c.Model, &c.ProjectID, &settings,
		&c.MessageCount, &c.TokenCount, &c.Pinned, &c.Archived, &c.RowStatus,
		&c.CreatedTs, &c.UpdatedTs, &c.LastMessageTs); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("conversation: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	if settings != "" && settings != "{}" {
		c.Settings = &store.ConversationSettings{}
		if err := json.Unmarshal([]byte(settings), c.Settings); err != nil {
			// A malformed blob is ignored rather than failing the read.
			c.Settings = nil
		}
	}
	return c, nil
}

func marshalSettings(settings *store.ConversationSettings) (string, error) {
	if settings == nil {
		return "{}", nil
	}
	buf, err := json.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settings: %w", err)
	}
	return string(buf), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
