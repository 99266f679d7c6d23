package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/hrygo/loom/store"
)

func (d *DB) CreateUsageRecord(ctx context.Context, create *store.UsageRecord) (*store.UsageRecord, error) {
	if err := d.db.QueryRowContext(ctx, `
		INSERT INTO usage_record (conversation_id, message_id, model, input_tokens, output_tokens, cost, created_ts)
		VALUES (`+placeholders(7)+`) RETURNING id`,
		create.ConversationID, create.MessageID, create.Model,
		create.InputTokens, create.OutputTokens, create.Cost, create.CreatedTs,
	).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create usage record: %w", err)
	}
	return create, nil
}

func (d *DB) ListUsageRecords(ctx context.Context, find *store.FindUsageRecord) ([]*store.UsageRecord, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ConversationID != nil {
		where, args = append(where, "conversation_id = "+placeholder(len(args)+1)), append(args, *find.ConversationID)
	}
	if find.MessageID != nil {
		where, args = append(where, "message_id = "+placeholder(len(args)+1)), append(args, *find.MessageID)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, conversation_id, message_id, model, input_tokens, output_tokens, cost, created_ts
		FROM usage_record WHERE `+strings.Join(where, " AND ")+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	defer rows.Close()

	list := make([]*store.UsageRecord, 0)
	for rows.Next() {
		u := &store.UsageRecord{}
		if err := rows.Scan(&u.ID, &u.ConversationID, &u.MessageID, &u.Model,
			&u.InputTokens, &u.OutputTokens, &u.Cost, &u.CreatedTs); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		list = append(list, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate usage records: %w", err)
	}

	return list, nil
}
