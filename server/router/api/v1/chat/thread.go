package chat

import (
	"context"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/loom/store"
)

// ThreadService owns message ordering and lineage within a conversation:
// append, windowed listing, edit-with-truncation, regeneration variations,
// and branch/duplicate copies.
type ThreadService struct {
	store *store.Store
}

// NewThreadService creates a thread service over the given store.
func NewThreadService(s *store.Store) *ThreadService {
	return &ThreadService{store: s}
}

// MessageWindow is one page of a conversation's message sequence.
type MessageWindow struct {
	Items   []*store.Message
	Total   int64
	HasMore bool
}

// AppendMessage inserts a message at the end of the conversation's
// creation-time order. The owning conversation's counters and timestamps
// move with it.
func (ts *ThreadService) AppendMessage(ctx context.Context, conversationID int32, role store.Role, content string, attachments []store.Attachment) (*store.Message, error) {
	if content == "" && len(attachments) == 0 {
		return nil, errors.Wrap(store.ErrInvalidOperation, "message content required")
	}

	return ts.store.CreateMessage(ctx, &store.Message{
		UID:            shortuuid.New(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Attachments:    attachments,
		TokenCount:     estimateTokens(content),
		CreatedTs:      time.Now().UnixMilli(),
	})
}

// ListMessages returns a window of the conversation's messages. With
// reverse=true the window counts from the most recent message backward,
// but the returned items are re-reversed to chronological order so the
// presentation stays stable while pagination walks into the past.
func (ts *ThreadService) ListMessages(ctx context.Context, conversationID int32, reverse bool, limit, offset int32) (*MessageWindow, error) {
	total, err := ts.store.CountMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	find := &store.FindMessage{ConversationID: &conversationID}
	if limit > 0 {
		l := int(limit)
		find.Limit = &l
		if offset > 0 {
			o := int(offset)
			find.Offset = &o
		}
	}
	if reverse {
		find.Direction = store.Descending
	}

	items, err := ts.store.ListMessages(ctx, find)
	if err != nil {
		return nil, err
	}
	if reverse {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}

	return &MessageWindow{
		Items:   items,
		Total:   total,
		HasMore: int64(offset)+int64(len(items)) < total,
	}, nil
}

// EditResult reports an edit and the size of the discarded tail.
type EditResult struct {
	Updated        *store.Message
	TruncatedCount int64
}

// EditMessage rewrites a user message's content and deletes every message
// after it in the conversation: the timeline past the edit point is about
// to be regenerated, so it is discarded rather than kept as a variation.
// Editing with unchanged content is a no-op.
func (ts *ThreadService) EditMessage(ctx context.Context, messageID int64, newContent string) (*EditResult, error) {
	msg, err := ts.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Role != store.RoleUser {
		return nil, errors.Wrap(store.ErrInvalidOperation, "only user messages can be edited")
	}
	if newContent == "" {
		return nil, errors.Wrap(store.ErrInvalidOperation, "message content required")
	}
	if msg.Content == newContent {
		return &EditResult{Updated: msg}, nil
	}

	now := time.Now().UnixMilli()
	tokenCount := estimateTokens(newContent)
	updated, truncated, err := ts.store.UpdateMessageAndTruncate(ctx, &store.UpdateMessage{
		ID:         messageID,
		Content:    &newContent,
		TokenCount: &tokenCount,
		EditedTs:   &now,
	}, msg.ConversationID)
	if err != nil {
		return nil, err
	}

	return &EditResult{Updated: updated, TruncatedCount: truncated}, nil
}

// Regenerate prepares a new variation slot for an assistant message. The
// original is never deleted: if it has no variation group yet, a group is
// created anchored at its own id with the original as index 0. The new
// message takes the next-highest-plus-one index, the same parent link, and
// empty content for the caller to stream into.
func (ts *ThreadService) Regenerate(ctx context.Context, messageID int64) (*store.Message, error) {
	_, slot, err := ts.PrepareVariation(ctx, messageID)
	if err != nil {
		return nil, err
	}
	slot.UID = shortuuid.New()
	slot.CreatedTs = time.Now().UnixMilli()

	return ts.store.CreateMessage(ctx, slot)
}

// PrepareVariation performs the group bookkeeping for a regeneration
// without persisting the new message. It returns the original message and
// an unsaved slot carrying the group id, the next index, and the same
// parent link; the caller fills in content and creates the row, which for
// streaming happens only after the turn completes.
func (ts *ThreadService) PrepareVariation(ctx context.Context, messageID int64) (*store.Message, *store.Message, error) {
	msg, err := ts.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	if msg.Role != store.RoleAssistant {
		return nil, nil, errors.Wrap(store.ErrInvalidOperation, "only assistant messages can be regenerated")
	}

	groupID := messageID
	if msg.VariationGroupID != nil {
		groupID = *msg.VariationGroupID
	} else {
		zero := int32(0)
		if _, err := ts.store.UpdateMessage(ctx, &store.UpdateMessage{
			ID:               messageID,
			VariationGroupID: &groupID,
			VariationIndex:   &zero,
		}); err != nil {
			return nil, nil, err
		}
	}

	maxIndex, err := ts.store.MaxVariationIndex(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}

	return msg, &store.Message{
		ConversationID:   msg.ConversationID,
		Role:             store.RoleAssistant,
		ParentMessageID:  msg.ParentMessageID,
		VariationGroupID: &groupID,
		VariationIndex:   maxIndex + 1,
	}, nil
}

// ListVariations returns all members of the message's variation group
// ordered by index. A message that was never regenerated is its own
// single-member group.
func (ts *ThreadService) ListVariations(ctx context.Context, messageID int64) ([]*store.Message, error) {
	msg, err := ts.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	if msg.VariationGroupID == nil {
		return []*store.Message{msg}, nil
	}

	members, err := ts.store.ListMessages(ctx, &store.FindMessage{
		VariationGroupID: msg.VariationGroupID,
	})
	if err != nil {
		return nil, err
	}

	// Stored in id order; present in index order.
	for i := 1; i < len(members); i++ {
		for j := i; j > 0 && members[j-1].VariationIndex > members[j].VariationIndex; j-- {
			members[j-1], members[j] = members[j], members[j-1]
		}
	}
	return members, nil
}

// Branch creates a new conversation seeded from the source's history up to
// and including the cutoff message. The source is untouched.
func (ts *ThreadService) Branch(ctx context.Context, conversationID int32, atMessageID int64, newTitle string) (*store.Conversation, error) {
	msg, err := ts.store.GetMessage(ctx, atMessageID)
	if err != nil {
		return nil, err
	}
	if msg.ConversationID != conversationID {
		return nil, errors.Wrap(store.ErrInvalidOperation, "cutoff message belongs to another conversation")
	}

	return ts.store.CopyConversation(ctx, &store.CopyConversation{
		SourceID:        conversationID,
		Title:           newTitle,
		CutoffMessageID: &atMessageID,
		PreserveLineage: true,
	})
}

// Duplicate copies the whole conversation, history and artifacts included.
// Parent and variation links are not carried over: the copy is a flat
// transcript starting its own lineage.
func (ts *ThreadService) Duplicate(ctx context.Context, conversationID int32, newTitle string) (*store.Conversation, error) {
	return ts.store.CopyConversation(ctx, &store.CopyConversation{
		SourceID: conversationID,
		Title:    newTitle,
	})
}

// estimateTokens approximates a token count for text the model has not
// priced for us. Four characters per token is close enough for counters.
func estimateTokens(content string) int32 {
	if content == "" {
		return 0
	}
	return int32(len(content)/4 + 1)
}
