package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/loom/store"
)

func TestAppendMessageMaintainsCounters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conversation := newTestConversation(t, s)
	ts := NewThreadService(s)

	_, err := ts.AppendMessage(ctx, conversation.ID, store.RoleUser, "hello", nil)
	require.NoError(t, err)
	_, err = ts.AppendMessage(ctx, conversation.ID, store.RoleAssistant, "hi there", nil)
	require.NoError(t, err)

	got, err := s.GetConversation(ctx, &store.FindConversation{ID: &conversation.ID})
	require.NoError(t, err)
	assert.Equal(t, int32(2), got.MessageCount)
	assert.Positive(t, got.TokenCount)
	assert.Positive(t, got.LastMessageTs)
}

func TestAppendMessageEmptyContentRejected(t *testing.T) {
	s := newTestStore(t)
	conversation := newTestConversation(t, s)
	ts := NewThreadService(s)

	_, err := ts.AppendMessage(context.Background(), conversation.ID, store.RoleUser, "", nil)
	assert.ErrorIs(t, err, store.ErrInvalidOperation)
}

func TestListMessagesReverseWindow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conversation := newTestConversation(t, s)
	ts := NewThreadService(s)

	for i := 0; i < 6; i++ {
		_, err := ts.AppendMessage(ctx, conversation.ID, store.RoleUser, fmt.Sprintf("m%d", i), nil)
		require.NoError(t, err)
	}

	// First backward page: the two most recent, re-reversed to chronological.
	window, err := ts.ListMessages(ctx, conversation.ID, true, 2, 0)
	require.NoError(t, err)
	require.Len(t, window.Items, 2)
	assert.Equal(t, "m4", window.Items[0].Content)
	assert.Equal(t, "m5", window.Items[1].Content)
	assert.Equal(t, int64(6), window.Total)
	assert.True(t, window.HasMore)

	// Second page walks further into the past.
	window, err = ts.ListMessages(ctx, conversation.ID, true, 2, 2)
	require.NoError(t, err)
	require.Len(t, window.Items, 2)
	assert.Equal(t, "m2", window.Items[0].Content)
	assert.Equal(t, "m3", window.Items[1].Content)

	// Forward listing stays chronological.
	window, err = ts.ListMessages(ctx, conversation.ID, false, 0, 0)
	require.NoError(t, err)
	require.Len(t, window.Items, 6)
	assert.Equal(t, "m0", window.Items[0].Content)
	assert.False(t, window.HasMore)
}

func TestEditMessageTruncatesTail(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conversation := newTestConversation(t, s)
	ts := NewThreadService(s)

	u1, err := ts.AppendMessage(ctx, conversation.ID, store.RoleUser, "question", nil)
	require.NoError(t, err)
	a1, err := ts.AppendMessage(ctx, conversation.ID, store.RoleAssistant, "answer", nil)
	require.NoError(t, err)
	_, err = ts.AppendMessage(ctx, conversation.ID, store.RoleUser, "follow-up", nil)
	require.NoError(t, err)

	// Artifacts hanging off truncated messages go with them.
	_, err = s.CreateArtifact(ctx, &store.Artifact{
		UID: "art-1", ConversationID: conversation.ID, MessageID: a1.ID,
		Identifier: "x", Type: store.ArtifactTypeCode, CreatedTs: 1, UpdatedTs: 1,
	})
	require.NoError(t, err)

	result, err := ts.EditMessage(ctx, u1.ID, "rephrased question")
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.TruncatedCount)
	assert.Equal(t, "rephrased question", result.Updated.Content)
	assert.NotNil(t, result.Updated.EditedTs)

	remaining, err := s.ListMessages(ctx, &store.FindMessage{ConversationID: &conversation.ID})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, u1.ID, remaining[0].ID)

	artifacts, err := s.ListArtifacts(ctx, &store.FindArtifact{ConversationID: &conversation.ID})
	require.NoError(t, err)
	assert.Empty(t, artifacts)

	got, err := s.GetConversation(ctx, &store.FindConversation{ID: &conversation.ID})
	require.NoError(t, err)
	assert.Equal(t, int32(1), got.MessageCount)
}

func TestEditMessageUnchangedContentIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conversation := newTestConversation(t, s)
	ts := NewThreadService(s)

	u1, err := ts.AppendMessage(ctx, conversation.ID, store.RoleUser, "same", nil)
	require.NoError(t, err)
	_, err = ts.AppendMessage(ctx, conversation.ID, store.RoleAssistant, "reply", nil)
	require.NoError(t, err)

	result, err := ts.EditMessage(ctx, u1.ID, "same")
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.TruncatedCount)
	assert.Nil(t, result.Updated.EditedTs)

	remaining, err := s.ListMessages(ctx, &store.FindMessage{ConversationID: &conversation.ID})
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestEditMessageAssistantRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conversation := newTestConversation(t, s)
	ts := NewThreadService(s)

	a1, err := ts.AppendMessage(ctx, conversation.ID, store.RoleAssistant, "reply", nil)
	require.NoError(t, err)

	_, err = ts.EditMessage(ctx, a1.ID, "rewritten")
	assert.ErrorIs(t, err, store.ErrInvalidOperation)
}

func TestRegenerateTwiceYieldsThreeVariations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conversation := newTestConversation(t, s)
	ts := NewThreadService(s)

	_, err := ts.AppendMessage(ctx, conversation.ID, store.RoleUser, "q", nil)
	require.NoError(t, err)
	original, err := ts.AppendMessage(ctx, conversation.ID, store.RoleAssistant, "a", nil)
	require.NoError(t, err)

	v1, err := ts.Regenerate(ctx, original.ID)
	require.NoError(t, err)
	v2, err := ts.Regenerate(ctx, original.ID)
	require.NoError(t, err)

	require.NotNil(t, v1.VariationGroupID)
	assert.Equal(t, original.ID, *v1.VariationGroupID)
	assert.Equal(t, *v1.VariationGroupID, *v2.VariationGroupID)

	variations, err := ts.ListVariations(ctx, original.ID)
	require.NoError(t, err)
	require.Len(t, variations, 3)
	for i, v := range variations {
		assert.Equal(t, int32(i), v.VariationIndex)
	}
	// The original became index 0 of its own group.
	assert.Equal(t, original.ID, variations[0].ID)
}

func TestRegenerateUserMessageRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conversation := newTestConversation(t, s)
	ts := NewThreadService(s)

	u1, err := ts.AppendMessage(ctx, conversation.ID, store.RoleUser, "q", nil)
	require.NoError(t, err)

	_, err = ts.Regenerate(ctx, u1.ID)
	assert.ErrorIs(t, err, store.ErrInvalidOperation)
}

func TestListVariationsWithoutGroup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conversation := newTestConversation(t, s)
	ts := NewThreadService(s)

	a1, err := ts.AppendMessage(ctx, conversation.ID, store.RoleAssistant, "solo", nil)
	require.NoError(t, err)

	variations, err := ts.ListVariations(ctx, a1.ID)
	require.NoError(t, err)
	require.Len(t, variations, 1)
	assert.Equal(t, a1.ID, variations[0].ID)
}

func TestBranchCopiesPrefixWithConsistentLineage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conversation := newTestConversation(t, s)
	ts := NewThreadService(s)

	u1, err := ts.AppendMessage(ctx, conversation.ID, store.RoleUser, "q1", nil)
	require.NoError(t, err)
	a1builder, err := s.CreateMessage(ctx, &store.Message{
		UID: "a1-uid", ConversationID: conversation.ID, Role: store.RoleAssistant,
		Content: "a1", ParentMessageID: &u1.ID, CreatedTs: u1.CreatedTs + 1,
	})
	require.NoError(t, err)
	_, err = ts.AppendMessage(ctx, conversation.ID, store.RoleUser, "q2", nil)
	require.NoError(t, err)

	_, err = s.CreateArtifact(ctx, &store.Artifact{
		UID: "art-b", ConversationID: conversation.ID, MessageID: a1builder.ID,
		Identifier: "kept", Type: store.ArtifactTypeCode, Content: "x", CreatedTs: 1, UpdatedTs: 1,
	})
	require.NoError(t, err)

	branch, err := ts.Branch(ctx, conversation.ID, a1builder.ID, "my branch")
	require.NoError(t, err)
	assert.Equal(t, "my branch", branch.Title)
	assert.Equal(t, int32(2), branch.MessageCount)

	copied, err := s.ListMessages(ctx, &store.FindMessage{ConversationID: &branch.ID})
	require.NoError(t, err)
	require.Len(t, copied, 2)

	// Parent links point inside the branch, never back at the source.
	ids := map[int64]bool{}
	for _, m := range copied {
		ids[m.ID] = true
	}
	require.NotNil(t, copied[1].ParentMessageID)
	assert.True(t, ids[*copied[1].ParentMessageID])
	assert.NotEqual(t, u1.ID, *copied[1].ParentMessageID)

	// Copied artifacts restart at version 1.
	artifacts, err := s.ListArtifacts(ctx, &store.FindArtifact{ConversationID: &branch.ID})
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, int32(1), artifacts[0].Version)

	// Source untouched.
	sourceMessages, err := s.ListMessages(ctx, &store.FindMessage{ConversationID: &conversation.ID})
	require.NoError(t, err)
	assert.Len(t, sourceMessages, 3)
}

func TestBranchCutoffFromOtherConversationRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	first := newTestConversation(t, s)
	second := newTestConversation(t, s)
	ts := NewThreadService(s)

	msg, err := ts.AppendMessage(ctx, second.ID, store.RoleUser, "elsewhere", nil)
	require.NoError(t, err)

	_, err = ts.Branch(ctx, first.ID, msg.ID, "")
	assert.ErrorIs(t, err, store.ErrInvalidOperation)
}

func TestDuplicateCopiesEverything(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conversation := newTestConversation(t, s)
	ts := NewThreadService(s)

	_, err := ts.AppendMessage(ctx, conversation.ID, store.RoleUser, "q", nil)
	require.NoError(t, err)
	_, err = ts.AppendMessage(ctx, conversation.ID, store.RoleAssistant, "a", nil)
	require.NoError(t, err)

	dup, err := ts.Duplicate(ctx, conversation.ID, "")
	require.NoError(t, err)
	assert.Equal(t, conversation.Title, dup.Title)
	assert.NotEqual(t, conversation.ID, dup.ID)
	assert.Equal(t, int32(2), dup.MessageCount)
}

func TestUpdateMessageAndTruncateIsOneOperation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conversation := newTestConversation(t, s)
	ts := NewThreadService(s)

	first, err := ts.AppendMessage(ctx, conversation.ID, store.RoleUser, "q1", nil)
	require.NoError(t, err)
	_, err = ts.AppendMessage(ctx, conversation.ID, store.RoleAssistant, "a1", nil)
	require.NoError(t, err)

	// A failing update rolls the whole edit back: the tail survives.
	content := "rewritten"
	_, _, err = s.UpdateMessageAndTruncate(ctx, &store.UpdateMessage{
		ID:      first.ID + 100,
		Content: &content,
	}, conversation.ID)
	require.Error(t, err)

	remaining, err := s.ListMessages(ctx, &store.FindMessage{ConversationID: &conversation.ID})
	require.NoError(t, err)
	assert.Len(t, remaining, 2)

	// The successful path applies both halves together.
	updated, truncated, err := s.UpdateMessageAndTruncate(ctx, &store.UpdateMessage{
		ID:      first.ID,
		Content: &content,
	}, conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, "rewritten", updated.Content)
	assert.Equal(t, int64(1), truncated)

	remaining, err = s.ListMessages(ctx, &store.FindMessage{ConversationID: &conversation.ID})
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestDuplicateFlattensLineage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conversation := newTestConversation(t, s)
	ts := NewThreadService(s)

	user, err := ts.AppendMessage(ctx, conversation.ID, store.RoleUser, "q", nil)
	require.NoError(t, err)
	assistant, err := s.CreateMessage(ctx, &store.Message{
		UID:             shortuuid.New(),
		ConversationID:  conversation.ID,
		Role:            store.RoleAssistant,
		Content:         "a",
		ParentMessageID: &user.ID,
		CreatedTs:       time.Now().UnixMilli(),
	})
	require.NoError(t, err)
	_, err = s.UpdateMessage(ctx, &store.UpdateMessage{ID: assistant.ID, VariationGroupID: &assistant.ID})
	require.NoError(t, err)

	dup, err := ts.Duplicate(ctx, conversation.ID, "")
	require.NoError(t, err)

	copied, err := s.ListMessages(ctx, &store.FindMessage{ConversationID: &dup.ID})
	require.NoError(t, err)
	require.Len(t, copied, 2)
	for _, m := range copied {
		assert.Nil(t, m.ParentMessageID)
		assert.Nil(t, m.VariationGroupID)
	}
}
