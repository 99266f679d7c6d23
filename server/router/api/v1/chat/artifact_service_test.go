package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/loom/store"
)

func newTestArtifact(t *testing.T, s *store.Store) *store.Artifact {
	t.Helper()
	ctx := context.Background()
	conversation := newTestConversation(t, s)

	msg, err := s.CreateMessage(ctx, &store.Message{
		UID: "m-uid", ConversationID: conversation.ID, Role: store.RoleAssistant,
		Content: "a", CreatedTs: 1,
	})
	require.NoError(t, err)

	artifact, err := s.CreateArtifact(ctx, &store.Artifact{
		UID: "a-uid", ConversationID: conversation.ID, MessageID: msg.ID,
		Identifier: "demo", Type: store.ArtifactTypeCode, Language: "go",
		Title: "v1 title", Content: "v1 content", CreatedTs: 1, UpdatedTs: 1,
	})
	require.NoError(t, err)
	return artifact
}

func TestArtifactUpdateKeepsHistoryInvariant(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	as := NewArtifactService(s)
	artifact := newTestArtifact(t, s)

	updated, err := as.Update(ctx, artifact.ID, "v2 content", "v2 title")
	require.NoError(t, err)
	assert.Equal(t, int32(2), updated.Version)
	assert.Equal(t, "v2 content", updated.Content)

	updated, err = as.Update(ctx, artifact.ID, "v3 content", "v3 title")
	require.NoError(t, err)
	assert.Equal(t, int32(3), updated.Version)

	// history.length == version - 1, live head synthesized with is_current.
	versions, err := as.ListVersions(ctx, artifact.ID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.True(t, versions[0].IsCurrent)
	assert.Equal(t, int32(3), versions[0].Version)
	assert.Equal(t, int32(2), versions[1].Version)
	assert.False(t, versions[1].IsCurrent)
	assert.Equal(t, int32(1), versions[2].Version)
	assert.Equal(t, "v1 content", versions[2].Content)
}

func TestArtifactUpdateNotFound(t *testing.T) {
	s := newTestStore(t)
	as := NewArtifactService(s)

	_, err := as.Update(context.Background(), 9999, "c", "t")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestArtifactRevertIsForwardMoving(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	as := NewArtifactService(s)
	artifact := newTestArtifact(t, s)

	_, err := as.Update(ctx, artifact.ID, "v2 content", "v2 title")
	require.NoError(t, err)
	_, err = as.Update(ctx, artifact.ID, "v3 content", "v3 title")
	require.NoError(t, err)

	// Reverting to v1 produces v4 carrying v1's content.
	reverted, err := as.Revert(ctx, artifact.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(4), reverted.Version)
	assert.Equal(t, "v1 content", reverted.Content)
	assert.Equal(t, "v1 title", reverted.Title)

	// Reverting again increments the version but keeps the content:
	// idempotent on content, not on version number.
	reverted, err = as.Revert(ctx, artifact.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(5), reverted.Version)
	assert.Equal(t, "v1 content", reverted.Content)

	versions, err := as.ListVersions(ctx, artifact.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 5)
}

func TestArtifactRevertMissingVersion(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	as := NewArtifactService(s)
	artifact := newTestArtifact(t, s)

	_, err := as.Revert(ctx, artifact.ID, 7)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
