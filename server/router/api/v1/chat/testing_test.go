package chat

import (
	"context"
	"testing"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/loom/internal/profile"
	"github.com/hrygo/loom/store"
	"github.com/hrygo/loom/store/db/sqlite"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	p := &profile.Profile{Mode: "prod", Driver: "sqlite", DSN: "file::memory:"}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })

	s := store.New(driver, p)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newTestConversation(t *testing.T, s *store.Store) *store.Conversation {
	t.Helper()

	now := time.Now().UnixMilli()
	conversation, err := s.CreateConversation(context.Background(), &store.Conversation{
		UID:         shortuuid.New(),
		Title:       store.DefaultConversationTitle,
		TitleSource: store.TitleSourceDefault,
		RowStatus:   store.Normal,
		CreatedTs:   now,
		UpdatedTs:   now,
	})
	require.NoError(t, err)
	return conversation
}
