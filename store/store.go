package store

import (
	"context"

	"github.com/hrygo/loom/internal/profile"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error) {
	return s.driver.CreateConversation(ctx, create)
}

func (s *Store) ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error) {
	return s.driver.ListConversations(ctx, find)
}

// GetConversation returns the single conversation matched by find, or
// ErrNotFound.
func (s *Store) GetConversation(ctx context.Context, find *FindConversation) (*Conversation, error) {
	list, err := s.driver.ListConversations(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

func (s *Store) UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error) {
	return s.driver.UpdateConversation(ctx, update)
}

func (s *Store) DeleteConversation(ctx context.Context, delete *DeleteConversation) error {
	return s.driver.DeleteConversation(ctx, delete)
}

func (s *Store) CopyConversation(ctx context.Context, copy *CopyConversation) (*Conversation, error) {
	return s.driver.CopyConversation(ctx, copy)
}

func (s *Store) CreateMessage(ctx context.Context, create *Message) (*Message, error) {
	return s.driver.CreateMessage(ctx, create)
}

func (s *Store) GetMessage(ctx context.Context, id int64) (*Message, error) {
	return s.driver.GetMessage(ctx, id)
}

func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	return s.driver.ListMessages(ctx, find)
}

func (s *Store) CountMessages(ctx context.Context, conversationID int32) (int64, error) {
	return s.driver.CountMessages(ctx, conversationID)
}

func (s *Store) UpdateMessage(ctx context.Context, update *UpdateMessage) (*Message, error) {
	return s.driver.UpdateMessage(ctx, update)
}

func (s *Store) UpdateMessageAndTruncate(ctx context.Context, update *UpdateMessage, conversationID int32) (*Message, int64, error) {
	return s.driver.UpdateMessageAndTruncate(ctx, update, conversationID)
}

func (s *Store) TruncateMessagesAfter(ctx context.Context, conversationID int32, messageID int64) (int64, error) {
	return s.driver.TruncateMessagesAfter(ctx, conversationID, messageID)
}

func (s *Store) MaxVariationIndex(ctx context.Context, groupID int64) (int32, error) {
	return s.driver.MaxVariationIndex(ctx, groupID)
}

func (s *Store) CreateArtifact(ctx context.Context, create *Artifact) (*Artifact, error) {
	return s.driver.CreateArtifact(ctx, create)
}

func (s *Store) GetArtifact(ctx context.Context, id int64) (*Artifact, error) {
	return s.driver.GetArtifact(ctx, id)
}

func (s *Store) ListArtifacts(ctx context.Context, find *FindArtifact) ([]*Artifact, error) {
	return s.driver.ListArtifacts(ctx, find)
}

func (s *Store) UpdateArtifactContent(ctx context.Context, update *UpdateArtifact) (*Artifact, error) {
	return s.driver.UpdateArtifactContent(ctx, update)
}

func (s *Store) RevertArtifact(ctx context.Context, id int64, targetVersion int32, nowTs int64) (*Artifact, error) {
	return s.driver.RevertArtifact(ctx, id, targetVersion, nowTs)
}

func (s *Store) ListArtifactVersions(ctx context.Context, artifactID int64) ([]*ArtifactVersion, error) {
	return s.driver.ListArtifactVersions(ctx, artifactID)
}

func (s *Store) CreateUsageRecord(ctx context.Context, create *UsageRecord) (*UsageRecord, error) {
	return s.driver.CreateUsageRecord(ctx, create)
}

func (s *Store) ListUsageRecords(ctx context.Context, find *FindUsageRecord) ([]*UsageRecord, error) {
	return s.driver.ListUsageRecords(ctx, find)
}
