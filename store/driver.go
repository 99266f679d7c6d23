package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for record store drivers.
//
// Multi-row operations (CreateMessage counter bumps, TruncateMessagesAfter,
// CopyConversation, UpdateArtifactContent, RevertArtifact) must be atomic:
// either fully applied or not applied at all.
type Driver interface {
	GetDB() *sql.DB
	Close() error
	Migrate(ctx context.Context) error

	// Conversation
	CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error)
	ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error)
	UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error)
	DeleteConversation(ctx context.Context, delete *DeleteConversation) error
	// CopyConversation copies a conversation together with its messages and
	// live artifacts, up to an optional cutoff message id.
	CopyConversation(ctx context.Context, copy *CopyConversation) (*Conversation, error)

	// Message
	CreateMessage(ctx context.Context, create *Message) (*Message, error)
	GetMessage(ctx context.Context, id int64) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)
	CountMessages(ctx context.Context, conversationID int32) (int64, error)
	UpdateMessage(ctx context.Context, update *UpdateMessage) (*Message, error)
	// TruncateMessagesAfter deletes every message of the conversation whose id
	// is strictly greater than messageID, with their artifacts, and fixes the
	// conversation counters. Returns the number of deleted messages.
	TruncateMessagesAfter(ctx context.Context, conversationID int32, messageID int64) (int64, error)
	// UpdateMessageAndTruncate applies the update and deletes every later
	// message of the same conversation in one transaction: an edit and the
	// discard of its stale tail land together or not at all. Returns the
	// updated message and the number of deleted messages.
	UpdateMessageAndTruncate(ctx context.Context, update *UpdateMessage, conversationID int32) (*Message, int64, error)
	// MaxVariationIndex returns the highest variation_index in a group, or -1
	// when the group has no members.
	MaxVariationIndex(ctx context.Context, groupID int64) (int32, error)

	// Artifact
	CreateArtifact(ctx context.Context, create *Artifact) (*Artifact, error)
	GetArtifact(ctx context.Context, id int64) (*Artifact, error)
	ListArtifacts(ctx context.Context, find *FindArtifact) ([]*Artifact, error)
	// UpdateArtifactContent snapshots the live row into history, then
	// overwrites content/title and increments version.
	UpdateArtifactContent(ctx context.Context, update *UpdateArtifact) (*Artifact, error)
	// RevertArtifact snapshots the live row, then copies the target version's
	// content/title onto it and increments version: a forward-moving edit.
	RevertArtifact(ctx context.Context, id int64, targetVersion int32, nowTs int64) (*Artifact, error)
	ListArtifactVersions(ctx context.Context, artifactID int64) ([]*ArtifactVersion, error)

	// Usage
	CreateUsageRecord(ctx context.Context, create *UsageRecord) (*UsageRecord, error)
	ListUsageRecords(ctx context.Context, find *FindUsageRecord) ([]*UsageRecord, error)
}
