package store

// TitleSource indicates how the conversation title was created.
// - "default": system default ("New Conversation")
// - "auto": generated from the first exchange by the auxiliary model
// - "user": user-provided title (manual edit)
type TitleSource string

const (
	TitleSourceDefault TitleSource = "default"
	TitleSourceAuto    TitleSource = "auto"
	TitleSourceUser    TitleSource = "user"
)

// DefaultConversationTitle is the title a conversation starts with until the
// first exchange generates one.
const DefaultConversationTitle = "New Conversation"

// ConversationSettings is the free-form per-conversation settings blob.
// A non-nil SystemPrompt overrides every other prompt source.
type ConversationSettings struct {
	SystemPrompt *string  `json:"system_prompt,omitempty"`
	Temperature  *float32 `json:"temperature,omitempty"`
	TopP         *float32 `json:"top_p,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
	Reasoning    bool     `json:"reasoning,omitempty"`
}

type Conversation struct {
	UID           string
	Title         string
	TitleSource   TitleSource
	Model         string
	Settings      *ConversationSettings
	RowStatus     RowStatus
	ProjectID     *int32
	ID            int32
	MessageCount  int32
	TokenCount    int32
	Pinned        bool
	Archived      bool
	CreatedTs     int64
	UpdatedTs     int64
	LastMessageTs int64
}

type FindConversation struct {
	ID        *int32
	UID       *string
	ProjectID *int32
	Pinned    *bool
	RowStatus *RowStatus
}

// UpdateConversation carries a partial update: only non-nil fields are
// written. Never build per-field SQL outside the driver.
type UpdateConversation struct {
	Title         *string
	TitleSource   *TitleSource
	Model         *string
	Settings      *ConversationSettings
	Pinned        *bool
	Archived      *bool
	RowStatus     *RowStatus
	UpdatedTs     *int64
	LastMessageTs *int64
	ID            int32
}

type DeleteConversation struct {
	ID int32
}

// CopyConversation describes a branch or duplicate operation. CutoffMessageID
// limits the copy to messages with id <= cutoff (branch); nil copies
// everything (duplicate). PreserveLineage rewrites parent_message_id links
// through the old-id to new-id map; when false the copy is flattened.
type CopyConversation struct {
	SourceID        int32
	Title           string
	CutoffMessageID *int64
	PreserveLineage bool
}
