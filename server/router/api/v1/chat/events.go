// Package chat implements the conversation thread engine: message lineage,
// streaming turns, artifact extraction, and artifact versioning.
package chat

import "github.com/hrygo/loom/store"

// Event names for the one-way turn channel. Exactly one terminal event
// (message_complete or error) is sent per turn.
const (
	EventUserMessage     = "user_message"
	EventContentDelta    = "content_delta"
	EventThinkingBlock   = "thinking_block"
	EventTitleUpdated    = "title_updated"
	EventMessageComplete = "message_complete"
	EventError           = "error"
)

// Event is one tagged value pushed over the turn channel.
type Event struct {
	Name string
	Data any
}

// UserMessagePayload acknowledges the persisted user message before the
// model is called.
type UserMessagePayload struct {
	Message *MessageView `json:"message"`
}

// DeltaPayload carries one incremental fragment of model output.
type DeltaPayload struct {
	Text string `json:"text"`
}

// TitleUpdatedPayload announces the auto-generated conversation title.
type TitleUpdatedPayload struct {
	ConversationID int32  `json:"conversation_id"`
	Title          string `json:"title"`
}

// UsageView reports the turn's token usage and estimated cost.
type UsageView struct {
	Model        string  `json:"model"`
	InputTokens  int32   `json:"input_tokens"`
	OutputTokens int32   `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// CompletePayload is the terminal event of a successful turn.
type CompletePayload struct {
	Message     *MessageView      `json:"message"`
	Usage       *UsageView        `json:"usage,omitempty"`
	Artifacts   []*store.Artifact `json:"artifacts,omitempty"`
	Suggestions []string          `json:"suggestions,omitempty"`
}

// ErrorPayload is the terminal event of a failed turn.
type ErrorPayload struct {
	Message string `json:"message"`
}

// MessageView is the wire shape of a message.
type MessageView struct {
	ID               int64              `json:"id"`
	UID              string             `json:"uid"`
	ConversationID   int32              `json:"conversation_id"`
	Role             store.Role         `json:"role"`
	Content          string             `json:"content"`
	Attachments      []store.Attachment `json:"attachments,omitempty"`
	TokenCount       int32              `json:"token_count"`
	FinishReason     string             `json:"finish_reason,omitempty"`
	ParentMessageID  *int64             `json:"parent_message_id,omitempty"`
	VariationGroupID *int64             `json:"variation_group_id,omitempty"`
	VariationIndex   int32              `json:"variation_index"`
	EditedTs         *int64             `json:"edited_ts,omitempty"`
	CreatedTs        int64              `json:"created_ts"`
}

func ToMessageView(m *store.Message) *MessageView {
	if m == nil {
		return nil
	}
	return &MessageView{
		ID:               m.ID,
		UID:              m.UID,
		ConversationID:   m.ConversationID,
		Role:             m.Role,
		Content:          m.Content,
		Attachments:      m.Attachments,
		TokenCount:       m.TokenCount,
		FinishReason:     m.FinishReason,
		ParentMessageID:  m.ParentMessageID,
		VariationGroupID: m.VariationGroupID,
		VariationIndex:   m.VariationIndex,
		EditedTs:         m.EditedTs,
		CreatedTs:        m.CreatedTs,
	}
}
