package store

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Attachment is an inline image carried by a user message.
type Attachment struct {
	Mime     string `json:"mime"`
	Data     string `json:"data"` // base64 payload
	Filename string `json:"filename,omitempty"`
}

// Message is one entry in a conversation's creation-time-ordered history.
//
// ParentMessageID is a weak back-reference used for branch lineage, not an
// ownership edge. Messages sharing a VariationGroupID are alternative
// assistant completions anchored at the same position; the group is
// identified by the id of its first message, which holds VariationIndex 0.
type Message struct {
	UID              string
	ConversationID   int32
	Role             Role
	Content          string
	Attachments      []Attachment
	FinishReason     string
	TokenCount       int32
	ID               int64
	ParentMessageID  *int64
	VariationGroupID *int64
	VariationIndex   int32
	EditedTs         *int64
	CreatedTs        int64
}

type FindMessage struct {
	ID               *int64
	UID              *string
	ConversationID   *int32
	Role             *Role
	VariationGroupID *int64
	Direction        Direction
	Limit            *int
	Offset           *int
}

// UpdateMessage carries a partial update: only non-nil fields are written.
type UpdateMessage struct {
	Content          *string
	FinishReason     *string
	TokenCount       *int32
	VariationGroupID *int64
	VariationIndex   *int32
	EditedTs         *int64
	ID               int64
}
