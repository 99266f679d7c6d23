package store

// UsageRecord is one completed assistant turn's token accounting.
// Append-only.
type UsageRecord struct {
	Model          string
	ID             int64
	MessageID      int64
	ConversationID int32
	InputTokens    int32
	OutputTokens   int32
	Cost           float64
	CreatedTs      int64
}

type FindUsageRecord struct {
	ConversationID *int32
	MessageID      *int64
}
