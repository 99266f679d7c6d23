package store

// ArtifactType is the content type vocabulary for artifacts.
type ArtifactType string

const (
	ArtifactTypeCode    ArtifactType = "code"
	ArtifactTypeHTML    ArtifactType = "html"
	ArtifactTypeSVG     ArtifactType = "svg"
	ArtifactTypeReact   ArtifactType = "react"
	ArtifactTypeMermaid ArtifactType = "mermaid"
	ArtifactTypeText    ArtifactType = "text"
)

// Artifact is a structured content block extracted from an assistant message.
//
// The live row always holds the newest content; strictly-older contents live
// in artifact_version rows. Version starts at 1 and increments on every
// content-changing operation, including revert.
type Artifact struct {
	UID            string
	Identifier     string
	Type           ArtifactType
	Language       string
	Title          string
	Content        string
	ID             int64
	MessageID      int64
	ConversationID int32
	Version        int32
	CreatedTs      int64
	UpdatedTs      int64
}

type FindArtifact struct {
	ID             *int64
	UID            *string
	ConversationID *int32
	MessageID      *int64
	Identifier     *string
}

// UpdateArtifact overwrites the live content and title. The driver snapshots
// the previous live state into history and bumps the version in the same
// transaction.
type UpdateArtifact struct {
	Content   string
	Title     string
	UpdatedTs int64
	ID        int64
}

// ArtifactVersion is an append-only history entry holding a strictly-older
// content of its artifact. Version matches the number the live row held
// before the update that created this entry.
type ArtifactVersion struct {
	Title      string
	Content    string
	ID         int64
	ArtifactID int64
	Version    int32
	IsCurrent  bool
	CreatedTs  int64
}
