package chat

import (
	"context"
	"time"

	"github.com/hrygo/loom/store"
)

// ArtifactService owns artifact content updates and revert-with-history.
type ArtifactService struct {
	store *store.Store
}

// NewArtifactService creates an artifact service over the given store.
func NewArtifactService(s *store.Store) *ArtifactService {
	return &ArtifactService{store: s}
}

// Update snapshots the artifact's current state into history, then writes
// the new content/title onto the live row with an incremented version.
func (as *ArtifactService) Update(ctx context.Context, artifactID int64, content, title string) (*store.Artifact, error) {
	return as.store.UpdateArtifactContent(ctx, &store.UpdateArtifact{
		ID:        artifactID,
		Content:   content,
		Title:     title,
		UpdatedTs: time.Now().UnixMilli(),
	})
}

// ListVersions returns the artifact's history newest first, with the live
// version synthesized as a pseudo-entry flagged is_current at the head.
func (as *ArtifactService) ListVersions(ctx context.Context, artifactID int64) ([]*store.ArtifactVersion, error) {
	artifact, err := as.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}

	history, err := as.store.ListArtifactVersions(ctx, artifactID)
	if err != nil {
		return nil, err
	}

	versions := make([]*store.ArtifactVersion, 0, len(history)+1)
	versions = append(versions, &store.ArtifactVersion{
		ArtifactID: artifact.ID,
		Version:    artifact.Version,
		Title:      artifact.Title,
		Content:    artifact.Content,
		CreatedTs:  artifact.UpdatedTs,
		IsCurrent:  true,
	})
	return append(versions, history...), nil
}

// Revert restores a historical version as a forward-moving edit: the
// current state is snapshotted first, then the target's content/title land
// on the live row with version+1. Reverting twice to the same target is
// idempotent on content but not on version number.
func (as *ArtifactService) Revert(ctx context.Context, artifactID int64, targetVersion int32) (*store.Artifact, error) {
	return as.store.RevertArtifact(ctx, artifactID, targetVersion, time.Now().UnixMilli())
}
