package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/iepdocumentflow/internal/datastore"
	"github.com/Lllllllleong/iepdocumentflow/internal/models"
)

// SourceCleanupFunction deletes the original upload once redacted text exists
// and clears sourceLocation from the record.
type SourceCleanupFunction struct {
	store   datastore.Facade
	objects ObjectStore
}

// NewSourceCleanup creates the DeleteSource stage.
func NewSourceCleanup(store datastore.Facade, objects ObjectStore) *SourceCleanupFunction {
	return &SourceCleanupFunction{store: store, objects: objects}
}

func (f *SourceCleanupFunction) Name() string { return StageDeleteSource }

func (f *SourceCleanupFunction) Needs() []models.Artifact {
	return []models.Artifact{models.ArtifactSourceObject, models.ArtifactRedactedText}
}

func (f *SourceCleanupFunction) Produces() []models.Artifact {
	return []models.Artifact{models.ArtifactSourceDeleted}
}

// Run deletes the object first and only then forgets its location, so a failed
// delete leaves a pointer the reaper can retry.
func (f *SourceCleanupFunction) Run(ctx context.Context, req *models.StageRequest) error {
	if req.SourceLocation == "" {
		return nil
	}
	if err := f.objects.Delete(ctx, req.SourceLocation); err != nil {
		return err
	}
	err := f.store.UpdateStage(ctx, req.DocumentID, datastore.Patch{
		ExecutionID: req.ExecutionID,
		ClearSource: true,
	})
	if err != nil {
		return fmt.Errorf("failed to clear source location: %w", err)
	}
	slog.Info("Source object deleted.", "documentId", req.DocumentID, "executionId", req.ExecutionID, "sourceLocation", req.SourceLocation)
	return nil
}
