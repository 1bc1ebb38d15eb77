package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/iepdocumentflow/internal/datastore"
	"github.com/Lllllllleong/iepdocumentflow/internal/gcp"
	"github.com/Lllllllleong/iepdocumentflow/internal/models"
)

// ReaperConfig holds configuration for the execution reaper.
type ReaperConfig struct {
	ProjectID      string
	CollectionName string
	// StaleAfter is how long a non-terminal document may go without an update.
	StaleAfter time.Duration
	BatchSize  int
}

// ReaperFunction fails executions that outlived their budget and retries
// source deletions a best-effort DeleteSource left behind.
type ReaperFunction struct {
	store   datastore.Facade
	cleanup *SourceCleanupFunction
	config  ReaperConfig
	now     func() time.Time
}

// NewReaperWith wires the reaper from explicit dependencies.
func NewReaperWith(store datastore.Facade, objects ObjectStore, config ReaperConfig) *ReaperFunction {
	if config.StaleAfter <= 0 {
		config.StaleAfter = 35 * time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &ReaperFunction{
		store:   store,
		cleanup: NewSourceCleanup(store, objects),
		config:  config,
		now:     time.Now,
	}
}

// NewReaper creates the reaper from the environment. Documents are considered
// stale once the execution timeout plus a grace period has passed.
func NewReaper(ctx context.Context) (*ReaperFunction, error) {
	config := ReaperConfig{
		ProjectID:      gcp.ProjectID(),
		CollectionName: gcp.GetEnv("FIRESTORE_COLLECTION", "documents"),
		StaleAfter:     gcp.GetEnvDuration("EXECUTION_TIMEOUT", 30*time.Minute) + gcp.GetEnvDuration("REAPER_GRACE", 5*time.Minute),
		BatchSize:      gcp.GetEnvInt("REAPER_BATCH_SIZE", 100),
	}
	if config.ProjectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	objects, err := gcp.NewGCSObjectStore(ctx)
	if err != nil {
		return nil, err
	}
	return NewReaperWith(datastore.NewFirestoreStore(firestoreClient, config.CollectionName), objects, config), nil
}

// SetClock replaces the reaper's time source.
func (f *ReaperFunction) SetClock(now func() time.Time) {
	f.now = now
}

// Process runs one sweep. Per-document failures are logged and skipped so one
// bad record cannot block the rest of the batch.
func (f *ReaperFunction) Process(ctx context.Context) (*models.ReaperResponse, error) {
	cutoff := f.now().Add(-f.config.StaleAfter)
	stale, err := f.store.ListStale(ctx, cutoff, f.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale documents: %w", err)
	}

	resp := &models.ReaperResponse{Status: "success"}
	for _, doc := range stale {
		logCtx := slog.With("documentId", doc.DocumentID, "executionId", doc.ExecutionID)
		err := f.store.SetStatus(ctx, doc.DocumentID, models.StatusFailed,
			datastore.WithExecution(doc.ExecutionID),
			datastore.WithErrorDetail(datastore.ErrorDetail{
				Kind:    models.KindTimeout,
				Stage:   doc.CurrentStage,
				Message: fmt.Sprintf("execution exceeded its budget; last update %s", doc.UpdatedAt.Format(time.RFC3339)),
			}))
		if err != nil {
			logCtx.Warn("Failed to expire stale document", "error", err)
			continue
		}
		logCtx.Info("Expired stale execution.", "currentStage", doc.CurrentStage)
		resp.Expired++
	}

	orphaned, err := f.store.ListOrphanedSources(ctx, f.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphaned sources: %w", err)
	}
	for _, doc := range orphaned {
		err := f.cleanup.Run(ctx, &models.StageRequest{
			DocumentID:     doc.DocumentID,
			ExecutionID:    doc.ExecutionID,
			SourceLocation: doc.SourceLocation,
		})
		if err != nil {
			slog.Warn("Failed to delete orphaned source", "documentId", doc.DocumentID, "error", err)
			continue
		}
		resp.SourcesDeleted++
	}

	slog.Info("Reaper sweep complete.", "expired", resp.Expired, "sourcesDeleted", resp.SourcesDeleted)
	return resp, nil
}
