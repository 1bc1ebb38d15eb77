package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/Lllllllleong/iepdocumentflow/internal/datastore"
	"github.com/Lllllllleong/iepdocumentflow/internal/gcp"
	"github.com/Lllllllleong/iepdocumentflow/internal/models"
	"github.com/google/uuid"
)

// TriggerConfig holds configuration for the ingestion trigger.
type TriggerConfig struct {
	ProjectID        string
	CollectionName   string
	WorkflowLocation string
	WorkflowID       string
	UploadPrefix     string
	Retention        time.Duration
}

// TriggerFunction turns a finalized upload into a document record and one
// workflow execution.
type TriggerFunction struct {
	store   datastore.Facade
	starter ExecutionStarter
	config  TriggerConfig
	newID   func() string
}

// ObjectKey is the identity encoded in an upload's object name.
type ObjectKey struct {
	UserID     string
	ChildID    string
	DocumentID string
	Filename   string
}

// NewTriggerWith wires the trigger from explicit dependencies.
func NewTriggerWith(store datastore.Facade, starter ExecutionStarter, config TriggerConfig) *TriggerFunction {
	if config.UploadPrefix == "" {
		config.UploadPrefix = "uploads"
	}
	return &TriggerFunction{store: store, starter: starter, config: config, newID: uuid.NewString}
}

// NewIngestTrigger creates the trigger from the environment.
func NewIngestTrigger(ctx context.Context) (*TriggerFunction, error) {
	config := TriggerConfig{
		ProjectID:        gcp.ProjectID(),
		CollectionName:   gcp.GetEnv("FIRESTORE_COLLECTION", "documents"),
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		WorkflowID:       gcp.GetEnv("WORKFLOW_ID", "iep-document-workflow"),
		UploadPrefix:     gcp.GetEnv("UPLOAD_PREFIX", "uploads"),
		Retention:        gcp.GetEnvDuration("DOCUMENT_RETENTION", 365*24*time.Hour),
	}
	if config.ProjectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	starter, err := gcp.NewWorkflowStarter(ctx, config.ProjectID, config.WorkflowLocation, config.WorkflowID)
	if err != nil {
		return nil, err
	}

	f := NewTriggerWith(datastore.NewFirestoreStore(firestoreClient, config.CollectionName), starter, config)
	slog.Info("Ingestion trigger initialized.", "workflowId", config.WorkflowID, "uploadPrefix", config.UploadPrefix)
	return f, nil
}

// ParseObjectKey extracts the owner and document identity from an object
// name of the form <prefix>/<userId>/<childId>/<documentId>/<file>. The
// documentId segment may be omitted, in which case a stable id is derived
// from the bucket and object name so redeliveries map to the same document.
func ParseObjectKey(prefix, bucket, name string) (ObjectKey, error) {
	rest, ok := strings.CutPrefix(name, strings.Trim(prefix, "/")+"/")
	if !ok {
		return ObjectKey{}, fmt.Errorf("object %s is outside prefix %q", name, prefix)
	}
	segments := strings.Split(rest, "/")
	for _, s := range segments {
		if s == "" {
			return ObjectKey{}, fmt.Errorf("object %s has an empty path segment", name)
		}
	}

	key := ObjectKey{Filename: path.Base(name)}
	switch len(segments) {
	case 4:
		key.UserID, key.ChildID, key.DocumentID = segments[0], segments[1], segments[2]
	case 3:
		key.UserID, key.ChildID = segments[0], segments[1]
		key.DocumentID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(gcp.FormatGCSURI(bucket, name))).String()
	default:
		return ObjectKey{}, fmt.Errorf("object %s does not match %s/<userId>/<childId>/[<documentId>/]<file>", name, prefix)
	}
	return key, nil
}

// applyMetadata lets upload metadata override identifiers from the key.
func (k ObjectKey) applyMetadata(metadata map[string]string) ObjectKey {
	if v := metadata["userId"]; v != "" {
		k.UserID = v
	}
	if v := metadata["childId"]; v != "" {
		k.ChildID = v
	}
	if v := metadata["documentId"]; v != "" {
		k.DocumentID = v
	}
	return k
}

// Process handles one object-finalized event. Uploads that do not belong to
// the pipeline, redeliveries and uploads for a document with an active
// execution are acknowledged without side effects.
func (f *TriggerFunction) Process(ctx context.Context, e models.GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name, "generation", e.Generation)
	logCtx.Info("Processing new GCS object.")

	key, err := ParseObjectKey(f.config.UploadPrefix, e.Bucket, e.Name)
	if err != nil {
		logCtx.Warn("Ignoring object with unexpected key.", "error", err)
		return nil
	}
	key = key.applyMetadata(e.Metadata)
	executionID := f.newID()
	logCtx = logCtx.With("documentId", key.DocumentID, "userId", key.UserID, "executionId", executionID)

	sourceLocation := gcp.FormatGCSURI(e.Bucket, e.Name)
	_, err = f.store.CreateDocument(ctx, datastore.NewDocument{
		DocumentID:       key.DocumentID,
		UserID:           key.UserID,
		ChildID:          key.ChildID,
		ExecutionID:      executionID,
		SourceLocation:   sourceLocation,
		SourceGeneration: e.Generation,
		ContentType:      e.ContentType,
		OriginalFilename: key.Filename,
		Retention:        f.config.Retention,
	})
	switch {
	case errors.Is(err, models.ErrExecutionActive):
		logCtx.Info("An execution is already active for this document. Skipping.", "reason", err)
		return nil
	case errors.Is(err, models.ErrDuplicateUpload):
		logCtx.Info("Duplicate delivery of an already processed upload. Skipping.")
		return nil
	case err != nil:
		logCtx.Error("Failed to create initial Firestore document", "error", err)
		return fmt.Errorf("failed to create document %s: %w", key.DocumentID, err)
	}
	logCtx.Info("Created document record.")

	execName, err := f.starter.Start(ctx, models.ExecutionRequest{
		DocumentID:     key.DocumentID,
		UserID:         key.UserID,
		ChildID:        key.ChildID,
		ExecutionID:    executionID,
		SourceLocation: sourceLocation,
		ContentType:    e.ContentType,
	})
	if err != nil {
		logCtx.Error("Failed to start workflow execution", "error", err)
		markErr := f.store.SetStatus(context.WithoutCancel(ctx), key.DocumentID, models.StatusFailed,
			datastore.WithExecution(executionID),
			datastore.WithErrorDetail(datastore.ErrorDetail{
				Kind:    models.KindOf(err),
				Stage:   StageIngestionTrigger,
				Message: err.Error(),
			}))
		if markErr != nil {
			logCtx.Error("CRITICAL: Failed to update Firestore status to FAILED after a trigger error.", "updateError", markErr)
		}
		return err
	}

	logCtx.Info("Hand-off to workflow complete.", "execution", execName)
	return nil
}
