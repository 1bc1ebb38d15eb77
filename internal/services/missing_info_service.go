package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/iepdocumentflow/internal/datastore"
	"github.com/Lllllllleong/iepdocumentflow/internal/gcp"
	"github.com/Lllllllleong/iepdocumentflow/internal/models"
)

// MissingInfoServiceConfig holds configuration for the on-demand missing-info service.
type MissingInfoServiceConfig struct {
	ProjectID        string
	VertexAIRegion   string
	VertexModel      string
	CollectionName   string
	MinSectionLength int
}

// MissingInfoService re-runs missing-info detection outside the workflow.
// It only ever writes the findings; status and content are left untouched.
type MissingInfoService struct {
	store    datastore.Facade
	detector *MissingInfoDetector
}

// NewMissingInfoServiceWith wires the service from explicit dependencies.
func NewMissingInfoServiceWith(store datastore.Facade, detector *MissingInfoDetector) *MissingInfoService {
	return &MissingInfoService{store: store, detector: detector}
}

// NewMissingInfoService creates the service from the environment.
func NewMissingInfoService(ctx context.Context) (*MissingInfoService, error) {
	config := MissingInfoServiceConfig{
		ProjectID:        gcp.ProjectID(),
		VertexAIRegion:   gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		VertexModel:      gcp.GetEnv("VERTEX_MODEL", "gemini-1.5-pro"),
		CollectionName:   gcp.GetEnv("FIRESTORE_COLLECTION", "documents"),
		MinSectionLength: gcp.GetEnvInt("MIN_SECTION_LENGTH", DefaultMinSectionLength),
	}
	if config.ProjectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	vertexClient, err := gcp.NewVertexClient(ctx, config.ProjectID, config.VertexAIRegion, config.VertexModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	store := datastore.NewFirestoreStore(firestoreClient, config.CollectionName)
	detector := NewMissingInfoDetector(gcp.NewModelGenerator(vertexClient.MissingInfoModel, StageDetectMissingInfo), config.MinSectionLength)
	return NewMissingInfoServiceWith(store, detector), nil
}

// Process analyzes the document's existing parsed or redacted text and
// replaces its findings in place.
func (s *MissingInfoService) Process(ctx context.Context, req *models.MissingInfoRequest) (*models.MissingInfoResponse, error) {
	logCtx := slog.With("documentId", req.DocumentID)
	if req.DocumentID == "" {
		return nil, models.Invalid(StageDetectMissingInfo, fmt.Errorf("documentId is required"))
	}

	doc, err := s.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	findings, err := s.detector.Detect(ctx, doc.Sections[models.EnglishLanguage], doc.PIIRedactedText)
	if err != nil {
		logCtx.Error("On-demand missing info detection failed", "error", err)
		return nil, err
	}
	if err := s.store.RecordMissingInfo(ctx, req.DocumentID, findings, ""); err != nil {
		logCtx.Error("Failed to record missing info", "error", err)
		return nil, fmt.Errorf("failed to record missing info: %w", err)
	}
	logCtx.Info("On-demand missing info detection complete.", "findingCount", len(findings))

	return &models.MissingInfoResponse{
		Status:       "success",
		FindingCount: len(findings),
		Findings:     findings,
	}, nil
}
