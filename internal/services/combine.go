package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/iepdocumentflow/internal/datastore"
	"github.com/Lllllllleong/iepdocumentflow/internal/models"
)

// CombineFunction checks that every expected language is present and marks
// the document PROCESSED.
type CombineFunction struct {
	store datastore.Facade
}

// NewCombine creates the Combine stage.
func NewCombine(store datastore.Facade) *CombineFunction {
	return &CombineFunction{store: store}
}

func (f *CombineFunction) Name() string { return StageCombine }

func (f *CombineFunction) Needs() []models.Artifact {
	return []models.Artifact{models.ArtifactEnglishSections, models.ArtifactEnglishSummary, models.ArtifactLanguageDecision}
}

func (f *CombineFunction) Produces() []models.Artifact {
	return []models.Artifact{models.ArtifactFinalRecord}
}

// Run is idempotent: a document this execution already completed is left as is.
func (f *CombineFunction) Run(ctx context.Context, req *models.StageRequest) error {
	logCtx := slog.With("documentId", req.DocumentID, "executionId", req.ExecutionID, "stage", StageCombine)

	doc, err := f.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}
	if doc.Status == models.StatusProcessed && doc.ExecutionID == req.ExecutionID {
		logCtx.Info("Document already combined.")
		return nil
	}

	if !doc.HasEnglishContent() {
		return models.Invalid(StageCombine, fmt.Errorf("document %s is missing English sections or summary", req.DocumentID))
	}
	languages := []string{models.EnglishLanguage}
	if req.TargetLanguage != "" && req.TargetLanguage != models.EnglishLanguage {
		if !doc.HasLanguage(req.TargetLanguage) {
			return models.Invalid(StageCombine, fmt.Errorf("document %s is missing %s sections or summary", req.DocumentID, req.TargetLanguage))
		}
		languages = append(languages, req.TargetLanguage)
	}

	err = f.store.UpdateStage(ctx, req.DocumentID, datastore.Patch{
		ExecutionID: req.ExecutionID,
		Languages:   languages,
	})
	if err != nil {
		return fmt.Errorf("failed to record languages: %w", err)
	}
	if err := f.store.SetStatus(ctx, req.DocumentID, models.StatusProcessed, datastore.WithExecution(req.ExecutionID)); err != nil {
		return fmt.Errorf("failed to mark document processed: %w", err)
	}
	logCtx.Info("Document processed.", "languages", languages)
	return nil
}
