package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/Lllllllleong/iepdocumentflow/internal/datastore"
	"github.com/Lllllllleong/iepdocumentflow/internal/models"
)

// TransformFunction rewrites the parsed English sections into the presentation schema.
type TransformFunction struct {
	store datastore.Facade
}

// NewTransform creates the Transform stage.
func NewTransform(store datastore.Facade) *TransformFunction {
	return &TransformFunction{store: store}
}

func (f *TransformFunction) Name() string { return StageTransform }

func (f *TransformFunction) Needs() []models.Artifact {
	return []models.Artifact{models.ArtifactParsedSections}
}

func (f *TransformFunction) Produces() []models.Artifact {
	return []models.Artifact{models.ArtifactEnglishSections}
}

func (f *TransformFunction) Run(ctx context.Context, req *models.StageRequest) error {
	doc, err := f.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}
	parsed := doc.Sections[models.EnglishLanguage]
	structured, dropped := StructureSections(parsed)
	if len(structured) == 0 {
		return models.Invalid(StageTransform, fmt.Errorf("none of the %d parsed sections matches a canonical section", len(parsed)))
	}
	if len(dropped) > 0 {
		slog.Warn("Dropping sections outside the canonical vocabulary.", "documentId", req.DocumentID, "executionId", req.ExecutionID, "sections", dropped)
	}

	err = f.store.UpdateStage(ctx, req.DocumentID, datastore.Patch{
		ExecutionID: req.ExecutionID,
		Sections:    map[string][]models.Section{models.EnglishLanguage: structured},
	})
	if err != nil {
		return fmt.Errorf("failed to persist structured sections: %w", err)
	}
	return nil
}

// StructureSections merges sections that map to the same canonical section,
// orders them by the canonical order and applies canonical display names. It
// returns the titles it could not map. Applying it to its own output is a no-op.
func StructureSections(sections []models.Section) ([]models.Section, []string) {
	merged := make([]*models.Section, len(models.CanonicalSections))
	var dropped []string
	for _, s := range sections {
		canonical, i, ok := models.LookupSection(s.Name)
		if !ok {
			canonical, i, ok = models.LookupSection(s.DisplayName)
		}
		if !ok {
			dropped = append(dropped, s.DisplayName)
			continue
		}
		if merged[i] == nil {
			merged[i] = &models.Section{
				Name:              canonical.Name,
				DisplayName:       canonical.DisplayName,
				Content:           s.Content,
				SourcePageNumbers: slices.Clone(s.SourcePageNumbers),
			}
			continue
		}
		if s.Content != merged[i].Content {
			merged[i].Content += "\n\n" + s.Content
		}
		merged[i].SourcePageNumbers = append(merged[i].SourcePageNumbers, s.SourcePageNumbers...)
	}

	var out []models.Section
	for _, s := range merged {
		if s == nil {
			continue
		}
		slices.Sort(s.SourcePageNumbers)
		s.SourcePageNumbers = slices.Compact(s.SourcePageNumbers)
		out = append(out, *s)
	}
	return out, dropped
}
