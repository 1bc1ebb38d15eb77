package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/Lllllllleong/iepdocumentflow/internal/datastore"
	"github.com/Lllllllleong/iepdocumentflow/internal/gcp"
	"github.com/Lllllllleong/iepdocumentflow/internal/models"
)

// translatedSection is the wire shape exchanged with the translator model.
type translatedSection struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Content     string `json:"content"`
}

// TranslateSummaryFunction translates the English summary into the target language.
type TranslateSummaryFunction struct {
	store     datastore.Facade
	generator TextGenerator
}

// NewTranslateSummary creates the TranslateSummary stage.
func NewTranslateSummary(store datastore.Facade, generator TextGenerator) *TranslateSummaryFunction {
	return &TranslateSummaryFunction{store: store, generator: generator}
}

func (f *TranslateSummaryFunction) Name() string { return StageTranslateSummary }

func (f *TranslateSummaryFunction) Needs() []models.Artifact {
	return []models.Artifact{models.ArtifactEnglishSummary, models.ArtifactLanguageDecision}
}

func (f *TranslateSummaryFunction) Produces() []models.Artifact {
	return []models.Artifact{models.ArtifactTranslatedSummary}
}

func (f *TranslateSummaryFunction) Run(ctx context.Context, req *models.StageRequest) error {
	logCtx := slog.With("documentId", req.DocumentID, "executionId", req.ExecutionID, "stage", StageTranslateSummary, "targetLanguage", req.TargetLanguage)
	if err := checkTargetLanguage(StageTranslateSummary, req.TargetLanguage); err != nil {
		return err
	}

	doc, err := f.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}
	summary := doc.Summaries[models.EnglishLanguage]
	if summary == "" {
		return models.Invalid(StageTranslateSummary, fmt.Errorf("document %s has no English summary", req.DocumentID))
	}
	// The record is reset on re-processing, so a stored translation belongs
	// to this execution's English summary.
	if doc.Summaries[req.TargetLanguage] != "" {
		logCtx.Info("Summary already translated.")
		return nil
	}

	out, err := f.generator.Generate(ctx, gcp.Prompt{
		Instruction: fmt.Sprintf(gcp.TranslateSummaryPrompt, req.TargetLanguage),
		Text:        summary,
	})
	if err != nil {
		logCtx.Error("Call to translator model failed", "error", err)
		return err
	}
	translated := strings.TrimSpace(out)
	if translated == "" {
		return models.Invalid(StageTranslateSummary, fmt.Errorf("translator returned an empty summary"))
	}

	err = f.store.UpdateStage(ctx, req.DocumentID, datastore.Patch{
		ExecutionID: req.ExecutionID,
		Summaries:   map[string]string{req.TargetLanguage: translated},
	})
	if err != nil {
		return fmt.Errorf("failed to persist translated summary: %w", err)
	}
	logCtx.Info("Summary translation complete.")
	return nil
}

// TranslateSectionsFunction translates the structured English sections.
type TranslateSectionsFunction struct {
	store     datastore.Facade
	generator TextGenerator
}

// NewTranslateSections creates the TranslateSections stage.
func NewTranslateSections(store datastore.Facade, generator TextGenerator) *TranslateSectionsFunction {
	return &TranslateSectionsFunction{store: store, generator: generator}
}

func (f *TranslateSectionsFunction) Name() string { return StageTranslateSections }

func (f *TranslateSectionsFunction) Needs() []models.Artifact {
	return []models.Artifact{models.ArtifactEnglishSections, models.ArtifactLanguageDecision}
}

func (f *TranslateSectionsFunction) Produces() []models.Artifact {
	return []models.Artifact{models.ArtifactTranslatedSections}
}

func (f *TranslateSectionsFunction) Run(ctx context.Context, req *models.StageRequest) error {
	logCtx := slog.With("documentId", req.DocumentID, "executionId", req.ExecutionID, "stage", StageTranslateSections, "targetLanguage", req.TargetLanguage)
	if err := checkTargetLanguage(StageTranslateSections, req.TargetLanguage); err != nil {
		return err
	}

	doc, err := f.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}
	english := doc.Sections[models.EnglishLanguage]
	if len(english) == 0 {
		return models.Invalid(StageTranslateSections, fmt.Errorf("document %s has no English sections", req.DocumentID))
	}
	if sameSectionNames(english, doc.Sections[req.TargetLanguage]) {
		logCtx.Info("Sections already translated.")
		return nil
	}

	payload := make([]translatedSection, len(english))
	for i, s := range english {
		payload[i] = translatedSection{Name: s.Name, DisplayName: s.DisplayName, Content: s.Content}
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode sections: %w", err)
	}

	out, err := f.generator.Generate(ctx, gcp.Prompt{
		Instruction: fmt.Sprintf(gcp.TranslateSectionsPrompt, req.TargetLanguage),
		Text:        string(input),
	})
	if err != nil {
		logCtx.Error("Call to translator model failed", "error", err)
		return err
	}

	translated, err := mergeTranslation(english, gcp.TrimFences(out))
	if err != nil {
		logCtx.Error("Translator returned an unusable section list", "error", err)
		return models.Invalid(StageTranslateSections, err)
	}

	err = f.store.UpdateStage(ctx, req.DocumentID, datastore.Patch{
		ExecutionID: req.ExecutionID,
		Sections:    map[string][]models.Section{req.TargetLanguage: translated},
	})
	if err != nil {
		return fmt.Errorf("failed to persist translated sections: %w", err)
	}
	logCtx.Info("Section translation complete.", "sectionCount", len(translated))
	return nil
}

// mergeTranslation validates the model output against the English sections.
// Names and page references always come from the English original.
func sameSectionNames(a, b []models.Section) bool {
	return slices.EqualFunc(a, b, func(x, y models.Section) bool { return x.Name == y.Name })
}

func mergeTranslation(english []models.Section, out string) ([]models.Section, error) {
	var sections []translatedSection
	if err := json.Unmarshal([]byte(out), &sections); err != nil {
		return nil, fmt.Errorf("failed to parse translated sections: %w", err)
	}
	if len(sections) != len(english) {
		return nil, fmt.Errorf("translator returned %d sections, expected %d", len(sections), len(english))
	}

	merged := make([]models.Section, len(english))
	for i, s := range sections {
		if s.Name != english[i].Name {
			return nil, fmt.Errorf("section %d renamed from %q to %q", i, english[i].Name, s.Name)
		}
		content := strings.TrimSpace(s.Content)
		if content == "" {
			return nil, fmt.Errorf("section %q translated to empty content", s.Name)
		}
		displayName := strings.TrimSpace(s.DisplayName)
		if displayName == "" {
			displayName = english[i].DisplayName
		}
		merged[i] = models.Section{
			Name:              english[i].Name,
			DisplayName:       displayName,
			Content:           content,
			SourcePageNumbers: english[i].SourcePageNumbers,
		}
	}
	return merged, nil
}

func checkTargetLanguage(stage, lang string) error {
	if lang == "" || lang == models.EnglishLanguage {
		return models.Invalid(stage, fmt.Errorf("invalid translation target %q", lang))
	}
	return nil
}
