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

// parsedDocument defines the structure of the JSON object we expect from the parser model.
type parsedDocument struct {
	Summary  string          `json:"summary"`
	Sections []parsedSection `json:"sections"`
}

type parsedSection struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	Pages   []int  `json:"pages"`
}

// ParserFunction segments the redacted text into sections and writes the English summary.
type ParserFunction struct {
	store     datastore.Facade
	generator TextGenerator
}

// NewParser creates the ParseStructure stage.
func NewParser(store datastore.Facade, generator TextGenerator) *ParserFunction {
	return &ParserFunction{store: store, generator: generator}
}

func (f *ParserFunction) Name() string { return StageParseStructure }

func (f *ParserFunction) Needs() []models.Artifact {
	return []models.Artifact{models.ArtifactRedactedText}
}

func (f *ParserFunction) Produces() []models.Artifact {
	return []models.Artifact{models.ArtifactParsedSections, models.ArtifactEnglishSummary}
}

func (f *ParserFunction) Run(ctx context.Context, req *models.StageRequest) error {
	logCtx := slog.With("documentId", req.DocumentID, "executionId", req.ExecutionID, "stage", StageParseStructure)

	doc, err := f.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}
	if strings.TrimSpace(doc.PIIRedactedText) == "" {
		return models.Invalid(StageParseStructure, fmt.Errorf("document %s has no redacted text", req.DocumentID))
	}

	out, err := f.generator.Generate(ctx, gcp.Prompt{Instruction: gcp.ParserUserPrompt, Text: doc.PIIRedactedText})
	if err != nil {
		logCtx.Error("Call to parser model failed", "error", err)
		return err
	}
	if out == "" {
		return models.Invalid(StageParseStructure, fmt.Errorf("parser model returned an empty response instead of JSON for document ID %s", req.DocumentID))
	}

	var parsed parsedDocument
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		logCtx.Error("Failed to unmarshal JSON response from parser model", "error", err)
		return models.Invalid(StageParseStructure, fmt.Errorf("failed to parse JSON from model for document ID %s: %w", req.DocumentID, err))
	}

	sections := normalizeParsedSections(parsed.Sections, doc.PageCount)
	summary := strings.TrimSpace(parsed.Summary)
	if len(sections) == 0 || summary == "" {
		return models.Invalid(StageParseStructure, fmt.Errorf("parser model returned %d sections and a summary of %d characters", len(sections), len(summary)))
	}

	err = f.store.UpdateStage(ctx, req.DocumentID, datastore.Patch{
		ExecutionID: req.ExecutionID,
		Sections:    map[string][]models.Section{models.EnglishLanguage: sections},
		Summaries:   map[string]string{models.EnglishLanguage: summary},
	})
	if err != nil {
		return fmt.Errorf("failed to persist parsed sections: %w", err)
	}
	logCtx.Info("Parsing complete.", "sectionCount", len(sections))
	return nil
}

// normalizeParsedSections keeps the model's order but maps names onto the
// canonical vocabulary and cleans up page references.
func normalizeParsedSections(in []parsedSection, pageCount int) []models.Section {
	var out []models.Section
	for _, p := range in {
		content := strings.TrimSpace(p.Content)
		title := strings.TrimSpace(p.Name)
		if content == "" || title == "" {
			continue
		}
		section := models.Section{
			Name:              title,
			DisplayName:       title,
			Content:           content,
			SourcePageNumbers: cleanPages(p.Pages, pageCount),
		}
		if canonical, _, ok := models.LookupSection(title); ok {
			section.Name = canonical.Name
			section.DisplayName = canonical.DisplayName
		}
		out = append(out, section)
	}
	return out
}

func cleanPages(pages []int, pageCount int) []int {
	var out []int
	for _, p := range pages {
		if p < 1 || (pageCount > 0 && p > pageCount) {
			continue
		}
		out = append(out, p)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
