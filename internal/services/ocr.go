package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/Lllllllleong/iepdocumentflow/internal/datastore"
	"github.com/Lllllllleong/iepdocumentflow/internal/gcp"
	"github.com/Lllllllleong/iepdocumentflow/internal/models"
	"golang.org/x/sync/errgroup"
)

// OCRConfig holds configuration for the text extraction stage.
type OCRConfig struct {
	// Concurrency bounds how many pages are sent to the OCR model at once.
	Concurrency int
}

// OCRFunction converts the uploaded source document into English text.
type OCRFunction struct {
	store     datastore.Facade
	objects   ObjectStore
	generator TextGenerator
	config    OCRConfig
}

// NewOCR creates the text extraction stage.
func NewOCR(store datastore.Facade, objects ObjectStore, generator TextGenerator, config OCRConfig) *OCRFunction {
	if config.Concurrency <= 0 {
		config.Concurrency = 8
	}
	return &OCRFunction{store: store, objects: objects, generator: generator, config: config}
}

func (f *OCRFunction) Name() string { return StageExtractText }

func (f *OCRFunction) Needs() []models.Artifact {
	return []models.Artifact{models.ArtifactSourceObject}
}

func (f *OCRFunction) Produces() []models.Artifact {
	return []models.Artifact{models.ArtifactOCRText}
}

// Run reads the source object, OCRs every page and persists the assembled text.
func (f *OCRFunction) Run(ctx context.Context, req *models.StageRequest) error {
	logCtx := slog.With("documentId", req.DocumentID, "executionId", req.ExecutionID, "stage", StageExtractText)
	if req.SourceLocation == "" {
		return models.Invalid(StageExtractText, fmt.Errorf("document %s has no source location", req.DocumentID))
	}

	data, err := f.objects.Read(ctx, req.SourceLocation)
	if err != nil {
		if errors.Is(err, gcp.ErrObjectNotFound) {
			return models.Invalid(StageExtractText, err)
		}
		return err
	}
	if len(data) == 0 {
		return models.Invalid(StageExtractText, fmt.Errorf("source object %s is empty", req.SourceLocation))
	}

	contentType := detectContentType(req.ContentType, data)
	pages, err := splitPages(data, contentType)
	if err != nil {
		var unsupported errUnsupportedFormat
		var invalid errInvalidPDF
		switch {
		case errors.As(err, &unsupported):
			return models.Rejected(StageExtractText, err)
		case errors.As(err, &invalid):
			return models.Invalid(StageExtractText, err)
		}
		return err
	}
	logCtx.Info("Starting OCR.", "pageCount", len(pages), "contentType", contentType)

	texts := make([]string, len(pages))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(f.config.Concurrency)
	for i, p := range pages {
		eg.Go(func() error {
			text, err := f.generator.Generate(gctx, gcp.Prompt{
				Instruction: gcp.OCRUserPrompt,
				Data:        p.data,
				MIMEType:    p.mimeType,
			})
			if err != nil {
				return fmt.Errorf("page %d: %w", p.number, err)
			}
			texts[i] = text
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		logCtx.Error("OCR failed", "error", err)
		return err
	}

	ocrText := AssemblePages(texts)
	if strings.TrimSpace(StripPageMarkers(ocrText)) == "" {
		return models.Invalid(StageExtractText, fmt.Errorf("no text recognized in %d pages", len(pages)))
	}

	err = f.store.UpdateStage(ctx, req.DocumentID, datastore.Patch{
		ExecutionID: req.ExecutionID,
		OCRText:     map[string]string{models.EnglishLanguage: ocrText},
		PageCount:   len(pages),
	})
	if err != nil {
		return fmt.Errorf("failed to persist ocr text: %w", err)
	}
	logCtx.Info("OCR complete.", "pageCount", len(pages), "characters", len(ocrText))
	return nil
}

var pageMarkerRegex = regexp.MustCompile(`(?m)^\[\[page (\d+)\]\]$`)

// AssemblePages joins per-page text with "[[page N]]" markers, N starting at 1.
func AssemblePages(pages []string) string {
	var b strings.Builder
	for i, text := range pages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[[page %d]]\n%s", i+1, strings.TrimSpace(text))
	}
	return b.String()
}

// StripPageMarkers removes the markers added by AssemblePages.
func StripPageMarkers(text string) string {
	return pageMarkerRegex.ReplaceAllString(text, "")
}

// PageNumbers lists the page markers present in text.
func PageNumbers(text string) []int {
	var pages []int
	for _, m := range pageMarkerRegex.FindAllStringSubmatch(text, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil {
			pages = append(pages, n)
		}
	}
	return pages
}
