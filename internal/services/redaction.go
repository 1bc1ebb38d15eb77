package services

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Lllllllleong/iepdocumentflow/internal/datastore"
	"github.com/Lllllllleong/iepdocumentflow/internal/gcp"
	"github.com/Lllllllleong/iepdocumentflow/internal/models"
)

// PIIEntity is one span the PII model asked to remove.
type PIIEntity struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

// RedactionFunction removes personally identifiable information from the OCR text.
type RedactionFunction struct {
	store    datastore.Facade
	detector TextGenerator
}

// NewRedaction creates the PII redaction stage.
func NewRedaction(store datastore.Facade, detector TextGenerator) *RedactionFunction {
	return &RedactionFunction{store: store, detector: detector}
}

func (f *RedactionFunction) Name() string { return StageRedactPII }

func (f *RedactionFunction) Needs() []models.Artifact {
	return []models.Artifact{models.ArtifactOCRText}
}

func (f *RedactionFunction) Produces() []models.Artifact {
	return []models.Artifact{models.ArtifactRedactedText}
}

// Run redacts ocrText.en and persists piiRedactedText.
func (f *RedactionFunction) Run(ctx context.Context, req *models.StageRequest) error {
	logCtx := slog.With("documentId", req.DocumentID, "executionId", req.ExecutionID, "stage", StageRedactPII)

	doc, err := f.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}
	text := doc.OCRText[models.EnglishLanguage]
	if strings.TrimSpace(text) == "" {
		return models.Invalid(StageRedactPII, fmt.Errorf("document %s has no ocr text", req.DocumentID))
	}

	entities, err := f.detectEntities(ctx, text)
	if err != nil {
		logCtx.Error("PII detection failed", "error", err)
		return err
	}

	redacted := Redact(text, entities)
	err = f.store.UpdateStage(ctx, req.DocumentID, datastore.Patch{
		ExecutionID:     req.ExecutionID,
		PIIRedactedText: &redacted,
	})
	if err != nil {
		return fmt.Errorf("failed to persist redacted text: %w", err)
	}
	logCtx.Info("PII redaction complete.", "modelEntities", len(entities))
	return nil
}

func (f *RedactionFunction) detectEntities(ctx context.Context, text string) ([]PIIEntity, error) {
	out, err := f.detector.Generate(ctx, gcp.Prompt{Instruction: gcp.PIIUserPrompt, Text: text})
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, models.Invalid(StageRedactPII, fmt.Errorf("pii model returned an empty response instead of JSON"))
	}
	var entities []PIIEntity
	if err := json.Unmarshal([]byte(out), &entities); err != nil {
		return nil, models.Invalid(StageRedactPII, fmt.Errorf("failed to parse JSON from pii model: %w", err))
	}
	return entities, nil
}

var piiPatterns = []struct {
	placeholder string
	pattern     *regexp.Regexp
}{
	{"[EMAIL]", regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)},
	{"[ID_NUMBER]", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"[PHONE]", regexp.MustCompile(`(?:\+?1[\s.\-]?)?(?:\(\d{3}\)|\b\d{3})[\s.\-]?\d{3}[\s.\-]\d{4}\b`)},
	{"[DATE_OF_BIRTH]", regexp.MustCompile(`(?i)\b(?:DOB|D\.O\.B\.|date of birth|birth ?date)\s*:?\s*\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4}`)},
	{"[ID_NUMBER]", regexp.MustCompile(`(?i)\b(?:student|state|sasid|lasid|medicaid)\s*(?:id|#|number|no\.?)\s*:?\s*[A-Z0-9\-]{4,}`)},
}

var placeholderRegex = regexp.MustCompile(`^\[[A-Z_]+\]$`)

// Redact applies the deterministic patterns and then replaces every whole-word
// occurrence of the model-detected entities with a typed placeholder, so "Ann"
// never touches "Annual". Redacting already redacted text returns it unchanged.
func Redact(text string, entities []PIIEntity) string {
	for _, p := range piiPatterns {
		text = p.pattern.ReplaceAllString(text, p.placeholder)
	}

	entities = slices.Clone(entities)
	// Longest first so "Jane Doe" is replaced before "Jane".
	slices.SortStableFunc(entities, func(a, b PIIEntity) int {
		return cmp.Compare(len(strings.TrimSpace(b.Text)), len(strings.TrimSpace(a.Text)))
	})
	for _, e := range entities {
		span := strings.TrimSpace(e.Text)
		if !redactable(span) {
			continue
		}
		text = replaceWord(text, span, placeholderFor(e.Type))
	}
	return text
}

// replaceWord replaces occurrences of span that are not glued to a letter or
// digit on either side.
func replaceWord(text, span, placeholder string) string {
	var b strings.Builder
	rest := text
	for {
		i := strings.Index(rest, span)
		if i < 0 {
			break
		}
		end := i + len(span)
		before, _ := utf8.DecodeLastRuneInString(rest[:i])
		after, _ := utf8.DecodeRuneInString(rest[end:])
		b.WriteString(rest[:i])
		if isWordRune(before) || isWordRune(after) {
			b.WriteString(span)
		} else {
			b.WriteString(placeholder)
		}
		rest = rest[end:]
	}
	b.WriteString(rest)
	return b.String()
}

func isWordRune(r rune) bool {
	return r != utf8.RuneError && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
}

func redactable(span string) bool {
	if len([]rune(span)) < 2 {
		return false
	}
	if placeholderRegex.MatchString(span) || strings.Contains(span, "[[page") || placeholderFor(span) != "[REDACTED]" {
		return false
	}
	// Never let the model strip the section vocabulary itself.
	if _, _, ok := models.LookupSection(span); ok {
		return false
	}
	return true
}

func placeholderFor(entityType string) string {
	switch t := strings.ToUpper(strings.TrimSpace(entityType)); t {
	case "NAME", "ADDRESS", "EMAIL", "PHONE", "DATE_OF_BIRTH", "ID_NUMBER", "SCHOOL":
		return "[" + t + "]"
	default:
		return "[REDACTED]"
	}
}
