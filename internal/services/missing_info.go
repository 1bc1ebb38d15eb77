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

// DefaultMinSectionLength is the content length below which a section is
// flagged as containing too little information.
const DefaultMinSectionLength = 40

type modelFinding struct {
	Section     string `json:"section"`
	Description string `json:"description"`
}

// MissingInfoDetector combines a deterministic baseline with model findings.
type MissingInfoDetector struct {
	generator        TextGenerator
	minSectionLength int
}

// NewMissingInfoDetector creates a detector; minSectionLength <= 0 uses the default.
func NewMissingInfoDetector(generator TextGenerator, minSectionLength int) *MissingInfoDetector {
	if minSectionLength <= 0 {
		minSectionLength = DefaultMinSectionLength
	}
	return &MissingInfoDetector{generator: generator, minSectionLength: minSectionLength}
}

// Detect analyzes the parsed sections, or the raw redacted text when no
// sections exist yet. Findings are unique per (section, description) and
// sorted by canonical section order.
func (d *MissingInfoDetector) Detect(ctx context.Context, sections []models.Section, redactedText string) ([]models.Finding, error) {
	var findings []models.Finding
	input := redactedText
	if len(sections) > 0 {
		findings = d.baseline(sections)
		input = renderSections(sections)
	}
	if strings.TrimSpace(input) == "" {
		return nil, models.Invalid(StageDetectMissingInfo, fmt.Errorf("nothing to analyze"))
	}

	out, err := d.generator.Generate(ctx, gcp.Prompt{Instruction: gcp.MissingInfoUserPrompt, Text: input})
	if err != nil {
		return nil, err
	}
	var fromModel []modelFinding
	if out != "" {
		if err := json.Unmarshal([]byte(out), &fromModel); err != nil {
			return nil, models.Invalid(StageDetectMissingInfo, fmt.Errorf("failed to parse JSON from missing-info model: %w", err))
		}
	}

	flagged := make(map[string]bool)
	for _, f := range findings {
		flagged[f.Section] = true
	}
	for _, m := range fromModel {
		canonical, _, ok := models.LookupSection(m.Section)
		description := strings.TrimSpace(m.Description)
		if !ok || description == "" || flagged[canonical.Name] {
			continue
		}
		findings = append(findings, models.Finding{
			Section:     canonical.Name,
			DisplayName: canonical.DisplayName,
			Description: description,
			Source:      models.FindingSourceModel,
		})
	}
	return sortFindings(findings), nil
}

func (d *MissingInfoDetector) baseline(sections []models.Section) []models.Finding {
	content := make(map[string]string)
	for _, s := range sections {
		if canonical, _, ok := models.LookupSection(s.Name); ok {
			content[canonical.Name] += strings.TrimSpace(s.Content)
		}
	}
	var findings []models.Finding
	for _, canonical := range models.CanonicalSections {
		text, present := content[canonical.Name]
		switch {
		case !present:
			findings = append(findings, models.Finding{
				Section:     canonical.Name,
				DisplayName: canonical.DisplayName,
				Description: fmt.Sprintf("The IEP does not include a %s section.", canonical.DisplayName),
				Source:      models.FindingSourceBaseline,
			})
		case len([]rune(text)) < d.minSectionLength:
			findings = append(findings, models.Finding{
				Section:     canonical.Name,
				DisplayName: canonical.DisplayName,
				Description: fmt.Sprintf("The %s section contains very little information.", canonical.DisplayName),
				Source:      models.FindingSourceBaseline,
			})
		}
	}
	return findings
}

func renderSections(sections []models.Section) string {
	var b strings.Builder
	for _, s := range sections {
		fmt.Fprintf(&b, "## %s\n%s\n\n", s.DisplayName, s.Content)
	}
	return b.String()
}

func sortFindings(findings []models.Finding) []models.Finding {
	order := func(f models.Finding) int {
		_, i, _ := models.LookupSection(f.Section)
		return i
	}
	type key struct{ section, description string }
	seen := make(map[key]bool, len(findings))
	unique := findings[:0:0]
	for _, f := range findings {
		k := key{f.Section, f.Description}
		if seen[k] {
			continue
		}
		seen[k] = true
		unique = append(unique, f)
	}
	slices.SortStableFunc(unique, func(a, b models.Finding) int {
		return order(a) - order(b)
	})
	return unique
}

// MissingInfoFunction is the DetectMissingInfo workflow stage.
type MissingInfoFunction struct {
	store    datastore.Facade
	detector *MissingInfoDetector
}

// NewMissingInfo creates the DetectMissingInfo stage.
func NewMissingInfo(store datastore.Facade, detector *MissingInfoDetector) *MissingInfoFunction {
	return &MissingInfoFunction{store: store, detector: detector}
}

func (f *MissingInfoFunction) Name() string { return StageDetectMissingInfo }

func (f *MissingInfoFunction) Needs() []models.Artifact {
	return []models.Artifact{models.ArtifactParsedSections}
}

func (f *MissingInfoFunction) Produces() []models.Artifact {
	return []models.Artifact{models.ArtifactMissingInfo}
}

func (f *MissingInfoFunction) Run(ctx context.Context, req *models.StageRequest) error {
	doc, err := f.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}
	findings, err := f.detector.Detect(ctx, doc.Sections[models.EnglishLanguage], doc.PIIRedactedText)
	if err != nil {
		return err
	}
	if err := f.store.RecordMissingInfo(ctx, req.DocumentID, findings, req.ExecutionID); err != nil {
		return fmt.Errorf("failed to record missing info: %w", err)
	}
	slog.Info("Missing info detection complete.", "documentId", req.DocumentID, "executionId", req.ExecutionID, "findingCount", len(findings))
	return nil
}
