package gcp

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/iepdocumentflow/internal/models"
)

// Prompt is one request to a generative model: an instruction plus the text
// or binary content it applies to.
type Prompt struct {
	Instruction string
	Text        string
	Data        []byte
	MIMEType    string
}

// ModelGenerator adapts a pre-configured Gemini model to the stage functions.
type ModelGenerator struct {
	model *genai.GenerativeModel
	stage string
}

// NewModelGenerator binds model to the stage name used for error reporting.
func NewModelGenerator(model *genai.GenerativeModel, stage string) *ModelGenerator {
	return &ModelGenerator{model: model, stage: stage}
}

// Generate calls the model and returns its text output. Provider errors are
// classified and a refusal is reported as ProviderRejected.
func (g *ModelGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	var parts []genai.Part
	if len(p.Data) > 0 {
		parts = append(parts, genai.Blob{MIMEType: p.MIMEType, Data: p.Data})
	}
	if p.Text != "" {
		parts = append(parts, genai.Text(p.Text))
	}
	parts = append(parts, genai.Text(p.Instruction))

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", ClassifyProviderError(g.stage, fmt.Errorf("failed to generate content from gemini: %w", err))
	}

	content := ExtractText(resp)
	if IsRefusal(content) {
		return "", models.Rejected(g.stage, fmt.Errorf("gemini response indicates refusal"))
	}
	return content, nil
}

// ExtractText robustly concatenates the text parts of the first candidate and
// strips markdown fences the model sometimes wraps its output in.
func ExtractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}

	var contentBuilder strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			contentBuilder.WriteString(string(txt))
		}
	}
	return TrimFences(contentBuilder.String())
}

// TrimFences removes a surrounding ```json / ```markdown / ``` fence.
func TrimFences(content string) string {
	content = strings.TrimSpace(content)
	for _, fence := range []string{"```json", "```markdown", "```"} {
		if strings.HasPrefix(content, fence) {
			content = strings.TrimPrefix(content, fence)
			break
		}
	}
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"i can't help with",
	"as a large language model",
}

// IsRefusal reports whether the opening of a response is a model refusal.
func IsRefusal(content string) bool {
	head := strings.ToLower(content)
	if len(head) > 200 {
		head = head[:200]
	}
	for _, phrase := range refusalPhrases {
		if strings.Contains(head, phrase) {
			return true
		}
	}
	return false
}
