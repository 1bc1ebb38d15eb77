package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

// --- OCR Model Prompts ---
const OCRSystemPrompt = "You are an OCR engine for scanned school documents. You transcribe every word on the page exactly as written. You never summarize, translate or omit content."
const OCRUserPrompt = `Transcribe all text on the provided page.

Text: Preserve reading order, paragraphs and headings.
Tables: Render each table row on its own line with cells separated by " | ".
Checkboxes: Write [x] for checked and [ ] for unchecked boxes, followed by their label.
Handwriting: Transcribe legible handwriting; write [illegible] otherwise.

Return ONLY the transcribed text.`

// --- PII Model Prompts ---
const PIISystemPrompt = "You are a privacy filter for special education records. You find personally identifiable information so it can be removed. You must output your response as a valid JSON array."
const PIIUserPrompt = `Find every span of personally identifiable information in the document below.

Return a JSON array of objects with exactly two keys:
  - "text": the exact span as it appears in the document.
  - "type": one of "NAME", "ADDRESS", "EMAIL", "PHONE", "DATE_OF_BIRTH", "ID_NUMBER", "SCHOOL".

Include names of the student, parents, guardians and staff. Do not include section titles,
disability categories, service names or generic roles such as "Case Manager".
Return [] if there is nothing to remove.`

// --- Parser Model Prompts ---
const ParserSystemPrompt = "You are a specialist in Individualized Education Programs. You split an IEP into its standard sections and explain it to parents in plain language. You must output your response as valid JSON."
const ParserUserPrompt = `Analyze the IEP below. Page boundaries are marked with lines like "[[page 3]]".

Return a single JSON object with two keys:
  - "summary": a plain-language summary of the whole IEP for a parent, at about an 8th grade reading level.
  - "sections": an array of objects, each with:
      - "name": one of "Strengths", "Eligibility", "Present Levels", "Goals", "Services",
        "Accommodations", "Placement", "Key People", "Informed Consent".
      - "content": a plain-language explanation of that part of the IEP, in markdown.
      - "pages": the page numbers the section was taken from.

Only include a section if the document contains it. Do not invent information.`

// --- Missing Info Model Prompts ---
const MissingInfoSystemPrompt = "You review Individualized Education Programs for gaps a parent should ask the school about. You must output your response as a valid JSON array."
const MissingInfoUserPrompt = `Review the IEP sections below and list information that is missing or too vague
for a parent to understand what the school has committed to (for example goals without a way to measure
progress, services without minutes or frequency, or placement without a reason).

Return a JSON array of objects with exactly two keys:
  - "section": the section name.
  - "description": one sentence describing what is missing.
Return [] if nothing is missing.`

// --- Translator Model Prompts ---
const TranslatorSystemPrompt = "You are a professional translator of education documents for families. You translate faithfully, keep markdown formatting, and use plain, warm language."
const TranslateSummaryPrompt = `Translate the following text into the language with code %q.
Return ONLY the translated text.`
const TranslateSectionsPrompt = `Translate the "displayName" and "content" values of every object in the JSON array below
into the language with code %q. Keep the "name" values unchanged and keep the same number of objects in the same order.
Return ONLY the translated JSON array.`

// VertexClient holds all pre-configured generative models for the pipeline.
type VertexClient struct {
	OCRModel         *genai.GenerativeModel
	PIIModel         *genai.GenerativeModel
	ParserModel      *genai.GenerativeModel
	MissingInfoModel *genai.GenerativeModel
	TranslatorModel  *genai.GenerativeModel
	baseClient       *genai.Client
}

// NewVertexClient creates a new client holding all necessary models.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = "gemini-1.5-pro"
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	ocrModel := newModel(baseClient, modelName, OCRSystemPrompt, false)
	piiModel := newModel(baseClient, modelName, PIISystemPrompt, true)
	parserModel := newModel(baseClient, modelName, ParserSystemPrompt, true)
	missingInfoModel := newModel(baseClient, modelName, MissingInfoSystemPrompt, true)
	translatorModel := newModel(baseClient, modelName, TranslatorSystemPrompt, false)

	return &VertexClient{
		OCRModel:         ocrModel,
		PIIModel:         piiModel,
		ParserModel:      parserModel,
		MissingInfoModel: missingInfoModel,
		TranslatorModel:  translatorModel,
		baseClient:       baseClient,
	}, nil
}

func newModel(client *genai.Client, name, systemPrompt string, jsonOutput bool) *genai.GenerativeModel {
	model := client.GenerativeModel(name)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}
	// Low temp for deterministic output; stages must be safely re-runnable.
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.0),
	}
	if jsonOutput {
		model.GenerationConfig.ResponseMIMEType = "application/json"
	}
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}
	return model
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
