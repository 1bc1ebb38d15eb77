package models

import "time"

// Document is the Firestore record for one uploaded IEP. Stage functions never
// write it directly; every mutation goes through the datastore facade.
type Document struct {
	DocumentID       string               `firestore:"documentId"`
	UserID           string               `firestore:"userId"`
	ChildID          string               `firestore:"childId,omitempty"`
	Status           Status               `firestore:"status"`
	CurrentStage     string               `firestore:"currentStage,omitempty"`
	ExecutionID      string               `firestore:"executionId,omitempty"` // For traceability
	RunID            string               `firestore:"runId,omitempty"`
	LeaseExpiresAt   time.Time            `firestore:"leaseExpiresAt,omitempty"`
	SourceLocation   string               `firestore:"sourceLocation,omitempty"`
	SourceGeneration string               `firestore:"sourceGeneration,omitempty"`
	ContentType      string               `firestore:"contentType,omitempty"`
	OriginalFilename string               `firestore:"originalFilename,omitempty"`
	PageCount        int                  `firestore:"pageCount,omitempty"`
	OCRText          map[string]string    `firestore:"ocrText,omitempty"`
	PIIRedactedText  string               `firestore:"piiRedactedText,omitempty"`
	Sections         map[string][]Section `firestore:"sections,omitempty"`
	Summaries        map[string]string    `firestore:"summaries,omitempty"`
	MissingInfo      []Finding            `firestore:"missingInfoFindings,omitempty"`
	Languages        []string             `firestore:"languages,omitempty"`
	ErrorKind        ErrorKind            `firestore:"errorKind,omitempty"`
	ErrorStage       string               `firestore:"errorStage,omitempty"`
	ErrorDetails     string               `firestore:"errorDetails,omitempty"`
	CreatedAt        time.Time            `firestore:"createdAt,omitempty"`
	UpdatedAt        time.Time            `firestore:"updatedAt,omitempty"`
	TTL              time.Time            `firestore:"ttl,omitempty"`
}

// Section is one canonical part of the structured IEP in a single language.
type Section struct {
	Name              string `firestore:"name" json:"name"`
	DisplayName       string `firestore:"displayName" json:"displayName"`
	Content           string `firestore:"content" json:"content"`
	SourcePageNumbers []int  `firestore:"sourcePageNumbers,omitempty" json:"sourcePageNumbers,omitempty"`
}

// Finding flags a section that lacks information a parent would need.
type Finding struct {
	Section     string `firestore:"section" json:"section"`
	DisplayName string `firestore:"displayName" json:"displayName"`
	Description string `firestore:"description" json:"description"`
	Source      string `firestore:"source" json:"source"`
}

// Finding sources.
const (
	FindingSourceBaseline = "baseline"
	FindingSourceModel    = "model"
)

// EnglishLanguage is the language every document is first produced in.
const EnglishLanguage = "en"

// HasEnglishContent reports whether both English sections and summary exist.
func (d *Document) HasEnglishContent() bool {
	return len(d.Sections[EnglishLanguage]) > 0 && d.Summaries[EnglishLanguage] != ""
}

// HasLanguage reports whether sections and summary exist for lang.
func (d *Document) HasLanguage(lang string) bool {
	return len(d.Sections[lang]) > 0 && d.Summaries[lang] != ""
}

// LanguageDecision is the output of the language branch: whether to translate
// and into which language. It is computed once per execution.
type LanguageDecision struct {
	Translate      bool   `json:"translate"`
	TargetLanguage string `json:"targetLanguage,omitempty"`
}
