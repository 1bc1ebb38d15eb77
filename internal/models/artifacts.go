package models

// Artifact names a piece of document state a stage consumes or produces.
type Artifact string

const (
	ArtifactSourceObject       Artifact = "sourceObject"
	ArtifactOCRText            Artifact = "ocrText.en"
	ArtifactRedactedText       Artifact = "piiRedactedText"
	ArtifactParsedSections     Artifact = "sections.en:parsed"
	ArtifactEnglishSummary     Artifact = "summaries.en"
	ArtifactMissingInfo        Artifact = "missingInfoFindings"
	ArtifactEnglishSections    Artifact = "sections.en"
	ArtifactLanguageDecision   Artifact = "languageDecision"
	ArtifactTranslatedSummary  Artifact = "summaries.target"
	ArtifactTranslatedSections Artifact = "sections.target"
	ArtifactSourceDeleted      Artifact = "sourceDeleted"
	ArtifactFinalRecord        Artifact = "finalRecord"
)
