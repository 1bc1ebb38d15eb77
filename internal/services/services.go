package services

import (
	"context"

	"github.com/Lllllllleong/iepdocumentflow/internal/gcp"
	"github.com/Lllllllleong/iepdocumentflow/internal/models"
)

// Stage names, as recorded in currentStage and errorStage.
const (
	StageExtractText       = "ExtractText"
	StageRedactPII         = "RedactPII"
	StageDeleteSource      = "DeleteSource"
	StageParseStructure    = "ParseStructure"
	StageDetectMissingInfo = "DetectMissingInfo"
	StageTransform         = "Transform"
	StageEvaluateLanguage  = "EvaluateLanguage"
	StageTranslateSummary  = "TranslateSummary"
	StageTranslateSections = "TranslateSections"
	StageCombine           = "Combine"
	StageIngestionTrigger  = "IngestionTrigger"
)

// TextGenerator is the contract the stages expect from an OCR/LLM/translation
// provider. Failures carry a models.ErrorKind.
type TextGenerator interface {
	Generate(ctx context.Context, p gcp.Prompt) (string, error)
}

// ObjectStore reads and deletes uploaded source objects.
type ObjectStore interface {
	Read(ctx context.Context, location string) ([]byte, error)
	Delete(ctx context.Context, location string) error
}

// ExecutionStarter starts one workflow execution and returns its name.
type ExecutionStarter interface {
	Start(ctx context.Context, req models.ExecutionRequest) (string, error)
}
