package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/iepdocumentflow/internal/datastore"
	"github.com/Lllllllleong/iepdocumentflow/internal/gcp"
	"github.com/Lllllllleong/iepdocumentflow/internal/profile"
	"github.com/Lllllllleong/iepdocumentflow/internal/services"
)

// Config holds configuration for the orchestrator function.
type Config struct {
	ProjectID        string
	VertexAIRegion   string
	VertexModel      string
	CollectionName   string
	UsersCollection  string
	UploadPrefix     string
	OCRConcurrency   int
	MinSectionLength int
	Retention        time.Duration
	Policy           Policy
}

// ConfigFromEnv loads Config from environment variables.
func ConfigFromEnv() (Config, error) {
	config := Config{
		ProjectID:        gcp.ProjectID(),
		VertexAIRegion:   gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		VertexModel:      gcp.GetEnv("VERTEX_MODEL", "gemini-1.5-pro"),
		CollectionName:   gcp.GetEnv("FIRESTORE_COLLECTION", "documents"),
		UsersCollection:  gcp.GetEnv("USERS_COLLECTION", "users"),
		UploadPrefix:     gcp.GetEnv("UPLOAD_PREFIX", "uploads"),
		OCRConcurrency:   gcp.GetEnvInt("OCR_CONCURRENCY", 8),
		MinSectionLength: gcp.GetEnvInt("MIN_SECTION_LENGTH", services.DefaultMinSectionLength),
		Retention:        gcp.GetEnvDuration("DOCUMENT_RETENTION", 365*24*time.Hour),
		Policy:           PolicyFromEnv(),
	}
	if config.ProjectID == "" {
		return Config{}, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	return config, nil
}

// Dependencies are the clients every stage is built from.
type Dependencies struct {
	Store    datastore.Facade
	Objects  services.ObjectStore
	Profiles profile.Reader
	// Generators per model role.
	OCR, PII, Parser, MissingInfo, Translator services.TextGenerator
}

// StagesFor binds the stage functions to deps.
func StagesFor(deps Dependencies, config Config) Stages {
	return Stages{
		ExtractText:       services.NewOCR(deps.Store, deps.Objects, deps.OCR, services.OCRConfig{Concurrency: config.OCRConcurrency}),
		RedactPII:         services.NewRedaction(deps.Store, deps.PII),
		DeleteSource:      services.NewSourceCleanup(deps.Store, deps.Objects),
		ParseStructure:    services.NewParser(deps.Store, deps.Parser),
		DetectMissingInfo: services.NewMissingInfo(deps.Store, services.NewMissingInfoDetector(deps.MissingInfo, config.MinSectionLength)),
		Transform:         services.NewTransform(deps.Store),
		TranslateSummary:  services.NewTranslateSummary(deps.Store, deps.Translator),
		TranslateSections: services.NewTranslateSections(deps.Store, deps.Translator),
		Combine:           services.NewCombine(deps.Store),
	}
}

// NewFromDependencies builds an orchestrator from already constructed clients.
func NewFromDependencies(deps Dependencies, config Config) (*Orchestrator, error) {
	return NewWith(deps.Store, StagesFor(deps, config), services.NewLanguageEvaluator(deps.Profiles), config.Policy)
}

// New creates the orchestrator and its GCP clients from the environment.
func New(ctx context.Context) (*Orchestrator, error) {
	config, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	deps, err := newDependencies(ctx, config)
	if err != nil {
		return nil, err
	}
	o, err := NewFromDependencies(deps, config)
	if err != nil {
		return nil, err
	}
	slog.Info("Orchestrator initialized.", "model", config.VertexModel, "maxAttempts", config.Policy.MaxAttempts, "executionTimeout", config.Policy.ExecutionTimeout.String())
	return o, nil
}

// NewInlineTrigger creates an ingestion trigger that runs executions in the
// same process, for deployments without a Cloud Workflows definition.
func NewInlineTrigger(ctx context.Context) (*services.TriggerFunction, *LocalStarter, error) {
	config, err := ConfigFromEnv()
	if err != nil {
		return nil, nil, err
	}
	deps, err := newDependencies(ctx, config)
	if err != nil {
		return nil, nil, err
	}
	o, err := NewFromDependencies(deps, config)
	if err != nil {
		return nil, nil, err
	}
	starter := NewLocalStarter(o)
	trigger := services.NewTriggerWith(deps.Store, starter, services.TriggerConfig{
		ProjectID:      config.ProjectID,
		CollectionName: config.CollectionName,
		UploadPrefix:   config.UploadPrefix,
		Retention:      config.Retention,
	})
	slog.Info("Inline ingestion trigger initialized.", "uploadPrefix", config.UploadPrefix)
	return trigger, starter, nil
}

func newDependencies(ctx context.Context, config Config) (Dependencies, error) {
	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return Dependencies{}, fmt.Errorf("failed to create firestore client: %w", err)
	}
	objects, err := gcp.NewGCSObjectStore(ctx)
	if err != nil {
		return Dependencies{}, err
	}
	vertexClient, err := gcp.NewVertexClient(ctx, config.ProjectID, config.VertexAIRegion, config.VertexModel)
	if err != nil {
		return Dependencies{}, fmt.Errorf("failed to create vertex client: %w", err)
	}

	return Dependencies{
		Store:       datastore.NewFirestoreStore(firestoreClient, config.CollectionName),
		Objects:     objects,
		Profiles:    profile.NewFirestoreReader(firestoreClient, config.UsersCollection),
		OCR:         gcp.NewModelGenerator(vertexClient.OCRModel, services.StageExtractText),
		PII:         gcp.NewModelGenerator(vertexClient.PIIModel, services.StageRedactPII),
		Parser:      gcp.NewModelGenerator(vertexClient.ParserModel, services.StageParseStructure),
		MissingInfo: gcp.NewModelGenerator(vertexClient.MissingInfoModel, services.StageDetectMissingInfo),
		Translator:  gcp.NewModelGenerator(vertexClient.TranslatorModel, "Translate"),
	}, nil
}
