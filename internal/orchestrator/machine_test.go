package orchestrator_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Lllllllleong/iepdocumentflow/internal/models"
	"github.com/Lllllllleong/iepdocumentflow/internal/orchestrator"
	"github.com/Lllllllleong/iepdocumentflow/internal/services"
)

type declaredStage struct {
	name     string
	needs    []models.Artifact
	produces []models.Artifact
}

func (s declaredStage) Name() string { return s.name }

func (s declaredStage) Needs() []models.Artifact { return s.needs }

func (s declaredStage) Produces() []models.Artifact { return s.produces }

func (declaredStage) Run(context.Context, *models.StageRequest) error { return nil }

func TestWorkflowDefinitionValidation(t *testing.T) {
	p := newPipeline()
	language := services.NewLanguageEvaluator(p.profiles)

	tests := []struct {
		name    string
		mutate  func(s *orchestrator.Stages)
		wantErr string
	}{
		{name: "default definition", mutate: func(*orchestrator.Stages) {}},
		{
			name:    "missing stage",
			mutate:  func(s *orchestrator.Stages) { s.Transform = nil },
			wantErr: "no stage bound",
		},
		{
			name: "need produced later",
			mutate: func(s *orchestrator.Stages) {
				s.ParseStructure = declaredStage{
					name:     "ParseStructure",
					needs:    []models.Artifact{models.ArtifactEnglishSections},
					produces: []models.Artifact{models.ArtifactParsedSections, models.ArtifactEnglishSummary},
				}
			},
			wantErr: "needs sections.en",
		},
		{
			name: "parallel stages depending on each other",
			mutate: func(s *orchestrator.Stages) {
				s.TranslateSummary = declaredStage{
					name:     "TranslateSummary",
					needs:    []models.Artifact{models.ArtifactTranslatedSections},
					produces: []models.Artifact{models.ArtifactTranslatedSummary},
				}
			},
			wantErr: "needs sections.target",
		},
		{
			name: "final record never produced",
			mutate: func(s *orchestrator.Stages) {
				s.Combine = declaredStage{name: "Combine"}
			},
			wantErr: "never produces finalRecord",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stages := orchestrator.StagesFor(p.dependencies(), orchestrator.Config{})
			tt.mutate(&stages)
			_, err := orchestrator.NewWith(p.store, stages, language, p.policy)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("NewWith failed: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestPolicyFromEnv(t *testing.T) {
	t.Setenv("RETRY_MAX_ATTEMPTS", "6")
	t.Setenv("RETRY_INITIAL_BACKOFF", "250ms")
	t.Setenv("EXECUTION_TIMEOUT", "1h")
	t.Setenv("EXECUTION_LEASE_TTL", "90s")

	got := orchestrator.PolicyFromEnv()
	want := orchestrator.DefaultPolicy()
	want.MaxAttempts = 6
	want.InitialBackoff = 250 * time.Millisecond
	want.ExecutionTimeout = time.Hour
	want.LeaseTTL = 90 * time.Second
	if got != want {
		t.Errorf("PolicyFromEnv = %+v, want %+v", got, want)
	}
}
