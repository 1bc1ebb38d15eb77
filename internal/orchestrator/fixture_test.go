package orchestrator_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/iepdocumentflow/internal/datastore"
	"github.com/Lllllllleong/iepdocumentflow/internal/gcp"
	"github.com/Lllllllleong/iepdocumentflow/internal/models"
	"github.com/Lllllllleong/iepdocumentflow/internal/orchestrator"
	"github.com/Lllllllleong/iepdocumentflow/internal/pipelinetest"
	"github.com/Lllllllleong/iepdocumentflow/internal/profile"
	"github.com/Lllllllleong/iepdocumentflow/internal/services"
)

const parserOutput = `{
	"summary": "Your child gets extra reading help every week.",
	"sections": [
		{"name": "Student Strengths", "content": "Curious reader who enjoys science projects and drawing.", "pages": [1]},
		{"name": "Annual Goals", "content": "Read 90 words per minute with 95 percent accuracy by June.", "pages": [2]},
		{"name": "Special Education Services", "content": "Reading intervention 30 minutes, 4 times per week.", "pages": [2]}
	]
}`

// recordingStore remembers every status a document moved through.
type recordingStore struct {
	*datastore.MemoryStore
	mu       sync.Mutex
	statuses []models.Status
}

func (s *recordingStore) SetStatus(ctx context.Context, id string, status models.Status, opts ...datastore.StatusOption) error {
	err := s.MemoryStore.SetStatus(ctx, id, status, opts...)
	if err == nil {
		s.mu.Lock()
		s.statuses = append(s.statuses, status)
		s.mu.Unlock()
	}
	return err
}

func (s *recordingStore) history() []models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Status(nil), s.statuses...)
}

// pipeline is a fully in-memory deployment of the workflow.
type pipeline struct {
	store      *recordingStore
	objects    *pipelinetest.Objects
	profiles   profile.Static
	ocr        services.TextGenerator
	pii        services.TextGenerator
	parser     services.TextGenerator
	missing    services.TextGenerator
	translator services.TextGenerator
	policy     orchestrator.Policy
}

func newPipeline() *pipeline {
	return &pipeline{
		store:      &recordingStore{MemoryStore: datastore.NewMemoryStore()},
		objects:    pipelinetest.NewObjects(),
		profiles:   profile.Static{"user-es": "es-MX", "user-en": "en"},
		ocr:        pipelinetest.Fixed("Student: Maria Lopez\nStrengths: curious reader\nGoals: read fluently"),
		pii:        pipelinetest.Fixed(`[{"text":"Maria Lopez","type":"NAME"}]`),
		parser:     pipelinetest.Fixed(parserOutput),
		missing:    pipelinetest.Fixed(`[{"section":"goals","description":"Goals do not say how progress is measured."}]`),
		translator: spanishTranslator(),
		policy: orchestrator.Policy{
			MaxAttempts:      3,
			InitialBackoff:   time.Millisecond,
			MaxBackoff:       2 * time.Millisecond,
			StageTimeout:     2 * time.Second,
			ExecutionTimeout: 10 * time.Second,
		},
	}
}

func (p *pipeline) build(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()
	o, err := orchestrator.NewFromDependencies(p.dependencies(), orchestrator.Config{Policy: p.policy, OCRConcurrency: 2})
	if err != nil {
		t.Fatalf("NewFromDependencies failed: %v", err)
	}
	return o
}

func (p *pipeline) dependencies() orchestrator.Dependencies {
	return orchestrator.Dependencies{
		Store:       p.store,
		Objects:     p.objects,
		Profiles:    p.profiles,
		OCR:         p.ocr,
		PII:         p.pii,
		Parser:      p.parser,
		MissingInfo: p.missing,
		Translator:  p.translator,
	}
}

// upload stores a source image and creates its document record as the
// ingestion trigger would.
func (p *pipeline) upload(t *testing.T, docID, userID string) models.ExecutionRequest {
	t.Helper()
	req := models.ExecutionRequest{
		DocumentID:     docID,
		UserID:         userID,
		ChildID:        "child-1",
		ExecutionID:    "exec-" + docID,
		SourceLocation: "gs://iep-uploads/uploads/" + userID + "/child-1/" + docID + "/iep.png",
		ContentType:    "image/png",
	}
	p.objects.Put(req.SourceLocation, pipelinetest.PNG)
	_, err := p.store.CreateDocument(context.Background(), datastore.NewDocument{
		DocumentID:     req.DocumentID,
		UserID:         req.UserID,
		ChildID:        req.ChildID,
		ExecutionID:    req.ExecutionID,
		SourceLocation: req.SourceLocation,
		ContentType:    req.ContentType,
	})
	if err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	return req
}

func (p *pipeline) document(t *testing.T, docID string) *models.Document {
	t.Helper()
	doc, err := p.store.GetDocument(context.Background(), docID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	return doc
}

// spanishTranslator prefixes every translated value with "ES ".
func spanishTranslator() *pipelinetest.Generator {
	return pipelinetest.NewGenerator(func(_ int, p gcp.Prompt) (string, error) {
		if !strings.Contains(p.Instruction, "JSON array") {
			return "ES " + p.Text, nil
		}
		var sections []map[string]string
		if err := json.Unmarshal([]byte(p.Text), &sections); err != nil {
			return "", err
		}
		for _, s := range sections {
			s["displayName"] = "ES " + s["displayName"]
			s["content"] = "ES " + s["content"]
		}
		out, err := json.Marshal(sections)
		return string(out), err
	})
}

// blockingGenerator waits for its context the first block times, then answers.
type blockingGenerator struct {
	mu    sync.Mutex
	block int
	calls int
	out   string
}

func (g *blockingGenerator) Generate(ctx context.Context, _ gcp.Prompt) (string, error) {
	g.mu.Lock()
	g.calls++
	blocked := g.calls <= g.block
	g.mu.Unlock()
	if blocked {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return g.out, nil
}

// gatedGenerator reports its first call on started and answers once release
// is closed.
type gatedGenerator struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	out     string
}

func newGatedGenerator(out string) *gatedGenerator {
	return &gatedGenerator{started: make(chan struct{}), release: make(chan struct{}), out: out}
}

func (g *gatedGenerator) Generate(ctx context.Context, _ gcp.Prompt) (string, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return g.out, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
