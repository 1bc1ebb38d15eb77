package services_test

import (
	"context"
	"sync"
	"testing"

	"github.com/Lllllllleong/iepdocumentflow/internal/datastore"
	"github.com/Lllllllleong/iepdocumentflow/internal/models"
)

const (
	testDocID     = "doc-1"
	testExecution = "exec-1"
	testSource    = "gs://iep-uploads/uploads/user-1/child-1/doc-1/iep.png"
)

// seed creates a PROCESSING document and applies patches in order.
func seed(t *testing.T, patches ...datastore.Patch) *datastore.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := datastore.NewMemoryStore()
	_, err := store.CreateDocument(ctx, datastore.NewDocument{
		DocumentID:       testDocID,
		UserID:           "user-1",
		ChildID:          "child-1",
		ExecutionID:      testExecution,
		SourceLocation:   testSource,
		SourceGeneration: "1",
		ContentType:      "image/png",
	})
	if err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	for _, p := range patches {
		if err := store.UpdateStage(ctx, testDocID, p); err != nil {
			t.Fatalf("seed patch failed: %v", err)
		}
	}
	return store
}

func getDoc(t *testing.T, store datastore.Facade) *models.Document {
	t.Helper()
	doc, err := store.GetDocument(context.Background(), testDocID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	return doc
}

func stageRequest() *models.StageRequest {
	return &models.StageRequest{DocumentID: testDocID, ExecutionID: testExecution, SourceLocation: testSource}
}

func englishContent() datastore.Patch {
	return datastore.Patch{
		Sections: map[string][]models.Section{models.EnglishLanguage: {
			{Name: "strengths", DisplayName: "Strengths", Content: "Curious reader who enjoys science projects and drawing.", SourcePageNumbers: []int{1}},
			{Name: "goals", DisplayName: "Goals", Content: "Read 90 words per minute by June.", SourcePageNumbers: []int{2, 3}},
		}},
		Summaries: map[string]string{models.EnglishLanguage: "Your child gets reading support."},
	}
}

func strPtr(s string) *string { return &s }

type fakeStarter struct {
	mu   sync.Mutex
	reqs []models.ExecutionRequest
	err  error
}

func (s *fakeStarter) Start(ctx context.Context, req models.ExecutionRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.reqs = append(s.reqs, req)
	return "projects/p/locations/l/workflows/w/executions/" + req.ExecutionID, nil
}

func (s *fakeStarter) started() []models.ExecutionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ExecutionRequest(nil), s.reqs...)
}
