package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Lllllllleong/iepdocumentflow/internal/datastore"
	"github.com/Lllllllleong/iepdocumentflow/internal/models"
	"github.com/Lllllllleong/iepdocumentflow/internal/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestParseObjectKey(t *testing.T) {
	tests := []struct {
		name    string
		object  string
		want    services.ObjectKey
		wantErr bool
	}{
		{
			name:   "explicit document id",
			object: "uploads/u1/c1/d1/iep.pdf",
			want:   services.ObjectKey{UserID: "u1", ChildID: "c1", DocumentID: "d1", Filename: "iep.pdf"},
		},
		{name: "outside prefix", object: "exports/u1/c1/d1/iep.pdf", wantErr: true},
		{name: "too short", object: "uploads/u1/iep.pdf", wantErr: true},
		{name: "too deep", object: "uploads/u1/c1/d1/extra/iep.pdf", wantErr: true},
		{name: "empty segment", object: "uploads/u1//d1/iep.pdf", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := services.ParseObjectKey("uploads", "bucket", tt.object)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseObjectKey = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseObjectKeyDerivesStableID(t *testing.T) {
	a, err := services.ParseObjectKey("uploads/", "bucket", "uploads/u1/c1/iep.pdf")
	if err != nil {
		t.Fatalf("ParseObjectKey failed: %v", err)
	}
	b, _ := services.ParseObjectKey("uploads", "bucket", "uploads/u1/c1/iep.pdf")
	c, _ := services.ParseObjectKey("uploads", "other-bucket", "uploads/u1/c1/iep.pdf")

	if a.DocumentID == "" || a.DocumentID != b.DocumentID {
		t.Errorf("ids differ across deliveries: %q vs %q", a.DocumentID, b.DocumentID)
	}
	if a.DocumentID == c.DocumentID {
		t.Error("different objects share a document id")
	}
	if a.UserID != "u1" || a.ChildID != "c1" {
		t.Errorf("owner = (%q, %q)", a.UserID, a.ChildID)
	}
}

func uploadEvent(generation string) models.GCSEvent {
	return models.GCSEvent{
		Bucket:      "iep-uploads",
		Name:        "uploads/user-1/child-1/doc-1/iep.pdf",
		ContentType: "application/pdf",
		Generation:  generation,
	}
}

func TestTriggerStartsOneExecution(t *testing.T) {
	ctx := context.Background()
	store := datastore.NewMemoryStore()
	starter := &fakeStarter{}
	trigger := services.NewTriggerWith(store, starter, services.TriggerConfig{})

	if err := trigger.Process(ctx, uploadEvent("1")); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	// Redelivery and a new upload while the first execution is active.
	if err := trigger.Process(ctx, uploadEvent("1")); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if err := trigger.Process(ctx, uploadEvent("2")); err != nil {
		t.Fatalf("upload during execution failed: %v", err)
	}

	started := starter.started()
	if len(started) != 1 {
		t.Fatalf("started %d executions, want 1", len(started))
	}
	doc, err := store.GetDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	req := started[0]
	if doc.Status != models.StatusProcessing || doc.ExecutionID != req.ExecutionID {
		t.Errorf("doc status %s execution %s, request execution %s", doc.Status, doc.ExecutionID, req.ExecutionID)
	}
	if req.UserID != "user-1" || req.ChildID != "child-1" || req.SourceLocation != "gs://iep-uploads/uploads/user-1/child-1/doc-1/iep.pdf" {
		t.Errorf("request = %+v", req)
	}
	if doc.OriginalFilename != "iep.pdf" || doc.SourceGeneration != "1" {
		t.Errorf("doc = %+v", doc)
	}
}

func TestTriggerReprocessesAfterTerminal(t *testing.T) {
	ctx := context.Background()
	store := datastore.NewMemoryStore()
	starter := &fakeStarter{}
	trigger := services.NewTriggerWith(store, starter, services.TriggerConfig{})

	if err := trigger.Process(ctx, uploadEvent("1")); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if err := store.SetStatus(ctx, "doc-1", models.StatusFailed); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if err := trigger.Process(ctx, uploadEvent("1")); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if len(starter.started()) != 1 {
		t.Fatal("redelivery of a finished upload started an execution")
	}
	if err := trigger.Process(ctx, uploadEvent("2")); err != nil {
		t.Fatalf("re-upload failed: %v", err)
	}

	started := starter.started()
	if len(started) != 2 || started[0].ExecutionID == started[1].ExecutionID {
		t.Fatalf("started = %+v", started)
	}
	doc, _ := store.GetDocument(ctx, "doc-1")
	if doc.Status != models.StatusProcessing || doc.ExecutionID != started[1].ExecutionID {
		t.Errorf("doc status %s execution %s", doc.Status, doc.ExecutionID)
	}
}

func TestTriggerMetadataOverrides(t *testing.T) {
	store := datastore.NewMemoryStore()
	starter := &fakeStarter{}
	trigger := services.NewTriggerWith(store, starter, services.TriggerConfig{UploadPrefix: "incoming"})

	e := models.GCSEvent{
		Bucket:   "b",
		Name:     "incoming/u1/c1/scan.png",
		Metadata: map[string]string{"documentId": "doc-meta", "childId": "c9"},
	}
	if err := trigger.Process(context.Background(), e); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	started := starter.started()
	if len(started) != 1 || started[0].DocumentID != "doc-meta" || started[0].ChildID != "c9" || started[0].UserID != "u1" {
		t.Errorf("started = %+v", started)
	}
}

func TestTriggerIgnoresForeignObjects(t *testing.T) {
	store := datastore.NewMemoryStore()
	starter := &fakeStarter{}
	trigger := services.NewTriggerWith(store, starter, services.TriggerConfig{})

	if err := trigger.Process(context.Background(), models.GCSEvent{Bucket: "b", Name: "thumbnails/x.png"}); err != nil {
		t.Errorf("Process = %v, want nil", err)
	}
	if len(starter.started()) != 0 {
		t.Error("started an execution for a foreign object")
	}
}

func TestTriggerStartFailureFailsDocument(t *testing.T) {
	ctx := context.Background()
	store := datastore.NewMemoryStore()
	starter := &fakeStarter{err: models.Unavailable(services.StageIngestionTrigger, status.Error(codes.Unavailable, "workflows down"))}
	trigger := services.NewTriggerWith(store, starter, services.TriggerConfig{})

	err := trigger.Process(ctx, uploadEvent("1"))
	if models.KindOf(err) != models.KindProviderUnavailable {
		t.Fatalf("err = %v, want ProviderUnavailable", err)
	}
	doc, _ := store.GetDocument(ctx, "doc-1")
	if doc.Status != models.StatusFailed || doc.ErrorStage != services.StageIngestionTrigger {
		t.Errorf("doc status %s stage %s", doc.Status, doc.ErrorStage)
	}
}

type failingCreateStore struct {
	datastore.Facade
}

func (failingCreateStore) CreateDocument(ctx context.Context, d datastore.NewDocument) (string, error) {
	return "", errors.New("firestore unavailable")
}

func TestTriggerFailsClosed(t *testing.T) {
	starter := &fakeStarter{}
	trigger := services.NewTriggerWith(failingCreateStore{datastore.NewMemoryStore()}, starter, services.TriggerConfig{})

	if err := trigger.Process(context.Background(), uploadEvent("1")); err == nil {
		t.Fatal("Process succeeded without a document record")
	}
	if len(starter.started()) != 0 {
		t.Error("started an execution without a document record")
	}
}
