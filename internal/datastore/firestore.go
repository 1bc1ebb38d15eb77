package datastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/iepdocumentflow/internal/gcp"
	"github.com/Lllllllleong/iepdocumentflow/internal/models"
	"google.golang.org/api/iterator"
)

// FirestoreStore implements Facade on a Firestore collection keyed by documentId.
// Every mutation runs in a transaction so concurrent writes to one document
// are serialized and each write lands completely or not at all.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore wraps client; collection defaults to "documents".
func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	if collection == "" {
		collection = "documents"
	}
	return &FirestoreStore{client: client, collection: collection}
}

func (s *FirestoreStore) ref(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

// readInTx loads the document inside tx, translating NotFound.
func readInTx(tx *firestore.Transaction, ref *firestore.DocumentRef) (*models.Document, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if gcp.IsNotFound(err) {
			return nil, fmt.Errorf("%s: %w", ref.ID, models.ErrDocumentNotFound)
		}
		return nil, err
	}
	var doc models.Document
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", ref.ID, err)
	}
	return &doc, nil
}

// runTx runs fn in a transaction and classifies transport failures so the
// orchestrator can retry them.
func (s *FirestoreStore) runTx(ctx context.Context, fn func(context.Context, *firestore.Transaction) error) error {
	err := s.client.RunTransaction(ctx, fn)
	if err == nil {
		return nil
	}
	var se *models.StageError
	if errors.As(err, &se) || errors.Is(err, models.ErrDocumentNotFound) || errors.Is(err, models.ErrExecutionActive) || errors.Is(err, models.ErrDuplicateUpload) || errors.Is(err, models.ErrExecutionRunning) {
		return err
	}
	return gcp.ClassifyProviderError(facadeStage, err)
}

func (s *FirestoreStore) CreateDocument(ctx context.Context, d NewDocument) (string, error) {
	if d.DocumentID == "" {
		return "", fmt.Errorf("document id must be provided")
	}
	ref := s.ref(d.DocumentID)
	err := s.runTx(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := readInTx(tx, ref)
		if err != nil && !errors.Is(err, models.ErrDocumentNotFound) {
			return err
		}
		now := time.Now().UTC()
		if existing == nil {
			return tx.Create(ref, initialDocument(d, now))
		}
		if !existing.Status.Terminal() {
			return fmt.Errorf("%s (execution %s): %w", d.DocumentID, existing.ExecutionID, models.ErrExecutionActive)
		}
		if duplicateUpload(existing, d) {
			return fmt.Errorf("%s (generation %s): %w", d.DocumentID, d.SourceGeneration, models.ErrDuplicateUpload)
		}
		if err := checkStatus(existing, d.DocumentID, models.StatusProcessing, statusOptions{override: true}); err != nil {
			return err
		}
		// Re-processing: the record is re-initialised, derived fields from the
		// previous run are dropped so stale translations cannot survive.
		reset := initialDocument(d, now)
		reset.CreatedAt = existing.CreatedAt
		return tx.Set(ref, reset)
	})
	if err != nil {
		return d.DocumentID, err
	}
	return d.DocumentID, nil
}

func (s *FirestoreStore) UpdateStage(ctx context.Context, documentID string, p Patch) error {
	ref := s.ref(documentID)
	return s.runTx(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := readInTx(tx, ref)
		if err != nil {
			return err
		}
		if err := checkPatch(doc, documentID, p); err != nil {
			return err
		}
		return tx.Update(ref, patchUpdates(p))
	})
}

// patchUpdates converts a Patch into field-path updates so only the named
// fields (and only the named languages) are written.
func patchUpdates(p Patch) []firestore.Update {
	updates := []firestore.Update{
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	}
	if p.Stage != "" {
		updates = append(updates, firestore.Update{Path: "currentStage", Value: p.Stage})
	}
	for lang, text := range p.OCRText {
		updates = append(updates, firestore.Update{Path: "ocrText." + lang, Value: text})
	}
	if p.PageCount > 0 {
		updates = append(updates, firestore.Update{Path: "pageCount", Value: p.PageCount})
	}
	if p.PIIRedactedText != nil {
		updates = append(updates, firestore.Update{Path: "piiRedactedText", Value: *p.PIIRedactedText})
	}
	if p.ClearSource {
		updates = append(updates, firestore.Update{Path: "sourceLocation", Value: firestore.Delete})
	}
	for lang, sections := range p.Sections {
		updates = append(updates, firestore.Update{Path: "sections." + lang, Value: sections})
	}
	for lang, summary := range p.Summaries {
		updates = append(updates, firestore.Update{Path: "summaries." + lang, Value: summary})
	}
	if p.Languages != nil {
		updates = append(updates, firestore.Update{Path: "languages", Value: p.Languages})
	}
	return updates
}

func (s *FirestoreStore) SetStatus(ctx context.Context, documentID string, status models.Status, opts ...StatusOption) error {
	var o statusOptions
	for _, opt := range opts {
		opt(&o)
	}
	ref := s.ref(documentID)
	return s.runTx(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := readInTx(tx, ref)
		if err != nil {
			return err
		}
		if err := checkStatus(doc, documentID, status, o); err != nil {
			return err
		}
		updates := []firestore.Update{
			{Path: "status", Value: string(status)},
			{Path: "updatedAt", Value: firestore.ServerTimestamp},
		}
		if o.detail != nil {
			updates = append(updates,
				firestore.Update{Path: "errorKind", Value: string(o.detail.Kind)},
				firestore.Update{Path: "errorStage", Value: o.detail.Stage},
				firestore.Update{Path: "errorDetails", Value: o.detail.Message},
			)
		}
		return tx.Update(ref, updates)
	})
}

func (s *FirestoreStore) GetDocument(ctx context.Context, documentID string) (*models.Document, error) {
	snap, err := s.ref(documentID).Get(ctx)
	if err != nil {
		if gcp.IsNotFound(err) {
			return nil, fmt.Errorf("%s: %w", documentID, models.ErrDocumentNotFound)
		}
		return nil, gcp.ClassifyProviderError(facadeStage, fmt.Errorf("failed to read document %s: %w", documentID, err))
	}
	var doc models.Document
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", documentID, err)
	}
	return &doc, nil
}

func (s *FirestoreStore) RecordMissingInfo(ctx context.Context, documentID string, findings []models.Finding, executionID string) error {
	ref := s.ref(documentID)
	if findings == nil {
		findings = []models.Finding{}
	}
	return s.runTx(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := readInTx(tx, ref)
		if err != nil {
			return err
		}
		if err := checkExecution(doc, documentID, executionID); err != nil {
			return err
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "missingInfoFindings", Value: findings},
			{Path: "updatedAt", Value: firestore.ServerTimestamp},
		})
	})
}

// ClaimExecution compares the lease against this process's clock. Runs of one
// execution are expected to live on hosts with roughly synchronized clocks;
// the lease TTL absorbs the skew.
func (s *FirestoreStore) ClaimExecution(ctx context.Context, documentID string, c Claim) (*models.Document, error) {
	ref := s.ref(documentID)
	var out *models.Document
	err := s.runTx(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := readInTx(tx, ref)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := checkClaim(doc, documentID, c, now); err != nil {
			return err
		}
		out = doc
		if doc.Status.Terminal() {
			return nil
		}
		doc.RunID = c.RunID
		doc.LeaseExpiresAt = now.Add(c.TTL)
		return tx.Update(ref, []firestore.Update{
			{Path: "runId", Value: c.RunID},
			{Path: "leaseExpiresAt", Value: doc.LeaseExpiresAt},
			{Path: "updatedAt", Value: firestore.ServerTimestamp},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FirestoreStore) RenewClaim(ctx context.Context, documentID string, c Claim) error {
	ref := s.ref(documentID)
	return s.runTx(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := readInTx(tx, ref)
		if err != nil {
			return err
		}
		if err := checkRenew(doc, documentID, c); err != nil {
			return err
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "leaseExpiresAt", Value: time.Now().UTC().Add(c.TTL)},
			{Path: "updatedAt", Value: firestore.ServerTimestamp},
		})
	})
}

func (s *FirestoreStore) ReleaseClaim(ctx context.Context, documentID string, c Claim) error {
	ref := s.ref(documentID)
	return s.runTx(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := readInTx(tx, ref)
		if err != nil {
			return err
		}
		if doc.RunID != c.RunID {
			return nil
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "runId", Value: firestore.Delete},
			{Path: "leaseExpiresAt", Value: firestore.Delete},
		})
	})
}

func (s *FirestoreStore) ListStale(ctx context.Context, before time.Time, limit int) ([]*models.Document, error) {
	query := s.client.Collection(s.collection).
		Where("status", "in", []string{string(models.StatusProcessing), string(models.StatusProcessingTranslations)}).
		Where("updatedAt", "<", before)
	if limit > 0 {
		query = query.Limit(limit)
	}
	return s.collect(ctx, query, nil)
}

func (s *FirestoreStore) ListOrphanedSources(ctx context.Context, limit int) ([]*models.Document, error) {
	query := s.client.Collection(s.collection).Where("sourceLocation", ">", "")
	docs, err := s.collect(ctx, query, func(d *models.Document) bool { return d.Status.Terminal() })
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (s *FirestoreStore) collect(ctx context.Context, query firestore.Query, keep func(*models.Document) bool) ([]*models.Document, error) {
	it := query.Documents(ctx)
	defer it.Stop()

	var out []*models.Document
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, gcp.ClassifyProviderError(facadeStage, fmt.Errorf("failed to query documents: %w", err))
		}
		var doc models.Document
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode document %s: %w", snap.Ref.ID, err)
		}
		if keep == nil || keep(&doc) {
			out = append(out, &doc)
		}
	}
	return out, nil
}
