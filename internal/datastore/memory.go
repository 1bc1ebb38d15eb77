package datastore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Lllllllleong/iepdocumentflow/internal/models"
)

// MemoryStore is an in-process Facade with the same semantics as the
// Firestore implementation. Each document has its own lock; there is no
// lock held across documents while a write is applied.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	mu  sync.Mutex
	doc *models.Document
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// SetClock replaces the store's time source.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) entry(id string, create bool) *memoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok && create {
		e = &memoryEntry{}
		s.entries[id] = e
	}
	return e
}

func (s *MemoryStore) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

// withDocument runs fn while holding the lock of an existing document.
func (s *MemoryStore) withDocument(id string, fn func(doc *models.Document) error) error {
	e := s.entry(id, false)
	if e == nil {
		return fmt.Errorf("%s: %w", id, models.ErrDocumentNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.doc == nil {
		return fmt.Errorf("%s: %w", id, models.ErrDocumentNotFound)
	}
	return fn(e.doc)
}

func (s *MemoryStore) CreateDocument(ctx context.Context, d NewDocument) (string, error) {
	if d.DocumentID == "" {
		return "", fmt.Errorf("document id must be provided")
	}
	now := s.clock()
	e := s.entry(d.DocumentID, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.doc != nil {
		if !e.doc.Status.Terminal() {
			return d.DocumentID, fmt.Errorf("%s (execution %s): %w", d.DocumentID, e.doc.ExecutionID, models.ErrExecutionActive)
		}
		if duplicateUpload(e.doc, d) {
			return d.DocumentID, fmt.Errorf("%s (generation %s): %w", d.DocumentID, d.SourceGeneration, models.ErrDuplicateUpload)
		}
		if err := checkStatus(e.doc, d.DocumentID, models.StatusProcessing, statusOptions{override: true}); err != nil {
			return "", err
		}
		reset := initialDocument(d, now)
		reset.CreatedAt = e.doc.CreatedAt
		e.doc = reset
		return d.DocumentID, nil
	}
	e.doc = initialDocument(d, now)
	return d.DocumentID, nil
}

func (s *MemoryStore) UpdateStage(ctx context.Context, documentID string, p Patch) error {
	now := s.clock()
	return s.withDocument(documentID, func(doc *models.Document) error {
		if err := checkPatch(doc, documentID, p); err != nil {
			return err
		}
		applyPatch(doc, p)
		doc.UpdatedAt = now
		return nil
	})
}

func applyPatch(doc *models.Document, p Patch) {
	if p.Stage != "" {
		doc.CurrentStage = p.Stage
	}
	for lang, text := range p.OCRText {
		if doc.OCRText == nil {
			doc.OCRText = make(map[string]string)
		}
		doc.OCRText[lang] = text
	}
	if p.PageCount > 0 {
		doc.PageCount = p.PageCount
	}
	if p.PIIRedactedText != nil {
		doc.PIIRedactedText = *p.PIIRedactedText
	}
	if p.ClearSource {
		doc.SourceLocation = ""
	}
	for lang, sections := range p.Sections {
		if doc.Sections == nil {
			doc.Sections = make(map[string][]models.Section)
		}
		doc.Sections[lang] = cloneSections(sections)
	}
	for lang, summary := range p.Summaries {
		if doc.Summaries == nil {
			doc.Summaries = make(map[string]string)
		}
		doc.Summaries[lang] = summary
	}
	if p.Languages != nil {
		doc.Languages = slices.Clone(p.Languages)
	}
}

func (s *MemoryStore) SetStatus(ctx context.Context, documentID string, status models.Status, opts ...StatusOption) error {
	var o statusOptions
	for _, opt := range opts {
		opt(&o)
	}
	now := s.clock()
	return s.withDocument(documentID, func(doc *models.Document) error {
		if err := checkStatus(doc, documentID, status, o); err != nil {
			return err
		}
		doc.Status = status
		if o.detail != nil {
			doc.ErrorKind = o.detail.Kind
			doc.ErrorStage = o.detail.Stage
			doc.ErrorDetails = o.detail.Message
		}
		doc.UpdatedAt = now
		return nil
	})
}

func (s *MemoryStore) GetDocument(ctx context.Context, documentID string) (*models.Document, error) {
	var out *models.Document
	err := s.withDocument(documentID, func(doc *models.Document) error {
		out = cloneDocument(doc)
		return nil
	})
	return out, err
}

func (s *MemoryStore) RecordMissingInfo(ctx context.Context, documentID string, findings []models.Finding, executionID string) error {
	now := s.clock()
	return s.withDocument(documentID, func(doc *models.Document) error {
		if err := checkExecution(doc, documentID, executionID); err != nil {
			return err
		}
		doc.MissingInfo = slices.Clone(findings)
		doc.UpdatedAt = now
		return nil
	})
}

func (s *MemoryStore) ClaimExecution(ctx context.Context, documentID string, c Claim) (*models.Document, error) {
	now := s.clock()
	var out *models.Document
	err := s.withDocument(documentID, func(doc *models.Document) error {
		if err := checkClaim(doc, documentID, c, now); err != nil {
			return err
		}
		if !doc.Status.Terminal() {
			doc.RunID = c.RunID
			doc.LeaseExpiresAt = now.Add(c.TTL)
			doc.UpdatedAt = now
		}
		out = cloneDocument(doc)
		return nil
	})
	return out, err
}

func (s *MemoryStore) RenewClaim(ctx context.Context, documentID string, c Claim) error {
	now := s.clock()
	return s.withDocument(documentID, func(doc *models.Document) error {
		if err := checkRenew(doc, documentID, c); err != nil {
			return err
		}
		doc.LeaseExpiresAt = now.Add(c.TTL)
		doc.UpdatedAt = now
		return nil
	})
}

func (s *MemoryStore) ReleaseClaim(ctx context.Context, documentID string, c Claim) error {
	return s.withDocument(documentID, func(doc *models.Document) error {
		if doc.RunID == c.RunID {
			doc.RunID = ""
			doc.LeaseExpiresAt = time.Time{}
		}
		return nil
	})
}

func (s *MemoryStore) ListStale(ctx context.Context, before time.Time, limit int) ([]*models.Document, error) {
	return s.list(limit, func(doc *models.Document) bool {
		return !doc.Status.Terminal() && doc.UpdatedAt.Before(before)
	}), nil
}

func (s *MemoryStore) ListOrphanedSources(ctx context.Context, limit int) ([]*models.Document, error) {
	return s.list(limit, func(doc *models.Document) bool {
		return doc.Status.Terminal() && doc.SourceLocation != ""
	}), nil
}

func (s *MemoryStore) list(limit int, match func(*models.Document) bool) []*models.Document {
	s.mu.Lock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	slices.Sort(ids)

	var out []*models.Document
	for _, id := range ids {
		if limit > 0 && len(out) >= limit {
			break
		}
		_ = s.withDocument(id, func(doc *models.Document) error {
			if match(doc) {
				out = append(out, cloneDocument(doc))
			}
			return nil
		})
	}
	return out
}
