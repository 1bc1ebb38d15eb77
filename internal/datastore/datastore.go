// Package datastore is the only code allowed to read or modify document
// records. Stage functions describe what they produced as a Patch and the
// facade applies it as a partial update, serialized per document.
package datastore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/Lllllllleong/iepdocumentflow/internal/models"
)

// Facade is the data access contract used by every pipeline component.
type Facade interface {
	// CreateDocument writes the initial PROCESSING record. If a record already
	// exists and is still being processed it returns models.ErrExecutionActive,
	// and a redelivery of an already processed upload returns
	// models.ErrDuplicateUpload. Otherwise a terminal record is reset for re-processing.
	CreateDocument(ctx context.Context, doc NewDocument) (string, error)
	// UpdateStage applies a partial update. It never replaces the record.
	UpdateStage(ctx context.Context, documentID string, patch Patch) error
	// SetStatus moves the document along the status machine.
	SetStatus(ctx context.Context, documentID string, status models.Status, opts ...StatusOption) error
	GetDocument(ctx context.Context, documentID string) (*models.Document, error)
	// RecordMissingInfo replaces the findings without touching any other field.
	// A non-empty executionID rejects the write unless it is the record's
	// current execution.
	RecordMissingInfo(ctx context.Context, documentID string, findings []models.Finding, executionID string) error
	// ClaimExecution takes the run lease of a non-terminal document for the
	// claim's execution and returns the record as read. While another run
	// holds an unexpired lease it returns models.ErrExecutionRunning. A
	// terminal record is returned without being claimed.
	ClaimExecution(ctx context.Context, documentID string, claim Claim) (*models.Document, error)
	// RenewClaim extends a held lease. It fails with a PersistenceConflict once
	// the lease was taken over or the document became terminal.
	RenewClaim(ctx context.Context, documentID string, claim Claim) error
	// ReleaseClaim drops the lease if the claim still holds it.
	ReleaseClaim(ctx context.Context, documentID string, claim Claim) error
	// ListStale returns non-terminal documents not updated since before.
	ListStale(ctx context.Context, before time.Time, limit int) ([]*models.Document, error)
	// ListOrphanedSources returns terminal documents that still reference a source object.
	ListOrphanedSources(ctx context.Context, limit int) ([]*models.Document, error)
}

// NewDocument describes the record the ingestion trigger creates.
type NewDocument struct {
	DocumentID       string
	UserID           string
	ChildID          string
	ExecutionID      string
	SourceLocation   string
	SourceGeneration string
	ContentType      string
	OriginalFilename string
	Retention        time.Duration
}

// Patch is a partial update of a document. Zero-valued fields are left untouched.
type Patch struct {
	// ExecutionID, when set, must match the record's current execution.
	ExecutionID     string
	Stage           string
	OCRText         map[string]string
	PageCount       int
	PIIRedactedText *string
	ClearSource     bool
	Sections        map[string][]models.Section
	Summaries       map[string]string
	Languages       []string
}

// Claim identifies one running attempt of an execution. A redelivered
// execution gets a new RunID.
type Claim struct {
	ExecutionID string
	RunID       string
	TTL         time.Duration
}

// ErrorDetail is the failure recorded on a FAILED document.
type ErrorDetail struct {
	Kind    models.ErrorKind
	Stage   string
	Message string
}

type statusOptions struct {
	executionID string
	detail      *ErrorDetail
	override    bool
}

// StatusOption customizes SetStatus.
type StatusOption func(*statusOptions)

// WithErrorDetail records why a document failed.
func WithErrorDetail(detail ErrorDetail) StatusOption {
	return func(o *statusOptions) { o.detail = &detail }
}

// WithExecution rejects the write unless it comes from the record's current execution.
func WithExecution(executionID string) StatusOption {
	return func(o *statusOptions) { o.executionID = executionID }
}

// WithOverride allows a terminal document to move back to PROCESSING.
// Only explicit re-processing may use it.
func WithOverride() StatusOption {
	return func(o *statusOptions) { o.override = true }
}

// cleanupOnly reports whether the patch only releases the source object,
// which is still allowed once a document is terminal.
func (p Patch) cleanupOnly() bool {
	return p.ClearSource && p.Stage == "" && p.OCRText == nil && p.PageCount == 0 &&
		p.PIIRedactedText == nil && p.Sections == nil && p.Summaries == nil && p.Languages == nil
}

// duplicateUpload reports whether d re-delivers the upload that produced doc.
func duplicateUpload(doc *models.Document, d NewDocument) bool {
	return d.SourceGeneration != "" && doc.SourceGeneration == d.SourceGeneration
}

const facadeStage = "datastore"

func checkStatus(doc *models.Document, id string, to models.Status, o statusOptions) error {
	if err := checkExecution(doc, id, o.executionID); err != nil {
		return err
	}
	if o.override && doc.Status.Terminal() && to == models.StatusProcessing {
		return nil
	}
	if !models.CanTransition(doc.Status, to) {
		return models.Conflict(facadeStage, fmt.Errorf("document %s cannot move from %s to %s", id, doc.Status, to))
	}
	return nil
}

func checkExecution(doc *models.Document, id, executionID string) error {
	if executionID != "" && doc.ExecutionID != executionID {
		return models.Conflict(facadeStage, fmt.Errorf("document %s belongs to execution %s, not %s", id, doc.ExecutionID, executionID))
	}
	return nil
}

// checkClaim decides whether c may take the lease of doc at now.
func checkClaim(doc *models.Document, id string, c Claim, now time.Time) error {
	if err := checkExecution(doc, id, c.ExecutionID); err != nil {
		return err
	}
	if doc.RunID != "" && doc.RunID != c.RunID && now.Before(doc.LeaseExpiresAt) {
		return fmt.Errorf("%s (run %s until %s): %w", id, doc.RunID, doc.LeaseExpiresAt.Format(time.RFC3339), models.ErrExecutionRunning)
	}
	return nil
}

func checkRenew(doc *models.Document, id string, c Claim) error {
	if err := checkExecution(doc, id, c.ExecutionID); err != nil {
		return err
	}
	if doc.RunID != c.RunID {
		return models.Conflict(facadeStage, fmt.Errorf("document %s lease is held by run %q, not %s", id, doc.RunID, c.RunID))
	}
	if doc.Status.Terminal() {
		return models.Conflict(facadeStage, fmt.Errorf("document %s is already %s", id, doc.Status))
	}
	return nil
}

func checkPatch(doc *models.Document, id string, p Patch) error {
	if err := checkExecution(doc, id, p.ExecutionID); err != nil {
		return err
	}
	if doc.Status.Terminal() && !p.cleanupOnly() {
		return models.Conflict(facadeStage, fmt.Errorf("document %s is %s and no longer accepts stage updates", id, doc.Status))
	}
	for lang := range p.OCRText {
		if lang != models.EnglishLanguage {
			return models.Conflict(facadeStage, fmt.Errorf("ocr text is only stored in English, got %q", lang))
		}
	}
	hasEnglishSections := len(p.Sections[models.EnglishLanguage]) > 0 || len(doc.Sections[models.EnglishLanguage]) > 0
	for lang := range p.Sections {
		if lang != models.EnglishLanguage && !hasEnglishSections {
			return models.Conflict(facadeStage, fmt.Errorf("sections.%s written before sections.en", lang))
		}
	}
	hasEnglishSummary := p.Summaries[models.EnglishLanguage] != "" || doc.Summaries[models.EnglishLanguage] != ""
	for lang := range p.Summaries {
		if lang != models.EnglishLanguage && !hasEnglishSummary {
			return models.Conflict(facadeStage, fmt.Errorf("summaries.%s written before summaries.en", lang))
		}
	}
	return nil
}

func initialDocument(d NewDocument, now time.Time) *models.Document {
	doc := &models.Document{
		DocumentID:       d.DocumentID,
		UserID:           d.UserID,
		ChildID:          d.ChildID,
		Status:           models.StatusProcessing,
		ExecutionID:      d.ExecutionID,
		SourceLocation:   d.SourceLocation,
		SourceGeneration: d.SourceGeneration,
		ContentType:      d.ContentType,
		OriginalFilename: d.OriginalFilename,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if d.Retention > 0 {
		doc.TTL = now.Add(d.Retention)
	}
	return doc
}

func cloneDocument(d *models.Document) *models.Document {
	out := *d
	out.OCRText = maps.Clone(d.OCRText)
	out.Summaries = maps.Clone(d.Summaries)
	out.Languages = slices.Clone(d.Languages)
	out.MissingInfo = slices.Clone(d.MissingInfo)
	if d.Sections != nil {
		out.Sections = make(map[string][]models.Section, len(d.Sections))
		for lang, sections := range d.Sections {
			out.Sections[lang] = cloneSections(sections)
		}
	}
	return &out
}

func cloneSections(sections []models.Section) []models.Section {
	out := slices.Clone(sections)
	for i := range out {
		out[i].SourcePageNumbers = slices.Clone(out[i].SourcePageNumbers)
	}
	return out
}
