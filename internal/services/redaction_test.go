package services_test

import (
	"context"
	"strings"
	"testing"

	"github.com/Lllllllleong/iepdocumentflow/internal/datastore"
	"github.com/Lllllllleong/iepdocumentflow/internal/models"
	"github.com/Lllllllleong/iepdocumentflow/internal/pipelinetest"
	"github.com/Lllllllleong/iepdocumentflow/internal/services"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		entities []services.PIIEntity
		want     string
	}{
		{"email", "Contact jane.doe@example.com today", nil, "Contact [EMAIL] today"},
		{"ssn", "SSN 123-45-6789 on file", nil, "SSN [ID_NUMBER] on file"},
		{"phone", "Call (555) 123-4567 after school", nil, "Call [PHONE] after school"},
		{"date of birth", "DOB: 04/12/2015", nil, "[DATE_OF_BIRTH]"},
		{"student id", "Student ID: A12345", nil, "[ID_NUMBER]"},
		{
			"names longest first",
			"Maria Lopez reads well. Maria likes art.",
			[]services.PIIEntity{{Text: "Maria", Type: "NAME"}, {Text: "Maria Lopez", Type: "NAME"}},
			"[NAME] reads well. [NAME] likes art.",
		},
		{
			"address and unknown type",
			"Lives at 12 Oak St with Rex.",
			[]services.PIIEntity{{Text: "12 Oak St", Type: "address"}, {Text: "Rex", Type: "PET"}},
			"Lives at [ADDRESS] with [REDACTED].",
		},
		{
			"section vocabulary is kept",
			"Goals for Sam",
			[]services.PIIEntity{{Text: "Goals", Type: "NAME"}, {Text: "Sam", Type: "NAME"}},
			"Goals for [NAME]",
		},
		{
			"page markers and placeholders are kept",
			"[[page 1]]\n[NAME] attends class",
			[]services.PIIEntity{{Text: "[[page 1]]", Type: "ID_NUMBER"}, {Text: "[NAME]", Type: "NAME"}},
			"[[page 1]]\n[NAME] attends class",
		},
		{
			"short names only match whole words",
			"Ann: Measurable Annual Goals. Allan met Al and Ann's team.",
			[]services.PIIEntity{{Text: "Ann", Type: "NAME"}, {Text: "Al", Type: "NAME"}},
			"[NAME]: Measurable Annual Goals. Allan met [NAME] and [NAME]'s team.",
		},
		{
			"names next to punctuation and accents",
			"José, Josépha and (José) agreed.",
			[]services.PIIEntity{{Text: "José", Type: "NAME"}},
			"[NAME], Josépha and ([NAME]) agreed.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := services.Redact(tt.text, tt.entities)
			if got != tt.want {
				t.Errorf("Redact = %q, want %q", got, tt.want)
			}
			if again := services.Redact(got, tt.entities); again != got {
				t.Errorf("Redact is not idempotent: %q became %q", got, again)
			}
		})
	}
}

func TestRedactionRun(t *testing.T) {
	store := seed(t, datastore.Patch{
		OCRText:   map[string]string{models.EnglishLanguage: "[[page 1]]\nMaria Lopez, DOB: 1/2/2016, email mom@example.org"},
		PageCount: 1,
	})
	detector := pipelinetest.Fixed(`[{"text":"Maria Lopez","type":"NAME"}]`)

	if err := services.NewRedaction(store, detector).Run(context.Background(), stageRequest()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	doc := getDoc(t, store)
	want := "[[page 1]]\n[NAME], [DATE_OF_BIRTH], email [EMAIL]"
	if doc.PIIRedactedText != want {
		t.Errorf("piiRedactedText = %q, want %q", doc.PIIRedactedText, want)
	}
	if !strings.Contains(doc.OCRText[models.EnglishLanguage], "Maria") {
		t.Error("ocr text should be left untouched")
	}
}

func TestRedactionRunErrors(t *testing.T) {
	tests := []struct {
		name     string
		patches  []datastore.Patch
		detector *pipelinetest.Generator
		want     models.ErrorKind
	}{
		{"no ocr text", nil, pipelinetest.Fixed("[]"), models.KindValidationFailure},
		{
			"malformed model output",
			[]datastore.Patch{{OCRText: map[string]string{"en": "text"}}},
			pipelinetest.Fixed("names: Maria"),
			models.KindValidationFailure,
		},
		{
			"provider outage",
			[]datastore.Patch{{OCRText: map[string]string{"en": "text"}}},
			pipelinetest.Failing(models.Unavailable(services.StageRedactPII, context.DeadlineExceeded)),
			models.KindProviderUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seed(t, tt.patches...)
			err := services.NewRedaction(store, tt.detector).Run(context.Background(), stageRequest())
			if got := models.KindOf(err); got != tt.want {
				t.Errorf("kind = %q, want %q (err %v)", got, tt.want, err)
			}
			if getDoc(t, store).PIIRedactedText != "" {
				t.Error("redacted text written on failure")
			}
		})
	}
}

func TestRedactKeepsSectionHeadings(t *testing.T) {
	got := services.Redact("Annual Goals\nAnn will read grade-level text.", []services.PIIEntity{{Text: "Ann", Type: "NAME"}})
	heading, _, _ := strings.Cut(got, "\n")
	if _, _, ok := models.LookupSection(heading); !ok {
		t.Errorf("heading %q no longer resolves to a section (text %q)", heading, got)
	}
}
