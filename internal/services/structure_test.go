package services_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/Lllllllleong/iepdocumentflow/internal/datastore"
	"github.com/Lllllllleong/iepdocumentflow/internal/gcp"
	"github.com/Lllllllleong/iepdocumentflow/internal/models"
	"github.com/Lllllllleong/iepdocumentflow/internal/pipelinetest"
	"github.com/Lllllllleong/iepdocumentflow/internal/services"
)

func TestStructureSections(t *testing.T) {
	in := []models.Section{
		{Name: "Annual Goals", DisplayName: "Annual Goals", Content: "Read fluently.", SourcePageNumbers: []int{3}},
		{Name: "strengths", DisplayName: "Strengths", Content: "Kind and curious.", SourcePageNumbers: []int{1}},
		{Name: "goals", DisplayName: "Goals", Content: "Write paragraphs.", SourcePageNumbers: []int{4, 3}},
		{Name: "Transportation", DisplayName: "Transportation", Content: "Bus route 4."},
	}

	got, dropped := services.StructureSections(in)
	want := []models.Section{
		{Name: "strengths", DisplayName: "Strengths", Content: "Kind and curious.", SourcePageNumbers: []int{1}},
		{Name: "goals", DisplayName: "Goals", Content: "Read fluently.\n\nWrite paragraphs.", SourcePageNumbers: []int{3, 4}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("StructureSections =\n%+v\nwant\n%+v", got, want)
	}
	if !reflect.DeepEqual(dropped, []string{"Transportation"}) {
		t.Errorf("dropped = %v", dropped)
	}

	again, dropped := services.StructureSections(got)
	if !reflect.DeepEqual(again, got) || len(dropped) != 0 {
		t.Errorf("StructureSections is not idempotent: %+v", again)
	}
}

func TestTransformRun(t *testing.T) {
	store := seed(t, datastore.Patch{
		Sections: map[string][]models.Section{models.EnglishLanguage: {
			{Name: "Services", DisplayName: "Services", Content: "Speech 30 min weekly."},
			{Name: "PLAAFP", DisplayName: "PLAAFP", Content: "Reads at grade 2."},
		}},
	})

	if err := services.NewTransform(store).Run(context.Background(), stageRequest()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	sections := getDoc(t, store).Sections[models.EnglishLanguage]
	if len(sections) != 2 || sections[0].Name != "present_levels" || sections[1].Name != "services" {
		t.Errorf("sections = %+v", sections)
	}
}

func TestTransformRejectsUnmappableSections(t *testing.T) {
	store := seed(t, datastore.Patch{
		Sections: map[string][]models.Section{models.EnglishLanguage: {{Name: "Lunch", DisplayName: "Lunch", Content: "Pizza"}}},
	})
	err := services.NewTransform(store).Run(context.Background(), stageRequest())
	if models.KindOf(err) != models.KindValidationFailure {
		t.Errorf("err = %v, want ValidationFailure", err)
	}
}

func TestParserRun(t *testing.T) {
	store := seed(t, datastore.Patch{
		OCRText:         map[string]string{models.EnglishLanguage: "ocr"},
		PageCount:       3,
		PIIRedactedText: strPtr("[[page 1]]\nPresent levels...\n[[page 2]]\nTransportation..."),
	})
	parser := pipelinetest.Fixed(`{
		"summary": "  Your child reads at a second grade level.  ",
		"sections": [
			{"name": "Present Levels of Performance", "content": "Reads at grade 2.", "pages": [2, 1, 2, 9]},
			{"name": "Transportation", "content": "Bus", "pages": []},
			{"name": "Goals", "content": "   ", "pages": [3]}
		]
	}`)

	if err := services.NewParser(store, parser).Run(context.Background(), stageRequest()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	doc := getDoc(t, store)
	want := []models.Section{
		{Name: "present_levels", DisplayName: "Present Levels", Content: "Reads at grade 2.", SourcePageNumbers: []int{1, 2}},
		{Name: "Transportation", DisplayName: "Transportation", Content: "Bus"},
	}
	if !reflect.DeepEqual(doc.Sections[models.EnglishLanguage], want) {
		t.Errorf("sections = %+v", doc.Sections[models.EnglishLanguage])
	}
	if doc.Summaries[models.EnglishLanguage] != "Your child reads at a second grade level." {
		t.Errorf("summary = %q", doc.Summaries[models.EnglishLanguage])
	}
	if prompts := parser.Prompts(); len(prompts) != 1 || prompts[0].Instruction != gcp.ParserUserPrompt {
		t.Errorf("unexpected prompts: %+v", prompts)
	}
}

func TestParserRunErrors(t *testing.T) {
	tests := []struct {
		name string
		out  string
	}{
		{"empty", ""},
		{"not json", "The IEP has goals."},
		{"no sections", `{"summary": "ok", "sections": []}`},
		{"no summary", `{"summary": "", "sections": [{"name": "Goals", "content": "Read"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seed(t, datastore.Patch{PIIRedactedText: strPtr("text")})
			err := services.NewParser(store, pipelinetest.Fixed(tt.out)).Run(context.Background(), stageRequest())
			if models.KindOf(err) != models.KindValidationFailure {
				t.Errorf("err = %v, want ValidationFailure", err)
			}
			if len(getDoc(t, store).Sections) != 0 {
				t.Error("sections written on failure")
			}
		})
	}
}
