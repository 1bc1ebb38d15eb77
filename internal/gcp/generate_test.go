package gcp_test

import (
	"strings"
	"testing"

	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/iepdocumentflow/internal/gcp"
)

func TestTrimFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"json fence", "```json\n[{\"a\":1}]\n```", `[{"a":1}]`},
		{"markdown fence", "```markdown\n# Title\n```", "# Title"},
		{"bare fence", "```\ntext\n```", "text"},
		{"no fence", "  plain text \n", "plain text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gcp.TrimFences(tt.in); got != tt.want {
				t.Errorf("TrimFences = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{
				genai.Text("```json\n{\"summary\":"),
				genai.Text("\"ok\"}\n```"),
			}},
		}},
	}
	if got := gcp.ExtractText(resp); got != `{"summary":"ok"}` {
		t.Errorf("ExtractText = %q", got)
	}
	if got := gcp.ExtractText(&genai.GenerateContentResponse{}); got != "" {
		t.Errorf("ExtractText(empty) = %q, want empty", got)
	}
	if got := gcp.ExtractText(nil); got != "" {
		t.Errorf("ExtractText(nil) = %q, want empty", got)
	}
}

func TestIsRefusal(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"I am unable to process this document.", true},
		{"As a large language model, I cannot", true},
		{"Student goals: reading fluency", false},
		{strings.Repeat("x", 300) + " i am unable to", false},
	}
	for _, tt := range tests {
		if got := gcp.IsRefusal(tt.in); got != tt.want {
			t.Errorf("IsRefusal(%.40q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseGCSURI(t *testing.T) {
	bucket, object, err := gcp.ParseGCSURI("gs://uploads-bucket/uploads/u1/c1/iep.pdf")
	if err != nil {
		t.Fatalf("ParseGCSURI failed: %v", err)
	}
	if bucket != "uploads-bucket" || object != "uploads/u1/c1/iep.pdf" {
		t.Errorf("got (%q, %q)", bucket, object)
	}
	if got := gcp.FormatGCSURI(bucket, object); got != "gs://uploads-bucket/uploads/u1/c1/iep.pdf" {
		t.Errorf("FormatGCSURI = %q", got)
	}

	for _, bad := range []string{"https://x/y", "gs://bucket", "gs:///object", "gs://bucket/"} {
		if _, _, err := gcp.ParseGCSURI(bad); err == nil {
			t.Errorf("ParseGCSURI(%q) succeeded, want error", bad)
		}
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("IEP_TEST_INT", "12")
	t.Setenv("IEP_TEST_BAD_INT", "twelve")
	t.Setenv("IEP_TEST_DURATION", "90s")

	if got := gcp.GetEnvInt("IEP_TEST_INT", 1); got != 12 {
		t.Errorf("GetEnvInt = %d, want 12", got)
	}
	if got := gcp.GetEnvInt("IEP_TEST_BAD_INT", 1); got != 1 {
		t.Errorf("GetEnvInt(bad) = %d, want fallback 1", got)
	}
	if got := gcp.GetEnvDuration("IEP_TEST_DURATION", 0); got.Seconds() != 90 {
		t.Errorf("GetEnvDuration = %v, want 90s", got)
	}
	if got := gcp.GetEnv("IEP_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("GetEnv = %q, want fallback", got)
	}
}
