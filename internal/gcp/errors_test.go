package gcp_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/iepdocumentflow/internal/gcp"
	"github.com/Lllllllleong/iepdocumentflow/internal/models"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestClassifyProviderError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ErrorKind
	}{
		{"grpc unavailable", status.Error(codes.Unavailable, "backend down"), models.KindProviderUnavailable},
		{"grpc resource exhausted", status.Error(codes.ResourceExhausted, "quota"), models.KindProviderUnavailable},
		{"grpc invalid argument", status.Error(codes.InvalidArgument, "bad image"), models.KindProviderRejected},
		{"grpc permission denied", status.Error(codes.PermissionDenied, "no"), models.KindProviderRejected},
		{"wrapped grpc", fmt.Errorf("call: %w", status.Error(codes.Aborted, "retry")), models.KindProviderUnavailable},
		{"http 429", &googleapi.Error{Code: http.StatusTooManyRequests}, models.KindProviderUnavailable},
		{"http 503", &googleapi.Error{Code: http.StatusServiceUnavailable}, models.KindProviderUnavailable},
		{"http 400", &googleapi.Error{Code: http.StatusBadRequest}, models.KindProviderRejected},
		{"blocked", &genai.BlockedError{}, models.KindProviderRejected},
		{"deadline", fmt.Errorf("generate: %w", context.DeadlineExceeded), models.KindProviderUnavailable},
		{"already classified", models.Invalid("Parse", errors.New("bad json")), models.KindValidationFailure},
		{"unknown", errors.New("connection reset"), models.KindProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := gcp.ClassifyProviderError("OCR", tt.err)
			if kind := models.KindOf(got); kind != tt.want {
				t.Errorf("kind = %q, want %q (err %v)", kind, tt.want, got)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("classified error does not wrap the original")
			}
		})
	}
}

func TestClassifyProviderErrorPassesCancellation(t *testing.T) {
	err := gcp.ClassifyProviderError("OCR", context.Canceled)
	if !errors.Is(err, context.Canceled) || models.StageOf(err) != "" {
		t.Errorf("cancellation should pass through unchanged, got %v", err)
	}
	if gcp.ClassifyProviderError("OCR", nil) != nil {
		t.Error("nil error should stay nil")
	}
}

func TestHTTPStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("get: %w", models.ErrDocumentNotFound), http.StatusNotFound},
		{"invalid", models.Invalid("x", errors.New("e")), http.StatusBadRequest},
		{"conflict", models.Conflict("x", errors.New("e")), http.StatusConflict},
		{"unavailable", models.Unavailable("x", errors.New("e")), http.StatusServiceUnavailable},
		{"internal", errors.New("e"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gcp.HTTPStatusFor(tt.err); got != tt.want {
				t.Errorf("HTTPStatusFor = %d, want %d", got, tt.want)
			}
		})
	}
}
