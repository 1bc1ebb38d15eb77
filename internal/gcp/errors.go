package gcp

import (
	"context"
	"errors"
	"net"
	"net/http"

	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/iepdocumentflow/internal/models"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ClassifyProviderError maps an error returned by a Google Cloud client into
// the stage error taxonomy. Errors that already carry a kind are returned unchanged.
func ClassifyProviderError(stage string, err error) error {
	if err == nil {
		return nil
	}
	var se *models.StageError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.Unavailable(stage, err)
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return models.Rejected(stage, err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusTooManyRequests || gerr.Code == http.StatusRequestTimeout || gerr.Code >= 500 {
			return models.Unavailable(stage, err)
		}
		return models.Rejected(stage, err)
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted, codes.Internal, codes.Unknown:
			return models.Unavailable(stage, err)
		default:
			return models.Rejected(stage, err)
		}
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		return models.Unavailable(stage, err)
	}

	// Unrecognised provider failures are treated as transient; the retry
	// budget bounds the cost of being wrong.
	return models.Unavailable(stage, err)
}

// IsNotFound reports whether err is a gRPC NotFound.
func IsNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// IsAlreadyExists reports whether err is a gRPC AlreadyExists.
func IsAlreadyExists(err error) bool {
	return status.Code(err) == codes.AlreadyExists
}

// HTTPStatusFor maps an error to the status code an HTTP function returns.
func HTTPStatusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrDocumentNotFound):
		return http.StatusNotFound
	}
	switch models.KindOf(err) {
	case models.KindValidationFailure, models.KindProviderRejected:
		return http.StatusBadRequest
	case models.KindPersistenceConflict:
		return http.StatusConflict
	case models.KindProviderUnavailable, models.KindTimeout:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
