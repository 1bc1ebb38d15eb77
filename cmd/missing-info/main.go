package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/iepdocumentflow/internal/gcp"
	"github.com/Lllllllleong/iepdocumentflow/internal/models"
	"github.com/Lllllllleong/iepdocumentflow/internal/services"
)

var (
	missingInfoInstance *services.MissingInfoService
	once                sync.Once
	initErr             error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleMissingInfo", handleMissingInfo)
}

func main() {}

// handleMissingInfo is the HTTP handler for the on-demand missing-info service.
func handleMissingInfo(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		missingInfoInstance, initErr = services.NewMissingInfoService(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Missing info service initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.MissingInfoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := missingInfoInstance.Process(r.Context(), &req)
	if err != nil {
		// Error is already logged with context in the Process method.
		status := gcp.HTTPStatusFor(err)
		http.Error(w, http.StatusText(status), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err, "documentId", req.DocumentID)
		http.Error(w, "Internal Server Error: failed to encode response", http.StatusInternalServerError)
	}
}
