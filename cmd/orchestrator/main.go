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
	"github.com/Lllllllleong/iepdocumentflow/internal/orchestrator"
)

var (
	orchestratorInstance *orchestrator.Orchestrator
	once                 sync.Once
	initErr              error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleExecution", handleExecution)
}

func main() {}

// handleExecution runs one workflow execution. Cloud Workflows calls it with
// the execution argument as the request body.
func handleExecution(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		orchestratorInstance, initErr = orchestrator.New(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Orchestrator initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.ExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := orchestratorInstance.Run(r.Context(), req)
	if err != nil {
		slog.Error("Execution was not run", "error", err, "documentId", req.DocumentID, "executionId", req.ExecutionID)
		http.Error(w, http.StatusText(gcp.HTTPStatusFor(err)), gcp.HTTPStatusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error(
			"Failed to write response",
			"error", err,
			"documentId", req.DocumentID,
			"executionId", req.ExecutionID,
		)
		http.Error(w, "Internal Server Error: failed to encode response", http.StatusInternalServerError)
	}
}
