package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/iepdocumentflow/internal/services"
)

var (
	reaperInstance *services.ReaperFunction
	once           sync.Once
	initErr        error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleReap", handleReap)
}

func main() {}

// handleReap is invoked by Cloud Scheduler; the request body is ignored.
func handleReap(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		reaperInstance, initErr = services.NewReaper(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Reaper initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	res, err := reaperInstance.Process(r.Context())
	if err != nil {
		slog.Error("Reaper sweep failed", "error", err)
		http.Error(w, "Internal Server Error: sweep failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err)
		http.Error(w, "Internal Server Error: failed to encode response", http.StatusInternalServerError)
	}
}
