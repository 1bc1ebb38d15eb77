package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/iepdocumentflow/internal/gcp"
	"github.com/Lllllllleong/iepdocumentflow/internal/models"
	"github.com/Lllllllleong/iepdocumentflow/internal/orchestrator"
	"github.com/Lllllllleong/iepdocumentflow/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	triggerInstance *services.TriggerFunction
	inlineStarter   *orchestrator.LocalStarter
	once            sync.Once
	initErr         error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("HandleUpload", handleUpload)
}

func main() {}

// handleUpload is the Cloud Function entry point for GCS object-finalized events.
func handleUpload(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		// EXECUTION_MODE=inline runs the workflow inside this function instead
		// of starting a Cloud Workflows execution.
		if gcp.GetEnv("EXECUTION_MODE", "workflows") == "inline" {
			triggerInstance, inlineStarter, initErr = orchestrator.NewInlineTrigger(context.Background())
			return
		}
		triggerInstance, initErr = services.NewIngestTrigger(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent models.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "eventId", e.ID())
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	if err := triggerInstance.Process(ctx, gcsEvent); err != nil {
		return err
	}
	if inlineStarter != nil {
		inlineStarter.Wait()
	}
	return nil
}
