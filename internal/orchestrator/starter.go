package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Lllllllleong/iepdocumentflow/internal/models"
)

// LocalStarter runs executions in-process instead of through Cloud Workflows.
type LocalStarter struct {
	orchestrator *Orchestrator
	wg           sync.WaitGroup
}

// NewLocalStarter creates a starter backed by o.
func NewLocalStarter(o *Orchestrator) *LocalStarter {
	return &LocalStarter{orchestrator: o}
}

// Start runs the execution on its own goroutine, detached from ctx's
// cancellation, and returns a local execution name.
func (s *LocalStarter) Start(ctx context.Context, req models.ExecutionRequest) (string, error) {
	runCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		resp, err := s.orchestrator.Run(runCtx, req)
		if err != nil {
			slog.Error("Local execution was not run", "documentId", req.DocumentID, "executionId", req.ExecutionID, "error", err)
			return
		}
		slog.Info("Local execution finished.", "documentId", req.DocumentID, "executionId", req.ExecutionID, "status", resp.Status)
	}()
	return "local/" + req.ExecutionID, nil
}

// Wait blocks until every started execution has finished.
func (s *LocalStarter) Wait() {
	s.wg.Wait()
}
