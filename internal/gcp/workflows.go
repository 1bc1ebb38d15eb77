package gcp

import (
	"context"
	"encoding/json"
	"fmt"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/iepdocumentflow/internal/models"
)

// WorkflowStarter starts Cloud Workflows executions of the document workflow.
type WorkflowStarter struct {
	client *executions.Client
	parent string
}

// NewWorkflowStarter creates a starter for projects/<p>/locations/<l>/workflows/<w>.
func NewWorkflowStarter(ctx context.Context, projectID, location, workflowID string) (*WorkflowStarter, error) {
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	return &WorkflowStarter{
		client: client,
		parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID),
	}, nil
}

// Start creates one execution with req as its JSON argument and returns the
// execution's resource name.
func (s *WorkflowStarter) Start(ctx context.Context, req models.ExecutionRequest) (string, error) {
	payloadBytes, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	exec, err := s.client.CreateExecution(ctx, &executionspb.CreateExecutionRequest{
		Parent: s.parent,
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	})
	if err != nil {
		return "", ClassifyProviderError("IngestionTrigger", fmt.Errorf("failed to trigger workflow execution: %w", err))
	}
	return exec.GetName(), nil
}

func (s *WorkflowStarter) Close() error {
	return s.client.Close()
}
