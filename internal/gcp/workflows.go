package gcp

import (
	"context"
	"encoding/json"
	"fmt"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
)

// NewExecutionsClient creates a Workflows Executions client.
func NewExecutionsClient(ctx context.Context) (*executions.Client, error) {
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	return client, nil
}

// WorkflowName returns the fully qualified workflow resource name.
func WorkflowName(projectID, location, workflowID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID)
}

// TriggerWorkflow starts an execution of workflow with payload as its JSON
// argument and returns the execution name.
func TriggerWorkflow(ctx context.Context, client *executions.Client, workflow string, payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	exec, err := client.CreateExecution(ctx, &executionspb.CreateExecutionRequest{
		Parent:    workflow,
		Execution: &executionspb.Execution{Argument: string(b)},
	})
	if err != nil {
		return "", fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	return exec.GetName(), nil
}
