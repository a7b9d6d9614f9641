package services

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"

	"github.com/Lllllllleong/labelflow/internal/gcp"
	"github.com/Lllllllleong/labelflow/internal/models"
)

// Publisher copies merged artifacts to a GCS bucket. A nil Publisher
// publishes nothing.
type Publisher struct {
	bucket     *storage.BucketHandle
	bucketName string
}

func NewPublisher(client *storage.Client, bucket string) *Publisher {
	if client == nil || bucket == "" {
		return nil
	}
	return &Publisher{bucket: client.Bucket(bucket), bucketName: bucket}
}

// Publish uploads the artifact under artifacts/<jobID>/ and returns its
// gs:// URI.
func (p *Publisher) Publish(ctx context.Context, jobID, artifactPath string) (string, error) {
	if p == nil || artifactPath == "" {
		return "", nil
	}
	object := fmt.Sprintf("artifacts/%s/%s", jobID, filepath.Base(artifactPath))
	if err := gcp.UploadFileAtomically(ctx, p.bucket, artifactPath, object); err != nil {
		return "", err
	}
	uri := fmt.Sprintf("gs://%s/%s", p.bucketName, object)
	slog.Info("Artifact published.", "jobId", jobID, "uri", uri)
	return uri, nil
}

// Notifier hands a finished job to the delivery side and returns a
// reference to the hand-off, if any.
type Notifier interface {
	Notify(ctx context.Context, res models.JobResult) (string, error)
}

// WorkflowNotifier starts a Cloud Workflows execution per finished job with
// the job result as its argument.
type WorkflowNotifier struct {
	client   *executions.Client
	workflow string
}

func NewWorkflowNotifier(client *executions.Client, projectID, location, workflowID string) *WorkflowNotifier {
	return &WorkflowNotifier{client: client, workflow: gcp.WorkflowName(projectID, location, workflowID)}
}

func (n *WorkflowNotifier) Notify(ctx context.Context, res models.JobResult) (string, error) {
	name, err := gcp.TriggerWorkflow(ctx, n.client, n.workflow, res)
	if err != nil {
		slog.Error("Failed to hand job to workflow", "jobId", res.JobID, "error", err)
		return "", err
	}
	slog.Info("Job handed to workflow.", "jobId", res.JobID, "execution", name)
	return name, nil
}

// LogNotifier only logs finished jobs.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, res models.JobResult) (string, error) {
	slog.Info("Job finished.",
		"jobId", res.JobID,
		"status", res.Status,
		"artifactPath", res.ArtifactPath,
		"artifactUri", res.ArtifactURI,
		"shortage", res.ShortageText,
		"error", res.Error)
	return "", nil
}
