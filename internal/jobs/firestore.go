package jobs

import (
	"context"
	"log/slog"

	"cloud.google.com/go/firestore"

	"github.com/Lllllllleong/labelflow/internal/models"
)

// FirestoreMirror writes every job record to a Firestore collection, one
// document per job ID.
type FirestoreMirror struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreMirror returns nil when there is no client, and a nil mirror
// observes nothing.
func NewFirestoreMirror(client *firestore.Client, collection string) *FirestoreMirror {
	if client == nil || collection == "" {
		return nil
	}
	return &FirestoreMirror{client: client, collection: collection}
}

// Observe is an Observer. Mirror failures are logged and never fail a job.
func (m *FirestoreMirror) Observe(ctx context.Context, rec models.JobRecord) {
	if m == nil {
		return
	}
	if _, err := m.client.Collection(m.collection).Doc(rec.ID).Set(ctx, rec); err != nil {
		slog.Error("Failed to mirror job status", "jobId", rec.ID, "status", rec.Status, "error", err)
	}
}
