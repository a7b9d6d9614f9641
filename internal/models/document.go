package models

import (
	"encoding/json"
	"time"
)

// Job statuses.
const (
	StatusQueued    = "QUEUED"
	StatusRunning   = "RUNNING"
	StatusDone      = "DONE"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
)

// JobRecord represents the status record of a fulfillment job. It is mirrored
// to Firestore when a project is configured.
type JobRecord struct {
	ID                  string             `firestore:"id" json:"id"`
	Status              string             `firestore:"status" json:"status"`
	ErrorDetails        string             `firestore:"errorDetails,omitempty" json:"error,omitempty"`
	LineCount           int                `firestore:"lineCount" json:"lineCount"`
	Result              *FulfillmentResult `firestore:"-" json:"result,omitempty"`
	ArtifactPath        string             `firestore:"artifactPath,omitempty" json:"-"`
	ShortageText        string             `firestore:"shortageText,omitempty" json:"-"`
	WorkflowExecutionID string             `firestore:"workflowExecutionId,omitempty" json:"workflowExecutionId,omitempty"`
	CallbackContext     json.RawMessage    `firestore:"-" json:"callbackContext,omitempty"`
	CreatedAt           time.Time          `firestore:"createdAt" json:"createdAt"`
	StartedAt           time.Time          `firestore:"startedAt,omitempty" json:"startedAt,omitempty"`
	FinishedAt          time.Time          `firestore:"finishedAt,omitempty" json:"finishedAt,omitempty"`
}

// Terminal reports whether status is final.
func Terminal(status string) bool {
	return status == StatusDone || status == StatusFailed || status == StatusCancelled
}

// JobResultOf builds the delivery hand-off of a finished job.
func JobResultOf(rec JobRecord) JobResult {
	jr := JobResult{
		JobID:           rec.ID,
		Status:          rec.Status,
		Error:           rec.ErrorDetails,
		CallbackContext: rec.CallbackContext,
	}
	if rec.Result != nil {
		jr.ArtifactPath = rec.Result.ArtifactPath
		jr.ArtifactURI = rec.Result.ArtifactURI
		jr.ShortageText = rec.Result.ShortageText
	}
	return jr
}
