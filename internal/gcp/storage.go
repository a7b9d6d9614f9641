package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// UploadRetries is how many attempts UploadFileAtomically makes.
const UploadRetries = 4

// UploadFileAtomically copies a local file to a GCS object only if the object
// does not exist yet. An existing object is not a failure: artifact names are
// unique, so it can only be an earlier attempt of the same upload. Transient
// failures are retried with exponential backoff until ctx is done.
func UploadFileAtomically(ctx context.Context, bucket *storage.BucketHandle, localPath, objectName string) error {
	backoff := 1 * time.Second
	var lastErr error

	for i := 0; i < UploadRetries; i++ {
		err := func() error {
			f, err := os.Open(localPath)
			if err != nil {
				return fmt.Errorf("could not open local file %s: %w", localPath, err)
			}
			defer f.Close()

			writeCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
			defer cancel()

			w := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(writeCtx)
			if _, err := io.Copy(w, f); err != nil {
				_ = w.Close()
				return fmt.Errorf("io.Copy to GCS failed: %w", err)
			}
			if err := w.Close(); err != nil {
				return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
			}
			return nil
		}()
		if err == nil || isPreconditionFailed(err) {
			if err != nil {
				slog.Info("Object already exists, skipping upload.", "gcsObject", objectName)
			}
			return nil
		}

		lastErr = err
		slog.Warn("Upload failed, will retry.",
			"gcsObject", objectName,
			"attempt", i+1,
			"maxRetries", UploadRetries,
			"backoff", backoff.String(),
			"error", err,
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", objectName, "error", ctx.Err())
			return ctx.Err()
		}
	}
	return fmt.Errorf("upload for %s failed after all retries: %w", objectName, lastErr)
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 412
}

// DownloadObject streams a GCS object to destPath.
func DownloadObject(ctx context.Context, client *storage.Client, bucket, object, destPath string) (int64, error) {
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer r.Close()
	f, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create local file at %s: %w", destPath, err)
	}
	defer f.Close()
	n, err := io.Copy(f, r)
	if err != nil {
		return n, fmt.Errorf("failed to copy GCS object to local file: %w", err)
	}
	return n, nil
}

// GCSEvent is the payload of a GCS object event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}
