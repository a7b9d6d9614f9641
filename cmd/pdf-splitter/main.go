package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/labelflow/internal/config"
	"github.com/Lllllllleong/labelflow/internal/gcp"
	"github.com/Lllllllleong/labelflow/internal/services"
)

var (
	pdfSplitterInstance *services.PDFSplitterFunction
	once                sync.Once
	initErr             error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("SplitInbound", splitInbound)
}

// main is required by the Go Functions Framework.
func main() {}

// splitInbound is the Cloud Function entry point for objects finalized in
// the inbound bucket.
func splitInbound(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			initErr = err
			return
		}
		app, err := services.NewApp(context.Background(), cfg)
		if err != nil {
			initErr = err
			return
		}
		pdfSplitterInstance, initErr = services.NewPDFSplitter(app)
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent gcp.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Errors are logged with context inside Process; returning one marks the
	// invocation failed so the event is redelivered.
	return pdfSplitterInstance.Process(ctx, gcsEvent)
}
