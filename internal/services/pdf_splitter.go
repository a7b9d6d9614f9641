package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/labelflow/internal/document"
	"github.com/Lllllllleong/labelflow/internal/gcp"
	"github.com/Lllllllleong/labelflow/internal/inventory"
)

// PDFSplitterFunction ingests label documents dropped into the inbound
// bucket: each new object is split by variant straight into inventory.
type PDFSplitterFunction struct {
	storageClient *storage.Client
	inv           *inventory.Inventory
	splitter      *Splitter
}

func NewPDFSplitter(app *App) (*PDFSplitterFunction, error) {
	if app.Storage == nil {
		return nil, errors.New("INBOUND_BUCKET must be set for the inbound splitter")
	}
	f := &PDFSplitterFunction{
		storageClient: app.Storage,
		inv:           app.Inventory,
		splitter:      app.Splitter,
	}
	slog.Info("PDF Splitter logic initialized.", "inventory", app.Inventory.Root())
	return f, nil
}

func (f *PDFSplitterFunction) Process(ctx context.Context, e gcp.GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	logCtx.Info("Processing new GCS object.")

	ext := f.inv.Codec().Ext()
	base := path.Base(e.Name)
	if !strings.EqualFold(filepath.Ext(base), ext) || document.IsWorkingName(base) {
		logCtx.Info("Object is not an inbound document. Skipping.")
		return nil
	}
	name, err := f.inv.SanitizeName(base)
	if err != nil {
		logCtx.Warn("Object name rejected. Skipping.", "error", err)
		return nil
	}

	tempDir, err := os.MkdirTemp("", "pdf-splitter-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePath := filepath.Join(tempDir, "source"+ext)
	size, err := gcp.DownloadObject(ctx, f.storageClient, e.Bucket, e.Name, sourcePath)
	if err != nil {
		logCtx.Error("Failed to download source document", "error", err)
		return err
	}

	fileHash, err := calculateFileHash(sourcePath)
	if err != nil {
		logCtx.Error("Failed to calculate file hash", "error", err)
		return fmt.Errorf("failed to calculate file hash: %w", err)
	}
	logCtx = logCtx.With("fileHash", fileHash, "bytes", size)

	claimed, err := f.inv.ClaimSource(ctx, fileHash, fmt.Sprintf("gs://%s/%s", e.Bucket, e.Name))
	if err != nil {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return err
	}
	if !claimed {
		logCtx.Info("Duplicate file detected. Skipping.")
		return nil
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return f.handleError(ctx, logCtx, fileHash, "failed to open downloaded document", err)
	}
	staging, pages, err := f.inv.Stage(src)
	src.Close()
	if err != nil {
		return f.handleError(ctx, logCtx, fileHash, "document failed validation", err)
	}
	defer os.Remove(staging)
	logCtx.Info("Document validated.", "pageCount", pages)

	split, unsorted, err := f.splitter.Ingest(ctx, staging, name)
	if err != nil {
		return f.handleError(ctx, logCtx, fileHash, "failed to split document into inventory", err)
	}
	logCtx.Info("Inbound document split into inventory.",
		"groups", len(split.Outputs), "skipped", split.Skipped, "unsorted", unsorted)
	return nil
}

// handleError logs the failure and drops the source claim so a redelivered
// event can retry.
func (f *PDFSplitterFunction) handleError(ctx context.Context, logCtx *slog.Logger, fileHash, message string, originalErr error) error {
	logCtx.Error(message, "error", originalErr)
	if err := f.inv.UnclaimSource(context.WithoutCancel(ctx), fileHash); err != nil {
		logCtx.Error("CRITICAL: Failed to drop source claim after a processing error.", "unclaimError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
