package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Lllllllleong/labelflow/internal/extract"
	"github.com/Lllllllleong/labelflow/internal/inventory"
	"github.com/Lllllllleong/labelflow/internal/models"
	"github.com/Lllllllleong/labelflow/internal/registry"
)

// Returns puts previously dispensed units back into circulation.
type Returns struct {
	inv      *inventory.Inventory
	reg      registry.Registry
	splitter *Splitter
}

func NewReturns(inv *inventory.Inventory, reg registry.Registry, splitter *Splitter) *Returns {
	return &Returns{inv: inv, reg: reg, splitter: splitter}
}

// Process releases every code found in the returned document read from r,
// then splits its pages back into inventory. Pages without complete
// metadata are kept together in one unsorted document. Releasing first makes
// a failed return safe to repeat.
func (rt *Returns) Process(ctx context.Context, filename string, r io.Reader) (*models.ReturnResult, error) {
	clean, err := rt.inv.SanitizeName(filename)
	if err != nil {
		return nil, err
	}
	logCtx := slog.With("document", clean)
	logCtx.Info("Processing returned document.")

	staging, _, err := rt.inv.Stage(r)
	if err != nil {
		logCtx.Error("Rejected returned document", "error", err)
		return nil, fmt.Errorf("rejected %s: %w", clean, err)
	}
	defer os.Remove(staging)

	codec := rt.inv.Codec()
	texts, err := codec.PageTexts(staging)
	if err != nil {
		logCtx.Error("Failed to read returned document", "error", err)
		return nil, fmt.Errorf("failed to read %s: %w", clean, err)
	}
	var codes []string
	seen := make(map[string]bool)
	for _, text := range texts {
		if code, ok := extract.Code(text); ok && !seen[code] {
			seen[code] = true
			codes = append(codes, code)
		}
	}
	released, err := rt.reg.Release(ctx, codes)
	if err != nil {
		logCtx.Error("Failed to release codes", "error", err)
		return nil, fmt.Errorf("failed to release codes: %w", err)
	}
	logCtx.Info("Codes released.", "found", len(codes), "released", len(released))

	split, unsorted, err := rt.splitter.Ingest(ctx, staging, clean)
	if err != nil {
		return nil, err
	}
	return &models.ReturnResult{
		CodesFound:    len(codes),
		CodesReleased: len(released),
		Split:         *split,
		Unsorted:      unsorted,
	}, nil
}
