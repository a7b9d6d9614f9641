package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/Lllllllleong/labelflow/internal/document"
	"github.com/Lllllllleong/labelflow/internal/inventory"
	"github.com/Lllllllleong/labelflow/internal/models"
	"github.com/Lllllllleong/labelflow/internal/orderlog"
	"github.com/Lllllllleong/labelflow/internal/registry"
)

// Fulfiller runs whole orders against inventory. All registrations of one
// run share a unit of work that is committed once, after the artifact is
// written.
type Fulfiller struct {
	inv         *inventory.Inventory
	reg         registry.Registry
	consumer    *Consumer
	artifactDir string
	orders      *orderlog.Store
}

// NewFulfiller wires a Fulfiller. orders may be nil.
func NewFulfiller(inv *inventory.Inventory, reg registry.Registry, artifactDir string, orders *orderlog.Store) *Fulfiller {
	return &Fulfiller{
		inv:         inv,
		reg:         reg,
		consumer:    NewConsumer(inv),
		artifactDir: artifactDir,
		orders:      orders,
	}
}

// ArtifactDir is where merged artifacts are written.
func (f *Fulfiller) ArtifactDir() string { return f.artifactDir }

// Fulfill cuts the requested pages of every order line and merges them into
// one artifact. Lines with a bad quantity or a blank article or size are
// skipped. On error nothing of the run stays registered and every cut bundle
// is put back into inventory.
func (f *Fulfiller) Fulfill(ctx context.Context, jobID string, lines []models.OrderLine) (*models.FulfillmentResult, error) {
	logCtx := slog.With("jobId", jobID)
	logCtx.Info("Starting fulfillment.", "lines", len(lines))

	uow, err := f.reg.Begin(ctx)
	if err != nil {
		logCtx.Error("Failed to begin registry unit of work", "error", err)
		return nil, fmt.Errorf("failed to begin registry unit of work: %w", err)
	}

	var cuts []Cut
	res := &models.FulfillmentResult{Lines: []models.LineOutcome{}}
	for _, line := range lines {
		article := strings.TrimSpace(line.Article)
		size := strings.TrimSpace(line.Size)
		qty, ok := line.Quantity.Int()
		if !ok || article == "" || size == "" {
			res.SkippedLines++
			logCtx.Info("Skipping invalid order line.", "article", article, "size", size, "quantity", line.Quantity.String())
			continue
		}
		lineCtx := logCtx.With("article", article, "size", size, "quota", qty)

		candidates, err := f.inv.Locate(ctx, article, size)
		if err != nil {
			return nil, f.abort(ctx, lineCtx, uow, cuts, "failed to locate documents", err)
		}
		remaining := qty
		for _, name := range candidates {
			if remaining == 0 {
				break
			}
			r, err := f.consumer.Consume(ctx, uow, name, remaining)
			if err != nil {
				return nil, f.abort(ctx, lineCtx, uow, cuts, "failed to consume document", err)
			}
			if r.Cut != nil {
				cuts = append(cuts, *r.Cut)
				remaining -= r.Cut.Pages
			}
		}

		res.Lines = append(res.Lines, models.LineOutcome{
			Article:   article,
			Size:      size,
			Requested: qty,
			Sent:      qty - remaining,
			Shortage:  remaining,
		})
		if remaining > 0 {
			res.Shortages = append(res.Shortages, models.Shortage{Article: article, Size: size, Amount: remaining})
		}
		lineCtx.Info("Order line processed.", "candidates", len(candidates), "taken", qty-remaining, "shortage", remaining)
	}
	res.ShortageText = ShortageText(res.Shortages)

	if len(cuts) > 0 {
		artifact, pages, err := f.merge(cuts)
		if err != nil {
			return nil, f.abort(ctx, logCtx, uow, cuts, "failed to merge bundles", err)
		}
		if err := uow.Commit(); err != nil {
			_ = os.Remove(artifact)
			return nil, f.abort(ctx, logCtx, uow, cuts, "failed to commit registrations", err)
		}
		for _, c := range cuts {
			if err := os.Remove(c.Bundle); err != nil {
				logCtx.Warn("Failed to remove merged bundle.", "bundle", c.Bundle, "error", err)
			}
		}
		res.ArtifactPath = artifact
		res.PageCount = pages
		if fi, err := os.Stat(artifact); err == nil {
			logCtx.Info("Artifact written.", "artifact", artifact, "pages", pages, "size", humanize.Bytes(uint64(fi.Size())))
		}
	} else if err := uow.Commit(); err != nil {
		return nil, f.abort(ctx, logCtx, uow, nil, "failed to commit registrations", err)
	}

	if f.orders != nil {
		if err := f.orders.Record(ctx, jobID, res.Lines); err != nil {
			logCtx.Warn("Failed to write order log.", "error", err)
		}
	}
	logCtx.Info("Fulfillment finished.", "pages", res.PageCount, "shortages", len(res.Shortages), "skippedLines", res.SkippedLines)
	return res, nil
}

func (f *Fulfiller) merge(cuts []Cut) (string, int, error) {
	if err := os.MkdirAll(f.artifactDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create artifact dir: %w", err)
	}
	codec := f.inv.Codec()
	artifact := filepath.Join(f.artifactDir, document.UniqueToken()+codec.Ext())
	srcs := make([]string, len(cuts))
	var pages int
	for i, c := range cuts {
		srcs[i] = c.Bundle
		pages += c.Pages
	}
	if err := codec.Merge(srcs, artifact); err != nil {
		_ = os.Remove(artifact)
		return "", 0, err
	}
	return artifact, pages, nil
}

// abort rolls the run back: registrations are undone and every bundle is
// restored into inventory under a new name.
func (f *Fulfiller) abort(ctx context.Context, logCtx *slog.Logger, uow registry.UnitOfWork, cuts []Cut, message string, originalErr error) error {
	logCtx.Error(message, "error", originalErr)
	if err := uow.Rollback(); err != nil {
		logCtx.Error("CRITICAL: Failed to roll back registrations.", "rollbackError", err)
	}
	restoreCtx := context.WithoutCancel(ctx)
	for _, c := range cuts {
		e, err := f.inv.Restore(restoreCtx, c.Bundle)
		if err != nil {
			logCtx.Error("CRITICAL: Failed to restore bundle into inventory.", "bundle", c.Bundle, "error", err)
			continue
		}
		logCtx.Info("Bundle restored into inventory.", "document", e.Name, "pages", c.Pages)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

// ShortageText renders shortages one per line.
func ShortageText(shortages []models.Shortage) string {
	var b strings.Builder
	for i, s := range shortages {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s - размер: %s, не хватило: %d", s.Article, s.Size, s.Amount)
	}
	return b.String()
}
