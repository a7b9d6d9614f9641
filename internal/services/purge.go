package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/labelflow/internal/document"
	"github.com/Lllllllleong/labelflow/internal/extract"
	"github.com/Lllllllleong/labelflow/internal/inventory"
	"github.com/Lllllllleong/labelflow/internal/models"
	"github.com/Lllllllleong/labelflow/internal/registry"
)

// Purger removes pages whose codes are already registered.
type Purger struct {
	inv         *inventory.Inventory
	reg         registry.Registry
	concurrency int
}

func NewPurger(inv *inventory.Inventory, reg registry.Registry, concurrency int) *Purger {
	return &Purger{inv: inv, reg: reg, concurrency: max(concurrency, 1)}
}

// Sweep purges inventory against a fresh registry snapshot.
func (p *Purger) Sweep(ctx context.Context) (*models.PurgeStats, error) {
	snap, err := p.reg.ReadAll(ctx)
	if err != nil {
		slog.Error("Failed to read registry snapshot", "error", err)
		return nil, fmt.Errorf("failed to read registry snapshot: %w", err)
	}
	return p.Purge(ctx, snap)
}

// Purge drops every page whose code is in snap from every inventory
// document, deleting documents left without pages. Documents that cannot be
// read or rewritten are counted as scanned, logged and reported in Details.
func (p *Purger) Purge(ctx context.Context, snap registry.Snapshot) (*models.PurgeStats, error) {
	entries, err := p.inv.List(ctx)
	if err != nil {
		return nil, err
	}
	var (
		mu    sync.Mutex
		stats = &models.PurgeStats{}
	)
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.concurrency)
	for _, e := range entries {
		name := e.Name
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r := p.purgeOne(gctx, snap, name)
			mu.Lock()
			defer mu.Unlock()
			stats.FilesScanned++
			stats.PagesScanned += r.pages
			if r.skipped != "" {
				stats.Details = append(stats.Details, fmt.Sprintf("%s: skipped, %s", name, r.skipped))
				return nil
			}
			if r.dropped == 0 {
				return nil
			}
			stats.PagesDeleted += r.dropped
			if r.deleted {
				stats.FilesDeleted++
				stats.Details = append(stats.Details, fmt.Sprintf("%s: deleted, %d pages", name, r.dropped))
			} else {
				stats.FilesModified++
				stats.Details = append(stats.Details, fmt.Sprintf("%s: -%d of %d pages", name, r.dropped, r.pages))
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(stats.Details)
	slog.Info("Purge sweep finished.",
		"filesScanned", stats.FilesScanned,
		"filesModified", stats.FilesModified,
		"filesDeleted", stats.FilesDeleted,
		"pagesScanned", stats.PagesScanned,
		"pagesDeleted", stats.PagesDeleted)
	return stats, nil
}

type purgeResult struct {
	pages   int
	dropped int
	deleted bool
	skipped string
}

func (p *Purger) purgeOne(ctx context.Context, snap registry.Snapshot, name string) purgeResult {
	logCtx := slog.With("document", name)
	unlock := p.inv.Lock(name)
	defer unlock()

	texts, err := p.inv.Codec().PageTexts(p.inv.Path(name))
	if err != nil {
		logCtx.Warn("Skipping unreadable document.", "error", err)
		return purgeResult{skipped: "unreadable"}
	}
	drop := make(map[int]bool)
	for i, text := range texts {
		if code, ok := extract.Code(text); ok && snap.Has(code) {
			drop[i+1] = true
		}
	}
	r := purgeResult{pages: len(texts)}
	if len(drop) == 0 {
		return r
	}
	deleted, err := p.inv.Rewrite(ctx, name, document.Complement(len(texts), drop))
	if err != nil {
		logCtx.Warn("Failed to rewrite document, left untouched.", "error", err)
		r.skipped = "rewrite failed"
		return r
	}
	r.dropped = len(drop)
	r.deleted = deleted
	return r
}
