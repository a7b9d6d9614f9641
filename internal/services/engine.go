package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/Lllllllleong/labelflow/internal/document"
	"github.com/Lllllllleong/labelflow/internal/extract"
	"github.com/Lllllllleong/labelflow/internal/inventory"
	"github.com/Lllllllleong/labelflow/internal/registry"
)

// Cut is a bundle of pages taken out of one inventory document.
type Cut struct {
	Source string
	Bundle string
	Pages  int
	Codes  []string
}

// ConsumeResult is the outcome of consuming one document.
type ConsumeResult struct {
	Cut        *Cut
	Duplicates int
	Shortage   int
}

// Consumer takes fresh pages out of inventory documents.
type Consumer struct {
	inv *inventory.Inventory
	seq atomic.Int64
}

func NewConsumer(inv *inventory.Inventory) *Consumer {
	return &Consumer{inv: inv}
}

// Consume takes up to quota pages with unregistered codes from the named
// document, in page order, registering their codes in uow. Pages whose code
// is already registered are removed from the document without counting
// toward quota. Pages without a code are left alone.
//
// An unreadable document, or one whose bundle cannot be written, yields the
// full quota as shortage and a nil error. Only registry failures are returned.
func (c *Consumer) Consume(ctx context.Context, uow registry.UnitOfWork, name string, quota int) (ConsumeResult, error) {
	if quota <= 0 {
		return ConsumeResult{}, nil
	}
	logCtx := slog.With("document", name, "quota", quota)

	unlock := c.inv.Lock(name)
	defer unlock()

	codec := c.inv.Codec()
	src := c.inv.Path(name)
	texts, err := codec.PageTexts(src)
	if err != nil {
		logCtx.Warn("Skipping unreadable document.", "error", err)
		return ConsumeResult{Shortage: quota}, nil
	}

	sp := fmt.Sprintf("doc_%d", c.seq.Add(1))
	if err := uow.Savepoint(ctx, sp); err != nil {
		return ConsumeResult{}, fmt.Errorf("failed to mark savepoint for %s: %w", name, err)
	}

	var (
		taken []int
		codes []string
		dups  int
		drop  = make(map[int]bool)
	)
	for i, text := range texts {
		if len(taken) == quota {
			break
		}
		code, ok := extract.Code(text)
		if !ok {
			continue
		}
		isNew, err := uow.RegisterIfNew(ctx, code)
		if err != nil {
			return ConsumeResult{}, fmt.Errorf("failed to register code from %s: %w", name, err)
		}
		drop[i+1] = true
		if isNew {
			taken = append(taken, i+1)
			codes = append(codes, code)
		} else {
			dups++
		}
	}

	var cut *Cut
	if len(taken) > 0 {
		bundle := c.inv.BundlePath(src, len(taken))
		if err := codec.Select(src, bundle, taken); err != nil {
			_ = os.Remove(bundle)
			if rbErr := uow.RollbackTo(ctx, sp); rbErr != nil {
				return ConsumeResult{}, fmt.Errorf("failed to undo registrations for %s: %w", name, rbErr)
			}
			logCtx.Warn("Failed to cut bundle, document left untouched.", "error", err)
			return ConsumeResult{Shortage: quota}, nil
		}
		cut = &Cut{Source: name, Bundle: bundle, Pages: len(taken), Codes: codes}
	}

	if len(drop) > 0 {
		deleted, err := c.inv.Rewrite(ctx, name, document.Complement(len(texts), drop))
		if err != nil {
			// The removed pages stay in the source with registered codes; the
			// next purge sweep drops them.
			logCtx.Warn("Failed to rewrite source document.", "error", err)
		} else if deleted {
			logCtx.Info("Source document emptied and deleted.")
		}
	}

	res := ConsumeResult{Cut: cut, Duplicates: dups, Shortage: quota - len(taken)}
	logCtx.Info("Document consumed.", "taken", len(taken), "duplicates", dups, "shortage", res.Shortage)
	return res, nil
}
