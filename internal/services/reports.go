package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/labelflow/internal/extract"
	"github.com/Lllllllleong/labelflow/internal/inventory"
	"github.com/Lllllllleong/labelflow/internal/models"
	"github.com/Lllllllleong/labelflow/internal/registry"
)

// StockLine is the number of inventory pages of one variant.
type StockLine struct {
	Article string `json:"article"`
	Size    string `json:"size"`
	Color   string `json:"color"`
	Pages   int    `json:"pages"`
}

// Reporter builds read-only reports over inventory and the registry.
type Reporter struct {
	inv         *inventory.Inventory
	reg         registry.Registry
	concurrency int
}

func NewReporter(inv *inventory.Inventory, reg registry.Registry, concurrency int) *Reporter {
	return &Reporter{inv: inv, reg: reg, concurrency: max(concurrency, 1)}
}

// Stock counts the pages of every document by metadata key. Pages with
// incomplete metadata are counted under their partial key. Unreadable
// documents are skipped.
func (r *Reporter) Stock(ctx context.Context) ([]StockLine, error) {
	entries, err := r.inv.List(ctx)
	if err != nil {
		return nil, err
	}
	var (
		mu     sync.Mutex
		counts = make(map[[3]string]int)
	)
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.concurrency)
	for _, e := range entries {
		name := e.Name
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			texts, err := r.inv.Texts(name)
			if err != nil {
				slog.Warn("Skipping unreadable document.", "document", name, "error", err)
				return nil
			}
			local := make(map[[3]string]int)
			for _, text := range texts {
				local[extract.Meta(extract.Page{Text: text, Filename: name}).Key()]++
			}
			mu.Lock()
			for k, n := range local {
				counts[k] += n
			}
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	out := make([]StockLine, 0, len(counts))
	for k, n := range counts {
		out = append(out, StockLine{Article: k[0], Size: k[1], Color: k[2], Pages: n})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Article != b.Article {
			return a.Article < b.Article
		}
		if a.Size != b.Size {
			return a.Size < b.Size
		}
		return a.Color < b.Color
	})
	return out, nil
}

// WriteInventoryCSV writes the stock report as CSV.
func (r *Reporter) WriteInventoryCSV(ctx context.Context, w io.Writer) error {
	lines, err := r.Stock(ctx)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(lines)+1)
	rows = append(rows, []string{"артикул", "размер", "цвет", "количество"})
	for _, l := range lines {
		rows = append(rows, []string{l.Article, l.Size, l.Color, strconv.Itoa(l.Pages)})
	}
	return writeCSV(w, rows)
}

// WriteCodesCSV writes every registered code, sorted.
func (r *Reporter) WriteCodesCSV(ctx context.Context, w io.Writer) error {
	snap, err := r.reg.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to read registry snapshot: %w", err)
	}
	codes := snap.Sorted()
	rows := make([][]string, 0, len(codes)+1)
	rows = append(rows, []string{"code"})
	for _, c := range codes {
		rows = append(rows, []string{c})
	}
	return writeCSV(w, rows)
}

// WriteShortageCSV writes the shortages of one run.
func WriteShortageCSV(w io.Writer, shortages []models.Shortage) error {
	rows := make([][]string, 0, len(shortages)+1)
	rows = append(rows, []string{"артикул", "размер", "не хватило"})
	for _, s := range shortages {
		rows = append(rows, []string{s.Article, s.Size, strconv.Itoa(s.Amount)})
	}
	return writeCSV(w, rows)
}

func writeCSV(w io.Writer, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}
