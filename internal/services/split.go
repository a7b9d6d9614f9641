package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Lllllllleong/labelflow/internal/document"
	"github.com/Lllllllleong/labelflow/internal/extract"
	"github.com/Lllllllleong/labelflow/internal/inventory"
	"github.com/Lllllllleong/labelflow/internal/models"
	"github.com/Lllllllleong/labelflow/internal/patterns"
)

const maxNameComponent = 120

// Splitter regroups the pages of a document into one new inventory document
// per (article, size, color). The source is only read.
type Splitter struct {
	inv *inventory.Inventory
	now func() time.Time
}

func NewSplitter(inv *inventory.Inventory) *Splitter {
	return &Splitter{inv: inv, now: time.Now}
}

// Split splits the inventory document name.
func (s *Splitter) Split(ctx context.Context, name string) (*models.SplitResult, error) {
	if name != filepath.Base(name) || name == ".." || document.IsWorkingName(name) {
		return nil, fmt.Errorf("%w: %q", inventory.ErrInvalidName, name)
	}
	if fi, err := os.Stat(s.inv.Path(name)); err != nil || fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", inventory.ErrNotFound, name)
	}
	res, _, err := s.SplitFile(ctx, s.inv.Path(name), name)
	return res, err
}

// SplitFile splits the document at path. filename is the name the pages are
// known by, used as a color hint. It also returns the page numbers that had
// incomplete metadata and were left out of every group.
func (s *Splitter) SplitFile(ctx context.Context, path, filename string) (*models.SplitResult, []int, error) {
	logCtx := slog.With("document", filename)
	codec := s.inv.Codec()
	texts, err := codec.PageTexts(path)
	if err != nil {
		logCtx.Error("Failed to read document", "error", err)
		return nil, nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}

	type group struct {
		meta  extract.Metadata
		pages []int
	}
	var (
		order   []*group
		byKey   = make(map[[3]string]*group)
		skipped []int
	)
	for i, text := range texts {
		m := extract.Meta(extract.Page{Text: text, Filename: filename})
		if !m.Complete() {
			skipped = append(skipped, i+1)
			continue
		}
		g, ok := byKey[m.Key()]
		if !ok {
			g = &group{meta: m}
			byKey[m.Key()] = g
			order = append(order, g)
		}
		g.pages = append(g.pages, i+1)
	}

	res := &models.SplitResult{
		Source:     filename,
		Outputs:    []models.SplitOutput{},
		Skipped:    len(skipped),
		TotalPages: len(texts),
	}
	stamp := s.now().Format("20060102_150405")
	for i, g := range order {
		name := SplitName(g.meta, len(g.pages), stamp, i+1, codec.Ext())
		staging := document.StagingName(s.inv.TmpDir(), codec.Ext())
		if err := codec.Select(path, staging, g.pages); err != nil {
			_ = os.Remove(staging)
			logCtx.Error("Failed to write group", "group", name, "error", err)
			return res, skipped, fmt.Errorf("failed to write %s: %w", name, err)
		}
		e, err := s.inv.Adopt(ctx, staging, name)
		if err != nil {
			logCtx.Error("Failed to place group", "group", name, "error", err)
			return res, skipped, err
		}
		res.Outputs = append(res.Outputs, models.SplitOutput{
			Name:    e.Name,
			Article: g.meta.Article,
			Size:    g.meta.Size,
			Color:   g.meta.Color,
			Pages:   len(g.pages),
		})
	}
	logCtx.Info("Document split.", "groups", len(res.Outputs), "skipped", res.Skipped, "totalPages", res.TotalPages)
	return res, skipped, nil
}

// Ingest splits a staged document that is not part of inventory and keeps
// the pages with incomplete metadata together in one <name>_unsorted
// document, so no page is lost. It returns the unsorted document's name, if
// one was written.
func (s *Splitter) Ingest(ctx context.Context, staging, name string) (*models.SplitResult, string, error) {
	res, skipped, err := s.SplitFile(ctx, staging, name)
	if err != nil || len(skipped) == 0 {
		return res, "", err
	}
	codec := s.inv.Codec()
	out := document.StagingName(s.inv.TmpDir(), codec.Ext())
	if err := codec.Select(staging, out, skipped); err != nil {
		_ = os.Remove(out)
		slog.Error("Failed to keep unsorted pages", "document", name, "pages", len(skipped), "error", err)
		return res, "", fmt.Errorf("failed to write unsorted pages: %w", err)
	}
	ext := filepath.Ext(name)
	e, err := s.inv.Adopt(ctx, out, strings.TrimSuffix(name, ext)+"_unsorted"+ext)
	if err != nil {
		return res, "", err
	}
	return res, e.Name, nil
}

// SplitName is <article>__<size>__<color>__<n>p__<stamp>_<seq><ext> with each
// component sanitized.
func SplitName(m extract.Metadata, pages int, stamp string, seq int, ext string) string {
	return fmt.Sprintf("%s__%s__%s__%dp__%s_%d%s",
		nameComponent(m.Article), nameComponent(m.Size), nameComponent(m.Color), pages, stamp, seq, ext)
}

var (
	reNameUnsafe = regexp.MustCompile(`[^\p{L}\p{N}_\-.]`)
	reWorkingTok = regexp.MustCompile(`(?i)tmp`)
)

func nameComponent(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "/", "-")
	s = strings.ReplaceAll(s, " ", "_")
	s = reNameUnsafe.ReplaceAllString(s, "_")
	if r := []rune(s); len(r) > maxNameComponent {
		s = string(r[:maxNameComponent])
	}
	// A component must not make the name read as a working file.
	if patterns.WorkingName.MatchString(s) {
		s = reWorkingTok.ReplaceAllStringFunc(s, func(m string) string { return m[:1] + "_" + m[1:] })
		s = strings.ReplaceAll(s, "__", "_")
	}
	return s
}
