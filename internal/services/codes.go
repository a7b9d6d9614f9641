package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/labelflow/internal/extract"
	"github.com/Lllllllleong/labelflow/internal/models"
	"github.com/Lllllllleong/labelflow/internal/patterns"
	"github.com/Lllllllleong/labelflow/internal/registry"
)

// ErrRejectedImport is returned when an import file does not look like a
// list of codes.
var ErrRejectedImport = errors.New("import rejected")

// CodeImporter registers codes that were dispensed outside this system so
// their pages are never handed out.
type CodeImporter struct {
	reg      registry.Registry
	prefixes []string
}

func NewCodeImporter(reg registry.Registry, prefixes []string) *CodeImporter {
	return &CodeImporter{reg: reg, prefixes: prefixes}
}

// Import reads codes from the first column of a CSV and registers the valid
// ones in one unit of work. The first non-empty row must start with one of
// the allowed prefixes.
func (c *CodeImporter) Import(ctx context.Context, r io.Reader) (*models.ImportResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	res := &models.ImportResult{}
	var (
		unique []string
		seen   = make(map[string]bool)
		first  = true
	)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read import: %w", err)
		}
		if len(rec) == 0 {
			continue
		}
		code := extract.NormalizeCode(rec[0])
		if code == "" {
			continue
		}
		if first {
			first = false
			if !c.allowedPrefix(code) {
				slog.Warn("Import rejected by prefix guard.", "firstRow", code)
				return nil, fmt.Errorf("%w: first code %q has no allowed prefix", ErrRejectedImport, code)
			}
		}
		if !patterns.CanonicalCode.MatchString(code) {
			res.Invalid++
			continue
		}
		if !seen[code] {
			seen[code] = true
			unique = append(unique, code)
		}
	}
	res.Unique = len(unique)
	if len(unique) == 0 {
		return res, nil
	}

	uow, err := c.reg.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin registry unit of work: %w", err)
	}
	for _, code := range unique {
		isNew, err := uow.RegisterIfNew(ctx, code)
		if err != nil {
			_ = uow.Rollback()
			slog.Error("Failed to register imported code", "error", err)
			return nil, fmt.Errorf("failed to register imported code: %w", err)
		}
		if isNew {
			res.Added++
		} else {
			res.Duplicates++
		}
	}
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit import: %w", err)
	}
	slog.Info("Codes imported.", "added", res.Added, "duplicates", res.Duplicates, "invalid", res.Invalid)
	return res, nil
}

func (c *CodeImporter) allowedPrefix(code string) bool {
	if len(c.prefixes) == 0 {
		return true
	}
	for _, p := range c.prefixes {
		if p != "" && strings.HasPrefix(code, p) {
			return true
		}
	}
	return false
}
