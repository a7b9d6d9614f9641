// Package document reads and rewrites multi-page label documents at page
// granularity. A Codec never mutates its source; rewrites go through
// ReplaceAtomic so a failed write leaves the original untouched.
package document

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/Lllllllleong/labelflow/internal/patterns"
)

// ErrNoPages is returned when a write would produce a document without pages.
var ErrNoPages = errors.New("document: no pages selected")

// Codec is a page-level view of one document format. Page numbers are
// 1-based and always in physical order.
type Codec interface {
	// Ext is the file extension of the format, including the dot.
	Ext() string
	PageCount(path string) (int, error)
	// PageTexts returns the raw extractable text of every page.
	PageTexts(path string) ([]string, error)
	// Select writes the given pages of src, in document order, to dst.
	Select(src, dst string, pages []int) error
	// Merge concatenates srcs into dst.
	Merge(srcs []string, dst string) error
	// Validate reports whether path is a readable document of this format.
	Validate(path string) error
}

// ForFormat returns the codec for a configured document format.
func ForFormat(format string) (Codec, error) {
	switch strings.ToLower(format) {
	case "", "pdf":
		return NewPDFCodec(), nil
	case "text", "txt":
		return TextCodec{}, nil
	}
	return nil, fmt.Errorf("unknown document format %q", format)
}

// IsWorkingName reports whether a file name belongs to staging: cut heads,
// rewritten tails and temporaries. Such files are never inventory.
func IsWorkingName(name string) bool {
	return patterns.WorkingName.MatchString(filepath.Base(name))
}

// StagingName returns a unique name for a temporary file inside tmpDir.
func StagingName(tmpDir, ext string) string {
	return filepath.Join(tmpDir, "tmp_"+ulid.Make().String()+ext)
}

// UniqueToken returns a lower-case ULID usable in inventory names. Tokens
// that would read as a working name are redrawn.
func UniqueToken() string {
	for {
		tok := strings.ToLower(ulid.Make().String())
		if !patterns.WorkingName.MatchString(tok) {
			return tok
		}
	}
}

// ReplaceAtomic writes a new version of dst through write, which receives a
// staging path inside tmpDir, and then renames the result over dst. When
// write or the rename fails, the staging file is removed and dst is unchanged.
func ReplaceAtomic(tmpDir, dst string, write func(staging string) error) error {
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return fmt.Errorf("failed to create staging dir: %w", err)
	}
	staging := StagingName(tmpDir, filepath.Ext(dst))
	if err := write(staging); err != nil {
		_ = os.Remove(staging)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(dst), err)
	}
	if err := os.Rename(staging, dst); err != nil {
		_ = os.Remove(staging)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(dst), err)
	}
	return nil
}

// Keep rewrites path so it holds exactly the pages in keep. When keep is
// empty the document is deleted instead.
func Keep(c Codec, tmpDir, path string, keep []int) (deleted bool, err error) {
	if len(keep) == 0 {
		if err := os.Remove(path); err != nil {
			return false, fmt.Errorf("failed to delete %s: %w", filepath.Base(path), err)
		}
		return true, nil
	}
	return false, ReplaceAtomic(tmpDir, path, func(staging string) error {
		return c.Select(path, staging, keep)
	})
}

// Complement returns the page numbers 1..n that are not in drop.
func Complement(n int, drop map[int]bool) []int {
	keep := make([]int, 0, n)
	for p := 1; p <= n; p++ {
		if !drop[p] {
			keep = append(keep, p)
		}
	}
	return keep
}
