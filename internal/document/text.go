package document

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

// PageBreak separates pages in the plain-text format.
const PageBreak = "\f"

// TextCodec stores a document as UTF-8 text with pages separated by form
// feeds. It backs local runs and tests where producing PDFs is impractical.
type TextCodec struct{}

func (TextCodec) Ext() string { return ".txt" }

func (c TextCodec) PageCount(path string) (int, error) {
	pages, err := c.PageTexts(path)
	return len(pages), err
}

func (TextCodec) PageTexts(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(b) {
		return nil, errors.New("text document is not valid utf-8")
	}
	if len(b) == 0 {
		return nil, nil
	}
	return strings.Split(string(b), PageBreak), nil
}

func (c TextCodec) Select(src, dst string, pages []int) error {
	if len(pages) == 0 {
		return ErrNoPages
	}
	all, err := c.PageTexts(src)
	if err != nil {
		return err
	}
	want := make(map[int]bool, len(pages))
	for _, p := range pages {
		if p < 1 || p > len(all) {
			return fmt.Errorf("page %d out of range 1..%d", p, len(all))
		}
		want[p] = true
	}
	var out []string
	for i, text := range all {
		if want[i+1] {
			out = append(out, text)
		}
	}
	return WriteTextPages(dst, out)
}

func (c TextCodec) Merge(srcs []string, dst string) error {
	if len(srcs) == 0 {
		return ErrNoPages
	}
	var out []string
	for _, src := range srcs {
		pages, err := c.PageTexts(src)
		if err != nil {
			return fmt.Errorf("%s: %w", src, err)
		}
		out = append(out, pages...)
	}
	return WriteTextPages(dst, out)
}

func (c TextCodec) Validate(path string) error {
	n, err := c.PageCount(path)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoPages
	}
	return nil
}

// WriteTextPages writes pages in the form-feed format.
func WriteTextPages(path string, pages []string) error {
	if len(pages) == 0 {
		return ErrNoPages
	}
	return os.WriteFile(path, []byte(strings.Join(pages, PageBreak)), 0o644)
}
