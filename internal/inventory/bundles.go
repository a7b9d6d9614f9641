package inventory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Lllllllleong/labelflow/internal/document"
)

const (
	bundleMarker  = "__head_"
	restoreMarker = "__restored_"
)

// BundlePath returns a fresh staging path for n pages cut from source:
// <stem>__head_<n>_<token><ext> inside the staging directory.
func (inv *Inventory) BundlePath(source string, n int) string {
	ext := filepath.Ext(source)
	stem := strings.TrimSuffix(filepath.Base(source), ext)
	return filepath.Join(inv.tmp, fmt.Sprintf("%s%s%d_%s%s", stem, bundleMarker, n, document.UniqueToken(), ext))
}

// Restore moves a cut bundle back into inventory as
// <stem>__restored_<token><ext> and catalogs it.
func (inv *Inventory) Restore(ctx context.Context, bundlePath string) (Entry, error) {
	base := filepath.Base(bundlePath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if i := strings.Index(stem, bundleMarker); i >= 0 {
		stem = stem[:i]
	}
	name := stem + restoreMarker + document.UniqueToken() + ext

	unlock := inv.Lock(name)
	defer unlock()
	if err := os.Rename(bundlePath, inv.Path(name)); err != nil {
		return Entry{}, fmt.Errorf("failed to restore %s: %w", base, err)
	}
	return inv.catalog.add(ctx, name)
}
