// Package inventory owns the directory of label documents: an explicit
// catalog of what is in it, per-document write locks, candidate search for
// order lines, and a cache of extracted page text.
package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/labelflow/internal/document"
)

var (
	ErrNotFound    = errors.New("inventory: document not found")
	ErrInvalidName = errors.New("inventory: invalid document name")
	ErrRejected    = errors.New("inventory: document rejected")
)

// Options configure an Inventory.
type Options struct {
	Root            string
	Codec           document.Codec
	CatalogDB       *sql.DB
	TextCacheSize   int
	ScanConcurrency int
}

type textKey struct {
	name string
	mod  time.Time
	size int64
}

// Inventory is the shared document directory. Writers of a document must
// hold its lock; see Lock.
type Inventory struct {
	root    string
	tmp     string
	codec   document.Codec
	catalog *catalog
	texts   *lru.Cache[textKey, []string]
	scan    int
	locks   keyedMutex
}

// New opens the inventory rooted at opts.Root, creating it when missing.
func New(ctx context.Context, opts Options) (*Inventory, error) {
	if opts.Root == "" || opts.Codec == nil || opts.CatalogDB == nil {
		return nil, errors.New("inventory: root, codec and catalog are required")
	}
	tmp := filepath.Join(opts.Root, "tmp")
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create inventory dirs: %w", err)
	}
	cat, err := newCatalog(ctx, opts.CatalogDB)
	if err != nil {
		return nil, err
	}
	inv := &Inventory{
		root:    opts.Root,
		tmp:     tmp,
		codec:   opts.Codec,
		catalog: cat,
		scan:    max(opts.ScanConcurrency, 1),
		locks:   keyedMutex{held: make(map[string]*lockEntry)},
	}
	if opts.TextCacheSize > 0 {
		if inv.texts, err = lru.New[textKey, []string](opts.TextCacheSize); err != nil {
			return nil, fmt.Errorf("failed to create text cache: %w", err)
		}
	}
	return inv, nil
}

func (inv *Inventory) Root() string { return inv.root }
func (inv *Inventory) TmpDir() string { return inv.tmp }
func (inv *Inventory) Codec() document.Codec { return inv.codec }
func (inv *Inventory) Path(name string) string { return filepath.Join(inv.root, name) }
func (inv *Inventory) Lock(name string) (unlock func()) { return inv.locks.lock(name) }

// Reconcile brings the catalog in line with the directory and recovers cut
// bundles orphaned in the staging directory by an interrupted run.
func (inv *Inventory) Reconcile(ctx context.Context) error {
	recovered, err := inv.recoverStaging(ctx)
	if err != nil {
		return err
	}
	onDisk, err := inv.scanDir()
	if err != nil {
		return err
	}
	entries, err := inv.catalog.list(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(entries))
	var pruned int
	for _, e := range entries {
		if !onDisk[e.Name] {
			if err := inv.catalog.remove(ctx, e.Name); err != nil {
				return err
			}
			pruned++
			continue
		}
		known[e.Name] = true
	}
	var added int
	for name := range onDisk {
		if known[name] {
			continue
		}
		if _, err := inv.catalog.add(ctx, name); err != nil {
			return err
		}
		added++
	}
	slog.Info("Inventory reconciled.", "root", inv.root, "documents", len(onDisk),
		"added", added, "pruned", pruned, "recoveredBundles", recovered)
	return nil
}

func (inv *Inventory) scanDir() (map[string]bool, error) {
	des, err := os.ReadDir(inv.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list inventory: %w", err)
	}
	out := make(map[string]bool, len(des))
	for _, de := range des {
		name := de.Name()
		if !de.Type().IsRegular() || document.IsWorkingName(name) {
			continue
		}
		if !strings.EqualFold(filepath.Ext(name), inv.codec.Ext()) {
			continue
		}
		out[name] = true
	}
	return out, nil
}

func (inv *Inventory) recoverStaging(ctx context.Context) (int, error) {
	des, err := os.ReadDir(inv.tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to list staging dir: %w", err)
	}
	var n int
	for _, de := range des {
		path := filepath.Join(inv.tmp, de.Name())
		if !strings.Contains(de.Name(), bundleMarker) {
			_ = os.Remove(path)
			continue
		}
		if _, err := inv.Restore(ctx, path); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// List returns the cataloged documents sorted by name.
func (inv *Inventory) List(ctx context.Context) ([]Entry, error) {
	entries, err := inv.catalog.list(ctx)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if _, err := os.Stat(inv.Path(e.Name)); err == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// Get returns the catalog entry of name.
func (inv *Inventory) Get(ctx context.Context, name string) (Entry, error) {
	return inv.catalog.get(ctx, name)
}

// Add catalogs a file already placed in the inventory directory.
func (inv *Inventory) Add(ctx context.Context, name string) (Entry, error) {
	if _, err := os.Stat(inv.Path(name)); err != nil {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return inv.catalog.add(ctx, name)
}

// Store validates the document read from r and places it in inventory under
// a sanitized, unique form of name.
func (inv *Inventory) Store(ctx context.Context, name string, r io.Reader) (Entry, int, error) {
	clean, err := inv.SanitizeName(name)
	if err != nil {
		return Entry{}, 0, err
	}
	staging, pages, err := inv.Stage(r)
	if err != nil {
		return Entry{}, 0, fmt.Errorf("rejected %s: %w", clean, err)
	}
	e, err := inv.Adopt(ctx, staging, clean)
	return e, pages, err
}

// Stage writes r to a new staging file and validates it as a document. The
// caller owns the returned file.
func (inv *Inventory) Stage(r io.Reader) (string, int, error) {
	staging := document.StagingName(inv.tmp, inv.codec.Ext())
	f, err := os.Create(staging)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create staging file: %w", err)
	}
	_, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(staging)
		return "", 0, fmt.Errorf("failed to receive document: %w", err)
	}
	if err := inv.codec.Validate(staging); err != nil {
		_ = os.Remove(staging)
		return "", 0, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	pages, err := inv.codec.PageCount(staging)
	if err != nil {
		_ = os.Remove(staging)
		return "", 0, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	return staging, pages, nil
}

// Adopt moves a finished staging file into inventory under name, suffixing
// the name when taken, and catalogs it.
func (inv *Inventory) Adopt(ctx context.Context, staging, name string) (Entry, error) {
	final, err := inv.place(staging, name)
	if err != nil {
		return Entry{}, err
	}
	return inv.catalog.add(ctx, final)
}

// place renames staging into the root, suffixing the name when taken.
func (inv *Inventory) place(staging, name string) (string, error) {
	unlock := inv.Lock(name)
	defer unlock()
	final := name
	if _, err := os.Stat(inv.Path(final)); err == nil {
		ext := filepath.Ext(name)
		final = strings.TrimSuffix(name, ext) + "_" + document.UniqueToken() + ext
	}
	if err := os.Rename(staging, inv.Path(final)); err != nil {
		_ = os.Remove(staging)
		return "", fmt.Errorf("failed to place %s: %w", final, err)
	}
	return final, nil
}

var reUnsafeName = regexp.MustCompile(`[^\p{L}\p{N}_\-. ]+`)

// SanitizeName reduces an uploaded file name to a safe inventory name with
// the codec's extension.
func (inv *Inventory) SanitizeName(name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	ext := inv.codec.Ext()
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = strings.Trim(reUnsafeName.ReplaceAllString(stem, "_"), " ._")
	if stem == "" || document.IsWorkingName(stem) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return stem + ext, nil
}

// Texts returns the page texts of a document, cached by name, size and
// modification time.
func (inv *Inventory) Texts(name string) ([]string, error) {
	path := inv.Path(name)
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	key := textKey{name: name, mod: fi.ModTime(), size: fi.Size()}
	if inv.texts != nil {
		if t, ok := inv.texts.Get(key); ok {
			return t, nil
		}
	}
	t, err := inv.codec.PageTexts(path)
	if err != nil {
		return nil, err
	}
	if inv.texts != nil {
		inv.texts.Add(key, t)
	}
	return t, nil
}

// Rewrite keeps exactly the listed pages of name, deleting the document and
// its catalog entry when keep is empty. The caller holds the lock.
func (inv *Inventory) Rewrite(ctx context.Context, name string, keep []int) (deleted bool, err error) {
	deleted, err = document.Keep(inv.codec, inv.tmp, inv.Path(name), keep)
	if err != nil {
		return false, err
	}
	if deleted {
		inv.forget(ctx, name)
	}
	return deleted, nil
}

// forget drops a deleted document from the catalog. A failure only leaves a
// stale row, which List skips and Reconcile prunes.
func (inv *Inventory) forget(ctx context.Context, name string) {
	if err := inv.catalog.remove(ctx, name); err != nil {
		slog.Warn("Failed to uncatalog deleted document.", "document", name, "error", err)
	}
}

// Locate returns the names of all documents whose text contains the article
// and the size token, sorted by name. Unreadable documents are skipped.
func (inv *Inventory) Locate(ctx context.Context, article, size string) ([]string, error) {
	entries, err := inv.List(ctx)
	if err != nil {
		return nil, err
	}
	var (
		mu    sync.Mutex
		found []string
	)
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(inv.scan)
	for _, e := range entries {
		name := e.Name
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			texts, err := inv.Texts(name)
			if err != nil {
				slog.Warn("Skipping unreadable document.", "document", name, "error", err)
				return nil
			}
			joined := strings.Join(texts, "\n")
			if MatchArticle(joined, article) && MatchSize(joined, size) {
				mu.Lock()
				found = append(found, name)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(found)
	return found, nil
}
