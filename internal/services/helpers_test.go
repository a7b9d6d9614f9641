package services

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/Lllllllleong/labelflow/internal/document"
	"github.com/Lllllllleong/labelflow/internal/inventory"
	"github.com/Lllllllleong/labelflow/internal/registry"
	"github.com/Lllllllleong/labelflow/internal/store"
)

const testGTIN = "04601234567890"

// label renders one page as the text layer of a marking label shows it.
func label(serial, article, size, color string) string {
	return fmt.Sprintf("(01)%s(21)%s\nАртикул: %s Цвет: %s Размер: %s", testGTIN, serial, article, color, size)
}

func codeOf(serial string) string {
	return "01" + testGTIN + "21" + serial
}

type fixture struct {
	inv *inventory.Inventory
	reg registry.Registry
	dir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	db, err := store.Open(ctx, filepath.Join(dir, "labelflow.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	catDB, err := store.Open(ctx, filepath.Join(dir, "catalog.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("store.Open catalog: %v", err)
	}
	t.Cleanup(func() { catDB.Close() })

	reg, err := registry.NewSQLite(ctx, db)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	inv, err := inventory.New(ctx, inventory.Options{
		Root:            filepath.Join(dir, "inventory"),
		Codec:           document.TextCodec{},
		CatalogDB:       catDB,
		TextCacheSize:   16,
		ScanConcurrency: 2,
	})
	if err != nil {
		t.Fatalf("inventory.New: %v", err)
	}
	return &fixture{inv: inv, reg: reg, dir: dir}
}

func (f *fixture) put(t *testing.T, name string, pages ...string) {
	t.Helper()
	if err := document.WriteTextPages(f.inv.Path(name), pages); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if _, err := f.inv.Add(context.Background(), name); err != nil {
		t.Fatalf("Add %s: %v", name, err)
	}
}

func (f *fixture) pages(t *testing.T, path string) []string {
	t.Helper()
	texts, err := document.TextCodec{}.PageTexts(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return texts
}

func (f *fixture) register(t *testing.T, codes ...string) {
	t.Helper()
	ctx := context.Background()
	uow, err := f.reg.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range codes {
		if _, err := uow.RegisterIfNew(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	if err := uow.Commit(); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) registered(t *testing.T) registry.Snapshot {
	t.Helper()
	snap, err := f.reg.ReadAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

func (f *fixture) names(t *testing.T) []string {
	t.Helper()
	entries, err := f.inv.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}
