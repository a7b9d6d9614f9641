package services

import (
	"context"
	"os"
	"slices"
	"testing"
)

func TestPurgeIsMonotonic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.put(t, "used.txt",
		label("U0001Q", "ABC", "42", "красный"),
		label("U0002Q", "ABC", "42", "красный"))
	f.put(t, "mixed.txt",
		label("U0003Q", "ABC", "42", "красный"),
		label("F0001Q", "ABC", "42", "красный"),
		"страница без кода")
	f.put(t, "fresh.txt", label("F0002Q", "ABC", "42", "красный"))
	if err := os.WriteFile(f.inv.Path("broken.txt"), []byte{0xff}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := f.inv.Add(ctx, "broken.txt"); err != nil {
		t.Fatal(err)
	}
	f.register(t, codeOf("U0001Q"), codeOf("U0002Q"), codeOf("U0003Q"))

	p := NewPurger(f.inv, f.reg, 2)
	stats, err := p.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.FilesScanned != 4 || stats.FilesDeleted != 1 || stats.FilesModified != 1 {
		t.Errorf("files: %+v", stats)
	}
	if stats.PagesScanned != 6 || stats.PagesDeleted != 3 {
		t.Errorf("pages: %+v", stats)
	}
	if len(stats.Details) != 3 || !slices.Contains(stats.Details, "broken.txt: skipped, unreadable") {
		t.Errorf("details = %v", stats.Details)
	}
	if got := len(f.pages(t, f.inv.Path("mixed.txt"))); got != 2 {
		t.Errorf("mixed.txt has %d pages", got)
	}
	if _, err := os.Stat(f.inv.Path("used.txt")); !os.IsNotExist(err) {
		t.Errorf("used.txt not deleted: %v", err)
	}

	again, err := p.Sweep(ctx)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if again.PagesDeleted != 0 || again.FilesDeleted != 0 || again.FilesModified != 0 {
		t.Errorf("second sweep changed inventory: %+v", again)
	}
	if again.PagesScanned != 3 {
		t.Errorf("second sweep scanned %d pages", again.PagesScanned)
	}
}
