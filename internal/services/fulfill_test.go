package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Lllllllleong/labelflow/internal/document"
	"github.com/Lllllllleong/labelflow/internal/extract"
	"github.com/Lllllllleong/labelflow/internal/models"
	"github.com/Lllllllleong/labelflow/internal/registry"
)

func TestFulfillReportsShortage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.put(t, "abc.txt",
		label("U0001Q", "ABC", "42", "красный"),
		label("U0002Q", "ABC", "42", "красный"),
		label("U0003Q", "ABC", "42", "красный"))
	f.put(t, "other.txt", label("U0009Q", "ABC", "44", "красный"))

	ful := NewFulfiller(f.inv, f.reg, filepath.Join(f.dir, "results"), nil)
	res, err := ful.Fulfill(ctx, "job-1", []models.OrderLine{
		{Article: " ABC ", Size: "42", Quantity: models.Qty(5)},
	})
	if err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if !strings.Contains(res.ShortageText, "ABC - размер: 42, не хватило: 2") {
		t.Errorf("shortage text = %q", res.ShortageText)
	}
	want := models.Shortage{Article: "ABC", Size: "42", Amount: 2}
	if len(res.Shortages) != 1 || res.Shortages[0] != want {
		t.Errorf("shortages = %+v", res.Shortages)
	}
	if res.PageCount != 3 || len(f.pages(t, res.ArtifactPath)) != 3 {
		t.Errorf("artifact pages = %d", res.PageCount)
	}
	if document.IsWorkingName(res.ArtifactPath) {
		t.Errorf("artifact %s reads as a working name", res.ArtifactPath)
	}
	if got := len(f.registered(t)); got != 3 {
		t.Errorf("registered %d codes", got)
	}
	if l := res.Lines[0]; l.Requested != 5 || l.Sent != 3 || l.Shortage != 2 {
		t.Errorf("line outcome = %+v", l)
	}
	if names := f.names(t); len(names) != 1 || names[0] != "other.txt" {
		t.Errorf("inventory = %v", names)
	}
	staged, _ := os.ReadDir(f.inv.TmpDir())
	if len(staged) != 0 {
		t.Errorf("%d bundles left in staging", len(staged))
	}
}

func TestFulfillWalksCandidatesInNameOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.put(t, "b.txt", label("B0001Q", "OA_1/black", "M", "черный"), label("B0002Q", "OA_1/black", "M", "черный"))
	f.put(t, "a.txt", label("A0001Q", "OA_1/black", "M", "черный"), label("A0002Q", "OA_1/black", "M", "черный"))
	f.put(t, "c.txt", label("C0001Q", "OA_1/black", "XL", "черный"))

	ful := NewFulfiller(f.inv, f.reg, filepath.Join(f.dir, "results"), nil)
	res, err := ful.Fulfill(ctx, "job-2", []models.OrderLine{
		{Article: "OA_1/black", Size: "m", Quantity: models.Qty(3)},
	})
	if err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	var got []string
	for _, p := range f.pages(t, res.ArtifactPath) {
		code, _ := extract.Code(p)
		got = append(got, code)
	}
	want := []string{codeOf("A0001Q"), codeOf("A0002Q"), codeOf("B0001Q")}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("artifact codes = %v, want %v", got, want)
	}
	if res.ShortageText != "" || len(res.Shortages) != 0 {
		t.Errorf("unexpected shortage %q", res.ShortageText)
	}
	if names := f.names(t); strings.Join(names, ",") != "b.txt,c.txt" {
		t.Errorf("inventory = %v", names)
	}
}

func TestFulfillSkipsInvalidLines(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.put(t, "abc.txt", label("U0001Q", "ABC", "42", "красный"))

	var bad models.Quantity
	if err := bad.UnmarshalJSON([]byte(`"много"`)); err != nil {
		t.Fatal(err)
	}
	ful := NewFulfiller(f.inv, f.reg, filepath.Join(f.dir, "results"), nil)
	res, err := ful.Fulfill(ctx, "job-3", []models.OrderLine{
		{Article: "ABC", Size: "42", Quantity: bad},
		{Article: "ABC", Size: "42", Quantity: models.Qty(0)},
		{Article: " ", Size: "42", Quantity: models.Qty(1)},
		{Article: "ABC", Size: "", Quantity: models.Qty(1)},
		{Article: "NONE", Size: "42", Quantity: models.Qty(2)},
	})
	if err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if res.SkippedLines != 4 {
		t.Errorf("skipped = %d", res.SkippedLines)
	}
	if res.ArtifactPath != "" {
		t.Errorf("artifact written for an unfillable order: %s", res.ArtifactPath)
	}
	if res.ShortageText != "NONE - размер: 42, не хватило: 2" {
		t.Errorf("shortage text = %q", res.ShortageText)
	}
	if got := len(f.registered(t)); got != 0 {
		t.Errorf("registered %d codes", got)
	}
}

// commitFailing wraps a registry so every unit fails to commit.
type commitFailing struct {
	registry.Registry
}

type commitFailingUnit struct {
	registry.UnitOfWork
}

var errCommit = errors.New("commit refused")

func (r commitFailing) Begin(ctx context.Context) (registry.UnitOfWork, error) {
	u, err := r.Registry.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return commitFailingUnit{u}, nil
}

func (commitFailingUnit) Commit() error { return errCommit }

func TestFulfillRollbackRestoresBundles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.put(t, "abc.txt",
		label("U0001Q", "ABC", "42", "красный"),
		label("U0002Q", "ABC", "42", "красный"),
		label("U0003Q", "ABC", "42", "красный"))

	artifacts := filepath.Join(f.dir, "results")
	ful := NewFulfiller(f.inv, commitFailing{f.reg}, artifacts, nil)
	_, err := ful.Fulfill(ctx, "job-4", []models.OrderLine{
		{Article: "ABC", Size: "42", Quantity: models.Qty(2)},
	})
	if !errors.Is(err, errCommit) {
		t.Fatalf("Fulfill error = %v, want commit failure", err)
	}
	if got := len(f.registered(t)); got != 0 {
		t.Errorf("%d codes stayed registered", got)
	}

	var pages int
	var restored bool
	for _, name := range f.names(t) {
		pages += len(f.pages(t, f.inv.Path(name)))
		restored = restored || strings.Contains(name, "__restored_")
	}
	if pages != 3 || !restored {
		t.Errorf("inventory after rollback: %v (%d pages)", f.names(t), pages)
	}
	if out, _ := os.ReadDir(artifacts); len(out) != 0 {
		t.Errorf("artifact left behind after rollback")
	}
}

func TestShortageText(t *testing.T) {
	got := ShortageText([]models.Shortage{
		{Article: "ABC", Size: "42", Amount: 2},
		{Article: "OA_1/black", Size: "M", Amount: 1},
	})
	want := "ABC - размер: 42, не хватило: 2\nOA_1/black - размер: M, не хватило: 1"
	if got != want {
		t.Errorf("ShortageText = %q", got)
	}
	if ShortageText(nil) != "" {
		t.Error("empty shortages must render empty")
	}
}
