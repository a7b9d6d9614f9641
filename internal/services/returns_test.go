package services

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Lllllllleong/labelflow/internal/document"
	"github.com/Lllllllleong/labelflow/internal/models"
)

func TestReturnReleasesCodesAndRestocks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.put(t, "stock.txt",
		label("U0001Q", "XA-1", "M", "красный"),
		label("U0002Q", "XA-1", "M", "красный"))

	ful := NewFulfiller(f.inv, f.reg, filepath.Join(f.dir, "results"), nil)
	res, err := ful.Fulfill(ctx, "job-r", []models.OrderLine{
		{Article: "XA-1", Size: "M", Quantity: models.Qty(2)},
	})
	if err != nil || res.PageCount != 2 {
		t.Fatalf("Fulfill = %+v, %v", res, err)
	}
	returned := append(f.pages(t, res.ArtifactPath), "без метаданных")

	rt := NewReturns(f.inv, f.reg, NewSplitter(f.inv))
	out, err := rt.Process(ctx, "возврат.txt", strings.NewReader(strings.Join(returned, document.PageBreak)))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.CodesFound != 2 || out.CodesReleased != 2 {
		t.Errorf("codes found %d released %d", out.CodesFound, out.CodesReleased)
	}
	if len(f.registered(t)) != 0 {
		t.Error("codes still registered after return")
	}
	if len(out.Split.Outputs) != 1 || out.Split.Outputs[0].Pages != 2 || out.Split.Skipped != 1 {
		t.Errorf("split = %+v", out.Split)
	}
	if out.Unsorted != "возврат_unsorted.txt" {
		t.Errorf("unsorted = %q", out.Unsorted)
	}

	// The returned units can be dispensed again.
	again, err := ful.Fulfill(ctx, "job-r2", []models.OrderLine{
		{Article: "XA-1", Size: "M", Quantity: models.Qty(2)},
	})
	if err != nil || again.PageCount != 2 || again.ShortageText != "" {
		t.Errorf("refill = %+v, %v", again, err)
	}
}

func TestReturnRejectsWorkingName(t *testing.T) {
	f := newFixture(t)
	rt := NewReturns(f.inv, f.reg, NewSplitter(f.inv))
	if _, err := rt.Process(context.Background(), "x__head_1.txt", strings.NewReader("a")); err == nil {
		t.Error("working name accepted")
	}
}
