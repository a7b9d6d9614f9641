package services

import (
	"bytes"
	"context"
	"testing"

	"github.com/Lllllllleong/labelflow/internal/models"
)

func TestInventoryReport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.put(t, "a.txt",
		label("U0001Q", "XA-1", "M", "красный"),
		label("U0002Q", "XA-1", "M", "синий"))
	f.put(t, "b.txt", label("U0003Q", "XA-1", "M", "красный"))

	var buf bytes.Buffer
	if err := NewReporter(f.inv, f.reg, 2).WriteInventoryCSV(ctx, &buf); err != nil {
		t.Fatalf("WriteInventoryCSV: %v", err)
	}
	want := "артикул,размер,цвет,количество\n" +
		"XA-1,M,красный,2\n" +
		"XA-1,M,синий,1\n"
	if buf.String() != want {
		t.Errorf("report =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestCodesReport(t *testing.T) {
	f := newFixture(t)
	f.register(t, codeOf("BBBB"), codeOf("AAAA"))
	var buf bytes.Buffer
	if err := NewReporter(f.inv, f.reg, 1).WriteCodesCSV(context.Background(), &buf); err != nil {
		t.Fatal(err)
	}
	want := "code\n" + codeOf("AAAA") + "\n" + codeOf("BBBB") + "\n"
	if buf.String() != want {
		t.Errorf("report = %q", buf.String())
	}
}

func TestShortageCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteShortageCSV(&buf, []models.Shortage{{Article: "ABC", Size: "42", Amount: 2}}); err != nil {
		t.Fatal(err)
	}
	if want := "артикул,размер,не хватило\nABC,42,2\n"; buf.String() != want {
		t.Errorf("csv = %q", buf.String())
	}
}
