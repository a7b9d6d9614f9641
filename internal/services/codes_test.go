package services

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestCodeImport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, codeOf("OLD001"))

	csv := strings.Join([]string{
		"(01)" + testGTIN + "(21)NEW001,extra column",
		codeOf("NEW002"),
		"  " + codeOf("NEW002") + "\u200b",
		codeOf("OLD001"),
		"",
		"garbage",
		`"` + codeOf("NEW 003") + `"`,
	}, "\n")

	res, err := NewCodeImporter(f.reg, []string{"01046", "01029"}).Import(ctx, strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Added != 3 || res.Duplicates != 1 || res.Invalid != 1 || res.Unique != 4 {
		t.Errorf("result = %+v", res)
	}
	snap := f.registered(t)
	for _, c := range []string{"NEW001", "NEW002", "NEW003", "OLD001"} {
		if !snap.Has(codeOf(c)) {
			t.Errorf("%s not registered", c)
		}
	}
}

func TestCodeImportPrefixGuard(t *testing.T) {
	f := newFixture(t)
	csv := "0199999999999999210000A\n" + codeOf("NEW001")
	_, err := NewCodeImporter(f.reg, []string{"01046"}).Import(context.Background(), strings.NewReader(csv))
	if !errors.Is(err, ErrRejectedImport) {
		t.Fatalf("Import error = %v, want ErrRejectedImport", err)
	}
	if len(f.registered(t)) != 0 {
		t.Error("rejected import registered codes")
	}
}
