package textclean

import "testing"

func TestHeal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"hyphen wrap", "тем-\nно-синий", "темно-синий"},
		{"slash wrap", "OA_1/\n  black", "OA_1/black"},
		{"word wrap", "Балак\nлава", "Балаклава"},
		{"chained word wrap", "a\nb\nc", "abc"},
		{"dash variants", "56–60 и 44—46", "56-60 и 44-46"},
		{"crlf and tabs", "A1\r\n\tB2  \t C3", "A1\n B2 C3"},
		{"nfc", "и\u0306", "\u0439"},
		{"glued labels", "ABCЦвет:черный", "ABC\nЦвет: черный"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Heal(tt.in); got != tt.want {
				t.Errorf("Heal(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestUnstickLeavesSpacedLabels(t *testing.T) {
	in := "Артикул OA_1\nЦвет: черный\nРазмер: M"
	if got := Unstick(in); got != in {
		t.Errorf("Unstick changed spaced text: %q", got)
	}
}

func TestLines(t *testing.T) {
	got := Lines("  a \r\n\n b\n   \nc")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("Lines = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStripGS1(t *testing.T) {
	got := StripGS1("Шапка (01)04601234567890(21)Ab42CD 52", "")
	if got != "Шапка   52" {
		t.Errorf("StripGS1 = %q", got)
	}
	got = StripGS1("(01)04601234567890 и (21)SER42", "")
	if CollapseSpaces(got) != "и" {
		t.Errorf("StripGS1 spans = %q", got)
	}
	got = StripGS1("010460123456789021\nЧестный знак\nAbcd1234\n56-58", "Abcd1234")
	if CollapseSpaces(got) != "Честныйзнак56-58" {
		t.Errorf("StripGS1 wrapped serial = %q", got)
	}
}

func TestCollapseSpaces(t *testing.T) {
	if got := CollapseSpaces("a\u00a0b c\td\n"); got != "abcd" {
		t.Errorf("CollapseSpaces = %q", got)
	}
}

func TestCleanColor(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"черный", "черный"},
		{"  черный Размер: M", "черный"},
		{"серый (01)04601234567890", "серый"},
		{"бежевый 56", "бежевый"},
		{"темно-синий!", "темно-синий"},
		{"черныйMF", "черный"},
		{"серый меланж Grey", "серый меланж"},
		{"красный xYz белый", "красный белый"},
		{"ярко красный с блеском", "ярко красный с"},
		{"светло_серый", "светло серый"},
		{"Black", ""},
		{"  - ", ""},
	}
	for _, tt := range tests {
		if got := CleanColor(tt.in); got != tt.want {
			t.Errorf("CleanColor(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
