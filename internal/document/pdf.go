package document

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFCodec handles label documents as PDF files. pdfcpu counts, cuts, merges
// and validates; ledongthuc/pdf decodes the text layer.
type PDFCodec struct {
	conf *model.Configuration
}

// NewPDFCodec returns a codec that validates in relaxed mode. Label printers
// rarely emit strictly conforming files.
func NewPDFCodec() *PDFCodec {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return &PDFCodec{conf: cfg}
}

func (c *PDFCodec) Ext() string { return ".pdf" }

func (c *PDFCodec) PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return n, nil
}

// PageTexts reads the text layer through the page fonts' encodings and
// ToUnicode maps. Glyphs are grouped into lines by baseline, top to bottom.
func (c *PDFCodec) PageTexts(path string) ([]string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	texts := make([]string, r.NumPage())
	for pageNr := 1; pageNr <= r.NumPage(); pageNr++ {
		p := r.Page(pageNr)
		if p.V.IsNull() {
			continue
		}
		text, err := pageText(p)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", pageNr, err)
		}
		texts[pageNr-1] = text
	}
	return texts, nil
}

// pageText lays out the glyphs of one page as lines. The reader panics on
// malformed content streams.
func pageText(p pdf.Page) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unreadable content: %v", r)
		}
	}()
	return layoutLines(p.Content().Text), nil
}

// layoutLines groups glyphs whose baselines lie within half a font size of
// each other into one line, orders each line left to right and inserts a
// space where the gap between glyphs reads as a word break.
func layoutLines(glyphs []pdf.Text) string {
	if len(glyphs) == 0 {
		return ""
	}
	sorted := append([]pdf.Text(nil), glyphs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Y > sorted[j].Y })

	var rows [][]pdf.Text
	for _, g := range sorted {
		if n := len(rows); n > 0 {
			top := rows[n-1][0]
			if math.Abs(top.Y-g.Y) <= math.Max(top.FontSize, 1)/2 {
				rows[n-1] = append(rows[n-1], g)
				continue
			}
		}
		rows = append(rows, []pdf.Text{g})
	}

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		sort.SliceStable(row, func(i, j int) bool { return row[i].X < row[j].X })
		var sb strings.Builder
		for i, g := range row {
			if i > 0 && wordGap(row[i-1], g) {
				sb.WriteByte(' ')
			}
			sb.WriteString(g.S)
		}
		if line := strings.TrimSpace(sb.String()); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// wordGap reports whether cur starts far enough after prev to be a new word.
// Fonts without width tables leave W at zero and every glyph of a string at
// the string's origin; then only a jump of more than a font size counts.
func wordGap(prev, cur pdf.Text) bool {
	size := math.Max(cur.FontSize, 1)
	if prev.W > 0 {
		return cur.X-(prev.X+prev.W) > 0.2*size
	}
	return cur.X-prev.X > size
}

func (c *PDFCodec) Select(src, dst string, pages []int) error {
	if len(pages) == 0 {
		return ErrNoPages
	}
	sorted := append([]int(nil), pages...)
	sort.Ints(sorted)
	selected := make([]string, len(sorted))
	for i, p := range sorted {
		selected[i] = strconv.Itoa(p)
	}
	if err := api.TrimFile(src, dst, selected, c.conf); err != nil {
		return fmt.Errorf("failed to select pages: %w", err)
	}
	return nil
}

func (c *PDFCodec) Merge(srcs []string, dst string) error {
	if len(srcs) == 0 {
		return ErrNoPages
	}
	if err := api.MergeCreateFile(srcs, dst, false, c.conf); err != nil {
		return fmt.Errorf("failed to merge: %w", err)
	}
	return nil
}

func (c *PDFCodec) Validate(path string) error {
	if err := api.ValidateFile(path, c.conf); err != nil {
		return fmt.Errorf("invalid pdf: %w", err)
	}
	return nil
}
