// Package paginate reflows raw text into fixed-size pages for the current
// viewport and font size.
package paginate

import (
	"strings"

	"paperpiper/internal/model"
)

// Metrics measures rendered text. The renderer's font set implements it.
type Metrics interface {
	// TextWidth returns the pixel advance of s at the given font size.
	TextWidth(s string, size int) int
	// FontHeight returns the pixel height of one line of glyphs.
	FontHeight(size int) int
}

// lineSpacing is applied on top of the font height, both here and in the
// renderer, so pages always fit what gets drawn.
const lineSpacing = 1.2

// LineHeight returns the pixel distance between two text lines.
func LineHeight(m Metrics, size int) int {
	h := int(float64(m.FontHeight(size)) * lineSpacing)
	if h < 1 {
		h = 1
	}
	return h
}

// MaxLinesPerPage is max(1, (availableHeight - 2*margin) / lineHeight).
func MaxLinesPerPage(m Metrics, size int, v model.Viewport) int {
	avail := v.Height
	if v.ChromeVisible {
		avail -= v.HeaderHeight + v.FooterHeight + v.Margin
	}
	n := (avail - 2*v.Margin) / LineHeight(m, size)
	if n <= 0 {
		return 1
	}
	return n
}

// Paginate splits text into pages. Each page is a sequence of lines, every
// line terminated by '\n'. Words are never split: a word wider than the
// viewport gets a line of its own. Empty text yields no pages.
func Paginate(text string, size int, v model.Viewport, m Metrics) []string {
	if text == "" {
		return nil
	}

	maxLines := MaxLinesPerPage(m, size, v)
	maxW := v.Width - 2*v.Margin

	var (
		pages []string
		page  strings.Builder
		lines int
	)
	commit := func(line string) {
		page.WriteString(line)
		page.WriteByte('\n')
		lines++
		if lines >= maxLines {
			pages = append(pages, page.String())
			page.Reset()
			lines = 0
		}
	}

	paragraphs := strings.Split(text, "\n")
	// A trailing newline terminates the last paragraph instead of opening
	// an empty one.
	if len(paragraphs) > 1 && paragraphs[len(paragraphs)-1] == "" {
		paragraphs = paragraphs[:len(paragraphs)-1]
	}

	for _, para := range paragraphs {
		// Empty paragraphs produce no line.
		if para == "" {
			continue
		}

		words := strings.Split(para, " ")
		line := ""
		for i, w := range words {
			if i < len(words)-1 {
				w += " "
			}
			if line != "" && m.TextWidth(line+w, size) > maxW {
				commit(line)
				line = w
				continue
			}
			line += w
		}
		if line != "" {
			commit(line)
		}
	}

	if page.Len() > 0 {
		pages = append(pages, page.String())
	}
	return pages
}

// Document is the paginated text content with its current page.
type Document struct {
	Text     string
	FontSize int
	Pages    []string
	Index    int
}

// NewDocument returns an empty document with one empty page.
func NewDocument() *Document {
	return &Document{FontSize: model.DefaultFontSize, Pages: []string{""}}
}

// Rebuild reflows Text for the viewport and resets to the first page. The
// document always ends up with at least one (possibly empty) page.
func (d *Document) Rebuild(m Metrics, v model.Viewport) {
	d.FontSize = model.ClampFontSize(d.FontSize)
	d.Pages = Paginate(d.Text, d.FontSize, v, m)
	if len(d.Pages) == 0 {
		d.Pages = []string{""}
	}
	d.Index = 0
}

// Page returns the current page text.
func (d *Document) Page() string {
	if d.Index < 0 || d.Index >= len(d.Pages) {
		return ""
	}
	return d.Pages[d.Index]
}

// Count returns the number of pages (never less than 1 after Rebuild).
func (d *Document) Count() int {
	return len(d.Pages)
}

// Next moves forward one page; false at the last page.
func (d *Document) Next() bool {
	if d.Index >= len(d.Pages)-1 {
		return false
	}
	d.Index++
	return true
}

// Prev moves back one page; false at the first page.
func (d *Document) Prev() bool {
	if d.Index <= 0 {
		return false
	}
	d.Index--
	return true
}

// First jumps to page 0; false if already there.
func (d *Document) First() bool {
	if d.Index == 0 {
		return false
	}
	d.Index = 0
	return true
}

// Last jumps to the final page; false if already there.
func (d *Document) Last() bool {
	last := len(d.Pages) - 1
	if last < 0 || d.Index == last {
		return false
	}
	d.Index = last
	return true
}

// StepFont changes the font size by delta within bounds and reports whether
// it changed. Pages are not rebuilt here.
func (d *Document) StepFont(delta int) bool {
	next := model.ClampFontSize(d.FontSize + delta)
	if next == d.FontSize {
		return false
	}
	d.FontSize = next
	return true
}
