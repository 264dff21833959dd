// Package render dumps text lines into a paginated PDF and stores it.
//
// The layout is deliberately minimal: one input line per output line,
// left-aligned at a fixed offset, fixed pitch, no wrapping and no font
// adaptation. Long lines run off the right edge. When the vertical cursor
// reaches the bottom margin a new page is started.
package render

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog"

	"examflow/internal/logger"
	"examflow/internal/store"
)

// MIMEType is the content type of the rendered document.
const MIMEType = "application/pdf"

// Layout holds the page geometry in points, measured from the bottom of the page.
type Layout struct {
	Left     float64
	Top      float64
	Bottom   float64
	Pitch    float64
	FontSize float64
}

// DefaultLayout draws from y=800 down to y=20 at 15pt pitch, x=30, Helvetica 12.
var DefaultLayout = Layout{
	Left:     30,
	Top:      800,
	Bottom:   20,
	Pitch:    15,
	FontSize: 12,
}

// LinesPerPage is how many lines fit between Top and Bottom.
func (l Layout) LinesPerPage() int {
	n := int((l.Top - l.Bottom) / l.Pitch)
	if n < 1 {
		return 1
	}
	return n
}

// Paginate splits lines into pages. A line holding "\n" counts as one line per
// segment. An empty input yields one empty page.
func (l Layout) Paginate(lines []string) [][]string {
	lines = splitLines(lines)
	perPage := l.LinesPerPage()
	if len(lines) == 0 {
		return [][]string{nil}
	}
	var pages [][]string
	for start := 0; start < len(lines); start += perPage {
		end := min(start+perPage, len(lines))
		pages = append(pages, lines[start:end])
	}
	return pages
}

func splitLines(lines []string) []string {
	for i, line := range lines {
		if !strings.Contains(line, "\n") {
			continue
		}
		out := append([]string(nil), lines[:i]...)
		for _, rest := range lines[i:] {
			out = append(out, strings.Split(rest, "\n")...)
		}
		return out
	}
	return lines
}

// Rendered describes a stored PDF.
type Rendered struct {
	Name  string
	ID    string
	Data  []byte
	Pages int
}

// Renderer draws text into A4 pages and uploads the result.
type Renderer struct {
	store  store.Store
	layout Layout
	log    zerolog.Logger
}

// NewRenderer creates a renderer that uploads into s using DefaultLayout.
func NewRenderer(s store.Store) *Renderer {
	return &Renderer{
		store:  s,
		layout: DefaultLayout,
		log:    logger.WithComponent("render"),
	}
}

// Render draws the lines, verifies the document and stores it as {baseName}.pdf.
func (r *Renderer) Render(ctx context.Context, lines []string, baseName string) (*Rendered, error) {
	const op = "Render"

	data, err := r.Draw(lines)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pages, err := PageCount(data)
	if err != nil {
		return nil, fmt.Errorf("%s: produced an unreadable document: %w", op, err)
	}

	name := baseName + ".pdf"
	id, err := r.store.Upload(ctx, name, data, MIMEType)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to upload %s: %w", op, name, err)
	}

	r.log.Info().
		Str("name", name).
		Str("id", id).
		Int("lines", len(lines)).
		Int("pages", pages).
		Msg("Document rendered")

	return &Rendered{Name: name, ID: id, Data: data, Pages: pages}, nil
}

// Draw lays the lines out and returns the PDF bytes without storing them.
func (r *Renderer) Draw(lines []string) ([]byte, error) {
	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetFont("Helvetica", "", r.layout.FontSize)
	translate := pdf.UnicodeTranslatorFromDescriptor("")
	_, pageHeight := pdf.GetPageSize()

	for _, page := range r.layout.Paginate(lines) {
		pdf.AddPage()
		y := r.layout.Top
		for _, line := range page {
			pdf.Text(r.layout.Left, pageHeight-y, translate(line))
			y -= r.layout.Pitch
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF output: %w", err)
	}
	return buf.Bytes(), nil
}

// PageCount reads a PDF and returns its number of pages.
func PageCount(data []byte) (int, error) {
	return api.PageCount(bytes.NewReader(data), model.NewDefaultConfiguration())
}
