package report

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/DukeRupert/eightd/internal/domain"
	"github.com/go-pdf/fpdf"
)

// =============================================================================
// PDF Generator
// =============================================================================

// PDFGenerator renders a report as a printable A4 document.
type PDFGenerator struct {
	// Page dimensions (A4 in mm)
	pageWidth  float64
	pageHeight float64
	margin     float64

	// Content area
	contentWidth float64
}

// NewPDFGenerator creates a new PDF generator with default settings.
func NewPDFGenerator() *PDFGenerator {
	margin := 15.0
	pageWidth := 210.0 // A4 width in mm
	return &PDFGenerator{
		pageWidth:    pageWidth,
		pageHeight:   297.0, // A4 height in mm
		margin:       margin,
		contentWidth: pageWidth - (2 * margin),
	}
}

// Format returns the output format of this generator.
func (g *PDFGenerator) Format() domain.ReportFormat {
	return domain.ReportFormatPDF
}

// Generate creates a PDF report and writes it to the provided writer.
func (g *PDFGenerator) Generate(ctx context.Context, data *Data, w io.Writer) (int64, error) {
	if err := data.validate(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	text := pdf.UnicodeTranslatorFromDescriptor("")

	// Set document metadata
	pdf.SetTitle(data.Labels.ReportTitle+" - "+data.State.ReportDate, true)
	if data.State.PreparedBy != "" {
		pdf.SetAuthor(data.State.PreparedBy, true)
	}
	pdf.SetCreator("eightd", true)

	// Enable automatic page breaks with footer space
	pdf.SetAutoPageBreak(true, 20)

	pdf.SetFooterFunc(func() {
		g.addFooter(pdf, data, text)
	})

	pdf.AddPage()
	g.addHeader(pdf, data, text)
	g.addSteps(pdf, data, text)
	g.addFinalAnalysis(pdf, data, text)

	if err := pdf.Error(); err != nil {
		return 0, fmt.Errorf("pdf generation error: %w", err)
	}

	// Write to buffer to count bytes
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return 0, fmt.Errorf("pdf output error: %w", err)
	}

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// =============================================================================
// Header
// =============================================================================

func (g *PDFGenerator) addHeader(pdf *fpdf.Fpdf, data *Data, text func(string) string) {
	l := data.Labels

	// Navy header bar
	r, gr, b := HexToRGB(BrandColors.Navy)
	pdf.SetFillColor(r, gr, b)
	pdf.Rect(0, 0, g.pageWidth, 32, "F")

	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 22)
	pdf.SetXY(g.margin, 11)
	pdf.Cell(0, 10, text(l.ReportTitle))

	if data.Logo != nil && len(data.Logo.Data) > 0 {
		g.addLogo(pdf, data.Logo)
	}

	r, gr, b = HexToRGB(BrandColors.TextDark)
	pdf.SetTextColor(r, gr, b)
	pdf.SetXY(g.margin, 42)

	g.addLabelValue(pdf, text(l.ReportDate), text(data.State.ReportDate))
	g.addLabelValue(pdf, text(l.PreparedBy), text(data.State.PreparedBy))
	pdf.Ln(6)
}

func (g *PDFGenerator) addLogo(pdf *fpdf.Fpdf, logo *Logo) {
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("logo", opts, bytes.NewReader(logo.Data))

	// Fit into a 24mm high box in the header bar.
	h := 24.0
	w := h * float64(logo.Width) / float64(max(logo.Height, 1))
	pdf.ImageOptions("logo", g.pageWidth-g.margin-w, 4, w, h, false, opts, 0, "")
}

// =============================================================================
// Step Table
// =============================================================================

func (g *PDFGenerator) addSteps(pdf *fpdf.Fpdf, data *Data, text func(string) string) {
	l := data.Labels
	colStep := g.contentWidth * 0.25
	colText := (g.contentWidth - colStep) / 2

	g.tableHeader(pdf, text, []float64{colStep, colText, colText}, l.HeaderStep, l.HeaderAnswer, l.HeaderExtra)

	for _, step := range domain.AnswerSteps {
		entry := data.State.Entry(step)
		g.tableRow(pdf, []float64{colStep, colText, colText},
			[]string{text(l.Step(step)), text(entry.Answer), text(entry.Extra)},
			[]string{"B", "B", ""})
	}
	pdf.Ln(8)
}

// =============================================================================
// Final Analysis
// =============================================================================

func (g *PDFGenerator) addFinalAnalysis(pdf *fpdf.Fpdf, data *Data, text func(string) string) {
	l := data.Labels
	a := data.State.Analysis

	// Keep the block header together with its first rows.
	if pdf.GetY() > 230 {
		pdf.AddPage()
	}
	g.addSectionHeader(pdf, text(l.Step(domain.StepD5)))

	colLabel := g.contentWidth * 0.2
	colText := (g.contentWidth - colLabel) / 2
	widths := []float64{colLabel, colText, colText}

	g.tableHeader(pdf, text, widths, "", l.Category(domain.WhyOccurrence), l.Category(domain.WhyDetection))
	for i := 0; i < data.whyRows(); i++ {
		g.tableRow(pdf, widths,
			[]string{text(l.WhyLabel(i + 1)), text(data.why(domain.WhyOccurrence, i)), text(data.why(domain.WhyDetection, i))},
			[]string{"B", "", ""})
	}

	r, gr, b := HexToRGB(BrandColors.Accent)
	pdf.SetTextColor(r, gr, b)
	g.tableRow(pdf, widths,
		[]string{text(l.RootCause), text(a.RootCauseOccurrence), text(a.RootCauseDetection)},
		[]string{"B", "B", "B"})
	r, gr, b = HexToRGB(BrandColors.TextDark)
	pdf.SetTextColor(r, gr, b)

	pdf.Ln(6)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.Cell(0, 8, text(l.SystemicAnalysis))
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(g.contentWidth, 5, text(a.SystemicAnalysis), "", "L", false)
}

// =============================================================================
// Helper Methods
// =============================================================================

func (g *PDFGenerator) addSectionHeader(pdf *fpdf.Fpdf, title string) {
	// Draw navy underline
	r, gr, b := HexToRGB(BrandColors.Navy)
	pdf.SetDrawColor(r, gr, b)
	pdf.SetLineWidth(0.5)

	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetTextColor(r, gr, b)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)

	pdf.Line(g.margin, pdf.GetY(), g.pageWidth-g.margin, pdf.GetY())
	pdf.Ln(6)

	// Reset text color and line width
	r, gr, b = HexToRGB(BrandColors.TextDark)
	pdf.SetTextColor(r, gr, b)
	pdf.SetLineWidth(0.2)
}

func (g *PDFGenerator) tableHeader(pdf *fpdf.Fpdf, text func(string) string, widths []float64, titles ...string) {
	r, gr, b := HexToRGB(BrandColors.Navy)
	pdf.SetFillColor(r, gr, b)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 10)
	r, gr, b = HexToRGB(BrandColors.TextMuted)
	pdf.SetDrawColor(r, gr, b)

	for i, title := range titles {
		ln := 0
		if i == len(titles)-1 {
			ln = 1
		}
		pdf.CellFormat(widths[i], 8, text(title), "1", ln, "C", true, 0, "")
	}

	r, gr, b = HexToRGB(BrandColors.TextDark)
	pdf.SetTextColor(r, gr, b)
}

// tableRow draws one bordered row whose height fits the tallest wrapped
// cell.
func (g *PDFGenerator) tableRow(pdf *fpdf.Fpdf, widths []float64, cells, styles []string) {
	const lineHeight = 5.0

	lines := 1
	for i, cell := range cells {
		pdf.SetFont("Helvetica", styles[i], 10)
		if n := len(pdf.SplitLines([]byte(cell), widths[i]-2)); n > lines {
			lines = n
		}
	}
	height := float64(lines)*lineHeight + 2

	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	if pdf.GetY()+height > pageHeight-bottom {
		pdf.AddPage()
	}

	x, y := pdf.GetXY()
	for i, cell := range cells {
		pdf.Rect(x, y, widths[i], height, "D")
		pdf.SetXY(x+1, y+1)
		pdf.SetFont("Helvetica", styles[i], 10)
		pdf.MultiCell(widths[i]-2, lineHeight, cell, "", "L", false)
		x += widths[i]
	}
	pdf.SetXY(g.margin, y+height)
}

func (g *PDFGenerator) addLabelValue(pdf *fpdf.Fpdf, label, value string) {
	pdf.SetFont("Helvetica", "B", 10)
	pdf.Cell(40, 6, label+":")
	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(g.contentWidth-40, 6, value, "", "L", false)
}

func (g *PDFGenerator) addFooter(pdf *fpdf.Fpdf, data *Data, text func(string) string) {
	pdf.SetY(-15)

	// Draw separator line
	r, gr, b := HexToRGB(BrandColors.Border)
	pdf.SetDrawColor(r, gr, b)
	pdf.Line(g.margin, pdf.GetY()-3, g.pageWidth-g.margin, pdf.GetY()-3)

	// Footer text
	r, gr, b = HexToRGB(BrandColors.TextMuted)
	pdf.SetTextColor(r, gr, b)
	pdf.SetFont("Helvetica", "", 8)

	// Left: generation date
	pdf.Cell(0, 10, text(data.Labels.GeneratedOn+": "+FormatDateTime(data.GeneratedAt)))

	// Right: page number
	pdf.SetX(-g.margin - 30)
	pdf.CellFormat(30, 10, text(fmt.Sprintf("%s %d", data.Labels.Page, pdf.PageNo())), "", 0, "R", false, 0, "")
}
