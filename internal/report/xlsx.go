package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/DukeRupert/eightd/internal/domain"
	"github.com/xuri/excelize/v2"
)

// Workbook layout. Rows are 1-based.
const (
	XLSXTitleRow        = 1
	XLSXDateRow         = 3
	XLSXPreparedByRow   = 4
	XLSXHeaderRow       = 6
	XLSXFirstStepRow    = 7
	XLSXAnalysisRow     = XLSXFirstStepRow + 7 + 1 // one blank row after D8
	XLSXColumnWidth     = 40.0
	xlsxMaxSheetNameLen = 31
)

// =============================================================================
// XLSX Generator
// =============================================================================

// XLSXGenerator renders a report as a single-sheet Excel workbook with the
// columns Step, Answer and Extra / Notes.
type XLSXGenerator struct {
	logger *slog.Logger
}

// NewXLSXGenerator creates a new XLSX generator.
func NewXLSXGenerator(logger *slog.Logger) *XLSXGenerator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &XLSXGenerator{logger: logger}
}

// Format returns the output format of this generator.
func (g *XLSXGenerator) Format() domain.ReportFormat {
	return domain.ReportFormatXLSX
}

// Generate creates the workbook and writes it to the provided writer.
func (g *XLSXGenerator) Generate(ctx context.Context, data *Data, w io.Writer) (int64, error) {
	if err := data.validate(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := SheetName(data.Labels.ReportTitle)
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return 0, fmt.Errorf("rename sheet: %w", err)
	}

	sw := &sheetWriter{f: f, sheet: sheet, logger: g.logger}
	styles := sw.newStyles()

	g.writeTitle(sw, styles, data)
	g.writeStepTable(sw, styles, data)
	g.writeFinalAnalysis(sw, styles, data)

	if sw.err == nil {
		sw.err = f.SetColWidth(sheet, "A", "C", XLSXColumnWidth)
	}
	if sw.err != nil {
		return 0, fmt.Errorf("xlsx generation error: %w", sw.err)
	}

	g.addLogo(f, sheet, data.Logo)

	// File.WriteTo does not report a byte count; render to a buffer first.
	buf, err := f.WriteToBuffer()
	if err != nil {
		return 0, fmt.Errorf("xlsx output error: %w", err)
	}
	n, err := buf.WriteTo(w)
	if err != nil {
		return n, fmt.Errorf("xlsx output error: %w", err)
	}
	return n, nil
}

// =============================================================================
// Sections
// =============================================================================

func (g *XLSXGenerator) writeTitle(sw *sheetWriter, st xlsxStyles, data *Data) {
	l := data.Labels
	s := data.State

	sw.set(1, XLSXTitleRow, l.ReportTitle)
	sw.merge(1, XLSXTitleRow, 3, XLSXTitleRow+1)
	sw.style(1, XLSXTitleRow, 3, XLSXTitleRow+1, st.title)

	sw.set(1, XLSXDateRow, l.ReportDate)
	sw.set(2, XLSXDateRow, s.ReportDate)
	sw.set(1, XLSXPreparedByRow, l.PreparedBy)
	sw.set(2, XLSXPreparedByRow, s.PreparedBy)
	sw.style(1, XLSXDateRow, 1, XLSXPreparedByRow, st.metaLabel)
}

func (g *XLSXGenerator) writeStepTable(sw *sheetWriter, st xlsxStyles, data *Data) {
	l := data.Labels

	sw.set(1, XLSXHeaderRow, l.HeaderStep)
	sw.set(2, XLSXHeaderRow, l.HeaderAnswer)
	sw.set(3, XLSXHeaderRow, l.HeaderExtra)
	sw.style(1, XLSXHeaderRow, 3, XLSXHeaderRow, st.header)

	row := XLSXFirstStepRow
	for _, step := range domain.AnswerSteps {
		entry := data.State.Entry(step)
		sw.set(1, row, l.Step(step))
		sw.set(2, row, entry.Answer)
		sw.set(3, row, entry.Extra)
		sw.style(1, row, 1, row, st.label)
		sw.style(2, row, 2, row, st.answer)
		sw.style(3, row, 3, row, st.body)
		row++
	}
}

// writeFinalAnalysis renders D5 as its own block below the step table:
// both why chains side by side, then the root causes and the systemic
// analysis.
func (g *XLSXGenerator) writeFinalAnalysis(sw *sheetWriter, st xlsxStyles, data *Data) {
	l := data.Labels
	a := data.State.Analysis

	row := XLSXAnalysisRow
	sw.set(1, row, l.Step(domain.StepD5))
	sw.set(2, row, l.Category(domain.WhyOccurrence))
	sw.set(3, row, l.Category(domain.WhyDetection))
	sw.style(1, row, 3, row, st.header)
	row++

	for i := 0; i < data.whyRows(); i++ {
		sw.set(1, row, l.WhyLabel(i+1))
		sw.set(2, row, data.why(domain.WhyOccurrence, i))
		sw.set(3, row, data.why(domain.WhyDetection, i))
		sw.style(1, row, 1, row, st.label)
		sw.style(2, row, 3, row, st.body)
		row++
	}

	sw.set(1, row, l.RootCause)
	sw.set(2, row, a.RootCauseOccurrence)
	sw.set(3, row, a.RootCauseDetection)
	sw.style(1, row, 1, row, st.label)
	sw.style(2, row, 3, row, st.rootCause)
	row++

	sw.set(1, row, l.SystemicAnalysis)
	sw.set(2, row, a.SystemicAnalysis)
	sw.merge(2, row, 3, row)
	sw.style(1, row, 1, row, st.label)
	sw.style(2, row, 3, row, st.body)
}

func (g *XLSXGenerator) addLogo(f *excelize.File, sheet string, logo *Logo) {
	if logo == nil || len(logo.Data) == 0 {
		return
	}
	err := f.AddPictureFromBytes(sheet, "D1", &excelize.Picture{
		Extension: ".png",
		File:      logo.Data,
		Format: &excelize.GraphicOptions{
			OffsetX:         8,
			OffsetY:         4,
			LockAspectRatio: true,
		},
	})
	if err != nil {
		g.logger.Debug("skipping logo in xlsx export", "error", err)
	}
}

// SheetName turns a title into a valid worksheet name.
func SheetName(title string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return -1
		}
		return r
	}, strings.TrimSpace(title))
	name = strings.Trim(name, "'")

	if runes := []rune(name); len(runes) > xlsxMaxSheetNameLen {
		name = string(runes[:xlsxMaxSheetNameLen])
	}
	if name == "" {
		return "Report"
	}
	return name
}

// =============================================================================
// Sheet Writer
// =============================================================================

// sheetWriter wraps an excelize sheet and keeps the first error, so a
// section can issue many writes and the caller checks once.
type sheetWriter struct {
	f      *excelize.File
	sheet  string
	logger *slog.Logger
	err    error
}

type xlsxStyles struct {
	title     int
	metaLabel int
	header    int
	label     int
	answer    int
	body      int
	rootCause int
}

func (sw *sheetWriter) newStyles() xlsxStyles {
	navy := excelColor(BrandColors.Navy)
	borders := thinBorders(excelColor(BrandColors.TextMuted))
	wrapTop := &excelize.Alignment{Vertical: "top", WrapText: true}

	return xlsxStyles{
		title: sw.newStyle(&excelize.Style{
			Font:      &excelize.Font{Bold: true, Size: 14, Color: navy},
			Alignment: &excelize.Alignment{Vertical: "center"},
		}),
		metaLabel: sw.newStyle(&excelize.Style{
			Font: &excelize.Font{Bold: true},
		}),
		header: sw.newStyle(&excelize.Style{
			Font:      &excelize.Font{Bold: true, Color: excelColor(BrandColors.White)},
			Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{navy}},
			Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
			Border:    borders,
		}),
		label: sw.newStyle(&excelize.Style{
			Font:      &excelize.Font{Bold: true},
			Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{excelColor(BrandColors.Background)}},
			Alignment: wrapTop,
			Border:    borders,
		}),
		answer: sw.newStyle(&excelize.Style{
			Font:      &excelize.Font{Bold: true},
			Alignment: wrapTop,
			Border:    borders,
		}),
		body: sw.newStyle(&excelize.Style{
			Alignment: wrapTop,
			Border:    borders,
		}),
		rootCause: sw.newStyle(&excelize.Style{
			Font:      &excelize.Font{Bold: true, Color: excelColor(BrandColors.Accent)},
			Alignment: wrapTop,
			Border:    borders,
		}),
	}
}

func (sw *sheetWriter) newStyle(s *excelize.Style) int {
	if sw.err != nil {
		return 0
	}
	id, err := sw.f.NewStyle(s)
	sw.err = err
	return id
}

func (sw *sheetWriter) set(col, row int, value string) {
	if sw.err != nil {
		return
	}
	var cell string
	cell, sw.err = excelize.CoordinatesToCellName(col, row)
	if sw.err != nil {
		return
	}
	if runes := []rune(value); len(runes) > excelize.TotalCellChars {
		sw.logger.Warn("truncating xlsx cell text",
			"cell", cell,
			"chars", len(runes),
			"limit", excelize.TotalCellChars,
		)
		value = string(runes[:excelize.TotalCellChars])
	}
	sw.err = sw.f.SetCellStr(sw.sheet, cell, value)
}

func (sw *sheetWriter) merge(fromCol, fromRow, toCol, toRow int) {
	from, to := sw.cellRange(fromCol, fromRow, toCol, toRow)
	if sw.err != nil {
		return
	}
	sw.err = sw.f.MergeCell(sw.sheet, from, to)
}

func (sw *sheetWriter) style(fromCol, fromRow, toCol, toRow, styleID int) {
	from, to := sw.cellRange(fromCol, fromRow, toCol, toRow)
	if sw.err != nil {
		return
	}
	sw.err = sw.f.SetCellStyle(sw.sheet, from, to, styleID)
}

func (sw *sheetWriter) cellRange(fromCol, fromRow, toCol, toRow int) (string, string) {
	if sw.err != nil {
		return "", ""
	}
	from, err := excelize.CoordinatesToCellName(fromCol, fromRow)
	if err != nil {
		sw.err = err
		return "", ""
	}
	to, err := excelize.CoordinatesToCellName(toCol, toRow)
	if err != nil {
		sw.err = err
		return "", ""
	}
	return from, to
}

func thinBorders(color string) []excelize.Border {
	sides := []string{"left", "top", "right", "bottom"}
	borders := make([]excelize.Border, 0, len(sides))
	for _, side := range sides {
		borders = append(borders, excelize.Border{Type: side, Color: color, Style: 1})
	}
	return borders
}

// excelColor converts "#RRGGBB" to the "RRGGBB" form excelize expects.
func excelColor(hex string) string {
	return strings.ToUpper(strings.TrimPrefix(hex, "#"))
}
