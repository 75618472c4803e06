// Package report renders an 8D report into downloadable documents.
//
// This package defines a Generator interface implemented by XLSXGenerator and
// PDFGenerator, along with the shared input type, brand colors and the
// optional logo asset.
package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/DukeRupert/eightd/internal/domain"
	"github.com/DukeRupert/eightd/internal/i18n"
)

// =============================================================================
// Generator Interface
// =============================================================================

// Generator defines the interface for report generators.
// Implementations handle the specifics of each format (XLSX, PDF).
type Generator interface {
	// Generate renders the report and writes it to the provided writer.
	// Returns the number of bytes written and any error.
	Generate(ctx context.Context, data *Data, w io.Writer) (int64, error)

	// Format returns the output format of this generator.
	Format() domain.ReportFormat
}

// Data is everything a generator needs to render one report.
type Data struct {
	State       *domain.ReportState
	Labels      *i18n.Labels
	Logo        *Logo // nil when no logo is configured or it could not be loaded
	GeneratedAt time.Time
}

// NewData snapshots a report for rendering. The state is cloned so a
// generator can never modify the caller's copy.
func NewData(state *domain.ReportState, labels *i18n.Labels, logo *Logo, now time.Time) *Data {
	return &Data{
		State:       state.Clone(),
		Labels:      labels,
		Logo:        logo,
		GeneratedAt: now,
	}
}

func (d *Data) validate() error {
	if d == nil || d.State == nil {
		return fmt.Errorf("report data is missing the report state")
	}
	if d.Labels == nil {
		return fmt.Errorf("report data is missing labels")
	}
	return nil
}

// whyRows returns the number of rows of the D5 why table.
func (d *Data) whyRows() int {
	occ := len(d.State.Analysis.OccurrenceWhys)
	det := len(d.State.Analysis.DetectionWhys)
	if det > occ {
		return det
	}
	return occ
}

// why returns entry i of a chain, or "" past its end.
func (d *Data) why(c domain.WhyCategory, i int) string {
	list := d.State.Analysis.OccurrenceWhys
	if c == domain.WhyDetection {
		list = d.State.Analysis.DetectionWhys
	}
	if i < len(list) {
		return list[i]
	}
	return ""
}

// =============================================================================
// Brand Colors
// =============================================================================

// BrandColors defines the color palette shared by all export formats.
var BrandColors = struct {
	Navy       string // Header fills and titles
	Accent     string // Root-cause highlight
	TextDark   string // Primary text
	TextMuted  string // Footer text
	Border     string // Borders and dividers
	Background string // Label column fill
	White      string // Header text
}{
	Navy:       "#1E3A5F",
	Accent:     "#FF6B35",
	TextDark:   "#1F2937",
	TextMuted:  "#6B7280",
	Border:     "#E5E7EB",
	Background: "#F9FAFB",
	White:      "#FFFFFF",
}

// =============================================================================
// Color Conversion Helpers
// =============================================================================

// HexToRGB converts a hex color string to RGB values.
// Input format: "#RRGGBB" or "RRGGBB"
func HexToRGB(hex string) (r, g, b int) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return 0, 0, 0
	}

	r = hexToDec(hex[0:2])
	g = hexToDec(hex[2:4])
	b = hexToDec(hex[4:6])
	return
}

// hexToDec converts a 2-character hex string to decimal.
func hexToDec(hex string) int {
	val := 0
	for _, c := range hex {
		val *= 16
		switch {
		case c >= '0' && c <= '9':
			val += int(c - '0')
		case c >= 'a' && c <= 'f':
			val += int(c - 'a' + 10)
		case c >= 'A' && c <= 'F':
			val += int(c - 'A' + 10)
		}
	}
	return val
}

// FormatDateTime formats a timestamp for report footers.
func FormatDateTime(t time.Time) string {
	return t.Format("January 2, 2006 at 3:04 PM")
}

// =============================================================================
// Image Download
// =============================================================================

// ImageData holds downloaded image data.
type ImageData struct {
	Data        []byte
	ContentType string
}

// ImageDownloader abstracts fetching a remote logo.
// This allows testing logo loading without network I/O.
type ImageDownloader interface {
	Download(ctx context.Context, url string) (*ImageData, error)
}

// HTTPImageDownloader fetches images over HTTP.
type HTTPImageDownloader struct {
	client *http.Client
}

// NewHTTPImageDownloader creates an ImageDownloader that fetches images over HTTP.
func NewHTTPImageDownloader() *HTTPImageDownloader {
	return &HTTPImageDownloader{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Download fetches an image from a URL and returns its data.
// Returns nil, nil if the URL is empty.
func (d *HTTPImageDownloader) Download(ctx context.Context, url string) (*ImageData, error) {
	if url == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, fmt.Errorf("read image data: %w", err)
	}

	return &ImageData{
		Data:        buf.Bytes(),
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}
