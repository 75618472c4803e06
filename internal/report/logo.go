package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/DukeRupert/eightd/internal/domain"
	"github.com/disintegration/imaging"
)

// Default bounds of the embedded logo, in pixels.
const (
	DefaultLogoMaxWidth  = 240
	DefaultLogoMaxHeight = 80
)

// Logo is a PNG-encoded image ready to be placed into an export.
type Logo struct {
	Data   []byte
	Width  int
	Height int
}

// LogoLoader reads the optional logo from a file path or an http(s) URL.
type LogoLoader struct {
	source     string
	maxWidth   int
	maxHeight  int
	downloader ImageDownloader
}

// NewLogoLoader creates a loader for source. An empty source means no logo
// is configured. Non-positive bounds fall back to the defaults.
func NewLogoLoader(source string, maxWidth, maxHeight int, downloader ImageDownloader) *LogoLoader {
	if maxWidth <= 0 {
		maxWidth = DefaultLogoMaxWidth
	}
	if maxHeight <= 0 {
		maxHeight = DefaultLogoMaxHeight
	}
	if downloader == nil {
		downloader = NewHTTPImageDownloader()
	}
	return &LogoLoader{
		source:     strings.TrimSpace(source),
		maxWidth:   maxWidth,
		maxHeight:  maxHeight,
		downloader: downloader,
	}
}

// Load fetches and resizes the logo. Every failure wraps
// domain.ErrMissingAsset: callers skip the logo and carry on.
func (l *LogoLoader) Load(ctx context.Context) (*Logo, error) {
	const op = "report.load_logo"

	if l == nil || l.source == "" {
		return nil, domain.Wrap(domain.ErrMissingAsset, domain.ENOTFOUND, op, "no logo configured")
	}

	var r io.Reader
	if strings.HasPrefix(l.source, "http://") || strings.HasPrefix(l.source, "https://") {
		img, err := l.downloader.Download(ctx, l.source)
		if err != nil {
			return nil, missingLogo(op, err)
		}
		if img == nil {
			return nil, missingLogo(op, errors.New("empty response"))
		}
		r = bytes.NewReader(img.Data)
	} else {
		f, err := os.Open(l.source)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, domain.Wrap(domain.ErrMissingAsset, domain.ENOTFOUND, op, fmt.Sprintf("logo file %q not found", l.source))
			}
			return nil, missingLogo(op, err)
		}
		defer f.Close()
		r = f
	}

	logo, err := DecodeLogo(r, l.maxWidth, l.maxHeight)
	if err != nil {
		return nil, missingLogo(op, err)
	}
	return logo, nil
}

// DecodeLogo decodes an image, shrinks it to fit within maxWidth x maxHeight
// preserving aspect ratio, and re-encodes it as PNG.
func DecodeLogo(r io.Reader, maxWidth, maxHeight int) (*Logo, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode logo: %w", err)
	}

	fitted := imaging.Fit(img, maxWidth, maxHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode logo: %w", err)
	}

	bounds := fitted.Bounds()
	return &Logo{
		Data:   buf.Bytes(),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

func missingLogo(op string, err error) error {
	return domain.Wrap(errors.Join(domain.ErrMissingAsset, err), domain.ENOTFOUND, op,
		fmt.Sprintf("logo unavailable: %v", err))
}
