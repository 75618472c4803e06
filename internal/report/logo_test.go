package report

import (
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/DukeRupert/eightd/internal/domain"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDownloader struct {
	data *ImageData
	err  error
	urls []string
}

func (d *fakeDownloader) Download(ctx context.Context, url string) (*ImageData, error) {
	d.urls = append(d.urls, url)
	return d.data, d.err
}

func writeTestImage(t *testing.T, w, h int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logo.png")
	require.NoError(t, imaging.Save(imaging.New(w, h, color.NRGBA{R: 255, A: 255}), path))
	return path
}

func TestLogoLoader_FromFile(t *testing.T) {
	path := writeTestImage(t, 960, 320)

	logo, err := NewLogoLoader(path, 240, 80, nil).Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 240, logo.Width)
	assert.Equal(t, 80, logo.Height)
	assert.NotEmpty(t, logo.Data)
}

func TestLogoLoader_SmallImageNotEnlarged(t *testing.T) {
	path := writeTestImage(t, 60, 20)

	logo, err := NewLogoLoader(path, 0, 0, nil).Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 60, logo.Width)
	assert.Equal(t, 20, logo.Height)
}

func TestLogoLoader_FromURL(t *testing.T) {
	data, err := os.ReadFile(writeTestImage(t, 100, 100))
	require.NoError(t, err)
	dl := &fakeDownloader{data: &ImageData{Data: data, ContentType: "image/png"}}

	logo, err := NewLogoLoader("https://cdn.example.com/logo.png", 50, 50, dl).Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.example.com/logo.png"}, dl.urls)
	assert.Equal(t, 50, logo.Width)
}

func TestLogoLoader_MissingAsset(t *testing.T) {
	garbage := filepath.Join(t.TempDir(), "logo.png")
	require.NoError(t, os.WriteFile(garbage, []byte("not an image"), 0o644))

	tests := []struct {
		name   string
		loader *LogoLoader
	}{
		{"not configured", NewLogoLoader("", 0, 0, nil)},
		{"nil loader", nil},
		{"file missing", NewLogoLoader(filepath.Join(t.TempDir(), "nope.png"), 0, 0, nil)},
		{"not an image", NewLogoLoader(garbage, 0, 0, nil)},
		{"download failed", NewLogoLoader("http://example.com/logo.png", 0, 0, &fakeDownloader{err: errors.New("status 404")})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logo, err := tt.loader.Load(context.Background())

			assert.Nil(t, logo)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrMissingAsset))
		})
	}
}
