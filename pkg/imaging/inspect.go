package imaging

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/media-harvester/pkg/config"
	"github.com/Sriram-PR/media-harvester/pkg/models"
	"github.com/Sriram-PR/media-harvester/pkg/utils"
)

// maxDecodePixels caps full decodes; larger images are measured from their header only.
const maxDecodePixels = 1 << 24

// decodeBudget bounds the pixels being fully decoded at once across all callers.
var decodeBudget = semaphore.NewWeighted(4 * maxDecodePixels)

// Inspect opens path, fully decodes it and returns its metrics.
// Errors wrap ErrFileNotFound when nothing exists at path, ErrImageDecode when the
// bytes are not a readable image, and ErrFilesystem otherwise.
func Inspect(path string) (*models.ImageMetrics, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", utils.ErrFileNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: opening '%s': %w", utils.ErrFilesystem, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat '%s': %w", utils.ErrFilesystem, path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: '%s' is a directory", utils.ErrFileNotFound, path)
	}

	cfg, format, err := image.DecodeConfig(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%w: '%s': %w", utils.ErrImageDecode, path, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: '%s': invalid dimensions %dx%d", utils.ErrImageDecode, path, cfg.Width, cfg.Height)
	}

	// Header parsed; a full decode catches truncated and damaged pixel data
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels <= maxDecodePixels {
		if err := decodeFull(f, path, pixels); err != nil {
			return nil, err
		}
	}

	return &models.ImageMetrics{
		Format:      strings.ToUpper(format),
		Width:       cfg.Width,
		Height:      cfg.Height,
		AspectRatio: AspectRatio(cfg.Width, cfg.Height),
		FileSize:    info.Size(),
	}, nil
}

// decodeFull decodes f from the start, holding pixels of the decode budget meanwhile.
func decodeFull(f *os.File, path string, pixels int64) error {
	if err := decodeBudget.Acquire(context.Background(), pixels); err != nil {
		return err
	}
	defer decodeBudget.Release(pixels)

	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("%w: seeking '%s': %w", utils.ErrFilesystem, path, err)
	}
	if _, _, err := image.Decode(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("%w: '%s': %w", utils.ErrImageDecode, path, err)
	}
	return nil
}

// AspectRatio returns width/height rounded to four decimals, or 0 for a zero height.
func AspectRatio(width, height int) float64 {
	if height == 0 {
		return 0
	}
	return math.Round(float64(width)/float64(height)*10000) / 10000
}

// Filter is the quality predicate applied to decoded images.
type Filter struct {
	cfg config.FilterConfig
}

// NewFilter creates a Filter. cfg should already be validated.
func NewFilter(cfg config.FilterConfig) Filter {
	return Filter{cfg: cfg}
}

// Rejects reports whether m fails the predicate and, if so, why.
func (f Filter) Rejects(m *models.ImageMetrics) (bool, string) {
	switch {
	case m.Width < f.cfg.MinDimension || m.Height < f.cfg.MinDimension:
		return true, fmt.Sprintf("dimensions %dx%d below %dpx", m.Width, m.Height, f.cfg.MinDimension)
	case m.AspectRatio < f.cfg.MinAspectRatio:
		return true, fmt.Sprintf("aspect ratio %.4f below %g", m.AspectRatio, f.cfg.MinAspectRatio)
	case m.AspectRatio > f.cfg.MaxAspectRatio:
		return true, fmt.Sprintf("aspect ratio %.4f above %g", m.AspectRatio, f.cfg.MaxAspectRatio)
	}
	return false, ""
}
