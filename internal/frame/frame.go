// Package frame acquires still images from a target's video feed and encodes
// them for the streaming session.
package frame

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // snapshot endpoints may serve PNG
	"io"
	"net/http"
	"time"

	"golang.org/x/image/draw"
)

// ErrFrameUnavailable reports that no frame could be read, e.g. because the
// feed is not ready or refuses access.
var ErrFrameUnavailable = errors.New("frame: unavailable")

// Defaults used when a field is left zero.
const (
	DefaultQuality = 60

	// Raster size used when the source reports no dimensions.
	fallbackWidth  = 640
	fallbackHeight = 360

	maxSnapshotBytes = 16 << 20
)

// JPEG rasterises frames and encodes them as JPEG.
type JPEG struct {
	// Quality is the JPEG quality factor, 1-100. Zero selects DefaultQuality.
	Quality int

	// MaxWidth, if positive, downscales wider frames to this width keeping
	// the aspect ratio.
	MaxWidth int
}

// Encode draws img onto an RGBA raster at its native size and returns the
// JPEG bytes.
func (e JPEG) Encode(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: no image", ErrFrameUnavailable)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		w, h = fallbackWidth, fallbackHeight
	}

	raster := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(raster, raster.Bounds(), img, b.Min, draw.Src)

	var out image.Image = raster
	if e.MaxWidth > 0 && w > e.MaxWidth {
		dh := max(1, h*e.MaxWidth/w)
		scaled := image.NewRGBA(image.Rect(0, 0, e.MaxWidth, dh))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), raster, raster.Bounds(), draw.Src, nil)
		out = scaled
	}

	q := e.Quality
	if q <= 0 || q > 100 {
		q = DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: q}); err != nil {
		return nil, fmt.Errorf("frame: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Snapshot reads frames from an HTTP endpoint that returns a still image per
// request, as most IP cameras expose.
type Snapshot struct {
	URL    string
	Client *http.Client
}

// NewSnapshot returns a Snapshot for url with a short request timeout.
func NewSnapshot(url string) *Snapshot {
	return &Snapshot{URL: url, Client: &http.Client{Timeout: 5 * time.Second}}
}

// Frame fetches and decodes the current image. All failures wrap
// ErrFrameUnavailable.
func (s *Snapshot) Frame(ctx context.Context) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFrameUnavailable, err)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFrameUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %s", ErrFrameUnavailable, s.URL, resp.Status)
	}
	img, _, err := image.Decode(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrFrameUnavailable, err)
	}
	return img, nil
}

// Static always returns the same image. It serves fixed test patterns and
// offline drills.
type Static struct {
	Image image.Image
}

// Frame returns the configured image, or ErrFrameUnavailable if none is set.
func (s Static) Frame(context.Context) (image.Image, error) {
	if s.Image == nil {
		return nil, ErrFrameUnavailable
	}
	return s.Image, nil
}
