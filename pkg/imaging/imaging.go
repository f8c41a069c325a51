// Package imaging normalizes uploaded plant photos.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	DefaultSize      = 512
	DefaultQuality   = 85
	DefaultMaxPixels = 40_000_000
	ContentType      = "image/jpeg"
)

// ErrNotAnImage is returned when the input cannot be decoded.
var ErrNotAnImage = errors.New("imaging: unsupported or corrupt image")

// Options controls the output square size and JPEG quality. MaxPixels
// bounds the declared input dimensions before any pixel is decoded.
type Options struct {
	Size      int
	Quality   int
	MaxPixels int
}

func (o Options) withDefaults() Options {
	if o.Size <= 0 {
		o.Size = DefaultSize
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = DefaultQuality
	}
	if o.MaxPixels <= 0 {
		o.MaxPixels = DefaultMaxPixels
	}
	return o
}

// Normalize decodes r, crops it to the centered square, scales it to
// opts.Size and re-encodes it as JPEG. Images smaller than opts.Size are
// cropped but not upscaled.
func Normalize(r io.Reader, opts Options) ([]byte, error) {
	opts = opts.withDefaults()
	var header bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &header))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > int64(opts.MaxPixels) {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrNotAnImage, cfg.Width, cfg.Height, opts.MaxPixels)
	}
	src, _, err := image.Decode(io.MultiReader(&header, r))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}

	crop := centerSquare(src.Bounds())
	side := min(crop.Dx(), opts.Size)
	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func centerSquare(b image.Rectangle) image.Rectangle {
	side := min(b.Dx(), b.Dy())
	x0 := b.Min.X + (b.Dx()-side)/2
	y0 := b.Min.Y + (b.Dy()-side)/2
	return image.Rect(x0, y0, x0+side, y0+side)
}
