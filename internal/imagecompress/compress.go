package imagecompress

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png"
)

const (
	// DefaultQuality is used when the caller passes zero.
	DefaultQuality = 75
	minQuality     = 1
	maxQuality     = 100
	jpegType       = "image/jpeg"
	// MaxPixels bounds width*height before any pixel data is decoded.
	MaxPixels = 40_000_000
)

var (
	// ErrInvalidQuality reports a quality outside 1..100.
	ErrInvalidQuality = errors.New("imagecompress: quality must be between 1 and 100")
	// ErrUnsupportedImage reports input that is neither JPEG nor PNG.
	ErrUnsupportedImage = errors.New("imagecompress: unsupported image")
	// ErrImageTooLarge reports dimensions above MaxPixels.
	ErrImageTooLarge = errors.New("imagecompress: image dimensions too large")
)

// Result is the compressed output. Compressed is false when the original was kept.
type Result struct {
	Body         []byte
	ContentType  string
	OriginalSize int
	Compressed   bool
}

// Compress re-encodes input as JPEG. The result is never larger than input.
func Compress(input []byte, quality int) (Result, error) {
	if quality == 0 {
		quality = DefaultQuality
	}
	if quality < minQuality || quality > maxQuality {
		return Result{}, ErrInvalidQuality
	}
	config, _, err := image.DecodeConfig(bytes.NewReader(input))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if int64(config.Width)*int64(config.Height) > MaxPixels {
		return Result{}, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, config.Width, config.Height)
	}
	decoded, format, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	var encoded bytes.Buffer
	if err := jpeg.Encode(&encoded, flatten(decoded), &jpeg.Options{Quality: quality}); err != nil {
		return Result{}, fmt.Errorf("imagecompress: encode: %w", err)
	}
	if encoded.Len() >= len(input) {
		return Result{Body: input, ContentType: "image/" + format, OriginalSize: len(input)}, nil
	}
	return Result{Body: encoded.Bytes(), ContentType: jpegType, OriginalSize: len(input), Compressed: true}, nil
}

// flatten draws transparent images over white so JPEG has no black background.
func flatten(source image.Image) image.Image {
	if opaque, ok := source.(interface{ Opaque() bool }); ok && opaque.Opaque() {
		return source
	}
	bounds := source.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(canvas, bounds, source, bounds.Min, draw.Over)
	return canvas
}
