package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	mimeJPEG = "image/jpeg"
	mimePNG  = "image/png"
)

// Sniff detects the type of an upload from its content and returns its canonical MIME type.
// Only JPEG and PNG are accepted.
func Sniff(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrInvalidImage
	}
	detected := mimetype.Detect(data)
	switch {
	case detected.Is(mimeJPEG):
		return mimeJPEG, nil
	case detected.Is(mimePNG):
		return mimePNG, nil
	default:
		return "", fmt.Errorf("%w: detected %s", ErrUnsupportedImage, detected.String())
	}
}

// AcceptedMIME reports whether a declared MIME type or file extension is one the upload surface accepts.
func AcceptedMIME(declared string) bool {
	switch strings.ToLower(strings.TrimSpace(declared)) {
	case mimeJPEG, "image/jpg", mimePNG, "jpg", "jpeg", "png", ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// normalize decodes the image and re-encodes it as an opaque RGB PNG.
// Transparent pixels are flattened onto white.
func normalize(data []byte, mimeType string) ([]byte, image.Rectangle, error) {
	var (
		src image.Image
		err error
	)
	switch mimeType {
	case mimeJPEG:
		src, err = jpeg.Decode(bytes.NewReader(data))
	case mimePNG:
		src, err = png.Decode(bytes.NewReader(data))
	default:
		return nil, image.Rectangle{}, ErrUnsupportedImage
	}
	if err != nil {
		return nil, image.Rectangle{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	bounds := src.Bounds()
	rgb := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgb, rgb.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(rgb, rgb.Bounds(), src, bounds.Min, draw.Over)

	// An opaque RGBA is written as 8-bit truecolor without an alpha channel.
	var buf bytes.Buffer
	if err := png.Encode(&buf, rgb); err != nil {
		return nil, image.Rectangle{}, fmt.Errorf("failed to encode normalized image: %w", err)
	}
	return buf.Bytes(), rgb.Bounds(), nil
}
