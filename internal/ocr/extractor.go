package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"examflow/internal/logger"
)

// Extractor runs the engine over uploaded images and produces text.
type Extractor struct {
	engine Engine
	log    zerolog.Logger
}

// NewExtractor creates an extractor around an already initialized engine.
// The engine is shared by every call and is never re-created.
func NewExtractor(engine Engine) *Extractor {
	return &Extractor{
		engine: engine,
		log:    logger.WithComponent("ocr"),
	}
}

// Extract returns the newline joined text of every detection.
// An image without detections yields an empty Text and no error.
func (x *Extractor) Extract(ctx context.Context, img RawImage) (Text, error) {
	result, err := x.Recognize(ctx, img)
	if err != nil {
		return Text{}, err
	}
	return result.Text, nil
}

// Recognize is Extract with the detections and timing kept.
func (x *Extractor) Recognize(ctx context.Context, img RawImage) (*Result, error) {
	const op = "Recognize"
	startTime := time.Now()

	if len(img.Data) > MaxImageSizeBytes {
		return nil, WrapOCRError(op, ErrImageTooLarge, fmt.Sprintf("image size: %d bytes", len(img.Data)))
	}

	mimeType, err := Sniff(img.Data)
	if err != nil {
		return nil, WrapOCRError(op, err, "failed to identify upload")
	}
	if img.MIMEType != "" && !AcceptedMIME(img.MIMEType) {
		return nil, WrapOCRError(op, ErrUnsupportedImage, fmt.Sprintf("declared type: %s", img.MIMEType))
	}
	if img.MIMEType != "" && !strings.EqualFold(canonicalMIME(img.MIMEType), mimeType) {
		x.log.Warn().
			Str("declared", img.MIMEType).
			Str("detected", mimeType).
			Msg("Declared image type differs from content, using detected type")
	}

	normalized, bounds, err := normalize(img.Data, mimeType)
	if err != nil {
		return nil, WrapOCRError(op, err, "failed to normalize image")
	}

	detections, err := x.engine.Recognize(ctx, normalized)
	if err != nil {
		return nil, WrapOCRError(op, err, fmt.Sprintf("engine %s", x.engine.Name()))
	}

	lines := make([]string, 0, len(detections))
	for _, d := range detections {
		lines = append(lines, d.Text)
	}

	result := &Result{
		Text:               Text{Lines: lines},
		Detections:         detections,
		Engine:             x.engine.Name(),
		MIMEType:           mimeType,
		Width:              bounds.Dx(),
		Height:             bounds.Dy(),
		ProcessingDuration: time.Since(startTime),
	}

	x.log.Info().
		Str("engine", result.Engine).
		Int("detections", len(detections)).
		Float32("confidence", result.AverageConfidence()).
		Dur("duration", result.ProcessingDuration).
		Msg("OCR completed")

	return result, nil
}

func canonicalMIME(declared string) string {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(declared), ".")) {
	case "image/jpg", "jpg", "jpeg", mimeJPEG:
		return mimeJPEG
	case "png", mimePNG:
		return mimePNG
	}
	return declared
}
