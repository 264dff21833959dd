// Package ocr turns an uploaded exam image into text.
//
// The package separates the recognition engine from the extraction contract:
// an Engine is an expensive, process-lifetime client (Cloud Vision or Document AI)
// that returns detections in its own order, and the Extractor owns everything
// that is engine independent:
//   - sniffing the upload and accepting only JPEG and PNG
//   - normalizing the raster to opaque 3-channel RGB before recognition
//   - joining the text of every detection with a newline
//
// Confidence scores are reported but never used to filter detections.
//
// Required Environment Variables:
//   - GOOGLE_APPLICATION_CREDENTIALS: Path to service account JSON file, OR
//   - GOOGLE_CREDENTIALS: Inline JSON credentials string
//   - GOOGLE_CLOUD_PROJECT, DOCUMENT_AI_PROCESSOR_ID: only for the Document AI engine
package ocr

import (
	"context"
	"image"
	"strings"
	"time"
)

// MaxImageSizeBytes is the largest upload accepted for recognition (20MB)
const MaxImageSizeBytes = 20 * 1024 * 1024

// Engine is a text recognition backend.
type Engine interface {
	// Name identifies the engine in logs and command output.
	Name() string

	// Recognize runs one recognition pass over a PNG encoded RGB image.
	// Detections are returned in the engine's own order.
	Recognize(ctx context.Context, png []byte) ([]Detection, error)
}

// Detection is one piece of recognized text.
type Detection struct {
	// Region is the polygon enclosing the text, in image pixels.
	Region []image.Point `json:"region,omitempty"`

	// Text is the recognized string.
	Text string `json:"text"`

	// Confidence is the engine's score between 0 and 1, zero when unknown.
	Confidence float32 `json:"confidence"`
}

// RawImage is an uploaded image as received from the operator.
type RawImage struct {
	Data     []byte
	MIMEType string
}

// Empty reports whether no image was supplied.
func (r RawImage) Empty() bool {
	return len(r.Data) == 0
}

// Text is the result of one extraction: ordered lines with no layout guarantee.
type Text struct {
	Lines []string `json:"lines"`
}

// NewText splits a newline separated blob into a Text.
func NewText(blob string) Text {
	if blob == "" {
		return Text{}
	}
	return Text{Lines: strings.Split(blob, "\n")}
}

// String joins the lines with newlines.
func (t Text) String() string {
	return strings.Join(t.Lines, "\n")
}

// Empty reports whether nothing was recognized.
func (t Text) Empty() bool {
	return len(t.Lines) == 0
}

// Result contains the extracted text with recognition metadata.
type Result struct {
	Text Text `json:"text"`

	// Detections are the raw engine detections, in engine order.
	Detections []Detection `json:"detections"`

	// Engine is the name of the engine that produced the detections.
	Engine string `json:"engine"`

	// MIMEType is the sniffed type of the upload.
	MIMEType string `json:"mime_type"`

	// Width and Height are the normalized raster dimensions.
	Width  int `json:"width"`
	Height int `json:"height"`

	// ProcessingDuration is how long normalization and recognition took.
	ProcessingDuration time.Duration `json:"processing_duration"`
}

// AverageConfidence is the mean confidence over detections that report one.
func (r *Result) AverageConfidence() float32 {
	var sum float32
	var n int
	for _, d := range r.Detections {
		if d.Confidence > 0 {
			sum += d.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float32(n)
}
