package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"examflow/internal/googleauth"
)

// DocumentAIConfig holds configuration for a Document AI OCR processor.
type DocumentAIConfig struct {
	// ProjectID is the Google Cloud project ID where Document AI is enabled.
	ProjectID string

	// Location is the processing location (e.g., "us", "eu").
	Location string

	// ProcessorID is the ID of an OCR processor (Document OCR).
	ProcessorID string
}

// ProcessorName is the fully qualified processor resource name.
func (c DocumentAIConfig) ProcessorName() string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s", c.ProjectID, c.Location, c.ProcessorID)
}

// DocumentAIEngine implements Engine using a Google Document AI OCR processor.
type DocumentAIEngine struct {
	client *documentai.DocumentProcessorClient
	config DocumentAIConfig
}

// NewDocumentAIEngine creates a Document AI client for the configured location.
func NewDocumentAIEngine(ctx context.Context, config DocumentAIConfig) (*DocumentAIEngine, error) {
	const op = "NewDocumentAIEngine"

	if config.Location == "" {
		config.Location = "us"
	}

	clientOptions := googleauth.ClientOptions()
	if config.Location != "us" {
		endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", config.Location)
		clientOptions = append(clientOptions, option.WithEndpoint(endpoint))
	}

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		return nil, WrapOCRError(op, err, fmt.Sprintf("failed to create Document AI client for location: %s", config.Location))
	}

	return &DocumentAIEngine{client: client, config: config}, nil
}

// Name implements Engine.
func (d *DocumentAIEngine) Name() string { return "documentai" }

// Recognize implements Engine.
func (d *DocumentAIEngine) Recognize(ctx context.Context, png []byte) ([]Detection, error) {
	req := &documentaipb.ProcessRequest{
		Name: d.config.ProcessorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  png,
				MimeType: mimePNG,
			},
		},
	}

	resp, err := d.client.ProcessDocument(ctx, req)
	if err != nil {
		return nil, classifyRPCError(err)
	}
	if resp.Document == nil {
		return nil, fmt.Errorf("%w: no document in response", ErrOCRFailed)
	}

	return documentLines(resp.Document), nil
}

// Close closes the underlying Document AI client.
func (d *DocumentAIEngine) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

// documentLines returns one detection per page line, resolving text anchors against the document text.
func documentLines(doc *documentaipb.Document) []Detection {
	var detections []Detection
	for _, page := range doc.Pages {
		for _, line := range page.Lines {
			if line.Layout == nil {
				continue
			}
			detections = append(detections, Detection{
				Region:     documentRegion(line.Layout.BoundingPoly),
				Text:       anchorText(doc.Text, line.Layout.TextAnchor),
				Confidence: line.Layout.Confidence,
			})
		}
	}

	if len(detections) == 0 && doc.Text != "" {
		for _, line := range strings.Split(strings.TrimRight(doc.Text, "\n"), "\n") {
			detections = append(detections, Detection{Text: line})
		}
	}
	return detections
}

func anchorText(text string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil {
		return ""
	}
	var b strings.Builder
	for _, seg := range anchor.TextSegments {
		start, end := int(seg.StartIndex), int(seg.EndIndex)
		if start < 0 || end > len(text) || start > end {
			continue
		}
		b.WriteString(text[start:end])
	}
	return strings.TrimRight(b.String(), "\n")
}

func documentRegion(poly *documentaipb.BoundingPoly) []image.Point {
	if poly == nil {
		return nil
	}
	points := make([]image.Point, 0, len(poly.Vertices))
	for _, v := range poly.Vertices {
		points = append(points, image.Pt(int(v.X), int(v.Y)))
	}
	return points
}

// classifyRPCError keeps context errors intact so callers can detect timeouts,
// and tags everything else as ErrOCRFailed.
func classifyRPCError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), status.Code(err) == codes.DeadlineExceeded:
		return fmt.Errorf("%w: %w", ErrOCRFailed, context.DeadlineExceeded)
	case errors.Is(err, context.Canceled), status.Code(err) == codes.Canceled:
		return fmt.Errorf("%w: %w", ErrOCRFailed, context.Canceled)
	case status.Code(err) == codes.PermissionDenied, status.Code(err) == codes.Unauthenticated:
		return fmt.Errorf("%w: permission denied, check the service account roles: %v", ErrOCRFailed, err)
	case status.Code(err) == codes.ResourceExhausted:
		return fmt.Errorf("%w: quota exceeded: %v", ErrOCRFailed, err)
	default:
		return fmt.Errorf("%w: %v", ErrOCRFailed, err)
	}
}
