package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"

	"examflow/internal/googleauth"
)

// VisionEngine implements Engine using Google Cloud Vision document text detection.
type VisionEngine struct {
	client    *vision.ImageAnnotatorClient
	languages []string
}

// NewVisionEngine creates a Vision client with credentials from environment.
// languages are passed as recognition hints (e.g. "pt").
func NewVisionEngine(ctx context.Context, languages []string) (*VisionEngine, error) {
	const op = "NewVisionEngine"

	client, err := vision.NewImageAnnotatorClient(ctx, googleauth.ClientOptions()...)
	if err != nil {
		if !googleauth.Configured() {
			return nil, WrapOCRError(op, googleauth.ErrMissingCredentials, "no credentials found in environment")
		}
		return nil, WrapOCRError(op, err, "failed to create Vision client")
	}

	return NewVisionEngineWithClient(client, languages), nil
}

// NewVisionEngineWithClient creates an engine with an explicit client.
func NewVisionEngineWithClient(client *vision.ImageAnnotatorClient, languages []string) *VisionEngine {
	return &VisionEngine{
		client:    client,
		languages: languages,
	}
}

// Name implements Engine.
func (v *VisionEngine) Name() string { return "vision" }

// Recognize implements Engine.
func (v *VisionEngine) Recognize(ctx context.Context, png []byte) ([]Detection, error) {
	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: png},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
				ImageContext: &visionpb.ImageContext{LanguageHints: v.languages},
			},
		},
	}

	resp, err := v.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, classifyRPCError(err)
	}
	if len(resp.Responses) == 0 {
		return nil, fmt.Errorf("%w: no response from Vision API", ErrOCRFailed)
	}

	return visionDetections(resp.Responses[0])
}

// Close closes the underlying Vision client.
func (v *VisionEngine) Close() error {
	if v.client != nil {
		return v.client.Close()
	}
	return nil
}

// visionDetections turns the full text annotation into one detection per text line,
// in the order Vision reports blocks and paragraphs.
func visionDetections(resp *visionpb.AnnotateImageResponse) ([]Detection, error) {
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: Vision API error: %s", ErrOCRFailed, resp.Error.Message)
	}

	annotation := resp.FullTextAnnotation
	if annotation == nil {
		// TEXT_DETECTION style responses only carry the flat description.
		if len(resp.TextAnnotations) == 0 {
			return nil, nil
		}
		var detections []Detection
		for _, line := range strings.Split(strings.TrimRight(resp.TextAnnotations[0].Description, "\n"), "\n") {
			detections = append(detections, Detection{Text: line})
		}
		return detections, nil
	}

	var detections []Detection
	for _, page := range annotation.Pages {
		for _, block := range page.Blocks {
			for _, paragraph := range block.Paragraphs {
				detections = append(detections, paragraphLines(paragraph)...)
			}
		}
	}
	return detections, nil
}

func paragraphLines(paragraph *visionpb.Paragraph) []Detection {
	region := visionRegion(paragraph.BoundingBox)

	var (
		lines []Detection
		line  strings.Builder
	)
	flush := func() {
		if line.Len() == 0 {
			return
		}
		lines = append(lines, Detection{
			Region:     region,
			Text:       strings.TrimRight(line.String(), " "),
			Confidence: paragraph.Confidence,
		})
		line.Reset()
	}

	for _, word := range paragraph.Words {
		for _, symbol := range word.Symbols {
			line.WriteString(symbol.Text)

			if symbol.Property == nil || symbol.Property.DetectedBreak == nil {
				continue
			}
			switch symbol.Property.DetectedBreak.Type {
			case visionpb.TextAnnotation_DetectedBreak_SPACE,
				visionpb.TextAnnotation_DetectedBreak_SURE_SPACE:
				line.WriteByte(' ')
			case visionpb.TextAnnotation_DetectedBreak_HYPHEN:
				line.WriteByte('-')
				flush()
			case visionpb.TextAnnotation_DetectedBreak_EOL_SURE_SPACE,
				visionpb.TextAnnotation_DetectedBreak_LINE_BREAK:
				flush()
			}
		}
	}
	flush()

	return lines
}

func visionRegion(poly *visionpb.BoundingPoly) []image.Point {
	if poly == nil {
		return nil
	}
	points := make([]image.Point, 0, len(poly.Vertices))
	for _, v := range poly.Vertices {
		points = append(points, image.Pt(int(v.X), int(v.Y)))
	}
	return points
}
