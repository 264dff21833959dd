package ocr

import (
	"image"
	"testing"

	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	statuspb "google.golang.org/genproto/googleapis/rpc/status"
)

func symbols(text string, last visionpb.TextAnnotation_DetectedBreak_BreakType) []*visionpb.Symbol {
	var out []*visionpb.Symbol
	runes := []rune(text)
	for i, r := range runes {
		s := &visionpb.Symbol{Text: string(r)}
		if i == len(runes)-1 && last != visionpb.TextAnnotation_DetectedBreak_UNKNOWN {
			s.Property = &visionpb.TextAnnotation_TextProperty{
				DetectedBreak: &visionpb.TextAnnotation_DetectedBreak{Type: last},
			}
		}
		out = append(out, s)
	}
	return out
}

func word(text string, last visionpb.TextAnnotation_DetectedBreak_BreakType) *visionpb.Word {
	return &visionpb.Word{Symbols: symbols(text, last)}
}

func TestVisionDetectionsSplitsLines(t *testing.T) {
	resp := &visionpb.AnnotateImageResponse{
		FullTextAnnotation: &visionpb.TextAnnotation{
			Pages: []*visionpb.Page{{
				Blocks: []*visionpb.Block{{
					Paragraphs: []*visionpb.Paragraph{
						{
							Confidence: 0.93,
							BoundingBox: &visionpb.BoundingPoly{Vertices: []*visionpb.Vertex{
								{X: 1, Y: 2}, {X: 30, Y: 2}, {X: 30, Y: 9}, {X: 1, Y: 9},
							}},
							Words: []*visionpb.Word{
								word("CPF:", visionpb.TextAnnotation_DetectedBreak_SPACE),
								word("123.456.789-00", visionpb.TextAnnotation_DetectedBreak_EOL_SURE_SPACE),
								word("Data:", visionpb.TextAnnotation_DetectedBreak_SURE_SPACE),
								word("01/01/2024", visionpb.TextAnnotation_DetectedBreak_LINE_BREAK),
							},
						},
						{
							Words: []*visionpb.Word{
								word("Hemo", visionpb.TextAnnotation_DetectedBreak_HYPHEN),
								word("grama", visionpb.TextAnnotation_DetectedBreak_UNKNOWN),
							},
						},
					},
				}},
			}},
		},
	}

	detections, err := visionDetections(resp)
	require.NoError(t, err)
	require.Len(t, detections, 4)

	assert.Equal(t, "CPF: 123.456.789-00", detections[0].Text)
	assert.Equal(t, "Data: 01/01/2024", detections[1].Text)
	assert.Equal(t, "Hemo-", detections[2].Text)
	assert.Equal(t, "grama", detections[3].Text)
	assert.Equal(t, float32(0.93), detections[0].Confidence)
	assert.Equal(t, []image.Point{{1, 2}, {30, 2}, {30, 9}, {1, 9}}, detections[0].Region)
}

func TestVisionDetectionsFallbacks(t *testing.T) {
	detections, err := visionDetections(&visionpb.AnnotateImageResponse{})
	require.NoError(t, err)
	assert.Empty(t, detections)

	detections, err = visionDetections(&visionpb.AnnotateImageResponse{
		TextAnnotations: []*visionpb.EntityAnnotation{{Description: "linha 1\nlinha 2\n"}, {Description: "linha"}},
	})
	require.NoError(t, err)
	require.Len(t, detections, 2)
	assert.Equal(t, "linha 2", detections[1].Text)

	_, err = visionDetections(&visionpb.AnnotateImageResponse{Error: &statuspb.Status{Message: "bad image"}})
	assert.ErrorIs(t, err, ErrOCRFailed)
}
