package render

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examflow/internal/store"
)

type recordingStore struct {
	names []string
	mimes []string
	err   error
}

func (s *recordingStore) Find(context.Context, string) (string, bool, error) { return "", false, nil }

func (s *recordingStore) Download(context.Context, string) ([]byte, error) { return nil, nil }

func (s *recordingStore) Upload(_ context.Context, name string, _ []byte, mimeType string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.names = append(s.names, name)
	s.mimes = append(s.mimes, mimeType)
	return "id-" + name, nil
}

func numberedLines(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("linha %d", i+1)
	}
	return lines
}

func TestLinesPerPage(t *testing.T) {
	assert.Equal(t, 52, DefaultLayout.LinesPerPage())
	assert.Equal(t, 1, Layout{Top: 10, Bottom: 5, Pitch: 15}.LinesPerPage())
}

func TestPaginate(t *testing.T) {
	tests := []struct {
		lines int
		pages int
		last  int
	}{
		{0, 1, 0},
		{1, 1, 1},
		{52, 1, 52},
		{53, 2, 1},
		{104, 2, 52},
		{105, 3, 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d lines", tt.lines), func(t *testing.T) {
			pages := DefaultLayout.Paginate(numberedLines(tt.lines))
			require.Len(t, pages, tt.pages)
			assert.Len(t, pages[len(pages)-1], tt.last)
		})
	}

	pages := DefaultLayout.Paginate(numberedLines(53))
	assert.Equal(t, "linha 53", pages[1][0], "the 53rd line opens the second page")
}

func TestPaginateSplitsEmbeddedNewlines(t *testing.T) {
	lines := numberedLines(52)
	lines[10] = "Hemograma\nLeucócitos: 8.000"

	pages := DefaultLayout.Paginate(lines)
	require.Len(t, pages, 2)
	assert.Len(t, pages[0], 52)
	assert.Equal(t, []string{"linha 52"}, pages[1])
	assert.Equal(t, "Hemograma", pages[0][10])
	assert.Equal(t, "Leucócitos: 8.000", pages[0][11])
	assert.Equal(t, "Hemograma\nLeucócitos: 8.000", lines[10], "input is not modified")

	for _, page := range pages {
		for _, line := range page {
			assert.NotContains(t, line, "\n")
		}
	}
}

func TestRenderPaginates(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		pages int
	}{
		{"empty text", nil, 1},
		{"single page", numberedLines(52), 1},
		{"page break at 53 lines", numberedLines(53), 2},
		{"embedded newline counts as a line", append(numberedLines(51), "a\nb"), 2},
		{"accented text", []string{"Exame de sangue", "Paciente: João Ávila", "Observação: ñ ç € ☃"}, 1},
		{"long line does not wrap", []string{strings.Repeat("x", 500)}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &recordingStore{}
			rendered, err := NewRenderer(s).Render(context.Background(), tt.lines, "Rex_20240101120000")
			require.NoError(t, err)

			assert.Equal(t, tt.pages, rendered.Pages)
			assert.Equal(t, "Rex_20240101120000.pdf", rendered.Name)
			assert.Equal(t, "id-Rex_20240101120000.pdf", rendered.ID)
			assert.True(t, strings.HasPrefix(string(rendered.Data), "%PDF-"))

			count, err := PageCount(rendered.Data)
			require.NoError(t, err)
			assert.Equal(t, tt.pages, count)

			assert.Equal(t, []string{"Rex_20240101120000.pdf"}, s.names)
			assert.Equal(t, []string{MIMEType}, s.mimes)
		})
	}
}

func TestRenderUploadFailure(t *testing.T) {
	s := &recordingStore{err: store.ErrStore}

	_, err := NewRenderer(s).Render(context.Background(), []string{"a"}, "x")
	assert.ErrorIs(t, err, store.ErrStore)
}

func TestPageCountRejectsGarbage(t *testing.T) {
	_, err := PageCount([]byte("not a pdf"))
	assert.Error(t, err)
}
