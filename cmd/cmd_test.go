package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examflow/internal/config"
	"examflow/internal/ocr"
	"examflow/internal/pipeline"
	"examflow/internal/report"
	"examflow/pkg/models"
)

func TestValidateImageFile(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, data []byte) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, data, 0o644))
		return path
	}

	_, err := validateImageFile(write("exame.jpg", []byte{0xff, 0xd8, 0xff}), zerolog.Nop())
	assert.NoError(t, err)

	_, err = validateImageFile(write("exame.PNG", []byte("png")), zerolog.Nop())
	assert.NoError(t, err)

	_, err = validateImageFile(write("exame.pdf", []byte("%PDF")), zerolog.Nop())
	assert.ErrorContains(t, err, "unsupported image file")

	_, err = validateImageFile(write("vazio.png", nil), zerolog.Nop())
	assert.ErrorContains(t, err, "empty")

	_, err = validateImageFile(filepath.Join(dir, "missing.png"), zerolog.Nop())
	assert.ErrorContains(t, err, "not found")

	_, err = validateImageFile(dir, zerolog.Nop())
	assert.ErrorContains(t, err, "not a regular file")
}

func TestHandleProcessError(t *testing.T) {
	cfg = config.Default()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"no input", pipeline.ErrNoInput, "no image supplied"},
		{
			"invalid submission",
			fmt.Errorf("%w: recipient is required", models.ErrInvalidSubmission),
			"invalid submission: recipient is required",
		},
		{
			"template missing",
			&pipeline.StepError{Step: pipeline.StateFilling, Service: pipeline.ServiceStore, Err: report.ErrTemplateNotFound},
			`template "modelo_padrao.docx" not found in the configured drive store folder`,
		},
		{
			"timeout",
			&pipeline.StepError{Step: pipeline.StateDelivering, Service: pipeline.ServiceMail, Err: context.DeadlineExceeded, Timeout: true},
			"mail service timed out during delivering. Raise MAIL_TIMEOUT if this persists",
		},
		{
			"unsupported image",
			&pipeline.StepError{Step: pipeline.StateExtracting, Service: pipeline.ServiceOCR, Err: ocr.WrapOCRError("Recognize", ocr.ErrUnsupportedImage, "")},
			"unsupported image type",
		},
		{
			"mail failure",
			&pipeline.StepError{Step: pipeline.StateDelivering, Service: pipeline.ServiceMail, Err: errors.New("535 bad auth")},
			"documents were stored but the email could not be sent: 535 bad auth",
		},
		{
			"store failure",
			&pipeline.StepError{Step: pipeline.StateRendering, Service: pipeline.ServiceStore, Err: errors.New("quota")},
			"store failed during rendering: quota",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorContains(t, handleProcessError(tt.err, zerolog.Nop()), tt.want)
		})
	}
}
