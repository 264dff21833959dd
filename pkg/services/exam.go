package services

import (
	"context"

	"examflow/pkg/models"
)

// ExamProcessor defines the interface for turning an uploaded exam into a delivered report
type ExamProcessor interface {
	// Process runs the whole pipeline for one submission.
	// The result is returned for failed runs too, describing how far the run got.
	Process(ctx context.Context, submission *models.Submission) (*models.ExamResult, error)
}
