package models

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidSubmission is returned when the operator's form input is incomplete or malformed.
var ErrInvalidSubmission = errors.New("invalid submission")

// Submission is one exam sent for processing by the operator.
type Submission struct {
	// Image is the uploaded exam photo; an empty image means nothing was uploaded.
	Image     []byte `json:"-"`
	ImageMIME string `json:"image_mime,omitempty"`

	// Operator entered data
	PatientName    string `json:"patient_name" validate:"required,max=120"`
	TutorName      string `json:"tutor_name,omitempty" validate:"max=120"`
	DocumentNumber string `json:"document_number" validate:"required,max=60"`
	ExamDate       string `json:"exam_date,omitempty" validate:"omitempty,datetime=02/01/2006"`
	Recipient      string `json:"recipient" validate:"required,email"`
}

// HasImage reports whether an image was uploaded.
func (s *Submission) HasImage() bool {
	return s != nil && len(s.Image) > 0
}

// Normalize trims surrounding whitespace from the text fields.
func (s *Submission) Normalize() {
	s.PatientName = strings.TrimSpace(s.PatientName)
	s.TutorName = strings.TrimSpace(s.TutorName)
	s.DocumentNumber = strings.TrimSpace(s.DocumentNumber)
	s.ExamDate = strings.TrimSpace(s.ExamDate)
	s.Recipient = strings.TrimSpace(s.Recipient)
}

// Validate checks the operator entered fields. The image is not checked here.
func (s *Submission) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}

	problems := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		problems = append(problems, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidSubmission, strings.Join(problems, "; "))
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be an email address"
	case "datetime":
		return fe.Field() + " must be a date in dd/mm/yyyy format"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

// ExamRecord is one line of the processing register, written after a successful run.
type ExamRecord struct {
	RunID          string
	ProcessedAt    time.Time
	PatientName    string
	TutorName      string
	DocumentNumber string
	NationalID     string
	ExtractedDate  string
	ReportedDate   string
	Recipient      string
	DocxName       string
	PDFName        string
	Pages          int
}

// ExamResult summarises a processing run for the operator.
type ExamResult struct {
	RunID      string   `json:"run_id"`
	State      string   `json:"state"`
	States     []string `json:"states"`
	DocxName   string   `json:"docx_name,omitempty"`
	PDFName    string   `json:"pdf_name,omitempty"`
	NationalID string   `json:"national_id"`
	ExamDate   string   `json:"exam_date"`
	Pages      int      `json:"pages,omitempty"`
}
