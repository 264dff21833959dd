package ocr

import (
	"errors"
	"fmt"
)

// Common OCR processing errors
var (
	// ErrImageTooLarge is returned when the upload exceeds the maximum image size.
	// Google Cloud Vision API rejects inline images over 20MB.
	ErrImageTooLarge = errors.New("image size exceeds the maximum limit (20MB)")

	// ErrUnsupportedImage is returned when the upload is not a JPEG or PNG image.
	ErrUnsupportedImage = errors.New("unsupported image type (expected jpg, jpeg or png)")

	// ErrInvalidImage is returned when the bytes cannot be decoded as an image.
	ErrInvalidImage = errors.New("invalid or corrupted image")

	// ErrOCRFailed is returned when the recognition engine fails to process the image.
	ErrOCRFailed = errors.New("OCR processing failed")
)

// OCRError wraps errors with additional context about the OCR processing failure.
type OCRError struct {
	// Op is the operation that failed (e.g., "Extract", "Recognize").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *OCRError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("ocr: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("ocr: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *OCRError) Unwrap() error {
	return e.Err
}

// WrapOCRError wraps an error as an OCRError if it isn't already one.
func WrapOCRError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var ocrErr *OCRError
	if errors.As(err, &ocrErr) {
		return err
	}

	return &OCRError{Op: op, Err: err, Details: details}
}
