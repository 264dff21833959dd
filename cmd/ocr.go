package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"examflow/internal/fields"
	"examflow/internal/logger"
	"examflow/internal/ocr"
)

var ocrCmd = &cobra.Command{
	Use:   "ocr [image-file]",
	Short: "Extract text from an exam image",
	Long: `Run text recognition on a JPG or PNG exam image and print the recognized lines.

The engine is chosen with OCR_ENGINE: "vision" uses Google Cloud Vision document
text detection, "documentai" uses a Document AI OCR processor. With --fields the
CPF and exam date found in the text are printed as well.

Required environment variables:
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS - Inline JSON credentials string
  GOOGLE_CLOUD_PROJECT, DOCUMENT_AI_PROCESSOR_ID - for the documentai engine`,
	Example: `  # Print the recognized text
  examflow ocr exame.jpg

  # Include the extracted CPF and date
  examflow ocr exame.jpg --fields

  # Full result as JSON, written to a file
  examflow ocr exame.png --json --metadata -o result.json

  # Process with custom timeout
  examflow ocr exame.png --timeout 2m`,
	Args: cobra.ExactArgs(1),
	RunE: runOCR,
}

// OCROutput represents the JSON output structure when --json flag is used
type OCROutput struct {
	Text               string           `json:"text"`
	Lines              []string         `json:"lines"`
	Fields             *fields.FieldSet `json:"fields,omitempty"`
	Detections         []ocr.Detection  `json:"detections,omitempty"`
	Engine             string           `json:"engine,omitempty"`
	Confidence         float32          `json:"confidence,omitempty"`
	MIMEType           string           `json:"mime_type,omitempty"`
	Width              int              `json:"width,omitempty"`
	Height             int              `json:"height,omitempty"`
	ProcessedAt        time.Time        `json:"processed_at,omitempty"`
	ProcessingDuration string           `json:"processing_duration,omitempty"`
	FileName           string           `json:"file_name"`
	FileSize           int64            `json:"file_size"`
}

func init() {
	rootCmd.AddCommand(ocrCmd)

	ocrCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	ocrCmd.Flags().BoolP("metadata", "m", false, "Include metadata in output")
	ocrCmd.Flags().Bool("json", false, "Output as JSON")
	ocrCmd.Flags().BoolP("fields", "f", false, "Also extract the CPF and exam date")
	ocrCmd.Flags().Duration("timeout", 0, "Processing timeout (default: OCR_TIMEOUT)")
}

func runOCR(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("ocr")

	outputPath, _ := cmd.Flags().GetString("output")
	includeMetadata, _ := cmd.Flags().GetBool("metadata")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	withFields, _ := cmd.Flags().GetBool("fields")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout <= 0 {
		timeout = cfg.Timeouts.OCR.Duration
	}

	imagePath := args[0]

	log.Info().
		Str("file", imagePath).
		Str("output", outputPath).
		Bool("metadata", includeMetadata).
		Bool("json", jsonOutput).
		Bool("fields", withFields).
		Dur("timeout", timeout).
		Msg("Starting OCR processing")

	if err := cfg.ValidateOCR(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fileInfo, err := validateImageFile(imagePath, log)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		log.Error().Err(err).Str("file", imagePath).Msg("Failed to read image file")
		return fmt.Errorf("failed to read image file: %w", err)
	}

	ctx, cancel := createContextWithTimeout(timeout, log)
	defer cancel()

	engine, closer, err := newEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closer.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close OCR engine")
		}
	}()

	result, err := ocr.NewExtractor(engine).Recognize(ctx, ocr.RawImage{
		Data:     data,
		MIMEType: filepath.Ext(imagePath),
	})
	if err != nil {
		return handleOCRError(err, log)
	}

	var found *fields.FieldSet
	if withFields {
		set := fields.Extract(result.Text.String())
		found = &set
	}

	return outputResults(result, found, fileInfo, outputPath, jsonOutput, includeMetadata, log)
}

// validateImageFile checks that the file exists, is a non-empty regular file and has an accepted extension
func validateImageFile(imagePath string, log zerolog.Logger) (os.FileInfo, error) {
	fileInfo, err := os.Stat(imagePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Error().Str("file", imagePath).Msg("Image file not found")
			return nil, fmt.Errorf("image file not found: %s", imagePath)
		}
		if os.IsPermission(err) {
			log.Error().Str("file", imagePath).Msg("Permission denied accessing image file")
			return nil, fmt.Errorf("permission denied accessing image file: %s", imagePath)
		}
		return nil, fmt.Errorf("error accessing image file: %w", err)
	}

	if !fileInfo.Mode().IsRegular() {
		log.Error().Str("file", imagePath).Msg("Path is not a regular file")
		return nil, fmt.Errorf("path is not a regular file: %s", imagePath)
	}

	if !ocr.AcceptedMIME(filepath.Ext(imagePath)) {
		log.Error().Str("file", imagePath).Msg("Unsupported image extension")
		return nil, fmt.Errorf("unsupported image file %s (expected .jpg, .jpeg or .png)", imagePath)
	}

	if fileInfo.Size() == 0 {
		log.Error().Str("file", imagePath).Msg("Image file is empty")
		return nil, fmt.Errorf("image file is empty: %s", imagePath)
	}

	if fileInfo.Size() > ocr.MaxImageSizeBytes {
		log.Error().
			Str("file", imagePath).
			Int64("size", fileInfo.Size()).
			Int64("max_size", ocr.MaxImageSizeBytes).
			Msg("Image file exceeds maximum size limit")
		return nil, fmt.Errorf("image file too large (%d bytes). Maximum size is %d bytes (20MB)",
			fileInfo.Size(), ocr.MaxImageSizeBytes)
	}

	return fileInfo, nil
}

// createContextWithTimeout creates a context with timeout and signal handling.
// A zero timeout only cancels on interrupt.
func createContextWithTimeout(timeout time.Duration, log zerolog.Logger) (context.Context, context.CancelFunc) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	// Handle interrupt signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling processing")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// handleOCRError provides user-friendly error messages for OCR failures
func handleOCRError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("OCR processing failed")

	errStr := err.Error()

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("OCR processing timed out. Try increasing --timeout")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("OCR processing was canceled")
	case errors.Is(err, ocr.ErrImageTooLarge):
		return fmt.Errorf("image is too large (maximum 20MB). Try a smaller resolution")
	case errors.Is(err, ocr.ErrUnsupportedImage):
		return fmt.Errorf("unsupported image type. Only JPG and PNG images are accepted: %w", err)
	case errors.Is(err, ocr.ErrInvalidImage):
		return fmt.Errorf("invalid or corrupted image file. Please check the file integrity")
	case strings.Contains(errStr, "Unauthenticated") ||
		strings.Contains(errStr, "invalid_grant") ||
		strings.Contains(errStr, "transport: per-RPC creds failed"):
		return fmt.Errorf("Google Cloud authentication failed. Please check GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS: %v", err)
	case strings.Contains(errStr, "PERMISSION_DENIED") ||
		strings.Contains(errStr, "PermissionDenied"):
		return fmt.Errorf("permission denied. Please ensure the service account may call the %s API", cfg.OCR.Engine)
	case strings.Contains(errStr, "RESOURCE_EXHAUSTED") ||
		strings.Contains(errStr, "quota"):
		return fmt.Errorf("Google Cloud quota exceeded. Check your project quotas in the Google Cloud Console")
	case errors.Is(err, ocr.ErrOCRFailed):
		return fmt.Errorf("OCR processing failed. This may be due to network issues, API quota limits, or service unavailability: %w", err)
	default:
		return fmt.Errorf("OCR processing failed: %w", err)
	}
}

// outputResults formats and outputs the OCR results
func outputResults(result *ocr.Result, found *fields.FieldSet, fileInfo os.FileInfo, outputPath string, jsonOutput, includeMetadata bool, log zerolog.Logger) error {
	var outputData []byte
	var err error

	if jsonOutput {
		ocrOutput := OCROutput{
			Text:     result.Text.String(),
			Lines:    result.Text.Lines,
			Fields:   found,
			FileName: filepath.Base(fileInfo.Name()),
			FileSize: fileInfo.Size(),
		}
		if includeMetadata {
			ocrOutput.Detections = result.Detections
			ocrOutput.Engine = result.Engine
			ocrOutput.Confidence = result.AverageConfidence()
			ocrOutput.MIMEType = result.MIMEType
			ocrOutput.Width = result.Width
			ocrOutput.Height = result.Height
			ocrOutput.ProcessedAt = time.Now()
			ocrOutput.ProcessingDuration = result.ProcessingDuration.String()
		}

		outputData, err = json.MarshalIndent(ocrOutput, "", "  ")
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal JSON output")
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
		outputData = append(outputData, '\n')
	} else {
		var output strings.Builder
		if includeMetadata {
			fmt.Fprintf(&output, "=== OCR Results for %s ===\n", filepath.Base(fileInfo.Name()))
			fmt.Fprintf(&output, "File size: %d bytes\n", fileInfo.Size())
			fmt.Fprintf(&output, "Engine: %s\n", result.Engine)
			fmt.Fprintf(&output, "Image: %s, %dx%d\n", result.MIMEType, result.Width, result.Height)
			fmt.Fprintf(&output, "Detections: %d\n", len(result.Detections))
			if confidence := result.AverageConfidence(); confidence > 0 {
				fmt.Fprintf(&output, "Confidence: %.1f%%\n", confidence*100)
			}
			fmt.Fprintf(&output, "Processing time: %v\n", result.ProcessingDuration)
			output.WriteString("\n=== Extracted Text ===\n\n")
		}

		output.WriteString(result.Text.String())
		output.WriteString("\n")

		if found != nil {
			output.WriteString("\n=== Fields ===\n\n")
			fmt.Fprintf(&output, "CPF: %s\n", valueOrMissing(found.NationalID))
			fmt.Fprintf(&output, "Data: %s\n", valueOrMissing(found.ExamDate))
		}
		outputData = []byte(output.String())
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, outputData, 0644); err != nil {
			log.Error().
				Err(err).
				Str("output_file", outputPath).
				Msg("Failed to write output file")
			return fmt.Errorf("failed to write output file: %w", err)
		}

		log.Info().
			Str("output_file", outputPath).
			Int("bytes", len(outputData)).
			Msg("OCR results written to file")
		return nil
	}

	if _, err := os.Stdout.Write(outputData); err != nil {
		log.Error().Err(err).Msg("Failed to write to stdout")
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func valueOrMissing(value string) string {
	if value == "" {
		return "(not found)"
	}
	return value
}
