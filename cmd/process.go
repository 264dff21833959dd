package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"examflow/internal/logger"
	"examflow/internal/pipeline"
	"examflow/internal/report"
	"examflow/pkg/models"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process an exam image end to end",
	Long: `Run the whole pipeline for one exam image: recognize the text, extract the CPF
and exam date, fill the report template, render the PDF, store both documents
and email the PDF to the recipient.

The template is looked up by TEMPLATE_NAME in the configured store folder and
the generated documents are written to the same folder.`,
	Example: `  # Process an exam and email the report
  examflow process --image exame.jpg --patient Rex --tutor "Maria Souza" \
    --document 1234 --date 01/03/2024 --to vet@clinica.com.br

  # Print the run summary as JSON
  examflow process --image exame.png --patient Rex --document 1234 --to vet@clinica.com.br --json`,
	Args: cobra.NoArgs,
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().String("image", "", "Exam image (.jpg, .jpeg or .png)")
	processCmd.Flags().String("patient", "", "Patient name")
	processCmd.Flags().String("tutor", "", "Tutor name")
	processCmd.Flags().String("document", "", "Document number")
	processCmd.Flags().String("date", "", "Exam date as reported by the operator (dd/mm/yyyy)")
	processCmd.Flags().String("to", "", "Recipient email address")
	processCmd.Flags().Bool("json", false, "Output the run summary as JSON")

	processCmd.MarkFlagRequired("image")
	processCmd.MarkFlagRequired("patient")
	processCmd.MarkFlagRequired("document")
	processCmd.MarkFlagRequired("to")
}

func runProcess(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("process")

	imagePath, _ := cmd.Flags().GetString("image")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	submission := &models.Submission{ImageMIME: filepath.Ext(imagePath)}
	submission.PatientName, _ = cmd.Flags().GetString("patient")
	submission.TutorName, _ = cmd.Flags().GetString("tutor")
	submission.DocumentNumber, _ = cmd.Flags().GetString("document")
	submission.ExamDate, _ = cmd.Flags().GetString("date")
	submission.Recipient, _ = cmd.Flags().GetString("to")

	if _, err := validateImageFile(imagePath, log); err != nil {
		return err
	}
	image, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("failed to read image file: %w", err)
	}
	submission.Image = image

	// Every collaborator call carries its own timeout.
	ctx, cancel := createContextWithTimeout(0, log)
	defer cancel()

	orchestrator, opened, err := buildPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer opened.Close(log)

	run, err := orchestrator.Run(ctx, submission)
	if err != nil {
		return handleProcessError(err, log)
	}

	if jsonOutput {
		out, err := json.MarshalIndent(run.Result(), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Run:      %s\n", run.ID)
	fmt.Printf("States:   %s\n", strings.Join(run.Result().States, " -> "))
	fmt.Printf("CPF:      %s\n", valueOrMissing(run.Fields.NationalID))
	fmt.Printf("Date:     %s\n", valueOrMissing(run.Fields.ExamDate))
	fmt.Printf("DOCX:     %s\n", run.Docx.Name)
	fmt.Printf("PDF:      %s (%d page(s))\n", run.PDF.Name, run.PDF.Pages)
	fmt.Printf("Sent to:  %s\n", submission.Recipient)
	return nil
}

// handleProcessError explains a failed run in terms of what the operator can fix.
func handleProcessError(err error, log zerolog.Logger) error {
	var stepErr *pipeline.StepError
	isStep := errors.As(err, &stepErr)

	switch {
	case errors.Is(err, pipeline.ErrNoInput):
		return fmt.Errorf("no image supplied")
	case errors.Is(err, models.ErrInvalidSubmission):
		return err
	case errors.Is(err, report.ErrTemplateNotFound):
		return fmt.Errorf("template %q not found in the configured %s store folder", cfg.Store.TemplateName, cfg.Store.Backend)
	case errors.Is(err, pipeline.ErrExternalServiceTimeout) && isStep:
		return fmt.Errorf("%s service timed out during %s. Raise %s_TIMEOUT if this persists",
			stepErr.Service, stepErr.Step, strings.ToUpper(stepErr.Service))
	case isStep && stepErr.Service == pipeline.ServiceOCR:
		return handleOCRError(stepErr.Err, log)
	case isStep && stepErr.Service == pipeline.ServiceMail:
		return fmt.Errorf("documents were stored but the email could not be sent: %w", stepErr.Err)
	case isStep:
		return fmt.Errorf("%s failed during %s: %w", stepErr.Service, stepErr.Step, stepErr.Err)
	default:
		return fmt.Errorf("processing failed: %w", err)
	}
}
