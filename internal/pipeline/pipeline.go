// Package pipeline sequences one exam from uploaded image to delivered report.
//
// A run moves forward through Extracting, FieldExtracting, Filling, Rendering
// and Delivering to Done. The first failing step ends the run in Failed; no
// step is retried and artifacts already stored are left in place. A submission
// without an image ends immediately in NoInput without calling any collaborator.
//
// Runs are serialized: an Orchestrator processes one submission at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"examflow/internal/fields"
	"examflow/internal/logger"
	"examflow/internal/mailer"
	"examflow/internal/ocr"
	"examflow/internal/render"
	"examflow/internal/report"
	"examflow/pkg/models"
)

// State is a pipeline run state.
type State string

const (
	StateExtracting      State = "extracting"
	StateFieldExtracting State = "field_extracting"
	StateFilling         State = "filling"
	StateRendering       State = "rendering"
	StateDelivering      State = "delivering"
	StateDone            State = "done"
	StateFailed          State = "failed"
	StateNoInput         State = "no_input"
)

// Terminal reports whether no further transition can happen from s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateNoInput
}

// Collaborators named in step errors.
const (
	ServiceOCR   = "ocr"
	ServiceStore = "store"
	ServiceMail  = "mail"
)

var (
	// ErrNoInput is returned when a submission carries no image.
	ErrNoInput = errors.New("no image supplied")

	// ErrExternalServiceTimeout matches step errors caused by a collaborator call running out of time.
	ErrExternalServiceTimeout = errors.New("external service timed out")
)

// StepError reports the step and collaborator that failed a run.
type StepError struct {
	// Step is the state the run was in when it failed.
	Step State

	// Service is the collaborator that failed: ocr, store or mail.
	Service string

	// Err is the underlying error.
	Err error

	// Timeout is set when the collaborator call hit its deadline.
	Timeout bool
}

// Error implements the error interface.
func (e *StepError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("pipeline: %s step timed out waiting for %s: %v", e.Step, e.Service, e.Err)
	}
	return fmt.Sprintf("pipeline: %s step failed in %s: %v", e.Step, e.Service, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *StepError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrExternalServiceTimeout) true for timed out steps.
func (e *StepError) Is(target error) bool {
	return target == ErrExternalServiceTimeout && e.Timeout
}

// TextExtractor turns an image into text.
type TextExtractor interface {
	Extract(ctx context.Context, img ocr.RawImage) (ocr.Text, error)
}

// ReportFiller fills and stores the report template.
type ReportFiller interface {
	Fill(ctx context.Context, req report.FillRequest) (*report.Filled, error)
}

// DocumentRenderer renders and stores the PDF.
type DocumentRenderer interface {
	Render(ctx context.Context, lines []string, baseName string) (*render.Rendered, error)
}

// Recorder keeps a register of completed runs.
type Recorder interface {
	Record(ctx context.Context, record models.ExamRecord) error
}

// Timeouts bound each collaborator call. Store bounds the register call here;
// document store calls get theirs from store.WithCallTimeout.
type Timeouts struct {
	OCR   time.Duration
	Store time.Duration
	Mail  time.Duration
}

// DefaultTimeouts are used for any zero field of Config.Timeouts.
var DefaultTimeouts = Timeouts{
	OCR:   60 * time.Second,
	Store: 60 * time.Second,
	Mail:  30 * time.Second,
}

// Config holds the message settings and call timeouts.
type Config struct {
	Subject  string
	Body     string
	Timeouts Timeouts
}

// Run is the outcome of one pipeline invocation.
type Run struct {
	ID         string
	State      State
	States     []State
	Text       ocr.Text
	Fields     fields.FieldSet
	Docx       *report.Filled
	PDF        *render.Rendered
	StartedAt  time.Time
	FinishedAt time.Time
}

func (r *Run) transition(s State) {
	r.State = s
	r.States = append(r.States, s)
}

// Result summarises the run for callers outside the pipeline.
func (r *Run) Result() *models.ExamResult {
	if r == nil {
		return nil
	}
	result := &models.ExamResult{
		RunID:      r.ID,
		State:      string(r.State),
		NationalID: r.Fields.NationalID,
		ExamDate:   r.Fields.ExamDate,
	}
	for _, s := range r.States {
		result.States = append(result.States, string(s))
	}
	if r.Docx != nil {
		result.DocxName = r.Docx.Name
	}
	if r.PDF != nil {
		result.PDFName = r.PDF.Name
		result.Pages = r.PDF.Pages
	}
	return result
}

// Orchestrator runs submissions through the collaborators.
type Orchestrator struct {
	extractor TextExtractor
	filler    ReportFiller
	renderer  DocumentRenderer
	sender    mailer.Sender
	recorder  Recorder
	config    Config
	now       func() time.Time
	log       zerolog.Logger

	mu sync.Mutex
}

// New creates an orchestrator. The collaborators are shared by every run.
func New(extractor TextExtractor, filler ReportFiller, renderer DocumentRenderer, sender mailer.Sender, config Config) *Orchestrator {
	if config.Timeouts.OCR <= 0 {
		config.Timeouts.OCR = DefaultTimeouts.OCR
	}
	if config.Timeouts.Store <= 0 {
		config.Timeouts.Store = DefaultTimeouts.Store
	}
	if config.Timeouts.Mail <= 0 {
		config.Timeouts.Mail = DefaultTimeouts.Mail
	}
	return &Orchestrator{
		extractor: extractor,
		filler:    filler,
		renderer:  renderer,
		sender:    sender,
		config:    config,
		now:       time.Now,
		log:       logger.WithComponent("pipeline"),
	}
}

// WithRecorder registers every completed run with r. Recorder failures never fail a run.
func (o *Orchestrator) WithRecorder(r Recorder) *Orchestrator {
	o.recorder = r
	return o
}

// WithClock replaces the clock used for run timestamps.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Process implements services.ExamProcessor.
func (o *Orchestrator) Process(ctx context.Context, submission *models.Submission) (*models.ExamResult, error) {
	run, err := o.Run(ctx, submission)
	return run.Result(), err
}

// Run processes one submission. The returned Run is never nil and describes how far
// the run got, also when an error is returned. The caller's submission is not modified.
func (o *Orchestrator) Run(ctx context.Context, in *models.Submission) (*Run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	run := &Run{ID: uuid.NewString(), StartedAt: o.now()}
	log := o.log.With().Str("run_id", run.ID).Logger()
	defer func() { run.FinishedAt = o.now() }()

	if !in.HasImage() {
		run.transition(StateNoInput)
		log.Warn().Msg("No image supplied, nothing to process")
		return run, ErrNoInput
	}

	copied := *in
	submission := &copied
	submission.Normalize()
	if err := submission.Validate(); err != nil {
		run.transition(StateFailed)
		log.Warn().Err(err).Msg("Submission rejected")
		return run, err
	}

	log.Info().
		Str("patient", submission.PatientName).
		Str("document_number", submission.DocumentNumber).
		Int("image_bytes", len(submission.Image)).
		Msg("Processing exam")

	if err := o.execute(ctx, run, submission, log); err != nil {
		var stepErr *StepError
		if errors.As(err, &stepErr) {
			log.Error().
				Err(stepErr.Err).
				Str("step", string(stepErr.Step)).
				Str("service", stepErr.Service).
				Bool("timeout", stepErr.Timeout).
				Msg("Pipeline failed")
		}
		run.transition(StateFailed)
		return run, err
	}

	run.transition(StateDone)
	log.Info().
		Str("docx", run.Docx.Name).
		Str("pdf", run.PDF.Name).
		Dur("duration", o.now().Sub(run.StartedAt)).
		Msg("Pipeline completed")

	o.record(ctx, run, submission, log)
	return run, nil
}

func (o *Orchestrator) execute(ctx context.Context, run *Run, submission *models.Submission, log zerolog.Logger) error {
	run.transition(StateExtracting)
	err := o.step(ctx, run.State, ServiceOCR, o.config.Timeouts.OCR, func(ctx context.Context) error {
		text, err := o.extractor.Extract(ctx, ocr.RawImage{Data: submission.Image, MIMEType: submission.ImageMIME})
		run.Text = text
		return err
	})
	if err != nil {
		return err
	}
	// The image is not needed past recognition.
	submission.Image = nil
	// Engine detections may hold several lines.
	lines := ocr.NewText(run.Text.String()).Lines

	run.transition(StateFieldExtracting)
	run.Fields = fields.Extract(run.Text.String())
	if missing := run.Fields.Missing(); len(missing) > 0 {
		log.Info().Strs("missing", missing).Msg("Fields not found in text, leaving them blank")
	}

	run.transition(StateFilling)
	err = o.step(ctx, run.State, ServiceStore, 0, func(ctx context.Context) error {
		filled, err := o.filler.Fill(ctx, report.FillRequest{
			PatientName:    submission.PatientName,
			DocumentNumber: submission.DocumentNumber,
			Fields:         run.Fields,
			RawText:        run.Text.String(),
		})
		run.Docx = filled
		return err
	})
	if err != nil {
		return err
	}

	run.transition(StateRendering)
	err = o.step(ctx, run.State, ServiceStore, 0, func(ctx context.Context) error {
		rendered, err := o.renderer.Render(ctx, lines, run.Docx.Stem)
		run.PDF = rendered
		return err
	})
	if err != nil {
		return err
	}

	run.transition(StateDelivering)
	return o.step(ctx, run.State, ServiceMail, o.config.Timeouts.Mail, func(ctx context.Context) error {
		return o.sender.Send(ctx, mailer.Message{
			To:      submission.Recipient,
			Subject: o.config.Subject,
			Body:    o.messageBody(submission, run.Fields),
			Attachments: []mailer.Attachment{
				{Filename: run.PDF.Name, ContentType: render.MIMEType, Content: run.PDF.Data},
			},
		})
	})
}

// step runs fn and turns a failure into a StepError. A positive timeout puts fn
// under its own deadline; store steps rely on the per-call deadline of the store.
func (o *Orchestrator) step(ctx context.Context, state State, service string, timeout time.Duration, fn func(context.Context) error) error {
	stepCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	err := fn(stepCtx)
	if err == nil {
		return nil
	}
	return &StepError{
		Step:    state,
		Service: service,
		Err:     err,
		Timeout: errors.Is(err, context.DeadlineExceeded) || errors.Is(stepCtx.Err(), context.DeadlineExceeded),
	}
}

func (o *Orchestrator) messageBody(submission *models.Submission, found fields.FieldSet) string {
	var b strings.Builder
	b.WriteString(o.config.Body)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Paciente: %s\n", submission.PatientName)
	if submission.TutorName != "" {
		fmt.Fprintf(&b, "Tutor: %s\n", submission.TutorName)
	}
	examDate := submission.ExamDate
	if examDate == "" {
		examDate = found.ExamDate
	}
	if examDate != "" {
		fmt.Fprintf(&b, "Data do exame: %s\n", examDate)
	}
	fmt.Fprintf(&b, "Documento: %s\n", submission.DocumentNumber)
	return b.String()
}

func (o *Orchestrator) record(ctx context.Context, run *Run, submission *models.Submission, log zerolog.Logger) {
	if o.recorder == nil {
		return
	}

	recordCtx, cancel := context.WithTimeout(ctx, o.config.Timeouts.Store)
	defer cancel()

	err := o.recorder.Record(recordCtx, models.ExamRecord{
		RunID:          run.ID,
		ProcessedAt:    o.now(),
		PatientName:    submission.PatientName,
		TutorName:      submission.TutorName,
		DocumentNumber: submission.DocumentNumber,
		NationalID:     run.Fields.NationalID,
		ExtractedDate:  run.Fields.ExamDate,
		ReportedDate:   submission.ExamDate,
		Recipient:      submission.Recipient,
		DocxName:       run.Docx.Name,
		PDFName:        run.PDF.Name,
		Pages:          run.PDF.Pages,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to record run in register")
	}
}
