// Package report fills the exam report template and stores the result.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"examflow/internal/docx"
	"examflow/internal/fields"
	"examflow/internal/logger"
	"examflow/internal/store"
)

// Placeholder tokens recognized in the template, matched case-sensitively.
const (
	TokenName           = "{{NOME}}"
	TokenDocumentNumber = "{{DOCUMENTO}}"
	TokenNationalID     = "{{CPF}}"
	TokenExamDate       = "{{DATA}}"
	TokenText           = "{{TEXTO}}"
)

// DefaultTemplateName is the template looked up when none is configured.
const DefaultTemplateName = "modelo_padrao.docx"

const timestampLayout = "20060102150405"

// ErrTemplateNotFound is returned when the store folder has no template with the configured name.
var ErrTemplateNotFound = errors.New("template not found")

// FillRequest carries the values substituted into the template.
type FillRequest struct {
	PatientName    string
	DocumentNumber string
	Fields         fields.FieldSet
	RawText        string
}

// Filled describes a stored, filled document.
type Filled struct {
	// Name is the generated file name, {patient}_{YYYYMMDDHHMMSS}.docx.
	Name string

	// Stem is Name without its extension; the rendered PDF shares it.
	Stem string

	// ID is the store id of the uploaded document.
	ID string

	// Data is the filled .docx archive.
	Data []byte

	// Paragraphs is the number of paragraphs that had at least one token replaced.
	Paragraphs int
}

// Filler downloads the template, substitutes the tokens and uploads the result.
type Filler struct {
	store        store.Store
	templateName string
	now          func() time.Time
	log          zerolog.Logger
}

// NewFiller creates a filler for the named template in the given store.
func NewFiller(s store.Store, templateName string) *Filler {
	if templateName == "" {
		templateName = DefaultTemplateName
	}
	return &Filler{
		store:        s,
		templateName: templateName,
		now:          time.Now,
		log:          logger.WithComponent("report"),
	}
}

// WithClock replaces the clock used for output names.
func (f *Filler) WithClock(now func() time.Time) *Filler {
	f.now = now
	return f
}

// TemplateName returns the name of the template the filler looks up.
func (f *Filler) TemplateName() string {
	return f.templateName
}

// Fill produces and stores the filled report.
//
// When the template is missing nothing is written and ErrTemplateNotFound is returned.
// The upload is part of the operation: a nil error means the document is stored.
func (f *Filler) Fill(ctx context.Context, req FillRequest) (*Filled, error) {
	const op = "Fill"

	templateID, found, err := f.store.Find(ctx, f.templateName)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to look up template %s: %w", op, f.templateName, err)
	}
	if !found {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrTemplateNotFound, f.templateName)
	}

	templateData, err := f.store.Download(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to download template: %w", op, err)
	}

	doc, err := docx.Open(templateData)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open template %s: %w", op, f.templateName, err)
	}

	paragraphs := doc.ReplaceAll(Replacements(req))
	if paragraphs == 0 {
		f.log.Warn().Str("template", f.templateName).Msg("Template has no placeholders, storing it unchanged")
	}

	data, err := doc.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to serialize document: %w", op, err)
	}

	name := OutputName(req.PatientName, f.now())
	id, err := f.store.Upload(ctx, name, data, docx.MIMEType)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to upload %s: %w", op, name, err)
	}

	f.log.Info().
		Str("name", name).
		Str("id", id).
		Int("paragraphs", paragraphs).
		Msg("Report filled")

	return &Filled{
		Name:       name,
		Stem:       strings.TrimSuffix(name, ".docx"),
		ID:         id,
		Data:       data,
		Paragraphs: paragraphs,
	}, nil
}

// Replacements maps every template token to its value.
func Replacements(req FillRequest) map[string]string {
	return map[string]string{
		TokenName:           req.PatientName,
		TokenDocumentNumber: req.DocumentNumber,
		TokenNationalID:     req.Fields.NationalID,
		TokenExamDate:       req.Fields.ExamDate,
		TokenText:           req.RawText,
	}
}

var nameSanitizer = strings.NewReplacer("/", "-", `\`, "-")

// OutputName builds {patient}_{YYYYMMDDHHMMSS}.docx from the UTC time.
// Names are unique to the second only.
func OutputName(patientName string, t time.Time) string {
	return fmt.Sprintf("%s_%s.docx", nameSanitizer.Replace(patientName), t.UTC().Format(timestampLayout))
}
