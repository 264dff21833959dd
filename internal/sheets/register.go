package sheets

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"examflow/internal/googleauth"
	"examflow/internal/logger"
	"examflow/pkg/models"
)

// DefaultWorksheet is the tab that receives the register rows.
const DefaultWorksheet = "Exames"

var headers = []interface{}{
	"Execução", "Processado em", "Paciente", "Tutor", "Documento", "CPF",
	"Data do exame (OCR)", "Data do exame (informada)", "Destinatário", "DOCX", "PDF", "Páginas",
}

// lastColumn is the column letter of the last header.
const lastColumn = "L"

var spreadsheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)

// Register appends one row per processed exam to a Google Sheet
type Register struct {
	sheetsService *sheets.Service
	spreadsheetID string
	worksheet     string
	location      *time.Location
	log           zerolog.Logger

	mu      sync.Mutex
	ensured bool
}

// NewRegister creates a Sheets client with credentials from environment.
func NewRegister(ctx context.Context, sheetURL, worksheet string) (*Register, error) {
	const op = "NewRegister"

	client, err := googleauth.HTTPClient(ctx, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sheetsService, err := sheets.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create sheets service: %w", op, err)
	}

	return NewRegisterWithService(sheetsService, sheetURL, worksheet)
}

// NewRegisterWithService creates a register with an explicit Sheets service.
func NewRegisterWithService(sheetsService *sheets.Service, sheetURL, worksheet string) (*Register, error) {
	const op = "NewRegisterWithService"

	spreadsheetID, err := extractSpreadsheetID(sheetURL)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to extract spreadsheet ID: %w", op, err)
	}
	if worksheet == "" {
		worksheet = DefaultWorksheet
	}

	log := logger.WithComponent("sheets")
	log.Debug().Str("spreadsheet_id", spreadsheetID).Str("worksheet", worksheet).Msg("Register configured")

	return &Register{
		sheetsService: sheetsService,
		spreadsheetID: spreadsheetID,
		worksheet:     worksheet,
		location:      time.UTC,
		log:           log,
	}, nil
}

// WithLocation sets the time zone used for the "Processado em" column.
func (r *Register) WithLocation(loc *time.Location) *Register {
	r.location = loc
	return r
}

// extractSpreadsheetID extracts the spreadsheet ID from a Google Sheets URL
func extractSpreadsheetID(url string) (string, error) {
	matches := spreadsheetIDPattern.FindStringSubmatch(url)
	if len(matches) < 2 {
		return "", fmt.Errorf("invalid Google Sheets URL format")
	}
	return matches[1], nil
}

// Record appends the run to the register, creating the worksheet and headers on first use.
func (r *Register) Record(ctx context.Context, record models.ExamRecord) error {
	const op = "Record"

	if err := r.ensureSheet(ctx); err != nil {
		return fmt.Errorf("%s: failed to ensure sheet exists: %w", op, err)
	}

	valueRange := &sheets.ValueRange{
		Values: [][]interface{}{r.recordToValues(record)},
	}

	_, err := r.sheetsService.Spreadsheets.Values.Append(
		r.spreadsheetID,
		r.worksheet+"!A:"+lastColumn,
		valueRange,
	).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to append values to sheet: %w", op, err)
	}

	r.log.Info().
		Str("run_id", record.RunID).
		Str("worksheet", r.worksheet).
		Msg("Exam recorded in register")
	return nil
}

// recordToValues converts a record to the register columns
func (r *Register) recordToValues(record models.ExamRecord) []interface{} {
	return []interface{}{
		record.RunID,                                                    // A: Execução
		record.ProcessedAt.In(r.location).Format("02/01/2006 15:04:05"), // B: Processado em
		record.PatientName,                                              // C: Paciente
		record.TutorName,                                                // D: Tutor
		record.DocumentNumber,                                           // E: Documento
		record.NationalID,                                               // F: CPF
		record.ExtractedDate,                                            // G: Data do exame (OCR)
		record.ReportedDate,                                             // H: Data do exame (informada)
		record.Recipient,                                                // I: Destinatário
		record.DocxName,                                                 // J: DOCX
		record.PDFName,                                                  // K: PDF
		record.Pages,                                                    // L: Páginas
	}
}

func (r *Register) ensureSheet(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ensured {
		return nil
	}
	if err := r.ensureSheetWithHeaders(ctx); err != nil {
		return err
	}
	r.ensured = true
	return nil
}

// ensureSheetWithHeaders ensures the worksheet exists and has proper headers
func (r *Register) ensureSheetWithHeaders(ctx context.Context) error {
	const op = "ensureSheetWithHeaders"

	spreadsheet, err := r.sheetsService.Spreadsheets.Get(r.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to get spreadsheet: %w", op, err)
	}

	var sheetExists bool
	var sheetID int64
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == r.worksheet {
			sheetExists = true
			sheetID = sheet.Properties.SheetId
			break
		}
	}

	if !sheetExists {
		r.log.Info().Str("sheet", r.worksheet).Msg("Creating new sheet")

		batchUpdateReq := &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{
				{AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: r.worksheet}}},
			},
		}

		resp, err := r.sheetsService.Spreadsheets.BatchUpdate(r.spreadsheetID, batchUpdateReq).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("%s: failed to create sheet: %w", op, err)
		}
		if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil {
			sheetID = resp.Replies[0].AddSheet.Properties.SheetId
		}
	}

	headerRange := fmt.Sprintf("%s!A1:%s1", r.worksheet, lastColumn)
	resp, err := r.sheetsService.Spreadsheets.Values.Get(r.spreadsheetID, headerRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to get headers: %w", op, err)
	}

	if len(resp.Values) == 0 || len(resp.Values[0]) == 0 {
		r.log.Info().Str("sheet", r.worksheet).Msg("Adding headers to sheet")

		valueRange := &sheets.ValueRange{Values: [][]interface{}{headers}}
		_, err = r.sheetsService.Spreadsheets.Values.Update(
			r.spreadsheetID,
			headerRange,
			valueRange,
		).ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("%s: failed to add headers: %w", op, err)
		}

		if err := r.formatHeaders(ctx, sheetID); err != nil {
			r.log.Warn().Err(err).Msg("Failed to format headers, continuing anyway")
		}
	}

	return nil
}

// formatHeaders makes the header row bold and sizes the columns
func (r *Register) formatHeaders(ctx context.Context, sheetID int64) error {
	const op = "formatHeaders"

	columns := int64(len(headers))
	requests := []*sheets.Request{
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    0,
					EndRowIndex:      1,
					StartColumnIndex: 0,
					EndColumnIndex:   columns,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat:      &sheets.TextFormat{Bold: true},
						BackgroundColor: &sheets.Color{Red: 0.9, Green: 0.9, Blue: 0.9},
					},
				},
				Fields: "userEnteredFormat(textFormat,backgroundColor)",
			},
		},
		{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "COLUMNS",
					StartIndex: 0,
					EndIndex:   columns,
				},
			},
		},
	}

	batchUpdateReq := &sheets.BatchUpdateSpreadsheetRequest{Requests: requests}
	if _, err := r.sheetsService.Spreadsheets.BatchUpdate(r.spreadsheetID, batchUpdateReq).Context(ctx).Do(); err != nil {
		return fmt.Errorf("%s: failed to format headers: %w", op, err)
	}
	return nil
}
