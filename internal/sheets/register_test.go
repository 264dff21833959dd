package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"examflow/pkg/models"
)

const testSheetURL = "https://docs.google.com/spreadsheets/d/abc-123_XYZ/edit#gid=0"

type fakeSheets struct {
	mu         sync.Mutex
	worksheets []string
	headerSet  bool
	calls      []string
	appended   [][]interface{}
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/spreadsheets/abc-123_XYZ"):
		f.calls = append(f.calls, "get")
		resp := sheets.Spreadsheet{SpreadsheetId: "abc-123_XYZ"}
		for i, title := range f.worksheets {
			resp.Sheets = append(resp.Sheets, &sheets.Sheet{Properties: &sheets.SheetProperties{Title: title, SheetId: int64(i)}})
		}
		_ = json.NewEncoder(w).Encode(resp)

	case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
		var req sheets.BatchUpdateSpreadsheetRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := sheets.BatchUpdateSpreadsheetResponse{}
		for _, sub := range req.Requests {
			if sub.AddSheet != nil {
				f.calls = append(f.calls, "add-sheet")
				f.worksheets = append(f.worksheets, sub.AddSheet.Properties.Title)
				resp.Replies = append(resp.Replies, &sheets.Response{AddSheet: &sheets.AddSheetResponse{
					Properties: &sheets.SheetProperties{Title: sub.AddSheet.Properties.Title, SheetId: 7},
				}})
			}
			if sub.RepeatCell != nil {
				f.calls = append(f.calls, "format")
			}
		}
		_ = json.NewEncoder(w).Encode(resp)

	case r.Method == http.MethodGet && strings.Contains(path, "/values/"):
		f.calls = append(f.calls, "get-headers")
		resp := sheets.ValueRange{}
		if f.headerSet {
			resp.Values = [][]interface{}{{"Execução"}}
		}
		_ = json.NewEncoder(w).Encode(resp)

	case r.Method == http.MethodPut && strings.Contains(path, "/values/"):
		f.calls = append(f.calls, "set-headers")
		f.headerSet = true
		_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})

	case r.Method == http.MethodPost && strings.HasSuffix(path, ":append"):
		f.calls = append(f.calls, "append:"+r.URL.Query().Get("valueInputOption"))
		var vr sheets.ValueRange
		_ = json.NewDecoder(r.Body).Decode(&vr)
		f.appended = append(f.appended, vr.Values...)
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{})

	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"unexpected"}}`))
	}
}

func newTestRegister(t *testing.T, fake *fakeSheets) *Register {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	srv, err := sheets.NewService(context.Background(),
		option.WithHTTPClient(server.Client()),
		option.WithEndpoint(server.URL+"/"),
	)
	require.NoError(t, err)

	register, err := NewRegisterWithService(srv, testSheetURL, "")
	require.NoError(t, err)
	return register
}

func TestExtractSpreadsheetID(t *testing.T) {
	id, err := extractSpreadsheetID(testSheetURL)
	require.NoError(t, err)
	assert.Equal(t, "abc-123_XYZ", id)

	_, err = extractSpreadsheetID("https://example.com/not-a-sheet")
	assert.Error(t, err)
}

func TestRecordCreatesSheetOnce(t *testing.T) {
	fake := &fakeSheets{worksheets: []string{"Página1"}}
	register := newTestRegister(t, fake)
	ctx := context.Background()

	record := models.ExamRecord{
		RunID:          "run-1",
		ProcessedAt:    time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC),
		PatientName:    "Rex",
		TutorName:      "Maria",
		DocumentNumber: "42",
		NationalID:     "123.456.789-00",
		ExtractedDate:  "01/01/2024",
		Recipient:      "tutor@example.com",
		DocxName:       "Rex_20240101123000.docx",
		PDFName:        "Rex_20240101123000.pdf",
		Pages:          2,
	}
	require.NoError(t, register.Record(ctx, record))
	require.NoError(t, register.Record(ctx, record))

	assert.Equal(t, []string{
		"get", "add-sheet", "get-headers", "set-headers", "format",
		"append:USER_ENTERED", "append:USER_ENTERED",
	}, fake.calls)
	assert.Equal(t, []string{"Página1", DefaultWorksheet}, fake.worksheets)

	require.Len(t, fake.appended, 2)
	row := fake.appended[0]
	require.Len(t, row, len(headers))
	assert.Equal(t, "run-1", row[0])
	assert.Equal(t, "01/01/2024 12:30:00", row[1])
	assert.Equal(t, "123.456.789-00", row[5])
	assert.Equal(t, "", row[7])
	assert.Equal(t, float64(2), row[11])
}

func TestRecordUsesExistingSheet(t *testing.T) {
	fake := &fakeSheets{worksheets: []string{DefaultWorksheet}, headerSet: true}
	register := newTestRegister(t, fake)

	require.NoError(t, register.Record(context.Background(), models.ExamRecord{RunID: "r"}))
	assert.Equal(t, []string{"get", "get-headers", "append:USER_ENTERED"}, fake.calls)
}

func TestRecordLocation(t *testing.T) {
	register := newTestRegister(t, &fakeSheets{})
	register.WithLocation(time.FixedZone("BRT", -3*3600))

	values := register.recordToValues(models.ExamRecord{ProcessedAt: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)})
	assert.Equal(t, "01/01/2024 09:00:00", values[1])
}
