package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"examflow/internal/pipeline"
	"examflow/internal/report"
	"examflow/internal/session"
	"examflow/pkg/models"
)

type fakeProcessor struct {
	calls      int
	submission *models.Submission
	result     *models.ExamResult
	err        error
}

func (f *fakeProcessor) Process(_ context.Context, sub *models.Submission) (*models.ExamResult, error) {
	f.calls++
	f.submission = sub
	if !sub.HasImage() {
		return &models.ExamResult{State: "no_input"}, pipeline.ErrNoInput
	}
	return f.result, f.err
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type harness struct {
	processor *fakeProcessor
	sessions  *session.Manager
	clock     *clock
	handler   http.Handler
}

func newHarness() *harness {
	c := &clock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	h := &harness{
		processor: &fakeProcessor{result: &models.ExamResult{
			RunID:      "run-1",
			State:      "done",
			DocxName:   "Rex_20240301090000.docx",
			PDFName:    "Rex_20240301090000.pdf",
			NationalID: "123.456.789-00",
			Pages:      1,
		}},
		sessions: session.NewManager(30 * time.Second).WithClock(c.now),
		clock:    c,
	}
	auth := session.NewAuthenticatorWithLimit("admin", "s3nha", rate.Inf, 1)
	h.handler = NewRouter(h.processor, h.sessions, auth)
	return h
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) login(t *testing.T) *http.Cookie {
	t.Helper()
	form := url.Values{"username": {"admin"}, "password": {"s3nha"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := h.do(req)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/", rec.Header().Get("Location"))

	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

type upload struct {
	filename    string
	contentType string
	data        []byte
}

func processRequest(t *testing.T, cookie *http.Cookie, fields map[string]string, file *upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, file.filename))
		header.Set("Content-Type", file.contentType)
		part, err := mw.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(file.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/process", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return req
}

var examFields = map[string]string{
	"patient_name":    "Rex",
	"tutor_name":      "Maria",
	"exam_date":       "2024-03-01",
	"document_number": "42",
	"recipient":       "vet@example.com",
}

var pngUpload = &upload{filename: "exame.PNG", contentType: "image/png", data: []byte("\x89PNG\r\n\x1a\nfake")}

func TestHealthz(t *testing.T) {
	h := newHarness()
	rec := h.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestIndexRequiresSession(t *testing.T) {
	h := newHarness()

	rec := h.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "forged"})
	rec = h.do(req)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	rec = h.do(processRequest(t, nil, examFields, pngUpload))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Zero(t, h.processor.calls)
}

func TestLogin(t *testing.T) {
	h := newHarness()

	rec := h.do(httptest.NewRequest(http.MethodGet, "/login", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `action="/login"`)
	assert.NotContains(t, rec.Body.String(), "Sessão expirada")

	form := url.Values{"username": {"admin"}, "password": {"errada"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = h.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Usuário ou senha inválidos.")
	assert.Zero(t, h.sessions.Len())

	cookie := h.login(t)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, 1, h.sessions.Len())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	rec = h.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Usuário: admin")
	assert.Contains(t, body, "Processar</button>")
	assert.Contains(t, body, "Sair</button>")
}

func TestLoginThrottled(t *testing.T) {
	h := newHarness()
	auth := session.NewAuthenticatorWithLimit("admin", "s3nha", rate.Every(time.Hour), 1)
	handler := NewRouter(h.processor, h.sessions, auth)

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		form := url.Values{"username": {"admin"}, "password": {"x"}}
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusTooManyRequests}, codes)
}

func TestSessionExpiry(t *testing.T) {
	h := newHarness()
	cookie := h.login(t)

	h.clock.t = h.clock.t.Add(31 * time.Second)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	rec := h.do(req)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?expirada=1", rec.Header().Get("Location"))

	rec = h.do(httptest.NewRequest(http.MethodGet, "/login?expirada=1", nil))
	assert.Contains(t, rec.Body.String(), "Sessão expirada")
}

func TestLogout(t *testing.T) {
	h := newHarness()
	cookie := h.login(t)

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(cookie)
	rec := h.do(req)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
	assert.Zero(t, h.sessions.Len())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	rec = h.do(req)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestProcess(t *testing.T) {
	h := newHarness()
	cookie := h.login(t)

	rec := h.do(processRequest(t, cookie, examFields, pngUpload))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, 1, h.processor.calls)
	sub := h.processor.submission
	assert.Equal(t, pngUpload.data, sub.Image)
	assert.Equal(t, "image/png", sub.ImageMIME)
	assert.Equal(t, "Rex", sub.PatientName)
	assert.Equal(t, "Maria", sub.TutorName)
	assert.Equal(t, "01/03/2024", sub.ExamDate)
	assert.Equal(t, "42", sub.DocumentNumber)
	assert.Equal(t, "vet@example.com", sub.Recipient)

	body := rec.Body.String()
	assert.Contains(t, body, "Documento processado com sucesso.")
	assert.Contains(t, body, "DOCX salvo: Rex_20240301090000.docx")
	assert.Contains(t, body, "PDF salvo: Rex_20240301090000.pdf")
	assert.Contains(t, body, "CPF: 123.456.789-00")
	assert.Contains(t, body, "Data: não encontrada")
}

func TestProcessFallsBackToExtension(t *testing.T) {
	h := newHarness()
	cookie := h.login(t)

	file := &upload{filename: "foto.jpeg", contentType: "application/octet-stream", data: []byte{0xff, 0xd8, 0xff}}
	rec := h.do(processRequest(t, cookie, examFields, file))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ".jpeg", h.processor.submission.ImageMIME)
}

func TestProcessRejectsUnsupportedFile(t *testing.T) {
	h := newHarness()
	cookie := h.login(t)

	file := &upload{filename: "exame.pdf", contentType: "application/pdf", data: []byte("%PDF-1.4")}
	rec := h.do(processRequest(t, cookie, examFields, file))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Contains(t, rec.Body.String(), "Formato de imagem não suportado")
	assert.Zero(t, h.processor.calls)
}

func TestProcessWithoutImage(t *testing.T) {
	h := newHarness()
	cookie := h.login(t)

	rec := h.do(processRequest(t, cookie, examFields, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "Nenhuma imagem enviada")
	assert.Contains(t, rec.Body.String(), `value="Rex"`, "form values are kept")
	assert.Equal(t, 1, h.processor.calls)
}

func TestProcessFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{
			name:    "invalid submission",
			err:     fmt.Errorf("%w: recipient must be an email address", models.ErrInvalidSubmission),
			status:  http.StatusUnprocessableEntity,
			message: "Verifique os campos do formulário: recipient must be an email address",
		},
		{
			name:    "template missing",
			err:     &pipeline.StepError{Step: pipeline.StateFilling, Service: pipeline.ServiceStore, Err: fmt.Errorf("Fill: %w: modelo_padrao.docx", report.ErrTemplateNotFound)},
			status:  http.StatusInternalServerError,
			message: "Modelo de documento não encontrado",
		},
		{
			name:    "timeout",
			err:     &pipeline.StepError{Step: pipeline.StateExtracting, Service: pipeline.ServiceOCR, Err: context.DeadlineExceeded, Timeout: true},
			status:  http.StatusGatewayTimeout,
			message: "não respondeu a tempo",
		},
		{
			name:    "mail failure",
			err:     &pipeline.StepError{Step: pipeline.StateDelivering, Service: pipeline.ServiceMail, Err: errors.New("535 auth failed")},
			status:  http.StatusBadGateway,
			message: "envio do e-mail falhou",
		},
		{
			name:    "unknown",
			err:     errors.New("boom"),
			status:  http.StatusInternalServerError,
			message: "Falha ao processar o exame.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.processor.result = &models.ExamResult{State: "failed"}
			h.processor.err = tt.err
			cookie := h.login(t)

			rec := h.do(processRequest(t, cookie, examFields, pngUpload))
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.message)
			assert.NotContains(t, rec.Body.String(), "Documento processado com sucesso.")
		})
	}
}

func TestFormDate(t *testing.T) {
	assert.Equal(t, "01/03/2024", formDate("2024-03-01"))
	assert.Equal(t, "01/03/2024", formDate(" 01/03/2024 "))
	assert.Equal(t, "", formDate(""))
	assert.Equal(t, "amanhã", formDate("amanhã"))
}
