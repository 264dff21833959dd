package web

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"examflow/internal/logger"
	"examflow/internal/ocr"
	"examflow/internal/pipeline"
	"examflow/internal/report"
	"examflow/internal/session"
	"examflow/pkg/models"
)

// Uploads larger than this are cut off before the form is parsed.
const maxUploadBytes = ocr.MaxImageSizeBytes + 1<<20

const pageTitle = "Processamento de exames"

type formValues struct {
	PatientName    string
	TutorName      string
	ExamDate       string
	DocumentNumber string
	Recipient      string
}

type pageData struct {
	Title    string
	Username string
	Expired  bool
	Error    string
	Form     formValues
	Result   *models.ExamResult
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	data.Title = pageTitle

	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		log := logger.WithRequestID(s.log, chimiddleware.GetReqID(r.Context()))
		log.Error().
			Err(err).
			Str("template", name).
			Msg("Failed to render page")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func (s *Server) loginPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "login.html", pageData{
		Expired: r.URL.Query().Get("expirada") == "1",
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	log := logger.WithRequestID(s.log, chimiddleware.GetReqID(r.Context()))
	username := r.PostFormValue("username")

	if err := s.auth.Authenticate(username, r.PostFormValue("password")); err != nil {
		if errors.Is(err, session.ErrTooManyAttempts) {
			log.Warn().Msg("Login throttled")
			s.render(w, r, http.StatusTooManyRequests, "login.html", pageData{
				Error: "Muitas tentativas. Aguarde alguns segundos e tente novamente.",
			})
			return
		}
		log.Warn().Str("username", username).Msg("Login rejected")
		s.render(w, r, http.StatusUnauthorized, "login.html", pageData{
			Error: "Usuário ou senha inválidos.",
		})
		return
	}

	sess := s.sessions.Create(username)
	setSessionCookie(w, r, sess.ID)
	log.Info().Str("username", username).Msg("Operator logged in")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		s.sessions.Destroy(cookie.Value)
	}
	clearSessionCookie(w, r)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "index.html", pageData{
		Username: sessionFrom(r.Context()).Username,
	})
}

func (s *Server) process(w http.ResponseWriter, r *http.Request) {
	log := logger.WithRequestID(s.log, chimiddleware.GetReqID(r.Context()))
	data := pageData{Username: sessionFrom(r.Context()).Username}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			data.Error = "Imagem muito grande (máximo de 20 MB)."
			s.render(w, r, http.StatusRequestEntityTooLarge, "index.html", data)
			return
		}
		data.Error = "Formulário inválido."
		s.render(w, r, http.StatusBadRequest, "index.html", data)
		return
	}
	defer r.MultipartForm.RemoveAll()

	data.Form = formValues{
		PatientName:    r.FormValue("patient_name"),
		TutorName:      r.FormValue("tutor_name"),
		ExamDate:       r.FormValue("exam_date"),
		DocumentNumber: r.FormValue("document_number"),
		Recipient:      r.FormValue("recipient"),
	}
	submission := &models.Submission{
		PatientName:    data.Form.PatientName,
		TutorName:      data.Form.TutorName,
		ExamDate:       formDate(data.Form.ExamDate),
		DocumentNumber: data.Form.DocumentNumber,
		Recipient:      data.Form.Recipient,
	}

	file, header, err := r.FormFile("image")
	switch {
	case err == nil:
		defer file.Close()
		ext := strings.ToLower(path.Ext(header.Filename))
		if !ocr.AcceptedMIME(ext) {
			data.Error = "Formato de imagem não suportado. Envie um arquivo JPG ou PNG."
			s.render(w, r, http.StatusUnsupportedMediaType, "index.html", data)
			return
		}
		image, err := io.ReadAll(file)
		if err != nil {
			data.Error = "Não foi possível ler a imagem enviada."
			s.render(w, r, http.StatusBadRequest, "index.html", data)
			return
		}
		submission.Image = image
		submission.ImageMIME = header.Header.Get("Content-Type")
		if !ocr.AcceptedMIME(submission.ImageMIME) {
			submission.ImageMIME = ext
		}
	case errors.Is(err, http.ErrMissingFile):
		// Left to the processor, which reports a run without input.
	default:
		data.Error = "Formulário inválido."
		s.render(w, r, http.StatusBadRequest, "index.html", data)
		return
	}

	result, err := s.processor.Process(r.Context(), submission)
	if err != nil {
		status, message := describeFailure(err)
		log.Warn().Err(err).Int("status", status).Msg("Exam processing failed")
		data.Error = message
		s.render(w, r, status, "index.html", data)
		return
	}

	data.Result = result
	data.Form = formValues{}
	s.render(w, r, http.StatusOK, "index.html", data)
}

// describeFailure maps a processing error to a status code and the message shown to the operator.
func describeFailure(err error) (int, string) {
	switch {
	case errors.Is(err, pipeline.ErrNoInput):
		return http.StatusUnprocessableEntity, "Nenhuma imagem enviada. Selecione a imagem do exame."
	case errors.Is(err, models.ErrInvalidSubmission):
		return http.StatusUnprocessableEntity, "Verifique os campos do formulário: " + detail(err, models.ErrInvalidSubmission)
	case errors.Is(err, ocr.ErrUnsupportedImage), errors.Is(err, ocr.ErrInvalidImage):
		return http.StatusUnsupportedMediaType, "A imagem enviada não pôde ser lida. Envie um arquivo JPG ou PNG válido."
	case errors.Is(err, ocr.ErrImageTooLarge):
		return http.StatusRequestEntityTooLarge, "Imagem muito grande (máximo de 20 MB)."
	case errors.Is(err, report.ErrTemplateNotFound):
		return http.StatusInternalServerError, "Modelo de documento não encontrado na pasta configurada."
	case errors.Is(err, pipeline.ErrExternalServiceTimeout):
		return http.StatusGatewayTimeout, "Um serviço externo não respondeu a tempo. Tente novamente."
	}

	var stepErr *pipeline.StepError
	if errors.As(err, &stepErr) {
		switch stepErr.Service {
		case pipeline.ServiceOCR:
			return http.StatusBadGateway, "Falha no reconhecimento de texto."
		case pipeline.ServiceStore:
			return http.StatusBadGateway, "Falha ao acessar o armazenamento de documentos."
		case pipeline.ServiceMail:
			return http.StatusBadGateway, "Os documentos foram gerados, mas o envio do e-mail falhou."
		}
	}
	return http.StatusInternalServerError, "Falha ao processar o exame."
}

// detail strips the sentinel's own text from a wrapped error message.
func detail(err, sentinel error) string {
	return strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
}

// formDate converts the yyyy-mm-dd value of a date input to dd/mm/yyyy.
// Anything else is passed through for validation.
func formDate(value string) string {
	value = strings.TrimSpace(value)
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t.Format("02/01/2006")
	}
	return value
}
