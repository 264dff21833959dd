// Package web serves the operator's browser interface: login, the exam upload form
// and the processing result.
package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"examflow/internal/logger"
	"examflow/internal/session"
	"examflow/pkg/services"
)

// SessionCookie is the name of the cookie carrying the session id.
const SessionCookie = "examflow_session"

//go:embed templates/*.html
var templateFS embed.FS

type contextKey struct{}

// Server holds the collaborators shared by all requests.
type Server struct {
	processor services.ExamProcessor
	sessions  *session.Manager
	auth      *session.Authenticator
	templates *template.Template
	log       zerolog.Logger
}

// NewServer creates the web server. The session manager and authenticator are shared
// with nothing else; the processor is called once per form submission.
func NewServer(processor services.ExamProcessor, sessions *session.Manager, auth *session.Authenticator) *Server {
	return &Server{
		processor: processor,
		sessions:  sessions,
		auth:      auth,
		templates: template.Must(template.ParseFS(templateFS, "templates/*.html")),
		log:       logger.WithComponent("web"),
	}
}

// NewRouter builds the HTTP handler for the web interface.
func NewRouter(processor services.ExamProcessor, sessions *session.Manager, auth *session.Authenticator) http.Handler {
	return NewServer(processor, sessions, auth).Router()
}

// Router returns the routes of the web interface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)

	// Health check (unauthenticated)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/login", s.loginPage)
	r.Post("/login", s.login)
	r.Post("/logout", s.logout)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Get("/", s.index)
		r.Post("/process", s.process)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		log := logger.WithRequestID(s.log, chimiddleware.GetReqID(r.Context()))
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request served")
	})
}

// requireSession refreshes the caller's session or sends them to the login page.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookie)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}

		sess, err := s.sessions.Touch(cookie.Value)
		switch {
		case err == nil:
		case errors.Is(err, session.ErrExpired):
			clearSessionCookie(w, r)
			http.Redirect(w, r, "/login?expirada=1", http.StatusSeeOther)
			return
		default:
			clearSessionCookie(w, r)
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}

		ctx := context.WithValue(r.Context(), contextKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(ctx context.Context) session.Session {
	sess, _ := ctx.Value(contextKey{}).(session.Session)
	return sess
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}
