// Package mailer delivers processed exam reports by SMTP.
//
// Messages are composed as multipart/mixed with a plain text body and the
// attachments. Port 465 uses implicit TLS (SMTPS); any other port connects in
// plain text and upgrades with STARTTLS. Plain text sessions are only allowed
// against loopback hosts, which is what local mail catchers listen on.
package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"

	"examflow/internal/logger"
)

// ImplicitTLSPort is the SMTPS port; connections to it start with a TLS handshake.
const ImplicitTLSPort = 465

var (
	// ErrDeliveryFailed is returned when the SMTP exchange does not complete.
	ErrDeliveryFailed = errors.New("mail delivery failed")

	// ErrNotConfigured is returned when host or credentials are missing.
	ErrNotConfigured = errors.New("mail server not configured")
)

// Config holds the SMTP connection settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Attachment represents an email attachment
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message is one email to one recipient.
type Message struct {
	To          string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Mailer sends messages through a single SMTP account.
type Mailer struct {
	config    Config
	tlsConfig *tls.Config
	now       func() time.Time
	log       zerolog.Logger
}

// New creates a mailer. From defaults to the SMTP username.
func New(config Config) *Mailer {
	if config.From == "" {
		config.From = config.Username
	}
	return &Mailer{
		config:    config,
		tlsConfig: &tls.Config{ServerName: config.Host, MinVersion: tls.VersionTLS12},
		now:       time.Now,
		log:       logger.WithComponent("mailer"),
	}
}

// Compose renders msg as an RFC 5322 message.
func (m *Mailer) Compose(msg Message) ([]byte, error) {
	var h mail.Header
	h.SetDate(m.now())
	h.SetAddressList("From", []*mail.Address{{Address: m.config.From}})
	h.SetAddressList("To", []*mail.Address{{Address: msg.To}})
	h.SetSubject(msg.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("failed to create body: %w", err)
	}
	var th mail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	th.Set("Content-Transfer-Encoding", "quoted-printable")
	w, err := tw.CreatePart(th)
	if err != nil {
		return nil, fmt.Errorf("failed to create text part: %w", err)
	}
	if _, err := io.WriteString(w, msg.Body); err != nil {
		return nil, fmt.Errorf("failed to write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close text part: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close body: %w", err)
	}

	for _, att := range msg.Attachments {
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		var ah mail.AttachmentHeader
		ah.SetContentType(contentType, nil)
		ah.SetFilename(att.Filename)
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment %s: %w", att.Filename, err)
		}
		if _, err := aw.Write(att.Content); err != nil {
			return nil, fmt.Errorf("failed to write attachment %s: %w", att.Filename, err)
		}
		if err := aw.Close(); err != nil {
			return nil, fmt.Errorf("failed to close attachment %s: %w", att.Filename, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize message: %w", err)
	}
	return buf.Bytes(), nil
}

// Send composes and delivers msg. The whole SMTP exchange is bound to ctx.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	const op = "Send"

	if m.config.Host == "" || m.config.Port == 0 {
		return fmt.Errorf("%s: %w: SMTP host not configured", op, ErrNotConfigured)
	}
	if m.config.Username == "" || m.config.Password == "" {
		return fmt.Errorf("%s: %w: SMTP credentials not configured", op, ErrNotConfigured)
	}
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return fmt.Errorf("%s: %w: invalid recipient %q: %v", op, ErrDeliveryFailed, msg.To, err)
	}

	raw, err := m.Compose(msg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	startTime := time.Now()
	if err := m.deliver(ctx, msg.To, raw); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w: %w", op, ErrDeliveryFailed, ctxErr)
		}
		return fmt.Errorf("%s: %w: %v", op, ErrDeliveryFailed, err)
	}

	m.log.Info().
		Str("to", msg.To).
		Int("attachments", len(msg.Attachments)).
		Int("bytes", len(raw)).
		Dur("duration", time.Since(startTime)).
		Msg("Email sent")
	return nil
}

func (m *Mailer) deliver(ctx context.Context, to string, raw []byte) error {
	addr := net.JoinHostPort(m.config.Host, strconv.Itoa(m.config.Port))

	conn, err := m.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer conn.Close()

	// Cancelling ctx closes the connection, which unblocks any pending read or write.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, m.config.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if m.config.Port != ImplicitTLSPort {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(m.tlsConfig); err != nil {
				return fmt.Errorf("failed to start TLS: %w", err)
			}
		} else if !isLoopback(m.config.Host) {
			return fmt.Errorf("server %s does not offer STARTTLS", m.config.Host)
		}
	}

	auth := smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP authentication failed: %w", err)
	}

	if err := client.Mail(m.config.From); err != nil {
		return fmt.Errorf("failed to set mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("failed to set mail recipient: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	return client.Quit()
}

func (m *Mailer) dial(ctx context.Context, addr string) (net.Conn, error) {
	if m.config.Port == ImplicitTLSPort {
		dialer := &tls.Dialer{Config: m.tlsConfig}
		return dialer.DialContext(ctx, "tcp", addr)
	}
	var dialer net.Dialer
	return dialer.DialContext(ctx, "tcp", addr)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
