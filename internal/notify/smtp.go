// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package notify delivers verification emails.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/authcore/internal/auth"
)

// Delivery defaults.
const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxRetries  = 2
	defaultBackoffBase = 250 * time.Millisecond
)

// Compile-time interface check.
var _ auth.Notifier = (*SMTPNotifier)(nil)

// SMTPConfig locates the relay and the sender identity.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	AppName  string
	Timeout  time.Duration
}

// Transport hands a rendered message to a mail relay.
type Transport interface {
	Deliver(ctx context.Context, from string, to []string, msg []byte) error
}

// SMTPOption customizes an SMTPNotifier.
type SMTPOption func(*SMTPNotifier)

// WithTransport replaces the SMTP transport.
func WithTransport(t Transport) SMTPOption {
	return func(n *SMTPNotifier) { n.transport = t }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) SMTPOption {
	return func(n *SMTPNotifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithBackoff sets the retry policy for transient relay failures.
func WithBackoff(maxRetries uint64, base time.Duration) SMTPOption {
	return func(n *SMTPNotifier) {
		n.maxRetries = maxRetries
		n.backoffBase = base
	}
}

// WithClock sets the clock used for the Date header.
func WithClock(now func() time.Time) SMTPOption {
	return func(n *SMTPNotifier) { n.now = now }
}

// SMTPNotifier sends each message as multipart/alternative with a plain-text
// part and an HTML part rendered from the same text.
type SMTPNotifier struct {
	from        *mail.Address
	appName     string
	transport   Transport
	logger      *slog.Logger
	maxRetries  uint64
	backoffBase time.Duration
	now         func() time.Time
}

// NewSMTPNotifier creates an SMTPNotifier.
func NewSMTPNotifier(cfg SMTPConfig, opts ...SMTPOption) (*SMTPNotifier, error) {
	if cfg.Host == "" {
		return nil, oops.Code("NOTIFY_CONFIG_INVALID").Errorf("smtp host is required")
	}
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, oops.Code("NOTIFY_CONFIG_INVALID").With("from", cfg.From).Wrap(err)
	}
	if from.Name == "" && cfg.AppName != "" {
		from.Name = cfg.AppName
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	n := &SMTPNotifier{
		from:        from,
		appName:     cfg.AppName,
		transport:   &smtpTransport{cfg: cfg},
		logger:      slog.Default(),
		maxRetries:  DefaultMaxRetries,
		backoffBase: defaultBackoffBase,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Send renders and delivers one message. Transient relay failures are retried
// with exponential backoff; permanent (5xx) rejections are not.
func (n *SMTPNotifier) Send(ctx context.Context, to, subject, body string) error {
	rcpt, err := mail.ParseAddress(to)
	if err != nil {
		return oops.Code("NOTIFY_INVALID_RECIPIENT").Wrap(err)
	}

	msg, err := n.render(rcpt, subject, body)
	if err != nil {
		return oops.Code("NOTIFY_RENDER_FAILED").Wrap(err)
	}

	attempt := 0
	backoff := retry.WithMaxRetries(n.maxRetries, retry.NewExponential(n.backoffBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := n.transport.Deliver(ctx, n.from.Address, []string{rcpt.Address}, msg)
		if err == nil {
			return nil
		}
		if permanent(err) {
			return err
		}
		n.logger.DebugContext(ctx, "smtp delivery attempt failed", "attempt", attempt, "error", err)
		return retry.RetryableError(err)
	})
	if err != nil {
		return oops.Code("NOTIFY_SEND_FAILED").With("attempts", attempt).Wrap(err)
	}
	return nil
}

// permanent reports whether the relay rejected the message outright.
func permanent(err error) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code >= 500
}

var htmlTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Subject}}</title>
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
<div style="background: #f9f9f9; padding: 30px; border-radius: 10px; border: 1px solid #ddd;">
<h1 style="text-align: center;">{{.Subject}}</h1>
{{range .Paragraphs}}<p>{{.}}</p>
{{end}}<p style="margin-top: 30px; text-align: center; font-size: 12px; color: #666;">This is an automated email. Please do not reply to this message.{{if .AppName}}<br>&copy; {{.Year}} {{.AppName}}{{end}}</p>
</div>
</body>
</html>
`))

type htmlData struct {
	Subject    string
	Paragraphs []string
	AppName    string
	Year       int
}

func (n *SMTPNotifier) render(to *mail.Address, subject, body string) ([]byte, error) {
	now := n.now()

	var html bytes.Buffer
	if err := htmlTemplate.Execute(&html, htmlData{
		Subject:    subject,
		Paragraphs: paragraphs(body),
		AppName:    n.appName,
		Year:       now.Year(),
	}); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("From", n.from.String())
	header.Set("To", to.String())
	header.Set("Subject", mime.QEncoding.Encode("utf-8", subject))
	header.Set("Date", now.Format(time.RFC1123Z))
	header.Set("Message-ID", fmt.Sprintf("<%s@%s>", ulid.Make(), domainOf(n.from.Address)))
	header.Set("MIME-Version", "1.0")
	header.Set("Content-Type", "multipart/alternative; boundary="+strconv.Quote(mw.Boundary()))
	for _, key := range []string{"From", "To", "Subject", "Date", "Message-ID", "MIME-Version", "Content-Type"} {
		fmt.Fprintf(&buf, "%s: %s\r\n", key, header.Get(key))
	}
	buf.WriteString("\r\n")

	for _, part := range []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=utf-8", crlf(body)},
		{"text/html; charset=utf-8", crlf(html.String())},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(part.content)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func paragraphs(body string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func crlf(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\n", "\r\n")
}

func domainOf(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 {
		return addr[i+1:]
	}
	return "localhost"
}

// smtpTransport speaks SMTP over a context-bounded connection, upgrading with
// STARTTLS when the relay offers it.
type smtpTransport struct {
	cfg SMTPConfig
}

func (t *smtpTransport) Deliver(ctx context.Context, from string, to []string, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: t.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return err
		}
	}
	if t.cfg.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)); err != nil {
			return err
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}
