package sinks

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"meterhub/internal/meter"
)

var (
	ErrSMTPNotConfigured = errors.New("smtp server is not configured")
	ErrRateLimited       = errors.New("email rate limit exceeded")
)

type EmailConfig struct {
	Server        string
	Port          int
	Username      string
	Password      string
	From          string
	To            []string
	UseTLS        bool
	RatePerMinute int
}

// EmailSink mails a plain text report per message.
type EmailSink struct {
	cfg     EmailConfig
	limiter *rate.Limiter
	logger  *slog.Logger

	// send is swapped in tests
	send func(ctx context.Context, from string, to []string, body []byte) error
}

func NewEmailSink(cfg EmailConfig, logger *slog.Logger) *EmailSink {
	if logger == nil {
		logger = slog.Default()
	}
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 60
	}
	s := &EmailSink{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		logger:  logger,
	}
	s.send = s.sendSMTP
	return s
}

func (s *EmailSink) Name() string { return "email" }

func (s *EmailSink) Process(ctx context.Context, msg *meter.Message) error {
	if s.cfg.Server == "" {
		s.logger.Warn("email_sink_not_configured")
		return ErrSMTPNotConfigured
	}
	if !s.limiter.Allow() {
		return ErrRateLimited
	}

	if err := s.send(ctx, s.cfg.From, s.cfg.To, s.compose(msg)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	s.logger.Info("email_sent",
		"sn", msg.SN,
		"recipients", len(s.cfg.To),
	)
	return nil
}

// Subject is "Meter Data - SN: <sn> - <yyyy-MM-dd HH:mm>".
func Subject(msg *meter.Message) string {
	return fmt.Sprintf("Meter Data - SN: %s - %s", msg.SN, msg.Time().Format("2006-01-02 15:04"))
}

// Body is the plain text report.
func Body(msg *meter.Message) string {
	var b strings.Builder
	b.WriteString("Meter Data Report\r\n")
	b.WriteString("=================\r\n\r\n")
	fmt.Fprintf(&b, "Timestamp: %s UTC\r\n", msg.Time().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Serial Number: %s\r\n", msg.SN)
	fmt.Fprintf(&b, "Model: %s\r\n", msg.Model)
	fmt.Fprintf(&b, "Network: %s\r\n", msg.Network)
	fmt.Fprintf(&b, "ID: %s\r\n\r\n", msg.ID)
	b.WriteString("Raw Data:\r\n")
	b.WriteString(msg.Result.Data)
	b.WriteString("\r\n")
	return b.String()
}

func (s *EmailSink) compose(msg *meter.Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", headerValue(s.cfg.From))
	fmt.Fprintf(&b, "To: %s\r\n", headerValue(strings.Join(s.cfg.To, ", ")))
	fmt.Fprintf(&b, "Subject: %s\r\n", headerValue(Subject(msg)))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(Body(msg))
	return []byte(b.String())
}

// headerValue keeps v on one header line.
func headerValue(v string) string {
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, v)
}

// sendSMTP runs one SMTP transaction bounded by ctx.
func (s *EmailSink) sendSMTP(ctx context.Context, from string, to []string, body []byte) error {
	if len(to) == 0 {
		return errors.New("no recipients configured")
	}
	addr := net.JoinHostPort(s.cfg.Server, strconv.Itoa(s.cfg.Port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	c, err := smtp.NewClient(conn, s.cfg.Server)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if s.cfg.UseTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Server}); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Server)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
