package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"meterhub/internal/meter"
)

var ErrNATSNotConnected = errors.New("nats: not connected")

// NATSSink publishes every message to <subject>.<sn>.
type NATSSink struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// OpenNATSSink connects to url with reconnects enabled.
func OpenNATSSink(url, subject string, logger *slog.Logger) (*NATSSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("meterhub"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats_disconnected", "error", err.Error())
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats_reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return NewNATSSink(conn, subject, logger), nil
}

// NewNATSSink wraps an existing connection.
func NewNATSSink(conn *nats.Conn, subject string, logger *slog.Logger) *NATSSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSSink{conn: conn, subject: subject, logger: logger}
}

func (s *NATSSink) Name() string { return "nats" }

// Subject returns the subject a meter's readings are published on.
func (s *NATSSink) Subject(sn string) string {
	return s.subject + "." + subjectToken(sn)
}

func (s *NATSSink) Process(ctx context.Context, msg *meter.Message) error {
	if s.conn == nil || !s.conn.IsConnected() {
		return ErrNATSNotConnected
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := s.conn.Publish(s.Subject(msg.SN), data); err != nil {
		return fmt.Errorf("failed to publish reading: %w", err)
	}
	if err := s.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush nats: %w", err)
	}
	return nil
}

func (s *NATSSink) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}

// subjectToken makes sn usable as a single subject token.
func subjectToken(sn string) string {
	if sn == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, sn)
}
