// Package sinks holds the destinations a decoded meter message is delivered to.
package sinks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"meterhub/internal/config"
	"meterhub/internal/dispatch"
)

// Known sink names in dispatch order.
var Known = []string{"csv", "email", "database", "sqlite", "redis", "nats"}

// Set is the opened, enabled sinks.
type Set struct {
	sinks []dispatch.Sink
	redis *RedisSink
}

// Sinks returns the sinks in fixed order.
func (s *Set) Sinks() []dispatch.Sink {
	return s.sinks
}

// Names returns the names of the opened sinks.
func (s *Set) Names() []string {
	names := make([]string, len(s.sinks))
	for i, sk := range s.sinks {
		names[i] = sk.Name()
	}
	return names
}

// Redis returns the redis sink, or nil when it is not enabled.
func (s *Set) Redis() *RedisSink {
	return s.redis
}

// Close releases every sink holding a connection or file.
func (s *Set) Close() error {
	var errs []error
	for _, sk := range s.sinks {
		if c, ok := sk.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", sk.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// OpenEnabled opens the sinks named in cfg.EnabledSinks. Unknown names are
// logged and skipped; a sink that fails to open aborts startup.
func OpenEnabled(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Set, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, name := range cfg.EnabledSinks {
		if !isKnown(name) {
			logger.Warn("unknown_sink_ignored",
				"sink", name,
			)
		}
	}

	set := &Set{}
	for _, name := range Known {
		if !dispatch.IsEnabled(name, cfg.EnabledSinks) {
			continue
		}
		sk, err := open(ctx, name, cfg, logger)
		if err != nil {
			set.Close()
			return nil, fmt.Errorf("failed to open %s sink: %w", name, err)
		}
		if r, ok := sk.(*RedisSink); ok {
			set.redis = r
		}
		set.sinks = append(set.sinks, sk)
	}

	logger.Info("sinks_opened",
		"sinks", strings.Join(set.Names(), ","),
	)
	return set, nil
}

func open(ctx context.Context, name string, cfg *config.Config, logger *slog.Logger) (dispatch.Sink, error) {
	logger = logger.With("sink", name)
	switch name {
	case "csv":
		return NewCSVSink(cfg.CSVOutputPath, logger)
	case "email":
		return NewEmailSink(EmailConfig{
			Server:        cfg.SMTPServer,
			Port:          cfg.SMTPPort,
			Username:      cfg.SMTPUsername,
			Password:      cfg.SMTPPassword,
			From:          cfg.SMTPFrom,
			To:            cfg.SMTPTo,
			UseTLS:        cfg.SMTPUseTLS,
			RatePerMinute: cfg.SMTPRatePerMinute,
		}, logger), nil
	case "database":
		return OpenPostgresSink(ctx, cfg.DatabaseURL, logger)
	case "sqlite":
		return OpenSQLiteSink(ctx, cfg.SQLitePath, logger)
	case "redis":
		return OpenRedisSink(ctx, RedisConfig{
			URL:           cfg.RedisURL,
			Password:      cfg.RedisPassword,
			HistoryLength: cfg.RedisHistoryLength,
			TTL:           cfg.RedisTTL,
		}, logger)
	case "nats":
		return OpenNATSSink(cfg.NATSURL, cfg.NATSSubject, logger)
	default:
		return nil, fmt.Errorf("unknown sink %q", name)
	}
}

func isKnown(name string) bool {
	for _, k := range Known {
		if dispatch.IsEnabled(k, []string{name}) {
			return true
		}
	}
	return false
}
