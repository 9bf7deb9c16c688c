package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"meterhub/internal/meter"
	"meterhub/internal/models"
)

type RedisConfig struct {
	URL           string
	Password      string
	HistoryLength int
	TTL           time.Duration
}

// LatestReading is the cached last report of one meter.
type LatestReading struct {
	SerialNumber string    `json:"serial_number"`
	Timestamp    time.Time `json:"timestamp"`
	MessageID    string    `json:"message_id"`
	Network      string    `json:"network"`
	Model        string    `json:"model"`
	Data180      *float64  `json:"data_1_8_0,omitempty"`
	Data181      *float64  `json:"data_1_8_1,omitempty"`
	Data182      *float64  `json:"data_1_8_2,omitempty"`
	Data280      *float64  `json:"data_2_8_0,omitempty"`
	RawData      string    `json:"raw_data"`
}

// RedisSink keeps the latest reading and a bounded history per meter.
type RedisSink struct {
	client  *redis.Client
	history int64
	ttl     time.Duration
	logger  *slog.Logger
}

// OpenRedisSink connects to cfg.URL and verifies the connection.
func OpenRedisSink(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisSink, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	rdb := redis.NewClient(opts)

	// Verify connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisSink(rdb, cfg, logger), nil
}

// NewRedisSink wraps an existing client.
func NewRedisSink(client *redis.Client, cfg RedisConfig, logger *slog.Logger) *RedisSink {
	if logger == nil {
		logger = slog.Default()
	}
	history := cfg.HistoryLength
	if history <= 0 {
		history = 100
	}
	return &RedisSink{
		client:  client,
		history: int64(history),
		ttl:     cfg.TTL,
		logger:  logger,
	}
}

func latestKey(sn string) string  { return fmt.Sprintf("meter:%s:latest", sn) }
func historyKey(sn string) string { return fmt.Sprintf("meter:%s:history", sn) }

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Process(ctx context.Context, msg *meter.Message) error {
	if s == nil || s.client == nil {
		// No-op without a client
		return nil
	}
	row := models.NewMeterReading(msg)
	entry, err := json.Marshal(row)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, latestKey(msg.SN), latestFields(row))
	if s.ttl > 0 {
		pipe.Expire(ctx, latestKey(msg.SN), s.ttl)
	}
	pipe.LPush(ctx, historyKey(msg.SN), entry)
	pipe.LTrim(ctx, historyKey(msg.SN), 0, s.history-1)
	if s.ttl > 0 {
		pipe.Expire(ctx, historyKey(msg.SN), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache reading: %w", err)
	}
	return nil
}

// latestFields flattens a row for HSET; absent registers are stored as "".
func latestFields(row *models.MeterReading) map[string]any {
	return map[string]any{
		"serial_number": row.SerialNumber,
		"timestamp":     row.Timestamp.Format(time.RFC3339),
		"message_id":    row.MessageID,
		"network":       row.Network,
		"model":         row.Model,
		"data_1_8_0":    formatFloat(row.Data180),
		"data_1_8_1":    formatFloat(row.Data181),
		"data_1_8_2":    formatFloat(row.Data182),
		"data_2_8_0":    formatFloat(row.Data280),
		"raw_data":      row.RawData,
	}
}

// Latest returns the cached last reading of sn, or nil when none is cached.
func (s *RedisSink) Latest(ctx context.Context, sn string) (*LatestReading, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}
	fields, err := s.client.HGetAll(ctx, latestKey(sn)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil // Not found
	}
	return parseLatest(fields), nil
}

func parseLatest(fields map[string]string) *LatestReading {
	r := &LatestReading{
		SerialNumber: fields["serial_number"],
		MessageID:    fields["message_id"],
		Network:      fields["network"],
		Model:        fields["model"],
		Data180:      parseFloat(fields["data_1_8_0"]),
		Data181:      parseFloat(fields["data_1_8_1"]),
		Data182:      parseFloat(fields["data_1_8_2"]),
		Data280:      parseFloat(fields["data_2_8_0"]),
		RawData:      fields["raw_data"],
	}
	if ts, ok := fields["timestamp"]; ok {
		r.Timestamp, _ = time.Parse(time.RFC3339, ts)
	}
	return r
}

// History returns up to limit cached readings of sn, newest first.
func (s *RedisSink) History(ctx context.Context, sn string, limit int64) ([]models.MeterReading, error) {
	if s == nil || s.client == nil {
		return []models.MeterReading{}, nil
	}
	raw, err := s.client.LRange(ctx, historyKey(sn), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.MeterReading, 0, len(raw))
	for _, item := range raw {
		var row models.MeterReading
		if err := json.Unmarshal([]byte(item), &row); err != nil {
			s.logger.Warn("invalid_history_entry",
				"sn", sn,
				"error", err.Error(),
			)
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *RedisSink) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
