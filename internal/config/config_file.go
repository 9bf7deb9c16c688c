package config

import (
	"fmt"
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
// Zero values leave the current setting untouched.
type FileConfig struct {
	ListenHost     string `toml:"listen_host"`
	ListenPort     int    `toml:"listen_port"`
	ReadBufferSize int    `toml:"read_buffer_size"`
	MaxBufferSize  int    `toml:"max_buffer_size"`
	ReadTimeout    string `toml:"read_timeout"`
	WriteTimeout   string `toml:"write_timeout"`

	EnabledSinks  []string `toml:"enabled_sinks"`
	CSVOutputPath string   `toml:"csv_output_path"`

	SMTP struct {
		Server        string   `toml:"server"`
		Port          int      `toml:"port"`
		Username      string   `toml:"username"`
		Password      string   `toml:"password"`
		From          string   `toml:"from"`
		To            []string `toml:"to"`
		UseTLS        *bool    `toml:"use_tls"`
		RatePerMinute int      `toml:"rate_per_minute"`
	} `toml:"smtp"`

	DatabaseURL string `toml:"database_url"`
	SQLitePath  string `toml:"sqlite_path"`

	Redis struct {
		URL           string `toml:"url"`
		Password      string `toml:"password"`
		HistoryLength int    `toml:"history_length"`
		TTL           string `toml:"ttl"`
	} `toml:"redis"`

	NATS struct {
		URL     string `toml:"url"`
		Subject string `toml:"subject"`
	} `toml:"nats"`

	AdminPort       *int   `toml:"admin_port"`
	AdminJWTSecret  string `toml:"admin_jwt_secret"`
	ShutdownTimeout string `toml:"shutdown_timeout"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// ApplyFileConfig copies every value set in fc onto cfg.
func ApplyFileConfig(cfg *Config, fc FileConfig) error {
	setString(fc.ListenHost, &cfg.ListenHost)
	setInt(fc.ListenPort, &cfg.ListenPort)
	setInt(fc.ReadBufferSize, &cfg.ReadBufferSize)
	setInt(fc.MaxBufferSize, &cfg.MaxBufferSize)
	if len(fc.EnabledSinks) > 0 {
		cfg.EnabledSinks = fc.EnabledSinks
	}
	setString(fc.CSVOutputPath, &cfg.CSVOutputPath)

	setString(fc.SMTP.Server, &cfg.SMTPServer)
	setInt(fc.SMTP.Port, &cfg.SMTPPort)
	setString(fc.SMTP.Username, &cfg.SMTPUsername)
	setString(fc.SMTP.Password, &cfg.SMTPPassword)
	setString(fc.SMTP.From, &cfg.SMTPFrom)
	if len(fc.SMTP.To) > 0 {
		cfg.SMTPTo = fc.SMTP.To
	}
	if fc.SMTP.UseTLS != nil {
		cfg.SMTPUseTLS = *fc.SMTP.UseTLS
	}
	setInt(fc.SMTP.RatePerMinute, &cfg.SMTPRatePerMinute)

	setString(fc.DatabaseURL, &cfg.DatabaseURL)
	setString(fc.SQLitePath, &cfg.SQLitePath)

	setString(fc.Redis.URL, &cfg.RedisURL)
	setString(fc.Redis.Password, &cfg.RedisPassword)
	setInt(fc.Redis.HistoryLength, &cfg.RedisHistoryLength)

	setString(fc.NATS.URL, &cfg.NATSURL)
	setString(fc.NATS.Subject, &cfg.NATSSubject)

	if fc.AdminPort != nil {
		cfg.AdminPort = *fc.AdminPort
	}
	setString(fc.AdminJWTSecret, &cfg.AdminJWTSecret)
	setString(fc.LogLevel, &cfg.LogLevel)
	setString(fc.LogFormat, &cfg.LogFormat)

	durations := []struct {
		key    string
		value  string
		target *time.Duration
	}{
		{"read_timeout", fc.ReadTimeout, &cfg.ReadTimeout},
		{"write_timeout", fc.WriteTimeout, &cfg.WriteTimeout},
		{"redis.ttl", fc.Redis.TTL, &cfg.RedisTTL},
		{"shutdown_timeout", fc.ShutdownTimeout, &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %w", d.key, err)
		}
		*d.target = parsed
	}
	return nil
}

func setString(value string, target *string) {
	if value != "" {
		*target = value
	}
}

func setInt(value int, target *int) {
	if value != 0 {
		*target = value
	}
}
