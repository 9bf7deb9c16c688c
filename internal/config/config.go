package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"meterhub/internal/microservices/tcp"
)

type Config struct {
	// Meter listener
	ListenHost     string        `env:"LISTEN_HOST" default:"0.0.0.0"`
	ListenPort     int           `env:"LISTEN_PORT" default:"461"`
	ReadBufferSize int           `env:"READ_BUFFER_SIZE" default:"4096"`
	MaxBufferSize  int           `env:"MAX_BUFFER_SIZE" default:"1048576"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT" default:"0"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT" default:"10s"`

	// Sinks
	EnabledSinks  []string `env:"ENABLED_SINKS" default:"csv"`
	CSVOutputPath string   `env:"CSV_OUTPUT_PATH" default:"./data/csv"`

	// Email sink
	SMTPServer        string   `env:"SMTP_SERVER"`
	SMTPPort          int      `env:"SMTP_PORT" default:"587"`
	SMTPUsername      string   `env:"SMTP_USERNAME"`
	SMTPPassword      string   `env:"SMTP_PASSWORD"`
	SMTPFrom          string   `env:"SMTP_FROM"`
	SMTPTo            []string `env:"SMTP_TO"`
	SMTPUseTLS        bool     `env:"SMTP_USE_TLS" default:"true"`
	SMTPRatePerMinute int      `env:"SMTP_RATE_PER_MINUTE" default:"60"`

	// Database sinks
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" default:"MeterData.db"`

	// Redis sink
	RedisURL           string        `env:"REDIS_URL" default:"redis://localhost:6379"`
	RedisPassword      string        `env:"REDIS_PASSWORD"`
	RedisHistoryLength int           `env:"REDIS_HISTORY_LENGTH" default:"100"`
	RedisTTL           time.Duration `env:"REDIS_TTL" default:"2160h"`

	// NATS sink
	NATSURL     string `env:"NATS_URL" default:"nats://localhost:4222"`
	NATSSubject string `env:"NATS_SUBJECT" default:"meters.readings"`

	// Admin API
	AdminPort      int    `env:"ADMIN_PORT" default:"8090"`
	AdminJWTSecret string `env:"ADMIN_JWT_SECRET"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"15s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"json"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		ListenHost:         "0.0.0.0",
		ListenPort:         461,
		ReadBufferSize:     tcp.DefaultReadBufferSize,
		MaxBufferSize:      tcp.DefaultMaxBufferSize,
		ReadTimeout:        tcp.DefaultReadTimeout,
		WriteTimeout:       tcp.DefaultWriteTimeout,
		EnabledSinks:       []string{"csv"},
		CSVOutputPath:      "./data/csv",
		SMTPPort:           587,
		SMTPUseTLS:         true,
		SMTPRatePerMinute:  60,
		SQLitePath:         "MeterData.db",
		RedisURL:           "redis://localhost:6379",
		RedisHistoryLength: 100,
		RedisTTL:           90 * 24 * time.Hour,
		NATSURL:            "nats://localhost:4222",
		NATSSubject:        "meters.readings",
		AdminPort:          8090,
		ShutdownTimeout:    15 * time.Second,
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

// LoadConfig builds the configuration from defaults, an optional TOML file
// named by CONFIG_FILE, then environment variables (a .env file is loaded first
// when present). Later layers win.
func LoadConfig() (*Config, error) {
	// a missing .env is fine, system env vars still apply
	_ = godotenv.Load(".env")

	config := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		fc, err := LoadFileConfig(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := ApplyFileConfig(config, fc); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", path, err)
		}
	}

	if err := config.loadEnv(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) loadEnv() error {
	loaders := []func() error{
		// Listener
		func() error { return loadEnvString(&c.ListenHost, "LISTEN_HOST", c.ListenHost) },
		func() error { return loadEnvInt(&c.ListenPort, "LISTEN_PORT", c.ListenPort) },
		func() error { return loadEnvInt(&c.ReadBufferSize, "READ_BUFFER_SIZE", c.ReadBufferSize) },
		func() error { return loadEnvInt(&c.MaxBufferSize, "MAX_BUFFER_SIZE", c.MaxBufferSize) },
		func() error { return loadEnvDuration(&c.ReadTimeout, "READ_TIMEOUT", c.ReadTimeout) },
		func() error { return loadEnvDuration(&c.WriteTimeout, "WRITE_TIMEOUT", c.WriteTimeout) },

		// Sinks
		func() error { return loadEnvStringSlice(&c.EnabledSinks, "ENABLED_SINKS", c.EnabledSinks) },
		func() error { return loadEnvString(&c.CSVOutputPath, "CSV_OUTPUT_PATH", c.CSVOutputPath) },

		// Email
		func() error { return loadEnvString(&c.SMTPServer, "SMTP_SERVER", c.SMTPServer) },
		func() error { return loadEnvInt(&c.SMTPPort, "SMTP_PORT", c.SMTPPort) },
		func() error { return loadEnvString(&c.SMTPUsername, "SMTP_USERNAME", c.SMTPUsername) },
		func() error { return loadEnvString(&c.SMTPPassword, "SMTP_PASSWORD", c.SMTPPassword) },
		func() error { return loadEnvString(&c.SMTPFrom, "SMTP_FROM", c.SMTPFrom) },
		func() error { return loadEnvStringSlice(&c.SMTPTo, "SMTP_TO", c.SMTPTo) },
		func() error { return loadEnvBool(&c.SMTPUseTLS, "SMTP_USE_TLS", c.SMTPUseTLS) },
		func() error { return loadEnvInt(&c.SMTPRatePerMinute, "SMTP_RATE_PER_MINUTE", c.SMTPRatePerMinute) },

		// Databases
		func() error { return loadEnvString(&c.DatabaseURL, "DATABASE_URL", c.DatabaseURL) },
		func() error { return loadEnvString(&c.SQLitePath, "SQLITE_PATH", c.SQLitePath) },

		// Redis
		func() error { return loadEnvString(&c.RedisURL, "REDIS_URL", c.RedisURL) },
		func() error { return loadEnvString(&c.RedisPassword, "REDIS_PASSWORD", c.RedisPassword) },
		func() error { return loadEnvInt(&c.RedisHistoryLength, "REDIS_HISTORY_LENGTH", c.RedisHistoryLength) },
		func() error { return loadEnvDuration(&c.RedisTTL, "REDIS_TTL", c.RedisTTL) },

		// NATS
		func() error { return loadEnvString(&c.NATSURL, "NATS_URL", c.NATSURL) },
		func() error { return loadEnvString(&c.NATSSubject, "NATS_SUBJECT", c.NATSSubject) },

		// Admin
		func() error { return loadEnvInt(&c.AdminPort, "ADMIN_PORT", c.AdminPort) },
		func() error { return loadEnvString(&c.AdminJWTSecret, "ADMIN_JWT_SECRET", c.AdminJWTSecret) },
		func() error { return loadEnvDuration(&c.ShutdownTimeout, "SHUTDOWN_TIMEOUT", c.ShutdownTimeout) },

		// Logging
		func() error { return loadEnvString(&c.LogLevel, "LOG_LEVEL", c.LogLevel) },
		func() error { return loadEnvString(&c.LogFormat, "LOG_FORMAT", c.LogFormat) },
	}
	for _, load := range loaders {
		if err := load(); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvBool(target *bool, key string, defaultValue bool) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvStringSlice(target *[]string, key string, defaultValue []string) error {
	if value := os.Getenv(key); value != "" {
		*target = splitList(value)
	} else {
		*target = defaultValue
	}
	return nil
}

// splitList splits a comma separated value, dropping blanks.
func splitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	if c.ListenPort < 1 || c.ListenPort > 65535 {
		errors = append(errors, "LISTEN_PORT must be between 1 and 65535")
	}
	if c.AdminPort < 0 || c.AdminPort > 65535 {
		errors = append(errors, "ADMIN_PORT must be between 0 and 65535")
	}
	if c.AdminPort != 0 && c.AdminPort == c.ListenPort {
		errors = append(errors, "ADMIN_PORT must differ from LISTEN_PORT")
	}
	if c.ReadBufferSize < 1 {
		errors = append(errors, "READ_BUFFER_SIZE must be positive")
	}
	if c.MaxBufferSize < c.ReadBufferSize {
		errors = append(errors, "MAX_BUFFER_SIZE must be at least READ_BUFFER_SIZE")
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		errors = append(errors, "timeouts must not be negative")
	}
	if c.SMTPRatePerMinute < 1 {
		errors = append(errors, "SMTP_RATE_PER_MINUTE must be positive")
	}
	if c.RedisHistoryLength < 1 {
		errors = append(errors, "REDIS_HISTORY_LENGTH must be positive")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, strings.ToLower(c.LogFormat)) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if c.AdminJWTSecret != "" && len(c.AdminJWTSecret) < 32 {
		errors = append(errors, "ADMIN_JWT_SECRET should be at least 32 characters long")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

// ListenAddr is the host:port the meter listener binds.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(c.ListenPort))
}

// AdminAddr is the admin API address, empty when the API is disabled.
func (c *Config) AdminAddr() string {
	if c.AdminPort == 0 {
		return ""
	}
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(c.AdminPort))
}

// Session returns the per-connection settings.
func (c *Config) Session() tcp.SessionConfig {
	return tcp.SessionConfig{
		ReadBufferSize: c.ReadBufferSize,
		MaxBufferSize:  c.MaxBufferSize,
		ReadTimeout:    c.ReadTimeout,
		WriteTimeout:   c.WriteTimeout,
	}
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.LogLevel)}
	if strings.EqualFold(c.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
