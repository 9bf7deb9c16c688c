package sinks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"meterhub/internal/meter"
	"meterhub/internal/models"
)

// PostgresSink stores readings in the meter_readings table.
type PostgresSink struct {
	db     *gorm.DB
	logger *slog.Logger
}

// OpenPostgresSink connects with dsn and migrates the schema.
func OpenPostgresSink(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresSink, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	return NewPostgresSink(ctx, db, logger)
}

// NewPostgresSink uses an existing gorm handle and migrates the schema.
func NewPostgresSink(ctx context.Context, db *gorm.DB, logger *slog.Logger) (*PostgresSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.WithContext(ctx).AutoMigrate(&models.MeterReading{}); err != nil {
		return nil, fmt.Errorf("failed to migrate meter_readings: %w", err)
	}
	return &PostgresSink{db: db, logger: logger}, nil
}

func (s *PostgresSink) Name() string { return "database" }

func (s *PostgresSink) Process(ctx context.Context, msg *meter.Message) error {
	row := models.NewMeterReading(msg)
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return classifyPgError(err)
	}
	s.logger.Debug("reading_saved",
		"sink", s.Name(),
		"sn", msg.SN,
		"id", row.ID,
	)
	return nil
}

func (s *PostgresSink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// classifyPgError adds the SQLSTATE class to server-side failures.
func classifyPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	kind := "server error"
	switch {
	case pgErr.Code == "23505":
		kind = "duplicate key"
	case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "22":
		kind = "data exception"
	case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "23":
		kind = "constraint violation"
	case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08":
		kind = "connection exception"
	}
	return fmt.Errorf("failed to insert reading (%s %s): %w", kind, pgErr.Code, err)
}
