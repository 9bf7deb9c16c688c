package sinks

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"meterhub/internal/meter"
	"meterhub/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS MeterReadings (
	Id           INTEGER PRIMARY KEY AUTOINCREMENT,
	SerialNumber TEXT NOT NULL,
	Timestamp    TEXT NOT NULL,
	MessageId    TEXT,
	Network      TEXT,
	Model        TEXT,
	System       TEXT,
	Data_1_8_0   REAL,
	Data_1_8_1   REAL,
	Data_1_8_2   REAL,
	Data_2_8_0   REAL,
	RawData      TEXT,
	CreatedAt    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS IX_MeterReadings_SerialNumber ON MeterReadings (SerialNumber);
CREATE INDEX IF NOT EXISTS IX_MeterReadings_Timestamp ON MeterReadings (Timestamp);
CREATE INDEX IF NOT EXISTS IX_MeterReadings_SerialNumber_Timestamp ON MeterReadings (SerialNumber, Timestamp);
`

const sqliteInsert = `
INSERT INTO MeterReadings
	(SerialNumber, Timestamp, MessageId, Network, Model, System,
	 Data_1_8_0, Data_1_8_1, Data_1_8_2, Data_2_8_0, RawData, CreatedAt)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SQLiteSink stores readings in a local database file.
type SQLiteSink struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// OpenSQLiteSink opens (or creates) the database file and its table.
func OpenSQLiteSink(ctx context.Context, path string, logger *slog.Logger) (*SQLiteSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time avoids SQLITE_BUSY under concurrent sessions
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create MeterReadings: %w", err)
	}

	logger.Info("sqlite_sink_ready",
		"path", path,
	)
	return &SQLiteSink{db: db, path: path, logger: logger}, nil
}

func (s *SQLiteSink) Name() string { return "sqlite" }

func (s *SQLiteSink) Process(ctx context.Context, msg *meter.Message) error {
	row := models.NewMeterReading(msg)
	res, err := s.db.ExecContext(ctx, sqliteInsert,
		row.SerialNumber,
		row.Timestamp.Format(time.RFC3339),
		row.MessageID,
		row.Network,
		row.Model,
		row.System,
		nullFloat(row.Data180),
		nullFloat(row.Data181),
		nullFloat(row.Data182),
		nullFloat(row.Data280),
		row.RawData,
		row.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}

	id, _ := res.LastInsertId()
	s.logger.Debug("reading_saved",
		"sink", s.Name(),
		"sn", msg.SN,
		"id", id,
	)
	return nil
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
