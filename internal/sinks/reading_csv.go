package sinks

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"meterhub/internal/meter"
)

const csvHeader = "Timestamp;Sn;Id;Network;Model;Data_1_8_0;Data_1_8_1;Data_1_8_2;Data_2_8_0;RawData"

// CSVSink appends one line per message to a monthly file per meter.
type CSVSink struct {
	dir    string
	mu     sync.Mutex // serializes create-or-append across sessions
	logger *slog.Logger
}

func NewCSVSink(dir string, logger *slog.Logger) (*CSVSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create csv output dir: %w", err)
	}
	return &CSVSink{dir: dir, logger: logger}, nil
}

func (s *CSVSink) Name() string { return "csv" }

// FileName is <sn>_<MM>_<yyyy>.csv for the month of the reading. The serial
// comes from the peer, so it is reduced to a single path element first.
func (s *CSVSink) FileName(msg *meter.Message) string {
	return fmt.Sprintf("%s_%s.csv", fileToken(msg.SN), msg.Time().Format("01_2006"))
}

// fileToken replaces separators and control characters so sn cannot leave
// the output directory.
func fileToken(sn string) string {
	if sn == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' || r < 0x20 || r == 0x7f {
			return '_'
		}
		return r
	}, sn)
}

func (s *CSVSink) Process(ctx context.Context, msg *meter.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := s.FileName(msg)
	if filepath.Base(name) != name {
		return fmt.Errorf("invalid csv file name %q", name)
	}
	path := filepath.Join(s.dir, name)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := os.Stat(path)
	exists := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat csv file: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open csv file: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	if !exists {
		b.WriteString(csvHeader)
		b.WriteByte('\n')
	}
	b.WriteString(csvLine(msg))
	b.WriteByte('\n')

	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("failed to append csv line: %w", err)
	}

	s.logger.Debug("csv_line_written",
		"file", name,
		"sn", msg.SN,
	)
	return nil
}

// csvLine renders register values as received and always quotes the raw payload.
func csvLine(msg *meter.Message) string {
	regs := meter.ParseRegisters(msg.Result.Data)
	return strings.Join([]string{
		msg.Time().Format("2006-01-02 15:04:05"),
		msg.SN,
		msg.ID,
		msg.Network,
		msg.Model,
		regs[meter.RegisterImportTotal],
		regs[meter.RegisterImportT1],
		regs[meter.RegisterImportT2],
		regs[meter.RegisterExportTotal],
		quoteRaw(msg.Result.Data),
	}, ";")
}

func quoteRaw(raw string) string {
	raw = strings.ReplaceAll(raw, `"`, `""`)
	raw = strings.ReplaceAll(raw, "\r\n", " ")
	raw = strings.ReplaceAll(raw, "\n", " ")
	return `"` + raw + `"`
}
