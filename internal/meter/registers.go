package meter

import (
	"regexp"
	"strconv"
	"strings"
)

// Register codes the storage sinks keep as dedicated columns.
const (
	RegisterImportTotal = "1.8.0"
	RegisterImportT1    = "1.8.1"
	RegisterImportT2    = "1.8.2"
	RegisterExportTotal = "2.8.0"
)

var registerPattern = regexp.MustCompile(`(\d+\.\d+\.\d+)\(([^)]+)\)`)

var unitReplacer = strings.NewReplacer("*kWh", "", "#kWh", "")

// ParseRegisters extracts "code(value*unit)" lines from a raw payload.
// Values are returned without the kWh unit marker; lines that do not match are skipped.
func ParseRegisters(data string) map[string]string {
	registers := make(map[string]string)
	for _, line := range strings.FieldsFunc(data, func(r rune) bool { return r == '\r' || r == '\n' }) {
		match := registerPattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		registers[match[1]] = strings.TrimSpace(unitReplacer.Replace(match[2]))
	}
	return registers
}

// RegisterValue parses a register value as a float.
// The boolean is false for empty or non-numeric values.
func RegisterValue(registers map[string]string, code string) (float64, bool) {
	raw := strings.TrimSpace(registers[code])
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Readings is the parsed form of the four well-known registers.
type Readings struct {
	ImportTotal *float64
	ImportT1    *float64
	ImportT2    *float64
	ExportTotal *float64
}

// Readings parses the message payload into the well-known register columns.
func (m *Message) Readings() Readings {
	regs := ParseRegisters(m.Result.Data)
	pick := func(code string) *float64 {
		if v, ok := RegisterValue(regs, code); ok {
			return &v
		}
		return nil
	}
	return Readings{
		ImportTotal: pick(RegisterImportTotal),
		ImportT1:    pick(RegisterImportT1),
		ImportT2:    pick(RegisterImportT2),
		ExportTotal: pick(RegisterExportTotal),
	}
}
