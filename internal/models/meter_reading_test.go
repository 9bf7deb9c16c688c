package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meterhub/internal/meter"
)

func TestNewMeterReading(t *testing.T) {
	msg := &meter.Message{
		UTC:     "1734472893",
		ID:      "1001",
		Network: "LN00001",
		Model:   "ED310",
		System:  "nms",
		SN:      "12345678",
		Result:  meter.Result{Enc: "text", Data: "1.8.0(0001234.5*kWh)\r\n2.8.0(0000010.0#kWh)\r\n"},
	}

	row := NewMeterReading(msg)

	assert.Equal(t, "12345678", row.SerialNumber)
	assert.Equal(t, time.Date(2024, 12, 17, 22, 1, 33, 0, time.UTC), row.Timestamp)
	require.NotNil(t, row.Data180)
	assert.InDelta(t, 1234.5, *row.Data180, 1e-9)
	require.NotNil(t, row.Data280)
	assert.InDelta(t, 10.0, *row.Data280, 1e-9)
	assert.Nil(t, row.Data181)
	assert.Nil(t, row.Data182)
	assert.Equal(t, msg.Result.Data, row.RawData)
	assert.Equal(t, "meter_readings", row.TableName())
}
