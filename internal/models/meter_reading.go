package models

import (
	"time"

	"meterhub/internal/meter"
)

// MeterReading is one stored meter report with its well-known registers split out.
type MeterReading struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	SerialNumber string    `json:"serial_number" gorm:"size:50;not null;index;index:idx_meter_readings_sn_ts,priority:1"`
	Timestamp    time.Time `json:"timestamp" gorm:"not null;index;index:idx_meter_readings_sn_ts,priority:2"`
	MessageID    string    `json:"message_id" gorm:"size:50"`
	Network      string    `json:"network" gorm:"size:100"`
	Model        string    `json:"model" gorm:"size:100"`
	System       string    `json:"system" gorm:"size:60"`
	Data180      *float64  `json:"data_1_8_0" gorm:"column:data_1_8_0;type:decimal(18,4)"`
	Data181      *float64  `json:"data_1_8_1" gorm:"column:data_1_8_1;type:decimal(18,4)"`
	Data182      *float64  `json:"data_1_8_2" gorm:"column:data_1_8_2;type:decimal(18,4)"`
	Data280      *float64  `json:"data_2_8_0" gorm:"column:data_2_8_0;type:decimal(18,4)"`
	RawData      string    `json:"raw_data" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (MeterReading) TableName() string {
	return "meter_readings"
}

// NewMeterReading maps a decoded message onto a row.
func NewMeterReading(msg *meter.Message) *MeterReading {
	r := msg.Readings()
	return &MeterReading{
		SerialNumber: msg.SN,
		Timestamp:    msg.Time(),
		MessageID:    msg.ID,
		Network:      msg.Network,
		Model:        msg.Model,
		System:       msg.System,
		Data180:      r.ImportTotal,
		Data181:      r.ImportT1,
		Data182:      r.ImportT2,
		Data280:      r.ExportTotal,
		RawData:      msg.Result.Data,
		CreatedAt:    time.Now().UTC(),
	}
}
