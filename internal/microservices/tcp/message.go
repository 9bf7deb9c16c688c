package tcp

import (
	"encoding/json"
	"time"
)

// acknowledgment sent after a message was decoded and dispatched
type okAck struct {
	Status    string `json:"status"`
	SN        string `json:"sn"`
	Timestamp string `json:"timestamp"` // ISO-8601 UTC
}

// acknowledgment sent for a framed object that failed to decode
type errorAck struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

var invalidJSONAck = mustMarshal(errorAck{Status: "error", Message: "Invalid JSON"})

func newOKAck(sn string, now time.Time) []byte {
	return mustMarshal(okAck{
		Status:    "ok",
		SN:        sn,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	})
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err) // only plain string fields are marshalled here
	}
	return b
}
