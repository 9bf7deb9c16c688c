package meter

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrInvalidJSON is returned by Decode when a framed object is not a valid meter report.
var ErrInvalidJSON = errors.New("invalid JSON")

// Message is one report sent by a meter or gateway.
// Result.Data is kept exactly as received, register parsing never replaces it.
type Message struct {
	UTC     string `json:"utc"` // Unix epoch seconds as a decimal string
	Result  Result `json:"result"`
	ID      string `json:"id"`
	N       string `json:"n"`
	M       string `json:"m"`
	Network string `json:"network"`
	System  string `json:"system"`
	CName   string `json:"cname"`
	CDesc   string `json:"cdesc"`
	Model   string `json:"model"`
	SN      string `json:"sn"` // serial number
	FID     string `json:"fid"`
}

// Result carries the raw register payload, e.g. "1.8.0(0000123.4*kWh)\r\n..."
type Result struct {
	Enc  string `json:"enc"`
	Data string `json:"data"`
}

// Decode turns one framed JSON object into a Message.
// Syntax errors and type mismatches are both reported as ErrInvalidJSON.
func Decode(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return &msg, nil
}

// Time returns the reading time from the utc field.
// Reports with a missing or unparsable timestamp are stamped with the current time.
func (m *Message) Time() time.Time {
	if secs, err := strconv.ParseInt(m.UTC, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	return time.Now().UTC()
}
