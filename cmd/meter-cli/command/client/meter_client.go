package client

// meter_client.go = talks to the meter listener the way a gateway does:
// raw JSON objects out, one newline-terminated acknowledgment back per object.

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"
)

// Ack is the server's answer to one message.
type Ack struct {
	Status    string `json:"status"`
	SN        string `json:"sn,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Message   string `json:"message,omitempty"`
}

// SendResult is the outcome of one message round trip.
type SendResult struct {
	Success  bool
	Response string // raw ack line without the newline
	Ack      *Ack
	Err      error
	Elapsed  time.Duration
}

// MeterClient sends messages to a meter listener.
type MeterClient struct {
	serverAddr string
	timeout    time.Duration
}

// NewMeterClient creates a client for addr; timeout bounds connect and each ack.
func NewMeterClient(serverAddr string, timeout time.Duration) *MeterClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MeterClient{serverAddr: serverAddr, timeout: timeout}
}

// Ping only opens and closes a connection.
func (c *MeterClient) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	conn, err := c.dial(ctx)
	if err != nil {
		return 0, err
	}
	conn.Close()
	return time.Since(start), nil
}

// Send opens a connection, sends one payload and waits for its ack.
func (c *MeterClient) Send(ctx context.Context, payload []byte) SendResult {
	start := time.Now()
	session, err := c.Open(ctx)
	if err != nil {
		return SendResult{Err: err, Elapsed: time.Since(start)}
	}
	defer session.Close()

	res := session.Send(payload)
	res.Elapsed = time.Since(start)
	return res
}

// Open connects and returns a session for sending several messages.
func (c *MeterClient) Open(ctx context.Context) (*Session, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{conn: conn, reader: bufio.NewReader(conn), timeout: c.timeout}, nil
}

func (c *MeterClient) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", c.serverAddr)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	return conn, nil
}

// Session is one open connection to the listener. Not safe for concurrent use.
type Session struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

// Send writes payload and reads the next ack line.
func (s *Session) Send(payload []byte) SendResult {
	start := time.Now()
	res := SendResult{}

	s.conn.SetDeadline(time.Now().Add(s.timeout))
	if _, err := s.conn.Write(payload); err != nil {
		res.Err = fmt.Errorf("write failed: %w", err)
		res.Elapsed = time.Since(start)
		return res
	}

	line, err := s.reader.ReadString('\n')
	res.Elapsed = time.Since(start)
	if err != nil {
		res.Err = fmt.Errorf("no response received: %w", err)
		return res
	}
	res.Response = strings.TrimRight(line, "\r\n")

	var ack Ack
	if err := json.Unmarshal([]byte(res.Response), &ack); err != nil {
		res.Err = fmt.Errorf("unexpected response: %w", err)
		return res
	}
	res.Ack = &ack
	res.Success = ack.Status == "ok"
	if !res.Success {
		res.Err = fmt.Errorf("server rejected message: %s", ack.Message)
	}
	return res
}

func (s *Session) Close() error {
	return s.conn.Close()
}
