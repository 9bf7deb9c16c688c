package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"meterhub/internal/meter"
	"meterhub/internal/metrics"
)

const (
	DefaultReadBufferSize = 4096
	DefaultMaxBufferSize  = 1024 * 1024      // 1MB of unframed carry-over
	DefaultReadTimeout    = time.Duration(0) // meters may idle between reports
	DefaultWriteTimeout   = 10 * time.Second
)

// Dispatcher hands a decoded message to the sinks. It returns once every sink
// finished or ctx was cancelled, and never reports sink failures.
type Dispatcher interface {
	Process(ctx context.Context, msg *meter.Message)
}

// SessionConfig tunes a single connection. Zero timeouts disable the deadline.
type SessionConfig struct {
	ReadBufferSize int
	MaxBufferSize  int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.MaxBufferSize <= 0 {
		c.MaxBufferSize = DefaultMaxBufferSize
	}
	return c
}

// SessionState tracks where a connection is in its read/ack loop.
type SessionState int32

const (
	StateConnected SessionState = iota
	StateReading
	StateFraming
	StateDispatching
	StateAcknowledging
	StateClosedByPeer
	StateClosedByShutdown
	StateClosedByError
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReading:
		return "reading"
	case StateFraming:
		return "framing"
	case StateDispatching:
		return "dispatching"
	case StateAcknowledging:
		return "acknowledging"
	case StateClosedByPeer:
		return "closed_by_peer"
	case StateClosedByShutdown:
		return "closed_by_shutdown"
	case StateClosedByError:
		return "closed_by_error"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Closed reports whether s is a terminal state.
func (s SessionState) Closed() bool {
	return s >= StateClosedByPeer
}

// ClientConnection is one meter connection. Its buffer and socket are only
// touched by the goroutine running Listen.
type ClientConnection struct {
	ID          string // unique identifier = key in the manager map
	RemoteAddr  string
	ConnectedAt time.Time

	conn       net.Conn
	writer     *bufio.Writer
	dispatcher Dispatcher
	cfg        SessionConfig
	metrics    *metrics.Metrics
	logger     *slog.Logger

	buffer    []byte // carry-over: at most one partial object after each pass
	state     atomic.Int32
	processed atomic.Int64
	closeOnce sync.Once
}

// NewClientConnection wraps an accepted socket.
func NewClientConnection(conn net.Conn, dispatcher Dispatcher, cfg SessionConfig, m *metrics.Metrics, logger *slog.Logger) *ClientConnection {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &ClientConnection{
		ID:          uuid.NewString(),
		RemoteAddr:  conn.RemoteAddr().String(),
		ConnectedAt: time.Now(),
		conn:        conn,
		writer:      bufio.NewWriter(conn),
		dispatcher:  dispatcher,
		cfg:         cfg,
		metrics:     m,
		logger:      logger,
	}
}

// State returns the current session state. Safe from any goroutine.
func (c *ClientConnection) State() SessionState {
	return SessionState(c.state.Load())
}

// Processed returns how many messages were acknowledged with status ok.
func (c *ClientConnection) Processed() int64 {
	return c.processed.Load()
}

func (c *ClientConnection) setState(s SessionState) {
	c.state.Store(int32(s))
}

// Listen runs the read → frame → decode → dispatch → acknowledge loop until
// the peer disconnects, ctx is cancelled or an I/O error occurs. The socket is
// always closed before Listen returns; the terminal state is returned.
func (c *ClientConnection) Listen(ctx context.Context) SessionState {
	defer c.Close()

	// unblock pending reads and writes as soon as ctx is cancelled
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	c.logger.Info("client_started_listening",
		"client_id", c.ID,
		"remote_addr", c.RemoteAddr,
	)

	chunk := make([]byte, c.cfg.ReadBufferSize)
	for {
		c.setState(StateReading)
		if err := c.armDeadline(ctx, c.conn.SetReadDeadline, c.cfg.ReadTimeout); err != nil {
			return c.finish(c.classify(ctx, err))
		}

		n, err := c.conn.Read(chunk)
		if n > 0 {
			c.buffer = append(c.buffer, chunk[:n]...)
			if ferr := c.drain(ctx); ferr != nil {
				return c.finish(c.classify(ctx, ferr))
			}
		}
		if err != nil {
			return c.finish(c.classify(ctx, err))
		}
	}
}

// drain handles every complete object in the buffer, in order, and keeps the remainder.
func (c *ClientConnection) drain(ctx context.Context) error {
	c.setState(StateFraming)
	frames, rest := ExtractFrames(c.buffer)

	for _, frame := range frames {
		if err := c.handleFrame(ctx, frame); err != nil {
			return err
		}
	}

	// frames alias the buffer, compact only after they were consumed
	c.buffer = append(c.buffer[:0], rest...)

	if len(c.buffer) > c.cfg.MaxBufferSize {
		c.logger.Warn("message_too_large",
			"client_id", c.ID,
			"size", len(c.buffer),
			"max_size", c.cfg.MaxBufferSize,
		)
		c.buffer = c.buffer[:0]
	}
	return nil
}

// handleFrame decodes one candidate and answers it. Decode failures are
// answered and swallowed; only write errors and cancellation are returned.
func (c *ClientConnection) handleFrame(ctx context.Context, frame []byte) error {
	msg, err := meter.Decode(frame)
	if err != nil {
		c.metrics.MessageDecoded(false)
		c.logger.Warn("invalid_json_received",
			"client_id", c.ID,
			"error", err.Error(),
			"json", string(frame),
		)
		c.setState(StateAcknowledging)
		return c.Send(ctx, invalidJSONAck)
	}
	c.metrics.MessageDecoded(true)

	c.setState(StateDispatching)
	c.dispatcher.Process(ctx, msg)
	if err := ctx.Err(); err != nil {
		return err
	}

	c.setState(StateAcknowledging)
	if err := c.Send(ctx, newOKAck(msg.SN, time.Now())); err != nil {
		return err
	}
	c.processed.Add(1)
	c.logger.Info("message_acknowledged",
		"client_id", c.ID,
		"sn", msg.SN,
	)
	return nil
}

// Send writes data plus a newline and flushes it to the socket.
func (c *ClientConnection) Send(ctx context.Context, data []byte) error {
	if err := c.armDeadline(ctx, c.conn.SetWriteDeadline, c.cfg.WriteTimeout); err != nil {
		return err
	}
	if _, err := c.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := c.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}

// armDeadline sets the next I/O deadline, then re-checks ctx. A cancellation
// racing with this call still wins because the AfterFunc runs after ctx.Err is set.
func (c *ClientConnection) armDeadline(ctx context.Context, set func(time.Time) error, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := set(deadline); err != nil {
		return err
	}
	return ctx.Err()
}

// classify maps the error that ended the loop to a terminal state.
func (c *ClientConnection) classify(ctx context.Context, err error) SessionState {
	if ctx.Err() != nil {
		c.logger.Debug("client_shutdown",
			"client_id", c.ID,
		)
		return StateClosedByShutdown
	}
	if errors.Is(err, io.EOF) {
		c.logger.Info("client_disconnected",
			"client_id", c.ID,
		)
		return StateClosedByPeer
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		// closed locally, e.g. by ConnectionManager.CloseAllConnections
		return StateClosedByShutdown
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		c.logger.Info("client_read_timeout",
			"client_id", c.ID,
		)
		return StateClosedByError
	}
	c.logger.Debug("client_connection_error",
		"client_id", c.ID,
		"error", err.Error(),
	)
	return StateClosedByError
}

func (c *ClientConnection) finish(s SessionState) SessionState {
	c.setState(s)
	return s
}

// Close closes the socket once; later calls are no-ops.
func (c *ClientConnection) Close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
		c.logger.Debug("client_connection_closed",
			"client_id", c.ID,
			"remote_addr", c.RemoteAddr,
		)
	})
}
