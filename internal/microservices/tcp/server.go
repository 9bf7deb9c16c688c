package tcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"meterhub/internal/metrics"
)

// TCPServer accepts meter connections and runs one session per connection.
type TCPServer struct {
	Addr string
	// server address, e.g. "0.0.0.0:461"
	Manager *ConnectionManager
	// shared view of open sessions for status and forced close

	dispatcher Dispatcher
	session    SessionConfig
	metrics    *metrics.Metrics
	logger     *slog.Logger

	wg sync.WaitGroup
	// one entry per running session; Serve waits on it before returning
}

// constructor for Server
func NewServer(addr string, dispatcher Dispatcher, session SessionConfig, m *metrics.Metrics, logger *slog.Logger) *TCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TCPServer{
		Addr:       addr,
		Manager:    NewConnectionManager(logger),
		dispatcher: dispatcher,
		session:    session.withDefaults(),
		metrics:    m,
		logger:     logger,
	}
}

// ListenAndServe binds Addr and serves until ctx is cancelled.
// Failing to bind is the only error that is returned immediately.
func (s *TCPServer) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP server: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is cancelled, then waits for
// every session to exit. The listener is closed on return.
func (s *TCPServer) Serve(ctx context.Context, listener net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		listener.Close() // unblocks Accept
	})
	defer stop()
	defer listener.Close()

	s.logger.Info("tcp_server_started",
		"addr", listener.Addr().String(),
	)

	var serveErr error
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				serveErr = fmt.Errorf("listener closed unexpectedly: %w", err)
				break
			}
			s.logger.Error("failed_to_accept_connection",
				"error", err.Error(),
			)
			continue
		}

		// registered before the goroutine starts so CloseAllConnections below sees it
		client := NewClientConnection(conn, s.dispatcher, s.session, s.metrics, s.logger)
		s.Manager.AddConnection(client)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, client)
		}()
	}

	s.logger.Info("tcp_server_stopping",
		"active_connections", s.Manager.Count(),
	)
	// sessions also stop on ctx, but not when the listener died on its own
	s.Manager.CloseAllConnections()
	s.wg.Wait()
	s.logger.Info("tcp_server_stopped")
	return serveErr
}

// handle connections/lifecycle of single client connection
func (s *TCPServer) handleConnection(ctx context.Context, client *ClientConnection) {
	s.metrics.ConnectionOpened()

	client.Listen(ctx)

	s.metrics.ConnectionClosed()
	s.Manager.RemoveConnection(client)
}
