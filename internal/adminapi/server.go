// Package adminapi serves health, metrics and status endpoints next to the meter listener.
package adminapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"meterhub/internal/metrics"
	"meterhub/internal/models"
	"meterhub/internal/microservices/tcp"
	"meterhub/internal/sinks"
)

// Sessions reports the open meter connections.
type Sessions interface {
	Count() int
	Snapshot() []tcp.ConnectionInfo
}

// ReadingCache looks up cached readings of a meter.
type ReadingCache interface {
	Latest(ctx context.Context, sn string) (*sinks.LatestReading, error)
	History(ctx context.Context, sn string, limit int64) ([]models.MeterReading, error)
}

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 1000
)

type Options struct {
	Sessions  Sessions
	Cache     ReadingCache // nil when the redis sink is disabled
	SinkNames []string
	Metrics   *metrics.Metrics
	JWTSecret string // empty disables auth on /api/v1
	Logger    *slog.Logger
}

type Server struct {
	opts    Options
	started time.Time
	engine  *gin.Engine
	logger  *slog.Logger
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		opts:    opts,
		started: time.Now(),
		logger:  opts.Logger,
	}
	s.engine = s.routes()
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))

	api := r.Group("/api/v1")
	if s.opts.JWTSecret != "" {
		api.Use(AuthMiddleware(s.opts.JWTSecret))
	}
	api.GET("/stats", s.getStats)
	api.GET("/meters/:sn/latest", s.getLatest)
	api.GET("/meters/:sn/history", s.getHistory)
	return r
}

func (s *Server) getStats(c *gin.Context) {
	resp := gin.H{
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"sinks":          s.opts.SinkNames,
	}
	if s.opts.Sessions != nil {
		resp["active_sessions"] = s.opts.Sessions.Count()
		resp["sessions"] = s.opts.Sessions.Snapshot()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getLatest(c *gin.Context) {
	if s.opts.Cache == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "redis sink is not enabled"})
		return
	}
	sn := c.Param("sn")
	reading, err := s.opts.Cache.Latest(c.Request.Context(), sn)
	if err != nil {
		s.logger.Error("latest_lookup_failed",
			"sn", sn,
			"error", err.Error(),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read latest reading"})
		return
	}
	if reading == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no reading for meter"})
		return
	}
	c.JSON(http.StatusOK, reading)
}

// getHistory lists cached readings newest first; ?limit defaults to 20.
func (s *Server) getHistory(c *gin.Context) {
	if s.opts.Cache == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "redis sink is not enabled"})
		return
	}
	limit := int64(defaultHistoryLimit)
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	sn := c.Param("sn")
	readings, err := s.opts.Cache.History(c.Request.Context(), sn, limit)
	if err != nil {
		s.logger.Error("history_lookup_failed",
			"sn", sn,
			"error", err.Error(),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read reading history"})
		return
	}
	if readings == nil {
		readings = []models.MeterReading{}
	}
	c.JSON(http.StatusOK, gin.H{
		"sn":       sn,
		"count":    len(readings),
		"readings": readings,
	})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("admin_request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("admin_api_started",
		"addr", ln.Addr().String(),
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("admin_api_stopped")
	return nil
}
