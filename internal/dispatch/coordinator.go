package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"meterhub/internal/meter"
	"meterhub/internal/metrics"
)

// Outcome is the result of one sink call for one message.
type Outcome struct {
	Sink     string
	Err      error
	Panicked bool
	Elapsed  time.Duration
}

// Coordinator fans a message out to every sink concurrently.
// Sink failures are logged and counted, they never reach the caller.
type Coordinator struct {
	sinks   []Sink
	metrics *metrics.Metrics
	logger  *slog.Logger

	inflight sync.WaitGroup // sink calls still running, including ones abandoned on cancel
}

// NewCoordinator creates a coordinator over a fixed sink list.
func NewCoordinator(sinks []Sink, m *metrics.Metrics, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		sinks:   append([]Sink(nil), sinks...),
		metrics: m,
		logger:  logger,
	}
}

// SinkNames lists the sinks in registration order.
func (c *Coordinator) SinkNames() []string {
	names := make([]string, len(c.sinks))
	for i, s := range c.sinks {
		names[i] = s.Name()
	}
	return names
}

// Process dispatches msg to all sinks and waits for them, or for ctx to be cancelled.
func (c *Coordinator) Process(ctx context.Context, msg *meter.Message) {
	c.logger.Info("processing_message",
		"sn", msg.SN,
		"sinks", len(c.sinks),
	)
	c.dispatch(ctx, msg)
}

// dispatch returns the outcomes of the sinks that finished before ctx was done.
func (c *Coordinator) dispatch(ctx context.Context, msg *meter.Message) []Outcome {
	if len(c.sinks) == 0 {
		return nil
	}

	results := make(chan Outcome, len(c.sinks)) // buffered so abandoned calls never block
	for _, s := range c.sinks {
		c.inflight.Add(1)
		go func(s Sink) {
			defer c.inflight.Done()
			results <- c.call(ctx, s, msg)
		}(s)
	}

	outcomes := make([]Outcome, 0, len(c.sinks))
	for range c.sinks {
		select {
		case o := <-results:
			outcomes = append(outcomes, o)
		case <-ctx.Done():
			c.logger.Debug("dispatch_cancelled",
				"sn", msg.SN,
				"completed", len(outcomes),
				"pending", len(c.sinks)-len(outcomes),
			)
			return outcomes
		}
	}
	return outcomes
}

// call runs a single sink with panic isolation.
func (c *Coordinator) call(ctx context.Context, s Sink, msg *meter.Message) (out Outcome) {
	out.Sink = s.Name()
	start := time.Now()

	defer func() {
		out.Elapsed = time.Since(start)
		if r := recover(); r != nil {
			out.Panicked = true
			out.Err = fmt.Errorf("sink panicked: %v", r)
			c.logger.Error("sink_panicked",
				"sink", out.Sink,
				"sn", msg.SN,
				"panic", r,
			)
			c.metrics.SinkResult(out.Sink, "panic", out.Elapsed)
			return
		}
		if out.Err != nil {
			c.logger.Warn("sink_failed",
				"sink", out.Sink,
				"sn", msg.SN,
				"error", out.Err.Error(),
			)
			c.metrics.SinkResult(out.Sink, "failed", out.Elapsed)
			return
		}
		c.metrics.SinkResult(out.Sink, "ok", out.Elapsed)
	}()

	out.Err = s.Process(ctx, msg)
	return out
}

// Wait blocks until every sink call started by Process has returned, or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight sink calls: %w", ctx.Err())
	}
}
