// Package vmixer drives the virtual mixing engine's remote-control API.
package vmixer

import (
	"context"
	"errors"
	"sync/atomic"

	"gata-mixer/src/server/link"
	"gata-mixer/src/server/logging"
	"gata-mixer/src/server/metrics"

	"github.com/rs/zerolog"
)

// Client wraps an Engine with lazy connect-or-reuse. The engine cannot be
// asked whether it is connected, so every call attempts Connect and counts
// ErrAlreadyConnected as success. Concurrent callers may race to connect;
// the redundant attempts all resolve to success.
type Client struct {
	engine Engine
	sup    *link.Supervisor
	logger zerolog.Logger

	started   atomic.Bool
	reconnect atomic.Bool
}

func NewClient(engine Engine, clock link.Clock) *Client {
	c := &Client{
		engine: engine,
		logger: logging.ComponentLogger("vmixer"),
	}
	c.sup = link.NewSupervisor("engine", clock, c.retry)
	return c
}

// EnsureConnected connects if needed and logs in on a fresh session.
func (c *Client) EnsureConnected(ctx context.Context) error {
	err := c.engine.Connect(ctx)
	if errors.Is(err, ErrAlreadyConnected) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := c.engine.Login(ctx); err != nil {
		c.engine.Close()
		return err
	}
	c.logger.Info().Msg("engine session established")
	return nil
}

// Start opens the engine session. With reconnect set, a failed attempt is
// retried after link.FaultRetryDelay until one succeeds or Stop is called.
func (c *Client) Start(ctx context.Context, reconnect bool) bool {
	c.started.Store(true)
	c.reconnect.Store(reconnect)
	c.sup.Cancel()

	if err := c.EnsureConnected(ctx); err != nil {
		c.logger.Warn().Err(err).Bool("reconnect", reconnect).Msg("engine start failed")
		metrics.BackendErrors.WithLabelValues("engine").Inc()
		if reconnect {
			c.sup.Schedule("fault", link.FaultRetryDelay)
		}
		return false
	}
	return true
}

// Stop cancels any pending retry and drops the session.
func (c *Client) Stop() error {
	c.started.Store(false)
	c.sup.Cancel()
	return c.engine.Close()
}

// PendingRetry reports the reason of an armed retry, or "".
func (c *Client) PendingRetry() string {
	return c.sup.Pending()
}

func (c *Client) retry(reason string) {
	if !c.started.Load() || !c.reconnect.Load() {
		return
	}
	c.logger.Info().Str("reason", reason).Msg("retrying engine connection")
	c.Start(context.Background(), true)
}

// Get reads a named parameter. ok is false when the engine could not answer.
func (c *Client) Get(ctx context.Context, name string) (float64, bool) {
	if err := c.EnsureConnected(ctx); err != nil {
		c.fail(err, "connect", name)
		return 0, false
	}
	v, err := c.engine.Get(ctx, name)
	if err != nil {
		c.fail(err, "get", name)
		return 0, false
	}
	return v, true
}

// Set writes a named parameter. Failures are logged and otherwise ignored,
// leaving the engine's last-known value in place.
func (c *Client) Set(ctx context.Context, name string, value float64) {
	if err := c.EnsureConnected(ctx); err != nil {
		c.fail(err, "connect", name)
		return
	}
	if err := c.engine.Set(ctx, name, value); err != nil {
		c.fail(err, "set", name)
	}
}

func (c *Client) fail(err error, op, name string) {
	metrics.BackendErrors.WithLabelValues("engine").Inc()
	c.logger.Warn().Err(err).Str("op", op).Str("param", name).Msg("engine call failed")
}
