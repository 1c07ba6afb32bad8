package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/illmade-knight/eventgen/pkg/reasoncode"
	"github.com/rs/zerolog"
)

// ConnectionConfig holds the per-connection settings.
type ConnectionConfig struct {
	Address        string
	Topic          string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	// AsyncConnect makes Connect return as soon as the request is fired. A
	// rejected initial handshake is then reported by the first Publish.
	AsyncConnect bool
	// TrackDisconnects moves the connection to Lost when the transport
	// reports a disconnect. When false, disconnects are only logged and
	// publishes keep going straight to the transport.
	TrackDisconnects bool
}

// DefaultConnectionConfig provides sensible defaults.
func DefaultConnectionConfig(address string) ConnectionConfig {
	return ConnectionConfig{
		Address:          address,
		Topic:            DefaultTopic,
		ConnectTimeout:   10 * time.Second,
		PublishTimeout:   10 * time.Second,
		TrackDisconnects: true,
	}
}

// Connection owns one logical connection to the broker. It gates publishes on
// the connection state, which only the transport moves through Hooks.
type Connection struct {
	transport Transport
	cfg       ConnectionConfig
	recorder  Recorder
	logger    zerolog.Logger

	mu         sync.Mutex
	state      State
	changed    chan struct{} // closed and replaced on every transition
	connectErr error
	closed     bool
}

// NewConnection creates a Connection in the Disconnected state. recorder may
// be nil.
func NewConnection(transport Transport, cfg ConnectionConfig, recorder Recorder, logger zerolog.Logger) *Connection {
	defaults := DefaultConnectionConfig(cfg.Address)
	if cfg.Topic == "" {
		cfg.Topic = defaults.Topic
	}
	if cfg.ConnectTimeout <= 0 {
		logger.Warn().Dur("default", defaults.ConnectTimeout).Msg("ConnectTimeout was zero or negative, applying default value.")
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		logger.Warn().Dur("default", defaults.PublishTimeout).Msg("PublishTimeout was zero or negative, applying default value.")
		cfg.PublishTimeout = defaults.PublishTimeout
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Connection{
		transport: transport,
		cfg:       cfg,
		recorder:  recorder,
		logger:    logger,
		state:     Disconnected,
		changed:   make(chan struct{}),
	}
}

// State returns the current connection state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect fires the connect request. Unless AsyncConnect is set it waits for
// the handshake and returns a *ConnectError if it is rejected or times out.
// The initial connect is never retried.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != Disconnected {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("connect called in state %s", st)
	}
	c.transitionLocked(Connecting)
	c.mu.Unlock()

	c.logger.Debug().Str("address", c.cfg.Address).Msg("Connecting")
	if c.cfg.AsyncConnect {
		// The transport may keep watching ctx for the acknowledgment after
		// Connect returns, so it gets the caller's context unbounded.
		if err := c.transport.Connect(ctx, c.cfg.Address, hooks{c}); err != nil {
			connErr := &ConnectError{Address: c.cfg.Address, Code: reasoncode.ConnRefused, Err: err}
			c.failConnect(connErr)
			return connErr
		}
		return nil
	}

	// ConnectTimeout bounds the whole handshake, including transports that
	// report their acknowledgment before Connect returns.
	connectCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	if err := c.transport.Connect(connectCtx, c.cfg.Address, hooks{c}); err != nil {
		code := reasoncode.ConnRefused
		if connectCtx.Err() != nil {
			code = reasoncode.NoConn
		}
		connErr := &ConnectError{Address: c.cfg.Address, Code: code, Err: err}
		c.failConnect(connErr)
		return c.connectResult()
	}

	for {
		c.mu.Lock()
		st, connErr, changed := c.state, c.connectErr, c.changed
		c.mu.Unlock()

		switch {
		case connErr != nil:
			return connErr
		case st == Connected || st == Lost:
			c.logger.Info().Str("address", c.cfg.Address).Msg("Connected")
			return nil
		}

		select {
		case <-changed:
		case <-connectCtx.Done():
			err := ctx.Err()
			if err == nil {
				err = errors.New("timed out waiting for connect acknowledgment")
			}
			c.failConnect(&ConnectError{Address: c.cfg.Address, Code: reasoncode.NoConn, Err: err})
			return c.connectResult()
		}
	}
}

// connectResult reports the outcome recorded by the handshake. An
// acknowledgment that raced a failure wins over it.
func (c *Connection) connectResult() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return c.connectErr
	}
	if c.state == Connected || c.state == Lost {
		return nil
	}
	return &ConnectError{Address: c.cfg.Address, Code: reasoncode.NoConn, Err: errors.New("connect did not complete")}
}

// Publish sends event to the topic once the connection is up. It blocks
// while the connection is not Connected. Publish failures are logged and
// swallowed; the only errors returned are a rejected initial connect (in
// async mode), ErrClosed, and ctx's error.
func (c *Connection) Publish(ctx context.Context, event string) error {
	if err := c.waitConnected(ctx); err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, c.cfg.PublishTimeout)
	defer cancel()

	outcome, err := c.send(pubCtx, event)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			c.recorder.PublishObserved(reasoncode.Again)
			c.logger.Error().
				Int("code", int(reasoncode.Again)).
				Str("reason", "timed out waiting for delivery acknowledgment").
				Dur("timeout", c.cfg.PublishTimeout).
				Str("event", event).
				Msg("Error publishing message")
			return nil
		}
		code := reasoncode.Unknown
		if outcome.ReasonCode != nil {
			code = *outcome.ReasonCode
		}
		c.recorder.PublishObserved(code)
		c.logger.Error().Err(err).Int("code", int(code)).Str("reason", code.Reason()).Str("event", event).Msg("Transport fault while publishing")
		return nil
	}

	code := reasoncode.Success
	if !outcome.Delivered {
		code = reasoncode.Unknown
	}
	if outcome.ReasonCode != nil {
		code = *outcome.ReasonCode
	}
	c.recorder.PublishObserved(code)
	if !outcome.Delivered || !code.IsSuccess() {
		c.logger.Error().
			Int("code", int(code)).
			Str("reason", code.Reason()).
			Str("message_id", outcome.MessageID).
			Str("event", event).
			Msg("Error publishing message")
		return nil
	}
	c.logger.Debug().Str("message_id", outcome.MessageID).Str("event", event).Msg("Message published")
	return nil
}

// Close moves the connection to Disconnected and closes the transport.
// It is safe to call more than once.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.transitionLocked(Disconnected)
	c.mu.Unlock()

	c.transport.Close()
	c.logger.Debug().Msg("Connection closed")
}

// send calls the transport, turning a panic into a transport fault so a
// single bad publish never takes the worker down.
func (c *Connection) send(ctx context.Context, event string) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panicked during publish: %v", r)
		}
	}()
	return c.transport.Publish(ctx, c.cfg.Topic, []byte(event))
}

func (c *Connection) waitConnected(ctx context.Context) error {
	logged := false
	for {
		c.mu.Lock()
		st, connErr, closed, changed := c.state, c.connectErr, c.closed, c.changed
		c.mu.Unlock()

		switch {
		case connErr != nil:
			return connErr
		case closed:
			return ErrClosed
		case st == Connected:
			return nil
		}

		if !logged {
			c.logger.Info().Str("state", st.String()).Msg("Waiting connection.")
			logged = true
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) failConnect(err *ConnectError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil || c.state != Connecting {
		return
	}
	c.connectErr = err
	c.transitionLocked(Disconnected)
}

// transitionLocked must be called with mu held.
func (c *Connection) transitionLocked(to State) {
	from := c.state
	c.state = to
	close(c.changed)
	c.changed = make(chan struct{})
	if from != to {
		c.recorder.StateChanged(from, to)
	}
}

func (c *Connection) onConnectAck(code reasoncode.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Connecting:
		if code.IsSuccess() {
			c.transitionLocked(Connected)
			c.logger.Info().Int("code", int(code)).Str("reason", code.Reason()).Msg("Connected with result code")
			return
		}
		c.connectErr = &ConnectError{Address: c.cfg.Address, Code: code}
		c.transitionLocked(Disconnected)
		c.logger.Error().Int("code", int(code)).Str("reason", code.Reason()).Msg("Couldn't connect")
	case Lost:
		if code.IsSuccess() {
			c.transitionLocked(Connected)
			c.logger.Info().Int("code", int(code)).Str("reason", code.Reason()).Msg("Reconnected with result code")
			return
		}
		c.logger.Warn().Int("code", int(code)).Str("reason", code.Reason()).Msg("Reconnect attempt rejected")
	default:
		c.logger.Debug().Str("state", c.state.String()).Int("code", int(code)).Msg("Ignoring connect acknowledgment")
	}
}

func (c *Connection) onDisconnect(code reasoncode.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cfg.TrackDisconnects {
		c.logger.Warn().Int("code", int(code)).Str("reason", code.Reason()).Msg("Disconnect reported, tracking disabled")
		return
	}
	if c.state != Connected {
		c.logger.Debug().Str("state", c.state.String()).Int("code", int(code)).Msg("Ignoring disconnect notification")
		return
	}
	c.transitionLocked(Lost)
	c.logger.Warn().Int("code", int(code)).Str("reason", code.Reason()).Msg("Connection lost. Result code")
}

// hooks keeps the transition methods off the Connection's public surface.
type hooks struct {
	c *Connection
}

func (h hooks) OnConnectAck(code reasoncode.Code) { h.c.onConnectAck(code) }
func (h hooks) OnDisconnect(code reasoncode.Code) { h.c.onDisconnect(code) }
