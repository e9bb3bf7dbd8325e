// Package websocket bridges client WebSocket connections to project topics.
//
// Each connection runs two pumps. The inbound pump decodes client frames and
// publishes them to the project's topic. The outbound pump forwards every
// envelope of the topic to the client. When either pump stops the other is
// abandoned and the connection is torn down.
package websocket

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentstation/rddm/internal/server/events"
	"github.com/agentstation/rddm/pkg/envelope"
	"github.com/agentstation/rddm/pkg/errors"
)

const (
	// DefaultSendTimeout bounds a single write to the client.
	DefaultSendTimeout = 5 * time.Second

	// DefaultPingInterval is how often the server pings an idle client.
	DefaultPingInterval = 30 * time.Second

	// DefaultMaxMessageSize is the largest inbound frame accepted.
	DefaultMaxMessageSize = 1 << 20

	// closeGrace bounds the close frame written during teardown.
	closeGrace = 100 * time.Millisecond
)

// State is the lifecycle stage of a Conn.
type State int32

// Connection states, in order.
const (
	StateConnecting State = iota
	StateEstablished
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateEstablished:
		return "established"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Config tunes connection behaviour.
type Config struct {
	// SendTimeout bounds each write to the client. A write that does not
	// finish in time ends the connection.
	SendTimeout time.Duration
	// PingInterval is the keepalive period. Zero disables server pings.
	PingInterval time.Duration
	// MaxMessageSize caps inbound frames in bytes.
	MaxMessageSize int64
}

// DefaultConfig returns the default connection settings.
func DefaultConfig() Config {
	return Config{
		SendTimeout:    DefaultSendTimeout,
		PingInterval:   DefaultPingInterval,
		MaxMessageSize: DefaultMaxMessageSize,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	if c.PingInterval < 0 {
		c.PingInterval = 0
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	return c
}

// Conn is one client socket bound to one project.
type Conn struct {
	id        string
	projectID string
	ws        *websocket.Conn
	registry  *events.Registry
	cfg       Config
	logger    zerolog.Logger

	state   atomic.Int32
	writeMu sync.Mutex
	done    chan struct{}
}

// NewConn wraps an upgraded socket. The connection does nothing until
// Serve is called.
func NewConn(ws *websocket.Conn, projectID string, registry *events.Registry, cfg Config, logger *zerolog.Logger) *Conn {
	id := uuid.NewString()
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Conn{
		id:        id,
		projectID: projectID,
		ws:        ws,
		registry:  registry,
		cfg:       cfg.withDefaults(),
		logger: logger.With().
			Str("project_id", projectID).
			Str("conn_id", id).
			Logger(),
		done: make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// ProjectID returns the project the connection is bound to.
func (c *Conn) ProjectID() string { return c.projectID }

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Done is closed once the connection reaches StateTerminated.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) setState(s State) {
	c.state.Store(int32(s))
	c.logger.Debug().Stringer("state", s).Msg("Connection state changed")
}

// Serve subscribes to the project's topic and runs both pumps until one of
// them stops or ctx is cancelled. It then tears the connection down,
// without waiting for the other pump, and evicts the topic if this was its
// last subscriber.
func (c *Conn) Serve(ctx context.Context) {
	sub := c.registry.Subscribe(c.projectID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	finished := make(chan string, 2)
	go func() {
		c.readPump(sub.Topic())
		finished <- "inbound"
	}()
	go func() {
		c.writePump(ctx, sub)
		finished <- "outbound"
	}()

	c.setState(StateEstablished)
	c.logger.Info().Msg("WebSocket client connected")

	var reason string
	select {
	case reason = <-finished:
	case <-ctx.Done():
		reason = "shutdown"
	}

	c.setState(StateDraining)
	cancel()
	c.closeSocket()
	sub.Close()
	c.registry.RemoveIfEmpty(c.projectID)

	c.setState(StateTerminated)
	close(c.done)
	c.logger.Info().Str("ended_by", reason).Msg("WebSocket client disconnected")
}

// readPump decodes client frames and publishes them to the topic. It returns
// on close frames and transport errors.
func (c *Conn) readPump(topic *events.Topic) {
	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	c.ws.SetPingHandler(func(data string) error {
		err := c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.cfg.SendTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
		if msgType != websocket.TextMessage {
			c.logger.Debug().Int("message_type", msgType).Msg("Ignoring non-text frame")
			continue
		}

		env, err := c.decode(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Rejected client frame")
			if err := c.write(envelope.EncodeError(err)); err != nil {
				return
			}
			continue
		}
		topic.Publish(env)
	}
}

func (c *Conn) decode(data []byte) (envelope.Envelope, error) {
	env, err := envelope.Decode(data)
	if err != nil {
		return nil, err
	}
	if env.Project() != c.projectID {
		return nil, errors.NewValidationError("project_id", env.Project(),
			"does not match connection project "+c.projectID)
	}
	return env, nil
}

// writePump forwards envelopes from the subscription to the client and
// keeps the connection alive with pings. A write failure or timeout ends it.
func (c *Conn) writePump(ctx context.Context, sub *events.Subscription) {
	var tick <-chan time.Time
	if c.cfg.PingInterval > 0 {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return

		case env := <-sub.C():
			if n := sub.TakeDropped(); n > 0 {
				c.logger.Warn().Uint64("dropped", n).Msg("Client lagging, oldest envelopes dropped")
			}
			data, err := envelope.Encode(env)
			if err != nil {
				c.logger.Error().Err(err).Str("kind", string(env.Kind())).Msg("Failed to encode envelope")
				continue
			}
			if err := c.write(data); err != nil {
				return
			}

		case <-tick:
			deadline := time.Now().Add(c.cfg.SendTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = c.writeError(err)
				return
			}
		}
	}
}

// write sends one text frame. The two pumps share the socket, so data
// writes are serialized.
func (c *Conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.SendTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return c.writeError(err)
	}
	return nil
}

// writeError logs a failed write and reports deadline overruns as a
// *errors.TimeoutError.
func (c *Conn) writeError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		err = errors.NewTimeoutError("send", c.cfg.SendTimeout.String(), "client not reading")
		c.logger.Warn().Err(err).Msg("Send timed out")
		return err
	}
	if c.State() < StateDraining {
		c.logger.Debug().Err(err).Msg("WebSocket write failed")
	}
	return err
}

// closeSocket sends a best-effort close frame and closes the transport,
// which unblocks whichever pump is still running.
func (c *Conn) closeSocket() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	_ = c.ws.Close()
}
