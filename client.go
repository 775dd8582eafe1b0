package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/fasthttp/websocket"
)

const (
	// DefaultMaxReconnectAttempts bounds automatic reconnection before the
	// client gives up and emits EventMaxReconnectAttempts.
	DefaultMaxReconnectAttempts = 5

	// DefaultReconnectBase is the base delay of the linear reconnect backoff:
	// attempt n waits n times this long.
	DefaultReconnectBase = time.Second

	recvBufferSize = 32
)

// Config carries the construction parameters of a Client. The zero value of
// every optional field selects a sensible default.
type Config struct {
	// Endpoint locates the channel: ws(s)://<host>/ws/<userID>.
	Endpoint Endpoint

	// ConnFactory overrides the transport. When nil, a WebSocket factory for
	// Endpoint is used.
	ConnFactory ConnFactory

	// Dialer configures the WebSocket dial. Ignored when ConnFactory is set.
	Dialer *websocket.Dialer

	// Header is sent with the upgrade request. Ignored when ConnFactory is set.
	Header http.Header

	// MaxReconnectAttempts bounds automatic reconnection. Defaults to
	// DefaultMaxReconnectAttempts.
	MaxReconnectAttempts int

	// Backoff computes the wait before each reconnect attempt. Defaults to
	// LinearBackoff(DefaultReconnectBase).
	Backoff BackoffCalculator

	// PingInterval, when positive, makes the client send an application-level
	// ping message at this interval while connected.
	PingInterval time.Duration

	// Logger receives diagnostics. Defaults to the noop logger.
	Logger logger

	// Clock drives reconnect timers and ping tickers. Defaults to the real
	// clock; tests inject a fake one.
	Clock clockwork.Clock

	// Metrics, when non-nil, receives Prometheus instrumentation.
	Metrics *Metrics
}

func (cfg Config) withDefaults() Config {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.Backoff == nil {
		cfg.Backoff = LinearBackoff(DefaultReconnectBase)
	}
	if cfg.Logger == nil {
		cfg.Logger = NewNoopLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ConnFactory == nil {
		cfg.ConnFactory = NewWsConnFactory(cfg.Logger, cfg.Dialer, cfg.Endpoint, cfg.Header)
	}
	return cfg
}

// Client maintains a reconnecting channel to the platform's push endpoint and
// routes inbound messages to interested subscribers. Every valid inbound
// message is dispatched twice: once under its own type, with the payload
// stripped of the "type" field, and once under EventMessage with the full
// object. On unsolicited closure the client retries with backoff up to the
// configured bound.
//
// A Client owns at most one live connection at a time. Instances are built
// with New and passed explicitly to whoever needs them.
type Client struct {
	logger       logger
	clock        clockwork.Clock
	emitter      *EventEmitter[EventType, Fields]
	connFactory  ConnFactory
	backoff      BackoffCalculator
	maxAttempts  int
	pingInterval time.Duration
	metrics      *Metrics
	endpoint     Endpoint

	mu             sync.Mutex
	conn           Conn
	attempts       int
	closed         bool
	gen            int
	reconnectTimer clockwork.Timer
}

// New builds a Client from cfg. It does not connect; call Connect.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()

	log := cfg.Logger.WithField("type", "realtime_client")

	return &Client{
		logger:       log,
		clock:        cfg.Clock,
		emitter:      NewEventEmitter[EventType, Fields](cfg.Logger),
		connFactory:  cfg.ConnFactory,
		backoff:      cfg.Backoff,
		maxAttempts:  cfg.MaxReconnectAttempts,
		pingInterval: cfg.PingInterval,
		metrics:      cfg.Metrics,
		endpoint:     cfg.Endpoint,
	}
}

// Connect opens a new channel, replacing any existing one, and cancels any
// pending automatic reconnect. On success the reconnect attempt counter is
// reset to zero and EventConnected is emitted.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx, true)
}

func (c *Client) connect(ctx context.Context, manual bool) error {
	c.mu.Lock()
	if !manual && c.closed {
		c.mu.Unlock()
		return nil
	}
	if manual {
		c.closed = false
		c.stopReconnectLocked()
	}
	prev := c.conn
	c.conn = nil
	if prev != nil {
		// Invalidate the goroutine of the replaced connection so its closure
		// cannot reach the reconnect branch.
		c.gen++
	}
	c.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	recv := make(chan []byte, recvBufferSize)
	conn := c.connFactory(recv)
	if err := conn.Open(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed && !manual {
		// Disconnect landed while we were dialing. Honor it.
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	if c.conn != nil {
		prev = c.conn
	} else {
		prev = nil
	}
	c.conn = conn
	c.attempts = 0
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	c.metrics.connOpened()
	go c.run(ctx, conn, recv, gen)

	c.logger.Infof("connected to %s", c.endpoint)
	c.emitter.Emit(EventConnected, Fields{})
	return nil
}

// Disconnect closes the channel if one exists, clears the reference and
// cancels any pending reconnect. The attempt counter is left untouched; a
// later Connect is allowed.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closed = true
	c.stopReconnectLocked()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.logger.Debugln("client disconnected")
}

// Send serializes {"type": msgType, ...fields} and writes it to the channel.
// When the client is not connected the frame is dropped and the condition
// logged; no error is reported to the caller. Frames are not queued for
// retry.
func (c *Client) Send(msgType string, fields Fields) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.logger.Errorf("cannot send %q: %s", msgType, ErrNotConnected)
		return
	}

	frame, err := NewEnvelope(msgType, fields).Encode()
	if err != nil {
		c.logger.Errorf("cannot encode %q message: %s", msgType, err)
		return
	}

	if err := conn.Write(frame); err != nil {
		c.logger.Errorf("cannot send %q: %s", msgType, err)
		return
	}
	c.metrics.messageSent()
}

// GetProgress asks the server for the current progress of one audio file. The
// answer arrives as a progress_update message.
func (c *Client) GetProgress(audioID int64) {
	c.Send(MessageTypeGetProgress, Fields{"audio_id": audioID})
}

// Ping sends an application-level ping. The server answers with a pong
// message.
func (c *Client) Ping() {
	c.Send(MessageTypePing, nil)
}

// On registers a listener for the given event: a lifecycle event, the generic
// EventMessage, or any inbound message type.
func (c *Client) On(event EventType, listener func(Fields)) {
	c.emitter.On(event, listener)
}

// Off removes every registration of listener for the given event.
func (c *Client) Off(event EventType, listener func(Fields)) {
	c.emitter.Off(event, listener)
}

// Emit invokes the listeners registered for event synchronously, in
// registration order.
func (c *Client) Emit(event EventType, data Fields) {
	c.emitter.Emit(event, data)
}

// OnProgressUpdate registers a typed listener for progress_update messages.
// Updates whose payload does not decode are logged and skipped.
func (c *Client) OnProgressUpdate(listener func(ProgressUpdate)) {
	c.On(EventType(MessageTypeProgressUpdate), func(fields Fields) {
		update, err := progressUpdateFromFields(fields)
		if err != nil {
			c.logger.Errorf("dropping progress update: %s", err)
			return
		}
		listener(update)
	})
}

// run owns one connection: it dispatches inbound frames in wire order, drives
// the optional application ping and reacts to closure.
func (c *Client) run(ctx context.Context, conn Conn, recv <-chan []byte, gen int) {
	defer c.metrics.connClosed()

	closeC := conn.CloseChan()

	var tick <-chan time.Time
	if c.pingInterval > 0 {
		ticker := c.clock.NewTicker(c.pingInterval)
		defer ticker.Stop()
		tick = ticker.Chan()
	}

	for {
		select {
		case frame := <-recv:
			c.dispatch(frame, gen)
		case <-tick:
			c.Ping()
		case <-ctx.Done():
			conn.Close()
			return
		case <-closeC:
			c.drain(recv, gen)
			c.handleClosure(ctx, conn, gen)
			return
		}
	}
}

// drain dispatches the frames the connection delivered before it signalled
// closure, preserving wire order.
func (c *Client) drain(recv <-chan []byte, gen int) {
	for {
		select {
		case frame := <-recv:
			c.dispatch(frame, gen)
		default:
			return
		}
	}
}

func (c *Client) dispatch(frame []byte, gen int) {
	c.mu.Lock()
	alive := c.gen == gen && !c.closed
	c.mu.Unlock()
	if !alive {
		return
	}

	env, err := DecodeEnvelope(frame)
	if err != nil {
		c.metrics.frameDropped()
		c.logger.Errorf("dropping malformed frame: %s", err)
		return
	}

	c.metrics.messageDispatched()
	c.emitter.Emit(EventType(env.Type), env.Fields)
	c.emitter.Emit(EventMessage, env.Full())
}

// handleClosure runs when a connection closes without Disconnect having been
// called. Manual disconnects and superseded connections never reach the
// reconnect branch.
func (c *Client) handleClosure(ctx context.Context, conn Conn, gen int) {
	c.mu.Lock()
	if c.gen != gen || c.closed {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	if reason := conn.CloseErr(); reason != nil {
		c.emitter.Emit(EventError, Fields{"error": reason.Error()})
	}

	c.logger.Infoln("channel closed unexpectedly")
	c.emitter.Emit(EventDisconnected, Fields{})

	c.scheduleReconnect(ctx)
}

func (c *Client) scheduleReconnect(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.maxAttempts {
		c.mu.Unlock()
		c.logger.Warnf("giving up after %d reconnect attempts", c.maxAttempts)
		c.emitter.Emit(EventMaxReconnectAttempts, Fields{"attempts": c.maxAttempts})
		return
	}
	c.attempts++
	attempt := c.attempts
	gen := c.gen
	delay := c.backoff(attempt)
	c.reconnectTimer = c.clock.AfterFunc(delay, func() {
		c.redial(ctx, gen)
	})
	c.metrics.reconnectScheduled()
	c.mu.Unlock()

	c.logger.Infof("scheduling reconnect attempt %d in %s", attempt, delay)
}

func (c *Client) redial(ctx context.Context, gen int) {
	c.mu.Lock()
	stale := c.closed || c.gen != gen
	c.mu.Unlock()
	if stale {
		return
	}

	if err := c.connect(ctx, false); err != nil {
		c.emitter.Emit(EventError, Fields{"error": err.Error()})
		c.scheduleReconnect(ctx)
	}
}

func (c *Client) stopReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}
