package push

import (
	"context"
	"encoding/json"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle state of a push connection.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
)

// Frame is one inbound push frame. Structured frames carry a discriminated
// envelope {type,data}; anything that does not parse as such is passed
// through on Raw.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	Raw  string          `json:"-"`
}

// Listener receives every inbound frame for a session.
type Listener func(Frame)

// Socket is one live push-channel connection.
type Socket interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Transport dials the push channel for a session key.
type Transport interface {
	Dial(ctx context.Context, sessionKey string) (Socket, error)
}

const (
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffMax  = 15 * time.Second
)

// backoffDelay computes the capped exponential reconnect delay for the
// given consecutive-failure count.
func backoffDelay(base, max time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = defaultBackoffBase
	}
	if max <= 0 {
		max = defaultBackoffMax
	}
	// Shift overflows long before the cap matters.
	if attempts > 30 {
		return max
	}
	d := base << uint(attempts)
	if d <= 0 || d > max {
		return max
	}
	return d
}

// jitter returns a uniform random slice of up to a tenth of d, so clients
// reconnecting after a shared outage do not dial in lockstep.
func jitter(d time.Duration) time.Duration {
	if d < 10 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d) / 10))
}

// Conn is one logical push connection for a session key. It owns the
// reconnect schedule and the listener set; frames are broadcast
// synchronously to all listeners in registration order.
type Conn struct {
	sessionKey string
	transport  Transport
	logger     *zap.Logger
	cfg        Config

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	attempts    int
	manualClose bool
	sock        Socket
	listeners   map[int]Listener
	nextID      int
	retryTimer  *time.Timer
}

func newConn(sessionKey string, t Transport, cfg Config, logger *zap.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		sessionKey: sessionKey,
		transport:  t,
		logger:     logger,
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		state:      StateIdle,
		listeners:  make(map[int]Listener),
	}
}

// SessionKey returns the session this connection belongs to.
func (c *Conn) SessionKey() string { return c.sessionKey }

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the consecutive-failure counter.
func (c *Conn) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Conn) start() {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()
	c.notify(StateConnecting, false)
	go c.dial()
}

func (c *Conn) dial() {
	sock, err := c.transport.Dial(c.ctx, c.sessionKey)

	c.mu.Lock()
	if err != nil {
		c.state = StateClosed
		manual := c.manualClose
		c.mu.Unlock()
		if manual {
			c.notify(StateClosed, false)
			return
		}
		c.logger.Warn("push dial failed",
			zap.String("session", c.sessionKey),
			zap.Error(err),
		)
		c.notify(StateClosed, true)
		c.scheduleReconnect()
		return
	}

	if c.manualClose {
		// Close was requested while the attempt was in flight. The
		// attempt itself is never torn down; the socket is closed the
		// moment it opens, so there is no close-before-established race.
		c.state = StateClosed
		c.mu.Unlock()
		_ = sock.Close()
		c.notify(StateClosed, false)
		return
	}

	c.sock = sock
	c.state = StateOpen
	c.attempts = 0
	c.mu.Unlock()

	c.logger.Info("push channel open", zap.String("session", c.sessionKey))
	c.notify(StateOpen, false)
	go c.readLoop(sock)
}

func (c *Conn) readLoop(sock Socket) {
	for {
		data, err := sock.Read(c.ctx)
		if err != nil {
			break
		}
		c.broadcast(decodeFrame(data))
	}

	c.mu.Lock()
	if c.sock == sock {
		c.sock = nil
	}
	c.state = StateClosed
	manual := c.manualClose
	c.mu.Unlock()

	c.notify(StateClosed, !manual)
	if manual {
		return
	}
	c.logger.Warn("push channel lost", zap.String("session", c.sessionKey))
	c.scheduleReconnect()
}

// scheduleReconnect arms the retry timer. The timer is never armed more
// than once concurrently.
func (c *Conn) scheduleReconnect() {
	c.mu.Lock()
	if c.retryTimer != nil || c.manualClose {
		c.mu.Unlock()
		return
	}
	delay := backoffDelay(c.cfg.BackoffBase, c.cfg.BackoffMax, c.attempts)
	delay += jitter(delay)
	c.attempts++
	c.retryTimer = time.AfterFunc(delay, c.retryFire)
	c.mu.Unlock()

	c.logger.Info("push reconnect scheduled",
		zap.String("session", c.sessionKey),
		zap.Duration("delay", delay),
	)
}

func (c *Conn) retryFire() {
	c.mu.Lock()
	c.retryTimer = nil
	if c.manualClose {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()
	c.notify(StateConnecting, false)
	c.dial()
}

// Close requests a deliberate shutdown. An in-flight connect attempt is
// left alone and closed the moment it opens.
func (c *Conn) Close() {
	c.mu.Lock()
	c.manualClose = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	switch c.state {
	case StateOpen:
		sock := c.sock
		c.sock = nil
		c.mu.Unlock()
		if sock != nil {
			_ = sock.Close()
		}
		// The read loop observes the closed socket and performs the
		// state transition.
		c.cancel()
	case StateConnecting:
		// dial handles manualClose on its open callback.
		c.mu.Unlock()
	default:
		c.state = StateClosed
		c.mu.Unlock()
		c.cancel()
		c.notify(StateClosed, false)
	}
}

func (c *Conn) subscribe(l Listener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// broadcast delivers a frame to all listeners. A panicking listener must
// not prevent delivery to the rest.
func (c *Conn) broadcast(f Frame) {
	c.mu.Lock()
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	ls := make([]Listener, len(ids))
	for i, id := range ids {
		ls[i] = c.listeners[id]
	}
	c.mu.Unlock()

	for _, l := range ls {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("push listener panicked",
						zap.String("session", c.sessionKey),
						zap.Any("panic", r),
					)
				}
			}()
			l(f)
		}()
	}
}

// Send writes an outbound {type,data} envelope to the push channel.
func (c *Conn) Send(ctx context.Context, typ string, data any) error {
	c.mu.Lock()
	sock := c.sock
	state := c.state
	c.mu.Unlock()
	if state != StateOpen || sock == nil {
		return ErrNotOpen
	}
	payload, err := json.Marshal(struct {
		Type string `json:"type"`
		Data any    `json:"data,omitempty"`
	}{Type: typ, Data: data})
	if err != nil {
		return err
	}
	return sock.Write(ctx, payload)
}

// notify reports a state transition to the configured callback. willRetry
// is meaningful only for StateClosed.
func (c *Conn) notify(s State, willRetry bool) {
	if c.cfg.OnState != nil {
		c.cfg.OnState(c.sessionKey, s, willRetry)
	}
}

// decodeFrame parses an inbound frame. Anything that is not a structured
// envelope is passed through raw rather than dropped.
func decodeFrame(data []byte) Frame {
	var f Frame
	if err := json.Unmarshal(data, &f); err == nil && f.Type != "" {
		return f
	}
	return Frame{Raw: string(data)}
}
