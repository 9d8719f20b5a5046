package push

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNotOpen is returned when an outbound action is attempted while the
// push channel is not established.
var ErrNotOpen = errors.New("push channel not open")

// Config tunes connection behavior for every connection a Registry owns.
type Config struct {
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// OnState is invoked on every connection state transition. Optional.
	// willRetry reports whether a closed connection will be redialed;
	// false means the close was deliberate.
	OnState func(sessionKey string, state State, willRetry bool)
}

// Registry owns one logical push connection per session key. Its lifetime
// is scoped to the active session set; CloseAll makes teardown explicit
// so no connection or timer outlives a logout.
type Registry struct {
	mu        sync.Mutex
	conns     map[string]*Conn
	transport Transport
	cfg       Config
	logger    *zap.Logger
}

// NewRegistry creates a connection registry.
func NewRegistry(t Transport, cfg Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		conns:     make(map[string]*Conn),
		transport: t,
		cfg:       cfg,
		logger:    logger,
	}
}

// Ensure returns the connection for a session key, creating and starting
// it if absent. Concurrent calls for the same key attach to the same
// connection.
func (r *Registry) Ensure(sessionKey string) *Conn {
	r.mu.Lock()
	c, ok := r.conns[sessionKey]
	if !ok {
		c = newConn(sessionKey, r.transport, r.cfg, r.logger)
		r.conns[sessionKey] = c
	}
	r.mu.Unlock()
	if !ok {
		c.start()
	}
	return c
}

// Subscribe attaches a frame listener to a session's connection, creating
// the connection if needed. The returned function detaches the listener.
func (r *Registry) Subscribe(sessionKey string, l Listener) func() {
	return r.Ensure(sessionKey).subscribe(l)
}

// Close deliberately shuts down a session's connection and removes it
// from the registry. It does not reconnect.
func (r *Registry) Close(sessionKey string) {
	r.mu.Lock()
	c, ok := r.conns[sessionKey]
	delete(r.conns, sessionKey)
	r.mu.Unlock()
	if ok {
		c.Close()
	}
}

// CloseAll tears down every connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for k, c := range r.conns {
		conns = append(conns, c)
		delete(r.conns, k)
	}
	r.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// Len reports the number of live registry entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
