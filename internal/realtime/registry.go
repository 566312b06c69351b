package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anonto42/dogpark/backend/internal/auth"
	"github.com/anonto42/dogpark/backend/internal/metrics"
	"github.com/anonto42/dogpark/backend/internal/models"
	"github.com/anonto42/dogpark/backend/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config tunes the registry. Zero values fall back to the defaults below.
type Config struct {
	MaxConnections       int
	HeartbeatInterval    time.Duration
	IdleTimeout          time.Duration
	SweepInterval        time.Duration
	MaxReconnectAttempts int
}

func (c Config) withDefaults() Config {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 1000
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	return c
}

type connection struct {
	id          string
	userID      string
	socket      Socket
	connectedAt time.Time

	lastActivity atomic.Int64 // unix nanos
	alive        atomic.Bool
}

func (c *connection) touch(at time.Time) {
	c.lastActivity.Store(at.UnixNano())
	c.alive.Store(true)
}

// pong marks the connection alive without counting as activity
func (c *connection) pong() {
	c.alive.Store(true)
}

func (c *connection) idleSince() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Registry holds at most one live connection per user. The connection map is
// owned by a single goroutine; every read or mutation is sent to it as a
// closure. Socket I/O always happens outside that goroutine.
type Registry struct {
	cfg      Config
	verifier auth.CredentialVerifier
	attempts AttemptCounter
	log      *zap.Logger
	now      func() time.Time

	conns   map[string]*connection // owned by loop
	ops     chan func(map[string]*connection)
	stopped chan struct{}

	startOnce sync.Once
	cancel    context.CancelFunc
	bg        sync.WaitGroup
}

// NewRegistry creates a registry; call Start before use.
func NewRegistry(cfg Config, verifier auth.CredentialVerifier, attempts AttemptCounter, log *zap.Logger) *Registry {
	if attempts == nil {
		attempts = NewMemoryAttempts()
	}
	return &Registry{
		cfg:      cfg.withDefaults(),
		verifier: verifier,
		attempts: attempts,
		log:      logger.OrNop(log).Named("registry"),
		now:      time.Now,
		conns:    make(map[string]*connection),
		ops:      make(chan func(map[string]*connection)),
		stopped:  make(chan struct{}),
	}
}

// Start launches the owning goroutine together with the heartbeat and idle
// sweep timers. It returns immediately.
func (r *Registry) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		ctx, r.cancel = context.WithCancel(ctx)
		go r.loop(ctx)
	})
}

// Close closes every live connection and stops the registry
func (r *Registry) Close() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.stopped
	r.bg.Wait()
}

func (r *Registry) loop(ctx context.Context) {
	heartbeat := time.NewTicker(r.cfg.HeartbeatInterval)
	sweep := time.NewTicker(r.cfg.SweepInterval)
	defer heartbeat.Stop()
	defer sweep.Stop()

	for {
		select {
		case op := <-r.ops:
			op(r.conns)
		case <-heartbeat.C:
			r.background(r.Heartbeat)
		case <-sweep.C:
			r.background(r.Sweep)
		case <-ctx.Done():
			remaining := make([]*connection, 0, len(r.conns))
			for userID, c := range r.conns {
				remaining = append(remaining, c)
				delete(r.conns, userID)
			}
			metrics.LiveConnections.Set(0)
			close(r.stopped)
			for _, c := range remaining {
				_ = c.socket.Close(CloseShutdown, "server shutdown")
			}
			r.log.Info("registry stopped", zap.Int("closed", len(remaining)))
			return
		}
	}
}

func (r *Registry) background(fn func()) {
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		fn()
	}()
}

// do runs op on the owning goroutine and waits for it to finish
func (r *Registry) do(op func(conns map[string]*connection)) error {
	done := make(chan struct{})
	wrapped := func(conns map[string]*connection) {
		op(conns)
		close(done)
	}
	select {
	case r.ops <- wrapped:
	case <-r.stopped:
		return ErrClosed
	}
	<-done
	return nil
}

// Register authenticates credential and stores socket as the user's live
// connection. A prior connection of the same user is swapped out in the same
// step that stores the new one and is then closed as superseded, outside the
// owning goroutine, before Register returns. Sends issued after the swap never
// reach the prior socket. Rejected sockets are closed with a reason code
// before the error is returned.
func (r *Registry) Register(ctx context.Context, credential string, socket Socket) (string, error) {
	userID, err := r.verifier.VerifyCredential(ctx, credential)
	if err != nil {
		r.reject(socket, "auth", CloseAuthFailed, "authentication failed")
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	log := r.log.With(zap.String("user_id", userID))

	n, err := r.attempts.Incr(ctx, userID)
	if err != nil {
		log.Warn("attempt counter unavailable", zap.Error(err))
	} else if n > int64(r.cfg.MaxReconnectAttempts) {
		r.reject(socket, "throttled", CloseThrottled, "too many connection attempts")
		log.Warn("registration throttled", zap.Int64("attempts", n))
		return "", ErrTooManyAttempts
	}

	now := r.now()
	conn := &connection{id: uuid.NewString(), userID: userID, socket: socket, connectedAt: now}
	conn.touch(now)

	var prior *connection
	full := false
	err = r.do(func(conns map[string]*connection) {
		prior = conns[userID]
		if prior == nil && len(conns) >= r.cfg.MaxConnections {
			full = true
			return
		}
		conns[userID] = conn
		metrics.LiveConnections.Set(float64(len(conns)))
	})
	if err != nil {
		r.reject(socket, "closed", CloseShutdown, "server shutdown")
		return "", err
	}
	if full {
		r.reject(socket, "capacity", CloseCapacity, "server at capacity")
		log.Warn("registration rejected, registry full", zap.Int("max", r.cfg.MaxConnections))
		return "", ErrCapacity
	}

	if prior != nil {
		metrics.ConnectionsEvicted.WithLabelValues("superseded").Inc()
		_ = prior.socket.Close(CloseSuperseded, "superseded")
		log.Info("previous connection superseded", zap.String("previous_id", prior.id))
	}
	if err := r.attempts.Reset(ctx, userID); err != nil {
		log.Warn("attempt counter reset failed", zap.Error(err))
	}

	log.Info("connection registered", zap.String("connection_id", conn.id))
	return userID, nil
}

func (r *Registry) reject(socket Socket, reason string, code int, text string) {
	metrics.RegistrationsRejected.WithLabelValues(reason).Inc()
	_ = socket.Close(code, text)
}

// Unregister removes socket if it is still the user's current connection.
// The caller owns closing the socket.
func (r *Registry) Unregister(userID string, socket Socket) {
	removed := false
	_ = r.do(func(conns map[string]*connection) {
		if c, ok := conns[userID]; ok && c.socket == socket {
			delete(conns, userID)
			removed = true
			metrics.LiveConnections.Set(float64(len(conns)))
		}
	})
	if removed {
		r.log.Debug("connection unregistered", zap.String("user_id", userID))
	}
}

// Touch records an inbound data frame on the user's socket
func (r *Registry) Touch(userID string, socket Socket) {
	now := r.now()
	_ = r.do(func(conns map[string]*connection) {
		if c, ok := conns[userID]; ok && c.socket == socket {
			c.touch(now)
		}
	})
}

// Pong records a heartbeat answer. It keeps the connection past the next
// Heartbeat but does not postpone the idle sweep.
func (r *Registry) Pong(userID string, socket Socket) {
	_ = r.do(func(conns map[string]*connection) {
		if c, ok := conns[userID]; ok && c.socket == socket {
			c.pong()
		}
	})
}

// Send writes a typed message to the user's live connection. It returns false
// when the user has no connection or the write fails; a failed connection is
// evicted immediately so the caller can fall back to another channel.
func (r *Registry) Send(userID, messageType string, payload interface{}) bool {
	var conn *connection
	if err := r.do(func(conns map[string]*connection) { conn = conns[userID] }); err != nil || conn == nil {
		return false
	}

	env, err := models.NewEnvelope(messageType, payload)
	if err != nil {
		r.log.Error("encode live message", zap.String("type", messageType), zap.Error(err))
		return false
	}

	if err := conn.socket.WriteJSON(env); err != nil {
		r.log.Warn("live write failed, evicting",
			zap.String("user_id", userID), zap.String("type", messageType), zap.Error(err))
		r.evict(conn, "write_failed", CloseWriteFailed, "write failed")
		return false
	}
	return true
}

// evict removes conn if it is still current and closes it
func (r *Registry) evict(conn *connection, reason string, code int, text string) {
	_ = r.do(func(conns map[string]*connection) {
		if conns[conn.userID] == conn {
			delete(conns, conn.userID)
			metrics.LiveConnections.Set(float64(len(conns)))
		}
	})
	metrics.ConnectionsEvicted.WithLabelValues(reason).Inc()
	_ = conn.socket.Close(code, text)
}

// Heartbeat runs one ping cycle: connections that did not answer the previous
// ping are terminated, the rest are marked pending and pinged.
func (r *Registry) Heartbeat() {
	var dead, live []*connection
	err := r.do(func(conns map[string]*connection) {
		for userID, c := range conns {
			if !c.alive.Swap(false) {
				delete(conns, userID)
				dead = append(dead, c)
				continue
			}
			live = append(live, c)
		}
		metrics.LiveConnections.Set(float64(len(conns)))
	})
	if err != nil {
		return
	}

	for _, c := range dead {
		metrics.ConnectionsEvicted.WithLabelValues("heartbeat").Inc()
		_ = c.socket.Close(CloseHeartbeatTimeout, "heartbeat timeout")
		r.log.Info("connection missed heartbeat", zap.String("user_id", c.userID))
	}

	var wg sync.WaitGroup
	for _, c := range live {
		wg.Add(1)
		go func(c *connection) {
			defer wg.Done()
			if err := c.socket.Ping(); err != nil {
				r.evict(c, "ping_failed", CloseWriteFailed, "ping failed")
			}
		}(c)
	}
	wg.Wait()
}

// Sweep evicts connections idle longer than IdleTimeout regardless of their
// heartbeat state, then clears the reconnect attempt counters.
func (r *Registry) Sweep() {
	cutoff := r.now().Add(-r.cfg.IdleTimeout)
	var idle []*connection
	err := r.do(func(conns map[string]*connection) {
		for userID, c := range conns {
			if c.idleSince().Before(cutoff) {
				delete(conns, userID)
				idle = append(idle, c)
			}
		}
		metrics.LiveConnections.Set(float64(len(conns)))
	})
	if err != nil {
		return
	}

	for _, c := range idle {
		metrics.ConnectionsEvicted.WithLabelValues("idle").Inc()
		_ = c.socket.Close(CloseIdleTimeout, "idle timeout")
	}
	if err := r.attempts.Clear(context.Background()); err != nil {
		r.log.Warn("clear attempt counters", zap.Error(err))
	}
	if len(idle) > 0 {
		r.log.Info("idle connections swept", zap.Int("evicted", len(idle)))
	}
}

// Len reports the number of live connections
func (r *Registry) Len() int {
	n := 0
	_ = r.do(func(conns map[string]*connection) { n = len(conns) })
	return n
}

// IsConnected reports whether the user holds a live connection
func (r *Registry) IsConnected(userID string) bool {
	ok := false
	_ = r.do(func(conns map[string]*connection) { _, ok = conns[userID] })
	return ok
}

// Stats is a point-in-time view of the registry
type Stats struct {
	Connections    int `json:"connections"`
	MaxConnections int `json:"maxConnections"`
}

// Stats reports the current connection count against the hard cap
func (r *Registry) Stats() Stats {
	return Stats{Connections: r.Len(), MaxConnections: r.cfg.MaxConnections}
}
