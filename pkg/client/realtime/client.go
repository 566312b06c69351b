package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anonto42/dogpark/backend/internal/models"
	"github.com/anonto42/dogpark/backend/pkg/logger"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Lifecycle events emitted by the client next to the server's own message types
const (
	EventConnected       = "connected"
	EventDisconnected    = "disconnected"
	EventConnectionError = "connectionError"
	EventReconnecting    = "reconnecting"
)

// Close codes after which reconnecting with the same credential is pointless
const (
	closeSuperseded = 4000
	closeAuthFailed = 4001
)

const maxFrame = 1 << 20

var (
	ErrNotConnected = errors.New("realtime: not connected")
	ErrDial         = errors.New("realtime: dial failed")
)

// Listener receives the data of one event
type Listener func(data json.RawMessage)

// Config configures a Client
type Config struct {
	URL              string
	Token            string
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

func (c *Config) setDefaults() {
	if c.MinBackoff <= 0 {
		c.MinBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = c.MinBackoff
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// CloseInfo describes why a connection ended
type CloseInfo struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// Client is the app side of the live connection. It keeps one socket open
// while connected, reconnects with exponential backoff and fans incoming
// envelopes out to listeners by type.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *zap.Logger

	mu        sync.Mutex
	listeners map[string][]listenerEntry
	nextID    uint64
	conn      *websocket.Conn
	cancel    context.CancelFunc
	done      chan struct{}

	writeMu   sync.Mutex
	connected atomic.Bool
}

// NewClient creates a Client; nothing is dialled until Connect
func NewClient(cfg Config, log *zap.Logger) *Client {
	cfg.setDefaults()
	return &Client{
		cfg:       cfg,
		dialer:    &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		log:       logger.OrNop(log).Named("realtime_client"),
		listeners: make(map[string][]listenerEntry),
	}
}

// On adds a listener for event and returns an id for Off
func (c *Client) On(event string, l Listener) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.listeners[event] = append(c.listeners[event], listenerEntry{id: c.nextID, fn: l})
	return c.nextID
}

// Off removes the listener registered under id
func (c *Client) Off(event string, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.listeners[event]
	for i, e := range entries {
		if e.id == id {
			c.listeners[event] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(c.listeners[event]) == 0 {
		delete(c.listeners, event)
	}
}

// ListenerCount returns the number of registered listeners across all events
func (c *Client) ListenerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, entries := range c.listeners {
		n += len(entries)
	}
	return n
}

// Connect starts the connection loop in the background. Calling it while
// the loop is running is a no-op.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	go c.run(ctx, done)
}

// Disconnect closes the socket, stops reconnecting and waits for the loop to exit
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if done == nil {
		return
	}
	cancel()
	<-done
}

// IsConnected reports whether the server has acknowledged the current socket
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Send writes one envelope to the server
func (c *Client) Send(messageType string, payload interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || !c.connected.Load() {
		return ErrNotConnected
	}
	env, err := models.NewEnvelope(messageType, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteJSON(env)
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		if c.done == done {
			c.cancel()
			c.cancel, c.done = nil, nil
		}
		c.mu.Unlock()
		close(done)
	}()

	delay := c.cfg.MinBackoff
	retry := false
	for {
		if retry {
			c.emit(EventReconnecting, encode(map[string]int64{"delayMs": delay.Milliseconds()}))
			if !sleepCtx(ctx, delay) {
				return
			}
			delay = nextBackoff(delay, c.cfg.MaxBackoff)
		}
		retry = true

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Debug("live connection dial failed", zap.Error(err))
			c.emit(EventConnectionError, encode(map[string]string{"message": err.Error()}))
			continue
		}

		established, err := c.serve(ctx, conn)
		if established {
			delay = c.cfg.MinBackoff
		}
		info := closeInfo(ctx, err)
		c.emit(EventDisconnected, encode(info))
		if ctx.Err() != nil {
			return
		}
		if info.Code == closeSuperseded || info.Code == closeAuthFailed {
			c.log.Info("live connection closed by server, not reconnecting",
				zap.Int("code", info.Code), zap.String("reason", info.Reason))
			return
		}
		c.log.Debug("live connection lost", zap.Int("code", info.Code), zap.String("reason", info.Reason))
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDial, err)
	}
	conn.SetReadLimit(maxFrame)
	return conn, nil
}

// serve reads envelopes until the socket fails or ctx is cancelled. The
// socket counts as established once the server's connected message arrives.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) (established bool, err error) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
			_ = conn.Close()
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		c.connected.Store(false)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return established, err
		}
		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			c.log.Debug("ignoring malformed frame", zap.Int("bytes", len(data)))
			continue
		}
		if env.Type == EventConnected && !established {
			established = true
			c.connected.Store(true)
		}
		c.emit(env.Type, env.Data)
	}
}

func (c *Client) emit(event string, data json.RawMessage) {
	c.mu.Lock()
	entries := append([]listenerEntry(nil), c.listeners[event]...)
	c.mu.Unlock()

	for _, e := range entries {
		c.call(event, e.fn, data)
	}
}

func (c *Client) call(event string, fn Listener, data json.RawMessage) {
	defer func() {
		if p := recover(); p != nil {
			c.log.Error("listener panicked", zap.String("event", event), zap.Any("panic", p))
		}
	}()
	fn(data)
}

func closeInfo(ctx context.Context, err error) CloseInfo {
	if ctx.Err() != nil {
		return CloseInfo{Code: websocket.CloseNormalClosure, Reason: "client disconnect"}
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return CloseInfo{Code: ce.Code, Reason: ce.Text}
	}
	reason := "connection lost"
	if err != nil {
		reason = err.Error()
	}
	return CloseInfo{Code: websocket.CloseAbnormalClosure, Reason: reason}
}

func nextBackoff(d, limit time.Duration) time.Duration {
	d *= 2
	if d > limit {
		return limit
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func encode(v interface{}) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
