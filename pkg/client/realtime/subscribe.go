package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/anonto42/dogpark/backend/pkg/logger"
	"go.uber.org/zap"
)

// State is the lifecycle of a subscription's underlying connection
type State string

const (
	StateNotInitialized State = "not_initialized"
	StateConnecting     State = "connecting"
	StateConnected      State = "connected"
	StateDisconnected   State = "disconnected"
)

// Source is an event stream a Subscription listens to. *Client implements it.
type Source interface {
	On(event string, l Listener) uint64
	Off(event string, id uint64)
	Connect(ctx context.Context)
	Disconnect()
}

// Snapshot is the state a UI renders from
type Snapshot struct {
	Data            map[string]interface{}
	LastUpdate      time.Time
	ConnectionState State
	IsConnected     bool
	IsLoading       bool
	HasError        bool
}

type registration struct {
	event string
	id    uint64
}

// Subscription merges the payloads of a set of events into one state value
type Subscription struct {
	source  Source
	log     *zap.Logger
	now     func() time.Time
	changes chan struct{}

	mu         sync.Mutex
	data       map[string]interface{}
	lastUpdate time.Time
	state      State
	regs       []registration
	closed     bool
}

// Subscribe listens to the connection lifecycle and to each named event on
// source. Object payloads are shallow-merged into the state; other JSON values
// are stored under the event name. With autoConnect the source is connected
// right away.
func Subscribe(ctx context.Context, source Source, events []string, autoConnect bool, log *zap.Logger) *Subscription {
	s := &Subscription{
		source:  source,
		log:     logger.OrNop(log).Named("subscription"),
		now:     time.Now,
		changes: make(chan struct{}, 1),
		data:    make(map[string]interface{}),
		state:   StateNotInitialized,
	}

	s.listen(EventConnected, func(json.RawMessage) { s.setState(StateConnected) })
	s.listen(EventDisconnected, func(json.RawMessage) { s.setState(StateDisconnected) })
	s.listen(EventConnectionError, func(raw json.RawMessage) {
		s.log.Debug("connection error", zap.ByteString("detail", raw))
		s.setState(StateDisconnected)
	})
	s.listen(EventReconnecting, func(json.RawMessage) { s.setState(StateConnecting) })
	for _, event := range events {
		event := event
		s.listen(event, func(raw json.RawMessage) { s.merge(event, raw) })
	}

	if autoConnect {
		s.Connect(ctx)
	}
	return s
}

func (s *Subscription) listen(event string, l Listener) {
	id := s.source.On(event, l)
	s.regs = append(s.regs, registration{event: event, id: id})
}

// Connect asks the source to connect
func (s *Subscription) Connect(ctx context.Context) {
	s.setState(StateConnecting)
	s.source.Connect(ctx)
}

// Disconnect asks the source to disconnect
func (s *Subscription) Disconnect() {
	s.source.Disconnect()
	s.setState(StateDisconnected)
}

// Close removes every listener this subscription registered. The source is
// left running since other subscriptions may share it.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	regs := s.regs
	s.regs = nil
	s.mu.Unlock()

	for _, r := range regs {
		s.source.Off(r.event, r.id)
	}
}

// Changes signals after each state change; signals coalesce
func (s *Subscription) Changes() <-chan struct{} {
	return s.changes
}

// Snapshot returns a copy of the current state
func (s *Subscription) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := make(map[string]interface{}, len(s.data))
	for k, v := range s.data {
		data[k] = v
	}
	return Snapshot{
		Data:            data,
		LastUpdate:      s.lastUpdate,
		ConnectionState: s.state,
		IsConnected:     s.state == StateConnected,
		IsLoading:       s.state == StateConnecting,
		// only a regression after data was received counts as an error
		HasError: s.state == StateDisconnected && !s.lastUpdate.IsZero(),
	}
}

func (s *Subscription) setState(state State) {
	s.mu.Lock()
	if s.closed || s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()
	s.notify()
}

func (s *Subscription) merge(event string, raw json.RawMessage) {
	var patch map[string]interface{}
	if err := json.Unmarshal(raw, &patch); err != nil || patch == nil {
		var v interface{}
		if len(raw) == 0 || json.Unmarshal(raw, &v) != nil || v == nil {
			s.log.Debug("ignoring event without payload", zap.String("event", event))
			return
		}
		patch = map[string]interface{}{event: v}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	for k, v := range patch {
		s.data[k] = v
	}
	s.lastUpdate = s.now()
	s.mu.Unlock()
	s.notify()
}

func (s *Subscription) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
