package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/anonto42/dogpark/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// memTokens is an in-memory PushTokenRepository
type memTokens struct {
	mu          sync.Mutex
	tokens      map[string]*models.PushToken
	deactivated []string
	touched     []string
	loadErr     error
}

func newMemTokens(tokens ...models.PushToken) *memTokens {
	m := &memTokens{tokens: make(map[string]*models.PushToken)}
	for i := range tokens {
		t := tokens[i]
		t.IsActive = true
		m.tokens[t.Token] = &t
	}
	return m
}

func (m *memTokens) Upsert(_ context.Context, t *models.PushToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.IsActive = true
	cp := *t
	m.tokens[t.Token] = &cp
	return nil
}

func (m *memTokens) GetActiveTokens(_ context.Context, userID string) ([]models.PushToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	var out []models.PushToken
	for _, t := range m.tokens {
		if t.UserID == userID && t.IsActive {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memTokens) Deactivate(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[token]; ok {
		t.IsActive = false
	}
	m.deactivated = append(m.deactivated, token)
	return nil
}

func (m *memTokens) DeactivateForUser(ctx context.Context, _, token string) error {
	return m.Deactivate(ctx, token)
}

func (m *memTokens) Touch(_ context.Context, tokens []string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched = append(m.touched, tokens...)
	return nil
}

// fakeGateway records every batch and answers with SendFunc
type fakeGateway struct {
	mu       sync.Mutex
	batches  [][]Message
	maxBatch int
	SendFunc func(ctx context.Context, messages []Message) ([]Ticket, error)
}

func (g *fakeGateway) MaxBatchSize() int { return g.maxBatch }

func (g *fakeGateway) Send(ctx context.Context, messages []Message) ([]Ticket, error) {
	g.mu.Lock()
	g.batches = append(g.batches, append([]Message(nil), messages...))
	g.mu.Unlock()
	if g.SendFunc != nil {
		return g.SendFunc(ctx, messages)
	}
	return okTickets(messages), nil
}

func (g *fakeGateway) batchSizes() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	sizes := make([]int, len(g.batches))
	for i, b := range g.batches {
		sizes[i] = len(b)
	}
	return sizes
}

func okTickets(messages []Message) []Ticket {
	tickets := make([]Ticket, len(messages))
	for i, m := range messages {
		tickets[i] = Ticket{Token: m.To, Status: TicketOK, ID: fmt.Sprintf("msg-%d", i)}
	}
	return tickets
}

func notification() *models.Notification {
	return &models.Notification{
		ID:       "n1",
		UserID:   "u1",
		Type:     models.NotificationFriendRequest,
		Title:    "New friend request",
		Body:     "Rex wants to be friends",
		Data:     map[string]interface{}{"fromUserId": "u2", "points": 10},
		Priority: models.PriorityHigh,
	}
}

func TestEngine_SimulatorCountedWithoutGateway(t *testing.T) {
	tokens := newMemTokens(
		models.PushToken{Token: "real-token-1", UserID: "u1", Kind: models.TokenKindReal},
		models.PushToken{Token: "sim-token-1", UserID: "u1", Kind: models.TokenKindSimulator},
	)
	gw := &fakeGateway{maxBatch: 100}
	engine := NewEngine(tokens, gw, Config{}, zaptest.NewLogger(t))

	result, err := engine.SendToUser(context.Background(), "u1", notification())
	require.NoError(t, err)
	assert.Equal(t, models.DispatchResult{Sent: 2, Failed: 0, Channel: models.ChannelPush}, result)

	require.Len(t, gw.batches, 1)
	require.Len(t, gw.batches[0], 1)
	msg := gw.batches[0][0]
	assert.Equal(t, "real-token-1", msg.To)
	assert.Equal(t, "social", msg.ChannelHint)
	assert.Equal(t, "u2", msg.Data["fromUserId"])
	assert.Equal(t, "10", msg.Data["points"])
	assert.Equal(t, "n1", msg.Data["notificationId"])
	assert.Equal(t, "friend_request", msg.Data["type"])
	assert.Equal(t, []string{"real-token-1"}, tokens.touched)
}

func TestEngine_Batches(t *testing.T) {
	var list []models.PushToken
	for i := 0; i < 250; i++ {
		list = append(list, models.PushToken{Token: fmt.Sprintf("token-%03d", i), UserID: "u1", Kind: models.TokenKindReal})
	}
	tests := []struct {
		name      string
		batchSize int
		maxBatch  int
		want      []int
	}{
		{name: "configured size", batchSize: 100, maxBatch: 500, want: []int{100, 100, 50}},
		{name: "capped by gateway", batchSize: 200, maxBatch: 120, want: []int{120, 120, 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{maxBatch: tt.maxBatch}
			engine := NewEngine(newMemTokens(list...), gw, Config{BatchSize: tt.batchSize, RatePerSec: 100}, zaptest.NewLogger(t))

			result, err := engine.SendToUser(context.Background(), "u1", notification())
			require.NoError(t, err)
			assert.Equal(t, 250, result.Sent)
			assert.Equal(t, tt.want, gw.batchSizes())
		})
	}
}

func TestEngine_UnregisteredTokenDeactivated(t *testing.T) {
	tokens := newMemTokens(
		models.PushToken{Token: "phone-token", UserID: "u1"},
		models.PushToken{Token: "tablet-token", UserID: "u1"},
		models.PushToken{Token: "watch-token", UserID: "u1"},
	)
	gw := &fakeGateway{maxBatch: 100}
	gw.SendFunc = func(_ context.Context, messages []Message) ([]Ticket, error) {
		tickets := okTickets(messages)
		for i, m := range messages {
			if m.To == "tablet-token" {
				tickets[i] = Ticket{Token: m.To, Status: TicketError, Reason: ReasonDeviceUnregistered}
			}
		}
		return tickets, nil
	}
	engine := NewEngine(tokens, gw, Config{}, zaptest.NewLogger(t))
	ctx := context.Background()

	result, err := engine.SendToUser(ctx, "u1", notification())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{"tablet-token"}, tokens.deactivated)

	result, err = engine.SendToUser(ctx, "u1", notification())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, 0, result.Failed)
	for _, m := range gw.batches[1] {
		assert.NotEqual(t, "tablet-token", m.To)
	}
}

func TestEngine_TransientErrorKeepsToken(t *testing.T) {
	tokens := newMemTokens(models.PushToken{Token: "phone-token", UserID: "u1"})
	gw := &fakeGateway{maxBatch: 100}
	gw.SendFunc = func(_ context.Context, messages []Message) ([]Ticket, error) {
		return []Ticket{{Token: messages[0].To, Status: TicketError, Reason: ReasonUnavailable}}, nil
	}
	engine := NewEngine(tokens, gw, Config{}, zaptest.NewLogger(t))

	result, err := engine.SendToUser(context.Background(), "u1", notification())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, tokens.deactivated)
}

func TestEngine_BatchTimeoutLeavesTokensUntouched(t *testing.T) {
	tokens := newMemTokens(
		models.PushToken{Token: "phone-token", UserID: "u1"},
		models.PushToken{Token: "tablet-token", UserID: "u1"},
	)
	gw := &fakeGateway{maxBatch: 100}
	gw.SendFunc = func(ctx context.Context, _ []Message) ([]Ticket, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %v", ErrBatchFailed, ctx.Err())
	}
	engine := NewEngine(tokens, gw, Config{BatchTimeout: 20 * time.Millisecond}, zaptest.NewLogger(t))

	result, err := engine.SendToUser(context.Background(), "u1", notification())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Sent)
	assert.Equal(t, 2, result.Failed)
	assert.Empty(t, tokens.deactivated)
	assert.Empty(t, tokens.touched)
}

func TestEngine_MissingTicketCountsAsFailed(t *testing.T) {
	tokens := newMemTokens(
		models.PushToken{Token: "phone-token", UserID: "u1"},
		models.PushToken{Token: "tablet-token", UserID: "u1"},
	)
	gw := &fakeGateway{maxBatch: 100}
	gw.SendFunc = func(_ context.Context, messages []Message) ([]Ticket, error) {
		return okTickets(messages[:1]), nil
	}
	engine := NewEngine(tokens, gw, Config{}, zaptest.NewLogger(t))

	result, err := engine.SendToUser(context.Background(), "u1", notification())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 1, result.Failed)
}

func TestEngine_NoTokens(t *testing.T) {
	gw := &fakeGateway{maxBatch: 100}
	engine := NewEngine(newMemTokens(), gw, Config{}, zaptest.NewLogger(t))

	result, err := engine.SendToUser(context.Background(), "u1", notification())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Sent+result.Failed)
	assert.Empty(t, gw.batches)
}

func TestEngine_TokenLoadFailure(t *testing.T) {
	tokens := newMemTokens()
	tokens.loadErr = errors.New("connection refused")
	engine := NewEngine(tokens, &fakeGateway{maxBatch: 100}, Config{}, zaptest.NewLogger(t))

	_, err := engine.SendToUser(context.Background(), "u1", notification())
	assert.ErrorContains(t, err, "load push tokens")
}
