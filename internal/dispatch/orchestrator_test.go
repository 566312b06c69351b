package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anonto42/dogpark/backend/internal/models"
	"github.com/anonto42/dogpark/backend/internal/push"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memStore struct {
	mu      sync.Mutex
	records []models.Notification
	err     error
}

func (s *memStore) CreateNotification(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	n.ID = fmt.Sprintf("n%d", len(s.records)+1)
	n.CreatedAt = time.Now().UTC()
	s.records = append(s.records, *n)
	return nil
}

func (s *memStore) forUser(userID string) []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for _, n := range s.records {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

type liveFunc func(userID, messageType string, payload interface{}) bool

func (f liveFunc) Send(userID, messageType string, payload interface{}) bool {
	return f(userID, messageType, payload)
}

type pushFunc func(ctx context.Context, userID string, n *models.Notification) (models.DispatchResult, error)

func (f pushFunc) SendToUser(ctx context.Context, userID string, n *models.Notification) (models.DispatchResult, error) {
	return f(ctx, userID, n)
}

type recorder struct {
	mu      sync.Mutex
	results []models.DispatchResult
}

func (r *recorder) observe(_ string, result models.DispatchResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func (r *recorder) byChannel(ch models.Channel) (models.DispatchResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.results {
		if res.Channel == ch {
			return res, true
		}
	}
	return models.DispatchResult{}, false
}

func TestDispatch_PersistsWhenEveryChannelFails(t *testing.T) {
	store := &memStore{}
	live := liveFunc(func(string, string, interface{}) bool { return false })
	pusher := pushFunc(func(context.Context, string, *models.Notification) (models.DispatchResult, error) {
		return models.DispatchResult{}, errors.New("gateway unreachable")
	})
	o := New(store, live, pusher, Options{}, zaptest.NewLogger(t))

	n, err := o.Dispatch(context.Background(), Request{UserID: "u1", Type: models.NotificationSystem, Title: "Hi"})
	require.NoError(t, err)
	o.Wait()

	records := store.forUser("u1")
	require.Len(t, records, 1)
	assert.Equal(t, n.ID, records[0].ID)
	assert.False(t, records[0].IsRead)
	assert.Nil(t, records[0].ReadAt)
	assert.Equal(t, models.PriorityMedium, records[0].Priority)
}

func TestDispatch_PersistenceFailureIsFatal(t *testing.T) {
	store := &memStore{err: errors.New("no reachable servers")}
	called := false
	live := liveFunc(func(string, string, interface{}) bool { called = true; return true })
	o := New(store, live, nil, Options{}, zaptest.NewLogger(t))

	_, err := o.Dispatch(context.Background(), Request{UserID: "u1", Type: models.NotificationSystem})
	assert.ErrorIs(t, err, ErrPersistence)
	assert.False(t, called, "nothing is delivered without a record")
}

func TestDispatch_TriesBothChannels(t *testing.T) {
	store := &memStore{}
	var liveType string
	var livePayload interface{}
	live := liveFunc(func(_ string, messageType string, payload interface{}) bool {
		liveType, livePayload = messageType, payload
		return true
	})
	pushed := make(chan string, 1)
	pusher := pushFunc(func(_ context.Context, userID string, n *models.Notification) (models.DispatchResult, error) {
		pushed <- n.ID
		return models.DispatchResult{Sent: 1, Channel: models.ChannelPush}, nil
	})
	rec := &recorder{}
	o := New(store, live, pusher, Options{Observer: rec.observe}, zaptest.NewLogger(t))

	n, err := o.Dispatch(context.Background(), Request{UserID: "u1", Type: models.NotificationBadgeEarned, Title: "New badge"})
	require.NoError(t, err)
	o.Wait()

	assert.Equal(t, MessageTypeNotification, liveType)
	assert.Equal(t, n, livePayload)
	assert.Equal(t, n.ID, <-pushed)

	socket, ok := rec.byChannel(models.ChannelSocket)
	require.True(t, ok)
	assert.Equal(t, 1, socket.Sent)
	pushResult, ok := rec.byChannel(models.ChannelPush)
	require.True(t, ok)
	assert.Equal(t, 1, pushResult.Sent)
}

func TestDispatch_PushOutlivesRequestContext(t *testing.T) {
	store := &memStore{}
	pusher := pushFunc(func(ctx context.Context, _ string, _ *models.Notification) (models.DispatchResult, error) {
		if err := ctx.Err(); err != nil {
			return models.DispatchResult{}, err
		}
		return models.DispatchResult{Sent: 1, Channel: models.ChannelPush}, nil
	})
	rec := &recorder{}
	o := New(store, nil, pusher, Options{Observer: rec.observe}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	_, err := o.Dispatch(ctx, Request{UserID: "u1", Type: models.NotificationSystem})
	require.NoError(t, err)
	cancel()
	o.Wait()

	res, ok := rec.byChannel(models.ChannelPush)
	require.True(t, ok)
	assert.Equal(t, 1, res.Sent)
}

// gateway and token store doubles for the end-to-end scenario
type tokenStore struct{ tokens []models.PushToken }

func (s *tokenStore) Upsert(context.Context, *models.PushToken) error { return nil }

func (s *tokenStore) GetActiveTokens(_ context.Context, userID string) ([]models.PushToken, error) {
	var out []models.PushToken
	for _, t := range s.tokens {
		if t.UserID == userID && t.IsActive {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *tokenStore) Deactivate(context.Context, string) error                { return nil }
func (s *tokenStore) DeactivateForUser(context.Context, string, string) error { return nil }
func (s *tokenStore) Touch(context.Context, []string, time.Time) error        { return nil }

type okGateway struct{}

func (okGateway) MaxBatchSize() int { return 100 }

func (okGateway) Send(_ context.Context, messages []push.Message) ([]push.Ticket, error) {
	tickets := make([]push.Ticket, len(messages))
	for i, m := range messages {
		tickets[i] = push.Ticket{Token: m.To, Status: push.TicketOK}
	}
	return tickets, nil
}

func TestDispatch_FriendRequestToOfflineUserWithSimulator(t *testing.T) {
	store := &memStore{}
	tokens := &tokenStore{tokens: []models.PushToken{
		{Token: "real-device-token", UserID: "U1", Kind: models.TokenKindReal, IsActive: true},
		{Token: "simulator-token", UserID: "U1", Kind: models.TokenKindSimulator, IsActive: true},
	}}
	engine := push.NewEngine(tokens, okGateway{}, push.Config{}, zaptest.NewLogger(t))
	offline := liveFunc(func(string, string, interface{}) bool { return false })
	rec := &recorder{}
	o := New(store, offline, engine, Options{Observer: rec.observe}, zaptest.NewLogger(t))

	_, err := o.FriendRequest(context.Background(), "U1", "U2", "Bella", "req-1")
	require.NoError(t, err)
	o.Wait()

	res, ok := rec.byChannel(models.ChannelPush)
	require.True(t, ok)
	assert.Equal(t, models.DispatchResult{Sent: 2, Failed: 0, Channel: models.ChannelPush}, res)

	records := store.forUser("U1")
	require.Len(t, records, 1)
	assert.Equal(t, models.NotificationFriendRequest, records[0].Type)
	assert.False(t, records[0].IsRead)
}

func TestEventWrappers(t *testing.T) {
	store := &memStore{}
	o := New(store, nil, nil, Options{}, zaptest.NewLogger(t))
	ctx := context.Background()

	n, err := o.MessageReceived(ctx, "u1", "u2", "Max", "conv-1", strings.Repeat("woof ", 40))
	require.NoError(t, err)
	assert.Equal(t, models.PriorityHigh, n.Priority)
	assert.Equal(t, "conv-1", n.Data["conversationId"])
	assert.Len(t, []rune(n.Body), previewLength)

	n, err = o.EventReminder(ctx, "u1", "ev-1", "Puppy meetup", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, n.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *n.ExpiresAt, 5*time.Second)

	n, err = o.PointsEarned(ctx, "u1", 25, "Morning check-in")
	require.NoError(t, err)
	assert.Equal(t, "+25 points", n.Title)
	assert.Nil(t, n.ExpiresAt)

	n, err = o.FriendCheckIn(ctx, "u1", "u3", "Luna", "park-9", "Riverside")
	require.NoError(t, err)
	assert.Equal(t, models.PriorityLow, n.Priority)
	require.NotNil(t, n.ExpiresAt)

	_, err = o.FriendRequestAccepted(ctx, "u1", "u4", "Rocky")
	require.NoError(t, err)
	_, err = o.EventInvite(ctx, "u1", "Rocky", "ev-2", "Agility day")
	require.NoError(t, err)
	_, err = o.StreakMilestone(ctx, "u1", 7)
	require.NoError(t, err)
	_, err = o.BadgeEarned(ctx, "u1", "b-1", "Early bird")
	require.NoError(t, err)

	assert.Len(t, store.forUser("u1"), 8)
}
