package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anonto42/dogpark/backend/internal/metrics"
	"github.com/anonto42/dogpark/backend/internal/models"
	"github.com/anonto42/dogpark/backend/internal/repositories"
	"github.com/anonto42/dogpark/backend/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config tunes the engine
type Config struct {
	BatchSize    int           // capped by the gateway's own limit
	BatchTimeout time.Duration // per batch
	RatePerSec   int           // batches per second submitted to the gateway
}

// Engine fans a notification out to every active device token of a user
type Engine struct {
	tokens  repositories.PushTokenRepository
	gateway Gateway
	cfg     Config
	limiter *rate.Limiter
	log     *zap.Logger
	now     func() time.Time
}

// NewEngine creates a push delivery engine
func NewEngine(tokens repositories.PushTokenRepository, gateway Gateway, cfg Config, log *zap.Logger) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if max := gateway.MaxBatchSize(); max > 0 && cfg.BatchSize > max {
		cfg.BatchSize = max
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 15 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	return &Engine{
		tokens:  tokens,
		gateway: gateway,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     logger.OrNop(log).Named("push"),
		now:     time.Now,
	}
}

// SendToUser delivers n to all of the user's active tokens. Simulator tokens
// are never submitted and count as sent. Counts are per token. The error is
// non-nil only when the tokens could not be loaded.
func (e *Engine) SendToUser(ctx context.Context, userID string, n *models.Notification) (models.DispatchResult, error) {
	result := models.DispatchResult{Channel: models.ChannelPush}
	log := e.log.With(zap.String("user_id", userID), zap.String("notification_id", n.ID))

	tokens, err := e.tokens.GetActiveTokens(ctx, userID)
	if err != nil {
		return result, fmt.Errorf("load push tokens: %w", err)
	}

	data := encodeData(n)
	var messages []Message
	for _, t := range tokens {
		if t.IsSimulator() {
			result.Sent++
			continue
		}
		messages = append(messages, Message{
			To:          t.Token,
			Title:       n.Title,
			Body:        n.Body,
			Data:        data,
			ChannelHint: channelHint(n),
			Priority:    n.Priority,
		})
	}

	var delivered []string
	for start := 0; start < len(messages); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(messages) {
			end = len(messages)
		}
		sent, failed, ok := e.submit(ctx, log, messages[start:end])
		result.Sent += len(sent)
		result.Failed += failed
		delivered = append(delivered, sent...)
		if !ok && ctx.Err() != nil {
			// caller gave up; the rest of the fanout counts as failed
			result.Failed += len(messages) - end
			break
		}
	}

	if err := e.tokens.Touch(ctx, delivered, e.now().UTC()); err != nil {
		log.Warn("touch push tokens", zap.Error(err))
	}

	metrics.NotificationsDelivered.WithLabelValues(string(models.ChannelPush), "sent").Add(float64(result.Sent))
	metrics.NotificationsDelivered.WithLabelValues(string(models.ChannelPush), "failed").Add(float64(result.Failed))
	log.Debug("push fanout finished",
		zap.Int("tokens", len(tokens)), zap.Int("sent", result.Sent), zap.Int("failed", result.Failed))
	return result, nil
}

// submit sends one batch and reconciles its tickets. It returns the tokens
// that were accepted, the number of failures and whether the batch went out.
func (e *Engine) submit(ctx context.Context, log *zap.Logger, batch []Message) ([]string, int, bool) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, len(batch), false
	}

	bctx, cancel := context.WithTimeout(ctx, e.cfg.BatchTimeout)
	defer cancel()

	started := time.Now()
	tickets, err := e.gateway.Send(bctx, batch)
	if err != nil {
		metrics.PushBatchDuration.WithLabelValues("failed").Observe(time.Since(started).Seconds())
		log.Warn("push batch failed", zap.Int("size", len(batch)), zap.Error(err))
		return nil, len(batch), false
	}
	metrics.PushBatchDuration.WithLabelValues("ok").Observe(time.Since(started).Seconds())

	byToken := make(map[string]Ticket, len(tickets))
	for _, t := range tickets {
		byToken[t.Token] = t
	}

	var sent []string
	failed := 0
	for _, m := range batch {
		t, ok := byToken[m.To]
		switch {
		case !ok:
			failed++
			log.Warn("push ticket missing", zap.String("token", redact(m.To)))
		case t.Status == TicketOK:
			sent = append(sent, m.To)
		default:
			failed++
			if t.Permanent() {
				e.deactivate(ctx, log, m.To)
				continue
			}
			log.Warn("push ticket error",
				zap.String("token", redact(m.To)), zap.String("reason", string(t.Reason)), zap.String("message", t.Message))
		}
	}
	return sent, failed, true
}

func (e *Engine) deactivate(ctx context.Context, log *zap.Logger, token string) {
	if err := e.tokens.Deactivate(ctx, token); err != nil {
		log.Error("deactivate unregistered token", zap.String("token", redact(token)), zap.Error(err))
		return
	}
	metrics.PushTokensDeactivated.Inc()
	log.Info("push token deactivated, device unregistered", zap.String("token", redact(token)))
}

// encodeData flattens the notification data into string values, the only
// shape push gateways accept
func encodeData(n *models.Notification) map[string]string {
	out := make(map[string]string, len(n.Data)+2)
	for k, v := range n.Data {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
		default:
			raw, err := json.Marshal(val)
			if err != nil {
				continue
			}
			out[k] = string(raw)
		}
	}
	out["notificationId"] = n.ID
	out["type"] = string(n.Type)
	return out
}

func channelHint(n *models.Notification) string {
	switch n.Type {
	case models.NotificationMessageReceived:
		return "messages"
	case models.NotificationEventReminder, models.NotificationEventInvite:
		return "events"
	case models.NotificationFriendRequest, models.NotificationFriendRequestAccepted, models.NotificationFriendCheckIn:
		return "social"
	}
	return "default"
}

func redact(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[:12] + "..."
}
