package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anonto42/dogpark/backend/internal/metrics"
	"github.com/anonto42/dogpark/backend/internal/models"
	"github.com/anonto42/dogpark/backend/pkg/logger"
	"go.uber.org/zap"
)

// ErrPersistence is the only error Dispatch returns: the record could not be written
var ErrPersistence = errors.New("dispatch: notification could not be persisted")

// MessageTypeNotification is the envelope type used for live delivery
const MessageTypeNotification = "notification"

// RecordStore persists notification records
type RecordStore interface {
	CreateNotification(ctx context.Context, notification *models.Notification) error
}

// LiveSender routes a message to the user's live connection
type LiveSender interface {
	Send(userID, messageType string, payload interface{}) bool
}

// Pusher delivers to the user's devices through the push gateway
type Pusher interface {
	SendToUser(ctx context.Context, userID string, n *models.Notification) (models.DispatchResult, error)
}

// Observer receives the outcome of every delivery attempt. It may be called
// from the push goroutine.
type Observer func(userID string, result models.DispatchResult)

// Request describes one notification to deliver
type Request struct {
	UserID   string
	Type     models.NotificationType
	Title    string
	Body     string
	Data     map[string]interface{}
	Priority models.Priority
	TTL      time.Duration // zero means the record never expires
}

// Options configures an Orchestrator
type Options struct {
	PushTimeout time.Duration
	Observer    Observer
}

// Orchestrator persists a notification first and then fans it out to the
// live connection and to push, independently of each other.
type Orchestrator struct {
	store    RecordStore
	live     LiveSender
	push     Pusher
	opts     Options
	log      *zap.Logger
	inflight sync.WaitGroup
}

// New creates an orchestrator. live or push may be nil to disable that channel.
func New(store RecordStore, live LiveSender, push Pusher, opts Options, log *zap.Logger) *Orchestrator {
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = time.Minute
	}
	return &Orchestrator{
		store: store,
		live:  live,
		push:  push,
		opts:  opts,
		log:   logger.OrNop(log).Named("dispatch"),
	}
}

// Dispatch stores the notification and starts delivery. Transport failures
// never surface here; push runs in the background and can be awaited with Wait.
func (o *Orchestrator) Dispatch(ctx context.Context, req Request) (*models.Notification, error) {
	priority := req.Priority
	if !priority.Valid() {
		priority = models.PriorityMedium
	}
	n := &models.Notification{
		UserID:   req.UserID,
		Type:     req.Type,
		Title:    req.Title,
		Body:     req.Body,
		Data:     req.Data,
		Priority: priority,
	}
	if req.TTL > 0 {
		expires := time.Now().UTC().Add(req.TTL)
		n.ExpiresAt = &expires
	}

	if err := o.store.CreateNotification(ctx, n); err != nil {
		metrics.NotificationsPersisted.WithLabelValues(string(req.Type), "failed").Inc()
		o.log.Error("persist notification",
			zap.String("user_id", req.UserID), zap.String("type", string(req.Type)), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	metrics.NotificationsPersisted.WithLabelValues(string(req.Type), "ok").Inc()

	log := o.log.With(zap.String("user_id", n.UserID), zap.String("notification_id", n.ID))

	if o.live != nil {
		o.deliverLive(log, n)
	}
	if o.push != nil {
		o.inflight.Add(1)
		go o.deliverPush(context.WithoutCancel(ctx), log, n)
	}
	return n, nil
}

func (o *Orchestrator) deliverLive(log *zap.Logger, n *models.Notification) {
	result := models.DispatchResult{Channel: models.ChannelSocket}
	if o.live.Send(n.UserID, MessageTypeNotification, n) {
		result.Sent = 1
		metrics.NotificationsDelivered.WithLabelValues(string(models.ChannelSocket), "sent").Inc()
		log.Debug("delivered over live connection")
	} else {
		metrics.NotificationsDelivered.WithLabelValues(string(models.ChannelSocket), "skipped").Inc()
		log.Debug("no live connection")
	}
	o.observe(n.UserID, result)
}

func (o *Orchestrator) deliverPush(ctx context.Context, log *zap.Logger, n *models.Notification) {
	defer o.inflight.Done()
	ctx, cancel := context.WithTimeout(ctx, o.opts.PushTimeout)
	defer cancel()

	result, err := o.push.SendToUser(ctx, n.UserID, n)
	if err != nil {
		log.Warn("push delivery failed", zap.Error(err))
		result = models.DispatchResult{Channel: models.ChannelPush}
	} else {
		log.Info("push delivery finished", zap.Int("sent", result.Sent), zap.Int("failed", result.Failed))
	}
	o.observe(n.UserID, result)
}

func (o *Orchestrator) observe(userID string, result models.DispatchResult) {
	if o.opts.Observer != nil {
		o.opts.Observer(userID, result)
	}
}

// Wait blocks until every push started by Dispatch has finished
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}
