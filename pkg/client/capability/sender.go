package capability

import (
	"context"
	"errors"
	"fmt"

	"github.com/anonto42/dogpark/backend/internal/models"
	"github.com/anonto42/dogpark/backend/pkg/logger"
	"go.uber.org/zap"
)

// RemotePusher asks the backend to deliver a push to this device's token
type RemotePusher interface {
	Push(ctx context.Context, token, title, body string, data map[string]interface{}) error
}

// Alerter shows a synchronous in-app alert. It has no failure mode.
type Alerter interface {
	Alert(title, body string)
}

// HybridSender delivers through the best channel the device supports and
// cascades push > local > alert until one succeeds
type HybridSender struct {
	detector *Detector
	pusher   RemotePusher
	notifier LocalNotifier
	alerter  Alerter
	log      *zap.Logger
}

// NewHybridSender creates a HybridSender; pusher and notifier may be nil
func NewHybridSender(detector *Detector, pusher RemotePusher, notifier LocalNotifier, alerter Alerter, log *zap.Logger) *HybridSender {
	return &HybridSender{
		detector: detector,
		pusher:   pusher,
		notifier: notifier,
		alerter:  alerter,
		log:      logger.OrNop(log).Named("hybrid_sender"),
	}
}

// SendSmart shows the notification through the first channel that works,
// starting at the preferred one. It always delivers something and returns
// the channel that was used.
func (s *HybridSender) SendSmart(ctx context.Context, title, body string, data map[string]interface{}) models.Channel {
	c := s.detector.Initialize(ctx)
	return s.cascade(ctx, c, c.PreferredMethod, title, body, data)
}

// ProcessServerNotification renders a notification that arrived over the
// live connection. Devices that can receive real push already showed a native
// banner, so nothing is rendered and false is returned.
func (s *HybridSender) ProcessServerNotification(ctx context.Context, n models.Notification) (models.Channel, bool) {
	c := s.detector.Initialize(ctx)
	if c.CanReceivePush {
		return "", false
	}

	data := make(map[string]interface{}, len(n.Data)+2)
	for k, v := range n.Data {
		data[k] = v
	}
	data["notificationId"] = n.ID
	data["type"] = string(n.Type)
	return s.cascade(ctx, c, models.ChannelLocal, n.Title, n.Body, data), true
}

func (s *HybridSender) cascade(ctx context.Context, c Capability, from models.Channel, title, body string, data map[string]interface{}) models.Channel {
	for _, ch := range []models.Channel{models.ChannelPush, models.ChannelLocal} {
		if rank(ch) < rank(from) {
			continue
		}
		err := s.attempt(ctx, c, ch, title, body, data)
		if err == nil {
			return ch
		}
		s.log.Debug("delivery channel failed, falling back", zap.String("channel", string(ch)), zap.Error(err))
	}

	if s.alerter != nil {
		s.alerter.Alert(title, body)
	} else {
		s.log.Warn("no alert presenter, notification shown in log only", zap.String("title", title))
	}
	return models.ChannelAlert
}

func rank(ch models.Channel) int {
	switch ch {
	case models.ChannelPush:
		return 0
	case models.ChannelLocal:
		return 1
	}
	return 2
}

var errUnavailable = errors.New("channel unavailable")

// attempt runs one channel; a panicking collaborator counts as a failure
func (s *HybridSender) attempt(ctx context.Context, c Capability, ch models.Channel, title, body string, data map[string]interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s channel panicked: %v", ch, r)
		}
	}()

	switch ch {
	case models.ChannelPush:
		if !c.CanReceivePush || s.pusher == nil {
			return errUnavailable
		}
		return s.pusher.Push(ctx, c.PushToken, title, body, data)
	case models.ChannelLocal:
		if !c.CanReceiveLocal || s.notifier == nil {
			return errUnavailable
		}
		return s.notifier.ScheduleImmediate(ctx, title, body, data)
	}
	return errUnavailable
}
