// Package capability picks the best notification channel a device can use and
// falls back down the preference order when a channel fails.
package capability

import (
	"context"
	"sync"

	"github.com/anonto42/dogpark/backend/internal/models"
	"github.com/anonto42/dogpark/backend/pkg/logger"
	"go.uber.org/zap"
)

// Capability is what the device was found able to receive
type Capability struct {
	CanReceivePush  bool           `json:"canReceivePush"`
	CanReceiveLocal bool           `json:"canReceiveLocal"`
	Platform        string         `json:"platform"`
	IsSimulator     bool           `json:"isSimulator"`
	PushToken       string         `json:"pushToken,omitempty"`
	PreferredMethod models.Channel `json:"preferredMethod"`
}

// Device describes the host the app runs on
type Device struct {
	Platform    string
	IsSimulator bool
}

// LocalNotifier is the OS local notification service
type LocalNotifier interface {
	RequestPermission(ctx context.Context) (bool, error)
	ScheduleImmediate(ctx context.Context, title, body string, data map[string]interface{}) error
}

// PushRegistrar obtains a device push token. Simulators fail here.
type PushRegistrar interface {
	Register(ctx context.Context) (token string, err error)
}

// Detector inspects the device once per session
type Detector struct {
	device    Device
	notifier  LocalNotifier
	registrar PushRegistrar
	log       *zap.Logger

	once sync.Once
	cap  Capability
}

// NewDetector creates a Detector. registrar may be nil on platforms without push.
func NewDetector(device Device, notifier LocalNotifier, registrar PushRegistrar, log *zap.Logger) *Detector {
	return &Detector{
		device:    device,
		notifier:  notifier,
		registrar: registrar,
		log:       logger.OrNop(log).Named("capability"),
	}
}

// Initialize checks permissions and push registration. Only the first call
// inspects the device; later calls return the cached result.
func (d *Detector) Initialize(ctx context.Context) Capability {
	d.once.Do(func() {
		d.cap = d.inspect(ctx)
		d.log.Info("notification capability detected",
			zap.String("platform", d.cap.Platform),
			zap.Bool("simulator", d.cap.IsSimulator),
			zap.Bool("push", d.cap.CanReceivePush),
			zap.Bool("local", d.cap.CanReceiveLocal),
			zap.String("preferred", string(d.cap.PreferredMethod)))
	})
	return d.cap
}

func (d *Detector) inspect(ctx context.Context) Capability {
	c := Capability{Platform: d.device.Platform, IsSimulator: d.device.IsSimulator}

	if d.notifier != nil {
		granted, err := d.notifier.RequestPermission(ctx)
		if err != nil {
			d.log.Warn("notification permission request failed", zap.Error(err))
		}
		c.CanReceiveLocal = granted && err == nil
	}

	if d.registrar != nil && !d.device.IsSimulator {
		token, err := d.registrar.Register(ctx)
		switch {
		case err != nil:
			d.log.Warn("push registration failed", zap.Error(err))
		case token != "":
			c.CanReceivePush = true
			c.PushToken = token
		}
	}

	c.PreferredMethod = preferred(c)
	return c
}

func preferred(c Capability) models.Channel {
	switch {
	case c.CanReceivePush:
		return models.ChannelPush
	case c.CanReceiveLocal:
		return models.ChannelLocal
	}
	return models.ChannelAlert
}
