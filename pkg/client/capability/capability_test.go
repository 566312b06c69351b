package capability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/anonto42/dogpark/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeNotifier struct {
	mu          sync.Mutex
	granted     bool
	permErr     error
	scheduleErr error
	panics      bool
	requests    int
	scheduled   []string
}

func (n *fakeNotifier) RequestPermission(context.Context) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests++
	return n.granted, n.permErr
}

func (n *fakeNotifier) ScheduleImmediate(_ context.Context, title, _ string, _ map[string]interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.panics {
		panic("native module missing")
	}
	if n.scheduleErr != nil {
		return n.scheduleErr
	}
	n.scheduled = append(n.scheduled, title)
	return nil
}

type fakeRegistrar struct {
	token string
	err   error
	calls int
}

func (r *fakeRegistrar) Register(context.Context) (string, error) {
	r.calls++
	return r.token, r.err
}

type fakePusher struct {
	err    error
	pushed []string
}

func (p *fakePusher) Push(_ context.Context, token, title, _ string, _ map[string]interface{}) error {
	if p.err != nil {
		return p.err
	}
	p.pushed = append(p.pushed, token+":"+title)
	return nil
}

type fakeAlerter struct{ alerts []string }

func (a *fakeAlerter) Alert(title, _ string) { a.alerts = append(a.alerts, title) }

func TestDetector_InitializeOnce(t *testing.T) {
	notifier := &fakeNotifier{granted: true}
	registrar := &fakeRegistrar{token: "fcm-abc"}
	d := NewDetector(Device{Platform: "android"}, notifier, registrar, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Initialize(context.Background())
		}()
	}
	wg.Wait()
	c := d.Initialize(context.Background())

	assert.Equal(t, 1, notifier.requests)
	assert.Equal(t, 1, registrar.calls)
	assert.Equal(t, Capability{
		CanReceivePush:  true,
		CanReceiveLocal: true,
		Platform:        "android",
		PushToken:       "fcm-abc",
		PreferredMethod: models.ChannelPush,
	}, c)
}

func TestDetector_Simulator(t *testing.T) {
	registrar := &fakeRegistrar{token: "never-used"}
	d := NewDetector(Device{Platform: "ios", IsSimulator: true}, &fakeNotifier{granted: true}, registrar, zaptest.NewLogger(t))

	c := d.Initialize(context.Background())
	assert.False(t, c.CanReceivePush)
	assert.True(t, c.CanReceiveLocal)
	assert.Equal(t, models.ChannelLocal, c.PreferredMethod)
	assert.Zero(t, registrar.calls)
}

func TestDetector_NothingGranted(t *testing.T) {
	d := NewDetector(Device{Platform: "web"},
		&fakeNotifier{permErr: errors.New("denied")},
		&fakeRegistrar{err: errors.New("no service worker")},
		zaptest.NewLogger(t))

	c := d.Initialize(context.Background())
	assert.Equal(t, models.ChannelAlert, c.PreferredMethod)
}

// every capability permutation, with every channel either working or failing
func TestHybridSender_SendSmartAlwaysDelivers(t *testing.T) {
	for _, canPush := range []bool{true, false} {
		for _, canLocal := range []bool{true, false} {
			for _, channelsFail := range []bool{false, true} {
				name := fmt.Sprintf("push=%v/local=%v/failing=%v", canPush, canLocal, channelsFail)
				t.Run(name, func(t *testing.T) {
					notifier := &fakeNotifier{granted: canLocal}
					registrar := &fakeRegistrar{}
					if canPush {
						registrar.token = "fcm-abc"
					}
					pusher := &fakePusher{}
					if channelsFail {
						pusher.err = errors.New("backend unreachable")
						notifier.scheduleErr = errors.New("scheduling failed")
					}
					alerter := &fakeAlerter{}
					d := NewDetector(Device{Platform: "android"}, notifier, registrar, zaptest.NewLogger(t))
					s := NewHybridSender(d, pusher, notifier, alerter, zaptest.NewLogger(t))

					var got models.Channel
					require.NotPanics(t, func() {
						got = s.SendSmart(context.Background(), "Walk time", "Rex is waiting", nil)
					})

					want := models.ChannelAlert
					switch {
					case channelsFail:
					case canPush:
						want = models.ChannelPush
					case canLocal:
						want = models.ChannelLocal
					}
					assert.Equal(t, want, got)

					delivered := len(pusher.pushed) + len(notifier.scheduled) + len(alerter.alerts)
					assert.Equal(t, 1, delivered, "exactly one channel shows the notification")
				})
			}
		}
	}
}

func TestHybridSender_PushFailureFallsBackToLocal(t *testing.T) {
	notifier := &fakeNotifier{granted: true}
	pusher := &fakePusher{err: errors.New("timeout")}
	d := NewDetector(Device{Platform: "ios"}, notifier, &fakeRegistrar{token: "apns-abc"}, zaptest.NewLogger(t))
	s := NewHybridSender(d, pusher, notifier, &fakeAlerter{}, zaptest.NewLogger(t))

	assert.Equal(t, models.ChannelLocal, s.SendSmart(context.Background(), "Hi", "", nil))
	assert.Equal(t, []string{"Hi"}, notifier.scheduled)
}

func TestHybridSender_PanickingNotifierFallsBackToAlert(t *testing.T) {
	notifier := &fakeNotifier{granted: true, panics: true}
	alerter := &fakeAlerter{}
	d := NewDetector(Device{Platform: "android"}, notifier, nil, zaptest.NewLogger(t))
	s := NewHybridSender(d, nil, notifier, alerter, zaptest.NewLogger(t))

	assert.Equal(t, models.ChannelAlert, s.SendSmart(context.Background(), "Hi", "", nil))
	assert.Equal(t, []string{"Hi"}, alerter.alerts)
}

func TestHybridSender_ProcessServerNotification(t *testing.T) {
	n := models.Notification{ID: "n1", Type: models.NotificationEventInvite, Title: "Event invitation", Data: map[string]interface{}{"eventId": "ev-1"}}

	t.Run("push capable device shows nothing", func(t *testing.T) {
		notifier := &fakeNotifier{granted: true}
		d := NewDetector(Device{Platform: "android"}, notifier, &fakeRegistrar{token: "fcm-abc"}, zaptest.NewLogger(t))
		s := NewHybridSender(d, &fakePusher{}, notifier, &fakeAlerter{}, zaptest.NewLogger(t))

		_, shown := s.ProcessServerNotification(context.Background(), n)
		assert.False(t, shown)
		assert.Empty(t, notifier.scheduled)
	})

	t.Run("simulator renders locally", func(t *testing.T) {
		notifier := &fakeNotifier{granted: true}
		d := NewDetector(Device{Platform: "ios", IsSimulator: true}, notifier, &fakeRegistrar{token: "x"}, zaptest.NewLogger(t))
		s := NewHybridSender(d, &fakePusher{}, notifier, &fakeAlerter{}, zaptest.NewLogger(t))

		ch, shown := s.ProcessServerNotification(context.Background(), n)
		assert.True(t, shown)
		assert.Equal(t, models.ChannelLocal, ch)
		assert.Equal(t, []string{"Event invitation"}, notifier.scheduled)
	})

	t.Run("no permissions falls back to alert", func(t *testing.T) {
		alerter := &fakeAlerter{}
		d := NewDetector(Device{Platform: "web"}, &fakeNotifier{}, nil, zaptest.NewLogger(t))
		s := NewHybridSender(d, nil, nil, alerter, zaptest.NewLogger(t))

		ch, shown := s.ProcessServerNotification(context.Background(), n)
		assert.True(t, shown)
		assert.Equal(t, models.ChannelAlert, ch)
		assert.Len(t, alerter.alerts, 1)
	})
}
