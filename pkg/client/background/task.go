package background

import (
	"context"
	"errors"
	"time"

	"github.com/anonto42/dogpark/backend/internal/models"
	"github.com/anonto42/dogpark/backend/pkg/logger"
	"go.uber.org/zap"
)

// TaskName identifies the background notification task to the host OS
const TaskName = "background-notification-task"

// Status reports whether background reception could be registered
type Status string

const (
	StatusAvailable   Status = "available"
	StatusUnavailable Status = "unavailable"
)

// TaskFunc is invoked by the host with the raw payload of a notification
type TaskFunc func(ctx context.Context, raw []byte) error

// Host is the OS facility that runs tasks while the app has no UI
type Host interface {
	SupportsBackgroundTasks() bool
	RegisterTask(name string, fn TaskFunc) error
}

// badgeTypes raise the cached badge counter on receipt
var badgeTypes = map[string]bool{
	string(models.NotificationMessageReceived):       true,
	string(models.NotificationFriendRequest):         true,
	string(models.NotificationFriendRequestAccepted): true,
	string(models.NotificationEventInvite):           true,
	string(models.NotificationEventReminder):         true,
}

// Receiver stages payloads delivered while the app is backgrounded or terminated
type Receiver struct {
	store *Store
	log   *zap.Logger
	now   func() time.Time
}

// NewReceiver creates a Receiver writing to store
func NewReceiver(store *Store, log *zap.Logger) *Receiver {
	return &Receiver{store: store, log: logger.OrNop(log).Named("background"), now: time.Now}
}

// Register installs HandleBackground with the host. Hosts without persistent
// background tasks report StatusUnavailable; the app then relies on the
// foreground live connection.
func (r *Receiver) Register(host Host) Status {
	if host == nil || !host.SupportsBackgroundTasks() {
		r.log.Info("background tasks not supported, using foreground delivery only")
		return StatusUnavailable
	}
	if err := host.RegisterTask(TaskName, r.HandleBackground); err != nil {
		r.log.Warn("background task registration failed", zap.Error(err))
		return StatusUnavailable
	}
	r.log.Info("background notification task registered", zap.String("task", TaskName))
	return StatusAvailable
}

// HandleBackground normalises raw and appends it to the pending queue.
// Unknown shapes are logged and dropped.
func (r *Receiver) HandleBackground(ctx context.Context, raw []byte) error {
	p, err := Decode(raw)
	if errors.Is(err, ErrUnknownPayload) {
		r.log.Warn("dropping background payload of unknown shape", zap.Int("bytes", len(raw)), zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}

	entry, err := r.store.Append(ctx, p, r.now())
	if err != nil {
		r.log.Error("stage background notification", zap.Error(err))
		return err
	}

	if badgeTypes[p.Action.Type] {
		if n, err := r.store.IncrBadge(ctx, 1); err != nil {
			r.log.Warn("update badge counter", zap.Error(err))
		} else {
			r.log.Debug("badge counter updated", zap.Int("badge", n))
		}
	}

	r.log.Debug("background notification staged",
		zap.String("entry_id", entry.ID), zap.String("variant", p.Variant.String()), zap.String("type", p.Action.Type))
	return nil
}
