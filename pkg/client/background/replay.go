package background

import (
	"context"
	"fmt"
	"time"

	"github.com/anonto42/dogpark/backend/pkg/logger"
	"go.uber.org/zap"
)

// DefaultRetention bounds how long staged entries are kept
const DefaultRetention = time.Hour

// Handler performs the foreground action of a staged entry, e.g. navigation.
// It may see the same entry again after a crash and must be idempotent.
type Handler func(ctx context.Context, e Entry) error

// ReplayStats summarises one resume cycle
type ReplayStats struct {
	Purged   int64
	Replayed int
	Failed   int
}

// Replayer drains the pending queue when the app returns to the foreground
type Replayer struct {
	store     *Store
	handler   Handler
	retention time.Duration
	log       *zap.Logger
	now       func() time.Time
}

// NewReplayer creates a Replayer
func NewReplayer(store *Store, handler Handler, log *zap.Logger) *Replayer {
	return &Replayer{
		store:     store,
		handler:   handler,
		retention: DefaultRetention,
		log:       logger.OrNop(log).Named("replay"),
		now:       time.Now,
	}
}

// Resume purges stale entries and then replays unhandled ones one at a time
// in arrival order. Each entry is marked handled right after its action
// succeeds. A failing entry is logged and left for the next resume.
func (r *Replayer) Resume(ctx context.Context) (ReplayStats, error) {
	var stats ReplayStats

	purged, err := r.store.Purge(ctx, r.now().Add(-r.retention))
	if err != nil {
		return stats, fmt.Errorf("purge pending notifications: %w", err)
	}
	stats.Purged = purged

	entries, err := r.store.Unhandled(ctx)
	if err != nil {
		return stats, fmt.Errorf("load pending notifications: %w", err)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		log := r.log.With(zap.String("entry_id", e.ID), zap.String("type", e.Payload.Action.Type))
		if err := r.run(ctx, e); err != nil {
			stats.Failed++
			log.Warn("pending notification action failed", zap.Error(err))
			continue
		}
		if err := r.store.MarkHandled(ctx, e.ID); err != nil {
			stats.Failed++
			log.Error("mark pending notification handled", zap.Error(err))
			continue
		}
		stats.Replayed++
	}

	if stats.Purged > 0 || len(entries) > 0 {
		r.log.Info("pending notifications replayed",
			zap.Int64("purged", stats.Purged), zap.Int("replayed", stats.Replayed), zap.Int("failed", stats.Failed))
	}
	return stats, nil
}

func (r *Replayer) run(ctx context.Context, e Entry) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()
	return r.handler(ctx, e)
}

// Once wraps h so an action that already completed is not repeated when its
// entry is replayed again, e.g. after the app died before MarkHandled. The
// completion is keyed by notification id when present and recorded only after
// h succeeds, so an action interrupted midway runs again on the next resume.
// Completion marks are purged with the entries.
func Once(store *Store, h Handler) Handler {
	return func(ctx context.Context, e Entry) error {
		key := "entry:" + e.ID
		if id := e.Payload.Action.NotificationID; id != "" {
			key = "notification:" + id
		}
		done, err := store.Completed(ctx, key)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := h(ctx, e); err != nil {
			return err
		}
		return store.MarkCompleted(ctx, key, time.Now())
	}
}
