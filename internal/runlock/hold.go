package runlock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jun/invoicescout/internal/logging"
)

// Hold is an acquired lease kept alive by a background heartbeat.
type Hold struct {
	locker Locker
	key    string
	owner  string
	logger *slog.Logger

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Acquire takes key for owner and heartbeats every interval until Release.
// A zero interval uses half of DefaultTTL.
func Acquire(ctx context.Context, locker Locker, key, owner string, interval time.Duration, logger *slog.Logger) (*Hold, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if interval <= 0 {
		interval = DefaultTTL / 2
	}
	if _, err := locker.Acquire(ctx, key, owner); err != nil {
		return nil, err
	}
	h := &Hold{
		locker: locker,
		key:    key,
		owner:  owner,
		logger: logger.With("component", "runlock", "key", key),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go h.beat(context.WithoutCancel(ctx), interval)
	return h, nil
}

func (h *Hold) beat(ctx context.Context, interval time.Duration) {
	defer close(h.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			if _, err := h.locker.Heartbeat(ctx, h.key, h.owner); err != nil {
				h.logger.Warn("lease heartbeat failed", "error", err)
			}
		}
	}
}

// Release stops the heartbeat and gives the lease up. It is safe to call twice.
func (h *Hold) Release(ctx context.Context) error {
	var err error
	h.once.Do(func() {
		close(h.stop)
		<-h.done
		err = h.locker.Release(ctx, h.key, h.owner)
	})
	return err
}
