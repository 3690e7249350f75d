package vault

import (
	"context"
	"log/slog"
	"time"
)

// LockReaper periodically expires soft locks that outlived their TTL, for
// flows that died without releasing them.
type LockReaper struct {
	interval time.Duration
	locks    *LockTable
	logger   *slog.Logger
}

// NewLockReaper creates a LockReaper for locks.
func NewLockReaper(interval time.Duration, locks *LockTable, logger *slog.Logger) *LockReaper {
	return &LockReaper{interval: interval, locks: locks, logger: logger}
}

// Start launches a background goroutine that ticks at the configured
// interval and expires locks. It stops when ctx is cancelled.
func (r *LockReaper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				r.tick(t)
			}
		}
	}()
}

func (r *LockReaper) tick(now time.Time) {
	for _, id := range r.locks.Expire(now) {
		r.logger.Warn("soft lock expired", "lock_id", id.String())
	}
}
