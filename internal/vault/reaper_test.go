package vault

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/stockshares/internal/ledger"
)

func TestLockReaper_ExpiresStaleLocks(t *testing.T) {
	lt := NewLockTable(10 * time.Millisecond)
	_ = lt.Lock(uuid.New(), []ledger.StateRef{ref("x", 0)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	NewLockReaper(5*time.Millisecond, lt, slog.New(slog.NewTextHandler(io.Discard, nil))).Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for lt.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("lock was not reaped")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLockReaper_TickKeepsLiveLocks(t *testing.T) {
	lt := NewLockTable(time.Hour)
	_ = lt.Lock(uuid.New(), []ledger.StateRef{ref("x", 0)})

	r := NewLockReaper(time.Second, lt, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.tick(time.Now())
	if lt.Len() != 1 {
		t.Errorf("Len = %d, want 1", lt.Len())
	}
}
