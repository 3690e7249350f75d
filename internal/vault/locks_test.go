package vault

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/stockshares/internal/domain"
	"github.com/efreitasn/stockshares/internal/ledger"
)

func newTestLockTable(ttl time.Duration, now time.Time) *LockTable {
	lt := NewLockTable(ttl)
	lt.now = func() time.Time { return now }
	return lt
}

func TestLockTable_LockIsExclusive(t *testing.T) {
	lt := newTestLockTable(time.Minute, time.Now())
	a, b := uuid.New(), uuid.New()

	if err := lt.Lock(a, []ledger.StateRef{ref("x", 0), ref("x", 1)}); err != nil {
		t.Fatalf("Lock(a): %v", err)
	}
	err := lt.Lock(b, []ledger.StateRef{ref("y", 0), ref("x", 1)})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Lock(b) err = %v, want ErrConflict", err)
	}
	// All or nothing: y:0 must not have been taken by b.
	if lt.LockedByOther(ref("y", 0), a) {
		t.Error("y:0 should be free after a failed lock")
	}
	// The same lock can extend itself.
	if err := lt.Lock(a, []ledger.StateRef{ref("x", 1), ref("y", 0)}); err != nil {
		t.Fatalf("re-Lock(a): %v", err)
	}

	if n := lt.Release(a); n != 3 {
		t.Errorf("Release(a) = %d, want 3", n)
	}
	if err := lt.Lock(b, []ledger.StateRef{ref("x", 1)}); err != nil {
		t.Errorf("Lock(b) after release: %v", err)
	}
	if lt.Release(uuid.New()) != 0 {
		t.Error("releasing an unknown lock should be a no-op")
	}
}

func TestLockTable_ReleaseRefs(t *testing.T) {
	lt := newTestLockTable(time.Minute, time.Now())
	a := uuid.New()
	_ = lt.Lock(a, []ledger.StateRef{ref("x", 0), ref("x", 1)})

	lt.ReleaseRefs([]ledger.StateRef{ref("x", 0)})
	if lt.Len() != 1 {
		t.Fatalf("Len = %d, want 1", lt.Len())
	}
	lt.ReleaseRefs([]ledger.StateRef{ref("x", 1)})
	if lt.Len() != 0 {
		t.Errorf("Len = %d, want 0 once every ref is released", lt.Len())
	}
}

func TestLockTable_Expire(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lt := newTestLockTable(time.Minute, now)
	early, late := uuid.New(), uuid.New()

	_ = lt.Lock(early, []ledger.StateRef{ref("x", 0)})
	lt.now = func() time.Time { return now.Add(30 * time.Second) }
	_ = lt.Lock(late, []ledger.StateRef{ref("x", 1)})

	if got := lt.Expire(now.Add(59 * time.Second)); len(got) != 0 {
		t.Fatalf("expired too early: %v", got)
	}
	got := lt.Expire(now.Add(time.Minute))
	if len(got) != 1 || got[0] != early {
		t.Fatalf("Expire = %v, want [%s]", got, early)
	}
	if !lt.LockedByOther(ref("x", 1), early) {
		t.Error("late lock should still hold x:1")
	}
	if got := lt.Expire(now.Add(2 * time.Minute)); len(got) != 1 || got[0] != late {
		t.Errorf("Expire = %v, want [%s]", got, late)
	}
}
