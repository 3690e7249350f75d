package vault

import (
	"sort"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/efreitasn/stockshares/internal/domain"
	"github.com/efreitasn/stockshares/internal/ledger"
)

// softLock is a reservation of states by one flow run.
type softLock struct {
	id        uuid.UUID
	refs      []ledger.StateRef
	expiresAt time.Time
}

// expiryLess orders locks by expires_at ascending, then lock id, so Min()
// is the next lock to expire.
func expiryLess(a, b *softLock) bool {
	if !a.expiresAt.Equal(b.expiresAt) {
		return a.expiresAt.Before(b.expiresAt)
	}
	return a.id.String() < b.id.String()
}

// LockTable reserves unconsumed states for a flow run so concurrent flows
// on the same node do not select them. It is an optimisation only: the
// notary's consume-once check decides conflicts.
type LockTable struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	byRef  map[ledger.StateRef]*softLock
	locks  map[uuid.UUID]*softLock
	expiry *btree.BTreeG[*softLock]
}

// NewLockTable creates a LockTable whose locks expire ttl after they were
// last taken.
func NewLockTable(ttl time.Duration) *LockTable {
	const degree = 16
	return &LockTable{
		ttl:    ttl,
		now:    time.Now,
		byRef:  make(map[ledger.StateRef]*softLock),
		locks:  make(map[uuid.UUID]*softLock),
		expiry: btree.NewG[*softLock](degree, expiryLess),
	}
}

// Lock reserves refs under id. Either every ref is reserved or none is: a
// ref held by another lock yields a *domain.ConflictError. Locking again
// under the same id adds refs and refreshes the expiry.
func (t *LockTable) Lock(id uuid.UUID, refs []ledger.StateRef) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var held []string
	for _, ref := range refs {
		if l, ok := t.byRef[ref]; ok && l.id != id {
			held = append(held, ref.String())
		}
	}
	if len(held) > 0 {
		sort.Strings(held)
		return &domain.ConflictError{Refs: held}
	}

	l, ok := t.locks[id]
	if ok {
		t.expiry.Delete(l)
	} else {
		l = &softLock{id: id}
		t.locks[id] = l
	}
	for _, ref := range refs {
		if _, mine := t.byRef[ref]; !mine {
			l.refs = append(l.refs, ref)
			t.byRef[ref] = l
		}
	}
	l.expiresAt = t.now().Add(t.ttl)
	t.expiry.ReplaceOrInsert(l)
	return nil
}

// Release drops the lock id and returns how many refs it held.
func (t *LockTable) Release(id uuid.UUID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.release(id)
}

func (t *LockTable) release(id uuid.UUID) int {
	l, ok := t.locks[id]
	if !ok {
		return 0
	}
	delete(t.locks, id)
	t.expiry.Delete(l)
	for _, ref := range l.refs {
		if t.byRef[ref] == l {
			delete(t.byRef, ref)
		}
	}
	return len(l.refs)
}

// ReleaseRefs drops reservations of refs, whichever lock holds them. Used
// once the refs are consumed.
func (t *LockTable) ReleaseRefs(refs []ledger.StateRef) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, ref := range refs {
		l, ok := t.byRef[ref]
		if !ok {
			continue
		}
		delete(t.byRef, ref)
		kept := l.refs[:0]
		for _, r := range l.refs {
			if r != ref {
				kept = append(kept, r)
			}
		}
		l.refs = kept
		if len(l.refs) == 0 {
			delete(t.locks, l.id)
			t.expiry.Delete(l)
		}
	}
}

// LockedByOther reports whether ref is reserved by a lock other than id.
func (t *LockTable) LockedByOther(ref ledger.StateRef, id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.byRef[ref]
	return ok && l.id != id
}

// Expire releases every lock whose expiry is at or before now and returns
// their ids.
func (t *LockTable) Expire(now time.Time) []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []uuid.UUID
	for {
		l, ok := t.expiry.Min()
		if !ok || l.expiresAt.After(now) {
			break
		}
		expired = append(expired, l.id)
		t.release(l.id)
	}
	return expired
}

// Len returns the number of live locks.
func (t *LockTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
