package vault

import (
	"context"
	"sync"

	"github.com/google/btree"

	"github.com/efreitasn/stockshares/internal/ledger"
)

// Store persists the states a node tracks and whether they are consumed.
type Store interface {
	// Record atomically adds produced states and marks consumed ones spent.
	Record(ctx context.Context, produced []ledger.StateAndRef, consumed []ledger.StateRef) error
	// Unconsumed returns unspent states of the given kind in ref order.
	Unconsumed(ctx context.Context, kind ledger.StateKind) ([]ledger.StateAndRef, error)
	Close() error
}

type stateEntry struct {
	kind ledger.StateKind
	sr   ledger.StateAndRef
}

// entryLess orders states by kind, then transaction id, then output index,
// so one kind can be walked as a contiguous range.
func entryLess(a, b stateEntry) bool {
	if a.kind != b.kind {
		return a.kind < b.kind
	}
	if a.sr.Ref.TxID != b.sr.Ref.TxID {
		return a.sr.Ref.TxID < b.sr.Ref.TxID
	}
	return a.sr.Ref.Index < b.sr.Ref.Index
}

// MemoryStore is a thread-safe in-memory Store backed by a B-tree with a
// secondary index by ref for O(log n) consumption.
type MemoryStore struct {
	mu       sync.RWMutex
	states   *btree.BTreeG[stateEntry]
	index    map[ledger.StateRef]stateEntry
	consumed map[ledger.StateRef]struct{}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	const degree = 32
	return &MemoryStore{
		states:   btree.NewG[stateEntry](degree, entryLess),
		index:    make(map[ledger.StateRef]stateEntry),
		consumed: make(map[ledger.StateRef]struct{}),
	}
}

func (s *MemoryStore) Record(_ context.Context, produced []ledger.StateAndRef, consumed []ledger.StateRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ref := range consumed {
		s.consumed[ref] = struct{}{}
		if e, ok := s.index[ref]; ok {
			s.states.Delete(e)
			delete(s.index, ref)
		}
	}
	for _, sr := range produced {
		if _, spent := s.consumed[sr.Ref]; spent {
			continue
		}
		e := stateEntry{kind: sr.State.Kind(), sr: sr}
		s.states.ReplaceOrInsert(e)
		s.index[sr.Ref] = e
	}
	return nil
}

func (s *MemoryStore) Unconsumed(_ context.Context, kind ledger.StateKind) ([]ledger.StateAndRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ledger.StateAndRef, 0)
	s.states.AscendGreaterOrEqual(stateEntry{kind: kind}, func(e stateEntry) bool {
		if e.kind != kind {
			return false
		}
		out = append(out, e.sr)
		return true
	})
	return out, nil
}

// Len returns the number of unconsumed states of every kind.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states.Len()
}

func (s *MemoryStore) Close() error { return nil }
