package ledger

import (
	"fmt"
	"sync"

	dbm "github.com/tendermint/tm-db"

	"github.com/efreitasn/stockshares/internal/domain"
)

// UniquenessProvider is the notary's consume-once primitive. A state ref
// can be committed by exactly one transaction; any other transaction that
// lists it as an input is rejected with a *domain.ConflictError.
//
// Safe for concurrent use by multiple goroutines.
type UniquenessProvider struct {
	mtx     sync.Mutex
	db      dbm.DB
	metrics *Metrics
}

// NewUniquenessProvider wraps db, which may be shared with other data as
// keys are prefixed.
func NewUniquenessProvider(db dbm.DB, metrics *Metrics) *UniquenessProvider {
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &UniquenessProvider{db: db, metrics: metrics}
}

// Commit marks inputs as consumed by txID. References must be unconsumed
// but are left untouched. Re-committing the same transaction is a no-op so
// a retried notarisation request succeeds.
func (u *UniquenessProvider) Commit(txID SecureHash, inputs, references []StateRef) error {
	u.mtx.Lock()
	defer u.mtx.Unlock()

	var conflicts []string
	var consumedBy SecureHash
	for _, ref := range append(append([]StateRef{}, inputs...), references...) {
		bz, err := u.db.Get(consumedKey(ref))
		if err != nil {
			return fmt.Errorf("reading %s: %w", ref, err)
		}
		if len(bz) > 0 && SecureHash(bz) != txID {
			conflicts = append(conflicts, ref.String())
			consumedBy = SecureHash(bz)
		}
	}
	if len(conflicts) > 0 {
		u.metrics.Conflicts.Add(1)
		return &domain.ConflictError{Refs: conflicts, ConsumedBy: string(consumedBy)}
	}

	b := u.db.NewBatch()
	defer b.Close()
	for _, ref := range inputs {
		if err := b.Set(consumedKey(ref), []byte(txID)); err != nil {
			return fmt.Errorf("staging %s: %w", ref, err)
		}
	}
	if err := b.WriteSync(); err != nil {
		return fmt.Errorf("committing %s: %w", txID, err)
	}
	u.metrics.Notarised.Add(1)
	return nil
}

// ConsumedBy returns the transaction that consumed ref, if any.
func (u *UniquenessProvider) ConsumedBy(ref StateRef) (SecureHash, bool, error) {
	bz, err := u.db.Get(consumedKey(ref))
	if err != nil {
		return "", false, err
	}
	if len(bz) == 0 {
		return "", false, nil
	}
	return SecureHash(bz), true, nil
}

func consumedKey(ref StateRef) []byte {
	return []byte("consumed/" + ref.String())
}
