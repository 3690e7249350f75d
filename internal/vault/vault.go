// Package vault is a node's view of the ledger: the unconsumed states it
// holds or observes, soft locks over them and the queries flows select
// from.
package vault

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/efreitasn/stockshares/internal/domain"
	"github.com/efreitasn/stockshares/internal/ledger"
)

// KeyOwner reports whether a key belongs to the local node.
type KeyOwner interface {
	Owns(key domain.PublicKey) bool
}

// HoldingCriteria narrows a holding query. Zero fields match anything.
type HoldingCriteria struct {
	TokenType *domain.TokenType
	Issuer    *domain.Party
}

func (c HoldingCriteria) matches(h *domain.FungibleToken) bool {
	if c.TokenType != nil && h.Token.TokenType != *c.TokenType {
		return false
	}
	if c.Issuer != nil && h.Token.Issuer != *c.Issuer {
		return false
	}
	return true
}

// Vault combines a Store with soft locks and the owning node's keys.
type Vault struct {
	store Store
	locks *LockTable
	owner KeyOwner

	// selectMu serialises select-then-lock so two flows never pick the
	// same unlocked states.
	selectMu sync.Mutex
}

// New creates a Vault.
func New(store Store, locks *LockTable, owner KeyOwner) *Vault {
	return &Vault{store: store, locks: locks, owner: owner}
}

// Locks returns the vault's lock table.
func (v *Vault) Locks() *LockTable {
	return v.locks
}

// Record applies a transaction's effect on this vault and drops soft locks
// on consumed states.
func (v *Vault) Record(ctx context.Context, produced []ledger.StateAndRef, consumed []ledger.StateRef) error {
	if err := v.store.Record(ctx, produced, consumed); err != nil {
		return err
	}
	v.locks.ReleaseRefs(consumed)
	return nil
}

// QueryHoldings returns unconsumed holdings owned by this node that match
// criteria.
func (v *Vault) QueryHoldings(ctx context.Context, criteria HoldingCriteria) ([]ledger.StateAndRef, error) {
	all, err := v.store.Unconsumed(ctx, ledger.KindHolding)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.StateAndRef, 0, len(all))
	for _, sr := range all {
		h := sr.State.Holding
		if h == nil || !v.owner.Owns(h.Holder) || !criteria.matches(h) {
			continue
		}
		out = append(out, sr)
	}
	return out, nil
}

// Tokens returns the current version of every stock token the vault
// knows, as maintainer or observer.
func (v *Vault) Tokens(ctx context.Context) ([]ledger.StateAndRef, error) {
	return v.store.Unconsumed(ctx, ledger.KindStockToken)
}

// ResolveToken returns the current version of the token with linear id.
func (v *Vault) ResolveToken(ctx context.Context, id domain.LinearID) (ledger.StateAndRef, error) {
	return v.findToken(ctx, func(t *domain.StockShareToken) bool { return t.LinearID == id })
}

// TokenByCode returns the current version of the token with company code.
func (v *Vault) TokenByCode(ctx context.Context, code string) (ledger.StateAndRef, error) {
	return v.findToken(ctx, func(t *domain.StockShareToken) bool { return t.CompanyCode == code })
}

func (v *Vault) findToken(ctx context.Context, match func(*domain.StockShareToken) bool) (ledger.StateAndRef, error) {
	tokens, err := v.Tokens(ctx)
	if err != nil {
		return ledger.StateAndRef{}, err
	}
	for _, sr := range tokens {
		if match(sr.State.StockToken) {
			return sr, nil
		}
	}
	return ledger.StateAndRef{}, domain.ErrTokenNotFound
}

// TaggedHoldings returns the node's unconsumed stock holdings, each tagged
// with the company code of the token it points at. Holdings whose token
// is unknown to this vault are left out.
func (v *Vault) TaggedHoldings(ctx context.Context) ([]TaggedHolding, error) {
	tokens, err := v.Tokens(ctx)
	if err != nil {
		return nil, err
	}
	codes := make(map[domain.LinearID]string, len(tokens))
	for _, sr := range tokens {
		codes[sr.State.StockToken.LinearID] = sr.State.StockToken.CompanyCode
	}

	holdings, err := v.QueryHoldings(ctx, HoldingCriteria{})
	if err != nil {
		return nil, err
	}
	out := make([]TaggedHolding, 0, len(holdings))
	for _, sr := range holdings {
		tt := sr.State.Holding.Token.TokenType
		if !tt.IsPointer() {
			continue
		}
		code, ok := codes[tt.Pointer]
		if !ok {
			continue
		}
		out = append(out, TaggedHolding{Code: code, StateAndRef: sr})
	}
	return out, nil
}

// Balances sums unconsumed owned holdings per issued token type.
func (v *Vault) Balances(ctx context.Context) (map[domain.IssuedTokenType]int64, error) {
	holdings, err := v.QueryHoldings(ctx, HoldingCriteria{})
	if err != nil {
		return nil, err
	}
	out := make(map[domain.IssuedTokenType]int64)
	for _, sr := range holdings {
		out[sr.State.Holding.Token] += sr.State.Holding.Quantity
	}
	return out, nil
}

// Lock reserves refs for the flow run lockID.
func (v *Vault) Lock(lockID uuid.UUID, refs []ledger.StateRef) error {
	return v.locks.Lock(lockID, refs)
}

// Release drops every reservation held by lockID.
func (v *Vault) Release(lockID uuid.UUID) int {
	return v.locks.Release(lockID)
}
