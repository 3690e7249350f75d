package ledger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/efreitasn/stockshares/internal/domain"
)

// SecureHash is a hex-encoded SHA-256 digest identifying a transaction.
type SecureHash string

// StateRef points at one output of a recorded transaction.
type StateRef struct {
	TxID  SecureHash `json:"tx_id"`
	Index int        `json:"index"`
}

func (r StateRef) String() string {
	return fmt.Sprintf("%s:%d", r.TxID, r.Index)
}

// ParseStateRef parses the form produced by StateRef.String.
func ParseStateRef(s string) (StateRef, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 {
		return StateRef{}, fmt.Errorf("invalid state ref %q", s)
	}
	idx, err := strconv.Atoi(s[i+1:])
	if err != nil || idx < 0 {
		return StateRef{}, fmt.Errorf("invalid state ref index in %q", s)
	}
	return StateRef{TxID: SecureHash(s[:i]), Index: idx}, nil
}

// ContractID names the contract that governs a state.
type ContractID string

const (
	StockTokenContract    ContractID = "StockShareTokenContract"
	FungibleTokenContract ContractID = "FungibleTokenContract"
)

// StateKind distinguishes the two kinds of state the ledger carries.
type StateKind string

const (
	KindStockToken StateKind = "stock_token"
	KindHolding    StateKind = "holding"
)

// TransactionState is one output of a transaction. Exactly one of
// StockToken and Holding is set.
type TransactionState struct {
	Contract   ContractID              `json:"contract"`
	Notary     domain.Party            `json:"notary"`
	StockToken *domain.StockShareToken `json:"stock_token,omitempty"`
	Holding    *domain.FungibleToken   `json:"holding,omitempty"`
}

// TokenState wraps a stock token definition.
func TokenState(t domain.StockShareToken, notary domain.Party) TransactionState {
	return TransactionState{Contract: StockTokenContract, Notary: notary, StockToken: &t}
}

// HoldingState wraps a fungible holding.
func HoldingState(f domain.FungibleToken, notary domain.Party) TransactionState {
	return TransactionState{Contract: FungibleTokenContract, Notary: notary, Holding: &f}
}

// Kind reports which payload the state carries.
func (s TransactionState) Kind() StateKind {
	if s.StockToken != nil {
		return KindStockToken
	}
	return KindHolding
}

// ParticipantKeys returns the keys whose vaults track the state.
func (s TransactionState) ParticipantKeys() []domain.PublicKey {
	switch {
	case s.StockToken != nil:
		keys := make([]domain.PublicKey, 0, 1)
		for _, m := range s.StockToken.Maintainers() {
			keys = append(keys, m.Key)
		}
		return keys
	case s.Holding != nil:
		return []domain.PublicKey{s.Holding.Holder}
	}
	return nil
}

// StateAndRef pairs a state with its position on the ledger.
type StateAndRef struct {
	State TransactionState `json:"state"`
	Ref   StateRef         `json:"ref"`
}
