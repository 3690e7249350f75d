package ledger

import (
	"errors"
	"fmt"
	"sync"
)

// ErrTransactionNotFound is returned when a transaction id is unknown.
var ErrTransactionNotFound = errors.New("transaction_not_found")

// TxStorage is a thread-safe in-memory store of signed transactions,
// keyed by id. It backs state resolution for contract verification.
type TxStorage struct {
	mu  sync.RWMutex
	txs map[SecureHash]*SignedTransaction
}

// NewTxStorage creates an empty TxStorage.
func NewTxStorage() *TxStorage {
	return &TxStorage{
		txs: make(map[SecureHash]*SignedTransaction),
	}
}

// Add stores stx. Storing a transaction again replaces it, which lets a
// notarised copy supersede one recorded before the notary signed.
func (s *TxStorage) Add(stx *SignedTransaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.txs[stx.ID()] = stx
}

// Get retrieves a transaction by id.
func (s *TxStorage) Get(id SecureHash) (*SignedTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stx, ok := s.txs[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return stx, nil
}

// ResolveState returns the output ref points at.
func (s *TxStorage) ResolveState(ref StateRef) (TransactionState, error) {
	stx, err := s.Get(ref.TxID)
	if err != nil {
		return TransactionState{}, err
	}
	if ref.Index < 0 || ref.Index >= len(stx.Tx.Outputs) {
		return TransactionState{}, fmt.Errorf("transaction %s has no output %d", ref.TxID, ref.Index)
	}
	return stx.Tx.Outputs[ref.Index], nil
}

// Len returns the number of stored transactions.
func (s *TxStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.txs)
}
