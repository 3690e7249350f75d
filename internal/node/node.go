// Package node is the explicit context every flow runs against: the local
// identity, its keys, vault and transaction storage, and the network.
package node

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/efreitasn/stockshares/internal/contract"
	"github.com/efreitasn/stockshares/internal/domain"
	"github.com/efreitasn/stockshares/internal/ledger"
	"github.com/efreitasn/stockshares/internal/network"
	"github.com/efreitasn/stockshares/internal/vault"
)

// StatesToRecord selects which outputs of a transaction a node keeps.
type StatesToRecord int

const (
	// OnlyRelevant keeps outputs whose participants include our keys.
	OnlyRelevant StatesToRecord = iota
	// AllVisible keeps every output, as an observer does.
	AllVisible
)

// Observer is told about every transaction the node records, with the
// recorded outputs that belong to the node's keys.
type Observer interface {
	TransactionRecorded(party string, stx *ledger.SignedTransaction, owned []ledger.StateAndRef)
}

// Options carries the node's network-wide settings.
type Options struct {
	Notary domain.Party
	// Maintainer is the name of the party that creates and evolves stock
	// tokens.
	Maintainer          string
	Currency            domain.TokenType
	StockFractionDigits int32
}

// Node is a party's runtime: identity, keys, vault and transactions.
type Node struct {
	Party   domain.Party
	Keys    *KeyManager
	Vault   *vault.Vault
	Txs     *ledger.TxStorage
	Network *network.Network
	Logger  *slog.Logger
	Options Options

	// Uniqueness is set only on the notary.
	Uniqueness *ledger.UniquenessProvider

	observers []Observer
}

// New creates a node named name with a fresh legal key, registers it with
// the network's identity service and opens its vault over store.
func New(name string, store vault.Store, locks *vault.LockTable, net *network.Network, logger *slog.Logger, opts Options) (*Node, error) {
	keys, err := NewKeyManager()
	if err != nil {
		return nil, err
	}
	party := domain.Party{Name: name, Key: keys.LegalKey()}
	net.Identities().Register(party)
	return &Node{
		Party:   party,
		Keys:    keys,
		Vault:   vault.New(store, locks, keys),
		Txs:     ledger.NewTxStorage(),
		Network: net,
		Logger:  logger.With("party", name),
		Options: opts,
	}, nil
}

// AddObserver registers o for record notifications.
func (n *Node) AddObserver(o Observer) {
	n.observers = append(n.observers, o)
}

// Resolve looks a counterparty up by display name.
func (n *Node) Resolve(name string) (domain.Party, error) {
	return n.Network.Identities().Resolve(name)
}

// Initiate opens a session to party for flow.
func (n *Node) Initiate(ctx context.Context, party domain.Party, flow string) (*network.Session, error) {
	return n.Network.Initiate(ctx, n.Party, party, flow)
}

// RegisterResponder installs the node's responder for flow.
func (n *Node) RegisterResponder(flow string, r network.Responder) {
	n.Network.RegisterResponder(n.Party, flow, r)
}

// Sign adds signatures by every key of ours that the transaction
// requires.
func (n *Node) Sign(stx *ledger.SignedTransaction) (*ledger.SignedTransaction, error) {
	id := stx.ID()
	var sigs []ledger.TransactionSignature
	for _, key := range n.Keys.Filter(stx.Tx.RequiredSigningKeys()) {
		sig, err := n.Keys.Sign(id, key)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	return stx.WithSignatures(sigs...), nil
}

// SignWith signs stx with one specific key of ours, as the notary does.
func (n *Node) SignWith(stx *ledger.SignedTransaction, key domain.PublicKey) (*ledger.SignedTransaction, error) {
	sig, err := n.Keys.Sign(stx.ID(), key)
	if err != nil {
		return nil, err
	}
	return stx.WithSignatures(sig), nil
}

// VerifyContracts resolves stx's inputs and references from local storage
// and runs the contracts.
func (n *Node) VerifyContracts(stx *ledger.SignedTransaction) error {
	ltx, err := stx.Tx.ToLedgerTransaction(n.Txs)
	if err != nil {
		return err
	}
	return contract.Verify(ltx)
}

// Verify checks contracts and signatures. Keys in allowedMissing may not
// have signed yet.
func (n *Node) Verify(stx *ledger.SignedTransaction, allowedMissing ...domain.PublicKey) error {
	if err := n.VerifyContracts(stx); err != nil {
		return err
	}
	return stx.VerifySignatures(allowedMissing...)
}

// Record stores stx and applies it to the vault: its inputs are consumed
// and the selected outputs are produced.
func (n *Node) Record(ctx context.Context, stx *ledger.SignedTransaction, which StatesToRecord) error {
	n.Txs.Add(stx)

	var produced, owned []ledger.StateAndRef
	for i, out := range stx.Tx.Outputs {
		relevant := n.isRelevant(out)
		if which == AllVisible || relevant {
			produced = append(produced, stx.Tx.OutRef(i))
		}
		if relevant {
			owned = append(owned, stx.Tx.OutRef(i))
		}
	}
	if err := n.Vault.Record(ctx, produced, stx.Tx.Inputs); err != nil {
		return fmt.Errorf("recording %s: %w", stx.ID(), err)
	}
	n.Logger.Debug("transaction recorded", "tx_id", string(stx.ID()), "produced", len(produced))

	for _, o := range n.observers {
		o.TransactionRecorded(n.Party.Name, stx, owned)
	}
	return nil
}

func (n *Node) isRelevant(st ledger.TransactionState) bool {
	for _, k := range st.ParticipantKeys() {
		if n.Keys.Owns(k) {
			return true
		}
	}
	return false
}
