package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/efreitasn/stockshares/internal/domain"
	"github.com/efreitasn/stockshares/internal/ledger"
	"github.com/efreitasn/stockshares/internal/network"
)

// notarise has the transaction's notary commit its inputs and returns the
// transaction with the notary's signature. Transactions without inputs are
// returned unchanged. A double spend yields a *domain.ConflictError.
func (f *Flows) notarise(ctx context.Context, stx *ledger.SignedTransaction, deps []*ledger.SignedTransaction) (*ledger.SignedTransaction, error) {
	if !stx.Tx.NeedsNotary() {
		return stx, nil
	}
	notary := stx.Tx.Notary
	s, err := f.node.Initiate(ctx, notary, FlowNotarise)
	if err != nil {
		return nil, fmt.Errorf("contacting notary %s: %w", notary.Name, err)
	}
	defer s.Close()

	if err := s.Send(ctx, NotariseRequest{Tx: stx, Dependencies: deps}); err != nil {
		return nil, fmt.Errorf("sending to notary: %w", err)
	}
	var resp NotariseResponse
	if err := s.Receive(ctx, &resp); err != nil {
		return nil, fmt.Errorf("awaiting notary: %w", err)
	}
	if resp.Conflict != nil {
		return nil, resp.Conflict
	}
	if resp.Signature == nil || resp.Signature.By != notary.Key {
		return nil, errors.New("notary response carries no notary signature")
	}
	if err := resp.Signature.Verify(stx.ID()); err != nil {
		return nil, fmt.Errorf("notary signature: %w", err)
	}
	return stx.WithSignatures(*resp.Signature), nil
}

// respondNotarise runs on the notary. It checks the transaction is valid
// and signed by everyone but the notary, then commits its inputs through
// the uniqueness provider.
func (f *Flows) respondNotarise(ctx context.Context, s *network.Session) error {
	var req NotariseRequest
	if err := s.Receive(ctx, &req); err != nil {
		return err
	}
	if req.Tx == nil {
		return fail(ctx, s, errors.New("empty notarisation request"))
	}

	n := f.node
	stx := req.Tx
	if stx.Tx.Notary.Key != n.Party.Key {
		return fail(ctx, s, fmt.Errorf("transaction names notary %s, not %s", stx.Tx.Notary.Name, n.Party.Name))
	}
	if err := f.resolveDependencies(req.Dependencies); err != nil {
		return fail(ctx, s, err)
	}
	if err := n.Verify(stx, n.Party.Key); err != nil {
		return fail(ctx, s, err)
	}

	err := n.Uniqueness.Commit(stx.ID(), stx.Tx.Inputs, stx.Tx.References)
	var conflict *domain.ConflictError
	switch {
	case errors.As(err, &conflict):
		n.Logger.Info("notarisation rejected", "tx_id", string(stx.ID()), "conflicts", conflict.Refs)
		return s.Send(ctx, NotariseResponse{Conflict: conflict})
	case err != nil:
		return fail(ctx, s, err)
	}

	sig, err := n.Keys.Sign(stx.ID(), n.Party.Key)
	if err != nil {
		return fail(ctx, s, err)
	}
	n.Logger.Info("transaction notarised", "tx_id", string(stx.ID()), "inputs", len(stx.Tx.Inputs))
	return s.Send(ctx, NotariseResponse{Signature: &sig})
}
