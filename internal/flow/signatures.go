package flow

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/efreitasn/stockshares/internal/domain"
	"github.com/efreitasn/stockshares/internal/ledger"
	"github.com/efreitasn/stockshares/internal/network"
)

// collectSignatures signs stx with our keys, then asks every session's
// counterparty to sign in one round. The result carries every required
// signature except the notary's.
func (f *Flows) collectSignatures(
	ctx context.Context,
	stx *ledger.SignedTransaction,
	deps []*ledger.SignedTransaction,
	sessions []*network.Session,
) (*ledger.SignedTransaction, error) {
	stx, err := f.node.Sign(stx)
	if err != nil {
		return nil, err
	}
	if err := f.node.VerifyContracts(stx); err != nil {
		return nil, err
	}

	id := stx.ID()
	collected := make([][]ledger.TransactionSignature, len(sessions))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range sessions {
		i, s := i, s
		g.Go(func() error {
			name := s.Counterparty().Name
			if err := s.Send(gctx, SignatureRequest{Tx: stx, Dependencies: deps}); err != nil {
				return &domain.SignatureCollectionError{Counterparty: name, Err: err}
			}
			var resp SignatureResponse
			if err := s.Receive(gctx, &resp); err != nil {
				return &domain.SignatureCollectionError{Counterparty: name, Err: err}
			}
			if len(resp.Signatures) == 0 {
				return &domain.SignatureCollectionError{Counterparty: name, Err: errors.New("no signatures returned")}
			}
			for _, sig := range resp.Signatures {
				if err := sig.Verify(id); err != nil {
					return &domain.SignatureCollectionError{Counterparty: name, Err: err}
				}
			}
			collected[i] = resp.Signatures
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, sigs := range collected {
		stx = stx.WithSignatures(sigs...)
	}
	if err := stx.VerifySignatures(stx.Tx.Notary.Key); err != nil {
		return nil, err
	}
	return stx, nil
}

// signaturesBy returns the signatures on stx made with keys we own.
func (f *Flows) signaturesBy(stx *ledger.SignedTransaction) []ledger.TransactionSignature {
	var out []ledger.TransactionSignature
	for _, sig := range stx.Sigs {
		if f.node.Keys.Owns(sig.By) {
			out = append(out, sig)
		}
	}
	return out
}
