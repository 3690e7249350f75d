package flow

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/efreitasn/stockshares/internal/ledger"
	"github.com/efreitasn/stockshares/internal/network"
	"github.com/efreitasn/stockshares/internal/node"
)

// finalise notarises stx if needed, records it locally and sends it over
// every session, waiting for each counterparty to acknowledge it. It fails
// only if notarisation or local recording does: once committed, delivery
// failures are logged.
func (f *Flows) finalise(
	ctx context.Context,
	logger *slog.Logger,
	stx *ledger.SignedTransaction,
	deps []*ledger.SignedTransaction,
	sessions []*network.Session,
	observer bool,
) (*ledger.SignedTransaction, error) {
	notarised, err := f.notarise(ctx, stx, deps)
	if err != nil {
		return nil, err
	}
	if err := f.node.Record(ctx, notarised, node.OnlyRelevant); err != nil {
		return nil, err
	}
	if err := f.broadcast(ctx, notarised, deps, sessions, observer); err != nil {
		logger.Warn("finality delivery failed", "tx_id", string(notarised.ID()), "error", err)
	}
	return notarised, nil
}

// broadcast delivers a committed transaction to every session in parallel.
func (f *Flows) broadcast(
	ctx context.Context,
	stx *ledger.SignedTransaction,
	deps []*ledger.SignedTransaction,
	sessions []*network.Session,
	observer bool,
) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		s := s
		g.Go(func() error {
			if err := s.Send(gctx, FinalityMessage{Tx: stx, Dependencies: deps, Observer: observer}); err != nil {
				return fmt.Errorf("delivering %s to %s: %w", stx.ID(), s.Counterparty().Name, err)
			}
			var ack FinalityAck
			if err := s.Receive(gctx, &ack); err != nil {
				return fmt.Errorf("awaiting %s acknowledgement: %w", s.Counterparty().Name, err)
			}
			if ack.TxID != stx.ID() {
				return fmt.Errorf("%s acknowledged %s, not %s", s.Counterparty().Name, ack.TxID, stx.ID())
			}
			return nil
		})
	}
	return g.Wait()
}

// receiveFinality is the counterpart of broadcast: it checks the delivered
// transaction is valid and fully signed, records it and acknowledges.
func (f *Flows) receiveFinality(ctx context.Context, s *network.Session) error {
	var msg FinalityMessage
	if err := s.Receive(ctx, &msg); err != nil {
		return err
	}
	stx, err := f.recordFinal(ctx, msg)
	if err != nil {
		return fail(ctx, s, err)
	}
	return s.Send(ctx, FinalityAck{TxID: stx.ID()})
}

func (f *Flows) recordFinal(ctx context.Context, msg FinalityMessage) (*ledger.SignedTransaction, error) {
	if msg.Tx == nil {
		return nil, fmt.Errorf("finality message carries no transaction")
	}
	if err := f.resolveDependencies(msg.Dependencies); err != nil {
		return nil, err
	}
	if err := f.node.Verify(msg.Tx); err != nil {
		return nil, err
	}
	which := node.OnlyRelevant
	if msg.Observer {
		which = node.AllVisible
	}
	if err := f.node.Record(ctx, msg.Tx, which); err != nil {
		return nil, err
	}
	if err := f.recordReferencedTokens(ctx, msg.Tx); err != nil {
		return nil, err
	}
	return msg.Tx, nil
}

// recordReferencedTokens keeps the token definitions a transaction points
// at, so holdings received through it can be resolved to a company code.
func (f *Flows) recordReferencedTokens(ctx context.Context, stx *ledger.SignedTransaction) error {
	for _, ref := range stx.Tx.References {
		st, err := f.node.Txs.ResolveState(ref)
		if err != nil || st.StockToken == nil {
			continue
		}
		if _, err := f.node.Vault.ResolveToken(ctx, st.StockToken.LinearID); err == nil {
			continue
		}
		producer, err := f.node.Txs.Get(ref.TxID)
		if err != nil {
			return err
		}
		if err := f.node.Record(ctx, producer, node.AllVisible); err != nil {
			return err
		}
	}
	return nil
}
