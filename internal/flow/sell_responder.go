package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/efreitasn/stockshares/internal/domain"
	"github.com/efreitasn/stockshares/internal/ledger"
	"github.com/efreitasn/stockshares/internal/network"
	"github.com/efreitasn/stockshares/internal/vault"
)

// respondSell is the buyer's side of SellStock. It reserves currency to
// cover the price notification, proposes the payment, signs the assembled
// transaction once it checks out and records it on finality. Its
// reservation is released however the session ends.
func (f *Flows) respondSell(ctx context.Context, s *network.Session) error {
	n := f.node
	runID := uuid.New()
	log := f.runLogger(FlowSellStock, runID).With("counterparty", s.Counterparty().Name)
	defer n.Vault.Release(runID)

	var note PriceNotification
	if err := s.Receive(ctx, &note); err != nil {
		return err
	}
	if note.Currency != n.Options.Currency {
		return fail(ctx, s, &domain.ValidationError{Message: fmt.Sprintf("cannot pay in %s", note.Currency)})
	}
	if note.StockQuantity <= 0 {
		return fail(ctx, s, &domain.ValidationError{Message: "stock quantity must be positive"})
	}

	changeKey, err := n.Keys.FreshKey()
	if err != nil {
		return fail(ctx, s, err)
	}
	move, err := n.Vault.GenerateMove(ctx, runID, note.Currency, note.PayTo, note.Amount, changeKey)
	if err != nil {
		return fail(ctx, s, err)
	}
	deps, err := f.producers(move.Inputs)
	if err != nil {
		return fail(ctx, s, err)
	}
	if err := s.Send(ctx, PaymentProposal{
		Inputs:       move.Inputs,
		Dependencies: deps,
		Outputs:      move.Outputs,
		Commands:     move.Commands,
	}); err != nil {
		return err
	}

	var req SignatureRequest
	if err := s.Receive(ctx, &req); err != nil {
		return err
	}
	if err := f.resolveDependencies(req.Dependencies); err != nil {
		return fail(ctx, s, err)
	}
	if err := f.checkSale(req.Tx, note, move); err != nil {
		log.Warn("refusing to sign sale", "error", err)
		return fail(ctx, s, err)
	}
	signed, err := n.Sign(req.Tx)
	if err != nil {
		return fail(ctx, s, err)
	}
	if err := s.Send(ctx, SignatureResponse{Signatures: f.signaturesBy(signed)}); err != nil {
		return err
	}

	var msg FinalityMessage
	if err := s.Receive(ctx, &msg); err != nil {
		return err
	}
	if msg.Tx == nil || msg.Tx.ID() != signed.ID() {
		return fail(ctx, s, errors.New("finalised transaction is not the one signed"))
	}
	stx, err := f.recordFinal(ctx, msg)
	if err != nil {
		return fail(ctx, s, err)
	}
	log.Info("stock purchased",
		"quantity", note.StockQuantity,
		"paid", note.Amount,
		"tx_id", string(stx.ID()),
	)
	return s.Send(ctx, FinalityAck{TxID: stx.ID()})
}

// checkSale is run before signing: the transaction must be valid, spend
// exactly the holdings we proposed, carry our payment and give us the
// stock we were promised.
func (f *Flows) checkSale(stx *ledger.SignedTransaction, note PriceNotification, move *vault.Move) error {
	if stx == nil {
		return errors.New("signature request carries no transaction")
	}
	n := f.node
	if stx.Tx.Notary.Key != n.Options.Notary.Key {
		return fmt.Errorf("transaction names notary %s, not %s", stx.Tx.Notary.Name, n.Options.Notary.Name)
	}
	if err := n.VerifyContracts(stx); err != nil {
		return err
	}

	proposed := make(map[ledger.StateRef]bool, len(move.Inputs))
	for _, in := range move.Inputs {
		proposed[in.Ref] = true
	}
	spent := 0
	for _, ref := range stx.Tx.Inputs {
		if proposed[ref] {
			spent++
			continue
		}
		st, err := n.Txs.ResolveState(ref)
		if err != nil {
			return err
		}
		if st.Holding != nil && n.Keys.Owns(st.Holding.Holder) {
			return fmt.Errorf("transaction spends %s, which was not proposed", ref)
		}
	}
	if spent != len(move.Inputs) {
		return errors.New("transaction does not spend the proposed inputs")
	}

	for _, want := range move.Outputs {
		if !containsHolding(stx.Tx.Outputs, *want.Holding) {
			return fmt.Errorf("transaction lacks output of %d %s to %s", want.Holding.Quantity, want.Holding.Token, want.Holding.Holder.Short())
		}
	}

	var received int64
	for _, out := range stx.Tx.Outputs {
		if out.Holding != nil && out.Holding.Token == note.Stock && n.Keys.Owns(out.Holding.Holder) {
			received += out.Holding.Quantity
		}
	}
	if received != note.StockQuantity {
		return fmt.Errorf("transaction gives us %d of the stock, want %d", received, note.StockQuantity)
	}
	return nil
}

// producers returns the transactions that created states.
func (f *Flows) producers(states []ledger.StateAndRef) ([]*ledger.SignedTransaction, error) {
	seen := make(map[ledger.SecureHash]bool)
	var out []*ledger.SignedTransaction
	for _, sr := range states {
		if seen[sr.Ref.TxID] {
			continue
		}
		seen[sr.Ref.TxID] = true
		stx, err := f.node.Txs.Get(sr.Ref.TxID)
		if err != nil {
			return nil, err
		}
		out = append(out, stx)
	}
	return out, nil
}

func containsHolding(outputs []ledger.TransactionState, h domain.FungibleToken) bool {
	for _, out := range outputs {
		if out.Holding != nil && *out.Holding == h {
			return true
		}
	}
	return false
}
