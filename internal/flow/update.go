package flow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/stockshares/internal/domain"
	"github.com/efreitasn/stockshares/internal/ledger"
	"github.com/efreitasn/stockshares/internal/network"
)

// UpdateStock evolves the token of a company to a new price. The current
// version is consumed and a new one with the same linear id is created,
// then sent to every party on the token's distribution list.
func (f *Flows) UpdateStock(ctx context.Context, code string, price decimal.Decimal) (*ledger.SignedTransaction, error) {
	n := f.node
	log := f.runLogger(FlowUpdateStock, uuid.New())

	current, err := n.Vault.TokenByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	tok := *current.State.StockToken
	if tok.Maintainer.Key != n.Party.Key {
		return nil, &domain.ValidationError{Message: fmt.Sprintf("%s is maintained by %s", code, tok.Maintainer.Name)}
	}
	next := tok
	next.Price = price

	wtx := ledger.NewTransactionBuilder(current.State.Notary).
		AddInputState(current).
		AddOutputState(ledger.TokenState(next, current.State.Notary)).
		AddCommand(ledger.Command{Type: ledger.CmdUpdateToken, Signers: []domain.PublicKey{n.Party.Key}}).
		ToWireTransaction()

	stx, err := n.Sign(&ledger.SignedTransaction{Tx: wtx})
	if err != nil {
		return nil, err
	}
	if err := n.Verify(stx, wtx.Notary.Key); err != nil {
		return nil, err
	}
	deps, err := f.dependencies(stx)
	if err != nil {
		return nil, err
	}

	var sessions []*network.Session
	for _, name := range f.dist.Parties(tok.LinearID) {
		if name == n.Party.Name {
			continue
		}
		party, err := n.Resolve(name)
		if err != nil {
			log.Warn("skipping distribution", "counterparty", name, "error", err)
			continue
		}
		s, err := n.Initiate(ctx, party, FlowUpdateStock)
		if err != nil {
			log.Warn("skipping distribution", "counterparty", name, "error", err)
			continue
		}
		defer s.Close()
		sessions = append(sessions, s)
	}

	stx, err = f.finalise(ctx, log, stx, deps, sessions, true)
	if err != nil {
		return nil, err
	}
	log.Info("stock updated",
		"company_code", code,
		"price", price.String(),
		"distributed_to", len(sessions),
		"tx_id", string(stx.ID()),
	)
	return stx, nil
}
