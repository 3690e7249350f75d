package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/efreitasn/stockshares/internal/allocation"
	"github.com/efreitasn/stockshares/internal/domain"
	"github.com/efreitasn/stockshares/internal/ledger"
	"github.com/efreitasn/stockshares/internal/network"
	"github.com/efreitasn/stockshares/internal/vault"
)

// SaleStage is a step of the sell flow. A failed sale reports the stage it
// stopped in.
type SaleStage string

const (
	StageSelectingAsset       SaleStage = "selecting_asset"
	StageComputingAllocations SaleStage = "computing_allocations"
	StageNegotiating          SaleStage = "negotiating"
	StageAssembling           SaleStage = "assembling_transaction"
	StageCollectingSignatures SaleStage = "collecting_signatures"
	StageUpdatingDistribution SaleStage = "updating_distribution"
	StageFinalizing           SaleStage = "finalizing"
	StageCommitted            SaleStage = "committed"
)

// Recipient is one buyer of a sale and the percentage of the holding it
// takes.
type Recipient struct {
	Name       string
	Percentage decimal.Decimal
}

type buyer struct {
	party   domain.Party
	alloc   allocation.Allocation
	session *network.Session

	inputs   []ledger.StateAndRef
	outputs  []ledger.TransactionState
	commands []ledger.Command
}

type sale struct {
	f      *Flows
	log    *slog.Logger
	runID  uuid.UUID
	code   string
	shares []allocation.Share
	buyers []*buyer
	stage  SaleStage

	holding ledger.StateAndRef
	token   ledger.StateAndRef
}

// SellStock sells this node's holding of a company's stock to recipients,
// split by percentage, in one transaction where each buyer pays its share
// of the holding's value at the token's current price.
//
// Percentages and identities are checked before any counterparty is
// contacted. Any failure after that aborts the sale for every party: all
// sessions are closed and every reservation released. A concurrent spend
// of the same holding fails with an error matching domain.ErrConflict.
func (f *Flows) SellStock(ctx context.Context, code string, recipients []Recipient) (*ledger.SignedTransaction, error) {
	n := f.node

	shares := make([]allocation.Share, len(recipients))
	for i, r := range recipients {
		shares[i] = allocation.Share{Recipient: r.Name, Percentage: r.Percentage}
	}
	if err := allocation.ValidateShares(shares); err != nil {
		return nil, err
	}
	buyers := make([]*buyer, len(recipients))
	for i, r := range recipients {
		party, err := n.Resolve(r.Name)
		if err != nil {
			return nil, err
		}
		if party.Key == n.Party.Key {
			return nil, &domain.ValidationError{Message: "cannot sell stock to yourself"}
		}
		buyers[i] = &buyer{party: party}
	}

	runID := uuid.New()
	s := &sale{
		f:      f,
		log:    f.runLogger(FlowSellStock, runID).With("company_code", code),
		runID:  runID,
		code:   code,
		shares: shares,
		buyers: buyers,
	}
	f.metrics.SalesStarted.With("party", n.Party.Name).Add(1)

	stx, err := s.run(ctx)
	for _, b := range buyers {
		if b.session != nil {
			b.session.Close()
		}
	}
	n.Vault.Release(runID)

	if err != nil {
		f.metrics.SalesAborted.With("party", n.Party.Name, "stage", string(s.stage)).Add(1)
		s.log.Warn("sale aborted", "stage", string(s.stage), "error", err)
		return nil, err
	}
	f.metrics.SalesCommitted.With("party", n.Party.Name).Add(1)
	s.log.Info("sale committed", "tx_id", string(stx.ID()), "buyers", len(buyers))
	return stx, nil
}

func (s *sale) run(ctx context.Context) (*ledger.SignedTransaction, error) {
	s.stage = StageSelectingAsset
	if err := s.selectAsset(ctx); err != nil {
		return nil, err
	}

	s.stage = StageComputingAllocations
	if err := s.computeAllocations(); err != nil {
		return nil, err
	}

	s.stage = StageNegotiating
	if err := s.negotiate(ctx); err != nil {
		return nil, err
	}

	s.stage = StageAssembling
	stx, err := s.assemble()
	if err != nil {
		return nil, err
	}
	deps, err := s.f.dependencies(stx)
	if err != nil {
		return nil, err
	}

	sessions := make([]*network.Session, len(s.buyers))
	names := make([]string, len(s.buyers))
	for i, b := range s.buyers {
		sessions[i] = b.session
		names[i] = b.party.Name
	}

	s.stage = StageCollectingSignatures
	stx, err = s.f.collectSignatures(ctx, stx, deps, sessions)
	if err != nil {
		return nil, err
	}

	s.stage = StageUpdatingDistribution
	if err := s.f.updateDistributionList(ctx, *s.token.State.StockToken, names); err != nil {
		s.log.Warn("distribution list update failed", "error", err)
	}

	s.stage = StageFinalizing
	stx, err = s.f.finalise(ctx, s.log, stx, deps, sessions, false)
	if err != nil {
		return nil, err
	}

	s.stage = StageCommitted
	return stx, nil
}

// selectAsset picks the single holding of the company and reserves it.
func (s *sale) selectAsset(ctx context.Context) error {
	v := s.f.node.Vault
	holdings, err := v.TaggedHoldings(ctx)
	if err != nil {
		return err
	}
	holding, err := vault.SelectHolding(holdings, s.code)
	if err != nil {
		return err
	}
	token, err := v.ResolveToken(ctx, holding.State.Holding.Token.TokenType.Pointer)
	if err != nil {
		return err
	}
	if err := v.Lock(s.runID, []ledger.StateRef{holding.Ref}); err != nil {
		return err
	}
	s.holding, s.token = holding, token
	return nil
}

func (s *sale) computeAllocations() error {
	tok := s.token.State.StockToken
	allocs, err := allocation.Calculate(allocation.Request{
		Quantity:       s.holding.State.Holding.Quantity,
		FractionDigits: tok.FractionDigits,
		Price:          tok.Price,
		CurrencyDigits: s.f.node.Options.Currency.FractionDigits,
		Shares:         s.shares,
	})
	if err != nil {
		return err
	}
	for i, a := range allocs {
		s.buyers[i].alloc = a
	}
	return nil
}

// negotiate runs one price round per buyer in parallel and returns once
// every round has finished. The first failure cancels the others.
func (s *sale) negotiate(ctx context.Context) error {
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for _, b := range s.buyers {
		b := b
		g.Go(func() error {
			return s.negotiateWith(gctx, b)
		})
	}
	err := g.Wait()
	s.f.metrics.NegotiationDuration.With("party", s.f.node.Party.Name).Observe(time.Since(start).Seconds())
	return err
}

func (s *sale) negotiateWith(ctx context.Context, b *buyer) error {
	n := s.f.node
	negotiationErr := func(stage string, err error) error {
		return &domain.NegotiationError{Counterparty: b.party.Name, Stage: stage, Err: err}
	}

	session, err := n.Initiate(ctx, b.party, FlowSellStock)
	if err != nil {
		return negotiationErr("open", err)
	}
	b.session = session

	note := PriceNotification{
		Amount:        b.alloc.Currency,
		Currency:      n.Options.Currency,
		PayTo:         n.Party.Key,
		Stock:         s.holding.State.Holding.Token,
		StockQuantity: b.alloc.Tokens,
	}
	if err := session.Send(ctx, note); err != nil {
		return negotiationErr("price", err)
	}
	var proposal PaymentProposal
	if err := session.Receive(ctx, &proposal); err != nil {
		return negotiationErr("price", err)
	}
	if err := s.f.resolveDependencies(proposal.Dependencies); err != nil {
		return negotiationErr("payment", err)
	}
	inputs, err := s.checkPayment(note, proposal)
	if err != nil {
		return negotiationErr("payment", err)
	}
	b.inputs, b.outputs, b.commands = inputs, proposal.Outputs, proposal.Commands
	s.log.Debug("payment proposed",
		"counterparty", b.party.Name,
		"amount", note.Amount,
		"inputs", len(inputs),
	)
	return nil
}

// checkPayment resolves a buyer's proposed inputs against their producing
// transactions and checks the outputs pay exactly the amount owed.
func (s *sale) checkPayment(note PriceNotification, p PaymentProposal) ([]ledger.StateAndRef, error) {
	if len(p.Inputs) == 0 {
		return nil, errors.New("no currency inputs proposed")
	}
	inputs := make([]ledger.StateAndRef, 0, len(p.Inputs))
	for _, in := range p.Inputs {
		st, err := s.f.node.Txs.ResolveState(in.Ref)
		if err != nil {
			return nil, err
		}
		if st.Holding == nil || st.Holding.Token.TokenType != note.Currency {
			return nil, fmt.Errorf("input %s is not a %s holding", in.Ref, note.Currency)
		}
		inputs = append(inputs, ledger.StateAndRef{State: st, Ref: in.Ref})
	}
	for _, c := range p.Commands {
		if c.Type != ledger.CmdMove {
			return nil, fmt.Errorf("unexpected %s command", c.Type)
		}
	}

	var paid int64
	for _, out := range p.Outputs {
		if out.Holding == nil {
			return nil, errors.New("proposed output is not a holding")
		}
		if out.Holding.Holder == note.PayTo && out.Holding.Token.TokenType == note.Currency {
			paid += out.Holding.Quantity
		}
	}
	if paid != note.Amount {
		return nil, fmt.Errorf("proposal pays %d, want %d", paid, note.Amount)
	}
	return inputs, nil
}

// assemble builds the sale transaction: the seller's holding split between
// the buyers, plus every buyer's payment.
func (s *sale) assemble() (*ledger.SignedTransaction, error) {
	n := s.f.node
	held := *s.holding.State.Holding
	notary := s.holding.State.Notary

	b := ledger.NewTransactionBuilder(notary).
		AddInputState(s.holding).
		AddReferenceState(s.token)

	var moved int64
	for _, by := range s.buyers {
		b.AddOutputState(ledger.HoldingState(domain.FungibleToken{
			Token:    held.Token,
			Quantity: by.alloc.Tokens,
			Holder:   by.party.Key,
		}, notary))
		moved += by.alloc.Tokens
	}
	switch change := held.Quantity - moved; {
	case change < 0:
		return nil, fmt.Errorf("allocations of %d exceed the holding of %d", moved, held.Quantity)
	case change > 0:
		b.AddOutputState(ledger.HoldingState(domain.FungibleToken{
			Token:    held.Token,
			Quantity: change,
			Holder:   n.Party.Key,
		}, notary))
	}
	b.AddCommand(ledger.Command{Type: ledger.CmdMove, Token: &held.Token, Signers: []domain.PublicKey{held.Holder}})

	for _, by := range s.buyers {
		for _, in := range by.inputs {
			b.AddInputState(in)
		}
		for _, out := range by.outputs {
			b.AddOutputState(out)
		}
		for _, c := range by.commands {
			b.AddCommand(c)
		}
	}
	return &ledger.SignedTransaction{Tx: b.ToWireTransaction()}, nil
}
