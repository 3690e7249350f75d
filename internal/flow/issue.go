package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/stockshares/internal/domain"
	"github.com/efreitasn/stockshares/internal/ledger"
	"github.com/efreitasn/stockshares/internal/network"
	"github.com/efreitasn/stockshares/internal/node"
)

// IssueCurrency issues amount of the configured currency, issued by this
// node, to recipient.
func (f *Flows) IssueCurrency(ctx context.Context, amount decimal.Decimal, recipientName string) (*ledger.SignedTransaction, error) {
	n := f.node
	log := f.runLogger(FlowIssueCurrency, uuid.New())

	recipient, err := n.Resolve(recipientName)
	if err != nil {
		return nil, err
	}
	currency := n.Options.Currency
	qty, err := domain.ToMinorUnits(amount, currency.FractionDigits)
	if err != nil {
		return nil, &domain.ValidationError{Message: err.Error()}
	}
	if qty <= 0 {
		return nil, &domain.ValidationError{Message: "amount must be > 0"}
	}

	token := domain.IssuedTokenType{Issuer: n.Party, TokenType: currency}
	wtx := ledger.NewTransactionBuilder(n.Options.Notary).
		AddOutputState(ledger.HoldingState(domain.FungibleToken{Token: token, Quantity: qty, Holder: recipient.Key}, n.Options.Notary)).
		AddCommand(ledger.Command{Type: ledger.CmdIssue, Token: &token, Signers: []domain.PublicKey{n.Party.Key}}).
		ToWireTransaction()

	stx, err := f.issue(ctx, log, wtx, recipient, FlowIssueCurrency)
	if err != nil {
		return nil, err
	}
	log.Info("currency issued", "recipient", recipient.Name, "quantity", qty, "tx_id", string(stx.ID()))
	return stx, nil
}

// IssueStockRequest describes stock to issue.
type IssueStockRequest struct {
	Company     string
	CompanyCode string
	Price       decimal.Decimal
	// Quantity in whole shares.
	Quantity  int64
	Recipient string
}

// IssueStock issues shares of a company to recipient. The first issue of
// a company code creates its token, with this node as maintainer; later
// issues reuse it. The recipient is added to the token's distribution
// list.
func (f *Flows) IssueStock(ctx context.Context, req IssueStockRequest) (*ledger.SignedTransaction, error) {
	n := f.node
	log := f.runLogger(FlowIssueStock, uuid.New())

	if n.Party.Name != n.Options.Maintainer {
		return nil, &domain.ValidationError{Message: fmt.Sprintf("only %s can issue stock", n.Options.Maintainer)}
	}
	if req.Quantity <= 0 {
		return nil, &domain.ValidationError{Message: "quantity must be > 0"}
	}
	recipient, err := n.Resolve(req.Recipient)
	if err != nil {
		return nil, err
	}

	tokenRef, err := f.stockToken(ctx, req)
	if err != nil {
		return nil, err
	}
	tok := *tokenRef.State.StockToken
	qty := req.Quantity * domain.WholeUnits(tok.FractionDigits)

	shares := domain.IssuedTokenType{Issuer: n.Party, TokenType: tok.Pointer()}
	wtx := ledger.NewTransactionBuilder(n.Options.Notary).
		AddReferenceState(tokenRef).
		AddOutputState(ledger.HoldingState(domain.FungibleToken{Token: shares, Quantity: qty, Holder: recipient.Key}, n.Options.Notary)).
		AddCommand(ledger.Command{Type: ledger.CmdIssue, Token: &shares, Signers: []domain.PublicKey{n.Party.Key}}).
		ToWireTransaction()

	stx, err := f.issue(ctx, log, wtx, recipient, FlowIssueStock)
	if err != nil {
		return nil, err
	}
	f.dist.Add(tok.LinearID, recipient.Name)
	log.Info("stock issued",
		"company_code", tok.CompanyCode,
		"recipient", recipient.Name,
		"quantity", qty,
		"tx_id", string(stx.ID()),
	)
	return stx, nil
}

// stockToken returns the current token for req's company code, creating
// it when the code is new.
func (f *Flows) stockToken(ctx context.Context, req IssueStockRequest) (ledger.StateAndRef, error) {
	n := f.node
	existing, err := n.Vault.TokenByCode(ctx, req.CompanyCode)
	if err == nil {
		tok := existing.State.StockToken
		if tok.Company != req.Company {
			return ledger.StateAndRef{}, &domain.ValidationError{
				Message: fmt.Sprintf("company code %s already belongs to %s", req.CompanyCode, tok.Company),
			}
		}
		if !tok.Price.Equal(req.Price) {
			return ledger.StateAndRef{}, &domain.ValidationError{
				Message: fmt.Sprintf("%s is priced at %s; update the stock to change its price", req.CompanyCode, tok.Price),
			}
		}
		return existing, nil
	}
	if !errors.Is(err, domain.ErrTokenNotFound) {
		return ledger.StateAndRef{}, err
	}
	stx, err := f.CreateStock(ctx, req.Company, req.CompanyCode, req.Price)
	if err != nil {
		return ledger.StateAndRef{}, err
	}
	return stx.Tx.OutRef(0), nil
}

// CreateStock creates the evolvable token of a company, maintained by this
// node.
func (f *Flows) CreateStock(ctx context.Context, company, code string, price decimal.Decimal) (*ledger.SignedTransaction, error) {
	n := f.node
	tok := domain.StockShareToken{
		Company:        company,
		CompanyCode:    code,
		Maintainer:     n.Party,
		Price:          price,
		LinearID:       domain.NewLinearID(),
		FractionDigits: n.Options.StockFractionDigits,
	}
	wtx := ledger.NewTransactionBuilder(n.Options.Notary).
		AddOutputState(ledger.TokenState(tok, n.Options.Notary)).
		AddCommand(ledger.Command{Type: ledger.CmdCreateToken, Signers: []domain.PublicKey{n.Party.Key}}).
		ToWireTransaction()

	stx, err := n.Sign(&ledger.SignedTransaction{Tx: wtx})
	if err != nil {
		return nil, err
	}
	if err := n.Verify(stx); err != nil {
		return nil, err
	}
	if err := n.Record(ctx, stx, node.OnlyRelevant); err != nil {
		return nil, err
	}
	n.Logger.Info("stock token created", "company_code", code, "linear_id", tok.LinearID.String())
	return stx, nil
}

// issue signs and verifies an issuance and delivers it to recipient, or
// records it locally when the recipient is this node.
func (f *Flows) issue(ctx context.Context, log *slog.Logger, wtx ledger.WireTransaction, recipient domain.Party, flow string) (*ledger.SignedTransaction, error) {
	n := f.node
	stx, err := n.Sign(&ledger.SignedTransaction{Tx: wtx})
	if err != nil {
		return nil, err
	}
	if err := n.Verify(stx); err != nil {
		return nil, err
	}
	deps, err := f.dependencies(stx)
	if err != nil {
		return nil, err
	}

	var sessions []*network.Session
	if recipient.Key != n.Party.Key {
		s, err := n.Initiate(ctx, recipient, flow)
		if err != nil {
			return nil, err
		}
		defer s.Close()
		sessions = append(sessions, s)
	}
	return f.finalise(ctx, log, stx, deps, sessions, false)
}
