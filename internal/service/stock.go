package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/stockshares/internal/domain"
	"github.com/efreitasn/stockshares/internal/flow"
	"github.com/efreitasn/stockshares/internal/ledger"
	"github.com/efreitasn/stockshares/internal/vault"
)

// IssueCurrencyRequest represents the input for issuing currency.
type IssueCurrencyRequest struct {
	Amount    string
	Recipient string
}

// IssueStockRequest represents the input for issuing stock.
type IssueStockRequest struct {
	Company     string
	CompanyCode string
	Price       string
	Quantity    int64
	Recipient   string
}

// UpdateStockRequest represents the input for evolving a stock token.
type UpdateStockRequest struct {
	CompanyCode string
	Price       string
}

// SaleRecipient is one buyer of a sale.
type SaleRecipient struct {
	Party      string `json:"party"`
	Percentage string `json:"percentage"`
}

// SellStockRequest represents the input for selling a holding.
type SellStockRequest struct {
	CompanyCode string
	Recipients  []SaleRecipient
}

// HoldingView is an unconsumed holding of a node.
type HoldingView struct {
	Ref         string
	Token       string
	CompanyCode string // empty for currency
	Issuer      string
	Quantity    decimal.Decimal
	Holder      domain.PublicKey
}

// TokenView is the current version of a stock token known to a node.
type TokenView struct {
	LinearID       string
	Company        string
	CompanyCode    string
	Price          decimal.Decimal
	Maintainer     string
	FractionDigits int32
}

// StockService runs flows on the nodes hosted by this process.
type StockService struct {
	nodes    map[string]*flow.Flows
	webhooks *WebhookService
}

// NewStockService creates a new StockService over nodes.
func NewStockService(nodes map[string]*flow.Flows, webhooks *WebhookService) *StockService {
	return &StockService{nodes: nodes, webhooks: webhooks}
}

// Hosts reports whether party runs in this process.
func (s *StockService) Hosts(party string) bool {
	_, ok := s.nodes[party]
	return ok
}

// Parties returns the hosted parties, sorted.
func (s *StockService) Parties() []string {
	out := make([]string, 0, len(s.nodes))
	for name := range s.nodes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *StockService) flows(party string) (*flow.Flows, error) {
	f, ok := s.nodes[party]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownParty, party)
	}
	return f, nil
}

// IssueCurrency issues currency from party to the recipient.
func (s *StockService) IssueCurrency(ctx context.Context, party string, req IssueCurrencyRequest) (ledger.SecureHash, error) {
	f, err := s.flows(party)
	if err != nil {
		return "", err
	}
	amount, err := parseDecimal("amount", req.Amount)
	if err != nil {
		return "", err
	}
	if req.Recipient == "" {
		return "", &domain.ValidationError{Message: "recipient is required"}
	}
	stx, err := f.IssueCurrency(ctx, amount, req.Recipient)
	if err != nil {
		return "", err
	}
	return stx.ID(), nil
}

// IssueStock issues stock from party, which must be the stock maintainer.
func (s *StockService) IssueStock(ctx context.Context, party string, req IssueStockRequest) (ledger.SecureHash, error) {
	f, err := s.flows(party)
	if err != nil {
		return "", err
	}
	price, err := parseDecimal("price", req.Price)
	if err != nil {
		return "", err
	}
	if req.CompanyCode == "" {
		return "", &domain.ValidationError{Message: "company_code is required"}
	}
	if req.Recipient == "" {
		return "", &domain.ValidationError{Message: "recipient is required"}
	}
	stx, err := f.IssueStock(ctx, flow.IssueStockRequest{
		Company:     req.Company,
		CompanyCode: req.CompanyCode,
		Price:       price,
		Quantity:    req.Quantity,
		Recipient:   req.Recipient,
	})
	if err != nil {
		return "", err
	}
	return stx.ID(), nil
}

// UpdateStock sets a new price on a stock token maintained by party.
func (s *StockService) UpdateStock(ctx context.Context, party string, req UpdateStockRequest) (ledger.SecureHash, error) {
	f, err := s.flows(party)
	if err != nil {
		return "", err
	}
	price, err := parseDecimal("price", req.Price)
	if err != nil {
		return "", err
	}
	stx, err := f.UpdateStock(ctx, req.CompanyCode, price)
	if err != nil {
		return "", err
	}
	return stx.ID(), nil
}

// SellStock sells party's holding of a company to the recipients.
func (s *StockService) SellStock(ctx context.Context, party string, req SellStockRequest) (ledger.SecureHash, error) {
	f, err := s.flows(party)
	if err != nil {
		return "", err
	}
	recipients := make([]flow.Recipient, len(req.Recipients))
	for i, r := range req.Recipients {
		pct, err := decimal.NewFromString(r.Percentage)
		if err != nil {
			return "", &domain.InvalidAllocationError{Reason: fmt.Sprintf("percentage %q for %s is not a number", r.Percentage, r.Party)}
		}
		recipients[i] = flow.Recipient{Name: r.Party, Percentage: pct}
	}
	stx, err := f.SellStock(ctx, req.CompanyCode, recipients)
	if err != nil {
		return "", err
	}
	if s.webhooks != nil {
		s.webhooks.DispatchSaleCommitted(party, req.CompanyCode, req.Recipients, stx.ID())
	}
	return stx.ID(), nil
}

// Holdings lists party's unconsumed holdings, stock tagged with its
// company code.
func (s *StockService) Holdings(ctx context.Context, party string) ([]HoldingView, error) {
	f, err := s.flows(party)
	if err != nil {
		return nil, err
	}
	v := f.Node().Vault
	codes, err := tokenCodes(ctx, v)
	if err != nil {
		return nil, err
	}
	holdings, err := v.QueryHoldings(ctx, vault.HoldingCriteria{})
	if err != nil {
		return nil, err
	}
	out := make([]HoldingView, 0, len(holdings))
	for _, sr := range holdings {
		h := sr.State.Holding
		tt := h.Token.TokenType
		view := HoldingView{
			Ref:      sr.Ref.String(),
			Token:    tt.String(),
			Issuer:   h.Token.Issuer.Name,
			Quantity: domain.FromMinorUnits(h.Quantity, tt.FractionDigits),
			Holder:   h.Holder,
		}
		if tt.IsPointer() {
			view.CompanyCode = codes[tt.Pointer]
		}
		out = append(out, view)
	}
	return out, nil
}

// Tokens lists the stock tokens party knows, by company code.
func (s *StockService) Tokens(ctx context.Context, party string) ([]TokenView, error) {
	f, err := s.flows(party)
	if err != nil {
		return nil, err
	}
	tokens, err := f.Node().Vault.Tokens(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TokenView, 0, len(tokens))
	for _, sr := range tokens {
		t := sr.State.StockToken
		out = append(out, TokenView{
			LinearID:       t.LinearID.String(),
			Company:        t.Company,
			CompanyCode:    t.CompanyCode,
			Price:          t.Price,
			Maintainer:     t.Maintainer.Name,
			FractionDigits: t.FractionDigits,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompanyCode < out[j].CompanyCode })
	return out, nil
}

func tokenCodes(ctx context.Context, v *vault.Vault) (map[domain.LinearID]string, error) {
	tokens, err := v.Tokens(ctx)
	if err != nil {
		return nil, err
	}
	codes := make(map[domain.LinearID]string, len(tokens))
	for _, sr := range tokens {
		codes[sr.State.StockToken.LinearID] = sr.State.StockToken.CompanyCode
	}
	return codes, nil
}

func parseDecimal(field, value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Decimal{}, &domain.ValidationError{Message: field + " is required"}
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, &domain.ValidationError{Message: field + " must be a decimal number"}
	}
	return d, nil
}
