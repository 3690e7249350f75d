package flow

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/efreitasn/stockshares/internal/domain"
	"github.com/efreitasn/stockshares/internal/ledger"
	"github.com/efreitasn/stockshares/internal/network"
)

func TestIssueCurrency(t *testing.T) {
	defer leaktest.Check(t)()
	tn := newTestNet(t, "partyB")
	defer tn.close()

	stx, err := tn.flows[bank].IssueCurrency(context.Background(), decimal.RequireFromString("1000.50"), "partyB")
	require.NoError(t, err)
	require.Len(t, stx.Tx.Outputs, 1)

	require.Equal(t, int64(100050), tn.cash(t, "partyB"))
	require.Zero(t, tn.cash(t, bank))
}

func TestIssueCurrency_Rejections(t *testing.T) {
	defer leaktest.Check(t)()
	tn := newTestNet(t, "partyB")
	defer tn.close()
	ctx := context.Background()

	_, err := tn.flows[bank].IssueCurrency(ctx, decimal.RequireFromString("1.001"), "partyB")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = tn.flows[bank].IssueCurrency(ctx, decimal.Zero, "partyB")
	require.ErrorAs(t, err, &verr)

	_, err = tn.flows[bank].IssueCurrency(ctx, decimal.NewFromInt(10), "partyZ")
	var ierr *domain.IdentityResolutionError
	require.ErrorAs(t, err, &ierr)
}

func TestIssueStock_RoundTrip(t *testing.T) {
	defer leaktest.Check(t)()
	tn := newTestNet(t, "partyA")
	defer tn.close()
	ctx := context.Background()

	tn.issueStock(t, "partyA", "MSFT", "200.13", 10)

	created, err := tn.node(manager).Vault.TokenByCode(ctx, "MSFT")
	require.NoError(t, err)
	received, err := tn.node("partyA").Vault.TokenByCode(ctx, "MSFT")
	require.NoError(t, err)

	want, got := created.State.StockToken, received.State.StockToken
	require.Equal(t, "Microsoft Corporations", got.Company)
	require.Equal(t, "MSFT", got.CompanyCode)
	require.True(t, got.Price.Equal(decimal.RequireFromString("200.13")), "price = %s", got.Price)
	require.Equal(t, want.LinearID, got.LinearID)

	require.Equal(t, int64(100000), tn.stock(t, "partyA", "MSFT"))
	require.Equal(t, []string{"partyA"}, tn.flows[manager].DistributionList().Parties(want.LinearID))
}

func TestIssueStock_ReusesToken(t *testing.T) {
	defer leaktest.Check(t)()
	tn := newTestNet(t, "partyA", "partyB")
	defer tn.close()
	ctx := context.Background()

	tn.issueStock(t, "partyA", "MSFT", "123.0", 10)
	tn.issueStock(t, "partyB", "MSFT", "123", 5)

	tokens, err := tn.node(manager).Vault.Tokens(ctx)
	require.NoError(t, err)
	require.Len(t, tokens, 1)

	a, err := tn.node("partyA").Vault.TokenByCode(ctx, "MSFT")
	require.NoError(t, err)
	b, err := tn.node("partyB").Vault.TokenByCode(ctx, "MSFT")
	require.NoError(t, err)
	require.Equal(t, a.Ref, b.Ref)

	_, err = tn.flows[manager].IssueStock(ctx, IssueStockRequest{
		Company: "Microsoft Corporations", CompanyCode: "MSFT",
		Price: decimal.NewFromInt(99), Quantity: 1, Recipient: "partyA",
	})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestIssueStock_Rejections(t *testing.T) {
	defer leaktest.Check(t)()
	tn := newTestNet(t, "partyA")
	defer tn.close()
	ctx := context.Background()

	_, err := tn.flows[manager].IssueStock(ctx, IssueStockRequest{
		Company: "Microsoft Corporations", CompanyCode: "MSFT",
		Price: decimal.RequireFromString("-200.13"), Quantity: 10, Recipient: "partyA",
	})
	var cv *domain.ContractViolation
	require.ErrorAs(t, err, &cv)
	require.Equal(t, "All prices should be positive", cv.Message)

	_, err = tn.flows["partyA"].IssueStock(ctx, IssueStockRequest{
		Company: "Microsoft Corporations", CompanyCode: "MSFT",
		Price: decimal.NewFromInt(1), Quantity: 10, Recipient: "partyA",
	})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = tn.flows[manager].IssueStock(ctx, IssueStockRequest{
		Company: "Microsoft Corporations", CompanyCode: "MSFT",
		Price: decimal.NewFromInt(1), Quantity: 0, Recipient: "partyA",
	})
	require.ErrorAs(t, err, &verr)
}

func TestSellStock_EndToEnd(t *testing.T) {
	defer leaktest.Check(t)()
	tn := newTestNet(t, "partyA", "partyB", "partyC")
	defer tn.close()

	tn.issueCash(t, "partyB", "10000")
	tn.issueCash(t, "partyC", "10000")
	issued := tn.issueStock(t, "partyA", "MSFT", "123.0", 10)

	stx, err := tn.flows["partyA"].SellStock(context.Background(), "MSFT", []Recipient{
		{Name: "partyB", Percentage: pct("30.0")},
		{Name: "partyC", Percentage: pct("70.0")},
	})
	require.NoError(t, err)
	require.NoError(t, stx.VerifySignatures())

	require.Equal(t, int64(30000), tn.stock(t, "partyB", "MSFT"))
	require.Equal(t, int64(70000), tn.stock(t, "partyC", "MSFT"))
	require.Zero(t, tn.stock(t, "partyA", "MSFT"))

	require.Equal(t, int64(123000), tn.cash(t, "partyA"))
	require.Equal(t, int64(1000000-36900), tn.cash(t, "partyB"))
	require.Equal(t, int64(1000000-86100), tn.cash(t, "partyC"))

	var stockOutputs int
	for _, out := range stx.Tx.Outputs {
		if out.Holding != nil && out.Holding.Token.TokenType.IsPointer() {
			stockOutputs++
		}
	}
	require.Equal(t, 2, stockOutputs, "no change output expected")

	by, ok, err := tn.notary.Uniqueness.ConsumedBy(ledger.StateRef{TxID: issued.ID(), Index: 0})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, stx.ID(), by)

	tok, err := tn.node(manager).Vault.TokenByCode(context.Background(), "MSFT")
	require.NoError(t, err)
	require.Equal(t,
		[]string{"partyA", "partyB", "partyC"},
		tn.flows[manager].DistributionList().Parties(tok.State.StockToken.LinearID),
	)

	require.True(t, tn.locksReleased("partyA")())
	require.Eventually(t, tn.locksReleased("partyB"), time.Second, 10*time.Millisecond)
	require.Eventually(t, tn.locksReleased("partyC"), time.Second, 10*time.Millisecond)
}

func TestSellStock_InvalidSharesOpenNoSession(t *testing.T) {
	defer leaktest.Check(t)()
	tn := newTestNet(t, "partyA", "partyB", "partyC")
	defer tn.close()
	tn.issueStock(t, "partyA", "MSFT", "123.0", 10)

	var opened atomic.Int32
	for _, name := range []string{"partyB", "partyC"} {
		f := tn.flows[name]
		f.Node().RegisterResponder(FlowSellStock, func(ctx context.Context, s *network.Session) error {
			opened.Add(1)
			return f.respondSell(ctx, s)
		})
	}

	tests := []struct {
		name   string
		shares []Recipient
	}{
		{"under 100", []Recipient{{"partyB", pct("30")}, {"partyC", pct("69.9")}}},
		{"over 100", []Recipient{{"partyB", pct("30")}, {"partyC", pct("70.1")}}},
		{"empty", nil},
		{"duplicate recipient", []Recipient{{"partyB", pct("50")}, {"partyB", pct("50")}}},
		{"zero percentage", []Recipient{{"partyB", pct("100")}, {"partyC", pct("0")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tn.flows["partyA"].SellStock(context.Background(), "MSFT", tt.shares)
			var aerr *domain.InvalidAllocationError
			require.ErrorAs(t, err, &aerr)
		})
	}
	require.Zero(t, opened.Load())
	require.Equal(t, int64(100000), tn.stock(t, "partyA", "MSFT"))
}

func TestSellStock_ValidationBeforeContact(t *testing.T) {
	defer leaktest.Check(t)()
	tn := newTestNet(t, "partyA", "partyB")
	defer tn.close()
	ctx := context.Background()
	tn.issueStock(t, "partyA", "MSFT", "123.0", 10)

	_, err := tn.flows["partyA"].SellStock(ctx, "MSFT", []Recipient{{"partyZ", pct("100")}})
	var ierr *domain.IdentityResolutionError
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, "partyZ", ierr.Name)

	_, err = tn.flows["partyA"].SellStock(ctx, "MSFT", []Recipient{{"partyA", pct("100")}})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = tn.flows["partyA"].SellStock(ctx, "AAPL", []Recipient{{"partyB", pct("100")}})
	require.ErrorIs(t, err, domain.ErrHoldingNotFound)

	tn.issueStock(t, "partyA", "MSFT", "123.0", 5)
	_, err = tn.flows["partyA"].SellStock(ctx, "MSFT", []Recipient{{"partyB", pct("100")}})
	require.ErrorIs(t, err, domain.ErrAmbiguousHolding)

	require.True(t, tn.locksReleased("partyA")())
}

func TestSellStock_ConcurrentSaleOfSameHolding(t *testing.T) {
	defer leaktest.Check(t)()
	tn := newTestNet(t, "partyA", "partyB", "partyC")
	defer tn.close()
	tn.issueCash(t, "partyB", "10000")
	tn.issueCash(t, "partyC", "10000")
	tn.issueStock(t, "partyA", "MSFT", "123.0", 10)

	gate := make(chan struct{})
	c := tn.flows["partyC"]
	c.Node().RegisterResponder(FlowSellStock, func(ctx context.Context, s *network.Session) error {
		<-gate
		return c.respondSell(ctx, s)
	})

	first := make(chan error, 1)
	go func() {
		_, err := tn.flows["partyA"].SellStock(context.Background(), "MSFT", []Recipient{
			{"partyB", pct("50")},
			{"partyC", pct("50")},
		})
		first <- err
	}()
	require.Eventually(t, func() bool {
		return tn.node("partyA").Vault.Locks().Len() > 0
	}, time.Second, 5*time.Millisecond)

	_, err := tn.flows["partyA"].SellStock(context.Background(), "MSFT", []Recipient{{"partyB", pct("100")}})
	require.ErrorIs(t, err, domain.ErrConflict)

	close(gate)
	require.NoError(t, <-first)
	require.Equal(t, int64(50000), tn.stock(t, "partyB", "MSFT"))
	require.Equal(t, int64(50000), tn.stock(t, "partyC", "MSFT"))
}

func TestSellStock_NotaryRejectsSpentHolding(t *testing.T) {
	defer leaktest.Check(t)()
	tn := newTestNet(t, "partyA", "partyB")
	defer tn.close()
	tn.issueCash(t, "partyB", "10000")
	issued := tn.issueStock(t, "partyA", "MSFT", "123.0", 10)

	holding := ledger.StateRef{TxID: issued.ID(), Index: 0}
	require.NoError(t, tn.notary.Uniqueness.Commit("elsewhere", []ledger.StateRef{holding}, nil))

	_, err := tn.flows["partyA"].SellStock(context.Background(), "MSFT", []Recipient{{"partyB", pct("100")}})
	require.ErrorIs(t, err, domain.ErrConflict)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "elsewhere", conflict.ConsumedBy)

	require.Equal(t, int64(100000), tn.stock(t, "partyA", "MSFT"))
	require.Equal(t, int64(1000000), tn.cash(t, "partyB"))
	require.True(t, tn.locksReleased("partyA")())
	require.Eventually(t, tn.locksReleased("partyB"), time.Second, 10*time.Millisecond)
}

func TestSellStock_BuyerShortOfCashAbortsEveryone(t *testing.T) {
	defer leaktest.Check(t)()
	tn := newTestNet(t, "partyA", "partyB", "partyC")
	defer tn.close()
	tn.issueCash(t, "partyB", "10000")
	tn.issueCash(t, "partyC", "1")
	tn.issueStock(t, "partyA", "MSFT", "123.0", 10)

	_, err := tn.flows["partyA"].SellStock(context.Background(), "MSFT", []Recipient{
		{"partyB", pct("30")},
		{"partyC", pct("70")},
	})
	var nerr *domain.NegotiationError
	require.ErrorAs(t, err, &nerr)
	require.Equal(t, "partyC", nerr.Counterparty)
	var peer *network.PeerError
	require.ErrorAs(t, err, &peer)

	require.Equal(t, int64(100000), tn.stock(t, "partyA", "MSFT"))
	require.Zero(t, tn.stock(t, "partyB", "MSFT"))
	require.True(t, tn.locksReleased("partyA")())
	require.Eventually(t, tn.locksReleased("partyB"), time.Second, 10*time.Millisecond)
	require.Eventually(t, tn.locksReleased("partyC"), time.Second, 10*time.Millisecond)

	tn.issueCash(t, "partyC", "10000")
	_, err = tn.flows["partyA"].SellStock(context.Background(), "MSFT", []Recipient{
		{"partyB", pct("30")},
		{"partyC", pct("70")},
	})
	require.NoError(t, err)
}

func TestSellStock_UnresponsiveBuyerTimesOut(t *testing.T) {
	defer leaktest.Check(t)()
	tn := newTestNetWithTimeout(t, 200*time.Millisecond, "partyA", "partyB")
	defer tn.close()
	tn.issueStock(t, "partyA", "MSFT", "123.0", 10)

	tn.node("partyB").RegisterResponder(FlowSellStock, func(ctx context.Context, s *network.Session) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	_, err := tn.flows["partyA"].SellStock(context.Background(), "MSFT", []Recipient{{"partyB", pct("100")}})
	require.ErrorIs(t, err, network.ErrSessionTimeout)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	var nerr *domain.NegotiationError
	require.ErrorAs(t, err, &nerr)
	require.Equal(t, "partyB", nerr.Counterparty)
	require.Less(t, time.Since(start), 5*time.Second)

	require.True(t, tn.locksReleased("partyA")())
	require.Equal(t, int64(100000), tn.stock(t, "partyA", "MSFT"))
}

func TestUpdateStock_DistributesNewVersion(t *testing.T) {
	defer leaktest.Check(t)()
	tn := newTestNet(t, "partyA", "partyB", "partyC")
	defer tn.close()
	ctx := context.Background()
	tn.issueCash(t, "partyC", "10000")
	tn.issueStock(t, "partyA", "MSFT", "123.0", 10)
	tn.issueStock(t, "partyB", "MSFT", "123.0", 1)

	before, err := tn.node(manager).Vault.TokenByCode(ctx, "MSFT")
	require.NoError(t, err)

	_, err = tn.flows[manager].UpdateStock(ctx, "MSFT", decimal.NewFromInt(150))
	require.NoError(t, err)

	for _, name := range []string{manager, "partyA", "partyB"} {
		tok, err := tn.node(name).Vault.TokenByCode(ctx, "MSFT")
		require.NoError(t, err, name)
		require.True(t, tok.State.StockToken.Price.Equal(decimal.NewFromInt(150)), name)
		require.Equal(t, before.State.StockToken.LinearID, tok.State.StockToken.LinearID, name)
		require.NotEqual(t, before.Ref, tok.Ref, name)
	}

	_, err = tn.flows["partyA"].SellStock(ctx, "MSFT", []Recipient{{"partyC", pct("100")}})
	require.NoError(t, err)
	require.Equal(t, int64(150000), tn.cash(t, "partyA"))

	_, err = tn.flows["partyA"].UpdateStock(ctx, "MSFT", decimal.NewFromInt(1))
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestDistributionList(t *testing.T) {
	d := NewDistributionList()
	id := domain.NewLinearID()

	require.Empty(t, d.Parties(id))
	d.Add(id, "partyC", "partyA")
	d.Add(id, "partyA")
	require.Equal(t, []string{"partyA", "partyC"}, d.Parties(id))
	require.Empty(t, d.Parties(domain.NewLinearID()))
}

func TestRespondSell_RefusesTransactionWithoutPromisedStock(t *testing.T) {
	defer leaktest.Check(t)()
	tn := newTestNet(t, "partyA", "partyB")
	defer tn.close()
	tn.issueCash(t, "partyB", "100")
	ctx := context.Background()
	seller := tn.node("partyA")

	s, err := seller.Initiate(ctx, tn.node("partyB").Party, FlowSellStock)
	require.NoError(t, err)
	defer s.Close()

	stock := domain.IssuedTokenType{
		Issuer:    seller.Party,
		TokenType: domain.TokenType{Kind: domain.KindPointer, Pointer: domain.NewLinearID(), FractionDigits: 4},
	}
	require.NoError(t, s.Send(ctx, PriceNotification{
		Amount:        5000,
		Currency:      gbp,
		PayTo:         seller.Party.Key,
		Stock:         stock,
		StockQuantity: 1000,
	}))
	var proposal PaymentProposal
	require.NoError(t, s.Receive(ctx, &proposal))
	require.Len(t, proposal.Inputs, 1)
	require.Equal(t, 1, tn.node("partyB").Vault.Locks().Len())

	b := ledger.NewTransactionBuilder(seller.Options.Notary)
	for _, in := range proposal.Inputs {
		b.AddInputState(in)
	}
	for _, out := range proposal.Outputs {
		b.AddOutputState(out)
	}
	for _, c := range proposal.Commands {
		b.AddCommand(c)
	}
	require.NoError(t, s.Send(ctx, SignatureRequest{
		Tx:           &ledger.SignedTransaction{Tx: b.ToWireTransaction()},
		Dependencies: proposal.Dependencies,
	}))

	var resp SignatureResponse
	err = s.Receive(ctx, &resp)
	var peer *network.PeerError
	require.ErrorAs(t, err, &peer)
	require.Equal(t, "partyB", peer.Party)

	require.Eventually(t, tn.locksReleased("partyB"), time.Second, 10*time.Millisecond)
	require.Equal(t, int64(10000), tn.cash(t, "partyB"))
}
