package flow

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	"github.com/efreitasn/stockshares/internal/domain"
	"github.com/efreitasn/stockshares/internal/ledger"
	"github.com/efreitasn/stockshares/internal/network"
	"github.com/efreitasn/stockshares/internal/node"
	"github.com/efreitasn/stockshares/internal/vault"
)

const (
	manager = "StocksManager"
	bank    = "Bank"
)

var gbp = domain.FiatCurrency("GBP", 2)

type testNet struct {
	net    *network.Network
	notary *node.Node
	flows  map[string]*Flows
}

// newTestNet starts a notary, a stock manager, a bank and the named
// parties on one in-memory network.
func newTestNet(t *testing.T, parties ...string) *testNet {
	t.Helper()
	return newTestNetWithTimeout(t, 5*time.Second, parties...)
}

// newTestNetWithTimeout is newTestNet with the given session timeout.
func newTestNetWithTimeout(t *testing.T, sessionTimeout time.Duration, parties ...string) *testNet {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	net := network.New(network.NewIdentityService(), sessionTimeout, logger)

	notary, err := node.New("Notary", vault.NewMemoryStore(), vault.NewLockTable(time.Minute), net, logger, node.Options{})
	require.NoError(t, err)
	notary.Uniqueness = ledger.NewUniquenessProvider(dbm.NewMemDB(), nil)
	opts := node.Options{
		Notary:              notary.Party,
		Maintainer:          manager,
		Currency:            gbp,
		StockFractionDigits: 4,
	}
	notary.Options = opts

	tn := &testNet{net: net, notary: notary, flows: make(map[string]*Flows)}
	New(notary, nil)
	for _, name := range append([]string{manager, bank}, parties...) {
		n, err := node.New(name, vault.NewMemoryStore(), vault.NewLockTable(time.Minute), net, logger, opts)
		require.NoError(t, err)
		tn.flows[name] = New(n, nil)
	}
	return tn
}

func (tn *testNet) close() {
	tn.net.Close()
}

func (tn *testNet) node(name string) *node.Node {
	return tn.flows[name].Node()
}

func (tn *testNet) issueCash(t *testing.T, to, amount string) {
	t.Helper()
	_, err := tn.flows[bank].IssueCurrency(context.Background(), decimal.RequireFromString(amount), to)
	require.NoError(t, err)
}

func (tn *testNet) issueStock(t *testing.T, to, code, price string, quantity int64) *ledger.SignedTransaction {
	t.Helper()
	stx, err := tn.flows[manager].IssueStock(context.Background(), IssueStockRequest{
		Company:     "Microsoft Corporations",
		CompanyCode: code,
		Price:       decimal.RequireFromString(price),
		Quantity:    quantity,
		Recipient:   to,
	})
	require.NoError(t, err)
	return stx
}

func (tn *testNet) cash(t *testing.T, name string) int64 {
	t.Helper()
	balances, err := tn.node(name).Vault.Balances(context.Background())
	require.NoError(t, err)
	var total int64
	for token, q := range balances {
		if token.TokenType == gbp {
			total += q
		}
	}
	return total
}

func (tn *testNet) stock(t *testing.T, name, code string) int64 {
	t.Helper()
	holdings, err := tn.node(name).Vault.TaggedHoldings(context.Background())
	require.NoError(t, err)
	var total int64
	for _, h := range holdings {
		if h.Code == code {
			total += h.State.Holding.Quantity
		}
	}
	return total
}

func (tn *testNet) locksReleased(name string) func() bool {
	return func() bool {
		return tn.node(name).Vault.Locks().Len() == 0
	}
}

func pct(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
