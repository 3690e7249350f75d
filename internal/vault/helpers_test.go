package vault

import (
	"fmt"

	"github.com/efreitasn/stockshares/internal/domain"
	"github.com/efreitasn/stockshares/internal/ledger"
)

// keySet is a KeyOwner over a fixed set of keys.
type keySet map[domain.PublicKey]bool

func (k keySet) Owns(key domain.PublicKey) bool { return k[key] }

var (
	testNotary  = domain.Party{Name: "Notary", Key: "notary-key"}
	testManager = domain.Party{Name: "StocksManager", Key: "manager-key"}
	testBank    = domain.Party{Name: "partyA", Key: "bank-key"}
)

func gbpFrom(issuer domain.Party) domain.IssuedTokenType {
	return domain.IssuedTokenType{Issuer: issuer, TokenType: domain.FiatCurrency("GBP", 2)}
}

func holdingAt(tx string, idx int, token domain.IssuedTokenType, qty int64, holder domain.PublicKey) ledger.StateAndRef {
	return ledger.StateAndRef{
		State: ledger.HoldingState(domain.FungibleToken{Token: token, Quantity: qty, Holder: holder}, testNotary),
		Ref:   ledger.StateRef{TxID: ledger.SecureHash(tx), Index: idx},
	}
}

func tokenAt(tx string, tok domain.StockShareToken) ledger.StateAndRef {
	return ledger.StateAndRef{
		State: ledger.TokenState(tok, testNotary),
		Ref:   ledger.StateRef{TxID: ledger.SecureHash(tx), Index: 0},
	}
}

func ref(tx string, idx int) ledger.StateRef {
	return ledger.StateRef{TxID: ledger.SecureHash(tx), Index: idx}
}

func txName(i int) string {
	return fmt.Sprintf("tx-%03d", i)
}
