package contract

import (
	"github.com/efreitasn/stockshares/internal/domain"
	"github.com/efreitasn/stockshares/internal/ledger"
)

const fungible = ledger.FungibleTokenContract

type group struct {
	inputs  []domain.FungibleToken
	outputs []domain.FungibleToken
	cmd     *ledger.Command
}

// verifyFungible checks each issued token type independently: every group
// of holdings needs exactly one issue or move command for that type.
func verifyFungible(ltx *ledger.LedgerTransaction) error {
	groups := make(map[domain.IssuedTokenType]*group)
	var order []domain.IssuedTokenType
	get := func(t domain.IssuedTokenType) *group {
		g, ok := groups[t]
		if !ok {
			g = &group{}
			groups[t] = g
			order = append(order, t)
		}
		return g
	}

	for _, in := range ltx.Inputs {
		if h := in.State.Holding; h != nil {
			g := get(h.Token)
			g.inputs = append(g.inputs, *h)
		}
	}
	for _, out := range ltx.Outputs {
		if h := out.Holding; h != nil {
			g := get(h.Token)
			g.outputs = append(g.outputs, *h)
		}
	}
	for i := range ltx.Commands {
		c := ltx.Commands[i]
		if c.Type != ledger.CmdIssue && c.Type != ledger.CmdMove {
			continue
		}
		if c.Token == nil {
			return violation(fungible, "Fungible token commands must name a token type")
		}
		g := get(*c.Token)
		if g.cmd != nil {
			return violation(fungible, "There must be exactly one command for %s", c.Token)
		}
		g.cmd = &c
	}

	for _, t := range order {
		g := groups[t]
		if g.cmd == nil {
			return violation(fungible, "There must be exactly one command for %s", t)
		}
		if len(g.inputs) == 0 && len(g.outputs) == 0 {
			return violation(fungible, "A %s command must have states of its token type", g.cmd.Type)
		}
		var err error
		if g.cmd.Type == ledger.CmdIssue {
			err = verifyIssue(t, g)
		} else {
			err = verifyMove(t, g)
		}
		if err != nil {
			return err
		}
		if t.TokenType.IsPointer() && !pointsAtKnownToken(ltx, t.TokenType.Pointer) {
			return violation(fungible, "The token %s must be included as a reference state", t.TokenType)
		}
	}
	return nil
}

func verifyIssue(t domain.IssuedTokenType, g *group) error {
	if len(g.inputs) != 0 {
		return violation(fungible, "When issuing tokens, there cannot be any input states")
	}
	if len(g.outputs) == 0 {
		return violation(fungible, "When issuing tokens, there must be output states")
	}
	if err := positiveQuantities(g.outputs); err != nil {
		return err
	}
	if !hasSigner([]ledger.Command{*g.cmd}, t.Issuer.Key) {
		return violation(fungible, "The issuer %s must be the signing party when an amount of tokens are issued", t.Issuer.Name)
	}
	return nil
}

func verifyMove(t domain.IssuedTokenType, g *group) error {
	if len(g.inputs) == 0 {
		return violation(fungible, "When moving tokens, there must be input states present")
	}
	if len(g.outputs) == 0 {
		return violation(fungible, "When moving tokens, there must be output states present")
	}
	if err := positiveQuantities(g.outputs); err != nil {
		return err
	}
	if sum(g.inputs) != sum(g.outputs) {
		return violation(fungible, "In move groups the amount of input tokens must equal the amount of output tokens for %s", t)
	}
	for _, in := range g.inputs {
		if !hasSigner([]ledger.Command{*g.cmd}, in.Holder) {
			return violation(fungible, "Required signers does not contain all the current owners of the tokens being moved")
		}
	}
	return nil
}

func positiveQuantities(hs []domain.FungibleToken) error {
	for _, h := range hs {
		if h.Quantity <= 0 {
			return violation(fungible, "You cannot create output token amounts with a ZERO amount")
		}
	}
	return nil
}

func sum(hs []domain.FungibleToken) int64 {
	var total int64
	for _, h := range hs {
		total += h.Quantity
	}
	return total
}

func pointsAtKnownToken(ltx *ledger.LedgerTransaction, id domain.LinearID) bool {
	for _, r := range ltx.References {
		if t := r.State.StockToken; t != nil && t.LinearID == id {
			return true
		}
	}
	for _, t := range ltx.OutputTokens() {
		if t.LinearID == id {
			return true
		}
	}
	return false
}
