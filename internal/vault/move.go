package vault

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/efreitasn/stockshares/internal/domain"
	"github.com/efreitasn/stockshares/internal/ledger"
)

// Move is the part of a transaction that pays an amount of a token type
// from this node's holdings: the inputs it consumes, the payment and change
// outputs and one move command per issuer.
type Move struct {
	Inputs   []ledger.StateAndRef
	Outputs  []ledger.TransactionState
	Commands []ledger.Command
}

// GenerateMove selects unlocked holdings of tokenType totalling at least
// amount, reserves them under lockID and builds outputs paying amount to
// recipient with any excess returned to changeHolder. Holdings of the same
// token type from different issuers are not fungible, so payment and change
// are split per issuer. It returns domain.ErrInsufficientBalance when the
// unlocked balance is short.
func (v *Vault) GenerateMove(
	ctx context.Context,
	lockID uuid.UUID,
	tokenType domain.TokenType,
	recipient domain.PublicKey,
	amount int64,
	changeHolder domain.PublicKey,
) (*Move, error) {
	if amount <= 0 {
		return nil, &domain.ValidationError{Message: "amount to move must be positive"}
	}

	v.selectMu.Lock()
	defer v.selectMu.Unlock()

	holdings, err := v.QueryHoldings(ctx, HoldingCriteria{TokenType: &tokenType})
	if err != nil {
		return nil, err
	}

	var selected []ledger.StateAndRef
	var total int64
	for _, sr := range holdings {
		if total >= amount {
			break
		}
		if v.locks.LockedByOther(sr.Ref, lockID) {
			continue
		}
		selected = append(selected, sr)
		total += sr.State.Holding.Quantity
	}
	if total < amount {
		return nil, fmt.Errorf("%w: need %d of %s, have %d unlocked", domain.ErrInsufficientBalance, amount, tokenType, total)
	}

	refs := make([]ledger.StateRef, len(selected))
	for i, sr := range selected {
		refs[i] = sr.Ref
	}
	if err := v.locks.Lock(lockID, refs); err != nil {
		return nil, err
	}

	return buildMove(selected, recipient, amount, changeHolder), nil
}

type issuerGroup struct {
	token   domain.IssuedTokenType
	notary  domain.Party
	total   int64
	signers []domain.PublicKey
}

func buildMove(selected []ledger.StateAndRef, recipient domain.PublicKey, amount int64, changeHolder domain.PublicKey) *Move {
	groups := make(map[domain.IssuedTokenType]*issuerGroup)
	for _, sr := range selected {
		h := sr.State.Holding
		g, ok := groups[h.Token]
		if !ok {
			g = &issuerGroup{token: h.Token, notary: sr.State.Notary}
			groups[h.Token] = g
		}
		g.total += h.Quantity
		g.signers = append(g.signers, h.Holder)
	}
	ordered := make([]*issuerGroup, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].token.Issuer.Name < ordered[j].token.Issuer.Name })

	m := &Move{Inputs: selected}
	remaining := amount
	for _, g := range ordered {
		pay := min(remaining, g.total)
		remaining -= pay
		if pay > 0 {
			m.Outputs = append(m.Outputs, ledger.HoldingState(domain.FungibleToken{Token: g.token, Quantity: pay, Holder: recipient}, g.notary))
		}
		if change := g.total - pay; change > 0 {
			m.Outputs = append(m.Outputs, ledger.HoldingState(domain.FungibleToken{Token: g.token, Quantity: change, Holder: changeHolder}, g.notary))
		}
		token := g.token
		m.Commands = append(m.Commands, ledger.Command{Type: ledger.CmdMove, Token: &token, Signers: g.signers})
	}
	return m
}
