// Package contract holds the ledger verification rules: the evolvable
// stock token lifecycle and fungible token conservation.
package contract

import (
	"fmt"

	"github.com/efreitasn/stockshares/internal/domain"
	"github.com/efreitasn/stockshares/internal/ledger"
)

// Verify runs every contract governing states of ltx. It returns a
// *domain.ContractViolation for the first requirement that fails.
func Verify(ltx *ledger.LedgerTransaction) error {
	if err := verifyStockTokens(ltx); err != nil {
		return err
	}
	return verifyFungible(ltx)
}

func violation(c ledger.ContractID, format string, args ...any) error {
	return &domain.ContractViolation{Contract: string(c), Message: fmt.Sprintf(format, args...)}
}

func hasSigner(cmds []ledger.Command, key domain.PublicKey) bool {
	for _, c := range cmds {
		for _, s := range c.Signers {
			if s == key {
				return true
			}
		}
	}
	return false
}
