package vault

import (
	"fmt"

	"github.com/efreitasn/stockshares/internal/domain"
	"github.com/efreitasn/stockshares/internal/ledger"
)

// TaggedHolding is a holding annotated with the company code of the
// instrument it points at.
type TaggedHolding struct {
	Code string
	ledger.StateAndRef
}

// SelectHolding returns the single holding for code. It fails with
// domain.ErrHoldingNotFound when none matches and domain.ErrAmbiguousHolding
// when more than one does.
func SelectHolding(holdings []TaggedHolding, code string) (ledger.StateAndRef, error) {
	var found []ledger.StateAndRef
	for _, h := range holdings {
		if h.Code == code {
			found = append(found, h.StateAndRef)
		}
	}
	switch len(found) {
	case 0:
		return ledger.StateAndRef{}, fmt.Errorf("%w: no unconsumed holding of %s", domain.ErrHoldingNotFound, code)
	case 1:
		return found[0], nil
	default:
		return ledger.StateAndRef{}, fmt.Errorf("%w: %d unconsumed holdings of %s", domain.ErrAmbiguousHolding, len(found), code)
	}
}
