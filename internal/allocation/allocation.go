// Package allocation splits a stock holding between recipients by
// percentage and prices each share of the split.
//
// Every recipient but the last is allocated round-half-up(percentage/100 × Q)
// stock minor units and pays round-half-up of their allocation's value in
// currency minor units. The last recipient takes what is left of Q and pays
// what is left of round-half-up(Q × P), so both sums are exact. A split
// that leaves any recipient with nothing to receive or pay is rejected.
package allocation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/stockshares/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Share is a recipient's requested percentage of a sale.
type Share struct {
	Recipient  string
	Percentage decimal.Decimal
}

// Allocation is what one recipient receives and owes.
type Allocation struct {
	Recipient string
	// Tokens is the number of stock minor units transferred.
	Tokens int64
	// Currency is the obligation in currency minor units.
	Currency int64
}

// Request describes the sale being split.
type Request struct {
	// Quantity of the holding in stock minor units.
	Quantity       int64
	FractionDigits int32
	Price          decimal.Decimal
	CurrencyDigits int32
	Shares         []Share
}

// ValidateShares checks the recipient list on its own: non-empty, unique
// recipients, positive percentages summing to exactly 100.
func ValidateShares(shares []Share) error {
	if len(shares) == 0 {
		return &domain.InvalidAllocationError{Reason: "no recipients"}
	}
	seen := make(map[string]bool, len(shares))
	sum := decimal.Zero
	for _, s := range shares {
		if s.Recipient == "" {
			return &domain.InvalidAllocationError{Reason: "recipient name is empty"}
		}
		if seen[s.Recipient] {
			return &domain.InvalidAllocationError{Reason: fmt.Sprintf("%s is listed more than once", s.Recipient)}
		}
		seen[s.Recipient] = true
		if !s.Percentage.IsPositive() {
			return &domain.InvalidAllocationError{Reason: fmt.Sprintf("percentage for %s must be positive", s.Recipient)}
		}
		sum = sum.Add(s.Percentage)
	}
	if !sum.Equal(hundred) {
		return &domain.InvalidAllocationError{Reason: fmt.Sprintf("percentages sum to %s, not 100", sum)}
	}
	return nil
}

// Calculate returns one Allocation per share, in order. Token allocations
// sum to Quantity and currency obligations sum to Quantity × Price in
// minor units, rounded half up.
func Calculate(req Request) ([]Allocation, error) {
	if req.Quantity <= 0 {
		return nil, &domain.InvalidAllocationError{Reason: "quantity must be positive"}
	}
	if !req.Price.IsPositive() {
		return nil, &domain.InvalidAllocationError{Reason: "price must be positive"}
	}
	if err := ValidateShares(req.Shares); err != nil {
		return nil, err
	}

	// Minor units of currency per minor unit of stock.
	rate := req.Price.Shift(req.CurrencyDigits - req.FractionDigits)
	q := decimal.NewFromInt(req.Quantity)
	total := q.Mul(rate).Round(0)
	if !total.BigInt().IsInt64() {
		return nil, &domain.InvalidAllocationError{Reason: "sale value is out of range"}
	}

	out := make([]Allocation, len(req.Shares))
	var tokens, currency int64
	last := len(req.Shares) - 1
	for i, s := range req.Shares[:last] {
		a := q.Mul(s.Percentage).Div(hundred).Round(0).IntPart()
		c := decimal.NewFromInt(a).Mul(rate).Round(0).IntPart()
		out[i] = Allocation{Recipient: s.Recipient, Tokens: a, Currency: c}
		tokens += a
		currency += c
	}
	out[last] = Allocation{
		Recipient: req.Shares[last].Recipient,
		Tokens:    req.Quantity - tokens,
		Currency:  total.IntPart() - currency,
	}

	for _, a := range out {
		if a.Tokens <= 0 {
			return nil, &domain.InvalidAllocationError{Reason: fmt.Sprintf("%s would receive no stock", a.Recipient)}
		}
		if a.Currency <= 0 {
			return nil, &domain.InvalidAllocationError{Reason: fmt.Sprintf("%s would pay nothing", a.Recipient)}
		}
	}
	return out, nil
}
