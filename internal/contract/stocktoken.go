package contract

import (
	"github.com/efreitasn/stockshares/internal/domain"
	"github.com/efreitasn/stockshares/internal/ledger"
)

const stock = ledger.StockTokenContract

func verifyStockTokens(ltx *ledger.LedgerTransaction) error {
	inputs, outputs := ltx.InputTokens(), ltx.OutputTokens()
	creates := ltx.CommandsOfType(ledger.CmdCreateToken)
	updates := ltx.CommandsOfType(ledger.CmdUpdateToken)

	switch {
	case len(creates) == 0 && len(updates) == 0:
		if len(inputs) > 0 || len(outputs) > 0 {
			return violation(stock, "A transaction with stock token states must contain a token command")
		}
		return nil
	case len(creates) > 0 && len(updates) > 0:
		return violation(stock, "A transaction cannot both create and update stock tokens")
	case len(creates) > 0:
		return verifyCreate(inputs, outputs, creates)
	default:
		return verifyUpdate(inputs, outputs, updates)
	}
}

func verifyCreate(inputs, outputs []domain.StockShareToken, cmds []ledger.Command) error {
	if len(inputs) != 0 {
		return violation(stock, "Create evolvable token transactions must not contain any inputs")
	}
	if len(outputs) != 1 {
		return violation(stock, "Create evolvable token transactions must contain exactly one output")
	}
	out := outputs[0]
	if out.LinearID.IsZero() {
		return violation(stock, "The Linear ID of the evolvable token must be set")
	}
	if out.Company == "" {
		return violation(stock, "The company name cannot be empty")
	}
	if out.CompanyCode == "" {
		return violation(stock, "The company code cannot be empty")
	}
	if out.FractionDigits < 0 {
		return violation(stock, "Fraction digits cannot be negative")
	}
	if !allPositive(inputs, outputs) {
		return violation(stock, "All prices should be positive")
	}
	for _, m := range out.Maintainers() {
		if !hasSigner(cmds, m.Key) {
			return violation(stock, "The token maintainer %s must sign", m.Name)
		}
	}
	return nil
}

func verifyUpdate(inputs, outputs []domain.StockShareToken, cmds []ledger.Command) error {
	if len(inputs) != 1 {
		return violation(stock, "Update evolvable token transactions must contain exactly one input")
	}
	if len(outputs) != 1 {
		return violation(stock, "Update evolvable token transactions must contain exactly one output")
	}
	in := inputs[0]
	for _, t := range append(inputs, outputs...) {
		if t.Company != in.Company {
			return violation(stock, "The company of this stock share cannot change")
		}
		if t.CompanyCode != in.CompanyCode {
			return violation(stock, "The company code cannot change")
		}
		if t.LinearID != in.LinearID {
			return violation(stock, "The Linear ID of the evolvable token cannot change during an update.")
		}
	}
	if !allPositive(inputs, outputs) {
		return violation(stock, "All prices should be positive")
	}
	if outputs[0].FractionDigits != in.FractionDigits {
		return violation(stock, "Fraction digits cannot change")
	}
	for _, m := range append(in.Maintainers(), outputs[0].Maintainers()...) {
		if !hasSigner(cmds, m.Key) {
			return violation(stock, "The token maintainer %s must sign", m.Name)
		}
	}
	return nil
}

func allPositive(inputs, outputs []domain.StockShareToken) bool {
	for _, t := range append(append([]domain.StockShareToken{}, inputs...), outputs...) {
		if !t.Price.IsPositive() {
			return false
		}
	}
	return true
}
