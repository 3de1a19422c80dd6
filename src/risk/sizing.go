package risk

import "github.com/shopspring/decimal"

// PositionBudget returns the quote amount to commit to a new position.
// The per-asset allocation is the nominal size; the free quote balance caps
// it, and a positive riskPct further caps it at that fraction of the free
// balance. Returns zero when nothing can be committed.
func PositionBudget(allocatedQuote, freeQuote, riskPct decimal.Decimal) decimal.Decimal {
	if allocatedQuote.LessThanOrEqual(decimal.Zero) || freeQuote.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	budget := decimal.Min(allocatedQuote, freeQuote)
	if riskPct.IsPositive() {
		budget = decimal.Min(budget, freeQuote.Mul(riskPct))
	}
	return budget
}
