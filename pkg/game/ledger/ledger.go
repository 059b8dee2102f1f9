// Package ledger implements per-participant position accounting: net
// quantity, average-cost basis, realized PnL, and cash. Every trade is
// booked twice, +size for the buyer and -size for the seller, so
// quantities sum to zero across participants until settlement.
package ledger

// Position tracks one participant's holdings under the average-cost
// convention. CostBasis/Quantity is the average entry price while
// Quantity is non-zero; both are signed (+long/-short).
type Position struct {
	Quantity    int64   `json:"quantity"`
	CostBasis   float64 `json:"costBasis"`
	RealizedPnL float64 `json:"realizedPnl"`
	Cash        float64 `json:"cash"`
}

// Apply books a fill of signedQty contracts at price. Positive signedQty
// is a buy, negative a sell. Extending a position (or starting from flat)
// accumulates cost basis; reducing realizes PnL against the average cost;
// over-closing flips the position and opens the residual at price.
func (p *Position) Apply(signedQty int64, price float64) {
	if signedQty == 0 {
		return
	}

	// Cash leg: buying spends, selling receives.
	p.Cash -= float64(signedQty) * price

	if p.Quantity == 0 || sameSign(p.Quantity, signedQty) {
		p.CostBasis += float64(signedQty) * price
		p.Quantity += signedQty
		return
	}

	avgCost := p.CostBasis / float64(p.Quantity)
	dir := sign(p.Quantity)
	closed := min(abs(signedQty), abs(p.Quantity))

	p.RealizedPnL += float64(closed) * (price - avgCost) * float64(dir)
	p.Quantity -= dir * closed
	p.CostBasis -= float64(dir*closed) * avgCost

	// Residual beyond the old position opens fresh at the trade price.
	if residual := abs(signedQty) - closed; residual > 0 {
		opened := sign(signedQty) * residual
		p.CostBasis += float64(opened) * price
		p.Quantity += opened
	}
}

// AvgCost returns the average entry price. ok is false when flat.
func (p *Position) AvgCost() (float64, bool) {
	if p.Quantity == 0 {
		return 0, false
	}
	return p.CostBasis / float64(p.Quantity), true
}

// UnrealizedPnL marks the open position against price.
func (p *Position) UnrealizedPnL(price float64) float64 {
	avg, ok := p.AvgCost()
	if !ok {
		return 0
	}
	return float64(p.Quantity) * (price - avg)
}

// SettleAt closes the whole position at price: unrealized PnL folds into
// RealizedPnL, the contracts convert to cash, quantity and cost basis
// zero out. Safe no-op on a flat position.
func (p *Position) SettleAt(price float64) {
	if p.Quantity == 0 {
		return
	}
	p.RealizedPnL += p.UnrealizedPnL(price)
	p.Cash += float64(p.Quantity) * price
	p.Quantity = 0
	p.CostBasis = 0
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func sign(x int64) int64 {
	if x < 0 {
		return -1
	}
	return 1
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

func min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
