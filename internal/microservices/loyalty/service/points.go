package service

import "github.com/shopspring/decimal"

// PointsForAmount is floor(amount * rate).
func PointsForAmount(amount, rate decimal.Decimal) int64 {
	return amount.Mul(rate).Floor().IntPart()
}

// ProportionalRedeem returns how many of the points earned on a sale to take
// back when refundAmount of its gross is refunded. The share is rounded half
// away from zero with a floor of one point, and never exceeds what is still
// redeemable on that sale.
func ProportionalRedeem(gross, refundAmount decimal.Decimal, earned, redeemed int64) int64 {
	remaining := earned - redeemed
	if remaining <= 0 || !gross.IsPositive() || !refundAmount.IsPositive() {
		return 0
	}
	share := refundAmount.Div(gross).Mul(decimal.NewFromInt(earned)).Round(0).IntPart()
	if share < 1 {
		share = 1
	}
	return min(share, remaining)
}
