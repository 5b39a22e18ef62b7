package util

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultStrategyLocation is the timezone the strategy's epoch/hour resets
// are evaluated in (Asia/Ho_Chi_Minh, per the original implementation).
var DefaultStrategyLocation = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// PriceFromReserves returns reserve_eth / reserve_token, or zero if the
// token reserve is zero.
func PriceFromReserves(reserveToken, reserveETH decimal.Decimal) decimal.Decimal {
	if reserveToken.IsZero() {
		return decimal.Zero
	}
	return reserveETH.Div(reserveToken)
}

// SlippageBps computes the signed round-trip slippage in basis points:
// (amountIn - amountOut) / amountIn * 10000.
func SlippageBps(amountIn, amountOut decimal.Decimal) decimal.Decimal {
	if amountIn.IsZero() {
		return decimal.Zero
	}
	return amountIn.Sub(amountOut).Div(amountIn).Mul(decimal.NewFromInt(10000))
}

// PnLPercent computes (proceeds - buyAmount - gasCost) / buyAmount * 100,
// the percentage PnL formula shared by position mark-to-market and
// realized-on-sell accounting.
func PnLPercent(proceeds, buyAmount, gasCost decimal.Decimal) decimal.Decimal {
	if buyAmount.IsZero() {
		return decimal.Zero
	}
	numerator := proceeds.Sub(buyAmount).Sub(gasCost)
	return numerator.Div(buyAmount).Mul(decimal.NewFromInt(100))
}

// ExpectedPnL is the adaptive buy-sizing threshold:
// (buyAmount / minBuyAmount) * minExpectedPnL * riskRewardRatio.
func ExpectedPnL(buyAmount, minBuyAmount, minExpectedPnL, riskRewardRatio decimal.Decimal) decimal.Decimal {
	if minBuyAmount.IsZero() {
		return decimal.Zero
	}
	return buyAmount.Div(minBuyAmount).Mul(minExpectedPnL).Mul(riskRewardRatio)
}

// HourInLocation returns the hour-of-day (0-23) for t converted into loc,
// used for the strategy's epoch/buy-amount reset checks.
func HourInLocation(t time.Time, loc *time.Location) int {
	return t.In(loc).Hour()
}

// SameCalendarHour reports whether a and b fall in the same YYYY-MM-DD HH
// bucket within loc, used to detect the hour rollover that drives epoch
// and buy-amount resets.
func SameCalendarHour(a, b time.Time, loc *time.Location) bool {
	la, lb := a.In(loc), b.In(loc)
	return la.Format("2006-01-02 15") == lb.Format("2006-01-02 15")
}
