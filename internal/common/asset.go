package common

import "github.com/shopspring/decimal"

// Asset is one tradable security. CurrentPrice tracks the last trade
// price and is updated by settlement only; the remaining fields belong to
// the external valuation process and are treated as read-only here.
type Asset struct {
	Symbol           string
	FundamentalValue decimal.Decimal
	CurrentPrice     decimal.Decimal
	DividendYield    decimal.Decimal // per-tick cash yield per share, as a fraction of price
	Volatility       decimal.Decimal
}

// DividendPerShare is the cash credited per held share this tick. Zero
// yield disables accrual entirely.
func (a *Asset) DividendPerShare() decimal.Decimal {
	if a.DividendYield.IsZero() {
		return decimal.Zero
	}
	return a.CurrentPrice.Mul(a.DividendYield)
}

// InfoTier controls how much of the market's private state a trader's
// decision provider may observe. It never alters engine behaviour.
type InfoTier int

const (
	// TierPublic sees prices, depth and trades only.
	TierPublic InfoTier = iota
	// TierInsider additionally sees fundamental values.
	TierInsider
)

func (t InfoTier) String() string {
	if t == TierInsider {
		return "INSIDER"
	}
	return "PUBLIC"
}
