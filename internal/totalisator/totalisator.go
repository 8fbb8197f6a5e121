// Package totalisator derives pari-mutuel odds, payouts and display metrics
// from relative pool sizes. It is pure: no storage, no side effects.
package totalisator

import (
	"github.com/shopspring/decimal"
)

// PlatformRake is the default commission applied when a caller has no
// merchant-specific rake configured.
var PlatformRake = decimal.NewFromFloat(0.05)

var (
	one     = decimal.NewFromInt(1)
	fifty   = decimal.NewFromInt(50)
	hundred = decimal.NewFromInt(100)
)

// Pool holds the aggregate stakes on each side of a binary market.
type Pool struct {
	Yes decimal.Decimal
	No  decimal.Decimal
}

// Total returns the combined pool across both sides.
func (p Pool) Total() decimal.Decimal {
	return p.Yes.Add(p.No)
}

// Side returns the stake total for one outcome. Any value other than "yes"
// maps to the no side.
func (p Pool) Side(outcome string) decimal.Decimal {
	if outcome == "yes" {
		return p.Yes
	}
	return p.No
}

// Odds computes the payable odds for an outcome:
//
//	odds = (total_pool * (1 - rake)) / pool[outcome]
//
// With no liquidity to price against (empty pool, or empty side) it returns
// 1.0.
func Odds(pool Pool, outcome string, rake decimal.Decimal) decimal.Decimal {
	total := pool.Total()
	side := pool.Side(outcome)

	if total.IsZero() || side.IsZero() {
		return one
	}

	netPool := total.Mul(one.Sub(rake))
	return netPool.Div(side)
}

// PotentialPayout computes the payout a stake would earn if the given outcome
// wins, truncated to the smallest currency unit. Payouts are never rounded
// up.
func PotentialPayout(stake decimal.Decimal, pool Pool, outcome string, rake decimal.Decimal) decimal.Decimal {
	return stake.Mul(Odds(pool, outcome, rake)).RoundFloor(2)
}

// Metrics are read-only display projections; they never feed settlement math.
type Metrics struct {
	Odds               decimal.Decimal `json:"odds"`
	ImpliedProbability decimal.Decimal `json:"implied_probability"` // percent
	SharePrice         decimal.Decimal `json:"share_price"`
	PayoutPerUnit      decimal.Decimal `json:"payout_per_unit"`
}

// ComputeMetrics derives the display metrics for one outcome. An empty pool
// reads as a 50% implied probability.
func ComputeMetrics(pool Pool, outcome string, rake decimal.Decimal) Metrics {
	odds := Odds(pool, outcome, rake)

	prob := fifty
	if total := pool.Total(); !total.IsZero() {
		prob = pool.Side(outcome).Div(total).Mul(hundred).Round(0)
	}

	return Metrics{
		Odds:               odds,
		ImpliedProbability: prob,
		SharePrice:         one.Div(odds).Round(2),
		PayoutPerUnit:      PotentialPayout(one, pool, outcome, rake),
	}
}
