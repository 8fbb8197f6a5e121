package totalisator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestOddsEmptyPool(t *testing.T) {
	assert.True(t, Odds(Pool{}, "yes", PlatformRake).Equal(d("1")))
	assert.True(t, Odds(Pool{Yes: d("100")}, "no", PlatformRake).Equal(d("1")),
		"empty side has no liquidity to price against")
}

func TestOddsFormula(t *testing.T) {
	// (200 * 0.9) / 100 = 1.8
	pool := Pool{Yes: d("100"), No: d("100")}
	odds := Odds(pool, "yes", d("0.1"))
	assert.True(t, odds.Equal(d("1.8")), "got %s", odds)
}

func TestOddsNeverBelowOneOnBalancedOrSmallerSide(t *testing.T) {
	cases := []struct {
		pool Pool
		out  string
		rake string
	}{
		{Pool{Yes: d("100"), No: d("100")}, "yes", "0"},
		{Pool{Yes: d("100"), No: d("100")}, "yes", "0.05"},
		{Pool{Yes: d("50"), No: d("950")}, "yes", "0.1"},
		{Pool{Yes: d("1"), No: d("10000")}, "yes", "0.2"},
		{Pool{Yes: d("300"), No: d("900")}, "yes", "0.05"},
		{Pool{Yes: d("0.01"), No: d("0.01")}, "no", "0"},
	}

	for _, tc := range cases {
		odds := Odds(tc.pool, tc.out, d(tc.rake))
		assert.True(t, odds.GreaterThanOrEqual(d("1")),
			"odds %s below 1.0 for pool %v outcome %s rake %s", odds, tc.pool, tc.out, tc.rake)
	}
}

func TestPotentialPayoutExactTruncation(t *testing.T) {
	// stake=50, pool={yes:100,no:100}, rake=0.1 => 50 * 1.8 = 90.00 exactly
	pool := Pool{Yes: d("100"), No: d("100")}
	payout := PotentialPayout(d("50"), pool, "yes", d("0.1"))
	require.True(t, payout.Equal(d("90")), "got %s", payout)
}

func TestPotentialPayoutTruncatesDown(t *testing.T) {
	// odds = (300 * 0.95) / 170 = 1.67647..., stake 10 => 16.7647... => 16.76
	pool := Pool{Yes: d("170"), No: d("130")}
	payout := PotentialPayout(d("10"), pool, "yes", d("0.05"))
	assert.True(t, payout.Equal(d("16.76")), "got %s", payout)

	// Truncated payout never exceeds stake*odds and is never negative.
	raw := d("10").Mul(Odds(pool, "yes", d("0.05")))
	assert.True(t, payout.LessThanOrEqual(raw))
	assert.True(t, payout.GreaterThanOrEqual(decimal.Zero))
}

func TestComputeMetrics(t *testing.T) {
	pool := Pool{Yes: d("900"), No: d("300")}
	m := ComputeMetrics(pool, "yes", d("0.05"))

	// odds = (1200 * 0.95) / 900 = 1.2666...
	assert.True(t, m.Odds.GreaterThan(d("1.26")) && m.Odds.LessThan(d("1.27")))
	// 900/1200 = 75%
	assert.True(t, m.ImpliedProbability.Equal(d("75")), "got %s", m.ImpliedProbability)
	// 1/1.2666 = 0.7894... => 0.79
	assert.True(t, m.SharePrice.Equal(d("0.79")), "got %s", m.SharePrice)
	assert.True(t, m.PayoutPerUnit.Equal(d("1.26")), "got %s", m.PayoutPerUnit)
}

func TestComputeMetricsEmptyPool(t *testing.T) {
	m := ComputeMetrics(Pool{}, "yes", PlatformRake)
	assert.True(t, m.ImpliedProbability.Equal(d("50")))
	assert.True(t, m.Odds.Equal(d("1")))
}
