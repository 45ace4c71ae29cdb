package lending

import (
	"math"
	"math/big"
)

var basisPoints = big.NewInt(10_000)

// secondsPerDay converts elapsed sequence units into accrual days. A
// started day counts in full.
const secondsPerDay = 86_400

// AmountDue computes the repayment owed on a loan after elapsed sequence
// units. It is deterministic, side-effect free and monotone non-decreasing
// in elapsed time.
//
// Both tiers charge the base rate up front, so the amount due at elapsed
// zero is already principal plus the base rate. The penalty rate then
// scales with accrual days: linearly for TierLinear, on an integer
// square-root curve for TierCurved.
func AmountDue(elapsed uint64, tier RateTier, baseRateBp, penaltyRateBp uint64, principal *big.Int) *big.Int {
	if principal == nil || principal.Sign() <= 0 {
		return big.NewInt(0)
	}
	days := accrualDays(elapsed)
	scale := days
	if tier == TierCurved {
		scale = isqrt(days)
	}
	// The rate product runs in big.Int: a uint64 product wraps for large
	// penalty rates and would break monotonicity.
	rate := new(big.Int).SetUint64(penaltyRateBp)
	rate.Mul(rate, new(big.Int).SetUint64(scale))
	rate.Add(rate, new(big.Int).SetUint64(baseRateBp))
	interest := new(big.Int).Mul(principal, rate)
	interest.Quo(interest, basisPoints)
	return interest.Add(interest, principal)
}

func accrualDays(elapsed uint64) uint64 {
	if elapsed == 0 {
		return 0
	}
	return (elapsed + secondsPerDay - 1) / secondsPerDay
}

// isqrt returns the integer square root, the largest r with r*r <= n.
func isqrt(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	r := uint64(math.Sqrt(float64(n)))
	for r > 0 && r*r > n {
		r--
	}
	for r < math.MaxUint32 && (r+1)*(r+1) <= n {
		r++
	}
	return r
}
