package lending

import "github.com/shopspring/decimal"

const secondsPerYear = 31_536_000

// Intermediate precision for compounding. Digits beyond this are truncated
// after every multiply so the computation stays deterministic regardless of
// elapsed time.
const interestPrecision = 24

var one = decimal.NewFromInt(1)

// GrowValue advances a stored value by per-second compound interest over
// elapsed whole seconds. The same function serves both the deposit and the
// borrow side of a bank, so accrual alone can never push borrowed value
// above deposited value. The result is truncated toward zero at base-unit
// precision.
func GrowValue(value decimal.Decimal, annualRate decimal.Decimal, elapsedSeconds int64) decimal.Decimal {
	if elapsedSeconds <= 0 || value.IsZero() || annualRate.IsZero() {
		return value
	}
	factor := growthFactor(annualRate, elapsedSeconds)
	return value.Mul(factor).Truncate(0)
}

// growthFactor computes (1 + rate/secondsPerYear)^elapsed by binary
// exponentiation, truncating after each multiply.
func growthFactor(annualRate decimal.Decimal, elapsedSeconds int64) decimal.Decimal {
	base := one.Add(annualRate.Div(decimal.NewFromInt(secondsPerYear)).Truncate(interestPrecision))
	result := one
	for n := elapsedSeconds; n > 0; n >>= 1 {
		if n&1 == 1 {
			result = result.Mul(base).Truncate(interestPrecision)
		}
		base = base.Mul(base).Truncate(interestPrecision)
	}
	return result
}
