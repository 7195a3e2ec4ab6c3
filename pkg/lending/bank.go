package lending

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Share balances carry this many decimal places. Conversions from value to
// shares truncate toward zero so minted shares never exceed the value paid
// in.
const shareDecimals = 12

var shareUlp = decimal.New(1, -shareDecimals)

// BankConfig holds the per-asset risk parameters. All ratios are fractions
// in [0, 1]; InterestRate is a per-year rate applied by the interest model.
type BankConfig struct {
	MaxLTV                 decimal.Decimal `json:"maxLtv"`
	LiquidationThreshold   decimal.Decimal `json:"liquidationThreshold"`
	LiquidationBonus       decimal.Decimal `json:"liquidationBonus"`
	LiquidationCloseFactor decimal.Decimal `json:"liquidationCloseFactor"`
	InterestRate           decimal.Decimal `json:"interestRate"`
}

// Validate checks the config ranges. The liquidation threshold must not be
// below the max LTV, otherwise a position could be liquidatable the moment
// it is opened.
func (c BankConfig) Validate() error {
	ratios := map[string]decimal.Decimal{
		"maxLtv":                 c.MaxLTV,
		"liquidationThreshold":   c.LiquidationThreshold,
		"liquidationBonus":       c.LiquidationBonus,
		"liquidationCloseFactor": c.LiquidationCloseFactor,
	}
	for name, r := range ratios {
		if r.IsNegative() || r.GreaterThan(one) {
			return fmt.Errorf("%w: %s %s outside [0, 1]", ErrInvalidParameter, name, r)
		}
	}
	if c.InterestRate.IsNegative() {
		return fmt.Errorf("%w: negative interest rate %s", ErrInvalidParameter, c.InterestRate)
	}
	if c.LiquidationThreshold.LessThan(c.MaxLTV) {
		return fmt.Errorf("%w: liquidation threshold %s below max LTV %s",
			ErrInvalidParameter, c.LiquidationThreshold, c.MaxLTV)
	}
	return nil
}

// Bank is the pool record for a single asset. Deposits and borrows are
// tracked as (shares, value) pairs: accrual grows the value totals while
// share counts stay fixed, so every holder's slice appreciates without a
// per-user rewrite.
type Bank struct {
	Asset AssetID `json:"asset"`

	TotalDepositShares decimal.Decimal `json:"totalDepositShares"`
	TotalDepositValue  decimal.Decimal `json:"totalDepositValue"`
	TotalBorrowShares  decimal.Decimal `json:"totalBorrowShares"`
	TotalBorrowValue   decimal.Decimal `json:"totalBorrowValue"`

	BankConfig

	// LastUpdate is the unix time of the last interest accrual.
	LastUpdate int64 `json:"lastUpdate"`
}

// NewBank creates a bank with zeroed totals.
func NewBank(asset AssetID, cfg BankConfig, now int64) *Bank {
	return &Bank{
		Asset:              asset,
		TotalDepositShares: decimal.Zero,
		TotalDepositValue:  decimal.Zero,
		TotalBorrowShares:  decimal.Zero,
		TotalBorrowValue:   decimal.Zero,
		BankConfig:         cfg,
		LastUpdate:         now,
	}
}

// accrue advances both value totals to now. Calling it twice with the same
// timestamp is a no-op the second time.
func (b *Bank) accrue(now int64) {
	elapsed := now - b.LastUpdate
	if elapsed <= 0 {
		return
	}
	b.TotalDepositValue = GrowValue(b.TotalDepositValue, b.InterestRate, elapsed)
	b.TotalBorrowValue = GrowValue(b.TotalBorrowValue, b.InterestRate, elapsed)
	b.LastUpdate = now
}

// DepositShareValue returns the current value of one deposit share. An empty
// pool prices shares at par.
func (b *Bank) DepositShareValue() decimal.Decimal {
	if b.TotalDepositShares.IsZero() {
		return one
	}
	return b.TotalDepositValue.Div(b.TotalDepositShares)
}

// BorrowShareValue returns the current value of one borrow share.
func (b *Bank) BorrowShareValue() decimal.Decimal {
	if b.TotalBorrowShares.IsZero() {
		return one
	}
	return b.TotalBorrowValue.Div(b.TotalBorrowShares)
}

// DepositValueOf converts a deposit share balance to current value,
// truncated to base units.
func (b *Bank) DepositValueOf(shares decimal.Decimal) decimal.Decimal {
	return shares.Mul(b.DepositShareValue()).Truncate(0)
}

// BorrowValueOf converts a borrow share balance to current value, truncated
// to base units.
func (b *Bank) BorrowValueOf(shares decimal.Decimal) decimal.Decimal {
	return shares.Mul(b.BorrowShareValue()).Truncate(0)
}

// depositSharesFor returns the shares minted for a deposit of amount,
// truncated toward zero.
func (b *Bank) depositSharesFor(amount decimal.Decimal) decimal.Decimal {
	return amount.Div(b.DepositShareValue()).Truncate(shareDecimals)
}

// borrowSharesFor returns the shares minted for a borrow of amount,
// rounded up so the pool never under-records debt.
func (b *Bank) borrowSharesFor(amount decimal.Decimal) decimal.Decimal {
	return ceilShares(amount, b.BorrowShareValue())
}

// AvailableLiquidity is the undeployed portion of the pool: deposits not
// currently lent out.
func (b *Bank) AvailableLiquidity() decimal.Decimal {
	return b.TotalDepositValue.Sub(b.TotalBorrowValue)
}

// Clone returns a deep copy. Operations stage mutations on clones and swap
// them in only after every check has passed.
func (b *Bank) Clone() *Bank {
	cp := *b
	return &cp
}

// ceilShares converts a value to shares rounding up at share precision.
// Used when burning deposit shares and minting borrow shares, the two
// directions where rounding must favor the pool.
func ceilShares(amount, shareValue decimal.Decimal) decimal.Decimal {
	shares := amount.Div(shareValue).Truncate(shareDecimals)
	if shares.Mul(shareValue).LessThan(amount) {
		shares = shares.Add(shareUlp)
	}
	return shares
}
