package lending

import "errors"

// Operation errors. Every failure is terminal for the call that raised it:
// nothing is retried and no partial mutation is committed.
var (
	ErrInvalidParameter       = errors.New("invalid parameter")
	ErrAlreadyExists          = errors.New("already exists")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInsufficientLiquidity  = errors.New("insufficient liquidity")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrRepayExceedsDebt       = errors.New("repay exceeds outstanding debt")
	ErrUnknownBank            = errors.New("unknown bank")
	ErrUnknownUser            = errors.New("unknown user")

	// Oracle errors.
	ErrStalePrice   = errors.New("stale price")
	ErrUnknownAsset = errors.New("unknown asset")

	// Vault errors.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// Liquidation errors.
	ErrNotUndercollateralized = errors.New("position is not undercollateralized")
)
