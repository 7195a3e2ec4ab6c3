// Package lending implements a collateralized lending ledger: per-asset
// banks hold pooled deposits, users borrow against oracle-priced collateral,
// and every balance is tracked as shares of the pool so interest accrual
// never rewrites individual positions.
package lending

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetID identifies a supported asset (e.g. "USDC", "SOL").
type AssetID string

// UserID identifies a ledger user.
type UserID string

// EventType identifies a ledger state transition.
type EventType string

const (
	EventBankCreated EventType = "bank_created"
	EventUserCreated EventType = "user_created"
	EventDeposit     EventType = "deposit"
	EventWithdraw    EventType = "withdraw"
	EventBorrow      EventType = "borrow"
	EventRepay       EventType = "repay"
	EventLiquidate   EventType = "liquidate"
)

// Event describes a committed ledger operation. Events are emitted after the
// state transition has been applied, never for failed operations.
type Event struct {
	Type      EventType       `json:"type"`
	User      UserID          `json:"user"`
	Asset     AssetID         `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// PriceQuote is a normalized oracle reading: the value of one base unit of
// the asset, the feed's confidence interval, and the publish time used for
// staleness checks.
type PriceQuote struct {
	Asset      AssetID         `json:"asset"`
	Price      decimal.Decimal `json:"price"`
	Confidence decimal.Decimal `json:"confidence"`
	Timestamp  time.Time       `json:"timestamp"`
}
