package lending

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// LiquidationResult reports what a liquidation moved.
type LiquidationResult struct {
	Borrower         UserID          `json:"borrower"`
	DebtAsset        AssetID         `json:"debtAsset"`
	CollateralAsset  AssetID         `json:"collateralAsset"`
	RepaidDebt       decimal.Decimal `json:"repaidDebt"`
	SeizedCollateral decimal.Decimal `json:"seizedCollateral"`
}

// Liquidate lets a third party repay part of an undercollateralized
// borrower's debt in exchange for discounted collateral. The borrower is
// eligible only when their borrowed value exceeds the liquidation bound
// (collateral weighted by each bank's liquidation threshold). The repaid
// slice of the debt is capped by the debt bank's close factor, and the
// liquidator receives the equivalent collateral plus the collateral bank's
// liquidation bonus.
func (l *Ledger) Liquidate(liquidator, borrower UserID, collateralAsset, debtAsset AssetID) (res *LiquidationResult, err error) {
	defer func() { l.metrics.observe("liquidate", err) }()

	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[borrower]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, borrower)
	}
	pos = pos.Clone()

	now := l.now()
	banks, err := l.accruedPortfolio(pos, "", now.Unix())
	if err != nil {
		return nil, err
	}
	collateralBank, ok := banks[collateralAsset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBank, collateralAsset)
	}
	debtBank, ok := banks[debtAsset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBank, debtAsset)
	}

	// One quote book for the whole operation: the prices that decide
	// eligibility are the prices that size the repay and the seizure.
	book := l.newQuoteBook()
	_, _, liquidationBound, borrowed, err := l.portfolioValues(pos, banks, book)
	if err != nil {
		return nil, err
	}
	if borrowed.IsZero() || borrowed.LessThanOrEqual(liquidationBound) {
		return nil, fmt.Errorf("%w: borrowed %s within bound %s",
			ErrNotUndercollateralized, borrowed, liquidationBound)
	}

	debtQuote, err := book.quote(debtAsset)
	if err != nil {
		return nil, err
	}
	collateralQuote, err := book.quote(collateralAsset)
	if err != nil {
		return nil, err
	}

	debtShares := pos.BorrowShares(debtAsset)
	debtValue := debtBank.BorrowValueOf(debtShares)
	repay := debtValue.Mul(debtBank.LiquidationCloseFactor).Truncate(0)
	if !repay.IsPositive() {
		return nil, fmt.Errorf("%w: no %s debt to close", ErrNotUndercollateralized, debtAsset)
	}

	// Collateral units matching the repaid value, plus the bonus, capped at
	// what the borrower actually deposited.
	depositShares := pos.DepositShares(collateralAsset)
	depositValue := collateralBank.DepositValueOf(depositShares)
	seize := repay.Mul(debtQuote.Price).
		Div(collateralQuote.Price).
		Mul(one.Add(collateralBank.LiquidationBonus)).
		Truncate(0)
	if seize.GreaterThan(depositValue) {
		seize = depositValue
	}
	if !seize.IsPositive() {
		return nil, fmt.Errorf("%w: borrower holds no %s collateral", ErrInsufficientFunds, collateralAsset)
	}

	if err := l.vault.Transfer(UserCustody(liquidator, debtAsset), BankCustody(debtAsset), debtAsset, repay); err != nil {
		return nil, err
	}
	if err := l.vault.Transfer(BankCustody(collateralAsset), UserCustody(liquidator, collateralAsset), collateralAsset, seize); err != nil {
		return nil, err
	}

	debtBurn := ceilShares(repay, debtBank.BorrowShareValue())
	if debtBurn.GreaterThan(debtShares) {
		debtBurn = debtShares
	}
	pos.setBorrowShares(debtAsset, debtShares.Sub(debtBurn))
	debtBank.TotalBorrowShares = debtBank.TotalBorrowShares.Sub(debtBurn)
	debtBank.TotalBorrowValue = debtBank.TotalBorrowValue.Sub(repay)

	seizeBurn := ceilShares(seize, collateralBank.DepositShareValue())
	if seizeBurn.GreaterThan(depositShares) {
		seizeBurn = depositShares
	}
	pos.setDepositShares(collateralAsset, depositShares.Sub(seizeBurn))
	collateralBank.TotalDepositShares = collateralBank.TotalDepositShares.Sub(seizeBurn)
	collateralBank.TotalDepositValue = collateralBank.TotalDepositValue.Sub(seize)

	pos.LastBorrowUpdate = now.Unix()
	pos.LastDepositUpdate = now.Unix()

	l.commit(banks, pos)
	l.logger.Info("position liquidated",
		"borrower", borrower, "liquidator", liquidator,
		"debtAsset", debtAsset, "repaid", repay,
		"collateralAsset", collateralAsset, "seized", seize)
	l.emit(Event{Type: EventLiquidate, User: borrower, Asset: debtAsset, Amount: repay, Timestamp: now})

	return &LiquidationResult{
		Borrower:         borrower,
		DebtAsset:        debtAsset,
		CollateralAsset:  collateralAsset,
		RepaidDebt:       repay,
		SeizedCollateral: seize,
	}, nil
}
