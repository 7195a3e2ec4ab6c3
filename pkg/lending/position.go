package lending

import "github.com/shopspring/decimal"

// UserPosition tracks one user's share balances across every asset they have
// touched. A position is created once on first interaction and only ever
// zeroed afterwards, never deleted.
type UserPosition struct {
	Owner UserID `json:"owner"`

	// Deposits and Borrows map asset id to share balance. Zero balances are
	// removed from the maps.
	Deposits map[AssetID]decimal.Decimal `json:"deposits"`
	Borrows  map[AssetID]decimal.Decimal `json:"borrows"`

	LastDepositUpdate int64 `json:"lastDepositUpdate"`
	LastBorrowUpdate  int64 `json:"lastBorrowUpdate"`
}

// NewUserPosition creates an empty position for owner.
func NewUserPosition(owner UserID, now int64) *UserPosition {
	return &UserPosition{
		Owner:             owner,
		Deposits:          make(map[AssetID]decimal.Decimal),
		Borrows:           make(map[AssetID]decimal.Decimal),
		LastDepositUpdate: now,
		LastBorrowUpdate:  now,
	}
}

// DepositShares returns the deposit share balance for asset, zero if none.
func (p *UserPosition) DepositShares(asset AssetID) decimal.Decimal {
	if s, ok := p.Deposits[asset]; ok {
		return s
	}
	return decimal.Zero
}

// BorrowShares returns the borrow share balance for asset, zero if none.
func (p *UserPosition) BorrowShares(asset AssetID) decimal.Decimal {
	if s, ok := p.Borrows[asset]; ok {
		return s
	}
	return decimal.Zero
}

func (p *UserPosition) setDepositShares(asset AssetID, shares decimal.Decimal) {
	if shares.IsZero() || shares.IsNegative() {
		delete(p.Deposits, asset)
		return
	}
	p.Deposits[asset] = shares
}

func (p *UserPosition) setBorrowShares(asset AssetID, shares decimal.Decimal) {
	if shares.IsZero() || shares.IsNegative() {
		delete(p.Borrows, asset)
		return
	}
	p.Borrows[asset] = shares
}

// Clone returns a deep copy of the position.
func (p *UserPosition) Clone() *UserPosition {
	cp := &UserPosition{
		Owner:             p.Owner,
		Deposits:          make(map[AssetID]decimal.Decimal, len(p.Deposits)),
		Borrows:           make(map[AssetID]decimal.Decimal, len(p.Borrows)),
		LastDepositUpdate: p.LastDepositUpdate,
		LastBorrowUpdate:  p.LastBorrowUpdate,
	}
	for asset, shares := range p.Deposits {
		cp.Deposits[asset] = shares
	}
	for asset, shares := range p.Borrows {
		cp.Borrows[asset] = shares
	}
	return cp
}
