package lending

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/luxfi/log"
	"github.com/shopspring/decimal"
)

// DefaultMaxPriceAge is the staleness bound applied to oracle reads when the
// config leaves it unset.
const DefaultMaxPriceAge = 60 * time.Second

// LedgerConfig wires the ledger's collaborators.
type LedgerConfig struct {
	Oracle PriceOracle
	Vault  Vault
	Logger log.Logger

	// Metrics is optional; a nil value disables instrumentation.
	Metrics *Metrics

	// MaxPriceAge bounds oracle quote staleness. Zero selects
	// DefaultMaxPriceAge.
	MaxPriceAge time.Duration

	// Now overrides the time source, for tests. Nil selects time.Now.
	Now func() time.Time

	// EventBuffer sizes the event channel. Zero selects a default.
	EventBuffer int
}

// Ledger is the lending state machine. It owns the bank registry and the
// user position ledger and serializes every operation behind one lock, so a
// caller can never observe a partially applied transition. Accrual advances
// only inside operations; there are no background tasks.
type Ledger struct {
	banks     map[AssetID]*Bank
	positions map[UserID]*UserPosition

	oracle  PriceOracle
	vault   Vault
	logger  log.Logger
	metrics *Metrics

	maxPriceAge time.Duration
	now         func() time.Time

	events chan Event

	mu sync.RWMutex
}

// NewLedger creates an empty ledger.
func NewLedger(cfg LedgerConfig) *Ledger {
	maxAge := cfg.MaxPriceAge
	if maxAge == 0 {
		maxAge = DefaultMaxPriceAge
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	buffer := cfg.EventBuffer
	if buffer == 0 {
		buffer = 1024
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Root().New("module", "lending")
	}
	return &Ledger{
		banks:       make(map[AssetID]*Bank),
		positions:   make(map[UserID]*UserPosition),
		oracle:      cfg.Oracle,
		vault:       cfg.Vault,
		logger:      logger,
		metrics:     cfg.Metrics,
		maxPriceAge: maxAge,
		now:         now,
		events:      make(chan Event, buffer),
	}
}

// Events returns the committed-operation feed. Events are dropped, never
// blocked on, when no consumer keeps up.
func (l *Ledger) Events() <-chan Event {
	return l.events
}

// InitBank registers the bank for an asset. One bank per asset, forever.
func (l *Ledger) InitBank(asset AssetID, cfg BankConfig) (bank *Bank, err error) {
	defer func() { l.metrics.observe("init_bank", err) }()

	if asset == "" {
		return nil, fmt.Errorf("%w: empty asset id", ErrInvalidParameter)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.banks[asset]; ok {
		return nil, fmt.Errorf("%w: bank for %s", ErrAlreadyExists, asset)
	}

	now := l.now()
	b := NewBank(asset, cfg, now.Unix())
	l.banks[asset] = b

	l.logger.Info("bank created", "asset", asset, "maxLtv", cfg.MaxLTV, "rate", cfg.InterestRate)
	l.emit(Event{Type: EventBankCreated, Asset: asset, Timestamp: now})
	return b.Clone(), nil
}

// InitUser registers a user position. All balances start at zero.
func (l *Ledger) InitUser(user UserID) (pos *UserPosition, err error) {
	defer func() { l.metrics.observe("init_user", err) }()

	if user == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrInvalidParameter)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.positions[user]; ok {
		return nil, fmt.Errorf("%w: position for %s", ErrAlreadyExists, user)
	}

	now := l.now()
	p := NewUserPosition(user, now.Unix())
	l.positions[user] = p

	l.logger.Info("user created", "user", user)
	l.emit(Event{Type: EventUserCreated, User: user, Timestamp: now})
	return p.Clone(), nil
}

// Deposit moves amount of asset from the user's wallet into the bank's
// treasury and mints deposit shares at the current share value. Deposits
// only add collateral, so no solvency check runs.
func (l *Ledger) Deposit(user UserID, asset AssetID, amount decimal.Decimal) (err error) {
	defer func() { l.metrics.observe("deposit", err) }()
	defer func() { l.logOutcome("deposit", user, asset, amount, err) }()

	if !amount.IsPositive() {
		return fmt.Errorf("%w: deposit of %s", ErrInvalidAmount, amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bank, pos, err := l.load(user, asset)
	if err != nil {
		return err
	}

	now := l.now()
	bank = l.accrued(bank, now.Unix())
	pos = pos.Clone()
	pos.LastDepositUpdate = now.Unix()

	shares := bank.depositSharesFor(amount)

	if err := l.vault.Transfer(UserCustody(user, asset), BankCustody(asset), asset, amount); err != nil {
		return err
	}

	pos.setDepositShares(asset, pos.DepositShares(asset).Add(shares))
	bank.TotalDepositShares = bank.TotalDepositShares.Add(shares)
	bank.TotalDepositValue = bank.TotalDepositValue.Add(amount)

	l.banks[asset] = bank
	l.positions[user] = pos
	l.emit(Event{Type: EventDeposit, User: user, Asset: asset, Amount: amount, Timestamp: now})
	return nil
}

// Withdraw burns deposit shares and moves amount back to the user's wallet.
// The user's remaining collateral must still cover their borrows at each
// collateral asset's max LTV; prices are read once and held for the whole
// check. The withdrawable balance is DepositValueOf the user's shares after
// accrual, truncated to whole base units; it can sit a base unit below the
// untruncated share value, so callers draining an account should withdraw
// that figure rather than the deposited principal plus expected interest.
func (l *Ledger) Withdraw(user UserID, asset AssetID, amount decimal.Decimal) (err error) {
	defer func() { l.metrics.observe("withdraw", err) }()
	defer func() { l.logOutcome("withdraw", user, asset, amount, err) }()

	if !amount.IsPositive() {
		return fmt.Errorf("%w: withdrawal of %s", ErrInvalidAmount, amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, _, err := l.load(user, asset); err != nil {
		return err
	}

	now := l.now()
	pos := l.positions[user].Clone()
	banks, err := l.accruedPortfolio(pos, asset, now.Unix())
	if err != nil {
		return err
	}
	bank := banks[asset]
	pos.LastDepositUpdate = now.Unix()

	shares := pos.DepositShares(asset)
	value := bank.DepositValueOf(shares)
	if amount.GreaterThan(value) {
		return fmt.Errorf("%w: deposited %s of %s, requested %s",
			ErrInsufficientFunds, value, asset, amount)
	}

	burn := ceilShares(amount, bank.DepositShareValue())
	if burn.GreaterThan(shares) {
		burn = shares
	}
	pos.setDepositShares(asset, shares.Sub(burn))
	bank.TotalDepositShares = bank.TotalDepositShares.Sub(burn)
	bank.TotalDepositValue = bank.TotalDepositValue.Sub(amount)

	if err := l.checkSolvency(pos, banks); err != nil {
		return err
	}

	if err := l.vault.Transfer(BankCustody(asset), UserCustody(user, asset), asset, amount); err != nil {
		return err
	}

	l.commit(banks, pos)
	l.emit(Event{Type: EventWithdraw, User: user, Asset: asset, Amount: amount, Timestamp: now})
	return nil
}

// Borrow lends amount of asset to the user against their deposited
// collateral. The bank must hold enough undeployed liquidity and the
// post-borrow position must stay inside the collateral-weighted LTV bound.
func (l *Ledger) Borrow(user UserID, asset AssetID, amount decimal.Decimal) (err error) {
	defer func() { l.metrics.observe("borrow", err) }()
	defer func() { l.logOutcome("borrow", user, asset, amount, err) }()

	if !amount.IsPositive() {
		return fmt.Errorf("%w: borrow of %s", ErrInvalidAmount, amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, _, err := l.load(user, asset); err != nil {
		return err
	}

	now := l.now()
	pos := l.positions[user].Clone()
	banks, err := l.accruedPortfolio(pos, asset, now.Unix())
	if err != nil {
		return err
	}
	bank := banks[asset]
	pos.LastBorrowUpdate = now.Unix()

	if bank.AvailableLiquidity().LessThan(amount) {
		return fmt.Errorf("%w: bank %s has %s undeployed, requested %s",
			ErrInsufficientLiquidity, asset, bank.AvailableLiquidity(), amount)
	}

	shares := bank.borrowSharesFor(amount)
	pos.setBorrowShares(asset, pos.BorrowShares(asset).Add(shares))
	bank.TotalBorrowShares = bank.TotalBorrowShares.Add(shares)
	bank.TotalBorrowValue = bank.TotalBorrowValue.Add(amount)

	if err := l.checkSolvency(pos, banks); err != nil {
		return err
	}

	if err := l.vault.Transfer(BankCustody(asset), UserCustody(user, asset), asset, amount); err != nil {
		return err
	}

	l.commit(banks, pos)
	l.emit(Event{Type: EventBorrow, User: user, Asset: asset, Amount: amount, Timestamp: now})
	return nil
}

// Repay returns amount of a borrowed asset to the bank's treasury and burns
// borrow shares. Amounts above the outstanding debt are rejected, not
// clamped.
func (l *Ledger) Repay(user UserID, asset AssetID, amount decimal.Decimal) (err error) {
	defer func() { l.metrics.observe("repay", err) }()
	defer func() { l.logOutcome("repay", user, asset, amount, err) }()

	if !amount.IsPositive() {
		return fmt.Errorf("%w: repayment of %s", ErrInvalidAmount, amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bank, pos, err := l.load(user, asset)
	if err != nil {
		return err
	}

	now := l.now()
	bank = l.accrued(bank, now.Unix())
	pos = pos.Clone()
	pos.LastBorrowUpdate = now.Unix()

	shares := pos.BorrowShares(asset)
	debt := bank.BorrowValueOf(shares)
	if amount.GreaterThan(debt) {
		return fmt.Errorf("%w: debt is %s of %s, offered %s",
			ErrRepayExceedsDebt, debt, asset, amount)
	}

	var burn decimal.Decimal
	if amount.Equal(debt) {
		burn = shares
	} else {
		burn = amount.Div(bank.BorrowShareValue()).Truncate(shareDecimals)
	}

	if err := l.vault.Transfer(UserCustody(user, asset), BankCustody(asset), asset, amount); err != nil {
		return err
	}

	pos.setBorrowShares(asset, shares.Sub(burn))
	bank.TotalBorrowShares = bank.TotalBorrowShares.Sub(burn)
	bank.TotalBorrowValue = bank.TotalBorrowValue.Sub(amount)

	l.banks[asset] = bank
	l.positions[user] = pos
	l.emit(Event{Type: EventRepay, User: user, Asset: asset, Amount: amount, Timestamp: now})
	return nil
}

// GetBank returns a copy of the bank for asset.
func (l *Ledger) GetBank(asset AssetID) (*Bank, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	bank, ok := l.banks[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBank, asset)
	}
	return bank.Clone(), nil
}

// GetPosition returns a copy of the user's position.
func (l *Ledger) GetPosition(user UserID) (*UserPosition, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos, ok := l.positions[user]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, user)
	}
	return pos.Clone(), nil
}

// AccountHealth reports a user's oracle-priced aggregates: collateral value,
// borrow limit (max-LTV weighted), liquidation bound (threshold weighted)
// and borrowed value. Read-only; no accrual is committed.
func (l *Ledger) AccountHealth(user UserID) (collateral, limit, liquidationBound, borrowed decimal.Decimal, err error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos, ok := l.positions[user]
	if !ok {
		return decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero,
			fmt.Errorf("%w: %s", ErrUnknownUser, user)
	}
	pos = pos.Clone()
	banks, err := l.accruedPortfolio(pos, "", l.now().Unix())
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	return l.portfolioValues(pos, banks, l.newQuoteBook())
}

// Snapshot returns copies of every bank and position, ordered
// deterministically, for persistence.
func (l *Ledger) Snapshot() ([]*Bank, []*UserPosition) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	banks := make([]*Bank, 0, len(l.banks))
	for _, b := range l.banks {
		banks = append(banks, b.Clone())
	}
	sort.Slice(banks, func(i, j int) bool { return banks[i].Asset < banks[j].Asset })

	positions := make([]*UserPosition, 0, len(l.positions))
	for _, p := range l.positions {
		positions = append(positions, p.Clone())
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Owner < positions[j].Owner })
	return banks, positions
}

// Restore installs persisted records. Used once at boot, before the ledger
// serves operations.
func (l *Ledger) Restore(banks []*Bank, positions []*UserPosition) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, b := range banks {
		l.banks[b.Asset] = b.Clone()
	}
	for _, p := range positions {
		l.positions[p.Owner] = p.Clone()
	}
}

// load fetches the records an operation touches. Callers hold the lock.
func (l *Ledger) load(user UserID, asset AssetID) (*Bank, *UserPosition, error) {
	bank, ok := l.banks[asset]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownBank, asset)
	}
	pos, ok := l.positions[user]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownUser, user)
	}
	return bank, pos, nil
}

// accrued returns an accrued clone of bank at now.
func (l *Ledger) accrued(bank *Bank, now int64) *Bank {
	cp := bank.Clone()
	if now > cp.LastUpdate {
		l.metrics.observeAccrual()
	}
	cp.accrue(now)
	return cp
}

// accruedPortfolio clones and accrues every bank the position references,
// plus extra when non-empty. Callers hold the lock.
func (l *Ledger) accruedPortfolio(pos *UserPosition, extra AssetID, now int64) (map[AssetID]*Bank, error) {
	assets := make(map[AssetID]struct{})
	if extra != "" {
		assets[extra] = struct{}{}
	}
	for asset := range pos.Deposits {
		assets[asset] = struct{}{}
	}
	for asset := range pos.Borrows {
		assets[asset] = struct{}{}
	}

	banks := make(map[AssetID]*Bank, len(assets))
	for asset := range assets {
		bank, ok := l.banks[asset]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownBank, asset)
		}
		banks[asset] = l.accrued(bank, now)
	}
	return banks, nil
}

// checkSolvency verifies the position stays inside its borrow limit. Prices
// are read once per asset for the duration of the check.
func (l *Ledger) checkSolvency(pos *UserPosition, banks map[AssetID]*Bank) error {
	if len(pos.Borrows) == 0 {
		return nil
	}
	_, limit, _, borrowed, err := l.portfolioValues(pos, banks, l.newQuoteBook())
	if err != nil {
		return err
	}
	if borrowed.GreaterThan(limit) {
		return fmt.Errorf("%w: borrowed value %s exceeds limit %s",
			ErrInsufficientCollateral, borrowed, limit)
	}
	return nil
}

// quoteBook memoizes oracle reads so every price an operation needs is
// taken at most once and held for the rest of that operation.
type quoteBook struct {
	oracle PriceOracle
	maxAge time.Duration
	quotes map[AssetID]PriceQuote
}

func (l *Ledger) newQuoteBook() *quoteBook {
	return &quoteBook{
		oracle: l.oracle,
		maxAge: l.maxPriceAge,
		quotes: make(map[AssetID]PriceQuote),
	}
}

func (b *quoteBook) quote(asset AssetID) (PriceQuote, error) {
	if q, ok := b.quotes[asset]; ok {
		return q, nil
	}
	q, err := b.oracle.GetPrice(asset, b.maxAge)
	if err != nil {
		return PriceQuote{}, err
	}
	b.quotes[asset] = q
	return q, nil
}

// portfolioValues prices the position's aggregates through the given quote
// book. Each collateral bucket is weighted by its own bank's max LTV
// (borrow limit) and liquidation threshold (liquidation bound).
func (l *Ledger) portfolioValues(pos *UserPosition, banks map[AssetID]*Bank, book *quoteBook) (collateral, limit, liquidationBound, borrowed decimal.Decimal, err error) {
	collateral, limit, liquidationBound, borrowed = decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero

	for asset, shares := range pos.Deposits {
		bank, ok := banks[asset]
		if !ok {
			return collateral, limit, liquidationBound, borrowed, fmt.Errorf("%w: %s", ErrUnknownBank, asset)
		}
		q, err := book.quote(asset)
		if err != nil {
			return collateral, limit, liquidationBound, borrowed, err
		}
		value := bank.DepositValueOf(shares).Mul(q.Price)
		collateral = collateral.Add(value)
		limit = limit.Add(value.Mul(bank.MaxLTV))
		liquidationBound = liquidationBound.Add(value.Mul(bank.LiquidationThreshold))
	}
	for asset, shares := range pos.Borrows {
		bank, ok := banks[asset]
		if !ok {
			return collateral, limit, liquidationBound, borrowed, fmt.Errorf("%w: %s", ErrUnknownBank, asset)
		}
		q, err := book.quote(asset)
		if err != nil {
			return collateral, limit, liquidationBound, borrowed, err
		}
		borrowed = borrowed.Add(bank.BorrowValueOf(shares).Mul(q.Price))
	}
	return collateral, limit, liquidationBound, borrowed, nil
}

// commit swaps staged bank clones and the position into the registries.
// Callers hold the lock.
func (l *Ledger) commit(banks map[AssetID]*Bank, pos *UserPosition) {
	for asset, bank := range banks {
		l.banks[asset] = bank
	}
	l.positions[pos.Owner] = pos
}

func (l *Ledger) emit(ev Event) {
	select {
	case l.events <- ev:
	default:
		// No consumer keeping up; drop.
	}
}

func (l *Ledger) logOutcome(op string, user UserID, asset AssetID, amount decimal.Decimal, err error) {
	if err != nil {
		l.logger.Warn("operation rejected", "op", op, "user", user, "asset", asset, "amount", amount, "error", err)
		return
	}
	l.logger.Debug("operation committed", "op", op, "user", user, "asset", asset, "amount", amount)
}
