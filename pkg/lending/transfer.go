package lending

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Vault moves the underlying asset between custody accounts. The ledger
// invokes it exactly once per operation; the host environment is expected to
// bundle the transfer with the ledger's own commit so the pair is atomic.
// A failed transfer aborts the whole operation.
type Vault interface {
	Transfer(from, to CustodyAccount, asset AssetID, amount decimal.Decimal) error
}

// MemoryVault is an in-memory Vault for tests and dev mode. Balances are
// keyed by (account, asset).
type MemoryVault struct {
	balances map[vaultKey]decimal.Decimal
	mu       sync.Mutex
}

type vaultKey struct {
	account CustodyAccount
	asset   AssetID
}

// NewMemoryVault creates an empty vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{balances: make(map[vaultKey]decimal.Decimal)}
}

// Mint credits an account out of thin air. Test funding only.
func (v *MemoryVault) Mint(account CustodyAccount, asset AssetID, amount decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	key := vaultKey{account, asset}
	v.balances[key] = v.balances[key].Add(amount)
}

// Balance returns the current holdings of (account, asset).
func (v *MemoryVault) Balance(account CustodyAccount, asset AssetID) decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[vaultKey{account, asset}]
}

// Transfer implements Vault. It fails with ErrInsufficientBalance if the
// source does not hold the amount; no partial movement happens.
func (v *MemoryVault) Transfer(from, to CustodyAccount, asset AssetID, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative transfer amount %s", ErrInvalidAmount, amount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	fromKey := vaultKey{from, asset}
	if v.balances[fromKey].LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s of %s, need %s",
			ErrInsufficientBalance, from, v.balances[fromKey], asset, amount)
	}
	toKey := vaultKey{to, asset}
	v.balances[fromKey] = v.balances[fromKey].Sub(amount)
	v.balances[toKey] = v.balances[toKey].Add(amount)
	return nil
}
