package lending

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticOracle(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	oracle := NewStaticOracle()
	oracle.SetClock(func() time.Time { return now })

	t.Run("unknown asset", func(t *testing.T) {
		_, err := oracle.GetPrice("SOL", time.Minute)
		assert.ErrorIs(t, err, ErrUnknownAsset)
	})

	t.Run("serves a fresh quote", func(t *testing.T) {
		oracle.SetPrice("SOL", dec(150))

		q, err := oracle.GetPrice("SOL", time.Minute)
		require.NoError(t, err)
		assert.True(t, q.Price.Equal(dec(150)))
		assert.True(t, q.Confidence.Equal(one))
	})

	t.Run("rejects a stale quote", func(t *testing.T) {
		now = now.Add(2 * time.Minute)

		_, err := oracle.GetPrice("SOL", time.Minute)
		assert.ErrorIs(t, err, ErrStalePrice)
	})

	t.Run("zero max age disables the staleness check", func(t *testing.T) {
		_, err := oracle.GetPrice("SOL", 0)
		assert.NoError(t, err)
	})
}

func TestCustodyDerivation(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, BankCustody("USDC"), BankCustody("USDC"))
		assert.Equal(t, UserCustody("alice", "USDC"), UserCustody("alice", "USDC"))
	})

	t.Run("distinct per input", func(t *testing.T) {
		assert.NotEqual(t, BankCustody("USDC"), BankCustody("SOL"))
		assert.NotEqual(t, UserCustody("alice", "USDC"), UserCustody("bob", "USDC"))
		assert.NotEqual(t, UserCustody("alice", "USDC"), UserCustody("alice", "SOL"))
		assert.NotEqual(t, BankCustody("USDC"), UserCustody("USDC", ""))
	})
}

func TestMemoryVault(t *testing.T) {
	vault := NewMemoryVault()
	a := UserCustody("alice", "USDC")
	b := BankCustody("USDC")

	vault.Mint(a, "USDC", dec(100))
	require.NoError(t, vault.Transfer(a, b, "USDC", dec(60)))
	assert.True(t, vault.Balance(a, "USDC").Equal(dec(40)))
	assert.True(t, vault.Balance(b, "USDC").Equal(dec(60)))

	err := vault.Transfer(a, b, "USDC", dec(41))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.True(t, vault.Balance(a, "USDC").Equal(dec(40)))
}
