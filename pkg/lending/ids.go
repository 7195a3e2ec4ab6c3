package lending

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// CustodyAccount is the deterministic identifier of an account holding value
// on behalf of the protocol. Bank treasuries and user wallets are both
// addressed this way so lookups are direct rather than scans.
type CustodyAccount [32]byte

// String returns the hex form of the account id.
func (a CustodyAccount) String() string {
	return hex.EncodeToString(a[:])
}

// BankCustody derives the treasury account for an asset's bank. The
// derivation is pure, so any party can recompute it from the asset id alone.
func BankCustody(asset AssetID) CustodyAccount {
	return derive("treasury", string(asset))
}

// UserCustody derives the wallet account for a user and asset pair.
func UserCustody(user UserID, asset AssetID) CustodyAccount {
	return derive("wallet", string(user), string(asset))
}

func derive(parts ...string) CustodyAccount {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		h.Write([]byte{byte(len(p))})
		h.Write([]byte(p))
	}
	var out CustodyAccount
	copy(out[:], h.Sum(nil))
	return out
}
