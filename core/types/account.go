package types

import "github.com/holiman/uint256"

// Account is the ledger record for a single address. Balances are unsigned
// 256-bit integers so arithmetic failures surface explicitly instead of
// wrapping.
type Account struct {
	// Nonce counts outgoing transfers originated by the account.
	Nonce uint64 `json:"nonce"`
	// Balance is the base-asset balance in wei.
	Balance *uint256.Int `json:"balance"`
}

// EnsureDefaults populates nil fields so persisted records are always safe to
// operate on.
func (a *Account) EnsureDefaults() {
	if a.Balance == nil {
		a.Balance = uint256.NewInt(0)
	}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{Nonce: a.Nonce}
	if a.Balance != nil {
		clone.Balance = new(uint256.Int).Set(a.Balance)
	}
	return clone
}
