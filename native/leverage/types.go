package leverage

import (
	"github.com/holiman/uint256"

	"loopstake/crypto"
)

// Position is the open-time accounting snapshot for one leveraged stake.
// Amounts are denominated in wei of the base asset.
type Position struct {
	// Owner is the depositor's address. The zero address means the slot is
	// free.
	Owner crypto.Address
	// TotalDeposited is the collateral supplied across all loop iterations.
	TotalDeposited *uint256.Int
	// TotalBorrowed is the debt drawn across all loop iterations.
	TotalBorrowed *uint256.Int
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{Owner: p.Owner}
	if p.TotalDeposited != nil {
		clone.TotalDeposited = new(uint256.Int).Set(p.TotalDeposited)
	}
	if p.TotalBorrowed != nil {
		clone.TotalBorrowed = new(uint256.Int).Set(p.TotalBorrowed)
	}
	return clone
}

func (p *Position) ensureDefaults() {
	if p.TotalDeposited == nil {
		p.TotalDeposited = uint256.NewInt(0)
	}
	if p.TotalBorrowed == nil {
		p.TotalBorrowed = uint256.NewInt(0)
	}
}

// OpenReceipt summarises a successful Open for the caller.
type OpenReceipt struct {
	Deposited *uint256.Int
	Borrowed  *uint256.Int
	Fee       *uint256.Int
}
