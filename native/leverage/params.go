package leverage

import "github.com/holiman/uint256"

const moduleName = "leverage"

// Protocol constants for the reference deployment. Params carries the
// runtime-configurable copies.
const (
	// MaxLoops bounds the supply/borrow and withdraw/repay iteration count.
	// Worst-case work per invocation is fixed; there is no timeout layer.
	MaxLoops = 5
	// EntryFeeBps and ExitFeeBps are taken with ceiling rounding.
	EntryFeeBps = 50
	ExitFeeBps  = 50
	// MinDepositWei is the smallest deposit accepted by Open.
	MinDepositWei = 10_000
)

// Params groups the governance-controlled limits and strategy switches for
// the engine.
type Params struct {
	// MinDeposit is the smallest amount Open accepts.
	MinDeposit *uint256.Int
	// EntryFeeBps and ExitFeeBps are basis-point fees, ceiling-rounded.
	EntryFeeBps uint64
	ExitFeeBps  uint64
	// MinLeverageWad and MaxLeverageWad bound the requested leverage,
	// 18-decimal fixed point.
	MinLeverageWad *uint256.Int
	MaxLeverageWad *uint256.Int
	// MinHealthFactorWad is the engine's own floor, checked after every
	// borrow. It is stricter than the pool's internal limit.
	MinHealthFactorWad *uint256.Int
	// MaxLoops bounds both the leverage and unwind loops.
	MaxLoops int
	// UnboundedAllowance reproduces the grant-maximum-then-revoke allowance
	// strategy the protocol originally shipped with. The default here is the
	// opposite: grant the exact amount needed per pool call, which cannot
	// collide with a stale grant from a prior cycle.
	UnboundedAllowance bool
	// ProceedsFromLiveBalance derives net proceeds from the engine's held
	// balance after the unwind instead of the stored open-time snapshot.
	ProceedsFromLiveBalance bool
}

// DefaultParams returns the reference limits: 10k wei minimum deposit, 50 bps
// fees, 1.0x-3.0x leverage, 1.5 health floor, five loop iterations.
func DefaultParams() Params {
	return Params{
		MinDeposit:         uint256.NewInt(MinDepositWei),
		EntryFeeBps:        EntryFeeBps,
		ExitFeeBps:         ExitFeeBps,
		MinLeverageWad:     uint256.MustFromDecimal("1000000000000000000"),
		MaxLeverageWad:     uint256.MustFromDecimal("3000000000000000000"),
		MinHealthFactorWad: uint256.MustFromDecimal("1500000000000000000"),
		MaxLoops:           MaxLoops,
	}
}

func (p *Params) ensureDefaults() {
	defaults := DefaultParams()
	if p.MinDeposit == nil {
		p.MinDeposit = defaults.MinDeposit
	}
	if p.MinLeverageWad == nil {
		p.MinLeverageWad = defaults.MinLeverageWad
	}
	if p.MaxLeverageWad == nil {
		p.MaxLeverageWad = defaults.MaxLeverageWad
	}
	if p.MinHealthFactorWad == nil {
		p.MinHealthFactorWad = defaults.MinHealthFactorWad
	}
	if p.MaxLoops <= 0 {
		p.MaxLoops = defaults.MaxLoops
	}
}
