// Package pool provides the reference lending pool the leverage engine
// borrows against. The pool serves one aggregate depositor identity and
// enforces its own loan-to-value and withdrawal health limits, independent of
// the engine's stricter threshold.
package pool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"loopstake/crypto"
	"loopstake/native/fpmath"
)

var (
	ErrInvalidAmount          = errors.New("pool: amount must be positive")
	ErrExceedsBorrowable      = errors.New("pool: amount exceeds borrowing capacity")
	ErrRepayExceedsDebt       = errors.New("pool: repay amount exceeds outstanding debt")
	ErrInsufficientCollateral = errors.New("pool: amount exceeds deposited collateral")
	ErrWithdrawUnhealthy      = errors.New("pool: withdrawal would leave position unhealthy")
)

// RiskParams are the pool-side safety limits. The collateral and borrow asset
// are the same token here, so the liquidation threshold defaults to 100%.
type RiskParams struct {
	// MaxLTVBps caps additional borrowing at collateral*MaxLTV - debt.
	MaxLTVBps uint64
	// LiquidationThresholdBps scales collateral when computing the health
	// factor.
	LiquidationThresholdBps uint64
	// MinWithdrawHealthWad is the post-withdrawal health factor floor. It sits
	// below 1.0 so depositors can unwind positions the pool would no longer
	// let them open.
	MinWithdrawHealthWad *uint256.Int
}

// DefaultRiskParams returns the limits used by the reference deployment:
// 66% LTV, 100% liquidation threshold, 0.75 withdrawal floor.
func DefaultRiskParams() RiskParams {
	return RiskParams{
		MaxLTVBps:               6_600,
		LiquidationThresholdBps: 10_000,
		MinWithdrawHealthWad:    uint256.MustFromDecimal("750000000000000000"),
	}
}

type tokenLedger interface {
	Transfer(from, to crypto.Address, amount *uint256.Int) error
	TransferFrom(spender, from, to crypto.Address, amount *uint256.Int) error
}

// Pool tracks aggregate collateral and debt for its single depositor and
// moves tokens through the ledger on every state change.
type Pool struct {
	mu         sync.Mutex
	ledger     tokenLedger
	addr       crypto.Address
	depositor  crypto.Address
	params     RiskParams
	collateral *uint256.Int
	debt       *uint256.Int
}

// NewPool constructs a pool at addr serving the given depositor. Borrow
// liquidity is whatever the pool's ledger account holds beyond collateral.
func NewPool(ledger tokenLedger, addr, depositor crypto.Address, params RiskParams) *Pool {
	if params.MinWithdrawHealthWad == nil {
		params.MinWithdrawHealthWad = DefaultRiskParams().MinWithdrawHealthWad
	}
	return &Pool{
		ledger:     ledger,
		addr:       addr,
		depositor:  depositor,
		params:     params,
		collateral: uint256.NewInt(0),
		debt:       uint256.NewInt(0),
	}
}

// Supply pulls amount from the depositor into the pool as collateral. The
// depositor must have granted the pool a sufficient allowance.
func (p *Pool) Supply(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ledger.TransferFrom(p.addr, p.depositor, p.addr, amount); err != nil {
		return fmt.Errorf("pool: supply transfer: %w", err)
	}
	updated, err := fpmath.Add(p.collateral, amount)
	if err != nil {
		return err
	}
	p.collateral = updated
	return nil
}

// Borrow sends amount to the depositor against existing collateral, failing
// when the request exceeds remaining LTV capacity.
func (p *Pool) Borrow(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	capacity, err := p.maxBorrowable()
	if err != nil {
		return err
	}
	if capacity.Lt(amount) {
		return ErrExceedsBorrowable
	}
	if err := p.ledger.Transfer(p.addr, p.depositor, amount); err != nil {
		return fmt.Errorf("pool: borrow transfer: %w", err)
	}
	updated, err := fpmath.Add(p.debt, amount)
	if err != nil {
		return err
	}
	p.debt = updated
	return nil
}

// Repay pulls amount from the depositor to retire debt. Repaying more than is
// owed fails rather than crediting the excess.
func (p *Pool) Repay(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.debt.Lt(amount) {
		return ErrRepayExceedsDebt
	}
	if err := p.ledger.TransferFrom(p.addr, p.depositor, p.addr, amount); err != nil {
		return fmt.Errorf("pool: repay transfer: %w", err)
	}
	updated, err := fpmath.Sub(p.debt, amount)
	if err != nil {
		return err
	}
	p.debt = updated
	return nil
}

// Withdraw releases collateral back to the depositor, provided the remaining
// position stays above the pool's withdrawal health floor.
func (p *Pool) Withdraw(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.collateral.Lt(amount) {
		return ErrInsufficientCollateral
	}
	remaining, err := fpmath.Sub(p.collateral, amount)
	if err != nil {
		return err
	}
	if !p.debt.IsZero() {
		hf, err := p.healthFactorFor(remaining, p.debt)
		if err != nil {
			return err
		}
		if hf.Lt(p.params.MinWithdrawHealthWad) {
			return ErrWithdrawUnhealthy
		}
	}
	if err := p.ledger.Transfer(p.addr, p.depositor, amount); err != nil {
		return fmt.Errorf("pool: withdraw transfer: %w", err)
	}
	p.collateral = remaining
	return nil
}

// HealthFactor returns collateral*threshold/debt in 18-decimal fixed point,
// or the saturated sentinel when the depositor owes nothing.
func (p *Pool) HealthFactor() (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthFactorFor(p.collateral, p.debt)
}

// MaxBorrowable returns the additional amount borrowable before the pool's
// LTV limit is reached.
func (p *Pool) MaxBorrowable() (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxBorrowable()
}

// BorrowBalance returns the live aggregate debt.
func (p *Pool) BorrowBalance() (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(uint256.Int).Set(p.debt), nil
}

// DepositBalance returns the live aggregate collateral.
func (p *Pool) DepositBalance() (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(uint256.Int).Set(p.collateral), nil
}

func (p *Pool) healthFactorFor(collateral, debt *uint256.Int) (*uint256.Int, error) {
	if debt == nil || debt.IsZero() {
		return fpmath.MaxUint256(), nil
	}
	weighted, err := fpmath.MulDiv(collateral, uint256.NewInt(p.params.LiquidationThresholdBps), uint256.NewInt(fpmath.BasisPointsDenom))
	if err != nil {
		return nil, err
	}
	return fpmath.MulDiv(weighted, fpmath.Wad(), debt)
}

func (p *Pool) maxBorrowable() (*uint256.Int, error) {
	limit, err := fpmath.MulDiv(p.collateral, uint256.NewInt(p.params.MaxLTVBps), uint256.NewInt(fpmath.BasisPointsDenom))
	if err != nil {
		return nil, err
	}
	if !limit.Gt(p.debt) {
		return uint256.NewInt(0), nil
	}
	return fpmath.Sub(limit, p.debt)
}
