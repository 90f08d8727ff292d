// Package leverage implements the leveraged-staking position engine: a
// bounded supply/borrow loop that amplifies a deposit against a lending pool,
// and the matching bounded unwind that closes the position without ever
// tripping the pool's solvency checks.
package leverage

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/holiman/uint256"

	"loopstake/crypto"
	nativecommon "loopstake/native/common"
	"loopstake/native/fpmath"
)

// LendingPool is the collateral pool capability the engine borrows against.
// All operations are scoped to the engine's single aggregate identity.
type LendingPool interface {
	Supply(amount *uint256.Int) error
	Borrow(amount *uint256.Int) error
	Repay(amount *uint256.Int) error
	Withdraw(amount *uint256.Int) error
	// HealthFactor is 18-decimal fixed point; the saturated maximum is
	// returned when debt is zero.
	HealthFactor() (*uint256.Int, error)
	// MaxBorrowable is the additional amount borrowable before the pool's
	// LTV limit.
	MaxBorrowable() (*uint256.Int, error)
	BorrowBalance() (*uint256.Int, error)
	DepositBalance() (*uint256.Int, error)
}

// TokenLedger is the transfer and allowance capability for the base asset.
type TokenLedger interface {
	Transfer(from, to crypto.Address, amount *uint256.Int) error
	TransferFrom(spender, from, to crypto.Address, amount *uint256.Int) error
	IncreaseAllowance(owner, spender crypto.Address, amount *uint256.Int) error
	DecreaseAllowance(owner, spender crypto.Address, amount *uint256.Int) error
	BalanceOf(addr crypto.Address) (*uint256.Int, error)
	Allowance(owner, spender crypto.Address) (*uint256.Int, error)
}

// Metrics receives operation outcomes for export. Implementations live in
// observability; a nil recorder disables collection.
type Metrics interface {
	RecordOpen(outcome string, loops int)
	RecordClose(outcome string, loops int)
	AddFees(wei *uint256.Int)
}

// Engine orchestrates open and close for the single position slot. Both entry
// points serialise through a reentrancy latch; a capability calling back into
// the engine mid-invocation fails with ErrReentrant.
type Engine struct {
	store      Store
	ledger     TokenLedger
	pool       LendingPool
	moduleAddr crypto.Address
	treasury   crypto.Address
	poolAddr   crypto.Address
	params     Params
	pauses     nativecommon.PauseView
	latch      nativecommon.Latch
	logger     *slog.Logger
	metrics    Metrics
}

// NewEngine constructs an engine acting from moduleAddr and routing fees to
// treasury. Zero-valued params fall back to the reference defaults.
func NewEngine(moduleAddr, treasury crypto.Address, params Params) *Engine {
	params.ensureDefaults()
	return &Engine{
		moduleAddr: moduleAddr,
		treasury:   treasury,
		params:     params,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// SetStore wires the engine to the position persistence layer.
func (e *Engine) SetStore(store Store) { e.store = store }

// SetLedger wires the token ledger capability.
func (e *Engine) SetLedger(ledger TokenLedger) { e.ledger = ledger }

// SetPool wires the lending pool capability and its ledger identity, which
// receives the engine's allowance grants.
func (e *Engine) SetPool(pool LendingPool, poolAddr crypto.Address) {
	e.pool = pool
	e.poolAddr = poolAddr
}

// SetPauses wires the externally-owned pause switches. Only Open is guarded;
// Close must always remain possible.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetLogger replaces the engine's logger. A nil logger silences output.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e.logger = logger
}

// SetMetrics wires the metrics recorder.
func (e *Engine) SetMetrics(m Metrics) { e.metrics = m }

// Open pulls amount from the caller, takes the entry fee, and iteratively
// supplies and borrows against the pool until the leverage target is reached,
// the pool is exhausted, or the loop bound is hit. The engine's health-factor
// floor is enforced after every borrow, not just at the end.
func (e *Engine) Open(caller crypto.Address, amount, targetLeverage *uint256.Int) (*OpenReceipt, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.latch.Acquire(); err != nil {
		return nil, err
	}
	defer e.latch.Release()

	receipt, loops, err := e.openLocked(caller, amount, targetLeverage)
	if err != nil {
		e.recordOpen("error", loops)
		return nil, err
	}
	e.recordOpen("ok", loops)
	e.logger.Info("position opened",
		"owner", caller.String(),
		"deposited", receipt.Deposited.String(),
		"borrowed", receipt.Borrowed.String(),
		"fee", receipt.Fee.String(),
		"loops", loops)
	return receipt, nil
}

func (e *Engine) openLocked(caller crypto.Address, amount, targetLeverage *uint256.Int) (*OpenReceipt, int, error) {
	if err := e.checkWiring(); err != nil {
		return nil, 0, err
	}
	if caller.IsZero() {
		return nil, 0, ErrInvalidPosition
	}
	if amount == nil || amount.Lt(e.params.MinDeposit) {
		return nil, 0, ErrBelowMinimumDeposit
	}
	if targetLeverage == nil || targetLeverage.Lt(e.params.MinLeverageWad) || targetLeverage.Gt(e.params.MaxLeverageWad) {
		return nil, 0, ErrLeverageOutOfRange
	}
	active, err := e.store.Active()
	if err != nil {
		return nil, 0, err
	}
	if active != nil {
		return nil, 0, ErrPositionActive
	}

	if err := e.ledger.TransferFrom(e.moduleAddr, caller, e.moduleAddr, amount); err != nil {
		return nil, 0, fmt.Errorf("%w: pull deposit: %w", ErrTransferFailed, err)
	}

	entryFee, err := fpmath.CeilFee(amount, e.params.EntryFeeBps)
	if err != nil {
		return nil, 0, err
	}
	netDeposit, err := fpmath.Sub(amount, entryFee)
	if err != nil {
		return nil, 0, err
	}
	if !entryFee.IsZero() {
		if err := e.ledger.Transfer(e.moduleAddr, e.treasury, entryFee); err != nil {
			return nil, 0, fmt.Errorf("%w: entry fee: %w", ErrTransferFailed, err)
		}
		if err := e.store.AddFees(entryFee); err != nil {
			return nil, 0, err
		}
		e.addFeeMetric(entryFee)
	}

	if e.params.UnboundedAllowance {
		if err := e.grantUnbounded(); err != nil {
			return nil, 0, err
		}
	}

	targetTotal, err := fpmath.MulWad(netDeposit, targetLeverage)
	if err != nil {
		return nil, 0, err
	}

	totalDeposited := uint256.NewInt(0)
	totalBorrowed := uint256.NewInt(0)
	supplyAmount := new(uint256.Int).Set(netDeposit)
	loops := 0
	for i := 0; i < e.params.MaxLoops; i++ {
		if supplyAmount.IsZero() {
			break
		}
		loops++
		if !e.params.UnboundedAllowance {
			if err := e.ledger.IncreaseAllowance(e.moduleAddr, e.poolAddr, supplyAmount); err != nil {
				return nil, loops, fmt.Errorf("%w: supply allowance: %w", ErrTransferFailed, err)
			}
		}
		if err := e.pool.Supply(supplyAmount); err != nil {
			return nil, loops, fmt.Errorf("leverage: supply: %w", err)
		}
		if totalDeposited, err = fpmath.Add(totalDeposited, supplyAmount); err != nil {
			return nil, loops, err
		}
		if !totalDeposited.Lt(targetTotal) {
			break
		}
		// A borrow on the final iteration could never be redeployed as
		// collateral; it would only inflate debt and strand tokens in the
		// module account.
		if i == e.params.MaxLoops-1 {
			break
		}
		maxBorrowable, err := e.pool.MaxBorrowable()
		if err != nil {
			return nil, loops, err
		}
		if maxBorrowable.IsZero() {
			break
		}
		headroom, err := fpmath.Sub(targetTotal, totalDeposited)
		if err != nil {
			return nil, loops, err
		}
		borrowAmount := fpmath.Min(maxBorrowable, headroom)
		if borrowAmount.IsZero() {
			break
		}
		if err := e.pool.Borrow(borrowAmount); err != nil {
			return nil, loops, fmt.Errorf("leverage: borrow: %w", err)
		}
		if totalBorrowed, err = fpmath.Add(totalBorrowed, borrowAmount); err != nil {
			return nil, loops, err
		}
		if err := e.checkHealth(); err != nil {
			return nil, loops, err
		}
		supplyAmount = new(uint256.Int).Set(borrowAmount)
		e.logger.Debug("leverage loop iteration",
			"iteration", i,
			"supplied", totalDeposited.String(),
			"borrowed", totalBorrowed.String())
	}

	// Covers exits through the target-reached branch, which skip the
	// post-borrow check.
	if err := e.checkHealth(); err != nil {
		return nil, loops, err
	}

	pos := &Position{
		Owner:          caller,
		TotalDeposited: totalDeposited,
		TotalBorrowed:  totalBorrowed,
	}
	if err := e.store.Put(pos); err != nil {
		return nil, loops, err
	}

	return &OpenReceipt{
		Deposited: new(uint256.Int).Set(totalDeposited),
		Borrowed:  new(uint256.Int).Set(totalBorrowed),
		Fee:       entryFee,
	}, loops, nil
}

// GetPosition returns the stored deposit and debt snapshot for addr, both
// zero when addr holds no position. It never mutates state.
func (e *Engine) GetPosition(addr crypto.Address) (*uint256.Int, *uint256.Int, error) {
	if e.store == nil {
		return nil, nil, ErrNilState
	}
	active, err := e.store.Active()
	if err != nil {
		return nil, nil, err
	}
	if active == nil || !active.Owner.Equal(addr) {
		return uint256.NewInt(0), uint256.NewInt(0), nil
	}
	active.ensureDefaults()
	return active.TotalDeposited, active.TotalBorrowed, nil
}

// TotalFeesCollected returns the monotone sum of entry and exit fees taken
// since genesis.
func (e *Engine) TotalFeesCollected() (*uint256.Int, error) {
	if e.store == nil {
		return nil, ErrNilState
	}
	return e.store.FeesCollected()
}

func (e *Engine) checkWiring() error {
	if e.store == nil {
		return ErrNilState
	}
	if e.ledger == nil {
		return ErrNilLedger
	}
	if e.pool == nil {
		return ErrNilPool
	}
	return nil
}

func (e *Engine) checkHealth() error {
	hf, err := e.pool.HealthFactor()
	if err != nil {
		return err
	}
	if hf.Lt(e.params.MinHealthFactorWad) {
		return fmt.Errorf("%w: %s", ErrHealthFactorTooLow, hf)
	}
	return nil
}

// grantUnbounded tops the pool's allowance up to the saturated maximum. The
// top-up form sidesteps the overflow a blind re-grant would hit when a prior
// cycle left part of its grant unconsumed.
func (e *Engine) grantUnbounded() error {
	current, err := e.ledger.Allowance(e.moduleAddr, e.poolAddr)
	if err != nil {
		return fmt.Errorf("%w: allowance query: %w", ErrTransferFailed, err)
	}
	topUp, err := fpmath.Sub(fpmath.MaxUint256(), current)
	if err != nil {
		return err
	}
	if topUp.IsZero() {
		return nil
	}
	if err := e.ledger.IncreaseAllowance(e.moduleAddr, e.poolAddr, topUp); err != nil {
		return fmt.Errorf("%w: allowance grant: %w", ErrTransferFailed, err)
	}
	return nil
}

func (e *Engine) revokeAllowance() error {
	remaining, err := e.ledger.Allowance(e.moduleAddr, e.poolAddr)
	if err != nil {
		return fmt.Errorf("%w: allowance query: %w", ErrTransferFailed, err)
	}
	if remaining.IsZero() {
		return nil
	}
	if err := e.ledger.DecreaseAllowance(e.moduleAddr, e.poolAddr, remaining); err != nil {
		return fmt.Errorf("%w: allowance revoke: %w", ErrTransferFailed, err)
	}
	return nil
}

func (e *Engine) recordOpen(outcome string, loops int) {
	if e.metrics != nil {
		e.metrics.RecordOpen(outcome, loops)
	}
}

func (e *Engine) recordClose(outcome string, loops int) {
	if e.metrics != nil {
		e.metrics.RecordClose(outcome, loops)
	}
}

func (e *Engine) addFeeMetric(fee *uint256.Int) {
	if e.metrics != nil {
		e.metrics.AddFees(fee)
	}
}
