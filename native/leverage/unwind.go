package leverage

import (
	"fmt"

	"github.com/holiman/uint256"

	"loopstake/crypto"
	"loopstake/native/fpmath"
)

// Close unwinds the caller's position: collateral is withdrawn and debt
// repaid in bounded steps until the pool reports zero debt, then the leftover
// collateral is pulled, the exit fee is taken from net proceeds, and the
// position slot is freed. Close is never pause-blocked.
//
// The unwind works off the pool's live balances, not the stored snapshot, so
// a Close that stops early with ErrUnwindIncomplete leaves the position in
// place and can simply be attempted again.
func (e *Engine) Close(caller crypto.Address) (*uint256.Int, error) {
	if err := e.latch.Acquire(); err != nil {
		return nil, err
	}
	defer e.latch.Release()

	returned, loops, err := e.closeLocked(caller)
	if err != nil {
		e.recordClose("error", loops)
		return nil, err
	}
	e.recordClose("ok", loops)
	e.logger.Info("position closed",
		"owner", caller.String(),
		"returned", returned.String(),
		"loops", loops)
	return returned, nil
}

func (e *Engine) closeLocked(caller crypto.Address) (*uint256.Int, int, error) {
	if err := e.checkWiring(); err != nil {
		return nil, 0, err
	}
	pos, err := e.store.Active()
	if err != nil {
		return nil, 0, err
	}
	if pos == nil {
		return nil, 0, ErrNoOpenPosition
	}
	pos.ensureDefaults()
	if pos.TotalDeposited.IsZero() {
		return nil, 0, ErrNoOpenPosition
	}
	if !pos.Owner.Equal(caller) {
		return nil, 0, ErrNotPositionOwner
	}

	// Live aggregates, not the stored snapshot: the pool's state may have
	// drifted since open.
	remainingDebt, err := e.pool.BorrowBalance()
	if err != nil {
		return nil, 0, err
	}
	remainingCollateral, err := e.pool.DepositBalance()
	if err != nil {
		return nil, 0, err
	}
	heldBefore, err := e.ledger.BalanceOf(e.moduleAddr)
	if err != nil {
		return nil, 0, err
	}

	if e.params.UnboundedAllowance {
		if err := e.grantUnbounded(); err != nil {
			return nil, 0, err
		}
	}

	loops := 0
	for i := 0; i < e.params.MaxLoops; i++ {
		if remainingDebt.IsZero() || remainingCollateral.IsZero() {
			break
		}
		loops++
		withdrawAmount, err := safeWithdrawal(remainingCollateral, remainingDebt)
		if err != nil {
			return nil, loops, err
		}
		if err := e.pool.Withdraw(withdrawAmount); err != nil {
			return nil, loops, fmt.Errorf("leverage: unwind withdraw: %w", err)
		}
		repayAmount := fpmath.Min(withdrawAmount, remainingDebt)
		if !repayAmount.IsZero() {
			if !e.params.UnboundedAllowance {
				if err := e.ledger.IncreaseAllowance(e.moduleAddr, e.poolAddr, repayAmount); err != nil {
					return nil, loops, fmt.Errorf("%w: repay allowance: %w", ErrTransferFailed, err)
				}
			}
			if err := e.pool.Repay(repayAmount); err != nil {
				return nil, loops, fmt.Errorf("leverage: unwind repay: %w", err)
			}
			if remainingDebt, err = fpmath.Sub(remainingDebt, repayAmount); err != nil {
				return nil, loops, err
			}
		}
		if remainingCollateral, err = fpmath.Sub(remainingCollateral, withdrawAmount); err != nil {
			return nil, loops, err
		}
		e.logger.Debug("unwind loop iteration",
			"iteration", i,
			"withdrawn", withdrawAmount.String(),
			"debt", remainingDebt.String(),
			"collateral", remainingCollateral.String())
	}

	if remainingDebt.IsZero() && !remainingCollateral.IsZero() {
		if err := e.pool.Withdraw(remainingCollateral); err != nil {
			return nil, loops, fmt.Errorf("leverage: final withdraw: %w", err)
		}
	}

	// Hard stop rather than a silently half-closed position. The slot stays
	// occupied so the owner can re-attempt.
	liveDebt, err := e.pool.BorrowBalance()
	if err != nil {
		return nil, loops, err
	}
	if !liveDebt.IsZero() {
		return nil, loops, fmt.Errorf("%w: residual debt %s", ErrUnwindIncomplete, liveDebt)
	}

	netProceeds, err := e.netProceeds(pos, heldBefore)
	if err != nil {
		return nil, loops, err
	}
	exitFee, err := fpmath.CeilFee(netProceeds, e.params.ExitFeeBps)
	if err != nil {
		return nil, loops, err
	}
	userReceives, err := fpmath.Sub(netProceeds, exitFee)
	if err != nil {
		return nil, loops, err
	}
	if !exitFee.IsZero() {
		if err := e.ledger.Transfer(e.moduleAddr, e.treasury, exitFee); err != nil {
			return nil, loops, fmt.Errorf("%w: exit fee: %w", ErrTransferFailed, err)
		}
		if err := e.store.AddFees(exitFee); err != nil {
			return nil, loops, err
		}
		e.addFeeMetric(exitFee)
	}
	if !userReceives.IsZero() {
		if err := e.ledger.Transfer(e.moduleAddr, caller, userReceives); err != nil {
			return nil, loops, fmt.Errorf("%w: return proceeds: %w", ErrTransferFailed, err)
		}
	}

	if err := e.store.Clear(caller); err != nil {
		return nil, loops, err
	}
	if err := e.revokeAllowance(); err != nil {
		return nil, loops, err
	}

	return userReceives, loops, nil
}

// safeWithdrawal picks the collateral slice for one unwind step: half of what
// remains, or the excess over debt when that is larger (the excess backs no
// debt, so pulling it cannot trip the pool's health check). The result is
// clamped to [1, remaining] so every iteration makes forward progress.
func safeWithdrawal(remainingCollateral, remainingDebt *uint256.Int) (*uint256.Int, error) {
	amount := fpmath.Half(remainingCollateral)
	if remainingCollateral.Gt(remainingDebt) {
		excess, err := fpmath.Sub(remainingCollateral, remainingDebt)
		if err != nil {
			return nil, err
		}
		if excess.Gt(amount) {
			amount = excess
		}
	}
	if amount.IsZero() {
		amount = uint256.NewInt(1)
	}
	if amount.Gt(remainingCollateral) {
		amount = new(uint256.Int).Set(remainingCollateral)
	}
	return amount, nil
}

// netProceeds resolves what the owner is owed. The default uses the stored
// open-time snapshot (deposit minus debt, floored at zero) even though the
// unwind itself ran on live balances; the live mode measures what the module
// account actually gained during the unwind instead.
func (e *Engine) netProceeds(pos *Position, heldBefore *uint256.Int) (*uint256.Int, error) {
	if e.params.ProceedsFromLiveBalance {
		heldAfter, err := e.ledger.BalanceOf(e.moduleAddr)
		if err != nil {
			return nil, err
		}
		gained, err := fpmath.Sub(heldAfter, heldBefore)
		if err != nil {
			// The unwind only ever credits the module account; a shrinking
			// balance means external drift, treated as zero proceeds.
			return uint256.NewInt(0), nil
		}
		return gained, nil
	}
	if pos.TotalDeposited.Gt(pos.TotalBorrowed) {
		return fpmath.Sub(pos.TotalDeposited, pos.TotalBorrowed)
	}
	return uint256.NewInt(0), nil
}
