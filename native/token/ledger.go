// Package token hosts the in-memory reference ledger for the base staking
// asset. It implements the transfer and allowance surface the leverage engine
// consumes.
package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"loopstake/core/types"
	"loopstake/crypto"
	"loopstake/native/fpmath"
)

var (
	ErrInvalidAmount         = errors.New("token: amount must be positive")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrAllowanceOverflow     = errors.New("token: allowance overflow")
	ErrBalanceOverflow       = errors.New("token: balance overflow")
)

// Ledger is a mutex-guarded single-asset ledger with ERC-20 style allowances.
// Transfers are applied debit-first so a failed credit can never mint value.
type Ledger struct {
	mu         sync.RWMutex
	accounts   map[string]*types.Account
	allowances map[string]*uint256.Int
}

func NewLedger() *Ledger {
	return &Ledger{
		accounts:   make(map[string]*types.Account),
		allowances: make(map[string]*uint256.Int),
	}
}

func accountKey(addr crypto.Address) string {
	return string(addr.Bytes())
}

func allowanceKey(owner, spender crypto.Address) string {
	return string(owner.Bytes()) + "/" + string(spender.Bytes())
}

func (l *Ledger) account(addr crypto.Address) *types.Account {
	acc, ok := l.accounts[accountKey(addr)]
	if !ok {
		acc = &types.Account{Balance: uint256.NewInt(0)}
		l.accounts[accountKey(addr)] = acc
	}
	acc.EnsureDefaults()
	return acc
}

// Mint credits freshly issued units to the given address. Used to seed pools
// and test fixtures; the engine itself never mints.
func (l *Ledger) Mint(addr crypto.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acc := l.account(addr)
	sum, err := fpmath.Add(acc.Balance, amount)
	if err != nil {
		return ErrBalanceOverflow
	}
	acc.Balance = sum
	return nil
}

// BalanceOf returns the current balance of addr.
func (l *Ledger) BalanceOf(addr crypto.Address) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acc, ok := l.accounts[accountKey(addr)]
	if !ok || acc.Balance == nil {
		return uint256.NewInt(0), nil
	}
	return new(uint256.Int).Set(acc.Balance), nil
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(from, to crypto.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, amount)
}

// TransferFrom moves amount out of from's account on behalf of spender,
// consuming spender's allowance. A spender moving their own funds needs no
// allowance.
func (l *Ledger) TransferFrom(spender, from, to crypto.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !spender.Equal(from) {
		key := allowanceKey(from, spender)
		granted := l.allowances[key]
		if granted == nil || granted.Lt(amount) {
			return fmt.Errorf("%w: spender %s", ErrInsufficientAllowance, spender)
		}
		remaining, err := fpmath.Sub(granted, amount)
		if err != nil {
			return ErrInsufficientAllowance
		}
		if remaining.IsZero() {
			delete(l.allowances, key)
		} else {
			l.allowances[key] = remaining
		}
	}
	return l.move(from, to, amount)
}

// IncreaseAllowance raises the amount spender may move out of owner's
// account. Raising an existing allowance past 2^256-1 fails rather than
// wrapping, which is how stale unlimited grants from a prior cycle surface.
func (l *Ledger) IncreaseAllowance(owner, spender crypto.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := allowanceKey(owner, spender)
	current := l.allowances[key]
	if current == nil {
		current = uint256.NewInt(0)
	}
	raised, err := fpmath.Add(current, amount)
	if err != nil {
		return ErrAllowanceOverflow
	}
	l.allowances[key] = raised
	return nil
}

// DecreaseAllowance lowers spender's allowance, failing when the reduction
// exceeds the current grant.
func (l *Ledger) DecreaseAllowance(owner, spender crypto.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := allowanceKey(owner, spender)
	current := l.allowances[key]
	if current == nil || current.Lt(amount) {
		return ErrInsufficientAllowance
	}
	remaining, err := fpmath.Sub(current, amount)
	if err != nil {
		return ErrInsufficientAllowance
	}
	if remaining.IsZero() {
		delete(l.allowances, key)
	} else {
		l.allowances[key] = remaining
	}
	return nil
}

// Allowance returns the amount spender may currently move out of owner's
// account.
func (l *Ledger) Allowance(owner, spender crypto.Address) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	current := l.allowances[allowanceKey(owner, spender)]
	if current == nil {
		return uint256.NewInt(0), nil
	}
	return new(uint256.Int).Set(current), nil
}

func (l *Ledger) move(from, to crypto.Address, amount *uint256.Int) error {
	fromAcc := l.account(from)
	if fromAcc.Balance.Lt(amount) {
		return fmt.Errorf("%w: account %s", ErrInsufficientBalance, from)
	}
	toAcc := l.account(to)
	credited, err := fpmath.Add(toAcc.Balance, amount)
	if err != nil {
		return ErrBalanceOverflow
	}
	debited, err := fpmath.Sub(fromAcc.Balance, amount)
	if err != nil {
		return fmt.Errorf("%w: account %s", ErrInsufficientBalance, from)
	}
	fromAcc.Balance = debited
	fromAcc.Nonce++
	toAcc.Balance = credited
	return nil
}
