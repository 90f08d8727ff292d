package leverage

import (
	"sync"

	"github.com/holiman/uint256"

	"loopstake/crypto"
	"loopstake/native/fpmath"
)

// Store abstracts persistence for open positions and the fee accumulator.
// The engine is written against one active position; raising a store's
// capacity is a data-model change, not an algorithm change.
type Store interface {
	// Active returns the open position, or nil when the slot is free.
	Active() (*Position, error)
	// Put records a newly opened position.
	Put(pos *Position) error
	// Clear releases the slot held by owner.
	Clear(owner crypto.Address) error
	// FeesCollected returns the monotone total of fees taken so far.
	FeesCollected() (*uint256.Int, error)
	// AddFees increments the fee accumulator.
	AddFees(amount *uint256.Int) error
}

// Book is the in-memory reference Store, bounded to a fixed number of
// concurrent positions.
type Book struct {
	mu        sync.RWMutex
	capacity  int
	positions []*Position
	fees      *uint256.Int
}

// NewBook returns a Book holding at most one position, matching the engine's
// single-position invariant.
func NewBook() *Book {
	return &Book{capacity: 1, fees: uint256.NewInt(0)}
}

func (b *Book) Active() (*Position, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.positions) == 0 {
		return nil, nil
	}
	return b.positions[0].Clone(), nil
}

// Put records pos. A position with an empty owner, or with an owner but no
// deposit and no debt, is rejected: that state is only legal transiently
// inside an invocation, never at rest.
func (b *Book) Put(pos *Position) error {
	if pos == nil || pos.Owner.IsZero() {
		return ErrInvalidPosition
	}
	clone := pos.Clone()
	clone.ensureDefaults()
	if clone.TotalDeposited.IsZero() && clone.TotalBorrowed.IsZero() {
		return ErrInvalidPosition
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.positions) >= b.capacity {
		return ErrBookFull
	}
	b.positions = append(b.positions, clone)
	return nil
}

func (b *Book) Clear(owner crypto.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, pos := range b.positions {
		if pos.Owner.Equal(owner) {
			b.positions = append(b.positions[:i], b.positions[i+1:]...)
			return nil
		}
	}
	return ErrNoOpenPosition
}

func (b *Book) FeesCollected() (*uint256.Int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return new(uint256.Int).Set(b.fees), nil
}

func (b *Book) AddFees(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	total, err := fpmath.Add(b.fees, amount)
	if err != nil {
		return err
	}
	b.fees = total
	return nil
}
