package leverage

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"loopstake/crypto"
	"loopstake/native/fpmath"
	"loopstake/native/token"
)

func TestCloseReturnsProceeds(t *testing.T) {
	f := newFixture(t, DefaultParams())

	if _, err := f.engine.Open(f.user, principal, twoX); err != nil {
		t.Fatalf("open: %v", err)
	}
	returned, err := f.engine.Close(f.user)
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	// Net deposit minus the exit fee on it; both fees came off the top.
	wantReturned := uint256.MustFromDecimal("990025000000000000000000")
	if !returned.Eq(wantReturned) {
		t.Fatalf("returned: got %s want %s", returned, wantReturned)
	}
	if got := f.balance(t, f.user); !got.Eq(wantReturned) {
		t.Fatalf("user balance: got %s want %s", got, wantReturned)
	}

	wantFees := uint256.MustFromDecimal("9975000000000000000000")
	fees, err := f.engine.TotalFeesCollected()
	if err != nil {
		t.Fatalf("fees: %v", err)
	}
	if !fees.Eq(wantFees) {
		t.Fatalf("fees: got %s want %s", fees, wantFees)
	}
	if got := f.balance(t, f.treasury); !got.Eq(wantFees) {
		t.Fatalf("treasury: got %s want %s", got, wantFees)
	}

	deposited, borrowed, err := f.engine.GetPosition(f.user)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if !deposited.IsZero() || !borrowed.IsZero() {
		t.Fatalf("position not cleared: %s/%s", deposited, borrowed)
	}

	collateral, err := f.lending.DepositBalance()
	if err != nil {
		t.Fatalf("deposit balance: %v", err)
	}
	debt, err := f.lending.BorrowBalance()
	if err != nil {
		t.Fatalf("borrow balance: %v", err)
	}
	if !collateral.IsZero() || !debt.IsZero() {
		t.Fatalf("pool not emptied: collateral %s debt %s", collateral, debt)
	}
	if got := f.balance(t, f.module); !got.IsZero() {
		t.Fatalf("module retained %s after close", got)
	}
}

func TestCloseThenReopen(t *testing.T) {
	f := newFixture(t, DefaultParams())

	if _, err := f.engine.Open(f.user, principal, twoX); err != nil {
		t.Fatalf("open: %v", err)
	}
	returned, err := f.engine.Close(f.user)
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := f.ledger.IncreaseAllowance(f.user, f.module, returned); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := f.engine.Open(f.user, returned, twoX); err != nil {
		t.Fatalf("reopen: %v", err)
	}
}

func TestCloseRequiresPosition(t *testing.T) {
	f := newFixture(t, DefaultParams())

	if _, err := f.engine.Close(f.user); !errors.Is(err, ErrNoOpenPosition) {
		t.Fatalf("expected ErrNoOpenPosition, got %v", err)
	}
}

func TestCloseRejectsNonOwner(t *testing.T) {
	f := newFixture(t, DefaultParams())

	if _, err := f.engine.Open(f.user, principal, twoX); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.engine.Close(makeAddress(0x77)); !errors.Is(err, ErrNotPositionOwner) {
		t.Fatalf("expected ErrNotPositionOwner, got %v", err)
	}

	// The rejected close must leave the position intact for its owner.
	deposited, _, err := f.engine.GetPosition(f.user)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if deposited.IsZero() {
		t.Fatalf("position lost after rejected close")
	}
}

func TestCloseWorksWhilePaused(t *testing.T) {
	f := newFixture(t, DefaultParams())

	if _, err := f.engine.Open(f.user, principal, twoX); err != nil {
		t.Fatalf("open: %v", err)
	}
	f.engine.SetPauses(pausedView{paused: true})
	if _, err := f.engine.Close(f.user); err != nil {
		t.Fatalf("close while paused: %v", err)
	}
}

func TestCloseLoopBound(t *testing.T) {
	f := newFixture(t, DefaultParams())
	counter := &countingPool{LendingPool: f.lending}
	f.engine.SetPool(counter, f.poolAddr)

	if _, err := f.engine.Open(f.user, principal, threeX); err != nil {
		t.Fatalf("open: %v", err)
	}
	counter.withdraws, counter.repays = 0, 0
	if _, err := f.engine.Close(f.user); err != nil {
		t.Fatalf("close: %v", err)
	}
	// One extra withdrawal is allowed for the debt-free leftover.
	if counter.withdraws > MaxLoops+1 {
		t.Fatalf("withdraws exceeded bound: %d", counter.withdraws)
	}
	if counter.repays > MaxLoops {
		t.Fatalf("repays exceeded bound: %d", counter.repays)
	}
}

// stuckPool reports far more debt than collateral so the unwind loop can
// never retire it within the bound.
type stuckPool struct {
	collateral *uint256.Int
	debt       *uint256.Int
}

func (s *stuckPool) Supply(*uint256.Int) error { return nil }
func (s *stuckPool) Borrow(*uint256.Int) error { return nil }

func (s *stuckPool) Repay(amount *uint256.Int) error {
	updated, err := fpmath.Sub(s.debt, amount)
	if err != nil {
		return err
	}
	s.debt = updated
	return nil
}

func (s *stuckPool) Withdraw(amount *uint256.Int) error {
	updated, err := fpmath.Sub(s.collateral, amount)
	if err != nil {
		return err
	}
	s.collateral = updated
	return nil
}

func (s *stuckPool) HealthFactor() (*uint256.Int, error) {
	return fpmath.MaxUint256(), nil
}

func (s *stuckPool) MaxBorrowable() (*uint256.Int, error) {
	return uint256.NewInt(0), nil
}

func (s *stuckPool) BorrowBalance() (*uint256.Int, error) {
	return new(uint256.Int).Set(s.debt), nil
}

func (s *stuckPool) DepositBalance() (*uint256.Int, error) {
	return new(uint256.Int).Set(s.collateral), nil
}

func TestCloseIncompleteUnwindKeepsPosition(t *testing.T) {
	f := newFixture(t, DefaultParams())
	stuck := &stuckPool{
		collateral: uint256.NewInt(32),
		debt:       uint256.NewInt(1_000),
	}
	f.engine.SetPool(stuck, f.poolAddr)
	if err := f.book.Put(&Position{
		Owner:          f.user,
		TotalDeposited: uint256.NewInt(1_032),
		TotalBorrowed:  uint256.NewInt(1_000),
	}); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	if _, err := f.engine.Close(f.user); !errors.Is(err, ErrUnwindIncomplete) {
		t.Fatalf("expected ErrUnwindIncomplete, got %v", err)
	}

	// The slot stays occupied so the owner can try again.
	deposited, borrowed, err := f.engine.GetPosition(f.user)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if deposited.IsZero() || borrowed.IsZero() {
		t.Fatalf("position cleared after incomplete unwind: %s/%s", deposited, borrowed)
	}
}

// driftPool moves real ledger tokens but lets the test pick collateral and
// debt figures that disagree with the stored snapshot.
type driftPool struct {
	ledger     *token.Ledger
	addr       crypto.Address
	depositor  crypto.Address
	collateral *uint256.Int
	debt       *uint256.Int
}

func (d *driftPool) Supply(*uint256.Int) error { return nil }
func (d *driftPool) Borrow(*uint256.Int) error { return nil }

func (d *driftPool) Repay(amount *uint256.Int) error {
	if err := d.ledger.TransferFrom(d.addr, d.depositor, d.addr, amount); err != nil {
		return err
	}
	updated, err := fpmath.Sub(d.debt, amount)
	if err != nil {
		return err
	}
	d.debt = updated
	return nil
}

func (d *driftPool) Withdraw(amount *uint256.Int) error {
	if err := d.ledger.Transfer(d.addr, d.depositor, amount); err != nil {
		return err
	}
	updated, err := fpmath.Sub(d.collateral, amount)
	if err != nil {
		return err
	}
	d.collateral = updated
	return nil
}

func (d *driftPool) HealthFactor() (*uint256.Int, error) {
	return fpmath.MaxUint256(), nil
}

func (d *driftPool) MaxBorrowable() (*uint256.Int, error) {
	return uint256.NewInt(0), nil
}

func (d *driftPool) BorrowBalance() (*uint256.Int, error) {
	return new(uint256.Int).Set(d.debt), nil
}

func (d *driftPool) DepositBalance() (*uint256.Int, error) {
	return new(uint256.Int).Set(d.collateral), nil
}

func driftFixture(t *testing.T, params Params) *fixture {
	t.Helper()
	f := newFixture(t, params)
	drifted := &driftPool{
		ledger:     f.ledger,
		addr:       f.poolAddr,
		depositor:  f.module,
		collateral: uint256.NewInt(2_100),
		debt:       uint256.NewInt(500),
	}
	f.engine.SetPool(drifted, f.poolAddr)
	if err := f.book.Put(&Position{
		Owner:          f.user,
		TotalDeposited: uint256.NewInt(2_000),
		TotalBorrowed:  uint256.NewInt(500),
	}); err != nil {
		t.Fatalf("seed position: %v", err)
	}
	return f
}

func TestCloseStoredProceeds(t *testing.T) {
	f := driftFixture(t, DefaultParams())

	// Stored snapshot: 2000 deposited, 500 borrowed. Proceeds 1500, fee 8.
	returned, err := f.engine.Close(f.user)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if returned.Uint64() != 1_492 {
		t.Fatalf("returned: got %s want 1492", returned)
	}
}

func TestCloseLiveProceeds(t *testing.T) {
	params := DefaultParams()
	params.ProceedsFromLiveBalance = true
	f := driftFixture(t, params)

	// Live pool holds 2100 against 500 of debt, so the module gains 1600
	// during the unwind. Proceeds 1600, fee 8.
	returned, err := f.engine.Close(f.user)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if returned.Uint64() != 1_592 {
		t.Fatalf("returned: got %s want 1592", returned)
	}
}

func TestSafeWithdrawalSteps(t *testing.T) {
	cases := []struct {
		name       string
		collateral uint64
		debt       uint64
		want       uint64
	}{
		{"half when fully levered", 100, 1_000, 50},
		{"excess when larger than half", 100, 30, 70},
		{"clamped up to one", 1, 5, 1},
		{"whole balance when debt free", 10, 0, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := safeWithdrawal(uint256.NewInt(tc.collateral), uint256.NewInt(tc.debt))
			if err != nil {
				t.Fatalf("safe withdrawal: %v", err)
			}
			if got.Uint64() != tc.want {
				t.Fatalf("got %s want %d", got, tc.want)
			}
		})
	}
}
