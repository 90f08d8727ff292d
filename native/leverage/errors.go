package leverage

import "errors"

var (
	ErrNilState            = errors.New("leverage: store not configured")
	ErrNilLedger           = errors.New("leverage: token ledger not configured")
	ErrNilPool             = errors.New("leverage: lending pool not configured")
	ErrBelowMinimumDeposit = errors.New("leverage: deposit below minimum")
	ErrLeverageOutOfRange  = errors.New("leverage: target leverage out of range")
	ErrPositionActive      = errors.New("leverage: position already active")
	ErrNoOpenPosition      = errors.New("leverage: no open position")
	ErrNotPositionOwner    = errors.New("leverage: caller is not the position owner")
	ErrHealthFactorTooLow  = errors.New("leverage: health factor below minimum")
	ErrTransferFailed      = errors.New("leverage: token transfer failed")
	ErrUnwindIncomplete    = errors.New("leverage: debt remains after unwind loop")
	ErrBookFull            = errors.New("leverage: position book at capacity")
	ErrInvalidPosition     = errors.New("leverage: invalid position record")
)
