package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidInput      = errors.New("invalid input")
	ErrConflict          = errors.New("version conflict")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrLockHeld          = errors.New("lock already held")
	ErrNotExecutable     = errors.New("run is not executable")
	ErrSafeMode          = errors.New("safe mode active")
	ErrDailyLimit        = errors.New("daily limit reached")
	ErrMockQuote         = errors.New("quote is mock data")
	ErrNoRoute           = errors.New("no route")
	ErrLegMismatch       = errors.New("leg amounts do not chain")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnsupportedChain  = errors.New("unsupported chain")
	ErrSigningFailed     = errors.New("signing failed")
)

// QuoteError is a transport or parse failure from a quote source. It is
// distinct from NoRoute, which is a valid answer.
type QuoteError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *QuoteError) Error() string {
	return fmt.Sprintf("quote %s: %v", e.Op, e.Err)
}

func (e *QuoteError) Unwrap() error { return e.Err }

// SettlementFailure classifies why a submitted unit did not settle.
type SettlementFailure string

const (
	SettlementRejected SettlementFailure = "rejected"
	SettlementTimedOut SettlementFailure = "timed_out"
	SettlementReverted SettlementFailure = "reverted"
)

// SettlementError is returned by ChainAdapter.Submit when the unit was not
// confirmed as successful.
type SettlementError struct {
	Kind      SettlementFailure
	Reference string
	Err       error
}

func (e *SettlementError) Error() string {
	if e.Reference != "" {
		return fmt.Sprintf("settlement %s (%s): %v", e.Kind, e.Reference, e.Err)
	}
	return fmt.Sprintf("settlement %s: %v", e.Kind, e.Err)
}

func (e *SettlementError) Unwrap() error { return e.Err }
