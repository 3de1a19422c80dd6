package connectors

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth means the venue refused the credentials. Callers mark the
	// ApiKey connection_status and stop retrying until the user re-tests.
	ErrAuth = errors.New("venue: authentication failed")

	// ErrRateLimited maps HTTP 418/429. Fatal for the current call; the
	// caller decides whether to back off.
	ErrRateLimited = errors.New("venue: rate limited")

	// ErrMinNotional means the requested quantity rounds below the
	// symbol's minimum notional and no order was placed.
	ErrMinNotional = errors.New("venue: quantity below minimum notional")
)

// RejectedError is a venue-side rejection with the venue's error code,
// e.g. insufficient balance or a bad symbol filter.
type RejectedError struct {
	Code int
	Msg  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("venue rejected: code=%d msg=%s", e.Code, e.Msg)
}

// TransientError wraps network blips and 5xx responses that survived the
// retry budget. Callers retry at their next tick, never inline.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("venue transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether the error is safe to retry on a later tick.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// insufficient-balance venue code, used by IsInsufficientBalance.
const binanceCodeInsufficientBalance = -2010

// IsInsufficientBalance recognizes the venue's insufficient-funds
// rejection so the executor can downgrade it to a WARN alert.
func IsInsufficientBalance(err error) bool {
	var re *RejectedError
	return errors.As(err, &re) && re.Code == binanceCodeInsufficientBalance
}
