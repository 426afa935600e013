package status

import (
	"errors"
	"fmt"
)

// Validation errors. Raised locally, before anything reaches the ledger.
var (
	ErrInvalidPrice  = errors.New("marketplace: price must be greater than zero")
	ErrInvalidFormat = errors.New("checkin: code is not a well-formed identifier")
	ErrKeyTooLong    = errors.New("derive: entity key exceeds maximum length")
)

// Permission errors.
var (
	ErrNotOwner      = errors.New("marketplace: caller does not hold the token")
	ErrNotAuthorized = errors.New("permission: identity is not authorized for this operation")
	ErrNotValidator  = errors.New("checkin: identity is not in the event validator set")
)

// Stale-state and terminal-state conflicts. Expected under concurrency,
// recoverable by refetch or by informing the user. Never retried blindly.
var (
	ErrStaleListing    = errors.New("marketplace: listing no longer exists")
	ErrAlreadyListed   = errors.New("marketplace: ticket is already listed")
	ErrAlreadySold     = errors.New("marketplace: ticket was already sold")
	ErrAlreadyRedeemed = errors.New("ticket: ticket is already redeemed")
	ErrEventCanceled   = errors.New("event: event is canceled")
	ErrSalesClosed     = errors.New("event: sales window is closed")
	ErrScanInFlight    = errors.New("checkin: a confirm for this code is already in flight")
)

// Ledger and session errors.
var (
	ErrNotFound       = errors.New("ledger: account not found")
	ErrSessionExpired = errors.New("payment: session deadline passed, start a new session")
	ErrSessionClosed  = errors.New("payment: session was closed")
	ErrFailedPayment  = errors.New("payment: payment failed")
)

// LedgerRejection is returned when the ledger refuses a proposal for a
// reason the client did not pre-check. Reason carries the ledger's own
// error code so callers can map guard failures (e.g. a concurrent redeem)
// back onto the sentinel errors above.
type LedgerRejection struct {
	Reason string
	Detail string
}

func (e *LedgerRejection) Error() string {
	return fmt.Sprintf("ledger: proposal rejected: %s: %s", e.Reason, e.Detail)
}

// NetworkError wraps transport-level failures so callers can tell a
// retryable outage apart from a ledger-level rejection.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsRetryable reports whether the error is a transient transport failure
// that may be retried with backoff. Ledger rejections and stale-state
// conflicts are never retryable.
func IsRetryable(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
