package models

import (
	"time"
)

// SessionState is the payment session lifecycle. A session reaches a
// terminal state exactly once and is discarded after the terminal state
// has been observed and acted upon.
type SessionState string

const (
	SessionCreating SessionState = "creating"
	SessionPending  SessionState = "pending"
	SessionPaid     SessionState = "paid"
	SessionExpired  SessionState = "expired"
	SessionCanceled SessionState = "canceled"
	SessionRejected SessionState = "rejected"
)

// Terminal reports whether the session has finished one way or another.
func (s SessionState) Terminal() bool {
	switch s {
	case SessionPaid, SessionExpired, SessionCanceled, SessionRejected:
		return true
	}
	return false
}

// PaymentSession is one off-ledger purchase attempt for a buyer paying by
// a secondary settlement method instead of a connected signing identity.
type PaymentSession struct {
	Reference  string       `json:"reference"` // external settlement reference
	EventID    uint64       `json:"event_id"`
	TierIndex  int          `json:"tier_index"`
	TierName   string       `json:"tier_name"`
	Amount     int64        `json:"amount"` // minor currency units
	BuyerName  string       `json:"buyer_name"`
	BuyerPhone string       `json:"buyer_phone"`
	Status     SessionState `json:"status"`
	Code       string       `json:"code,omitempty"` // redeemable payment code
	CreatedAt  time.Time    `json:"created_at"`
	Deadline   time.Time    `json:"deadline"`
}
