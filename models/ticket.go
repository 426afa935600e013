package models

// TicketState is the lifecycle state of a ticket as derived from its
// ledger account. Transferred behaves as Minted under the new owner, so
// the ledger only ever records Minted, Listed, Redeemed or RefundedBurned.
type TicketState string

const (
	TicketMinted         TicketState = "minted"
	TicketListed         TicketState = "listed"
	TicketTransferred    TicketState = "transferred"
	TicketRedeemed       TicketState = "redeemed"
	TicketRefundedBurned TicketState = "refunded_burned"
)

// Terminal reports whether no further transition is legal from s.
func (s TicketState) Terminal() bool {
	return s == TicketRedeemed || s == TicketRefundedBurned
}

// Ticket is the ledger-side record for one issued ticket. Owner changes as
// a side effect of a confirmed marketplace purchase; Redeemed flips exactly
// once; the record is deleted only by a refund-burn on a canceled event.
type Ticket struct {
	Owner     string      `json:"owner"`
	EventID   uint64      `json:"event_id"`
	TierIndex int         `json:"tier_index"`
	PricePaid int64       `json:"price_paid"`
	Redeemed  bool        `json:"redeemed"`
	Mint      string      `json:"mint"` // the transferable token identity
	State     TicketState `json:"state"`
}

// TicketSummary is what a validator sees after resolving a redemption code.
type TicketSummary struct {
	Code            string `json:"code"`
	Mint            string `json:"mint"`
	Owner           string `json:"owner"`
	EventID         uint64 `json:"event_id"`
	EventName       string `json:"event_name"`
	ParticipantName string `json:"participant_name,omitempty"`
	TierName        string `json:"tier_name"`
	Redeemed        bool   `json:"redeemed"`
}
