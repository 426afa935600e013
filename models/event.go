package models

import (
	"time"
)

// Event is the ledger-side record for one event. Created by an organizer,
// mutated only by organizer operations, never deleted.
type Event struct {
	ID          uint64       `json:"id"`
	Controller  string       `json:"controller"`
	SalesStart  time.Time    `json:"sales_start"`
	SalesEnd    time.Time    `json:"sales_end"`
	Canceled    bool         `json:"canceled"`
	RoyaltyBps  int          `json:"royalty_bps"`
	PurchaseCap int          `json:"purchase_cap"`
	Tiers       []TicketTier `json:"tiers"`
	Validators  []string     `json:"validators"`
	MetadataURI string       `json:"metadata_uri"`
}

// TicketTier is embedded in its Event and shares its lifetime. Tiers are
// only appended, never removed. Issued never exceeds Maximum.
type TicketTier struct {
	Name    string `json:"name"`
	Price   int64  `json:"price"` // minor currency units
	Maximum int    `json:"maximum"`
	Issued  int    `json:"issued"`
}

// HasValidator reports whether identity is in the event's validator set.
func (e *Event) HasValidator(identity string) bool {
	for _, v := range e.Validators {
		if v == identity {
			return true
		}
	}
	return false
}

// Tier returns the tier at index, or nil when out of range.
func (e *Event) Tier(index int) *TicketTier {
	if index < 0 || index >= len(e.Tiers) {
		return nil
	}
	return &e.Tiers[index]
}

// SalesOpen reports whether now falls inside the sales window of a live event.
func (e *Event) SalesOpen(now time.Time) bool {
	if e.Canceled {
		return false
	}
	return !now.Before(e.SalesStart) && now.Before(e.SalesEnd)
}
