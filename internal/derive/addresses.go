package derive

import (
	"strconv"
)

// Typed wrappers over Derive for each entity. Keeping the key tuples in
// one place means no two components can disagree about where an account
// lives.

func EventAddress(eventID uint64) Address {
	return MustDerive(TagEvent, strconv.FormatUint(eventID, 10))
}

func TicketAddress(mint string) (Address, error) {
	return Derive(TagTicket, mint)
}

func ListingAddress(mint string) (Address, error) {
	return Derive(TagListing, mint)
}

func EscrowAddress(mint string) (Address, error) {
	return Derive(TagEscrow, mint)
}

func RefundReserveAddress(eventID uint64) Address {
	return MustDerive(TagRefundReserve, strconv.FormatUint(eventID, 10))
}

func WhitelistAddress(identity string) (Address, error) {
	return Derive(TagWhitelist, identity)
}
