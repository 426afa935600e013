package models

// MarketplaceListing exists only while the ticket's token sits in escrow.
// It is destroyed, together with its escrow account, on cancel or on a
// successful purchase. Listing and escrow are a matched pair with one
// lifetime; one never outlives the other.
type MarketplaceListing struct {
	Seller string `json:"seller"`
	Mint   string `json:"mint"`
	Price  int64  `json:"price"` // minor currency units
	Escrow string `json:"escrow"`
}

// EscrowAccount is the ledger sub-account that custodies a listed token.
type EscrowAccount struct {
	Mint     string `json:"mint"`
	Holds    bool   `json:"holds"`
	Listing  string `json:"listing"`
	Deposits int64  `json:"deposits"`
}

// FeeSplit is the result of the basis-point arithmetic performed when a
// listing is bought: seller net, platform fee and organizer royalty always
// sum to the asking price.
type FeeSplit struct {
	Price       int64 `json:"price"`
	PlatformFee int64 `json:"platform_fee"`
	Royalty     int64 `json:"royalty"`
	SellerNet   int64 `json:"seller_net"`
}

// SplitFees computes the purchase split from platform and royalty basis
// points. Remainders from the integer division stay with the seller.
func SplitFees(price int64, platformBps, royaltyBps int) FeeSplit {
	fee := price * int64(platformBps) / 10000
	royalty := price * int64(royaltyBps) / 10000
	return FeeSplit{
		Price:       price,
		PlatformFee: fee,
		Royalty:     royalty,
		SellerNet:   price - fee - royalty,
	}
}
