package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"ticket-ledger/internal/derive"
	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/signer"
	"ticket-ledger/internal/status"
	"ticket-ledger/models"
	"ticket-ledger/monitoring"
)

// MarketplaceService orchestrates list-for-sale, cancel-listing, buy and
// refund-burn. Every operation is one atomic proposal: fee computation,
// token movement and record deletion either all apply or none do, so a
// crash can never leave a ticket half-escrowed.
type MarketplaceService struct {
	gateway    ledger.Gateway
	lifecycle  *LifecycleService
	permission *PermissionService

	// platformAddress receives the platform fee on purchases.
	platformAddress string
}

func NewMarketplaceService(gateway ledger.Gateway, lifecycle *LifecycleService, permission *PermissionService, platformAddress string) *MarketplaceService {
	return &MarketplaceService{
		gateway:         gateway,
		lifecycle:       lifecycle,
		permission:      permission,
		platformAddress: platformAddress,
	}
}

// ListForSale escrows the seller's token and creates the listing record.
func (s *MarketplaceService) ListForSale(ctx context.Context, seller signer.Identity, mint string, price int64) (*ledger.Confirmation, error) {
	if price <= 0 {
		return nil, status.ErrInvalidPrice
	}

	ticket, err := s.lifecycle.FetchTicket(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("listForSale: %w", err)
	}

	if ticket.Owner != seller.Address() {
		return nil, status.ErrNotOwner
	}

	event, err := s.lifecycle.FetchEvent(ctx, ticket.EventID)
	if err != nil {
		return nil, fmt.Errorf("listForSale: %w", err)
	}

	if !s.lifecycle.CanTransition(ticket, event, models.TicketListed) {
		if event.Canceled {
			return nil, status.ErrEventCanceled
		}
		if ticket.State == models.TicketListed {
			return nil, status.ErrAlreadyListed
		}
		return nil, status.ErrAlreadyRedeemed
	}

	listingAddr, err := derive.ListingAddress(mint)
	if err != nil {
		return nil, err
	}
	escrowAddr, err := derive.EscrowAddress(mint)
	if err != nil {
		return nil, err
	}

	// A listing record already on the ledger means someone won a race
	// against us since the ticket fetch above.
	if _, err := s.gateway.FetchAccount(ctx, listingAddr.String()); err == nil {
		return nil, status.ErrAlreadyListed
	} else if !errors.Is(err, status.ErrNotFound) {
		return nil, fmt.Errorf("listForSale: %w", err)
	}

	p := ledger.NewProposal(seller.Address()).
		Add(ledger.OpCreateListing, map[string]any{
			"listing": listingAddr.String(),
			"seller":  seller.Address(),
			"mint":    mint,
			"price":   price,
			"escrow":  escrowAddr.String(),
		}).
		Add(ledger.OpCreateEscrow, map[string]any{
			"escrow":    escrowAddr.String(),
			"mint":      mint,
			"if_absent": true,
		}).
		Add(ledger.OpEscrowDeposit, map[string]any{
			"escrow": escrowAddr.String(),
			"mint":   mint,
			"from":   seller.Address(),
		})

	return s.submit(ctx, seller, p, "list")
}

// CancelListing returns the token to the seller and destroys the
// listing/escrow pair. Only the original seller may cancel.
func (s *MarketplaceService) CancelListing(ctx context.Context, seller signer.Identity, mint string) (*ledger.Confirmation, error) {
	listing, listingAddr, err := s.fetchListing(ctx, mint)
	if err != nil {
		return nil, err
	}

	if listing.Seller != seller.Address() {
		return nil, status.ErrNotOwner
	}

	p := ledger.NewProposal(seller.Address()).
		Add(ledger.OpEscrowRelease, map[string]any{
			"escrow": listing.Escrow,
			"mint":   mint,
			"to":     listing.Seller,
		}).
		Add(ledger.OpCloseEscrow, map[string]any{
			"escrow": listing.Escrow,
		}).
		Add(ledger.OpDeleteListing, map[string]any{
			"listing": listingAddr.String(),
		})

	return s.submit(ctx, seller, p, "cancel")
}

// BuyFromMarketplace pays the seller net of fees, pays the platform and
// the event controller, moves the token out of escrow and destroys the
// listing/escrow pair. A listing that vanished between fetch and build
// surfaces as ErrStaleListing: an expected outcome of racing buyers, not
// a bug. Callers refresh and re-offer.
func (s *MarketplaceService) BuyFromMarketplace(ctx context.Context, buyer signer.Identity, mint string) (*ledger.Confirmation, error) {
	listing, listingAddr, err := s.fetchListing(ctx, mint)
	if err != nil {
		return nil, err
	}

	ticket, err := s.lifecycle.FetchTicket(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("buyFromMarketplace: %w", err)
	}

	event, err := s.lifecycle.FetchEvent(ctx, ticket.EventID)
	if err != nil {
		return nil, fmt.Errorf("buyFromMarketplace: %w", err)
	}

	if !s.lifecycle.CanTransition(ticket, event, models.TicketTransferred) {
		if event.Canceled {
			return nil, status.ErrEventCanceled
		}
		return nil, status.ErrStaleListing
	}

	// Platform fee comes from the controller's current whitelist entry,
	// fetched fresh: fee terms may have changed since listing time.
	_, feeBps, err := s.permission.IsAllowedOrganizer(ctx, event.Controller)
	if err != nil {
		return nil, fmt.Errorf("buyFromMarketplace: %w", err)
	}

	split := models.SplitFees(listing.Price, feeBps, event.RoyaltyBps)

	p := ledger.NewProposal(buyer.Address()).
		Add(ledger.OpTransferFunds, map[string]any{
			"from":   buyer.Address(),
			"to":     listing.Seller,
			"amount": split.SellerNet,
		})

	if split.PlatformFee > 0 {
		p.Add(ledger.OpTransferFunds, map[string]any{
			"from":   buyer.Address(),
			"to":     s.platformAddress,
			"amount": split.PlatformFee,
		})
	}
	if split.Royalty > 0 {
		p.Add(ledger.OpTransferFunds, map[string]any{
			"from":   buyer.Address(),
			"to":     event.Controller,
			"amount": split.Royalty,
		})
	}

	p.Add(ledger.OpEscrowRelease, map[string]any{
		"escrow": listing.Escrow,
		"mint":   mint,
		"to":     buyer.Address(),
	}).
		Add(ledger.OpCloseEscrow, map[string]any{
			"escrow": listing.Escrow,
		}).
		Add(ledger.OpDeleteListing, map[string]any{
			"listing": listingAddr.String(),
		})

	return s.submit(ctx, buyer, p, "buy")
}

// RefundBurn refunds the price paid out of the event's refund reserve and
// burns the ticket. Only legal once the event is canceled.
func (s *MarketplaceService) RefundBurn(ctx context.Context, owner signer.Identity, mint string) (*ledger.Confirmation, error) {
	ticket, err := s.lifecycle.FetchTicket(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("refundBurn: %w", err)
	}

	if ticket.Owner != owner.Address() {
		return nil, status.ErrNotOwner
	}

	event, err := s.lifecycle.FetchEvent(ctx, ticket.EventID)
	if err != nil {
		return nil, fmt.Errorf("refundBurn: %w", err)
	}

	if !s.lifecycle.CanTransition(ticket, event, models.TicketRefundedBurned) {
		return nil, status.ErrEventCanceled
	}

	ticketAddr, err := derive.TicketAddress(mint)
	if err != nil {
		return nil, err
	}

	p := ledger.NewProposal(owner.Address()).
		Add(ledger.OpTransferFunds, map[string]any{
			"from":   derive.RefundReserveAddress(ticket.EventID).String(),
			"to":     owner.Address(),
			"amount": ticket.PricePaid,
		}).
		Add(ledger.OpBurnTicket, map[string]any{
			"ticket": ticketAddr.String(),
			"mint":   mint,
		})

	return s.submit(ctx, owner, p, "refund_burn")
}

// fetchListing resolves and reads the listing record for a token. A
// missing record is the stale-listing condition.
func (s *MarketplaceService) fetchListing(ctx context.Context, mint string) (*models.MarketplaceListing, derive.Address, error) {
	listingAddr, err := derive.ListingAddress(mint)
	if err != nil {
		return nil, derive.Address{}, err
	}

	state, err := s.gateway.FetchAccount(ctx, listingAddr.String())
	if errors.Is(err, status.ErrNotFound) {
		return nil, derive.Address{}, status.ErrStaleListing
	}
	if err != nil {
		return nil, derive.Address{}, fmt.Errorf("fetchListing: %w", err)
	}

	var listing models.MarketplaceListing
	if err := state.Decode(&listing); err != nil {
		return nil, derive.Address{}, err
	}

	return &listing, listingAddr, nil
}

func (s *MarketplaceService) submit(ctx context.Context, id signer.Identity, p *ledger.Proposal, op string) (*ledger.Confirmation, error) {
	if err := id.SignProposal(p); err != nil {
		return nil, err
	}

	conf, err := s.gateway.Submit(ctx, p)
	if err != nil {
		monitoring.TrackProposal(op, "rejected")
		return nil, mapRejection(err)
	}

	monitoring.TrackProposal(op, "confirmed")
	log.Printf("marketplace: %s confirmed, client_id: %s, slot: %d", op, conf.ClientID, conf.Slot)
	return conf, nil
}

// mapRejection translates ledger guard failures back onto the taxonomy
// the local pre-checks use, so callers see one error per condition no
// matter which side caught it first.
func mapRejection(err error) error {
	var rejection *status.LedgerRejection
	if !errors.As(err, &rejection) {
		return err
	}

	switch rejection.Reason {
	case "listing_missing":
		return status.ErrStaleListing
	case "already_redeemed":
		return status.ErrAlreadyRedeemed
	case "already_listed":
		return status.ErrAlreadyListed
	case "already_sold":
		return status.ErrAlreadySold
	case "event_canceled":
		return status.ErrEventCanceled
	case "not_owner":
		return status.ErrNotOwner
	}

	return err
}
