package services

import (
	"context"
	"fmt"
	"ticket-ledger/internal/derive"
	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/status"
	"ticket-ledger/models"
)

// LifecycleService models a single ticket's lifecycle. It validates legal
// transitions before any transaction is built; the ledger-side guards stay
// the final authority because the local check can never be a lock.
type LifecycleService struct {
	gateway ledger.Gateway
}

func NewLifecycleService(gateway ledger.Gateway) *LifecycleService {
	return &LifecycleService{gateway: gateway}
}

// CanTransition encodes the lifecycle table plus the event-cancellation
// gate. Transferred behaves as Minted under the new owner, so it is
// normalized before the table lookup.
func (s *LifecycleService) CanTransition(ticket *models.Ticket, event *models.Event, to models.TicketState) bool {
	from := ticket.State
	if from == models.TicketTransferred {
		from = models.TicketMinted
	}

	if from.Terminal() {
		return false
	}

	// Once an event is canceled, returning listed tickets to their
	// holders and refund-burning held tickets are the only legal moves.
	if event.Canceled {
		switch {
		case from == models.TicketListed && to == models.TicketMinted:
			return true
		case from == models.TicketMinted && to == models.TicketRefundedBurned:
			return true
		}
		return false
	}

	switch from {
	case models.TicketMinted:
		return to == models.TicketListed || to == models.TicketRedeemed
	case models.TicketListed:
		return to == models.TicketMinted || to == models.TicketTransferred
	}

	return false
}

// FetchTicket reads the current ticket account for a token identity.
func (s *LifecycleService) FetchTicket(ctx context.Context, mint string) (*models.Ticket, error) {
	addr, err := derive.TicketAddress(mint)
	if err != nil {
		return nil, err
	}

	state, err := s.gateway.FetchAccount(ctx, addr.String())
	if err != nil {
		return nil, err
	}

	var ticket models.Ticket
	if err := state.Decode(&ticket); err != nil {
		return nil, err
	}

	return &ticket, nil
}

// FetchEvent reads the current event account.
func (s *LifecycleService) FetchEvent(ctx context.Context, eventID uint64) (*models.Event, error) {
	state, err := s.gateway.FetchAccount(ctx, derive.EventAddress(eventID).String())
	if err != nil {
		return nil, err
	}

	var event models.Event
	if err := state.Decode(&event); err != nil {
		return nil, err
	}

	return &event, nil
}

// BuildRedeem re-fetches the ticket and builds a guarded redeem proposal.
// The fetch-then-check shrinks the race window against a concurrent
// validator; the expect_redeemed guard makes the ledger reject whichever
// of two racing proposals arrives second.
func (s *LifecycleService) BuildRedeem(ctx context.Context, mint, validator string) (*ledger.Proposal, error) {
	ticket, err := s.FetchTicket(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("buildRedeem: %w", err)
	}

	if ticket.Redeemed || ticket.State == models.TicketRedeemed {
		return nil, status.ErrAlreadyRedeemed
	}

	event, err := s.FetchEvent(ctx, ticket.EventID)
	if err != nil {
		return nil, fmt.Errorf("buildRedeem: %w", err)
	}

	if !s.CanTransition(ticket, event, models.TicketRedeemed) {
		if event.Canceled {
			return nil, status.ErrEventCanceled
		}
		return nil, status.ErrAlreadyRedeemed
	}

	addr, err := derive.TicketAddress(mint)
	if err != nil {
		return nil, err
	}

	p := ledger.NewProposal(validator).
		Add(ledger.OpRedeemTicket, map[string]any{
			"ticket":          addr.String(),
			"validator":       validator,
			"expect_redeemed": false,
		})

	return p, nil
}
