package services

import (
	"context"
	"fmt"
	"log"
	"ticket-ledger/internal/derive"
	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/signer"
	"ticket-ledger/internal/status"
	"ticket-ledger/models"
	"ticket-ledger/monitoring"
	"time"

	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"
)

// MetadataFetcher loads the off-chain metadata document behind an event's
// URI. Injectable so tests never touch the network.
type MetadataFetcher func(ctx context.Context, uri string) *models.EventMetadata

// CheckinService resolves redemption codes and performs idempotent,
// race-safe redemption against concurrent validator attempts. The ledger
// redeem guard is the authoritative arbiter; everything here only shrinks
// the race window and keeps failures legible.
type CheckinService struct {
	Redis     *redis.Client
	PubNub    *pubnub.PubNub
	gateway   ledger.Gateway
	lifecycle *LifecycleService
	metadata  MetadataFetcher
}

// scanLockTTL bounds how long one physical scan blocks a duplicate
// confirm for the same code.
const scanLockTTL = 5 * time.Second

func NewCheckinService(redisClient *redis.Client, pn *pubnub.PubNub, gateway ledger.Gateway, lifecycle *LifecycleService, metadata MetadataFetcher) *CheckinService {
	return &CheckinService{
		Redis:     redisClient,
		PubNub:    pn,
		gateway:   gateway,
		lifecycle: lifecycle,
		metadata:  metadata,
	}
}

// ResolveCode turns a human-scannable redemption code into a ticket
// summary for the validator's confirmation screen. The summary is display
// state only; Confirm re-fetches everything it depends on.
func (s *CheckinService) ResolveCode(ctx context.Context, code string) (*models.TicketSummary, error) {
	addr, err := derive.Parse(code)
	if err != nil {
		return nil, status.ErrInvalidFormat
	}

	state, err := s.gateway.FetchAccount(ctx, addr.String())
	if err != nil {
		return nil, err
	}

	var ticket models.Ticket
	if err := state.Decode(&ticket); err != nil {
		return nil, err
	}

	event, err := s.lifecycle.FetchEvent(ctx, ticket.EventID)
	if err != nil {
		return nil, fmt.Errorf("resolveCode: %w", err)
	}

	eventName := fmt.Sprintf("event-%d", ticket.EventID)
	if s.metadata != nil {
		if md := s.metadata(ctx, event.MetadataURI); md != nil && md.Name != "" {
			eventName = md.Name
		}
	}

	tierName := ""
	if tier := event.Tier(ticket.TierIndex); tier != nil {
		tierName = tier.Name
	}

	// Buyer name recorded at fulfillment, if a payment session bought
	// this mint. Missing is fine; the summary just shows no name.
	participant, _ := s.Redis.Get(ctx, holderKey(ticket.Mint)).Result()

	return &models.TicketSummary{
		Code:            code,
		Mint:            ticket.Mint,
		Owner:           ticket.Owner,
		EventID:         ticket.EventID,
		EventName:       eventName,
		TierName:        tierName,
		ParticipantName: participant,
		Redeemed:        ticket.Redeemed,
	}, nil
}

// Confirm redeems the ticket behind a resolved code. It debounces the
// scanner, re-checks the validator set and the redeemed flag against
// fresh ledger state, then submits the guarded redeem proposal. A
// concurrent validator that loses the race observes ErrAlreadyRedeemed,
// whether the local check or the ledger guard caught it.
func (s *CheckinService) Confirm(ctx context.Context, summary *models.TicketSummary, validator signer.Identity) (*ledger.Confirmation, error) {
	if !validator.CanSign() {
		return nil, status.ErrNotAuthorized
	}

	lockKey := fmt.Sprintf("checkin:lock:%s", summary.Code)
	ok, err := s.Redis.SetNX(ctx, lockKey, validator.Address(), scanLockTTL).Result()
	if err == nil && !ok {
		return nil, status.ErrScanInFlight
	}
	defer s.Redis.Del(context.Background(), lockKey)

	// Validator membership is checked against freshly fetched event
	// state: a just-removed validator must not redeem on a stale
	// permission snapshot.
	event, err := s.lifecycle.FetchEvent(ctx, summary.EventID)
	if err != nil {
		return nil, fmt.Errorf("confirm: %w", err)
	}
	if !event.HasValidator(validator.Address()) {
		monitoring.TrackRedemption(summary.EventID, "not_validator")
		return nil, status.ErrNotValidator
	}

	p, err := s.lifecycle.BuildRedeem(ctx, summary.Mint, validator.Address())
	if err != nil {
		if err == status.ErrAlreadyRedeemed {
			monitoring.TrackRedemption(summary.EventID, "already_redeemed")
		}
		return nil, err
	}

	if err := validator.SignProposal(p); err != nil {
		return nil, err
	}

	conf, err := s.gateway.Submit(ctx, p)
	if err != nil {
		mapped := mapRejection(err)
		if mapped == status.ErrAlreadyRedeemed {
			monitoring.TrackRedemption(summary.EventID, "lost_race")
		} else {
			monitoring.TrackRedemption(summary.EventID, "rejected")
		}
		return nil, mapped
	}

	monitoring.TrackRedemption(summary.EventID, "redeemed")
	log.Printf("checkin: redeemed %s by %s, slot: %d", summary.Code, validator.Address(), conf.Slot)

	s.publishRedeemed(summary, validator.Address())

	return conf, nil
}

// ValidatorStatus reports whether identity may redeem for the event,
// against fresh event state.
func (s *CheckinService) ValidatorStatus(ctx context.Context, eventID uint64, identity string) (bool, string, error) {
	event, err := s.lifecycle.FetchEvent(ctx, eventID)
	if err != nil {
		return false, "", err
	}

	eventName := fmt.Sprintf("event-%d", eventID)
	if s.metadata != nil {
		if md := s.metadata(ctx, event.MetadataURI); md != nil && md.Name != "" {
			eventName = md.Name
		}
	}

	return event.HasValidator(identity), eventName, nil
}

func (s *CheckinService) publishRedeemed(summary *models.TicketSummary, validator string) {
	if s.PubNub == nil {
		return
	}

	channel := fmt.Sprintf("user-%s", summary.Owner)
	s.PubNub.Publish().
		Channel(channel).
		Message(map[string]any{
			"type":      "ticket_redeemed",
			"code":      summary.Code,
			"event_id":  summary.EventID,
			"validator": validator,
		}).
		Execute()
}
