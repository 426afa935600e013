package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"ticket-ledger/internal/settle"
	"ticket-ledger/internal/status"
	"ticket-ledger/models"
	"ticket-ledger/monitoring"
	"ticket-ledger/utils"
	"time"

	"github.com/google/uuid"
	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// PaymentService manages one PaymentFlow per purchase attempt and keeps a
// redis record per session so handlers can answer status queries without
// touching the flow goroutine.
type PaymentService struct {
	Redis    *redis.Client
	PubNub   *pubnub.PubNub
	provider settle.Provider

	lifecycle *LifecycleService
	timers    SessionTimers

	mu    sync.Mutex
	flows map[string]*PaymentFlow
}

func NewPaymentService(redisClient *redis.Client, pn *pubnub.PubNub, provider settle.Provider, lifecycle *LifecycleService, timers SessionTimers) *PaymentService {
	return &PaymentService{
		Redis:     redisClient,
		PubNub:    pn,
		provider:  provider,
		lifecycle: lifecycle,
		timers:    timers,
		flows:     make(map[string]*PaymentFlow),
	}
}

// CreateSession opens a settlement session for one ticket of the given
// tier and starts the polling flow. The returned session carries the
// redeemable payment code for display.
func (s *PaymentService) CreateSession(ctx context.Context, eventID uint64, tierIndex int, buyerName, buyerPhone string) (*models.PaymentSession, error) {
	event, err := s.lifecycle.FetchEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("createSession: %w", err)
	}

	tier := event.Tier(tierIndex)
	if tier == nil {
		return nil, fmt.Errorf("createSession: no tier at index %d: %w", tierIndex, status.ErrNotFound)
	}
	if event.Canceled {
		return nil, status.ErrEventCanceled
	}
	if !event.SalesOpen(time.Now()) {
		return nil, status.ErrSalesClosed
	}
	if tier.Issued >= tier.Maximum {
		return nil, status.ErrAlreadySold
	}

	suffix, _ := utils.GenerateCode(4)
	reference := fmt.Sprintf("%s-%s", uuid.NewString(), suffix)

	reply, err := s.provider.CreateSession(ctx, &settle.SessionForm{
		Reference: reference,
		Amount:    decimal.NewFromInt(tier.Price),
		Currency:  "LAK",
		Phone:     buyerPhone,
		Memo:      fmt.Sprintf("event %d tier %s", eventID, tier.Name),
	})
	if err != nil {
		return nil, fmt.Errorf("createSession: %w", err)
	}

	flow := newPaymentFlow(models.PaymentSession{
		Reference:  reference,
		EventID:    eventID,
		TierIndex:  tierIndex,
		TierName:   tier.Name,
		Amount:     tier.Price,
		BuyerName:  buyerName,
		BuyerPhone: buyerPhone,
		Code:       reply.Code,
	}, s.timers, time.Now, s.provider.CheckStatus, s.fulfill)

	flow.onTransition = s.persistTransition

	session := flow.Snapshot()
	s.storeSession(ctx, &session)

	s.mu.Lock()
	s.flows[reference] = flow
	live := len(s.flows)
	s.mu.Unlock()
	monitoring.SetLiveSessions(live)

	go func() {
		flow.Run(context.Background(), s.timers)

		s.mu.Lock()
		delete(s.flows, reference)
		live := len(s.flows)
		s.mu.Unlock()
		monitoring.SetLiveSessions(live)
	}()

	return &session, nil
}

// NotifyPayment fast-paths a provider push notification: the flow polls
// immediately instead of waiting for the next tick. Unknown references
// are ignored; the push may belong to another instance.
func (s *PaymentService) NotifyPayment(ctx context.Context, reference string) {
	s.mu.Lock()
	flow, ok := s.flows[reference]
	s.mu.Unlock()

	if ok {
		flow.PollOnce(ctx)
	}
}

// SessionStatus reads the current state of a session by reference.
func (s *PaymentService) SessionStatus(ctx context.Context, reference string) (*models.PaymentSession, error) {
	s.mu.Lock()
	flow, ok := s.flows[reference]
	s.mu.Unlock()

	if ok {
		session := flow.Snapshot()
		return &session, nil
	}

	// Terminal or restarted-server sessions only exist in redis.
	data, err := s.Redis.HGetAll(ctx, sessionKey(reference)).Result()
	if err != nil || len(data) == 0 {
		return nil, status.ErrNotFound
	}

	return &models.PaymentSession{
		Reference: reference,
		TierName:  data["tier_name"],
		Status:    models.SessionState(data["status"]),
		Code:      data["code"],
	}, nil
}

// CloseSession is the user-initiated close: stop polling, discard state,
// no side effects. Distinct from a settlement-side cancel, which arrives
// through polling instead.
func (s *PaymentService) CloseSession(ctx context.Context, reference string) error {
	s.mu.Lock()
	flow, ok := s.flows[reference]
	delete(s.flows, reference)
	live := len(s.flows)
	s.mu.Unlock()
	monitoring.SetLiveSessions(live)

	if !ok {
		return status.ErrNotFound
	}

	flow.Close()
	s.Redis.HSet(ctx, sessionKey(reference), "status", string(models.SessionCanceled))
	return nil
}

func (s *PaymentService) fulfill(ctx context.Context, reference string) error {
	reply, err := s.provider.Fulfill(ctx, reference)
	if err != nil {
		return err
	}

	log.Printf("payment: fulfilled %s, mint: %s", reference, reply.TicketMint)
	s.Redis.HSet(ctx, sessionKey(reference), "ticket_mint", reply.TicketMint)

	// Record who bought the mint so check-in screens can show a name.
	// Display state only; redemption never depends on it.
	if name, err := s.Redis.HGet(ctx, sessionKey(reference), "buyer_name").Result(); err == nil && name != "" {
		s.Redis.Set(ctx, holderKey(reply.TicketMint), name, 0)
	}

	s.publish(reference, map[string]any{
		"type":        "payment_success",
		"reference":   reference,
		"ticket_mint": reply.TicketMint,
	})

	return nil
}

func (s *PaymentService) persistTransition(session models.PaymentSession) {
	ctx := context.Background()
	s.Redis.HSet(ctx, sessionKey(session.Reference), "status", string(session.Status))

	if session.Status.Terminal() && session.Status != models.SessionPaid {
		s.publish(session.Reference, map[string]any{
			"type":      "payment_" + string(session.Status),
			"reference": session.Reference,
		})
	}
}

func (s *PaymentService) storeSession(ctx context.Context, session *models.PaymentSession) {
	key := sessionKey(session.Reference)
	s.Redis.HSet(ctx, key, map[string]any{
		"reference":   session.Reference,
		"event_id":    session.EventID,
		"tier_index":  session.TierIndex,
		"tier_name":   session.TierName,
		"amount":      session.Amount,
		"buyer_name":  session.BuyerName,
		"buyer_phone": session.BuyerPhone,
		"status":      string(session.Status),
		"code":        session.Code,
		"created_at":  session.CreatedAt.Unix(),
	})

	// Keep the record a while past the deadline so buyers can still see
	// the terminal state before it ages out.
	s.Redis.Expire(ctx, key, s.timers.Deadline+30*time.Minute)
}

func (s *PaymentService) publish(reference string, message map[string]any) {
	if s.PubNub == nil {
		return
	}

	channel := fmt.Sprintf("session-%s", reference)
	s.PubNub.Publish().
		Channel(channel).
		Message(message).
		Execute()
}

func sessionKey(reference string) string {
	return fmt.Sprintf("payment:%s", reference)
}

func holderKey(mint string) string {
	return fmt.Sprintf("ticket:holder:%s", mint)
}
