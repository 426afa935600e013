package services

import (
	"context"
	"log"
	"sync"
	"ticket-ledger/internal/settle"
	"ticket-ledger/models"
	"ticket-ledger/monitoring"
	"time"
)

// PollFunc queries settlement status by external reference.
type PollFunc func(ctx context.Context, reference string) (*settle.Status, error)

// FulfillFunc triggers ticket issuance for a paid reference. The server
// side treats a repeat call for the same reference as a no-op, but the
// session still guarantees it fires the call at most once.
type FulfillFunc func(ctx context.Context, reference string) error

// SessionTimers are injectable so tests can drive the state machine with
// virtual time instead of waiting on real timers.
type SessionTimers struct {
	Deadline      time.Duration
	PollInterval  time.Duration
	CountdownTick time.Duration
}

// DefaultSessionTimers: 15-minute session,
// 5-second settlement poll, 1-second countdown for display only.
func DefaultSessionTimers() SessionTimers {
	return SessionTimers{
		Deadline:      15 * time.Minute,
		PollInterval:  5 * time.Second,
		CountdownTick: time.Second,
	}
}

// PaymentFlow is one purchase attempt: a single-threaded, timer-driven
// state machine going Creating → Pending → {Paid, Expired, Canceled,
// Rejected}. One instance per attempt; an expired attempt is never
// resumed, the buyer starts a brand-new session instead.
type PaymentFlow struct {
	mu sync.Mutex

	session models.PaymentSession

	now     func() time.Time
	poll    PollFunc
	fulfill FulfillFunc

	// onTransition fires once per state change, outside poll handling
	// but inside the state lock, so observers see states in order.
	onTransition func(s models.PaymentSession)

	// onCountdown carries no correctness weight; display only.
	onCountdown func(remaining time.Duration)

	cancelRun context.CancelFunc
	closed    bool
	fulfilled bool
}

func newPaymentFlow(session models.PaymentSession, timers SessionTimers, now func() time.Time, poll PollFunc, fulfill FulfillFunc) *PaymentFlow {
	session.Status = models.SessionPending
	session.CreatedAt = now()
	session.Deadline = session.CreatedAt.Add(timers.Deadline)

	return &PaymentFlow{
		session: session,
		now:     now,
		poll:    poll,
		fulfill: fulfill,
	}
}

// Snapshot returns a copy of the session as currently known.
func (f *PaymentFlow) Snapshot() models.PaymentSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

// Run drives the flow with real timers until a terminal state or Close.
func (f *PaymentFlow) Run(ctx context.Context, timers SessionTimers) {
	ctx, cancel := context.WithCancel(ctx)

	f.mu.Lock()
	f.cancelRun = cancel
	deadline := f.session.Deadline
	f.mu.Unlock()

	pollTicker := time.NewTicker(timers.PollInterval)
	defer pollTicker.Stop()
	countdown := time.NewTicker(timers.CountdownTick)
	defer countdown.Stop()
	expiry := time.NewTimer(time.Until(deadline))
	defer expiry.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-countdown.C:
			f.tickCountdown()

		case <-expiry.C:
			if f.ExpireIfDue(f.now()) {
				return
			}

		case <-pollTicker.C:
			if f.PollOnce(ctx) {
				return
			}
		}
	}
}

// PollOnce performs one settlement status check. Returns true when the
// flow reached a terminal state and polling must stop.
func (f *PaymentFlow) PollOnce(ctx context.Context) bool {
	f.mu.Lock()
	if f.closed || f.session.Status.Terminal() {
		f.mu.Unlock()
		return true
	}
	reference := f.session.Reference
	f.mu.Unlock()

	start := f.now()
	st, err := f.poll(ctx, reference)
	monitoring.TrackSettlePoll(f.now().Sub(start), err)
	if err != nil {
		// Transient poll failures are absorbed: the next tick retries,
		// and the deadline caps how long that can go on.
		log.Printf("payment: poll %s: %v", reference, err)
		return false
	}

	// Record not propagated yet. Not a failure; stay pending.
	if !st.Found {
		monitoring.TrackSettleNotFound()
		return false
	}

	switch {
	case st.Paid || st.State == settle.StatePaid:
		return f.markPaid(ctx)
	case st.State == settle.StateCancelled:
		return f.transition(models.SessionCanceled)
	case st.State == settle.StateExpired:
		return f.transition(models.SessionExpired)
	case st.State == settle.StateRejected:
		return f.transition(models.SessionRejected)
	}

	return false
}

// ExpireIfDue moves a still-pending flow to Expired once the deadline has
// passed. Returns true when the flow is now terminal.
func (f *PaymentFlow) ExpireIfDue(now time.Time) bool {
	f.mu.Lock()
	if f.closed || f.session.Status.Terminal() {
		f.mu.Unlock()
		return true
	}
	if now.Before(f.session.Deadline) {
		f.mu.Unlock()
		return false
	}
	f.mu.Unlock()

	return f.transition(models.SessionExpired)
}

// Close stops polling and discards the flow without side effects. A
// payment completing after Close is reconciled by the settlement side,
// not by this client.
func (f *PaymentFlow) Close() {
	f.mu.Lock()
	f.closed = true
	cancel := f.cancelRun
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (f *PaymentFlow) markPaid(ctx context.Context) bool {
	f.mu.Lock()
	if f.closed || f.session.Status.Terminal() {
		f.mu.Unlock()
		return true
	}
	f.session.Status = models.SessionPaid
	notify := f.onTransition
	session := f.session
	alreadyFulfilled := f.fulfilled
	f.fulfilled = true
	f.mu.Unlock()

	if notify != nil {
		notify(session)
	}

	if !alreadyFulfilled && f.fulfill != nil {
		if err := f.fulfill(ctx, session.Reference); err != nil {
			// The reference stays paid; fulfillment is idempotent on the
			// server side and can be retried out of band.
			log.Printf("payment: fulfill %s: %v", session.Reference, err)
		}
	}

	return true
}

func (f *PaymentFlow) transition(to models.SessionState) bool {
	f.mu.Lock()
	if f.closed || f.session.Status.Terminal() {
		f.mu.Unlock()
		return true
	}
	f.session.Status = to
	notify := f.onTransition
	session := f.session
	f.mu.Unlock()

	if notify != nil {
		notify(session)
	}
	return to.Terminal()
}

func (f *PaymentFlow) tickCountdown() {
	f.mu.Lock()
	cb := f.onCountdown
	remaining := time.Until(f.session.Deadline)
	pending := !f.closed && f.session.Status == models.SessionPending
	f.mu.Unlock()

	if pending && cb != nil {
		if remaining < 0 {
			remaining = 0
		}
		cb(remaining)
	}
}
