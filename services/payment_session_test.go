package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ticket-ledger/internal/settle"
	"ticket-ledger/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type virtualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newVirtualClock() *virtualClock {
	return &virtualClock{now: time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *virtualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func newTestFlow(clock *virtualClock, poll PollFunc, fulfill FulfillFunc) *PaymentFlow {
	return newPaymentFlow(models.PaymentSession{
		Reference: "ref-1",
		EventID:   7,
		Amount:    10000,
	}, DefaultSessionTimers(), clock.Now, poll, fulfill)
}

func TestPaymentFlow_StartsPendingWithDeadline(t *testing.T) {
	clock := newVirtualClock()
	flow := newTestFlow(clock, nil, nil)

	s := flow.Snapshot()
	assert.Equal(t, models.SessionPending, s.Status)
	assert.Equal(t, clock.Now().Add(15*time.Minute), s.Deadline)
}

func TestPaymentFlow_PendingUntilRecordAppears(t *testing.T) {
	clock := newVirtualClock()

	var polls int
	flow := newTestFlow(clock, func(ctx context.Context, ref string) (*settle.Status, error) {
		polls++
		if polls < 4 {
			// Settlement side has not propagated the record yet.
			return &settle.Status{Reference: ref, State: settle.StatePending, Found: false}, nil
		}
		return &settle.Status{Reference: ref, State: settle.StatePaid, Paid: true, Found: true}, nil
	}, nil)

	for i := 0; i < 3; i++ {
		assert.False(t, flow.PollOnce(context.Background()))
		assert.Equal(t, models.SessionPending, flow.Snapshot().Status)
	}

	assert.True(t, flow.PollOnce(context.Background()))
	assert.Equal(t, models.SessionPaid, flow.Snapshot().Status)
}

func TestPaymentFlow_PaidFulfillsExactlyOnce(t *testing.T) {
	clock := newVirtualClock()

	var fulfillments int64
	flow := newTestFlow(clock,
		func(ctx context.Context, ref string) (*settle.Status, error) {
			return &settle.Status{Reference: ref, State: settle.StatePaid, Paid: true, Found: true}, nil
		},
		func(ctx context.Context, ref string) error {
			atomic.AddInt64(&fulfillments, 1)
			return nil
		})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			flow.PollOnce(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&fulfillments))
	assert.Equal(t, models.SessionPaid, flow.Snapshot().Status)
}

func TestPaymentFlow_PollErrorsAreAbsorbed(t *testing.T) {
	clock := newVirtualClock()

	flow := newTestFlow(clock, func(ctx context.Context, ref string) (*settle.Status, error) {
		return nil, assert.AnError
	}, nil)

	assert.False(t, flow.PollOnce(context.Background()))
	assert.Equal(t, models.SessionPending, flow.Snapshot().Status)
}

func TestPaymentFlow_ProviderTerminalStates(t *testing.T) {
	cases := []struct {
		state string
		want  models.SessionState
	}{
		{settle.StateCancelled, models.SessionCanceled},
		{settle.StateExpired, models.SessionExpired},
		{settle.StateRejected, models.SessionRejected},
	}

	for _, tc := range cases {
		t.Run(tc.state, func(t *testing.T) {
			clock := newVirtualClock()
			flow := newTestFlow(clock, func(ctx context.Context, ref string) (*settle.Status, error) {
				return &settle.Status{Reference: ref, State: tc.state, Found: true}, nil
			}, nil)

			assert.True(t, flow.PollOnce(context.Background()))
			assert.Equal(t, tc.want, flow.Snapshot().Status)
		})
	}
}

func TestPaymentFlow_ExpiresAtDeadline(t *testing.T) {
	clock := newVirtualClock()
	flow := newTestFlow(clock, nil, nil)

	var transitions []models.SessionState
	flow.onTransition = func(s models.PaymentSession) {
		transitions = append(transitions, s.Status)
	}

	assert.False(t, flow.ExpireIfDue(clock.Advance(14*time.Minute)))
	assert.Equal(t, models.SessionPending, flow.Snapshot().Status)

	assert.True(t, flow.ExpireIfDue(clock.Advance(time.Minute)))
	assert.Equal(t, models.SessionExpired, flow.Snapshot().Status)
	require.Equal(t, []models.SessionState{models.SessionExpired}, transitions)
}

func TestPaymentFlow_NoPollingAfterExpiry(t *testing.T) {
	clock := newVirtualClock()

	var polls int64
	flow := newTestFlow(clock, func(ctx context.Context, ref string) (*settle.Status, error) {
		atomic.AddInt64(&polls, 1)
		return &settle.Status{Reference: ref, State: settle.StatePaid, Paid: true, Found: true}, nil
	}, nil)

	require.True(t, flow.ExpireIfDue(clock.Advance(16*time.Minute)))

	// Terminal flows short-circuit before touching the provider.
	assert.True(t, flow.PollOnce(context.Background()))
	assert.Zero(t, atomic.LoadInt64(&polls))
	assert.Equal(t, models.SessionExpired, flow.Snapshot().Status)
}

func TestPaymentFlow_CloseDiscardsWithoutSideEffects(t *testing.T) {
	clock := newVirtualClock()

	var polls int64
	flow := newTestFlow(clock, func(ctx context.Context, ref string) (*settle.Status, error) {
		atomic.AddInt64(&polls, 1)
		return &settle.Status{Reference: ref, State: settle.StatePaid, Paid: true, Found: true}, nil
	}, nil)

	flow.Close()

	assert.True(t, flow.PollOnce(context.Background()))
	assert.Zero(t, atomic.LoadInt64(&polls))
}

func TestPaymentFlow_RunStopsOnTerminal(t *testing.T) {
	clock := newVirtualClock()

	flow := newTestFlow(clock, func(ctx context.Context, ref string) (*settle.Status, error) {
		return &settle.Status{Reference: ref, State: settle.StateCancelled, Found: true}, nil
	}, nil)

	done := make(chan struct{})
	go func() {
		flow.Run(context.Background(), SessionTimers{
			Deadline:      time.Minute,
			PollInterval:  time.Millisecond,
			CountdownTick: time.Second,
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after terminal poll result")
	}

	assert.Equal(t, models.SessionCanceled, flow.Snapshot().Status)
}
