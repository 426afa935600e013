package services

import (
	"context"
	"encoding/json"
	"testing"

	"ticket-ledger/internal/derive"
	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/status"
	"ticket-ledger/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) FetchAccount(ctx context.Context, address string) (*ledger.AccountState, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.AccountState), args.Error(1)
}

func (m *mockGateway) Submit(ctx context.Context, p *ledger.Proposal) (*ledger.Confirmation, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Confirmation), args.Error(1)
}

func accountState(kind string, v any) *ledger.AccountState {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return &ledger.AccountState{Kind: kind, Data: data}
}

func TestCanTransition_Table(t *testing.T) {
	svc := NewLifecycleService(nil)
	event := &models.Event{}

	cases := []struct {
		name string
		from models.TicketState
		to   models.TicketState
		want bool
	}{
		{"minted to listed", models.TicketMinted, models.TicketListed, true},
		{"minted to redeemed", models.TicketMinted, models.TicketRedeemed, true},
		{"minted to refunded", models.TicketMinted, models.TicketRefundedBurned, false},
		{"listed to minted", models.TicketListed, models.TicketMinted, true},
		{"listed to transferred", models.TicketListed, models.TicketTransferred, true},
		{"listed to redeemed", models.TicketListed, models.TicketRedeemed, false},
		{"transferred acts as minted", models.TicketTransferred, models.TicketListed, true},
		{"redeemed is terminal", models.TicketRedeemed, models.TicketListed, false},
		{"refunded is terminal", models.TicketRefundedBurned, models.TicketMinted, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ticket := &models.Ticket{State: tc.from}
			assert.Equal(t, tc.want, svc.CanTransition(ticket, event, tc.to))
		})
	}
}

func TestCanTransition_CanceledEventGate(t *testing.T) {
	svc := NewLifecycleService(nil)
	event := &models.Event{Canceled: true}

	// Only delist and refund-burn remain legal.
	assert.True(t, svc.CanTransition(&models.Ticket{State: models.TicketListed}, event, models.TicketMinted))
	assert.True(t, svc.CanTransition(&models.Ticket{State: models.TicketMinted}, event, models.TicketRefundedBurned))

	assert.False(t, svc.CanTransition(&models.Ticket{State: models.TicketMinted}, event, models.TicketListed))
	assert.False(t, svc.CanTransition(&models.Ticket{State: models.TicketMinted}, event, models.TicketRedeemed))
	assert.False(t, svc.CanTransition(&models.Ticket{State: models.TicketListed}, event, models.TicketTransferred))
}

func TestFetchTicket(t *testing.T) {
	gw := new(mockGateway)
	svc := NewLifecycleService(gw)

	addr, err := derive.TicketAddress("mint-1")
	require.NoError(t, err)

	gw.On("FetchAccount", mock.Anything, addr.String()).
		Return(accountState(ledger.KindTicket, &models.Ticket{
			Owner: "ALICE", EventID: 7, Mint: "mint-1", State: models.TicketMinted,
		}), nil)

	ticket, err := svc.FetchTicket(context.Background(), "mint-1")
	require.NoError(t, err)
	assert.Equal(t, "ALICE", ticket.Owner)
	assert.Equal(t, uint64(7), ticket.EventID)
	gw.AssertExpectations(t)
}

func TestBuildRedeem_GuardsAgainstDoubleSpend(t *testing.T) {
	gw := new(mockGateway)
	svc := NewLifecycleService(gw)

	ticketAddr, err := derive.TicketAddress("mint-1")
	require.NoError(t, err)

	gw.On("FetchAccount", mock.Anything, ticketAddr.String()).
		Return(accountState(ledger.KindTicket, &models.Ticket{
			Owner: "ALICE", EventID: 7, Mint: "mint-1", State: models.TicketMinted,
		}), nil)
	gw.On("FetchAccount", mock.Anything, derive.EventAddress(7).String()).
		Return(accountState(ledger.KindEvent, &models.Event{ID: 7}), nil)

	p, err := svc.BuildRedeem(context.Background(), "mint-1", "VAL-1")
	require.NoError(t, err)
	require.Len(t, p.Ops, 1)
	assert.Equal(t, ledger.OpRedeemTicket, p.Ops[0].Kind)

	var params map[string]any
	require.NoError(t, json.Unmarshal(p.Ops[0].Params, &params))
	assert.Equal(t, ticketAddr.String(), params["ticket"])
	assert.Equal(t, "VAL-1", params["validator"])
	assert.Equal(t, false, params["expect_redeemed"])
}

func TestBuildRedeem_AlreadyRedeemedFastFail(t *testing.T) {
	gw := new(mockGateway)
	svc := NewLifecycleService(gw)

	ticketAddr, err := derive.TicketAddress("mint-1")
	require.NoError(t, err)

	gw.On("FetchAccount", mock.Anything, ticketAddr.String()).
		Return(accountState(ledger.KindTicket, &models.Ticket{
			EventID: 7, Mint: "mint-1", Redeemed: true, State: models.TicketRedeemed,
		}), nil)

	_, err = svc.BuildRedeem(context.Background(), "mint-1", "VAL-1")
	assert.ErrorIs(t, err, status.ErrAlreadyRedeemed)

	// The event is never fetched on the fast path.
	gw.AssertNumberOfCalls(t, "FetchAccount", 1)
}

func TestBuildRedeem_CanceledEventBlocksRedemption(t *testing.T) {
	gw := new(mockGateway)
	svc := NewLifecycleService(gw)

	ticketAddr, err := derive.TicketAddress("mint-1")
	require.NoError(t, err)

	gw.On("FetchAccount", mock.Anything, ticketAddr.String()).
		Return(accountState(ledger.KindTicket, &models.Ticket{
			EventID: 7, Mint: "mint-1", State: models.TicketMinted,
		}), nil)
	gw.On("FetchAccount", mock.Anything, derive.EventAddress(7).String()).
		Return(accountState(ledger.KindEvent, &models.Event{ID: 7, Canceled: true}), nil)

	_, err = svc.BuildRedeem(context.Background(), "mint-1", "VAL-1")
	assert.ErrorIs(t, err, status.ErrEventCanceled)
}
