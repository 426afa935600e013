package services

import (
	"context"
	"fmt"
	"testing"

	"ticket-ledger/internal/derive"
	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/signer"
	"ticket-ledger/internal/status"
	"ticket-ledger/models"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestCheckin(t *testing.T, gw *mockGateway, metadata MetadataFetcher) (*CheckinService, redismock.ClientMock) {
	t.Helper()
	db, rmock := redismock.NewClientMock()
	lifecycle := NewLifecycleService(gw)
	return NewCheckinService(db, nil, gw, lifecycle, metadata), rmock
}

func ticketSummary(t *testing.T) *models.TicketSummary {
	t.Helper()
	addr, err := derive.TicketAddress("mint-1")
	require.NoError(t, err)
	return &models.TicketSummary{
		Code:    addr.String(),
		Mint:    "mint-1",
		Owner:   "ALICE",
		EventID: 7,
	}
}

func TestResolveCode(t *testing.T) {
	gw := new(mockGateway)
	svc, rmock := newTestCheckin(t, gw, func(ctx context.Context, uri string) *models.EventMetadata {
		return &models.EventMetadata{Name: "Summer Fest"}
	})

	addr, err := derive.TicketAddress("mint-1")
	require.NoError(t, err)

	rmock.ExpectGet("ticket:holder:mint-1").SetVal("Khamphou V.")

	gw.On("FetchAccount", mock.Anything, addr.String()).
		Return(accountState(ledger.KindTicket, &models.Ticket{
			Owner: "ALICE", EventID: 7, TierIndex: 1, Mint: "mint-1", State: models.TicketMinted,
		}), nil)
	gw.On("FetchAccount", mock.Anything, derive.EventAddress(7).String()).
		Return(accountState(ledger.KindEvent, &models.Event{
			ID: 7,
			Tiers: []models.TicketTier{
				{Name: "standard"},
				{Name: "vip"},
			},
		}), nil)

	summary, err := svc.ResolveCode(context.Background(), addr.String())
	require.NoError(t, err)
	assert.Equal(t, "ALICE", summary.Owner)
	assert.Equal(t, "Summer Fest", summary.EventName)
	assert.Equal(t, "vip", summary.TierName)
	assert.Equal(t, "mint-1", summary.Mint)
	assert.Equal(t, "Khamphou V.", summary.ParticipantName)
	assert.False(t, summary.Redeemed)
}

func TestResolveCode_NoHolderRecord(t *testing.T) {
	gw := new(mockGateway)
	svc, rmock := newTestCheckin(t, gw, nil)

	addr, err := derive.TicketAddress("mint-1")
	require.NoError(t, err)

	// A ticket minted outside a payment session has no holder record.
	rmock.ExpectGet("ticket:holder:mint-1").RedisNil()

	gw.On("FetchAccount", mock.Anything, addr.String()).
		Return(accountState(ledger.KindTicket, &models.Ticket{
			Owner: "ALICE", EventID: 7, Mint: "mint-1", State: models.TicketMinted,
		}), nil)
	gw.On("FetchAccount", mock.Anything, derive.EventAddress(7).String()).
		Return(accountState(ledger.KindEvent, &models.Event{ID: 7}), nil)

	summary, err := svc.ResolveCode(context.Background(), addr.String())
	require.NoError(t, err)
	assert.Empty(t, summary.ParticipantName)
}

func TestResolveCode_RejectsMalformedCode(t *testing.T) {
	gw := new(mockGateway)
	svc, _ := newTestCheckin(t, gw, nil)

	_, err := svc.ResolveCode(context.Background(), "not-a-code")
	assert.ErrorIs(t, err, status.ErrInvalidFormat)
	gw.AssertNotCalled(t, "FetchAccount", mock.Anything, mock.Anything)
}

func TestConfirm_Redeems(t *testing.T) {
	gw := new(mockGateway)
	svc, rmock := newTestCheckin(t, gw, nil)
	validator := testIdentity(t, "33")
	summary := ticketSummary(t)

	lockKey := fmt.Sprintf("checkin:lock:%s", summary.Code)
	rmock.ExpectSetNX(lockKey, validator.Address(), scanLockTTL).SetVal(true)
	rmock.ExpectDel(lockKey).SetVal(1)

	ticketAddr, _ := derive.TicketAddress("mint-1")
	gw.On("FetchAccount", mock.Anything, derive.EventAddress(7).String()).
		Return(accountState(ledger.KindEvent, &models.Event{
			ID: 7, Validators: []string{validator.Address()},
		}), nil)
	gw.On("FetchAccount", mock.Anything, ticketAddr.String()).
		Return(accountState(ledger.KindTicket, &models.Ticket{
			Owner: "ALICE", EventID: 7, Mint: "mint-1", State: models.TicketMinted,
		}), nil)
	gw.On("Submit", mock.Anything, mock.Anything).
		Return(&ledger.Confirmation{ClientID: "c1", Slot: 99}, nil)

	conf, err := svc.Confirm(context.Background(), summary, validator)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), conf.Slot)
	assert.NoError(t, rmock.ExpectationsWereMet())
}

func TestConfirm_RequiresSigningIdentity(t *testing.T) {
	gw := new(mockGateway)
	svc, _ := newTestCheckin(t, gw, nil)

	_, err := svc.Confirm(context.Background(), ticketSummary(t), signer.None())
	assert.ErrorIs(t, err, status.ErrNotAuthorized)
}

func TestConfirm_DebouncesDuplicateScan(t *testing.T) {
	gw := new(mockGateway)
	svc, rmock := newTestCheckin(t, gw, nil)
	validator := testIdentity(t, "33")
	summary := ticketSummary(t)

	lockKey := fmt.Sprintf("checkin:lock:%s", summary.Code)
	rmock.ExpectSetNX(lockKey, validator.Address(), scanLockTTL).SetVal(false)

	_, err := svc.Confirm(context.Background(), summary, validator)
	assert.ErrorIs(t, err, status.ErrScanInFlight)

	// The duplicate never reaches the ledger.
	gw.AssertNotCalled(t, "FetchAccount", mock.Anything, mock.Anything)
	assert.NoError(t, rmock.ExpectationsWereMet())
}

func TestConfirm_FreshValidatorSetWins(t *testing.T) {
	gw := new(mockGateway)
	svc, rmock := newTestCheckin(t, gw, nil)
	validator := testIdentity(t, "33")
	summary := ticketSummary(t)

	lockKey := fmt.Sprintf("checkin:lock:%s", summary.Code)
	rmock.ExpectSetNX(lockKey, validator.Address(), scanLockTTL).SetVal(true)
	rmock.ExpectDel(lockKey).SetVal(1)

	// The validator was removed from the event since the code resolved.
	gw.On("FetchAccount", mock.Anything, derive.EventAddress(7).String()).
		Return(accountState(ledger.KindEvent, &models.Event{
			ID: 7, Validators: []string{"SOMEONE-ELSE"},
		}), nil)

	_, err := svc.Confirm(context.Background(), summary, validator)
	assert.ErrorIs(t, err, status.ErrNotValidator)
	gw.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestConfirm_AlreadyRedeemedLocally(t *testing.T) {
	gw := new(mockGateway)
	svc, rmock := newTestCheckin(t, gw, nil)
	validator := testIdentity(t, "33")
	summary := ticketSummary(t)

	lockKey := fmt.Sprintf("checkin:lock:%s", summary.Code)
	rmock.ExpectSetNX(lockKey, validator.Address(), scanLockTTL).SetVal(true)
	rmock.ExpectDel(lockKey).SetVal(1)

	ticketAddr, _ := derive.TicketAddress("mint-1")
	gw.On("FetchAccount", mock.Anything, derive.EventAddress(7).String()).
		Return(accountState(ledger.KindEvent, &models.Event{
			ID: 7, Validators: []string{validator.Address()},
		}), nil)
	gw.On("FetchAccount", mock.Anything, ticketAddr.String()).
		Return(accountState(ledger.KindTicket, &models.Ticket{
			Owner: "ALICE", EventID: 7, Mint: "mint-1", Redeemed: true, State: models.TicketRedeemed,
		}), nil)

	_, err := svc.Confirm(context.Background(), summary, validator)
	assert.ErrorIs(t, err, status.ErrAlreadyRedeemed)
	gw.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestConfirm_LosesLedgerRace(t *testing.T) {
	gw := new(mockGateway)
	svc, rmock := newTestCheckin(t, gw, nil)
	validator := testIdentity(t, "33")
	summary := ticketSummary(t)

	lockKey := fmt.Sprintf("checkin:lock:%s", summary.Code)
	rmock.ExpectSetNX(lockKey, validator.Address(), scanLockTTL).SetVal(true)
	rmock.ExpectDel(lockKey).SetVal(1)

	ticketAddr, _ := derive.TicketAddress("mint-1")
	gw.On("FetchAccount", mock.Anything, derive.EventAddress(7).String()).
		Return(accountState(ledger.KindEvent, &models.Event{
			ID: 7, Validators: []string{validator.Address()},
		}), nil)
	gw.On("FetchAccount", mock.Anything, ticketAddr.String()).
		Return(accountState(ledger.KindTicket, &models.Ticket{
			Owner: "ALICE", EventID: 7, Mint: "mint-1", State: models.TicketMinted,
		}), nil)

	// Another validator's proposal landed first; the redeem guard fires.
	gw.On("Submit", mock.Anything, mock.Anything).
		Return(nil, &status.LedgerRejection{Reason: "already_redeemed"})

	_, err := svc.Confirm(context.Background(), summary, validator)
	assert.ErrorIs(t, err, status.ErrAlreadyRedeemed)
}

func TestValidatorStatus(t *testing.T) {
	gw := new(mockGateway)
	svc, _ := newTestCheckin(t, gw, func(ctx context.Context, uri string) *models.EventMetadata {
		return &models.EventMetadata{Name: "Summer Fest"}
	})

	gw.On("FetchAccount", mock.Anything, derive.EventAddress(7).String()).
		Return(accountState(ledger.KindEvent, &models.Event{
			ID: 7, Validators: []string{"VAL-1"},
		}), nil)

	ok, eventName, err := svc.ValidatorStatus(context.Background(), 7, "VAL-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Summer Fest", eventName)

	ok, _, err = svc.ValidatorStatus(context.Background(), 7, "VAL-2")
	require.NoError(t, err)
	assert.False(t, ok)
}
