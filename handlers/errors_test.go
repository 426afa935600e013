package handlers

import (
	"errors"
	"fmt"
	"testing"

	"ticket-ledger/internal/status"
	"ticket-ledger/utils"

	"github.com/pocketbase/pocketbase/tools/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func httpStatus(t *testing.T, err error) int {
	t.Helper()
	var apiErr *router.ApiError
	require.True(t, errors.As(err, &apiErr))
	return apiErr.Status
}

func TestApiError_StatusCodes(t *testing.T) {
	assert.Equal(t, 404, httpStatus(t, apiError(status.ErrNotFound)))
	assert.Equal(t, 400, httpStatus(t, apiError(status.ErrInvalidPrice)))
	assert.Equal(t, 400, httpStatus(t, apiError(status.ErrInvalidFormat)))
	assert.Equal(t, 403, httpStatus(t, apiError(status.ErrNotOwner)))
	assert.Equal(t, 403, httpStatus(t, apiError(status.ErrNotValidator)))

	// Lost races are conflicts, not client mistakes.
	assert.Equal(t, 409, httpStatus(t, apiError(status.ErrStaleListing)))
	assert.Equal(t, 409, httpStatus(t, apiError(status.ErrAlreadyRedeemed)))
	assert.Equal(t, 409, httpStatus(t, apiError(status.ErrScanInFlight)))
	assert.Equal(t, 409, httpStatus(t, apiError(status.ErrEventCanceled)))
	assert.Equal(t, 409, httpStatus(t, apiError(status.ErrSalesClosed)))
}

func TestApiError_RetryableNetworkFailure(t *testing.T) {
	err := &status.NetworkError{Op: "fetchAccount", Err: errors.New("connection refused")}
	assert.Equal(t, 502, httpStatus(t, apiError(err)))
}

func TestApiError_OpenBreakerIsRetryable(t *testing.T) {
	assert.Equal(t, 502, httpStatus(t, apiError(utils.ErrBreakerOpen)))
	assert.Equal(t, 502, httpStatus(t, apiError(fmt.Errorf("fetchAccount: %w", utils.ErrBreakerOpen))))
}

func TestApiError_WrappedSentinels(t *testing.T) {
	wrapped := errors.Join(errors.New("buyFromMarketplace"), status.ErrStaleListing)
	assert.Equal(t, 409, httpStatus(t, apiError(wrapped)))
}

func TestApiError_UnknownIsInternal(t *testing.T) {
	assert.Equal(t, 500, httpStatus(t, apiError(errors.New("boom"))))
}
