package handlers

import (
	"errors"

	"ticket-ledger/internal/status"
	"ticket-ledger/utils"

	"github.com/pocketbase/pocketbase/apis"
)

// apiError maps service errors onto HTTP responses. Conflict-class errors
// (lost races, stale listings, double redemption) are 409: the request was
// well formed, the world moved first.
func apiError(err error) error {
	switch {
	case errors.Is(err, status.ErrNotFound):
		return apis.NewNotFoundError("Not found", err)

	case errors.Is(err, status.ErrInvalidPrice),
		errors.Is(err, status.ErrInvalidFormat):
		return apis.NewBadRequestError(err.Error(), nil)

	case errors.Is(err, status.ErrNotOwner),
		errors.Is(err, status.ErrNotAuthorized),
		errors.Is(err, status.ErrNotValidator):
		return apis.NewForbiddenError(err.Error(), nil)

	case errors.Is(err, status.ErrStaleListing),
		errors.Is(err, status.ErrAlreadyListed),
		errors.Is(err, status.ErrAlreadySold),
		errors.Is(err, status.ErrAlreadyRedeemed),
		errors.Is(err, status.ErrEventCanceled),
		errors.Is(err, status.ErrSalesClosed),
		errors.Is(err, status.ErrScanInFlight):
		return apis.NewApiError(409, err.Error(), nil)

	case status.IsRetryable(err), errors.Is(err, utils.ErrBreakerOpen):
		return apis.NewApiError(502, "Ledger temporarily unavailable", nil)
	}

	return apis.NewInternalServerError("Something went wrong", err)
}
