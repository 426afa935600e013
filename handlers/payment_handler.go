package handlers

import (
	"net/http"
	"time"

	"ticket-ledger/services"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type PaymentHandler struct {
	app      *pocketbase.PocketBase
	payments *services.PaymentService
}

func NewPaymentHandler(app *pocketbase.PocketBase, payments *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		app:      app,
		payments: payments,
	}
}

// CreateSession - Open a payment session for one ticket
func (h *PaymentHandler) CreateSession(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		EventID    uint64 `json:"event_id"`
		TierIndex  int    `json:"tier_index"`
		BuyerName  string `json:"buyer_name"`
		BuyerPhone string `json:"buyer_phone"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	session, err := h.payments.CreateSession(e.Request.Context(), req.EventID, req.TierIndex, req.BuyerName, req.BuyerPhone)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"reference":  session.Reference,
		"status":     session.Status,
		"amount":     session.Amount,
		"tier_name":  session.TierName,
		"code":       session.Code,
		"deadline":   session.Deadline,
		"expires_in": int(time.Until(session.Deadline).Seconds()),
	})
}

// CheckSessionStatus - Check payment session status
func (h *PaymentHandler) CheckSessionStatus(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	reference := e.Request.PathValue("reference")

	session, err := h.payments.SessionStatus(e.Request.Context(), reference)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"reference": session.Reference,
		"status":    session.Status,
	})
}

// CancelSession - User-initiated close of a pending session
func (h *PaymentHandler) CancelSession(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	reference := e.Request.PathValue("reference")

	if err := h.payments.CloseSession(e.Request.Context(), reference); err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{"message": "Session closed"})
}
