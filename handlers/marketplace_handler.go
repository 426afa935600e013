package handlers

import (
	"net/http"

	"ticket-ledger/internal/signer"
	"ticket-ledger/services"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type MarketplaceHandler struct {
	app    *pocketbase.PocketBase
	market *services.MarketplaceService
}

func NewMarketplaceHandler(app *pocketbase.PocketBase, market *services.MarketplaceService) *MarketplaceHandler {
	return &MarketplaceHandler{
		app:    app,
		market: market,
	}
}

// ListTicket - List an owned ticket for resale
func (h *MarketplaceHandler) ListTicket(e *core.RequestEvent) error {
	id, err := h.walletIdentity(e)
	if err != nil {
		return err
	}

	var req struct {
		Mint  string `json:"mint"`
		Price int64  `json:"price"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	conf, err := h.market.ListForSale(e.Request.Context(), id, req.Mint, req.Price)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"listed":    true,
		"mint":      req.Mint,
		"price":     req.Price,
		"client_id": conf.ClientID,
		"slot":      conf.Slot,
	})
}

// CancelListing - Take an owned listing off the marketplace
func (h *MarketplaceHandler) CancelListing(e *core.RequestEvent) error {
	id, err := h.walletIdentity(e)
	if err != nil {
		return err
	}

	mint := e.Request.PathValue("mint")

	conf, err := h.market.CancelListing(e.Request.Context(), id, mint)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"canceled":  true,
		"mint":      mint,
		"client_id": conf.ClientID,
		"slot":      conf.Slot,
	})
}

// BuyTicket - Buy a listed ticket
func (h *MarketplaceHandler) BuyTicket(e *core.RequestEvent) error {
	id, err := h.walletIdentity(e)
	if err != nil {
		return err
	}

	mint := e.Request.PathValue("mint")

	conf, err := h.market.BuyFromMarketplace(e.Request.Context(), id, mint)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"purchased": true,
		"mint":      mint,
		"client_id": conf.ClientID,
		"slot":      conf.Slot,
	})
}

// RefundTicket - Refund and burn a ticket for a canceled event
func (h *MarketplaceHandler) RefundTicket(e *core.RequestEvent) error {
	id, err := h.walletIdentity(e)
	if err != nil {
		return err
	}

	mint := e.Request.PathValue("mint")

	conf, err := h.market.RefundBurn(e.Request.Context(), id, mint)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"refunded":  true,
		"mint":      mint,
		"client_id": conf.ClientID,
		"slot":      conf.Slot,
	})
}

// walletIdentity builds the signing identity from the authenticated
// user's custodial wallet seed.
func (h *MarketplaceHandler) walletIdentity(e *core.RequestEvent) (signer.Identity, error) {
	if e.Auth == nil {
		return signer.None(), apis.NewUnauthorizedError("Unauthorized", nil)
	}

	seed := e.Auth.GetString("wallet_seed")
	if seed == "" {
		return signer.None(), apis.NewForbiddenError("No wallet on account", nil)
	}

	id, err := signer.LocalFromSeed(seed)
	if err != nil {
		return signer.None(), apis.NewForbiddenError("Invalid wallet on account", nil)
	}

	return id, nil
}
