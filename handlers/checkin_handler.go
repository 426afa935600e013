package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ticket-ledger/internal/settle"
	"ticket-ledger/internal/signer"
	"ticket-ledger/services"
	"ticket-ledger/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

// validatorSeedsKey is the redis hash of enrolled validator devices,
// ledger address -> signing seed. validatorSecretsKey holds the bcrypt
// hash of each device's secret for token renewal.
const (
	validatorSeedsKey   = "validator:seeds"
	validatorSecretsKey = "validator:secrets"
)

type CheckinHandler struct {
	app       *pocketbase.PocketBase
	checkin   *services.CheckinService
	redis     *redis.Client
	jwtSecret string
	jwtExpiry time.Duration
}

func NewCheckinHandler(app *pocketbase.PocketBase, checkin *services.CheckinService, redisClient *redis.Client, jwtSecret string, jwtExpiry time.Duration) *CheckinHandler {
	return &CheckinHandler{
		app:       app,
		checkin:   checkin,
		redis:     redisClient,
		jwtSecret: jwtSecret,
		jwtExpiry: jwtExpiry,
	}
}

// EnrollDevice registers a validator device's signing key and issues its
// access token. Superuser only.
func (h *CheckinHandler) EnrollDevice(e *core.RequestEvent) error {
	if e.Auth == nil || !e.Auth.IsSuperuser() {
		return apis.NewForbiddenError("Superuser required", nil)
	}

	var req struct {
		Address string `json:"address"`
		Seed    string `json:"seed"`
		Secret  string `json:"secret"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	id, err := signer.LocalFromSeed(req.Seed)
	if err != nil {
		return apis.NewBadRequestError("Invalid signing seed", nil)
	}
	if id.Address() != req.Address {
		return apis.NewBadRequestError("Seed does not match address", nil)
	}
	secret, generated, err := deviceSecret(req.Secret)
	if err != nil {
		return apis.NewInternalServerError("Failed to enroll device", err)
	}

	secretHash, err := settle.GenerateHash([]byte(secret))
	if err != nil {
		return apis.NewInternalServerError("Failed to enroll device", err)
	}

	ctx := e.Request.Context()
	if err := h.redis.HSet(ctx, validatorSeedsKey, req.Address, req.Seed).Err(); err != nil {
		return apis.NewInternalServerError("Failed to enroll device", err)
	}
	if err := h.redis.HSet(ctx, validatorSecretsKey, req.Address, secretHash).Err(); err != nil {
		return apis.NewInternalServerError("Failed to enroll device", err)
	}

	token, err := h.issueToken(req.Address)
	if err != nil {
		return apis.NewInternalServerError("Failed to issue token", err)
	}

	resp := map[string]any{
		"address": req.Address,
		"token":   token,
	}
	// The device keeps a generated secret for RenewToken; it is never
	// shown again after this response.
	if generated {
		resp["secret"] = secret
	}

	return e.JSON(http.StatusOK, resp)
}

// deviceSecret returns the enrollment secret for a device, minting a
// one-time numeric secret when the operator did not supply one. The
// second result reports whether the secret was generated here.
func deviceSecret(provided string) (string, bool, error) {
	if provided != "" {
		return provided, false, nil
	}

	otp, err := utils.GenerateOTP(8)
	if err != nil {
		return "", false, err
	}
	return otp, true, nil
}

// RenewToken - Exchange a device secret for a fresh access token. Lets a
// device recover from an expired token without re-enrollment.
func (h *CheckinHandler) RenewToken(e *core.RequestEvent) error {
	var req struct {
		Address string `json:"address"`
		Secret  string `json:"secret"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	storedHash, err := h.redis.HGet(e.Request.Context(), validatorSecretsKey, req.Address).Result()
	if err != nil {
		return apis.NewUnauthorizedError("Unknown device", nil)
	}
	if !settle.CompareHash([]byte(storedHash), []byte(req.Secret)) {
		return apis.NewUnauthorizedError("Invalid device secret", nil)
	}

	token, err := h.issueToken(req.Address)
	if err != nil {
		return apis.NewInternalServerError("Failed to issue token", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"address": req.Address,
		"token":   token,
	})
}

// ResolveTicket - Resolve a scanned redemption code into a ticket summary
func (h *CheckinHandler) ResolveTicket(e *core.RequestEvent) error {
	if _, err := h.deviceAddress(e); err != nil {
		return err
	}

	code := e.Request.PathValue("code")
	ctx := e.Request.Context()

	summary, err := h.checkin.ResolveCode(ctx, code)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, summary)
}

// ConfirmCheckin - Redeem the ticket behind a scanned code
func (h *CheckinHandler) ConfirmCheckin(e *core.RequestEvent) error {
	address, err := h.deviceAddress(e)
	if err != nil {
		return err
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	ctx := e.Request.Context()

	validator, err := h.deviceIdentity(ctx, address)
	if err != nil {
		return apis.NewForbiddenError("Device not enrolled", nil)
	}

	summary, err := h.checkin.ResolveCode(ctx, req.Code)
	if err != nil {
		return apiError(err)
	}

	conf, err := h.checkin.Confirm(ctx, summary, validator)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"redeemed":  true,
		"code":      summary.Code,
		"event_id":  summary.EventID,
		"client_id": conf.ClientID,
		"slot":      conf.Slot,
	})
}

// GetValidatorStatus - Report whether this device may redeem for an event
func (h *CheckinHandler) GetValidatorStatus(e *core.RequestEvent) error {
	address, err := h.deviceAddress(e)
	if err != nil {
		return err
	}

	eventID, err := strconv.ParseUint(e.Request.PathValue("eventId"), 10, 64)
	if err != nil {
		return apis.NewBadRequestError("Invalid event id", nil)
	}

	ok, eventName, err := h.checkin.ValidatorStatus(e.Request.Context(), eventID, address)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"event_id":   eventID,
		"event_name": eventName,
		"authorized": ok,
	})
}

func (h *CheckinHandler) issueToken(address string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": address,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(h.jwtExpiry).Unix(),
	})
	return token.SignedString([]byte(h.jwtSecret))
}

// deviceAddress authenticates the validator device token and returns the
// ledger address it was enrolled under.
func (h *CheckinHandler) deviceAddress(e *core.RequestEvent) (string, error) {
	header := e.Request.Header.Get("Authorization")
	raw := strings.TrimPrefix(header, "Bearer ")
	if raw == "" || raw == header {
		return "", apis.NewUnauthorizedError("Missing device token", nil)
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(h.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return "", apis.NewUnauthorizedError("Invalid device token", nil)
	}

	address, err := token.Claims.GetSubject()
	if err != nil || address == "" {
		return "", apis.NewUnauthorizedError("Invalid device token", nil)
	}

	return address, nil
}

// deviceIdentity loads the enrolled signing key for a device address.
func (h *CheckinHandler) deviceIdentity(ctx context.Context, address string) (signer.Identity, error) {
	seed, err := h.redis.HGet(ctx, validatorSeedsKey, address).Result()
	if err != nil {
		return signer.None(), err
	}

	id, err := signer.LocalFromSeed(seed)
	if err != nil {
		return signer.None(), err
	}
	if id.Address() != address {
		return signer.None(), fmt.Errorf("deviceIdentity: seed mismatch for %s", address)
	}

	return id, nil
}
