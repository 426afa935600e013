package settle

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	pubnub "github.com/pubnub/go/v7"
	"github.com/shopspring/decimal"
)

// State values the settlement provider reports for a session.
const (
	StatePending   = "pending"
	StatePaid      = "paid"
	StateCancelled = "cancelled"
	StateExpired   = "expired"
	StateRejected  = "rejected"
)

var _ Provider = (*client)(nil)

type (
	Config struct {
		BaseURL        string `json:"base_url" mapstructure:"base_url"`
		AccessTokenURL string `json:"access_token_url" mapstructure:"access_token_url"`

		ClientID     string `json:"client_id" mapstructure:"client_id"`
		ClientSecret string `json:"client_secret" mapstructure:"client_secret"`

		MerchantID string `json:"merchant_id" mapstructure:"merchant_id"`

		PartnerID string `json:"partner_id" mapstructure:"partner_id"`
		HMACKey   string `json:"hmac_key" mapstructure:"hmac_key"`

		PNSubKey  string `json:"pn_subkey" mapstructure:"pn_subkey"`
		PNUUID    string `json:"pn_uuid" mapstructure:"pn_uuid"`
		PNChannel string `json:"pn_channel" mapstructure:"pn_channel"`
	}

	client struct {
		baseURL            string
		accessTokenBaseURL string

		clientID     string
		clientSecret string

		merchantID string
		partnerID  string
		hmacKey    string

		// accessToken is used to authenticate with the settlement backend.
		accessToken string

		// mu is used to lock access token.
		mu sync.Mutex

		// toggleTokenRefresher is used to notify token refresher to refresh token.
		toggleTokenRefresher chan struct{}

		// hc is the http client.
		hc *http.Client

		pn  *pubnub.PubNub
		lis *pubnub.Listener
		ch  chan *Notification
	}
)

// SessionForm is the request to open a settlement session.
type SessionForm struct {
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Phone     string          `json:"phone"`
	Memo      string          `json:"memo"`
	ExpiryMin string          `json:"expiry_min"`

	// MerchantID overrides the configured merchant when set.
	MerchantID string `json:"merchant_id,omitempty"`
}

// SessionReply carries the provider's reference plus either a redeemable
// code (QR payload) or a redirect URL, depending on the payment channel.
type SessionReply struct {
	Reference   string `json:"reference"`
	Code        string `json:"code,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

// Status is one observation of the settlement record. Found is false when
// the record has not propagated yet (the 404 case): callers must keep
// polling, not fail.
type Status struct {
	Reference string          `json:"reference"`
	Paid      bool            `json:"paid"`
	State     string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Found     bool            `json:"-"`
}

// FulfillReply is the ticket issuance result after a paid session.
type FulfillReply struct {
	Reference  string `json:"reference"`
	TicketMint string `json:"ticket_mint"`
	Fulfilled  bool   `json:"fulfilled"`
}

// Notification is an async payment push from the provider's channel.
type Notification struct {
	Reference string          `json:"reference"`
	State     string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Payer     string          `json:"payer"`
	CreatedAt time.Time       `json:"created_at"`
}

// Provider is the settlement endpoint surface the payment session FSM
// polls against.
type Provider interface {
	CreateSession(ctx context.Context, f *SessionForm) (*SessionReply, error)
	CheckStatus(ctx context.Context, reference string) (*Status, error)
	Fulfill(ctx context.Context, reference string) (*FulfillReply, error)
	SetNotifyChannel(ch chan *Notification)
}

// New creates a settlement provider client, authenticates, and starts the
// background token refresher.
func New(ctx context.Context, cfg *Config) (Provider, error) {
	c := &client{
		baseURL:            cfg.BaseURL,
		accessTokenBaseURL: cfg.AccessTokenURL,
		clientID:           cfg.ClientID,
		clientSecret:       cfg.ClientSecret,
		merchantID:         cfg.MerchantID,
		partnerID:          cfg.PartnerID,
		hmacKey:            cfg.HMACKey,

		// make a buffered channel to avoid blocking.
		toggleTokenRefresher: make(chan struct{}, 1),

		// set http client with timeout.
		hc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	token, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	c.setAccessToken(token)

	go c.notifyAccessTokenExpired(ctx)

	if cfg.PNSubKey != "" {
		pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.PNUUID))
		pnCfg.SubscribeKey = cfg.PNSubKey

		c.pn = pubnub.NewPubNub(pnCfg)
		c.lis = pubnub.NewListener()
		c.pn.AddListener(c.lis)
		c.pn.Subscribe().Channels([]string{cfg.PNChannel}).Execute()

		go c.processSubscription(ctx)
	}

	return c, nil
}

// SetNotifyChannel sets the channel that receives async payment pushes.
func (c *client) SetNotifyChannel(ch chan *Notification) {
	c.ch = ch
}

func (c *client) processSubscription(ctx context.Context) {
	for {
		select {
		case st := <-c.lis.Status:
			switch st.Category {
			case pubnub.PNConnectedCategory:
				log.Println("connected to settlement notify channel")
			case pubnub.PNReconnectedCategory:
				log.Println("reconnected to settlement notify channel")
			case pubnub.PNDisconnectedCategory:
				log.Println("disconnected from settlement notify channel")
			default:
				log.Printf("settlement notify channel status: %v", st.Category)
			}

		case message := <-c.lis.Message:
			raw, ok := message.Message.(string)
			if !ok {
				continue
			}

			var n Notification
			dec := json.NewDecoder(strings.NewReader(raw))
			if err := dec.Decode(&n); err != nil {
				log.Printf("settle: decode notification: %v", err)
				continue
			}

			if c.ch != nil {
				c.ch <- &n
			}

		case <-ctx.Done():
			log.Println("close settlement subscription")
			return
		}
	}
}

// CreateSession opens a settlement session for the given form.
func (c *client) CreateSession(ctx context.Context, f *SessionForm) (*SessionReply, error) {
	if f.MerchantID == "" {
		f.MerchantID = c.merchantID
	}
	if f.ExpiryMin == "" {
		f.ExpiryMin = "15"
	}

	reply, err := c.createSession(ctx, f)
	if err != nil {
		return nil, err
	}

	return reply, nil
}

// CheckStatus queries the settlement record by reference. A 404 from the
// provider means the record has not propagated yet and is returned as a
// pending, not-found status rather than an error.
func (c *client) CheckStatus(ctx context.Context, reference string) (*Status, error) {
	return c.checkStatus(ctx, reference)
}

// Fulfill triggers ticket issuance for a paid reference. The provider
// treats a repeated fulfillment call for the same reference as a no-op.
func (c *client) Fulfill(ctx context.Context, reference string) (*FulfillReply, error) {
	return c.fulfill(ctx, reference)
}
