package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"ticket-ledger/internal/status"
	"ticket-ledger/utils"
	"time"
)

var _ Gateway = (*Client)(nil)

type (
	Config struct {
		BaseURL string `json:"base_url" mapstructure:"base_url"`
		APIKey  string `json:"api_key" mapstructure:"api_key"`

		// Timeout bounds a single request, not the whole operation.
		Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	}

	// Client talks to the ledger's HTTP gateway. Reads go through a
	// circuit breaker so a struggling gateway does not stall every
	// caller; submissions bypass it because a rejected-by-breaker
	// submission is indistinguishable from a lost one to the caller.
	Client struct {
		baseURL string
		apiKey  string

		hc      *http.Client
		breaker *utils.CircuitBreaker
	}
)

// NewClient creates a ledger gateway client.
func NewClient(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	breaker := utils.NewCircuitBreaker("ledger-reads")

	// A missing account is an answer, not an upstream failure: stale
	// listings and whitelist misses 404 on every ordinary lookup.
	breaker.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, status.ErrNotFound)
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		hc: &http.Client{
			Timeout: timeout,
		},
		breaker: breaker,
	}
}

// FetchAccount reads one sub-account by derived address. A missing account
// surfaces as status.ErrNotFound, which several callers treat as an
// ordinary, expected condition (e.g. a listing that was just bought).
func (c *Client) FetchAccount(ctx context.Context, address string) (*AccountState, error) {
	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return c.fetchAccount(ctx, address)
	})
	if err != nil {
		return nil, err
	}
	return result.(*AccountState), nil
}

func (c *Client) fetchAccount(ctx context.Context, address string) (*AccountState, error) {
	_baseURL, _ := url.Parse(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/v1/accounts/%s", _baseURL, address), nil)
	if err != nil {
		return nil, fmt.Errorf("fetchAccount: http.NewRequestWithContext: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &status.NetworkError{Op: "fetchAccount", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, status.ErrNotFound
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		rbody, _ := io.ReadAll(resp.Body)
		return nil, &status.NetworkError{Op: "fetchAccount", Err: fmt.Errorf("resp.StatusCode: %d, resp.Body: %s", resp.StatusCode, rbody)}
	}

	if resp.StatusCode != http.StatusOK {
		rbody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fetchAccount: resp.StatusCode: %d, resp.Body: %s", resp.StatusCode, rbody)
	}

	var state AccountState
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&state); err != nil {
		return nil, fmt.Errorf("fetchAccount: json.Decode: %w", err)
	}

	return &state, nil
}

// Submit proposes one atomic transaction. The client never retries on its
// own: a timeout here may mean the proposal was already accepted, and only
// the caller knows whether re-submitting is safe.
func (c *Client) Submit(ctx context.Context, p *Proposal) (*Confirmation, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("submit: json.Marshal: %w", err)
	}

	_baseURL, _ := url.Parse(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/api/v1/proposals", _baseURL), bytes.NewBuffer(b))
	if err != nil {
		return nil, fmt.Errorf("submit: http.NewRequestWithContext: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &status.NetworkError{Op: "submit", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		rbody, _ := io.ReadAll(resp.Body)
		return nil, &status.NetworkError{Op: "submit", Err: fmt.Errorf("resp.StatusCode: %d, resp.Body: %s", resp.StatusCode, rbody)}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var rejection struct {
			Reason string `json:"reason"`
			Detail string `json:"detail"`
		}
		rbody, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(rbody, &rejection); err != nil || rejection.Reason == "" {
			rejection.Reason = fmt.Sprintf("http_%d", resp.StatusCode)
			rejection.Detail = string(rbody)
		}
		return nil, &status.LedgerRejection{Reason: rejection.Reason, Detail: rejection.Detail}
	}

	var conf Confirmation
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&conf); err != nil {
		return nil, fmt.Errorf("submit: json.Decode: %w", err)
	}

	return &conf, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
}
