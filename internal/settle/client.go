package settle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"ticket-ledger/internal/status"
	"time"
)

const (
	GrantTypeDefaultStr = "client_credentials"
)

// notifyAccessTokenExpired do infinite loop with period of time
// to perform auto renew token from the settlement backend with
// exponential backOff strategy.
func (c *client) notifyAccessTokenExpired(ctx context.Context) {
	ticker := time.NewTicker(3 * time.Minute)
	for {
		select {
		case <-ctx.Done():
			ticker.Stop()
			return

		case <-ticker.C:

		case <-c.toggleTokenRefresher:
			log.Println("notifyAccessTokenExpired: toggleTokenRefresher => token refreshed")
		}

		// reconnect with exponential backOff strategy
		backOff := time.Second

	Retry:
		for {
			token, err := c.connect(ctx)
			switch err {
			case nil:
				c.setAccessToken(token)

				break Retry

			default:
				log.Printf("notifyAccessTokenExpired: %v", err)

				select {
				case <-ctx.Done():
					return

				case <-time.After(backOff):
					backOff *= 2
				}
			}
		}
	}
}

// setAccessToken set access token to client.
func (c *client) setAccessToken(accessToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = accessToken
}

// getAccessToken get access token from client.
func (c *client) getAccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// connect makes http call to perform authentication with the settlement backend.
func (c *client) connect(ctx context.Context) (string, error) {
	query := url.Values{"grant_type": []string{GrantTypeDefaultStr}}
	body := strings.NewReader(query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.accessTokenBaseURL, body)
	if err != nil {
		return "", fmt.Errorf("connectSettle: http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.URL.User = url.UserPassword(c.clientID, c.clientSecret)

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("connectSettle: http.DefaultClient.Do: %w", err)
	}
	defer resp.Body.Close()

	// toggle token refresher if unauthorized
	if resp.StatusCode == http.StatusUnauthorized {
		c.toggleTokenRefresher <- struct{}{}
		return "", errors.New("connectSettle: resp.StatusCode: 401 => Unauthorized")
	}

	if resp.StatusCode != http.StatusOK {
		rbody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("connectSettle: resp.StatusCode: %d, resp.Body: %s", resp.StatusCode, rbody)
	}

	var reply struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&reply); err != nil {
		return "", fmt.Errorf("connectSettle: json.Decode: %w", err)
	}

	return fmt.Sprintf("%s %s", reply.TokenType, reply.AccessToken), nil
}

// setHeaders signs the request for the settlement backend. The HMAC
// covers partner id and reference so a replayed header cannot be reused
// for a different session.
func (c *client) setHeaders(req *http.Request, reference string) *http.Request {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.getAccessToken())
	req.Header.Set("X-Partner-Id", c.partnerID)
	if reference != "" {
		req.Header.Set("X-Signature", Hmac256([]byte(c.partnerID+":"+reference), []byte(c.hmacKey)))
	}
	return req
}

// createSession makes http call to open a settlement session.
func (c *client) createSession(ctx context.Context, f *SessionForm) (*SessionReply, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("createSession: json.Marshal: %w", err)
	}
	body := bytes.NewBuffer(b)

	_baseURL, _ := url.Parse(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s%s", _baseURL, "/api/v1/sessions/initiate.service"), body)
	if err != nil {
		return nil, fmt.Errorf("createSession: http.NewRequestWithContext: %w", err)
	}
	req = c.setHeaders(req, f.Reference)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &status.NetworkError{Op: "createSession", Err: err}
	}
	defer resp.Body.Close()

	// toggle token refresher if unauthorized
	if resp.StatusCode == http.StatusUnauthorized {
		c.toggleTokenRefresher <- struct{}{}
		return nil, errors.New("createSession: resp.StatusCode: 401 => Unauthorized")
	}

	if resp.StatusCode != http.StatusOK {
		rbody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("createSession: resp.StatusCode: %d, resp.Body: %s", resp.StatusCode, rbody)
	}

	var reply struct {
		Status   string `json:"status"`
		Message  string `json:"message"`
		Response struct {
			Reference   string `json:"reference"`
			Code        string `json:"qrCode"`
			RedirectURL string `json:"redirectUrl"`
		} `json:"dataResponse"`
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&reply); err != nil {
		return nil, fmt.Errorf("createSession: json.Decode: %w", err)
	}
	if reply.Status != "00" {
		return nil, fmt.Errorf("createSession: reply.Status: %v, reply.Message: %v", reply.Status, reply.Message)
	}

	return &SessionReply{
		Reference:   reply.Response.Reference,
		Code:        reply.Response.Code,
		RedirectURL: reply.Response.RedirectURL,
	}, nil
}

// checkStatus makes http call to inquire a settlement record by reference.
func (c *client) checkStatus(ctx context.Context, reference string) (*Status, error) {
	_baseURL, _ := url.Parse(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/v1/sessions/%s/inquiry.service", _baseURL, reference), nil)
	if err != nil {
		return nil, fmt.Errorf("checkStatus: http.NewRequestWithContext: %w", err)
	}
	req = c.setHeaders(req, reference)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &status.NetworkError{Op: "checkStatus", Err: err}
	}
	defer resp.Body.Close()

	// toggle token refresher if unauthorized
	if resp.StatusCode == http.StatusUnauthorized {
		c.toggleTokenRefresher <- struct{}{}
		return nil, errors.New("checkStatus: resp.StatusCode: 401 => Unauthorized")
	}

	// The record has not propagated yet. Stay pending and keep polling.
	if resp.StatusCode == http.StatusNotFound {
		return &Status{Reference: reference, State: StatePending, Found: false}, nil
	}

	if resp.StatusCode != http.StatusOK {
		rbody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("checkStatus: resp.StatusCode: %d, resp.Body: %s", resp.StatusCode, rbody)
	}

	var st Status
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&st); err != nil {
		return nil, fmt.Errorf("checkStatus: json.Decode: %w", err)
	}
	st.Reference = reference
	st.Found = true

	return &st, nil
}

// fulfill makes http call to trigger ticket issuance for a paid reference.
func (c *client) fulfill(ctx context.Context, reference string) (*FulfillReply, error) {
	b, err := json.Marshal(map[string]string{"reference": reference})
	if err != nil {
		return nil, fmt.Errorf("fulfill: json.Marshal: %w", err)
	}

	_baseURL, _ := url.Parse(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/api/v1/sessions/%s/fulfill.service", _baseURL, reference), bytes.NewBuffer(b))
	if err != nil {
		return nil, fmt.Errorf("fulfill: http.NewRequestWithContext: %w", err)
	}
	req = c.setHeaders(req, reference)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &status.NetworkError{Op: "fulfill", Err: err}
	}
	defer resp.Body.Close()

	// toggle token refresher if unauthorized
	if resp.StatusCode == http.StatusUnauthorized {
		c.toggleTokenRefresher <- struct{}{}
		return nil, errors.New("fulfill: resp.StatusCode: 401 => Unauthorized")
	}

	if resp.StatusCode != http.StatusOK {
		rbody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fulfill: resp.StatusCode: %d, resp.Body: %s", resp.StatusCode, rbody)
	}

	var reply FulfillReply
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&reply); err != nil {
		return nil, fmt.Errorf("fulfill: json.Decode: %w", err)
	}
	reply.Reference = reference

	return &reply, nil
}
