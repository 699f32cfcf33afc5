// Package kite is a minimal client for the Zerodha Kite Connect API: a REST
// client for session validation and account queries, and a streaming ticker
// for live quotes. Only the surface the paper desk needs is implemented.
package kite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/optiondesk/paperbot/internal/domain"
)

const (
	// DefaultBaseURL is the production Kite Connect REST root.
	DefaultBaseURL = "https://api.kite.trade"

	// LoginURL is where an operator obtains a request token; the exchange
	// for an access token happens outside this program.
	LoginURL = "https://kite.zerodha.com/connect/login"

	apiVersion = "3"
)

// Client is the Kite Connect REST client. All calls authenticate with the
// static "token api_key:access_token" header; Connect's interactive login
// flow is out of scope here.
type Client struct {
	baseURL     string
	apiKey      string
	accessToken string
	httpClient  *http.Client
}

// NewClient creates a REST client for the given session credentials. baseURL
// may be empty to use production.
func NewClient(baseURL, apiKey, accessToken string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Authenticated reports whether a credential pair is present at all. The
// server-side check is Profile.
func (c *Client) Authenticated() bool {
	return c.apiKey != "" && c.accessToken != ""
}

// Profile fetches the logged-in user's profile, doubling as the session
// validity probe. An invalid or expired token surfaces ErrNotAuthenticated.
func (c *Client) Profile(ctx context.Context) (Profile, error) {
	var p Profile
	if err := c.get(ctx, "/user/profile", nil, &p); err != nil {
		return Profile{}, fmt.Errorf("kite: profile: %w", err)
	}
	return p, nil
}

// Margins fetches the real account's equity margin numbers. The paper ledger
// does not use them for accounting; they are surfaced for display next to
// the virtual account.
func (c *Client) Margins(ctx context.Context) (Margins, error) {
	var m Margins
	if err := c.get(ctx, "/user/margins/equity", nil, &m); err != nil {
		return Margins{}, fmt.Errorf("kite: margins: %w", err)
	}
	return m, nil
}

// LTP fetches last traded prices for the given "EXCHANGE:SYMBOL" keys, used
// to seed index spots before the first tick arrives.
func (c *Client) LTP(ctx context.Context, instruments ...string) (map[string]LTPQuote, error) {
	q := url.Values{}
	for _, inst := range instruments {
		q.Add("i", inst)
	}
	var out map[string]LTPQuote
	if err := c.get(ctx, "/quote/ltp", q, &out); err != nil {
		return nil, fmt.Errorf("kite: ltp: %w", err)
	}
	return out, nil
}

// get performs an authenticated GET and decodes the standard Kite envelope.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Kite-Version", apiVersion)
	req.Header.Set("Authorization", "token "+c.apiKey+":"+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode envelope (status %d): %w", resp.StatusCode, err)
	}
	if envelope.Status != "success" {
		if resp.StatusCode == http.StatusForbidden || envelope.ErrorType == "TokenException" {
			return fmt.Errorf("%s: %w", envelope.Message, domain.ErrNotAuthenticated)
		}
		return fmt.Errorf("api error %s (status %d): %s", envelope.ErrorType, resp.StatusCode, envelope.Message)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}
