package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrAccountNotFound = errors.New("linked account not found")
	ErrRateLimited     = errors.New("account API rate limit exceeded")
)

// AccountAPIError is a non-2xx answer from the account API.
type AccountAPIError struct {
	Status int
	Body   string
}

func (e *AccountAPIError) Error() string {
	return fmt.Sprintf("account api: status %d: %s", e.Status, e.Body)
}

// LinkedAccountInfo is the account API's view of a game account.
type LinkedAccountInfo struct {
	AccountID     string `json:"account_id"`
	GameName      string `json:"game_name"`
	TagLine       string `json:"tag_line"`
	Region        string `json:"region,omitempty"`
	SummonerLevel int    `json:"summoner_level,omitempty"`
}

// AccountClient verifies third-party game accounts. Requests are throttled
// by a token bucket shared across goroutines.
type AccountClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

type AccountClientOption func(*AccountClient)

func WithAccountBaseURL(u string) AccountClientOption {
	return func(c *AccountClient) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithAccountHTTPClient(h *http.Client) AccountClientOption {
	return func(c *AccountClient) { c.http = h }
}

// WithAccountRateLimit allows rps requests per second with the given burst.
func WithAccountRateLimit(rps float64, burst int) AccountClientOption {
	return func(c *AccountClient) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

func NewAccountClient(apiKey string, opts ...AccountClientOption) *AccountClient {
	c := &AccountClient{
		apiKey:  apiKey,
		baseURL: "https://americas.api.riotgames.com",
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(20), 20),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// VerifyAccount fetches an account by id. It returns ErrAccountNotFound for
// unknown accounts and ErrRateLimited when the API throttles us.
func (c *AccountClient) VerifyAccount(ctx context.Context, accountID string) (*LinkedAccountInfo, error) {
	if accountID == "" {
		return nil, ErrAccountNotFound
	}
	var out LinkedAccountInfo
	if err := c.getJSON(ctx, "/riot/account/v1/accounts/by-puuid/"+url.PathEscape(accountID), &out); err != nil {
		return nil, err
	}
	if out.AccountID == "" {
		out.AccountID = accountID
	}
	return &out, nil
}

func (c *AccountClient) getJSON(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("account api limiter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("account api request: %w", err)
	}
	req.Header.Set("X-Riot-Token", c.apiKey)
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("account api http: %w", err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return ErrAccountNotFound
	case res.StatusCode == http.StatusTooManyRequests:
		if sec, _ := strconv.Atoi(res.Header.Get("Retry-After")); sec > 0 {
			return fmt.Errorf("%w: retry after %ds", ErrRateLimited, sec)
		}
		return ErrRateLimited
	case res.StatusCode < 200 || res.StatusCode >= 300:
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return &AccountAPIError{Status: res.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return json.NewDecoder(res.Body).Decode(out)
}
