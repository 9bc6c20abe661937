package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// PaymentIntentRequest asks the payment service to start a charge.
type PaymentIntentRequest struct {
	UserID      string            `json:"user_id"`
	AmountCents int64             `json:"amount_cents"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// PaymentIntent is the payment service's handle for a pending charge.
type PaymentIntent struct {
	PaymentID    string `json:"payment_id"`
	ClientSecret string `json:"client_secret"`
}

// PaymentConfirmation reports a settled charge. It arrives by webhook or
// through the reconciliation worker.
type PaymentConfirmation struct {
	PaymentID string    `json:"payment_id"`
	UserID    string    `json:"user_id"`
	Coins     int64     `json:"coins"`
	PaidAt    time.Time `json:"paid_at"`
}

// PaymentServiceClient talks to the internal payment service.
type PaymentServiceClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewPaymentServiceClient(baseURL, token string) *PaymentServiceClient {
	return &PaymentServiceClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// CreatePaymentIntent calls POST /payments/intents.
func (c *PaymentServiceClient) CreatePaymentIntent(ctx context.Context, in PaymentIntentRequest) (*PaymentIntent, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode payment intent: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/payments/intents", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.Token)

	var out PaymentIntent
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return &out, nil
}

// ConfirmedPaymentsSince calls GET /payments/confirmed?since=...
func (c *PaymentServiceClient) ConfirmedPaymentsSince(ctx context.Context, since time.Time) ([]PaymentConfirmation, error) {
	u, err := url.Parse(c.BaseURL + "/payments/confirmed")
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	q := u.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)

	var out struct {
		Payments []PaymentConfirmation `json:"payments"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("list confirmed payments: %w", err)
	}
	return out.Payments, nil
}

func (c *PaymentServiceClient) do(req *http.Request, out any) error {
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("payment service returned status %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
