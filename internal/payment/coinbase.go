package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const coinbaseAPIVersion = "2018-03-22"

type ChargeRequest struct {
	OrderNumber   string
	Amount        decimal.Decimal
	Currency      string
	CustomerEmail string
	CustomerName  string
	Description   string
	RedirectURL   string
	CancelURL     string
}

type Charge struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	HostedURL string    `json:"hosted_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Client talks to the Coinbase Commerce charges API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, http: hc}
}

type chargeBody struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	PricingType string            `json:"pricing_type"`
	LocalPrice  localPrice        `json:"local_price"`
	Metadata    map[string]string `json:"metadata"`
	RedirectURL string            `json:"redirect_url,omitempty"`
	CancelURL   string            `json:"cancel_url,omitempty"`
}

type localPrice struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func (c *Client) CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error) {
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	body, err := json.Marshal(chargeBody{
		Name:        "Order " + req.OrderNumber,
		Description: req.Description,
		PricingType: "fixed_price",
		LocalPrice:  localPrice{Amount: req.Amount.StringFixed(2), Currency: currency},
		Metadata: map[string]string{
			"order_number":   req.OrderNumber,
			"customer_email": req.CustomerEmail,
			"customer_name":  req.CustomerName,
		},
		RedirectURL: req.RedirectURL,
		CancelURL:   req.CancelURL,
	})
	if err != nil {
		return Charge{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/charges", bytes.NewReader(body))
	if err != nil {
		return Charge{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-CC-Api-Key", c.apiKey)
	httpReq.Header.Set("X-CC-Version", coinbaseAPIVersion)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Charge{}, fmt.Errorf("create charge: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Charge{}, fmt.Errorf("create charge: read body: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return Charge{}, fmt.Errorf("create charge: status %d: %s", resp.StatusCode, truncate(raw, 256))
	}
	var out struct {
		Data Charge `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return Charge{}, fmt.Errorf("create charge: decode: %w", err)
	}
	if out.Data.Code == "" || out.Data.HostedURL == "" {
		return Charge{}, fmt.Errorf("create charge: response missing code or hosted_url")
	}
	return out.Data, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
