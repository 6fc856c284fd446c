package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Email struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text,omitempty"`
	ReplyTo string   `json:"reply_to,omitempty"`
}

// SendError is a non-2xx answer from the email API.
type SendError struct {
	Status int
	Body   string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("resend: status %d: %s", e.Status, e.Body)
}

// Retryable is false for client errors other than rate limiting.
func (e *SendError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// ResendClient sends mail through the Resend HTTP API.
type ResendClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewResendClient(baseURL, apiKey string, hc *http.Client) *ResendClient {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &ResendClient{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, http: hc}
}

// Send returns the provider's message id.
func (c *ResendClient) Send(ctx context.Context, e Email) (string, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("resend: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 != 2 {
		msg := string(raw)
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return "", &SendError{Status: resp.StatusCode, Body: msg}
	}
	var out struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &out)
	return out.ID, nil
}
