// Package sms delivers one-time codes through an SMS HTTP API.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 15 * time.Second

// Client sends SMS messages. It implements [sca.DeliveryChannel].
type Client struct {
	APIKey     string
	BaseURL    string
	Sender     string
	HTTPClient *http.Client
}

// NewClient returns a client for the given API key, endpoint and sender id.
func NewClient(apiKey, baseURL, sender string) *Client {
	return &Client{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Sender:     sender,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

type sendBody struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Message string `json:"message"`
}

// Send delivers message to destination. The message is never logged.
func (c *Client) Send(ctx context.Context, destination, message string) error {
	if c.APIKey == "" {
		return errors.New("sms: API key not configured")
	}
	if c.BaseURL == "" {
		return errors.New("sms: base URL not configured")
	}
	destination = normalizeNumber(destination)
	if destination == "" {
		return errors.New("sms: empty destination")
	}

	raw, err := json.Marshal(sendBody{To: destination, From: c.Sender, Message: message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("sms: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

// normalizeNumber keeps a leading + and the digits.
func normalizeNumber(n string) string {
	n = strings.TrimSpace(n)
	var b strings.Builder
	for i, r := range n {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 || b.String() == "+" {
		return ""
	}
	return b.String()
}
