// Package httpprovider is a [sca.ProofProvider] that talks JSON over HTTP to
// an identity-proof service (digital identity, mobile wallet or biometric).
//
// The service exposes two endpoints:
//
//	POST {base}/initiate  -> {"handle": "...", "display": {...}}
//	POST {base}/collect   -> {"status": "pending|approved|rejected", "attributes": {...}}
//
// Outbound calls are throttled so a burst of checkouts cannot exceed the
// rate agreed with the provider.
package httpprovider

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

	"golang.org/x/time/rate"

	sca "github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 512
)

// Config configures a [Client].
type Config struct {
	BaseURL string
	APIKey  string
	// RequestsPerSecond caps outbound calls. Zero disables throttling.
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
}

// Client is a JSON-over-HTTP proof provider.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New returns a client for cfg.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("httpprovider: base URL required")
	}

	c := &Client{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		httpClient: cfg.HTTPClient,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c, nil
}

type initiateBody struct {
	ChallengeID   string    `json:"challenge_id"`
	SubjectID     string    `json:"subject_id"`
	Method        string    `json:"method"`
	Amount        string    `json:"amount"`
	PaymentMethod string    `json:"payment_method,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type initiateResponse struct {
	Handle  string            `json:"handle"`
	Display map[string]string `json:"display,omitempty"`
}

type collectBody struct {
	Handle    string `json:"handle"`
	SubjectID string `json:"subject_id"`
	Method    string `json:"method"`
	Assertion string `json:"assertion,omitempty"`
}

type collectResponse struct {
	Status     string            `json:"status"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Initiate implements [sca.ProofProvider].
func (c *Client) Initiate(ctx context.Context, req sca.ProofRequest) (sca.ProviderHandle, error) {
	var out initiateResponse
	err := c.post(ctx, "/initiate", initiateBody{
		ChallengeID:   req.ChallengeID,
		SubjectID:     req.SubjectID,
		Method:        req.Method.String(),
		Amount:        req.Amount.StringFixed(2),
		PaymentMethod: req.PaymentMethod,
		ExpiresAt:     req.ExpiresAt.UTC(),
	}, &out)
	if err != nil {
		return sca.ProviderHandle{}, err
	}
	if out.Handle == "" {
		return sca.ProviderHandle{}, errors.New("httpprovider: empty handle")
	}
	return sca.ProviderHandle{Handle: out.Handle, Display: out.Display}, nil
}

// Collect implements [sca.ProofProvider].
func (c *Client) Collect(ctx context.Context, req sca.CollectRequest) (sca.ProviderResult, error) {
	var out collectResponse
	err := c.post(ctx, "/collect", collectBody{
		Handle:    req.Handle,
		SubjectID: req.SubjectID,
		Method:    req.Method.String(),
		Assertion: req.Assertion,
	}, &out)
	if err != nil {
		return sca.ProviderResult{}, err
	}

	outcome, err := parseStatus(out.Status)
	if err != nil {
		return sca.ProviderResult{}, err
	}
	return sca.ProviderResult{Outcome: outcome, Attributes: out.Attributes}, nil
}

func parseStatus(status string) (sca.ProviderOutcome, error) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "pending", "outstanding":
		return sca.OutcomePending, nil
	case "approved", "complete", "completed":
		return sca.OutcomeApproved, nil
	case "rejected", "failed", "cancelled":
		return sca.OutcomeRejected, nil
	default:
		return 0, fmt.Errorf("httpprovider: unknown status %q", status)
	}
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("httpprovider: throttled: %w", err)
		}
	}

	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("httpprovider: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("httpprovider: %s failed status=%d body=%s", path, resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("httpprovider: decode %s: %w", path, err)
	}
	return nil
}
