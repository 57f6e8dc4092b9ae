// Package client talks to a querygate server on behalf of a device.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/querygate/internal/retry"
	"github.com/querygate/pkg/models"
)

// DefaultTimeout outlasts the server's default provider timeout so a slow
// answer is not abandoned and retried, which would spend quota per attempt.
const (
	DefaultTimeout    = 45 * time.Second
	DefaultAttempts   = 3
	DefaultRetryDelay = 2 * time.Second
)

// APIError is a non-2xx reply decoded from the server's error body.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d (%s)", e.Status, e.Code)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

// Retryable reports whether the server signalled a transient upstream failure.
func (e *APIError) Retryable() bool {
	return e.Code == models.CodeUpstream || e.Status == http.StatusBadGateway || e.Status == http.StatusGatewayTimeout
}

// IsRetryable only retries transport failures and upstream errors.
// Authorization, validation, quota and rate-limit replies are final.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return retry.IsRetryableError(err)
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	policy  retry.Policy
}

type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.http.Timeout = d } }

// WithRetryPolicy overrides the chat retry policy.
func WithRetryPolicy(p retry.Policy) Option { return func(c *Client) { c.policy = p } }

func New(baseURL, apiKey string, opts ...Option) *Client {
	policy := retry.FixedPolicy(DefaultAttempts, DefaultRetryDelay)
	policy.Name = "chat"
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: DefaultTimeout},
		policy:  policy,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.policy.Retryable == nil {
		c.policy.Retryable = IsRetryable
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var eb models.ErrorResponse
		if json.Unmarshal(data, &eb) == nil {
			apiErr.Code, apiErr.Message = eb.Error, eb.Detail
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) deviceHeaders(licenseID, fingerprint string) map[string]string {
	return map[string]string{
		models.HeaderAPIKey:     c.apiKey,
		models.HeaderRegNo:      licenseID,
		models.HeaderMACAddress: fingerprint,
	}
}

// TrialActivate starts a trial and returns the shared trial license id.
func (c *Client) TrialActivate(ctx context.Context, activationCode, fingerprint string) (string, error) {
	var out models.TrialActivateResponse
	err := c.do(ctx, http.MethodPost, "/trial_activate", nil,
		models.TrialActivateRequest{ActivationCode: activationCode, MACAddress: fingerprint}, &out)
	if err != nil {
		return "", err
	}
	if out.LicenseID != "" {
		return out.LicenseID, nil
	}
	return out.RegNo, nil
}

// Activate binds a premium license to this device.
func (c *Client) Activate(ctx context.Context, licenseID, fingerprint string) error {
	return c.do(ctx, http.MethodPost, "/activate", map[string]string{models.HeaderAPIKey: c.apiKey},
		models.ActivateRequest{RegNo: licenseID, MACAddress: fingerprint}, nil)
}

// ChatResult is an answer plus what it took to get it.
type ChatResult struct {
	models.ChatResponse
	Attempts int
	Elapsed  time.Duration
}

// Chat sends a query, retrying transient failures per the client's policy.
// Each retry that reaches the server counts against a trial quota.
func (c *Client) Chat(ctx context.Context, licenseID, fingerprint, query string) (*ChatResult, error) {
	var out models.ChatResponse
	result := c.policy.Do(ctx, func(ctx context.Context) error {
		out = models.ChatResponse{}
		return c.do(ctx, http.MethodPost, "/chat", c.deviceHeaders(licenseID, fingerprint), models.ChatRequest{Query: query}, &out)
	})
	if err := result.Err(); err != nil {
		log.Debug().Err(err).Int("attempts", result.Attempts).Dur("elapsed", result.TotalDuration).Msg("chat failed")
		return nil, fmt.Errorf("%w (after %d attempts, %.2fs)", err, result.Attempts, result.TotalDuration.Seconds())
	}
	return &ChatResult{ChatResponse: out, Attempts: result.Attempts, Elapsed: result.TotalDuration}, nil
}

// Status reports the device's entitlement without consuming quota.
func (c *Client) Status(ctx context.Context, licenseID, fingerprint string) (*models.StatusResponse, error) {
	var out models.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", c.deviceHeaders(licenseID, fingerprint), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
