package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tripandevent/voice-agent-bridge/internal/resilience"
)

const truncateBody = 200

// Client issues authenticated requests against the CRM API. It owns the
// process-wide HTTP connection pool and the credential store; every
// authenticated call attaches a bearer header built from the cached token
// only. A 401 is surfaced as ErrTokenExpired and never retried in-process.
type Client struct {
	baseURL      string
	email        string
	password     string
	httpClient   *http.Client
	loginTimeout time.Duration
	tokens       *Store
	logger       zerolog.Logger

	warmupRetry *resilience.RetryConfig
}

// ClientOptions configures a Client
type ClientOptions struct {
	BaseURL      string
	Email        string
	Password     string
	Timeout      time.Duration // per-request; keep below a conversational turn
	LoginTimeout time.Duration // login may hit a cold-starting server
	WarmupRetry  *resilience.RetryConfig
}

// NewClient creates a CRM client with an empty credential store.
// Call Warmup once before serving; runtime requests never log in.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.LoginTimeout == 0 {
		opts.LoginTimeout = 20 * time.Second
	}

	c := &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		email:        opts.Email,
		password:     opts.Password,
		httpClient:   &http.Client{Timeout: opts.Timeout},
		loginTimeout: opts.LoginTimeout,
		logger:       logger,
		warmupRetry:  opts.WarmupRetry,
	}
	c.tokens = NewStore(c.login, logger)
	return c
}

// Tokens exposes the credential store (readiness checks, tests)
func (c *Client) Tokens() *Store {
	return c.tokens
}

// Warmup pre-fetches the CRM auth token. This is the only path that performs
// a network login; it runs once before the agent starts serving. Retryable
// network failures are retried with backoff. A final failure is returned to
// the caller, who logs it and continues degraded: CRM tools then fail fast
// until the agent is restarted.
func (c *Client) Warmup(ctx context.Context) error {
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		_, err := c.tokens.Ensure(ctx)
		return err
	}, c.warmupRetry, func(err error) bool {
		return resilience.IsRetryableNetworkError(err)
	})
	if err != nil {
		return err
	}
	c.logger.Info().Msg("CRM warmup complete, token pre-fetched")
	return nil
}

// login performs the credential round trip: POST auth/login with email and
// password, lenient token extraction from the response body.
func (c *Client) login(ctx context.Context) (string, error) {
	loginURL := c.url("auth/login")
	c.logger.Info().Str("url", loginURL).Str("email", c.email).Msg("CRM login attempt")

	payload, err := json.Marshal(map[string]string{
		"email":    c.email,
		"password": c.password,
	})
	if err != nil {
		return "", fmt.Errorf("marshal login payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.loginTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Msg("CRM login connection error (check URL/network)")
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read login response: %w", err)
	}

	if resp.StatusCode >= 400 {
		c.logger.Error().
			Int("status", resp.StatusCode).
			Str("body", truncate(string(body), 500)).
			Msg("CRM login HTTP error")
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(body), truncateBody))
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("parse login response: %w", err)
	}

	token, ok := extractToken(decoded)
	if !ok {
		return "", fmt.Errorf("no token in login response: %s", truncate(string(body), truncateBody))
	}
	return token, nil
}

// Do issues an authenticated request and decodes the JSON response.
// It uses the cached token only and fails fast with ErrNotAuthenticated when
// the warmup login never succeeded. All transport and upstream failures come
// back as typed errors, never panics.
func (c *Client) Do(ctx context.Context, method, endpoint string, body any) (any, error) {
	cred, err := c.tokens.Current()
	if err != nil {
		c.logger.Error().Msg("CRM token not available, cannot make API request")
		return nil, err
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		reqErr := &RequestError{Method: method, Endpoint: endpoint, Timeout: isTimeout(err), Err: err}
		if reqErr.Timeout {
			c.logger.Error().Str("method", method).Str("endpoint", endpoint).Msg("CRM request timeout")
		} else {
			c.logger.Error().Err(err).Str("method", method).Str("endpoint", endpoint).Msg("CRM request failed")
		}
		return nil, reqErr
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Method: method, Endpoint: endpoint, Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.Error().Msg("CRM token expired (401), restart the agent to re-authenticate")
		return nil, ErrTokenExpired
	}

	if resp.StatusCode >= 400 {
		upErr := &UpstreamError{StatusCode: resp.StatusCode, Body: truncate(string(raw), truncateBody)}
		c.logger.Error().
			Int("status", resp.StatusCode).
			Str("body", upErr.Body).
			Msg("CRM API error")
		return nil, upErr
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return decoded, nil
}

func (c *Client) url(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
