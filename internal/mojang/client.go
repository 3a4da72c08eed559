// Package mojang validates Minecraft usernames against the Mojang profile
// API before a whitelist request is accepted.
package mojang

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quingcraft/gatekeeper/internal/backoff"
)

const defaultBaseURL = "https://api.mojang.com"

// Client looks up Minecraft profiles.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	attempts   int
	retryDelay time.Duration
	sleeper    backoff.Sleeper
}

// Config holds client parameters.
type Config struct {
	// BaseURL overrides the Mojang API endpoint (tests).
	BaseURL string

	// HTTPClient overrides the default client.
	HTTPClient *http.Client

	// Attempts bounds retries of transient failures. Defaults to 3.
	Attempts int

	// RetryDelay is the wait between attempts. Defaults to 500ms.
	RetryDelay time.Duration

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger

	// Sleeper performs retry waits. Defaults to the wall clock.
	Sleeper backoff.Sleeper
}

// NewClient creates a Mojang profile client.
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if config.Attempts <= 0 {
		config.Attempts = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 500 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Sleeper == nil {
		config.Sleeper = backoff.ContextSleeper{}
	}
	return &Client{
		httpClient: config.HTTPClient,
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		logger:     config.Logger.With("component", "mojang"),
		attempts:   config.Attempts,
		retryDelay: config.RetryDelay,
		sleeper:    config.Sleeper,
	}
}

// VerifyUsername reports whether a Minecraft profile exists for username.
// A definite "no such profile" answer is returned as (false, nil);
// transient API failures are retried and eventually surfaced as an error so
// the caller can decide whether to accept the name unverified.
func (c *Client) VerifyUsername(ctx context.Context, username string) (bool, error) {
	endpoint := fmt.Sprintf("%s/users/profiles/minecraft/%s", c.baseURL, url.PathEscape(username))

	result, err := backoff.Retry(ctx, c.sleeper, c.attempts, c.retryDelay, func(attempt int) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return false, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Debug("profile lookup failed", "username", username, "attempt", attempt, "error", err)
			return false, err
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusOK:
			return true, nil
		case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound:
			return false, nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return false, fmt.Errorf("mojang api status %d", resp.StatusCode)
		default:
			return false, fmt.Errorf("unexpected mojang api status %d", resp.StatusCode)
		}
	})
	if err != nil {
		if result.LastError != nil {
			return false, fmt.Errorf("verify username %s: %w", username, result.LastError)
		}
		return false, fmt.Errorf("verify username %s: %w", username, err)
	}
	return result.Value, nil
}
