// Package allowlist wraps the game server's allow-list console commands in
// an idempotent add/remove/check API. Each call is stateless: it borrows a
// fresh console connection from the executor, issues one command, and
// classifies the free-text response.
package allowlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quingcraft/gatekeeper/internal/backoff"
	"github.com/quingcraft/gatekeeper/internal/observability"
	"github.com/quingcraft/gatekeeper/internal/rcon"
)

var (
	// ErrRemoteUnavailable indicates a connection-level failure: the
	// console could not be reached at all. Retryable.
	ErrRemoteUnavailable = errors.New("remote allow-list unavailable")

	// ErrRemoteRejected indicates the console answered with an explicit
	// error token. Retried once, then escalated.
	ErrRemoteRejected = errors.New("remote allow-list rejected command")
)

// Config holds the allow-list client parameters.
type Config struct {
	// CommandPrefix is the console command namespace, e.g. "vpw" for
	// "vpw add <name>".
	CommandPrefix string

	// PollPolicy bounds how long an add waits for the remote service to
	// resolve the account and land the entry.
	PollPolicy backoff.PollPolicy

	// Sleeper performs the waits between polls. Defaults to the wall
	// clock; tests inject a fake.
	Sleeper backoff.Sleeper

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger

	// Metrics is an optional metric set.
	Metrics *observability.Metrics
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.CommandPrefix) == "" {
		c.CommandPrefix = "vpw"
	}
	if len(c.PollPolicy.Intervals) == 0 {
		c.PollPolicy = backoff.DefaultPollPolicy()
	}
	if c.Sleeper == nil {
		c.Sleeper = backoff.ContextSleeper{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Client mutates and queries the remote allow-list.
type Client struct {
	exec    rcon.Executor
	config  Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewClient creates an allow-list client on top of a command executor.
func NewClient(exec rcon.Executor, config Config) (*Client, error) {
	if exec == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		exec:    exec,
		config:  config,
		logger:  config.Logger.With("component", "allowlist"),
		metrics: config.Metrics,
	}, nil
}

// Add puts username on the allow-list. It is idempotent: an account already
// present is a success. Adds that the console reports as in progress
// (account id still resolving) are polled on the configured schedule; if the
// entry never shows up within the budget but the console reported no
// explicit error, Add still returns true. That trades confirmation for
// availability: the alternative is rejecting requests whose add actually
// landed seconds after the budget, which in practice happens far more often
// than a silent loss.
func (c *Client) Add(ctx context.Context, username string) (bool, error) {
	present, err := c.Check(ctx, username)
	if err == nil && present {
		c.logger.Debug("already on allow-list", "username", username)
		return true, nil
	}

	response, err := c.exec.Execute(ctx, c.command("add", username))
	if err != nil {
		c.metrics.RecordRemoteCommand("add", "unavailable")
		return false, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}

	class := classify(response, "added")
	c.metrics.RecordRemoteCommand("add", class.String())
	c.logger.Info("allow-list add issued",
		"username", username,
		"class", class.String(),
		"response", response)

	switch class {
	case classSuccess:
		return true, nil

	case classError:
		// One retry, then escalate.
		return c.retryAdd(ctx, username)

	default:
		// In progress or ambiguous: wait for the entry to land.
		start := time.Now()
		found, pollErr := c.pollPresence(ctx, username)
		c.metrics.RecordPollDuration(time.Since(start))
		if pollErr != nil {
			return false, pollErr
		}
		if found {
			return true, nil
		}
		// Still absent after the budget, but the console never said
		// "error". Assume the add will converge.
		c.logger.Warn("allow-list add unconfirmed within poll budget, assuming success",
			"username", username)
		return true, nil
	}
}

func (c *Client) retryAdd(ctx context.Context, username string) (bool, error) {
	response, err := c.exec.Execute(ctx, c.command("add", username))
	if err != nil {
		c.metrics.RecordRemoteCommand("add", "unavailable")
		return false, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	class := classify(response, "added")
	c.metrics.RecordRemoteCommand("add", class.String())
	if class == classSuccess || class == classInProgress {
		return true, nil
	}
	c.logger.Warn("allow-list add rejected after retry",
		"username", username,
		"response", response)
	return false, fmt.Errorf("%w: %s", ErrRemoteRejected, strings.TrimSpace(response))
}

// Remove takes username off the allow-list. Removal is immediate on the
// remote side, so there is no resolution wait; the outcome is verified with
// one Check. Ambiguous or error responses get a single retry.
func (c *Client) Remove(ctx context.Context, username string) (bool, error) {
	present, err := c.Check(ctx, username)
	if err == nil && !present {
		c.logger.Debug("not on allow-list, nothing to remove", "username", username)
		return true, nil
	}

	response, err := c.exec.Execute(ctx, c.command("remove", username))
	if err != nil {
		c.metrics.RecordRemoteCommand("remove", "unavailable")
		return false, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}

	class := classify(response, "removed")
	c.metrics.RecordRemoteCommand("remove", class.String())
	c.logger.Info("allow-list remove issued",
		"username", username,
		"class", class.String(),
		"response", response)

	if class == classError || class == classAmbiguous {
		response, err = c.exec.Execute(ctx, c.command("remove", username))
		if err != nil {
			c.metrics.RecordRemoteCommand("remove", "unavailable")
			return false, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
		}
		retryClass := classify(response, "removed")
		c.metrics.RecordRemoteCommand("remove", retryClass.String())
		if retryClass == classError {
			return false, fmt.Errorf("%w: %s", ErrRemoteRejected, strings.TrimSpace(response))
		}
	}

	present, err = c.Check(ctx, username)
	if err != nil {
		return false, err
	}
	return !present, nil
}

// Check reports whether username is on the allow-list. The list command
// returns the full membership as free text; matching is case-insensitive.
// An explicitly empty list is an authoritative "not present", not an error.
// A reply carrying an explicit error token is neither: it surfaces as
// ErrRemoteRejected so callers never mistake a failed query for absence.
func (c *Client) Check(ctx context.Context, username string) (bool, error) {
	response, err := c.exec.Execute(ctx, c.command("list", ""))
	if err != nil {
		c.metrics.RecordRemoteCommand("list", "unavailable")
		return false, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	if class := classify(response, "whitelisted"); class == classError {
		c.metrics.RecordRemoteCommand("list", class.String())
		return false, fmt.Errorf("%w: %s", ErrRemoteRejected, strings.TrimSpace(response))
	}
	c.metrics.RecordRemoteCommand("list", "success")
	return containsName(response, username), nil
}

func (c *Client) command(verb, arg string) string {
	if arg == "" {
		return fmt.Sprintf("%s %s", c.config.CommandPrefix, verb)
	}
	return fmt.Sprintf("%s %s %s", c.config.CommandPrefix, verb, arg)
}

// pollPresence checks for the username on the configured schedule, stopping
// at the first sighting or when the budget runs out.
func (c *Client) pollPresence(ctx context.Context, username string) (bool, error) {
	for attempt, wait := range c.config.PollPolicy.Waits() {
		if err := c.config.Sleeper.Sleep(ctx, wait); err != nil {
			return false, err
		}
		present, err := c.Check(ctx, username)
		if err != nil {
			// A flaky list command should not abort the wait; the
			// next poll may succeed.
			c.logger.Debug("presence poll failed",
				"username", username,
				"attempt", attempt+1,
				"error", err)
			continue
		}
		if present {
			return true, nil
		}
	}
	return false, nil
}

// containsName tests case-insensitive membership of name in a console list
// response such as "Whitelisted players: Alex, Steve".
func containsName(response, name string) bool {
	lower := strings.ToLower(response)
	if idx := strings.LastIndex(lower, ":"); idx >= 0 {
		lower = lower[idx+1:]
	}
	for _, entry := range strings.FieldsFunc(lower, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t' || r == '[' || r == ']'
	}) {
		if strings.EqualFold(entry, name) {
			return true
		}
	}
	return false
}
