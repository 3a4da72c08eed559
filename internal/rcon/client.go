// Package rcon issues single commands to the game server's RCON console.
// Every call dials a fresh connection, sends one command, reads one
// response, and disconnects, so no session state survives a flaky server.
package rcon

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorcon/rcon"
)

// Executor runs one console command and returns its free-text response.
type Executor interface {
	Execute(ctx context.Context, command string) (string, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, command string) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, command string) (string, error) {
	return f(ctx, command)
}

// Config holds connection parameters for the RCON console.
type Config struct {
	// Addr is the host:port of the RCON listener.
	Addr string

	// Password is the RCON password.
	Password string

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration

	// ExecTimeout bounds a single command round trip.
	ExecTimeout time.Duration

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("rcon addr is required")
	}
	if c.Password == "" {
		return fmt.Errorf("rcon password is required")
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ExecTimeout == 0 {
		c.ExecTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Client is a connect-per-call Executor over the RCON protocol.
type Client struct {
	config Config
	logger *slog.Logger
}

// NewClient creates a new RCON client.
func NewClient(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		config: config,
		logger: config.Logger.With("component", "rcon"),
	}, nil
}

// Execute dials the console, runs one command, and disconnects. The context
// is checked before dialing; the round trip itself is bounded by the
// configured timeouts.
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	cmdID := uuid.NewString()
	logger := c.logger.With("command_id", cmdID)
	logger.Debug("executing rcon command", "command", command)

	conn, err := rcon.Dial(
		c.config.Addr,
		c.config.Password,
		rcon.SetDialTimeout(c.config.DialTimeout),
		rcon.SetDeadline(c.config.ExecTimeout),
	)
	if err != nil {
		logger.Warn("rcon dial failed", "addr", c.config.Addr, "error", err)
		return "", fmt.Errorf("dial rcon %s: %w", c.config.Addr, err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			logger.Debug("rcon close failed", "error", cerr)
		}
	}()

	response, err := conn.Execute(command)
	if err != nil {
		logger.Warn("rcon command failed", "error", err)
		return "", fmt.Errorf("execute rcon command: %w", err)
	}

	logger.Debug("rcon response", "response", response)
	return response, nil
}
