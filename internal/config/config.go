// Package config loads and validates the gatekeeper configuration file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can say "5s" or "1m30s".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the main configuration structure for gatekeeper.
type Config struct {
	Discord   DiscordConfig   `yaml:"discord"`
	Database  DatabaseConfig  `yaml:"database"`
	RCON      RCONConfig      `yaml:"rcon"`
	Allowlist AllowlistConfig `yaml:"allowlist"`
	Mojang    MojangConfig    `yaml:"mojang"`
	Roles     RolesConfig     `yaml:"roles"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// DiscordConfig configures the platform adapter.
type DiscordConfig struct {
	// Token is the bot token from the Discord developer portal.
	Token string `yaml:"token"`

	// GuildID is the server the slash commands are registered on.
	GuildID string `yaml:"guild_id"`

	// ModChannelID is the moderation channel where routing messages are
	// posted and reactions are read.
	ModChannelID string `yaml:"mod_channel_id"`

	// StaffRoleIDs are the roles allowed to decide requests and use the
	// admin commands.
	StaffRoleIDs []string `yaml:"staff_role_ids"`

	// HistoryScanLimit bounds the moderation-channel scan during index
	// rebuild.
	HistoryScanLimit int `yaml:"history_scan_limit"`
}

// DatabaseConfig configures the request store.
type DatabaseConfig struct {
	// Path is the SQLite database file.
	Path string `yaml:"path"`
}

// RCONConfig configures the game-server console connection.
type RCONConfig struct {
	Addr        string   `yaml:"addr"`
	Password    string   `yaml:"password"`
	DialTimeout Duration `yaml:"dial_timeout"`
	ExecTimeout Duration `yaml:"exec_timeout"`
}

// AllowlistConfig configures allow-list command behavior.
type AllowlistConfig struct {
	// CommandPrefix is the console command namespace ("vpw").
	CommandPrefix string `yaml:"command_prefix"`

	// PollIntervals are the waits between presence polls after an add
	// that is still resolving.
	PollIntervals []Duration `yaml:"poll_intervals"`

	// PollBudget bounds the cumulative poll wait.
	PollBudget Duration `yaml:"poll_budget"`
}

// MojangConfig configures username verification.
type MojangConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
}

// RolesConfig configures the role resolver.
type RolesConfig struct {
	// Mapping maps Discord role ids to in-game group names.
	Mapping map[string]string `yaml:"mapping"`

	// Rank orders in-game groups; higher wins when several map.
	Rank map[string]int `yaml:"rank"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads the configuration file at path, expanding ${ENV} references
// before parsing, and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse parses and validates raw YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and applies defaults.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Discord.Token) == "" {
		return fmt.Errorf("discord.token is required")
	}
	if strings.TrimSpace(c.Discord.ModChannelID) == "" {
		return fmt.Errorf("discord.mod_channel_id is required")
	}
	if c.Discord.HistoryScanLimit <= 0 {
		c.Discord.HistoryScanLimit = 200
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		c.Database.Path = "gatekeeper.db"
	}
	if strings.TrimSpace(c.RCON.Addr) == "" {
		return fmt.Errorf("rcon.addr is required")
	}
	if c.RCON.Password == "" {
		return fmt.Errorf("rcon.password is required")
	}
	if c.RCON.DialTimeout <= 0 {
		c.RCON.DialTimeout = Duration(5 * time.Second)
	}
	if c.RCON.ExecTimeout <= 0 {
		c.RCON.ExecTimeout = Duration(10 * time.Second)
	}
	if strings.TrimSpace(c.Allowlist.CommandPrefix) == "" {
		c.Allowlist.CommandPrefix = "vpw"
	}
	if len(c.Allowlist.PollIntervals) == 0 {
		c.Allowlist.PollIntervals = []Duration{
			Duration(5 * time.Second),
			Duration(10 * time.Second),
			Duration(15 * time.Second),
		}
	}
	if c.Allowlist.PollBudget <= 0 {
		c.Allowlist.PollBudget = Duration(30 * time.Second)
	}
	for group := range c.Roles.Rank {
		if !mappedGroup(c.Roles.Mapping, group) {
			return fmt.Errorf("roles.rank lists group %q that no role maps to", group)
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Addr) == "" {
		c.Metrics.Addr = ":9091"
	}
	return nil
}

func mappedGroup(mapping map[string]string, group string) bool {
	for _, g := range mapping {
		if g == group {
			return true
		}
	}
	return false
}
