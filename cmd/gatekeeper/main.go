// Package main provides the CLI entry point for gatekeeper, the
// Discord-moderated Minecraft whitelist service.
//
// # Basic Usage
//
// Start the bot:
//
//	gatekeeper serve --config gatekeeper.yaml
//
// Manage the allow-list directly from the shell (bypasses moderation):
//
//	gatekeeper whitelist add Steve
//	gatekeeper whitelist remove Steve
//	gatekeeper whitelist check Steve
//
// # Environment Variables
//
// The configuration file may reference environment variables with ${VAR}
// syntax; common ones are DISCORD_BOT_TOKEN and RCON_PASSWORD.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/quingcraft/gatekeeper/internal/allowlist"
	"github.com/quingcraft/gatekeeper/internal/backoff"
	"github.com/quingcraft/gatekeeper/internal/config"
	"github.com/quingcraft/gatekeeper/internal/discord"
	"github.com/quingcraft/gatekeeper/internal/mojang"
	"github.com/quingcraft/gatekeeper/internal/observability"
	"github.com/quingcraft/gatekeeper/internal/rcon"
	"github.com/quingcraft/gatekeeper/internal/roles"
	"github.com/quingcraft/gatekeeper/internal/store"
	"github.com/quingcraft/gatekeeper/internal/whitelist"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "gatekeeper",
		Short:         "Discord-moderated Minecraft whitelist bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildServeCmd(), buildWhitelistCmd(), buildVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gatekeeper bot",
		Long: `Start the gatekeeper bot.

The bot will:
1. Load configuration from the specified file
2. Open the request database and rebuild the approval index
3. Connect to Discord and register slash commands
4. Route whitelist requests to the moderation channel and apply decisions

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gatekeeper.yaml",
		"Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(os.Stderr, observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logger.Info("starting gatekeeper", "version", version, "commit", commit)

	var metrics *observability.Metrics
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(prometheus.DefaultRegisterer)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			logger.Info("metrics endpoint listening", "addr", cfg.Metrics.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	requests, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer requests.Close()

	console, err := rcon.NewClient(rcon.Config{
		Addr:        cfg.RCON.Addr,
		Password:    cfg.RCON.Password,
		DialTimeout: cfg.RCON.DialTimeout.Std(),
		ExecTimeout: cfg.RCON.ExecTimeout.Std(),
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("configure rcon: %w", err)
	}

	remote, err := allowlist.NewClient(console, allowlist.Config{
		CommandPrefix: cfg.Allowlist.CommandPrefix,
		PollPolicy:    pollPolicy(cfg),
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		return fmt.Errorf("configure allow-list client: %w", err)
	}

	service, err := whitelist.NewService(requests, remote, whitelist.Config{
		HistoryScanLimit: cfg.Discord.HistoryScanLimit,
		Logger:           logger,
		Metrics:          metrics,
	})
	if err != nil {
		return fmt.Errorf("configure orchestrator: %w", err)
	}

	if cfg.Mojang.Enabled {
		service.SetVerifier(mojang.NewClient(mojang.Config{
			BaseURL: cfg.Mojang.BaseURL,
			Logger:  logger,
		}))
	}

	var resolver *roles.Resolver
	if len(cfg.Roles.Mapping) > 0 {
		resolver = roles.NewResolver(console, roles.Config{
			Mapping: roles.Mapping(cfg.Roles.Mapping),
			Rank:    roles.Rank(cfg.Roles.Rank),
			Logger:  logger,
			Metrics: metrics,
		})
	}

	adapter, err := discord.NewAdapter(service, remote, resolver, discord.Config{
		Token:            cfg.Discord.Token,
		GuildID:          cfg.Discord.GuildID,
		ModChannelID:     cfg.Discord.ModChannelID,
		StaffRoleIDs:     cfg.Discord.StaffRoleIDs,
		HistoryScanLimit: cfg.Discord.HistoryScanLimit,
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("configure discord adapter: %w", err)
	}
	service.SetNotifier(adapter)
	service.SetHistoryScanner(adapter)

	// The index rebuild must finish before the gateway connection opens:
	// reactions delivered before the rebuild would be refused.
	rebuildCtx, cancel := context.WithTimeout(ctx, time.Minute)
	err = service.Rebuild(rebuildCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("rebuild approval index: %w", err)
	}

	if err := adapter.Start(ctx); err != nil {
		return err
	}
	logger.Info("gatekeeper running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	if err := adapter.Stop(); err != nil {
		logger.Warn("discord shutdown failed", "error", err)
	}
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown failed", "error", err)
		}
	}
	return nil
}

func pollPolicy(cfg *config.Config) backoff.PollPolicy {
	intervals := make([]time.Duration, 0, len(cfg.Allowlist.PollIntervals))
	for _, d := range cfg.Allowlist.PollIntervals {
		intervals = append(intervals, d.Std())
	}
	return backoff.PollPolicy{
		Intervals: intervals,
		Budget:    cfg.Allowlist.PollBudget.Std(),
	}
}

func buildWhitelistCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "whitelist",
		Short: "Manage the server allow-list directly",
		Long: `Manage the server allow-list over RCON without going through
Discord moderation. Useful for operators and for repairing drift.`,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "gatekeeper.yaml",
		"Path to YAML configuration file")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <username>",
			Short: "Add a player to the allow-list",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runWhitelistOp(cmd.Context(), configPath, "add", args[0])
			},
		},
		&cobra.Command{
			Use:   "remove <username>",
			Short: "Remove a player from the allow-list",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runWhitelistOp(cmd.Context(), configPath, "remove", args[0])
			},
		},
		&cobra.Command{
			Use:   "check <username>",
			Short: "Check whether a player is on the allow-list",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runWhitelistOp(cmd.Context(), configPath, "check", args[0])
			},
		},
	)
	return cmd
}

func runWhitelistOp(ctx context.Context, configPath, op, username string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := observability.NewLogger(os.Stderr, observability.LogConfig{
		Level:  "warn",
		Format: "text",
	})

	console, err := rcon.NewClient(rcon.Config{
		Addr:        cfg.RCON.Addr,
		Password:    cfg.RCON.Password,
		DialTimeout: cfg.RCON.DialTimeout.Std(),
		ExecTimeout: cfg.RCON.ExecTimeout.Std(),
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	remote, err := allowlist.NewClient(console, allowlist.Config{
		CommandPrefix: cfg.Allowlist.CommandPrefix,
		PollPolicy:    pollPolicy(cfg),
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	switch op {
	case "add":
		ok, err := remote.Add(ctx, username)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("add %s was rejected by the server", username)
		}
		fmt.Printf("%s added to the whitelist\n", username)
	case "remove":
		ok, err := remote.Remove(ctx, username)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("remove %s was rejected by the server", username)
		}
		fmt.Printf("%s removed from the whitelist\n", username)
	case "check":
		present, err := remote.Check(ctx, username)
		if err != nil {
			return err
		}
		if present {
			fmt.Printf("%s is on the whitelist\n", username)
		} else {
			fmt.Printf("%s is not on the whitelist\n", username)
		}
	}
	return nil
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gatekeeper %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
