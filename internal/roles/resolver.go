// Package roles maps a member's Discord roles onto a single in-game
// permission group and applies it on the game server.
package roles

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quingcraft/gatekeeper/internal/observability"
	"github.com/quingcraft/gatekeeper/internal/rcon"
)

// Mapping maps a Discord role id to an in-game group name. Many role ids
// may map to the same group.
type Mapping map[string]string

// Rank is a total order over in-game groups: when a member's roles map to
// several groups, the highest-ranked one wins. Ties between equal-rank
// groups are resolved by map iteration order, which is deliberately left
// unspecified; configure distinct ranks if the choice matters.
type Rank map[string]int

// Resolver picks and applies in-game groups.
type Resolver struct {
	mapping Mapping
	rank    Rank
	exec    rcon.Executor
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Config holds resolver parameters.
type Config struct {
	Mapping Mapping
	Rank    Rank
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// NewResolver creates a role resolver. exec may be nil if only Resolve is
// used.
func NewResolver(exec rcon.Executor, config Config) *Resolver {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		mapping: config.Mapping,
		rank:    config.Rank,
		exec:    exec,
		logger:  logger.With("component", "roles"),
		metrics: config.Metrics,
	}
}

// Resolve picks the in-game group for a set of Discord role memberships.
// Returns ("", false) when no membership maps to a group.
func (r *Resolver) Resolve(memberships []string) (string, bool) {
	best := ""
	bestRank := 0
	found := false
	for _, roleID := range memberships {
		group, ok := r.mapping[roleID]
		if !ok {
			continue
		}
		rank := r.rank[group]
		if !found || rank > bestRank {
			best = group
			bestRank = rank
			found = true
		}
	}
	return best, found
}

// Apply sets the member's parent group on the game server. Success means
// the console response carried no explicit error token.
func (r *Resolver) Apply(ctx context.Context, username, group string) (bool, error) {
	if r.exec == nil {
		return false, fmt.Errorf("no command executor configured")
	}
	command := fmt.Sprintf("lpv user %s parent set %s", username, group)
	response, err := r.exec.Execute(ctx, command)
	if err != nil {
		r.metrics.RecordRemoteCommand("parent_set", "unavailable")
		return false, fmt.Errorf("apply group %s to %s: %w", group, username, err)
	}
	if hasErrorToken(response) {
		r.metrics.RecordRemoteCommand("parent_set", "rejected")
		r.logger.Warn("group assignment rejected",
			"username", username,
			"group", group,
			"response", response)
		return false, nil
	}
	r.metrics.RecordRemoteCommand("parent_set", "success")
	r.logger.Info("group assigned", "username", username, "group", group)
	return true, nil
}

var errorTokens = []string{"error", "unknown command", "could not be found", "does not exist"}

func hasErrorToken(response string) bool {
	lower := strings.ToLower(response)
	for _, token := range errorTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}
