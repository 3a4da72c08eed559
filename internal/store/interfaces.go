// Package store persists whitelist requests. The SQLite implementation is
// the production store; the memory implementation backs tests.
package store

import (
	"context"
	"errors"

	"github.com/quingcraft/gatekeeper/pkg/models"
)

var (
	// ErrNotFound is returned when no record matches the query.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating a request would violate
	// the one-pending-per-requester or one-pending-per-target invariant.
	ErrAlreadyExists = errors.New("already exists")
)

// RequestStore persists whitelist requests. Records are append-and-transition
// only; nothing is ever deleted.
type RequestStore interface {
	// Create inserts a new pending request and assigns its ID.
	Create(ctx context.Context, req *models.WhitelistRequest) error

	// Get returns the request with the given id.
	Get(ctx context.Context, id int64) (*models.WhitelistRequest, error)

	// GetPendingByRequester returns the requester's pending request, or
	// ErrNotFound if they have none.
	GetPendingByRequester(ctx context.Context, requesterID string) (*models.WhitelistRequest, error)

	// GetPendingByTarget returns the pending request for a target
	// username (case-insensitive), or ErrNotFound.
	GetPendingByTarget(ctx context.Context, target string) (*models.WhitelistRequest, error)

	// TransitionStatus performs the conditional update
	// "SET status = to WHERE id = ? AND status = from" and records who
	// processed it. It returns false, with no error, when the guard
	// matched zero rows: the caller lost a race or the transition is
	// stale. This is the only mutation path for status, which is what
	// makes concurrent decisions at-most-once.
	TransitionStatus(ctx context.Context, id int64, from, to models.RequestStatus, processedBy string) (bool, error)

	// SetRoutingMessageID persists the moderation-channel message id
	// that routes decisions to this request.
	SetRoutingMessageID(ctx context.Context, id int64, messageID string) error

	// ListPending returns all pending requests, oldest first.
	ListPending(ctx context.Context) ([]*models.WhitelistRequest, error)

	// GetMostRecentApproved returns the newest approved request for a
	// target username (case-insensitive), or ErrNotFound.
	GetMostRecentApproved(ctx context.Context, target string) (*models.WhitelistRequest, error)

	// Close releases underlying resources.
	Close() error
}
