package models

import (
	"fmt"
	"time"
)

// RequestStatus represents the lifecycle state of a whitelist request.
type RequestStatus string

const (
	// StatusPending is the initial state of every request.
	StatusPending RequestStatus = "pending"

	// StatusApproved means a moderator approved the request and the
	// remote allow-list mutation succeeded.
	StatusApproved RequestStatus = "approved"

	// StatusRejected means a moderator declined the request.
	StatusRejected RequestStatus = "rejected"

	// StatusDuplicate marks a request superseded by another pending
	// request from the same requester.
	StatusDuplicate RequestStatus = "duplicate"

	// StatusRemoved means a previously approved account was revoked.
	StatusRemoved RequestStatus = "removed"
)

// Valid reports whether s is a known status value.
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusDuplicate, StatusRemoved:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
// Approved is not terminal: an approved account can still be removed.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusDuplicate, StatusRemoved:
		return true
	}
	return false
}

// CanTransitionTo reports whether the s -> next transition is legal.
// Legal transitions are pending -> {approved, rejected, duplicate} and
// approved -> removed. Everything else is rejected.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusApproved || next == StatusRejected || next == StatusDuplicate
	case StatusApproved:
		return next == StatusRemoved
	}
	return false
}

// DecisionOutcome is a moderator's verdict on a pending request.
type DecisionOutcome string

const (
	OutcomeApproved DecisionOutcome = "approved"
	OutcomeRejected DecisionOutcome = "rejected"
)

// Status returns the request status a decision outcome maps to.
func (o DecisionOutcome) Status() RequestStatus {
	if o == OutcomeApproved {
		return StatusApproved
	}
	return StatusRejected
}

// WhitelistRequest is a single allow-list request. Records are never
// deleted, only transitioned, so the table doubles as an audit trail.
type WhitelistRequest struct {
	// ID is the store-assigned identifier.
	ID int64

	// RequesterID is the Discord user id the request was submitted for.
	RequesterID string

	// TargetUsername is the Minecraft account to allow-list.
	TargetUsername string

	// Status is the current lifecycle state.
	Status RequestStatus

	// Reason is the optional free-text reason given on submission.
	Reason *string

	// CreatedAt is when the request was submitted.
	CreatedAt time.Time

	// ProcessedAt is when a moderator decision or revocation landed.
	ProcessedAt *time.Time

	// ProcessedBy is the Discord user id of the deciding moderator.
	ProcessedBy *string

	// RoutingMessageID is the moderation-channel message whose reactions
	// drive the decision for this request. Persisted as soon as the
	// message is posted; the in-memory approval index is derived from it.
	RoutingMessageID *string
}

// Pending reports whether the request is still awaiting a decision.
func (r *WhitelistRequest) Pending() bool {
	return r != nil && r.Status == StatusPending
}

func (r *WhitelistRequest) String() string {
	if r == nil {
		return "<nil request>"
	}
	return fmt.Sprintf("request %d (%s -> %s, %s)", r.ID, r.RequesterID, r.TargetUsername, r.Status)
}

// Disposition describes how a decision was applied.
type Disposition struct {
	// Outcome is the verdict that won the conditional update.
	Outcome DecisionOutcome

	// RemoteChanged reports whether the remote allow-list was mutated
	// as part of applying the decision.
	RemoteChanged bool
}
