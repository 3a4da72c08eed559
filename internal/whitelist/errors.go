package whitelist

import "errors"

var (
	// ErrInvalidUsername means the target username failed validation
	// against the account directory. Reported to the submitter.
	ErrInvalidUsername = errors.New("invalid minecraft username")

	// ErrDuplicateRequester means the requester already has a pending
	// request for a different username. Non-retryable until that
	// request resolves.
	ErrDuplicateRequester = errors.New("requester already has a pending request")

	// ErrDuplicateTarget means another requester already has a pending
	// request for this username.
	ErrDuplicateTarget = errors.New("username already has a pending request")

	// ErrAlreadyProcessed means the request left the pending state
	// before this caller's decision landed: a stale or racing signal.
	// Logged, never surfaced as a user-facing failure.
	ErrAlreadyProcessed = errors.New("request already processed")

	// ErrInvalidTransition means the requested status change is not in
	// the legal transition set.
	ErrInvalidTransition = errors.New("illegal status transition")

	// ErrRemoteFailure means the remote allow-list mutation failed and
	// the record stayed pending so moderators can retry.
	ErrRemoteFailure = errors.New("remote allow-list mutation failed")

	// ErrIndexMiss means a decision signal arrived for a routing message
	// the approval index cannot map, even after a history re-scan.
	ErrIndexMiss = errors.New("routing message not mapped to any pending request")

	// ErrNotReady means a decision signal arrived before the approval
	// index finished its startup rebuild.
	ErrNotReady = errors.New("approval index rebuild has not completed")
)
