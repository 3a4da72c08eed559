// Package whitelist implements the request-moderation state machine: it
// takes submissions from the platform adapter, routes moderator decisions
// back to requests, and reconciles decisions with the remote allow-list.
package whitelist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/quingcraft/gatekeeper/internal/observability"
	"github.com/quingcraft/gatekeeper/internal/store"
	"github.com/quingcraft/gatekeeper/pkg/models"
)

// usernamePattern is the account-name shape accepted before the directory
// lookup runs: 3-16 word characters.
var usernamePattern = regexp.MustCompile(`^\w{3,16}$`)

// RemoteClient mutates and queries the remote allow-list.
type RemoteClient interface {
	Add(ctx context.Context, username string) (bool, error)
	Remove(ctx context.Context, username string) (bool, error)
	Check(ctx context.Context, username string) (bool, error)
}

// Verifier validates a target username against the account directory.
type Verifier interface {
	VerifyUsername(ctx context.Context, username string) (bool, error)
}

// Notifier delivers outcome notifications. Implemented by the platform
// adapter; all calls are best effort.
type Notifier interface {
	NotifyRequester(ctx context.Context, requesterID string, outcome models.DecisionOutcome, target string) error
	NotifyModerators(ctx context.Context, message string) error
}

// RoutingRef is one moderation-channel message with the requester id the
// platform adapter extracted from it. The core never parses rendered
// messages itself.
type RoutingRef struct {
	MessageID   string
	RequesterID string
}

// HistoryScanner lists recent moderation-channel routing messages, newest
// first, for index reconstruction.
type HistoryScanner interface {
	ScanRoutingMessages(ctx context.Context, limit int) ([]RoutingRef, error)
}

// Config holds orchestrator parameters.
type Config struct {
	// HistoryScanLimit is how many recent moderation-channel messages a
	// rebuild may inspect when a pending request has no stored routing
	// message id.
	HistoryScanLimit int

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger

	// Metrics is an optional metric set.
	Metrics *observability.Metrics
}

// Service orchestrates the whitelist request lifecycle. It is the only
// mutator of request records.
type Service struct {
	store    store.RequestStore
	remote   RemoteClient
	verifier Verifier
	notifier Notifier
	scanner  HistoryScanner
	index    *ApprovalIndex
	logger   *slog.Logger
	metrics  *observability.Metrics

	historyScanLimit int
	rebuilt          atomic.Bool
}

// NewService creates the orchestrator. verifier, notifier, and scanner may
// be nil; the corresponding steps are then skipped (used in tests and by
// the admin CLI path).
func NewService(requests store.RequestStore, remote RemoteClient, config Config) (*Service, error) {
	if requests == nil {
		return nil, fmt.Errorf("request store is required")
	}
	if remote == nil {
		return nil, fmt.Errorf("remote client is required")
	}
	if config.HistoryScanLimit <= 0 {
		config.HistoryScanLimit = 200
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Service{
		store:            requests,
		remote:           remote,
		index:            NewApprovalIndex(),
		logger:           config.Logger.With("component", "whitelist"),
		metrics:          config.Metrics,
		historyScanLimit: config.HistoryScanLimit,
	}, nil
}

// SetVerifier installs the username verifier.
func (s *Service) SetVerifier(v Verifier) { s.verifier = v }

// SetNotifier installs the notification sink.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// SetHistoryScanner installs the moderation-channel history scanner used by
// Rebuild.
func (s *Service) SetHistoryScanner(h HistoryScanner) { s.scanner = h }

// Index exposes the approval index for the platform adapter.
func (s *Service) Index() *ApprovalIndex { return s.index }

// Submit handles a whitelist request from the platform. Resubmission of the
// requester's own pending target returns the existing id; any other overlap
// with a pending request is a conflict.
func (s *Service) Submit(ctx context.Context, requesterID, target, reason string) (int64, error) {
	opID := uuid.NewString()
	logger := s.logger.With("op_id", opID, "requester_id", requesterID, "target", target)

	if !usernamePattern.MatchString(target) {
		s.metrics.RecordSubmission("invalid_username")
		return 0, ErrInvalidUsername
	}
	if s.verifier != nil {
		valid, err := s.verifier.VerifyUsername(ctx, target)
		if err != nil {
			logger.Warn("username verification unavailable, accepting unverified", "error", err)
		} else if !valid {
			s.metrics.RecordSubmission("invalid_username")
			return 0, ErrInvalidUsername
		}
	}

	existing, err := s.store.GetPendingByRequester(ctx, requesterID)
	switch {
	case err == nil:
		if strings.EqualFold(existing.TargetUsername, target) {
			logger.Info("idempotent resubmission", "request_id", existing.ID)
			s.metrics.RecordSubmission("resubmitted")
			return existing.ID, nil
		}
		s.metrics.RecordSubmission("duplicate_requester")
		return 0, ErrDuplicateRequester
	case !errors.Is(err, store.ErrNotFound):
		s.metrics.RecordSubmission("error")
		return 0, fmt.Errorf("look up pending request: %w", err)
	}

	if _, err := s.store.GetPendingByTarget(ctx, target); err == nil {
		s.metrics.RecordSubmission("duplicate_target")
		return 0, ErrDuplicateTarget
	} else if !errors.Is(err, store.ErrNotFound) {
		s.metrics.RecordSubmission("error")
		return 0, fmt.Errorf("look up pending target: %w", err)
	}

	req := &models.WhitelistRequest{
		RequesterID:    requesterID,
		TargetUsername: target,
		Status:         models.StatusPending,
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		req.Reason = &reason
	}
	if err := s.store.Create(ctx, req); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// Lost a race with a concurrent submission; re-run the
			// conflict checks through the recursion-free path.
			s.metrics.RecordSubmission("duplicate_target")
			return 0, ErrDuplicateTarget
		}
		s.metrics.RecordSubmission("error")
		return 0, fmt.Errorf("create request: %w", err)
	}

	logger.Info("request created", "request_id", req.ID)
	s.metrics.RecordSubmission("created")
	return req.ID, nil
}

// RegisterRoutingMessage persists the routing message id for a request and
// binds it in the approval index. The store write happens first: if the
// process dies between the two steps, the next Rebuild recovers the binding
// from the store or the channel history.
func (s *Service) RegisterRoutingMessage(ctx context.Context, requestID int64, requesterID, messageID string) error {
	if err := s.store.SetRoutingMessageID(ctx, requestID, messageID); err != nil {
		return fmt.Errorf("persist routing message: %w", err)
	}
	s.index.Bind(requesterID, messageID)
	return nil
}

// Decide applies a moderator's verdict to a request. The conditional store
// transition is the at-most-once gate: of any number of racing callers,
// exactly one observes an affected row, the rest get ErrAlreadyProcessed.
// An approval mutates the remote allow-list before the transition; if the
// remote call fails the record stays pending so a moderator can retry.
func (s *Service) Decide(ctx context.Context, requestID int64, moderatorID string, outcome models.DecisionOutcome) (models.Disposition, error) {
	opID := uuid.NewString()
	logger := s.logger.With(
		"op_id", opID,
		"request_id", requestID,
		"moderator_id", moderatorID,
		"outcome", string(outcome))

	var disposition models.Disposition

	req, err := s.store.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return disposition, ErrAlreadyProcessed
		}
		return disposition, fmt.Errorf("load request %d: %w", requestID, err)
	}

	next := outcome.Status()
	if !models.StatusPending.CanTransitionTo(next) {
		return disposition, ErrInvalidTransition
	}
	if req.Status != models.StatusPending {
		logger.Debug("stale decision signal", "status", string(req.Status))
		s.metrics.RecordDecision(string(outcome), "already_processed")
		return disposition, ErrAlreadyProcessed
	}

	if outcome == models.OutcomeApproved {
		// Remote first: the add is idempotent, so a racing duplicate
		// is harmless, while transitioning first could strand an
		// approved record the server never learned about.
		added, err := s.remote.Add(ctx, req.TargetUsername)
		if err != nil || !added {
			logger.Warn("remote add failed, request stays pending", "error", err)
			s.metrics.RecordDecision(string(outcome), "remote_failure")
			s.notifyModerators(ctx, fmt.Sprintf(
				"Error adding %s to the whitelist. Please try manually or contact the administrator.",
				req.TargetUsername))
			if err != nil {
				return disposition, fmt.Errorf("%w: %v", ErrRemoteFailure, err)
			}
			return disposition, ErrRemoteFailure
		}
		disposition.RemoteChanged = true
	}

	ok, err := s.store.TransitionStatus(ctx, requestID, models.StatusPending, next, moderatorID)
	if err != nil {
		return models.Disposition{}, fmt.Errorf("transition request %d: %w", requestID, err)
	}
	if !ok {
		logger.Debug("lost decision race")
		s.metrics.RecordDecision(string(outcome), "already_processed")
		return models.Disposition{}, ErrAlreadyProcessed
	}

	disposition.Outcome = outcome
	s.index.Unbind(req.RequesterID)
	s.metrics.RecordDecision(string(outcome), "applied")
	logger.Info("decision applied", "remote_changed", disposition.RemoteChanged)

	s.notifyRequester(ctx, req.RequesterID, outcome, req.TargetUsername)
	return disposition, nil
}

// DecideByMessage routes a reaction-driven decision signal through the
// approval index. An unmapped message triggers one best-effort history
// re-scan before the signal is dropped as ErrIndexMiss.
func (s *Service) DecideByMessage(ctx context.Context, messageID, moderatorID string, outcome models.DecisionOutcome) (models.Disposition, error) {
	if !s.rebuilt.Load() {
		return models.Disposition{}, ErrNotReady
	}

	requesterID, ok := s.index.RequesterFor(messageID)
	if !ok {
		s.logger.Info("routing message not in index, re-scanning history", "message_id", messageID)
		if err := s.rescanFor(ctx, messageID); err != nil {
			s.logger.Warn("history re-scan failed", "error", err)
		}
		if requesterID, ok = s.index.RequesterFor(messageID); !ok {
			return models.Disposition{}, ErrIndexMiss
		}
	}

	req, err := s.store.GetPendingByRequester(ctx, requesterID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Disposition{}, ErrAlreadyProcessed
		}
		return models.Disposition{}, fmt.Errorf("load pending request for %s: %w", requesterID, err)
	}
	return s.Decide(ctx, req.ID, moderatorID, outcome)
}

// Revoke removes the most recent approved account for target from the
// remote allow-list and transitions the record to removed. Returns false
// when no approved record exists.
func (s *Service) Revoke(ctx context.Context, target, moderatorID string) (bool, error) {
	req, err := s.store.GetMostRecentApproved(ctx, target)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load approved request for %s: %w", target, err)
	}

	removed, err := s.remote.Remove(ctx, req.TargetUsername)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRemoteFailure, err)
	}
	if !removed {
		return false, ErrRemoteFailure
	}

	ok, err := s.store.TransitionStatus(ctx, req.ID, models.StatusApproved, models.StatusRemoved, moderatorID)
	if err != nil {
		return false, fmt.Errorf("transition request %d: %w", req.ID, err)
	}
	if !ok {
		return false, ErrAlreadyProcessed
	}
	s.logger.Info("account revoked", "request_id", req.ID, "target", req.TargetUsername, "moderator_id", moderatorID)
	return true, nil
}

// Rebuild reconstructs the approval index after a restart. It must complete
// before the adapter starts delivering decision signals; DecideByMessage
// refuses signals until it has run. Pending records without a stored
// routing message id fall back to a bounded scan of the moderation channel;
// records still unmatched are logged and left for manual attention.
func (s *Service) Rebuild(ctx context.Context) error {
	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list pending requests: %w", err)
	}

	var unmatched []*models.WhitelistRequest
	for _, req := range pending {
		if req.RoutingMessageID != nil && *req.RoutingMessageID != "" {
			s.index.Bind(req.RequesterID, *req.RoutingMessageID)
			continue
		}
		unmatched = append(unmatched, req)
	}

	if len(unmatched) > 0 && s.scanner != nil {
		refs, err := s.scanner.ScanRoutingMessages(ctx, s.historyScanLimit)
		if err != nil {
			return fmt.Errorf("scan moderation history: %w", err)
		}
		byRequester := make(map[string]string, len(refs))
		for _, ref := range refs {
			// Newest first; keep the first match per requester.
			if _, seen := byRequester[ref.RequesterID]; !seen {
				byRequester[ref.RequesterID] = ref.MessageID
			}
		}

		still := unmatched[:0]
		for _, req := range unmatched {
			messageID, ok := byRequester[req.RequesterID]
			if !ok {
				still = append(still, req)
				continue
			}
			if err := s.store.SetRoutingMessageID(ctx, req.ID, messageID); err != nil {
				s.logger.Warn("failed to persist recovered routing message",
					"request_id", req.ID, "error", err)
			}
			s.index.Bind(req.RequesterID, messageID)
		}
		unmatched = still
	}

	for _, req := range unmatched {
		s.logger.Warn("pending request has no routing message after rebuild",
			"request_id", req.ID,
			"requester_id", req.RequesterID,
			"target", req.TargetUsername)
	}
	s.metrics.RecordRebuildUnmatched(len(unmatched))

	s.rebuilt.Store(true)
	s.logger.Info("approval index rebuilt",
		"pending", len(pending),
		"indexed", s.index.Len(),
		"unmatched", len(unmatched))
	return nil
}

// rescanFor re-runs the history scan hoping to bind messageID.
func (s *Service) rescanFor(ctx context.Context, messageID string) error {
	if s.scanner == nil {
		return nil
	}
	refs, err := s.scanner.ScanRoutingMessages(ctx, s.historyScanLimit)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if ref.MessageID != messageID {
			continue
		}
		// Only bind if the extracted requester really has a pending
		// request; stale routing messages stay unmapped.
		req, err := s.store.GetPendingByRequester(ctx, ref.RequesterID)
		if err != nil {
			continue
		}
		if err := s.store.SetRoutingMessageID(ctx, req.ID, ref.MessageID); err != nil {
			s.logger.Warn("failed to persist recovered routing message",
				"request_id", req.ID, "error", err)
		}
		s.index.Bind(ref.RequesterID, ref.MessageID)
		return nil
	}
	return nil
}

func (s *Service) notifyRequester(ctx context.Context, requesterID string, outcome models.DecisionOutcome, target string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyRequester(ctx, requesterID, outcome, target); err != nil {
		s.logger.Warn("requester notification failed",
			"requester_id", requesterID, "error", err)
	}
}

func (s *Service) notifyModerators(ctx context.Context, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyModerators(ctx, message); err != nil {
		s.logger.Warn("moderator notification failed", "error", err)
	}
}
