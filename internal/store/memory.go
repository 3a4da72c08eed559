package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quingcraft/gatekeeper/pkg/models"
)

// MemoryStore provides an in-memory RequestStore for tests.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	requests map[int64]*models.WhitelistRequest
}

// NewMemoryStore creates an empty in-memory request store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:   1,
		requests: make(map[int64]*models.WhitelistRequest),
	}
}

func (s *MemoryStore) Create(ctx context.Context, req *models.WhitelistRequest) error {
	if req == nil {
		return fmt.Errorf("request is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.requests {
		if existing.Status != models.StatusPending {
			continue
		}
		if existing.RequesterID == req.RequesterID ||
			strings.EqualFold(existing.TargetUsername, req.TargetUsername) {
			return ErrAlreadyExists
		}
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if req.Status == "" {
		req.Status = models.StatusPending
	}
	req.ID = s.nextID
	s.nextID++
	clone := *req
	s.requests[req.ID] = &clone
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (*models.WhitelistRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *req
	return &clone, nil
}

func (s *MemoryStore) GetPendingByRequester(ctx context.Context, requesterID string) (*models.WhitelistRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, req := range s.requests {
		if req.Status == models.StatusPending && req.RequesterID == requesterID {
			clone := *req
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetPendingByTarget(ctx context.Context, target string) (*models.WhitelistRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, req := range s.requests {
		if req.Status == models.StatusPending && strings.EqualFold(req.TargetUsername, target) {
			clone := *req
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) TransitionStatus(ctx context.Context, id int64, from, to models.RequestStatus, processedBy string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok || req.Status != from {
		return false, nil
	}
	now := time.Now().UTC()
	req.Status = to
	req.ProcessedAt = &now
	req.ProcessedBy = &processedBy
	return true, nil
}

func (s *MemoryStore) SetRoutingMessageID(ctx context.Context, id int64, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	req.RoutingMessageID = &messageID
	return nil
}

func (s *MemoryStore) ListPending(ctx context.Context) ([]*models.WhitelistRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.WhitelistRequest
	for _, req := range s.requests {
		if req.Status == models.StatusPending {
			clone := *req
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) GetMostRecentApproved(ctx context.Context, target string) (*models.WhitelistRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.WhitelistRequest
	for _, req := range s.requests {
		if req.Status != models.StatusApproved || !strings.EqualFold(req.TargetUsername, target) {
			continue
		}
		if best == nil || laterProcessed(req, best) {
			best = req
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	clone := *best
	return &clone, nil
}

func laterProcessed(a, b *models.WhitelistRequest) bool {
	switch {
	case a.ProcessedAt == nil:
		return false
	case b.ProcessedAt == nil:
		return true
	case a.ProcessedAt.Equal(*b.ProcessedAt):
		return a.ID > b.ID
	default:
		return a.ProcessedAt.After(*b.ProcessedAt)
	}
}

func (s *MemoryStore) Close() error { return nil }
