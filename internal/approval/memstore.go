package approval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chamahq/journey/model"
)

// MemoryStore is an in-memory approval Store for tests and development.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]model.ApprovalRequest // key: request ID
}

// NewMemoryStore creates a new in-memory approval store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]model.ApprovalRequest)}
}

// Create persists a new pending request.
func (s *MemoryStore) Create(_ context.Context, req model.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.ID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("approval request %q already exists", req.ID),
		)
	}
	s.requests[req.ID] = req
	return nil
}

// Get retrieves a request by ID, scoped to tenant.
func (s *MemoryStore) Get(_ context.Context, tenantID, requestID string) (model.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(tenantID, requestID)
}

func (s *MemoryStore) get(tenantID, requestID string) (model.ApprovalRequest, error) {
	req, ok := s.requests[requestID]
	if !ok || req.TenantID != tenantID {
		return model.ApprovalRequest{}, model.NewApprovalNotFoundError(
			fmt.Sprintf("approval request %q not found", requestID),
		)
	}
	return req, nil
}

// FindByCard retrieves the request projected onto the given card.
func (s *MemoryStore) FindByCard(_ context.Context, tenantID, cardID string) (model.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, req := range s.requests {
		if req.TenantID == tenantID && req.KanbanCardID == cardID {
			return req, nil
		}
	}
	return model.ApprovalRequest{}, model.NewApprovalNotFoundError(
		fmt.Sprintf("no approval request for card %q", cardID),
	)
}

// AttachCard records the external card ID.
func (s *MemoryStore) AttachCard(_ context.Context, tenantID, requestID, cardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.get(tenantID, requestID)
	if err != nil {
		return err
	}
	req.KanbanCardID = cardID
	s.requests[requestID] = req
	return nil
}

// Resolve marks a pending request as resolved; the PENDING check and the
// write happen under one lock so only the first resolution lands.
func (s *MemoryStore) Resolve(_ context.Context, tenantID, requestID, status, resolvedBy string, resolvedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.get(tenantID, requestID)
	if err != nil {
		return err
	}
	if req.Status != model.ApprovalStatusPending {
		return model.NewApprovalResolvedError(
			fmt.Sprintf("approval request %q is already %s", requestID, req.Status),
		)
	}

	req.Status = status
	req.ResolvedBy = resolvedBy
	req.ResolvedAt = &resolvedAt
	s.requests[requestID] = req
	return nil
}

// Find returns requests matching the filters, oldest first.
func (s *MemoryStore) Find(_ context.Context, tenantID string, filters Filters) ([]model.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ApprovalRequest
	for _, req := range s.requests {
		if req.TenantID != tenantID {
			continue
		}
		if filters.InstanceID != "" && req.JourneyInstanceID != filters.InstanceID {
			continue
		}
		if filters.MemberID != "" && req.MemberID != filters.MemberID {
			continue
		}
		if filters.Status != "" && req.Status != filters.Status {
			continue
		}
		result = append(result, req)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return nil, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[:filters.Limit]
	}
	return result, nil
}
