package journey

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/chamahq/journey/model"
)

// MemoryStore is an in-memory journey Store for tests and development.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string]model.JourneyInstance      // key: instance ID
	byMember  map[string]string                     // key: tenant+member+code -> instance ID
	logs      map[string][]model.TransitionLogEntry // key: instance ID, append order
}

// NewMemoryStore creates a new in-memory journey store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[string]model.JourneyInstance),
		byMember:  make(map[string]string),
		logs:      make(map[string][]model.TransitionLogEntry),
	}
}

func memberKey(tenantID, memberID, journeyCode string) string {
	return tenantID + "\x00" + memberID + "\x00" + journeyCode
}

// CreateInstance persists a new instance and its creation log entry under a
// single lock, so both appear together or not at all.
func (s *MemoryStore) CreateInstance(_ context.Context, inst model.JourneyInstance, creation model.TransitionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memberKey(inst.TenantID, inst.MemberID, inst.JourneyCode)
	if _, exists := s.byMember[key]; exists {
		return model.NewInstanceExistsError(
			fmt.Sprintf("member %s already has a %s journey", inst.MemberID, inst.JourneyCode),
		)
	}

	s.instances[inst.ID] = inst
	s.byMember[key] = inst.ID
	s.logs[inst.ID] = append(s.logs[inst.ID], creation)
	return nil
}

// GetInstance retrieves an instance by ID, scoped to tenant.
func (s *MemoryStore) GetInstance(_ context.Context, tenantID, instanceID string) (model.JourneyInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[instanceID]
	if !ok || inst.TenantID != tenantID {
		return model.JourneyInstance{}, model.NewInstanceNotFoundError(
			fmt.Sprintf("journey instance %q not found", instanceID),
		)
	}
	return inst, nil
}

// FindByMember retrieves the member's instance for a journey code.
func (s *MemoryStore) FindByMember(_ context.Context, tenantID, memberID, journeyCode string) (model.JourneyInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byMember[memberKey(tenantID, memberID, journeyCode)]
	if !ok {
		return model.JourneyInstance{}, model.NewInstanceNotFoundError(
			fmt.Sprintf("member %s has no %s journey", memberID, journeyCode),
		)
	}
	return s.instances[id], nil
}

// ApplyTransition persists the new state and appends the log entry under a
// single lock, failing on a version mismatch.
func (s *MemoryStore) ApplyTransition(_ context.Context, inst model.JourneyInstance, entry model.TransitionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.instances[inst.ID]
	if !ok || stored.TenantID != inst.TenantID {
		return model.NewInstanceNotFoundError(
			fmt.Sprintf("journey instance %q not found", inst.ID),
		)
	}
	if stored.Version != inst.Version {
		return model.NewConflictError(
			fmt.Sprintf("journey instance %q version conflict (expected %d)", inst.ID, inst.Version),
		)
	}

	inst.Version++
	s.instances[inst.ID] = inst
	s.logs[inst.ID] = append(s.logs[inst.ID], entry)
	return nil
}

// GetLog retrieves an instance's transition log in append order.
func (s *MemoryStore) GetLog(_ context.Context, tenantID, instanceID string) ([]model.TransitionLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[instanceID]
	if !ok || inst.TenantID != tenantID {
		return nil, model.NewInstanceNotFoundError(
			fmt.Sprintf("journey instance %q not found", instanceID),
		)
	}

	entries := make([]model.TransitionLogEntry, len(s.logs[instanceID]))
	copy(entries, s.logs[instanceID])
	return entries, nil
}

// SearchLog returns log entries matching the filters, in append order.
func (s *MemoryStore) SearchLog(_ context.Context, tenantID string, filters LogFilters) ([]model.TransitionLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TransitionLogEntry
	for instanceID, entries := range s.logs {
		if filters.InstanceID != "" && instanceID != filters.InstanceID {
			continue
		}
		for _, entry := range entries {
			if entry.TenantID != tenantID {
				continue
			}
			if filters.MemberID != "" && entry.MemberID != filters.MemberID {
				continue
			}
			if filters.Trigger != "" && entry.Trigger != filters.Trigger {
				continue
			}
			if filters.Origin != "" && entry.Origin != filters.Origin {
				continue
			}
			if !filters.Since.IsZero() && entry.CreatedAt.Before(filters.Since) {
				continue
			}
			if !filters.Until.IsZero() && entry.CreatedAt.After(filters.Until) {
				continue
			}
			result = append(result, entry)
		}
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

// LatestEntry returns the most recent log entry for an instance.
func (s *MemoryStore) LatestEntry(_ context.Context, tenantID, instanceID string) (model.TransitionLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[instanceID]
	if !ok || inst.TenantID != tenantID {
		return model.TransitionLogEntry{}, model.NewInstanceNotFoundError(
			fmt.Sprintf("journey instance %q not found", instanceID),
		)
	}

	entries := s.logs[instanceID]
	if len(entries) == 0 {
		return model.TransitionLogEntry{}, model.NewInstanceNotFoundError(
			fmt.Sprintf("journey instance %q has no log entries", instanceID),
		)
	}
	return entries[len(entries)-1], nil
}

// FindInstances returns instances matching the filters, newest first.
func (s *MemoryStore) FindInstances(_ context.Context, tenantID string, filters InstanceFilters) ([]model.JourneyInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.JourneyInstance
	for _, inst := range s.instances {
		if inst.TenantID != tenantID {
			continue
		}
		if filters.MemberID != "" && inst.MemberID != filters.MemberID {
			continue
		}
		if filters.JourneyCode != "" && inst.JourneyCode != filters.JourneyCode {
			continue
		}
		if filters.CurrentState != "" && inst.CurrentState != filters.CurrentState {
			continue
		}
		result = append(result, inst)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
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

// DeleteInstance removes an instance and its log.
func (s *MemoryStore) DeleteInstance(_ context.Context, tenantID, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[instanceID]
	if !ok || inst.TenantID != tenantID {
		return model.NewInstanceNotFoundError(
			fmt.Sprintf("journey instance %q not found", instanceID),
		)
	}

	delete(s.instances, instanceID)
	delete(s.byMember, memberKey(inst.TenantID, inst.MemberID, inst.JourneyCode))
	delete(s.logs, instanceID)
	return nil
}
