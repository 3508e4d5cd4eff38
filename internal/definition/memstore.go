package definition

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/chamahq/journey/model"
)

// MemoryStore is an in-memory definition Store for tests and development.
type MemoryStore struct {
	mu   sync.RWMutex
	defs map[string][]model.JourneyDefinition // key: tenant + code, ordered by version
}

// NewMemoryStore creates a new in-memory definition store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{defs: make(map[string][]model.JourneyDefinition)}
}

func defKey(tenantID, code string) string {
	return tenantID + "\x00" + code
}

// Create persists a new definition version.
func (s *MemoryStore) Create(_ context.Context, def model.JourneyDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := defKey(def.TenantID, def.Code)
	for _, existing := range s.defs[key] {
		if existing.Version == def.Version {
			return model.NewConflictError(
				fmt.Sprintf("journey %q version %d already exists", def.Code, def.Version),
			)
		}
	}

	s.defs[key] = append(s.defs[key], def)
	sort.Slice(s.defs[key], func(i, j int) bool {
		return s.defs[key][i].Version < s.defs[key][j].Version
	})
	return nil
}

// Activate flips the active flag to the given version under the store lock,
// so readers always observe exactly one active version.
func (s *MemoryStore) Activate(_ context.Context, tenantID, code string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := defKey(tenantID, code)
	versions := s.defs[key]

	target := -1
	for i := range versions {
		if versions[i].Version == version {
			target = i
			break
		}
	}
	if target < 0 {
		return model.NewJourneyNotFoundError(
			fmt.Sprintf("journey %q version %d not found", code, version),
		)
	}

	for i := range versions {
		versions[i].IsActive = i == target
	}
	return nil
}

// FindActive returns the active definition for (tenant, code).
func (s *MemoryStore) FindActive(_ context.Context, tenantID, code string) (model.JourneyDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, def := range s.defs[defKey(tenantID, code)] {
		if def.IsActive {
			return def, nil
		}
	}
	return model.JourneyDefinition{}, model.NewJourneyNotFoundError(
		fmt.Sprintf("no active journey %q", code),
	)
}

// FindByCode returns a specific version, or the highest version when
// version is 0.
func (s *MemoryStore) FindByCode(_ context.Context, tenantID, code string, version int) (model.JourneyDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.defs[defKey(tenantID, code)]
	if len(versions) == 0 {
		return model.JourneyDefinition{}, model.NewJourneyNotFoundError(
			fmt.Sprintf("journey %q not found", code),
		)
	}

	if version == 0 {
		return versions[len(versions)-1], nil
	}
	for _, def := range versions {
		if def.Version == version {
			return def, nil
		}
	}
	return model.JourneyDefinition{}, model.NewJourneyNotFoundError(
		fmt.Sprintf("journey %q version %d not found", code, version),
	)
}

// List returns all definition versions for a tenant, newest first.
func (s *MemoryStore) List(_ context.Context, tenantID string) ([]model.JourneyDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.JourneyDefinition
	for key, versions := range s.defs {
		if len(key) < len(tenantID)+1 || key[:len(tenantID)+1] != tenantID+"\x00" {
			continue
		}
		result = append(result, versions...)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Code != result[j].Code {
			return result[i].Code < result[j].Code
		}
		return result[i].Version > result[j].Version
	})
	return result, nil
}
