package definition

import (
	"context"
	"testing"

	"github.com/chamahq/journey/model"
)

// countingStore wraps a Store and counts reads, to observe cache behavior.
type countingStore struct {
	Store
	findActiveCalls int
	findByCodeCalls int
}

func (s *countingStore) FindActive(ctx context.Context, tenantID, code string) (model.JourneyDefinition, error) {
	s.findActiveCalls++
	return s.Store.FindActive(ctx, tenantID, code)
}

func (s *countingStore) FindByCode(ctx context.Context, tenantID, code string, version int) (model.JourneyDefinition, error) {
	s.findByCodeCalls++
	return s.Store.FindByCode(ctx, tenantID, code, version)
}

func seedStore(t *testing.T) *countingStore {
	t.Helper()
	store := NewMemoryStore()
	svc := NewService(store)
	ctx := context.Background()
	rctx := testRctx()

	for i := 0; i < 2; i++ {
		def, err := svc.Publish(ctx, rctx, validDefinition())
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		if err := svc.Activate(ctx, rctx, def.Code, def.Version); err != nil {
			t.Fatalf("activate: %v", err)
		}
	}
	return &countingStore{Store: store}
}

func TestRegistryVersionCachesImmutableVersions(t *testing.T) {
	store := seedStore(t)

	hits, misses := 0, 0
	reg := NewRegistry(store, WithCacheObserver(
		func() { hits++ },
		func() { misses++ },
	))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		def, err := reg.Version(ctx, "tenant-1", "member_onboarding", 1)
		if err != nil {
			t.Fatalf("version lookup %d: %v", i, err)
		}
		if def.Version != 1 {
			t.Errorf("version = %d, want 1", def.Version)
		}
	}

	if store.findByCodeCalls != 1 {
		t.Errorf("store reads = %d, want 1", store.findByCodeCalls)
	}
	if hits != 2 || misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 2/1", hits, misses)
	}
}

func TestRegistryActiveAlwaysConsultsStore(t *testing.T) {
	store := seedStore(t)
	reg := NewRegistry(store)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		def, err := reg.Active(ctx, "tenant-1", "member_onboarding")
		if err != nil {
			t.Fatalf("active lookup %d: %v", i, err)
		}
		if def.Version != 2 {
			t.Errorf("active version = %d, want 2", def.Version)
		}
	}

	if store.findActiveCalls != 2 {
		t.Errorf("store reads = %d, want 2", store.findActiveCalls)
	}
}

func TestRegistryActivePrimesVersionCache(t *testing.T) {
	store := seedStore(t)
	reg := NewRegistry(store)
	ctx := context.Background()

	if _, err := reg.Active(ctx, "tenant-1", "member_onboarding"); err != nil {
		t.Fatalf("active lookup: %v", err)
	}
	if _, err := reg.Version(ctx, "tenant-1", "member_onboarding", 2); err != nil {
		t.Fatalf("version lookup: %v", err)
	}

	if store.findByCodeCalls != 0 {
		t.Errorf("version lookup hit the store %d times, want 0", store.findByCodeCalls)
	}
}

func TestRegistryVersionRejectsNonPositive(t *testing.T) {
	reg := NewRegistry(NewMemoryStore())

	_, err := reg.Version(context.Background(), "tenant-1", "member_onboarding", 0)
	if got := model.CodeOf(err); got != model.ErrBadRequest {
		t.Errorf("error code = %s, want %s", got, model.ErrBadRequest)
	}
}

func TestRegistryInvalidate(t *testing.T) {
	store := seedStore(t)
	reg := NewRegistry(store)
	ctx := context.Background()

	if _, err := reg.Version(ctx, "tenant-1", "member_onboarding", 1); err != nil {
		t.Fatalf("version lookup: %v", err)
	}
	reg.Invalidate("tenant-1", "member_onboarding", 1)
	if _, err := reg.Version(ctx, "tenant-1", "member_onboarding", 1); err != nil {
		t.Fatalf("version lookup after invalidate: %v", err)
	}

	if store.findByCodeCalls != 2 {
		t.Errorf("store reads = %d, want 2", store.findByCodeCalls)
	}
}
