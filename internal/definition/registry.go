package definition

import (
	"context"
	"fmt"
	"sync"

	"github.com/chamahq/journey/model"
)

// Registry is the engine's read path for journey definitions. Active lookups
// always consult the store, because the active flag is mutable. Version
// lookups are served from an in-process cache: published versions are
// immutable, so a cached copy never goes stale.
type Registry struct {
	store Store

	mu       sync.RWMutex
	versions map[versionKey]model.JourneyDefinition

	onCacheHit  func()
	onCacheMiss func()
}

type versionKey struct {
	tenantID string
	code     string
	version  int
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithCacheObserver registers callbacks invoked on version-cache hits and
// misses, used to feed metrics.
func WithCacheObserver(onHit, onMiss func()) RegistryOption {
	return func(r *Registry) {
		r.onCacheHit = onHit
		r.onCacheMiss = onMiss
	}
}

// NewRegistry creates a Registry backed by the given store.
func NewRegistry(store Store, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:    store,
		versions: make(map[versionKey]model.JourneyDefinition),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Active returns the active definition for (tenant, code).
func (r *Registry) Active(ctx context.Context, tenantID, code string) (model.JourneyDefinition, error) {
	def, err := r.store.FindActive(ctx, tenantID, code)
	if err != nil {
		return model.JourneyDefinition{}, err
	}
	r.cache(def)
	return def, nil
}

// Version returns a pinned definition version, from cache when possible.
func (r *Registry) Version(ctx context.Context, tenantID, code string, version int) (model.JourneyDefinition, error) {
	if version <= 0 {
		return model.JourneyDefinition{}, model.NewBadRequestError(
			fmt.Sprintf("invalid journey version %d", version),
		)
	}

	key := versionKey{tenantID: tenantID, code: code, version: version}

	r.mu.RLock()
	def, ok := r.versions[key]
	r.mu.RUnlock()
	if ok {
		if r.onCacheHit != nil {
			r.onCacheHit()
		}
		return def, nil
	}

	if r.onCacheMiss != nil {
		r.onCacheMiss()
	}

	def, err := r.store.FindByCode(ctx, tenantID, code, version)
	if err != nil {
		return model.JourneyDefinition{}, err
	}
	r.cache(def)
	return def, nil
}

// Invalidate drops a cached version. Only needed by administrative paths
// that delete superseded definitions.
func (r *Registry) Invalidate(tenantID, code string, version int) {
	r.mu.Lock()
	delete(r.versions, versionKey{tenantID: tenantID, code: code, version: version})
	r.mu.Unlock()
}

func (r *Registry) cache(def model.JourneyDefinition) {
	key := versionKey{tenantID: def.TenantID, code: def.Code, version: def.Version}
	r.mu.Lock()
	r.versions[key] = def
	r.mu.Unlock()
}
